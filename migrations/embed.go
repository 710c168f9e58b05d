// Package migrations embeds the SQL schema revisions applied at startup.
package migrations

import "embed"

// FS holds the migration files, named NNN_description.sql and applied in
// ascending version order.
//
//go:embed *.sql
var FS embed.FS
