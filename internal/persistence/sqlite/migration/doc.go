// Package migration provides a database migration system for SQLite databases.
//
// This package implements an embedded migration system that allows for
// versioned database schema changes. It supports:
//
//   - Sequential migration execution with version tracking
//   - Transactional migration execution with rollback on failure
//   - Migration files embedded into the binary via embed.FS
//   - Checksum verification of already-applied migrations
//
// Migration files follow the naming convention {version}_{description}.sql
// (e.g., "001_accounts.sql") and must form a contiguous sequence starting
// at version 1.
//
// The migration system maintains a schema_migrations table to track applied
// migrations and prevent duplicate execution.
//
// Example usage:
//
//	runner := NewRunner(db, logger)
//	if err := runner.Run(ctx, migrations.FS); err != nil {
//		log.Fatalf("Migration failed: %v", err)
//	}
package migration
