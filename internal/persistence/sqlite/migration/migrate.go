package migration

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Migration is one schema revision loaded from an embedded SQL file.
type Migration struct {
	Version     int
	Description string
	File        string
	SQL         string
	Checksum    string
}

// AppliedMigration records a revision already applied to the database.
type AppliedMigration struct {
	Version       int
	Description   string
	Checksum      string
	AppliedAt     time.Time
	ExecutionTime time.Duration
}

// Load reads migration files from fsys. File names follow the pattern
// NNN_description.sql; versions must be unique and contiguous starting
// at 1 so a missing file is detected before anything executes.
func Load(fsys fs.FS) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, &MigrationError{Operation: "read migration filesystem", Err: err}
	}

	var migrations []Migration
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".sql") {
			continue
		}

		m, err := parseFile(fsys, name)
		if err != nil {
			return nil, err
		}
		migrations = append(migrations, m)
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})

	for i, m := range migrations {
		if m.Version != i+1 {
			return nil, &MigrationError{
				Version:   m.Version,
				File:      m.File,
				Operation: "validate sequence",
				Err:       fmt.Errorf("%w: expected version %03d, found %03d", ErrVersionConflict, i+1, m.Version),
			}
		}
	}

	return migrations, nil
}

// parseFile reads a single migration file and derives its version and
// description from the file name.
func parseFile(fsys fs.FS, name string) (Migration, error) {
	base := strings.TrimSuffix(name, ".sql")
	idx := strings.Index(base, "_")
	if idx <= 0 {
		return Migration{}, &MigrationError{
			File:      name,
			Operation: "parse file name",
			Err:       fmt.Errorf("%w: expected NNN_description.sql", ErrInvalidMigrationFile),
		}
	}

	version, err := strconv.Atoi(base[:idx])
	if err != nil || version <= 0 {
		return Migration{}, &MigrationError{
			File:      name,
			Operation: "parse file name",
			Err:       fmt.Errorf("%w: version prefix %q is not a positive number", ErrInvalidMigrationFile, base[:idx]),
		}
	}

	content, err := fs.ReadFile(fsys, name)
	if err != nil {
		return Migration{}, &MigrationError{Version: version, File: name, Operation: "read file", Err: err}
	}

	sum := sha256.Sum256(content)

	return Migration{
		Version:     version,
		Description: strings.ReplaceAll(base[idx+1:], "_", " "),
		File:        name,
		SQL:         string(content),
		Checksum:    hex.EncodeToString(sum[:]),
	}, nil
}

// splitStatements splits migration SQL into individual statements by
// semicolon and drops comment-only fragments.
func splitStatements(script string) []string {
	var statements []string
	for _, stmt := range strings.Split(script, ";") {
		lines := strings.Split(stmt, "\n")
		var kept []string
		for _, line := range lines {
			line = strings.TrimSpace(line)
			if line != "" && !strings.HasPrefix(line, "--") {
				kept = append(kept, line)
			}
		}
		if len(kept) > 0 {
			statements = append(statements, strings.Join(kept, "\n"))
		}
	}
	return statements
}

// Runner applies embedded migrations, recording each applied version in
// the schema_migrations table.
type Runner struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewRunner creates a migration runner. A nil logger discards output.
func NewRunner(db *sql.DB, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Runner{db: db, logger: logger}
}

// Run applies every pending migration, each inside its own transaction.
// Already-applied versions are verified against their recorded checksum
// so an edited historical file fails loudly instead of drifting.
func (r *Runner) Run(ctx context.Context, fsys fs.FS) error {
	available, err := Load(fsys)
	if err != nil {
		return err
	}

	if err := r.initVersionTable(ctx); err != nil {
		return err
	}

	applied, err := r.Applied(ctx)
	if err != nil {
		return err
	}

	appliedByVersion := make(map[int]AppliedMigration, len(applied))
	for _, a := range applied {
		appliedByVersion[a.Version] = a
	}

	pending := 0
	for _, m := range available {
		if prior, ok := appliedByVersion[m.Version]; ok {
			if prior.Checksum != m.Checksum {
				return &MigrationError{
					Version:   m.Version,
					File:      m.File,
					Operation: "verify checksum",
					Err:       fmt.Errorf("%w: recorded %s, file %s", ErrChecksumMismatch, prior.Checksum, m.Checksum),
				}
			}
			continue
		}

		if err := r.apply(ctx, m); err != nil {
			return err
		}
		pending++
	}

	if pending > 0 {
		r.logger.InfoContext(ctx, "migrations applied",
			slog.Int("count", pending),
			slog.Int("schema_version", len(available)))
	} else {
		r.logger.DebugContext(ctx, "schema up to date",
			slog.Int("schema_version", len(available)))
	}

	return nil
}

// Applied returns the migrations recorded in schema_migrations in
// ascending version order.
func (r *Runner) Applied(ctx context.Context) ([]AppliedMigration, error) {
	query := `
		SELECT version, description, checksum, applied_at, execution_time_ms
		FROM schema_migrations
		ORDER BY version ASC
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, &MigrationError{Operation: "query applied versions", Err: err}
	}
	defer rows.Close()

	var applied []AppliedMigration
	for rows.Next() {
		var a AppliedMigration
		var appliedAtStr string
		var executionMs int64

		if err := rows.Scan(&a.Version, &a.Description, &a.Checksum, &appliedAtStr, &executionMs); err != nil {
			return nil, &MigrationError{Operation: "scan applied version", Err: err}
		}

		if a.AppliedAt, err = time.Parse(time.RFC3339, appliedAtStr); err != nil {
			return nil, &MigrationError{
				Version:   a.Version,
				Operation: "parse applied_at",
				Err:       fmt.Errorf("%w: %v", ErrVersionTableCorrupt, err),
			}
		}
		a.ExecutionTime = time.Duration(executionMs) * time.Millisecond

		applied = append(applied, a)
	}

	if err := rows.Err(); err != nil {
		return nil, &MigrationError{Operation: "iterate applied versions", Err: err}
	}

	return applied, nil
}

func (r *Runner) initVersionTable(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			checksum TEXT NOT NULL,
			applied_at TEXT NOT NULL,
			execution_time_ms INTEGER NOT NULL
		)
	`

	if _, err := r.db.ExecContext(ctx, query); err != nil {
		return &MigrationError{Operation: "create schema_migrations table", Err: err}
	}
	return nil
}

func (r *Runner) apply(ctx context.Context, m Migration) error {
	started := time.Now()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return &MigrationError{Version: m.Version, File: m.File, Operation: "begin transaction", Err: err}
	}

	for i, stmt := range splitStatements(m.SQL) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			tx.Rollback()
			return &MigrationError{
				Version:   m.Version,
				File:      m.File,
				Operation: fmt.Sprintf("execute statement %d", i+1),
				Err:       fmt.Errorf("%w: %v", ErrMigrationFailed, err),
			}
		}
	}

	insert := `
		INSERT INTO schema_migrations (version, description, checksum, applied_at, execution_time_ms)
		VALUES (?, ?, ?, ?, ?)
	`
	_, err = tx.ExecContext(ctx, insert,
		m.Version,
		m.Description,
		m.Checksum,
		time.Now().UTC().Format(time.RFC3339),
		time.Since(started).Milliseconds(),
	)
	if err != nil {
		tx.Rollback()
		return &MigrationError{Version: m.Version, File: m.File, Operation: "record migration", Err: err}
	}

	if err := tx.Commit(); err != nil {
		return &MigrationError{Version: m.Version, File: m.File, Operation: "commit", Err: err}
	}

	r.logger.InfoContext(ctx, "migration applied",
		slog.Int("version", m.Version),
		slog.String("description", m.Description),
		slog.Duration("elapsed", time.Since(started)))

	return nil
}
