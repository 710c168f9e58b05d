package testfixtures

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/example/coaching-marketplace/internal/persistence"
	"github.com/example/coaching-marketplace/internal/persistence/sqlite"
	"github.com/example/coaching-marketplace/internal/persistence/sqlite/migration"
	"github.com/example/coaching-marketplace/migrations"
)

// SQLiteHarness provides repository access backed by a temporary SQLite
// database for integration-style persistence tests.
type SQLiteHarness struct {
	Accounts     persistence.AccountRepository
	Bookings     persistence.BookingRepository
	Participants persistence.ParticipantRepository
	Payments     persistence.PaymentRepository
	Sessions     persistence.SessionRepository
	Transitions  persistence.TransitionRepository

	cleanup func()
}

// Close releases resources associated with the harness.
func (h *SQLiteHarness) Close() {
	if h != nil && h.cleanup != nil {
		h.cleanup()
		h.cleanup = nil
	}
}

// NewSQLiteHarness constructs a SQLiteHarness using a temporary file that is
// migrated automatically. Callers may optionally invoke Close, but the helper
// will also register a cleanup callback with the provided testing.TB.
func NewSQLiteHarness(tb testing.TB) *SQLiteHarness {
	tb.Helper()

	dir := tb.TempDir()
	path := filepath.Join(dir, "marketplace.db")

	pool, err := sqlite.NewConnectionPool(migration.TempFileTestSQLiteConfig(path))
	if err != nil {
		tb.Fatalf("failed to open storage: %v", err)
	}

	runner := migration.NewRunner(pool.DB(), nil)
	if err := runner.Run(context.Background(), migrations.FS); err != nil {
		_ = pool.Close()
		tb.Fatalf("failed to migrate storage: %v", err)
	}

	harness := &SQLiteHarness{
		Accounts:     sqlite.NewAccountRepository(pool),
		Bookings:     sqlite.NewBookingRepository(pool),
		Participants: sqlite.NewParticipantRepository(pool),
		Payments:     sqlite.NewPaymentRepository(pool),
		Sessions:     sqlite.NewSessionRepository(pool),
		Transitions:  sqlite.NewTransitionRepository(pool),
		cleanup: func() {
			_ = pool.Close()
		},
	}

	tb.Cleanup(harness.Close)
	return harness
}
