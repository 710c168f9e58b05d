package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/example/coaching-marketplace/internal/persistence"
)

func setupSessionRepositoryTest(t *testing.T) (*SessionRepository, *ConnectionPool) {
	t.Helper()

	pool := newTestPool(t)
	seedAccount(t, pool, "acc1", false)

	return NewSessionRepository(pool), pool
}

func testSession(id, tokenHash string, expiresAt time.Time) persistence.Session {
	return persistence.Session{
		ID:          id,
		AccountID:   "acc1",
		TokenHash:   tokenHash,
		Fingerprint: "cli/1.0",
		ExpiresAt:   expiresAt,
	}
}

func TestSessionRepository_CreateAndGet(t *testing.T) {
	repo, _ := setupSessionRepositoryTest(t)
	ctx := context.Background()

	expires := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	created, err := repo.CreateSession(ctx, testSession("s1", "hash1", expires))
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	if created.CreatedAt.IsZero() {
		t.Error("Expected created_at to be set")
	}

	retrieved, err := repo.GetSession(ctx, "hash1")
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if retrieved.AccountID != "acc1" {
		t.Errorf("Expected acc1, got '%s'", retrieved.AccountID)
	}
	if !retrieved.ExpiresAt.Equal(expires) {
		t.Errorf("Expected expiry %v, got %v", expires, retrieved.ExpiresAt)
	}
	if retrieved.RevokedAt != nil {
		t.Error("New session should not be revoked")
	}

	_, err = repo.GetSession(ctx, "unknown-hash")
	if !errors.Is(err, persistence.ErrNotFound) {
		t.Fatalf("Expected ErrNotFound, got %v", err)
	}
}

func TestSessionRepository_CreateSession_DuplicateHash(t *testing.T) {
	repo, _ := setupSessionRepositoryTest(t)
	ctx := context.Background()

	expires := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	if _, err := repo.CreateSession(ctx, testSession("s1", "hash1", expires)); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	_, err := repo.CreateSession(ctx, testSession("s2", "hash1", expires))
	if !errors.Is(err, persistence.ErrDuplicate) {
		t.Fatalf("Expected ErrDuplicate, got %v", err)
	}
}

func TestSessionRepository_RevokeSession(t *testing.T) {
	repo, _ := setupSessionRepositoryTest(t)
	ctx := context.Background()

	expires := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	if _, err := repo.CreateSession(ctx, testSession("s1", "hash1", expires)); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	revokedAt := time.Date(2026, 3, 9, 12, 0, 0, 0, time.UTC)
	revoked, err := repo.RevokeSession(ctx, "hash1", revokedAt)
	if err != nil {
		t.Fatalf("RevokeSession failed: %v", err)
	}
	if revoked.RevokedAt == nil || !revoked.RevokedAt.Equal(revokedAt) {
		t.Errorf("Expected revoked_at %v, got %v", revokedAt, revoked.RevokedAt)
	}

	// Revoking again keeps the original timestamp.
	again, err := repo.RevokeSession(ctx, "hash1", revokedAt.Add(time.Hour))
	if err != nil {
		t.Fatalf("Second RevokeSession failed: %v", err)
	}
	if again.RevokedAt == nil || !again.RevokedAt.Equal(revokedAt) {
		t.Errorf("Expected original revoked_at %v, got %v", revokedAt, again.RevokedAt)
	}

	_, err = repo.RevokeSession(ctx, "unknown-hash", revokedAt)
	if !errors.Is(err, persistence.ErrNotFound) {
		t.Fatalf("Expected ErrNotFound, got %v", err)
	}
}

func TestSessionRepository_DeleteExpiredSessions(t *testing.T) {
	repo, _ := setupSessionRepositoryTest(t)
	ctx := context.Background()

	now := time.Date(2026, 3, 9, 12, 0, 0, 0, time.UTC)

	if _, err := repo.CreateSession(ctx, testSession("s1", "expired-hash", now.Add(-time.Hour))); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	if _, err := repo.CreateSession(ctx, testSession("s2", "live-hash", now.Add(time.Hour))); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	if err := repo.DeleteExpiredSessions(ctx, now); err != nil {
		t.Fatalf("DeleteExpiredSessions failed: %v", err)
	}

	if _, err := repo.GetSession(ctx, "expired-hash"); !errors.Is(err, persistence.ErrNotFound) {
		t.Fatalf("Expected expired session gone, got %v", err)
	}
	if _, err := repo.GetSession(ctx, "live-hash"); err != nil {
		t.Fatalf("Expected live session to survive: %v", err)
	}
}
