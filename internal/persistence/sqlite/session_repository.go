package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/example/coaching-marketplace/internal/persistence"
)

const sessionColumns = `id, account_id, token_hash, fingerprint, expires_at, revoked_at, created_at, updated_at`

// SessionRepository implements persistence.SessionRepository using SQLite.
// Only the hash of a session token is stored; the raw token never reaches
// this layer.
type SessionRepository struct {
	pool   *ConnectionPool
	helper *QueryHelper
	mapper *ErrorMapper
}

// NewSessionRepository creates a new SQLite session repository
func NewSessionRepository(pool *ConnectionPool) *SessionRepository {
	return &SessionRepository{
		pool:   pool,
		helper: NewQueryHelper(pool),
		mapper: NewErrorMapper(),
	}
}

// CreateSession stores a new session for an account
func (r *SessionRepository) CreateSession(ctx context.Context, session persistence.Session) (persistence.Session, error) {
	if session.ID == "" {
		return persistence.Session{}, persistence.ErrConstraintViolation
	}
	if session.AccountID == "" {
		return persistence.Session{}, persistence.ErrConstraintViolation
	}

	session.TokenHash = strings.TrimSpace(session.TokenHash)
	if session.TokenHash == "" {
		return persistence.Session{}, persistence.ErrConstraintViolation
	}

	session.Fingerprint = strings.TrimSpace(session.Fingerprint)
	session.ExpiresAt = session.ExpiresAt.UTC()

	now := time.Now().UTC()
	session.CreatedAt = now
	session.UpdatedAt = now

	query := `
		INSERT INTO sessions (` + sessionColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.helper.Exec(ctx, query,
		session.ID,
		session.AccountID,
		session.TokenHash,
		session.Fingerprint,
		formatTime(session.ExpiresAt),
		nullTime(session.RevokedAt),
		formatTime(session.CreatedAt),
		formatTime(session.UpdatedAt),
	)

	if err != nil {
		return persistence.Session{}, r.mapSessionError(err)
	}

	return session, nil
}

// GetSession retrieves a session by its token hash
func (r *SessionRepository) GetSession(ctx context.Context, tokenHash string) (persistence.Session, error) {
	tokenHash = strings.TrimSpace(tokenHash)
	if tokenHash == "" {
		return persistence.Session{}, persistence.ErrNotFound
	}

	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE token_hash = ?`

	session, err := scanSession(r.helper.QueryRow(ctx, query, tokenHash))
	if err != nil {
		if err == sql.ErrNoRows {
			return persistence.Session{}, persistence.ErrNotFound
		}
		return persistence.Session{}, r.mapper.MapError(err)
	}

	return session, nil
}

// RevokeSession marks a session as revoked based on its token hash.
// Revoking an already revoked session keeps the original revocation time.
func (r *SessionRepository) RevokeSession(ctx context.Context, tokenHash string, revokedAt time.Time) (persistence.Session, error) {
	tokenHash = strings.TrimSpace(tokenHash)
	if tokenHash == "" {
		return persistence.Session{}, persistence.ErrNotFound
	}

	revokedAtUTC := revokedAt.UTC()

	query := `
		UPDATE sessions
		SET revoked_at = ?, updated_at = ?
		WHERE token_hash = ? AND revoked_at IS NULL
	`

	result, err := r.helper.Exec(ctx, query,
		formatTime(revokedAtUTC),
		formatTime(revokedAtUTC),
		tokenHash,
	)

	if err != nil {
		return persistence.Session{}, r.mapSessionError(err)
	}

	if _, err := result.RowsAffected(); err != nil {
		return persistence.Session{}, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return r.GetSession(ctx, tokenHash)
}

// DeleteExpiredSessions removes sessions that expired on or before the provided timestamp
func (r *SessionRepository) DeleteExpiredSessions(ctx context.Context, reference time.Time) error {
	cutoff := reference.UTC()

	query := `
		DELETE FROM sessions
		WHERE expires_at <= ? AND expires_at != '0001-01-01T00:00:00Z'
	`

	_, err := r.helper.Exec(ctx, query, formatTime(cutoff))
	if err != nil {
		return r.mapper.MapError(err)
	}

	return nil
}

// scanSession scans one sessions row in sessionColumns order.
func scanSession(scanner rowScanner) (persistence.Session, error) {
	var session persistence.Session
	var revokedAt sql.NullString
	var expiresStr, createdStr, updatedStr string

	err := scanner.Scan(
		&session.ID,
		&session.AccountID,
		&session.TokenHash,
		&session.Fingerprint,
		&expiresStr,
		&revokedAt,
		&createdStr,
		&updatedStr,
	)
	if err != nil {
		return persistence.Session{}, err
	}

	if session.RevokedAt, err = timePtr(revokedAt, "revoked_at"); err != nil {
		return persistence.Session{}, err
	}
	if session.ExpiresAt, err = parseTime(expiresStr, "expires_at"); err != nil {
		return persistence.Session{}, err
	}
	if session.CreatedAt, err = parseTime(createdStr, "created_at"); err != nil {
		return persistence.Session{}, err
	}
	if session.UpdatedAt, err = parseTime(updatedStr, "updated_at"); err != nil {
		return persistence.Session{}, err
	}

	return session, nil
}

// mapSessionError maps SQLite errors to appropriate persistence errors for session operations
func (r *SessionRepository) mapSessionError(err error) error {
	if err == nil {
		return nil
	}

	errStr := err.Error()

	if containsAny(errStr, []string{"UNIQUE constraint failed"}) {
		return persistence.ErrDuplicate
	}

	if containsAny(errStr, []string{"FOREIGN KEY constraint failed"}) {
		return persistence.ErrForeignKeyViolation
	}

	if containsAny(errStr, []string{"CHECK constraint failed"}) {
		return persistence.ErrConstraintViolation
	}

	return r.mapper.MapError(err)
}
