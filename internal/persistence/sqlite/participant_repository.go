package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/example/coaching-marketplace/internal/persistence"
)

const participantColumns = `id, booking_id, user_id, role, status, payment_status,
	gateway_ref, hold_expires_at, joined_at, cancelled_at, created_at, updated_at`

// ParticipantRepository implements persistence.ParticipantRepository using SQLite
type ParticipantRepository struct {
	pool   *ConnectionPool
	helper *QueryHelper
	mapper *ErrorMapper
}

// NewParticipantRepository creates a new SQLite participant repository
func NewParticipantRepository(pool *ConnectionPool) *ParticipantRepository {
	return &ParticipantRepository{
		pool:   pool,
		helper: NewQueryHelper(pool),
		mapper: NewErrorMapper(),
	}
}

// CreateParticipant inserts a participant row together with its creation
// transition. The UNIQUE(booking_id, user_id) index turns a duplicate join
// into ErrDuplicate, which callers treat as an idempotent replay.
func (r *ParticipantRepository) CreateParticipant(ctx context.Context, p persistence.BookingParticipant, transition persistence.BookingStateTransition) error {
	if p.ID == "" || p.BookingID == "" || p.UserID == "" {
		return persistence.ErrConstraintViolation
	}

	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now

	return r.pool.WithTransaction(ctx, func(tx *sql.Tx) error {
		query := `
			INSERT INTO booking_participants (` + participantColumns + `)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`

		_, err := r.helper.ExecTx(tx, query,
			p.ID,
			p.BookingID,
			p.UserID,
			p.Role,
			p.Status,
			p.PaymentStatus,
			nullString(p.GatewayRef),
			nullTime(p.HoldExpiresAt),
			nullTime(p.JoinedAt),
			nullTime(p.CancelledAt),
			formatTime(p.CreatedAt),
			formatTime(p.UpdatedAt),
		)
		if err != nil {
			return r.mapParticipantError(err)
		}

		transition.BookingID = p.BookingID
		if transition.ParticipantID == nil {
			id := p.ID
			transition.ParticipantID = &id
		}
		if err := insertTransitionTx(r.helper, tx, transition, now); err != nil {
			return r.mapParticipantError(err)
		}

		return nil
	})
}

// GetParticipant retrieves a participant by ID from the database
func (r *ParticipantRepository) GetParticipant(ctx context.Context, id string) (persistence.BookingParticipant, error) {
	if id == "" {
		return persistence.BookingParticipant{}, persistence.ErrNotFound
	}

	query := `SELECT ` + participantColumns + ` FROM booking_participants WHERE id = ?`

	p, err := scanParticipant(r.helper.QueryRow(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return persistence.BookingParticipant{}, persistence.ErrNotFound
		}
		return persistence.BookingParticipant{}, r.mapper.MapError(err)
	}

	return p, nil
}

// GetParticipantByUser retrieves a booking's participant row for one user.
func (r *ParticipantRepository) GetParticipantByUser(ctx context.Context, bookingID, userID string) (persistence.BookingParticipant, error) {
	if bookingID == "" || userID == "" {
		return persistence.BookingParticipant{}, persistence.ErrNotFound
	}

	query := `SELECT ` + participantColumns + ` FROM booking_participants WHERE booking_id = ? AND user_id = ?`

	p, err := scanParticipant(r.helper.QueryRow(ctx, query, bookingID, userID))
	if err != nil {
		if err == sql.ErrNoRows {
			return persistence.BookingParticipant{}, persistence.ErrNotFound
		}
		return persistence.BookingParticipant{}, r.mapper.MapError(err)
	}

	return p, nil
}

// ListParticipants lists all participant rows of a booking in join order.
func (r *ParticipantRepository) ListParticipants(ctx context.Context, bookingID string) ([]persistence.BookingParticipant, error) {
	if bookingID == "" {
		return nil, persistence.ErrNotFound
	}

	query := `
		SELECT ` + participantColumns + `
		FROM booking_participants
		WHERE booking_id = ?
		ORDER BY created_at ASC, id ASC
	`

	rows, err := r.helper.Query(ctx, query, bookingID)
	if err != nil {
		return nil, r.mapper.MapError(err)
	}
	defer rows.Close()

	var participants []persistence.BookingParticipant

	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, r.mapper.MapError(err)
		}
		participants = append(participants, p)
	}

	if err := rows.Err(); err != nil {
		return nil, r.mapper.MapError(err)
	}

	return participants, nil
}

// ListHoldsPastDeadline returns participants whose authorization hold is
// still waiting on the coach past its expiry deadline.
func (r *ParticipantRepository) ListHoldsPastDeadline(ctx context.Context, now time.Time, limit int) ([]persistence.BookingParticipant, error) {
	query := `
		SELECT ` + participantColumns + `
		FROM booking_participants
		WHERE status = 'awaiting_coach' AND hold_expires_at IS NOT NULL AND hold_expires_at <= ?
		ORDER BY hold_expires_at ASC, id ASC
		LIMIT ?
	`

	rows, err := r.helper.Query(ctx, query, formatTime(now), limit)
	if err != nil {
		return nil, r.mapper.MapError(err)
	}
	defer rows.Close()

	var participants []persistence.BookingParticipant

	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, r.mapper.MapError(err)
		}
		participants = append(participants, p)
	}

	if err := rows.Err(); err != nil {
		return nil, r.mapper.MapError(err)
	}

	return participants, nil
}

// mapParticipantError maps SQLite errors to appropriate persistence errors for participant operations
func (r *ParticipantRepository) mapParticipantError(err error) error {
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

// scanParticipant scans one booking_participants row in participantColumns order.
func scanParticipant(scanner rowScanner) (persistence.BookingParticipant, error) {
	var p persistence.BookingParticipant
	var gatewayRef sql.NullString
	var holdExpiresAt, joinedAt, cancelledAt sql.NullString
	var createdStr, updatedStr string

	err := scanner.Scan(
		&p.ID, &p.BookingID, &p.UserID, &p.Role, &p.Status, &p.PaymentStatus,
		&gatewayRef, &holdExpiresAt, &joinedAt, &cancelledAt, &createdStr, &updatedStr,
	)
	if err != nil {
		return persistence.BookingParticipant{}, err
	}

	p.GatewayRef = stringPtr(gatewayRef)

	if p.HoldExpiresAt, err = timePtr(holdExpiresAt, "hold_expires_at"); err != nil {
		return persistence.BookingParticipant{}, err
	}
	if p.JoinedAt, err = timePtr(joinedAt, "joined_at"); err != nil {
		return persistence.BookingParticipant{}, err
	}
	if p.CancelledAt, err = timePtr(cancelledAt, "cancelled_at"); err != nil {
		return persistence.BookingParticipant{}, err
	}
	if p.CreatedAt, err = parseTime(createdStr, "created_at"); err != nil {
		return persistence.BookingParticipant{}, err
	}
	if p.UpdatedAt, err = parseTime(updatedStr, "updated_at"); err != nil {
		return persistence.BookingParticipant{}, err
	}

	return p, nil
}
