package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/example/coaching-marketplace/internal/persistence"
)

const paymentColumns = `id, booking_id, participant_id, payer_id, purpose, amount_cents,
	currency, capture_method, gateway_ref, idempotency_key, status, failure_code, created_at`

// PaymentRepository implements persistence.PaymentRepository using SQLite.
// Payment rows are append-only; there is no update path.
type PaymentRepository struct {
	pool   *ConnectionPool
	helper *QueryHelper
	mapper *ErrorMapper
}

// NewPaymentRepository creates a new SQLite payment repository
func NewPaymentRepository(pool *ConnectionPool) *PaymentRepository {
	return &PaymentRepository{
		pool:   pool,
		helper: NewQueryHelper(pool),
		mapper: NewErrorMapper(),
	}
}

// RecordAttempt appends one payment attempt. A second succeeded attempt
// under the same idempotency key fails with ErrDuplicate; failed attempts
// may repeat a key freely so a retry can succeed later.
func (r *PaymentRepository) RecordAttempt(ctx context.Context, payment persistence.BookingPayment) error {
	if payment.ID == "" || payment.BookingID == "" || payment.PayerID == "" || payment.IdempotencyKey == "" {
		return persistence.ErrConstraintViolation
	}

	now := time.Now().UTC()

	return r.pool.WithTransaction(ctx, func(tx *sql.Tx) error {
		if err := insertPaymentTx(r.helper, tx, payment, now); err != nil {
			return r.mapPaymentError(err)
		}
		return nil
	})
}

// GetSucceededByIdempotencyKey returns the succeeded attempt recorded
// under the given key, if one exists.
func (r *PaymentRepository) GetSucceededByIdempotencyKey(ctx context.Context, key string) (persistence.BookingPayment, error) {
	if key == "" {
		return persistence.BookingPayment{}, persistence.ErrNotFound
	}

	query := `SELECT ` + paymentColumns + ` FROM booking_payments WHERE idempotency_key = ? AND status = 'succeeded'`

	p, err := scanPayment(r.helper.QueryRow(ctx, query, key))
	if err != nil {
		if err == sql.ErrNoRows {
			return persistence.BookingPayment{}, persistence.ErrNotFound
		}
		return persistence.BookingPayment{}, r.mapper.MapError(err)
	}

	return p, nil
}

// ListPaymentsForBooking lists a booking's payment attempts oldest first.
func (r *PaymentRepository) ListPaymentsForBooking(ctx context.Context, bookingID string) ([]persistence.BookingPayment, error) {
	if bookingID == "" {
		return nil, persistence.ErrNotFound
	}

	query := `
		SELECT ` + paymentColumns + `
		FROM booking_payments
		WHERE booking_id = ?
		ORDER BY created_at ASC, id ASC
	`

	return r.listPayments(ctx, query, bookingID)
}

// ListPaymentsForParticipant lists the attempts tied to one participant row.
func (r *PaymentRepository) ListPaymentsForParticipant(ctx context.Context, participantID string) ([]persistence.BookingPayment, error) {
	if participantID == "" {
		return nil, persistence.ErrNotFound
	}

	query := `
		SELECT ` + paymentColumns + `
		FROM booking_payments
		WHERE participant_id = ?
		ORDER BY created_at ASC, id ASC
	`

	return r.listPayments(ctx, query, participantID)
}

func (r *PaymentRepository) listPayments(ctx context.Context, query string, args ...interface{}) ([]persistence.BookingPayment, error) {
	rows, err := r.helper.Query(ctx, query, args...)
	if err != nil {
		return nil, r.mapper.MapError(err)
	}
	defer rows.Close()

	var payments []persistence.BookingPayment

	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, r.mapper.MapError(err)
		}
		payments = append(payments, p)
	}

	if err := rows.Err(); err != nil {
		return nil, r.mapper.MapError(err)
	}

	return payments, nil
}

// mapPaymentError maps SQLite errors to appropriate persistence errors for payment operations
func (r *PaymentRepository) mapPaymentError(err error) error {
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

// scanPayment scans one booking_payments row in paymentColumns order.
func scanPayment(scanner rowScanner) (persistence.BookingPayment, error) {
	var p persistence.BookingPayment
	var participantID, failureCode sql.NullString
	var createdStr string

	err := scanner.Scan(
		&p.ID, &p.BookingID, &participantID, &p.PayerID, &p.Purpose, &p.AmountCents,
		&p.Currency, &p.CaptureMethod, &p.GatewayRef, &p.IdempotencyKey, &p.Status, &failureCode, &createdStr,
	)
	if err != nil {
		return persistence.BookingPayment{}, err
	}

	p.ParticipantID = stringPtr(participantID)
	p.FailureCode = stringPtr(failureCode)

	if p.CreatedAt, err = parseTime(createdStr, "created_at"); err != nil {
		return persistence.BookingPayment{}, err
	}

	return p, nil
}
