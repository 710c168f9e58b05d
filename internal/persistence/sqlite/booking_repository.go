package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/example/coaching-marketplace/internal/booking"
	"github.com/example/coaching-marketplace/internal/persistence"
)

const bookingColumns = `id, booking_type, coach_id, approval_status, fulfillment_status,
	scheduled_start_at, scheduled_end_at, duration_minutes,
	location_name, location_address, location_notes,
	idempotency_key, respond_by, coach_responded_at,
	cancelled_by, cancelled_at, cancellation_reason, locked_until,
	created_at, updated_at`

// BookingRepository implements persistence.BookingRepository using SQLite
type BookingRepository struct {
	pool   *ConnectionPool
	helper *QueryHelper
	mapper *ErrorMapper
}

// NewBookingRepository creates a new SQLite booking repository
func NewBookingRepository(pool *ConnectionPool) *BookingRepository {
	return &BookingRepository{
		pool:   pool,
		helper: NewQueryHelper(pool),
		mapper: NewErrorMapper(),
	}
}

// CreateBooking inserts a booking together with its type-specific detail
// row and the creation transition. All three rows commit or none do.
func (r *BookingRepository) CreateBooking(ctx context.Context, b persistence.Booking, detail persistence.BookingDetail, transition persistence.BookingStateTransition) error {
	if b.ID == "" || b.CoachID == "" || b.IdempotencyKey == "" {
		return persistence.ErrConstraintViolation
	}
	if !b.ScheduledEndAt.After(b.ScheduledStartAt) {
		return persistence.ErrConstraintViolation
	}

	now := time.Now().UTC()
	b.CreatedAt = now
	b.UpdatedAt = now

	return r.pool.WithTransaction(ctx, func(tx *sql.Tx) error {
		query := `
			INSERT INTO bookings (` + bookingColumns + `)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`

		_, err := r.helper.ExecTx(tx, query,
			b.ID,
			b.Type,
			b.CoachID,
			b.ApprovalStatus,
			b.FulfillmentStatus,
			formatTime(b.ScheduledStartAt),
			formatTime(b.ScheduledEndAt),
			b.DurationMinutes,
			b.Location.Name,
			nullString(b.Location.Address),
			nullString(b.Location.Notes),
			b.IdempotencyKey,
			nullTime(b.RespondBy),
			nullTime(b.CoachRespondedAt),
			nullString(b.CancelledBy),
			nullTime(b.CancelledAt),
			nullString(b.CancellationReason),
			nullTime(b.LockedUntil),
			formatTime(b.CreatedAt),
			formatTime(b.UpdatedAt),
		)
		if err != nil {
			return r.mapBookingError(err)
		}

		if err := r.insertDetail(tx, b, detail, now); err != nil {
			return err
		}

		transition.BookingID = b.ID
		if err := insertTransitionTx(r.helper, tx, transition, now); err != nil {
			return r.mapBookingError(err)
		}

		return nil
	})
}

// insertDetail inserts the detail row matching the booking's type.
func (r *BookingRepository) insertDetail(tx *sql.Tx, b persistence.Booking, detail persistence.BookingDetail, now time.Time) error {
	switch b.Type {
	case string(booking.TypeIndividual):
		if detail.Individual == nil {
			return persistence.ErrConstraintViolation
		}
		d := *detail.Individual
		d.BookingID = b.ID

		query := `
			INSERT INTO individual_details (booking_id, client_id, client_charge_cents, platform_fee_cents,
				coach_payout_cents, processor_fee_cents, currency, payment_status, payment_due_at, gateway_ref,
				created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`
		_, err := r.helper.ExecTx(tx, query,
			d.BookingID, d.ClientID,
			d.Price.ClientChargeCents, d.Price.PlatformFeeCents, d.Price.CoachPayoutCents, d.Price.ProcessorFeeCents,
			d.Currency, d.PaymentStatus, nullTime(d.PaymentDueAt), nullString(d.GatewayRef),
			formatTime(now), formatTime(now),
		)
		if err != nil {
			return r.mapBookingError(err)
		}

	case string(booking.TypePrivateGroup):
		if detail.PrivateGroup == nil {
			return persistence.ErrConstraintViolation
		}
		d := *detail.PrivateGroup
		d.BookingID = b.ID

		query := `
			INSERT INTO private_group_details (booking_id, organizer_id, total_participants, price_per_person_cents,
				client_charge_cents, platform_fee_cents, coach_payout_cents, processor_fee_cents,
				currency, payment_status, payment_due_at, gateway_ref, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`
		_, err := r.helper.ExecTx(tx, query,
			d.BookingID, d.OrganizerID, d.TotalParticipants, d.PricePerPersonCents,
			d.Price.ClientChargeCents, d.Price.PlatformFeeCents, d.Price.CoachPayoutCents, d.Price.ProcessorFeeCents,
			d.Currency, d.PaymentStatus, nullTime(d.PaymentDueAt), nullString(d.GatewayRef),
			formatTime(now), formatTime(now),
		)
		if err != nil {
			return r.mapBookingError(err)
		}

	case string(booking.TypePublicGroup):
		if detail.PublicGroup == nil {
			return persistence.ErrConstraintViolation
		}
		d := *detail.PublicGroup
		d.BookingID = b.ID

		query := `
			INSERT INTO public_group_details (booking_id, max_participants, min_participants, price_per_person_cents,
				currency, capacity_status, current_participants, authorized_participants, captured_participants,
				created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`
		_, err := r.helper.ExecTx(tx, query,
			d.BookingID, d.MaxParticipants, d.MinParticipants, d.PricePerPersonCents,
			d.Currency, d.CapacityStatus, d.CurrentParticipants, d.AuthorizedParticipants, d.CapturedParticipants,
			formatTime(now), formatTime(now),
		)
		if err != nil {
			return r.mapBookingError(err)
		}

	default:
		return persistence.ErrConstraintViolation
	}

	return nil
}

// GetBooking retrieves a booking by ID from the database
func (r *BookingRepository) GetBooking(ctx context.Context, id string) (persistence.Booking, error) {
	if id == "" {
		return persistence.Booking{}, persistence.ErrNotFound
	}

	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE id = ?`

	b, err := scanBooking(r.helper.QueryRow(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return persistence.Booking{}, persistence.ErrNotFound
		}
		return persistence.Booking{}, r.mapper.MapError(err)
	}

	return b, nil
}

// GetBookingByIdempotencyKey retrieves the booking created under the
// given creation idempotency key, if any.
func (r *BookingRepository) GetBookingByIdempotencyKey(ctx context.Context, key string) (persistence.Booking, error) {
	if key == "" {
		return persistence.Booking{}, persistence.ErrNotFound
	}

	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE idempotency_key = ?`

	b, err := scanBooking(r.helper.QueryRow(ctx, query, key))
	if err != nil {
		if err == sql.ErrNoRows {
			return persistence.Booking{}, persistence.ErrNotFound
		}
		return persistence.Booking{}, r.mapper.MapError(err)
	}

	return b, nil
}

// GetBookingDetail loads the type-specific detail row for a booking.
func (r *BookingRepository) GetBookingDetail(ctx context.Context, id string) (persistence.BookingDetail, error) {
	if id == "" {
		return persistence.BookingDetail{}, persistence.ErrNotFound
	}

	var bookingType string
	err := r.helper.QueryRow(ctx, "SELECT booking_type FROM bookings WHERE id = ?", id).Scan(&bookingType)
	if err != nil {
		if err == sql.ErrNoRows {
			return persistence.BookingDetail{}, persistence.ErrNotFound
		}
		return persistence.BookingDetail{}, r.mapper.MapError(err)
	}

	switch bookingType {
	case string(booking.TypeIndividual):
		detail, err := r.getIndividualDetail(ctx, id)
		if err != nil {
			return persistence.BookingDetail{}, err
		}
		return persistence.BookingDetail{Individual: detail}, nil

	case string(booking.TypePrivateGroup):
		detail, err := r.getPrivateGroupDetail(ctx, id)
		if err != nil {
			return persistence.BookingDetail{}, err
		}
		return persistence.BookingDetail{PrivateGroup: detail}, nil

	case string(booking.TypePublicGroup):
		detail, err := r.getPublicGroupDetail(ctx, id)
		if err != nil {
			return persistence.BookingDetail{}, err
		}
		return persistence.BookingDetail{PublicGroup: detail}, nil
	}

	return persistence.BookingDetail{}, persistence.ErrConstraintViolation
}

func (r *BookingRepository) getIndividualDetail(ctx context.Context, id string) (*persistence.IndividualDetail, error) {
	query := `
		SELECT booking_id, client_id, client_charge_cents, platform_fee_cents, coach_payout_cents,
			processor_fee_cents, currency, payment_status, payment_due_at, gateway_ref, created_at, updated_at
		FROM individual_details
		WHERE booking_id = ?
	`

	var d persistence.IndividualDetail
	var dueAt, gatewayRef sql.NullString
	var createdStr, updatedStr string

	err := r.helper.QueryRow(ctx, query, id).Scan(
		&d.BookingID, &d.ClientID,
		&d.Price.ClientChargeCents, &d.Price.PlatformFeeCents, &d.Price.CoachPayoutCents, &d.Price.ProcessorFeeCents,
		&d.Currency, &d.PaymentStatus, &dueAt, &gatewayRef, &createdStr, &updatedStr,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, persistence.ErrNotFound
		}
		return nil, r.mapper.MapError(err)
	}

	d.GatewayRef = stringPtr(gatewayRef)
	if d.PaymentDueAt, err = timePtr(dueAt, "payment_due_at"); err != nil {
		return nil, err
	}
	if d.CreatedAt, err = parseTime(createdStr, "created_at"); err != nil {
		return nil, err
	}
	if d.UpdatedAt, err = parseTime(updatedStr, "updated_at"); err != nil {
		return nil, err
	}

	return &d, nil
}

func (r *BookingRepository) getPrivateGroupDetail(ctx context.Context, id string) (*persistence.PrivateGroupDetail, error) {
	query := `
		SELECT booking_id, organizer_id, total_participants, price_per_person_cents,
			client_charge_cents, platform_fee_cents, coach_payout_cents, processor_fee_cents,
			currency, payment_status, payment_due_at, gateway_ref, created_at, updated_at
		FROM private_group_details
		WHERE booking_id = ?
	`

	var d persistence.PrivateGroupDetail
	var dueAt, gatewayRef sql.NullString
	var createdStr, updatedStr string

	err := r.helper.QueryRow(ctx, query, id).Scan(
		&d.BookingID, &d.OrganizerID, &d.TotalParticipants, &d.PricePerPersonCents,
		&d.Price.ClientChargeCents, &d.Price.PlatformFeeCents, &d.Price.CoachPayoutCents, &d.Price.ProcessorFeeCents,
		&d.Currency, &d.PaymentStatus, &dueAt, &gatewayRef, &createdStr, &updatedStr,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, persistence.ErrNotFound
		}
		return nil, r.mapper.MapError(err)
	}

	d.GatewayRef = stringPtr(gatewayRef)
	if d.PaymentDueAt, err = timePtr(dueAt, "payment_due_at"); err != nil {
		return nil, err
	}
	if d.CreatedAt, err = parseTime(createdStr, "created_at"); err != nil {
		return nil, err
	}
	if d.UpdatedAt, err = parseTime(updatedStr, "updated_at"); err != nil {
		return nil, err
	}

	return &d, nil
}

func (r *BookingRepository) getPublicGroupDetail(ctx context.Context, id string) (*persistence.PublicGroupDetail, error) {
	query := `
		SELECT booking_id, max_participants, min_participants, price_per_person_cents, currency,
			capacity_status, current_participants, authorized_participants, captured_participants,
			created_at, updated_at
		FROM public_group_details
		WHERE booking_id = ?
	`

	var d persistence.PublicGroupDetail
	var createdStr, updatedStr string

	err := r.helper.QueryRow(ctx, query, id).Scan(
		&d.BookingID, &d.MaxParticipants, &d.MinParticipants, &d.PricePerPersonCents, &d.Currency,
		&d.CapacityStatus, &d.CurrentParticipants, &d.AuthorizedParticipants, &d.CapturedParticipants,
		&createdStr, &updatedStr,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, persistence.ErrNotFound
		}
		return nil, r.mapper.MapError(err)
	}

	if d.CreatedAt, err = parseTime(createdStr, "created_at"); err != nil {
		return nil, err
	}
	if d.UpdatedAt, err = parseTime(updatedStr, "updated_at"); err != nil {
		return nil, err
	}

	return &d, nil
}

// ListBookings lists bookings filtered by the provided filter
func (r *BookingRepository) ListBookings(ctx context.Context, filter persistence.BookingFilter) ([]persistence.Booking, error) {
	query, args := r.buildListQuery(filter)

	rows, err := r.helper.Query(ctx, query, args...)
	if err != nil {
		return nil, r.mapper.MapError(err)
	}
	defer rows.Close()

	var bookings []persistence.Booking

	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, r.mapper.MapError(err)
		}
		bookings = append(bookings, b)
	}

	if err := rows.Err(); err != nil {
		return nil, r.mapper.MapError(err)
	}

	return bookings, nil
}

// ApplyMutation applies one state transition's full row set in a single
// transaction: the booking's status axes, the detail row, one participant
// row with its derived capacity counters, appended payments and appended
// transition records.
func (r *BookingRepository) ApplyMutation(ctx context.Context, m persistence.BookingMutation) error {
	if m.BookingID == "" {
		return persistence.ErrConstraintViolation
	}

	now := m.Now
	if now.IsZero() {
		now = time.Now()
	}
	now = now.UTC()

	return r.pool.WithTransaction(ctx, func(tx *sql.Tx) error {
		if m.Booking != nil {
			if err := r.applyBookingChange(tx, m, now); err != nil {
				return err
			}
		}

		if m.Participant != nil {
			if err := r.applyParticipantChange(tx, m, m.Participant, now); err != nil {
				return err
			}
		}

		for i := range m.Cascade {
			if err := r.applyParticipantChange(tx, m, &m.Cascade[i], now); err != nil {
				return err
			}
		}

		if m.Detail != nil {
			if err := r.applyDetailChange(tx, m, now); err != nil {
				return err
			}
		}

		for _, payment := range m.Payments {
			payment.BookingID = m.BookingID
			if err := insertPaymentTx(r.helper, tx, payment, now); err != nil {
				return r.mapBookingError(err)
			}
		}

		for _, transition := range m.Transitions {
			transition.BookingID = m.BookingID
			if err := insertTransitionTx(r.helper, tx, transition, now); err != nil {
				return r.mapBookingError(err)
			}
		}

		return nil
	})
}

func (r *BookingRepository) applyBookingChange(tx *sql.Tx, m persistence.BookingMutation, now time.Time) error {
	change := m.Booking

	sets := []string{"updated_at = ?"}
	args := []interface{}{formatTime(now)}

	if change.SetApproval != nil {
		sets = append(sets, "approval_status = ?")
		args = append(args, *change.SetApproval)
	}
	if change.SetFulfillment != nil {
		sets = append(sets, "fulfillment_status = ?")
		args = append(args, *change.SetFulfillment)
	}
	if change.SetCoachRespondedAt != nil {
		sets = append(sets, "coach_responded_at = ?")
		args = append(args, formatTime(*change.SetCoachRespondedAt))
	}
	if change.SetCancelledBy != nil {
		sets = append(sets, "cancelled_by = ?")
		args = append(args, *change.SetCancelledBy)
	}
	if change.SetCancelledAt != nil {
		sets = append(sets, "cancelled_at = ?")
		args = append(args, formatTime(*change.SetCancelledAt))
	}
	if change.SetCancellationReason != nil {
		sets = append(sets, "cancellation_reason = ?")
		args = append(args, *change.SetCancellationReason)
	}
	if change.ClearLock {
		sets = append(sets, "locked_until = NULL")
	}

	// The expected-state guard turns a lost race into ErrStaleState
	// instead of silently double-applying a transition.
	query := fmt.Sprintf(
		"UPDATE bookings SET %s WHERE id = ? AND approval_status = ? AND fulfillment_status = ?",
		strings.Join(sets, ", "),
	)
	args = append(args, m.BookingID, change.ExpectApproval, change.ExpectFulfillment)

	result, err := r.helper.ExecTx(tx, query, args...)
	if err != nil {
		return r.mapBookingError(err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return r.staleOrMissing(tx, "SELECT 1 FROM bookings WHERE id = ?", m.BookingID)
	}

	return nil
}

func (r *BookingRepository) applyDetailChange(tx *sql.Tx, m persistence.BookingMutation, now time.Time) error {
	change := m.Detail

	table, err := detailTable(m.BookingType)
	if err != nil {
		return err
	}

	sets := []string{"updated_at = ?"}
	args := []interface{}{formatTime(now)}

	if change.SetPaymentStatus != nil {
		if table == "public_group_details" {
			return persistence.ErrConstraintViolation
		}
		sets = append(sets, "payment_status = ?")
		args = append(args, *change.SetPaymentStatus)
	}
	if change.SetPaymentDueAt != nil {
		sets = append(sets, "payment_due_at = ?")
		args = append(args, formatTime(*change.SetPaymentDueAt))
	} else if change.ClearPaymentDueAt {
		sets = append(sets, "payment_due_at = NULL")
	}
	if change.SetGatewayRef != nil {
		if table == "public_group_details" {
			return persistence.ErrConstraintViolation
		}
		sets = append(sets, "gateway_ref = ?")
		args = append(args, *change.SetGatewayRef)
	}
	if change.SetCapacityStatus != nil {
		if table != "public_group_details" {
			return persistence.ErrConstraintViolation
		}
		sets = append(sets, "capacity_status = ?")
		args = append(args, *change.SetCapacityStatus)
	}

	query := fmt.Sprintf("UPDATE %s SET %s WHERE booking_id = ?", table, strings.Join(sets, ", "))
	args = append(args, m.BookingID)

	result, err := r.helper.ExecTx(tx, query, args...)
	if err != nil {
		return r.mapBookingError(err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return persistence.ErrNotFound
	}

	return nil
}

func (r *BookingRepository) applyParticipantChange(tx *sql.Tx, m persistence.BookingMutation, change *persistence.ParticipantChange, now time.Time) error {
	sets := []string{"status = ?", "payment_status = ?", "updated_at = ?"}
	args := []interface{}{change.SetStatus, change.SetPayment, formatTime(now)}

	if change.SetGatewayRef != nil {
		sets = append(sets, "gateway_ref = ?")
		args = append(args, *change.SetGatewayRef)
	}
	if change.SetHoldExpiresAt != nil {
		sets = append(sets, "hold_expires_at = ?")
		args = append(args, formatTime(*change.SetHoldExpiresAt))
	} else if change.ClearHoldExpiresAt {
		sets = append(sets, "hold_expires_at = NULL")
	}
	if change.SetJoinedAt != nil {
		sets = append(sets, "joined_at = ?")
		args = append(args, formatTime(*change.SetJoinedAt))
	}
	if change.SetCancelledAt != nil {
		sets = append(sets, "cancelled_at = ?")
		args = append(args, formatTime(*change.SetCancelledAt))
	}

	query := fmt.Sprintf(
		"UPDATE booking_participants SET %s WHERE id = ? AND booking_id = ? AND status = ? AND payment_status = ?",
		strings.Join(sets, ", "),
	)
	args = append(args, change.ID, m.BookingID, change.ExpectStatus, change.ExpectPayment)

	result, err := r.helper.ExecTx(tx, query, args...)
	if err != nil {
		return r.mapBookingError(err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return r.staleOrMissing(tx, "SELECT 1 FROM booking_participants WHERE id = ?", change.ID)
	}

	if m.BookingType != string(booking.TypePublicGroup) {
		return nil
	}

	// Counters move only as a consequence of this row's status change,
	// derived from the same from/to pair the guard just verified.
	current, authorized, captured := booking.CounterDeltas(
		booking.ParticipantStatus(change.ExpectStatus),
		booking.ParticipantStatus(change.SetStatus),
		booking.ParticipantPaymentStatus(change.ExpectPayment),
		booking.ParticipantPaymentStatus(change.SetPayment),
	)
	if current == 0 && authorized == 0 && captured == 0 {
		return nil
	}

	return r.applyCounterDeltas(tx, m.BookingID, current, authorized, captured, now)
}

// applyCounterDeltas adjusts the public-group counters. A seat-consuming
// change re-checks capacity in the same statement as the increment, which
// is what keeps concurrent joins from overselling the group.
func (r *BookingRepository) applyCounterDeltas(tx *sql.Tx, bookingID string, current, authorized, captured int, now time.Time) error {
	query := `
		UPDATE public_group_details
		SET current_participants = current_participants + ?,
			authorized_participants = authorized_participants + ?,
			captured_participants = captured_participants + ?,
			capacity_status = CASE
				WHEN capacity_status = 'closed' THEN 'closed'
				WHEN current_participants + ? >= max_participants THEN 'full'
				ELSE 'open'
			END,
			updated_at = ?
		WHERE booking_id = ?
	`
	args := []interface{}{current, authorized, captured, current, formatTime(now), bookingID}

	if current > 0 {
		query += " AND capacity_status = 'open' AND current_participants + ? <= max_participants"
		args = append(args, current)
	}

	result, err := r.helper.ExecTx(tx, query, args...)
	if err != nil {
		return r.mapBookingError(err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		if current > 0 {
			return persistence.ErrCapacityExhausted
		}
		return persistence.ErrNotFound
	}

	return nil
}

// AcquireLock takes the booking's advisory lock until the given deadline.
// An unexpired lock held by another operation fails with ErrLockHeld; an
// expired lock is stolen, which bounds how long a crashed operation can
// block the booking.
func (r *BookingRepository) AcquireLock(ctx context.Context, id string, now, until time.Time) error {
	if id == "" {
		return persistence.ErrNotFound
	}

	query := `
		UPDATE bookings
		SET locked_until = ?
		WHERE id = ? AND (locked_until IS NULL OR locked_until <= ?)
	`

	result, err := r.helper.Exec(ctx, query, formatTime(until), id, formatTime(now))
	if err != nil {
		return r.mapBookingError(err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		var one int
		err := r.helper.QueryRow(ctx, "SELECT 1 FROM bookings WHERE id = ?", id).Scan(&one)
		if err == sql.ErrNoRows {
			return persistence.ErrNotFound
		}
		if err != nil {
			return r.mapper.MapError(err)
		}
		return persistence.ErrLockHeld
	}

	return nil
}

// ReleaseLock clears the booking's advisory lock. Releasing an already
// unlocked booking is a no-op so callers can release on every exit path.
func (r *BookingRepository) ReleaseLock(ctx context.Context, id string) error {
	if id == "" {
		return persistence.ErrNotFound
	}

	result, err := r.helper.Exec(ctx, "UPDATE bookings SET locked_until = NULL WHERE id = ?", id)
	if err != nil {
		return r.mapBookingError(err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return persistence.ErrNotFound
	}

	return nil
}

// ListUnansweredPastDeadline returns bookings still pending review whose
// response window elapsed at or before the reference time.
func (r *BookingRepository) ListUnansweredPastDeadline(ctx context.Context, now time.Time, limit int) ([]string, error) {
	query := `
		SELECT id
		FROM bookings
		WHERE approval_status = 'pending_review' AND respond_by IS NOT NULL AND respond_by <= ?
		ORDER BY respond_by ASC, id ASC
		LIMIT ?
	`

	return r.listIDs(ctx, query, formatTime(now), limit)
}

// ListUnpaidPastDeadline returns accepted individual and private-group
// bookings whose payment deadline elapsed without a capture.
func (r *BookingRepository) ListUnpaidPastDeadline(ctx context.Context, now time.Time, limit int) ([]string, error) {
	query := `
		SELECT b.id AS id, d.payment_due_at AS payment_due_at
		FROM bookings b
		JOIN individual_details d ON b.id = d.booking_id
		WHERE b.approval_status = 'accepted'
			AND d.payment_status IN ('awaiting_client_payment', 'authorized')
			AND d.payment_due_at IS NOT NULL AND d.payment_due_at <= ?
		UNION
		SELECT b.id AS id, d.payment_due_at AS payment_due_at
		FROM bookings b
		JOIN private_group_details d ON b.id = d.booking_id
		WHERE b.approval_status = 'accepted'
			AND d.payment_status IN ('awaiting_client_payment', 'authorized')
			AND d.payment_due_at IS NOT NULL AND d.payment_due_at <= ?
		ORDER BY payment_due_at ASC, id ASC
		LIMIT ?
	`

	nowStr := formatTime(now)

	rows, err := r.helper.Query(ctx, query, nowStr, nowStr, limit)
	if err != nil {
		return nil, r.mapper.MapError(err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id, dueAt string
		if err := rows.Scan(&id, &dueAt); err != nil {
			return nil, r.mapper.MapError(err)
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, r.mapper.MapError(err)
	}

	return ids, nil
}

// ListElapsedUncompleted returns accepted, still-scheduled bookings whose
// scheduled end passed at or before the reference time.
func (r *BookingRepository) ListElapsedUncompleted(ctx context.Context, now time.Time, limit int) ([]string, error) {
	query := `
		SELECT id
		FROM bookings
		WHERE approval_status = 'accepted' AND fulfillment_status = 'scheduled' AND scheduled_end_at <= ?
		ORDER BY scheduled_end_at ASC, id ASC
		LIMIT ?
	`

	return r.listIDs(ctx, query, formatTime(now), limit)
}

func (r *BookingRepository) listIDs(ctx context.Context, query, reference string, limit int) ([]string, error) {
	rows, err := r.helper.Query(ctx, query, reference, limit)
	if err != nil {
		return nil, r.mapper.MapError(err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, r.mapper.MapError(err)
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, r.mapper.MapError(err)
	}

	return ids, nil
}

// staleOrMissing distinguishes a lost optimistic-guard race from a row
// that does not exist at all.
func (r *BookingRepository) staleOrMissing(tx *sql.Tx, existsQuery, id string) error {
	var one int
	err := r.helper.QueryRowTx(tx, existsQuery, id).Scan(&one)
	if err == sql.ErrNoRows {
		return persistence.ErrNotFound
	}
	if err != nil {
		return r.mapper.MapError(err)
	}
	return persistence.ErrStaleState
}

// buildListQuery builds the SQL query for listing bookings with filters
func (r *BookingRepository) buildListQuery(filter persistence.BookingFilter) (string, []interface{}) {
	baseQuery := `
		SELECT DISTINCT b.id, b.booking_type, b.coach_id, b.approval_status, b.fulfillment_status,
			b.scheduled_start_at, b.scheduled_end_at, b.duration_minutes,
			b.location_name, b.location_address, b.location_notes,
			b.idempotency_key, b.respond_by, b.coach_responded_at,
			b.cancelled_by, b.cancelled_at, b.cancellation_reason, b.locked_until,
			b.created_at, b.updated_at
		FROM bookings b
	`

	var conditions []string
	var args []interface{}

	if filter.PayerID != nil {
		baseQuery += `
			LEFT JOIN individual_details ind ON b.id = ind.booking_id
			LEFT JOIN private_group_details pgd ON b.id = pgd.booking_id
			LEFT JOIN booking_participants bp ON b.id = bp.booking_id
		`
		conditions = append(conditions, "(ind.client_id = ? OR pgd.organizer_id = ? OR bp.user_id = ?)")
		args = append(args, *filter.PayerID, *filter.PayerID, *filter.PayerID)
	}

	if filter.CoachID != nil {
		conditions = append(conditions, "b.coach_id = ?")
		args = append(args, *filter.CoachID)
	}

	if filter.Type != nil {
		conditions = append(conditions, "b.booking_type = ?")
		args = append(args, *filter.Type)
	}

	if filter.Approval != nil {
		conditions = append(conditions, "b.approval_status = ?")
		args = append(args, *filter.Approval)
	}

	if filter.StartsAfter != nil {
		conditions = append(conditions, "b.scheduled_end_at > ?")
		args = append(args, formatTime(*filter.StartsAfter))
	}

	if filter.EndsBefore != nil {
		conditions = append(conditions, "b.scheduled_start_at < ?")
		args = append(args, formatTime(*filter.EndsBefore))
	}

	if len(conditions) > 0 {
		baseQuery += " WHERE " + strings.Join(conditions, " AND ")
	}

	baseQuery += " ORDER BY b.scheduled_start_at ASC, b.id ASC"

	return baseQuery, args
}

// mapBookingError maps SQLite errors to appropriate persistence errors for booking operations
func (r *BookingRepository) mapBookingError(err error) error {
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

// detailTable returns the detail table for a booking type.
func detailTable(bookingType string) (string, error) {
	switch bookingType {
	case string(booking.TypeIndividual):
		return "individual_details", nil
	case string(booking.TypePrivateGroup):
		return "private_group_details", nil
	case string(booking.TypePublicGroup):
		return "public_group_details", nil
	}
	return "", persistence.ErrConstraintViolation
}

// scanBooking scans one bookings row in bookingColumns order.
func scanBooking(scanner rowScanner) (persistence.Booking, error) {
	var b persistence.Booking
	var startStr, endStr, createdStr, updatedStr string
	var locationAddress, locationNotes, cancelledBy, cancellationReason sql.NullString
	var respondBy, coachRespondedAt, cancelledAt, lockedUntil sql.NullString

	err := scanner.Scan(
		&b.ID, &b.Type, &b.CoachID, &b.ApprovalStatus, &b.FulfillmentStatus,
		&startStr, &endStr, &b.DurationMinutes,
		&b.Location.Name, &locationAddress, &locationNotes,
		&b.IdempotencyKey, &respondBy, &coachRespondedAt,
		&cancelledBy, &cancelledAt, &cancellationReason, &lockedUntil,
		&createdStr, &updatedStr,
	)
	if err != nil {
		return persistence.Booking{}, err
	}

	b.Location.Address = stringPtr(locationAddress)
	b.Location.Notes = stringPtr(locationNotes)
	b.CancelledBy = stringPtr(cancelledBy)
	b.CancellationReason = stringPtr(cancellationReason)

	if b.ScheduledStartAt, err = parseTime(startStr, "scheduled_start_at"); err != nil {
		return persistence.Booking{}, err
	}
	if b.ScheduledEndAt, err = parseTime(endStr, "scheduled_end_at"); err != nil {
		return persistence.Booking{}, err
	}
	if b.CreatedAt, err = parseTime(createdStr, "created_at"); err != nil {
		return persistence.Booking{}, err
	}
	if b.UpdatedAt, err = parseTime(updatedStr, "updated_at"); err != nil {
		return persistence.Booking{}, err
	}

	if b.RespondBy, err = timePtr(respondBy, "respond_by"); err != nil {
		return persistence.Booking{}, err
	}
	if b.CoachRespondedAt, err = timePtr(coachRespondedAt, "coach_responded_at"); err != nil {
		return persistence.Booking{}, err
	}
	if b.CancelledAt, err = timePtr(cancelledAt, "cancelled_at"); err != nil {
		return persistence.Booking{}, err
	}
	if b.LockedUntil, err = timePtr(lockedUntil, "locked_until"); err != nil {
		return persistence.Booking{}, err
	}

	return b, nil
}

// insertPaymentTx appends one payment ledger row within a transaction.
func insertPaymentTx(helper *QueryHelper, tx *sql.Tx, payment persistence.BookingPayment, now time.Time) error {
	if payment.CreatedAt.IsZero() {
		payment.CreatedAt = now
	}

	query := `
		INSERT INTO booking_payments (id, booking_id, participant_id, payer_id, purpose, amount_cents,
			currency, capture_method, gateway_ref, idempotency_key, status, failure_code, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := helper.ExecTx(tx, query,
		payment.ID,
		payment.BookingID,
		nullString(payment.ParticipantID),
		payment.PayerID,
		payment.Purpose,
		payment.AmountCents,
		payment.Currency,
		payment.CaptureMethod,
		payment.GatewayRef,
		payment.IdempotencyKey,
		payment.Status,
		nullString(payment.FailureCode),
		formatTime(payment.CreatedAt),
	)
	return err
}

// insertTransitionTx appends one audit transition row within a transaction.
func insertTransitionTx(helper *QueryHelper, tx *sql.Tx, transition persistence.BookingStateTransition, now time.Time) error {
	if transition.OccurredAt.IsZero() {
		transition.OccurredAt = now
	}

	query := `
		INSERT INTO booking_state_transitions (id, booking_id, participant_id, event, from_state, to_state,
			actor_id, actor_relation, reason, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := helper.ExecTx(tx, query,
		transition.ID,
		transition.BookingID,
		nullString(transition.ParticipantID),
		transition.Event,
		transition.FromState,
		transition.ToState,
		nullString(transition.ActorID),
		transition.ActorRelation,
		nullString(transition.Reason),
		formatTime(transition.OccurredAt),
	)
	return err
}
