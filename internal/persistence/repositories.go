package persistence

import "context"
import "time"

// AccountRepository exposes CRUD operations for accounts.
type AccountRepository interface {
	CreateAccount(ctx context.Context, account Account) error
	UpdateAccount(ctx context.Context, account Account) error
	GetAccount(ctx context.Context, id string) (Account, error)
	GetAccountByEmail(ctx context.Context, email string) (Account, error)
	ListAccounts(ctx context.Context) ([]Account, error)
}

// BookingFilter narrows booking list queries. PayerID matches bookings
// the user pays for in any role: individual client, private-group
// organizer or public-group participant.
type BookingFilter struct {
	CoachID     *string
	PayerID     *string
	Type        *string
	Approval    *string
	StartsAfter *time.Time
	EndsBefore  *time.Time
}

// BookingChange updates the booking row's status axes, guarded by the
// state the caller read. A guard mismatch means another operation won
// the race and the whole mutation fails with ErrStaleState.
type BookingChange struct {
	ExpectApproval    string
	ExpectFulfillment string

	SetApproval           *string
	SetFulfillment        *string
	SetCoachRespondedAt   *time.Time
	SetCancelledBy        *string
	SetCancelledAt        *time.Time
	SetCancellationReason *string
	ClearLock             bool
}

// DetailChange updates the booking's type-specific detail row.
type DetailChange struct {
	SetPaymentStatus  *string
	SetPaymentDueAt   *time.Time
	ClearPaymentDueAt bool
	SetGatewayRef     *string
	SetCapacityStatus *string
}

// ParticipantChange updates one participant row, guarded by the status
// pair the caller read. Public-group capacity counters are derived from
// the status change inside the same transaction; a seat-consuming change
// against a full or closed group fails with ErrCapacityExhausted.
type ParticipantChange struct {
	ID            string
	ExpectStatus  string
	ExpectPayment string

	SetStatus          string
	SetPayment         string
	SetGatewayRef      *string
	SetHoldExpiresAt   *time.Time
	ClearHoldExpiresAt bool
	SetJoinedAt        *time.Time
	SetCancelledAt     *time.Time
}

// BookingMutation describes every row touched by one state transition.
// ApplyMutation applies the whole set in a single transaction so the
// booking's compound state, its detail row, the participant roster, the
// payment ledger and the audit log can never drift apart.
type BookingMutation struct {
	BookingID   string
	BookingType string
	Now         time.Time

	Booking     *BookingChange
	Detail      *DetailChange
	Participant *ParticipantChange

	// Cascade moves further participant rows in the same transaction as
	// the booking change that caused them (decline, cancel, completion).
	// Each entry carries its own expected-status guard.
	Cascade []ParticipantChange

	Payments    []BookingPayment
	Transitions []BookingStateTransition
}

// BookingRepository stores bookings and their detail rows, applies state
// mutations and owns the advisory payment lock.
type BookingRepository interface {
	CreateBooking(ctx context.Context, booking Booking, detail BookingDetail, transition BookingStateTransition) error
	GetBooking(ctx context.Context, id string) (Booking, error)
	GetBookingByIdempotencyKey(ctx context.Context, key string) (Booking, error)
	GetBookingDetail(ctx context.Context, id string) (BookingDetail, error)
	ListBookings(ctx context.Context, filter BookingFilter) ([]Booking, error)
	ApplyMutation(ctx context.Context, mutation BookingMutation) error
	AcquireLock(ctx context.Context, id string, now, until time.Time) error
	ReleaseLock(ctx context.Context, id string) error
	ListUnansweredPastDeadline(ctx context.Context, now time.Time, limit int) ([]string, error)
	ListUnpaidPastDeadline(ctx context.Context, now time.Time, limit int) ([]string, error)
	ListElapsedUncompleted(ctx context.Context, now time.Time, limit int) ([]string, error)
}

// ParticipantRepository stores per-user join records for group bookings.
// ListHoldsPastDeadline returns whole rows rather than IDs: the sweeper
// needs the booking ID to take the advisory lock, and the row's status
// pair serves as the mutation guard against holds resolved in between.
type ParticipantRepository interface {
	CreateParticipant(ctx context.Context, participant BookingParticipant, transition BookingStateTransition) error
	GetParticipant(ctx context.Context, id string) (BookingParticipant, error)
	GetParticipantByUser(ctx context.Context, bookingID, userID string) (BookingParticipant, error)
	ListParticipants(ctx context.Context, bookingID string) ([]BookingParticipant, error)
	ListHoldsPastDeadline(ctx context.Context, now time.Time, limit int) ([]BookingParticipant, error)
}

// PaymentRepository reads and appends the immutable payment ledger.
// Successful attempts are written inside ApplyMutation together with the
// state they paid for; the standalone append records failed attempts and
// intermediate rows whose state change is carried by a later mutation
// (the authorization half of a charge, per-participant settlement rows).
type PaymentRepository interface {
	RecordAttempt(ctx context.Context, payment BookingPayment) error
	GetSucceededByIdempotencyKey(ctx context.Context, key string) (BookingPayment, error)
	ListPaymentsForBooking(ctx context.Context, bookingID string) ([]BookingPayment, error)
	ListPaymentsForParticipant(ctx context.Context, participantID string) ([]BookingPayment, error)
}

// TransitionRepository reads the append-only state transition log.
type TransitionRepository interface {
	ListTransitionsForBooking(ctx context.Context, bookingID string) ([]BookingStateTransition, error)
}

// SessionRepository stores authentication session state.
type SessionRepository interface {
	CreateSession(ctx context.Context, session Session) (Session, error)
	GetSession(ctx context.Context, tokenHash string) (Session, error)
	RevokeSession(ctx context.Context, tokenHash string, revokedAt time.Time) (Session, error)
	DeleteExpiredSessions(ctx context.Context, reference time.Time) error
}
