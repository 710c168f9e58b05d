package application

import (
	"time"

	"github.com/example/coaching-marketplace/internal/persistence"
)

// Principal represents the authenticated caller invoking a service method.
// IsService marks sweeper and operator tokens; their actions are attributed
// to the system actor.
type Principal struct {
	UserID    string
	IsCoach   bool
	IsService bool
}

// BookingInput captures caller provided booking fields.
type BookingInput struct {
	Type             string
	CoachID          string
	ScheduledStartAt time.Time
	ScheduledEndAt   time.Time
	Location         persistence.Location
	Currency         string
	IdempotencyKey   string

	// PriceCents is the full client charge for an individual session.
	PriceCents int64
	// PricePerPersonCents prices each member of a group session.
	PricePerPersonCents int64

	// MemberIDs invites the named accounts to a private group. The
	// organizer is not listed; their row is created implicitly.
	MemberIDs []string

	// MaxParticipants and MinParticipants bound a public group.
	MaxParticipants int
	MinParticipants int
}

// BookingResult bundles a booking row with its type-specific detail.
type BookingResult struct {
	Booking persistence.Booking
	Detail  persistence.BookingDetail
}

// OverlapWarning flags a session of the same coach or the same payer
// occupying an intersecting time window. Warnings are advisory; they never
// block a write.
type OverlapWarning struct {
	BookingID string
	Type      string
	CoachID   string
	PayerID   string
}

// CreateBookingParams wraps the data required to create a booking.
type CreateBookingParams struct {
	Principal Principal
	Input     BookingInput
}

// CoachRespondParams wraps a coach's accept or decline. ParticipantID
// targets one public-group participant; nil addresses the booking itself.
// Note, when provided, is recorded on the audit transition.
type CoachRespondParams struct {
	Principal     Principal
	BookingID     string
	ParticipantID *string
	Accept        bool
	Note          string
}

// SubmitPaymentParams wraps a payer's payment submission for an accepted
// individual or private-group booking.
type SubmitPaymentParams struct {
	Principal Principal
	BookingID string
	CardToken string
}

// SubmitPaymentResult reports the captured charge.
type SubmitPaymentResult struct {
	Booking    persistence.Booking
	Detail     persistence.BookingDetail
	GatewayRef string
}

// JoinPublicGroupParams wraps a client's request to join a published group
// session. The same call resumes a join whose authorization previously
// failed.
type JoinPublicGroupParams struct {
	Principal Principal
	BookingID string
	CardToken string
}

// JoinPublicGroupResult reports the participant row and its authorization
// hold. ClientSecret is non-empty when the processor requires follow-up
// authentication on the payer's client.
type JoinPublicGroupResult struct {
	Participant  persistence.BookingParticipant
	GatewayRef   string
	ClientSecret string
}

// CancelParams wraps a cancellation. ParticipantID cancels one seat of a
// public group; nil cancels the booking itself.
type CancelParams struct {
	Principal     Principal
	BookingID     string
	ParticipantID *string
}

// MarkCompleteParams wraps the completion of an elapsed booking.
type MarkCompleteParams struct {
	Principal Principal
	BookingID string
}

// DisputeParams wraps a dispute against a paid booking.
type DisputeParams struct {
	Principal Principal
	BookingID string
}

// ListPeriod identifies the range preset requested for booking listings.
type ListPeriod string

const (
	// ListPeriodNone indicates no preset; caller supplied explicit bounds.
	ListPeriodNone ListPeriod = ""
	// ListPeriodDay constrains results to a single UTC day.
	ListPeriodDay ListPeriod = "day"
	// ListPeriodWeek constrains results to the Monday-start week containing the reference time.
	ListPeriodWeek ListPeriod = "week"
	// ListPeriodMonth constrains results to the month containing the reference time.
	ListPeriodMonth ListPeriod = "month"
)

// ListBookingsParams wraps the data required to list bookings visible to
// the principal.
type ListBookingsParams struct {
	Principal       Principal
	Type            *string
	Approval        *string
	StartsAfter     *time.Time
	EndsBefore      *time.Time
	Period          ListPeriod
	PeriodReference time.Time
}
