package persistence

import "time"

// Account represents a coach or client account in the marketplace domain.
type Account struct {
	ID           string
	Email        string
	DisplayName  string
	PasswordHash string
	IsCoach      bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Location describes where a booked session takes place.
type Location struct {
	Name    string
	Address *string
	Notes   *string
}

// Booking represents one booking row regardless of type. The status axes
// are independent; the legal combinations are owned by the state machine.
type Booking struct {
	ID                 string
	Type               string
	CoachID            string
	ApprovalStatus     string
	FulfillmentStatus  string
	ScheduledStartAt   time.Time
	ScheduledEndAt     time.Time
	DurationMinutes    int
	Location           Location
	IdempotencyKey     string
	RespondBy          *time.Time
	CoachRespondedAt   *time.Time
	CancelledBy        *string
	CancelledAt        *time.Time
	CancellationReason *string
	LockedUntil        *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// PriceBreakdown splits a booking's price into its money components.
// All amounts are integer cents.
type PriceBreakdown struct {
	ClientChargeCents int64
	PlatformFeeCents  int64
	CoachPayoutCents  int64
	ProcessorFeeCents int64
}

// IndividualDetail extends an individual booking with its economics and
// payment state.
type IndividualDetail struct {
	BookingID     string
	ClientID      string
	Price         PriceBreakdown
	Currency      string
	PaymentStatus string
	PaymentDueAt  *time.Time
	GatewayRef    *string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// PrivateGroupDetail extends a private-group booking. The organizer pays
// the aggregate price for the whole group.
type PrivateGroupDetail struct {
	BookingID           string
	OrganizerID         string
	TotalParticipants   int
	PricePerPersonCents int64
	Price               PriceBreakdown
	Currency            string
	PaymentStatus       string
	PaymentDueAt        *time.Time
	GatewayRef          *string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// PublicGroupDetail extends a public-group booking with capacity state.
// The counters are maintained exclusively alongside participant status
// changes and must never be written independently.
type PublicGroupDetail struct {
	BookingID              string
	MaxParticipants        int
	MinParticipants        int
	PricePerPersonCents    int64
	Currency               string
	CapacityStatus         string
	CurrentParticipants    int
	AuthorizedParticipants int
	CapturedParticipants   int
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

// BookingDetail carries the type-specific payload for a booking. Exactly
// one field is non-nil, selected by the booking's Type.
type BookingDetail struct {
	Individual   *IndividualDetail
	PrivateGroup *PrivateGroupDetail
	PublicGroup  *PublicGroupDetail
}

// BookingParticipant represents one (booking, user) join record for a
// group booking. Public-group participants pay for themselves; private
// groups carry member rows settled by the organizer's payment.
type BookingParticipant struct {
	ID            string
	BookingID     string
	UserID        string
	Role          string
	Status        string
	PaymentStatus string
	GatewayRef    *string
	HoldExpiresAt *time.Time
	JoinedAt      *time.Time
	CancelledAt   *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// BookingPayment is an append-only record of one gateway attempt. Rows
// are never updated; each authorize, capture, release and refund writes
// a new row keyed by the gateway reference it acted on.
type BookingPayment struct {
	ID             string
	BookingID      string
	ParticipantID  *string
	PayerID        string
	Purpose        string
	AmountCents    int64
	Currency       string
	CaptureMethod  string
	GatewayRef     string
	IdempotencyKey string
	Status         string
	FailureCode    *string
	CreatedAt      time.Time
}

// BookingStateTransition is an append-only audit row recording a single
// status change, optionally scoped to one participant.
type BookingStateTransition struct {
	ID            string
	BookingID     string
	ParticipantID *string
	Event         string
	FromState     string
	ToState       string
	ActorID       *string
	ActorRelation string
	Reason        *string
	OccurredAt    time.Time
}

// Purposes recorded on BookingPayment rows.
const (
	PaymentPurposeAuthorization = "authorization"
	PaymentPurposeCharge        = "charge"
	PaymentPurposeCapture       = "capture"
	PaymentPurposeRelease       = "release"
	PaymentPurposeRefund        = "refund"
)

// Capture methods recorded on BookingPayment rows.
const (
	CaptureMethodAutomatic = "automatic"
	CaptureMethodManual    = "manual"
)

// Outcomes recorded on BookingPayment rows.
const (
	PaymentAttemptSucceeded = "succeeded"
	PaymentAttemptFailed    = "failed"
)

// Session represents an authentication session persisted for an account.
type Session struct {
	ID          string
	AccountID   string
	TokenHash   string
	Fingerprint string
	ExpiresAt   time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	RevokedAt   *time.Time
}
