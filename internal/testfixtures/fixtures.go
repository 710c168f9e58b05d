package testfixtures

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/example/coaching-marketplace/internal/application"
	"github.com/example/coaching-marketplace/internal/booking"
	"github.com/example/coaching-marketplace/internal/persistence"
	"github.com/example/coaching-marketplace/internal/scheduler"
)

var (
	accountCounter     uint64
	bookingCounter     uint64
	participantCounter uint64
	sessionCounter     uint64
)

var referenceTime = time.Date(2025, time.June, 2, 9, 0, 0, 0, time.UTC)

// ReferenceTime returns the canonical baseline timestamp used by fixtures.
// Booking windows generated from it sit two days in the future so creation
// guards pass against a clock seeded at the reference.
func ReferenceTime() time.Time {
	return referenceTime
}

// PriceFor mirrors the production fee split so tests can assert ledger
// amounts without repeating the arithmetic: the platform keeps 15% rounded
// down, the coach receives the remainder, and the processor estimate is
// 2.9% plus a flat 30 cents.
func PriceFor(clientChargeCents int64) persistence.PriceBreakdown {
	fee := clientChargeCents * 15 / 100
	return persistence.PriceBreakdown{
		ClientChargeCents: clientChargeCents,
		PlatformFeeCents:  fee,
		CoachPayoutCents:  clientChargeCents - fee,
		ProcessorFeeCents: clientChargeCents*29/1000 + 30,
	}
}

// ---------------------------- Account fixtures ----------------------------

// AccountFixture represents a deterministic account record that can be
// materialised for application, identity or persistence tests.
type AccountFixture struct {
	ID           string
	Email        string
	DisplayName  string
	PasswordHash string
	IsCoach      bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// AccountOption configures the generated account fixture.
type AccountOption func(*AccountFixture)

// NewAccountFixture returns a deterministic account fixture with optional overrides.
func NewAccountFixture(opts ...AccountOption) AccountFixture {
	idx := atomic.AddUint64(&accountCounter, 1)
	id := fmt.Sprintf("account-%03d", idx)
	created := referenceTime.Add(time.Duration(idx) * time.Minute)
	fixture := AccountFixture{
		ID:           id,
		Email:        fmt.Sprintf("%s@example.com", id),
		DisplayName:  fmt.Sprintf("Account %03d", idx),
		PasswordHash: fmt.Sprintf("argon2id$hash-%03d", idx),
		IsCoach:      false,
		CreatedAt:    created,
		UpdatedAt:    created,
	}
	for _, opt := range opts {
		opt(&fixture)
	}
	return fixture
}

// WithAccountID overrides the generated account ID.
func WithAccountID(id string) AccountOption {
	return func(f *AccountFixture) {
		f.ID = id
	}
}

// WithAccountEmail overrides the generated email address.
func WithAccountEmail(email string) AccountOption {
	return func(f *AccountFixture) {
		f.Email = email
	}
}

// WithAccountDisplayName overrides the generated display name.
func WithAccountDisplayName(name string) AccountOption {
	return func(f *AccountFixture) {
		f.DisplayName = name
	}
}

// WithAccountPasswordHash overrides the generated password hash.
func WithAccountPasswordHash(hash string) AccountOption {
	return func(f *AccountFixture) {
		f.PasswordHash = hash
	}
}

// WithAccountCoach sets the coach flag on the generated fixture.
func WithAccountCoach(isCoach bool) AccountOption {
	return func(f *AccountFixture) {
		f.IsCoach = isCoach
	}
}

// WithAccountTimestamps sets both created and updated timestamps on the fixture.
func WithAccountTimestamps(created, updated time.Time) AccountOption {
	return func(f *AccountFixture) {
		f.CreatedAt = created
		f.UpdatedAt = updated
	}
}

// Persistence returns the fixture as a persistence.Account value.
func (f AccountFixture) Persistence() persistence.Account {
	return persistence.Account{
		ID:           f.ID,
		Email:        f.Email,
		DisplayName:  f.DisplayName,
		PasswordHash: f.PasswordHash,
		IsCoach:      f.IsCoach,
		CreatedAt:    f.CreatedAt,
		UpdatedAt:    f.UpdatedAt,
	}
}

// Principal returns an application.Principal derived from the fixture.
func (f AccountFixture) Principal() application.Principal {
	return application.Principal{UserID: f.ID, IsCoach: f.IsCoach}
}

// ---------------------------- Booking fixtures ----------------------------

// BookingFixture represents a deterministic booking record of any type.
// Fields that apply to one variant only are ignored by the others.
type BookingFixture struct {
	ID                string
	Type              booking.Type
	CoachID           string
	PayerID           string
	MemberIDs         []string
	ApprovalStatus    booking.ApprovalStatus
	FulfillmentStatus booking.FulfillmentStatus
	Start             time.Time
	End               time.Time
	Location          persistence.Location
	Currency          string
	IdempotencyKey    string

	PriceCents          int64
	PricePerPersonCents int64

	MaxParticipants        int
	MinParticipants        int
	CapacityStatus         booking.CapacityStatus
	CurrentParticipants    int
	AuthorizedParticipants int
	CapturedParticipants   int

	PaymentStatus booking.PaymentStatus
	PaymentDueAt  *time.Time
	GatewayRef    *string

	RespondBy          *time.Time
	CoachRespondedAt   *time.Time
	CancelledBy        *string
	CancelledAt        *time.Time
	CancellationReason *string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// BookingOption configures the generated booking fixture.
type BookingOption func(*BookingFixture)

// NewBookingFixture returns a deterministic individual booking awaiting the
// coach's response. Options reshape it into accepted, paid or group
// variants.
func NewBookingFixture(opts ...BookingOption) BookingFixture {
	idx := atomic.AddUint64(&bookingCounter, 1)
	id := fmt.Sprintf("booking-%03d", idx)
	start := referenceTime.Add(48*time.Hour + time.Duration(idx)*time.Hour)
	respondBy := referenceTime.Add(24 * time.Hour)
	fixture := BookingFixture{
		ID:                id,
		Type:              booking.TypeIndividual,
		CoachID:           fmt.Sprintf("coach-%03d", idx),
		PayerID:           fmt.Sprintf("client-%03d", idx),
		ApprovalStatus:    booking.ApprovalPendingReview,
		FulfillmentStatus: booking.FulfillmentScheduled,
		Start:             start,
		End:               start.Add(time.Hour),
		Location:          persistence.Location{Name: "Studio A"},
		Currency:          "usd",
		IdempotencyKey:    fmt.Sprintf("create-%s", id),
		PriceCents:        8000,
		PaymentStatus:     booking.PaymentNotRequired,
		RespondBy:         &respondBy,
		CreatedAt:         referenceTime,
		UpdatedAt:         referenceTime,
	}
	for _, opt := range opts {
		opt(&fixture)
	}
	return fixture
}

// WithBookingID overrides the generated booking ID.
func WithBookingID(id string) BookingOption {
	return func(f *BookingFixture) {
		f.ID = id
	}
}

// WithBookingType sets the booking variant. Group variants receive sensible
// per-person pricing and capacity defaults when switching away from the
// individual baseline.
func WithBookingType(t booking.Type) BookingOption {
	return func(f *BookingFixture) {
		f.Type = t
		switch t {
		case booking.TypePrivateGroup:
			if f.PricePerPersonCents == 0 {
				f.PricePerPersonCents = 5000
			}
		case booking.TypePublicGroup:
			if f.PricePerPersonCents == 0 {
				f.PricePerPersonCents = 2500
			}
			if f.MaxParticipants == 0 {
				f.MaxParticipants = 8
			}
			if f.MinParticipants == 0 {
				f.MinParticipants = 1
			}
			if f.CapacityStatus == booking.CapacityNone {
				f.CapacityStatus = booking.CapacityOpen
			}
			f.ApprovalStatus = booking.ApprovalAccepted
			f.RespondBy = nil
		}
	}
}

// WithBookingCoach sets the coach account ID.
func WithBookingCoach(id string) BookingOption {
	return func(f *BookingFixture) {
		f.CoachID = id
	}
}

// WithBookingPayer sets the paying account: the client of an individual
// session or the organizer of a private group.
func WithBookingPayer(id string) BookingOption {
	return func(f *BookingFixture) {
		f.PayerID = id
	}
}

// WithBookingMembers sets the invited member IDs of a private group.
func WithBookingMembers(ids ...string) BookingOption {
	return func(f *BookingFixture) {
		f.MemberIDs = append([]string(nil), ids...)
	}
}

// WithBookingStatuses sets both status axes.
func WithBookingStatuses(approval booking.ApprovalStatus, fulfillment booking.FulfillmentStatus) BookingOption {
	return func(f *BookingFixture) {
		f.ApprovalStatus = approval
		f.FulfillmentStatus = fulfillment
	}
}

// WithBookingWindow sets the scheduled start and end times.
func WithBookingWindow(start, end time.Time) BookingOption {
	return func(f *BookingFixture) {
		f.Start = start
		f.End = end
	}
}

// WithBookingLocation sets the session location.
func WithBookingLocation(location persistence.Location) BookingOption {
	return func(f *BookingFixture) {
		f.Location = location
	}
}

// WithBookingCurrency sets the pricing currency.
func WithBookingCurrency(currency string) BookingOption {
	return func(f *BookingFixture) {
		f.Currency = currency
	}
}

// WithBookingIdempotencyKey overrides the creation idempotency key.
func WithBookingIdempotencyKey(key string) BookingOption {
	return func(f *BookingFixture) {
		f.IdempotencyKey = key
	}
}

// WithBookingPrice sets the full client charge of an individual session.
func WithBookingPrice(cents int64) BookingOption {
	return func(f *BookingFixture) {
		f.PriceCents = cents
	}
}

// WithBookingPricePerPerson sets the per-member price of a group session.
func WithBookingPricePerPerson(cents int64) BookingOption {
	return func(f *BookingFixture) {
		f.PricePerPersonCents = cents
	}
}

// WithBookingCapacity bounds a public group.
func WithBookingCapacity(max, min int) BookingOption {
	return func(f *BookingFixture) {
		f.MaxParticipants = max
		f.MinParticipants = min
	}
}

// WithBookingCapacityStatus sets the capacity axis of a public group.
func WithBookingCapacityStatus(status booking.CapacityStatus) BookingOption {
	return func(f *BookingFixture) {
		f.CapacityStatus = status
	}
}

// WithBookingSeatCounts sets the public-group participant counters.
func WithBookingSeatCounts(current, authorized, captured int) BookingOption {
	return func(f *BookingFixture) {
		f.CurrentParticipants = current
		f.AuthorizedParticipants = authorized
		f.CapturedParticipants = captured
	}
}

// WithBookingPaymentStatus sets the detail-row payment axis.
func WithBookingPaymentStatus(status booking.PaymentStatus) BookingOption {
	return func(f *BookingFixture) {
		f.PaymentStatus = status
	}
}

// WithBookingPaymentDueAt sets the payment deadline on the detail row.
func WithBookingPaymentDueAt(t time.Time) BookingOption {
	return func(f *BookingFixture) {
		due := t
		f.PaymentDueAt = &due
	}
}

// WithBookingGatewayRef sets the processor reference on the detail row.
func WithBookingGatewayRef(ref string) BookingOption {
	return func(f *BookingFixture) {
		value := ref
		f.GatewayRef = &value
	}
}

// WithBookingRespondBy sets the coach response deadline.
func WithBookingRespondBy(t time.Time) BookingOption {
	return func(f *BookingFixture) {
		deadline := t
		f.RespondBy = &deadline
	}
}

// WithoutBookingRespondBy clears the response deadline.
func WithoutBookingRespondBy() BookingOption {
	return func(f *BookingFixture) {
		f.RespondBy = nil
	}
}

// WithBookingCoachRespondedAt records when the coach answered.
func WithBookingCoachRespondedAt(t time.Time) BookingOption {
	return func(f *BookingFixture) {
		responded := t
		f.CoachRespondedAt = &responded
	}
}

// WithBookingCancelled records who cancelled the booking and when.
func WithBookingCancelled(by string, at time.Time, reason string) BookingOption {
	return func(f *BookingFixture) {
		actor := by
		cancelled := at
		f.CancelledBy = &actor
		f.CancelledAt = &cancelled
		if reason != "" {
			value := reason
			f.CancellationReason = &value
		}
	}
}

// WithBookingTimestamps sets both created and updated timestamps.
func WithBookingTimestamps(created, updated time.Time) BookingOption {
	return func(f *BookingFixture) {
		f.CreatedAt = created
		f.UpdatedAt = updated
	}
}

// Persistence returns the fixture as a persistence.Booking row.
func (f BookingFixture) Persistence() persistence.Booking {
	return persistence.Booking{
		ID:                 f.ID,
		Type:               string(f.Type),
		CoachID:            f.CoachID,
		ApprovalStatus:     string(f.ApprovalStatus),
		FulfillmentStatus:  string(f.FulfillmentStatus),
		ScheduledStartAt:   f.Start,
		ScheduledEndAt:     f.End,
		DurationMinutes:    int(f.End.Sub(f.Start) / time.Minute),
		Location:           f.Location,
		IdempotencyKey:     f.IdempotencyKey,
		RespondBy:          copyTimePtr(f.RespondBy),
		CoachRespondedAt:   copyTimePtr(f.CoachRespondedAt),
		CancelledBy:        copyStringPtr(f.CancelledBy),
		CancelledAt:        copyTimePtr(f.CancelledAt),
		CancellationReason: copyStringPtr(f.CancellationReason),
		CreatedAt:          f.CreatedAt,
		UpdatedAt:          f.UpdatedAt,
	}
}

// Detail returns the fixture's type-specific detail row.
func (f BookingFixture) Detail() persistence.BookingDetail {
	switch f.Type {
	case booking.TypePrivateGroup:
		total := len(f.MemberIDs) + 1
		return persistence.BookingDetail{PrivateGroup: &persistence.PrivateGroupDetail{
			BookingID:           f.ID,
			OrganizerID:         f.PayerID,
			TotalParticipants:   total,
			PricePerPersonCents: f.PricePerPersonCents,
			Price:               PriceFor(f.PricePerPersonCents * int64(total)),
			Currency:            f.Currency,
			PaymentStatus:       string(f.PaymentStatus),
			PaymentDueAt:        copyTimePtr(f.PaymentDueAt),
			GatewayRef:          copyStringPtr(f.GatewayRef),
			CreatedAt:           f.CreatedAt,
			UpdatedAt:           f.UpdatedAt,
		}}
	case booking.TypePublicGroup:
		return persistence.BookingDetail{PublicGroup: &persistence.PublicGroupDetail{
			BookingID:              f.ID,
			MaxParticipants:        f.MaxParticipants,
			MinParticipants:        f.MinParticipants,
			PricePerPersonCents:    f.PricePerPersonCents,
			Currency:               f.Currency,
			CapacityStatus:         string(f.CapacityStatus),
			CurrentParticipants:    f.CurrentParticipants,
			AuthorizedParticipants: f.AuthorizedParticipants,
			CapturedParticipants:   f.CapturedParticipants,
			CreatedAt:              f.CreatedAt,
			UpdatedAt:              f.UpdatedAt,
		}}
	default:
		return persistence.BookingDetail{Individual: &persistence.IndividualDetail{
			BookingID:     f.ID,
			ClientID:      f.PayerID,
			Price:         PriceFor(f.PriceCents),
			Currency:      f.Currency,
			PaymentStatus: string(f.PaymentStatus),
			PaymentDueAt:  copyTimePtr(f.PaymentDueAt),
			GatewayRef:    copyStringPtr(f.GatewayRef),
			CreatedAt:     f.CreatedAt,
			UpdatedAt:     f.UpdatedAt,
		}}
	}
}

// Input returns the fixture as an application.BookingInput for creation
// calls.
func (f BookingFixture) Input() application.BookingInput {
	return application.BookingInput{
		Type:                string(f.Type),
		CoachID:             f.CoachID,
		ScheduledStartAt:    f.Start,
		ScheduledEndAt:      f.End,
		Location:            f.Location,
		Currency:            f.Currency,
		IdempotencyKey:      f.IdempotencyKey,
		PriceCents:          f.PriceCents,
		PricePerPersonCents: f.PricePerPersonCents,
		MemberIDs:           append([]string(nil), f.MemberIDs...),
		MaxParticipants:     f.MaxParticipants,
		MinParticipants:     f.MinParticipants,
	}
}

// Session returns the fixture as a scheduler.Session for overlap checks.
func (f BookingFixture) Session() scheduler.Session {
	payers := make([]string, 0, len(f.MemberIDs)+1)
	if f.PayerID != "" {
		payers = append(payers, f.PayerID)
	}
	payers = append(payers, f.MemberIDs...)
	return scheduler.Session{
		ID:      f.ID,
		CoachID: f.CoachID,
		Payers:  payers,
		Start:   f.Start,
		End:     f.End,
	}
}

// -------------------------- Participant fixtures --------------------------

// ParticipantFixture represents a deterministic group participant row. The
// default is a public-group joiner occupying a seat with an authorized
// hold.
type ParticipantFixture struct {
	ID            string
	BookingID     string
	UserID        string
	Role          booking.ParticipantRole
	Status        booking.ParticipantStatus
	PaymentStatus booking.ParticipantPaymentStatus
	GatewayRef    *string
	HoldExpiresAt *time.Time
	JoinedAt      *time.Time
	CancelledAt   *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// ParticipantOption configures the generated participant fixture.
type ParticipantOption func(*ParticipantFixture)

// NewParticipantFixture returns a deterministic participant fixture with
// optional overrides.
func NewParticipantFixture(opts ...ParticipantOption) ParticipantFixture {
	idx := atomic.AddUint64(&participantCounter, 1)
	id := fmt.Sprintf("participant-%03d", idx)
	ref := fmt.Sprintf("hold-%03d", idx)
	holdExpiry := referenceTime.Add(72 * time.Hour)
	joined := referenceTime
	fixture := ParticipantFixture{
		ID:            id,
		BookingID:     fmt.Sprintf("booking-%03d", idx),
		UserID:        fmt.Sprintf("client-%03d", idx),
		Role:          booking.RoleParticipant,
		Status:        booking.ParticipantAwaitingCoach,
		PaymentStatus: booking.ParticipantPaymentAuthorized,
		GatewayRef:    &ref,
		HoldExpiresAt: &holdExpiry,
		JoinedAt:      &joined,
		CreatedAt:     referenceTime,
		UpdatedAt:     referenceTime,
	}
	for _, opt := range opts {
		opt(&fixture)
	}
	return fixture
}

// WithParticipantID overrides the generated participant ID.
func WithParticipantID(id string) ParticipantOption {
	return func(f *ParticipantFixture) {
		f.ID = id
	}
}

// WithParticipantBooking sets the parent booking ID.
func WithParticipantBooking(bookingID string) ParticipantOption {
	return func(f *ParticipantFixture) {
		f.BookingID = bookingID
	}
}

// WithParticipantUser sets the participating account ID.
func WithParticipantUser(userID string) ParticipantOption {
	return func(f *ParticipantFixture) {
		f.UserID = userID
	}
}

// WithParticipantRole sets the participant role.
func WithParticipantRole(role booking.ParticipantRole) ParticipantOption {
	return func(f *ParticipantFixture) {
		f.Role = role
	}
}

// WithParticipantStatuses sets both participant status axes.
func WithParticipantStatuses(status booking.ParticipantStatus, payment booking.ParticipantPaymentStatus) ParticipantOption {
	return func(f *ParticipantFixture) {
		f.Status = status
		f.PaymentStatus = payment
	}
}

// WithParticipantGatewayRef sets the processor hold reference.
func WithParticipantGatewayRef(ref string) ParticipantOption {
	return func(f *ParticipantFixture) {
		value := ref
		f.GatewayRef = &value
	}
}

// WithoutParticipantHold clears the hold reference and its expiry, leaving
// a row whose authorization has not happened yet.
func WithoutParticipantHold() ParticipantOption {
	return func(f *ParticipantFixture) {
		f.GatewayRef = nil
		f.HoldExpiresAt = nil
	}
}

// WithParticipantHoldExpiry sets the authorization hold deadline.
func WithParticipantHoldExpiry(t time.Time) ParticipantOption {
	return func(f *ParticipantFixture) {
		expiry := t
		f.HoldExpiresAt = &expiry
	}
}

// WithParticipantJoinedAt sets the join timestamp.
func WithParticipantJoinedAt(t time.Time) ParticipantOption {
	return func(f *ParticipantFixture) {
		joined := t
		f.JoinedAt = &joined
	}
}

// WithParticipantCancelledAt sets the cancellation timestamp.
func WithParticipantCancelledAt(t time.Time) ParticipantOption {
	return func(f *ParticipantFixture) {
		cancelled := t
		f.CancelledAt = &cancelled
	}
}

// WithParticipantTimestamps sets both created and updated timestamps.
func WithParticipantTimestamps(created, updated time.Time) ParticipantOption {
	return func(f *ParticipantFixture) {
		f.CreatedAt = created
		f.UpdatedAt = updated
	}
}

// Persistence returns the fixture as a persistence.BookingParticipant value.
func (f ParticipantFixture) Persistence() persistence.BookingParticipant {
	return persistence.BookingParticipant{
		ID:            f.ID,
		BookingID:     f.BookingID,
		UserID:        f.UserID,
		Role:          string(f.Role),
		Status:        string(f.Status),
		PaymentStatus: string(f.PaymentStatus),
		GatewayRef:    copyStringPtr(f.GatewayRef),
		HoldExpiresAt: copyTimePtr(f.HoldExpiresAt),
		JoinedAt:      copyTimePtr(f.JoinedAt),
		CancelledAt:   copyTimePtr(f.CancelledAt),
		CreatedAt:     f.CreatedAt,
		UpdatedAt:     f.UpdatedAt,
	}
}

// ---------------------------- Session fixtures ----------------------------

// SessionFixture represents a deterministic authentication session record.
type SessionFixture struct {
	ID          string
	AccountID   string
	TokenHash   string
	Fingerprint string
	ExpiresAt   time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	RevokedAt   *time.Time
}

// SessionOption configures the generated session fixture.
type SessionOption func(*SessionFixture)

// NewSessionFixture returns a deterministic session fixture with optional overrides.
func NewSessionFixture(opts ...SessionOption) SessionFixture {
	idx := atomic.AddUint64(&sessionCounter, 1)
	id := fmt.Sprintf("session-%03d", idx)
	fixture := SessionFixture{
		ID:          id,
		AccountID:   fmt.Sprintf("account-%03d", idx),
		TokenHash:   fmt.Sprintf("tokenhash-%03d", idx),
		Fingerprint: fmt.Sprintf("fingerprint-%03d", idx),
		ExpiresAt:   referenceTime.Add(24 * time.Hour),
		CreatedAt:   referenceTime,
		UpdatedAt:   referenceTime,
	}
	for _, opt := range opts {
		opt(&fixture)
	}
	return fixture
}

// WithSessionID overrides the session ID.
func WithSessionID(id string) SessionOption {
	return func(f *SessionFixture) {
		f.ID = id
	}
}

// WithSessionAccount sets the owning account ID.
func WithSessionAccount(id string) SessionOption {
	return func(f *SessionFixture) {
		f.AccountID = id
	}
}

// WithSessionTokenHash overrides the stored token hash.
func WithSessionTokenHash(hash string) SessionOption {
	return func(f *SessionFixture) {
		f.TokenHash = hash
	}
}

// WithSessionFingerprint sets the session fingerprint.
func WithSessionFingerprint(fp string) SessionOption {
	return func(f *SessionFixture) {
		f.Fingerprint = fp
	}
}

// WithSessionExpiresAt sets the expiration timestamp.
func WithSessionExpiresAt(t time.Time) SessionOption {
	return func(f *SessionFixture) {
		f.ExpiresAt = t
	}
}

// WithSessionRevokedAt sets the optional revoked timestamp.
func WithSessionRevokedAt(t time.Time) SessionOption {
	return func(f *SessionFixture) {
		revoked := t
		f.RevokedAt = &revoked
	}
}

// WithSessionTimestamps sets both created and updated timestamps.
func WithSessionTimestamps(created, updated time.Time) SessionOption {
	return func(f *SessionFixture) {
		f.CreatedAt = created
		f.UpdatedAt = updated
	}
}

// Persistence returns the fixture as a persistence.Session value.
func (f SessionFixture) Persistence() persistence.Session {
	return persistence.Session{
		ID:          f.ID,
		AccountID:   f.AccountID,
		TokenHash:   f.TokenHash,
		Fingerprint: f.Fingerprint,
		ExpiresAt:   f.ExpiresAt,
		CreatedAt:   f.CreatedAt,
		UpdatedAt:   f.UpdatedAt,
		RevokedAt:   copyTimePtr(f.RevokedAt),
	}
}

// helpers to deep copy optional fields.
func copyStringPtr(src *string) *string {
	if src == nil {
		return nil
	}
	value := *src
	return &value
}

func copyTimePtr(src *time.Time) *time.Time {
	if src == nil {
		return nil
	}
	value := *src
	return &value
}
