package sqlite

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/example/coaching-marketplace/internal/booking"
	"github.com/example/coaching-marketplace/internal/persistence"
)

// Storage provides an in-memory implementation of every repository
// interface with the same error contract as the SQL-backed ones. It
// backs test fixtures and service tests where a database is overhead.
type Storage struct {
	mu                  sync.RWMutex
	accounts            map[string]persistence.Account
	bookings            map[string]persistence.Booking
	individualDetails   map[string]persistence.IndividualDetail
	privateGroupDetails map[string]persistence.PrivateGroupDetail
	publicGroupDetails  map[string]persistence.PublicGroupDetail
	participants        map[string]persistence.BookingParticipant
	payments            []persistence.BookingPayment
	transitions         []persistence.BookingStateTransition
	sessions            map[string]persistence.Session
}

// NewStorage returns an empty in-memory storage.
func NewStorage() *Storage {
	return &Storage{
		accounts:            make(map[string]persistence.Account),
		bookings:            make(map[string]persistence.Booking),
		individualDetails:   make(map[string]persistence.IndividualDetail),
		privateGroupDetails: make(map[string]persistence.PrivateGroupDetail),
		publicGroupDetails:  make(map[string]persistence.PublicGroupDetail),
		participants:        make(map[string]persistence.BookingParticipant),
		sessions:            make(map[string]persistence.Session),
	}
}

// --- AccountRepository implementation ---

// CreateAccount stores a new account.
func (s *Storage) CreateAccount(ctx context.Context, account persistence.Account) error {
	if account.ID == "" || account.PasswordHash == "" {
		return persistence.ErrConstraintViolation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[account.ID]; ok {
		return persistence.ErrDuplicate
	}

	account.Email = normalizeEmail(account.Email)
	if s.emailTakenLocked(account.ID, account.Email) {
		return persistence.ErrDuplicate
	}

	now := time.Now().UTC()
	account.CreatedAt = now
	account.UpdatedAt = now

	s.accounts[account.ID] = account
	return nil
}

// UpdateAccount updates an existing account.
func (s *Storage) UpdateAccount(ctx context.Context, account persistence.Account) error {
	if account.ID == "" || account.PasswordHash == "" {
		return persistence.ErrConstraintViolation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.accounts[account.ID]
	if !ok {
		return persistence.ErrNotFound
	}

	account.Email = normalizeEmail(account.Email)
	if s.emailTakenLocked(account.ID, account.Email) {
		return persistence.ErrDuplicate
	}

	account.CreatedAt = existing.CreatedAt
	account.UpdatedAt = time.Now().UTC()

	s.accounts[account.ID] = account
	return nil
}

// GetAccount retrieves an account by ID.
func (s *Storage) GetAccount(ctx context.Context, id string) (persistence.Account, error) {
	if id == "" {
		return persistence.Account{}, persistence.ErrNotFound
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	account, ok := s.accounts[id]
	if !ok {
		return persistence.Account{}, persistence.ErrNotFound
	}

	return account, nil
}

// GetAccountByEmail retrieves an account by email address.
func (s *Storage) GetAccountByEmail(ctx context.Context, email string) (persistence.Account, error) {
	if email == "" {
		return persistence.Account{}, persistence.ErrNotFound
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	normalized := normalizeEmail(email)
	for _, account := range s.accounts {
		if account.Email == normalized {
			return account, nil
		}
	}

	return persistence.Account{}, persistence.ErrNotFound
}

// ListAccounts returns all accounts ordered by CreatedAt ascending.
func (s *Storage) ListAccounts(ctx context.Context) ([]persistence.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	accounts := make([]persistence.Account, 0, len(s.accounts))
	for _, account := range s.accounts {
		accounts = append(accounts, account)
	}

	sort.Slice(accounts, func(i, j int) bool {
		if accounts[i].CreatedAt.Equal(accounts[j].CreatedAt) {
			return accounts[i].ID < accounts[j].ID
		}
		return accounts[i].CreatedAt.Before(accounts[j].CreatedAt)
	})

	return accounts, nil
}

func (s *Storage) emailTakenLocked(id, email string) bool {
	for existingID, account := range s.accounts {
		if existingID == id {
			continue
		}
		if account.Email == email {
			return true
		}
	}
	return false
}

// --- BookingRepository implementation ---

// CreateBooking stores a booking with its detail row and creation transition.
func (s *Storage) CreateBooking(ctx context.Context, b persistence.Booking, detail persistence.BookingDetail, transition persistence.BookingStateTransition) error {
	if b.ID == "" || b.CoachID == "" || b.IdempotencyKey == "" {
		return persistence.ErrConstraintViolation
	}
	if !b.ScheduledEndAt.After(b.ScheduledStartAt) {
		return persistence.ErrConstraintViolation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.bookings[b.ID]; ok {
		return persistence.ErrDuplicate
	}
	for _, existing := range s.bookings {
		if existing.IdempotencyKey == b.IdempotencyKey {
			return persistence.ErrDuplicate
		}
	}
	if _, ok := s.accounts[b.CoachID]; !ok {
		return persistence.ErrForeignKeyViolation
	}

	now := time.Now().UTC()
	b.CreatedAt = now
	b.UpdatedAt = now

	switch b.Type {
	case string(booking.TypeIndividual):
		if detail.Individual == nil {
			return persistence.ErrConstraintViolation
		}
		d := *detail.Individual
		d.BookingID = b.ID
		d.CreatedAt = now
		d.UpdatedAt = now
		s.individualDetails[b.ID] = d

	case string(booking.TypePrivateGroup):
		if detail.PrivateGroup == nil {
			return persistence.ErrConstraintViolation
		}
		d := *detail.PrivateGroup
		d.BookingID = b.ID
		d.CreatedAt = now
		d.UpdatedAt = now
		s.privateGroupDetails[b.ID] = d

	case string(booking.TypePublicGroup):
		if detail.PublicGroup == nil {
			return persistence.ErrConstraintViolation
		}
		d := *detail.PublicGroup
		d.BookingID = b.ID
		d.CreatedAt = now
		d.UpdatedAt = now
		s.publicGroupDetails[b.ID] = d

	default:
		return persistence.ErrConstraintViolation
	}

	s.bookings[b.ID] = b

	transition.BookingID = b.ID
	if transition.OccurredAt.IsZero() {
		transition.OccurredAt = now
	}
	s.transitions = append(s.transitions, transition)

	return nil
}

// GetBooking retrieves a booking by ID.
func (s *Storage) GetBooking(ctx context.Context, id string) (persistence.Booking, error) {
	if id == "" {
		return persistence.Booking{}, persistence.ErrNotFound
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.bookings[id]
	if !ok {
		return persistence.Booking{}, persistence.ErrNotFound
	}

	return b, nil
}

// GetBookingByIdempotencyKey retrieves a booking by its creation key.
func (s *Storage) GetBookingByIdempotencyKey(ctx context.Context, key string) (persistence.Booking, error) {
	if key == "" {
		return persistence.Booking{}, persistence.ErrNotFound
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, b := range s.bookings {
		if b.IdempotencyKey == key {
			return b, nil
		}
	}

	return persistence.Booking{}, persistence.ErrNotFound
}

// GetBookingDetail loads the detail row matching the booking's type.
func (s *Storage) GetBookingDetail(ctx context.Context, id string) (persistence.BookingDetail, error) {
	if id == "" {
		return persistence.BookingDetail{}, persistence.ErrNotFound
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.bookings[id]
	if !ok {
		return persistence.BookingDetail{}, persistence.ErrNotFound
	}

	switch b.Type {
	case string(booking.TypeIndividual):
		if d, ok := s.individualDetails[id]; ok {
			return persistence.BookingDetail{Individual: &d}, nil
		}
	case string(booking.TypePrivateGroup):
		if d, ok := s.privateGroupDetails[id]; ok {
			return persistence.BookingDetail{PrivateGroup: &d}, nil
		}
	case string(booking.TypePublicGroup):
		if d, ok := s.publicGroupDetails[id]; ok {
			return persistence.BookingDetail{PublicGroup: &d}, nil
		}
	}

	return persistence.BookingDetail{}, persistence.ErrNotFound
}

// ListBookings returns bookings matching the filter ordered by start time.
func (s *Storage) ListBookings(ctx context.Context, filter persistence.BookingFilter) ([]persistence.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bookings := make([]persistence.Booking, 0)
	for _, b := range s.bookings {
		if !s.matchesBookingFilterLocked(b, filter) {
			continue
		}
		bookings = append(bookings, b)
	}

	sort.Slice(bookings, func(i, j int) bool {
		if bookings[i].ScheduledStartAt.Equal(bookings[j].ScheduledStartAt) {
			return bookings[i].ID < bookings[j].ID
		}
		return bookings[i].ScheduledStartAt.Before(bookings[j].ScheduledStartAt)
	})

	return bookings, nil
}

func (s *Storage) matchesBookingFilterLocked(b persistence.Booking, filter persistence.BookingFilter) bool {
	if filter.CoachID != nil && b.CoachID != *filter.CoachID {
		return false
	}
	if filter.Type != nil && b.Type != *filter.Type {
		return false
	}
	if filter.Approval != nil && b.ApprovalStatus != *filter.Approval {
		return false
	}
	if filter.StartsAfter != nil && !b.ScheduledEndAt.After(*filter.StartsAfter) {
		return false
	}
	if filter.EndsBefore != nil && !b.ScheduledStartAt.Before(*filter.EndsBefore) {
		return false
	}
	if filter.PayerID != nil && !s.paysForLocked(b.ID, *filter.PayerID) {
		return false
	}
	return true
}

func (s *Storage) paysForLocked(bookingID, userID string) bool {
	if d, ok := s.individualDetails[bookingID]; ok && d.ClientID == userID {
		return true
	}
	if d, ok := s.privateGroupDetails[bookingID]; ok && d.OrganizerID == userID {
		return true
	}
	for _, p := range s.participants {
		if p.BookingID == bookingID && p.UserID == userID {
			return true
		}
	}
	return false
}

// ApplyMutation applies one transition's row set atomically. All checks
// run before any map is written so a failing guard leaves no trace.
func (s *Storage) ApplyMutation(ctx context.Context, m persistence.BookingMutation) error {
	if m.BookingID == "" {
		return persistence.ErrConstraintViolation
	}

	now := m.Now
	if now.IsZero() {
		now = time.Now()
	}
	now = now.UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.bookings[m.BookingID]
	if !ok {
		return persistence.ErrNotFound
	}

	bookingDirty := false
	if m.Booking != nil {
		change := m.Booking
		if b.ApprovalStatus != change.ExpectApproval || b.FulfillmentStatus != change.ExpectFulfillment {
			return persistence.ErrStaleState
		}
		if change.SetApproval != nil {
			b.ApprovalStatus = *change.SetApproval
		}
		if change.SetFulfillment != nil {
			b.FulfillmentStatus = *change.SetFulfillment
		}
		if change.SetCoachRespondedAt != nil {
			t := change.SetCoachRespondedAt.UTC()
			b.CoachRespondedAt = &t
		}
		if change.SetCancelledBy != nil {
			v := *change.SetCancelledBy
			b.CancelledBy = &v
		}
		if change.SetCancelledAt != nil {
			t := change.SetCancelledAt.UTC()
			b.CancelledAt = &t
		}
		if change.SetCancellationReason != nil {
			v := *change.SetCancellationReason
			b.CancellationReason = &v
		}
		if change.ClearLock {
			b.LockedUntil = nil
		}
		b.UpdatedAt = now
		bookingDirty = true
	}

	stagedParticipants := make(map[string]persistence.BookingParticipant)
	var publicDetail persistence.PublicGroupDetail
	publicDetailDirty := false

	// Cascade entries read through the stage so a failed guard leaves
	// the maps untouched.
	applyParticipant := func(change *persistence.ParticipantChange) error {
		p, ok := stagedParticipants[change.ID]
		if !ok {
			p, ok = s.participants[change.ID]
			if !ok {
				return persistence.ErrNotFound
			}
		}
		if p.BookingID != m.BookingID || p.Status != change.ExpectStatus || p.PaymentStatus != change.ExpectPayment {
			return persistence.ErrStaleState
		}

		p.Status = change.SetStatus
		p.PaymentStatus = change.SetPayment
		if change.SetGatewayRef != nil {
			v := *change.SetGatewayRef
			p.GatewayRef = &v
		}
		if change.SetHoldExpiresAt != nil {
			t := change.SetHoldExpiresAt.UTC()
			p.HoldExpiresAt = &t
		} else if change.ClearHoldExpiresAt {
			p.HoldExpiresAt = nil
		}
		if change.SetJoinedAt != nil {
			t := change.SetJoinedAt.UTC()
			p.JoinedAt = &t
		}
		if change.SetCancelledAt != nil {
			t := change.SetCancelledAt.UTC()
			p.CancelledAt = &t
		}
		p.UpdatedAt = now
		stagedParticipants[change.ID] = p

		if b.Type != string(booking.TypePublicGroup) {
			return nil
		}
		current, authorized, captured := booking.CounterDeltas(
			booking.ParticipantStatus(change.ExpectStatus),
			booking.ParticipantStatus(change.SetStatus),
			booking.ParticipantPaymentStatus(change.ExpectPayment),
			booking.ParticipantPaymentStatus(change.SetPayment),
		)
		if current == 0 && authorized == 0 && captured == 0 {
			return nil
		}
		d := publicDetail
		if !publicDetailDirty {
			d, ok = s.publicGroupDetails[m.BookingID]
			if !ok {
				return persistence.ErrNotFound
			}
		}
		if current > 0 {
			if d.CapacityStatus != string(booking.CapacityOpen) || d.CurrentParticipants+current > d.MaxParticipants {
				return persistence.ErrCapacityExhausted
			}
		}
		d.CurrentParticipants += current
		d.AuthorizedParticipants += authorized
		d.CapturedParticipants += captured
		if d.CapacityStatus != string(booking.CapacityClosed) {
			if d.CurrentParticipants >= d.MaxParticipants {
				d.CapacityStatus = string(booking.CapacityFull)
			} else {
				d.CapacityStatus = string(booking.CapacityOpen)
			}
		}
		d.UpdatedAt = now
		publicDetail = d
		publicDetailDirty = true
		return nil
	}

	if m.Participant != nil {
		if err := applyParticipant(m.Participant); err != nil {
			return err
		}
	}
	for i := range m.Cascade {
		if err := applyParticipant(&m.Cascade[i]); err != nil {
			return err
		}
	}

	var individualDetail persistence.IndividualDetail
	var privateDetail persistence.PrivateGroupDetail
	individualDirty := false
	privateDirty := false

	if m.Detail != nil {
		change := m.Detail

		switch b.Type {
		case string(booking.TypeIndividual):
			if change.SetCapacityStatus != nil {
				return persistence.ErrConstraintViolation
			}
			d, ok := s.individualDetails[m.BookingID]
			if !ok {
				return persistence.ErrNotFound
			}
			if change.SetPaymentStatus != nil {
				d.PaymentStatus = *change.SetPaymentStatus
			}
			if change.SetPaymentDueAt != nil {
				t := change.SetPaymentDueAt.UTC()
				d.PaymentDueAt = &t
			} else if change.ClearPaymentDueAt {
				d.PaymentDueAt = nil
			}
			if change.SetGatewayRef != nil {
				v := *change.SetGatewayRef
				d.GatewayRef = &v
			}
			d.UpdatedAt = now
			individualDetail = d
			individualDirty = true

		case string(booking.TypePrivateGroup):
			if change.SetCapacityStatus != nil {
				return persistence.ErrConstraintViolation
			}
			d, ok := s.privateGroupDetails[m.BookingID]
			if !ok {
				return persistence.ErrNotFound
			}
			if change.SetPaymentStatus != nil {
				d.PaymentStatus = *change.SetPaymentStatus
			}
			if change.SetPaymentDueAt != nil {
				t := change.SetPaymentDueAt.UTC()
				d.PaymentDueAt = &t
			} else if change.ClearPaymentDueAt {
				d.PaymentDueAt = nil
			}
			if change.SetGatewayRef != nil {
				v := *change.SetGatewayRef
				d.GatewayRef = &v
			}
			d.UpdatedAt = now
			privateDetail = d
			privateDirty = true

		case string(booking.TypePublicGroup):
			if change.SetPaymentStatus != nil || change.SetGatewayRef != nil {
				return persistence.ErrConstraintViolation
			}
			d := publicDetail
			if !publicDetailDirty {
				var ok bool
				d, ok = s.publicGroupDetails[m.BookingID]
				if !ok {
					return persistence.ErrNotFound
				}
			}
			if change.SetCapacityStatus != nil {
				d.CapacityStatus = *change.SetCapacityStatus
			}
			d.UpdatedAt = now
			publicDetail = d
			publicDetailDirty = true
		}
	}

	newPayments := make([]persistence.BookingPayment, 0, len(m.Payments))
	for _, payment := range m.Payments {
		payment.BookingID = m.BookingID
		if payment.CreatedAt.IsZero() {
			payment.CreatedAt = now
		}
		if err := s.checkPaymentLocked(payment); err != nil {
			return err
		}
		newPayments = append(newPayments, payment)
	}

	newTransitions := make([]persistence.BookingStateTransition, 0, len(m.Transitions))
	for _, transition := range m.Transitions {
		transition.BookingID = m.BookingID
		if transition.OccurredAt.IsZero() {
			transition.OccurredAt = now
		}
		newTransitions = append(newTransitions, transition)
	}

	if bookingDirty {
		s.bookings[m.BookingID] = b
	}
	for id, p := range stagedParticipants {
		s.participants[id] = p
	}
	if individualDirty {
		s.individualDetails[m.BookingID] = individualDetail
	}
	if privateDirty {
		s.privateGroupDetails[m.BookingID] = privateDetail
	}
	if publicDetailDirty {
		s.publicGroupDetails[m.BookingID] = publicDetail
	}
	s.payments = append(s.payments, newPayments...)
	s.transitions = append(s.transitions, newTransitions...)

	return nil
}

// AcquireLock takes the booking's advisory lock until the deadline.
func (s *Storage) AcquireLock(ctx context.Context, id string, now, until time.Time) error {
	if id == "" {
		return persistence.ErrNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.bookings[id]
	if !ok {
		return persistence.ErrNotFound
	}

	if b.LockedUntil != nil && b.LockedUntil.After(now) {
		return persistence.ErrLockHeld
	}

	untilUTC := until.UTC()
	b.LockedUntil = &untilUTC
	s.bookings[id] = b
	return nil
}

// ReleaseLock clears the booking's advisory lock.
func (s *Storage) ReleaseLock(ctx context.Context, id string) error {
	if id == "" {
		return persistence.ErrNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.bookings[id]
	if !ok {
		return persistence.ErrNotFound
	}

	b.LockedUntil = nil
	s.bookings[id] = b
	return nil
}

// dueRecord pairs a booking ID with the deadline that selected it so
// sweep results sort deterministically.
type dueRecord struct {
	id string
	at time.Time
}

// ListUnansweredPastDeadline returns pending bookings past their response window.
func (s *Storage) ListUnansweredPastDeadline(ctx context.Context, now time.Time, limit int) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matches []dueRecord

	for _, b := range s.bookings {
		if b.ApprovalStatus != string(booking.ApprovalPendingReview) {
			continue
		}
		if b.RespondBy == nil || b.RespondBy.After(now) {
			continue
		}
		matches = append(matches, dueRecord{id: b.ID, at: *b.RespondBy})
	}

	return sortAndLimitDue(matches, limit), nil
}

// ListUnpaidPastDeadline returns accepted bookings whose payment deadline
// elapsed without a capture.
func (s *Storage) ListUnpaidPastDeadline(ctx context.Context, now time.Time, limit int) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matches []dueRecord

	appendDue := func(bookingID string, paymentStatus string, dueAt *time.Time) {
		b, ok := s.bookings[bookingID]
		if !ok || b.ApprovalStatus != string(booking.ApprovalAccepted) {
			return
		}
		if paymentStatus != string(booking.PaymentAwaitingClient) && paymentStatus != string(booking.PaymentAuthorized) {
			return
		}
		if dueAt == nil || dueAt.After(now) {
			return
		}
		matches = append(matches, dueRecord{id: bookingID, at: *dueAt})
	}

	for id, d := range s.individualDetails {
		appendDue(id, d.PaymentStatus, d.PaymentDueAt)
	}
	for id, d := range s.privateGroupDetails {
		appendDue(id, d.PaymentStatus, d.PaymentDueAt)
	}

	return sortAndLimitDue(matches, limit), nil
}

// ListElapsedUncompleted returns accepted, still-scheduled bookings whose
// scheduled end has passed.
func (s *Storage) ListElapsedUncompleted(ctx context.Context, now time.Time, limit int) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matches []dueRecord

	for _, b := range s.bookings {
		if b.ApprovalStatus != string(booking.ApprovalAccepted) {
			continue
		}
		if b.FulfillmentStatus != string(booking.FulfillmentScheduled) {
			continue
		}
		if b.ScheduledEndAt.After(now) {
			continue
		}
		matches = append(matches, dueRecord{id: b.ID, at: b.ScheduledEndAt})
	}

	return sortAndLimitDue(matches, limit), nil
}

// --- ParticipantRepository implementation ---

// CreateParticipant stores a participant row with its creation transition.
func (s *Storage) CreateParticipant(ctx context.Context, p persistence.BookingParticipant, transition persistence.BookingStateTransition) error {
	if p.ID == "" || p.BookingID == "" || p.UserID == "" {
		return persistence.ErrConstraintViolation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.participants[p.ID]; ok {
		return persistence.ErrDuplicate
	}
	for _, existing := range s.participants {
		if existing.BookingID == p.BookingID && existing.UserID == p.UserID {
			return persistence.ErrDuplicate
		}
	}
	if _, ok := s.bookings[p.BookingID]; !ok {
		return persistence.ErrForeignKeyViolation
	}
	if _, ok := s.accounts[p.UserID]; !ok {
		return persistence.ErrForeignKeyViolation
	}

	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now
	s.participants[p.ID] = p

	transition.BookingID = p.BookingID
	if transition.ParticipantID == nil {
		id := p.ID
		transition.ParticipantID = &id
	}
	if transition.OccurredAt.IsZero() {
		transition.OccurredAt = now
	}
	s.transitions = append(s.transitions, transition)

	return nil
}

// GetParticipant retrieves a participant by ID.
func (s *Storage) GetParticipant(ctx context.Context, id string) (persistence.BookingParticipant, error) {
	if id == "" {
		return persistence.BookingParticipant{}, persistence.ErrNotFound
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.participants[id]
	if !ok {
		return persistence.BookingParticipant{}, persistence.ErrNotFound
	}

	return p, nil
}

// GetParticipantByUser retrieves a booking's participant row for one user.
func (s *Storage) GetParticipantByUser(ctx context.Context, bookingID, userID string) (persistence.BookingParticipant, error) {
	if bookingID == "" || userID == "" {
		return persistence.BookingParticipant{}, persistence.ErrNotFound
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, p := range s.participants {
		if p.BookingID == bookingID && p.UserID == userID {
			return p, nil
		}
	}

	return persistence.BookingParticipant{}, persistence.ErrNotFound
}

// ListParticipants lists a booking's participants in join order.
func (s *Storage) ListParticipants(ctx context.Context, bookingID string) ([]persistence.BookingParticipant, error) {
	if bookingID == "" {
		return nil, persistence.ErrNotFound
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	participants := make([]persistence.BookingParticipant, 0)
	for _, p := range s.participants {
		if p.BookingID == bookingID {
			participants = append(participants, p)
		}
	}

	sort.Slice(participants, func(i, j int) bool {
		if participants[i].CreatedAt.Equal(participants[j].CreatedAt) {
			return participants[i].ID < participants[j].ID
		}
		return participants[i].CreatedAt.Before(participants[j].CreatedAt)
	})

	return participants, nil
}

// ListHoldsPastDeadline returns participants whose authorization hold has
// waited on the coach past its expiry deadline.
func (s *Storage) ListHoldsPastDeadline(ctx context.Context, now time.Time, limit int) ([]persistence.BookingParticipant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matches := make([]persistence.BookingParticipant, 0)
	for _, p := range s.participants {
		if p.Status != string(booking.ParticipantAwaitingCoach) {
			continue
		}
		if p.HoldExpiresAt == nil || p.HoldExpiresAt.After(now) {
			continue
		}
		matches = append(matches, p)
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].HoldExpiresAt.Equal(*matches[j].HoldExpiresAt) {
			return matches[i].ID < matches[j].ID
		}
		return matches[i].HoldExpiresAt.Before(*matches[j].HoldExpiresAt)
	})

	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}

	return matches, nil
}

// --- PaymentRepository implementation ---

// RecordAttempt appends one payment attempt.
func (s *Storage) RecordAttempt(ctx context.Context, payment persistence.BookingPayment) error {
	if payment.ID == "" || payment.BookingID == "" || payment.PayerID == "" || payment.IdempotencyKey == "" {
		return persistence.ErrConstraintViolation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.bookings[payment.BookingID]; !ok {
		return persistence.ErrForeignKeyViolation
	}
	if err := s.checkPaymentLocked(payment); err != nil {
		return err
	}

	if payment.CreatedAt.IsZero() {
		payment.CreatedAt = time.Now().UTC()
	}
	s.payments = append(s.payments, payment)
	return nil
}

// GetSucceededByIdempotencyKey returns the succeeded attempt for a key.
func (s *Storage) GetSucceededByIdempotencyKey(ctx context.Context, key string) (persistence.BookingPayment, error) {
	if key == "" {
		return persistence.BookingPayment{}, persistence.ErrNotFound
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, p := range s.payments {
		if p.IdempotencyKey == key && p.Status == persistence.PaymentAttemptSucceeded {
			return p, nil
		}
	}

	return persistence.BookingPayment{}, persistence.ErrNotFound
}

// ListPaymentsForBooking lists a booking's payment attempts oldest first.
func (s *Storage) ListPaymentsForBooking(ctx context.Context, bookingID string) ([]persistence.BookingPayment, error) {
	if bookingID == "" {
		return nil, persistence.ErrNotFound
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var payments []persistence.BookingPayment
	for _, p := range s.payments {
		if p.BookingID == bookingID {
			payments = append(payments, p)
		}
	}

	return payments, nil
}

// ListPaymentsForParticipant lists the attempts tied to one participant row.
func (s *Storage) ListPaymentsForParticipant(ctx context.Context, participantID string) ([]persistence.BookingPayment, error) {
	if participantID == "" {
		return nil, persistence.ErrNotFound
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var payments []persistence.BookingPayment
	for _, p := range s.payments {
		if p.ParticipantID != nil && *p.ParticipantID == participantID {
			payments = append(payments, p)
		}
	}

	return payments, nil
}

// checkPaymentLocked enforces the append-only ledger's uniqueness rules:
// IDs never repeat and at most one succeeded attempt exists per key.
func (s *Storage) checkPaymentLocked(payment persistence.BookingPayment) error {
	for _, existing := range s.payments {
		if existing.ID == payment.ID {
			return persistence.ErrDuplicate
		}
		if payment.Status == persistence.PaymentAttemptSucceeded &&
			existing.Status == persistence.PaymentAttemptSucceeded &&
			existing.IdempotencyKey == payment.IdempotencyKey {
			return persistence.ErrDuplicate
		}
	}
	return nil
}

// --- TransitionRepository implementation ---

// ListTransitionsForBooking returns a booking's audit trail oldest first.
func (s *Storage) ListTransitionsForBooking(ctx context.Context, bookingID string) ([]persistence.BookingStateTransition, error) {
	if bookingID == "" {
		return nil, persistence.ErrNotFound
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var transitions []persistence.BookingStateTransition
	for _, t := range s.transitions {
		if t.BookingID == bookingID {
			transitions = append(transitions, t)
		}
	}

	return transitions, nil
}

// --- SessionRepository implementation ---

// CreateSession stores a new session for an account.
func (s *Storage) CreateSession(ctx context.Context, session persistence.Session) (persistence.Session, error) {
	if session.ID == "" || session.AccountID == "" {
		return persistence.Session{}, persistence.ErrConstraintViolation
	}

	session.TokenHash = strings.TrimSpace(session.TokenHash)
	if session.TokenHash == "" {
		return persistence.Session{}, persistence.ErrConstraintViolation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[session.ID]; ok {
		return persistence.Session{}, persistence.ErrDuplicate
	}
	for _, existing := range s.sessions {
		if existing.TokenHash == session.TokenHash {
			return persistence.Session{}, persistence.ErrDuplicate
		}
	}
	if _, ok := s.accounts[session.AccountID]; !ok {
		return persistence.Session{}, persistence.ErrForeignKeyViolation
	}

	now := time.Now().UTC()
	session.ExpiresAt = session.ExpiresAt.UTC()
	session.CreatedAt = now
	session.UpdatedAt = now

	s.sessions[session.ID] = session
	return session, nil
}

// GetSession retrieves a session by its token hash.
func (s *Storage) GetSession(ctx context.Context, tokenHash string) (persistence.Session, error) {
	tokenHash = strings.TrimSpace(tokenHash)
	if tokenHash == "" {
		return persistence.Session{}, persistence.ErrNotFound
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, session := range s.sessions {
		if session.TokenHash == tokenHash {
			return session, nil
		}
	}

	return persistence.Session{}, persistence.ErrNotFound
}

// RevokeSession marks a session revoked. An already revoked session keeps
// its original revocation time.
func (s *Storage) RevokeSession(ctx context.Context, tokenHash string, revokedAt time.Time) (persistence.Session, error) {
	tokenHash = strings.TrimSpace(tokenHash)
	if tokenHash == "" {
		return persistence.Session{}, persistence.ErrNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for id, session := range s.sessions {
		if session.TokenHash != tokenHash {
			continue
		}
		if session.RevokedAt == nil {
			t := revokedAt.UTC()
			session.RevokedAt = &t
			session.UpdatedAt = t
			s.sessions[id] = session
		}
		return session, nil
	}

	return persistence.Session{}, persistence.ErrNotFound
}

// DeleteExpiredSessions removes sessions expired at or before the reference time.
func (s *Storage) DeleteExpiredSessions(ctx context.Context, reference time.Time) error {
	cutoff := reference.UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	for id, session := range s.sessions {
		if !session.ExpiresAt.IsZero() && !session.ExpiresAt.After(cutoff) {
			delete(s.sessions, id)
		}
	}

	return nil
}

// --- Helpers ---

func sortAndLimitDue(matches []dueRecord, limit int) []string {
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].at.Equal(matches[j].at) {
			return matches[i].id < matches[j].id
		}
		return matches[i].at.Before(matches[j].at)
	})

	ids := make([]string, 0, len(matches))
	for _, m := range matches {
		ids = append(ids, m.id)
	}
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids
}
