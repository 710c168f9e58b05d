package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/example/coaching-marketplace/internal/booking"
	"github.com/example/coaching-marketplace/internal/notify"
	"github.com/example/coaching-marketplace/internal/persistence"
	"github.com/example/coaching-marketplace/internal/scheduler"
)

// BookingStore captures the persistence interactions needed by the service.
type BookingStore interface {
	CreateBooking(ctx context.Context, booking persistence.Booking, detail persistence.BookingDetail, transition persistence.BookingStateTransition) error
	GetBooking(ctx context.Context, id string) (persistence.Booking, error)
	GetBookingByIdempotencyKey(ctx context.Context, key string) (persistence.Booking, error)
	GetBookingDetail(ctx context.Context, id string) (persistence.BookingDetail, error)
	ListBookings(ctx context.Context, filter persistence.BookingFilter) ([]persistence.Booking, error)
	ApplyMutation(ctx context.Context, mutation persistence.BookingMutation) error
}

// ParticipantStore stores per-user join records for group bookings.
type ParticipantStore interface {
	CreateParticipant(ctx context.Context, participant persistence.BookingParticipant, transition persistence.BookingStateTransition) error
	GetParticipant(ctx context.Context, id string) (persistence.BookingParticipant, error)
	GetParticipantByUser(ctx context.Context, bookingID, userID string) (persistence.BookingParticipant, error)
	ListParticipants(ctx context.Context, bookingID string) ([]persistence.BookingParticipant, error)
}

// AccountDirectory exposes account lookup operations.
type AccountDirectory interface {
	GetAccount(ctx context.Context, id string) (persistence.Account, error)
}

// TransitionLog reads the append-only state transition audit trail.
type TransitionLog interface {
	ListTransitionsForBooking(ctx context.Context, bookingID string) ([]persistence.BookingStateTransition, error)
}

// BookingService orchestrates the booking lifecycle. Every write runs the
// same sequence: derive the caller's relation from stored rows, ask the
// state machine to decide, perform the money step the outcome demands, and
// persist the whole transition atomically.
type BookingService struct {
	bookings     BookingStore
	participants ParticipantStore
	accounts     AccountDirectory
	transitions  TransitionLog
	payments     *PaymentOrchestrator
	machine      *booking.Machine
	publisher    notify.Publisher
	warnings     *warningCache
	idGenerator  func() string
	now          func() time.Time
	logger       *slog.Logger
}

// NewBookingService wires dependencies for booking operations.
func NewBookingService(bookings BookingStore, participants ParticipantStore, accounts AccountDirectory, transitions TransitionLog, payments *PaymentOrchestrator, machine *booking.Machine, publisher notify.Publisher, idGenerator func() string, now func() time.Time) *BookingService {
	return NewBookingServiceWithLogger(bookings, participants, accounts, transitions, payments, machine, publisher, idGenerator, now, nil)
}

// NewBookingServiceWithLogger constructs a BookingService with a specified
// logger.
func NewBookingServiceWithLogger(bookings BookingStore, participants ParticipantStore, accounts AccountDirectory, transitions TransitionLog, payments *PaymentOrchestrator, machine *booking.Machine, publisher notify.Publisher, idGenerator func() string, now func() time.Time, logger *slog.Logger) *BookingService {
	if machine == nil {
		machine = booking.NewMachine(booking.DefaultPolicy())
	}
	if idGenerator == nil {
		idGenerator = func() string { return "" }
	}
	if now == nil {
		now = time.Now
	}
	return &BookingService{
		bookings:     bookings,
		participants: participants,
		accounts:     accounts,
		transitions:  transitions,
		payments:     payments,
		machine:      machine,
		publisher:    publisher,
		warnings:     newWarningCache(0, 0, now),
		idGenerator:  idGenerator,
		now:          now,
		logger:       defaultLogger(logger),
	}
}

func (s *BookingService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.logger, "BookingService", operation, attrs...)
}

// CreateBooking validates the request, runs the creation transition and
// persists the booking with its type-specific detail. Private groups also
// receive their participant roster. The returned warnings flag sessions of
// the same coach or payer occupying an intersecting time window; they never
// block the write.
func (s *BookingService) CreateBooking(ctx context.Context, params CreateBookingParams) (result BookingResult, warnings []OverlapWarning, err error) {
	if s == nil {
		err = fmt.Errorf("BookingService is nil")
		return
	}
	if s.bookings == nil {
		err = fmt.Errorf("booking repository not configured")
		return
	}

	principal := params.Principal
	input := params.Input
	input.Type = strings.TrimSpace(input.Type)
	input.CoachID = strings.TrimSpace(input.CoachID)
	input.Currency = strings.ToLower(strings.TrimSpace(input.Currency))
	input.IdempotencyKey = strings.TrimSpace(input.IdempotencyKey)

	logger := s.loggerWith(ctx, "CreateBooking",
		"booking_type", input.Type,
		"coach_id", input.CoachID,
		"user_id", principal.UserID,
	)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "booking creation failed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With(
			"booking_id", result.Booking.ID,
			"approval_status", result.Booking.ApprovalStatus,
			"overlap_warnings", len(warnings),
		).InfoContext(ctx, "booking created")
	}()

	if principal.UserID == "" {
		err = ErrUnauthorized
		return
	}
	if principal.IsService {
		err = ErrForbidden
		return
	}

	bookingType := booking.Type(input.Type)
	if bookingType == booking.TypePublicGroup {
		if input.CoachID == "" {
			input.CoachID = principal.UserID
		}
		if !principal.IsCoach || input.CoachID != principal.UserID {
			err = ErrForbidden
			return
		}
	}

	memberIDs := sortStrings(uniqueStrings(input.MemberIDs))

	vErr := &ValidationError{}
	validateBookingCore(input, vErr)
	if bookingType != booking.TypePublicGroup && input.CoachID != "" && input.CoachID == principal.UserID {
		vErr.add("coach_id", "cannot book a session with yourself")
	}
	if bookingType == booking.TypePrivateGroup {
		for _, id := range memberIDs {
			if id == principal.UserID {
				vErr.add("member_ids", "the organizer is included implicitly")
			}
			if id == input.CoachID {
				vErr.add("member_ids", "the coach cannot be a group member")
			}
		}
	}
	if vErr.HasErrors() {
		err = vErr
		return
	}

	if err = s.ensureCoachExists(ctx, input.CoachID); err != nil {
		return
	}
	if bookingType == booking.TypePrivateGroup {
		if err = s.ensureAccountsExist(ctx, memberIDs); err != nil {
			return
		}
	}

	now := s.now()
	var outcome booking.Outcome
	if bookingType == booking.TypePublicGroup {
		// Published groups are live immediately; the creation event only
		// governs requested bookings.
		if !input.ScheduledStartAt.After(now) {
			err = &booking.GuardError{Event: booking.EventRequest, Code: booking.GuardStartNotInFuture, Detail: "scheduled start must be in the future"}
			return
		}
		outcome = booking.Outcome{
			Approval:    booking.ApprovalAccepted,
			Fulfillment: booking.FulfillmentScheduled,
			Capacity:    booking.CapacityOpen,
			Money:       booking.MoneyNone,
		}
	} else {
		state := booking.State{
			Type:             bookingType,
			ScheduledStartAt: input.ScheduledStartAt,
			ScheduledEndAt:   input.ScheduledEndAt,
		}
		relation := booking.RelationClient
		if bookingType == booking.TypePrivateGroup {
			relation = booking.RelationOrganizer
		}
		outcome, err = s.machine.Decide(state, booking.EventRequest, booking.Actor{UserID: principal.UserID, Relation: relation}, now)
		if err != nil {
			return
		}
	}

	row := persistence.Booking{
		ID:                s.idGenerator(),
		Type:              input.Type,
		CoachID:           input.CoachID,
		ApprovalStatus:    string(outcome.Approval),
		FulfillmentStatus: string(outcome.Fulfillment),
		ScheduledStartAt:  input.ScheduledStartAt.UTC(),
		ScheduledEndAt:    input.ScheduledEndAt.UTC(),
		DurationMinutes:   int(input.ScheduledEndAt.Sub(input.ScheduledStartAt) / time.Minute),
		Location:          input.Location,
		IdempotencyKey:    input.IdempotencyKey,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if !outcome.RespondBy.IsZero() {
		respondBy := outcome.RespondBy
		row.RespondBy = &respondBy
	}

	detail := buildDetail(bookingType, row.ID, principal.UserID, input, len(memberIDs)+1, now)

	warnings, err = s.detectOverlaps(ctx, principal.UserID, row)
	if err != nil {
		warnings = nil
		return
	}

	creation := persistence.BookingStateTransition{
		ID:            s.idGenerator(),
		BookingID:     row.ID,
		Event:         string(booking.EventRequest),
		FromState:     "",
		ToState:       row.ApprovalStatus,
		ActorID:       &principal.UserID,
		ActorRelation: creatorRelation(bookingType),
		OccurredAt:    now,
	}

	if err = s.bookings.CreateBooking(ctx, row, detail, creation); err != nil {
		if errors.Is(err, persistence.ErrDuplicate) {
			result, warnings, err = s.replayCreate(ctx, principal, input)
			return
		}
		err = mapBookingRepoError(err)
		return
	}

	if bookingType == booking.TypePrivateGroup {
		if err = s.createRoster(ctx, row.ID, principal.UserID, memberIDs, now); err != nil {
			return
		}
	}

	s.publishNotifications(ctx, row, detail, nil, nil, outcome.Notifications, now)
	s.warnings.Invalidate()

	result = BookingResult{Booking: row, Detail: detail}
	return
}

// replayCreate resolves an idempotency key collision. A key reused by the
// same payer for the same booking type returns the stored booking; any
// other reuse is a conflict. Private rosters are completed here so a crash
// between the booking insert and the roster insert converges on retry.
func (s *BookingService) replayCreate(ctx context.Context, principal Principal, input BookingInput) (BookingResult, []OverlapWarning, error) {
	existing, err := s.bookings.GetBookingByIdempotencyKey(ctx, input.IdempotencyKey)
	if err != nil {
		return BookingResult{}, nil, mapBookingRepoError(err)
	}
	detail, err := s.bookings.GetBookingDetail(ctx, existing.ID)
	if err != nil {
		return BookingResult{}, nil, mapBookingRepoError(err)
	}
	if payerOf(existing, detail) != principal.UserID || existing.Type != input.Type {
		return BookingResult{}, nil, ErrAlreadyExists
	}

	if booking.Type(existing.Type) == booking.TypePrivateGroup {
		memberIDs := sortStrings(uniqueStrings(input.MemberIDs))
		if err := s.createRoster(ctx, existing.ID, principal.UserID, memberIDs, s.now()); err != nil {
			return BookingResult{}, nil, err
		}
	}

	warnings, err := s.detectOverlaps(ctx, principal.UserID, existing)
	if err != nil {
		return BookingResult{}, nil, err
	}
	return BookingResult{Booking: existing, Detail: detail}, warnings, nil
}

// createRoster inserts the organizer and member rows of a private group.
// Rows that already exist are skipped so the call can be repeated.
func (s *BookingService) createRoster(ctx context.Context, bookingID, organizerID string, memberIDs []string, now time.Time) error {
	if s.participants == nil {
		return fmt.Errorf("participant repository not configured")
	}

	rows := make([]persistence.BookingParticipant, 0, len(memberIDs)+1)
	rows = append(rows, persistence.BookingParticipant{UserID: organizerID, Role: string(booking.RoleOrganizer)})
	for _, memberID := range memberIDs {
		rows = append(rows, persistence.BookingParticipant{UserID: memberID, Role: string(booking.RoleParticipant)})
	}

	for _, row := range rows {
		row.ID = s.idGenerator()
		row.BookingID = bookingID
		row.Status = string(booking.ParticipantRequested)
		row.PaymentStatus = string(booking.ParticipantPaymentRequiresMethod)
		row.CreatedAt = now
		row.UpdatedAt = now

		transition := persistence.BookingStateTransition{
			ID:            s.idGenerator(),
			BookingID:     bookingID,
			ParticipantID: &row.ID,
			Event:         string(booking.EventRequest),
			FromState:     "",
			ToState:       row.Status,
			ActorID:       &organizerID,
			ActorRelation: string(booking.RelationOrganizer),
			OccurredAt:    now,
		}
		if err := s.participants.CreateParticipant(ctx, row, transition); err != nil {
			if errors.Is(err, persistence.ErrDuplicate) {
				continue
			}
			return mapBookingRepoError(err)
		}
	}
	return nil
}

// GetBooking returns one booking with its detail. Bookings are visible to
// the coach, the payer, roster participants and service callers; published
// public groups are visible to any authenticated user.
func (s *BookingService) GetBooking(ctx context.Context, principal Principal, bookingID string) (BookingResult, error) {
	if s == nil {
		return BookingResult{}, fmt.Errorf("BookingService is nil")
	}
	if s.bookings == nil {
		return BookingResult{}, fmt.Errorf("booking repository not configured")
	}
	if principal.UserID == "" && !principal.IsService {
		return BookingResult{}, ErrUnauthorized
	}

	bkg, err := s.bookings.GetBooking(ctx, bookingID)
	if err != nil {
		return BookingResult{}, mapBookingRepoError(err)
	}
	detail, err := s.bookings.GetBookingDetail(ctx, bkg.ID)
	if err != nil {
		return BookingResult{}, mapBookingRepoError(err)
	}

	relation, err := s.relationOf(ctx, principal, bkg, detail)
	if err != nil {
		return BookingResult{}, err
	}
	if relation == "" && booking.Type(bkg.Type) != booking.TypePublicGroup {
		// Hide the booking's existence from unrelated callers.
		return BookingResult{}, ErrNotFound
	}
	return BookingResult{Booking: bkg, Detail: detail}, nil
}

// ListBookingsForActor enumerates bookings the principal is involved in,
// as coach or as payer, ordered by start time. Warnings flag overlapping
// pairs within the result and are cached briefly between identical reads.
func (s *BookingService) ListBookingsForActor(ctx context.Context, params ListBookingsParams) ([]persistence.Booking, []OverlapWarning, error) {
	if s == nil {
		return nil, nil, fmt.Errorf("BookingService is nil")
	}
	if s.bookings == nil {
		return nil, nil, fmt.Errorf("booking repository not configured")
	}
	principal := params.Principal
	if principal.UserID == "" && !principal.IsService {
		return nil, nil, ErrUnauthorized
	}

	filter := s.buildListFilter(params)

	var rows []persistence.Booking
	if principal.IsService {
		listed, err := s.listBookings(ctx, filter)
		if err != nil {
			return nil, nil, err
		}
		rows = listed
	} else {
		payerID := principal.UserID
		payerFilter := filter
		payerFilter.PayerID = &payerID
		payerRows, err := s.listBookings(ctx, payerFilter)
		if err != nil {
			return nil, nil, err
		}
		rows = payerRows

		if principal.IsCoach {
			coachID := principal.UserID
			coachFilter := filter
			coachFilter.CoachID = &coachID
			coachRows, err := s.listBookings(ctx, coachFilter)
			if err != nil {
				return nil, nil, err
			}
			rows = mergeBookings(rows, coachRows)
		}
	}

	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].ScheduledStartAt.Equal(rows[j].ScheduledStartAt) {
			return rows[i].ID < rows[j].ID
		}
		return rows[i].ScheduledStartAt.Before(rows[j].ScheduledStartAt)
	})

	if principal.IsService {
		return rows, nil, nil
	}

	cacheKey := buildWarningCacheKey(params)
	if cached, ok := s.warnings.Get(cacheKey); ok {
		return rows, cached, nil
	}
	warnings := detectListOverlaps(rows, principal.UserID)
	s.warnings.Store(cacheKey, warnings)
	return rows, warnings, nil
}

func (s *BookingService) listBookings(ctx context.Context, filter persistence.BookingFilter) ([]persistence.Booking, error) {
	rows, err := s.bookings.ListBookings(ctx, filter)
	if err != nil {
		if isNotFoundError(err) {
			return nil, nil
		}
		return nil, mapBookingRepoError(err)
	}
	return rows, nil
}

// ListParticipants returns the roster of a group booking. The roster is
// restricted to callers involved in the booking; being able to see a
// published group does not reveal who joined it.
func (s *BookingService) ListParticipants(ctx context.Context, principal Principal, bookingID string) ([]persistence.BookingParticipant, error) {
	if s == nil {
		return nil, fmt.Errorf("BookingService is nil")
	}
	if s.bookings == nil || s.participants == nil {
		return nil, fmt.Errorf("booking repository not configured")
	}

	bkg, err := s.bookings.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, mapBookingRepoError(err)
	}
	detail, err := s.bookings.GetBookingDetail(ctx, bkg.ID)
	if err != nil {
		return nil, mapBookingRepoError(err)
	}
	relation, err := s.relationOf(ctx, principal, bkg, detail)
	if err != nil {
		return nil, err
	}
	if relation == "" {
		return nil, ErrNotFound
	}

	rows, err := s.participants.ListParticipants(ctx, bookingID)
	if err != nil {
		if isNotFoundError(err) {
			return nil, nil
		}
		return nil, mapBookingRepoError(err)
	}
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].CreatedAt.Equal(rows[j].CreatedAt) {
			return rows[i].ID < rows[j].ID
		}
		return rows[i].CreatedAt.Before(rows[j].CreatedAt)
	})
	return rows, nil
}

// ListTransitions returns the audit trail of a booking in the order the
// transitions occurred.
func (s *BookingService) ListTransitions(ctx context.Context, principal Principal, bookingID string) ([]persistence.BookingStateTransition, error) {
	if s == nil {
		return nil, fmt.Errorf("BookingService is nil")
	}
	if s.bookings == nil || s.transitions == nil {
		return nil, fmt.Errorf("booking repository not configured")
	}

	bkg, err := s.bookings.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, mapBookingRepoError(err)
	}
	detail, err := s.bookings.GetBookingDetail(ctx, bkg.ID)
	if err != nil {
		return nil, mapBookingRepoError(err)
	}
	relation, err := s.relationOf(ctx, principal, bkg, detail)
	if err != nil {
		return nil, err
	}
	if relation == "" {
		return nil, ErrNotFound
	}

	rows, err := s.transitions.ListTransitionsForBooking(ctx, bookingID)
	if err != nil {
		if isNotFoundError(err) {
			return nil, nil
		}
		return nil, mapBookingRepoError(err)
	}
	return rows, nil
}

func (s *BookingService) ensureCoachExists(ctx context.Context, coachID string) error {
	if s.accounts == nil {
		return nil
	}
	account, err := s.accounts.GetAccount(ctx, coachID)
	if err != nil {
		if isNotFoundError(err) {
			vErr := &ValidationError{}
			vErr.add("coach_id", "coach account does not exist")
			return vErr
		}
		return err
	}
	if !account.IsCoach {
		vErr := &ValidationError{}
		vErr.add("coach_id", "account is not a coach")
		return vErr
	}
	return nil
}

func (s *BookingService) ensureAccountsExist(ctx context.Context, ids []string) error {
	if s.accounts == nil {
		return nil
	}
	missing := make([]string, 0)
	for _, id := range ids {
		if _, err := s.accounts.GetAccount(ctx, id); err != nil {
			if isNotFoundError(err) {
				missing = append(missing, id)
				continue
			}
			return err
		}
	}
	if len(missing) == 0 {
		return nil
	}
	vErr := &ValidationError{}
	vErr.add("member_ids", fmt.Sprintf("unknown account ids: %s", strings.Join(missing, ", ")))
	return vErr
}

// relationOf derives the caller's relationship to a booking from stored
// rows. It returns the empty relation for unrelated callers; deciding
// whether that means not-found or forbidden is left to the operation.
func (s *BookingService) relationOf(ctx context.Context, principal Principal, bkg persistence.Booking, detail persistence.BookingDetail) (booking.Relation, error) {
	if principal.IsService {
		return booking.RelationSystem, nil
	}
	if principal.UserID == "" {
		return "", nil
	}
	if principal.UserID == bkg.CoachID {
		return booking.RelationCoach, nil
	}

	switch {
	case detail.Individual != nil:
		if detail.Individual.ClientID == principal.UserID {
			return booking.RelationClient, nil
		}
		return "", nil
	case detail.PrivateGroup != nil:
		if detail.PrivateGroup.OrganizerID == principal.UserID {
			return booking.RelationOrganizer, nil
		}
	}

	if s.participants == nil {
		return "", nil
	}
	if _, err := s.participants.GetParticipantByUser(ctx, bkg.ID, principal.UserID); err != nil {
		if isNotFoundError(err) {
			return "", nil
		}
		return "", mapBookingRepoError(err)
	}
	return booking.RelationParticipant, nil
}

// stateOf assembles the compound machine state from persisted rows.
func stateOf(bkg persistence.Booking, detail persistence.BookingDetail, participant *persistence.BookingParticipant) booking.State {
	state := booking.State{
		Type:             booking.Type(bkg.Type),
		Approval:         booking.ApprovalStatus(bkg.ApprovalStatus),
		Fulfillment:      booking.FulfillmentStatus(bkg.FulfillmentStatus),
		ScheduledStartAt: bkg.ScheduledStartAt,
		ScheduledEndAt:   bkg.ScheduledEndAt,
	}
	if bkg.RespondBy != nil {
		state.RespondBy = *bkg.RespondBy
	}

	switch {
	case detail.Individual != nil:
		state.Payment = booking.PaymentStatus(detail.Individual.PaymentStatus)
		if detail.Individual.PaymentDueAt != nil {
			state.PaymentDueAt = *detail.Individual.PaymentDueAt
		}
	case detail.PrivateGroup != nil:
		state.Payment = booking.PaymentStatus(detail.PrivateGroup.PaymentStatus)
		if detail.PrivateGroup.PaymentDueAt != nil {
			state.PaymentDueAt = *detail.PrivateGroup.PaymentDueAt
		}
	case detail.PublicGroup != nil:
		state.Capacity = booking.CapacityStatus(detail.PublicGroup.CapacityStatus)
	}

	if participant != nil {
		p := booking.ParticipantState{
			Role:    booking.ParticipantRole(participant.Role),
			Status:  booking.ParticipantStatus(participant.Status),
			Payment: booking.ParticipantPaymentStatus(participant.PaymentStatus),
		}
		if participant.HoldExpiresAt != nil {
			p.HoldExpiresAt = *participant.HoldExpiresAt
		}
		state.Participant = &p
	}
	return state
}

// payerOf names the account that pays for a booking. The coach stands in
// for public groups, where each seat pays separately.
func payerOf(bkg persistence.Booking, detail persistence.BookingDetail) string {
	switch {
	case detail.Individual != nil:
		return detail.Individual.ClientID
	case detail.PrivateGroup != nil:
		return detail.PrivateGroup.OrganizerID
	}
	return bkg.CoachID
}

func creatorRelation(t booking.Type) string {
	switch t {
	case booking.TypePrivateGroup:
		return string(booking.RelationOrganizer)
	case booking.TypePublicGroup:
		return string(booking.RelationCoach)
	}
	return string(booking.RelationClient)
}

func buildDetail(t booking.Type, bookingID, payerID string, input BookingInput, privateTotal int, now time.Time) persistence.BookingDetail {
	switch t {
	case booking.TypeIndividual:
		return persistence.BookingDetail{Individual: &persistence.IndividualDetail{
			BookingID:     bookingID,
			ClientID:      payerID,
			Price:         computePrice(input.PriceCents),
			Currency:      input.Currency,
			PaymentStatus: string(booking.PaymentNotRequired),
			CreatedAt:     now,
			UpdatedAt:     now,
		}}
	case booking.TypePrivateGroup:
		return persistence.BookingDetail{PrivateGroup: &persistence.PrivateGroupDetail{
			BookingID:           bookingID,
			OrganizerID:         payerID,
			TotalParticipants:   privateTotal,
			PricePerPersonCents: input.PricePerPersonCents,
			Price:               computePrice(input.PricePerPersonCents * int64(privateTotal)),
			Currency:            input.Currency,
			PaymentStatus:       string(booking.PaymentNotRequired),
			CreatedAt:           now,
			UpdatedAt:           now,
		}}
	default:
		return persistence.BookingDetail{PublicGroup: &persistence.PublicGroupDetail{
			BookingID:           bookingID,
			MaxParticipants:     input.MaxParticipants,
			MinParticipants:     input.MinParticipants,
			PricePerPersonCents: input.PricePerPersonCents,
			Currency:            input.Currency,
			CapacityStatus:      string(booking.CapacityOpen),
			CreatedAt:           now,
			UpdatedAt:           now,
		}}
	}
}

func validateBookingCore(input BookingInput, vErr *ValidationError) {
	bookingType := booking.Type(input.Type)
	if input.Type == "" {
		vErr.add("type", "type is required")
	} else if !bookingType.Valid() {
		vErr.add("type", "type must be individual, private_group or public_group")
	}

	if input.CoachID == "" {
		vErr.add("coach_id", "coach is required")
	}

	if input.ScheduledStartAt.IsZero() {
		vErr.add("scheduled_start_at", "scheduled start is required")
	}
	if input.ScheduledEndAt.IsZero() {
		vErr.add("scheduled_end_at", "scheduled end is required")
	}
	if !input.ScheduledStartAt.IsZero() && !input.ScheduledEndAt.IsZero() && !input.ScheduledStartAt.Before(input.ScheduledEndAt) {
		vErr.add("time", "scheduled start must be before scheduled end")
	}

	if strings.TrimSpace(input.Location.Name) == "" {
		vErr.add("location", "location name is required")
	}

	if input.Currency == "" {
		vErr.add("currency", "currency is required")
	} else if len(input.Currency) != 3 {
		vErr.add("currency", "currency must be a three-letter code")
	}

	if input.IdempotencyKey == "" {
		vErr.add("idempotency_key", "idempotency key is required")
	}

	switch bookingType {
	case booking.TypeIndividual:
		if input.PriceCents <= 0 {
			vErr.add("price_cents", "price must be positive")
		}
	case booking.TypePrivateGroup:
		if input.PricePerPersonCents <= 0 {
			vErr.add("price_per_person_cents", "price per person must be positive")
		}
		if len(input.MemberIDs) == 0 {
			vErr.add("member_ids", "at least one member is required")
		}
	case booking.TypePublicGroup:
		if input.PricePerPersonCents <= 0 {
			vErr.add("price_per_person_cents", "price per person must be positive")
		}
		if input.MaxParticipants < 1 {
			vErr.add("max_participants", "maximum participants must be at least 1")
		}
		if input.MinParticipants < 0 {
			vErr.add("min_participants", "minimum participants cannot be negative")
		} else if input.MinParticipants > input.MaxParticipants && input.MaxParticipants >= 1 {
			vErr.add("min_participants", "minimum participants cannot exceed the maximum")
		}
	}
}

// detectOverlaps runs the session detector twice for a create: once along
// the coach axis and once along the payer axis. Terminal bookings no
// longer occupy their slot and are skipped.
func (s *BookingService) detectOverlaps(ctx context.Context, payerID string, candidate persistence.Booking) ([]OverlapWarning, error) {
	coachRows, err := s.listBookings(ctx, persistence.BookingFilter{CoachID: &candidate.CoachID})
	if err != nil {
		return nil, err
	}
	payerRows, err := s.listBookings(ctx, persistence.BookingFilter{PayerID: &payerID})
	if err != nil {
		return nil, err
	}

	coachCandidate := scheduler.Session{
		ID:      candidate.ID,
		CoachID: candidate.CoachID,
		Start:   candidate.ScheduledStartAt,
		End:     candidate.ScheduledEndAt,
	}
	warnings := toOverlapWarnings(scheduler.DetectConflicts(toSchedulerSessions(coachRows, nil), coachCandidate))

	payerCandidate := scheduler.Session{
		ID:     candidate.ID,
		Payers: []string{payerID},
		Start:  candidate.ScheduledStartAt,
		End:    candidate.ScheduledEndAt,
	}
	warnings = append(warnings, toOverlapWarnings(scheduler.DetectConflicts(toSchedulerSessions(payerRows, []string{payerID}), payerCandidate))...)

	if len(warnings) == 0 {
		return nil, nil
	}
	return warnings, nil
}

// detectListOverlaps flags overlapping pairs in a listing. Every listed
// booking involves the principal, so any intersecting pair is a personal
// double-booking.
func detectListOverlaps(rows []persistence.Booking, userID string) []OverlapWarning {
	if len(rows) <= 1 {
		return nil
	}

	converted := make([]scheduler.Session, 0, len(rows))
	for _, row := range rows {
		if booking.ApprovalStatus(row.ApprovalStatus).Terminal() {
			continue
		}
		converted = append(converted, scheduler.Session{
			ID:      row.ID,
			CoachID: row.CoachID,
			Payers:  []string{userID},
			Start:   row.ScheduledStartAt,
			End:     row.ScheduledEndAt,
		})
	}

	warnings := make([]OverlapWarning, 0)
	for i, candidate := range converted {
		if i+1 >= len(converted) {
			break
		}
		conflicts := scheduler.DetectConflicts(converted[i+1:], candidate)
		warnings = append(warnings, toOverlapWarnings(conflicts)...)
	}
	if len(warnings) == 0 {
		return nil
	}
	return warnings
}

func toSchedulerSessions(rows []persistence.Booking, payers []string) []scheduler.Session {
	out := make([]scheduler.Session, 0, len(rows))
	for _, row := range rows {
		if booking.ApprovalStatus(row.ApprovalStatus).Terminal() {
			continue
		}
		out = append(out, scheduler.Session{
			ID:      row.ID,
			CoachID: row.CoachID,
			Payers:  payers,
			Start:   row.ScheduledStartAt,
			End:     row.ScheduledEndAt,
		})
	}
	return out
}

func toOverlapWarnings(conflicts []scheduler.Conflict) []OverlapWarning {
	if len(conflicts) == 0 {
		return nil
	}
	warnings := make([]OverlapWarning, 0, len(conflicts))
	for _, conflict := range conflicts {
		warnings = append(warnings, OverlapWarning{
			BookingID: conflict.WithBookingID,
			Type:      string(conflict.Type),
			CoachID:   conflict.CoachID,
			PayerID:   conflict.Payer,
		})
	}
	return warnings
}

func mergeBookings(a, b []persistence.Booking) []persistence.Booking {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]persistence.Booking, 0, len(a)+len(b))
	for _, row := range a {
		if _, ok := seen[row.ID]; ok {
			continue
		}
		seen[row.ID] = struct{}{}
		out = append(out, row)
	}
	for _, row := range b {
		if _, ok := seen[row.ID]; ok {
			continue
		}
		seen[row.ID] = struct{}{}
		out = append(out, row)
	}
	return out
}

func uniqueStrings(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))
	for _, value := range values {
		if value == "" {
			continue
		}
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}
		result = append(result, value)
	}
	return result
}

func sortStrings(values []string) []string {
	out := make([]string, len(values))
	copy(out, values)
	sort.Strings(out)
	return out
}

func (s *BookingService) buildListFilter(params ListBookingsParams) persistence.BookingFilter {
	filter := persistence.BookingFilter{}

	if params.Type != nil && strings.TrimSpace(*params.Type) != "" {
		bookingType := strings.TrimSpace(*params.Type)
		filter.Type = &bookingType
	}
	if params.Approval != nil && strings.TrimSpace(*params.Approval) != "" {
		approval := strings.TrimSpace(*params.Approval)
		filter.Approval = &approval
	}

	startsAfter := params.StartsAfter
	endsBefore := params.EndsBefore

	if params.Period != ListPeriodNone {
		reference := params.PeriodReference
		if reference.IsZero() {
			reference = s.now()
		}
		start, end := computePeriodRange(params.Period, reference)
		if startsAfter == nil {
			startsAfter = &start
		}
		if endsBefore == nil {
			endsBefore = &end
		}
	}

	filter.StartsAfter = startsAfter
	filter.EndsBefore = endsBefore
	return filter
}

func computePeriodRange(period ListPeriod, reference time.Time) (time.Time, time.Time) {
	switch period {
	case ListPeriodDay:
		start := startOfDay(reference)
		return start, start.AddDate(0, 0, 1)
	case ListPeriodWeek:
		start := startOfWeek(reference)
		return start, start.AddDate(0, 0, 7)
	case ListPeriodMonth:
		start := startOfMonth(reference)
		return start, start.AddDate(0, 1, 0)
	default:
		return time.Time{}, time.Time{}
	}
}

func startOfDay(t time.Time) time.Time {
	inUTC := t.UTC()
	return time.Date(inUTC.Year(), inUTC.Month(), inUTC.Day(), 0, 0, 0, 0, time.UTC)
}

func startOfWeek(t time.Time) time.Time {
	start := startOfDay(t)
	weekday := int(start.Weekday())
	// Adjust so Monday is start of week. In Go, Monday == 1, Sunday == 0.
	offset := (weekday + 6) % 7
	return start.AddDate(0, 0, -offset)
}

func startOfMonth(t time.Time) time.Time {
	start := startOfDay(t)
	return time.Date(start.Year(), start.Month(), 1, 0, 0, 0, 0, time.UTC)
}

func mapBookingRepoError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, persistence.ErrNotFound) {
		return ErrNotFound
	}
	if errors.Is(err, persistence.ErrDuplicate) {
		return ErrAlreadyExists
	}
	if errors.Is(err, persistence.ErrLockHeld) || errors.Is(err, persistence.ErrStaleState) {
		return ErrConcurrencyConflict
	}
	if errors.Is(err, persistence.ErrForeignKeyViolation) {
		vErr := &ValidationError{}
		vErr.add("references", "related records are missing")
		return vErr
	}
	return err
}

func isNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, persistence.ErrNotFound)
}
