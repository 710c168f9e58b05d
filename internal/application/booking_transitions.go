package application

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/example/coaching-marketplace/internal/booking"
	"github.com/example/coaching-marketplace/internal/persistence"
)

// CoachRespond applies a coach's accept or decline. Without a participant
// it answers the booking request itself; with one it admits or turns away
// a public-group joiner. Admission captures the joiner's authorization
// hold before the seat state is persisted.
func (s *BookingService) CoachRespond(ctx context.Context, params CoachRespondParams) (result BookingResult, err error) {
	if s == nil {
		err = fmt.Errorf("BookingService is nil")
		return
	}
	if s.bookings == nil {
		err = fmt.Errorf("booking repository not configured")
		return
	}
	if s.payments == nil {
		err = fmt.Errorf("payment orchestrator not configured")
		return
	}

	principal := params.Principal
	logger := s.loggerWith(ctx, "CoachRespond",
		"booking_id", params.BookingID,
		"user_id", principal.UserID,
		"accept", params.Accept,
	)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "coach response failed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With(
			"approval_status", result.Booking.ApprovalStatus,
		).InfoContext(ctx, "coach response applied")
	}()

	if err = s.payments.AcquireBookingLock(ctx, params.BookingID); err != nil {
		return
	}
	defer s.payments.ReleaseBookingLock(ctx, params.BookingID)

	bkg, detail, err := s.loadBooking(ctx, params.BookingID)
	if err != nil {
		return
	}
	relation, err := s.relationOf(ctx, principal, bkg, detail)
	if err != nil {
		return
	}
	if relation == "" {
		err = ErrForbidden
		return
	}

	var participant *persistence.BookingParticipant
	if params.ParticipantID != nil {
		participant, err = s.loadParticipant(ctx, bkg.ID, *params.ParticipantID)
		if err != nil {
			return
		}
	}

	event := booking.EventCoachDecline
	if params.Accept {
		event = booking.EventCoachAccept
	}

	now := s.now()
	actor := actorFor(principal, relation)
	outcome, err := s.machine.Decide(stateOf(bkg, detail, participant), event, actor, now)
	if err != nil {
		return
	}

	res, err := s.performMoney(ctx, outcome.Money, bkg, detail, participant, "")
	if err != nil {
		return
	}

	note := strings.TrimSpace(params.Note)
	var transitions []persistence.BookingStateTransition
	if participant != nil {
		transitions = append(transitions, s.transitionRow(bkg.ID, &participant.ID, event, participant.Status, string(outcome.Participant.Status), actor, note, now))
	} else {
		transitions = append(transitions, s.transitionRow(bkg.ID, nil, event, bkg.ApprovalStatus, string(outcome.Approval), actor, note, now))
	}

	var cascades []persistence.ParticipantChange
	if outcome.Cascade != booking.CascadeNone {
		roster, rosterErr := s.roster(ctx, bkg.ID)
		if rosterErr != nil {
			err = rosterErr
			return
		}
		exclude := ""
		if participant != nil {
			exclude = participant.ID
		}
		var cascadeTransitions []persistence.BookingStateTransition
		cascades, cascadeTransitions = s.cascadeChanges(outcome.Cascade, roster, exclude, event, actor, "", now)
		transitions = append(transitions, cascadeTransitions...)
	}

	mutation := persistence.BookingMutation{
		BookingID:   bkg.ID,
		BookingType: bkg.Type,
		Now:         now,
		Booking:     bookingChangeFor(bkg, outcome, actor, now),
		Detail:      detailChangeFor(detail, outcome, ""),
		Participant: participantChangeFor(participant, outcome, "", now),
		Cascade:     cascades,
		Payments:    res.Rows,
		Transitions: transitions,
	}
	if err = s.bookings.ApplyMutation(ctx, mutation); err != nil {
		err = mapBookingRepoError(err)
		return
	}

	refreshedBooking, refreshedDetail, err := s.loadBooking(ctx, bkg.ID)
	if err != nil {
		return
	}

	s.publishNotifications(ctx, refreshedBooking, refreshedDetail, participant, nil, outcome.Notifications, now)
	s.warnings.Invalidate()
	result = BookingResult{Booking: refreshedBooking, Detail: refreshedDetail}
	return
}

// SubmitPayment charges the payer of an accepted individual or
// private-group booking. The charge is authorized and captured in one
// step; a deadline that elapsed without the sweeper acting does not block
// it.
func (s *BookingService) SubmitPayment(ctx context.Context, params SubmitPaymentParams) (result SubmitPaymentResult, err error) {
	if s == nil {
		err = fmt.Errorf("BookingService is nil")
		return
	}
	if s.bookings == nil {
		err = fmt.Errorf("booking repository not configured")
		return
	}
	if s.payments == nil {
		err = fmt.Errorf("payment orchestrator not configured")
		return
	}

	principal := params.Principal
	cardToken := strings.TrimSpace(params.CardToken)

	logger := s.loggerWith(ctx, "SubmitPayment",
		"booking_id", params.BookingID,
		"user_id", principal.UserID,
	)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "payment submission failed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With(
			"gateway_ref", result.GatewayRef,
		).InfoContext(ctx, "payment captured")
	}()

	if cardToken == "" {
		vErr := &ValidationError{}
		vErr.add("card_token", "card token is required")
		err = vErr
		return
	}

	if err = s.payments.AcquireBookingLock(ctx, params.BookingID); err != nil {
		return
	}
	defer s.payments.ReleaseBookingLock(ctx, params.BookingID)

	bkg, detail, err := s.loadBooking(ctx, params.BookingID)
	if err != nil {
		return
	}
	relation, err := s.relationOf(ctx, principal, bkg, detail)
	if err != nil {
		return
	}
	if relation == "" {
		err = ErrForbidden
		return
	}

	now := s.now()
	actor := actorFor(principal, relation)
	outcome, err := s.machine.Decide(stateOf(bkg, detail, nil), booking.EventClientPay, actor, now)
	if err != nil {
		return
	}

	res, err := s.performMoney(ctx, outcome.Money, bkg, detail, nil, cardToken)
	if err != nil {
		return
	}

	transitions := []persistence.BookingStateTransition{
		s.transitionRow(bkg.ID, nil, booking.EventClientPay, currentPaymentStatus(detail), string(outcome.Payment), actor, "", now),
	}

	var cascades []persistence.ParticipantChange
	if outcome.Cascade != booking.CascadeNone {
		roster, rosterErr := s.roster(ctx, bkg.ID)
		if rosterErr != nil {
			err = rosterErr
			return
		}
		var cascadeTransitions []persistence.BookingStateTransition
		cascades, cascadeTransitions = s.cascadeChanges(outcome.Cascade, roster, "", booking.EventClientPay, actor, "", now)
		transitions = append(transitions, cascadeTransitions...)
	}

	mutation := persistence.BookingMutation{
		BookingID:   bkg.ID,
		BookingType: bkg.Type,
		Now:         now,
		Booking:     bookingChangeFor(bkg, outcome, actor, now),
		Detail:      detailChangeFor(detail, outcome, res.GatewayRef),
		Cascade:     cascades,
		Payments:    res.Rows,
		Transitions: transitions,
	}
	if err = s.bookings.ApplyMutation(ctx, mutation); err != nil {
		err = mapBookingRepoError(err)
		return
	}

	refreshedBooking, refreshedDetail, err := s.loadBooking(ctx, bkg.ID)
	if err != nil {
		return
	}

	s.publishNotifications(ctx, refreshedBooking, refreshedDetail, nil, nil, outcome.Notifications, now)
	s.warnings.Invalidate()
	result = SubmitPaymentResult{
		Booking:    refreshedBooking,
		Detail:     refreshedDetail,
		GatewayRef: res.GatewayRef,
	}
	return
}

// JoinPublicGroup asks for a seat on a published group session and places
// the authorization hold that reserves it. The same call resumes a join
// whose earlier authorization failed. Seat ordering is enforced by the
// conditional capacity increment inside the mutation, not by the advisory
// lock, so concurrent joins proceed without serializing on the booking.
func (s *BookingService) JoinPublicGroup(ctx context.Context, params JoinPublicGroupParams) (result JoinPublicGroupResult, err error) {
	if s == nil {
		err = fmt.Errorf("BookingService is nil")
		return
	}
	if s.bookings == nil || s.participants == nil {
		err = fmt.Errorf("booking repository not configured")
		return
	}
	if s.payments == nil {
		err = fmt.Errorf("payment orchestrator not configured")
		return
	}

	principal := params.Principal
	cardToken := strings.TrimSpace(params.CardToken)

	logger := s.loggerWith(ctx, "JoinPublicGroup",
		"booking_id", params.BookingID,
		"user_id", principal.UserID,
	)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "join failed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With(
			"participant_id", result.Participant.ID,
			"gateway_ref", result.GatewayRef,
		).InfoContext(ctx, "join authorized")
	}()

	if principal.UserID == "" {
		err = ErrUnauthorized
		return
	}
	if principal.IsService {
		err = ErrForbidden
		return
	}
	if cardToken == "" {
		vErr := &ValidationError{}
		vErr.add("card_token", "card token is required")
		err = vErr
		return
	}

	bkg, detail, err := s.loadBooking(ctx, params.BookingID)
	if err != nil {
		return
	}
	if bkg.CoachID == principal.UserID {
		err = ErrForbidden
		return
	}

	now := s.now()
	participant, err := s.joinParticipantRow(ctx, bkg, detail, principal, now)
	if err != nil {
		return
	}

	actor := booking.Actor{UserID: principal.UserID, Relation: booking.RelationParticipant}
	outcome, err := s.machine.Decide(stateOf(bkg, detail, participant), booking.EventClientPay, actor, now)
	if err != nil {
		return
	}

	res, err := s.performMoney(ctx, outcome.Money, bkg, detail, participant, cardToken)
	if err != nil {
		return
	}

	change := participantChangeFor(participant, outcome, res.GatewayRef, now)
	joinedAt := now
	change.SetJoinedAt = &joinedAt

	mutation := persistence.BookingMutation{
		BookingID:   bkg.ID,
		BookingType: bkg.Type,
		Now:         now,
		Participant: change,
		Payments:    res.Rows,
		Transitions: []persistence.BookingStateTransition{
			s.transitionRow(bkg.ID, &participant.ID, booking.EventClientPay, participant.Status, string(outcome.Participant.Status), actor, "", now),
		},
	}
	if err = s.bookings.ApplyMutation(ctx, mutation); err != nil {
		if errors.Is(err, persistence.ErrCapacityExhausted) {
			err = s.compensateLostSeat(ctx, bkg, detail, participant, res)
			return
		}
		err = mapBookingRepoError(err)
		return
	}

	refreshed, err := s.participants.GetParticipant(ctx, participant.ID)
	if err != nil {
		err = mapBookingRepoError(err)
		return
	}

	s.publishNotifications(ctx, bkg, detail, &refreshed, nil, outcome.Notifications, now)
	s.warnings.Invalidate()
	result = JoinPublicGroupResult{
		Participant:  refreshed,
		GatewayRef:   res.GatewayRef,
		ClientSecret: res.ClientSecret,
	}
	return
}

// joinParticipantRow returns the caller's participant row for a join,
// creating it through the request event when none exists. A row past the
// payment stage means the caller already holds or held a seat.
func (s *BookingService) joinParticipantRow(ctx context.Context, bkg persistence.Booking, detail persistence.BookingDetail, principal Principal, now time.Time) (*persistence.BookingParticipant, error) {
	existing, err := s.participants.GetParticipantByUser(ctx, bkg.ID, principal.UserID)
	if err == nil {
		if existing.Status != string(booking.ParticipantAwaitingPayment) {
			return nil, ErrAlreadyExists
		}
		return &existing, nil
	}
	if !isNotFoundError(err) {
		return nil, mapBookingRepoError(err)
	}

	actor := booking.Actor{UserID: principal.UserID, Relation: booking.RelationClient}
	outcome, err := s.machine.Decide(stateOf(bkg, detail, nil), booking.EventRequest, actor, now)
	if err != nil {
		return nil, err
	}

	row := persistence.BookingParticipant{
		ID:            s.idGenerator(),
		BookingID:     bkg.ID,
		UserID:        principal.UserID,
		Role:          string(booking.RoleParticipant),
		Status:        string(outcome.Participant.Status),
		PaymentStatus: string(outcome.Participant.Payment),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	transition := s.transitionRow(bkg.ID, &row.ID, booking.EventRequest, "", row.Status, actor, "", now)
	if err := s.participants.CreateParticipant(ctx, row, transition); err != nil {
		if !errors.Is(err, persistence.ErrDuplicate) {
			return nil, mapBookingRepoError(err)
		}
		// A concurrent join from the same account created the row first.
		raced, racedErr := s.participants.GetParticipantByUser(ctx, bkg.ID, principal.UserID)
		if racedErr != nil {
			return nil, mapBookingRepoError(racedErr)
		}
		if raced.Status != string(booking.ParticipantAwaitingPayment) {
			return nil, ErrAlreadyExists
		}
		return &raced, nil
	}
	return &row, nil
}

// compensateLostSeat unwinds the authorization of a join whose seat
// mutation lost the capacity race. The hold and its release are recorded
// standalone because no state change carries them.
func (s *BookingService) compensateLostSeat(ctx context.Context, bkg persistence.Booking, detail persistence.BookingDetail, participant *persistence.BookingParticipant, res PaymentResult) error {
	full := &booking.GuardError{Event: booking.EventClientPay, Code: booking.GuardCapacityFull, Detail: "no seats remain"}
	if current, detailErr := s.bookings.GetBookingDetail(ctx, bkg.ID); detailErr == nil && current.PublicGroup != nil &&
		current.PublicGroup.CapacityStatus == string(booking.CapacityClosed) {
		full = &booking.GuardError{Event: booking.EventClientPay, Code: booking.GuardCapacityClosed, Detail: "joining is closed"}
	}
	if res.Replayed {
		// The ledger already held this authorization; nothing new to unwind.
		return full
	}

	logger := s.loggerWith(ctx, "JoinPublicGroup",
		"booking_id", bkg.ID,
		"participant_id", participant.ID,
	)

	participantID := participant.ID
	target := PaymentTarget{
		BookingID:     bkg.ID,
		ParticipantID: &participantID,
		PayerID:       participant.UserID,
		GatewayRef:    res.GatewayRef,
	}
	if detail.PublicGroup != nil {
		target.AmountCents = detail.PublicGroup.PricePerPersonCents
		target.Currency = detail.PublicGroup.Currency
	}

	released, relErr := s.payments.ReleaseAuthorization(ctx, target, releaseKey(participantID))
	if relErr != nil {
		// The hold stays open; a retried join reuses it through the same
		// idempotency key, and the processor expires it otherwise.
		logger.WarnContext(ctx, "failed to release authorization after losing the last seat", "error", relErr)
		return full
	}

	rows := append(append([]persistence.BookingPayment{}, res.Rows...), released.Rows...)
	if recErr := s.payments.RecordRows(ctx, rows); recErr != nil {
		logger.WarnContext(ctx, "failed to record compensation ledger rows", "error", recErr)
	}
	return full
}

// Cancel withdraws a booking, or a single public-group seat when a
// participant is addressed. Money held for the cancelled scope is released
// or refunded as its payment state requires; cancelling a whole public
// group settles every seat.
func (s *BookingService) Cancel(ctx context.Context, params CancelParams) (result BookingResult, err error) {
	if s == nil {
		err = fmt.Errorf("BookingService is nil")
		return
	}
	if s.bookings == nil {
		err = fmt.Errorf("booking repository not configured")
		return
	}
	if s.payments == nil {
		err = fmt.Errorf("payment orchestrator not configured")
		return
	}

	principal := params.Principal
	logger := s.loggerWith(ctx, "Cancel",
		"booking_id", params.BookingID,
		"user_id", principal.UserID,
	)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "cancellation failed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With(
			"approval_status", result.Booking.ApprovalStatus,
		).InfoContext(ctx, "cancellation applied")
	}()

	if err = s.payments.AcquireBookingLock(ctx, params.BookingID); err != nil {
		return
	}
	defer s.payments.ReleaseBookingLock(ctx, params.BookingID)

	bkg, detail, err := s.loadBooking(ctx, params.BookingID)
	if err != nil {
		return
	}
	relation, err := s.relationOf(ctx, principal, bkg, detail)
	if err != nil {
		return
	}
	if relation == "" {
		err = ErrForbidden
		return
	}

	var participant *persistence.BookingParticipant
	if params.ParticipantID != nil {
		participant, err = s.loadParticipant(ctx, bkg.ID, *params.ParticipantID)
		if err != nil {
			return
		}
		if !principal.IsService && relation != booking.RelationCoach && participant.UserID != principal.UserID {
			err = ErrForbidden
			return
		}
	}

	now := s.now()
	actor := actorFor(principal, relation)
	outcome, err := s.machine.Decide(stateOf(bkg, detail, participant), booking.EventCancel, actor, now)
	if err != nil {
		return
	}

	var transitions []persistence.BookingStateTransition
	if participant != nil {
		transitions = append(transitions, s.transitionRow(bkg.ID, &participant.ID, booking.EventCancel, participant.Status, string(outcome.Participant.Status), actor, outcome.CancelReason, now))
	} else {
		transitions = append(transitions, s.transitionRow(bkg.ID, nil, booking.EventCancel, bkg.ApprovalStatus, string(outcome.Approval), actor, outcome.CancelReason, now))
	}

	var payments []persistence.BookingPayment
	var cascades []persistence.ParticipantChange
	var roster []persistence.BookingParticipant

	if outcome.Money == booking.MoneySettleParticipants {
		if detail.PublicGroup == nil {
			err = &booking.IntegrityError{Detail: "participant settlement without a public group detail"}
			return
		}
		roster, err = s.roster(ctx, bkg.ID)
		if err != nil {
			return
		}
		settlements, settleErr := s.payments.SettleParticipants(ctx, *detail.PublicGroup, roster)
		if settleErr != nil {
			err = settleErr
			return
		}
		var cascadeTransitions []persistence.BookingStateTransition
		cascades, cascadeTransitions = s.settleCascade(roster, settlements, actor, outcome.CancelReason, now)
		transitions = append(transitions, cascadeTransitions...)
	} else {
		res, moneyErr := s.performMoney(ctx, outcome.Money, bkg, detail, participant, "")
		if moneyErr != nil {
			err = moneyErr
			return
		}
		payments = res.Rows

		if outcome.Cascade != booking.CascadeNone {
			roster, err = s.roster(ctx, bkg.ID)
			if err != nil {
				return
			}
			exclude := ""
			if participant != nil {
				exclude = participant.ID
			}
			var cascadeTransitions []persistence.BookingStateTransition
			cascades, cascadeTransitions = s.cascadeChanges(outcome.Cascade, roster, exclude, booking.EventCancel, actor, outcome.CancelReason, now)
			transitions = append(transitions, cascadeTransitions...)
		}
	}

	mutation := persistence.BookingMutation{
		BookingID:   bkg.ID,
		BookingType: bkg.Type,
		Now:         now,
		Booking:     bookingChangeFor(bkg, outcome, actor, now),
		Detail:      detailChangeFor(detail, outcome, ""),
		Participant: participantChangeFor(participant, outcome, "", now),
		Cascade:     cascades,
		Payments:    payments,
		Transitions: transitions,
	}
	if err = s.bookings.ApplyMutation(ctx, mutation); err != nil {
		err = mapBookingRepoError(err)
		return
	}

	refreshedBooking, refreshedDetail, err := s.loadBooking(ctx, bkg.ID)
	if err != nil {
		return
	}

	s.publishNotifications(ctx, refreshedBooking, refreshedDetail, participant, roster, outcome.Notifications, now)
	s.warnings.Invalidate()
	result = BookingResult{Booking: refreshedBooking, Detail: refreshedDetail}
	return
}

// MarkComplete finalizes fulfillment once the scheduled end has passed. A
// booking that is already completed is returned unchanged so coach and
// sweeper calls can overlap without conflict.
func (s *BookingService) MarkComplete(ctx context.Context, params MarkCompleteParams) (result BookingResult, err error) {
	if s == nil {
		err = fmt.Errorf("BookingService is nil")
		return
	}
	if s.bookings == nil {
		err = fmt.Errorf("booking repository not configured")
		return
	}
	if s.payments == nil {
		err = fmt.Errorf("payment orchestrator not configured")
		return
	}

	principal := params.Principal
	logger := s.loggerWith(ctx, "MarkComplete",
		"booking_id", params.BookingID,
		"user_id", principal.UserID,
	)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "completion failed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With(
			"fulfillment_status", result.Booking.FulfillmentStatus,
		).InfoContext(ctx, "completion applied")
	}()

	if err = s.payments.AcquireBookingLock(ctx, params.BookingID); err != nil {
		return
	}
	defer s.payments.ReleaseBookingLock(ctx, params.BookingID)

	bkg, detail, err := s.loadBooking(ctx, params.BookingID)
	if err != nil {
		return
	}
	relation, err := s.relationOf(ctx, principal, bkg, detail)
	if err != nil {
		return
	}
	if relation == "" {
		err = ErrForbidden
		return
	}

	now := s.now()
	actor := actorFor(principal, relation)
	outcome, err := s.machine.Decide(stateOf(bkg, detail, nil), booking.EventMarkComplete, actor, now)
	if err != nil {
		return
	}
	if outcome.NoOp {
		result = BookingResult{Booking: bkg, Detail: detail}
		return
	}

	transitions := []persistence.BookingStateTransition{
		s.transitionRow(bkg.ID, nil, booking.EventMarkComplete, bkg.FulfillmentStatus, string(outcome.Fulfillment), actor, "", now),
	}

	var cascades []persistence.ParticipantChange
	if outcome.Cascade != booking.CascadeNone {
		roster, rosterErr := s.roster(ctx, bkg.ID)
		if rosterErr != nil {
			err = rosterErr
			return
		}
		var cascadeTransitions []persistence.BookingStateTransition
		cascades, cascadeTransitions = s.cascadeChanges(outcome.Cascade, roster, "", booking.EventMarkComplete, actor, "", now)
		transitions = append(transitions, cascadeTransitions...)
	}

	mutation := persistence.BookingMutation{
		BookingID:   bkg.ID,
		BookingType: bkg.Type,
		Now:         now,
		Booking:     bookingChangeFor(bkg, outcome, actor, now),
		Detail:      detailChangeFor(detail, outcome, ""),
		Cascade:     cascades,
		Transitions: transitions,
	}
	if err = s.bookings.ApplyMutation(ctx, mutation); err != nil {
		err = mapBookingRepoError(err)
		return
	}

	refreshedBooking, refreshedDetail, err := s.loadBooking(ctx, bkg.ID)
	if err != nil {
		return
	}

	s.publishNotifications(ctx, refreshedBooking, refreshedDetail, nil, nil, outcome.Notifications, now)
	s.warnings.Invalidate()
	result = BookingResult{Booking: refreshedBooking, Detail: refreshedDetail}
	return
}

// Dispute freezes payout eligibility of a paid booking pending external
// resolution. Money stays captured; resolution happens outside the
// marketplace.
func (s *BookingService) Dispute(ctx context.Context, params DisputeParams) (result BookingResult, err error) {
	if s == nil {
		err = fmt.Errorf("BookingService is nil")
		return
	}
	if s.bookings == nil {
		err = fmt.Errorf("booking repository not configured")
		return
	}
	if s.payments == nil {
		err = fmt.Errorf("payment orchestrator not configured")
		return
	}

	principal := params.Principal
	logger := s.loggerWith(ctx, "Dispute",
		"booking_id", params.BookingID,
		"user_id", principal.UserID,
	)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "dispute failed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "dispute recorded")
	}()

	if err = s.payments.AcquireBookingLock(ctx, params.BookingID); err != nil {
		return
	}
	defer s.payments.ReleaseBookingLock(ctx, params.BookingID)

	bkg, detail, err := s.loadBooking(ctx, params.BookingID)
	if err != nil {
		return
	}
	relation, err := s.relationOf(ctx, principal, bkg, detail)
	if err != nil {
		return
	}
	if relation == "" {
		err = ErrForbidden
		return
	}

	now := s.now()
	actor := actorFor(principal, relation)
	outcome, err := s.machine.Decide(stateOf(bkg, detail, nil), booking.EventDispute, actor, now)
	if err != nil {
		return
	}

	mutation := persistence.BookingMutation{
		BookingID:   bkg.ID,
		BookingType: bkg.Type,
		Now:         now,
		Booking:     bookingChangeFor(bkg, outcome, actor, now),
		Transitions: []persistence.BookingStateTransition{
			s.transitionRow(bkg.ID, nil, booking.EventDispute, bkg.FulfillmentStatus, string(outcome.Fulfillment), actor, "", now),
		},
	}
	if err = s.bookings.ApplyMutation(ctx, mutation); err != nil {
		err = mapBookingRepoError(err)
		return
	}

	refreshedBooking, refreshedDetail, err := s.loadBooking(ctx, bkg.ID)
	if err != nil {
		return
	}

	s.publishNotifications(ctx, refreshedBooking, refreshedDetail, nil, nil, outcome.Notifications, now)
	s.warnings.Invalidate()
	result = BookingResult{Booking: refreshedBooking, Detail: refreshedDetail}
	return
}

func (s *BookingService) loadBooking(ctx context.Context, bookingID string) (persistence.Booking, persistence.BookingDetail, error) {
	bkg, err := s.bookings.GetBooking(ctx, bookingID)
	if err != nil {
		return persistence.Booking{}, persistence.BookingDetail{}, mapBookingRepoError(err)
	}
	detail, err := s.bookings.GetBookingDetail(ctx, bookingID)
	if err != nil {
		return persistence.Booking{}, persistence.BookingDetail{}, mapBookingRepoError(err)
	}
	return bkg, detail, nil
}

func (s *BookingService) loadParticipant(ctx context.Context, bookingID, participantID string) (*persistence.BookingParticipant, error) {
	if s.participants == nil {
		return nil, fmt.Errorf("participant repository not configured")
	}
	row, err := s.participants.GetParticipant(ctx, participantID)
	if err != nil {
		return nil, mapBookingRepoError(err)
	}
	if row.BookingID != bookingID {
		return nil, ErrNotFound
	}
	return &row, nil
}

func (s *BookingService) roster(ctx context.Context, bookingID string) ([]persistence.BookingParticipant, error) {
	if s.participants == nil {
		return nil, fmt.Errorf("participant repository not configured")
	}
	rows, err := s.participants.ListParticipants(ctx, bookingID)
	if err != nil {
		if isNotFoundError(err) {
			return nil, nil
		}
		return nil, mapBookingRepoError(err)
	}
	return rows, nil
}

// performMoney runs the gateway step an outcome demands and returns the
// succeeded rows to persist with the transition. Whole-group settlement is
// driven by the cancel path directly.
func (s *BookingService) performMoney(ctx context.Context, money booking.MoneyEffect, bkg persistence.Booking, detail persistence.BookingDetail, participant *persistence.BookingParticipant, cardToken string) (PaymentResult, error) {
	if money == booking.MoneyNone {
		return PaymentResult{}, nil
	}
	if s.payments == nil {
		return PaymentResult{}, fmt.Errorf("payment orchestrator not configured")
	}

	target, err := paymentTargetFor(bkg, detail, participant, cardToken)
	if err != nil {
		return PaymentResult{}, err
	}

	scopeID := bkg.ID
	if participant != nil {
		scopeID = participant.ID
	}

	switch money {
	case booking.MoneyCharge:
		return s.payments.AuthorizeOrCharge(ctx, target, chargeKey(bkg.ID))
	case booking.MoneyAuthorize:
		if participant == nil {
			return PaymentResult{}, &booking.IntegrityError{Detail: "authorization hold requires a participant row"}
		}
		return s.payments.AuthorizeOrCharge(ctx, target, authorizeKey(participant.ID))
	case booking.MoneyCapture:
		if participant == nil {
			return PaymentResult{}, &booking.IntegrityError{Detail: "capture requires a participant row"}
		}
		if target.GatewayRef == "" {
			return PaymentResult{}, &booking.IntegrityError{Detail: "participant holds no gateway reference"}
		}
		return s.payments.CaptureOnAcceptance(ctx, target, captureKey(participant.ID))
	case booking.MoneyRelease:
		if target.GatewayRef == "" {
			return PaymentResult{}, &booking.IntegrityError{Detail: "no authorization to release"}
		}
		return s.payments.ReleaseAuthorization(ctx, target, releaseKey(scopeID))
	case booking.MoneyRefund:
		if target.GatewayRef == "" {
			return PaymentResult{}, &booking.IntegrityError{Detail: "no capture to refund"}
		}
		return s.payments.Refund(ctx, target, refundKey(scopeID))
	}
	return PaymentResult{}, fmt.Errorf("unsupported money effect %q", money)
}

// paymentTargetFor names the money a transition acts on: the addressed
// seat for participant events, the booking's payer detail otherwise.
func paymentTargetFor(bkg persistence.Booking, detail persistence.BookingDetail, participant *persistence.BookingParticipant, cardToken string) (PaymentTarget, error) {
	target := PaymentTarget{
		BookingID:   bkg.ID,
		CardToken:   cardToken,
		Description: fmt.Sprintf("coaching session %s", bkg.ID),
	}

	if participant != nil {
		if detail.PublicGroup == nil {
			return PaymentTarget{}, &booking.IntegrityError{Detail: "participant payment without a public group detail"}
		}
		participantID := participant.ID
		target.ParticipantID = &participantID
		target.PayerID = participant.UserID
		target.AmountCents = detail.PublicGroup.PricePerPersonCents
		target.Currency = detail.PublicGroup.Currency
		if participant.GatewayRef != nil {
			target.GatewayRef = *participant.GatewayRef
		}
		return target, nil
	}

	switch {
	case detail.Individual != nil:
		target.PayerID = detail.Individual.ClientID
		target.AmountCents = detail.Individual.Price.ClientChargeCents
		target.Currency = detail.Individual.Currency
		if detail.Individual.GatewayRef != nil {
			target.GatewayRef = *detail.Individual.GatewayRef
		}
	case detail.PrivateGroup != nil:
		target.PayerID = detail.PrivateGroup.OrganizerID
		target.AmountCents = detail.PrivateGroup.Price.ClientChargeCents
		target.Currency = detail.PrivateGroup.Currency
		if detail.PrivateGroup.GatewayRef != nil {
			target.GatewayRef = *detail.PrivateGroup.GatewayRef
		}
	default:
		return PaymentTarget{}, &booking.IntegrityError{Detail: "booking level payment without a payer detail"}
	}
	return target, nil
}

func actorFor(principal Principal, relation booking.Relation) booking.Actor {
	if principal.IsService {
		return booking.System()
	}
	return booking.Actor{UserID: principal.UserID, Relation: relation}
}

func (s *BookingService) transitionRow(bookingID string, participantID *string, event booking.Event, from, to string, actor booking.Actor, reason string, now time.Time) persistence.BookingStateTransition {
	row := persistence.BookingStateTransition{
		ID:            s.idGenerator(),
		BookingID:     bookingID,
		ParticipantID: participantID,
		Event:         string(event),
		FromState:     from,
		ToState:       to,
		ActorRelation: string(actor.Relation),
		OccurredAt:    now,
	}
	if actor.Relation != booking.RelationSystem {
		actorID := actor.UserID
		row.ActorID = &actorID
	}
	if reason != "" {
		reasonCopy := reason
		row.Reason = &reasonCopy
	}
	return row
}

// bookingChangeFor translates an outcome into the guarded booking row
// update, or nil when the booking axes are untouched.
func bookingChangeFor(bkg persistence.Booking, outcome booking.Outcome, actor booking.Actor, now time.Time) *persistence.BookingChange {
	change := &persistence.BookingChange{
		ExpectApproval:    bkg.ApprovalStatus,
		ExpectFulfillment: bkg.FulfillmentStatus,
	}
	changed := false

	if string(outcome.Approval) != bkg.ApprovalStatus {
		approval := string(outcome.Approval)
		change.SetApproval = &approval
		changed = true
	}
	if string(outcome.Fulfillment) != bkg.FulfillmentStatus {
		fulfillment := string(outcome.Fulfillment)
		change.SetFulfillment = &fulfillment
		changed = true
	}
	if outcome.SetCoachRespondedAt {
		respondedAt := now
		change.SetCoachRespondedAt = &respondedAt
		changed = true
	}
	if change.SetApproval != nil && *change.SetApproval == string(booking.ApprovalCancelled) {
		cancelledBy := actor.UserID
		cancelledAt := now
		change.SetCancelledBy = &cancelledBy
		change.SetCancelledAt = &cancelledAt
		if outcome.CancelReason != "" {
			reason := outcome.CancelReason
			change.SetCancellationReason = &reason
		}
	}

	if !changed {
		return nil
	}
	return change
}

// detailChangeFor translates an outcome into the detail row update, or
// nil when nothing on the detail changes. gatewayRef is stamped when a
// booking level charge produced a new processor object.
func detailChangeFor(detail persistence.BookingDetail, outcome booking.Outcome, gatewayRef string) *persistence.DetailChange {
	change := &persistence.DetailChange{}
	changed := false

	switch {
	case detail.Individual != nil, detail.PrivateGroup != nil:
		current := currentPaymentStatus(detail)
		if outcome.Payment != booking.PaymentNone && string(outcome.Payment) != current {
			payment := string(outcome.Payment)
			change.SetPaymentStatus = &payment
			changed = true
			if payment == string(booking.PaymentCaptured) {
				change.ClearPaymentDueAt = true
			}
		}
		if !outcome.PaymentDue.IsZero() {
			due := outcome.PaymentDue
			change.SetPaymentDueAt = &due
			changed = true
		}
		if gatewayRef != "" {
			ref := gatewayRef
			change.SetGatewayRef = &ref
			changed = true
		}
	case detail.PublicGroup != nil:
		if outcome.Capacity != booking.CapacityNone && string(outcome.Capacity) != detail.PublicGroup.CapacityStatus {
			capacity := string(outcome.Capacity)
			change.SetCapacityStatus = &capacity
			changed = true
		}
	}

	if !changed {
		return nil
	}
	return change
}

// participantChangeFor translates an outcome into the guarded update of
// the addressed participant row, or nil when no row was addressed.
func participantChangeFor(participant *persistence.BookingParticipant, outcome booking.Outcome, gatewayRef string, now time.Time) *persistence.ParticipantChange {
	if participant == nil || outcome.Participant == nil {
		return nil
	}

	change := &persistence.ParticipantChange{
		ID:            participant.ID,
		ExpectStatus:  participant.Status,
		ExpectPayment: participant.PaymentStatus,
		SetStatus:     string(outcome.Participant.Status),
		SetPayment:    string(outcome.Participant.Payment),
	}
	if gatewayRef != "" {
		ref := gatewayRef
		change.SetGatewayRef = &ref
	}
	if !outcome.HoldExpires.IsZero() {
		expires := outcome.HoldExpires
		change.SetHoldExpiresAt = &expires
	} else if participant.PaymentStatus == string(booking.ParticipantPaymentAuthorized) &&
		outcome.Participant.Payment != booking.ParticipantPaymentAuthorized {
		change.ClearHoldExpiresAt = true
	}
	if outcome.Participant.Status == booking.ParticipantCancelled && participant.Status != string(booking.ParticipantCancelled) {
		cancelledAt := now
		change.SetCancelledAt = &cancelledAt
	}
	return change
}

// cascadeChanges expands a bulk participant move into guarded row updates
// with their audit transitions. The addressed participant is excluded;
// its change is carried separately.
func (s *BookingService) cascadeChanges(cascade booking.Cascade, roster []persistence.BookingParticipant, excludeID string, event booking.Event, actor booking.Actor, reason string, now time.Time) ([]persistence.ParticipantChange, []persistence.BookingStateTransition) {
	if cascade == booking.CascadeNone || len(roster) == 0 {
		return nil, nil
	}

	changes := make([]persistence.ParticipantChange, 0, len(roster))
	transitions := make([]persistence.BookingStateTransition, 0, len(roster))

	for _, row := range roster {
		if row.ID == excludeID {
			continue
		}
		status := booking.ParticipantStatus(row.Status)
		payment := booking.ParticipantPaymentStatus(row.PaymentStatus)

		var toStatus booking.ParticipantStatus
		toPayment := payment
		switch cascade {
		case booking.CascadeAwaitPayment:
			if status != booking.ParticipantRequested {
				continue
			}
			toStatus = booking.ParticipantAwaitingPayment
		case booking.CascadeCaptured:
			if status != booking.ParticipantRequested && status != booking.ParticipantAwaitingPayment {
				continue
			}
			toStatus = booking.ParticipantAccepted
			toPayment = booking.ParticipantPaymentCaptured
		case booking.CascadeDeclined:
			if status.Terminal() {
				continue
			}
			toStatus = booking.ParticipantDeclined
			if payment == booking.ParticipantPaymentAuthorized {
				toPayment = booking.ParticipantPaymentCancelled
			}
		case booking.CascadeCancelled:
			if status.Terminal() {
				continue
			}
			toStatus = booking.ParticipantCancelled
			switch payment {
			case booking.ParticipantPaymentAuthorized:
				toPayment = booking.ParticipantPaymentCancelled
			case booking.ParticipantPaymentCaptured:
				toPayment = booking.ParticipantPaymentRefunded
			}
		case booking.CascadeCompleted:
			if status != booking.ParticipantAccepted {
				continue
			}
			toStatus = booking.ParticipantCompleted
		default:
			continue
		}

		change := persistence.ParticipantChange{
			ID:            row.ID,
			ExpectStatus:  row.Status,
			ExpectPayment: row.PaymentStatus,
			SetStatus:     string(toStatus),
			SetPayment:    string(toPayment),
		}
		if toStatus == booking.ParticipantCancelled {
			cancelledAt := now
			change.SetCancelledAt = &cancelledAt
		}
		if payment == booking.ParticipantPaymentAuthorized && toPayment != booking.ParticipantPaymentAuthorized {
			change.ClearHoldExpiresAt = true
		}
		changes = append(changes, change)

		participantID := row.ID
		transitions = append(transitions, s.transitionRow(row.BookingID, &participantID, event, row.Status, string(toStatus), actor, reason, now))
	}
	return changes, transitions
}

// settleCascade pairs settlement results with the roster for a whole
// group cancellation: settled seats move to cancelled with their final
// payment state, seats that never held money are cancelled in place, and
// seats whose settlement failed keep their state for the hold sweeper.
func (s *BookingService) settleCascade(roster []persistence.BookingParticipant, settlements []ParticipantSettlement, actor booking.Actor, reason string, now time.Time) ([]persistence.ParticipantChange, []persistence.BookingStateTransition) {
	settled := make(map[string]booking.ParticipantPaymentStatus, len(settlements))
	for _, settlement := range settlements {
		settled[settlement.Participant.ID] = settlement.Payment
	}

	changes := make([]persistence.ParticipantChange, 0, len(roster))
	transitions := make([]persistence.BookingStateTransition, 0, len(roster))

	for _, row := range roster {
		if booking.ParticipantStatus(row.Status).Terminal() {
			continue
		}

		change := persistence.ParticipantChange{
			ID:            row.ID,
			ExpectStatus:  row.Status,
			ExpectPayment: row.PaymentStatus,
			SetStatus:     string(booking.ParticipantCancelled),
		}
		cancelledAt := now
		change.SetCancelledAt = &cancelledAt

		if payment, ok := settled[row.ID]; ok {
			change.SetPayment = string(payment)
			if row.PaymentStatus == string(booking.ParticipantPaymentAuthorized) {
				change.ClearHoldExpiresAt = true
			}
		} else {
			switch booking.ParticipantPaymentStatus(row.PaymentStatus) {
			case booking.ParticipantPaymentAuthorized, booking.ParticipantPaymentCaptured:
				// Settlement failed; the seat keeps its money state.
				continue
			default:
				change.SetPayment = row.PaymentStatus
			}
		}
		changes = append(changes, change)

		participantID := row.ID
		transitions = append(transitions, s.transitionRow(row.BookingID, &participantID, booking.EventCancel, row.Status, change.SetStatus, actor, reason, now))
	}
	return changes, transitions
}

func currentPaymentStatus(detail persistence.BookingDetail) string {
	switch {
	case detail.Individual != nil:
		return detail.Individual.PaymentStatus
	case detail.PrivateGroup != nil:
		return detail.PrivateGroup.PaymentStatus
	}
	return ""
}
