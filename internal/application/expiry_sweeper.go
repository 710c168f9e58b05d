package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/coaching-marketplace/internal/booking"
	"github.com/example/coaching-marketplace/internal/persistence"
)

// DeadlineStore lists bookings whose deadlines have elapsed.
type DeadlineStore interface {
	ListUnansweredPastDeadline(ctx context.Context, now time.Time, limit int) ([]string, error)
	ListUnpaidPastDeadline(ctx context.Context, now time.Time, limit int) ([]string, error)
	ListElapsedUncompleted(ctx context.Context, now time.Time, limit int) ([]string, error)
}

// HoldStore lists participant rows whose authorization holds have elapsed.
type HoldStore interface {
	ListHoldsPastDeadline(ctx context.Context, now time.Time, limit int) ([]persistence.BookingParticipant, error)
}

const defaultSweepLimit = 100

// ExpirySweeper drives the deadline transitions: unanswered requests
// expire, unpaid bookings cancel, unadmitted authorization holds release,
// and elapsed sessions complete. Each record is handled independently
// under the booking's advisory lock, so a crash mid-pass leaves the rest
// for the next run.
type ExpirySweeper struct {
	service   *BookingService
	deadlines DeadlineStore
	holds     HoldStore
	limit     int
	now       func() time.Time
	logger    *slog.Logger
}

// SweepReport counts what one pass did.
type SweepReport struct {
	Expired   int
	Cancelled int
	Released  int
	Completed int
	Skipped   int
	Failed    int
}

// NewExpirySweeper creates a sweeper over the given service and stores.
// limit caps how many records each phase handles per pass; zero or
// negative selects the default.
func NewExpirySweeper(service *BookingService, deadlines DeadlineStore, holds HoldStore, limit int) *ExpirySweeper {
	return NewExpirySweeperWithLogger(service, deadlines, holds, limit, nil, nil)
}

// NewExpirySweeperWithLogger creates a sweeper with an explicit clock and
// logger. The list queries and the transitions they feed must agree on the
// time, so now should match the service's clock.
func NewExpirySweeperWithLogger(service *BookingService, deadlines DeadlineStore, holds HoldStore, limit int, now func() time.Time, logger *slog.Logger) *ExpirySweeper {
	if limit <= 0 {
		limit = defaultSweepLimit
	}
	if now == nil {
		now = time.Now
	}
	return &ExpirySweeper{
		service:   service,
		deadlines: deadlines,
		holds:     holds,
		limit:     limit,
		now:       now,
		logger:    logger,
	}
}

func (w *ExpirySweeper) loggerWith(ctx context.Context, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, w.logger, "ExpirySweeper", "RunOnce", attrs...)
}

// RunOnce executes one sweep pass. Individual record failures are logged
// and counted, never fatal; the returned error joins the list queries
// that could not run at all.
func (w *ExpirySweeper) RunOnce(ctx context.Context) (SweepReport, error) {
	report := SweepReport{}
	if w == nil || w.service == nil {
		return report, fmt.Errorf("ExpirySweeper is not configured")
	}
	if w.deadlines == nil || w.holds == nil {
		return report, fmt.Errorf("sweep stores not configured")
	}

	logger := w.loggerWith(ctx)
	started := w.now()
	var listErrs []error

	if ids, err := w.deadlines.ListUnansweredPastDeadline(ctx, started, w.limit); err != nil {
		listErrs = append(listErrs, fmt.Errorf("list unanswered: %w", err))
	} else {
		for _, id := range ids {
			applied, err := w.service.expireUnanswered(ctx, id)
			w.classify(ctx, &report, &report.Expired, applied, err, "expire unanswered booking", id)
		}
	}

	if ids, err := w.deadlines.ListUnpaidPastDeadline(ctx, started, w.limit); err != nil {
		listErrs = append(listErrs, fmt.Errorf("list unpaid: %w", err))
	} else {
		for _, id := range ids {
			applied, err := w.service.expireUnpaid(ctx, id)
			w.classify(ctx, &report, &report.Cancelled, applied, err, "cancel unpaid booking", id)
		}
	}

	if rows, err := w.holds.ListHoldsPastDeadline(ctx, started, w.limit); err != nil {
		listErrs = append(listErrs, fmt.Errorf("list holds: %w", err))
	} else {
		for _, row := range rows {
			applied, err := w.service.expireHold(ctx, row)
			w.classify(ctx, &report, &report.Released, applied, err, "release elapsed hold", row.BookingID)
		}
	}

	if ids, err := w.deadlines.ListElapsedUncompleted(ctx, started, w.limit); err != nil {
		listErrs = append(listErrs, fmt.Errorf("list elapsed: %w", err))
	} else {
		for _, id := range ids {
			_, err := w.service.MarkComplete(ctx, MarkCompleteParams{
				Principal: Principal{UserID: booking.System().UserID, IsService: true},
				BookingID: id,
			})
			w.classify(ctx, &report, &report.Completed, err == nil, err, "complete elapsed booking", id)
		}
	}

	logger.With(
		"expired", report.Expired,
		"cancelled", report.Cancelled,
		"released", report.Released,
		"completed", report.Completed,
		"skipped", report.Skipped,
		"failed", report.Failed,
		"duration_ms", w.now().Sub(started).Milliseconds(),
	).InfoContext(ctx, "sweep pass finished")

	return report, errors.Join(listErrs...)
}

// classify buckets one record's outcome. Guard and transition rejections
// mean the state moved on between the list query and the lock; a held
// lock means another writer is on the booking. Both resolve themselves,
// so they count as skipped rather than failed.
func (w *ExpirySweeper) classify(ctx context.Context, report *SweepReport, counter *int, applied bool, err error, action, bookingID string) {
	if err == nil {
		if applied {
			*counter++
		} else {
			report.Skipped++
		}
		return
	}

	var guardErr *booking.GuardError
	var transitionErr *booking.TransitionError
	switch {
	case errors.As(err, &guardErr),
		errors.As(err, &transitionErr),
		errors.Is(err, ErrConcurrencyConflict),
		errors.Is(err, ErrNotFound):
		report.Skipped++
		return
	}

	report.Failed++
	w.loggerWith(ctx, "booking_id", bookingID).
		ErrorContext(ctx, "failed to "+action, "error", err, "error_kind", ErrorKind(err))
}

// expireUnanswered expires a request whose coach response window has
// elapsed. Returns false without error when another writer already moved
// the booking on.
func (s *BookingService) expireUnanswered(ctx context.Context, bookingID string) (applied bool, err error) {
	if err = s.payments.AcquireBookingLock(ctx, bookingID); err != nil {
		return
	}
	defer s.payments.ReleaseBookingLock(ctx, bookingID)

	bkg, detail, err := s.loadBooking(ctx, bookingID)
	if err != nil {
		return
	}

	now := s.now()
	actor := booking.System()
	outcome, err := s.machine.Decide(stateOf(bkg, detail, nil), booking.EventExpireUnanswered, actor, now)
	if err != nil {
		return
	}
	if outcome.NoOp {
		return false, nil
	}

	transitions := []persistence.BookingStateTransition{
		s.transitionRow(bkg.ID, nil, booking.EventExpireUnanswered, bkg.ApprovalStatus, string(outcome.Approval), actor, "", now),
	}

	var cascades []persistence.ParticipantChange
	if outcome.Cascade != booking.CascadeNone {
		roster, rosterErr := s.roster(ctx, bkg.ID)
		if rosterErr != nil {
			err = rosterErr
			return
		}
		var cascadeTransitions []persistence.BookingStateTransition
		cascades, cascadeTransitions = s.cascadeChanges(outcome.Cascade, roster, "", booking.EventExpireUnanswered, actor, "", now)
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
	return true, nil
}

// expireUnpaid cancels an accepted booking whose payment window has
// elapsed. A charge that half-succeeded before a crash is reconciled
// first: a dangling authorization is released with the cancellation,
// while a completed capture leaves the booking for payment replay.
func (s *BookingService) expireUnpaid(ctx context.Context, bookingID string) (applied bool, err error) {
	if err = s.payments.AcquireBookingLock(ctx, bookingID); err != nil {
		return
	}
	defer s.payments.ReleaseBookingLock(ctx, bookingID)

	bkg, detail, err := s.loadBooking(ctx, bookingID)
	if err != nil {
		return
	}

	now := s.now()
	actor := booking.System()
	outcome, err := s.machine.Decide(stateOf(bkg, detail, nil), booking.EventExpireUnpaid, actor, now)
	if err != nil {
		return
	}
	if outcome.NoOp {
		return false, nil
	}

	extraRows, skip, err := s.reconcileDanglingCharge(ctx, bkg, detail)
	if err != nil || skip {
		return
	}

	res, err := s.performMoney(ctx, outcome.Money, bkg, detail, nil, "")
	if err != nil {
		return
	}

	transitions := []persistence.BookingStateTransition{
		s.transitionRow(bkg.ID, nil, booking.EventExpireUnpaid, bkg.ApprovalStatus, string(outcome.Approval), actor, outcome.CancelReason, now),
	}

	var cascades []persistence.ParticipantChange
	if outcome.Cascade != booking.CascadeNone {
		roster, rosterErr := s.roster(ctx, bkg.ID)
		if rosterErr != nil {
			err = rosterErr
			return
		}
		var cascadeTransitions []persistence.BookingStateTransition
		cascades, cascadeTransitions = s.cascadeChanges(outcome.Cascade, roster, "", booking.EventExpireUnpaid, actor, outcome.CancelReason, now)
		transitions = append(transitions, cascadeTransitions...)
	}

	mutation := persistence.BookingMutation{
		BookingID:   bkg.ID,
		BookingType: bkg.Type,
		Now:         now,
		Booking:     bookingChangeFor(bkg, outcome, actor, now),
		Detail:      detailChangeFor(detail, outcome, ""),
		Cascade:     cascades,
		Payments:    append(extraRows, res.Rows...),
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
	return true, nil
}

// reconcileDanglingCharge inspects the payment ledger for a charge that
// authorized but never finished. The orphan hold is released and its rows
// returned to ride the cancellation. skip is set when the ledger shows the
// capture actually completed: cancelling then would drop captured money,
// so the booking is left for the payer's replay to land the captured
// state.
func (s *BookingService) reconcileDanglingCharge(ctx context.Context, bkg persistence.Booking, detail persistence.BookingDetail) (rows []persistence.BookingPayment, skip bool, err error) {
	authRow, ok, err := s.payments.SucceededPayment(ctx, chargeKey(bkg.ID)+":auth")
	if err != nil || !ok {
		return nil, false, err
	}

	_, captured, err := s.payments.SucceededPayment(ctx, chargeKey(bkg.ID))
	if err != nil {
		return nil, false, err
	}
	if captured {
		s.loggerWith(ctx, "ExpireUnpaid", "booking_id", bkg.ID).
			WarnContext(ctx, "captured charge found on an unpaid booking, leaving it for payment replay")
		return nil, true, nil
	}

	target, err := paymentTargetFor(bkg, detail, nil, "")
	if err != nil {
		return nil, false, err
	}
	target.GatewayRef = authRow.GatewayRef

	res, err := s.payments.ReleaseAuthorization(ctx, target, releaseKey(bkg.ID))
	if err != nil {
		// Includes the capture racing in at the processor. Leave the
		// booking alone; the payer's retry converges it.
		return nil, false, fmt.Errorf("release dangling authorization: %w", err)
	}
	return res.Rows, false, nil
}

// expireHold releases the authorization of a joiner the coach never
// admitted and cancels the seat, reopening capacity.
func (s *BookingService) expireHold(ctx context.Context, row persistence.BookingParticipant) (applied bool, err error) {
	if err = s.payments.AcquireBookingLock(ctx, row.BookingID); err != nil {
		return
	}
	defer s.payments.ReleaseBookingLock(ctx, row.BookingID)

	bkg, detail, err := s.loadBooking(ctx, row.BookingID)
	if err != nil {
		return
	}
	fresh, err := s.participants.GetParticipant(ctx, row.ID)
	if err != nil {
		err = mapBookingRepoError(err)
		return
	}

	now := s.now()
	actor := booking.System()
	outcome, err := s.machine.Decide(stateOf(bkg, detail, &fresh), booking.EventExpireUnadmittedAuthorization, actor, now)
	if err != nil {
		return
	}
	if outcome.NoOp {
		return false, nil
	}

	res, err := s.performMoney(ctx, outcome.Money, bkg, detail, &fresh, "")
	if err != nil {
		return
	}

	mutation := persistence.BookingMutation{
		BookingID:   bkg.ID,
		BookingType: bkg.Type,
		Now:         now,
		Participant: participantChangeFor(&fresh, outcome, "", now),
		Payments:    res.Rows,
		Transitions: []persistence.BookingStateTransition{
			s.transitionRow(bkg.ID, &fresh.ID, booking.EventExpireUnadmittedAuthorization, fresh.Status, string(outcome.Participant.Status), actor, outcome.CancelReason, now),
		},
	}
	if err = s.bookings.ApplyMutation(ctx, mutation); err != nil {
		err = mapBookingRepoError(err)
		return
	}

	s.publishNotifications(ctx, bkg, detail, &fresh, nil, outcome.Notifications, now)
	s.warnings.Invalidate()
	return true, nil
}
