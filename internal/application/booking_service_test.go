package application_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/example/coaching-marketplace/internal/application"
	"github.com/example/coaching-marketplace/internal/booking"
	"github.com/example/coaching-marketplace/internal/gateway"
	"github.com/example/coaching-marketplace/internal/gateway/gatewaytest"
	"github.com/example/coaching-marketplace/internal/notify"
	"github.com/example/coaching-marketplace/internal/persistence"
	"github.com/example/coaching-marketplace/internal/persistence/sqlite"
	"github.com/example/coaching-marketplace/internal/testfixtures"
)

// serviceEnv wires a booking service over the in-memory storage, the fake
// gateway and a recording publisher. The factory clock and id generator are
// shared by the service and the orchestrator, so every identifier and
// deadline in a test is deterministic.
type serviceEnv struct {
	store    *sqlite.Storage
	gateway  *gatewaytest.Fake
	recorder *notify.Recorder
	factory  *testfixtures.ServiceFactory
	clock    *testfixtures.Clock
	payments *application.PaymentOrchestrator
	service  *application.BookingService
}

func newServiceEnv(t *testing.T) *serviceEnv {
	t.Helper()

	store := sqlite.NewStorage()
	gw := gatewaytest.New()
	recorder := notify.NewRecorder()
	factory := testfixtures.NewServiceFactory()

	payments := factory.NewPaymentOrchestrator(testfixtures.PaymentOrchestratorDeps{
		Gateway: gw,
		Ledger:  store,
		Locks:   store,
	})
	service := factory.NewBookingService(testfixtures.BookingServiceDeps{
		Bookings:     store,
		Participants: store,
		Accounts:     store,
		Transitions:  store,
		Payments:     payments,
		Publisher:    recorder,
	})

	return &serviceEnv{
		store:    store,
		gateway:  gw,
		recorder: recorder,
		factory:  factory,
		clock:    factory.Clock,
		payments: payments,
		service:  service,
	}
}

func (e *serviceEnv) seedAccount(t *testing.T, opts ...testfixtures.AccountOption) testfixtures.AccountFixture {
	t.Helper()
	fixture := testfixtures.NewAccountFixture(opts...)
	if err := e.store.CreateAccount(context.Background(), fixture.Persistence()); err != nil {
		t.Fatalf("CreateAccount failed: %v", err)
	}
	return fixture
}

func individualInput(coachID string, start time.Time, key string) application.BookingInput {
	return application.BookingInput{
		Type:             string(booking.TypeIndividual),
		CoachID:          coachID,
		ScheduledStartAt: start,
		ScheduledEndAt:   start.Add(time.Hour),
		Location:         persistence.Location{Name: "Studio A"},
		Currency:         "usd",
		IdempotencyKey:   key,
		PriceCents:       8000,
	}
}

func publicGroupInput(start time.Time, key string, maxParticipants int) application.BookingInput {
	return application.BookingInput{
		Type:                string(booking.TypePublicGroup),
		ScheduledStartAt:    start,
		ScheduledEndAt:      start.Add(time.Hour),
		Location:            persistence.Location{Name: "Community Gym"},
		Currency:            "usd",
		IdempotencyKey:      key,
		PricePerPersonCents: 2500,
		MaxParticipants:     maxParticipants,
		MinParticipants:     1,
	}
}

func TestCreateIndividualBooking(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := newServiceEnv(t)
	coach := env.seedAccount(t, testfixtures.WithAccountCoach(true))
	client := env.seedAccount(t)

	now := env.clock.Current()
	start := now.Add(48 * time.Hour)
	result, warnings, err := env.service.CreateBooking(ctx, application.CreateBookingParams{
		Principal: client.Principal(),
		Input:     individualInput(coach.ID, start, "create-1"),
	})
	if err != nil {
		t.Fatalf("CreateBooking failed: %v", err)
	}
	if len(warnings) != 0 {
		t.Fatalf("expected no overlap warnings, got %v", warnings)
	}

	if result.Booking.ID != "id-1" {
		t.Fatalf("expected booking id-1, got %q", result.Booking.ID)
	}
	if result.Booking.ApprovalStatus != string(booking.ApprovalPendingReview) {
		t.Fatalf("expected pending review, got %q", result.Booking.ApprovalStatus)
	}
	if result.Booking.FulfillmentStatus != string(booking.FulfillmentScheduled) {
		t.Fatalf("expected scheduled, got %q", result.Booking.FulfillmentStatus)
	}
	if result.Booking.DurationMinutes != 60 {
		t.Fatalf("expected 60 minutes, got %d", result.Booking.DurationMinutes)
	}
	if result.Booking.RespondBy == nil || !result.Booking.RespondBy.Equal(now.Add(24*time.Hour)) {
		t.Fatalf("expected respond-by %v, got %v", now.Add(24*time.Hour), result.Booking.RespondBy)
	}

	detail := result.Detail.Individual
	if detail == nil {
		t.Fatal("expected individual detail")
	}
	if detail.ClientID != client.ID {
		t.Fatalf("expected client %q, got %q", client.ID, detail.ClientID)
	}
	if detail.Price.ClientChargeCents != 8000 || detail.Price.PlatformFeeCents != 1200 || detail.Price.CoachPayoutCents != 6800 {
		t.Fatalf("unexpected price breakdown: %+v", detail.Price)
	}
	if detail.PaymentStatus != string(booking.PaymentNotRequired) {
		t.Fatalf("expected payment not required, got %q", detail.PaymentStatus)
	}

	transitions, err := env.store.ListTransitionsForBooking(ctx, result.Booking.ID)
	if err != nil {
		t.Fatalf("ListTransitionsForBooking failed: %v", err)
	}
	if len(transitions) != 1 || transitions[0].Event != string(booking.EventRequest) {
		t.Fatalf("expected one request transition, got %+v", transitions)
	}
	if transitions[0].ActorRelation != string(booking.RelationClient) {
		t.Fatalf("expected client relation, got %q", transitions[0].ActorRelation)
	}

	intents := env.recorder.Intents()
	if len(intents) != 1 || intents[0].Kind != string(booking.NotifyBookingRequested) {
		t.Fatalf("expected one booking_requested intent, got %+v", intents)
	}
	if intents[0].RecipientAccountID != coach.ID || intents[0].RecipientEmail != coach.Email {
		t.Fatalf("expected intent addressed to the coach, got %+v", intents[0])
	}
}

func TestCreateBookingRejections(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := newServiceEnv(t)
	coach := env.seedAccount(t, testfixtures.WithAccountCoach(true))
	client := env.seedAccount(t)
	notACoach := env.seedAccount(t)

	start := env.clock.Current().Add(48 * time.Hour)

	if _, _, err := env.service.CreateBooking(ctx, application.CreateBookingParams{
		Input: individualInput(coach.ID, start, "anon"),
	}); !errors.Is(err, application.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for anonymous caller, got %v", err)
	}

	if _, _, err := env.service.CreateBooking(ctx, application.CreateBookingParams{
		Principal: application.Principal{UserID: "system", IsService: true},
		Input:     individualInput(coach.ID, start, "svc"),
	}); !errors.Is(err, application.ErrForbidden) {
		t.Fatalf("expected ErrForbidden for service caller, got %v", err)
	}

	var vErr *application.ValidationError
	if _, _, err := env.service.CreateBooking(ctx, application.CreateBookingParams{
		Principal: client.Principal(),
		Input:     application.BookingInput{},
	}); !errors.As(err, &vErr) {
		t.Fatalf("expected validation error for empty input, got %v", err)
	}
	for _, field := range []string{"type", "coach_id", "scheduled_start_at", "location", "currency", "idempotency_key"} {
		if _, ok := vErr.FieldErrors[field]; !ok {
			t.Fatalf("expected field error for %q, got %v", field, vErr.FieldErrors)
		}
	}

	selfCoach := env.seedAccount(t, testfixtures.WithAccountCoach(true))
	if _, _, err := env.service.CreateBooking(ctx, application.CreateBookingParams{
		Principal: selfCoach.Principal(),
		Input:     individualInput(selfCoach.ID, start, "self"),
	}); !errors.As(err, &vErr) {
		t.Fatalf("expected validation error for self booking, got %v", err)
	} else if _, ok := vErr.FieldErrors["coach_id"]; !ok {
		t.Fatalf("expected coach_id error, got %v", vErr.FieldErrors)
	}

	if _, _, err := env.service.CreateBooking(ctx, application.CreateBookingParams{
		Principal: client.Principal(),
		Input:     individualInput(notACoach.ID, start, "not-coach"),
	}); !errors.As(err, &vErr) {
		t.Fatalf("expected validation error for non-coach target, got %v", err)
	} else if vErr.FieldErrors["coach_id"] == "" {
		t.Fatalf("expected coach_id error, got %v", vErr.FieldErrors)
	}

	var guardErr *booking.GuardError
	if _, _, err := env.service.CreateBooking(ctx, application.CreateBookingParams{
		Principal: client.Principal(),
		Input:     individualInput(coach.ID, env.clock.Current().Add(-time.Hour), "past"),
	}); !errors.As(err, &guardErr) || guardErr.Code != booking.GuardStartNotInFuture {
		t.Fatalf("expected start-not-in-future guard, got %v", err)
	}

	if _, _, err := env.service.CreateBooking(ctx, application.CreateBookingParams{
		Principal: client.Principal(),
		Input:     publicGroupInput(start, "not-a-coach-group", 4),
	}); !errors.Is(err, application.ErrForbidden) {
		t.Fatalf("expected ErrForbidden for non-coach publishing a group, got %v", err)
	}
}

func TestCreateBookingIdempotentReplay(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := newServiceEnv(t)
	coach := env.seedAccount(t, testfixtures.WithAccountCoach(true))
	client := env.seedAccount(t)
	other := env.seedAccount(t)

	start := env.clock.Current().Add(48 * time.Hour)
	input := individualInput(coach.ID, start, "retry-key")

	first, _, err := env.service.CreateBooking(ctx, application.CreateBookingParams{Principal: client.Principal(), Input: input})
	if err != nil {
		t.Fatalf("CreateBooking failed: %v", err)
	}

	replayed, _, err := env.service.CreateBooking(ctx, application.CreateBookingParams{Principal: client.Principal(), Input: input})
	if err != nil {
		t.Fatalf("replayed CreateBooking failed: %v", err)
	}
	if replayed.Booking.ID != first.Booking.ID {
		t.Fatalf("expected replay to return booking %q, got %q", first.Booking.ID, replayed.Booking.ID)
	}

	if _, _, err := env.service.CreateBooking(ctx, application.CreateBookingParams{Principal: other.Principal(), Input: input}); !errors.Is(err, application.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists for a foreign key reuse, got %v", err)
	}
}

func TestCreatePrivateGroupRoster(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := newServiceEnv(t)
	coach := env.seedAccount(t, testfixtures.WithAccountCoach(true))
	organizer := env.seedAccount(t)
	memberOne := env.seedAccount(t)
	memberTwo := env.seedAccount(t)

	start := env.clock.Current().Add(48 * time.Hour)
	input := application.BookingInput{
		Type:                string(booking.TypePrivateGroup),
		CoachID:             coach.ID,
		ScheduledStartAt:    start,
		ScheduledEndAt:      start.Add(90 * time.Minute),
		Location:            persistence.Location{Name: "Studio B"},
		Currency:            "usd",
		IdempotencyKey:      "private-1",
		PricePerPersonCents: 5000,
		MemberIDs:           []string{memberTwo.ID, memberOne.ID},
	}

	result, _, err := env.service.CreateBooking(ctx, application.CreateBookingParams{Principal: organizer.Principal(), Input: input})
	if err != nil {
		t.Fatalf("CreateBooking failed: %v", err)
	}

	detail := result.Detail.PrivateGroup
	if detail == nil {
		t.Fatal("expected private group detail")
	}
	if detail.OrganizerID != organizer.ID {
		t.Fatalf("expected organizer %q, got %q", organizer.ID, detail.OrganizerID)
	}
	if detail.TotalParticipants != 3 {
		t.Fatalf("expected 3 participants, got %d", detail.TotalParticipants)
	}
	// 3 people at 5000 each: 15000 charged, 15% platform fee.
	if detail.Price.ClientChargeCents != 15000 || detail.Price.PlatformFeeCents != 2250 || detail.Price.CoachPayoutCents != 12750 {
		t.Fatalf("unexpected price breakdown: %+v", detail.Price)
	}

	roster, err := env.service.ListParticipants(ctx, organizer.Principal(), result.Booking.ID)
	if err != nil {
		t.Fatalf("ListParticipants failed: %v", err)
	}
	if len(roster) != 3 {
		t.Fatalf("expected 3 roster rows, got %d", len(roster))
	}
	if roster[0].UserID != organizer.ID || roster[0].Role != string(booking.RoleOrganizer) {
		t.Fatalf("expected the organizer row first, got %+v", roster[0])
	}
	for _, row := range roster {
		if row.Status != string(booking.ParticipantRequested) {
			t.Fatalf("expected requested status, got %q", row.Status)
		}
		if row.PaymentStatus != string(booking.ParticipantPaymentRequiresMethod) {
			t.Fatalf("expected requires_payment_method, got %q", row.PaymentStatus)
		}
	}

	// Replaying the create repeats the roster insert; existing rows are
	// skipped rather than duplicated.
	if _, _, err := env.service.CreateBooking(ctx, application.CreateBookingParams{Principal: organizer.Principal(), Input: input}); err != nil {
		t.Fatalf("replayed CreateBooking failed: %v", err)
	}
	roster, err = env.service.ListParticipants(ctx, organizer.Principal(), result.Booking.ID)
	if err != nil {
		t.Fatalf("ListParticipants failed: %v", err)
	}
	if len(roster) != 3 {
		t.Fatalf("expected 3 roster rows after replay, got %d", len(roster))
	}
}

func TestIndividualLifecycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := newServiceEnv(t)
	coach := env.seedAccount(t, testfixtures.WithAccountCoach(true))
	client := env.seedAccount(t)
	stranger := env.seedAccount(t)

	createdAt := env.clock.Current()
	start := createdAt.Add(48 * time.Hour)
	created, _, err := env.service.CreateBooking(ctx, application.CreateBookingParams{
		Principal: client.Principal(),
		Input:     individualInput(coach.ID, start, "lifecycle-1"),
	})
	if err != nil {
		t.Fatalf("CreateBooking failed: %v", err)
	}
	bookingID := created.Booking.ID

	// Only the coach may answer the request.
	if _, err := env.service.CoachRespond(ctx, application.CoachRespondParams{
		Principal: stranger.Principal(),
		BookingID: bookingID,
		Accept:    true,
	}); !errors.Is(err, application.ErrForbidden) {
		t.Fatalf("expected ErrForbidden for a stranger, got %v", err)
	}

	accepted, err := env.service.CoachRespond(ctx, application.CoachRespondParams{
		Principal: coach.Principal(),
		BookingID: bookingID,
		Accept:    true,
	})
	if err != nil {
		t.Fatalf("CoachRespond failed: %v", err)
	}
	if accepted.Booking.ApprovalStatus != string(booking.ApprovalAccepted) {
		t.Fatalf("expected accepted, got %q", accepted.Booking.ApprovalStatus)
	}
	if accepted.Booking.CoachRespondedAt == nil {
		t.Fatal("expected coach response timestamp")
	}
	if accepted.Detail.Individual.PaymentStatus != string(booking.PaymentAwaitingClient) {
		t.Fatalf("expected awaiting client payment, got %q", accepted.Detail.Individual.PaymentStatus)
	}
	due := accepted.Detail.Individual.PaymentDueAt
	if due == nil || !due.Equal(createdAt.Add(24*time.Hour)) {
		t.Fatalf("expected payment due %v, got %v", createdAt.Add(24*time.Hour), due)
	}

	if _, err := env.service.SubmitPayment(ctx, application.SubmitPaymentParams{
		Principal: client.Principal(),
		BookingID: bookingID,
	}); err == nil {
		t.Fatal("expected validation error for a missing card token")
	}

	paid, err := env.service.SubmitPayment(ctx, application.SubmitPaymentParams{
		Principal: client.Principal(),
		BookingID: bookingID,
		CardToken: "tok_visa",
	})
	if err != nil {
		t.Fatalf("SubmitPayment failed: %v", err)
	}
	if paid.GatewayRef == "" {
		t.Fatal("expected a gateway reference")
	}
	if paid.Detail.Individual.PaymentStatus != string(booking.PaymentCaptured) {
		t.Fatalf("expected captured, got %q", paid.Detail.Individual.PaymentStatus)
	}
	if paid.Detail.Individual.PaymentDueAt != nil {
		t.Fatal("expected the payment deadline to be cleared after capture")
	}
	if paid.Detail.Individual.GatewayRef == nil || *paid.Detail.Individual.GatewayRef != paid.GatewayRef {
		t.Fatalf("expected gateway ref %q on the detail, got %v", paid.GatewayRef, paid.Detail.Individual.GatewayRef)
	}

	// The one-step charge is authorize plus capture at the processor.
	if n := env.gateway.CallCount(gatewaytest.OpCreateAuthorization); n != 1 {
		t.Fatalf("expected 1 authorization call, got %d", n)
	}
	if n := env.gateway.CallCount(gatewaytest.OpCapture); n != 1 {
		t.Fatalf("expected 1 capture call, got %d", n)
	}
	hold, ok := env.gateway.Hold(paid.GatewayRef)
	if !ok || hold.AmountCents != 8000 {
		t.Fatalf("expected an 8000 cent hold, got %+v", hold)
	}

	rows, err := env.store.ListPaymentsForBooking(ctx, bookingID)
	if err != nil {
		t.Fatalf("ListPaymentsForBooking failed: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected authorization and charge rows, got %d", len(rows))
	}
	for _, row := range rows {
		if row.Status != persistence.PaymentAttemptSucceeded {
			t.Fatalf("expected succeeded rows, got %+v", row)
		}
	}

	// Completion waits until the scheduled end has elapsed.
	var guardErr *booking.GuardError
	if _, err := env.service.MarkComplete(ctx, application.MarkCompleteParams{
		Principal: coach.Principal(),
		BookingID: bookingID,
	}); !errors.As(err, &guardErr) || guardErr.Code != booking.GuardNotElapsed {
		t.Fatalf("expected not-elapsed guard, got %v", err)
	}

	env.clock.Advance(50 * time.Hour)
	completed, err := env.service.MarkComplete(ctx, application.MarkCompleteParams{
		Principal: coach.Principal(),
		BookingID: bookingID,
	})
	if err != nil {
		t.Fatalf("MarkComplete failed: %v", err)
	}
	if completed.Booking.FulfillmentStatus != string(booking.FulfillmentCompleted) {
		t.Fatalf("expected completed, got %q", completed.Booking.FulfillmentStatus)
	}

	// Marking a completed booking again is a no-op, not a conflict.
	again, err := env.service.MarkComplete(ctx, application.MarkCompleteParams{
		Principal: coach.Principal(),
		BookingID: bookingID,
	})
	if err != nil {
		t.Fatalf("repeated MarkComplete failed: %v", err)
	}
	if again.Booking.FulfillmentStatus != string(booking.FulfillmentCompleted) {
		t.Fatalf("expected completed, got %q", again.Booking.FulfillmentStatus)
	}
}

func TestCoachDeclineRecordsNote(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := newServiceEnv(t)
	coach := env.seedAccount(t, testfixtures.WithAccountCoach(true))
	client := env.seedAccount(t)

	start := env.clock.Current().Add(48 * time.Hour)
	created, _, err := env.service.CreateBooking(ctx, application.CreateBookingParams{
		Principal: client.Principal(),
		Input:     individualInput(coach.ID, start, "decline-1"),
	})
	if err != nil {
		t.Fatalf("CreateBooking failed: %v", err)
	}

	declined, err := env.service.CoachRespond(ctx, application.CoachRespondParams{
		Principal: coach.Principal(),
		BookingID: created.Booking.ID,
		Accept:    false,
		Note:      "fully booked that week",
	})
	if err != nil {
		t.Fatalf("CoachRespond failed: %v", err)
	}
	if declined.Booking.ApprovalStatus != string(booking.ApprovalDeclined) {
		t.Fatalf("expected declined, got %q", declined.Booking.ApprovalStatus)
	}
	if declined.Booking.CoachRespondedAt == nil {
		t.Fatal("expected coach response timestamp")
	}

	transitions, err := env.store.ListTransitionsForBooking(ctx, created.Booking.ID)
	if err != nil {
		t.Fatalf("ListTransitionsForBooking failed: %v", err)
	}
	last := transitions[len(transitions)-1]
	if last.Event != string(booking.EventCoachDecline) {
		t.Fatalf("expected decline transition, got %q", last.Event)
	}
	if last.Reason == nil || *last.Reason != "fully booked that week" {
		t.Fatalf("expected the note on the transition, got %v", last.Reason)
	}
}

func TestCancelCapturedIndividualRefunds(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := newServiceEnv(t)
	coach := env.seedAccount(t, testfixtures.WithAccountCoach(true))
	client := env.seedAccount(t)

	start := env.clock.Current().Add(48 * time.Hour)
	created, _, err := env.service.CreateBooking(ctx, application.CreateBookingParams{
		Principal: client.Principal(),
		Input:     individualInput(coach.ID, start, "cancel-1"),
	})
	if err != nil {
		t.Fatalf("CreateBooking failed: %v", err)
	}
	bookingID := created.Booking.ID

	if _, err := env.service.CoachRespond(ctx, application.CoachRespondParams{Principal: coach.Principal(), BookingID: bookingID, Accept: true}); err != nil {
		t.Fatalf("CoachRespond failed: %v", err)
	}
	paid, err := env.service.SubmitPayment(ctx, application.SubmitPaymentParams{Principal: client.Principal(), BookingID: bookingID, CardToken: "tok_visa"})
	if err != nil {
		t.Fatalf("SubmitPayment failed: %v", err)
	}

	cancelled, err := env.service.Cancel(ctx, application.CancelParams{Principal: client.Principal(), BookingID: bookingID})
	if err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	if cancelled.Booking.ApprovalStatus != string(booking.ApprovalCancelled) {
		t.Fatalf("expected cancelled, got %q", cancelled.Booking.ApprovalStatus)
	}
	if cancelled.Booking.CancelledBy == nil || *cancelled.Booking.CancelledBy != client.ID {
		t.Fatalf("expected cancellation attributed to the client, got %v", cancelled.Booking.CancelledBy)
	}
	if cancelled.Booking.CancellationReason == nil || *cancelled.Booking.CancellationReason != "cancelled_by_client" {
		t.Fatalf("unexpected cancellation reason: %v", cancelled.Booking.CancellationReason)
	}
	if cancelled.Detail.Individual.PaymentStatus != string(booking.PaymentRefunded) {
		t.Fatalf("expected refunded, got %q", cancelled.Detail.Individual.PaymentStatus)
	}

	if n := env.gateway.CallCount(gatewaytest.OpRefund); n != 1 {
		t.Fatalf("expected 1 refund call, got %d", n)
	}
	hold, _ := env.gateway.Hold(paid.GatewayRef)
	if hold.RefundedCents != 8000 {
		t.Fatalf("expected a full refund, got %d cents", hold.RefundedCents)
	}
}

func TestPublicGroupJoinAndAdmit(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := newServiceEnv(t)
	coach := env.seedAccount(t, testfixtures.WithAccountCoach(true))
	clientA := env.seedAccount(t)
	clientB := env.seedAccount(t)
	clientC := env.seedAccount(t)

	joinedAt := env.clock.Current()
	start := joinedAt.Add(200 * time.Hour)
	published, _, err := env.service.CreateBooking(ctx, application.CreateBookingParams{
		Principal: coach.Principal(),
		Input:     publicGroupInput(start, "group-1", 2),
	})
	if err != nil {
		t.Fatalf("CreateBooking failed: %v", err)
	}
	bookingID := published.Booking.ID
	if published.Booking.ApprovalStatus != string(booking.ApprovalAccepted) {
		t.Fatalf("expected a published group to be accepted, got %q", published.Booking.ApprovalStatus)
	}
	if published.Detail.PublicGroup.CapacityStatus != string(booking.CapacityOpen) {
		t.Fatalf("expected open capacity, got %q", published.Detail.PublicGroup.CapacityStatus)
	}

	// The coach cannot take a seat in their own session.
	if _, err := env.service.JoinPublicGroup(ctx, application.JoinPublicGroupParams{
		Principal: coach.Principal(),
		BookingID: bookingID,
		CardToken: "tok_coach",
	}); !errors.Is(err, application.ErrForbidden) {
		t.Fatalf("expected ErrForbidden for the coach joining, got %v", err)
	}

	joined, err := env.service.JoinPublicGroup(ctx, application.JoinPublicGroupParams{
		Principal: clientA.Principal(),
		BookingID: bookingID,
		CardToken: "tok_a",
	})
	if err != nil {
		t.Fatalf("JoinPublicGroup failed: %v", err)
	}
	participant := joined.Participant
	if participant.Status != string(booking.ParticipantAwaitingCoach) {
		t.Fatalf("expected awaiting coach, got %q", participant.Status)
	}
	if participant.PaymentStatus != string(booking.ParticipantPaymentAuthorized) {
		t.Fatalf("expected authorized, got %q", participant.PaymentStatus)
	}
	if participant.GatewayRef == nil || *participant.GatewayRef != joined.GatewayRef {
		t.Fatalf("expected hold ref %q, got %v", joined.GatewayRef, participant.GatewayRef)
	}
	if participant.HoldExpiresAt == nil || !participant.HoldExpiresAt.Equal(joinedAt.Add(72*time.Hour)) {
		t.Fatalf("expected hold expiry %v, got %v", joinedAt.Add(72*time.Hour), participant.HoldExpiresAt)
	}
	if joined.ClientSecret == "" {
		t.Fatal("expected a client secret for follow-up authentication")
	}

	detail, err := env.store.GetBookingDetail(ctx, bookingID)
	if err != nil {
		t.Fatalf("GetBookingDetail failed: %v", err)
	}
	if detail.PublicGroup.CurrentParticipants != 1 || detail.PublicGroup.AuthorizedParticipants != 1 {
		t.Fatalf("expected one seated authorized participant, got %+v", detail.PublicGroup)
	}

	if _, err := env.service.JoinPublicGroup(ctx, application.JoinPublicGroupParams{
		Principal: clientA.Principal(),
		BookingID: bookingID,
		CardToken: "tok_a2",
	}); !errors.Is(err, application.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists for a second join, got %v", err)
	}

	admitted, err := env.service.CoachRespond(ctx, application.CoachRespondParams{
		Principal:     coach.Principal(),
		BookingID:     bookingID,
		ParticipantID: &participant.ID,
		Accept:        true,
	})
	if err != nil {
		t.Fatalf("CoachRespond failed: %v", err)
	}
	_ = admitted

	seated, err := env.store.GetParticipant(ctx, participant.ID)
	if err != nil {
		t.Fatalf("GetParticipant failed: %v", err)
	}
	if seated.Status != string(booking.ParticipantAccepted) || seated.PaymentStatus != string(booking.ParticipantPaymentCaptured) {
		t.Fatalf("expected accepted/captured, got %s/%s", seated.Status, seated.PaymentStatus)
	}
	hold, _ := env.gateway.Hold(joined.GatewayRef)
	if hold.Status != gateway.StatusCaptured {
		t.Fatalf("expected the hold captured, got %q", hold.Status)
	}

	detail, _ = env.store.GetBookingDetail(ctx, bookingID)
	if detail.PublicGroup.AuthorizedParticipants != 0 || detail.PublicGroup.CapturedParticipants != 1 {
		t.Fatalf("expected the hold converted to a capture, got %+v", detail.PublicGroup)
	}

	if _, err := env.service.JoinPublicGroup(ctx, application.JoinPublicGroupParams{
		Principal: clientB.Principal(),
		BookingID: bookingID,
		CardToken: "tok_b",
	}); err != nil {
		t.Fatalf("JoinPublicGroup failed: %v", err)
	}
	detail, _ = env.store.GetBookingDetail(ctx, bookingID)
	if detail.PublicGroup.CapacityStatus != string(booking.CapacityFull) {
		t.Fatalf("expected full capacity, got %q", detail.PublicGroup.CapacityStatus)
	}

	var guardErr *booking.GuardError
	if _, err := env.service.JoinPublicGroup(ctx, application.JoinPublicGroupParams{
		Principal: clientC.Principal(),
		BookingID: bookingID,
		CardToken: "tok_c",
	}); !errors.As(err, &guardErr) || guardErr.Code != booking.GuardCapacityFull {
		t.Fatalf("expected capacity-full guard, got %v", err)
	}
}

func TestPublicGroupSeatCancel(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := newServiceEnv(t)
	coach := env.seedAccount(t, testfixtures.WithAccountCoach(true))
	clientA := env.seedAccount(t)
	clientB := env.seedAccount(t)

	start := env.clock.Current().Add(200 * time.Hour)
	published, _, err := env.service.CreateBooking(ctx, application.CreateBookingParams{
		Principal: coach.Principal(),
		Input:     publicGroupInput(start, "group-seat-cancel", 2),
	})
	if err != nil {
		t.Fatalf("CreateBooking failed: %v", err)
	}
	bookingID := published.Booking.ID

	joined, err := env.service.JoinPublicGroup(ctx, application.JoinPublicGroupParams{
		Principal: clientA.Principal(),
		BookingID: bookingID,
		CardToken: "tok_a",
	})
	if err != nil {
		t.Fatalf("JoinPublicGroup failed: %v", err)
	}
	if _, err := env.service.CoachRespond(ctx, application.CoachRespondParams{
		Principal:     coach.Principal(),
		BookingID:     bookingID,
		ParticipantID: &joined.Participant.ID,
		Accept:        true,
	}); err != nil {
		t.Fatalf("CoachRespond failed: %v", err)
	}

	// Another participant may not cancel someone else's seat.
	if _, err := env.service.JoinPublicGroup(ctx, application.JoinPublicGroupParams{
		Principal: clientB.Principal(),
		BookingID: bookingID,
		CardToken: "tok_b",
	}); err != nil {
		t.Fatalf("JoinPublicGroup failed: %v", err)
	}
	if _, err := env.service.Cancel(ctx, application.CancelParams{
		Principal:     clientB.Principal(),
		BookingID:     bookingID,
		ParticipantID: &joined.Participant.ID,
	}); !errors.Is(err, application.ErrForbidden) {
		t.Fatalf("expected ErrForbidden for a foreign seat cancel, got %v", err)
	}

	result, err := env.service.Cancel(ctx, application.CancelParams{
		Principal:     clientA.Principal(),
		BookingID:     bookingID,
		ParticipantID: &joined.Participant.ID,
	})
	if err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	if result.Booking.ApprovalStatus != string(booking.ApprovalAccepted) {
		t.Fatalf("expected the booking to stay accepted, got %q", result.Booking.ApprovalStatus)
	}

	seat, err := env.store.GetParticipant(ctx, joined.Participant.ID)
	if err != nil {
		t.Fatalf("GetParticipant failed: %v", err)
	}
	if seat.Status != string(booking.ParticipantCancelled) || seat.PaymentStatus != string(booking.ParticipantPaymentRefunded) {
		t.Fatalf("expected cancelled/refunded, got %s/%s", seat.Status, seat.PaymentStatus)
	}
	if seat.CancelledAt == nil {
		t.Fatal("expected a cancellation timestamp")
	}

	if n := env.gateway.CallCount(gatewaytest.OpRefund); n != 1 {
		t.Fatalf("expected 1 refund call, got %d", n)
	}

	// The freed seat reopens capacity.
	detail, _ := env.store.GetBookingDetail(ctx, bookingID)
	if detail.PublicGroup.CurrentParticipants != 1 || detail.PublicGroup.CapacityStatus != string(booking.CapacityOpen) {
		t.Fatalf("expected the seat freed, got %+v", detail.PublicGroup)
	}
}

func TestPublicGroupCancelSettlesSeats(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := newServiceEnv(t)
	coach := env.seedAccount(t, testfixtures.WithAccountCoach(true))
	clientA := env.seedAccount(t)
	clientB := env.seedAccount(t)

	start := env.clock.Current().Add(200 * time.Hour)
	published, _, err := env.service.CreateBooking(ctx, application.CreateBookingParams{
		Principal: coach.Principal(),
		Input:     publicGroupInput(start, "group-cancel", 3),
	})
	if err != nil {
		t.Fatalf("CreateBooking failed: %v", err)
	}
	bookingID := published.Booking.ID

	joinedA, err := env.service.JoinPublicGroup(ctx, application.JoinPublicGroupParams{Principal: clientA.Principal(), BookingID: bookingID, CardToken: "tok_a"})
	if err != nil {
		t.Fatalf("JoinPublicGroup failed: %v", err)
	}
	if _, err := env.service.CoachRespond(ctx, application.CoachRespondParams{
		Principal:     coach.Principal(),
		BookingID:     bookingID,
		ParticipantID: &joinedA.Participant.ID,
		Accept:        true,
	}); err != nil {
		t.Fatalf("CoachRespond failed: %v", err)
	}
	joinedB, err := env.service.JoinPublicGroup(ctx, application.JoinPublicGroupParams{Principal: clientB.Principal(), BookingID: bookingID, CardToken: "tok_b"})
	if err != nil {
		t.Fatalf("JoinPublicGroup failed: %v", err)
	}

	// Participants cannot cancel the whole booking.
	if _, err := env.service.Cancel(ctx, application.CancelParams{Principal: clientA.Principal(), BookingID: bookingID}); err == nil {
		t.Fatal("expected a participant whole-booking cancel to be rejected")
	}

	result, err := env.service.Cancel(ctx, application.CancelParams{Principal: coach.Principal(), BookingID: bookingID})
	if err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	if result.Booking.ApprovalStatus != string(booking.ApprovalCancelled) {
		t.Fatalf("expected cancelled, got %q", result.Booking.ApprovalStatus)
	}
	if result.Detail.PublicGroup.CapacityStatus != string(booking.CapacityClosed) {
		t.Fatalf("expected closed capacity, got %q", result.Detail.PublicGroup.CapacityStatus)
	}

	seatA, _ := env.store.GetParticipant(ctx, joinedA.Participant.ID)
	if seatA.Status != string(booking.ParticipantCancelled) || seatA.PaymentStatus != string(booking.ParticipantPaymentRefunded) {
		t.Fatalf("expected the captured seat refunded, got %s/%s", seatA.Status, seatA.PaymentStatus)
	}
	seatB, _ := env.store.GetParticipant(ctx, joinedB.Participant.ID)
	if seatB.Status != string(booking.ParticipantCancelled) || seatB.PaymentStatus != string(booking.ParticipantPaymentCancelled) {
		t.Fatalf("expected the held seat released, got %s/%s", seatB.Status, seatB.PaymentStatus)
	}

	if n := env.gateway.CallCount(gatewaytest.OpRefund); n != 1 {
		t.Fatalf("expected 1 refund call, got %d", n)
	}
	if n := env.gateway.CallCount(gatewaytest.OpCancelAuthorization); n != 1 {
		t.Fatalf("expected 1 release call, got %d", n)
	}

	// Both removed participants still hear about the cancellation.
	kinds := env.recorder.Kinds()
	cancelIntents := 0
	for _, kind := range kinds {
		if kind == string(booking.NotifyBookingCancelled) {
			cancelIntents++
		}
	}
	if cancelIntents != 2 {
		t.Fatalf("expected 2 booking_cancelled intents, got %d (%v)", cancelIntents, kinds)
	}
}

func TestGetBookingVisibility(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := newServiceEnv(t)
	coach := env.seedAccount(t, testfixtures.WithAccountCoach(true))
	client := env.seedAccount(t)
	stranger := env.seedAccount(t)

	start := env.clock.Current().Add(48 * time.Hour)
	created, _, err := env.service.CreateBooking(ctx, application.CreateBookingParams{
		Principal: client.Principal(),
		Input:     individualInput(coach.ID, start, "visibility-1"),
	})
	if err != nil {
		t.Fatalf("CreateBooking failed: %v", err)
	}

	if _, err := env.service.GetBooking(ctx, client.Principal(), created.Booking.ID); err != nil {
		t.Fatalf("payer read failed: %v", err)
	}
	if _, err := env.service.GetBooking(ctx, coach.Principal(), created.Booking.ID); err != nil {
		t.Fatalf("coach read failed: %v", err)
	}

	// Unrelated callers cannot see that the booking exists at all.
	if _, err := env.service.GetBooking(ctx, stranger.Principal(), created.Booking.ID); !errors.Is(err, application.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for a stranger, got %v", err)
	}

	published, _, err := env.service.CreateBooking(ctx, application.CreateBookingParams{
		Principal: coach.Principal(),
		Input:     publicGroupInput(start.Add(2*time.Hour), "visibility-group", 4),
	})
	if err != nil {
		t.Fatalf("CreateBooking failed: %v", err)
	}
	if _, err := env.service.GetBooking(ctx, stranger.Principal(), published.Booking.ID); err != nil {
		t.Fatalf("expected a published group to be readable, got %v", err)
	}
	if _, err := env.service.ListParticipants(ctx, stranger.Principal(), published.Booking.ID); !errors.Is(err, application.ErrNotFound) {
		t.Fatalf("expected the roster hidden from strangers, got %v", err)
	}
}

func TestListBookingsForActor(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := newServiceEnv(t)
	coach := env.seedAccount(t, testfixtures.WithAccountCoach(true))
	client := env.seedAccount(t)
	otherClient := env.seedAccount(t)

	base := env.clock.Current().Add(48 * time.Hour)
	first, _, err := env.service.CreateBooking(ctx, application.CreateBookingParams{
		Principal: client.Principal(),
		Input:     individualInput(coach.ID, base, "list-1"),
	})
	if err != nil {
		t.Fatalf("CreateBooking failed: %v", err)
	}
	second, _, err := env.service.CreateBooking(ctx, application.CreateBookingParams{
		Principal: otherClient.Principal(),
		Input:     individualInput(coach.ID, base.Add(26*time.Hour), "list-2"),
	})
	if err != nil {
		t.Fatalf("CreateBooking failed: %v", err)
	}

	// The client sees only their own booking.
	rows, _, err := env.service.ListBookingsForActor(ctx, application.ListBookingsParams{Principal: client.Principal()})
	if err != nil {
		t.Fatalf("ListBookingsForActor failed: %v", err)
	}
	if len(rows) != 1 || rows[0].ID != first.Booking.ID {
		t.Fatalf("expected only the client's booking, got %+v", rows)
	}

	// The coach sees both, ordered by start time.
	rows, _, err = env.service.ListBookingsForActor(ctx, application.ListBookingsParams{Principal: coach.Principal()})
	if err != nil {
		t.Fatalf("ListBookingsForActor failed: %v", err)
	}
	if len(rows) != 2 || rows[0].ID != first.Booking.ID || rows[1].ID != second.Booking.ID {
		t.Fatalf("expected both bookings in start order, got %+v", rows)
	}

	// A day window around the first booking excludes the next day's.
	dayRows, _, err := env.service.ListBookingsForActor(ctx, application.ListBookingsParams{
		Principal:       coach.Principal(),
		Period:          application.ListPeriodDay,
		PeriodReference: base,
	})
	if err != nil {
		t.Fatalf("ListBookingsForActor failed: %v", err)
	}
	if len(dayRows) != 1 || dayRows[0].ID != first.Booking.ID {
		t.Fatalf("expected only the same-day booking, got %+v", dayRows)
	}
}

func TestOverlapWarningsOnCreate(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := newServiceEnv(t)
	coach := env.seedAccount(t, testfixtures.WithAccountCoach(true))
	otherCoach := env.seedAccount(t, testfixtures.WithAccountCoach(true))
	client := env.seedAccount(t)

	start := env.clock.Current().Add(48 * time.Hour)
	if _, _, err := env.service.CreateBooking(ctx, application.CreateBookingParams{
		Principal: client.Principal(),
		Input:     individualInput(coach.ID, start, "overlap-1"),
	}); err != nil {
		t.Fatalf("CreateBooking failed: %v", err)
	}

	// Same payer, different coach, intersecting window: flagged, not blocked.
	input := individualInput(otherCoach.ID, start.Add(30*time.Minute), "overlap-2")
	result, warnings, err := env.service.CreateBooking(ctx, application.CreateBookingParams{
		Principal: client.Principal(),
		Input:     input,
	})
	if err != nil {
		t.Fatalf("CreateBooking failed: %v", err)
	}
	if result.Booking.ID == "" {
		t.Fatal("expected the overlapping booking to be created")
	}
	if len(warnings) == 0 {
		t.Fatal("expected an overlap warning for the payer")
	}
}
