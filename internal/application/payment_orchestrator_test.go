package application_test

import (
	"context"
	"errors"
	"testing"

	"github.com/example/coaching-marketplace/internal/application"
	"github.com/example/coaching-marketplace/internal/booking"
	"github.com/example/coaching-marketplace/internal/gateway"
	"github.com/example/coaching-marketplace/internal/gateway/gatewaytest"
	"github.com/example/coaching-marketplace/internal/persistence"
	"github.com/example/coaching-marketplace/internal/persistence/sqlite"
	"github.com/example/coaching-marketplace/internal/testfixtures"
)

// orchestratorEnv exercises the orchestrator directly against the fake
// gateway and the in-memory ledger. The ledger enforces the booking
// foreign key, so one booking row is seeded for the attempts to hang off.
type orchestratorEnv struct {
	store        *sqlite.Storage
	gateway      *gatewaytest.Fake
	orchestrator *application.PaymentOrchestrator
	booking      persistence.Booking
	payerID      string
}

func newOrchestratorEnv(t *testing.T) *orchestratorEnv {
	t.Helper()

	ctx := context.Background()
	store := sqlite.NewStorage()
	gw := gatewaytest.New()
	factory := testfixtures.NewServiceFactory()
	orchestrator := factory.NewPaymentOrchestrator(testfixtures.PaymentOrchestratorDeps{
		Gateway: gw,
		Ledger:  store,
		Locks:   store,
	})

	coach := testfixtures.NewAccountFixture(testfixtures.WithAccountCoach(true))
	if err := store.CreateAccount(ctx, coach.Persistence()); err != nil {
		t.Fatalf("CreateAccount failed: %v", err)
	}
	fixture := testfixtures.NewBookingFixture(testfixtures.WithBookingCoach(coach.ID))
	row := fixture.Persistence()
	creation := persistence.BookingStateTransition{
		ID:            row.ID + "-created",
		Event:         string(booking.EventRequest),
		ToState:       row.ApprovalStatus,
		ActorRelation: "client",
	}
	if err := store.CreateBooking(ctx, row, fixture.Detail(), creation); err != nil {
		t.Fatalf("CreateBooking failed: %v", err)
	}

	return &orchestratorEnv{
		store:        store,
		gateway:      gw,
		orchestrator: orchestrator,
		booking:      row,
		payerID:      fixture.PayerID,
	}
}

func (e *orchestratorEnv) chargeTarget() application.PaymentTarget {
	return application.PaymentTarget{
		BookingID:   e.booking.ID,
		PayerID:     e.payerID,
		AmountCents: 8000,
		Currency:    "usd",
		CardToken:   "tok_visa",
	}
}

func (e *orchestratorEnv) seatTarget(participantID string) application.PaymentTarget {
	return application.PaymentTarget{
		BookingID:     e.booking.ID,
		ParticipantID: &participantID,
		PayerID:       "account-" + participantID,
		AmountCents:   2500,
		Currency:      "usd",
		CardToken:     "tok_" + participantID,
	}
}

func TestChargeIdempotentReplay(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := newOrchestratorEnv(t)
	key := "charge:" + env.booking.ID

	res, err := env.orchestrator.AuthorizeOrCharge(ctx, env.chargeTarget(), key)
	if err != nil {
		t.Fatalf("AuthorizeOrCharge failed: %v", err)
	}
	if res.Replayed {
		t.Fatal("fresh charge must not report a replay")
	}
	if res.GatewayRef == "" {
		t.Fatal("expected a gateway reference")
	}
	if len(res.Rows) != 1 || res.Rows[0].Purpose != persistence.PaymentPurposeCharge {
		t.Fatalf("expected one charge row, got %+v", res.Rows)
	}
	if err := env.orchestrator.RecordRows(ctx, res.Rows); err != nil {
		t.Fatalf("RecordRows failed: %v", err)
	}

	// A one-step charge is authorize plus capture at the processor.
	if n := env.gateway.CallCount(gatewaytest.OpCreateAuthorization); n != 1 {
		t.Fatalf("expected 1 authorization call, got %d", n)
	}
	if n := env.gateway.CallCount(gatewaytest.OpCapture); n != 1 {
		t.Fatalf("expected 1 capture call, got %d", n)
	}
	hold, ok := env.gateway.Hold(res.GatewayRef)
	if !ok || hold.Status != gateway.StatusCaptured || hold.AmountCents != 8000 {
		t.Fatalf("unexpected hold: %+v", hold)
	}

	// The authorization half rides its own key next to the charge row.
	rows, err := env.store.ListPaymentsForBooking(ctx, env.booking.ID)
	if err != nil {
		t.Fatalf("ListPaymentsForBooking failed: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected authorization and charge rows, got %d", len(rows))
	}
	if rows[0].Purpose != persistence.PaymentPurposeAuthorization || rows[0].IdempotencyKey != key+":auth" {
		t.Fatalf("unexpected authorization row: %+v", rows[0])
	}

	replay, err := env.orchestrator.AuthorizeOrCharge(ctx, env.chargeTarget(), key)
	if err != nil {
		t.Fatalf("replayed AuthorizeOrCharge failed: %v", err)
	}
	if !replay.Replayed || replay.GatewayRef != res.GatewayRef || len(replay.Rows) != 0 {
		t.Fatalf("expected a ledger replay, got %+v", replay)
	}
	if n := env.gateway.CallCount(gatewaytest.OpCreateAuthorization); n != 1 {
		t.Fatalf("replay must not call the gateway, got %d authorizations", n)
	}
}

func TestChargeResumesAfterFailedCapture(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := newOrchestratorEnv(t)
	key := "charge:" + env.booking.ID

	env.gateway.FailNext(gatewaytest.OpCapture, &gateway.Error{Code: "processor_unavailable", Message: "service interruption", Transient: true})
	if _, err := env.orchestrator.AuthorizeOrCharge(ctx, env.chargeTarget(), key); err == nil {
		t.Fatal("expected the capture to fail")
	}

	// The authorization half landed in the ledger before the crash point,
	// alongside the failed capture attempt.
	rows, err := env.store.ListPaymentsForBooking(ctx, env.booking.ID)
	if err != nil {
		t.Fatalf("ListPaymentsForBooking failed: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected authorization and failed rows, got %d", len(rows))
	}
	if rows[1].Status != persistence.PaymentAttemptFailed {
		t.Fatalf("expected a failed attempt, got %+v", rows[1])
	}
	if rows[1].FailureCode == nil || *rows[1].FailureCode != "processor_unavailable" {
		t.Fatalf("expected the processor code recorded, got %v", rows[1].FailureCode)
	}

	// The retry resumes from the recorded authorization instead of holding
	// the payer's money twice.
	res, err := env.orchestrator.AuthorizeOrCharge(ctx, env.chargeTarget(), key)
	if err != nil {
		t.Fatalf("retried AuthorizeOrCharge failed: %v", err)
	}
	if res.GatewayRef != rows[0].GatewayRef {
		t.Fatalf("expected the original hold %q, got %q", rows[0].GatewayRef, res.GatewayRef)
	}
	if n := env.gateway.CallCount(gatewaytest.OpCreateAuthorization); n != 1 {
		t.Fatalf("expected no second authorization, got %d", n)
	}
	if n := env.gateway.CallCount(gatewaytest.OpCapture); n != 2 {
		t.Fatalf("expected the capture retried, got %d", n)
	}
}

func TestHoldCaptureLifecycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := newOrchestratorEnv(t)
	seat := env.seatTarget("seat-1")

	res, err := env.orchestrator.AuthorizeOrCharge(ctx, seat, "authorize:seat-1")
	if err != nil {
		t.Fatalf("AuthorizeOrCharge failed: %v", err)
	}
	if res.ClientSecret == "" {
		t.Fatal("expected a client secret on a fresh hold")
	}
	if len(res.Rows) != 1 || res.Rows[0].Purpose != persistence.PaymentPurposeAuthorization {
		t.Fatalf("expected one authorization row, got %+v", res.Rows)
	}
	if err := env.orchestrator.RecordRows(ctx, res.Rows); err != nil {
		t.Fatalf("RecordRows failed: %v", err)
	}

	// A participant hold stays open for the coach; no capture yet.
	if n := env.gateway.CallCount(gatewaytest.OpCapture); n != 0 {
		t.Fatalf("expected no capture calls, got %d", n)
	}
	hold, _ := env.gateway.Hold(res.GatewayRef)
	if hold.Status != gateway.StatusAuthorized {
		t.Fatalf("expected an open hold, got %q", hold.Status)
	}

	capture := seat
	capture.GatewayRef = res.GatewayRef
	capture.CardToken = ""
	capRes, err := env.orchestrator.CaptureOnAcceptance(ctx, capture, "capture:seat-1")
	if err != nil {
		t.Fatalf("CaptureOnAcceptance failed: %v", err)
	}
	if len(capRes.Rows) != 1 || capRes.Rows[0].Purpose != persistence.PaymentPurposeCapture {
		t.Fatalf("expected one capture row, got %+v", capRes.Rows)
	}
	if err := env.orchestrator.RecordRows(ctx, capRes.Rows); err != nil {
		t.Fatalf("RecordRows failed: %v", err)
	}
	hold, _ = env.gateway.Hold(res.GatewayRef)
	if hold.Status != gateway.StatusCaptured {
		t.Fatalf("expected captured, got %q", hold.Status)
	}

	replay, err := env.orchestrator.CaptureOnAcceptance(ctx, capture, "capture:seat-1")
	if err != nil {
		t.Fatalf("replayed CaptureOnAcceptance failed: %v", err)
	}
	if !replay.Replayed {
		t.Fatalf("expected a ledger replay, got %+v", replay)
	}
	if n := env.gateway.CallCount(gatewaytest.OpCapture); n != 1 {
		t.Fatalf("replay must not call the gateway, got %d captures", n)
	}

	// A capture that raced in at the processor under another key still
	// converges instead of failing.
	raced, err := env.orchestrator.CaptureOnAcceptance(ctx, capture, "capture:seat-1:retry")
	if err != nil {
		t.Fatalf("expected the already-captured hold tolerated, got %v", err)
	}
	if raced.Replayed {
		t.Fatal("a fresh key is not a ledger replay")
	}
}

func TestPaymentFailureRecording(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := newOrchestratorEnv(t)

	release := application.PaymentTarget{
		BookingID:  env.booking.ID,
		PayerID:    env.payerID,
		GatewayRef: "ch_missing",
		Currency:   "usd",
	}
	if _, err := env.orchestrator.ReleaseAuthorization(ctx, release, "release:"+env.booking.ID); err == nil {
		t.Fatal("expected the release of an unknown ref to fail")
	}

	rows, err := env.store.ListPaymentsForBooking(ctx, env.booking.ID)
	if err != nil {
		t.Fatalf("ListPaymentsForBooking failed: %v", err)
	}
	if len(rows) != 1 || rows[0].Status != persistence.PaymentAttemptFailed {
		t.Fatalf("expected one failed row, got %+v", rows)
	}
	if rows[0].FailureCode == nil || *rows[0].FailureCode != "not_found" {
		t.Fatalf("expected the processor code recorded, got %v", rows[0].FailureCode)
	}

	// Refunding a hold that was never captured fails and is recorded too.
	seat := env.seatTarget("seat-1")
	auth, err := env.orchestrator.AuthorizeOrCharge(ctx, seat, "authorize:seat-1")
	if err != nil {
		t.Fatalf("AuthorizeOrCharge failed: %v", err)
	}
	refund := seat
	refund.GatewayRef = auth.GatewayRef
	refund.CardToken = ""
	var gwErr *gateway.Error
	if _, err := env.orchestrator.Refund(ctx, refund, "refund:seat-1"); !errors.As(err, &gwErr) || gwErr.Code != "failed_refund" {
		t.Fatalf("expected failed_refund, got %v", err)
	}
}

func TestBookingLockConflict(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := newOrchestratorEnv(t)
	id := env.booking.ID

	if err := env.orchestrator.AcquireBookingLock(ctx, id); err != nil {
		t.Fatalf("AcquireBookingLock failed: %v", err)
	}
	if err := env.orchestrator.AcquireBookingLock(ctx, id); !errors.Is(err, application.ErrConcurrencyConflict) {
		t.Fatalf("expected ErrConcurrencyConflict, got %v", err)
	}

	env.orchestrator.ReleaseBookingLock(ctx, id)
	if err := env.orchestrator.AcquireBookingLock(ctx, id); err != nil {
		t.Fatalf("reacquire after release failed: %v", err)
	}
}

func TestSettleParticipants(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := newOrchestratorEnv(t)

	// One captured seat, one open hold, one seat that never paid.
	capturedSeat := env.seatTarget("pa")
	authRes, err := env.orchestrator.AuthorizeOrCharge(ctx, capturedSeat, "authorize:pa")
	if err != nil {
		t.Fatalf("AuthorizeOrCharge failed: %v", err)
	}
	capture := capturedSeat
	capture.GatewayRef = authRes.GatewayRef
	if _, err := env.orchestrator.CaptureOnAcceptance(ctx, capture, "capture:pa"); err != nil {
		t.Fatalf("CaptureOnAcceptance failed: %v", err)
	}
	heldSeat := env.seatTarget("pb")
	holdRes, err := env.orchestrator.AuthorizeOrCharge(ctx, heldSeat, "authorize:pb")
	if err != nil {
		t.Fatalf("AuthorizeOrCharge failed: %v", err)
	}

	capturedRef := authRes.GatewayRef
	heldRef := holdRes.GatewayRef
	participants := []persistence.BookingParticipant{
		{ID: "pa", BookingID: env.booking.ID, UserID: "account-pa", Status: string(booking.ParticipantAccepted), PaymentStatus: string(booking.ParticipantPaymentCaptured), GatewayRef: &capturedRef},
		{ID: "pb", BookingID: env.booking.ID, UserID: "account-pb", Status: string(booking.ParticipantAwaitingCoach), PaymentStatus: string(booking.ParticipantPaymentAuthorized), GatewayRef: &heldRef},
		{ID: "pc", BookingID: env.booking.ID, UserID: "account-pc", Status: string(booking.ParticipantAwaitingPayment), PaymentStatus: string(booking.ParticipantPaymentRequiresMethod)},
	}
	detail := persistence.PublicGroupDetail{
		BookingID:           env.booking.ID,
		PricePerPersonCents: 2500,
		Currency:            "usd",
	}

	settlements, err := env.orchestrator.SettleParticipants(ctx, detail, participants)
	if err != nil {
		t.Fatalf("SettleParticipants failed: %v", err)
	}
	if len(settlements) != 2 {
		t.Fatalf("expected 2 settlements, got %+v", settlements)
	}
	if settlements[0].Participant.ID != "pa" || settlements[0].Payment != booking.ParticipantPaymentRefunded {
		t.Fatalf("expected the captured seat refunded, got %+v", settlements[0])
	}
	if settlements[1].Participant.ID != "pb" || settlements[1].Payment != booking.ParticipantPaymentCancelled {
		t.Fatalf("expected the held seat released, got %+v", settlements[1])
	}

	if n := env.gateway.CallCount(gatewaytest.OpRefund); n != 1 {
		t.Fatalf("expected 1 refund call, got %d", n)
	}
	if n := env.gateway.CallCount(gatewaytest.OpCancelAuthorization); n != 1 {
		t.Fatalf("expected 1 release call, got %d", n)
	}
	capturedHold, _ := env.gateway.Hold(capturedRef)
	if capturedHold.Status != gateway.StatusRefunded {
		t.Fatalf("expected the capture refunded, got %q", capturedHold.Status)
	}
	releasedHold, _ := env.gateway.Hold(heldRef)
	if releasedHold.Status != gateway.StatusCancelled {
		t.Fatalf("expected the hold cancelled, got %q", releasedHold.Status)
	}

	// Settling again replays from the ledger without touching the gateway.
	again, err := env.orchestrator.SettleParticipants(ctx, detail, participants)
	if err != nil {
		t.Fatalf("repeated SettleParticipants failed: %v", err)
	}
	if len(again) != 2 {
		t.Fatalf("expected 2 settlements on replay, got %+v", again)
	}
	if n := env.gateway.CallCount(gatewaytest.OpRefund); n != 1 {
		t.Fatalf("replay must not refund again, got %d calls", n)
	}
}
