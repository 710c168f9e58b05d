package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/example/coaching-marketplace/internal/booking"
	"github.com/example/coaching-marketplace/internal/persistence"
)

func setupParticipantRepositoryTest(t *testing.T) (*ParticipantRepository, *ConnectionPool) {
	t.Helper()

	pool := newTestPool(t)
	seedAccount(t, pool, "coach1", true)
	seedAccount(t, pool, "joiner1", false)
	seedAccount(t, pool, "joiner2", false)

	b := testBooking("group", "coach1", booking.TypePublicGroup)
	b.ApprovalStatus = string(booking.ApprovalAccepted)
	b.RespondBy = nil
	err := NewBookingRepository(pool).CreateBooking(context.Background(), b, testPublicGroupDetail(10), testTransition("tg", "publish", "", "accepted"))
	if err != nil {
		t.Fatalf("CreateBooking failed: %v", err)
	}

	return NewParticipantRepository(pool), pool
}

func testParticipant(id, bookingID, userID string) persistence.BookingParticipant {
	return persistence.BookingParticipant{
		ID:            id,
		BookingID:     bookingID,
		UserID:        userID,
		Role:          string(booking.RoleParticipant),
		Status:        string(booking.ParticipantAwaitingPayment),
		PaymentStatus: string(booking.ParticipantPaymentRequiresMethod),
	}
}

func TestParticipantRepository_CreateAndGet(t *testing.T) {
	repo, pool := setupParticipantRepositoryTest(t)
	ctx := context.Background()

	p := testParticipant("p1", "group", "joiner1")
	err := repo.CreateParticipant(ctx, p, testTransition("t1", "request", "", "awaiting_payment"))
	if err != nil {
		t.Fatalf("CreateParticipant failed: %v", err)
	}

	retrieved, err := repo.GetParticipant(ctx, "p1")
	if err != nil {
		t.Fatalf("GetParticipant failed: %v", err)
	}
	if retrieved.BookingID != "group" {
		t.Errorf("Expected booking group, got %s", retrieved.BookingID)
	}
	if retrieved.UserID != "joiner1" {
		t.Errorf("Expected joiner1, got %s", retrieved.UserID)
	}
	if retrieved.Status != string(booking.ParticipantAwaitingPayment) {
		t.Errorf("Expected awaiting_payment, got %s", retrieved.Status)
	}
	if retrieved.PaymentStatus != string(booking.ParticipantPaymentRequiresMethod) {
		t.Errorf("Expected requires_payment_method, got %s", retrieved.PaymentStatus)
	}
	if retrieved.GatewayRef != nil {
		t.Error("New participant should have no gateway ref")
	}
	if retrieved.CreatedAt.IsZero() {
		t.Error("Expected created_at to be set")
	}

	// The creation transition is scoped to the participant automatically.
	transitions, err := NewTransitionRepository(pool).ListTransitionsForBooking(ctx, "group")
	if err != nil {
		t.Fatalf("ListTransitionsForBooking failed: %v", err)
	}
	var found bool
	for _, tr := range transitions {
		if tr.ID == "t1" {
			found = true
			if tr.ParticipantID == nil || *tr.ParticipantID != "p1" {
				t.Errorf("Expected transition scoped to p1, got %v", tr.ParticipantID)
			}
		}
	}
	if !found {
		t.Error("Expected creation transition t1 to be recorded")
	}
}

func TestParticipantRepository_GetParticipant_NotFound(t *testing.T) {
	repo, _ := setupParticipantRepositoryTest(t)

	_, err := repo.GetParticipant(context.Background(), "missing")
	if !errors.Is(err, persistence.ErrNotFound) {
		t.Fatalf("Expected ErrNotFound, got %v", err)
	}
}

func TestParticipantRepository_DuplicateJoin(t *testing.T) {
	repo, _ := setupParticipantRepositoryTest(t)
	ctx := context.Background()

	p := testParticipant("p1", "group", "joiner1")
	if err := repo.CreateParticipant(ctx, p, testTransition("t1", "request", "", "awaiting_payment")); err != nil {
		t.Fatalf("CreateParticipant failed: %v", err)
	}

	// Same user joining the same booking again, under a fresh row ID.
	again := testParticipant("p2", "group", "joiner1")
	err := repo.CreateParticipant(ctx, again, testTransition("t2", "request", "", "awaiting_payment"))
	if !errors.Is(err, persistence.ErrDuplicate) {
		t.Fatalf("Expected ErrDuplicate, got %v", err)
	}

	existing, err := repo.GetParticipantByUser(ctx, "group", "joiner1")
	if err != nil {
		t.Fatalf("GetParticipantByUser failed: %v", err)
	}
	if existing.ID != "p1" {
		t.Errorf("Expected original row p1, got %s", existing.ID)
	}
}

func TestParticipantRepository_GetParticipantByUser_NotFound(t *testing.T) {
	repo, _ := setupParticipantRepositoryTest(t)

	_, err := repo.GetParticipantByUser(context.Background(), "group", "joiner1")
	if !errors.Is(err, persistence.ErrNotFound) {
		t.Fatalf("Expected ErrNotFound, got %v", err)
	}
}

func TestParticipantRepository_ListParticipants(t *testing.T) {
	repo, _ := setupParticipantRepositoryTest(t)
	ctx := context.Background()

	if err := repo.CreateParticipant(ctx, testParticipant("p2", "group", "joiner2"), testTransition("t1", "request", "", "awaiting_payment")); err != nil {
		t.Fatalf("CreateParticipant failed: %v", err)
	}
	if err := repo.CreateParticipant(ctx, testParticipant("p1", "group", "joiner1"), testTransition("t2", "request", "", "awaiting_payment")); err != nil {
		t.Fatalf("CreateParticipant failed: %v", err)
	}

	participants, err := repo.ListParticipants(ctx, "group")
	if err != nil {
		t.Fatalf("ListParticipants failed: %v", err)
	}
	if len(participants) != 2 {
		t.Fatalf("Expected 2 participants, got %d", len(participants))
	}
	// Ties on created_at fall back to ID order.
	if participants[0].ID != "p1" || participants[1].ID != "p2" {
		t.Errorf("Expected [p1, p2], got [%s, %s]", participants[0].ID, participants[1].ID)
	}

	empty, err := repo.ListParticipants(ctx, "unknown-booking")
	if err != nil {
		t.Fatalf("ListParticipants failed: %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("Expected no participants, got %d", len(empty))
	}
}

func TestParticipantRepository_ListHoldsPastDeadline(t *testing.T) {
	repo, pool := setupParticipantRepositoryTest(t)
	ctx := context.Background()
	seedAccount(t, pool, "joiner3", false)
	seedAccount(t, pool, "joiner4", false)

	now := time.Date(2026, 3, 9, 12, 0, 0, 0, time.UTC)

	expired := testParticipant("expired", "group", "joiner1")
	expired.Status = string(booking.ParticipantAwaitingCoach)
	expired.PaymentStatus = string(booking.ParticipantPaymentAuthorized)
	expired.GatewayRef = strp("ch_expired")
	expired.HoldExpiresAt = tptr(now.Add(-time.Hour))
	if err := repo.CreateParticipant(ctx, expired, testTransition("t1", "client_pay", "awaiting_payment", "awaiting_coach")); err != nil {
		t.Fatalf("CreateParticipant failed: %v", err)
	}

	older := testParticipant("older", "group", "joiner2")
	older.Status = string(booking.ParticipantAwaitingCoach)
	older.PaymentStatus = string(booking.ParticipantPaymentAuthorized)
	older.HoldExpiresAt = tptr(now.Add(-2 * time.Hour))
	if err := repo.CreateParticipant(ctx, older, testTransition("t2", "client_pay", "awaiting_payment", "awaiting_coach")); err != nil {
		t.Fatalf("CreateParticipant failed: %v", err)
	}

	live := testParticipant("live", "group", "joiner3")
	live.Status = string(booking.ParticipantAwaitingCoach)
	live.PaymentStatus = string(booking.ParticipantPaymentAuthorized)
	live.HoldExpiresAt = tptr(now.Add(time.Hour))
	if err := repo.CreateParticipant(ctx, live, testTransition("t3", "client_pay", "awaiting_payment", "awaiting_coach")); err != nil {
		t.Fatalf("CreateParticipant failed: %v", err)
	}

	resolved := testParticipant("resolved", "group", "joiner4")
	resolved.Status = string(booking.ParticipantAccepted)
	resolved.PaymentStatus = string(booking.ParticipantPaymentCaptured)
	resolved.HoldExpiresAt = tptr(now.Add(-time.Hour))
	if err := repo.CreateParticipant(ctx, resolved, testTransition("t4", "coach_accept", "awaiting_coach", "accepted")); err != nil {
		t.Fatalf("CreateParticipant failed: %v", err)
	}

	holds, err := repo.ListHoldsPastDeadline(ctx, now, 10)
	if err != nil {
		t.Fatalf("ListHoldsPastDeadline failed: %v", err)
	}
	if len(holds) != 2 {
		t.Fatalf("Expected 2 expired holds, got %d", len(holds))
	}
	if holds[0].ID != "older" || holds[1].ID != "expired" {
		t.Errorf("Expected deadline order [older, expired], got [%s, %s]", holds[0].ID, holds[1].ID)
	}
	if holds[1].GatewayRef == nil || *holds[1].GatewayRef != "ch_expired" {
		t.Error("Expected the listed row to carry its gateway ref")
	}
	if holds[0].BookingID != "group" {
		t.Errorf("Expected booking ID on the listed row, got %s", holds[0].BookingID)
	}

	limited, err := repo.ListHoldsPastDeadline(ctx, now, 1)
	if err != nil {
		t.Fatalf("ListHoldsPastDeadline failed: %v", err)
	}
	if len(limited) != 1 || limited[0].ID != "older" {
		t.Errorf("Expected [older], got %d rows", len(limited))
	}
}
