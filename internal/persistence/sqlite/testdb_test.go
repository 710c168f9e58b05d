package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/example/coaching-marketplace/internal/booking"
	"github.com/example/coaching-marketplace/internal/persistence"
	"github.com/example/coaching-marketplace/internal/persistence/sqlite/migration"
	"github.com/example/coaching-marketplace/migrations"
)

// newTestPool creates a temp-file database with the shipped schema applied.
func newTestPool(t *testing.T) *ConnectionPool {
	t.Helper()

	tempDir := t.TempDir()
	dbPath := filepath.Join(tempDir, "test.db")

	config := migration.TempFileTestSQLiteConfig(dbPath)
	pool, err := NewConnectionPool(config)
	if err != nil {
		t.Fatalf("Failed to create connection pool: %v", err)
	}
	t.Cleanup(func() {
		pool.Close()
	})

	runner := migration.NewRunner(pool.DB(), nil)
	if err := runner.Run(context.Background(), migrations.FS); err != nil {
		t.Fatalf("Failed to apply migrations: %v", err)
	}

	return pool
}

// seedAccount inserts an account so foreign keys on bookings and
// participants are satisfied.
func seedAccount(t *testing.T, pool *ConnectionPool, id string, isCoach bool) {
	t.Helper()

	repo := NewAccountRepository(pool)
	err := repo.CreateAccount(context.Background(), persistence.Account{
		ID:           id,
		Email:        id + "@example.com",
		DisplayName:  "Account " + id,
		PasswordHash: "argon2id$test",
		IsCoach:      isCoach,
	})
	if err != nil {
		t.Fatalf("CreateAccount failed for %s: %v", id, err)
	}
}

func strp(v string) *string {
	return &v
}

func tptr(v time.Time) *time.Time {
	return &v
}

func testBooking(id, coachID string, typ booking.Type) persistence.Booking {
	start := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	return persistence.Booking{
		ID:                id,
		Type:              string(typ),
		CoachID:           coachID,
		ApprovalStatus:    string(booking.ApprovalPendingReview),
		FulfillmentStatus: string(booking.FulfillmentScheduled),
		ScheduledStartAt:  start,
		ScheduledEndAt:    start.Add(time.Hour),
		DurationMinutes:   60,
		Location:          persistence.Location{Name: "Studio A"},
		IdempotencyKey:    "create-" + id,
		RespondBy:         tptr(start.Add(-24 * time.Hour)),
	}
}

func testIndividualDetail(clientID string) persistence.BookingDetail {
	return persistence.BookingDetail{
		Individual: &persistence.IndividualDetail{
			ClientID: clientID,
			Price: persistence.PriceBreakdown{
				ClientChargeCents: 8000,
				PlatformFeeCents:  1200,
				CoachPayoutCents:  6800,
				ProcessorFeeCents: 262,
			},
			Currency:      "usd",
			PaymentStatus: string(booking.PaymentNotRequired),
		},
	}
}

func testPrivateGroupDetail(organizerID string, people int) persistence.BookingDetail {
	perPerson := int64(5000)
	total := perPerson * int64(people)
	return persistence.BookingDetail{
		PrivateGroup: &persistence.PrivateGroupDetail{
			OrganizerID:         organizerID,
			TotalParticipants:   people,
			PricePerPersonCents: perPerson,
			Price: persistence.PriceBreakdown{
				ClientChargeCents: total,
				PlatformFeeCents:  total * 15 / 100,
				CoachPayoutCents:  total * 85 / 100,
				ProcessorFeeCents: total * 3 / 100,
			},
			Currency:      "usd",
			PaymentStatus: string(booking.PaymentNotRequired),
		},
	}
}

func testPublicGroupDetail(max int) persistence.BookingDetail {
	return persistence.BookingDetail{
		PublicGroup: &persistence.PublicGroupDetail{
			MaxParticipants:     max,
			MinParticipants:     1,
			PricePerPersonCents: 2500,
			Currency:            "usd",
			CapacityStatus:      string(booking.CapacityOpen),
		},
	}
}

func testTransition(id, event, from, to string) persistence.BookingStateTransition {
	return persistence.BookingStateTransition{
		ID:            id,
		Event:         event,
		FromState:     from,
		ToState:       to,
		ActorRelation: "system",
	}
}

// seatConsumingChange is the participant transition that completes a
// public-group join: the hold is authorized and the seat occupied.
func seatConsumingChange(participantID string, holdExpiresAt time.Time) *persistence.ParticipantChange {
	return &persistence.ParticipantChange{
		ID:               participantID,
		ExpectStatus:     string(booking.ParticipantAwaitingPayment),
		ExpectPayment:    string(booking.ParticipantPaymentRequiresMethod),
		SetStatus:        string(booking.ParticipantAwaitingCoach),
		SetPayment:       string(booking.ParticipantPaymentAuthorized),
		SetGatewayRef:    strp("ch_" + participantID),
		SetHoldExpiresAt: tptr(holdExpiresAt),
	}
}
