package testfixtures

import (
	"context"
	"testing"

	"github.com/example/coaching-marketplace/internal/application"
	"github.com/example/coaching-marketplace/internal/notify"
	"github.com/example/coaching-marketplace/internal/persistence/sqlite"
)

func TestServiceFactoryNewBookingService(t *testing.T) {
	factory := NewServiceFactory()
	store := sqlite.NewStorage()

	coach := NewAccountFixture(WithAccountCoach(true))
	if err := store.CreateAccount(context.Background(), coach.Persistence()); err != nil {
		t.Fatalf("CreateAccount returned error: %v", err)
	}

	svc := factory.NewBookingService(BookingServiceDeps{
		Bookings:     store,
		Participants: store,
		Accounts:     store,
		Transitions:  store,
		Publisher:    notify.NewRecorder(),
	})

	client := NewAccountFixture()
	request := NewBookingFixture(WithBookingCoach(coach.ID), WithBookingPayer(client.ID))

	result, _, err := svc.CreateBooking(context.Background(), application.CreateBookingParams{
		Principal: client.Principal(),
		Input:     request.Input(),
	})
	if err != nil {
		t.Fatalf("CreateBooking returned error: %v", err)
	}

	if result.Booking.ID != "id-1" {
		t.Fatalf("expected generated ID id-1, got %q", result.Booking.ID)
	}
	if !result.Booking.CreatedAt.Equal(factory.Clock.Current()) {
		t.Fatalf("expected timestamp %v, got %v", factory.Clock.Current(), result.Booking.CreatedAt)
	}

	stored, err := store.GetBooking(context.Background(), result.Booking.ID)
	if err != nil {
		t.Fatalf("GetBooking returned error: %v", err)
	}
	if stored.CoachID != coach.ID {
		t.Fatalf("stored booking has unexpected coach: %q", stored.CoachID)
	}
}

func TestServiceFactoryAppliesOverrides(t *testing.T) {
	clock := NewClock(ReferenceTime().Add(1000))
	generator := NewIDGenerator("custom")
	factory := NewServiceFactory(WithClock(clock), WithIDGenerator(generator))

	if factory.Clock != clock {
		t.Fatal("expected supplied clock to be used")
	}
	if got := factory.IDGenerator.Next(); got != "custom-1" {
		t.Fatalf("expected custom-1, got %q", got)
	}
}
