package booking

import (
	"errors"
	"testing"
	"time"
)

func TestValidState(t *testing.T) {
	t.Parallel()

	start := time.Date(2025, time.June, 2, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		state   State
		wantErr bool
	}{
		{
			name: "pending individual",
			state: State{
				Type: TypeIndividual, Approval: ApprovalPendingReview,
				Fulfillment: FulfillmentScheduled, Payment: PaymentNotRequired,
				ScheduledStartAt: start, ScheduledEndAt: start.Add(time.Hour),
			},
		},
		{
			name: "accepted captured individual",
			state: State{
				Type: TypeIndividual, Approval: ApprovalAccepted,
				Fulfillment: FulfillmentScheduled, Payment: PaymentCaptured,
			},
		},
		{
			name: "pending booking cannot hold captured payment",
			state: State{
				Type: TypeIndividual, Approval: ApprovalPendingReview,
				Fulfillment: FulfillmentScheduled, Payment: PaymentCaptured,
			},
			wantErr: true,
		},
		{
			name: "completed booking requires captured payment",
			state: State{
				Type: TypeIndividual, Approval: ApprovalAccepted,
				Fulfillment: FulfillmentCompleted, Payment: PaymentAwaitingClient,
			},
			wantErr: true,
		},
		{
			name: "completed declined booking is illegal",
			state: State{
				Type: TypeIndividual, Approval: ApprovalDeclined,
				Fulfillment: FulfillmentCompleted, Payment: PaymentNotRequired,
			},
			wantErr: true,
		},
		{
			name: "individual with capacity axis is illegal",
			state: State{
				Type: TypeIndividual, Approval: ApprovalPendingReview,
				Fulfillment: FulfillmentScheduled, Payment: PaymentNotRequired,
				Capacity: CapacityOpen,
			},
			wantErr: true,
		},
		{
			name: "open public group",
			state: State{
				Type: TypePublicGroup, Approval: ApprovalAccepted,
				Fulfillment: FulfillmentScheduled, Capacity: CapacityOpen,
			},
		},
		{
			name: "public group without capacity is illegal",
			state: State{
				Type: TypePublicGroup, Approval: ApprovalAccepted,
				Fulfillment: FulfillmentScheduled,
			},
			wantErr: true,
		},
		{
			name: "public group never enters pending review",
			state: State{
				Type: TypePublicGroup, Approval: ApprovalPendingReview,
				Fulfillment: FulfillmentScheduled, Capacity: CapacityOpen,
			},
			wantErr: true,
		},
		{
			name: "cancelled public group must close capacity",
			state: State{
				Type: TypePublicGroup, Approval: ApprovalCancelled,
				Fulfillment: FulfillmentScheduled, Capacity: CapacityOpen,
			},
			wantErr: true,
		},
		{
			name: "public group with detail payment is illegal",
			state: State{
				Type: TypePublicGroup, Approval: ApprovalAccepted,
				Fulfillment: FulfillmentScheduled, Capacity: CapacityOpen,
				Payment: PaymentCaptured,
			},
			wantErr: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := ValidState(tc.state)
			if tc.wantErr {
				var iErr *IntegrityError
				if !errors.As(err, &iErr) {
					t.Fatalf("expected IntegrityError, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestValidParticipant(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		p       ParticipantState
		wantErr bool
	}{
		{name: "awaiting coach holds authorization", p: ParticipantState{Status: ParticipantAwaitingCoach, Payment: ParticipantPaymentAuthorized}},
		{name: "accepted seat is captured", p: ParticipantState{Status: ParticipantAccepted, Payment: ParticipantPaymentCaptured}},
		{name: "cancelled seat may be refunded", p: ParticipantState{Status: ParticipantCancelled, Payment: ParticipantPaymentRefunded}},
		{name: "accepted seat without capture is illegal", p: ParticipantState{Status: ParticipantAccepted, Payment: ParticipantPaymentAuthorized}, wantErr: true},
		{name: "awaiting coach without authorization is illegal", p: ParticipantState{Status: ParticipantAwaitingCoach, Payment: ParticipantPaymentRequiresMethod}, wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := ValidParticipant(tc.p)
			if tc.wantErr && err == nil {
				t.Fatal("expected an error")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}
