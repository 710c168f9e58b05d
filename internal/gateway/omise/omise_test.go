package omisegw

import (
	"errors"
	"testing"

	"github.com/omise/omise-go"

	"github.com/example/coaching-marketplace/internal/gateway"
)

func TestMapError_ResolvedHolds(t *testing.T) {
	tests := []struct {
		name   string
		apiErr *omise.Error
		want   error
	}{
		{
			name:   "capture on captured charge",
			apiErr: &omise.Error{Code: "failed_capture", Message: "Charge has already been captured"},
			want:   gateway.ErrAlreadyCaptured,
		},
		{
			name:   "reverse on reversed charge",
			apiErr: &omise.Error{Code: "failed_reverse", Message: "charge was already reversed"},
			want:   gateway.ErrAlreadyCancelled,
		},
		{
			name:   "reverse on expired authorization",
			apiErr: &omise.Error{Code: "failed_reverse", Message: "authorization already expired"},
			want:   gateway.ErrAlreadyCancelled,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := mapError(tt.apiErr)
			if !errors.Is(got, tt.want) {
				t.Errorf("mapError(%v) = %v, want %v", tt.apiErr, got, tt.want)
			}
		})
	}
}

func TestMapError_ProcessorFailure(t *testing.T) {
	got := mapError(&omise.Error{Code: "insufficient_fund", Message: "insufficient funds in the account"})

	var gwErr *gateway.Error
	if !errors.As(got, &gwErr) {
		t.Fatalf("Expected *gateway.Error, got %T", got)
	}
	if gwErr.Code != "insufficient_fund" {
		t.Errorf("Expected code insufficient_fund, got '%s'", gwErr.Code)
	}
	if gwErr.Transient {
		t.Error("Expected a card decline to be permanent")
	}
}

func TestMapError_TransientCodes(t *testing.T) {
	got := mapError(&omise.Error{Code: "failed_processing", Message: "processing error"})

	if !gateway.IsTransient(got) {
		t.Errorf("Expected failed_processing to be transient, got %v", got)
	}
}

func TestMapError_TransportFailure(t *testing.T) {
	got := mapError(errors.New("dial tcp: connection refused"))

	var gwErr *gateway.Error
	if !errors.As(got, &gwErr) {
		t.Fatalf("Expected *gateway.Error, got %T", got)
	}
	if gwErr.Code != "network_error" {
		t.Errorf("Expected code network_error, got '%s'", gwErr.Code)
	}
	if !gwErr.Transient {
		t.Error("Expected a transport failure to be transient")
	}
}

func TestMapError_PassesThroughGatewayErrors(t *testing.T) {
	in := &gateway.Error{Code: "timeout", Message: "call abandoned", Transient: true}

	if got := mapError(in); got != error(in) {
		t.Errorf("Expected the gateway error unchanged, got %v", got)
	}
}

func TestDeclineError(t *testing.T) {
	code := "insufficient_fund"
	msg := "not enough funds"
	charge := &omise.Charge{FailureCode: &code, FailureMessage: &msg}

	err := declineError(charge)
	var gwErr *gateway.Error
	if !errors.As(err, &gwErr) {
		t.Fatalf("Expected *gateway.Error, got %T", err)
	}
	if gwErr.Code != "insufficient_fund" {
		t.Errorf("Expected failure code carried over, got '%s'", gwErr.Code)
	}
	if gwErr.Message != "not enough funds" {
		t.Errorf("Expected failure message carried over, got '%s'", gwErr.Message)
	}
}

func TestDeclineError_NoFailureDetail(t *testing.T) {
	err := declineError(&omise.Charge{})

	var gwErr *gateway.Error
	if !errors.As(err, &gwErr) {
		t.Fatalf("Expected *gateway.Error, got %T", err)
	}
	if gwErr.Code != "card_declined" {
		t.Errorf("Expected fallback code card_declined, got '%s'", gwErr.Code)
	}
}

func TestChargeMetadata(t *testing.T) {
	md := chargeMetadata(gateway.AuthorizationRequest{
		IdempotencyKey: "key-1",
		BookingID:      "bkg-1",
		ParticipantID:  "part-1",
	})
	if md["idempotency_key"] != "key-1" || md["booking_id"] != "bkg-1" || md["participant_id"] != "part-1" {
		t.Errorf("Unexpected metadata: %v", md)
	}

	md = chargeMetadata(gateway.AuthorizationRequest{IdempotencyKey: "key-2", BookingID: "bkg-2"})
	if _, ok := md["participant_id"]; ok {
		t.Error("Expected participant_id omitted for booking-level charges")
	}
}
