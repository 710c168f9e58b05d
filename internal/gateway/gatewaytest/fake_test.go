package gatewaytest

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/example/coaching-marketplace/internal/gateway"
)

func authReq(key string, amount int64) gateway.AuthorizationRequest {
	return gateway.AuthorizationRequest{
		AmountCents:    amount,
		Currency:       "usd",
		CardToken:      "tok_test",
		IdempotencyKey: key,
		BookingID:      "bkg-1",
	}
}

func TestFake_CreateAuthorization(t *testing.T) {
	f := New()
	ctx := context.Background()

	auth, err := f.CreateAuthorization(ctx, authReq("key-1", 5000))
	if err != nil {
		t.Fatalf("CreateAuthorization failed: %v", err)
	}
	if auth.GatewayRef == "" {
		t.Fatal("Expected a gateway ref")
	}
	if auth.Status != gateway.StatusAuthorized {
		t.Errorf("Expected status authorized, got '%s'", auth.Status)
	}
	if auth.ClientSecret != "secret_"+auth.GatewayRef {
		t.Errorf("Expected a client secret derived from the ref, got '%s'", auth.ClientSecret)
	}

	h, ok := f.Hold(auth.GatewayRef)
	if !ok {
		t.Fatal("Expected the hold to be recorded")
	}
	if h.AmountCents != 5000 || h.Currency != "usd" || h.BookingID != "bkg-1" {
		t.Errorf("Unexpected hold: %+v", h)
	}
}

func TestFake_AuthorizationIdempotency(t *testing.T) {
	f := New()
	ctx := context.Background()

	first, err := f.CreateAuthorization(ctx, authReq("key-1", 5000))
	if err != nil {
		t.Fatalf("CreateAuthorization failed: %v", err)
	}
	second, err := f.CreateAuthorization(ctx, authReq("key-1", 5000))
	if err != nil {
		t.Fatalf("Replayed CreateAuthorization failed: %v", err)
	}
	if second.GatewayRef != first.GatewayRef {
		t.Errorf("Expected the original ref %s, got %s", first.GatewayRef, second.GatewayRef)
	}
	if got := f.CallCount(OpCreateAuthorization); got != 2 {
		t.Errorf("Expected both calls recorded, got %d", got)
	}

	// Only one hold exists for the key.
	if _, ok := f.Hold("ch_fake_000002"); ok {
		t.Error("Expected the replay not to create a second hold")
	}
}

func TestFake_AuthorizationKeyAmountMismatch(t *testing.T) {
	f := New()
	ctx := context.Background()

	if _, err := f.CreateAuthorization(ctx, authReq("key-1", 5000)); err != nil {
		t.Fatalf("CreateAuthorization failed: %v", err)
	}
	_, err := f.CreateAuthorization(ctx, authReq("key-1", 9000))
	var gwErr *gateway.Error
	if !errors.As(err, &gwErr) || gwErr.Code != "idempotency_mismatch" {
		t.Fatalf("Expected idempotency_mismatch, got %v", err)
	}
}

func TestFake_CaptureLifecycle(t *testing.T) {
	f := New()
	ctx := context.Background()

	auth, err := f.CreateAuthorization(ctx, authReq("key-1", 5000))
	if err != nil {
		t.Fatalf("CreateAuthorization failed: %v", err)
	}

	status, err := f.Capture(ctx, auth.GatewayRef)
	if err != nil {
		t.Fatalf("Capture failed: %v", err)
	}
	if status != gateway.StatusCaptured {
		t.Errorf("Expected status captured, got '%s'", status)
	}

	if _, err := f.Capture(ctx, auth.GatewayRef); !errors.Is(err, gateway.ErrAlreadyCaptured) {
		t.Errorf("Expected ErrAlreadyCaptured on second capture, got %v", err)
	}
	if _, err := f.CancelAuthorization(ctx, auth.GatewayRef); !errors.Is(err, gateway.ErrAlreadyCaptured) {
		t.Errorf("Expected ErrAlreadyCaptured on release after capture, got %v", err)
	}
}

func TestFake_CancelAuthorization(t *testing.T) {
	f := New()
	ctx := context.Background()

	auth, err := f.CreateAuthorization(ctx, authReq("key-1", 2000))
	if err != nil {
		t.Fatalf("CreateAuthorization failed: %v", err)
	}

	status, err := f.CancelAuthorization(ctx, auth.GatewayRef)
	if err != nil {
		t.Fatalf("CancelAuthorization failed: %v", err)
	}
	if status != gateway.StatusCancelled {
		t.Errorf("Expected status cancelled, got '%s'", status)
	}

	// Releasing twice is fine; sweeper and user actions can race.
	if _, err := f.CancelAuthorization(ctx, auth.GatewayRef); err != nil {
		t.Errorf("Expected second release to succeed, got %v", err)
	}

	if _, err := f.Capture(ctx, auth.GatewayRef); !errors.Is(err, gateway.ErrAlreadyCancelled) {
		t.Errorf("Expected ErrAlreadyCancelled on capture after release, got %v", err)
	}
}

func TestFake_UnknownRef(t *testing.T) {
	f := New()
	ctx := context.Background()

	var gwErr *gateway.Error
	if _, err := f.Capture(ctx, "ch_missing"); !errors.As(err, &gwErr) || gwErr.Code != "not_found" {
		t.Errorf("Expected not_found from Capture, got %v", err)
	}
	if _, err := f.CancelAuthorization(ctx, "ch_missing"); !errors.As(err, &gwErr) || gwErr.Code != "not_found" {
		t.Errorf("Expected not_found from CancelAuthorization, got %v", err)
	}
	if _, err := f.Refund(ctx, "ch_missing", 0); !errors.As(err, &gwErr) || gwErr.Code != "not_found" {
		t.Errorf("Expected not_found from Refund, got %v", err)
	}
}

func TestFake_Refund(t *testing.T) {
	f := New()
	ctx := context.Background()

	auth, err := f.CreateAuthorization(ctx, authReq("key-1", 20000))
	if err != nil {
		t.Fatalf("CreateAuthorization failed: %v", err)
	}

	// Refund before capture is rejected.
	if _, err := f.Refund(ctx, auth.GatewayRef, 0); err == nil {
		t.Fatal("Expected refund on an uncaptured hold to fail")
	}

	if _, err := f.Capture(ctx, auth.GatewayRef); err != nil {
		t.Fatalf("Capture failed: %v", err)
	}

	partial, err := f.Refund(ctx, auth.GatewayRef, 5000)
	if err != nil {
		t.Fatalf("Partial refund failed: %v", err)
	}
	if partial.AmountCents != 5000 {
		t.Errorf("Expected 5000 refunded, got %d", partial.AmountCents)
	}
	if h, _ := f.Hold(auth.GatewayRef); h.Status != gateway.StatusCaptured || h.RefundedCents != 5000 {
		t.Errorf("Expected a partially refunded captured hold, got %+v", h)
	}

	// Zero amount refunds the remainder.
	rest, err := f.Refund(ctx, auth.GatewayRef, 0)
	if err != nil {
		t.Fatalf("Full refund failed: %v", err)
	}
	if rest.AmountCents != 15000 {
		t.Errorf("Expected the remaining 15000 refunded, got %d", rest.AmountCents)
	}
	if h, _ := f.Hold(auth.GatewayRef); h.Status != gateway.StatusRefunded {
		t.Errorf("Expected status refunded, got '%s'", h.Status)
	}

	if _, err := f.Refund(ctx, auth.GatewayRef, 0); err == nil {
		t.Fatal("Expected refund on a fully refunded charge to fail")
	}
}

func TestFake_RefundExceedsCaptured(t *testing.T) {
	f := New()
	ctx := context.Background()

	auth, _ := f.CreateAuthorization(ctx, authReq("key-1", 5000))
	if _, err := f.Capture(ctx, auth.GatewayRef); err != nil {
		t.Fatalf("Capture failed: %v", err)
	}

	var gwErr *gateway.Error
	if _, err := f.Refund(ctx, auth.GatewayRef, 6000); !errors.As(err, &gwErr) || gwErr.Code != "failed_refund" {
		t.Fatalf("Expected failed_refund, got %v", err)
	}
}

func TestFake_ScriptedFailures(t *testing.T) {
	f := New()
	ctx := context.Background()

	scripted := &gateway.Error{Code: "failed_processing", Message: "processor hiccup", Transient: true}
	f.FailNext(OpCreateAuthorization, scripted)

	if _, err := f.CreateAuthorization(ctx, authReq("key-1", 5000)); !errors.Is(err, error(scripted)) {
		t.Fatalf("Expected the scripted error, got %v", err)
	}
	// The failed call is recorded and did not burn the key.
	if got := f.CallCount(OpCreateAuthorization); got != 1 {
		t.Errorf("Expected the failed call recorded, got %d", got)
	}
	if _, ok := f.HoldByKey("key-1"); ok {
		t.Error("Expected no hold after a scripted failure")
	}

	// The retry with the same key succeeds.
	auth, err := f.CreateAuthorization(ctx, authReq("key-1", 5000))
	if err != nil {
		t.Fatalf("Retry after scripted failure failed: %v", err)
	}
	if auth.Status != gateway.StatusAuthorized {
		t.Errorf("Expected status authorized, got '%s'", auth.Status)
	}
}

func TestFake_ContextCancelled(t *testing.T) {
	f := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := f.CreateAuthorization(ctx, authReq("key-1", 5000)); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if got := f.CallCount(OpCreateAuthorization); got != 0 {
		t.Errorf("Expected no call recorded for a dead context, got %d", got)
	}
}

func TestFake_ConcurrentAuthorizations(t *testing.T) {
	f := New()
	ctx := context.Background()

	var wg sync.WaitGroup
	refs := make([]string, 32)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			auth, err := f.CreateAuthorization(ctx, gateway.AuthorizationRequest{
				AmountCents:    1000,
				Currency:       "usd",
				IdempotencyKey: "key-1",
			})
			if err != nil {
				t.Errorf("CreateAuthorization failed: %v", err)
				return
			}
			refs[n] = auth.GatewayRef
		}(i)
	}
	wg.Wait()

	for i := 1; i < len(refs); i++ {
		if refs[i] != refs[0] {
			t.Fatalf("Expected one hold for one key, got %s and %s", refs[0], refs[i])
		}
	}
}

var _ gateway.Gateway = (*Fake)(nil)
