// Package gatewaytest provides an in-memory payment gateway for tests. It
// records every call, supports scripted failures, and enforces once-only
// authorization per idempotency key the way a real processor would.
package gatewaytest

import (
	"context"
	"fmt"
	"sync"

	"github.com/example/coaching-marketplace/internal/gateway"
)

// Operation names used for call recording and scripted failures.
const (
	OpCreateAuthorization = "create_authorization"
	OpCapture             = "capture"
	OpCancelAuthorization = "cancel_authorization"
	OpRefund              = "refund"
)

// Call records one gateway invocation, successful or not.
type Call struct {
	Op          string
	GatewayRef  string
	Key         string
	AmountCents int64
}

// Hold is the fake's record of one authorization.
type Hold struct {
	GatewayRef    string
	Key           string
	AmountCents   int64
	Currency      string
	BookingID     string
	ParticipantID string
	Status        gateway.Status
	RefundedCents int64
}

// Fake implements gateway.Gateway in memory. Safe for concurrent use.
type Fake struct {
	mu       sync.Mutex
	seq      int
	holds    map[string]*Hold
	byKey    map[string]string
	calls    []Call
	failures map[string][]error
}

// New returns an empty fake gateway.
func New() *Fake {
	return &Fake{
		holds:    make(map[string]*Hold),
		byKey:    make(map[string]string),
		failures: make(map[string][]error),
	}
}

// FailNext scripts err for the next call of op. Repeated calls queue, one
// failure per call. The failing call is still recorded.
func (f *Fake) FailNext(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[op] = append(f.failures[op], err)
}

// Calls returns every recorded invocation in order.
func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Call, len(f.calls))
	copy(out, f.calls)
	return out
}

// CallCount counts recorded invocations of op.
func (f *Fake) CallCount(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.Op == op {
			n++
		}
	}
	return n
}

// Hold returns the recorded authorization for a gateway ref.
func (f *Fake) Hold(ref string) (Hold, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	h, ok := f.holds[ref]
	if !ok {
		return Hold{}, false
	}
	return *h, true
}

// HoldByKey returns the recorded authorization created under an idempotency
// key.
func (f *Fake) HoldByKey(key string) (Hold, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ref, ok := f.byKey[key]
	if !ok {
		return Hold{}, false
	}
	return *f.holds[ref], true
}

func (f *Fake) popFailure(op string) error {
	q := f.failures[op]
	if len(q) == 0 {
		return nil
	}
	err := q[0]
	f.failures[op] = q[1:]
	return err
}

// CreateAuthorization places a hold. A key seen before returns the original
// hold untouched; a key reused with a different amount is rejected, which
// catches callers that rotate payloads under one key.
func (f *Fake) CreateAuthorization(ctx context.Context, req gateway.AuthorizationRequest) (gateway.Authorization, error) {
	if err := ctx.Err(); err != nil {
		return gateway.Authorization{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, Call{Op: OpCreateAuthorization, Key: req.IdempotencyKey, AmountCents: req.AmountCents})
	if err := f.popFailure(OpCreateAuthorization); err != nil {
		return gateway.Authorization{}, err
	}
	if req.IdempotencyKey != "" {
		if ref, ok := f.byKey[req.IdempotencyKey]; ok {
			h := f.holds[ref]
			if h.AmountCents != req.AmountCents {
				return gateway.Authorization{}, &gateway.Error{
					Code:    "idempotency_mismatch",
					Message: fmt.Sprintf("key %s was used with amount %d", req.IdempotencyKey, h.AmountCents),
				}
			}
			return gateway.Authorization{
				GatewayRef:   h.GatewayRef,
				ClientSecret: "secret_" + h.GatewayRef,
				Status:       h.Status,
			}, nil
		}
	}
	f.seq++
	ref := fmt.Sprintf("ch_fake_%06d", f.seq)
	f.holds[ref] = &Hold{
		GatewayRef:    ref,
		Key:           req.IdempotencyKey,
		AmountCents:   req.AmountCents,
		Currency:      req.Currency,
		BookingID:     req.BookingID,
		ParticipantID: req.ParticipantID,
		Status:        gateway.StatusAuthorized,
	}
	if req.IdempotencyKey != "" {
		f.byKey[req.IdempotencyKey] = ref
	}
	return gateway.Authorization{
		GatewayRef:   ref,
		ClientSecret: "secret_" + ref,
		Status:       gateway.StatusAuthorized,
	}, nil
}

// Capture settles a hold.
func (f *Fake) Capture(ctx context.Context, gatewayRef string) (gateway.Status, error) {
	if err := ctx.Err(); err != nil {
		return gateway.StatusFailed, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, Call{Op: OpCapture, GatewayRef: gatewayRef})
	if err := f.popFailure(OpCapture); err != nil {
		return gateway.StatusFailed, err
	}
	h, ok := f.holds[gatewayRef]
	if !ok {
		return gateway.StatusFailed, &gateway.Error{Code: "not_found", Message: "no such charge: " + gatewayRef}
	}
	switch h.Status {
	case gateway.StatusCaptured, gateway.StatusRefunded:
		return gateway.StatusFailed, gateway.ErrAlreadyCaptured
	case gateway.StatusCancelled:
		return gateway.StatusFailed, gateway.ErrAlreadyCancelled
	}
	h.Status = gateway.StatusCaptured
	return gateway.StatusCaptured, nil
}

// CancelAuthorization releases a hold. Releasing twice succeeds.
func (f *Fake) CancelAuthorization(ctx context.Context, gatewayRef string) (gateway.Status, error) {
	if err := ctx.Err(); err != nil {
		return gateway.StatusFailed, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, Call{Op: OpCancelAuthorization, GatewayRef: gatewayRef})
	if err := f.popFailure(OpCancelAuthorization); err != nil {
		return gateway.StatusFailed, err
	}
	h, ok := f.holds[gatewayRef]
	if !ok {
		return gateway.StatusFailed, &gateway.Error{Code: "not_found", Message: "no such charge: " + gatewayRef}
	}
	switch h.Status {
	case gateway.StatusCaptured, gateway.StatusRefunded:
		return gateway.StatusFailed, gateway.ErrAlreadyCaptured
	case gateway.StatusCancelled:
		return gateway.StatusCancelled, nil
	}
	h.Status = gateway.StatusCancelled
	return gateway.StatusCancelled, nil
}

// Refund returns captured money. A zero amount refunds whatever remains.
func (f *Fake) Refund(ctx context.Context, gatewayRef string, amountCents int64) (gateway.Refund, error) {
	if err := ctx.Err(); err != nil {
		return gateway.Refund{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, Call{Op: OpRefund, GatewayRef: gatewayRef, AmountCents: amountCents})
	if err := f.popFailure(OpRefund); err != nil {
		return gateway.Refund{}, err
	}
	h, ok := f.holds[gatewayRef]
	if !ok {
		return gateway.Refund{}, &gateway.Error{Code: "not_found", Message: "no such charge: " + gatewayRef}
	}
	if h.Status != gateway.StatusCaptured && h.Status != gateway.StatusRefunded {
		return gateway.Refund{}, &gateway.Error{Code: "failed_refund", Message: "charge is not captured"}
	}
	remaining := h.AmountCents - h.RefundedCents
	if remaining == 0 {
		return gateway.Refund{}, &gateway.Error{Code: "failed_refund", Message: "charge already fully refunded"}
	}
	if amountCents == 0 {
		amountCents = remaining
	}
	if amountCents > remaining {
		return gateway.Refund{}, &gateway.Error{Code: "failed_refund", Message: "refund exceeds captured amount"}
	}
	h.RefundedCents += amountCents
	if h.RefundedCents == h.AmountCents {
		h.Status = gateway.StatusRefunded
	}
	f.seq++
	return gateway.Refund{RefundRef: fmt.Sprintf("rfnd_fake_%06d", f.seq), AmountCents: amountCents}, nil
}
