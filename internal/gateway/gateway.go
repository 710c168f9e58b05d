// Package gateway defines the payment-processor port the application layer
// talks to. Implementations place authorization holds, capture or release
// them, and refund captured charges. The ledger, not the processor, is the
// source of truth for idempotency: callers check their own payment records
// before invoking the gateway, and thread the idempotency key through so the
// processor side can be reconciled.
package gateway

import "context"

// Status is the processor-side lifecycle state of a charge.
type Status string

const (
	// StatusPending means the processor accepted the request but the hold
	// is not final yet (3-D Secure or asynchronous confirmation).
	StatusPending Status = "pending"
	// StatusAuthorized means the hold is placed and capturable.
	StatusAuthorized Status = "authorized"
	// StatusCaptured means the held amount has been settled.
	StatusCaptured Status = "captured"
	// StatusCancelled means the hold was released without settling.
	StatusCancelled Status = "cancelled"
	// StatusRefunded means captured money was returned to the payer.
	StatusRefunded Status = "refunded"
	// StatusFailed means the processor rejected the request.
	StatusFailed Status = "failed"
)

// AuthorizationRequest describes a hold to place on the payer's payment
// method. Amounts are integer minor units.
type AuthorizationRequest struct {
	AmountCents int64
	Currency    string

	// CardToken is the client-side tokenized payment method.
	CardToken string

	// IdempotencyKey makes retries safe. The same key must never produce a
	// second hold.
	IdempotencyKey string

	// BookingID and ParticipantID tie the processor object back to the
	// ledger for reconciliation. ParticipantID is empty outside public
	// groups.
	BookingID     string
	ParticipantID string

	Description string
}

// Authorization is the processor's answer to a hold request.
type Authorization struct {
	// GatewayRef identifies the charge on the processor side and is the
	// handle for capture, release and refund.
	GatewayRef string

	// ClientSecret is the follow-up secret or redirect the payer's client
	// needs to finish authentication. Empty when none is required.
	ClientSecret string

	Status Status
}

// Refund is the processor's record of money returned to the payer.
type Refund struct {
	RefundRef   string
	AmountCents int64
}

// Gateway places, settles and unwinds holds against a payment processor.
// Implementations must be safe for concurrent use. Every call is bounded by
// the context deadline; a timed-out call reports failure and must not be
// assumed to have succeeded.
type Gateway interface {
	// CreateAuthorization places a hold for the requested amount with
	// capture deferred.
	CreateAuthorization(ctx context.Context, req AuthorizationRequest) (Authorization, error)

	// Capture settles a previously placed hold. Fails with
	// ErrAlreadyCaptured or ErrAlreadyCancelled when the hold has already
	// been resolved.
	Capture(ctx context.Context, gatewayRef string) (Status, error)

	// CancelAuthorization releases a hold without settling it. Releasing an
	// already-released hold succeeds; a captured hold fails with
	// ErrAlreadyCaptured so the caller can reconcile.
	CancelAuthorization(ctx context.Context, gatewayRef string) (Status, error)

	// Refund returns captured money to the payer. A zero amountCents
	// refunds the full captured amount.
	Refund(ctx context.Context, gatewayRef string, amountCents int64) (Refund, error)
}
