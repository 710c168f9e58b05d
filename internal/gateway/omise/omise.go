// Package omisegw implements the payment gateway port on the Omise charge
// API. Holds map to charges created with capture disabled, capture to the
// capture endpoint, release to reverse, and refunds to the refund endpoint.
package omisegw

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/omise/omise-go"
	"github.com/omise/omise-go/operations"

	"github.com/example/coaching-marketplace/internal/gateway"
)

const defaultTimeout = 10 * time.Second

// Client adapts an Omise API client to the gateway port.
type Client struct {
	api     *omise.Client
	timeout time.Duration
}

// New builds a gateway backed by Omise. The timeout bounds every API call;
// zero selects the default.
func New(publicKey, secretKey string, timeout time.Duration) (*Client, error) {
	api, err := omise.NewClient(publicKey, secretKey)
	if err != nil {
		return nil, fmt.Errorf("omise client: %w", err)
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	api.Timeout = timeout
	return &Client{api: api, timeout: timeout}, nil
}

// CreateAuthorization places a hold by creating a charge with capture
// disabled. The idempotency key rides in the charge metadata so a processor
// object can always be traced back to the ledger row that requested it.
func (c *Client) CreateAuthorization(ctx context.Context, req gateway.AuthorizationRequest) (gateway.Authorization, error) {
	charge := &omise.Charge{}
	create := &operations.CreateCharge{
		Amount:      req.AmountCents,
		Currency:    req.Currency,
		Card:        req.CardToken,
		Description: req.Description,
		DontCapture: true,
		Metadata:    chargeMetadata(req),
	}
	err := c.call(ctx, func() error { return c.api.Do(charge, create) })
	if err != nil {
		return gateway.Authorization{}, mapError(err)
	}
	switch string(charge.Status) {
	case "failed", "expired":
		return gateway.Authorization{}, declineError(charge)
	}
	status := gateway.StatusPending
	if charge.Authorized || string(charge.Status) == "successful" {
		status = gateway.StatusAuthorized
	}
	return gateway.Authorization{GatewayRef: charge.ID, Status: status}, nil
}

// Capture settles a hold.
func (c *Client) Capture(ctx context.Context, gatewayRef string) (gateway.Status, error) {
	charge := &omise.Charge{}
	err := c.call(ctx, func() error {
		return c.api.Do(charge, &operations.CaptureCharge{ChargeID: gatewayRef})
	})
	if err != nil {
		return gateway.StatusFailed, mapError(err)
	}
	if string(charge.Status) == "failed" {
		return gateway.StatusFailed, declineError(charge)
	}
	return gateway.StatusCaptured, nil
}

// CancelAuthorization releases a hold by reversing the charge. Reversing a
// charge that is already reversed reports success so release stays
// idempotent across sweeper and user races.
func (c *Client) CancelAuthorization(ctx context.Context, gatewayRef string) (gateway.Status, error) {
	charge := &omise.Charge{}
	err := c.call(ctx, func() error {
		return c.api.Do(charge, &operations.ReverseCharge{ChargeID: gatewayRef})
	})
	if err != nil {
		mapped := mapError(err)
		if errors.Is(mapped, gateway.ErrAlreadyCancelled) {
			return gateway.StatusCancelled, nil
		}
		return gateway.StatusFailed, mapped
	}
	return gateway.StatusCancelled, nil
}

// Refund returns captured money. A zero amount refunds the full charge
// amount, which costs one extra retrieve round-trip.
func (c *Client) Refund(ctx context.Context, gatewayRef string, amountCents int64) (gateway.Refund, error) {
	if amountCents == 0 {
		charge := &omise.Charge{}
		err := c.call(ctx, func() error {
			return c.api.Do(charge, &operations.RetrieveCharge{ChargeID: gatewayRef})
		})
		if err != nil {
			return gateway.Refund{}, mapError(err)
		}
		amountCents = charge.Amount
	}
	refund := &omise.Refund{}
	err := c.call(ctx, func() error {
		return c.api.Do(refund, &operations.CreateRefund{ChargeID: gatewayRef, Amount: amountCents})
	})
	if err != nil {
		return gateway.Refund{}, mapError(err)
	}
	return gateway.Refund{RefundRef: refund.ID, AmountCents: refund.Amount}, nil
}

// call runs fn under ctx. The SDK call itself is bounded by the HTTP client
// timeout; this keeps a cancelled caller from waiting it out. An abandoned
// call is reported as a transient failure, never as success.
func (c *Client) call(ctx context.Context, fn func() error) error {
	done := make(chan error, 1)
	go func() { done <- fn() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return &gateway.Error{
			Code:      "timeout",
			Message:   "call abandoned: " + ctx.Err().Error(),
			Transient: true,
		}
	}
}

func chargeMetadata(req gateway.AuthorizationRequest) map[string]interface{} {
	md := map[string]interface{}{
		"idempotency_key": req.IdempotencyKey,
		"booking_id":      req.BookingID,
	}
	if req.ParticipantID != "" {
		md["participant_id"] = req.ParticipantID
	}
	return md
}

// declineError turns a charge the processor refused into a permanent
// gateway error carrying the processor's failure code.
func declineError(charge *omise.Charge) error {
	code := "card_declined"
	if charge.FailureCode != nil && *charge.FailureCode != "" {
		code = *charge.FailureCode
	}
	msg := "charge " + string(charge.Status)
	if charge.FailureMessage != nil && *charge.FailureMessage != "" {
		msg = *charge.FailureMessage
	}
	return &gateway.Error{Code: code, Message: msg}
}

// mapError translates SDK errors. Omise reports resolved holds through
// error messages rather than distinct codes, so those are matched on text;
// anything that never reached a processor decision is transient.
func mapError(err error) error {
	var gwErr *gateway.Error
	if errors.As(err, &gwErr) {
		return err
	}
	var apiErr *omise.Error
	if errors.As(err, &apiErr) {
		msg := strings.ToLower(apiErr.Message)
		switch {
		case strings.Contains(msg, "already captured"),
			strings.Contains(msg, "already been captured"):
			return gateway.ErrAlreadyCaptured
		case strings.Contains(msg, "already reversed"),
			strings.Contains(msg, "already been reversed"),
			strings.Contains(msg, "already expired"):
			return gateway.ErrAlreadyCancelled
		}
		return &gateway.Error{
			Code:      apiErr.Code,
			Message:   apiErr.Message,
			Transient: transientCode(apiErr.Code),
		}
	}
	return &gateway.Error{Code: "network_error", Message: err.Error(), Transient: true}
}

func transientCode(code string) bool {
	switch code {
	case "failed_processing", "internal_error", "service_unavailable", "timeout":
		return true
	}
	return false
}
