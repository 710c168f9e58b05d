package gateway

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyCaptured is returned when a capture or release targets a
	// hold the processor has already settled.
	ErrAlreadyCaptured = errors.New("gateway: charge already captured")

	// ErrAlreadyCancelled is returned when a capture targets a hold that
	// was already released.
	ErrAlreadyCancelled = errors.New("gateway: authorization already cancelled")
)

// Error is a processor failure. Code carries the processor's failure code
// when one exists ("insufficient_fund", "invalid_card", ...) so it can be
// recorded on the payment attempt; Transient marks failures worth retrying
// with the same idempotency key.
type Error struct {
	Code      string
	Message   string
	Transient bool
}

func (e *Error) Error() string {
	return fmt.Sprintf("gateway: %s: %s", e.Code, e.Message)
}

// IsTransient reports whether err is a processor failure that a retry with
// the same idempotency key may resolve.
func IsTransient(err error) bool {
	var gwErr *Error
	return errors.As(err, &gwErr) && gwErr.Transient
}
