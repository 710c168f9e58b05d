package booking

import "fmt"

// Guard reason codes surfaced with GuardError.
const (
	GuardCapacityFull        = "capacity_full"
	GuardDeadlinePassed      = "deadline_passed"
	GuardWrongRole           = "wrong_role"
	GuardStartNotInFuture    = "start_not_in_future"
	GuardNotElapsed          = "not_elapsed"
	GuardPaymentNotCaptured  = "payment_not_captured"
	GuardPaymentNotSubmitted = "payment_not_submitted"
	GuardCapacityClosed      = "capacity_closed"
)

// TransitionError rejects an event that is not legal from the current state.
// It carries no side effects and is not retryable.
type TransitionError struct {
	Event Event
	From  string
}

// Error implements the error interface.
func (e *TransitionError) Error() string {
	return fmt.Sprintf("booking: event %s is not valid from state %s", e.Event, e.From)
}

// GuardError rejects an event that is legal in principle but fails a guard
// condition. Code is a stable machine-readable reason.
type GuardError struct {
	Event  Event
	Code   string
	Detail string
}

// Error implements the error interface.
func (e *GuardError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("booking: event %s rejected: %s", e.Event, e.Code)
	}
	return fmt.Sprintf("booking: event %s rejected: %s (%s)", e.Event, e.Code, e.Detail)
}

// IntegrityError marks a compound status combination outside the legal state
// table. Callers must abort the surrounding write.
type IntegrityError struct {
	Detail string
}

// Error implements the error interface.
func (e *IntegrityError) Error() string {
	return "booking: state integrity violation: " + e.Detail
}

func invalidFrom(e Event, s State) *TransitionError {
	return &TransitionError{Event: e, From: s.describe()}
}

func guard(e Event, code, detail string) *GuardError {
	return &GuardError{Event: e, Code: code, Detail: detail}
}
