// Package booking contains the pure state machine for the booking lifecycle.
//
// The package is side-effect free: it maps a compound booking state plus an
// event to either a new compound state with the side effects the caller must
// perform, or a typed rejection. All persistence, payment, and notification
// work happens in the layers above; nothing here performs I/O.
package booking

// Type identifies the booking variant. Exactly one detail payload exists per
// booking, selected by this value.
type Type string

const (
	// TypeIndividual is a one-on-one session requested by a single client.
	TypeIndividual Type = "individual"
	// TypePrivateGroup is a closed group session paid for by its organizer.
	TypePrivateGroup Type = "private_group"
	// TypePublicGroup is a coach-published session that clients join and pay
	// for individually.
	TypePublicGroup Type = "public_group"
)

// Valid reports whether t is a known booking type.
func (t Type) Valid() bool {
	switch t {
	case TypeIndividual, TypePrivateGroup, TypePublicGroup:
		return true
	}
	return false
}

// ApprovalStatus is the coach-approval axis of the compound state.
type ApprovalStatus string

const (
	ApprovalPendingReview ApprovalStatus = "pending_review"
	ApprovalAccepted      ApprovalStatus = "accepted"
	ApprovalDeclined      ApprovalStatus = "declined"
	ApprovalExpired       ApprovalStatus = "expired"
	ApprovalCancelled     ApprovalStatus = "cancelled"
)

// Valid reports whether a is a known approval status.
func (a ApprovalStatus) Valid() bool {
	switch a {
	case ApprovalPendingReview, ApprovalAccepted, ApprovalDeclined, ApprovalExpired, ApprovalCancelled:
		return true
	}
	return false
}

// Terminal reports whether no further approval transitions are possible.
func (a ApprovalStatus) Terminal() bool {
	switch a {
	case ApprovalDeclined, ApprovalExpired, ApprovalCancelled:
		return true
	}
	return false
}

// FulfillmentStatus is the delivery axis of the compound state.
type FulfillmentStatus string

const (
	FulfillmentScheduled FulfillmentStatus = "scheduled"
	FulfillmentCompleted FulfillmentStatus = "completed"
	FulfillmentDisputed  FulfillmentStatus = "disputed"
)

// Valid reports whether f is a known fulfillment status.
func (f FulfillmentStatus) Valid() bool {
	switch f {
	case FulfillmentScheduled, FulfillmentCompleted, FulfillmentDisputed:
		return true
	}
	return false
}

// CapacityStatus applies to public-group bookings only.
type CapacityStatus string

const (
	CapacityOpen   CapacityStatus = "open"
	CapacityFull   CapacityStatus = "full"
	CapacityClosed CapacityStatus = "closed"
	// CapacityNone marks booking types that carry no capacity axis.
	CapacityNone CapacityStatus = ""
)

// Valid reports whether c is a known capacity status.
func (c CapacityStatus) Valid() bool {
	switch c {
	case CapacityOpen, CapacityFull, CapacityClosed, CapacityNone:
		return true
	}
	return false
}

// PaymentStatus is the payment axis on individual and private-group detail
// rows. Public-group payment state lives on each participant row instead.
type PaymentStatus string

const (
	PaymentNotRequired     PaymentStatus = "not_required"
	PaymentAwaitingClient  PaymentStatus = "awaiting_client_payment"
	PaymentAuthorized      PaymentStatus = "authorized"
	PaymentCaptured        PaymentStatus = "captured"
	PaymentRefunded        PaymentStatus = "refunded"
	PaymentFailed          PaymentStatus = "failed"
	// PaymentNone marks booking types whose payment state is tracked per
	// participant rather than on the detail row.
	PaymentNone PaymentStatus = ""
)

// Valid reports whether p is a known payment status.
func (p PaymentStatus) Valid() bool {
	switch p {
	case PaymentNotRequired, PaymentAwaitingClient, PaymentAuthorized,
		PaymentCaptured, PaymentRefunded, PaymentFailed, PaymentNone:
		return true
	}
	return false
}

// ParticipantStatus is the lifecycle axis of a group participant row.
type ParticipantStatus string

const (
	ParticipantRequested       ParticipantStatus = "requested"
	ParticipantAwaitingPayment ParticipantStatus = "awaiting_payment"
	ParticipantAwaitingCoach   ParticipantStatus = "awaiting_coach"
	ParticipantAccepted        ParticipantStatus = "accepted"
	ParticipantDeclined        ParticipantStatus = "declined"
	ParticipantCancelled       ParticipantStatus = "cancelled"
	ParticipantCompleted       ParticipantStatus = "completed"
)

// Valid reports whether s is a known participant status.
func (s ParticipantStatus) Valid() bool {
	switch s {
	case ParticipantRequested, ParticipantAwaitingPayment, ParticipantAwaitingCoach,
		ParticipantAccepted, ParticipantDeclined, ParticipantCancelled, ParticipantCompleted:
		return true
	}
	return false
}

// Terminal reports whether no further participant transitions are possible.
func (s ParticipantStatus) Terminal() bool {
	switch s {
	case ParticipantDeclined, ParticipantCancelled, ParticipantCompleted:
		return true
	}
	return false
}

// CountsTowardCapacity reports whether a participant in status s occupies a
// public-group seat. The parent detail row's currentParticipants counter must
// equal the number of participants whose status satisfies this predicate.
func CountsTowardCapacity(s ParticipantStatus) bool {
	switch s {
	case ParticipantAwaitingCoach, ParticipantAccepted, ParticipantCompleted:
		return true
	}
	return false
}

// ParticipantPaymentStatus is the payment axis of a group participant row.
type ParticipantPaymentStatus string

const (
	ParticipantPaymentRequiresMethod ParticipantPaymentStatus = "requires_payment_method"
	ParticipantPaymentAuthorized     ParticipantPaymentStatus = "authorized"
	ParticipantPaymentCaptured       ParticipantPaymentStatus = "captured"
	ParticipantPaymentRefunded       ParticipantPaymentStatus = "refunded"
	ParticipantPaymentCancelled      ParticipantPaymentStatus = "cancelled"
)

// Valid reports whether p is a known participant payment status.
func (p ParticipantPaymentStatus) Valid() bool {
	switch p {
	case ParticipantPaymentRequiresMethod, ParticipantPaymentAuthorized,
		ParticipantPaymentCaptured, ParticipantPaymentRefunded, ParticipantPaymentCancelled:
		return true
	}
	return false
}

// ParticipantRole distinguishes the paying organizer of a private group from
// its invited members. Public-group joiners are always plain participants.
type ParticipantRole string

const (
	RoleOrganizer   ParticipantRole = "organizer"
	RoleParticipant ParticipantRole = "participant"
)

// Valid reports whether r is a known participant role.
func (r ParticipantRole) Valid() bool {
	return r == RoleOrganizer || r == RoleParticipant
}
