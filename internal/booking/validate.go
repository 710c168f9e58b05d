package booking

import "fmt"

// ValidState checks a compound status combination against the legal state
// table. Persistence rejects any write whose resulting state fails this
// check, so illegal combinations cannot be stored regardless of call site.
func ValidState(s State) error {
	if !s.Type.Valid() {
		return &IntegrityError{Detail: fmt.Sprintf("unknown booking type %q", s.Type)}
	}
	if !s.Approval.Valid() {
		return &IntegrityError{Detail: fmt.Sprintf("unknown approval status %q", s.Approval)}
	}
	if !s.Fulfillment.Valid() {
		return &IntegrityError{Detail: fmt.Sprintf("unknown fulfillment status %q", s.Fulfillment)}
	}
	if !s.Capacity.Valid() {
		return &IntegrityError{Detail: fmt.Sprintf("unknown capacity status %q", s.Capacity)}
	}
	if !s.Payment.Valid() {
		return &IntegrityError{Detail: fmt.Sprintf("unknown payment status %q", s.Payment)}
	}

	switch s.Type {
	case TypeIndividual, TypePrivateGroup:
		if s.Capacity != CapacityNone {
			return &IntegrityError{Detail: string(s.Type) + " bookings carry no capacity axis"}
		}
		if s.Payment == PaymentNone {
			return &IntegrityError{Detail: string(s.Type) + " bookings require a payment status"}
		}
		if err := validDetailPayment(s.Approval, s.Fulfillment, s.Payment); err != nil {
			return err
		}
	case TypePublicGroup:
		if s.Capacity == CapacityNone {
			return &IntegrityError{Detail: "public_group bookings require a capacity status"}
		}
		if s.Payment != PaymentNone {
			return &IntegrityError{Detail: "public_group payment state lives on participant rows"}
		}
		// Published groups are accepted from creation; the approval axis only
		// ever moves to cancelled.
		if s.Approval != ApprovalAccepted && s.Approval != ApprovalCancelled {
			return &IntegrityError{Detail: fmt.Sprintf("public_group approval %q is not reachable", s.Approval)}
		}
		if s.Approval == ApprovalCancelled && s.Capacity != CapacityClosed {
			return &IntegrityError{Detail: "cancelled public_group must close its capacity"}
		}
	}

	if (s.Fulfillment == FulfillmentCompleted || s.Fulfillment == FulfillmentDisputed) && s.Approval != ApprovalAccepted {
		return &IntegrityError{Detail: fmt.Sprintf("fulfillment %s requires an accepted booking, approval is %s", s.Fulfillment, s.Approval)}
	}

	if s.Participant != nil {
		if s.Type != TypePublicGroup && s.Type != TypePrivateGroup {
			return &IntegrityError{Detail: "participant rows exist only on group bookings"}
		}
		if err := ValidParticipant(*s.Participant); err != nil {
			return err
		}
	}
	return nil
}

// validDetailPayment holds the legal (approval, fulfillment, payment) rows
// for individual and private-group detail records.
func validDetailPayment(a ApprovalStatus, f FulfillmentStatus, p PaymentStatus) error {
	allowed := map[ApprovalStatus][]PaymentStatus{
		ApprovalPendingReview: {PaymentNotRequired},
		ApprovalAccepted:      {PaymentAwaitingClient, PaymentAuthorized, PaymentCaptured, PaymentRefunded, PaymentFailed, PaymentNotRequired},
		ApprovalDeclined:      {PaymentNotRequired},
		ApprovalExpired:       {PaymentNotRequired},
		ApprovalCancelled:     {PaymentNotRequired, PaymentRefunded, PaymentFailed},
	}
	found := false
	for _, ok := range allowed[a] {
		if p == ok {
			found = true
			break
		}
	}
	if !found {
		return &IntegrityError{Detail: fmt.Sprintf("payment %s is not legal under approval %s", p, a)}
	}

	if f == FulfillmentCompleted && p != PaymentCaptured && p != PaymentNotRequired {
		return &IntegrityError{Detail: fmt.Sprintf("completed bookings require captured payment, have %s", p)}
	}
	if f == FulfillmentDisputed && p != PaymentCaptured && p != PaymentRefunded {
		return &IntegrityError{Detail: fmt.Sprintf("disputed bookings require captured or refunded payment, have %s", p)}
	}
	return nil
}

// ValidParticipant checks a participant row's status pair.
func ValidParticipant(p ParticipantState) error {
	if !p.Status.Valid() {
		return &IntegrityError{Detail: fmt.Sprintf("unknown participant status %q", p.Status)}
	}
	if !p.Payment.Valid() {
		return &IntegrityError{Detail: fmt.Sprintf("unknown participant payment status %q", p.Payment)}
	}
	if p.Role != "" && !p.Role.Valid() {
		return &IntegrityError{Detail: fmt.Sprintf("unknown participant role %q", p.Role)}
	}

	allowed := map[ParticipantStatus][]ParticipantPaymentStatus{
		ParticipantRequested:       {ParticipantPaymentRequiresMethod},
		ParticipantAwaitingPayment: {ParticipantPaymentRequiresMethod},
		ParticipantAwaitingCoach:   {ParticipantPaymentAuthorized},
		ParticipantAccepted:        {ParticipantPaymentCaptured},
		ParticipantCompleted:       {ParticipantPaymentCaptured},
		ParticipantDeclined:        {ParticipantPaymentRequiresMethod, ParticipantPaymentCancelled},
		ParticipantCancelled:       {ParticipantPaymentRequiresMethod, ParticipantPaymentCancelled, ParticipantPaymentRefunded},
	}
	for _, ok := range allowed[p.Status] {
		if p.Payment == ok {
			return nil
		}
	}
	return &IntegrityError{Detail: fmt.Sprintf("participant payment %s is not legal under status %s", p.Payment, p.Status)}
}
