package booking

import (
	"fmt"
	"time"
)

// Policy carries the time windows the machine stamps onto outcomes.
type Policy struct {
	// ResponseWindow bounds how long a coach may leave a request unanswered.
	ResponseWindow time.Duration
	// PaymentWindow bounds how long a payer has after acceptance.
	PaymentWindow time.Duration
	// AuthorizationHold bounds how long a public-group authorization may wait
	// for coach admission.
	AuthorizationHold time.Duration
}

// DefaultPolicy returns the production windows.
func DefaultPolicy() Policy {
	return Policy{
		ResponseWindow:    24 * time.Hour,
		PaymentWindow:     24 * time.Hour,
		AuthorizationHold: 72 * time.Hour,
	}
}

// Machine evaluates booking transitions. It holds no mutable state and is
// safe for concurrent use.
type Machine struct {
	policy Policy
}

// NewMachine constructs a Machine. Zero policy fields fall back to the
// defaults.
func NewMachine(policy Policy) *Machine {
	def := DefaultPolicy()
	if policy.ResponseWindow <= 0 {
		policy.ResponseWindow = def.ResponseWindow
	}
	if policy.PaymentWindow <= 0 {
		policy.PaymentWindow = def.PaymentWindow
	}
	if policy.AuthorizationHold <= 0 {
		policy.AuthorizationHold = def.AuthorizationHold
	}
	return &Machine{policy: policy}
}

// ParticipantState is the participant row an event addresses, when the event
// is participant-scoped.
type ParticipantState struct {
	Role          ParticipantRole
	Status        ParticipantStatus
	Payment       ParticipantPaymentStatus
	HoldExpiresAt time.Time
}

// State is the compound snapshot the machine decides against. Approval is
// empty only on the creation path, before the booking exists.
type State struct {
	Type        Type
	Approval    ApprovalStatus
	Fulfillment FulfillmentStatus
	Capacity    CapacityStatus
	Payment     PaymentStatus

	ScheduledStartAt time.Time
	ScheduledEndAt   time.Time
	RespondBy        time.Time
	PaymentDueAt     time.Time

	// Participant is set when the event targets one participant row.
	Participant *ParticipantState
}

func (s State) describe() string {
	desc := fmt.Sprintf("type=%s approval=%s fulfillment=%s", s.Type, s.Approval, s.Fulfillment)
	if s.Capacity != CapacityNone {
		desc += fmt.Sprintf(" capacity=%s", s.Capacity)
	}
	if s.Payment != PaymentNone {
		desc += fmt.Sprintf(" payment=%s", s.Payment)
	}
	if s.Participant != nil {
		desc += fmt.Sprintf(" participant=%s participant_payment=%s", s.Participant.Status, s.Participant.Payment)
	}
	return desc
}

// MoneyEffect is the monetary side effect the caller must perform before the
// outcome may be persisted.
type MoneyEffect string

const (
	// MoneyNone requires no gateway interaction.
	MoneyNone MoneyEffect = "none"
	// MoneyCharge authorizes and captures in a single step.
	MoneyCharge MoneyEffect = "charge"
	// MoneyAuthorize places a hold without capturing.
	MoneyAuthorize MoneyEffect = "authorize"
	// MoneyCapture converts an existing hold into a transfer.
	MoneyCapture MoneyEffect = "capture"
	// MoneyRelease cancels an existing hold.
	MoneyRelease MoneyEffect = "release"
	// MoneyRefund returns a captured amount.
	MoneyRefund MoneyEffect = "refund"
	// MoneySettleParticipants releases or refunds every active participant
	// row as its own payment state requires.
	MoneySettleParticipants MoneyEffect = "settle_participants"
)

// Cascade names a bulk move applied to the booking's other participant rows.
type Cascade string

const (
	CascadeNone Cascade = ""
	// CascadeAwaitPayment moves requested rows to awaiting_payment.
	CascadeAwaitPayment Cascade = "await_payment"
	// CascadeCaptured moves awaiting rows to accepted with captured payment.
	CascadeCaptured Cascade = "captured"
	// CascadeDeclined moves non-terminal rows to declined.
	CascadeDeclined Cascade = "declined"
	// CascadeCancelled moves non-terminal rows to cancelled.
	CascadeCancelled Cascade = "cancelled"
	// CascadeCompleted moves accepted rows to completed.
	CascadeCompleted Cascade = "completed"
)

// ParticipantOutcome is the next state of the addressed participant row.
type ParticipantOutcome struct {
	Status  ParticipantStatus
	Payment ParticipantPaymentStatus
}

// Outcome is the accepted result of a transition: the next compound state
// plus every side effect the caller must apply atomically with it.
type Outcome struct {
	Approval    ApprovalStatus
	Fulfillment FulfillmentStatus
	Capacity    CapacityStatus
	Payment     PaymentStatus

	// Participant is set when the event targeted one participant row.
	Participant *ParticipantOutcome

	// Money is the gateway step required before persisting the outcome.
	Money MoneyEffect
	// Cascade is the bulk participant move accompanying the transition.
	Cascade Cascade

	// SetCoachRespondedAt records the coach response timestamp.
	SetCoachRespondedAt bool
	// RespondBy, PaymentDue, and HoldExpires are persisted when nonzero.
	RespondBy   time.Time
	PaymentDue  time.Time
	HoldExpires time.Time
	// CancelReason is persisted with the cancellation audit fields when set.
	CancelReason string

	Notifications []Notification

	// NoOp marks a precondition already satisfied by an earlier transition;
	// the caller skips the record instead of failing.
	NoOp bool
}

func noOp() Outcome {
	return Outcome{NoOp: true, Money: MoneyNone}
}

// next seeds an outcome that keeps the current state.
func next(s State) Outcome {
	o := Outcome{
		Approval:    s.Approval,
		Fulfillment: s.Fulfillment,
		Capacity:    s.Capacity,
		Payment:     s.Payment,
		Money:       MoneyNone,
	}
	if s.Participant != nil {
		o.Participant = &ParticipantOutcome{Status: s.Participant.Status, Payment: s.Participant.Payment}
	}
	return o
}

// Decide applies ev for actor at now against the snapshot and returns the
// outcome or a typed rejection. Decide never performs I/O; sweeper events use
// the System actor.
func (m *Machine) Decide(s State, ev Event, actor Actor, now time.Time) (Outcome, error) {
	if !ev.Valid() {
		return Outcome{}, &TransitionError{Event: ev, From: s.describe()}
	}
	if !relationAllowed(ev, actor.Relation) {
		return Outcome{}, guard(ev, GuardWrongRole, fmt.Sprintf("relation %s may not submit %s", actor.Relation, ev))
	}
	if s.Approval != "" {
		if err := ValidState(s); err != nil {
			return Outcome{}, err
		}
	}

	switch ev {
	case EventRequest:
		return m.decideRequest(s, now)
	case EventCoachAccept:
		return m.decideCoachAccept(s, now)
	case EventCoachDecline:
		return m.decideCoachDecline(s)
	case EventClientPay:
		return m.decideClientPay(s, now)
	case EventCancel:
		return m.decideCancel(s, actor)
	case EventMarkComplete:
		return m.decideMarkComplete(s, now)
	case EventDispute:
		return m.decideDispute(s)
	case EventExpireUnanswered:
		return m.decideExpireUnanswered(s, now)
	case EventExpireUnpaid:
		return m.decideExpireUnpaid(s, now)
	case EventExpireUnadmittedAuthorization:
		return m.decideExpireHold(s, now)
	}
	return Outcome{}, &TransitionError{Event: ev, From: s.describe()}
}

// decideRequest covers both booking creation (no prior state) and the
// public-group join path (participant row creation on an open booking).
func (m *Machine) decideRequest(s State, now time.Time) (Outcome, error) {
	if !s.ScheduledStartAt.After(now) {
		return Outcome{}, guard(EventRequest, GuardStartNotInFuture, "scheduled start must be in the future")
	}

	// Creation: no approval status exists yet.
	if s.Approval == "" {
		switch s.Type {
		case TypeIndividual, TypePrivateGroup:
			o := next(s)
			o.Approval = ApprovalPendingReview
			o.Fulfillment = FulfillmentScheduled
			o.Payment = PaymentNotRequired
			o.RespondBy = now.Add(m.policy.ResponseWindow)
			o.Notifications = notify(NotifyBookingRequested, AudienceCoach)
			return o, nil
		case TypePublicGroup:
			// Public-group bookings are coach-published, not requested; the
			// service constructs them directly.
			return Outcome{}, invalidFrom(EventRequest, s)
		}
		return Outcome{}, invalidFrom(EventRequest, s)
	}

	// Join: request against an existing public-group booking.
	if s.Type != TypePublicGroup {
		return Outcome{}, invalidFrom(EventRequest, s)
	}
	if s.Participant != nil {
		return Outcome{}, invalidFrom(EventRequest, s)
	}
	if s.Approval != ApprovalAccepted || s.Fulfillment != FulfillmentScheduled {
		return Outcome{}, invalidFrom(EventRequest, s)
	}
	switch s.Capacity {
	case CapacityFull:
		return Outcome{}, guard(EventRequest, GuardCapacityFull, "no seats remain")
	case CapacityClosed:
		return Outcome{}, guard(EventRequest, GuardCapacityClosed, "joining is closed")
	}

	o := next(s)
	o.Participant = &ParticipantOutcome{
		Status:  ParticipantAwaitingPayment,
		Payment: ParticipantPaymentRequiresMethod,
	}
	return o, nil
}

func (m *Machine) decideCoachAccept(s State, now time.Time) (Outcome, error) {
	// Participant admission on a public group.
	if s.Type == TypePublicGroup && s.Participant != nil {
		if s.Approval != ApprovalAccepted || s.Fulfillment != FulfillmentScheduled {
			return Outcome{}, invalidFrom(EventCoachAccept, s)
		}
		p := s.Participant
		switch p.Status {
		case ParticipantAwaitingCoach:
			if p.Payment != ParticipantPaymentAuthorized {
				return Outcome{}, guard(EventCoachAccept, GuardPaymentNotSubmitted, "participant holds no authorization")
			}
			o := next(s)
			o.Money = MoneyCapture
			o.Participant = &ParticipantOutcome{Status: ParticipantAccepted, Payment: ParticipantPaymentCaptured}
			o.Notifications = notify(NotifyParticipantAdmitted, AudienceParticipant)
			return o, nil
		case ParticipantRequested, ParticipantAwaitingPayment:
			return Outcome{}, guard(EventCoachAccept, GuardPaymentNotSubmitted, "participant has not completed payment")
		default:
			return Outcome{}, invalidFrom(EventCoachAccept, s)
		}
	}

	if s.Type == TypePublicGroup {
		return Outcome{}, invalidFrom(EventCoachAccept, s)
	}
	if s.Approval != ApprovalPendingReview {
		return Outcome{}, invalidFrom(EventCoachAccept, s)
	}

	o := next(s)
	o.Approval = ApprovalAccepted
	o.Payment = PaymentAwaitingClient
	o.SetCoachRespondedAt = true
	o.PaymentDue = now.Add(m.policy.PaymentWindow)
	if s.Type == TypePrivateGroup {
		o.Cascade = CascadeAwaitPayment
	}
	o.Notifications = notify(NotifyBookingAccepted, AudiencePayer)
	o.Notifications = append(o.Notifications, notify(NotifyPaymentDue, AudiencePayer)...)
	return o, nil
}

func (m *Machine) decideCoachDecline(s State) (Outcome, error) {
	// Participant decline on a public group.
	if s.Type == TypePublicGroup && s.Participant != nil {
		if s.Approval != ApprovalAccepted {
			return Outcome{}, invalidFrom(EventCoachDecline, s)
		}
		p := s.Participant
		o := next(s)
		switch p.Status {
		case ParticipantRequested, ParticipantAwaitingPayment:
			o.Participant = &ParticipantOutcome{Status: ParticipantDeclined, Payment: p.Payment}
		case ParticipantAwaitingCoach:
			o.Money = MoneyRelease
			o.Participant = &ParticipantOutcome{Status: ParticipantDeclined, Payment: ParticipantPaymentCancelled}
		default:
			// Admitted participants are removed through cancel, which refunds.
			return Outcome{}, invalidFrom(EventCoachDecline, s)
		}
		o.Notifications = notify(NotifyParticipantDeclined, AudienceParticipant)
		return o, nil
	}

	if s.Type == TypePublicGroup {
		return Outcome{}, invalidFrom(EventCoachDecline, s)
	}
	if s.Approval != ApprovalPendingReview {
		return Outcome{}, invalidFrom(EventCoachDecline, s)
	}

	o := next(s)
	o.Approval = ApprovalDeclined
	o.SetCoachRespondedAt = true
	if s.Payment == PaymentAuthorized {
		o.Money = MoneyRelease
		o.Payment = PaymentNotRequired
	}
	if s.Type == TypePrivateGroup {
		o.Cascade = CascadeDeclined
	}
	o.Notifications = notify(NotifyBookingDeclined, AudiencePayer)
	return o, nil
}

func (m *Machine) decideClientPay(s State, now time.Time) (Outcome, error) {
	// Public-group participant completing a join with an authorization hold.
	if s.Type == TypePublicGroup && s.Participant != nil {
		if s.Approval != ApprovalAccepted || s.Fulfillment != FulfillmentScheduled {
			return Outcome{}, invalidFrom(EventClientPay, s)
		}
		if !s.ScheduledStartAt.After(now) {
			return Outcome{}, guard(EventClientPay, GuardDeadlinePassed, "session already started")
		}
		switch s.Capacity {
		case CapacityFull:
			return Outcome{}, guard(EventClientPay, GuardCapacityFull, "no seats remain")
		case CapacityClosed:
			return Outcome{}, guard(EventClientPay, GuardCapacityClosed, "joining is closed")
		}
		if s.Participant.Status != ParticipantAwaitingPayment {
			return Outcome{}, invalidFrom(EventClientPay, s)
		}

		o := next(s)
		o.Money = MoneyAuthorize
		o.Participant = &ParticipantOutcome{Status: ParticipantAwaitingCoach, Payment: ParticipantPaymentAuthorized}
		o.HoldExpires = now.Add(m.policy.AuthorizationHold)
		o.Notifications = notify(NotifyJoinAuthorized, AudienceCoach)
		return o, nil
	}

	if s.Type == TypePublicGroup {
		return Outcome{}, invalidFrom(EventClientPay, s)
	}

	// A deadline that has elapsed without the sweeper acting does not block
	// payment: capture-before-sweep wins and makes the expiry a no-op.
	if s.Approval != ApprovalAccepted || s.Fulfillment != FulfillmentScheduled || s.Payment != PaymentAwaitingClient {
		return Outcome{}, invalidFrom(EventClientPay, s)
	}

	o := next(s)
	o.Money = MoneyCharge
	o.Payment = PaymentCaptured
	if s.Type == TypePrivateGroup {
		o.Cascade = CascadeCaptured
	}
	o.Notifications = notify(NotifyPaymentCaptured, AudiencePayer, AudienceCoach)
	return o, nil
}

func (m *Machine) decideCancel(s State, actor Actor) (Outcome, error) {
	// Single-participant cancellation on a public group.
	if s.Type == TypePublicGroup && s.Participant != nil {
		p := s.Participant
		if p.Status.Terminal() || s.Fulfillment != FulfillmentScheduled {
			return Outcome{}, invalidFrom(EventCancel, s)
		}
		o := next(s)
		o.CancelReason = cancelReason(actor)
		out := &ParticipantOutcome{Status: ParticipantCancelled, Payment: p.Payment}
		switch p.Payment {
		case ParticipantPaymentAuthorized:
			o.Money = MoneyRelease
			out.Payment = ParticipantPaymentCancelled
		case ParticipantPaymentCaptured:
			o.Money = MoneyRefund
			out.Payment = ParticipantPaymentRefunded
		}
		o.Participant = out
		o.Notifications = notify(NotifyParticipantCancelled, AudienceParticipant, AudienceCoach)
		return o, nil
	}

	if s.Fulfillment != FulfillmentScheduled {
		return Outcome{}, invalidFrom(EventCancel, s)
	}
	if actor.Relation == RelationParticipant {
		return Outcome{}, guard(EventCancel, GuardWrongRole, "participants may only cancel their own seat")
	}

	o := next(s)
	o.Approval = ApprovalCancelled
	o.CancelReason = cancelReason(actor)

	switch s.Type {
	case TypeIndividual, TypePrivateGroup:
		if s.Approval != ApprovalPendingReview && s.Approval != ApprovalAccepted {
			return Outcome{}, invalidFrom(EventCancel, s)
		}
		switch s.Payment {
		case PaymentAuthorized:
			o.Money = MoneyRelease
			o.Payment = PaymentNotRequired
		case PaymentCaptured:
			o.Money = MoneyRefund
			o.Payment = PaymentRefunded
		}
		if s.Type == TypePrivateGroup {
			o.Cascade = CascadeCancelled
		}
	case TypePublicGroup:
		if s.Approval != ApprovalAccepted {
			return Outcome{}, invalidFrom(EventCancel, s)
		}
		if actor.Relation != RelationCoach && actor.Relation != RelationSystem {
			return Outcome{}, guard(EventCancel, GuardWrongRole, "only the coach may cancel a published group")
		}
		o.Capacity = CapacityClosed
		o.Cascade = CascadeCancelled
		o.Money = MoneySettleParticipants
	}

	o.Notifications = cancelNotifications(s, actor)
	return o, nil
}

func (m *Machine) decideMarkComplete(s State, now time.Time) (Outcome, error) {
	if s.Fulfillment == FulfillmentCompleted {
		return noOp(), nil
	}
	if s.Approval != ApprovalAccepted || s.Fulfillment != FulfillmentScheduled {
		return Outcome{}, invalidFrom(EventMarkComplete, s)
	}
	if !now.After(s.ScheduledEndAt) {
		return Outcome{}, guard(EventMarkComplete, GuardNotElapsed, "scheduled end has not passed")
	}
	if s.Type != TypePublicGroup && s.Payment != PaymentCaptured && s.Payment != PaymentNotRequired {
		return Outcome{}, guard(EventMarkComplete, GuardPaymentNotCaptured, "payment is not settled")
	}

	o := next(s)
	o.Fulfillment = FulfillmentCompleted
	switch s.Type {
	case TypePrivateGroup:
		o.Cascade = CascadeCompleted
	case TypePublicGroup:
		o.Capacity = CapacityClosed
		o.Cascade = CascadeCompleted
	}
	o.Notifications = notify(NotifyBookingCompleted, AudienceCoach)
	return o, nil
}

func (m *Machine) decideDispute(s State) (Outcome, error) {
	if s.Approval != ApprovalAccepted {
		return Outcome{}, invalidFrom(EventDispute, s)
	}
	if s.Fulfillment != FulfillmentScheduled && s.Fulfillment != FulfillmentCompleted {
		return Outcome{}, invalidFrom(EventDispute, s)
	}
	if s.Type != TypePublicGroup && s.Payment != PaymentCaptured {
		return Outcome{}, guard(EventDispute, GuardPaymentNotCaptured, "nothing was captured")
	}

	o := next(s)
	o.Fulfillment = FulfillmentDisputed
	o.Notifications = notify(NotifyBookingDisputed, AudienceCoach, AudiencePayer)
	return o, nil
}

func (m *Machine) decideExpireUnanswered(s State, now time.Time) (Outcome, error) {
	if s.Approval != ApprovalPendingReview {
		return noOp(), nil
	}
	if s.RespondBy.IsZero() || !now.After(s.RespondBy) {
		return Outcome{}, guard(EventExpireUnanswered, GuardNotElapsed, "response window still open")
	}

	o := next(s)
	o.Approval = ApprovalExpired
	if s.Type == TypePrivateGroup {
		o.Cascade = CascadeCancelled
	}
	o.Notifications = notify(NotifyBookingExpired, AudiencePayer)
	return o, nil
}

func (m *Machine) decideExpireUnpaid(s State, now time.Time) (Outcome, error) {
	// A capture that landed before the sweep makes the expiry a no-op; a paid
	// booking is never cancelled for lateness.
	if s.Payment == PaymentCaptured {
		return noOp(), nil
	}
	if s.Approval != ApprovalAccepted || (s.Payment != PaymentAwaitingClient && s.Payment != PaymentAuthorized) {
		return noOp(), nil
	}
	if s.PaymentDueAt.IsZero() || !now.After(s.PaymentDueAt) {
		return Outcome{}, guard(EventExpireUnpaid, GuardNotElapsed, "payment window still open")
	}

	o := next(s)
	o.Approval = ApprovalCancelled
	o.CancelReason = "payment_deadline_elapsed"
	if s.Payment == PaymentAuthorized {
		o.Money = MoneyRelease
	}
	o.Payment = PaymentNotRequired
	if s.Type == TypePrivateGroup {
		o.Cascade = CascadeCancelled
	}
	o.Notifications = notify(NotifyBookingCancelled, AudiencePayer, AudienceCoach)
	return o, nil
}

func (m *Machine) decideExpireHold(s State, now time.Time) (Outcome, error) {
	if s.Type != TypePublicGroup || s.Participant == nil {
		return Outcome{}, invalidFrom(EventExpireUnadmittedAuthorization, s)
	}
	p := s.Participant
	if p.Status != ParticipantAwaitingCoach || p.Payment != ParticipantPaymentAuthorized {
		return noOp(), nil
	}
	if p.HoldExpiresAt.IsZero() || !now.After(p.HoldExpiresAt) {
		return Outcome{}, guard(EventExpireUnadmittedAuthorization, GuardNotElapsed, "authorization hold still open")
	}

	o := next(s)
	o.Money = MoneyRelease
	o.CancelReason = "authorization_hold_elapsed"
	o.Participant = &ParticipantOutcome{Status: ParticipantCancelled, Payment: ParticipantPaymentCancelled}
	o.Notifications = notify(NotifyAuthorizationExpired, AudienceParticipant)
	return o, nil
}

func cancelReason(actor Actor) string {
	switch actor.Relation {
	case RelationCoach:
		return "cancelled_by_coach"
	case RelationSystem:
		return "cancelled_by_system"
	default:
		return "cancelled_by_client"
	}
}

func cancelNotifications(s State, actor Actor) []Notification {
	if s.Type == TypePublicGroup {
		return notify(NotifyBookingCancelled, AudienceAllParticipants)
	}
	if actor.Relation == RelationCoach {
		return notify(NotifyBookingCancelled, AudiencePayer)
	}
	return notify(NotifyBookingCancelled, AudienceCoach)
}

// CounterDeltas reports the public-group counter adjustments implied by one
// participant transition. currentParticipants tracks seat occupancy,
// authorizedParticipants open holds, capturedParticipants settled seats.
func CounterDeltas(fromStatus, toStatus ParticipantStatus, fromPay, toPay ParticipantPaymentStatus) (current, authorized, captured int) {
	if CountsTowardCapacity(toStatus) && !CountsTowardCapacity(fromStatus) {
		current++
	}
	if !CountsTowardCapacity(toStatus) && CountsTowardCapacity(fromStatus) {
		current--
	}
	if toPay == ParticipantPaymentAuthorized && fromPay != ParticipantPaymentAuthorized {
		authorized++
	}
	if fromPay == ParticipantPaymentAuthorized && toPay != ParticipantPaymentAuthorized {
		authorized--
	}
	if toPay == ParticipantPaymentCaptured && fromPay != ParticipantPaymentCaptured {
		captured++
	}
	if fromPay == ParticipantPaymentCaptured && toPay != ParticipantPaymentCaptured {
		captured--
	}
	return current, authorized, captured
}
