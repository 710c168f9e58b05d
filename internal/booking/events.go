package booking

// Event is an input to the state machine. User actions and sweeper passes
// both enter through the same event set.
type Event string

const (
	// EventRequest creates a pending booking (individual, private group) or,
	// against a public-group booking, asks to join as a participant.
	EventRequest Event = "request"
	// EventCoachAccept approves a pending booking, or admits an authorized
	// public-group participant.
	EventCoachAccept Event = "coach_accept"
	// EventCoachDecline rejects a pending booking or participant.
	EventCoachDecline Event = "coach_decline"
	// EventClientPay submits payment for an accepted booking, or completes a
	// public-group join with an authorization hold.
	EventClientPay Event = "client_pay"
	// EventExpireUnanswered resolves a request the coach never answered.
	EventExpireUnanswered Event = "expire_unanswered"
	// EventExpireUnpaid resolves an accepted booking whose payment deadline
	// elapsed.
	EventExpireUnpaid Event = "expire_unpaid"
	// EventExpireUnadmittedAuthorization resolves a public-group participant
	// whose authorization hold elapsed without coach admission.
	EventExpireUnadmittedAuthorization Event = "expire_unadmitted_authorization"
	// EventCancel withdraws a booking or participant before completion.
	EventCancel Event = "cancel"
	// EventMarkComplete finalizes fulfillment once the scheduled end passed.
	EventMarkComplete Event = "mark_complete"
	// EventDispute freezes payout eligibility pending external resolution.
	EventDispute Event = "dispute"
)

// Valid reports whether e is a known event.
func (e Event) Valid() bool {
	switch e {
	case EventRequest, EventCoachAccept, EventCoachDecline, EventClientPay,
		EventExpireUnanswered, EventExpireUnpaid, EventExpireUnadmittedAuthorization,
		EventCancel, EventMarkComplete, EventDispute:
		return true
	}
	return false
}

// Relation is the actor's relationship to the booking the event addresses.
// The service layer derives it from ledger data; it is never read from
// ambient request state.
type Relation string

const (
	// RelationCoach is the coach the booking belongs to.
	RelationCoach Relation = "coach"
	// RelationClient is the requesting client of an individual booking or a
	// joining client of a public group.
	RelationClient Relation = "client"
	// RelationOrganizer is the paying participant of a private group.
	RelationOrganizer Relation = "organizer"
	// RelationParticipant is a group member acting on their own row.
	RelationParticipant Relation = "participant"
	// RelationSystem marks sweeper and operator invocations.
	RelationSystem Relation = "system"
)

// Actor identifies who is driving a transition.
type Actor struct {
	UserID   string
	Relation Relation
}

// System returns the synthetic actor used by the expiry sweeper.
func System() Actor {
	return Actor{UserID: "system", Relation: RelationSystem}
}

// relationAllowed reports whether the actor relation may submit the event.
// Identity checks (is this user actually the coach on this booking) are the
// caller's responsibility; the machine only enforces the role axis.
func relationAllowed(e Event, r Relation) bool {
	switch e {
	case EventRequest:
		return r == RelationClient || r == RelationOrganizer
	case EventCoachAccept, EventCoachDecline:
		return r == RelationCoach
	case EventClientPay:
		return r == RelationClient || r == RelationOrganizer || r == RelationParticipant
	case EventCancel:
		return r == RelationClient || r == RelationOrganizer || r == RelationCoach ||
			r == RelationParticipant || r == RelationSystem
	case EventMarkComplete:
		return r == RelationCoach || r == RelationSystem
	case EventDispute:
		return r == RelationClient || r == RelationOrganizer || r == RelationCoach
	case EventExpireUnanswered, EventExpireUnpaid, EventExpireUnadmittedAuthorization:
		return r == RelationSystem
	}
	return false
}
