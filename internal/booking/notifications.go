package booking

// NotificationKind labels the intent emitted alongside a transition. The
// engine only names the intent; addressing and delivery happen outside.
type NotificationKind string

const (
	NotifyBookingRequested     NotificationKind = "booking_requested"
	NotifyBookingAccepted      NotificationKind = "booking_accepted"
	NotifyBookingDeclined      NotificationKind = "booking_declined"
	NotifyBookingExpired       NotificationKind = "booking_expired"
	NotifyBookingCancelled     NotificationKind = "booking_cancelled"
	NotifyBookingCompleted     NotificationKind = "booking_completed"
	NotifyBookingDisputed      NotificationKind = "booking_disputed"
	NotifyPaymentDue           NotificationKind = "payment_due"
	NotifyPaymentCaptured      NotificationKind = "payment_captured"
	NotifyPaymentRefunded      NotificationKind = "payment_refunded"
	NotifyJoinAuthorized       NotificationKind = "join_authorized"
	NotifyParticipantAdmitted  NotificationKind = "participant_admitted"
	NotifyParticipantDeclined  NotificationKind = "participant_declined"
	NotifyParticipantCancelled NotificationKind = "participant_cancelled"
	NotifyAuthorizationExpired NotificationKind = "authorization_expired"
)

// Audience selects who receives a notification, resolved against ledger data
// by the caller.
type Audience string

const (
	// AudienceCoach is the coach on the booking.
	AudienceCoach Audience = "coach"
	// AudiencePayer is the individual client or private-group organizer.
	AudiencePayer Audience = "payer"
	// AudienceParticipant is the single participant the event addressed.
	AudienceParticipant Audience = "participant"
	// AudienceAllParticipants covers every non-terminal participant row.
	AudienceAllParticipants Audience = "all_participants"
)

// Notification pairs an intent kind with its audience.
type Notification struct {
	Kind     NotificationKind
	Audience Audience
}

func notify(kind NotificationKind, audiences ...Audience) []Notification {
	out := make([]Notification, 0, len(audiences))
	for _, a := range audiences {
		out = append(out, Notification{Kind: kind, Audience: a})
	}
	return out
}
