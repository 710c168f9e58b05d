// Package notify carries notification intents from committed booking
// transitions to the delivery infrastructure. Intents are best-effort
// outputs: the transition has already committed by the time one is
// published, so delivery failures are logged by callers, never returned
// to the user action that produced them.
package notify

import (
	"context"
	"time"
)

// Intent describes one notification owed to one recipient. Kind matches
// the transition that produced it and doubles as the routing suffix.
type Intent struct {
	Kind               string    `json:"kind"`
	RecipientAccountID string    `json:"recipient_account_id"`
	RecipientEmail     string    `json:"recipient_email,omitempty"`
	BookingID          string    `json:"booking_id"`
	ParticipantID      string    `json:"participant_id,omitempty"`
	Subject            string    `json:"subject"`
	Body               string    `json:"body"`
	OccurredAt         time.Time `json:"occurred_at"`
}

// Publisher hands intents to a delivery channel.
type Publisher interface {
	Publish(ctx context.Context, intent Intent) error
}
