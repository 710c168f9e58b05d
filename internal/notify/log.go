package notify

import (
	"context"
	"log/slog"
)

// LogPublisher writes intents to the log instead of a broker. It backs
// deployments without AMQP configured so notification output stays
// visible.
type LogPublisher struct {
	logger *slog.Logger
}

// NewLogPublisher returns a publisher writing to logger, or the default
// logger when nil.
func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogPublisher{logger: logger}
}

// Publish logs the intent. It never fails.
func (p *LogPublisher) Publish(ctx context.Context, intent Intent) error {
	p.logger.InfoContext(ctx, "notification intent",
		"kind", intent.Kind,
		"recipient_account_id", intent.RecipientAccountID,
		"booking_id", intent.BookingID,
		"subject", intent.Subject,
	)
	return nil
}
