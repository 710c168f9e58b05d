package application

import (
	"context"
	"fmt"
	"time"

	"github.com/example/coaching-marketplace/internal/booking"
	"github.com/example/coaching-marketplace/internal/notify"
	"github.com/example/coaching-marketplace/internal/persistence"
)

// publishNotifications resolves the notifications of a committed
// transition into concrete intents and hands them to the publisher.
// Delivery is best effort: the state change already landed, so failures
// are logged and never surfaced to the caller. roster, when provided, is
// the participant snapshot taken before the transition; an all-participant
// audience is resolved against it so people removed by the transition
// still hear about it.
func (s *BookingService) publishNotifications(ctx context.Context, bkg persistence.Booking, detail persistence.BookingDetail, participant *persistence.BookingParticipant, roster []persistence.BookingParticipant, notifications []booking.Notification, now time.Time) {
	if s == nil || s.publisher == nil || len(notifications) == 0 {
		return
	}
	logger := s.loggerWith(ctx, "PublishNotifications", "booking_id", bkg.ID)

	for _, notification := range notifications {
		recipients, err := s.resolveAudience(ctx, bkg, detail, participant, roster, notification.Audience)
		if err != nil {
			logger.WarnContext(ctx, "failed to resolve notification audience",
				"kind", string(notification.Kind),
				"audience", string(notification.Audience),
				"error", err,
			)
			continue
		}

		subject, body := notificationContent(notification.Kind, bkg)
		for _, accountID := range recipients {
			if accountID == "" {
				continue
			}
			intent := notify.Intent{
				Kind:               string(notification.Kind),
				RecipientAccountID: accountID,
				BookingID:          bkg.ID,
				Subject:            subject,
				Body:               body,
				OccurredAt:         now,
			}
			if participant != nil {
				intent.ParticipantID = participant.ID
			}
			if s.accounts != nil {
				if account, accErr := s.accounts.GetAccount(ctx, accountID); accErr == nil {
					intent.RecipientEmail = account.Email
				}
			}
			if pubErr := s.publisher.Publish(ctx, intent); pubErr != nil {
				logger.WarnContext(ctx, "failed to publish notification intent",
					"kind", string(notification.Kind),
					"recipient", accountID,
					"error", pubErr,
				)
			}
		}
	}
}

func (s *BookingService) resolveAudience(ctx context.Context, bkg persistence.Booking, detail persistence.BookingDetail, participant *persistence.BookingParticipant, roster []persistence.BookingParticipant, audience booking.Audience) ([]string, error) {
	switch audience {
	case booking.AudienceCoach:
		return []string{bkg.CoachID}, nil
	case booking.AudiencePayer:
		// Public groups have per-seat payers, not a booking payer.
		if detail.PublicGroup != nil {
			return nil, nil
		}
		return []string{payerOf(bkg, detail)}, nil
	case booking.AudienceParticipant:
		if participant == nil {
			return nil, nil
		}
		return []string{participant.UserID}, nil
	case booking.AudienceAllParticipants:
		rows := roster
		if rows == nil {
			var err error
			rows, err = s.roster(ctx, bkg.ID)
			if err != nil {
				return nil, err
			}
		}
		ids := make([]string, 0, len(rows))
		for _, row := range rows {
			if booking.ParticipantStatus(row.Status).Terminal() {
				continue
			}
			ids = append(ids, row.UserID)
		}
		return ids, nil
	}
	return nil, nil
}

func notificationContent(kind booking.NotificationKind, bkg persistence.Booking) (string, string) {
	start := bkg.ScheduledStartAt.UTC().Format(time.RFC1123)
	switch kind {
	case booking.NotifyBookingRequested:
		return "New booking request",
			fmt.Sprintf("A new %s booking was requested for %s.", bkg.Type, start)
	case booking.NotifyBookingAccepted:
		return "Booking accepted",
			fmt.Sprintf("Your booking for %s was accepted.", start)
	case booking.NotifyBookingDeclined:
		return "Booking declined",
			fmt.Sprintf("Your booking request for %s was declined.", start)
	case booking.NotifyBookingExpired:
		return "Booking request expired",
			"The coach did not respond in time and the request expired. Nothing was charged."
	case booking.NotifyBookingCancelled:
		return "Booking cancelled",
			fmt.Sprintf("The booking for %s was cancelled.", start)
	case booking.NotifyBookingCompleted:
		return "Booking completed",
			fmt.Sprintf("The session on %s was marked complete.", start)
	case booking.NotifyBookingDisputed:
		return "Booking disputed",
			fmt.Sprintf("The session on %s was disputed. Payout is on hold pending resolution.", start)
	case booking.NotifyPaymentDue:
		return "Payment due",
			"Your booking was accepted. Complete payment before the deadline to keep it."
	case booking.NotifyPaymentCaptured:
		return "Payment received",
			fmt.Sprintf("Payment for the session on %s was received.", start)
	case booking.NotifyPaymentRefunded:
		return "Payment refunded",
			fmt.Sprintf("Payment for the session on %s was refunded.", start)
	case booking.NotifyJoinAuthorized:
		return "New join request",
			fmt.Sprintf("A client paid to join your session on %s and awaits admission.", start)
	case booking.NotifyParticipantAdmitted:
		return "You are in",
			fmt.Sprintf("Your payment was captured and your seat for %s is confirmed.", start)
	case booking.NotifyParticipantDeclined:
		return "Join request declined",
			fmt.Sprintf("Your request to join the session on %s was declined. The hold on your card was released.", start)
	case booking.NotifyParticipantCancelled:
		return "Seat cancelled",
			fmt.Sprintf("A seat for the session on %s was cancelled.", start)
	case booking.NotifyAuthorizationExpired:
		return "Join request lapsed",
			fmt.Sprintf("The coach did not admit you to the session on %s in time. The hold on your card was released.", start)
	}
	return string(kind), ""
}
