package sqlite

import (
	"context"
	"database/sql"

	"github.com/example/coaching-marketplace/internal/persistence"
)

// TransitionRepository implements persistence.TransitionRepository using
// SQLite. Transitions are appended inside booking and participant
// mutations; this repository only reads them back.
type TransitionRepository struct {
	pool   *ConnectionPool
	helper *QueryHelper
	mapper *ErrorMapper
}

// NewTransitionRepository creates a new SQLite transition repository
func NewTransitionRepository(pool *ConnectionPool) *TransitionRepository {
	return &TransitionRepository{
		pool:   pool,
		helper: NewQueryHelper(pool),
		mapper: NewErrorMapper(),
	}
}

// ListTransitionsForBooking returns a booking's audit trail oldest first.
func (r *TransitionRepository) ListTransitionsForBooking(ctx context.Context, bookingID string) ([]persistence.BookingStateTransition, error) {
	if bookingID == "" {
		return nil, persistence.ErrNotFound
	}

	query := `
		SELECT id, booking_id, participant_id, event, from_state, to_state,
			actor_id, actor_relation, reason, occurred_at
		FROM booking_state_transitions
		WHERE booking_id = ?
		ORDER BY occurred_at ASC, id ASC
	`

	rows, err := r.helper.Query(ctx, query, bookingID)
	if err != nil {
		return nil, r.mapper.MapError(err)
	}
	defer rows.Close()

	var transitions []persistence.BookingStateTransition

	for rows.Next() {
		var t persistence.BookingStateTransition
		var participantID, actorID, reason sql.NullString
		var occurredStr string

		err := rows.Scan(
			&t.ID, &t.BookingID, &participantID, &t.Event, &t.FromState, &t.ToState,
			&actorID, &t.ActorRelation, &reason, &occurredStr,
		)
		if err != nil {
			return nil, r.mapper.MapError(err)
		}

		t.ParticipantID = stringPtr(participantID)
		t.ActorID = stringPtr(actorID)
		t.Reason = stringPtr(reason)

		if t.OccurredAt, err = parseTime(occurredStr, "occurred_at"); err != nil {
			return nil, err
		}

		transitions = append(transitions, t)
	}

	if err := rows.Err(); err != nil {
		return nil, r.mapper.MapError(err)
	}

	return transitions, nil
}
