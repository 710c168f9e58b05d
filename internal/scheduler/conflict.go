package scheduler

import "time"

// Session is the time window a booking occupies, as seen by overlap
// detection. Payers lists everyone with money in the session: the client
// or organizer plus any admitted group participants.
type Session struct {
	ID      string
	CoachID string
	Payers  []string
	Start   time.Time
	End     time.Time
}

// ConflictType describes which party is double-booked.
type ConflictType string

const (
	// ConflictTypeCoach indicates the coach already has an overlapping session.
	ConflictTypeCoach ConflictType = "coach"
	// ConflictTypePayer indicates a paying client is double-booked.
	ConflictTypePayer ConflictType = "payer"
)

// Conflict details an overlapping session relation that callers can present to users.
type Conflict struct {
	WithBookingID string
	Type          ConflictType
	CoachID       string
	Payer         string
}

// DetectConflicts identifies overlaps between the candidate session and
// existing ones. Sessions sharing an ID are the same booking and never
// conflict with themselves. Windows are half-open, so back-to-back
// sessions do not overlap.
func DetectConflicts(existing []Session, candidate Session) []Conflict {
	var conflicts []Conflict
	for _, session := range existing {
		if session.ID == candidate.ID {
			continue
		}
		if !overlaps(session, candidate) {
			continue
		}
		if candidate.CoachID != "" && session.CoachID == candidate.CoachID {
			conflicts = append(conflicts, Conflict{
				WithBookingID: session.ID,
				Type:          ConflictTypeCoach,
				CoachID:       session.CoachID,
			})
		}
		for _, payer := range sharedPayers(session.Payers, candidate.Payers) {
			conflicts = append(conflicts, Conflict{
				WithBookingID: session.ID,
				Type:          ConflictTypePayer,
				Payer:         payer,
			})
		}
	}
	return conflicts
}

func overlaps(a, b Session) bool {
	return b.Start.Before(a.End) && a.Start.Before(b.End)
}

func sharedPayers(a, b []string) []string {
	if len(a) == 0 || len(b) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(a))
	for _, payer := range a {
		seen[payer] = struct{}{}
	}
	var shared []string
	for _, payer := range b {
		if _, ok := seen[payer]; ok {
			delete(seen, payer)
			shared = append(shared, payer)
		}
	}
	return shared
}
