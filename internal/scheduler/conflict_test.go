package scheduler

import (
	"testing"
	"time"
)

func TestDetectConflicts(t *testing.T) {
	base := time.Date(2026, time.March, 9, 10, 0, 0, 0, time.UTC)

	session := func(id, coach string, payers []string, startOffset, endOffset time.Duration) Session {
		return Session{
			ID:      id,
			CoachID: coach,
			Payers:  payers,
			Start:   base.Add(startOffset),
			End:     base.Add(endOffset),
		}
	}

	t.Run("coach overlap produces conflict", func(t *testing.T) {
		existing := []Session{
			session("bk-1", "coach-1", []string{"client-1"}, 0, time.Hour),
		}
		candidate := session("bk-2", "coach-1", []string{"client-2"}, 30*time.Minute, 90*time.Minute)

		conflicts := DetectConflicts(existing, candidate)
		if len(conflicts) != 1 {
			t.Fatalf("expected 1 conflict, got %d", len(conflicts))
		}
		if conflicts[0].Type != ConflictTypeCoach {
			t.Fatalf("expected coach conflict, got %s", conflicts[0].Type)
		}
		if conflicts[0].WithBookingID != "bk-1" {
			t.Fatalf("expected conflict with bk-1, got %s", conflicts[0].WithBookingID)
		}
		if conflicts[0].CoachID != "coach-1" {
			t.Fatalf("expected coach-1, got %s", conflicts[0].CoachID)
		}
	})

	t.Run("payer overlap produces conflict", func(t *testing.T) {
		existing := []Session{
			session("bk-1", "coach-1", []string{"client-1"}, 0, time.Hour),
		}
		candidate := session("bk-2", "coach-2", []string{"client-1"}, 30*time.Minute, 90*time.Minute)

		conflicts := DetectConflicts(existing, candidate)
		if len(conflicts) != 1 {
			t.Fatalf("expected 1 conflict, got %d", len(conflicts))
		}
		if conflicts[0].Type != ConflictTypePayer {
			t.Fatalf("expected payer conflict, got %s", conflicts[0].Type)
		}
		if conflicts[0].Payer != "client-1" {
			t.Fatalf("expected client-1 flagged, got %s", conflicts[0].Payer)
		}
	})

	t.Run("shared coach and payer report separately", func(t *testing.T) {
		existing := []Session{
			session("bk-1", "coach-1", []string{"client-1"}, 0, time.Hour),
		}
		candidate := session("bk-2", "coach-1", []string{"client-1", "client-2"}, 0, time.Hour)

		conflicts := DetectConflicts(existing, candidate)
		if len(conflicts) != 2 {
			t.Fatalf("expected 2 conflicts, got %d: %v", len(conflicts), conflicts)
		}
		if conflicts[0].Type != ConflictTypeCoach {
			t.Fatalf("expected coach conflict first, got %s", conflicts[0].Type)
		}
		if conflicts[1].Type != ConflictTypePayer || conflicts[1].Payer != "client-1" {
			t.Fatalf("expected payer conflict for client-1, got %+v", conflicts[1])
		}
	})

	t.Run("back-to-back sessions do not overlap", func(t *testing.T) {
		existing := []Session{
			session("bk-1", "coach-1", []string{"client-1"}, 0, time.Hour),
		}
		candidate := session("bk-2", "coach-1", []string{"client-1"}, time.Hour, 2*time.Hour)

		if conflicts := DetectConflicts(existing, candidate); len(conflicts) != 0 {
			t.Fatalf("expected no conflicts, got %v", conflicts)
		}
	})

	t.Run("disjoint sessions yield no conflicts", func(t *testing.T) {
		existing := []Session{
			session("bk-1", "coach-1", []string{"client-1"}, 0, time.Hour),
			session("bk-2", "coach-1", []string{"client-1"}, 2*time.Hour, 3*time.Hour),
		}
		candidate := session("bk-3", "coach-2", []string{"client-2"}, 30*time.Minute, 90*time.Minute)

		if conflicts := DetectConflicts(existing, candidate); len(conflicts) != 0 {
			t.Fatalf("expected no conflicts, got %v", conflicts)
		}
	})

	t.Run("candidate never conflicts with itself", func(t *testing.T) {
		existing := []Session{
			session("bk-1", "coach-1", []string{"client-1"}, 0, time.Hour),
		}
		candidate := session("bk-1", "coach-1", []string{"client-1"}, 0, time.Hour)

		if conflicts := DetectConflicts(existing, candidate); len(conflicts) != 0 {
			t.Fatalf("expected no conflicts, got %v", conflicts)
		}
	})

	t.Run("duplicate payer entries report once per session pair", func(t *testing.T) {
		existing := []Session{
			session("bk-1", "coach-1", []string{"client-1"}, 0, time.Hour),
		}
		candidate := session("bk-2", "coach-2", []string{"client-1", "client-1"}, 0, time.Hour)

		conflicts := DetectConflicts(existing, candidate)
		if len(conflicts) != 1 {
			t.Fatalf("expected 1 conflict, got %d: %v", len(conflicts), conflicts)
		}
	})

	t.Run("each overlapping session reports its own conflict", func(t *testing.T) {
		existing := []Session{
			session("bk-1", "coach-1", []string{"client-1"}, 0, time.Hour),
			session("bk-2", "coach-1", []string{"client-2"}, 30*time.Minute, 90*time.Minute),
		}
		candidate := session("bk-3", "coach-1", []string{"client-3"}, 45*time.Minute, 75*time.Minute)

		conflicts := DetectConflicts(existing, candidate)
		if len(conflicts) != 2 {
			t.Fatalf("expected 2 conflicts, got %d: %v", len(conflicts), conflicts)
		}
		if conflicts[0].WithBookingID != "bk-1" || conflicts[1].WithBookingID != "bk-2" {
			t.Fatalf("expected conflicts with bk-1 then bk-2, got %v", conflicts)
		}
	})
}
