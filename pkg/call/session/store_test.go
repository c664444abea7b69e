package session

import (
	"context"
	"testing"
	"time"
)

func fixedClock() func() time.Time {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time { return base }
}

func TestCreateInitializesRetryState(t *testing.T) {
	s := NewStore(2, fixedClock())
	s.Create("lead-1", "CA1")

	rs, ok := s.RetrySnapshot("lead-1")
	if !ok {
		t.Fatal("expected retry state for new lead")
	}
	if rs.Phase != PhaseNoHistory {
		t.Fatalf("expected no-history phase, got %q", rs.Phase)
	}
	if rs.MaxRetries != 2 {
		t.Fatalf("expected max retries 2, got %d", rs.MaxRetries)
	}
}

func TestSettersRejectUnknownCallSid(t *testing.T) {
	s := NewStore(2, fixedClock())
	if s.SetStatus("missing", StatusRinging) {
		t.Fatal("SetStatus must report false for unknown call sid")
	}
	if s.SetAnsweredBy("missing", "human") {
		t.Fatal("SetAnsweredBy must report false for unknown call sid")
	}
	if s.AppendTranscript("missing", "user", "hello") {
		t.Fatal("AppendTranscript must report false for unknown call sid")
	}
}

func TestRecordAttemptMovesToTracking(t *testing.T) {
	s := NewStore(2, fixedClock())
	s.Create("lead-1", "CA1")

	s.RecordAttempt("lead-1", Attempt{CallSid: "CA1", Status: StatusNoAnswer})
	rs, _ := s.RetrySnapshot("lead-1")
	if rs.Phase != PhaseTracking {
		t.Fatalf("expected tracking phase, got %q", rs.Phase)
	}
	if len(rs.CallHistory) != 1 {
		t.Fatalf("expected 1 history entry, got %d", len(rs.CallHistory))
	}
}

func TestTryMarkRetryScheduledBudget(t *testing.T) {
	s := NewStore(2, fixedClock())
	s.Create("lead-1", "CA1")
	s.SetRetryVerdict("lead-1", true, "no-answer")

	// First schedule captures the post-increment state.
	mark, ok, exhausted := s.TryMarkRetryScheduled("lead-1")
	if !ok || exhausted {
		t.Fatalf("first schedule: ok=%v exhausted=%v", ok, exhausted)
	}
	if mark.Attempt != 1 || mark.Reason != "no-answer" {
		t.Fatalf("unexpected mark: %+v", mark)
	}
	// Guard holds while outstanding.
	_, ok, exhausted = s.TryMarkRetryScheduled("lead-1")
	if ok || exhausted {
		t.Fatalf("outstanding schedule must be a no-op: ok=%v exhausted=%v", ok, exhausted)
	}

	// New attempt ends, clearing the guard.
	s.RecordAttempt("lead-1", Attempt{CallSid: "CA2", Status: StatusNoAnswer})
	mark, ok, exhausted = s.TryMarkRetryScheduled("lead-1")
	if !ok || exhausted {
		t.Fatalf("second schedule: ok=%v exhausted=%v", ok, exhausted)
	}
	if mark.Attempt != 2 {
		t.Fatalf("expected attempt 2, got %d", mark.Attempt)
	}

	// Third qualifying failure exceeds maxRetries=2.
	s.RecordAttempt("lead-1", Attempt{CallSid: "CA3", Status: StatusNoAnswer})
	_, ok, exhausted = s.TryMarkRetryScheduled("lead-1")
	if ok || !exhausted {
		t.Fatalf("expected exhaustion: ok=%v exhausted=%v", ok, exhausted)
	}
	rs, _ := s.RetrySnapshot("lead-1")
	if rs.Phase != PhaseRetryExhausted {
		t.Fatalf("expected retry-exhausted phase, got %q", rs.Phase)
	}
}

func TestUnmarkRetryScheduledRollsBack(t *testing.T) {
	s := NewStore(2, fixedClock())
	s.Create("lead-1", "CA1")
	s.SetRetryVerdict("lead-1", true, "busy")

	if _, ok, _ := s.TryMarkRetryScheduled("lead-1"); !ok {
		t.Fatal("expected schedule to succeed")
	}
	s.UnmarkRetryScheduled("lead-1")

	rs, _ := s.RetrySnapshot("lead-1")
	if rs.RetryCount != 0 || rs.RetryScheduled {
		t.Fatalf("expected rollback, got count=%d scheduled=%v", rs.RetryCount, rs.RetryScheduled)
	}
	if rs.Phase != PhaseRetryNeeded {
		t.Fatalf("expected retry-needed after rollback, got %q", rs.Phase)
	}
}

func TestSetRetryVerdictSucceeded(t *testing.T) {
	s := NewStore(2, fixedClock())
	s.Create("lead-1", "CA1")

	s.SetRetryVerdict("lead-1", false, "")
	rs, _ := s.RetrySnapshot("lead-1")
	if rs.Phase != PhaseRetrySucceeded {
		t.Fatalf("expected retry-succeeded, got %q", rs.Phase)
	}
}

func TestLookupReturnsSnapshot(t *testing.T) {
	s := NewStore(2, fixedClock())
	s.Create("lead-1", "CA1")
	s.AppendTranscript("CA1", "user", "hello")

	snap, ok := s.Lookup("CA1")
	if !ok {
		t.Fatal("expected session")
	}
	snap.Transcript[0].Text = "mutated"

	again, _ := s.Lookup("CA1")
	if again.Transcript[0].Text != "hello" {
		t.Fatal("Lookup must return an isolated copy")
	}
}

func TestTrackCancelAndWait(t *testing.T) {
	s := NewStore(2, fixedClock())
	s.Create("lead-1", "CA1")

	canceled := false
	untrack := s.Track("CA1", Handle{Cancel: func() { canceled = true }})
	if got := s.ActiveCalls(); got != 1 {
		t.Fatalf("expected 1 active call, got %d", got)
	}

	if n := s.CancelAll(); n != 1 {
		t.Fatalf("expected 1 cancel, got %d", n)
	}
	if !canceled {
		t.Fatal("cancel handle not invoked")
	}

	untrack()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if !s.Wait(ctx) {
		t.Fatal("expected Wait to return after untrack")
	}
	if got := s.ActiveCalls(); got != 0 {
		t.Fatalf("expected 0 active calls, got %d", got)
	}
}

func TestReleaseUntracksCall(t *testing.T) {
	s := NewStore(2, fixedClock())
	s.Create("lead-1", "CA1")
	s.Track("CA1", Handle{})

	s.Release("CA1")
	if _, ok := s.Lookup("CA1"); ok {
		t.Fatal("expected session destroyed")
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if !s.Wait(ctx) {
		t.Fatal("release must untrack the call")
	}
}
