package quality

import (
	"testing"
	"time"
)

type fakeClock struct {
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) advance(d time.Duration) { c.now = c.now.Add(d) }

const (
	silentFrame = 8
	lowFrame    = 50
	normalFrame = 160
)

func TestPersistentLowAudioAfterThreeRuns(t *testing.T) {
	clock := newFakeClock()
	m := NewMonitor(Config{}, clock.Now)

	// Run 1.
	a := m.Observe(lowFrame)
	if a.Issue != IssueLowAudio {
		t.Fatalf("expected low_audio, got %q", a.Issue)
	}
	if a.Instruction == "" {
		t.Fatal("expected low_audio instruction on first detection")
	}
	m.Observe(normalFrame)

	// Run 2.
	clock.advance(time.Second)
	if a := m.Observe(lowFrame); a.Issue != IssueLowAudio {
		t.Fatalf("expected low_audio on run 2, got %q", a.Issue)
	}
	m.Observe(normalFrame)

	// Run 3 escalates.
	clock.advance(time.Second)
	a = m.Observe(lowFrame)
	if a.Issue != IssuePersistentLowAudio {
		t.Fatalf("expected persistent_low_audio on run 3, got %q", a.Issue)
	}
	if a.Instruction == "" {
		t.Fatal("expected persistent_low_audio instruction")
	}

	// Repeated assessments of the same unresolved run: no second instruction.
	for i := 0; i < 5; i++ {
		a = m.Observe(lowFrame)
		if a.Issue != IssuePersistentLowAudio {
			t.Fatalf("expected persistent_low_audio to persist, got %q", a.Issue)
		}
		if a.Instruction != "" {
			t.Fatal("instruction must fire at most once per call")
		}
	}
}

func TestSilenceEscalation(t *testing.T) {
	clock := newFakeClock()
	m := NewMonitor(Config{}, clock.Now)

	// Run 1, then audio resumes.
	m.Observe(silentFrame)
	clock.advance(time.Second)
	m.Observe(normalFrame)

	// Run 2, sustained past the silence threshold.
	m.Observe(silentFrame)
	clock.advance(6 * time.Second)
	a := m.Observe(silentFrame)
	if a.Issue != IssueSilence {
		t.Fatalf("expected silence, got %q", a.Issue)
	}
	if a.Instruction == "" {
		t.Fatal("expected silence instruction")
	}

	// Well beyond the higher threshold.
	clock.advance(10 * time.Second)
	a = m.Observe(silentFrame)
	if a.Issue != IssueExtendedSilence {
		t.Fatalf("expected extended_silence, got %q", a.Issue)
	}
	if a.Instruction == "" {
		t.Fatal("expected extended_silence instruction")
	}
}

func TestExtendedSilenceSupersedesSilenceInstruction(t *testing.T) {
	clock := newFakeClock()
	m := NewMonitor(Config{MinSilenceRuns: 1}, clock.Now)

	// Jump straight past the extended threshold on the first run.
	m.Observe(silentFrame)
	clock.advance(20 * time.Second)
	a := m.Observe(silentFrame)
	if a.Issue != IssueExtendedSilence {
		t.Fatalf("expected extended_silence, got %q", a.Issue)
	}
	if a.Instruction == "" {
		t.Fatal("expected extended_silence instruction")
	}

	// The superseded silence instruction must never fire afterwards.
	m.Observe(normalFrame)
	m.Observe(silentFrame)
	clock.advance(6 * time.Second)
	a = m.Observe(silentFrame)
	if a.Instruction != "" {
		t.Fatalf("silence instruction fired after extended silence: %q", a.Instruction)
	}
}

func TestIssueLogCooldown(t *testing.T) {
	clock := newFakeClock()
	m := NewMonitor(Config{}, clock.Now)

	for i := 0; i < 10; i++ {
		m.Observe(lowFrame)
		clock.advance(time.Second)
	}
	state := m.Snapshot()
	if len(state.Issues) != 1 {
		t.Fatalf("expected 1 logged issue inside the cooldown window, got %d", len(state.Issues))
	}

	clock.advance(31 * time.Second)
	m.Observe(lowFrame)
	state = m.Snapshot()
	if len(state.Issues) != 2 {
		t.Fatalf("expected a second entry after the cooldown, got %d", len(state.Issues))
	}
}

func TestSnapshotAccumulatesSilence(t *testing.T) {
	clock := newFakeClock()
	m := NewMonitor(Config{}, clock.Now)

	m.Observe(silentFrame)
	clock.advance(3 * time.Second)
	m.Observe(normalFrame)

	m.Observe(silentFrame)
	clock.advance(2 * time.Second)

	state := m.Snapshot()
	if state.SilenceRuns != 2 {
		t.Fatalf("expected 2 silence runs, got %d", state.SilenceRuns)
	}
	if state.TotalSilence != 5*time.Second {
		t.Fatalf("expected 5s cumulative silence, got %v", state.TotalSilence)
	}
	if !state.SilenceActive {
		t.Fatal("expected silence still active")
	}
}
