// Package quality watches inbound audio frames for silence and low signal.
// Frame size stands in for energy; this is a coarse proxy, not signal
// analysis.
package quality

import "time"

// Issue identifies one audio-quality problem class, in escalating severity
// per family.
type Issue string

const (
	IssueLowAudio           Issue = "low_audio"
	IssuePersistentLowAudio Issue = "persistent_low_audio"
	IssueSilence            Issue = "silence"
	IssueExtendedSilence    Issue = "extended_silence"
)

var instructions = map[Issue]string{
	IssueLowAudio:           "The caller's audio is coming through quietly. Ask them to speak up or move closer to the phone.",
	IssuePersistentLowAudio: "The caller's audio has stayed too quiet. Suggest they check their connection or switch off speakerphone.",
	IssueSilence:            "The caller has gone quiet. Check in with them and ask if they are still on the line.",
	IssueExtendedSilence:    "The line has been silent for a long time. Say you will end the call shortly unless you hear from them.",
}

// Config tunes the monitor. Zero values take the documented defaults.
type Config struct {
	// SilenceFrameBytes: frames at or under this size count as silence.
	SilenceFrameBytes int
	// LowAudioFrameBytes: frames at or under this size (but above the
	// silence floor) count as low signal.
	LowAudioFrameBytes int
	// SilenceAfter is the sustained-silence duration that raises a silence
	// issue (given at least MinSilenceRuns runs).
	SilenceAfter time.Duration
	// ExtendedSilenceAfter escalates to extended_silence.
	ExtendedSilenceAfter time.Duration
	// IssueCooldown limits issue-log entries per issue type. Default 30s.
	IssueCooldown time.Duration
	// PersistentLowAudioRuns escalates low audio. Default 3.
	PersistentLowAudioRuns int
	// MinSilenceRuns gates the silence issue. Default 2.
	MinSilenceRuns int
	// IssueLogLimit bounds the issue log. Default 20.
	IssueLogLimit int
}

func (c Config) withDefaults() Config {
	if c.SilenceFrameBytes <= 0 {
		c.SilenceFrameBytes = 16
	}
	if c.LowAudioFrameBytes <= 0 {
		c.LowAudioFrameBytes = 80
	}
	if c.SilenceAfter <= 0 {
		c.SilenceAfter = 5 * time.Second
	}
	if c.ExtendedSilenceAfter <= 0 {
		c.ExtendedSilenceAfter = 15 * time.Second
	}
	if c.IssueCooldown <= 0 {
		c.IssueCooldown = 30 * time.Second
	}
	if c.PersistentLowAudioRuns <= 0 {
		c.PersistentLowAudioRuns = 3
	}
	if c.MinSilenceRuns <= 0 {
		c.MinSilenceRuns = 2
	}
	if c.IssueLogLimit <= 0 {
		c.IssueLogLimit = 20
	}
	return c
}

// Assessment is the outcome of observing one frame. Instruction is non-empty
// at most once per issue type per call.
type Assessment struct {
	Issue       Issue
	Instruction string
}

// IssueRecord is one bounded-log entry.
type IssueRecord struct {
	Issue Issue
	At    time.Time
}

// State is the reporter-facing snapshot of per-call quality metrics.
type State struct {
	SilenceActive  bool
	LowAudioActive bool
	SilenceRuns    int
	LowAudioRuns   int
	TotalSilence   time.Duration
	Issues         []IssueRecord
}

// Monitor tracks one call's audio quality. Single-writer: only the call's
// relay task observes frames.
type Monitor struct {
	cfg Config
	now func() time.Time

	silenceActive bool
	silenceStart  time.Time
	silenceRuns   int
	totalSilence  time.Duration

	lowAudioActive bool
	lowAudioRuns   int

	lastIssueAt map[Issue]time.Time
	sent        map[Issue]bool
	issues      []IssueRecord
}

func NewMonitor(cfg Config, now func() time.Time) *Monitor {
	if now == nil {
		now = time.Now
	}
	return &Monitor{
		cfg:         cfg.withDefaults(),
		now:         now,
		lastIssueAt: make(map[Issue]time.Time),
		sent:        make(map[Issue]bool),
	}
}

// Observe assesses one inbound audio frame by its decoded byte length.
func (m *Monitor) Observe(frameBytes int) Assessment {
	now := m.now()
	isSilence := frameBytes <= m.cfg.SilenceFrameBytes
	isLow := !isSilence && frameBytes <= m.cfg.LowAudioFrameBytes

	if isSilence {
		if !m.silenceActive {
			m.silenceActive = true
			m.silenceStart = now
			m.silenceRuns++
		}
	} else if m.silenceActive {
		m.totalSilence += now.Sub(m.silenceStart)
		m.silenceActive = false
	}

	if isLow {
		if !m.lowAudioActive {
			m.lowAudioActive = true
			m.lowAudioRuns++
		}
	} else {
		m.lowAudioActive = false
	}

	issue := m.currentIssue(now)
	if issue == "" {
		return Assessment{}
	}
	m.recordIssue(issue, now)
	return Assessment{Issue: issue, Instruction: m.takeInstruction(issue)}
}

func (m *Monitor) currentIssue(now time.Time) Issue {
	if m.silenceActive {
		dur := now.Sub(m.silenceStart)
		if dur >= m.cfg.ExtendedSilenceAfter {
			return IssueExtendedSilence
		}
		if dur >= m.cfg.SilenceAfter && m.silenceRuns >= m.cfg.MinSilenceRuns {
			return IssueSilence
		}
	}
	if m.lowAudioActive {
		if m.lowAudioRuns >= m.cfg.PersistentLowAudioRuns {
			return IssuePersistentLowAudio
		}
		return IssueLowAudio
	}
	return ""
}

// recordIssue appends to the bounded issue log at most once per cooldown
// window per issue type.
func (m *Monitor) recordIssue(issue Issue, now time.Time) {
	if last, ok := m.lastIssueAt[issue]; ok && now.Sub(last) < m.cfg.IssueCooldown {
		return
	}
	m.lastIssueAt[issue] = now
	m.issues = append(m.issues, IssueRecord{Issue: issue, At: now})
	if len(m.issues) > m.cfg.IssueLogLimit {
		m.issues = m.issues[len(m.issues)-m.cfg.IssueLogLimit:]
	}
}

// takeInstruction fires each issue's directive at most once per call.
// Extended silence supersedes the plain silence instruction.
func (m *Monitor) takeInstruction(issue Issue) string {
	if m.sent[issue] {
		return ""
	}
	m.sent[issue] = true
	if issue == IssueExtendedSilence {
		m.sent[IssueSilence] = true
	}
	return instructions[issue]
}

// Check re-evaluates the current state without consuming a frame. The relay
// calls it on a timer so sustained silence surfaces between frames.
func (m *Monitor) Check() Assessment {
	now := m.now()
	issue := m.currentIssue(now)
	if issue == "" {
		return Assessment{}
	}
	m.recordIssue(issue, now)
	return Assessment{Issue: issue, Instruction: m.takeInstruction(issue)}
}

// Snapshot returns the current quality metrics for reporting. An open
// silence run counts toward the cumulative total as of now.
func (m *Monitor) Snapshot() State {
	total := m.totalSilence
	if m.silenceActive {
		total += m.now().Sub(m.silenceStart)
	}
	return State{
		SilenceActive:  m.silenceActive,
		LowAudioActive: m.lowAudioActive,
		SilenceRuns:    m.silenceRuns,
		LowAudioRuns:   m.lowAudioRuns,
		TotalSilence:   total,
		Issues:         append([]IssueRecord(nil), m.issues...),
	}
}
