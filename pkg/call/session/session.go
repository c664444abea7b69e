package session

import (
	"strings"
	"time"
)

// Status is the lifecycle state of one call attempt.
type Status string

const (
	StatusInitiating Status = "initiating"
	StatusRinging    Status = "ringing"
	StatusInProgress Status = "in-progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusBusy       Status = "busy"
	StatusNoAnswer   Status = "no-answer"
	StatusCanceled   Status = "canceled"
)

// StatusFromCallback maps a vendor call-status string onto the session
// lifecycle. Unknown values report ok=false and leave the session untouched.
func StatusFromCallback(raw string) (Status, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "queued", "initiated":
		return StatusInitiating, true
	case "ringing":
		return StatusRinging, true
	case "in-progress", "answered":
		return StatusInProgress, true
	case "completed":
		return StatusCompleted, true
	case "failed":
		return StatusFailed, true
	case "busy":
		return StatusBusy, true
	case "no-answer":
		return StatusNoAnswer, true
	case "canceled":
		return StatusCanceled, true
	default:
		return "", false
	}
}

// Terminal reports whether a status ends the call attempt.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusBusy, StatusNoAnswer, StatusCanceled:
		return true
	default:
		return false
	}
}

// TranscriptLine is one entry of the ordered, append-only transcript log.
type TranscriptLine struct {
	Role string    `json:"role"`
	Text string    `json:"text"`
	At   time.Time `json:"at"`
}

// CallSession is the per-attempt call record. It is created when a call is
// placed, mutated through Store accessors while the call runs, retained
// after call end until the reporter has consumed it, then released.
type CallSession struct {
	LeadID      string
	CallSid     string
	StreamSid   string
	PhoneNumber string

	Status         Status
	AnsweredBy     string
	ConversationID string

	Transcript []TranscriptLine

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Attempt is one entry of a lead's call history.
type Attempt struct {
	CallSid    string    `json:"call_sid"`
	Status     Status    `json:"status"`
	AnsweredBy string    `json:"answered_by,omitempty"`
	At         time.Time `json:"at"`
}

// RetryPhase is the per-lead retry protocol state.
type RetryPhase string

const (
	PhaseNoHistory      RetryPhase = "no-history"
	PhaseTracking       RetryPhase = "tracking"
	PhaseRetryNeeded    RetryPhase = "retry-needed"
	PhaseRetryScheduled RetryPhase = "retry-scheduled"
	PhaseRetryExhausted RetryPhase = "retry-exhausted"
	PhaseRetrySucceeded RetryPhase = "retry-succeeded"
)

// RetryState tracks redial decisions for one lead across call attempts.
// It is shared between the relay and the retry scheduler and only reached
// through Store accessors.
type RetryState struct {
	LeadID         string
	Phase          RetryPhase
	RetryCount     int
	MaxRetries     int
	RetryNeeded    bool
	RetryReason    string
	RetryScheduled bool
	CallHistory    []Attempt
}
