// Package report assembles one per-call summary payload from the pipelines'
// final state and delivers it to the configured webhook.
package report

import (
	"time"

	"github.com/pranitl/elevenlabs-twilio-ai-caller-sub002/pkg/call/dispatch"
	"github.com/pranitl/elevenlabs-twilio-ai-caller-sub002/pkg/call/intent"
	"github.com/pranitl/elevenlabs-twilio-ai-caller-sub002/pkg/call/quality"
	"github.com/pranitl/elevenlabs-twilio-ai-caller-sub002/pkg/call/session"
	"github.com/pranitl/elevenlabs-twilio-ai-caller-sub002/pkg/twilio"
)

// Inputs collects the pipeline state a finished call leaves behind.
type Inputs struct {
	Session      session.CallSession
	Quality      quality.State
	Intents      []intent.Detection
	Primary      *intent.Detection
	Instructions []dispatch.Record
	Retry        session.RetryState

	// Post-call artifacts fetched from the AI vendor; either may be absent.
	TranscriptSummary string
}

// QualityReport is the webhook-facing view of the quality metrics.
type QualityReport struct {
	SilenceRuns  int                   `json:"silence_runs"`
	LowAudioRuns int                   `json:"low_audio_runs"`
	TotalSilence float64               `json:"total_silence_seconds"`
	Issues       []quality.IssueRecord `json:"issues,omitempty"`
}

// IntentReport is the webhook-facing view of the intent pipeline.
type IntentReport struct {
	Detected []intent.Detection `json:"detected,omitempty"`
	Primary  *intent.Detection  `json:"primary,omitempty"`
}

// RetryReport is the webhook-facing view of the lead's retry state.
type RetryReport struct {
	Phase       session.RetryPhase `json:"phase"`
	RetryCount  int                `json:"retry_count"`
	MaxRetries  int                `json:"max_retries"`
	RetryNeeded bool               `json:"retry_needed"`
	RetryReason string             `json:"retry_reason,omitempty"`
	CallHistory []session.Attempt  `json:"call_history,omitempty"`
}

// Summary is the derived human-facing outcome block.
type Summary struct {
	Outcome        string   `json:"outcome"`
	FollowUpNeeded bool     `json:"follow_up_needed"`
	FollowUpType   string   `json:"follow_up_type,omitempty"`
	Urgency        string   `json:"urgency"`
	KeyPoints      []string `json:"key_points,omitempty"`
}

// Payload is the aggregated JSON report posted to the webhook.
type Payload struct {
	LeadID     string         `json:"lead_id"`
	CallSid    string         `json:"call_sid"`
	Status     session.Status `json:"status"`
	AnsweredBy string         `json:"answered_by,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`

	Transcript        []session.TranscriptLine `json:"transcript,omitempty"`
	TranscriptSummary string                   `json:"transcript_summary,omitempty"`

	Quality      QualityReport     `json:"quality"`
	Intents      IntentReport      `json:"intents"`
	Instructions []dispatch.Record `json:"instructions_sent,omitempty"`
	Retry        RetryReport       `json:"retry"`
	Summary      Summary           `json:"summary"`
}

// Build assembles the webhook payload from a finished call's state.
func Build(in Inputs, now time.Time) Payload {
	return Payload{
		LeadID:            in.Session.LeadID,
		CallSid:           in.Session.CallSid,
		Status:            in.Session.Status,
		AnsweredBy:        in.Session.AnsweredBy,
		Timestamp:         now,
		Transcript:        in.Session.Transcript,
		TranscriptSummary: in.TranscriptSummary,
		Quality: QualityReport{
			SilenceRuns:  in.Quality.SilenceRuns,
			LowAudioRuns: in.Quality.LowAudioRuns,
			TotalSilence: in.Quality.TotalSilence.Seconds(),
			Issues:       in.Quality.Issues,
		},
		Intents: IntentReport{
			Detected: in.Intents,
			Primary:  in.Primary,
		},
		Instructions: in.Instructions,
		Retry: RetryReport{
			Phase:       in.Retry.Phase,
			RetryCount:  in.Retry.RetryCount,
			MaxRetries:  in.Retry.MaxRetries,
			RetryNeeded: in.Retry.RetryNeeded,
			RetryReason: in.Retry.RetryReason,
			CallHistory: in.Retry.CallHistory,
		},
		Summary: buildSummary(in),
	}
}

func buildSummary(in Inputs) Summary {
	s := Summary{Outcome: outcomeLabel(in), Urgency: "normal"}

	if in.Primary != nil {
		switch in.Primary.Name {
		case "urgent_assistance":
			s.Urgency = "high"
			s.FollowUpNeeded = true
			s.FollowUpType = "human_callback"
		case "schedule_callback":
			s.FollowUpNeeded = true
			s.FollowUpType = "scheduled_callback"
		case "needs_more_info":
			s.FollowUpNeeded = true
			s.FollowUpType = "send_information"
		case "positive_interest":
			s.FollowUpNeeded = true
			s.FollowUpType = "next_steps"
		}
	}
	if in.Retry.RetryNeeded && !s.FollowUpNeeded {
		s.FollowUpNeeded = true
		s.FollowUpType = "redial"
	}
	s.KeyPoints = keyPoints(in)
	return s
}

func outcomeLabel(in Inputs) string {
	if twilio.IsMachine(in.Session.AnsweredBy) {
		return "voicemail"
	}
	switch in.Session.Status {
	case session.StatusCompleted:
		if in.Primary != nil {
			return in.Primary.Name
		}
		return "completed"
	case session.StatusNoAnswer:
		return "no_answer"
	case session.StatusBusy:
		return "busy"
	case session.StatusFailed, session.StatusCanceled:
		return "not_connected"
	default:
		return string(in.Session.Status)
	}
}

func keyPoints(in Inputs) []string {
	var points []string
	if in.Primary != nil {
		points = append(points, "Caller intent: "+in.Primary.Name)
	}
	for _, d := range in.Intents {
		if in.Primary != nil && d.Name == in.Primary.Name {
			continue
		}
		points = append(points, "Also detected: "+d.Name)
	}
	if in.Quality.SilenceRuns > 0 {
		points = append(points, "Call had silent stretches")
	}
	if in.Quality.LowAudioRuns >= 3 {
		points = append(points, "Caller audio stayed low throughout")
	}
	if len(in.Instructions) > 0 {
		points = append(points, "Live agent received corrective instructions")
	}
	if in.Retry.RetryNeeded {
		points = append(points, "Redial needed: "+in.Retry.RetryReason)
	}
	return points
}
