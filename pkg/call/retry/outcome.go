// Package retry classifies terminal call outcomes and drives the bounded
// redial protocol.
package retry

import (
	"github.com/pranitl/elevenlabs-twilio-ai-caller-sub002/pkg/call/session"
	"github.com/pranitl/elevenlabs-twilio-ai-caller-sub002/pkg/twilio"
)

// Verdict is the outcome classifier's decision for one finished attempt.
type Verdict struct {
	RetryNeeded bool   `json:"retry_needed"`
	Reason      string `json:"reason,omitempty"`
}

// Classify maps a terminal disposition and answering classification to a
// retry decision. Any answering-machine variant on a completed call means
// the agent spoke to voicemail, which still needs a redial. Non-terminal
// statuses report ok=false; the callback layer only invokes this on
// terminal transitions.
func Classify(status session.Status, answeredBy string) (Verdict, bool) {
	if !status.Terminal() {
		return Verdict{}, false
	}
	switch status {
	case session.StatusFailed, session.StatusBusy, session.StatusNoAnswer, session.StatusCanceled:
		return Verdict{RetryNeeded: true, Reason: string(status)}, true
	}
	if twilio.IsMachine(answeredBy) {
		return Verdict{RetryNeeded: true, Reason: "voicemail"}, true
	}
	return Verdict{RetryNeeded: false}, true
}
