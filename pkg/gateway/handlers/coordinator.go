package handlers

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pranitl/elevenlabs-twilio-ai-caller-sub002/pkg/call/report"
	"github.com/pranitl/elevenlabs-twilio-ai-caller-sub002/pkg/call/retry"
	"github.com/pranitl/elevenlabs-twilio-ai-caller-sub002/pkg/call/session"
	"github.com/pranitl/elevenlabs-twilio-ai-caller-sub002/pkg/eleven"
	"github.com/pranitl/elevenlabs-twilio-ai-caller-sub002/pkg/gateway/metrics"
	"github.com/pranitl/elevenlabs-twilio-ai-caller-sub002/pkg/twilio"
)

// completedReportGrace bounds how long a completed call waits for its media
// stream to finish before reporting without pipeline state.
const completedReportGrace = 15 * time.Second

// Coordinator joins the per-call pipelines to the outcome protocol: it
// consumes terminal status and AMD callbacks, runs the outcome classifier,
// kicks the retry scheduler, and hands the assembled report to the webhook
// reporter once both the call and its media stream have ended.
type Coordinator struct {
	Store         *session.Store
	Scheduler     *retry.Scheduler
	Reporter      *report.Reporter
	Conversations eleven.ConversationClient
	Metrics       *metrics.Metrics
	Log           *slog.Logger
	Now           func() time.Time

	mu      sync.Mutex
	pending map[string]*pendingCall
}

type pendingCall struct {
	inputs   *report.Inputs
	terminal bool
	reported bool
	timer    *time.Timer
}

func (c *Coordinator) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

func (c *Coordinator) pendingFor(callSid string) *pendingCall {
	if c.pending == nil {
		c.pending = make(map[string]*pendingCall)
	}
	p, ok := c.pending[callSid]
	if !ok {
		p = &pendingCall{}
		c.pending[callSid] = p
	}
	return p
}

// CallPlaced registers a freshly dialed call.
func (c *Coordinator) CallPlaced(leadID, callSid, phone string) {
	c.Store.Create(leadID, callSid)
	c.Store.SetPhone(callSid, phone)
	if c.Metrics != nil {
		c.Metrics.CallsStarted.Inc()
	}
	c.Log.Info("call placed", "lead_id", leadID, "call_sid", callSid)
}

// StreamEnded stashes the relay's pipeline state for the report.
func (c *Coordinator) StreamEnded(callSid string, inputs report.Inputs) {
	if callSid == "" {
		return
	}
	c.mu.Lock()
	p := c.pendingFor(callSid)
	p.inputs = &inputs
	fire := p.terminal && !p.reported
	if fire {
		p.reported = true
		if p.timer != nil {
			p.timer.Stop()
		}
	}
	c.mu.Unlock()
	if fire {
		go c.report(context.Background(), callSid)
	}
}

// StatusReceived applies a call-status callback. Unknown call sids report
// false; the handler logs and ignores them without mutating any session.
func (c *Coordinator) StatusReceived(cb twilio.StatusCallback) bool {
	status, ok := session.StatusFromCallback(cb.CallStatus)
	if !ok {
		return false
	}
	if !c.Store.SetStatus(cb.CallSid, status) {
		return false
	}
	if !status.Terminal() {
		return true
	}

	sess, _ := c.Store.Lookup(cb.CallSid)
	c.Store.RecordAttempt(sess.LeadID, session.Attempt{
		CallSid:    cb.CallSid,
		Status:     status,
		AnsweredBy: sess.AnsweredBy,
		At:         c.now(),
	})
	if c.Metrics != nil {
		c.Metrics.CallsFinished.WithLabelValues(string(status)).Inc()
	}
	c.applyVerdict(sess.LeadID, status, sess.AnsweredBy, sess.PhoneNumber)
	c.markTerminal(cb.CallSid, status)
	return true
}

// AMDReceived applies an answering-detection callback. Detection can land
// after the terminal status; a late machine verdict still flips the retry
// decision.
func (c *Coordinator) AMDReceived(cb twilio.AMDCallback) bool {
	if !c.Store.SetAnsweredBy(cb.CallSid, cb.AnsweredBy) {
		return false
	}
	sess, _ := c.Store.Lookup(cb.CallSid)
	if sess.Status.Terminal() {
		c.applyVerdict(sess.LeadID, sess.Status, cb.AnsweredBy, sess.PhoneNumber)
	}
	return true
}

func (c *Coordinator) applyVerdict(leadID string, status session.Status, answeredBy, phone string) {
	verdict, ok := retry.Classify(status, answeredBy)
	if !ok {
		return
	}
	c.Store.SetRetryVerdict(leadID, verdict.RetryNeeded, verdict.Reason)
	c.Log.Info("outcome classified",
		"lead_id", leadID, "status", string(status),
		"retry_needed", verdict.RetryNeeded, "reason", verdict.Reason)
	if !verdict.RetryNeeded || c.Scheduler == nil {
		return
	}
	go func() {
		res := c.Scheduler.Schedule(context.Background(), leadID, phone)
		if c.Metrics != nil {
			label := "scheduled"
			if !res.Scheduled {
				label = "skipped"
			}
			c.Metrics.RetriesRequested.WithLabelValues(label).Inc()
		}
	}()
}

// markTerminal arms the report. Completed calls wait for their stream to
// end so pipeline state is included; calls that never connected report
// immediately.
func (c *Coordinator) markTerminal(callSid string, status session.Status) {
	c.mu.Lock()
	p := c.pendingFor(callSid)
	p.terminal = true
	fire := false
	switch {
	case p.reported:
	case p.inputs != nil || status != session.StatusCompleted:
		p.reported = true
		fire = true
	default:
		sid := callSid
		p.timer = time.AfterFunc(completedReportGrace, func() { c.graceExpired(sid) })
	}
	c.mu.Unlock()
	if fire {
		go c.report(context.Background(), callSid)
	}
}

// graceExpired fires the held-back report for a completed call whose stream
// never ended. It looks the pending entry up without creating one: a report
// that already ran deleted it, and resurrecting it would deliver an empty
// duplicate.
func (c *Coordinator) graceExpired(callSid string) {
	c.mu.Lock()
	p, live := c.pending[callSid]
	late := live && !p.reported
	if late {
		p.reported = true
	}
	c.mu.Unlock()
	if late {
		c.report(context.Background(), callSid)
	}
}

func (c *Coordinator) report(ctx context.Context, callSid string) {
	c.mu.Lock()
	p := c.pendingFor(callSid)
	inputs := p.inputs
	delete(c.pending, callSid)
	c.mu.Unlock()

	var in report.Inputs
	if inputs != nil {
		in = *inputs
	}
	if sess, ok := c.Store.Lookup(callSid); ok {
		in.Session = sess
	}
	if in.Session.LeadID != "" {
		if rs, ok := c.Store.RetrySnapshot(in.Session.LeadID); ok {
			in.Retry = rs
		}
	}
	c.enrich(ctx, &in)

	res := c.Reporter.Deliver(ctx, report.Build(in, c.now()))
	if c.Metrics != nil {
		label := "failed"
		if res.Success {
			label = "delivered"
		}
		c.Metrics.ReportsDelivered.WithLabelValues(label).Inc()
	}
	if !res.Success {
		c.Log.Warn("call report not delivered", "call_sid", callSid, "reason", res.Reason)
	}
	c.Store.Release(callSid)
}

// enrich pulls post-call artifacts from the AI vendor. Either fetch failing
// leaves the report with whatever is available.
func (c *Coordinator) enrich(ctx context.Context, in *report.Inputs) {
	if c.Conversations == nil || in.Session.ConversationID == "" {
		return
	}
	fetchCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if summary, err := c.Conversations.FetchSummary(fetchCtx, in.Session.ConversationID); err == nil {
		in.TranscriptSummary = summary
	} else {
		c.Log.Warn("summary fetch failed", "conversation_id", in.Session.ConversationID, "error", err)
	}
	if len(in.Session.Transcript) == 0 {
		entries, err := c.Conversations.FetchTranscript(fetchCtx, in.Session.ConversationID)
		if err != nil {
			c.Log.Warn("transcript fetch failed", "conversation_id", in.Session.ConversationID, "error", err)
			return
		}
		for _, e := range entries {
			in.Session.Transcript = append(in.Session.Transcript, session.TranscriptLine{Role: e.Role, Text: e.Message})
		}
	}
}
