package retry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pranitl/elevenlabs-twilio-ai-caller-sub002/pkg/call/session"
	"github.com/pranitl/elevenlabs-twilio-ai-caller-sub002/pkg/twilio"
)

// Result is the structured outcome of a scheduling attempt. The scheduler
// never raises; callers inspect the result.
type Result struct {
	Scheduled bool   `json:"scheduled"`
	Via       string `json:"via,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

const (
	ViaChannel = "channel"
	ViaDirect  = "direct"
)

// SchedulerConfig tunes the redial protocol.
type SchedulerConfig struct {
	// DirectRedialDelay is waited before a fallback direct redial. Default 1m.
	DirectRedialDelay time.Duration
}

func (c SchedulerConfig) withDefaults() SchedulerConfig {
	if c.DirectRedialDelay <= 0 {
		c.DirectRedialDelay = time.Minute
	}
	return c
}

// Scheduler requests redials for leads whose last attempt needs one. The
// preferred path is the external scheduling channel; when it is absent or
// errors, the scheduler waits the configured delay and re-initiates the
// call directly.
type Scheduler struct {
	store   *session.Store
	channel Channel
	dialer  twilio.Dialer
	cfg     SchedulerConfig
	log     *slog.Logger
	sleep   func(ctx context.Context, d time.Duration) error
}

func NewScheduler(store *session.Store, channel Channel, dialer twilio.Dialer, cfg SchedulerConfig, log *slog.Logger) *Scheduler {
	return &Scheduler{
		store:   store,
		channel: channel,
		dialer:  dialer,
		cfg:     cfg.withDefaults(),
		log:     log,
		sleep:   sleepCtx,
	}
}

// Schedule attempts one redial for the lead. It is safe to call
// fire-and-forget and idempotent while a scheduled retry is outstanding.
func (s *Scheduler) Schedule(ctx context.Context, leadID, phoneNumber string) Result {
	state, ok := s.store.RetrySnapshot(leadID)
	if !ok || !state.RetryNeeded {
		return Result{Reason: "no retry needed"}
	}

	mark, marked, exhausted := s.store.TryMarkRetryScheduled(leadID)
	if exhausted {
		s.log.Info("retry budget spent", "lead_id", leadID, "retry_count", state.RetryCount, "max_retries", state.MaxRetries)
		return Result{Reason: "maximum retries reached"}
	}
	if !marked {
		return Result{Reason: "already scheduled"}
	}

	req := Request{
		LeadID:      leadID,
		PhoneNumber: phoneNumber,
		Attempt:     mark.Attempt,
		Reason:      mark.Reason,
		Delay:       s.cfg.DirectRedialDelay,
	}

	if s.channel != nil {
		if err := s.channel.RequestRedial(ctx, req); err == nil {
			s.log.Info("retry scheduled", "lead_id", leadID, "attempt", req.Attempt, "via", ViaChannel)
			return Result{Scheduled: true, Via: ViaChannel}
		} else {
			s.log.Warn("scheduling channel failed, falling back to direct redial", "lead_id", leadID, "error", err)
		}
	}

	if err := s.directRedial(ctx, leadID, phoneNumber); err != nil {
		s.store.UnmarkRetryScheduled(leadID)
		s.log.Error("direct redial failed", "lead_id", leadID, "error", err)
		return Result{Reason: fmt.Sprintf("redial failed: %v", err)}
	}
	s.log.Info("retry scheduled", "lead_id", leadID, "attempt", req.Attempt, "via", ViaDirect)
	return Result{Scheduled: true, Via: ViaDirect}
}

func (s *Scheduler) directRedial(ctx context.Context, leadID, phoneNumber string) error {
	if s.dialer == nil {
		return fmt.Errorf("no dialer configured")
	}
	if err := s.sleep(ctx, s.cfg.DirectRedialDelay); err != nil {
		return err
	}
	callSid, err := s.dialer.PlaceCall(ctx, twilio.CallRequest{To: phoneNumber, LeadID: leadID})
	if err != nil {
		return err
	}
	s.store.Create(leadID, callSid)
	// The next retry round reads the number back off the session.
	s.store.SetPhone(callSid, phoneNumber)
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
