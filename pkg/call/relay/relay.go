// Package relay pumps media and control frames between the telephony leg
// and the AI leg of one live call. It is the integration point where the
// classifiers run and instruction dispatch happens.
package relay

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pranitl/elevenlabs-twilio-ai-caller-sub002/pkg/call/dispatch"
	"github.com/pranitl/elevenlabs-twilio-ai-caller-sub002/pkg/call/intent"
	"github.com/pranitl/elevenlabs-twilio-ai-caller-sub002/pkg/call/interrupt"
	"github.com/pranitl/elevenlabs-twilio-ai-caller-sub002/pkg/call/quality"
	"github.com/pranitl/elevenlabs-twilio-ai-caller-sub002/pkg/call/report"
	"github.com/pranitl/elevenlabs-twilio-ai-caller-sub002/pkg/call/session"
	"github.com/pranitl/elevenlabs-twilio-ai-caller-sub002/pkg/eleven"
	"github.com/pranitl/elevenlabs-twilio-ai-caller-sub002/pkg/twilio"
)

// TelephonyLeg is the media-stream surface the relay needs.
type TelephonyLeg interface {
	Frames() <-chan twilio.InboundFrame
	SendMedia(streamSid, payloadB64 string) error
	SendClear(streamSid string) error
	Err() error
	Close() error
}

// AILeg is the conversational-agent surface the relay needs.
type AILeg interface {
	Events() <-chan eleven.Event
	SendInit(cfg eleven.InitConfig) error
	SendAudio(payloadB64 string) error
	SendInstruction(text string) error
	Pong(eventID int64) error
	Err() error
	Close() error
}

// Config tunes one relay. Zero values take the documented defaults.
type Config struct {
	// MinAIFrameBytes: AI-leg audio frames that decode below this size are
	// treated as synthetic hold markers and dropped. A coarse filter; short
	// speech bursts can false-positive.
	MinAIFrameBytes int
	// QualityCheckInterval drives the periodic silence re-check between
	// frames. Default 5s.
	QualityCheckInterval time.Duration

	Prompt       string
	FirstMessage string
}

func (c Config) withDefaults() Config {
	if c.MinAIFrameBytes <= 0 {
		c.MinAIFrameBytes = 20
	}
	if c.QualityCheckInterval <= 0 {
		c.QualityCheckInterval = 5 * time.Second
	}
	return c
}

// Deps wires one call's pipelines into the relay.
type Deps struct {
	Store      *session.Store
	Intents    *intent.Classifier
	Interrupts interrupt.Classifier
	Quality    *quality.Monitor
	Dispatcher *dispatch.Dispatcher
	Log        *slog.Logger
}

// Relay drives one call. All state is single-writer: only Run's goroutine
// touches it.
type Relay struct {
	tel TelephonyLeg
	ai  AILeg

	deps Deps
	cfg  Config

	callSid   string
	leadID    string
	streamSid string
}

func New(tel TelephonyLeg, ai AILeg, deps Deps, cfg Config) *Relay {
	return &Relay{tel: tel, ai: ai, deps: deps, cfg: cfg.withDefaults()}
}

// CallSid reports the call identifier learned from the start frame.
func (r *Relay) CallSid() string { return r.callSid }

// LeadID reports the lead identifier learned from the start frame.
func (r *Relay) LeadID() string { return r.leadID }

// Run pumps frames until either leg closes or ctx is canceled. Per-frame
// processing failures are logged and skipped; only leg-level failures end
// the relay.
func (r *Relay) Run(ctx context.Context) error {
	defer r.tel.Close()
	defer r.ai.Close()

	start, err := r.awaitStart(ctx)
	if err != nil {
		return err
	}
	r.callSid = start.CallSid
	r.streamSid = start.StreamSid
	r.leadID = start.CustomParameters["lead_id"]
	if r.leadID == "" {
		if lead, ok := r.deps.Store.LeadForCall(r.callSid); ok {
			r.leadID = lead
		}
	}
	if _, ok := r.deps.Store.Lookup(r.callSid); !ok {
		r.deps.Store.Create(r.leadID, r.callSid)
	}
	r.deps.Store.SetStream(r.callSid, r.streamSid)

	log := r.deps.Log.With("call_sid", r.callSid, "lead_id", r.leadID)
	log.Info("media stream started", "stream_sid", r.streamSid)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	untrack := r.deps.Store.Track(r.callSid, session.Handle{Cancel: cancel})
	defer untrack()

	prompt := start.CustomParameters["prompt"]
	if prompt == "" {
		prompt = r.cfg.Prompt
	}
	firstMessage := start.CustomParameters["first_message"]
	if firstMessage == "" {
		firstMessage = r.cfg.FirstMessage
	}
	if err := r.ai.SendInit(eleven.InitConfig{Prompt: prompt, FirstMessage: firstMessage}); err != nil {
		return fmt.Errorf("send session init: %w", err)
	}

	qualityTicker := time.NewTicker(r.cfg.QualityCheckInterval)
	defer qualityTicker.Stop()

	for {
		select {
		case <-runCtx.Done():
			log.Info("relay canceled")
			return nil

		case frame, ok := <-r.tel.Frames():
			if !ok {
				if err := r.tel.Err(); err != nil {
					log.Warn("telephony leg failed", "error", err)
					return err
				}
				log.Info("telephony leg closed")
				return nil
			}
			if frame.Event == twilio.EventStop {
				log.Info("media stream stopped")
				return nil
			}
			r.safely(log, "telephony frame", func() {
				r.handleTelephonyFrame(log, frame)
			})

		case ev, ok := <-r.ai.Events():
			if !ok {
				if err := r.ai.Err(); err != nil {
					log.Warn("ai leg failed", "error", err)
					return err
				}
				log.Info("ai leg closed")
				return nil
			}
			r.safely(log, "ai event", func() {
				r.handleAIEvent(log, ev)
			})

		case <-qualityTicker.C:
			r.safely(log, "quality check", func() {
				r.applyAssessment(log, r.deps.Quality.Check())
			})
		}
	}
}

// awaitStart consumes frames until the start event arrives.
func (r *Relay) awaitStart(ctx context.Context) (*twilio.StreamStart, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case frame, ok := <-r.tel.Frames():
			if !ok {
				if err := r.tel.Err(); err != nil {
					return nil, fmt.Errorf("stream closed before start: %w", err)
				}
				return nil, errors.New("stream closed before start")
			}
			if frame.Event == twilio.EventStart && frame.Start != nil {
				return frame.Start, nil
			}
		}
	}
}

func (r *Relay) handleTelephonyFrame(log *slog.Logger, frame twilio.InboundFrame) {
	if frame.Event != twilio.EventMedia || frame.Media == nil {
		return
	}
	r.applyAssessment(log, r.deps.Quality.Observe(decodedLen(frame.Media.Payload)))
	if err := r.ai.SendAudio(frame.Media.Payload); err != nil && !errors.Is(err, eleven.ErrConnClosed) {
		log.Warn("forward caller audio failed", "error", err)
	}
}

func (r *Relay) handleAIEvent(log *slog.Logger, ev eleven.Event) {
	switch ev.Type {
	case eleven.TypeInitMetadata:
		r.deps.Store.SetConversation(r.callSid, ev.ConversationID)
		log.Info("conversation established", "conversation_id", ev.ConversationID)

	case eleven.TypeAudio:
		if decodedLen(ev.AudioB64) < r.cfg.MinAIFrameBytes {
			// Synthetic hold marker, not speech.
			return
		}
		if err := r.tel.SendMedia(r.streamSid, ev.AudioB64); err != nil && !errors.Is(err, twilio.ErrConnClosed) {
			log.Warn("forward agent audio failed", "error", err)
		}

	case eleven.TypeInterruption:
		if err := r.tel.SendClear(r.streamSid); err != nil && !errors.Is(err, twilio.ErrConnClosed) {
			log.Warn("clear playback failed", "error", err)
		}

	case eleven.TypePing:
		if err := r.ai.Pong(ev.EventID); err != nil && !errors.Is(err, eleven.ErrConnClosed) {
			log.Warn("pong failed", "error", err)
		}

	case eleven.TypeUserTranscript:
		if ev.Text == "" {
			return
		}
		r.deps.Store.AppendTranscript(r.callSid, ev.Role, ev.Text)
		r.classifyUserText(log, ev.Text)

	case eleven.TypeAgentResponse:
		if ev.Text == "" {
			return
		}
		r.deps.Store.AppendTranscript(r.callSid, ev.Role, ev.Text)
	}
}

// classifyUserText runs the caller's words through the intent and
// interruption classifiers. Agent speech never reaches here.
func (r *Relay) classifyUserText(log *slog.Logger, text string) {
	res := r.deps.Intents.Classify(text)
	if res.Ambiguous {
		log.Debug("ambiguous intent detection", "candidates", len(res.Detected))
	}
	if res.PrimaryChanged {
		if primary, ok := r.deps.Intents.Primary(); ok {
			log.Info("primary intent changed", "intent", primary.Name, "confidence", primary.Confidence)
			if primary.Instructions != "" {
				r.deps.Dispatcher.Dispatch("intent:"+primary.Name, primary.Instructions)
			}
		}
	}

	if r.deps.Interrupts == nil {
		return
	}
	if sig, ok := r.deps.Interrupts.Classify(text); ok {
		log.Info("caller interruption detected", "kind", sig.Kind)
		if err := r.tel.SendClear(r.streamSid); err != nil && !errors.Is(err, twilio.ErrConnClosed) {
			log.Warn("clear playback failed", "error", err)
		}
		if sig.Instruction != "" {
			r.deps.Dispatcher.Dispatch("interrupt:"+sig.Kind, sig.Instruction)
		}
	}
}

func (r *Relay) applyAssessment(log *slog.Logger, a quality.Assessment) {
	if a.Issue == "" {
		return
	}
	log.Info("quality issue", "issue", string(a.Issue))
	if a.Instruction != "" {
		r.deps.Dispatcher.Dispatch("quality:"+string(a.Issue), a.Instruction)
	}
}

// safely isolates per-frame processing failures from the frame pump.
func (r *Relay) safely(log *slog.Logger, what string, fn func()) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error("frame processing panicked", "stage", what, "panic", rec)
		}
	}()
	fn()
}

// ReportInputs assembles the reporter's view of this call's pipeline state.
func (r *Relay) ReportInputs() report.Inputs {
	in := report.Inputs{
		Intents:      r.deps.Intents.Detected(),
		Instructions: r.deps.Dispatcher.Sent(),
		Quality:      r.deps.Quality.Snapshot(),
	}
	if primary, ok := r.deps.Intents.Primary(); ok {
		in.Primary = &primary
	}
	if sess, ok := r.deps.Store.Lookup(r.callSid); ok {
		in.Session = sess
	}
	if rs, ok := r.deps.Store.RetrySnapshot(r.leadID); ok {
		in.Retry = rs
	}
	return in
}

// decodedLen approximates the decoded audio size without allocating; the
// padding slack does not matter for a threshold check.
func decodedLen(payloadB64 string) int {
	return base64.StdEncoding.DecodedLen(len(payloadB64))
}
