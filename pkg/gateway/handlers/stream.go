package handlers

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/pranitl/elevenlabs-twilio-ai-caller-sub002/pkg/call/dispatch"
	"github.com/pranitl/elevenlabs-twilio-ai-caller-sub002/pkg/call/intent"
	"github.com/pranitl/elevenlabs-twilio-ai-caller-sub002/pkg/call/interrupt"
	"github.com/pranitl/elevenlabs-twilio-ai-caller-sub002/pkg/call/quality"
	"github.com/pranitl/elevenlabs-twilio-ai-caller-sub002/pkg/call/relay"
	"github.com/pranitl/elevenlabs-twilio-ai-caller-sub002/pkg/call/session"
	"github.com/pranitl/elevenlabs-twilio-ai-caller-sub002/pkg/eleven"
	"github.com/pranitl/elevenlabs-twilio-ai-caller-sub002/pkg/gateway/lifecycle"
	"github.com/pranitl/elevenlabs-twilio-ai-caller-sub002/pkg/gateway/metrics"
	"github.com/pranitl/elevenlabs-twilio-ai-caller-sub002/pkg/twilio"
)

var streamUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The vendor dials from its own infrastructure; origin checks do not
	// apply to server-to-server websockets.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// StreamHandler upgrades the vendor's media-stream websocket and runs one
// relay per call.
type StreamHandler struct {
	Coordinator *Coordinator
	Store       *session.Store
	Lifecycle   *lifecycle.Lifecycle
	Metrics     *metrics.Metrics
	Logger      *slog.Logger

	Catalog     intent.Catalog
	RelayConfig relay.Config

	// SignedURLs issues pre-authorized AI-leg URLs; ElevenConfig is the
	// direct-dial fallback.
	SignedURLs   eleven.SignedURLIssuer
	ElevenConfig eleven.ConnConfig
}

func (h StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.Lifecycle.IsDraining() {
		http.Error(w, "draining", http.StatusServiceUnavailable)
		return
	}

	ws, err := streamUpgrader.Upgrade(w, r, nil)
	if err != nil {
		h.Logger.Warn("stream upgrade failed", "error", err)
		return
	}
	tel := twilio.NewStreamConn(ws)

	aiCfg := h.ElevenConfig
	if h.SignedURLs != nil {
		if signed, err := h.SignedURLs.SignedURL(r.Context()); err == nil {
			aiCfg.SignedURL = signed
		} else {
			h.Logger.Warn("signed url fetch failed, dialing directly", "error", err)
		}
	}
	ai, err := eleven.Dial(r.Context(), aiCfg)
	if err != nil {
		h.Logger.Error("ai leg dial failed", "error", err)
		tel.Close()
		return
	}

	intents := intent.NewClassifier(h.Catalog, intent.Config{}, nil)
	monitor := quality.NewMonitor(quality.Config{}, nil)
	dispatcher := dispatch.New(ai, h.Logger, nil)

	rl := relay.New(tel, ai, relay.Deps{
		Store:      h.Store,
		Intents:    intents,
		Interrupts: interrupt.NewPatternClassifier(nil),
		Quality:    monitor,
		Dispatcher: dispatcher,
		Log:        h.Logger,
	}, h.RelayConfig)

	if h.Metrics != nil {
		h.Metrics.CallsActive.Inc()
		defer h.Metrics.CallsActive.Dec()
	}
	if err := rl.Run(r.Context()); err != nil {
		h.Logger.Warn("relay ended with error", "call_sid", rl.CallSid(), "error", err)
	}

	inputs := rl.ReportInputs()
	if h.Metrics != nil {
		for _, d := range inputs.Intents {
			h.Metrics.IntentsDetected.WithLabelValues(d.Name).Inc()
		}
		for _, issue := range inputs.Quality.Issues {
			h.Metrics.QualityIssues.WithLabelValues(string(issue.Issue)).Inc()
		}
		for _, rec := range inputs.Instructions {
			kind, _, _ := strings.Cut(rec.Key, ":")
			h.Metrics.InstructionsSent.WithLabelValues(kind).Inc()
		}
	}
	h.Coordinator.StreamEnded(rl.CallSid(), inputs)
}
