// Package server wires the call pipelines behind the HTTP surface.
package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/pranitl/elevenlabs-twilio-ai-caller-sub002/pkg/call/intent"
	"github.com/pranitl/elevenlabs-twilio-ai-caller-sub002/pkg/call/relay"
	"github.com/pranitl/elevenlabs-twilio-ai-caller-sub002/pkg/call/report"
	"github.com/pranitl/elevenlabs-twilio-ai-caller-sub002/pkg/call/retry"
	"github.com/pranitl/elevenlabs-twilio-ai-caller-sub002/pkg/call/session"
	"github.com/pranitl/elevenlabs-twilio-ai-caller-sub002/pkg/eleven"
	"github.com/pranitl/elevenlabs-twilio-ai-caller-sub002/pkg/gateway/config"
	"github.com/pranitl/elevenlabs-twilio-ai-caller-sub002/pkg/gateway/handlers"
	"github.com/pranitl/elevenlabs-twilio-ai-caller-sub002/pkg/gateway/lifecycle"
	"github.com/pranitl/elevenlabs-twilio-ai-caller-sub002/pkg/gateway/metrics"
	"github.com/pranitl/elevenlabs-twilio-ai-caller-sub002/pkg/gateway/mw"
	"github.com/pranitl/elevenlabs-twilio-ai-caller-sub002/pkg/twilio"
)

type Server struct {
	cfg    config.Config
	logger *slog.Logger
	mux    *http.ServeMux

	store     *session.Store
	lifecycle *lifecycle.Lifecycle
	metrics   *metrics.Metrics
	channel   retry.Channel
}

// New assembles the full pipeline. The MQTT channel is optional; without a
// broker the retry scheduler redials directly.
func New(cfg config.Config, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}

	catalog, err := cfg.Catalog()
	if err != nil {
		return nil, err
	}

	var channel retry.Channel
	if cfg.MQTTBroker != "" {
		ch, err := retry.NewMQTTChannel(retry.MQTTOptions{
			Broker:   cfg.MQTTBroker,
			ClientID: cfg.MQTTClientID,
			Topic:    cfg.MQTTTopic,
			QoS:      byte(cfg.MQTTQoS),
		})
		if err != nil {
			return nil, err
		}
		channel = ch
	}

	s := &Server{
		cfg:       cfg,
		logger:    logger,
		mux:       http.NewServeMux(),
		store:     session.NewStore(cfg.MaxRetries, nil),
		lifecycle: &lifecycle.Lifecycle{},
		metrics:   metrics.New(),
		channel:   channel,
	}

	dialer := &twilio.RESTDialer{
		AccountSid:        cfg.TwilioAccountSid,
		AuthToken:         cfg.TwilioAuthToken,
		CallerID:          cfg.TwilioCallerID,
		TwiMLURL:          cfg.TwiMLURL(),
		StatusCallbackURL: cfg.StatusCallbackURL(),
		AMDCallbackURL:    cfg.AMDCallbackURL(),
	}
	elevenREST := &eleven.RESTClient{
		APIKey:  cfg.ElevenAPIKey,
		AgentID: cfg.ElevenAgentID,
	}

	scheduler := retry.NewScheduler(s.store, channel, dialer,
		retry.SchedulerConfig{DirectRedialDelay: cfg.RetryDelay}, logger)
	reporter := report.NewReporter(report.ReporterConfig{
		URL:         cfg.WebhookURL,
		MaxAttempts: cfg.WebhookMaxAttempts,
		BaseDelay:   cfg.WebhookBaseDelay,
	}, nil, logger)

	coordinator := &handlers.Coordinator{
		Store:         s.store,
		Scheduler:     scheduler,
		Reporter:      reporter,
		Conversations: elevenREST,
		Metrics:       s.metrics,
		Log:           logger,
	}

	s.routes(coordinator, dialer, elevenREST, catalog)
	return s, nil
}

func (s *Server) routes(coordinator *handlers.Coordinator, dialer twilio.Dialer, elevenREST *eleven.RESTClient, catalog intent.Catalog) {
	s.mux.Handle("/healthz", handlers.HealthHandler{})
	s.mux.Handle("/readyz", handlers.ReadyHandler{Lifecycle: s.lifecycle, Store: s.store})
	s.mux.Handle("/metrics", s.metrics.Handler())

	s.mux.Handle("/calls", handlers.CallsHandler{
		Coordinator: coordinator,
		Dialer:      dialer,
		Logger:      s.logger,
	})
	s.mux.Handle("/twiml", handlers.TwiMLHandler{StreamURL: s.cfg.StreamURL()})
	s.mux.Handle("/call-status", handlers.StatusHandler{Coordinator: coordinator, Logger: s.logger})
	s.mux.Handle("/amd-status", handlers.AMDHandler{Coordinator: coordinator, Logger: s.logger})

	s.mux.Handle("/media-stream", handlers.StreamHandler{
		Coordinator: coordinator,
		Store:       s.store,
		Lifecycle:   s.lifecycle,
		Metrics:     s.metrics,
		Logger:      s.logger,
		Catalog:     catalog,
		RelayConfig: relay.Config{
			MinAIFrameBytes:      s.cfg.MinAIFrameBytes,
			QualityCheckInterval: s.cfg.QualityCheckInterval,
			Prompt:               s.cfg.AgentPrompt,
			FirstMessage:         s.cfg.AgentFirstMessage,
		},
		SignedURLs: elevenREST,
		ElevenConfig: eleven.ConnConfig{
			APIKey:  s.cfg.ElevenAPIKey,
			AgentID: s.cfg.ElevenAgentID,
		},
	})
}

// Handler returns the middleware-wrapped HTTP surface.
func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = mw.Recover(s.logger, h)
	h = mw.AccessLog(s.logger, h)
	h = mw.RequestID(h)
	return h
}

// SetDraining flips readiness so the load balancer stops routing here.
func (s *Server) SetDraining() {
	s.lifecycle.SetDraining(true)
}

// ActiveCalls reports live relays, used when logging drain progress.
func (s *Server) ActiveCalls() int {
	return s.store.ActiveCalls()
}

// WaitCalls blocks until live calls end or ctx expires.
func (s *Server) WaitCalls(ctx context.Context) bool {
	return s.store.Wait(ctx)
}

// CancelCalls tears down every live call during forced shutdown.
func (s *Server) CancelCalls() int {
	return s.store.CancelAll()
}

// Close releases long-lived resources.
func (s *Server) Close() {
	if c, ok := s.channel.(*retry.MQTTChannel); ok && c != nil {
		_ = c.Close()
	}
}
