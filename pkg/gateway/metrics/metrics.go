// Package metrics exposes the caller's Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles every collector the call pipeline increments.
type Metrics struct {
	registry *prometheus.Registry

	CallsStarted     prometheus.Counter
	CallsActive      prometheus.Gauge
	CallsFinished    *prometheus.CounterVec
	IntentsDetected  *prometheus.CounterVec
	QualityIssues    *prometheus.CounterVec
	RetriesRequested *prometheus.CounterVec
	ReportsDelivered *prometheus.CounterVec
	InstructionsSent *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.CallsStarted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "caller_calls_started_total",
		Help: "Outbound calls placed.",
	})
	m.CallsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "caller_calls_active",
		Help: "Media streams currently relaying.",
	})
	m.CallsFinished = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "caller_calls_finished_total",
		Help: "Calls reaching a terminal status.",
	}, []string{"status"})
	m.IntentsDetected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "caller_intents_detected_total",
		Help: "Primary intent transitions by intent name.",
	}, []string{"intent"})
	m.QualityIssues = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "caller_quality_issues_total",
		Help: "Audio quality issues raised by type.",
	}, []string{"issue"})
	m.RetriesRequested = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "caller_retries_requested_total",
		Help: "Retry scheduling outcomes.",
	}, []string{"result"})
	m.ReportsDelivered = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "caller_reports_delivered_total",
		Help: "Webhook report delivery outcomes.",
	}, []string{"result"})
	m.InstructionsSent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "caller_instructions_sent_total",
		Help: "Live agent instructions dispatched by kind.",
	}, []string{"kind"})

	m.registry.MustRegister(
		m.CallsStarted,
		m.CallsActive,
		m.CallsFinished,
		m.IntentsDetected,
		m.QualityIssues,
		m.RetriesRequested,
		m.ReportsDelivered,
		m.InstructionsSent,
	)
	return m
}

// Handler serves the /metrics endpoint off the private registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
