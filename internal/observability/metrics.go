// Package observability provides Prometheus metrics and OpenTelemetry
// tracing for Taskmate.
package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every collector Taskmate exports. A nil *Metrics is
// valid and records nothing, which keeps tests free of registries.
type Metrics struct {
	registry *prometheus.Registry

	// ToolCalls counts tool executions. Labels: tool, status (success|error).
	ToolCalls *prometheus.CounterVec

	// ToolDuration measures tool execution time. Labels: tool.
	ToolDuration *prometheus.HistogramVec

	// ChatTurns counts chat turns. Labels: outcome (completed|failed|rejected).
	ChatTurns *prometheus.CounterVec

	// LLMRequests counts model attempts. Labels: provider, outcome
	// (success|retry|error).
	LLMRequests *prometheus.CounterVec

	// HTTPRequests counts API requests. Labels: method, route, code.
	HTTPRequests *prometheus.CounterVec

	// DependencyUp is 1 while a watched service answers its probe.
	// Labels: service.
	DependencyUp *prometheus.GaugeVec
}

// NewMetrics registers the collectors on reg. A nil reg gets a fresh
// registry that also carries the Go runtime and process collectors.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		ToolCalls: f.NewCounterVec(prometheus.CounterOpts{
			Name: "taskmate_tool_calls_total",
			Help: "Tool executions by tool and status.",
		}, []string{"tool", "status"}),
		ToolDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "taskmate_tool_duration_seconds",
			Help:    "Tool execution time in seconds.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"tool"}),
		ChatTurns: f.NewCounterVec(prometheus.CounterOpts{
			Name: "taskmate_chat_turns_total",
			Help: "Chat turns by outcome.",
		}, []string{"outcome"}),
		LLMRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "taskmate_llm_requests_total",
			Help: "Model request attempts by provider and outcome.",
		}, []string{"provider", "outcome"}),
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "taskmate_http_requests_total",
			Help: "HTTP API requests by method, route and status code.",
		}, []string{"method", "route", "code"}),
		DependencyUp: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "taskmate_dependency_up",
			Help: "Whether a dependency answered its last probe (1) or not (0).",
		}, []string{"service"}),
	}
}

// ObserveTool records one tool execution.
func (m *Metrics) ObserveTool(tool, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.ToolCalls.WithLabelValues(tool, status).Inc()
	m.ToolDuration.WithLabelValues(tool).Observe(d.Seconds())
}

// ObserveChatTurn records the outcome of one chat turn.
func (m *Metrics) ObserveChatTurn(outcome string) {
	if m == nil {
		return
	}
	m.ChatTurns.WithLabelValues(outcome).Inc()
}

// ObserveLLM records one model attempt. Its signature matches
// llm.WithObserver.
func (m *Metrics) ObserveLLM(provider, outcome string) {
	if m == nil {
		return
	}
	m.LLMRequests.WithLabelValues(provider, outcome).Inc()
}

// ObserveHTTP records one API request.
func (m *Metrics) ObserveHTTP(method, route string, code int) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
}

// ObserveDependency records a readiness change. Its signature matches
// connwatch.Service.OnChange.
func (m *Metrics) ObserveDependency(service string, up bool) {
	if m == nil {
		return
	}
	v := 0.0
	if up {
		v = 1
	}
	m.DependencyUp.WithLabelValues(service).Set(v)
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
