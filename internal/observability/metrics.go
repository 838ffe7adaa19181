// Package observability provides Prometheus metrics and OpenTelemetry tracing
// for the supervisor. Both are optional; a nil collector or tracer disables
// the feature with zero overhead.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// MetricsCollector holds all Prometheus metrics for RLM.
// Uses a custom registry — no global state.
type MetricsCollector struct {
	Registry *prometheus.Registry

	// LLM metrics.
	LLMRequestsTotal   *prometheus.CounterVec
	LLMRequestDuration *prometheus.HistogramVec
	LLMTokensUsed      *prometheus.CounterVec

	// Sandbox metrics.
	SandboxExecutionsTotal   *prometheus.CounterVec
	SandboxExecutionDuration *prometheus.HistogramVec

	// Egress filter metrics.
	EgressEventsTotal *prometheus.CounterVec

	// Budget metrics.
	BudgetSpentTotal *prometheus.CounterVec

	// Orchestrator metrics.
	QueriesTotal    *prometheus.CounterVec
	QueryIterations prometheus.Histogram
	ActiveQueries   prometheus.Gauge
}

// NewMetricsCollector creates a MetricsCollector with all metrics registered
// on a custom prometheus.Registry.
func NewMetricsCollector() *MetricsCollector {
	reg := prometheus.NewRegistry()

	m := &MetricsCollector{
		Registry: reg,

		LLMRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rlm",
			Subsystem: "llm",
			Name:      "requests_total",
			Help:      "Total LLM API requests.",
		}, []string{"provider", "model", "status"}),

		LLMRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "rlm",
			Subsystem: "llm",
			Name:      "request_duration_seconds",
			Help:      "LLM API request duration in seconds.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"provider", "model"}),

		LLMTokensUsed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rlm",
			Subsystem: "llm",
			Name:      "tokens_used_total",
			Help:      "Total LLM tokens consumed.",
		}, []string{"provider", "model", "direction"}),

		SandboxExecutionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rlm",
			Subsystem: "sandbox",
			Name:      "executions_total",
			Help:      "Total sandbox executions.",
		}, []string{"status"}),

		SandboxExecutionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "rlm",
			Subsystem: "sandbox",
			Name:      "execution_duration_seconds",
			Help:      "Sandbox execution duration in seconds.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"status"}),

		EgressEventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rlm",
			Subsystem: "egress",
			Name:      "events_total",
			Help:      "Total egress filter events by kind.",
		}, []string{"kind"}),

		BudgetSpentTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rlm",
			Subsystem: "budget",
			Name:      "spent_usd_total",
			Help:      "Cumulative LLM spend in USD.",
		}, []string{"model"}),

		QueriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rlm",
			Subsystem: "orchestrator",
			Name:      "queries_total",
			Help:      "Total orchestrated queries.",
		}, []string{"outcome"}),

		QueryIterations: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "rlm",
			Subsystem: "orchestrator",
			Name:      "query_iterations",
			Help:      "Iterations per query.",
			Buckets:   []float64{1, 2, 3, 5, 8, 10, 15, 20},
		}),

		ActiveQueries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "rlm",
			Subsystem: "orchestrator",
			Name:      "active_queries",
			Help:      "Queries currently in flight.",
		}),
	}

	reg.MustRegister(
		m.LLMRequestsTotal,
		m.LLMRequestDuration,
		m.LLMTokensUsed,
		m.SandboxExecutionsTotal,
		m.SandboxExecutionDuration,
		m.EgressEventsTotal,
		m.BudgetSpentTotal,
		m.QueriesTotal,
		m.QueryIterations,
		m.ActiveQueries,
	)
	return m
}

// SandboxStatus maps an execution outcome to a metric label.
func SandboxStatus(success, timedOut, oomKilled bool) string {
	switch {
	case oomKilled:
		return "oom_killed"
	case timedOut:
		return "timed_out"
	case success:
		return "success"
	default:
		return "error"
	}
}
