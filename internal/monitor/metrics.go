package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics for the engine. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	Registry *prometheus.Registry

	ExecutionsTotal   *prometheus.CounterVec
	ExecutionDuration *prometheus.HistogramVec
	ExecutionErrors   *prometheus.CounterVec
	ActiveSandboxes   prometheus.Gauge
	SyntaxFindings    *prometheus.CounterVec
	SecurityFindings  *prometheus.CounterVec
	AlertsTotal       *prometheus.CounterVec
	DebugSessions     prometheus.Gauge
	RequestsInFlight  prometheus.Gauge
	CodeSizeBytes     prometheus.Histogram
	OutputSizeBytes   prometheus.Histogram
}

// NewMetrics creates and registers all Prometheus metrics using a dedicated registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,

		ExecutionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "ide_sandbox",
				Name:      "executions_total",
				Help:      "Total number of sandbox executions by language, kind and status.",
			},
			[]string{"language", "kind", "status"},
		),

		ExecutionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "ide_sandbox",
				Name:      "execution_duration_seconds",
				Help:      "Duration of sandbox executions in seconds.",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 8, 12, 20, 30},
			},
			[]string{"language", "kind"},
		),

		ExecutionErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "ide_sandbox",
				Name:      "execution_errors_total",
				Help:      "Container runtime failures by operation.",
			},
			[]string{"op"},
		),

		ActiveSandboxes: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "ide_sandbox",
				Name:      "active_sandboxes",
				Help:      "Number of sandbox containers currently alive.",
			},
		),

		SyntaxFindings: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "ide_sandbox",
				Subsystem: "analyzer",
				Name:      "syntax_findings_total",
				Help:      "Syntax findings by language and severity.",
			},
			[]string{"language", "severity"},
		),

		SecurityFindings: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "ide_sandbox",
				Subsystem: "analyzer",
				Name:      "security_findings_total",
				Help:      "Security rule matches by rule and severity.",
			},
			[]string{"rule", "severity"},
		),

		AlertsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "ide_sandbox",
				Name:      "alerts_total",
				Help:      "Alerts emitted on the alert bus.",
			},
			[]string{"type", "severity"},
		),

		DebugSessions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "ide_sandbox",
				Subsystem: "debug",
				Name:      "sessions",
				Help:      "Number of debug sessions held in memory.",
			},
		),

		RequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "ide_sandbox",
				Subsystem: "api",
				Name:      "requests_in_flight",
				Help:      "Number of HTTP requests currently being processed.",
			},
		),

		CodeSizeBytes: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "ide_sandbox",
				Name:      "code_size_bytes",
				Help:      "Size of submitted project sources in bytes.",
				Buckets:   prometheus.ExponentialBuckets(100, 4, 8),
			},
		),

		OutputSizeBytes: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "ide_sandbox",
				Name:      "output_size_bytes",
				Help:      "Size of captured stdout plus stderr in bytes.",
				Buckets:   prometheus.ExponentialBuckets(10, 4, 8),
			},
		),
	}

	reg.MustRegister(
		m.ExecutionsTotal,
		m.ExecutionDuration,
		m.ExecutionErrors,
		m.ActiveSandboxes,
		m.SyntaxFindings,
		m.SecurityFindings,
		m.AlertsTotal,
		m.DebugSessions,
		m.RequestsInFlight,
		m.CodeSizeBytes,
		m.OutputSizeBytes,
	)

	return m
}

// RecordExecution records metrics for a finished run or syntax check.
func (m *Metrics) RecordExecution(language, kind, status string, durationSec float64, codeBytes, outputBytes int) {
	if m == nil {
		return
	}
	m.ExecutionsTotal.WithLabelValues(language, kind, status).Inc()
	m.ExecutionDuration.WithLabelValues(language, kind).Observe(durationSec)
	m.CodeSizeBytes.Observe(float64(codeBytes))
	m.OutputSizeBytes.Observe(float64(outputBytes))
}

// RecordError records a container runtime failure by operation.
func (m *Metrics) RecordError(op string) {
	if m == nil {
		return
	}
	m.ExecutionErrors.WithLabelValues(op).Inc()
}

func (m *Metrics) SandboxStarted() {
	if m == nil {
		return
	}
	m.ActiveSandboxes.Inc()
}

func (m *Metrics) SandboxFinished() {
	if m == nil {
		return
	}
	m.ActiveSandboxes.Dec()
}

func (m *Metrics) RecordSyntaxFinding(language, severity string) {
	if m == nil {
		return
	}
	m.SyntaxFindings.WithLabelValues(language, severity).Inc()
}

func (m *Metrics) RecordSecurityFinding(rule, severity string) {
	if m == nil {
		return
	}
	m.SecurityFindings.WithLabelValues(rule, severity).Inc()
}

func (m *Metrics) RecordAlert(typ, severity string) {
	if m == nil {
		return
	}
	m.AlertsTotal.WithLabelValues(typ, severity).Inc()
}

// SetDebugSessions reports the current session table size.
func (m *Metrics) SetDebugSessions(n int) {
	if m == nil {
		return
	}
	m.DebugSessions.Set(float64(n))
}
