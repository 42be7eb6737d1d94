package monitor

import (
	"context"
	"errors"
	"testing"
)

// counterValue sums every sample of the named family in the registry.
func counterValue(t *testing.T, m *Metrics, name string) float64 {
	t.Helper()
	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	var total float64
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, metric := range f.GetMetric() {
			switch {
			case metric.GetCounter() != nil:
				total += metric.GetCounter().GetValue()
			case metric.GetGauge() != nil:
				total += metric.GetGauge().GetValue()
			case metric.GetHistogram() != nil:
				total += float64(metric.GetHistogram().GetSampleCount())
			}
		}
	}
	return total
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	m.RecordExecution("python", "run", "completed", 0.1, 10, 10)
	m.RecordError("create")
	m.SandboxStarted()
	m.SandboxFinished()
	m.RecordSyntaxFinding("python", "error")
	m.RecordSecurityFinding("eval", "critical")
	m.RecordAlert("security", "critical")
	m.SetDebugSessions(3)
}

func TestMetrics_Record(t *testing.T) {
	m := NewMetrics()

	m.RecordExecution("python", "run", "completed", 0.2, 12, 40)
	m.RecordExecution("java", "check_syntax", "failed", 1.1, 80, 0)
	m.RecordError("start")
	m.SandboxStarted()
	m.SandboxStarted()
	m.SandboxFinished()
	m.RecordSecurityFinding("eval", "critical")
	m.RecordAlert("security", "critical")
	m.RecordAlert("syntax", "info")
	m.SetDebugSessions(4)

	tests := []struct {
		name string
		want float64
	}{
		{"ide_sandbox_executions_total", 2},
		{"ide_sandbox_execution_duration_seconds", 2},
		{"ide_sandbox_execution_errors_total", 1},
		{"ide_sandbox_active_sandboxes", 1},
		{"ide_sandbox_alerts_total", 2},
		{"ide_sandbox_debug_sessions", 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := counterValue(t, m, tt.name); got != tt.want {
				t.Errorf("%s = %v, want %v", tt.name, got, tt.want)
			}
		})
	}
}

func TestTracer_SpanLifecycle(t *testing.T) {
	tr := NewTracer()
	ctx, span := tr.StartSpan(context.Background(), "sandbox.run")
	if !SpanFromContext(ctx).SpanContext().Equal(span.SpanContext()) {
		t.Error("SpanFromContext did not return the started span")
	}
	EndSpan(span, errors.New("boom"))

	var nilTracer *Tracer
	_, span = nilTracer.StartSpan(context.Background(), "noop")
	EndSpan(span, nil)
}
