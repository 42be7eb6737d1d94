package storage

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"ide-sandbox/internal/alert"
)

type fakeSink struct {
	mu       sync.Mutex
	execs    []*Execution
	alerts   []*AlertRecord
	failures int // calls to fail before succeeding
	calls    int
}

func (f *fakeSink) fail() error {
	f.calls++
	if f.failures > 0 {
		f.failures--
		return errors.New("connection refused")
	}
	return nil
}

func (f *fakeSink) LogExecution(_ context.Context, e *Execution) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail(); err != nil {
		return err
	}
	f.execs = append(f.execs, e)
	return nil
}

func (f *fakeSink) LogAlert(_ context.Context, a *AlertRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail(); err != nil {
		return err
	}
	f.alerts = append(f.alerts, a)
	return nil
}

func TestAuditWriter_WritesExecutionsAndAlerts(t *testing.T) {
	sink := &fakeSink{}
	w := NewAuditWriter(sink, 10)
	w.Start()

	w.Log(&Execution{ID: "exec-1", Status: StatusCompleted})
	w.LogAlert(alert.Alert{
		ID:        "alert-1",
		ProjectID: "proj-1",
		Type:      alert.TypeSecurity,
		Severity:  alert.SeverityCritical,
		Message:   "Security findings detected",
		Details:   map[string]any{"count": 2},
		Timestamp: time.Now(),
	})
	w.Flush(time.Second)

	if len(sink.execs) != 1 || sink.execs[0].ID != "exec-1" {
		t.Errorf("execs = %+v", sink.execs)
	}
	if len(sink.alerts) != 1 {
		t.Fatalf("got %d alerts, want 1", len(sink.alerts))
	}
	rec := sink.alerts[0]
	if rec.Type != "security" || rec.Severity != "critical" || rec.ProjectID != "proj-1" {
		t.Errorf("alert record = %+v", rec)
	}
	var details map[string]int
	if err := json.Unmarshal(rec.Details, &details); err != nil || details["count"] != 2 {
		t.Errorf("details = %s, %v", rec.Details, err)
	}
}

func TestAuditWriter_RetriesFailedWrites(t *testing.T) {
	sink := &fakeSink{failures: 2}
	w := NewAuditWriter(sink, 10)
	w.baseBackoff = time.Millisecond
	w.Start()

	w.Log(&Execution{ID: "exec-retry"})
	w.Flush(time.Second)

	if sink.calls != 3 {
		t.Errorf("calls = %d, want 3", sink.calls)
	}
	if len(sink.execs) != 1 {
		t.Errorf("got %d execs, want 1", len(sink.execs))
	}
}

func TestAuditWriter_DropsWhenFull(t *testing.T) {
	sink := &fakeSink{}
	w := NewAuditWriter(sink, 2)

	for i := 0; i < 5; i++ {
		w.Log(&Execution{ID: "exec"})
	}
	w.Start()
	w.Flush(time.Second)

	if len(sink.execs) != 2 {
		t.Errorf("got %d execs, want 2 (buffer size)", len(sink.execs))
	}
}

func TestAuditWriter_FlushTwice(t *testing.T) {
	w := NewAuditWriter(&fakeSink{}, 1)
	w.Start()
	w.Flush(time.Second)
	w.Flush(10 * time.Millisecond)
}

func TestExecution_Done(t *testing.T) {
	tests := []struct {
		status string
		want   bool
	}{
		{StatusQueued, false},
		{StatusRunning, false},
		{StatusCompleted, true},
		{StatusFailed, true},
		{StatusTimeout, true},
		{StatusError, true},
	}
	for _, tt := range tests {
		e := &Execution{Status: tt.status}
		if got := e.Done(); got != tt.want {
			t.Errorf("Done() for %s = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestTruncateForDB(t *testing.T) {
	if got := truncateForDB("abcdef", 3); got != "abc" {
		t.Errorf("truncateForDB = %q, want abc", got)
	}
	if got := truncateForDB("ab", 3); got != "ab" {
		t.Errorf("truncateForDB = %q, want ab", got)
	}
	if got := clampLimit(0); got != 100 {
		t.Errorf("clampLimit(0) = %d, want 100", got)
	}
	if got := clampLimit(5000); got != 100 {
		t.Errorf("clampLimit(5000) = %d, want 100", got)
	}
	if got := clampLimit(7); got != 7 {
		t.Errorf("clampLimit(7) = %d, want 7", got)
	}
}
