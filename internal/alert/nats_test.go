package alert

import (
	"encoding/json"
	"errors"
	"testing"
)

type recordingPublisher struct {
	subjects []string
	payloads [][]byte
	err      error
}

func (r *recordingPublisher) Publish(subject string, data []byte) error {
	r.subjects = append(r.subjects, subject)
	r.payloads = append(r.payloads, data)
	return r.err
}

func TestNATSPublisher_Subject(t *testing.T) {
	tests := []struct {
		prefix string
		alert  Alert
		want   string
	}{
		{"", Alert{Type: TypeSecurity, Severity: SeverityCritical}, "ide-sandbox.alerts.security.critical"},
		{"ide.prod", Alert{Type: TypeSyntax, Severity: SeverityInfo}, "ide.prod.syntax.info"},
	}
	for _, tt := range tests {
		p := NewNATSPublisher(&recordingPublisher{}, tt.prefix)
		if got := p.Subject(tt.alert); got != tt.want {
			t.Errorf("Subject() = %q, want %q", got, tt.want)
		}
	}
}

func TestNATSPublisher_ForwardsBusAlerts(t *testing.T) {
	rec := &recordingPublisher{}
	bus := NewBus(10)
	bus.Subscribe(NewNATSPublisher(rec, "").Publish)

	emitted := bus.Emit(TypeSecurity, SeverityWarning, "Security findings detected", map[string]any{"count": 1}, "proj-1")

	if len(rec.subjects) != 1 {
		t.Fatalf("published %d messages, want 1", len(rec.subjects))
	}
	if rec.subjects[0] != "ide-sandbox.alerts.security.warning" {
		t.Errorf("subject = %q", rec.subjects[0])
	}
	var got Alert
	if err := json.Unmarshal(rec.payloads[0], &got); err != nil {
		t.Fatalf("payload is not an alert: %v", err)
	}
	if got.ID != emitted.ID || got.ProjectID != "proj-1" || got.Message != emitted.Message {
		t.Errorf("payload = %+v, want %+v", got, emitted)
	}
}

func TestNATSPublisher_PublishErrorDoesNotPanic(t *testing.T) {
	rec := &recordingPublisher{err: errors.New("nats: connection closed")}
	bus := NewBus(10)
	bus.Subscribe(NewNATSPublisher(rec, "").Publish)

	bus.Emit(TypeSyntax, SeverityInfo, "Syntax issues detected", nil, "")
	if len(bus.Recent()) != 1 {
		t.Errorf("Recent() has %d alerts, want 1", len(bus.Recent()))
	}
}
