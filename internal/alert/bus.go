// Package alert is an in-process fan-out notifier with a bounded history.
package alert

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

type Type string

const (
	TypeSyntax   Type = "syntax"
	TypeSecurity Type = "security"
)

type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// DefaultCapacity is the history size used when none is configured.
const DefaultCapacity = 100

// Alert is an immutable notification. Details is shared with subscribers
// and must not be modified after Emit.
type Alert struct {
	ID        string         `json:"id"`
	ProjectID string         `json:"project_id,omitempty"`
	Type      Type           `json:"type"`
	Severity  Severity       `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Subscriber receives every alert emitted after it subscribed.
type Subscriber func(Alert)

type subscription struct {
	id uint64
	fn Subscriber
}

// Bus keeps the last N alerts and calls subscribers synchronously on Emit.
type Bus struct {
	mu       sync.Mutex
	history  []Alert
	next     int
	full     bool
	subs     []subscription
	nextSub  uint64
	capacity int
}

func NewBus(capacity int) *Bus {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	return &Bus{
		history:  make([]Alert, capacity),
		capacity: capacity,
	}
}

// Emit records an alert and delivers it to every current subscriber. A
// subscriber that panics is logged and skipped; Emit itself never fails.
func (b *Bus) Emit(typ Type, sev Severity, message string, details map[string]any, projectID string) Alert {
	a := Alert{
		ID:        uuid.New().String(),
		ProjectID: projectID,
		Type:      typ,
		Severity:  sev,
		Message:   message,
		Details:   details,
		Timestamp: time.Now().UTC(),
	}

	b.mu.Lock()
	b.history[b.next] = a
	b.next = (b.next + 1) % b.capacity
	if b.next == 0 {
		b.full = true
	}
	subs := make([]subscription, len(b.subs))
	copy(subs, b.subs)
	b.mu.Unlock()

	for _, s := range subs {
		deliver(s, a)
	}
	return a
}

func deliver(s subscription, a Alert) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Interface("panic", r).
				Uint64("subscriber", s.id).
				Str("alert_id", a.ID).
				Msg("alert subscriber panicked")
		}
	}()
	s.fn(a)
}

// Subscribe registers fn and returns a function that removes it. The
// returned function is safe to call more than once.
func (b *Bus) Subscribe(fn Subscriber) (unsubscribe func()) {
	b.mu.Lock()
	b.nextSub++
	id := b.nextSub
	b.subs = append(b.subs, subscription{id: id, fn: fn})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			for i, s := range b.subs {
				if s.id == id {
					b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
					return
				}
			}
		})
	}
}

// Recent returns a copy of the retained alerts, oldest first.
func (b *Bus) Recent() []Alert {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.full {
		out := make([]Alert, b.next)
		copy(out, b.history[:b.next])
		return out
	}
	out := make([]Alert, 0, b.capacity)
	out = append(out, b.history[b.next:]...)
	out = append(out, b.history[:b.next]...)
	return out
}

// Capacity returns the maximum number of retained alerts.
func (b *Bus) Capacity() int {
	return b.capacity
}
