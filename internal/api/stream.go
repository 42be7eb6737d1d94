package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"ide-sandbox/internal/alert"
)

const (
	streamBuffer    = 64
	streamHeartbeat = 15 * time.Second
)

// SSEWriter writes Server-Sent Events and flushes after each one.
type SSEWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	mu      sync.Mutex
}

// NewSSEWriter returns nil if the ResponseWriter does not support flushing.
func NewSSEWriter(w http.ResponseWriter) *SSEWriter {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil
	}
	return &SSEWriter{w: w, flusher: flusher}
}

// Event sends one event. Every line of data gets its own "data:" prefix, so
// a newline in the payload cannot end the event early.
func (s *SSEWriter) Event(event, data string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var b strings.Builder
	if event != "" {
		fmt.Fprintf(&b, "event: %s\n", event)
	}
	for _, line := range strings.Split(data, "\n") {
		fmt.Fprintf(&b, "data: %s\n", line)
	}
	b.WriteString("\n")
	if _, err := fmt.Fprint(s.w, b.String()); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// Comment sends an SSE comment line, used as a keepalive.
func (s *SSEWriter) Comment(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := fmt.Fprintf(s.w, ": %s\n\n", text); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// HandleAlertStream pushes alerts to the client as they are emitted. When
// the client falls behind, alerts are dropped rather than blocking Emit.
func (h *Handlers) HandleAlertStream(w http.ResponseWriter, r *http.Request) {
	if h.bus == nil {
		writeError(w, "alert bus unavailable", "ALERTS_UNAVAILABLE", http.StatusServiceUnavailable, r)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	sse := NewSSEWriter(w)
	if sse == nil {
		writeError(w, "streaming not supported", "STREAMING_UNSUPPORTED", http.StatusInternalServerError, r)
		return
	}

	// The server write timeout would otherwise end the stream.
	if err := http.NewResponseController(w).SetWriteDeadline(time.Time{}); err != nil {
		log.Debug().Err(err).Msg("cannot clear write deadline for alert stream")
	}

	ch := make(chan alert.Alert, streamBuffer)
	unsubscribe := h.bus.Subscribe(func(a alert.Alert) {
		select {
		case ch <- a:
		default:
			log.Warn().Str("alert_id", a.ID).Msg("alert stream client too slow, dropping alert")
		}
	})
	defer unsubscribe()

	w.WriteHeader(http.StatusOK)
	if err := sse.Comment("connected"); err != nil {
		return
	}

	heartbeat := time.NewTicker(streamHeartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			if err := sse.Comment("ping"); err != nil {
				return
			}
		case a := <-ch:
			data, err := json.Marshal(a)
			if err != nil {
				log.Error().Err(err).Str("alert_id", a.ID).Msg("failed to encode alert")
				continue
			}
			if err := sse.Event("alert", string(data)); err != nil {
				return
			}
		}
	}
}
