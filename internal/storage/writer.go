package storage

import (
	"context"
	"encoding/json"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"ide-sandbox/internal/alert"
)

// Sink persists audit records. *DB implements it.
type Sink interface {
	LogExecution(ctx context.Context, exec *Execution) error
	LogAlert(ctx context.Context, a *AlertRecord) error
}

// entry holds exactly one of its fields.
type entry struct {
	exec  *Execution
	alert *AlertRecord
}

func (e entry) id() string {
	if e.exec != nil {
		return e.exec.ID
	}
	return e.alert.ID
}

// AuditWriter writes records in the background so request paths never wait
// on the database. Records are dropped when the buffer is full.
type AuditWriter struct {
	sink Sink
	ch   chan entry
	wg   sync.WaitGroup
	done chan struct{}
	once sync.Once

	baseBackoff time.Duration
}

func NewAuditWriter(sink Sink, bufferSize int) *AuditWriter {
	if bufferSize < 1 {
		bufferSize = 10000
	}
	return &AuditWriter{
		sink:        sink,
		ch:          make(chan entry, bufferSize),
		done:        make(chan struct{}),
		baseBackoff: 100 * time.Millisecond,
	}
}

func (w *AuditWriter) Start() {
	w.wg.Add(1)
	go w.processLoop()
}

// Log queues an execution record. The record must not be modified after.
func (w *AuditWriter) Log(exec *Execution) {
	w.enqueue(entry{exec: exec})
}

// LogAlert queues an alert. It has the alert.Subscriber signature.
func (w *AuditWriter) LogAlert(a alert.Alert) {
	rec := &AlertRecord{
		ID:        a.ID,
		ProjectID: a.ProjectID,
		Type:      string(a.Type),
		Severity:  string(a.Severity),
		Message:   a.Message,
		CreatedAt: a.Timestamp,
	}
	if len(a.Details) > 0 {
		details, err := json.Marshal(a.Details)
		if err != nil {
			log.Warn().Err(err).Str("alert_id", a.ID).Msg("alert details not serializable, storing without them")
		} else {
			rec.Details = details
		}
	}
	w.enqueue(entry{alert: rec})
}

func (w *AuditWriter) enqueue(e entry) {
	select {
	case w.ch <- e:
	default:
		log.Warn().Str("record_id", e.id()).Msg("audit buffer full, dropping log entry")
	}
}

// Flush stops the writer after draining queued records, waiting at most
// timeout.
func (w *AuditWriter) Flush(timeout time.Duration) {
	w.once.Do(func() { close(w.done) })

	doneCh := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(doneCh)
	}()

	select {
	case <-doneCh:
		log.Info().Msg("audit writer flushed")
	case <-time.After(timeout):
		log.Warn().Msg("audit writer flush timed out")
	}
}

func (w *AuditWriter) processLoop() {
	defer w.wg.Done()

	for {
		select {
		case e := <-w.ch:
			w.writeWithRetry(e)
		case <-w.done:
			// Drain remaining entries
			for {
				select {
				case e := <-w.ch:
					w.writeWithRetry(e)
				default:
					return
				}
			}
		}
	}
}

func (w *AuditWriter) write(ctx context.Context, e entry) error {
	if e.exec != nil {
		return w.sink.LogExecution(ctx, e.exec)
	}
	return w.sink.LogAlert(ctx, e.alert)
}

func (w *AuditWriter) writeWithRetry(e entry) {
	const maxRetries = 3

	for attempt := 0; attempt <= maxRetries; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := w.write(ctx, e)
		cancel()

		if err == nil {
			return
		}

		if attempt < maxRetries {
			backoff := time.Duration(math.Pow(2, float64(attempt))) * w.baseBackoff
			log.Warn().
				Err(err).
				Str("record_id", e.id()).
				Int("attempt", attempt+1).
				Dur("backoff", backoff).
				Msg("audit write failed, retrying")
			time.Sleep(backoff)
		} else {
			log.Error().
				Err(err).
				Str("record_id", e.id()).
				Msg("audit write failed permanently after retries")
		}
	}
}
