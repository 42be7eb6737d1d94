package api

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"ide-sandbox/internal/alert"
	"ide-sandbox/internal/analyzer"
	"ide-sandbox/internal/debug"
	"ide-sandbox/internal/monitor"
	"ide-sandbox/internal/project"
	"ide-sandbox/internal/runtime"
	"ide-sandbox/internal/sandbox"
	"ide-sandbox/internal/storage"
	"ide-sandbox/internal/workspace"
)

// Executor runs projects in sandboxes. *sandbox.Runner implements it.
type Executor interface {
	Run(ctx context.Context, p *project.Project, executionID string) (*sandbox.Result, error)
	Ping(ctx context.Context) error
	Backend() string
	ActiveCount() int64
}

// ExecutionStore reads the audit log. *storage.DB implements it.
type ExecutionStore interface {
	GetExecution(ctx context.Context, id string) (*storage.Execution, error)
	ListExecutions(ctx context.Context, filter storage.ExecutionFilter) ([]storage.Execution, error)
	ListAlerts(ctx context.Context, limit int) ([]storage.AlertRecord, error)
	Healthy(ctx context.Context) bool
}

// Deps are the components the handlers serve. Store, Audit and Limiter
// are optional.
type Deps struct {
	Runner   Executor
	Analyzer *analyzer.Analyzer
	Debug    *debug.Manager
	Bus      *alert.Bus
	Runtimes *runtime.Registry
	Store    ExecutionStore
	Audit    *storage.AuditWriter
	Metrics  *monitor.Metrics
	Limiter  *Limiter
}

type Handlers struct {
	runner   Executor
	analyzer *analyzer.Analyzer
	debug    *debug.Manager
	bus      *alert.Bus
	runtimes *runtime.Registry
	store    ExecutionStore
	audit    *storage.AuditWriter
	metrics  *monitor.Metrics
	limiter  *Limiter
	tracker  *Tracker

	jobs       sync.WaitGroup
	jobsCtx    context.Context
	cancelJobs context.CancelFunc
}

func NewHandlers(d Deps) *Handlers {
	if d.Runtimes == nil {
		d.Runtimes = runtime.NewRegistry()
	}
	if d.Debug == nil {
		d.Debug = debug.NewManager(nil, d.Runtimes, d.Metrics)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Handlers{
		runner:     d.Runner,
		analyzer:   d.Analyzer,
		debug:      d.Debug,
		bus:        d.Bus,
		runtimes:   d.Runtimes,
		store:      d.Store,
		audit:      d.Audit,
		metrics:    d.Metrics,
		limiter:    d.Limiter,
		tracker:    NewTracker(defaultRetention),
		jobsCtx:    ctx,
		cancelJobs: cancel,
	}
}

// Wait blocks until background executions finish or ctx ends, in which
// case the remaining executions are cancelled.
func (h *Handlers) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		h.jobs.Wait()
		close(done)
	}()
	select {
	case <-done:
		h.cancelJobs()
		return nil
	case <-ctx.Done():
		h.cancelJobs()
		<-done
		return ctx.Err()
	}
}

func (h *Handlers) HandleExecute(w http.ResponseWriter, r *http.Request) {
	var req ExecuteRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	p, execID, ok := h.prepareExecution(w, r, &req)
	if !ok {
		return
	}

	rec := newExecution(execID, p, r)
	rec.Status = storage.StatusRunning
	if !h.claimExecution(w, r, rec) {
		return
	}

	res, err := h.runner.Run(r.Context(), p, execID)
	if err != nil && isClientError(err) {
		h.tracker.Delete(execID)
		h.writeEngineError(w, r, err)
		return
	}
	finishExecution(rec, res, err)
	h.tracker.Put(rec)
	h.logAudit(rec)

	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newExecutionResponse(rec))
}

// HandleSubmitExecution queues a run and returns immediately. The caller
// polls GET /executions/{id}.
func (h *Handlers) HandleSubmitExecution(w http.ResponseWriter, r *http.Request) {
	var req ExecuteRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	p, execID, ok := h.prepareExecution(w, r, &req)
	if !ok {
		return
	}
	if !h.limiter.TryAcquire() {
		h.writeEngineError(w, r, ErrConcurrencyLimited)
		return
	}

	rec := newExecution(execID, p, r)
	if !h.claimExecution(w, r, rec) {
		h.limiter.Release()
		return
	}
	h.logAudit(rec)
	resp := newExecutionResponse(rec)

	// rec belongs to the goroutine from here on.
	h.jobs.Add(1)
	go func() {
		defer h.jobs.Done()
		defer h.limiter.Release()
		h.runAsync(rec, p)
	}()

	w.Header().Set("Location", "/executions/"+execID)
	writeJSON(w, http.StatusAccepted, resp)
}

func (h *Handlers) runAsync(rec *storage.Execution, p *project.Project) {
	h.tracker.Update(rec.ID, func(e *storage.Execution) { e.Status = storage.StatusRunning })

	res, err := h.runner.Run(h.jobsCtx, p, rec.ID)
	if err != nil {
		log.Error().Err(err).Str("exec_id", rec.ID).Msg("background execution failed")
	}
	finishExecution(rec, res, err)
	h.tracker.Put(rec)
	h.logAudit(rec)

	if n := h.tracker.Prune(time.Now()); n > 0 {
		log.Debug().Int("removed", n).Msg("pruned finished executions")
	}
}

// prepareExecution validates a run request and writes the error response
// when it is rejected.
func (h *Handlers) prepareExecution(w http.ResponseWriter, r *http.Request, req *ExecuteRequest) (*project.Project, string, bool) {
	p, err := req.Project(h.runtimes)
	if err != nil {
		h.writeEngineError(w, r, err)
		return nil, "", false
	}
	if h.runner == nil {
		writeError(w, "sandbox backend unavailable", "RUNNER_UNAVAILABLE", http.StatusServiceUnavailable, r)
		return nil, "", false
	}

	execID := req.ExecutionID
	if execID == "" {
		execID = uuid.New().String()
	}
	if err := workspace.ValidateExecutionID(execID); err != nil {
		h.writeEngineError(w, r, err)
		return nil, "", false
	}
	return p, execID, true
}

// claimExecution registers rec unless an unfinished execution already holds
// its id, in which case it answers 409.
func (h *Handlers) claimExecution(w http.ResponseWriter, r *http.Request, rec *storage.Execution) bool {
	if !h.tracker.Claim(rec) {
		writeError(w, "execution "+rec.ID+" is already running", "CONFLICT", http.StatusConflict, r)
		return false
	}
	return true
}

func newExecution(id string, p *project.Project, r *http.Request) *storage.Execution {
	return &storage.Execution{
		ID:        id,
		ProjectID: p.ID,
		Language:  string(p.Language),
		CodeHash:  fmt.Sprintf("%x", sha256.Sum256([]byte(p.Code))),
		Status:    storage.StatusQueued,
		RequestIP: clientIP(r),
		CreatedAt: time.Now().UTC(),
	}
}

func finishExecution(e *storage.Execution, res *sandbox.Result, err error) {
	now := time.Now().UTC()
	e.CompletedAt = &now
	if err != nil {
		e.Status = storage.StatusError
		e.Stderr = err.Error()
		e.ExitCode = -1
		return
	}

	e.Stdout = res.Stdout
	e.Stderr = res.Stderr
	e.ExitCode = res.ExitCode
	e.TimedOut = res.TimedOut
	e.DurationMS = res.Duration.Milliseconds()
	switch {
	case res.TimedOut:
		e.Status = storage.StatusTimeout
	case res.ExitCode == 0:
		e.Status = storage.StatusCompleted
	default:
		e.Status = storage.StatusFailed
	}
}

func (h *Handlers) logAudit(e *storage.Execution) {
	if h.audit == nil {
		return
	}
	c := *e
	h.audit.Log(&c)
}

func (h *Handlers) HandleGetExecution(w http.ResponseWriter, r *http.Request) {
	e, ok := h.lookupExecution(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, newExecutionResponse(e))
}

func (h *Handlers) HandleGetExecutionOutput(w http.ResponseWriter, r *http.Request) {
	e, ok := h.lookupExecution(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, OutputResponse{
		ID:       e.ID,
		Status:   e.Status,
		Done:     e.Done(),
		Stdout:   e.Stdout,
		Stderr:   e.Stderr,
		ExitCode: e.ExitCode,
	})
}

// lookupExecution checks executions started by this process first and then
// the audit log.
func (h *Handlers) lookupExecution(w http.ResponseWriter, r *http.Request) (*storage.Execution, bool) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, "execution ID required", "INVALID_REQUEST", http.StatusBadRequest, r)
		return nil, false
	}
	if e, ok := h.tracker.Get(id); ok {
		return e, true
	}
	if h.store == nil {
		writeError(w, "execution not found", "NOT_FOUND", http.StatusNotFound, r)
		return nil, false
	}

	e, err := h.store.GetExecution(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, "execution not found", "NOT_FOUND", http.StatusNotFound, r)
		return nil, false
	}
	if err != nil {
		log.Error().Err(err).Str("exec_id", id).Msg("execution lookup failed")
		writeError(w, "query failed", "INTERNAL", http.StatusInternalServerError, r)
		return nil, false
	}
	return e, true
}

// HandleListExecutions lists from the audit log when one is configured and
// from memory otherwise. Output is omitted from list entries.
func (h *Handlers) HandleListExecutions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := storage.ExecutionFilter{
		Language: q.Get("language"),
		Status:   q.Get("status"),
		Limit:    100,
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, "limit must be a positive integer", "INVALID_REQUEST", http.StatusBadRequest, r)
			return
		}
		filter.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, "offset must be a non-negative integer", "INVALID_REQUEST", http.StatusBadRequest, r)
			return
		}
		filter.Offset = n
	}
	if filter.Language != "" {
		lang, err := runtime.ParseLanguage(filter.Language)
		if err != nil {
			writeError(w, err.Error(), "INVALID_REQUEST", http.StatusBadRequest, r)
			return
		}
		filter.Language = string(lang)
	}

	var execs []storage.Execution
	if h.store != nil {
		var err error
		execs, err = h.store.ListExecutions(r.Context(), filter)
		if err != nil {
			log.Error().Err(err).Msg("listing executions failed")
			writeError(w, "query failed", "INTERNAL", http.StatusInternalServerError, r)
			return
		}
	} else {
		execs = h.tracker.List(filter)
	}

	resp := make([]ExecutionResponse, 0, len(execs))
	for i := range execs {
		e := newExecutionResponse(&execs[i])
		e.Stdout, e.Stderr = "", ""
		resp = append(resp, e)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handlers) HandleSyntax(w http.ResponseWriter, r *http.Request) {
	p, ok := h.decodeProject(w, r)
	if !ok {
		return
	}
	report, err := h.analyzer.Syntax(r.Context(), p)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *Handlers) HandleSecurity(w http.ResponseWriter, r *http.Request) {
	p, ok := h.decodeProject(w, r)
	if !ok {
		return
	}
	report, err := h.analyzer.ScanSecurity(p)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *Handlers) HandleAnalysis(w http.ResponseWriter, r *http.Request) {
	p, ok := h.decodeProject(w, r)
	if !ok {
		return
	}
	report, err := h.analyzer.Analyze(r.Context(), p)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *Handlers) decodeProject(w http.ResponseWriter, r *http.Request) (*project.Project, bool) {
	if h.analyzer == nil {
		writeError(w, "analyzer unavailable", "ANALYZER_UNAVAILABLE", http.StatusServiceUnavailable, r)
		return nil, false
	}
	var req ProjectRequest
	if !decodeJSON(w, r, &req) {
		return nil, false
	}
	p, err := req.Project(h.runtimes)
	if err != nil {
		h.writeEngineError(w, r, err)
		return nil, false
	}
	return p, true
}

// HandleListAlerts returns the bus history, oldest first, or the audit log
// newest first with ?source=db.
func (h *Handlers) HandleListAlerts(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("source") == "db" {
		if h.store == nil {
			writeError(w, "database not configured", "DB_UNAVAILABLE", http.StatusServiceUnavailable, r)
			return
		}
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		records, err := h.store.ListAlerts(r.Context(), limit)
		if err != nil {
			log.Error().Err(err).Msg("listing alerts failed")
			writeError(w, "query failed", "INTERNAL", http.StatusInternalServerError, r)
			return
		}
		if records == nil {
			records = []storage.AlertRecord{}
		}
		writeJSON(w, http.StatusOK, records)
		return
	}

	if h.bus == nil {
		writeJSON(w, http.StatusOK, []alert.Alert{})
		return
	}
	writeJSON(w, http.StatusOK, h.bus.Recent())
}

func (h *Handlers) HandleLanguages(w http.ResponseWriter, r *http.Request) {
	langs := h.runtimes.Languages()
	resp := make([]LanguageInfo, 0, len(langs))
	for _, l := range langs {
		rt, err := h.runtimes.Get(l)
		if err != nil {
			continue
		}
		resp = append(resp, newLanguageInfo(rt))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handlers) HandleTemplate(w http.ResponseWriter, r *http.Request) {
	lang, err := runtime.ParseLanguage(r.PathValue("language"))
	if err != nil {
		writeError(w, err.Error(), "UNSUPPORTED_LANGUAGE", http.StatusNotFound, r)
		return
	}
	rt, err := h.runtimes.Get(lang)
	if err != nil {
		writeError(w, err.Error(), "UNSUPPORTED_LANGUAGE", http.StatusNotFound, r)
		return
	}
	writeJSON(w, http.StatusOK, TemplateResponse{
		Language:  string(lang),
		EntryFile: rt.EntryFile(),
		Code:      rt.DefaultCode(),
	})
}

func isClientError(err error) bool {
	return sandbox.IsInvalidRequest(err) ||
		errors.Is(err, workspace.ErrInvalidExecutionID) ||
		errors.Is(err, workspace.ErrPathEscape) ||
		errors.Is(err, debug.ErrNoProject)
}

// writeEngineError maps engine errors to HTTP statuses. Unknown errors are
// logged and reported without detail.
func (h *Handlers) writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, debug.ErrSessionNotFound):
		writeError(w, err.Error(), "NOT_FOUND", http.StatusNotFound, r)
	case errors.Is(err, ErrConcurrencyLimited):
		w.Header().Set("Retry-After", "1")
		writeError(w, err.Error(), "CONCURRENCY_LIMITED", http.StatusTooManyRequests, r)
	case errors.Is(err, sandbox.ErrUnsupportedLang):
		writeError(w, err.Error(), "UNSUPPORTED_LANGUAGE", http.StatusBadRequest, r)
	case isClientError(err):
		writeError(w, err.Error(), "INVALID_REQUEST", http.StatusBadRequest, r)
	default:
		h.metrics.RecordError("api")
		log.Error().Err(err).Str("request_id", RequestIDFromContext(r.Context())).Msg("request failed")
		writeError(w, "internal error", "INTERNAL", http.StatusInternalServerError, r)
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, "request body too large", "BODY_TOO_LARGE", http.StatusRequestEntityTooLarge, r)
			return false
		}
		writeError(w, "invalid JSON: "+err.Error(), "INVALID_REQUEST", http.StatusBadRequest, r)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, msg, code string, status int, r *http.Request) {
	resp := ErrorResponse{
		Error:     msg,
		Code:      code,
		RequestID: RequestIDFromContext(r.Context()),
	}
	writeJSON(w, status, resp)
}
