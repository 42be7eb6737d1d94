package api

import (
	"context"
	"crypto/tls"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"ide-sandbox/internal/config"
)

// healthTimeout bounds the backend and database probes of /health.
const healthTimeout = 3 * time.Second

// Server is the HTTP front end of the engine.
type Server struct {
	httpServer *http.Server
	handlers   *Handlers
	cfg        *config.Config
	startTime  time.Time
}

// NewServer creates and configures the HTTP server with all routes and middleware.
func NewServer(cfg *config.Config, deps Deps) (*Server, error) {
	if deps.Limiter == nil {
		deps.Limiter = NewLimiter(cfg.Sandbox.MaxConcurrent)
	}
	handlers := NewHandlers(deps)

	s := &Server{
		handlers:  handlers,
		cfg:       cfg,
		startTime: time.Now(),
	}

	// /syntax and /analysis take a slot only when they fall back to a
	// sandboxed compiler; see LimitSyntaxChecks.
	limit := ConcurrencyLimitMiddleware(deps.Limiter)

	mux := http.NewServeMux()
	mux.Handle("POST /execute", limit(http.HandlerFunc(handlers.HandleExecute)))
	mux.HandleFunc("POST /executions", handlers.HandleSubmitExecution)
	mux.HandleFunc("GET /executions", handlers.HandleListExecutions)
	mux.HandleFunc("GET /executions/{id}", handlers.HandleGetExecution)
	mux.HandleFunc("GET /executions/{id}/output", handlers.HandleGetExecutionOutput)

	mux.HandleFunc("POST /syntax", handlers.HandleSyntax)
	mux.HandleFunc("POST /security", handlers.HandleSecurity)
	mux.HandleFunc("POST /analysis", handlers.HandleAnalysis)

	mux.HandleFunc("POST /debug/sessions", handlers.HandleCreateDebugSession)
	mux.HandleFunc("GET /debug/sessions/{id}", handlers.HandleGetDebugSession)
	mux.HandleFunc("PUT /debug/sessions/{id}/breakpoints", handlers.HandleUpdateBreakpoints)
	mux.HandleFunc("POST /debug/sessions/{id}/run", handlers.HandleDebugRun)
	mux.HandleFunc("POST /debug/sessions/{id}/step", handlers.HandleDebugStep)
	mux.HandleFunc("POST /debug/sessions/{id}/variables", handlers.HandleDebugVariables)
	mux.HandleFunc("DELETE /debug/sessions/{id}", handlers.HandleDeleteDebugSession)

	mux.HandleFunc("GET /alerts", handlers.HandleListAlerts)
	mux.HandleFunc("GET /alerts/stream", handlers.HandleAlertStream)

	mux.HandleFunc("GET /languages", handlers.HandleLanguages)
	mux.HandleFunc("GET /languages/{language}/template", handlers.HandleTemplate)

	mux.HandleFunc("GET /health", s.handleHealth)
	if cfg.Metrics.Enabled && deps.Metrics != nil {
		path := cfg.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		mux.Handle("GET "+path, promhttp.HandlerFor(deps.Metrics.Registry, promhttp.HandlerOpts{}))
	}

	gzip, err := GzipMiddleware()
	if err != nil {
		return nil, err
	}

	// Apply middleware chain (outermost first)
	var handler http.Handler = mux
	handler = gzip(handler)
	handler = MetricsMiddleware(deps.Metrics)(handler)
	handler = RateLimitMiddleware(cfg.Security.RateLimitRPS, cfg.Security.RateLimitBurst)(handler)
	handler = MaxBodyMiddleware(cfg.Server.MaxRequestBody)(handler)
	handler = SecurityHeadersMiddleware(handler)
	handler = LoggingMiddleware(handler)
	handler = RequestIDMiddleware(handler)
	handler = RecoveryMiddleware(handler)

	s.httpServer = &http.Server{
		Addr:         cfg.Address(),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	return s, nil
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start begins listening for requests. Uses TLS if configured.
func (s *Server) Start() error {
	if s.cfg.TLS.Enabled {
		log.Info().
			Str("addr", s.httpServer.Addr).
			Str("cert", s.cfg.TLS.CertFile).
			Msg("starting HTTPS server with TLS")

		s.httpServer.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
		return s.httpServer.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
	}

	log.Info().
		Str("addr", s.httpServer.Addr).
		Msg("starting HTTP server")
	return s.httpServer.ListenAndServe()
}

// Shutdown stops accepting requests, then waits for background executions.
// Executions still running when ctx ends are cancelled.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("shutting down HTTP server")
	err := s.httpServer.Shutdown(ctx)
	if werr := s.handlers.Wait(ctx); werr != nil {
		log.Warn().Err(werr).Msg("background executions cancelled at shutdown")
	}
	return err
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	h := s.handlers
	resp := HealthResponse{
		Status:        "ok",
		Database:      h.store == nil || h.store.Healthy(ctx),
		DebugSessions: h.debug.Count(),
		Uptime:        time.Since(s.startTime).Round(time.Second).String(),
	}
	if h.runner != nil {
		resp.Backend = h.runner.Backend()
		resp.ActiveSandboxes = h.runner.ActiveCount()
		if err := h.runner.Ping(ctx); err != nil {
			log.Warn().Err(err).Msg("sandbox backend health check failed")
		} else {
			resp.Sandbox = true
		}
	}

	if !resp.Sandbox || !resp.Database {
		resp.Status = "degraded"
	}

	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, resp)
}
