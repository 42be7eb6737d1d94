package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"ide-sandbox/internal/alert"
	"ide-sandbox/internal/analyzer"
	"ide-sandbox/internal/api"
	"ide-sandbox/internal/config"
	"ide-sandbox/internal/debug"
	"ide-sandbox/internal/monitor"
	"ide-sandbox/internal/runtime"
	"ide-sandbox/internal/sandbox"
	"ide-sandbox/internal/storage"
	"ide-sandbox/internal/workspace"
)

func main() {
	// Structured logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
	if os.Getenv("ENV") != "production" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	if lvl, err := zerolog.ParseLevel(os.Getenv("LOG_LEVEL")); err == nil && lvl != zerolog.NoLevel {
		zerolog.SetGlobalLevel(lvl)
	}

	// A missing .env is normal outside development.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Msg("failed to read .env file")
	}

	cfg := loadConfig()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metrics := monitor.NewMetrics()
	var tracer *monitor.Tracer
	if cfg.Tracing.Enabled {
		tracer = monitor.NewTracer()
	}
	runtimes := runtime.NewRegistry()
	bus := alert.NewBus(cfg.Alerts.HistorySize)
	bus.Subscribe(func(a alert.Alert) { metrics.RecordAlert(string(a.Type), string(a.Severity)) })

	// Initialize sandbox backend (auto-detects containerd vs Docker)
	var runner *sandbox.Runner
	executor, err := sandbox.NewExecutor(ctx, cfg)
	if err != nil {
		// Continue startup so health, analysis and debug endpoints work
		log.Warn().Err(err).Msg("no sandbox backend available (execution will fail)")
	} else {
		runner = sandbox.NewRunner(executor,
			workspace.NewBuilder(cfg.Sandbox.WorkspaceRoot, runtimes),
			runtimes,
			sandbox.Options{
				DrainTimeout: cfg.Sandbox.DrainTimeout,
				StopTimeout:  cfg.Sandbox.StopTimeout,
				Metrics:      metrics,
				Tracer:       tracer,
			})
	}

	// Initialize database (optional, runs without it for development)
	var db *storage.DB
	if cfg.Database.DSN != "" {
		db, err = storage.New(ctx, cfg.Database)
		if err != nil {
			log.Warn().Err(err).Msg("database unavailable, audit logging disabled")
			db = nil
		} else if err := db.Migrate(ctx); err != nil {
			log.Error().Err(err).Msg("database migration failed, audit logging disabled")
			db.Close()
			db = nil
		} else {
			defer db.Close()
		}
	}

	var auditWriter *storage.AuditWriter
	if db != nil {
		auditWriter = storage.NewAuditWriter(db, cfg.Database.AuditBuffer)
		auditWriter.Start()
		defer auditWriter.Flush(10 * time.Second)
		bus.Subscribe(auditWriter.LogAlert)
	}

	if cfg.NATS.URL != "" {
		nc, err := alert.ConnectNATS(cfg.NATS.URL)
		if err != nil {
			log.Warn().Err(err).Msg("nats unavailable, alerts stay in-process")
		} else {
			defer nc.Drain()
			bus.Subscribe(alert.NewNATSPublisher(nc, cfg.NATS.SubjectPrefix).Publish)
			log.Info().Str("url", cfg.NATS.URL).Msg("forwarding alerts to nats")
		}
	}

	// Runs and sandboxed syntax checks share one pool of slots.
	limiter := api.NewLimiter(cfg.Sandbox.MaxConcurrent)
	deps := api.Deps{
		Debug:    debug.NewManager(debug.NewMemoryStore(), runtimes, metrics),
		Bus:      bus,
		Runtimes: runtimes,
		Audit:    auditWriter,
		Metrics:  metrics,
		Limiter:  limiter,
	}
	// Interface fields stay nil rather than holding typed nil pointers.
	if runner != nil {
		deps.Runner = runner
		deps.Analyzer = analyzer.New(api.LimitSyntaxChecks(runner, limiter), runtimes, bus, metrics)
	} else {
		deps.Analyzer = analyzer.New(nil, runtimes, bus, metrics)
	}
	if db != nil {
		deps.Store = db
	}

	server, err := api.NewServer(cfg, deps)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build HTTP server")
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh

		log.Info().Str("signal", sig.String()).Msg("shutting down")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("HTTP server shutdown error")
		}

		if runner != nil {
			if err := runner.Close(); err != nil {
				log.Error().Err(err).Msg("sandbox backend close error")
			}
		}

		cancel()
	}()

	log.Info().
		Str("addr", cfg.Address()).
		Bool("db_enabled", db != nil).
		Bool("backend_available", runner != nil).
		Strs("languages", languageNames(runtimes)).
		Msg("server starting")

	if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("server failed")
	}

	<-ctx.Done()
	log.Info().Msg("server stopped")
}

func loadConfig() *config.Config {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	var cfg *config.Config
	if _, statErr := os.Stat(configPath); statErr == nil {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			log.Fatal().Err(err).Str("path", configPath).Msg("failed to load config")
		}
	} else {
		log.Info().Msg("no config file found, using defaults")
		cfg = config.DefaultConfig()
	}

	if err := cfg.ApplyEnv(); err != nil {
		log.Fatal().Err(err).Msg("invalid environment override")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}
	return cfg
}

func languageNames(r *runtime.Registry) []string {
	langs := r.Languages()
	names := make([]string, len(langs))
	for i, l := range langs {
		names[i] = string(l)
	}
	return names
}
