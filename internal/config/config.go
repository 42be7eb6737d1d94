package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Sandbox  SandboxConfig  `yaml:"sandbox"`
	Database DatabaseConfig `yaml:"database"`
	NATS     NATSConfig     `yaml:"nats"`
	Alerts   AlertsConfig   `yaml:"alerts"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Tracing  TracingConfig  `yaml:"tracing"`
	Security SecurityConfig `yaml:"security"`
	TLS      TLSConfig      `yaml:"tls"`
}

type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxRequestBody  int64         `yaml:"max_request_body_bytes"`
}

// Seccomp modes.
const (
	SeccompRuntime = "runtime" // the container runtime's default profile
	SeccompStrict  = "strict"  // pkg/seccomp allow-list
)

type SandboxConfig struct {
	Backend          string `yaml:"backend"` // "auto" (default), "containerd", or "docker"
	ContainerdSocket string `yaml:"containerd_socket"`
	Namespace        string `yaml:"namespace"`
	DockerHost       string `yaml:"docker_host"` // empty uses DOCKER_HOST / the default socket
	WorkspaceRoot    string `yaml:"workspace_root"`
	Seccomp          string `yaml:"seccomp"`
	// User is the uid[:gid] processes run as. Defaults to nobody; empty keeps
	// the image default.
	User                  string        `yaml:"user"`
	TmpfsMB               int64         `yaml:"tmpfs_mb"`
	StopTimeout           time.Duration `yaml:"stop_timeout"`
	DrainTimeout          time.Duration `yaml:"drain_timeout"`
	OrphanCleanupInterval time.Duration `yaml:"orphan_cleanup_interval"`
	MaxConcurrent         int           `yaml:"max_concurrent"`
	PullImages            bool          `yaml:"pull_images"`
}

type DatabaseConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxConns        int32         `yaml:"max_conns"`
	MinConns        int32         `yaml:"min_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	AuditBuffer     int           `yaml:"audit_buffer"`
}

type NATSConfig struct {
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

type AlertsConfig struct {
	HistorySize int `yaml:"history_size"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// TracingConfig toggles span creation. Spans go to the global otel
// TracerProvider.
type TracingConfig struct {
	Enabled bool `yaml:"enabled"`
}

type SecurityConfig struct {
	RateLimitRPS   float64 `yaml:"rate_limit_rps"`
	RateLimitBurst int     `yaml:"rate_limit_burst"`
}

// TLSConfig controls HTTPS/TLS termination.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(filepath.Clean(path)) // #nosec G304 -- path comes from CLI flag or hardcoded default
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns sensible defaults for all configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    65 * time.Second, // > slowest language timeout + cleanup
			ShutdownTimeout: 30 * time.Second,
			MaxRequestBody:  1 << 20,
		},
		Sandbox: SandboxConfig{
			Backend:               "auto",
			ContainerdSocket:      "/run/containerd/containerd.sock",
			Namespace:             "ide-sandbox",
			WorkspaceRoot:         filepath.Join(os.TempDir(), "ide-sandbox"),
			Seccomp:               SeccompRuntime,
			User:                  "65534:65534",
			TmpfsMB:               64,
			StopTimeout:           5 * time.Second,
			DrainTimeout:          2 * time.Second,
			OrphanCleanupInterval: 5 * time.Minute,
			MaxConcurrent:         32,
			PullImages:            true,
		},
		Database: DatabaseConfig{
			MaxConns:        25,
			MinConns:        2,
			ConnMaxLifetime: 5 * time.Minute,
			AuditBuffer:     10000,
		},
		NATS: NATSConfig{
			SubjectPrefix: "ide-sandbox.alerts",
		},
		Alerts: AlertsConfig{
			HistorySize: 100,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Tracing: TracingConfig{
			Enabled: false,
		},
		Security: SecurityConfig{
			RateLimitRPS:   20,
			RateLimitBurst: 40,
		},
		TLS: TLSConfig{
			Enabled: false,
		},
	}
}

// ApplyEnv overrides fields from PORT, DATABASE_DSN and NATS_URL.
func (c *Config) ApplyEnv() error {
	if port := os.Getenv("PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("PORT: %w", err)
		}
		c.Server.Port = p
	}
	if dsn := os.Getenv("DATABASE_DSN"); dsn != "" {
		c.Database.DSN = dsn
	}
	if url := os.Getenv("NATS_URL"); url != "" {
		c.NATS.URL = url
	}
	return nil
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 1-65535, got %d", c.Server.Port)
	}
	switch c.Sandbox.Backend {
	case "", "auto", "containerd", "docker":
	default:
		return fmt.Errorf("sandbox.backend must be auto, containerd, or docker, got %q", c.Sandbox.Backend)
	}
	switch c.Sandbox.Seccomp {
	case "", SeccompRuntime, SeccompStrict:
	default:
		return fmt.Errorf("sandbox.seccomp must be %q or %q, got %q", SeccompRuntime, SeccompStrict, c.Sandbox.Seccomp)
	}
	if c.Sandbox.WorkspaceRoot != "" && !filepath.IsAbs(c.Sandbox.WorkspaceRoot) {
		return fmt.Errorf("sandbox.workspace_root: %q must be an absolute path", c.Sandbox.WorkspaceRoot)
	}
	if c.Sandbox.MaxConcurrent < 1 {
		return fmt.Errorf("sandbox.max_concurrent must be >= 1")
	}
	if c.Sandbox.TmpfsMB < 1 {
		return fmt.Errorf("sandbox.tmpfs_mb must be >= 1")
	}
	if c.Sandbox.DrainTimeout < 0 || c.Sandbox.StopTimeout < 0 {
		return fmt.Errorf("sandbox.stop_timeout and sandbox.drain_timeout must not be negative")
	}
	if c.Alerts.HistorySize < 1 {
		return fmt.Errorf("alerts.history_size must be >= 1")
	}
	if c.TLS.Enabled {
		if c.TLS.CertFile == "" || c.TLS.KeyFile == "" {
			return fmt.Errorf("tls.cert_file and tls.key_file are required when TLS is enabled")
		}
	}
	if c.Database.DSN != "" && strings.Contains(c.Database.DSN, "sslmode=disable") {
		log.Warn().Msg("database DSN has sslmode=disable, connections to Postgres are unencrypted")
	}
	return nil
}

// Address returns the listen address string.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
