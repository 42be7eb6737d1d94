package storage

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"ide-sandbox/internal/config"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("record not found")

//go:embed schema.sql
var schema string

const maxTextColumn = 65535

// DB wraps a PostgreSQL connection pool for audit logging.
type DB struct {
	pool *pgxpool.Pool
}

// New creates a new database connection pool.
func New(ctx context.Context, cfg config.DatabaseConfig) (*DB, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parsing database DSN: %w", err)
	}

	poolCfg.MaxConns = 25
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	poolCfg.MinConns = 2
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	poolCfg.MaxConnLifetime = 5 * time.Minute
	if cfg.ConnMaxLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime
	}
	poolCfg.MaxConnIdleTime = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	log.Info().Msg("connected to PostgreSQL")
	return &DB{pool: pool}, nil
}

// Migrate creates the audit tables if they do not exist.
func (db *DB) Migrate(ctx context.Context) error {
	if _, err := db.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("applying schema: %w", err)
	}
	return nil
}

// Close shuts down the connection pool.
func (db *DB) Close() {
	db.pool.Close()
}

// Healthy checks database connectivity.
func (db *DB) Healthy(ctx context.Context) bool {
	return db.pool.Ping(ctx) == nil
}

// LogExecution upserts an execution record, so an asynchronous execution
// can be written once when queued and again when it finishes.
func (db *DB) LogExecution(ctx context.Context, exec *Execution) error {
	query := `
		INSERT INTO executions (id, project_id, language, code_hash, status, exit_code,
			timed_out, stdout, stderr, duration_ms, request_ip, created_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			exit_code = EXCLUDED.exit_code,
			timed_out = EXCLUDED.timed_out,
			stdout = EXCLUDED.stdout,
			stderr = EXCLUDED.stderr,
			duration_ms = EXCLUDED.duration_ms,
			completed_at = EXCLUDED.completed_at`

	_, err := db.pool.Exec(ctx, query,
		exec.ID, exec.ProjectID, exec.Language, exec.CodeHash, exec.Status, exec.ExitCode,
		exec.TimedOut,
		truncateForDB(exec.Stdout, maxTextColumn),
		truncateForDB(exec.Stderr, maxTextColumn),
		exec.DurationMS, exec.RequestIP,
		exec.CreatedAt, exec.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting execution: %w", err)
	}
	return nil
}

// LogAlert inserts an alert record.
func (db *DB) LogAlert(ctx context.Context, a *AlertRecord) error {
	query := `
		INSERT INTO alerts (id, project_id, type, severity, message, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING`

	var details any
	if len(a.Details) > 0 {
		details = string(a.Details)
	}
	_, err := db.pool.Exec(ctx, query,
		a.ID, a.ProjectID, a.Type, a.Severity, a.Message, details, a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting alert: %w", err)
	}
	return nil
}

// GetExecution retrieves a single execution by ID.
func (db *DB) GetExecution(ctx context.Context, id string) (*Execution, error) {
	query := `
		SELECT id, project_id, language, code_hash, status, exit_code, timed_out,
			stdout, stderr, duration_ms, request_ip, created_at, completed_at
		FROM executions WHERE id = $1`

	var exec Execution
	err := db.pool.QueryRow(ctx, query, id).Scan(
		&exec.ID, &exec.ProjectID, &exec.Language, &exec.CodeHash, &exec.Status,
		&exec.ExitCode, &exec.TimedOut,
		&exec.Stdout, &exec.Stderr,
		&exec.DurationMS, &exec.RequestIP,
		&exec.CreatedAt, &exec.CompletedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("execution %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("querying execution %s: %w", id, err)
	}
	return &exec, nil
}

// ListExecutions queries executions with optional filters. Output columns
// are left empty.
func (db *DB) ListExecutions(ctx context.Context, filter ExecutionFilter) ([]Execution, error) {
	query := `
		SELECT id, project_id, language, code_hash, status, exit_code, timed_out,
			duration_ms, created_at, completed_at
		FROM executions
		WHERE ($1 = '' OR language = $1)
		  AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4`

	rows, err := db.pool.Query(ctx, query,
		filter.Language, filter.Status, clampLimit(filter.Limit), filter.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("querying executions: %w", err)
	}
	defer rows.Close()

	var results []Execution
	for rows.Next() {
		var exec Execution
		if err := rows.Scan(
			&exec.ID, &exec.ProjectID, &exec.Language, &exec.CodeHash, &exec.Status,
			&exec.ExitCode, &exec.TimedOut,
			&exec.DurationMS, &exec.CreatedAt, &exec.CompletedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning execution row: %w", err)
		}
		results = append(results, exec)
	}

	return results, rows.Err()
}

// ListAlerts returns the most recent alerts, newest first.
func (db *DB) ListAlerts(ctx context.Context, limit int) ([]AlertRecord, error) {
	rows, err := db.pool.Query(ctx, `
		SELECT id, project_id, type, severity, message, COALESCE(details::text, ''), created_at
		FROM alerts ORDER BY created_at DESC LIMIT $1`, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("querying alerts: %w", err)
	}
	defer rows.Close()

	var results []AlertRecord
	for rows.Next() {
		var (
			a       AlertRecord
			details string
		)
		if err := rows.Scan(&a.ID, &a.ProjectID, &a.Type, &a.Severity, &a.Message, &details, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning alert row: %w", err)
		}
		if details != "" {
			a.Details = []byte(details)
		}
		results = append(results, a)
	}
	return results, rows.Err()
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > 1000 {
		return 100
	}
	return limit
}

func truncateForDB(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}
