package storage

import (
	"encoding/json"
	"time"
)

// Execution statuses.
const (
	StatusQueued    = "queued"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusTimeout   = "timeout"
	StatusError     = "error"
)

// Execution represents a stored execution record.
type Execution struct {
	ID          string     `json:"id" db:"id"`
	ProjectID   string     `json:"project_id,omitempty" db:"project_id"`
	Language    string     `json:"language" db:"language"`
	CodeHash    string     `json:"code_hash" db:"code_hash"`
	Status      string     `json:"status" db:"status"`
	ExitCode    int        `json:"exit_code" db:"exit_code"`
	TimedOut    bool       `json:"timed_out" db:"timed_out"`
	Stdout      string     `json:"stdout" db:"stdout"`
	Stderr      string     `json:"stderr" db:"stderr"`
	DurationMS  int64      `json:"duration_ms" db:"duration_ms"`
	RequestIP   string     `json:"request_ip,omitempty" db:"request_ip"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" db:"completed_at"`
}

// Done reports whether the execution reached a terminal status.
func (e *Execution) Done() bool {
	switch e.Status {
	case StatusQueued, StatusRunning:
		return false
	}
	return true
}

// AlertRecord is an alert as stored for audit.
type AlertRecord struct {
	ID        string          `json:"id" db:"id"`
	ProjectID string          `json:"project_id,omitempty" db:"project_id"`
	Type      string          `json:"type" db:"type"`
	Severity  string          `json:"severity" db:"severity"`
	Message   string          `json:"message" db:"message"`
	Details   json.RawMessage `json:"details,omitempty" db:"details"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}

// ExecutionFilter provides criteria for querying executions.
type ExecutionFilter struct {
	Language string
	Status   string
	Limit    int
	Offset   int
}
