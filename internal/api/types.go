package api

import (
	"fmt"
	"strings"
	"time"

	"ide-sandbox/internal/project"
	"ide-sandbox/internal/runtime"
	"ide-sandbox/internal/sandbox"
	"ide-sandbox/internal/storage"
)

// ProjectRequest carries a project inline. Files are keyed by relative path;
// Code is the entry file contents when Files does not contain one.
type ProjectRequest struct {
	ProjectID string            `json:"project_id,omitempty"`
	Name      string            `json:"name,omitempty"`
	Language  string            `json:"language"`
	Code      string            `json:"code,omitempty"`
	Files     map[string]string `json:"files,omitempty"`
}

// Project builds the engine's project value. Unknown languages and empty
// projects are reported as invalid requests.
func (req *ProjectRequest) Project(runtimes *runtime.Registry) (*project.Project, error) {
	if strings.TrimSpace(req.Language) == "" {
		return nil, fmt.Errorf("%w: language is required", sandbox.ErrInvalidRequest)
	}
	lang, err := runtime.ParseLanguage(req.Language)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", sandbox.ErrUnsupportedLang, req.Language)
	}
	rt, err := runtimes.Get(lang)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", sandbox.ErrUnsupportedLang, req.Language)
	}
	if req.Code == "" && len(req.Files) == 0 {
		return nil, fmt.Errorf("%w: code or files are required", sandbox.ErrInvalidRequest)
	}

	p := project.New(rt, req.Name, req.Code)
	if req.ProjectID != "" {
		p.ID = req.ProjectID
	}
	if req.Code == "" {
		delete(p.Files, rt.EntryFile())
		p.Code = ""
	}
	for name, contents := range req.Files {
		p.Files[project.NormalizeFileName(rt, name)] = contents
	}
	p.Code = p.EntrySource(rt)
	return p, nil
}

// ExecuteRequest starts a run. ExecutionID is generated when empty.
type ExecuteRequest struct {
	ProjectRequest
	ExecutionID string `json:"execution_id,omitempty"`
}

// Duration wraps time.Duration for JSON marshaling as a string like "10s".
type Duration struct {
	time.Duration
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.String() + `"`), nil
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	s := string(b)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	d.Duration = dur
	return nil
}

// ExecutionResponse describes an execution, finished or not.
type ExecutionResponse struct {
	ID          string     `json:"id"`
	ProjectID   string     `json:"project_id,omitempty"`
	Language    string     `json:"language"`
	Status      string     `json:"status"`
	Stdout      string     `json:"stdout"`
	Stderr      string     `json:"stderr"`
	ExitCode    int        `json:"exit_code"`
	TimedOut    bool       `json:"timed_out"`
	Duration    Duration   `json:"duration"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

func newExecutionResponse(e *storage.Execution) ExecutionResponse {
	return ExecutionResponse{
		ID:          e.ID,
		ProjectID:   e.ProjectID,
		Language:    e.Language,
		Status:      e.Status,
		Stdout:      e.Stdout,
		Stderr:      e.Stderr,
		ExitCode:    e.ExitCode,
		TimedOut:    e.TimedOut,
		Duration:    Duration{time.Duration(e.DurationMS) * time.Millisecond},
		CreatedAt:   e.CreatedAt,
		CompletedAt: e.CompletedAt,
	}
}

// OutputResponse is the output of one execution. Done is false while the
// execution is still queued or running.
type OutputResponse struct {
	ID       string `json:"id"`
	Status   string `json:"status"`
	Done     bool   `json:"done"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exit_code"`
}

// DebugSessionRequest creates a session or replaces its breakpoints.
type DebugSessionRequest struct {
	ProjectID   string `json:"project_id"`
	Breakpoints []int  `json:"breakpoints"`
}

// VariablesResponse wraps a variable snapshot.
type VariablesResponse struct {
	SessionID string `json:"session_id"`
	Variables any    `json:"variables"`
}

// LanguageInfo describes one supported language.
type LanguageInfo struct {
	Language    string   `json:"language"`
	Image       string   `json:"image"`
	EntryFile   string   `json:"entry_file"`
	Extension   string   `json:"extension"`
	SyntaxCheck bool     `json:"syntax_check"`
	Timeout     Duration `json:"timeout"`
	MemoryMB    int64    `json:"memory_mb"`
}

func newLanguageInfo(rt runtime.Runtime) LanguageInfo {
	_, syntax := rt.SyntaxCommand(rt.EntryFile())
	limits := rt.Limits()
	return LanguageInfo{
		Language:    string(rt.Language()),
		Image:       rt.Image(),
		EntryFile:   rt.EntryFile(),
		Extension:   runtime.Extension(rt),
		SyntaxCheck: syntax,
		Timeout:     Duration{limits.Timeout},
		MemoryMB:    limits.MemoryBytes >> 20,
	}
}

// TemplateResponse is the starter code for a language.
type TemplateResponse struct {
	Language  string `json:"language"`
	EntryFile string `json:"entry_file"`
	Code      string `json:"code"`
}

// ErrorResponse is returned for API errors.
type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"request_id"`
}

// HealthResponse is returned by the health check endpoint.
type HealthResponse struct {
	Status          string `json:"status"`
	Backend         string `json:"backend"`
	Sandbox         bool   `json:"sandbox"`
	Database        bool   `json:"database"`
	ActiveSandboxes int64  `json:"active_sandboxes"`
	DebugSessions   int    `json:"debug_sessions"`
	Uptime          string `json:"uptime"`
}
