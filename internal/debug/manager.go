// Package debug implements a simulated step debugger. Nothing is executed:
// stepping moves between breakpoint lines, and variables are literal
// bindings read from the source text, not runtime values.
package debug

import (
	"errors"
	"sort"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"ide-sandbox/internal/monitor"
	"ide-sandbox/internal/project"
	"ide-sandbox/internal/runtime"
)

var (
	// ErrSessionNotFound is returned for unknown session ids and for
	// sessions that belong to another project.
	ErrSessionNotFound = errors.New("debug session not found")
	ErrNoProject       = errors.New("project is required")
)

type Status string

const (
	StatusIdle      Status = "idle"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
)

const (
	ActionRun  = "run"
	ActionStep = "step"
)

// Variable is a binding found in the source. Value is the literal text, so
// it reflects the declaration, not any value the program computes.
type Variable struct {
	Name  string `json:"name"`
	Value string `json:"value"`
	Type  string `json:"type"`
	Scope string `json:"scope"`
	Line  int    `json:"line,omitempty"`
}

type HistoryEntry struct {
	// Line is -1 when the session had no current line.
	Line      int       `json:"line"`
	Action    string    `json:"action"`
	Timestamp time.Time `json:"timestamp"`
}

type Session struct {
	ID          string         `json:"id"`
	ProjectID   string         `json:"project_id"`
	Breakpoints []int          `json:"breakpoints"`
	Status      Status         `json:"status"`
	CurrentLine *int           `json:"current_line,omitempty"`
	Variables   []Variable     `json:"variables"`
	History     []HistoryEntry `json:"history"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

func (s *Session) clone() *Session {
	c := *s
	c.Breakpoints = append([]int(nil), s.Breakpoints...)
	c.Variables = append([]Variable(nil), s.Variables...)
	c.History = append([]HistoryEntry(nil), s.History...)
	if s.CurrentLine != nil {
		line := *s.CurrentLine
		c.CurrentLine = &line
	}
	return &c
}

func (s *Session) record(action string, at time.Time) {
	line := -1
	if s.CurrentLine != nil {
		line = *s.CurrentLine
	}
	s.History = append(s.History, HistoryEntry{Line: line, Action: action, Timestamp: at})
	s.UpdatedAt = at
}

// Manager owns the debug session table.
type Manager struct {
	store    Store
	runtimes *runtime.Registry
	metrics  *monitor.Metrics
}

func NewManager(store Store, runtimes *runtime.Registry, metrics *monitor.Metrics) *Manager {
	if store == nil {
		store = NewMemoryStore()
	}
	if runtimes == nil {
		runtimes = runtime.NewRegistry()
	}
	return &Manager{store: store, runtimes: runtimes, metrics: metrics}
}

// NormalizeBreakpoints drops non-positive lines and duplicates and sorts
// the rest ascending.
func NormalizeBreakpoints(lines []int) []int {
	set := mapset.NewThreadUnsafeSet[int]()
	for _, l := range lines {
		if l > 0 {
			set.Add(l)
		}
	}
	out := set.ToSlice()
	sort.Ints(out)
	return out
}

func (m *Manager) CreateSession(projectID string, breakpoints []int) *Session {
	now := time.Now().UTC()
	s := &Session{
		ID:          uuid.New().String(),
		ProjectID:   projectID,
		Breakpoints: NormalizeBreakpoints(breakpoints),
		Status:      StatusIdle,
		Variables:   []Variable{},
		History:     []HistoryEntry{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	m.store.Put(s)
	m.metrics.SetDebugSessions(m.store.Len())

	log.Debug().
		Str("session_id", s.ID).
		Str("project_id", projectID).
		Ints("breakpoints", s.Breakpoints).
		Msg("debug session created")
	return s
}

func (m *Manager) Get(sessionID string) (*Session, error) {
	s, ok := m.store.Get(sessionID)
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

func (m *Manager) UpdateBreakpoints(sessionID, projectID string, breakpoints []int) (*Session, error) {
	return m.update(sessionID, projectID, func(s *Session) {
		s.Breakpoints = NormalizeBreakpoints(breakpoints)
		s.UpdatedAt = time.Now().UTC()
	})
}

// Run snapshots the variables and pauses at the first breakpoint, or
// completes when there is none.
func (m *Manager) Run(sessionID string, p *project.Project) (*Session, error) {
	if p == nil {
		return nil, ErrNoProject
	}
	vars := m.variables(p)
	return m.update(sessionID, p.ID, func(s *Session) {
		s.Status = StatusRunning
		s.Variables = vars
		s.CurrentLine = nil
		if len(s.Breakpoints) > 0 {
			line := s.Breakpoints[0]
			s.CurrentLine = &line
			s.Status = StatusPaused
		} else {
			s.Status = StatusCompleted
		}
		s.record(ActionRun, time.Now().UTC())
	})
}

// Step advances to the next breakpoint after the current line. Past the
// last breakpoint the session completes.
func (m *Manager) Step(sessionID string, p *project.Project) (*Session, error) {
	if p == nil {
		return nil, ErrNoProject
	}
	return m.update(sessionID, p.ID, func(s *Session) {
		current := 0
		if s.CurrentLine != nil {
			current = *s.CurrentLine
		}
		s.CurrentLine = nil
		s.Status = StatusCompleted
		for _, bp := range s.Breakpoints {
			if bp > current {
				line := bp
				s.CurrentLine = &line
				s.Status = StatusPaused
				break
			}
		}
		s.record(ActionStep, time.Now().UTC())
	})
}

// InspectVariables refreshes the variable snapshot without moving the
// session.
func (m *Manager) InspectVariables(sessionID string, p *project.Project) ([]Variable, error) {
	if p == nil {
		return nil, ErrNoProject
	}
	vars := m.variables(p)
	s, err := m.update(sessionID, p.ID, func(s *Session) {
		s.Variables = vars
		s.UpdatedAt = time.Now().UTC()
	})
	if err != nil {
		return nil, err
	}
	return s.Variables, nil
}

func (m *Manager) Delete(sessionID, projectID string) error {
	ok := m.store.Delete(sessionID, func(s *Session) bool { return s.ProjectID == projectID })
	if !ok {
		return ErrSessionNotFound
	}
	m.metrics.SetDebugSessions(m.store.Len())
	return nil
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	return m.store.Len()
}

func (m *Manager) update(sessionID, projectID string, fn func(s *Session)) (*Session, error) {
	return m.store.Update(sessionID, func(s *Session) error {
		if s.ProjectID != projectID {
			return ErrSessionNotFound
		}
		fn(s)
		return nil
	})
}

func (m *Manager) variables(p *project.Project) []Variable {
	src := p.Code
	if rt, err := m.runtimes.Get(p.Language); err == nil {
		src = p.EntrySource(rt)
	}
	return ExtractVariables(p.Language, src)
}
