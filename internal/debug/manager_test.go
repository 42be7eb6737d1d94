package debug

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"ide-sandbox/internal/project"
	"ide-sandbox/internal/runtime"
)

func newProject(lang runtime.Language, code string) *project.Project {
	return &project.Project{ID: "proj-1", Language: lang, Code: code}
}

func lineOf(s *Session) string {
	if s.CurrentLine == nil {
		return "<nil>"
	}
	return fmt.Sprint(*s.CurrentLine)
}

func TestNormalizeBreakpoints(t *testing.T) {
	tests := []struct {
		name string
		in   []int
		want []int
	}{
		{"nil", nil, []int{}},
		{"sorted", []int{1, 2, 3}, []int{1, 2, 3}},
		{"unsorted with duplicates", []int{10, 5, 10, 1, 5}, []int{1, 5, 10}},
		{"drops non-positive", []int{0, -3, 7, -1}, []int{7}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NormalizeBreakpoints(tt.in)
			if fmt.Sprint(got) != fmt.Sprint(tt.want) {
				t.Errorf("NormalizeBreakpoints(%v) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestManager_RunWithoutBreakpoints(t *testing.T) {
	m := NewManager(nil, nil, nil)
	p := newProject(runtime.Python, "x = 1\n")

	s := m.CreateSession(p.ID, nil)
	if s.Status != StatusIdle {
		t.Fatalf("Status = %q, want idle", s.Status)
	}

	s, err := m.Run(s.ID, p)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if s.Status != StatusCompleted {
		t.Errorf("Status = %q, want completed", s.Status)
	}
	if s.CurrentLine != nil {
		t.Errorf("CurrentLine = %s, want nil", lineOf(s))
	}
	if len(s.History) != 1 || s.History[0].Line != -1 || s.History[0].Action != ActionRun {
		t.Errorf("History = %+v", s.History)
	}
}

func TestManager_StepThroughBreakpoints(t *testing.T) {
	m := NewManager(nil, nil, nil)
	p := newProject(runtime.JavaScript, "const a = 1;\nlet b = 'two';\n")
	s := m.CreateSession(p.ID, []int{10, 5})

	steps := []struct {
		op         string
		wantStatus Status
		wantLine   string
	}{
		{ActionRun, StatusPaused, "5"},
		{ActionStep, StatusPaused, "10"},
		{ActionStep, StatusCompleted, "<nil>"},
	}

	for i, st := range steps {
		var err error
		if st.op == ActionRun {
			s, err = m.Run(s.ID, p)
		} else {
			s, err = m.Step(s.ID, p)
		}
		if err != nil {
			t.Fatalf("step %d: %s error = %v", i, st.op, err)
		}
		if s.Status != st.wantStatus || lineOf(s) != st.wantLine {
			t.Errorf("step %d: %s -> %s at %s, want %s at %s", i, st.op, s.Status, lineOf(s), st.wantStatus, st.wantLine)
		}
	}

	wantHistory := []HistoryEntry{{Line: 5, Action: ActionRun}, {Line: 10, Action: ActionStep}, {Line: -1, Action: ActionStep}}
	if len(s.History) != len(wantHistory) {
		t.Fatalf("History has %d entries, want %d", len(s.History), len(wantHistory))
	}
	for i, want := range wantHistory {
		got := s.History[i]
		if got.Line != want.Line || got.Action != want.Action || got.Timestamp.IsZero() {
			t.Errorf("History[%d] = %+v, want line %d action %s", i, got, want.Line, want.Action)
		}
	}

	if len(s.Variables) != 2 {
		t.Errorf("Variables = %+v, want a and b", s.Variables)
	}
}

func TestManager_StepWithoutBreakpointsCompletes(t *testing.T) {
	m := NewManager(nil, nil, nil)
	p := newProject(runtime.Python, "")
	s := m.CreateSession(p.ID, nil)

	s, err := m.Step(s.ID, p)
	if err != nil {
		t.Fatalf("Step() error = %v", err)
	}
	if s.Status != StatusCompleted || s.CurrentLine != nil {
		t.Errorf("Step() -> %s at %s, want completed at <nil>", s.Status, lineOf(s))
	}
}

func TestManager_UpdateBreakpointsKeepsPosition(t *testing.T) {
	m := NewManager(nil, nil, nil)
	p := newProject(runtime.Python, "")
	s := m.CreateSession(p.ID, []int{3})
	if _, err := m.Run(s.ID, p); err != nil {
		t.Fatal(err)
	}

	s, err := m.UpdateBreakpoints(s.ID, p.ID, []int{8, 0, 8, 2})
	if err != nil {
		t.Fatalf("UpdateBreakpoints() error = %v", err)
	}
	if fmt.Sprint(s.Breakpoints) != "[2 8]" {
		t.Errorf("Breakpoints = %v, want [2 8]", s.Breakpoints)
	}
	if s.Status != StatusPaused || lineOf(s) != "3" {
		t.Errorf("position changed to %s at %s", s.Status, lineOf(s))
	}

	s, err = m.Step(s.ID, p)
	if err != nil {
		t.Fatal(err)
	}
	if lineOf(s) != "8" {
		t.Errorf("Step() after update -> %s, want 8", lineOf(s))
	}
}

func TestManager_InspectVariables(t *testing.T) {
	m := NewManager(nil, nil, nil)
	p := newProject(runtime.Java, "int count = 3;\nString name = \"x\";\n")
	s := m.CreateSession(p.ID, []int{1})

	vars, err := m.InspectVariables(s.ID, p)
	if err != nil {
		t.Fatalf("InspectVariables() error = %v", err)
	}
	if len(vars) != 2 || vars[0].Name != "count" || vars[0].Type != "int" || vars[1].Value != `"x"` {
		t.Errorf("vars = %+v", vars)
	}

	got, err := m.Get(s.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != StatusIdle || got.CurrentLine != nil || len(got.History) != 0 {
		t.Errorf("InspectVariables moved the session: %+v", got)
	}
	if len(got.Variables) != 2 {
		t.Errorf("stored Variables = %+v", got.Variables)
	}
}

func TestManager_SessionNotFound(t *testing.T) {
	m := NewManager(nil, nil, nil)
	p := newProject(runtime.Python, "")
	s := m.CreateSession("other-project", []int{1})

	tests := []struct {
		name string
		call func() error
	}{
		{"get unknown", func() error { _, err := m.Get("missing"); return err }},
		{"run unknown", func() error { _, err := m.Run("missing", p); return err }},
		{"run wrong project", func() error { _, err := m.Run(s.ID, p); return err }},
		{"step wrong project", func() error { _, err := m.Step(s.ID, p); return err }},
		{"breakpoints wrong project", func() error { _, err := m.UpdateBreakpoints(s.ID, p.ID, nil); return err }},
		{"inspect wrong project", func() error { _, err := m.InspectVariables(s.ID, p); return err }},
		{"delete wrong project", func() error { return m.Delete(s.ID, p.ID) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.call(); !errors.Is(err, ErrSessionNotFound) {
				t.Errorf("error = %v, want ErrSessionNotFound", err)
			}
		})
	}

	if m.Count() != 1 {
		t.Errorf("Count() = %d, want 1; operations must not create sessions", m.Count())
	}
	got, _ := m.Get(s.ID)
	if got.Status != StatusIdle || len(got.History) != 0 {
		t.Errorf("foreign project mutated the session: %+v", got)
	}
}

func TestManager_NilProject(t *testing.T) {
	m := NewManager(nil, nil, nil)
	s := m.CreateSession("p", nil)
	if _, err := m.Run(s.ID, nil); !errors.Is(err, ErrNoProject) {
		t.Errorf("Run(nil) error = %v, want ErrNoProject", err)
	}
}

func TestManager_Delete(t *testing.T) {
	m := NewManager(nil, nil, nil)
	s := m.CreateSession("p", nil)

	if err := m.Delete(s.ID, "p"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if m.Count() != 0 {
		t.Errorf("Count() = %d, want 0", m.Count())
	}
	if err := m.Delete(s.ID, "p"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("second Delete() error = %v, want ErrSessionNotFound", err)
	}
}

func TestManager_ReturnedSessionsAreCopies(t *testing.T) {
	m := NewManager(nil, nil, nil)
	s := m.CreateSession("p", []int{4})
	s.Breakpoints[0] = 99
	s.Status = StatusCompleted

	got, _ := m.Get(s.ID)
	if got.Breakpoints[0] != 4 || got.Status != StatusIdle {
		t.Errorf("stored session changed through a returned copy: %+v", got)
	}
}

func TestManager_ConcurrentSteps(t *testing.T) {
	m := NewManager(nil, nil, nil)
	p := newProject(runtime.Python, "")
	s := m.CreateSession(p.ID, []int{1, 2, 3})

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := m.Step(s.ID, p); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	got, _ := m.Get(s.ID)
	if len(got.History) != n {
		t.Errorf("History has %d entries, want %d", len(got.History), n)
	}
}
