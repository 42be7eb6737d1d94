// Package analyzer produces syntax and security reports for a project. The
// checks are heuristics: a clean report is not a guarantee.
package analyzer

import (
	"context"
	"fmt"

	"ide-sandbox/internal/alert"
	"ide-sandbox/internal/monitor"
	"ide-sandbox/internal/project"
	"ide-sandbox/internal/runtime"
	"ide-sandbox/internal/sandbox"
)

// SyntaxChecker runs a compile-only check in a sandbox. *sandbox.Runner
// implements it.
type SyntaxChecker interface {
	CheckSyntax(ctx context.Context, p *project.Project) (*sandbox.Result, error)
}

// Analyzer runs syntax and security analysis. Findings are pushed to the
// alert bus when one is configured.
type Analyzer struct {
	checker  SyntaxChecker
	runtimes *runtime.Registry
	bus      *alert.Bus
	metrics  *monitor.Metrics
}

func New(checker SyntaxChecker, runtimes *runtime.Registry, bus *alert.Bus, metrics *monitor.Metrics) *Analyzer {
	if runtimes == nil {
		runtimes = runtime.NewRegistry()
	}
	return &Analyzer{
		checker:  checker,
		runtimes: runtimes,
		bus:      bus,
		metrics:  metrics,
	}
}

// Report combines both analyses of one project.
type Report struct {
	Syntax   *SyntaxReport   `json:"syntax"`
	Security *SecurityReport `json:"security"`
}

// Analyze runs the security scan and the syntax check.
func (a *Analyzer) Analyze(ctx context.Context, p *project.Project) (*Report, error) {
	security, err := a.ScanSecurity(p)
	if err != nil {
		return nil, err
	}
	syntax, err := a.Syntax(ctx, p)
	if err != nil {
		return nil, err
	}
	return &Report{Syntax: syntax, Security: security}, nil
}

func (a *Analyzer) resolve(p *project.Project) (runtime.Runtime, error) {
	if p == nil {
		return nil, fmt.Errorf("%w: project is nil", sandbox.ErrInvalidRequest)
	}
	rt, err := a.runtimes.Get(p.Language)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", sandbox.ErrUnsupportedLang, p.Language)
	}
	return rt, nil
}

func (a *Analyzer) emit(typ alert.Type, sev alert.Severity, message string, details map[string]any, projectID string) {
	if a.bus == nil {
		return
	}
	a.bus.Emit(typ, sev, message, details, projectID)
}
