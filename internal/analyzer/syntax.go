package analyzer

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf16"

	"github.com/rs/zerolog/log"

	"ide-sandbox/internal/alert"
	"ide-sandbox/internal/project"
	"ide-sandbox/internal/runtime"
	"ide-sandbox/internal/source"
)

const (
	SeverityError   = "error"
	SeverityWarning = "warning"

	// SourceSandbox tags findings produced by a compiler run in a container.
	SourceSandbox = "sandbox"
)

type SyntaxFinding struct {
	File     string `json:"file"`
	Line     int    `json:"line,omitempty"`
	Column   int    `json:"column,omitempty"`
	Message  string `json:"message"`
	Severity string `json:"severity"`
	Source   string `json:"source"`
}

type SyntaxMetrics struct {
	LineCount int `json:"line_count"`
	// CharCount is in UTF-16 code units, the length an editor reports.
	CharCount int `json:"char_count"`
	FileCount int `json:"file_count"`
}

type SyntaxReport struct {
	Valid    bool            `json:"valid"`
	Findings []SyntaxFinding `json:"findings"`
	Metrics  SyntaxMetrics   `json:"metrics"`
}

// Syntax checks the project's entry source. JavaScript, TypeScript and Go
// are parsed in-process; the other languages run their compiler in a
// sandbox, which reports at most one finding holding the compiler output.
func (a *Analyzer) Syntax(ctx context.Context, p *project.Project) (*SyntaxReport, error) {
	rt, err := a.resolve(p)
	if err != nil {
		return nil, err
	}
	src := p.EntrySource(rt)
	entry := rt.EntryFile()

	var findings []SyntaxFinding
	switch rt.Language() {
	case runtime.JavaScript:
		findings = fromDiagnostics(entry, source.TagJavaScript, source.ParseJavaScript(src))
	case runtime.TypeScript:
		findings = fromDiagnostics(entry, source.TagTypeScript, source.ParseTypeScript(src))
	case runtime.Go:
		findings = fromDiagnostics(entry, source.TagGo, source.ParseGo(src))
	default:
		findings, err = a.sandboxSyntax(ctx, p, entry)
		if err != nil {
			return nil, err
		}
	}

	report := &SyntaxReport{
		Valid:    len(findings) == 0,
		Findings: findings,
		Metrics: SyntaxMetrics{
			LineCount: strings.Count(src, "\n") + 1,
			CharCount: len(utf16.Encode([]rune(src))),
			FileCount: len(p.SourceFiles(rt)),
		},
	}
	if report.Findings == nil {
		report.Findings = []SyntaxFinding{}
	}

	for _, f := range findings {
		a.metrics.RecordSyntaxFinding(string(rt.Language()), f.Severity)
	}

	if !report.Valid {
		sev := alert.SeverityInfo
		for _, f := range findings {
			if f.Severity == SeverityError {
				sev = alert.SeverityWarning
				break
			}
		}
		log.Debug().
			Str("project_id", p.ID).
			Str("language", string(rt.Language())).
			Int("findings", len(findings)).
			Msg("syntax issues detected")
		a.emit(alert.TypeSyntax, sev, "Syntax issues detected", map[string]any{"findings": findings}, p.ID)
	}
	return report, nil
}

func (a *Analyzer) sandboxSyntax(ctx context.Context, p *project.Project, entry string) ([]SyntaxFinding, error) {
	if a.checker == nil {
		return nil, fmt.Errorf("no sandbox configured for %s syntax checks", p.Language)
	}
	res, err := a.checker.CheckSyntax(ctx, p)
	if err != nil {
		return nil, err
	}
	if res.ExitCode == 0 && strings.TrimSpace(res.Stderr) == "" {
		return nil, nil
	}
	msg := res.Stderr
	if msg == "" {
		msg = "Compiler reported an error"
	}
	return []SyntaxFinding{{
		File:     entry,
		Message:  msg,
		Severity: SeverityError,
		Source:   SourceSandbox,
	}}, nil
}

func fromDiagnostics(file, tag string, diags []source.Diagnostic) []SyntaxFinding {
	findings := make([]SyntaxFinding, 0, len(diags))
	for _, d := range diags {
		sev := SeverityError
		if d.Warning {
			sev = SeverityWarning
		}
		findings = append(findings, SyntaxFinding{
			File:     file,
			Line:     d.Line,
			Column:   d.Column,
			Message:  d.Message,
			Severity: sev,
			Source:   tag,
		})
	}
	return findings
}
