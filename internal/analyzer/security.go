package analyzer

import (
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"

	"ide-sandbox/internal/alert"
	"ide-sandbox/internal/project"
	"ide-sandbox/internal/runtime"
)

type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Rule is one dangerous pattern, matched against single source lines.
type Rule struct {
	Name           string
	Pattern        *regexp.Regexp
	Issue          string
	Severity       Severity
	Recommendation string
}

type SecurityFinding struct {
	File           string   `json:"file"`
	Line           int      `json:"line"`
	Rule           string   `json:"rule"`
	Issue          string   `json:"issue"`
	Severity       Severity `json:"severity"`
	Recommendation string   `json:"recommendation"`
}

type SecurityReport struct {
	Vulnerable      bool              `json:"vulnerable"`
	Findings        []SecurityFinding `json:"findings"`
	Recommendations []string          `json:"recommendations"`
}

var baseRecommendations = []string{
	"Avoid executing untrusted input",
	"Sanitize user data before usage",
	"Prefer parameterized queries for data access",
	"Limit filesystem exposure inside sandboxes",
	"Validate network requests and disable unnecessary protocols",
}

// commonRules apply to every language.
var commonRules = []Rule{
	{
		Name:           "env_access",
		Pattern:        regexp.MustCompile(`process\.env\[`),
		Issue:          "Direct environment variable access",
		Severity:       SeverityLow,
		Recommendation: "Proxy secrets through a vault service",
	},
}

var evalRule = Rule{
	Name:           "eval",
	Pattern:        regexp.MustCompile(`eval\(`),
	Issue:          "Use of eval()",
	Severity:       SeverityHigh,
	Recommendation: "Use safer parsers or JSON.parse",
}

var languageRules = map[runtime.Language][]Rule{
	runtime.JavaScript: {
		evalRule,
		{
			Name:           "function_constructor",
			Pattern:        regexp.MustCompile(`Function\(`),
			Issue:          "Dynamic Function constructor",
			Severity:       SeverityMedium,
			Recommendation: "Avoid constructing functions from user input",
		},
		{
			Name:           "child_process",
			Pattern:        regexp.MustCompile(`child_process\.(exec|spawn)`),
			Issue:          "Spawning shell commands",
			Severity:       SeverityHigh,
			Recommendation: "Proxy subprocess work through vetted services",
		},
	},
	runtime.TypeScript: {evalRule},
	runtime.Python: {
		{
			Name:           "exec",
			Pattern:        regexp.MustCompile(`exec\(`),
			Issue:          "Execution via exec()",
			Severity:       SeverityHigh,
			Recommendation: "Avoid exec() for dynamic code paths",
		},
		{
			Name:           "os_system",
			Pattern:        regexp.MustCompile(`os\.system`),
			Issue:          "Shell execution through os.system",
			Severity:       SeverityMedium,
			Recommendation: "Use subprocess with explicit allow-lists or drop shell access",
		},
		{
			Name:           "subprocess",
			Pattern:        regexp.MustCompile(`subprocess\.(Popen|call|run)`),
			Issue:          "Subprocess invocation without sanitization",
			Severity:       SeverityMedium,
			Recommendation: "Provide vetted arguments and disable shell=True",
		},
	},
	runtime.Java: {
		{
			Name:           "runtime_exec",
			Pattern:        regexp.MustCompile(`Runtime\.getRuntime\(\)\.exec`),
			Issue:          "Runtime exec usage",
			Severity:       SeverityHigh,
			Recommendation: "Use ProcessBuilder with strict allow-lists",
		},
		{
			Name:           "process_builder",
			Pattern:        regexp.MustCompile(`ProcessBuilder`),
			Issue:          "ProcessBuilder detected",
			Severity:       SeverityMedium,
			Recommendation: "Validate command strings before execution",
		},
	},
	runtime.Cpp: {
		{
			Name:           "system",
			Pattern:        regexp.MustCompile(`system\(`),
			Issue:          "system() call can run arbitrary commands",
			Severity:       SeverityHigh,
			Recommendation: "Prefer library calls over shell execution",
		},
		{
			Name:           "popen",
			Pattern:        regexp.MustCompile(`popen\(`),
			Issue:          "popen() usage",
			Severity:       SeverityMedium,
			Recommendation: "Avoid piping shell output directly",
		},
	},
	runtime.Go: {
		{
			Name:           "exec_command",
			Pattern:        regexp.MustCompile(`exec\.Command`),
			Issue:          "Spawning processes with os/exec",
			Severity:       SeverityHigh,
			Recommendation: "Avoid building commands from user input",
		},
		{
			Name:           "unsafe_pointer",
			Pattern:        regexp.MustCompile(`unsafe\.Pointer`),
			Issue:          "unsafe.Pointer bypasses memory safety",
			Severity:       SeverityMedium,
			Recommendation: "Restrict unsafe to audited low-level packages",
		},
	},
}

// Rules returns the rules applied to lang, common rules first.
func Rules(lang runtime.Language) []Rule {
	rules := make([]Rule, 0, len(commonRules)+len(languageRules[lang]))
	rules = append(rules, commonRules...)
	return append(rules, languageRules[lang]...)
}

// Recommendations returns the generic hardening advice attached to every
// security report.
func Recommendations() []string {
	out := make([]string, len(baseRecommendations))
	copy(out, baseRecommendations)
	return out
}

// ScanSecurity matches every file of the project line by line against the
// language's rules. A line may produce several findings.
func (a *Analyzer) ScanSecurity(p *project.Project) (*SecurityReport, error) {
	rt, err := a.resolve(p)
	if err != nil {
		return nil, err
	}

	rules := Rules(rt.Language())
	files := p.SourceFiles(rt)
	findings := []SecurityFinding{}
	for _, name := range p.FileNames(rt) {
		for i, line := range strings.Split(files[name], "\n") {
			for _, r := range rules {
				if !r.Pattern.MatchString(line) {
					continue
				}
				findings = append(findings, SecurityFinding{
					File:           name,
					Line:           i + 1,
					Rule:           r.Name,
					Issue:          r.Issue,
					Severity:       r.Severity,
					Recommendation: r.Recommendation,
				})
				a.metrics.RecordSecurityFinding(r.Name, string(r.Severity))
			}
		}
	}

	report := &SecurityReport{
		Vulnerable:      len(findings) > 0,
		Findings:        findings,
		Recommendations: Recommendations(),
	}

	if report.Vulnerable {
		sev := alert.SeverityWarning
		for _, f := range findings {
			if f.Severity == SeverityHigh {
				sev = alert.SeverityCritical
				break
			}
		}
		log.Warn().
			Str("project_id", p.ID).
			Str("language", string(rt.Language())).
			Int("findings", len(findings)).
			Str("alert_severity", string(sev)).
			Msg("security findings detected")
		a.emit(alert.TypeSecurity, sev, "Security findings detected", map[string]any{"findings": findings}, p.ID)
	}
	return report, nil
}
