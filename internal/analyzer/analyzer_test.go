package analyzer

import (
	"context"
	"errors"
	"strings"
	"testing"

	"ide-sandbox/internal/alert"
	"ide-sandbox/internal/project"
	"ide-sandbox/internal/runtime"
	"ide-sandbox/internal/sandbox"
)

type fakeChecker struct {
	result *sandbox.Result
	err    error
	calls  int
}

func (f *fakeChecker) CheckSyntax(context.Context, *project.Project) (*sandbox.Result, error) {
	f.calls++
	return f.result, f.err
}

func newProject(lang runtime.Language, files map[string]string) *project.Project {
	return &project.Project{ID: "proj-1", Language: lang, Files: files}
}

func newTestAnalyzer(checker SyntaxChecker) (*Analyzer, *alert.Bus) {
	bus := alert.NewBus(10)
	return New(checker, runtime.NewRegistry(), bus, nil), bus
}

func TestSyntax_InProcessParsers(t *testing.T) {
	tests := []struct {
		name      string
		lang      runtime.Language
		entry     string
		code      string
		wantValid bool
		wantTag   string
	}{
		{"javascript valid", runtime.JavaScript, "main.js", "const a = 1;\nconsole.log(a);\n", true, ""},
		{"javascript broken", runtime.JavaScript, "main.js", "const a = ;\n", false, "goja"},
		{"typescript valid", runtime.TypeScript, "main.ts", "const a: number = 1;\n", true, ""},
		{"typescript broken", runtime.TypeScript, "main.ts", "const a: number = ;\n", false, "esbuild"},
		{"go valid", runtime.Go, "main.go", "package main\n\nfunc main() {}\n", true, ""},
		{"go broken", runtime.Go, "main.go", "package main\n\nfunc main() {\n", false, "go/parser"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checker := &fakeChecker{}
			a, _ := newTestAnalyzer(checker)

			report, err := a.Syntax(context.Background(), newProject(tt.lang, map[string]string{tt.entry: tt.code}))
			if err != nil {
				t.Fatalf("Syntax() error = %v", err)
			}
			if report.Valid != tt.wantValid {
				t.Fatalf("Valid = %v, want %v (findings %+v)", report.Valid, tt.wantValid, report.Findings)
			}
			if checker.calls != 0 {
				t.Errorf("sandbox called %d times for an in-process language", checker.calls)
			}
			for _, f := range report.Findings {
				if f.Source != tt.wantTag {
					t.Errorf("Source = %q, want %q", f.Source, tt.wantTag)
				}
				if f.File != tt.entry {
					t.Errorf("File = %q, want %q", f.File, tt.entry)
				}
				if f.Severity == SeverityError && f.Line == 0 {
					t.Errorf("finding %+v has no line", f)
				}
			}
		})
	}
}

func TestSyntax_SandboxLanguages(t *testing.T) {
	tests := []struct {
		name        string
		result      *sandbox.Result
		wantValid   bool
		wantMessage string
	}{
		{"clean", &sandbox.Result{ExitCode: 0}, true, ""},
		{"compiler error", &sandbox.Result{ExitCode: 1, Stderr: "Main.java:1: error: ';' expected"}, false, "Main.java:1: error: ';' expected"},
		{"silent failure", &sandbox.Result{ExitCode: 1}, false, "Compiler reported an error"},
		{"warning on stderr", &sandbox.Result{ExitCode: 0, Stderr: "warning: unused"}, false, "warning: unused"},
		{"whitespace stderr", &sandbox.Result{ExitCode: 0, Stderr: "\n  \n"}, true, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checker := &fakeChecker{result: tt.result}
			a, _ := newTestAnalyzer(checker)

			report, err := a.Syntax(context.Background(), newProject(runtime.Java, map[string]string{"Main.java": "class Main {}"}))
			if err != nil {
				t.Fatalf("Syntax() error = %v", err)
			}
			if checker.calls != 1 {
				t.Errorf("sandbox called %d times, want 1", checker.calls)
			}
			if report.Valid != tt.wantValid {
				t.Fatalf("Valid = %v, want %v", report.Valid, tt.wantValid)
			}
			if tt.wantValid {
				return
			}
			if len(report.Findings) != 1 {
				t.Fatalf("got %d findings, want 1", len(report.Findings))
			}
			f := report.Findings[0]
			if f.Message != tt.wantMessage || f.Source != SourceSandbox || f.Severity != SeverityError || f.File != "Main.java" {
				t.Errorf("finding = %+v", f)
			}
		})
	}
}

func TestSyntax_SandboxErrorPropagates(t *testing.T) {
	wantErr := errors.New("workspace disk full")
	a, bus := newTestAnalyzer(&fakeChecker{err: wantErr})

	_, err := a.Syntax(context.Background(), newProject(runtime.Python, map[string]string{"main.py": "print(1)"}))
	if !errors.Is(err, wantErr) {
		t.Errorf("error = %v, want %v", err, wantErr)
	}
	if n := len(bus.Recent()); n != 0 {
		t.Errorf("got %d alerts, want 0", n)
	}
}

func TestSyntax_Metrics(t *testing.T) {
	a, _ := newTestAnalyzer(nil)
	p := newProject(runtime.JavaScript, map[string]string{
		"main.js": "const s = 'héllo';\nconsole.log(s);",
		"lib.js":  "module.exports = {};",
	})

	report, err := a.Syntax(context.Background(), p)
	if err != nil {
		t.Fatalf("Syntax() error = %v", err)
	}
	want := SyntaxMetrics{LineCount: 2, CharCount: 34, FileCount: 2}
	if report.Metrics != want {
		t.Errorf("Metrics = %+v, want %+v", report.Metrics, want)
	}
}

func TestSyntax_CharCountIsUTF16(t *testing.T) {
	a, _ := newTestAnalyzer(nil)

	tests := []struct {
		code string
		want int
	}{
		{"let s = 'abc';", 14},
		{"let s = 'é';", 12},
		// U+1F600 is a surrogate pair.
		{"let s = '\U0001F600';", 13},
	}
	for _, tt := range tests {
		p := newProject(runtime.JavaScript, map[string]string{"main.js": tt.code})
		report, err := a.Syntax(context.Background(), p)
		if err != nil {
			t.Fatalf("Syntax(%q) error = %v", tt.code, err)
		}
		if report.Metrics.CharCount != tt.want {
			t.Errorf("CharCount(%q) = %d, want %d", tt.code, report.Metrics.CharCount, tt.want)
		}
	}
}

func TestSyntax_Alerts(t *testing.T) {
	tests := []struct {
		name     string
		lang     runtime.Language
		files    map[string]string
		checker  *fakeChecker
		wantSev  alert.Severity
		wantNone bool
	}{
		{
			name:     "valid source",
			lang:     runtime.JavaScript,
			files:    map[string]string{"main.js": "let x = 1"},
			wantNone: true,
		},
		{
			name:    "errors raise a warning",
			lang:    runtime.JavaScript,
			files:   map[string]string{"main.js": "let x = ;"},
			wantSev: alert.SeverityWarning,
		},
		{
			name:    "sandbox finding",
			lang:    runtime.Cpp,
			files:   map[string]string{"main.cpp": "int main( {"},
			checker: &fakeChecker{result: &sandbox.Result{ExitCode: 1, Stderr: "error"}},
			wantSev: alert.SeverityWarning,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var checker SyntaxChecker
			if tt.checker != nil {
				checker = tt.checker
			}
			a, bus := newTestAnalyzer(checker)
			if _, err := a.Syntax(context.Background(), newProject(tt.lang, tt.files)); err != nil {
				t.Fatalf("Syntax() error = %v", err)
			}

			alerts := bus.Recent()
			if tt.wantNone {
				if len(alerts) != 0 {
					t.Errorf("got %d alerts, want 0", len(alerts))
				}
				return
			}
			if len(alerts) != 1 {
				t.Fatalf("got %d alerts, want 1", len(alerts))
			}
			got := alerts[0]
			if got.Type != alert.TypeSyntax || got.Severity != tt.wantSev || got.Message != "Syntax issues detected" || got.ProjectID != "proj-1" {
				t.Errorf("alert = %+v", got)
			}
			if _, ok := got.Details["findings"]; !ok {
				t.Error("alert details missing findings")
			}
		})
	}
}

func TestSyntax_InvalidProject(t *testing.T) {
	a, _ := newTestAnalyzer(nil)

	if _, err := a.Syntax(context.Background(), nil); !errors.Is(err, sandbox.ErrInvalidRequest) {
		t.Errorf("nil project: error = %v, want ErrInvalidRequest", err)
	}
	if _, err := a.Syntax(context.Background(), newProject("ruby", nil)); !errors.Is(err, sandbox.ErrUnsupportedLang) {
		t.Errorf("ruby: error = %v, want ErrUnsupportedLang", err)
	}
}

func TestScanSecurity_DynamicEvaluation(t *testing.T) {
	tests := []struct {
		lang     runtime.Language
		file     string
		code     string
		wantRule string
		wantSev  Severity
	}{
		{runtime.JavaScript, "main.js", "eval(input)", "eval", SeverityHigh},
		{runtime.JavaScript, "main.js", "const f = new Function('return 1')", "function_constructor", SeverityMedium},
		{runtime.JavaScript, "main.js", "child_process.exec('ls')", "child_process", SeverityHigh},
		{runtime.TypeScript, "main.ts", "eval(code as string)", "eval", SeverityHigh},
		{runtime.Python, "main.py", "exec(payload)", "exec", SeverityHigh},
		{runtime.Python, "main.py", "os.system('ls')", "os_system", SeverityMedium},
		{runtime.Python, "main.py", "subprocess.run(['ls'])", "subprocess", SeverityMedium},
		{runtime.Java, "Main.java", "Runtime.getRuntime().exec(cmd);", "runtime_exec", SeverityHigh},
		{runtime.Java, "Main.java", "new ProcessBuilder(\"ls\");", "process_builder", SeverityMedium},
		{runtime.Cpp, "main.cpp", "system(\"ls\");", "system", SeverityHigh},
		{runtime.Cpp, "main.cpp", "popen(\"ls\", \"r\");", "popen", SeverityMedium},
		{runtime.Go, "main.go", "exec.Command(\"ls\").Run()", "exec_command", SeverityHigh},
		{runtime.Go, "main.go", "p := unsafe.Pointer(&x)", "unsafe_pointer", SeverityMedium},
	}

	for _, tt := range tests {
		t.Run(tt.wantRule+"/"+string(tt.lang), func(t *testing.T) {
			a, _ := newTestAnalyzer(nil)
			report, err := a.ScanSecurity(newProject(tt.lang, map[string]string{tt.file: tt.code}))
			if err != nil {
				t.Fatalf("ScanSecurity() error = %v", err)
			}
			if !report.Vulnerable {
				t.Fatal("Vulnerable = false, want true")
			}
			var found bool
			for _, f := range report.Findings {
				if f.Rule == tt.wantRule {
					found = true
					if f.Severity != tt.wantSev {
						t.Errorf("Severity = %q, want %q", f.Severity, tt.wantSev)
					}
					if f.File != tt.file || f.Line != 1 {
						t.Errorf("location = %s:%d, want %s:1", f.File, f.Line, tt.file)
					}
				}
			}
			if !found {
				t.Errorf("rule %q not reported, findings %+v", tt.wantRule, report.Findings)
			}
		})
	}
}

func TestScanSecurity_ScansEveryFileAndLine(t *testing.T) {
	a, _ := newTestAnalyzer(nil)
	p := newProject(runtime.JavaScript, map[string]string{
		"main.js":    "const ok = 1;\nconst key = process.env['KEY']; eval(key);\n",
		"lib/run.js": "\n\nchild_process.spawn('sh')\n",
	})

	report, err := a.ScanSecurity(p)
	if err != nil {
		t.Fatalf("ScanSecurity() error = %v", err)
	}

	type loc struct {
		file string
		line int
		rule string
	}
	want := []loc{
		{"lib/run.js", 3, "child_process"},
		{"main.js", 2, "env_access"},
		{"main.js", 2, "eval"},
	}
	if len(report.Findings) != len(want) {
		t.Fatalf("got %d findings, want %d: %+v", len(report.Findings), len(want), report.Findings)
	}
	for i, w := range want {
		f := report.Findings[i]
		if f.File != w.file || f.Line != w.line || f.Rule != w.rule {
			t.Errorf("finding %d = %s:%d %s, want %s:%d %s", i, f.File, f.Line, f.Rule, w.file, w.line, w.rule)
		}
	}
}

func TestScanSecurity_Clean(t *testing.T) {
	a, bus := newTestAnalyzer(nil)
	report, err := a.ScanSecurity(newProject(runtime.Python, map[string]string{"main.py": "print('hi')\n"}))
	if err != nil {
		t.Fatalf("ScanSecurity() error = %v", err)
	}
	if report.Vulnerable || len(report.Findings) != 0 {
		t.Errorf("report = %+v, want clean", report)
	}
	if len(report.Recommendations) != 5 {
		t.Errorf("got %d recommendations, want 5", len(report.Recommendations))
	}
	if len(bus.Recent()) != 0 {
		t.Error("clean scan emitted an alert")
	}
}

func TestScanSecurity_Alerts(t *testing.T) {
	tests := []struct {
		name    string
		lang    runtime.Language
		file    string
		code    string
		wantSev alert.Severity
	}{
		{"high finding is critical", runtime.Python, "main.py", "exec('1')", alert.SeverityCritical},
		{"medium finding is a warning", runtime.Python, "main.py", "os.system('ls')", alert.SeverityWarning},
		{"low finding is a warning", runtime.Cpp, "main.cpp", "// process.env['X']", alert.SeverityWarning},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, bus := newTestAnalyzer(nil)
			if _, err := a.ScanSecurity(newProject(tt.lang, map[string]string{tt.file: tt.code})); err != nil {
				t.Fatalf("ScanSecurity() error = %v", err)
			}
			alerts := bus.Recent()
			if len(alerts) != 1 {
				t.Fatalf("got %d alerts, want 1", len(alerts))
			}
			if alerts[0].Type != alert.TypeSecurity || alerts[0].Severity != tt.wantSev {
				t.Errorf("alert = %s/%s, want security/%s", alerts[0].Type, alerts[0].Severity, tt.wantSev)
			}
		})
	}
}

func TestRecommendations_ReturnsCopy(t *testing.T) {
	r := Recommendations()
	r[0] = "changed"
	if Recommendations()[0] == "changed" {
		t.Error("Recommendations() exposes the shared slice")
	}
}

func TestAnalyze(t *testing.T) {
	a, bus := newTestAnalyzer(nil)
	p := newProject(runtime.JavaScript, map[string]string{"main.js": "eval(;"})

	report, err := a.Analyze(context.Background(), p)
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}
	if report.Syntax.Valid {
		t.Error("Syntax.Valid = true, want false")
	}
	if !report.Security.Vulnerable {
		t.Error("Security.Vulnerable = false, want true")
	}

	var types []string
	for _, al := range bus.Recent() {
		types = append(types, string(al.Type))
	}
	if got := strings.Join(types, ","); got != "security,syntax" {
		t.Errorf("alert types = %s, want security,syntax", got)
	}
}
