package source

import (
	"fmt"
	"strings"

	"github.com/evanw/esbuild/pkg/api"
)

var tsOptions = api.TransformOptions{
	Loader:     api.LoaderTS,
	Format:     api.FormatCommonJS,
	Target:     api.ES2018,
	Sourcefile: "main.ts",
	LogLevel:   api.LogLevelSilent,
}

// TypeScriptResult is the outcome of lowering TypeScript to JavaScript.
type TypeScriptResult struct {
	Code        string
	Diagnostics []Diagnostic
}

// HasErrors reports whether any diagnostic is an error.
func (r TypeScriptResult) HasErrors() bool {
	for _, d := range r.Diagnostics {
		if !d.Warning {
			return true
		}
	}
	return false
}

// CompileTypeScript transpiles src to CommonJS targeting ES2018. Types are
// stripped, not checked.
func CompileTypeScript(src string) TypeScriptResult {
	res := api.Transform(src, tsOptions)
	out := TypeScriptResult{Code: string(res.Code)}
	for _, m := range res.Errors {
		out.Diagnostics = append(out.Diagnostics, esbuildDiagnostic(m, false))
	}
	for _, m := range res.Warnings {
		out.Diagnostics = append(out.Diagnostics, esbuildDiagnostic(m, true))
	}
	return out
}

// ParseTypeScript returns the transpiler's diagnostics for src.
func ParseTypeScript(src string) []Diagnostic {
	return CompileTypeScript(src).Diagnostics
}

// CompileError carries the transpiler errors for a program that does not
// compile. It is a fault in the user's code, not in the engine.
type CompileError struct {
	File        string
	Diagnostics []Diagnostic
}

func (e *CompileError) Error() string {
	msgs := make([]string, len(e.Diagnostics))
	for i, d := range e.Diagnostics {
		msgs[i] = d.String()
	}
	return "typescript: " + strings.Join(msgs, "; ")
}

// Report formats the errors one per line, compiler style.
func (e *CompileError) Report() string {
	var b strings.Builder
	for _, d := range e.Diagnostics {
		b.WriteString(e.File)
		if d.Line > 0 {
			fmt.Fprintf(&b, ":%d:%d", d.Line, d.Column)
		}
		b.WriteString(": error: ")
		b.WriteString(d.Message)
		b.WriteByte('\n')
	}
	return b.String()
}

// TranspileTypeScript returns the lowered JavaScript, or a *CompileError
// listing the transpiler errors.
func TranspileTypeScript(src string) (string, error) {
	res := CompileTypeScript(src)
	if res.HasErrors() {
		ce := &CompileError{File: tsOptions.Sourcefile}
		for _, d := range res.Diagnostics {
			if !d.Warning {
				ce.Diagnostics = append(ce.Diagnostics, d)
			}
		}
		return "", ce
	}
	return res.Code, nil
}

func esbuildDiagnostic(m api.Message, warning bool) Diagnostic {
	d := Diagnostic{Message: m.Text, Warning: warning}
	if m.Location != nil {
		d.Line = m.Location.Line
		d.Column = m.Location.Column + 1
	}
	return d
}
