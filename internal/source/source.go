// Package source wraps the in-process parsers used for syntax diagnostics,
// TypeScript lowering and static literal extraction.
package source

import "fmt"

// Diagnostic is one parser message. Line and Column are 1-based; zero means
// the parser did not report a position.
type Diagnostic struct {
	Line    int
	Column  int
	Message string
	Warning bool
}

func (d Diagnostic) String() string {
	if d.Line == 0 {
		return d.Message
	}
	return fmt.Sprintf("%d:%d: %s", d.Line, d.Column, d.Message)
}

// Literal is a simple `name = literal` binding found in source text.
type Literal struct {
	Name  string
	Value string
	// Type is the JavaScript typeof of the value, or the Go kind.
	Type string
	Line int
}

// Source tags identify which parser produced a diagnostic.
const (
	TagJavaScript = "goja"
	TagTypeScript = "esbuild"
	TagGo         = "go/parser"
)
