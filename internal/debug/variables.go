package debug

import (
	"regexp"
	"strings"

	"ide-sandbox/internal/runtime"
	"ide-sandbox/internal/source"
)

// MaxVariables caps every snapshot.
const MaxVariables = 25

const (
	scopeLocal  = "local"
	typeUnknown = "unknown"
)

var (
	jsDeclRe     = regexp.MustCompile(`(const|let|var)\s+([a-zA-Z_][\w]*)\s*=\s*([^;]+)`)
	pythonAssign = regexp.MustCompile(`([a-zA-Z_][\w]*)\s*=\s*([^#\n]+)`)
	cLikeDeclRe  = regexp.MustCompile(`(int|float|double|String|char|long)\s+([a-zA-Z_][\w]*)\s*=\s*([^;]+)`)
	goAssignRe   = regexp.MustCompile(`(?:var\s+([a-zA-Z_]\w*)(?:\s+[\w.\[\]*]+)?\s*=|([a-zA-Z_]\w*)\s*:=)\s*([^;\n]+)`)
)

// ExtractVariables returns the literal bindings declared in src. Languages
// with an in-process parser walk the syntax tree and fall back to a regex
// scan when that finds nothing; the rest use the regex scan directly.
func ExtractVariables(lang runtime.Language, src string) []Variable {
	switch lang {
	case runtime.JavaScript:
		return jsVariables(src)
	case runtime.TypeScript:
		res := source.CompileTypeScript(src)
		if res.HasErrors() {
			return jsVariables(src)
		}
		return jsVariables(res.Code)
	case runtime.Go:
		return goVariables(src)
	case runtime.Python:
		return scan(pythonAssign, src, 1, 2, 0)
	case runtime.Java, runtime.Cpp:
		return scan(cLikeDeclRe, src, 2, 3, 1)
	}
	return []Variable{}
}

func jsVariables(src string) []Variable {
	lits, err := source.JavaScriptLiterals(src)
	if err == nil && len(lits) > 0 {
		return fromLiterals(lits)
	}
	return scan(jsDeclRe, src, 2, 3, 0)
}

func goVariables(src string) []Variable {
	lits, err := source.GoLiterals(src)
	if err == nil && len(lits) > 0 {
		return fromLiterals(lits)
	}

	matches := goAssignRe.FindAllStringSubmatchIndex(src, MaxVariables)
	vars := make([]Variable, 0, len(matches))
	for _, m := range matches {
		name := group(src, m, 1)
		if name == "" {
			name = group(src, m, 2)
		}
		vars = append(vars, Variable{
			Name:  name,
			Value: strings.TrimSpace(group(src, m, 3)),
			Type:  typeUnknown,
			Scope: scopeLocal,
			Line:  lineAt(src, m[0]),
		})
	}
	return vars
}

func fromLiterals(lits []source.Literal) []Variable {
	if len(lits) > MaxVariables {
		lits = lits[:MaxVariables]
	}
	vars := make([]Variable, 0, len(lits))
	for _, l := range lits {
		vars = append(vars, Variable{
			Name:  l.Name,
			Value: l.Value,
			Type:  l.Type,
			Scope: scopeLocal,
			Line:  l.Line,
		})
	}
	return vars
}

// scan collects up to MaxVariables matches of re. typeGroup 0 means the
// type is unknown.
func scan(re *regexp.Regexp, src string, nameGroup, valueGroup, typeGroup int) []Variable {
	matches := re.FindAllStringSubmatchIndex(src, MaxVariables)
	vars := make([]Variable, 0, len(matches))
	for _, m := range matches {
		typ := typeUnknown
		if typeGroup > 0 {
			typ = group(src, m, typeGroup)
		}
		vars = append(vars, Variable{
			Name:  group(src, m, nameGroup),
			Value: strings.TrimSpace(group(src, m, valueGroup)),
			Type:  typ,
			Scope: scopeLocal,
			Line:  lineAt(src, m[0]),
		})
	}
	return vars
}

func group(src string, m []int, i int) string {
	if m[2*i] < 0 {
		return ""
	}
	return src[m[2*i]:m[2*i+1]]
}

func lineAt(src string, offset int) int {
	return strings.Count(src[:offset], "\n") + 1
}
