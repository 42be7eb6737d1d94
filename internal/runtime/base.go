package runtime

import (
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/google/shlex"
)

// EntryFileToken is replaced with the entry file name in command templates.
const EntryFileToken = "{{ENTRY_FILE}}"

// ErrUnsupportedLanguage is returned for languages outside the closed set.
var ErrUnsupportedLanguage = errors.New("unsupported language")

// Language identifies one of the supported source languages.
type Language string

const (
	Python     Language = "python"
	JavaScript Language = "javascript"
	TypeScript Language = "typescript"
	Java       Language = "java"
	Cpp        Language = "cpp"
	Go         Language = "go"
)

var aliases = map[string]Language{
	"py":     Python,
	"js":     JavaScript,
	"node":   JavaScript,
	"ts":     TypeScript,
	"c++":    Cpp,
	"golang": Go,
}

// Languages returns every supported language in a stable order.
func Languages() []Language {
	return []Language{Python, JavaScript, TypeScript, Java, Cpp, Go}
}

// ParseLanguage resolves a user-supplied name or alias.
func ParseLanguage(s string) (Language, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for _, l := range Languages() {
		if string(l) == name {
			return l, nil
		}
	}
	if l, ok := aliases[name]; ok {
		return l, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedLanguage, s)
}

// Limits are the resource ceilings applied to one sandboxed process.
type Limits struct {
	MemoryBytes int64         `json:"memory_bytes"`
	NanoCPUs    int64         `json:"nano_cpus"`
	PidsLimit   int64         `json:"pids_limit"`
	Timeout     time.Duration `json:"timeout"`
}

// DefaultPidsLimit caps the process count of every sandbox.
const DefaultPidsLimit = 64

// Runtime describes how to execute and syntax-check code for one language.
type Runtime interface {
	// Language returns the language this runtime serves.
	Language() Language

	// Image returns the container image reference.
	Image() string

	// EntryFile returns the canonical file name the toolchain starts from.
	EntryFile() string

	// Command returns the argv that runs the program rooted at entry.
	Command(entry string) []string

	// SyntaxCommand returns the argv of a compile-only check, if the
	// language has one.
	SyntaxCommand(entry string) ([]string, bool)

	Limits() Limits

	// Env returns extra environment variables for the container.
	Env() []string

	// DefaultCode returns a hello-world program.
	DefaultCode() string
}

// Transpiled is implemented by runtimes whose source is lowered ahead of
// time; RunTarget names the generated file the run command targets.
type Transpiled interface {
	RunTarget() string
}

// base carries the table-driven parts shared by every runtime.
type base struct {
	lang       Language
	image      string
	entry      string
	runTmpl    string
	syntaxTmpl string
	limits     Limits
	env        []string
	hello      string
}

func (b *base) Language() Language { return b.lang }

func (b *base) Image() string { return b.image }

func (b *base) EntryFile() string { return b.entry }

func (b *base) Command(entry string) []string {
	return expand(b.runTmpl, entry)
}

func (b *base) SyntaxCommand(entry string) ([]string, bool) {
	if b.syntaxTmpl == "" {
		return nil, false
	}
	return expand(b.syntaxTmpl, entry), true
}

func (b *base) Limits() Limits { return b.limits }

func (b *base) Env() []string {
	env := make([]string, len(b.env))
	copy(env, b.env)
	return env
}

func (b *base) DefaultCode() string { return b.hello }

// Extension returns the entry file extension including the dot.
func Extension(rt Runtime) string {
	return path.Ext(rt.EntryFile())
}

// expand substitutes the entry file into a template and splits it into argv.
// Templates are compiled in, so a split error means a broken table entry.
func expand(tmpl, entry string) []string {
	cmd := strings.ReplaceAll(tmpl, EntryFileToken, entry)
	argv, err := shlex.Split(cmd)
	if err != nil {
		panic(fmt.Sprintf("runtime: malformed command template %q: %v", tmpl, err))
	}
	return argv
}

// Registry maps languages to their Runtime implementations.
type Registry struct {
	runtimes map[Language]Runtime
}

// NewRegistry creates a registry holding every supported runtime. It panics
// if a language of the closed set is left without an implementation.
func NewRegistry() *Registry {
	r := &Registry{
		runtimes: make(map[Language]Runtime),
	}
	r.Register(NewPythonRuntime())
	r.Register(NewJavaScriptRuntime())
	r.Register(NewTypeScriptRuntime())
	r.Register(NewJavaRuntime())
	r.Register(NewCppRuntime())
	r.Register(NewGoRuntime())

	for _, l := range Languages() {
		if _, ok := r.runtimes[l]; !ok {
			panic(fmt.Sprintf("runtime: no implementation registered for %q", l))
		}
	}
	return r
}

// Register adds or replaces a runtime.
func (r *Registry) Register(rt Runtime) {
	r.runtimes[rt.Language()] = rt
}

// Get returns the runtime for the given language.
func (r *Registry) Get(lang Language) (Runtime, error) {
	rt, ok := r.runtimes[lang]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedLanguage, lang)
	}
	return rt, nil
}

// Languages returns all registered languages, sorted.
func (r *Registry) Languages() []Language {
	langs := make([]Language, 0, len(r.runtimes))
	for l := range r.runtimes {
		langs = append(langs, l)
	}
	sort.Slice(langs, func(i, j int) bool { return langs[i] < langs[j] })
	return langs
}

// Images returns the distinct container images needed by registered runtimes.
func (r *Registry) Images() []string {
	seen := make(map[string]struct{})
	images := make([]string, 0, len(r.runtimes))
	for _, rt := range r.runtimes {
		if _, ok := seen[rt.Image()]; ok {
			continue
		}
		seen[rt.Image()] = struct{}{}
		images = append(images, rt.Image())
	}
	sort.Strings(images)
	return images
}
