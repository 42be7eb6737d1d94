// Package workspace materializes a project onto the host filesystem so it can
// be bind-mounted into a sandbox container.
package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"

	"ide-sandbox/internal/project"
	"ide-sandbox/internal/runtime"
	"ide-sandbox/internal/source"
)

var (
	ErrInvalidExecutionID = errors.New("invalid execution id")
	ErrPathEscape         = errors.New("file path escapes workspace")
)

// Workspace is a prepared per-execution directory.
type Workspace struct {
	Path string
	// EntryFile is the name, relative to Path, the run command starts from.
	EntryFile string
}

// Builder lays out workspaces under a single root directory.
type Builder struct {
	root     string
	runtimes *runtime.Registry
}

// DefaultRoot is used when no workspace root is configured.
func DefaultRoot() string {
	return filepath.Join(os.TempDir(), "ide-sandbox")
}

func NewBuilder(root string, runtimes *runtime.Registry) *Builder {
	if root == "" {
		root = DefaultRoot()
	}
	if runtimes == nil {
		runtimes = runtime.NewRegistry()
	}
	return &Builder{root: root, runtimes: runtimes}
}

// Root returns the directory workspaces are created under.
func (b *Builder) Root() string {
	return b.root
}

// Prepare writes p into a fresh directory named after executionID. Any
// directory left over under the same id is replaced.
func (b *Builder) Prepare(p *project.Project, executionID string) (*Workspace, error) {
	dir, err := b.dir(executionID)
	if err != nil {
		return nil, err
	}
	rt, err := b.runtimes.Get(p.Language)
	if err != nil {
		return nil, err
	}

	if err := os.RemoveAll(dir); err != nil {
		return nil, fmt.Errorf("clearing workspace: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating workspace: %w", err)
	}
	// The container user is not the host user; toolchains write build
	// outputs next to the sources.
	if err := os.Chmod(dir, 0o777); err != nil { // #nosec G302 -- sandbox-only scratch dir
		return nil, fmt.Errorf("chmod workspace: %w", err)
	}

	entry := rt.EntryFile()
	for name, contents := range p.Files {
		rel := project.NormalizeFileName(rt, name)
		if rel == entry {
			continue
		}
		if err := writeFile(dir, rel, contents); err != nil {
			return nil, err
		}
	}
	entrySrc := p.EntrySource(rt)
	if err := writeFile(dir, entry, entrySrc); err != nil {
		return nil, err
	}

	// A *source.CompileError is returned unwrapped; callers report it as
	// program output.
	if t, ok := rt.(runtime.Transpiled); ok {
		js, err := source.TranspileTypeScript(entrySrc)
		if err != nil {
			return nil, err
		}
		if err := writeFile(dir, t.RunTarget(), js); err != nil {
			return nil, err
		}
	}

	log.Debug().
		Str("exec_id", executionID).
		Str("path", dir).
		Int("files", len(p.Files)).
		Msg("workspace prepared")

	return &Workspace{Path: dir, EntryFile: entry}, nil
}

// Remove deletes the workspace for executionID. Removing a workspace that
// does not exist is not an error.
func (b *Builder) Remove(executionID string) error {
	dir, err := b.dir(executionID)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("removing workspace: %w", err)
	}
	return nil
}

// ValidateExecutionID reports whether id can name a workspace directory.
func ValidateExecutionID(id string) error {
	if id == "" || id == "." || id == ".." ||
		strings.ContainsAny(id, `/\`) || strings.ContainsRune(id, 0) {
		return fmt.Errorf("%w: %q", ErrInvalidExecutionID, id)
	}
	return nil
}

func (b *Builder) dir(executionID string) (string, error) {
	if err := ValidateExecutionID(executionID); err != nil {
		return "", err
	}
	return filepath.Join(b.root, executionID), nil
}

func writeFile(dir, rel, contents string) error {
	target := filepath.Join(dir, filepath.FromSlash(rel))
	inside, err := filepath.Rel(dir, target)
	if err != nil || inside == ".." || strings.HasPrefix(inside, ".."+string(filepath.Separator)) {
		return fmt.Errorf("%w: %s", ErrPathEscape, rel)
	}

	if err := os.MkdirAll(filepath.Dir(target), 0o777); err != nil { // #nosec G301
		return fmt.Errorf("creating directory for %s: %w", rel, err)
	}
	if err := os.WriteFile(target, []byte(contents), 0o644); err != nil { // #nosec G306 -- read by container user
		return fmt.Errorf("writing %s: %w", rel, err)
	}
	return nil
}
