package sandbox

import (
	"context"
	"io"

	"ide-sandbox/internal/runtime"
)

// Labels set on every container this service creates.
const (
	LabelManaged   = "ide-sandbox.managed"
	LabelExecID    = "ide-sandbox.exec_id"
	LabelLanguage  = "ide-sandbox.language"
	containerMount = "/workspace"
	namePrefix     = "sandbox-"
)

// ContainerSpec describes one sandboxed process.
type ContainerSpec struct {
	Name         string
	Image        string
	Cmd          []string
	Env          []string
	WorkingDir   string
	WorkspaceDir string // host directory mounted read-write at WorkingDir
	Limits       runtime.Limits
	Labels       map[string]string
}

// ExitStatus is delivered once on the channel returned by Wait.
type ExitStatus struct {
	Code int64
	Err  error
}

// ContainerExecutor is the container runtime the Runner drives. Wait must be
// called before Start so a fast exit is never missed.
type ContainerExecutor interface {
	Create(ctx context.Context, spec ContainerSpec) (string, error)
	// Attach returns the container's combined output. Closing it releases
	// the stream.
	Attach(ctx context.Context, id string) (io.ReadCloser, error)
	Wait(ctx context.Context, id string) (<-chan ExitStatus, error)
	Start(ctx context.Context, id string) error
	// Stop kills the container without a grace period.
	Stop(ctx context.Context, id string) error
	Remove(ctx context.Context, id string) error
	Ping(ctx context.Context) error
	Close() error
}

// Demuxer is implemented by executors whose Attach stream interleaves
// stdout and stderr in a framed format.
type Demuxer interface {
	Demux(stdout, stderr io.Writer, src io.Reader) error
}

// Named is implemented by executors that report a backend name.
type Named interface {
	Name() string
}

func backendName(e ContainerExecutor) string {
	if n, ok := e.(Named); ok {
		return n.Name()
	}
	return "custom"
}
