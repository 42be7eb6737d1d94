package sandbox

import (
	"context"
	"fmt"
	"io"
	"sync"
	"syscall"
	"time"

	"github.com/containerd/containerd"
	"github.com/containerd/containerd/cio"
	"github.com/containerd/containerd/containers"
	"github.com/containerd/containerd/errdefs"
	"github.com/containerd/containerd/namespaces"
	"github.com/containerd/containerd/oci"
	"github.com/docker/docker/pkg/stdcopy"
	specs "github.com/opencontainers/runtime-spec/specs-go"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog/log"
)

// Client wraps the containerd client with connection management and health checking.
type Client struct {
	inner     *containerd.Client
	socket    string
	namespace string

	mu     sync.RWMutex
	closed bool
}

// NewClient creates a new containerd client wrapper.
func NewClient(ctx context.Context, socket, namespace string) (*Client, error) {
	inner, err := containerd.New(socket,
		containerd.WithDefaultNamespace(namespace),
		containerd.WithTimeout(5*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to containerd at %s: %w", socket, err)
	}

	if _, err := inner.Version(ctx); err != nil {
		_ = inner.Close()
		return nil, fmt.Errorf("containerd health check failed: %w", err)
	}

	log.Info().
		Str("socket", socket).
		Str("namespace", namespace).
		Msg("connected to containerd")

	return &Client{
		inner:     inner,
		socket:    socket,
		namespace: namespace,
	}, nil
}

// Raw returns the underlying containerd client for direct API usage.
func (c *Client) Raw() *containerd.Client {
	return c.inner
}

// WithNamespace returns a context with the configured namespace.
func (c *Client) WithNamespace(ctx context.Context) context.Context {
	return namespaces.WithNamespace(ctx, c.namespace)
}

// Healthy returns nil if the containerd connection is alive.
func (c *Client) Healthy(ctx context.Context) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return fmt.Errorf("containerd client closed")
	}
	if _, err := c.inner.Version(ctx); err != nil {
		return fmt.Errorf("containerd unavailable: %w", err)
	}
	return nil
}

// Close shuts down the containerd client.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	if c.inner != nil {
		return c.inner.Close()
	}
	return nil
}

// PullImage returns ref from the local store, pulling it first if allowed.
func (c *Client) PullImage(ctx context.Context, ref string, pull bool) (containerd.Image, error) {
	ctx = c.WithNamespace(ctx)

	image, err := c.inner.GetImage(ctx, ref)
	if err == nil {
		return image, nil
	}
	if !pull {
		return nil, fmt.Errorf("image %s not present: %w", ref, err)
	}

	log.Info().Str("ref", ref).Msg("pulling image")

	image, err = c.inner.Pull(ctx, ref,
		containerd.WithPullUnpack,
	)
	if err != nil {
		return nil, fmt.Errorf("pulling image %s: %w", ref, err)
	}

	log.Info().Str("ref", ref).Msg("image pulled successfully")
	return image, nil
}

// ContainerdOptions configures a ContainerdExecutor.
type ContainerdOptions struct {
	User          string
	TmpfsBytes    int64
	PullImages    bool
	CleanupPeriod time.Duration
}

// ContainerdExecutor drives containerd directly. The task is created at
// Attach time with stdout and stderr framed onto one pipe in the Docker
// multiplexed format, so the same Demux applies to both backends.
type ContainerdExecutor struct {
	client *Client
	opts   ContainerdOptions
	state  *xsync.MapOf[string, *ctrdContainer]

	cancelCleanup context.CancelFunc
}

type ctrdContainer struct {
	container containerd.Container

	mu   sync.Mutex
	task containerd.Task
	pw   *io.PipeWriter
}

func (c *ctrdContainer) closePipe(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pw != nil {
		_ = c.pw.CloseWithError(err)
		c.pw = nil
	}
}

func NewContainerdExecutor(client *Client, opts ContainerdOptions) *ContainerdExecutor {
	e := &ContainerdExecutor{
		client: client,
		opts:   opts,
		state:  xsync.NewMapOf[string, *ctrdContainer](),
	}
	if opts.CleanupPeriod > 0 {
		ctx, cancel := context.WithCancel(context.Background())
		e.cancelCleanup = cancel
		go e.orphanCleanupLoop(ctx, opts.CleanupPeriod)
	}
	return e
}

func (e *ContainerdExecutor) Name() string { return "containerd" }

func (e *ContainerdExecutor) Ping(ctx context.Context) error {
	return e.client.Healthy(ctx)
}

func (e *ContainerdExecutor) Create(ctx context.Context, spec ContainerSpec) (string, error) {
	image, err := e.client.PullImage(ctx, spec.Image, e.opts.PullImages)
	if err != nil {
		return "", err
	}

	workdir := spec.WorkingDir
	if workdir == "" {
		workdir = containerMount
	}
	// containerd has no runtime default filter to fall back on.
	profile := DefaultSecurityProfile(true, e.opts.User)

	nsCtx := e.client.WithNamespace(ctx)
	ctr, err := e.client.Raw().NewContainer(nsCtx, spec.Name,
		containerd.WithImage(image),
		containerd.WithNewSnapshot(spec.Name+"-snapshot", image),
		containerd.WithContainerLabels(spec.Labels),
		containerd.WithNewSpec(
			oci.WithImageConfig(image),
			oci.WithProcessArgs(spec.Cmd...),
			oci.WithProcessCwd(workdir),
			oci.WithEnv(spec.Env),
			oci.WithHostname("sandbox"),
			func(_ context.Context, _ oci.Client, _ *containers.Container, s *specs.Spec) error {
				ApplySecurityProfile(s, profile)
				ApplyResourceLimits(s, spec.Limits, e.opts.TmpfsBytes)

				s.Mounts = append(s.Mounts, specs.Mount{
					Destination: workdir,
					Type:        "bind",
					Source:      spec.WorkspaceDir,
					Options:     []string{"rbind", "rw"},
				})
				return nil
			},
		),
	)
	if err != nil {
		return "", fmt.Errorf("creating container %s: %w", spec.Name, err)
	}

	e.state.Store(ctr.ID(), &ctrdContainer{container: ctr})
	return ctr.ID(), nil
}

func (e *ContainerdExecutor) lookup(id string) (*ctrdContainer, error) {
	c, ok := e.state.Load(id)
	if !ok {
		return nil, fmt.Errorf("container %s: %w", id, errdefs.ErrNotFound)
	}
	return c, nil
}

func (e *ContainerdExecutor) Attach(ctx context.Context, id string) (io.ReadCloser, error) {
	c, err := e.lookup(id)
	if err != nil {
		return nil, err
	}

	pr, pw := io.Pipe()
	task, err := c.container.NewTask(e.client.WithNamespace(ctx),
		cio.NewCreator(cio.WithStreams(nil,
			stdcopy.NewStdWriter(pw, stdcopy.Stdout),
			stdcopy.NewStdWriter(pw, stdcopy.Stderr),
		)),
	)
	if err != nil {
		_ = pw.Close()
		_ = pr.Close()
		return nil, fmt.Errorf("creating task for %s: %w", id, err)
	}

	c.mu.Lock()
	c.task = task
	c.pw = pw
	c.mu.Unlock()
	return pr, nil
}

// Wait requires Attach to have created the task. Once the task exits it is
// deleted, which flushes its IO, and the output pipe is closed.
func (e *ContainerdExecutor) Wait(ctx context.Context, id string) (<-chan ExitStatus, error) {
	c, err := e.lookup(id)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	task := c.task
	c.mu.Unlock()
	if task == nil {
		return nil, fmt.Errorf("waiting for %s: task not created", id)
	}

	exitCh, err := task.Wait(e.client.WithNamespace(ctx))
	if err != nil {
		return nil, fmt.Errorf("waiting for %s: %w", id, err)
	}

	out := make(chan ExitStatus, 1)
	go func() {
		status := <-exitCh
		code, exitErr := status.ExitCode(), status.Error()

		delCtx, cancel := context.WithTimeout(e.client.WithNamespace(context.Background()), 10*time.Second)
		if _, err := task.Delete(delCtx); err != nil && !errdefs.IsNotFound(err) {
			log.Warn().Err(err).Str("container_id", id).Msg("failed to delete task")
		}
		cancel()
		c.closePipe(nil)

		st := ExitStatus{Code: int64(code)}
		if exitErr != nil {
			st.Code = -1
			st.Err = fmt.Errorf("waiting for %s: %w", id, exitErr)
		}
		out <- st
	}()
	return out, nil
}

func (e *ContainerdExecutor) Start(ctx context.Context, id string) error {
	c, err := e.lookup(id)
	if err != nil {
		return err
	}
	c.mu.Lock()
	task := c.task
	c.mu.Unlock()
	if task == nil {
		return fmt.Errorf("starting %s: task not created", id)
	}
	if err := task.Start(e.client.WithNamespace(ctx)); err != nil {
		return fmt.Errorf("starting %s: %w", id, err)
	}
	return nil
}

func (e *ContainerdExecutor) Stop(ctx context.Context, id string) error {
	c, err := e.lookup(id)
	if err != nil {
		return err
	}
	c.mu.Lock()
	task := c.task
	c.mu.Unlock()
	if task == nil {
		return nil
	}
	if err := task.Kill(e.client.WithNamespace(ctx), syscall.SIGKILL); err != nil && !errdefs.IsNotFound(err) {
		return fmt.Errorf("killing %s: %w", id, err)
	}
	return nil
}

func (e *ContainerdExecutor) Remove(ctx context.Context, id string) error {
	c, ok := e.state.LoadAndDelete(id)
	if !ok {
		return nil
	}
	c.closePipe(nil)
	return e.cleanupContainer(ctx, c.container)
}

func (e *ContainerdExecutor) Demux(stdout, stderr io.Writer, src io.Reader) error {
	_, err := stdcopy.StdCopy(stdout, stderr, src)
	return err
}

func (e *ContainerdExecutor) Close() error {
	if e.cancelCleanup != nil {
		e.cancelCleanup()
	}
	return e.client.Close()
}
