package sandbox

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog/log"

	"ide-sandbox/pkg/seccomp"
)

// DockerOptions configures a DockerExecutor.
type DockerOptions struct {
	Host          string // empty uses DOCKER_HOST or the platform default
	Strict        bool   // apply the pkg/seccomp profile
	User          string
	TmpfsBytes    int64
	PullImages    bool
	CleanupPeriod time.Duration // 0 disables the periodic orphan sweep
}

// DockerExecutor drives the Docker engine API.
type DockerExecutor struct {
	cli  *client.Client
	opts DockerOptions

	seccompJSON string
	// live holds containers created by this process; the orphan sweep
	// leaves them alone.
	live   *xsync.MapOf[string, time.Time]
	images *xsync.MapOf[string, struct{}]

	cancelCleanup context.CancelFunc
}

// NewDockerExecutor connects to the engine and verifies it answers.
func NewDockerExecutor(ctx context.Context, opts DockerOptions) (*DockerExecutor, error) {
	clientOpts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if opts.Host != "" {
		clientOpts = append(clientOpts, client.WithHost(opts.Host))
	}
	cli, err := client.NewClientWithOpts(clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("creating docker client: %w", err)
	}

	d := &DockerExecutor{
		cli:    cli,
		opts:   opts,
		live:   xsync.NewMapOf[string, time.Time](),
		images: xsync.NewMapOf[string, struct{}](),
	}
	if opts.Strict {
		profile, err := seccomp.DockerProfileJSON()
		if err != nil {
			_ = cli.Close()
			return nil, err
		}
		d.seccompJSON = string(profile)
	}

	if err := d.Ping(ctx); err != nil {
		_ = cli.Close()
		return nil, err
	}

	log.Info().
		Str("host", cli.DaemonHost()).
		Str("api_version", cli.ClientVersion()).
		Bool("strict_seccomp", opts.Strict).
		Msg("connected to docker")

	if opts.CleanupPeriod > 0 {
		cleanupCtx, cancel := context.WithCancel(context.Background())
		d.cancelCleanup = cancel
		go d.orphanCleanupLoop(cleanupCtx, opts.CleanupPeriod)
	}
	return d, nil
}

func (d *DockerExecutor) Name() string { return "docker" }

func (d *DockerExecutor) Ping(ctx context.Context) error {
	if _, err := d.cli.Ping(ctx); err != nil {
		return fmt.Errorf("docker daemon not reachable: %w", err)
	}
	return nil
}

func (d *DockerExecutor) Create(ctx context.Context, spec ContainerSpec) (string, error) {
	if d.opts.PullImages {
		if err := d.ensureImage(ctx, spec.Image); err != nil {
			return "", err
		}
	}

	cfg, hostCfg := d.containerConfig(spec)
	resp, err := d.cli.ContainerCreate(ctx, cfg, hostCfg, nil, nil, spec.Name)
	if err != nil {
		return "", fmt.Errorf("creating container %s: %w", spec.Name, err)
	}
	for _, w := range resp.Warnings {
		log.Warn().Str("container", spec.Name).Msg(w)
	}
	d.live.Store(resp.ID, time.Now())
	return resp.ID, nil
}

// containerConfig maps spec onto the engine's create request. The workspace
// is the only writable mount besides /tmp.
func (d *DockerExecutor) containerConfig(spec ContainerSpec) (*container.Config, *container.HostConfig) {
	workdir := spec.WorkingDir
	if workdir == "" {
		workdir = containerMount
	}

	cfg := &container.Config{
		Image:           spec.Image,
		Cmd:             spec.Cmd,
		Env:             spec.Env,
		WorkingDir:      workdir,
		User:            d.opts.User,
		AttachStdout:    true,
		AttachStderr:    true,
		Labels:          spec.Labels,
		NetworkDisabled: true,
	}

	securityOpt := []string{"no-new-privileges"}
	if d.seccompJSON != "" {
		securityOpt = append(securityOpt, "seccomp="+d.seccompJSON)
	}

	pids := spec.Limits.PidsLimit
	hostCfg := &container.HostConfig{
		Binds:          []string{fmt.Sprintf("%s:%s:rw", spec.WorkspaceDir, workdir)},
		NetworkMode:    "none",
		CapDrop:        []string{"ALL"},
		SecurityOpt:    securityOpt,
		ReadonlyRootfs: true,
		Tmpfs:          map[string]string{"/tmp": tmpfsOptions(d.opts.TmpfsBytes)},
		Resources: container.Resources{
			Memory:     spec.Limits.MemoryBytes,
			MemorySwap: spec.Limits.MemoryBytes,
			NanoCPUs:   spec.Limits.NanoCPUs,
			PidsLimit:  &pids,
		},
	}
	return cfg, hostCfg
}

func (d *DockerExecutor) ensureImage(ctx context.Context, ref string) error {
	if _, ok := d.images.Load(ref); ok {
		return nil
	}
	if _, _, err := d.cli.ImageInspectWithRaw(ctx, ref); err == nil {
		d.images.Store(ref, struct{}{})
		return nil
	} else if !errdefs.IsNotFound(err) {
		return fmt.Errorf("inspecting image %s: %w", ref, err)
	}

	log.Info().Str("ref", ref).Msg("pulling image")
	rc, err := d.cli.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("pulling image %s: %w", ref, err)
	}
	defer rc.Close()
	// The pull completes only once the progress stream is consumed.
	if _, err := io.Copy(io.Discard, rc); err != nil {
		return fmt.Errorf("pulling image %s: %w", ref, err)
	}
	log.Info().Str("ref", ref).Msg("image pulled successfully")
	d.images.Store(ref, struct{}{})
	return nil
}

func (d *DockerExecutor) Attach(ctx context.Context, id string) (io.ReadCloser, error) {
	resp, err := d.cli.ContainerAttach(ctx, id, container.AttachOptions{
		Stream: true,
		Stdout: true,
		Stderr: true,
	})
	if err != nil {
		return nil, fmt.Errorf("attaching to %s: %w", id, err)
	}
	return &hijackedStream{resp: resp}, nil
}

// hijackedStream adapts the engine's hijacked connection to io.ReadCloser.
type hijackedStream struct {
	resp types.HijackedResponse
}

func (h *hijackedStream) Read(p []byte) (int, error) { return h.resp.Reader.Read(p) }

func (h *hijackedStream) Close() error {
	h.resp.Close()
	return nil
}

func (d *DockerExecutor) Wait(ctx context.Context, id string) (<-chan ExitStatus, error) {
	respCh, errCh := d.cli.ContainerWait(ctx, id, container.WaitConditionNextExit)
	out := make(chan ExitStatus, 1)
	go func() {
		select {
		case resp := <-respCh:
			st := ExitStatus{Code: resp.StatusCode}
			if resp.Error != nil && resp.Error.Message != "" {
				st.Err = fmt.Errorf("waiting for %s: %s", id, resp.Error.Message)
			}
			out <- st
		case err := <-errCh:
			out <- ExitStatus{Code: -1, Err: fmt.Errorf("waiting for %s: %w", id, err)}
		}
	}()
	return out, nil
}

func (d *DockerExecutor) Start(ctx context.Context, id string) error {
	if err := d.cli.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		return fmt.Errorf("starting %s: %w", id, err)
	}
	return nil
}

func (d *DockerExecutor) Stop(ctx context.Context, id string) error {
	noGrace := 0
	if err := d.cli.ContainerStop(ctx, id, container.StopOptions{Timeout: &noGrace}); err != nil {
		if errdefs.IsNotFound(err) {
			return nil
		}
		return fmt.Errorf("stopping %s: %w", id, err)
	}
	return nil
}

func (d *DockerExecutor) Remove(ctx context.Context, id string) error {
	defer d.live.Delete(id)
	err := d.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: true, RemoveVolumes: true})
	if err != nil && !errdefs.IsNotFound(err) {
		return fmt.Errorf("removing %s: %w", id, err)
	}
	return nil
}

// Demux splits the engine's multiplexed attach stream.
func (d *DockerExecutor) Demux(stdout, stderr io.Writer, src io.Reader) error {
	_, err := stdcopy.StdCopy(stdout, stderr, src)
	return err
}

// CleanupOrphaned force-removes managed containers this process did not
// create, such as ones left behind by a crash.
func (d *DockerExecutor) CleanupOrphaned(ctx context.Context) (int, error) {
	list, err := d.cli.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("label", LabelManaged+"=true")),
	})
	if err != nil {
		return 0, fmt.Errorf("listing containers: %w", err)
	}

	var cleaned int
	for _, c := range list {
		if _, ok := d.live.Load(c.ID); ok {
			continue
		}
		logger := log.With().Str("container_id", c.ID).Strs("names", c.Names).Logger()
		logger.Warn().Msg("removing orphaned sandbox container")
		if err := d.cli.ContainerRemove(ctx, c.ID, container.RemoveOptions{Force: true}); err != nil && !errdefs.IsNotFound(err) {
			logger.Error().Err(err).Msg("failed to remove orphaned container")
			continue
		}
		cleaned++
	}
	return cleaned, nil
}

func (d *DockerExecutor) orphanCleanupLoop(ctx context.Context, every time.Duration) {
	sweep := func() {
		sweepCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		n, err := d.CleanupOrphaned(sweepCtx)
		if err != nil {
			log.Warn().Err(err).Msg("orphan cleanup failed")
		} else if n > 0 {
			log.Info().Int("count", n).Msg("cleaned up orphaned containers")
		}
	}

	sweep()
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			sweep()
		case <-ctx.Done():
			return
		}
	}
}

func (d *DockerExecutor) Close() error {
	if d.cancelCleanup != nil {
		d.cancelCleanup()
	}
	return d.cli.Close()
}
