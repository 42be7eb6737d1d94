package sandbox

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"regexp"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"ide-sandbox/internal/monitor"
	"ide-sandbox/internal/project"
	"ide-sandbox/internal/runtime"
	"ide-sandbox/internal/source"
	"ide-sandbox/internal/workspace"
)

const (
	maxStdout = 1 << 20
	maxStderr = 256 * 1024

	defaultDrainTimeout = 2 * time.Second
	defaultStopTimeout  = 10 * time.Second

	kindRun    = "run"
	kindSyntax = "check_syntax"
)

// Result is the outcome of one sandboxed process. Non-zero exits, timeouts,
// compile errors and container runtime failures are all reported here rather
// than as errors.
type Result struct {
	Stdout   string        `json:"stdout"`
	Stderr   string        `json:"stderr"`
	ExitCode int           `json:"exit_code"`
	TimedOut bool          `json:"timed_out"`
	Duration time.Duration `json:"duration"`
}

// Options tunes a Runner. Zero values select defaults.
type Options struct {
	// DrainTimeout bounds how long output collection may run after the
	// process has exited or been stopped.
	DrainTimeout time.Duration
	// StopTimeout bounds the forced stop and the container removal.
	StopTimeout time.Duration
	Metrics     *monitor.Metrics
	Tracer      *monitor.Tracer
}

// Runner executes projects in throwaway containers. Every call gets its own
// workspace and container; nothing is shared between concurrent calls.
type Runner struct {
	exec       ContainerExecutor
	demux      Demuxer
	workspaces *workspace.Builder
	runtimes   *runtime.Registry
	metrics    *monitor.Metrics
	tracer     *monitor.Tracer

	drainTimeout time.Duration
	stopTimeout  time.Duration

	active atomic.Int64
}

func NewRunner(exec ContainerExecutor, workspaces *workspace.Builder, runtimes *runtime.Registry, opts Options) *Runner {
	if runtimes == nil {
		runtimes = runtime.NewRegistry()
	}
	if workspaces == nil {
		workspaces = workspace.NewBuilder("", runtimes)
	}
	if opts.DrainTimeout <= 0 {
		opts.DrainTimeout = defaultDrainTimeout
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = defaultStopTimeout
	}

	r := &Runner{
		exec:         exec,
		workspaces:   workspaces,
		runtimes:     runtimes,
		metrics:      opts.Metrics,
		tracer:       opts.Tracer,
		drainTimeout: opts.DrainTimeout,
		stopTimeout:  opts.StopTimeout,
	}
	if d, ok := exec.(Demuxer); ok {
		r.demux = d
	} else {
		log.Warn().
			Str("backend", backendName(exec)).
			Msg("executor cannot separate output streams, all output is reported as stdout")
	}
	return r
}

// Run executes the project's run command in a workspace named executionID.
func (r *Runner) Run(ctx context.Context, p *project.Project, executionID string) (*Result, error) {
	rt, err := r.resolve(p, executionID)
	if err != nil {
		return nil, err
	}
	return r.execute(ctx, p, rt, executionID, kindRun, rt.Command)
}

// CheckSyntax runs the language's compile-only command. Languages without
// one report success without starting a container.
func (r *Runner) CheckSyntax(ctx context.Context, p *project.Project) (*Result, error) {
	execID := "syntax-" + uuid.New().String()
	rt, err := r.resolve(p, execID)
	if err != nil {
		return nil, err
	}
	if _, ok := rt.SyntaxCommand(rt.EntryFile()); !ok {
		return &Result{ExitCode: 0}, nil
	}
	return r.execute(ctx, p, rt, execID, kindSyntax, func(entry string) []string {
		cmd, _ := rt.SyntaxCommand(entry)
		return cmd
	})
}

func (r *Runner) resolve(p *project.Project, execID string) (runtime.Runtime, error) {
	if p == nil {
		return nil, &ExecutionError{ExecID: execID, Op: "validate", Err: fmt.Errorf("%w: project is nil", ErrInvalidRequest)}
	}
	rt, err := r.runtimes.Get(p.Language)
	if err != nil {
		return nil, &ExecutionError{ExecID: execID, Op: "get_runtime", Err: fmt.Errorf("%w: %s", ErrUnsupportedLang, p.Language)}
	}
	// A misconfigured runtime is a server fault, not a bad request.
	if err := ValidateLimits(rt.Limits()); err != nil {
		return nil, &ExecutionError{ExecID: execID, Op: "validate_limits", Err: fmt.Errorf("runtime %s: %s", rt.Language(), err)}
	}
	return rt, nil
}

func (r *Runner) execute(
	ctx context.Context,
	p *project.Project,
	rt runtime.Runtime,
	execID, kind string,
	command func(entry string) []string,
) (*Result, error) {
	codeHash := fmt.Sprintf("%x", sha256.Sum256([]byte(p.EntrySource(rt))))

	logger := log.With().
		Str("exec_id", execID).
		Str("language", string(rt.Language())).
		Str("code_hash", codeHash[:16]).
		Str("kind", kind).
		Logger()

	ctx, span := r.tracer.StartSpan(ctx, kind,
		monitor.AttrExecID.String(execID),
		monitor.AttrProjectID.String(p.ID),
		monitor.AttrLanguage.String(string(rt.Language())),
		monitor.AttrCodeHash.String(codeHash[:16]),
	)

	defer func() {
		if err := r.workspaces.Remove(execID); err != nil && !errors.Is(err, workspace.ErrInvalidExecutionID) {
			logger.Warn().Err(err).Msg("workspace cleanup failed")
		}
	}()

	start := time.Now()
	ws, err := r.workspaces.Prepare(p, execID)
	var compileErr *source.CompileError
	if errors.As(err, &compileErr) {
		res := &Result{Stderr: compileErr.Report(), ExitCode: 1, Duration: time.Since(start)}
		r.metrics.RecordExecution(string(rt.Language()), kind, "failed", res.Duration.Seconds(), len(p.EntrySource(rt)), len(res.Stderr))
		span.SetAttributes(monitor.AttrExitCode.Int(res.ExitCode))
		monitor.EndSpan(span, nil)
		logger.Info().Int("diagnostics", len(compileErr.Diagnostics)).Msg("program does not compile, container not started")
		return res, nil
	}
	if err != nil {
		err = &ExecutionError{ExecID: execID, Op: "prepare_workspace", Err: err}
		monitor.EndSpan(span, err)
		return nil, err
	}

	spec := ContainerSpec{
		Name:         containerName(execID),
		Image:        rt.Image(),
		Cmd:          command(ws.EntryFile),
		Env:          rt.Env(),
		WorkingDir:   containerMount,
		WorkspaceDir: ws.Path,
		Limits:       rt.Limits(),
		Labels: map[string]string{
			LabelManaged:  "true",
			LabelExecID:   execID,
			LabelLanguage: string(rt.Language()),
		},
	}

	logger.Info().Strs("cmd", spec.Cmd).Msg("execution requested")

	res := r.launch(ctx, spec, logger)

	status := "ok"
	switch {
	case res.TimedOut:
		status = "timeout"
	case res.ExitCode != 0:
		status = "failed"
	}
	r.metrics.RecordExecution(string(rt.Language()), kind, status, res.Duration.Seconds(),
		len(p.EntrySource(rt)), len(res.Stdout)+len(res.Stderr))

	span.SetAttributes(
		monitor.AttrExitCode.Int(res.ExitCode),
		monitor.AttrTimedOut.Bool(res.TimedOut),
		monitor.AttrDurationMS.Int64(res.Duration.Milliseconds()),
	)
	monitor.EndSpan(span, nil)

	logger.Info().
		Int("exit_code", res.ExitCode).
		Bool("timed_out", res.TimedOut).
		Dur("duration", res.Duration).
		Msg("execution completed")

	return res, nil
}

// launch drives one container from create to removal. Runtime failures are
// folded into the returned Result.
func (r *Runner) launch(ctx context.Context, spec ContainerSpec, logger zerolog.Logger) *Result {
	start := time.Now()
	failed := func(op string, err error) *Result {
		r.metrics.RecordError(op)
		logger.Error().Err(err).Str("op", op).Msg("container runtime failure")
		return &Result{Stderr: err.Error(), ExitCode: -1, Duration: time.Since(start)}
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	id, err := r.exec.Create(runCtx, spec)
	if err != nil {
		return failed("create", err)
	}
	r.active.Add(1)
	r.metrics.SandboxStarted()
	defer func() {
		rmCtx, rmCancel := context.WithTimeout(context.Background(), r.stopTimeout)
		defer rmCancel()
		if err := r.exec.Remove(rmCtx, id); err != nil {
			logger.Error().Err(err).Msg("container cleanup failed")
		}
		r.active.Add(-1)
		r.metrics.SandboxFinished()
	}()

	stream, err := r.exec.Attach(runCtx, id)
	if err != nil {
		return failed("attach", err)
	}
	defer stream.Close()

	stdout := &cappedBuffer{max: maxStdout}
	stderr := &cappedBuffer{max: maxStderr}
	var g errgroup.Group
	g.Go(func() error {
		if r.demux != nil {
			return r.demux.Demux(stdout, stderr, stream)
		}
		_, err := io.Copy(stdout, stream)
		return err
	})
	abort := func(op string, err error) *Result {
		_ = stream.Close()
		_ = g.Wait()
		return failed(op, err)
	}

	waitCh, err := r.exec.Wait(runCtx, id)
	if err != nil {
		return abort("wait", err)
	}
	if err := r.exec.Start(runCtx, id); err != nil {
		return abort("start", err)
	}

	timer := time.NewTimer(spec.Limits.Timeout)
	defer timer.Stop()

	res := &Result{}
	var canceled error
	select {
	case st := <-waitCh:
		if st.Err != nil {
			return abort("wait", st.Err)
		}
		res.ExitCode = int(st.Code)
	case <-timer.C:
		logger.Warn().Dur("timeout", spec.Limits.Timeout).Msg("execution timed out, stopping container")
		r.stop(id, logger)
		res.TimedOut = true
		res.ExitCode = -1
	case <-ctx.Done():
		logger.Warn().Err(ctx.Err()).Msg("execution canceled, stopping container")
		r.stop(id, logger)
		res.ExitCode = -1
		canceled = ctx.Err()
	}

	r.drain(stream, &g, logger)

	res.Stdout = stdout.String()
	res.Stderr = stderr.String()
	if canceled != nil {
		res.Stderr = appendLine(res.Stderr, canceled.Error())
	}
	res.Duration = time.Since(start)
	return res
}

// stop forces the container down and returns once the runtime acknowledged
// it, so removal never races a still-running process.
func (r *Runner) stop(id string, logger zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), r.stopTimeout)
	defer cancel()
	if err := r.exec.Stop(ctx, id); err != nil {
		r.metrics.RecordError("stop")
		logger.Error().Err(err).Msg("failed to stop container")
	}
}

// drain waits for output collection to finish. If the stream outlives the
// drain timeout it is closed, which unblocks the collector.
func (r *Runner) drain(stream io.Closer, g *errgroup.Group, logger zerolog.Logger) {
	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	timer := time.NewTimer(r.drainTimeout)
	defer timer.Stop()

	var err error
	select {
	case err = <-done:
	case <-timer.C:
		logger.Warn().Dur("drain_timeout", r.drainTimeout).Msg("output stream still open, closing it")
		_ = stream.Close()
		err = <-done
	}
	if err != nil && !errors.Is(err, io.ErrClosedPipe) {
		logger.Debug().Err(err).Msg("output collection ended with error")
	}
}

// ActiveCount returns the number of containers currently alive.
func (r *Runner) ActiveCount() int64 {
	return r.active.Load()
}

// Ping checks the container runtime.
func (r *Runner) Ping(ctx context.Context) error {
	return r.exec.Ping(ctx)
}

// Backend names the container runtime in use.
func (r *Runner) Backend() string {
	return backendName(r.exec)
}

func (r *Runner) Close() error {
	return r.exec.Close()
}

var containerNameRe = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_.-]{0,100}$`)

// containerName derives a runtime-safe name; ids the runtime would reject
// get a random suffix instead.
func containerName(execID string) string {
	if containerNameRe.MatchString(execID) {
		return namePrefix + execID
	}
	return namePrefix + uuid.New().String()
}

// cappedBuffer keeps the first max bytes written to it and discards the
// rest while still reporting full writes.
type cappedBuffer struct {
	buf       bytes.Buffer
	max       int
	truncated bool
}

func (c *cappedBuffer) Write(p []byte) (int, error) {
	room := c.max - c.buf.Len()
	if room <= 0 {
		c.truncated = c.truncated || len(p) > 0
		return len(p), nil
	}
	if len(p) > room {
		c.buf.Write(p[:room])
		c.truncated = true
		return len(p), nil
	}
	c.buf.Write(p)
	return len(p), nil
}

func (c *cappedBuffer) String() string {
	if c.truncated {
		return c.buf.String() + "\n... [output truncated]"
	}
	return c.buf.String()
}

func appendLine(s, line string) string {
	if s == "" || s[len(s)-1] == '\n' {
		return s + line
	}
	return s + "\n" + line
}
