package sandbox

import (
	"context"
	"strings"
	"testing"
	"time"

	"ide-sandbox/internal/project"
	"ide-sandbox/internal/runtime"
	"ide-sandbox/internal/workspace"
)

func TestDockerExecutor_ContainerConfig(t *testing.T) {
	spec := ContainerSpec{
		Name:         "sandbox-exec-1",
		Image:        "python:3.11-alpine",
		Cmd:          []string{"python3", "main.py"},
		Env:          []string{"PYTHONUNBUFFERED=1"},
		WorkspaceDir: "/tmp/ide-sandbox/exec-1",
		Limits: runtime.Limits{
			MemoryBytes: 256 << 20,
			NanoCPUs:    1_000_000_000,
			PidsLimit:   64,
			Timeout:     8 * time.Second,
		},
		Labels: map[string]string{LabelManaged: "true"},
	}

	tests := []struct {
		name        string
		opts        DockerOptions
		seccomp     string
		wantSeccomp bool
		wantUser    string
	}{
		{"runtime default filter", DockerOptions{}, "", false, ""},
		{"strict filter", DockerOptions{Strict: true, User: "65534:65534"}, `{"defaultAction":"SCMP_ACT_ERRNO"}`, true, "65534:65534"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &DockerExecutor{opts: tt.opts, seccompJSON: tt.seccomp}
			cfg, host := d.containerConfig(spec)

			if cfg.WorkingDir != "/workspace" {
				t.Errorf("WorkingDir = %q, want /workspace", cfg.WorkingDir)
			}
			if !cfg.NetworkDisabled || host.NetworkMode != "none" {
				t.Errorf("network not disabled: NetworkDisabled=%v NetworkMode=%q", cfg.NetworkDisabled, host.NetworkMode)
			}
			if cfg.User != tt.wantUser {
				t.Errorf("User = %q, want %q", cfg.User, tt.wantUser)
			}
			if cfg.Labels[LabelManaged] != "true" {
				t.Errorf("Labels = %v", cfg.Labels)
			}
			if len(host.Binds) != 1 || host.Binds[0] != "/tmp/ide-sandbox/exec-1:/workspace:rw" {
				t.Errorf("Binds = %v", host.Binds)
			}
			if !host.ReadonlyRootfs {
				t.Error("ReadonlyRootfs = false, want true")
			}
			if len(host.CapDrop) != 1 || host.CapDrop[0] != "ALL" {
				t.Errorf("CapDrop = %v, want [ALL]", host.CapDrop)
			}
			if host.Memory != spec.Limits.MemoryBytes || host.MemorySwap != spec.Limits.MemoryBytes {
				t.Errorf("Memory = %d, MemorySwap = %d, want %d", host.Memory, host.MemorySwap, spec.Limits.MemoryBytes)
			}
			if host.NanoCPUs != spec.Limits.NanoCPUs {
				t.Errorf("NanoCPUs = %d, want %d", host.NanoCPUs, spec.Limits.NanoCPUs)
			}
			if host.PidsLimit == nil || *host.PidsLimit != 64 {
				t.Errorf("PidsLimit = %v, want 64", host.PidsLimit)
			}
			if host.Tmpfs["/tmp"] != tmpfsOptions(0) {
				t.Errorf("Tmpfs = %v", host.Tmpfs)
			}

			var hasNoNewPrivs, hasSeccomp bool
			for _, opt := range host.SecurityOpt {
				if opt == "no-new-privileges" {
					hasNoNewPrivs = true
				}
				if strings.HasPrefix(opt, "seccomp=") {
					hasSeccomp = true
				}
			}
			if !hasNoNewPrivs {
				t.Error("no-new-privileges missing")
			}
			if hasSeccomp != tt.wantSeccomp {
				t.Errorf("seccomp option present = %v, want %v", hasSeccomp, tt.wantSeccomp)
			}
		})
	}
}

// TestDockerExecutor_HelloWorld runs every language's template against a
// real engine.
func TestDockerExecutor_HelloWorld(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping docker integration test in short mode")
	}

	ctx := context.Background()
	exec, err := NewDockerExecutor(ctx, DockerOptions{PullImages: true})
	if err != nil {
		t.Skipf("docker not available: %v", err)
	}
	defer exec.Close()

	reg := runtime.NewRegistry()
	r := NewRunner(exec, workspace.NewBuilder(t.TempDir(), reg), reg, Options{})

	for _, lang := range reg.Languages() {
		t.Run(string(lang), func(t *testing.T) {
			rt, _ := reg.Get(lang)
			res, err := r.Run(ctx, project.New(rt, "hello", ""), "it-"+string(lang))
			if err != nil {
				t.Fatalf("Run() error = %v", err)
			}
			if res.ExitCode != 0 || res.TimedOut {
				t.Fatalf("Result = %+v", res)
			}
			if !strings.Contains(strings.ToLower(res.Stdout), "hello") {
				t.Errorf("Stdout = %q, want a greeting", res.Stdout)
			}
		})
	}
}
