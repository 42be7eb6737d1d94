package sandbox

import (
	"strings"
	"testing"
	"time"

	specs "github.com/opencontainers/runtime-spec/specs-go"

	"ide-sandbox/internal/runtime"
)

func TestValidateLimits_RuntimeDefaults(t *testing.T) {
	reg := runtime.NewRegistry()
	for _, lang := range runtime.Languages() {
		rt, err := reg.Get(lang)
		if err != nil {
			t.Fatal(err)
		}
		if err := ValidateLimits(rt.Limits()); err != nil {
			t.Errorf("%s limits invalid: %v", lang, err)
		}
	}
}

func TestValidateLimits(t *testing.T) {
	ok := runtime.Limits{MemoryBytes: 256 << 20, NanoCPUs: 1e9, PidsLimit: 64, Timeout: time.Second}

	tests := []struct {
		name   string
		modify func(*runtime.Limits)
	}{
		{"memory too small", func(l *runtime.Limits) { l.MemoryBytes = 1 << 20 }},
		{"no cpu", func(l *runtime.Limits) { l.NanoCPUs = 0 }},
		{"no pids", func(l *runtime.Limits) { l.PidsLimit = 0 }},
		{"no timeout", func(l *runtime.Limits) { l.Timeout = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := ok
			tt.modify(&l)
			if err := ValidateLimits(l); !IsInvalidRequest(err) {
				t.Errorf("ValidateLimits() = %v, want ErrInvalidRequest", err)
			}
		})
	}
}

func TestCFSQuota(t *testing.T) {
	tests := []struct {
		nano int64
		want int64
	}{
		{1_000_000_000, 100000},
		{1_500_000_000, 150000},
		{500_000_000, 50000},
		{1, minCFSQuota},
	}
	for _, tt := range tests {
		if got := cfsQuota(tt.nano); got != tt.want {
			t.Errorf("cfsQuota(%d) = %d, want %d", tt.nano, got, tt.want)
		}
	}
}

func TestApplyResourceLimits(t *testing.T) {
	spec := &specs.Spec{Process: &specs.Process{}}
	l := runtime.Limits{MemoryBytes: 512 << 20, NanoCPUs: 1_500_000_000, PidsLimit: 64, Timeout: 12 * time.Second}

	ApplyResourceLimits(spec, l, 32<<20)

	res := spec.Linux.Resources
	if *res.CPU.Quota != 150000 || *res.CPU.Period != 100000 {
		t.Errorf("cpu = %d/%d, want 150000/100000", *res.CPU.Quota, *res.CPU.Period)
	}
	if *res.Memory.Limit != 512<<20 {
		t.Errorf("memory = %d, want %d", *res.Memory.Limit, int64(512<<20))
	}
	if *res.Memory.Swap != *res.Memory.Limit {
		t.Errorf("swap = %d, want equal to memory", *res.Memory.Swap)
	}
	if res.Pids.Limit != 64 {
		t.Errorf("pids = %d, want 64", res.Pids.Limit)
	}

	var tmp *specs.Mount
	for i := range spec.Mounts {
		if spec.Mounts[i].Destination == "/tmp" {
			tmp = &spec.Mounts[i]
		}
	}
	if tmp == nil {
		t.Fatal("no /tmp mount")
	}
	if tmp.Type != "tmpfs" || !strings.Contains(strings.Join(tmp.Options, ","), "size=33554432") {
		t.Errorf("/tmp mount = %+v", tmp)
	}

	// applying twice must not duplicate the mount
	ApplyResourceLimits(spec, l, 32<<20)
	count := 0
	for _, m := range spec.Mounts {
		if m.Destination == "/tmp" {
			count++
		}
	}
	if count != 1 {
		t.Errorf("/tmp mounts = %d, want 1", count)
	}
}
