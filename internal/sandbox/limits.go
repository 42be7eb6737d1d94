package sandbox

import (
	"fmt"

	specs "github.com/opencontainers/runtime-spec/specs-go"

	"ide-sandbox/internal/runtime"
)

const (
	cfsPeriod    = uint64(100000) // 100ms in microseconds
	minCFSQuota  = int64(1000)    // 1ms
	nofileLimit  = 256
	stackLimit   = 8 << 20
	defaultTmpfs = int64(64 << 20)
)

// ValidateLimits rejects limits a container runtime would refuse or that
// would leave the sandbox unbounded.
func ValidateLimits(l runtime.Limits) error {
	if l.MemoryBytes < 16<<20 {
		return fmt.Errorf("%w: memory must be >= 16MB, got %d bytes", ErrInvalidRequest, l.MemoryBytes)
	}
	if l.NanoCPUs < 10_000_000 {
		return fmt.Errorf("%w: nano_cpus must be >= 0.01 CPU, got %d", ErrInvalidRequest, l.NanoCPUs)
	}
	if l.PidsLimit < 1 {
		return fmt.Errorf("%w: pids_limit must be >= 1, got %d", ErrInvalidRequest, l.PidsLimit)
	}
	if l.Timeout <= 0 {
		return fmt.Errorf("%w: timeout must be positive", ErrInvalidRequest)
	}
	return nil
}

// cfsQuota converts a CPU count in billionths to a CFS quota for cfsPeriod.
func cfsQuota(nanoCPUs int64) int64 {
	quota := int64(float64(nanoCPUs) / 1e9 * float64(cfsPeriod))
	if quota < minCFSQuota {
		quota = minCFSQuota
	}
	return quota
}

// ApplyResourceLimits writes l into an OCI spec as a hard CPU quota, a
// memory ceiling with swap equal to memory, a pids ceiling and a tmpfs /tmp.
func ApplyResourceLimits(spec *specs.Spec, l runtime.Limits, tmpfsBytes int64) {
	if spec.Linux == nil {
		spec.Linux = &specs.Linux{}
	}
	if spec.Linux.Resources == nil {
		spec.Linux.Resources = &specs.LinuxResources{}
	}
	if spec.Process == nil {
		spec.Process = &specs.Process{}
	}
	if tmpfsBytes <= 0 {
		tmpfsBytes = defaultTmpfs
	}

	period := cfsPeriod
	quota := cfsQuota(l.NanoCPUs)
	spec.Linux.Resources.CPU = &specs.LinuxCPU{
		Period: &period,
		Quota:  &quota,
	}

	memory := l.MemoryBytes
	swap := l.MemoryBytes
	spec.Linux.Resources.Memory = &specs.LinuxMemory{
		Limit: &memory,
		Swap:  &swap,
	}

	spec.Linux.Resources.Pids = &specs.LinuxPids{
		Limit: l.PidsLimit,
	}

	spec.Mounts = appendIfNotExists(spec.Mounts, specs.Mount{
		Destination: "/tmp",
		Type:        "tmpfs",
		Source:      "tmpfs",
		Options: []string{
			"nosuid", "nodev",
			fmt.Sprintf("size=%d", tmpfsBytes),
			"mode=1777",
		},
	})

	spec.Process.Rlimits = []specs.POSIXRlimit{
		{Type: "RLIMIT_NOFILE", Hard: nofileLimit, Soft: nofileLimit},
		{Type: "RLIMIT_NPROC", Hard: safeUint64(l.PidsLimit), Soft: safeUint64(l.PidsLimit)},
		{Type: "RLIMIT_CORE", Hard: 0, Soft: 0},
		{Type: "RLIMIT_STACK", Hard: stackLimit, Soft: stackLimit},
	}
}

func tmpfsOptions(tmpfsBytes int64) string {
	if tmpfsBytes <= 0 {
		tmpfsBytes = defaultTmpfs
	}
	return fmt.Sprintf("rw,nosuid,nodev,size=%d", tmpfsBytes)
}

func safeUint64(v int64) uint64 {
	if v < 0 {
		return 0
	}
	return uint64(v)
}

func appendIfNotExists(mounts []specs.Mount, m specs.Mount) []specs.Mount {
	for _, existing := range mounts {
		if existing.Destination == m.Destination {
			return mounts
		}
	}
	return append(mounts, m)
}
