package sandbox

import (
	"strconv"
	"strings"

	specs "github.com/opencontainers/runtime-spec/specs-go"

	"ide-sandbox/pkg/seccomp"
)

// SecurityProfile is the isolation applied to every sandbox. A nil Seccomp
// keeps the container runtime's own default filter.
type SecurityProfile struct {
	Seccomp       *specs.LinuxSeccomp
	Capabilities  []string
	Namespaces    []specs.LinuxNamespace
	MaskedPaths   []string
	ReadonlyPaths []string
	// User is "uid[:gid]"; empty keeps the image default.
	User string
}

// DefaultSecurityProfile drops every capability and isolates the pid,
// network, mount, uts and ipc namespaces. With strict set the pkg/seccomp
// allow-list replaces the runtime's default filter.
func DefaultSecurityProfile(strict bool, user string) SecurityProfile {
	p := SecurityProfile{
		Capabilities: []string{},
		Namespaces: []specs.LinuxNamespace{
			{Type: specs.PIDNamespace},
			{Type: specs.NetworkNamespace},
			{Type: specs.MountNamespace},
			{Type: specs.UTSNamespace},
			{Type: specs.IPCNamespace},
		},
		MaskedPaths: []string{
			"/proc/acpi",
			"/proc/kcore",
			"/proc/keys",
			"/proc/latency_stats",
			"/proc/timer_list",
			"/proc/timer_stats",
			"/proc/sched_debug",
			"/proc/scsi",
			"/sys/firmware",
			"/sys/devices/virtual/powercap",
		},
		ReadonlyPaths: []string{
			"/proc/asound",
			"/proc/bus",
			"/proc/fs",
			"/proc/irq",
			"/proc/sys",
			"/proc/sysrq-trigger",
		},
		User: user,
	}
	if strict {
		p.Seccomp = seccomp.DefaultProfile()
	}
	return p
}

// ApplySecurityProfile writes profile into an OCI spec and makes the root
// filesystem read-only.
func ApplySecurityProfile(spec *specs.Spec, profile SecurityProfile) {
	if spec.Linux == nil {
		spec.Linux = &specs.Linux{}
	}
	if spec.Process == nil {
		spec.Process = &specs.Process{}
	}
	if spec.Process.Capabilities == nil {
		spec.Process.Capabilities = &specs.LinuxCapabilities{}
	}

	if profile.Seccomp != nil {
		spec.Linux.Seccomp = profile.Seccomp
	}
	spec.Process.Capabilities.Bounding = profile.Capabilities
	spec.Process.Capabilities.Effective = profile.Capabilities
	spec.Process.Capabilities.Inheritable = profile.Capabilities
	spec.Process.Capabilities.Permitted = profile.Capabilities
	spec.Process.Capabilities.Ambient = profile.Capabilities

	spec.Linux.Namespaces = profile.Namespaces
	spec.Linux.MaskedPaths = profile.MaskedPaths
	spec.Linux.ReadonlyPaths = profile.ReadonlyPaths

	spec.Process.NoNewPrivileges = true
	if uid, gid, ok := parseUser(profile.User); ok {
		spec.Process.User = specs.User{UID: uid, GID: gid}
	}

	if spec.Root != nil {
		spec.Root.Readonly = true
	}
}

// parseUser accepts "uid" or "uid:gid" with numeric ids.
func parseUser(s string) (uid, gid uint32, ok bool) {
	if s == "" {
		return 0, 0, false
	}
	u, g, hasGID := strings.Cut(s, ":")
	uv, err := strconv.ParseUint(u, 10, 32)
	if err != nil {
		return 0, 0, false
	}
	gv := uv
	if hasGID {
		gv, err = strconv.ParseUint(g, 10, 32)
		if err != nil {
			return 0, 0, false
		}
	}
	return uint32(uv), uint32(gv), true
}
