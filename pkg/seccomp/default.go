package seccomp

import (
	"encoding/json"
	"fmt"

	specs "github.com/opencontainers/runtime-spec/specs-go"
)

// Group is a named set of syscalls sharing one action.
type Group struct {
	Name     string
	Action   specs.LinuxSeccompAction
	Syscalls []string
}

// Order matters: Lookup and the kernel filter both take the first match.
var groups = []Group{
	{"file-io", specs.ActAllow, []string{
		"read", "write", "readv", "writev", "pread64", "pwrite64", "lseek",
		"open", "openat", "close", "fcntl", "dup", "dup2", "dup3",
		"pipe", "pipe2", "poll", "ppoll", "select", "pselect6",
	}},
	{"file-meta", specs.ActAllow, []string{
		"stat", "fstat", "lstat", "newfstatat", "statx", "statfs", "fstatfs",
		"access", "faccessat", "faccessat2", "readlink", "readlinkat",
		"getdents", "getdents64", "getcwd", "chdir", "fchdir", "umask",
	}},
	{"file-mutation", specs.ActAllow, []string{
		"chmod", "fchmod", "fchmodat", "chown", "fchown", "fchownat", "lchown",
		"rename", "renameat", "renameat2", "unlink", "unlinkat", "rmdir",
		"mkdir", "mkdirat", "symlink", "symlinkat", "link", "linkat",
		"ftruncate", "fallocate", "fsync", "fdatasync", "flock",
		"utimensat", "futimesat", "copy_file_range", "sendfile", "fadvise64",
	}},
	{"memory", specs.ActAllow, []string{
		"brk", "mmap", "munmap", "mprotect", "mremap", "madvise",
		"mincore", "membarrier", "memfd_create",
	}},
	{"process", specs.ActAllow, []string{
		"execve", "execveat", "clone", "clone3", "vfork",
		"exit", "exit_group", "wait4", "waitid",
		"set_tid_address", "set_robust_list", "get_robust_list", "rseq",
		"arch_prctl", "prctl", "capget", "getrlimit", "setrlimit", "prlimit64",
		"getpgrp", "getpgid", "setpgid", "getsid", "setsid",
	}},
	{"identity", specs.ActAllow, []string{
		"getpid", "getppid", "gettid", "getuid", "geteuid", "getgid", "getegid",
		"getgroups", "getresuid", "getresgid", "uname", "sysinfo",
	}},
	{"signals", specs.ActAllow, []string{
		"rt_sigaction", "rt_sigprocmask", "rt_sigreturn", "rt_sigtimedwait", "rt_sigsuspend",
		"sigaltstack", "kill", "tkill", "tgkill", "restart_syscall",
	}},
	{"scheduling", specs.ActAllow, []string{
		"futex", "sched_yield", "sched_getaffinity", "sched_getparam", "sched_getscheduler",
		"clock_gettime", "clock_getres", "gettimeofday", "nanosleep", "clock_nanosleep",
		"getrusage", "times", "timerfd_create", "timerfd_settime", "timerfd_gettime",
	}},
	{"events", specs.ActAllow, []string{
		"epoll_create1", "epoll_ctl", "epoll_wait", "epoll_pwait", "eventfd2",
		"inotify_init1", "inotify_add_watch", "inotify_rm_watch",
		"getrandom", "ioctl",
	}},
	// Probing for escape primitives kills the process.
	{"escape-primitives", specs.ActTrap, []string{
		"ptrace", "process_vm_readv", "process_vm_writev",
		"bpf", "perf_event_open", "userfaultfd",
		"keyctl", "add_key", "request_key",
		"init_module", "finit_module", "delete_module", "kexec_load", "kexec_file_load",
	}},
	{"host-admin", specs.ActErrno, []string{
		"mount", "umount2", "pivot_root", "setns", "unshare",
		"sethostname", "setdomainname", "settimeofday", "adjtimex", "clock_adjtime",
		"reboot", "swapon", "swapoff", "acct", "personality",
		"ioperm", "iopl", "nfsservctl", "lookup_dcookie",
	}},
}

// Groups returns a copy of the rule groups DefaultProfile is built from.
func Groups() []Group {
	out := make([]Group, len(groups))
	for i, g := range groups {
		out[i] = Group{Name: g.Name, Action: g.Action, Syscalls: append([]string(nil), g.Syscalls...)}
	}
	return out
}

// DefaultProfile returns a deny-by-default seccomp profile allowing what the
// interpreters and compilers of every supported language need. Socket
// syscalls fall through to the default action.
func DefaultProfile() *specs.LinuxSeccomp {
	b := NewBuilder()
	for _, g := range groups {
		switch g.Action {
		case specs.ActAllow:
			b.AllowSyscalls(g.Syscalls...)
		case specs.ActTrap:
			b.TrapSyscalls(g.Syscalls...)
		default:
			b.BlockSyscalls(g.Syscalls...)
		}
	}
	return b.Build()
}

// DockerProfileJSON returns DefaultProfile encoded for the Docker engine's
// "seccomp=<profile>" security option. The engine accepts the OCI field names.
func DockerProfileJSON() ([]byte, error) {
	data, err := json.Marshal(DefaultProfile())
	if err != nil {
		return nil, fmt.Errorf("encoding seccomp profile: %w", err)
	}
	return data, nil
}
