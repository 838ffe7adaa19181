// Package sandbox executes untrusted code inside disposable, hardened Docker
// containers. Every execution gets its own container with no network, equal
// memory and swap ceilings, a process cap, a CPU quota, and — when available —
// the gVisor user-space-kernel runtime. The supervisor owns the container
// from create to removal and never leaks one on any exit path.
package sandbox

import (
	"context"
	"time"
)

// RuntimeMode selects which container runtime the supervisor may use.
type RuntimeMode string

const (
	// RuntimeAuto prefers the secure runtime and falls back to the default
	// runtime only when AllowUnsafeRuntime is set.
	RuntimeAuto RuntimeMode = "auto"
	// RuntimeSecure requires the secure runtime; execution is refused when
	// it is absent.
	RuntimeSecure RuntimeMode = "secure"
	// RuntimeStandard uses the daemon's default runtime. Selecting it still
	// requires AllowUnsafeRuntime.
	RuntimeStandard RuntimeMode = "standard"
)

// secureRuntimeName is the syscall-intercepting user-space-kernel runtime
// (gVisor).
const secureRuntimeName = "runsc"

const (
	defaultImage       = "python:3.11-slim"
	defaultTimeout     = 30 * time.Second
	defaultMemoryBytes = 256 << 20 // 256 MiB, no swap on top.
	defaultCPUCores    = 0.5
	defaultPIDsLimit   = 50
	defaultStreamBytes = 1 << 20 // Per-stream capture cap.

	// ContextMountPath is the fixed in-container path of the optional
	// read-only context file.
	ContextMountPath = "/mnt/context"

	// codeMountPath is the fixed in-container path of the read-only code
	// mount. The helper module sits beside the entry point, so untrusted
	// code imports it from here rather than receiving injected source.
	codeMountPath = "/opt/rlm"
)

// Config is the immutable per-execution sandbox configuration. A config
// applied to a run is never mutated; restarts require a fresh value.
type Config struct {
	Image              string        // Container image.
	Timeout            time.Duration // Wall-clock limit per execution.
	MemoryBytes        int64         // Hard memory ceiling; swap is pinned to the same value.
	CPUCores           float64       // Fractional CPU quota.
	PIDsLimit          int64         // Max processes (fork bomb protection).
	Runtime            RuntimeMode   // auto | secure | standard.
	NetworkEnabled     bool          // false = no network interface at all.
	AllowUnsafeRuntime bool          // Permit fallback when the secure runtime is absent.
	MaxStreamBytes     int64         // Per-stream stdout/stderr capture cap.
}

// withDefaults returns cfg with zero values replaced by defaults.
func (c Config) withDefaults() Config {
	if c.Image == "" {
		c.Image = defaultImage
	}
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	if c.MemoryBytes <= 0 {
		c.MemoryBytes = defaultMemoryBytes
	}
	if c.CPUCores <= 0 {
		c.CPUCores = defaultCPUCores
	}
	if c.PIDsLimit <= 0 {
		c.PIDsLimit = defaultPIDsLimit
	}
	if c.Runtime == "" {
		c.Runtime = RuntimeAuto
	}
	if c.MaxStreamBytes <= 0 {
		c.MaxStreamBytes = defaultStreamBytes
	}
	return c
}

// ExecOptions carries per-execution inputs beyond the code itself.
type ExecOptions struct {
	// ContextPath is an optional host file bound read-only at
	// ContextMountPath inside the container.
	ContextPath string
}

// ExecutionResult captures the outcome of one sandboxed run. OOM kills,
// timeouts, and non-zero exits are recorded here, not returned as errors.
type ExecutionResult struct {
	Stdout          string
	Stderr          string
	ExitCode        int
	TimedOut        bool
	OOMKilled       bool
	StdoutTruncated bool
	StderrTruncated bool
	Duration        time.Duration
}

// Success reports whether the run completed cleanly.
func (r *ExecutionResult) Success() bool {
	return r.ExitCode == 0 && !r.TimedOut && !r.OOMKilled
}

// Sandbox executes code in an isolated environment.
type Sandbox interface {
	Execute(ctx context.Context, code string, opts ExecOptions) (*ExecutionResult, error)
}
