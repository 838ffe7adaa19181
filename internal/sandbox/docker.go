package sandbox

import (
	"context"
	"crypto/rand"
	_ "embed"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/api/types/strslice"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/1thirteeng3/rlm/internal/errdefs"
)

// helperModule is mounted read-only beside the user code so sandboxed code can
// `from rlmctx import ctx` instead of receiving injected source.
//
//go:embed rlmctx.py
var helperModule string

// stopGraceSeconds is how long a timed-out container gets to exit after
// ContainerStop before it is killed.
const stopGraceSeconds = 2

// DockerSandbox executes code inside ephemeral Docker containers.
//
// Isolation applied to every run:
//   - gVisor (runsc) runtime when available; refusal otherwise unless the
//     configuration explicitly allows the default runtime
//   - no network interface (NetworkMode none) unless explicitly enabled
//   - memory ceiling with swap pinned to the same value (OOM kill on exceed)
//   - PIDs limit, fractional CPU quota
//   - all capabilities dropped, no-new-privileges, private IPC namespace
//   - read-only root filesystem with tmpfs scratch space
//   - code and context delivered via read-only binds only
//   - container force-removed on every exit path
type DockerSandbox struct {
	cfg    Config
	cli    *client.Client
	logger *slog.Logger

	runtimeOnce sync.Once
	runtime     string
	runtimeErr  error
}

// NewDockerSandbox creates a supervisor bound to the local Docker daemon.
func NewDockerSandbox(cfg Config, logger *slog.Logger) (*DockerSandbox, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, &errdefs.SandboxError{Kind: errdefs.SandboxDaemon, Err: fmt.Errorf("docker client init: %w", err)}
	}
	return &DockerSandbox{
		cfg:    cfg.withDefaults(),
		cli:    cli,
		logger: logger,
	}, nil
}

// Config returns the supervisor's effective configuration.
func (s *DockerSandbox) Config() Config { return s.cfg }

// Ping verifies the daemon is reachable.
func (s *DockerSandbox) Ping(ctx context.Context) error {
	if _, err := s.cli.Ping(ctx); err != nil {
		return &errdefs.SandboxError{Kind: errdefs.SandboxDaemon, Err: fmt.Errorf("docker daemon unavailable: %w", err)}
	}
	return nil
}

// ResolveRuntime returns the container runtime that will be used, applying
// the fail-closed policy. The daemon is queried once per supervisor.
func (s *DockerSandbox) ResolveRuntime(ctx context.Context) (string, error) {
	s.runtimeOnce.Do(func() {
		s.runtime, s.runtimeErr = s.detectRuntime(ctx)
	})
	return s.runtime, s.runtimeErr
}

// SecureRuntimeAvailable reports whether the daemon offers runsc.
func (s *DockerSandbox) SecureRuntimeAvailable(ctx context.Context) (bool, error) {
	info, err := s.cli.Info(ctx)
	if err != nil {
		return false, &errdefs.SandboxError{Kind: errdefs.SandboxDaemon, Err: fmt.Errorf("querying daemon info: %w", err)}
	}
	_, ok := info.Runtimes[secureRuntimeName]
	return ok, nil
}

func (s *DockerSandbox) detectRuntime(ctx context.Context) (string, error) {
	secure, err := s.SecureRuntimeAvailable(ctx)
	if err != nil {
		return "", err
	}

	switch s.cfg.Runtime {
	case RuntimeSecure:
		if !secure {
			return "", fmt.Errorf("%w: secure runtime %q required but not installed",
				errdefs.ErrSecurityViolation, secureRuntimeName)
		}
		return secureRuntimeName, nil

	case RuntimeStandard:
		if !s.cfg.AllowUnsafeRuntime {
			return "", fmt.Errorf("%w: standard runtime selected without allow_unsafe_runtime",
				errdefs.ErrSecurityViolation)
		}
		s.logger.Warn("running with the default container runtime, isolation is reduced")
		return "", nil

	default: // RuntimeAuto
		if secure {
			s.logger.Info("secure runtime detected",
				slog.String("runtime", secureRuntimeName))
			return secureRuntimeName, nil
		}
		if s.cfg.AllowUnsafeRuntime {
			s.logger.Warn("secure runtime not found, falling back to the default runtime",
				slog.String("wanted", secureRuntimeName))
			return "", nil
		}
		return "", fmt.Errorf("%w: secure runtime %q not installed and allow_unsafe_runtime is off",
			errdefs.ErrSecurityViolation, secureRuntimeName)
	}
}

// ensureImage pulls the configured image when it is absent locally.
func (s *DockerSandbox) ensureImage(ctx context.Context) error {
	if _, err := s.cli.ImageInspect(ctx, s.cfg.Image); err == nil {
		return nil
	}
	s.logger.Info("pulling sandbox image", slog.String("image", s.cfg.Image))
	rc, err := s.cli.ImagePull(ctx, s.cfg.Image, image.PullOptions{})
	if err != nil {
		return &errdefs.SandboxError{Kind: errdefs.SandboxImage, Err: fmt.Errorf("pulling %s: %w", s.cfg.Image, err)}
	}
	defer rc.Close()
	if _, err := io.Copy(io.Discard, rc); err != nil {
		return &errdefs.SandboxError{Kind: errdefs.SandboxImage, Err: fmt.Errorf("pulling %s: %w", s.cfg.Image, err)}
	}
	return nil
}

// Execute runs one code snippet in one ephemeral container and returns the
// outcome. OOM kills, timeouts, and non-zero exits are normal results; only
// infrastructure failures return errors.
func (s *DockerSandbox) Execute(ctx context.Context, code string, opts ExecOptions) (*ExecutionResult, error) {
	runtime, err := s.ResolveRuntime(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.ensureImage(ctx); err != nil {
		return nil, err
	}
	if s.cfg.NetworkEnabled {
		s.logger.Warn("sandbox network access enabled")
	}

	scratch, err := materializeCode(code)
	if err != nil {
		return nil, &errdefs.SandboxError{Kind: errdefs.SandboxInternal, Err: err}
	}
	defer os.RemoveAll(scratch)

	name, err := containerName()
	if err != nil {
		return nil, &errdefs.SandboxError{Kind: errdefs.SandboxInternal, Err: err}
	}

	created, err := s.cli.ContainerCreate(ctx,
		s.containerConfig(),
		s.hostConfig(runtime, scratch, opts.ContextPath),
		&network.NetworkingConfig{},
		nil,
		name,
	)
	if err != nil {
		return nil, &errdefs.SandboxError{Kind: errdefs.SandboxDaemon, Err: fmt.Errorf("container create: %w", err)}
	}
	id := created.ID

	// Removal happens on every exit path, including cancellation, with a
	// fresh context so a canceled caller cannot leave a container behind.
	defer func() {
		rmCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.cli.ContainerRemove(rmCtx, id, container.RemoveOptions{Force: true}); err != nil {
			s.logger.Warn("container remove failed",
				slog.String("container", name),
				slog.String("error", err.Error()),
			)
		}
	}()

	s.logger.Info("sandbox executing",
		slog.String("container", name),
		slog.String("image", s.cfg.Image),
		slog.String("runtime", displayRuntime(runtime)),
		slog.Int64("memory_bytes", s.cfg.MemoryBytes),
		slog.Float64("cpu_cores", s.cfg.CPUCores),
		slog.Duration("timeout", s.cfg.Timeout),
		slog.Bool("network", s.cfg.NetworkEnabled),
		slog.Bool("context_mounted", opts.ContextPath != ""),
	)

	start := time.Now()
	if err := s.cli.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		return nil, &errdefs.SandboxError{Kind: errdefs.SandboxDaemon, Err: fmt.Errorf("container start: %w", err)}
	}

	// Capture both streams concurrently with the wait, each bounded.
	stdout := newLimitedWriter(s.cfg.MaxStreamBytes)
	stderr := newLimitedWriter(s.cfg.MaxStreamBytes)
	logsDone := make(chan error, 1)
	go func() {
		logsDone <- s.copyLogs(ctx, id, stdout, stderr)
	}()

	waitCh, waitErrCh := s.cli.ContainerWait(ctx, id, container.WaitConditionNotRunning)

	timer := time.NewTimer(s.cfg.Timeout)
	defer timer.Stop()

	timedOut := false
	exitCode := 0
	select {
	case res := <-waitCh:
		exitCode = int(res.StatusCode)

	case err := <-waitErrCh:
		if ctx.Err() != nil {
			s.stopContainer(id)
			return nil, ctx.Err()
		}
		return nil, &errdefs.SandboxError{Kind: errdefs.SandboxDaemon, Err: fmt.Errorf("container wait: %w", err)}

	case <-ctx.Done():
		s.stopContainer(id)
		return nil, ctx.Err()

	case <-timer.C:
		timedOut = true
		s.logger.Warn("sandbox execution timed out",
			slog.String("container", name),
			slog.Duration("timeout", s.cfg.Timeout),
		)
		s.stopContainer(id)
		exitCode = 124
	}
	duration := time.Since(start)

	// The log stream ends when the container stops; give it a moment to
	// drain before inspecting.
	select {
	case <-logsDone:
	case <-time.After(2 * time.Second):
	}

	oomKilled := false
	if inspect, err := s.cli.ContainerInspect(context.WithoutCancel(ctx), id); err == nil && inspect.State != nil {
		oomKilled = inspect.State.OOMKilled
		if !timedOut {
			exitCode = inspect.State.ExitCode
		}
	}

	result := &ExecutionResult{
		Stdout:          stdout.String(),
		Stderr:          stderr.String(),
		ExitCode:        exitCode,
		TimedOut:        timedOut,
		OOMKilled:       oomKilled,
		StdoutTruncated: stdout.Truncated(),
		StderrTruncated: stderr.Truncated(),
		Duration:        duration,
	}

	s.logger.Info("sandbox completed",
		slog.String("container", name),
		slog.Int("exit_code", result.ExitCode),
		slog.Bool("timed_out", result.TimedOut),
		slog.Bool("oom_killed", result.OOMKilled),
		slog.Duration("duration", result.Duration),
		slog.Int("stdout_bytes", len(result.Stdout)),
		slog.Int("stderr_bytes", len(result.Stderr)),
	)
	return result, nil
}

func (s *DockerSandbox) containerConfig() *container.Config {
	return &container.Config{
		Image:      s.cfg.Image,
		Cmd:        []string{"python3", codeMountPath + "/main.py"},
		WorkingDir: "/tmp",
		User:       "65534:65534",
		Env: []string{
			"HOME=/tmp",
			"PATH=/usr/local/bin:/usr/bin:/bin",
			"PYTHONUNBUFFERED=1",
			"PYTHONDONTWRITEBYTECODE=1",
		},
	}
}

func (s *DockerSandbox) hostConfig(runtime, scratch, contextPath string) *container.HostConfig {
	binds := []string{scratch + ":" + codeMountPath + ":ro"}
	if contextPath != "" {
		binds = append(binds, contextPath+":"+ContextMountPath+":ro")
	}

	networkMode := container.NetworkMode("none")
	if s.cfg.NetworkEnabled {
		networkMode = "bridge"
	}

	pids := s.cfg.PIDsLimit
	hc := &container.HostConfig{
		Binds:          binds,
		NetworkMode:    networkMode,
		IpcMode:        container.IpcMode("none"),
		CapDrop:        strslice.StrSlice{"ALL"},
		SecurityOpt:    []string{"no-new-privileges"},
		ReadonlyRootfs: true,
		Runtime:        runtime,
		Tmpfs: map[string]string{
			"/tmp": "rw,noexec,nosuid,size=64m",
		},
		Resources: container.Resources{
			Memory:     s.cfg.MemoryBytes,
			MemorySwap: s.cfg.MemoryBytes, // Equal to memory = swap disabled.
			NanoCPUs:   int64(s.cfg.CPUCores * 1e9),
			PidsLimit:  &pids,
		},
	}
	return hc
}

// copyLogs demultiplexes the container's output into the bounded writers.
func (s *DockerSandbox) copyLogs(ctx context.Context, id string, stdout, stderr io.Writer) error {
	rc, err := s.cli.ContainerLogs(ctx, id, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
	})
	if err != nil {
		return err
	}
	defer rc.Close()
	_, err = stdcopy.StdCopy(stdout, stderr, rc)
	return err
}

// stopContainer stops the container with a short grace period and kills it if
// it does not comply. Best-effort; removal is handled by the deferred remove.
func (s *DockerSandbox) stopContainer(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	grace := stopGraceSeconds
	if err := s.cli.ContainerStop(ctx, id, container.StopOptions{Timeout: &grace}); err != nil {
		if err := s.cli.ContainerKill(ctx, id, "SIGKILL"); err != nil {
			s.logger.Warn("container kill failed", slog.String("error", err.Error()))
		}
	}
}

// materializeCode writes the snippet and the helper module into a fresh
// scratch directory that will be bind-mounted read-only. The caller removes
// the directory.
func materializeCode(code string) (string, error) {
	dir, err := os.MkdirTemp("", "rlm-sbx-")
	if err != nil {
		return "", fmt.Errorf("creating scratch dir: %w", err)
	}
	// World-readable: the container runs as nobody.
	if err := os.Chmod(dir, 0o755); err != nil {
		os.RemoveAll(dir)
		return "", err
	}
	if err := os.WriteFile(filepath.Join(dir, "main.py"), []byte(code), 0o644); err != nil {
		os.RemoveAll(dir)
		return "", fmt.Errorf("writing code: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "rlmctx.py"), []byte(helperModule), 0o644); err != nil {
		os.RemoveAll(dir)
		return "", fmt.Errorf("writing helper module: %w", err)
	}
	return dir, nil
}

// containerName returns a unique name: rlm-sbx-<16 hex chars>.
func containerName() (string, error) {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return "rlm-sbx-" + hex.EncodeToString(b), nil
}

func displayRuntime(runtime string) string {
	if runtime == "" {
		return "default"
	}
	return runtime
}
