package sandbox

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()

	if cfg.Image != defaultImage {
		t.Errorf("image = %q, want %q", cfg.Image, defaultImage)
	}
	if cfg.Timeout != 30*time.Second {
		t.Errorf("timeout = %v, want 30s", cfg.Timeout)
	}
	if cfg.MemoryBytes != 256<<20 {
		t.Errorf("memory = %d, want 256 MiB", cfg.MemoryBytes)
	}
	if cfg.CPUCores != 0.5 {
		t.Errorf("cpu = %v, want 0.5", cfg.CPUCores)
	}
	if cfg.PIDsLimit != 50 {
		t.Errorf("pids = %d, want 50", cfg.PIDsLimit)
	}
	if cfg.Runtime != RuntimeAuto {
		t.Errorf("runtime = %q, want auto", cfg.Runtime)
	}
	if cfg.NetworkEnabled {
		t.Error("network enabled by default")
	}
	if cfg.AllowUnsafeRuntime {
		t.Error("unsafe runtime allowed by default")
	}
}

func TestConfigExplicitValuesKept(t *testing.T) {
	cfg := Config{
		Image:       "custom:latest",
		Timeout:     5 * time.Second,
		MemoryBytes: 512 << 20,
	}.withDefaults()

	if cfg.Image != "custom:latest" || cfg.Timeout != 5*time.Second || cfg.MemoryBytes != 512<<20 {
		t.Errorf("explicit values overridden: %+v", cfg)
	}
}

func TestExecutionResultSuccess(t *testing.T) {
	tests := []struct {
		name   string
		result ExecutionResult
		want   bool
	}{
		{"clean exit", ExecutionResult{ExitCode: 0}, true},
		{"non-zero exit", ExecutionResult{ExitCode: 1}, false},
		{"timed out", ExecutionResult{ExitCode: 0, TimedOut: true}, false},
		{"oom killed", ExecutionResult{ExitCode: 137, OOMKilled: true}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.result.Success(); got != tt.want {
				t.Errorf("Success() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLimitedWriter(t *testing.T) {
	w := newLimitedWriter(10)

	n, err := w.Write([]byte("hello"))
	if err != nil || n != 5 {
		t.Fatalf("Write = (%d, %v)", n, err)
	}
	// Over the limit: accepted but silently truncated.
	n, err = w.Write([]byte(" world and more"))
	if err != nil || n != 15 {
		t.Fatalf("Write = (%d, %v)", n, err)
	}

	if got := w.String(); got != "hello worl" {
		t.Errorf("buffer = %q, want first 10 bytes", got)
	}
	if !w.Truncated() {
		t.Error("truncation not recorded")
	}

	// Further writes are swallowed entirely.
	if n, _ := w.Write([]byte("x")); n != 1 {
		t.Errorf("post-limit write n = %d, want 1", n)
	}
	if got := w.String(); got != "hello worl" {
		t.Errorf("buffer grew past limit: %q", got)
	}
}

func TestLimitedWriterNoTruncation(t *testing.T) {
	w := newLimitedWriter(100)
	w.Write([]byte("small"))
	if w.Truncated() {
		t.Error("truncation flagged for in-bounds write")
	}
	if w.String() != "small" {
		t.Errorf("buffer = %q", w.String())
	}
}

func TestHelperModuleEmbedded(t *testing.T) {
	if !strings.Contains(helperModule, "class ContextHandle") {
		t.Error("helper module missing ContextHandle")
	}
	if !strings.Contains(helperModule, "/mnt/context") {
		t.Error("helper module missing context mount path")
	}
}

func TestMaterializeCode(t *testing.T) {
	dir, err := materializeCode("print('hi')\n")
	if err != nil {
		t.Fatalf("materializeCode: %v", err)
	}
	defer os.RemoveAll(dir)

	for _, name := range []string{"main.py", "rlmctx.py"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("%s missing: %v", name, err)
		}
	}
	content, err := os.ReadFile(filepath.Join(dir, "main.py"))
	if err != nil || string(content) != "print('hi')\n" {
		t.Errorf("main.py content = %q, err %v", content, err)
	}
}
