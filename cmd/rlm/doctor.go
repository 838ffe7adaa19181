package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/1thirteeng3/rlm/internal/sandbox"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check the security posture of the sandbox environment",
	Long: `Validate that the execution environment can uphold the isolation contract:
daemon reachable, secure runtime installed, network disabled, resource
limits sane. Exits non-zero when a required check fails.`,
	RunE: runDoctor,
}

func runDoctor(cmd *cobra.Command, args []string) error {
	logger := newLogger()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	sbx, err := sandbox.NewDockerSandbox(cfg.SandboxRuntimeConfig(), logger)
	if err != nil {
		fmt.Println("✗ docker client:", err)
		os.Exit(1)
	}

	failed := false
	check := func(name string, ok bool, detail string) {
		mark := "✓"
		if !ok {
			mark = "✗"
			failed = true
		}
		if detail != "" {
			fmt.Printf("%s %-24s %s\n", mark, name, detail)
		} else {
			fmt.Printf("%s %s\n", mark, name)
		}
	}

	daemonOK := sbx.Ping(ctx) == nil
	check("docker daemon", daemonOK, "")

	secure := false
	if daemonOK {
		secure, err = sbx.SecureRuntimeAvailable(ctx)
		if err != nil {
			check("secure runtime (runsc)", false, err.Error())
		} else if secure {
			check("secure runtime (runsc)", true, "")
		} else if cfg.Sandbox.AllowUnsafeRuntime {
			check("secure runtime (runsc)", true, "absent, but allow_unsafe_runtime is set")
		} else {
			check("secure runtime (runsc)", false, "not installed; execution will be refused")
		}
	}

	networkDetail := ""
	if cfg.Sandbox.NetworkEnabled {
		networkDetail = "network_enabled is set; containers get a network interface"
	}
	check("network disabled", !cfg.Sandbox.NetworkEnabled, networkDetail)
	check("memory limited", cfg.Sandbox.MemoryLimit != "", cfg.Sandbox.MemoryLimit)
	check("pids limited", cfg.Sandbox.PIDsLimit > 0 && cfg.Sandbox.PIDsLimit <= 100,
		fmt.Sprintf("%d", cfg.Sandbox.PIDsLimit))
	check("cpu limited", cfg.Sandbox.CPULimit > 0 && cfg.Sandbox.CPULimit <= 4,
		fmt.Sprintf("%.2f cores", cfg.Sandbox.CPULimit))

	if failed {
		os.Exit(1)
	}
	return nil
}
