// RLM — secure code-execution supervisor for AI agents.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "rlm",
	Short: "RLM — secure code-execution supervisor for AI agents.",
	Long: `RLM accepts untrusted code snippets produced by a language model, executes
each one inside a disposable, resource-constrained, network-isolated container,
sanitizes every byte leaving the container, and drives the model toward a
final answer.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(queryCmd, serveCmd, mcpCmd, doctorCmd, versionCmd)
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a JSON or YAML config file")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "enable debug logging")
	_ = godotenv.Load()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}
