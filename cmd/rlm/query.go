package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// Exit codes for the query command.
const (
	ExitSuccess  = 0
	ExitFailure  = 1
	ExitSecurity = 2
	ExitBudget   = 3
)

var (
	queryContextPath string
	queryJSON        bool
	queryShowSteps   bool
)

var queryCmd = &cobra.Command{
	Use:   "query [question]",
	Short: "Run one query through the code-execution loop",
	Long: `Run a single query: the model writes Python, the supervisor executes it in
a hardened container, output is sanitized, and the loop repeats until the
model emits FINAL(answer) or a limit is hit.

Examples:
  rlm query "what is 2**100?"
  rlm query "how many ERROR lines are in the log?" --context /var/log/app.log
  rlm query "summarize the data" --context data.csv --json

Exit codes:
  0  success
  1  execution failure
  2  security violation or data leakage
  3  budget exceeded`,
	Args: cobra.ExactArgs(1),
	RunE: runQueryCmd,
}

func init() {
	queryCmd.Flags().StringVarP(&queryContextPath, "context", "c", "", "host file mounted read-only as context")
	queryCmd.Flags().BoolVar(&queryJSON, "json", false, "emit the full result as JSON")
	queryCmd.Flags().BoolVar(&queryShowSteps, "steps", false, "print the step log")
}

func runQueryCmd(cmd *cobra.Command, args []string) error {
	logger := newLogger()
	a, err := newApp(logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	defer a.shutdown(context.Background())

	runID, result := a.runQuery(ctx, args[0], queryContextPath, nil)

	if queryJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			return err
		}
	} else {
		if result.Success {
			fmt.Println(result.FinalAnswer)
		} else {
			fmt.Fprintf(os.Stderr, "query failed [%s]: %s\n", result.ErrorCode, result.ErrorText)
		}
		if queryShowSteps {
			for _, s := range result.Steps {
				fmt.Fprintf(os.Stderr, "  [%d] %-12s cost=$%.4f err=%s\n", s.Iteration, s.Action, s.CostDelta, s.Error)
			}
		}
		fmt.Fprintf(os.Stderr, "run %s: %d iteration(s), $%.4f spent\n", runID, result.Iterations, result.Budget.SpentUSD)
	}

	switch result.ErrorCode {
	case "":
		return nil
	case "security_violation", "data_leakage":
		os.Exit(ExitSecurity)
	case "budget_exceeded":
		os.Exit(ExitBudget)
	default:
		os.Exit(ExitFailure)
	}
	return nil
}
