package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/1thirteeng3/rlm/internal/gateway/mcpserv"
	"github.com/1thirteeng3/rlm/internal/orchestrator"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the supervisor as an MCP tool server on stdio",
	Long: `Expose run_query and execute_code as Model Context Protocol tools so MCP
clients can use the hardened sandbox directly.`,
	RunE: runMCP,
}

func runMCP(cmd *cobra.Command, args []string) error {
	logger := newLogger()
	a, err := newApp(logger)
	if err != nil {
		return err
	}
	defer a.shutdown(context.Background())

	runner := func(ctx context.Context, query, contextPath string) *orchestrator.Result {
		_, result := a.runQuery(ctx, query, contextPath, nil)
		return result
	}
	srv := mcpserv.New(version, runner, a.sbx, a.egressConfig(), logger)
	return srv.ServeStdio()
}
