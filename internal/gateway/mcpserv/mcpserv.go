// Package mcpserv exposes the supervisor over the Model Context Protocol so
// external agent frontends can call it as a tool. Two tools are served:
// run_query (full agent loop) and execute_code (one sandboxed execution with
// egress filtering, no model involved).
package mcpserv

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/1thirteeng3/rlm/internal/egress"
	"github.com/1thirteeng3/rlm/internal/orchestrator"
	"github.com/1thirteeng3/rlm/internal/sandbox"
)

// QueryRunner executes one query with a fresh orchestrator.
type QueryRunner func(ctx context.Context, query, contextPath string) *orchestrator.Result

// toolHandler matches the mcp-go tool handler signature.
type toolHandler func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error)

// Server wraps the MCP stdio server.
type Server struct {
	mcp    *server.MCPServer
	logger *slog.Logger
}

// New builds the MCP server. filterCfg is applied to execute_code output so
// direct executions get the same egress guarantees as orchestrated ones.
func New(version string, run QueryRunner, sbx sandbox.Sandbox, filterCfg egress.Config, logger *slog.Logger) *Server {
	s := server.NewMCPServer("rlm", version, server.WithToolCapabilities(false))

	s.AddTool(
		mcp.NewTool("run_query",
			mcp.WithDescription("Answer a question by iteratively generating and executing Python code in a hardened sandbox."),
			mcp.WithString("query", mcp.Required(), mcp.Description("The question or task to solve.")),
			mcp.WithString("context_path", mcp.Description("Optional host file mounted read-only as context.")),
		),
		server.ToolHandlerFunc(runQueryHandler(run)),
	)

	s.AddTool(
		mcp.NewTool("execute_code",
			mcp.WithDescription("Execute one Python snippet in the hardened sandbox and return its sanitized output."),
			mcp.WithString("code", mcp.Required(), mcp.Description("Python source to execute.")),
			mcp.WithString("context_path", mcp.Description("Optional host file mounted read-only at /mnt/context.")),
		),
		server.ToolHandlerFunc(executeCodeHandler(sbx, filterCfg, logger)),
	)

	return &Server{mcp: s, logger: logger}
}

// runQueryHandler dispatches the run_query tool.
func runQueryHandler(run QueryRunner) toolHandler {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		contextPath := req.GetString("context_path", "")

		result := run(ctx, query, contextPath)
		payload, err := json.Marshal(result)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if !result.Success {
			return mcp.NewToolResultError(string(payload)), nil
		}
		return mcp.NewToolResultText(string(payload)), nil
	}
}

// executeCodeHandler dispatches the execute_code tool: one sandbox run, both
// streams filtered.
func executeCodeHandler(sbx sandbox.Sandbox, filterCfg egress.Config, logger *slog.Logger) toolHandler {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		code, err := req.RequireString("code")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		contextPath := req.GetString("context_path", "")

		result, err := sbx.Execute(ctx, code, sandbox.ExecOptions{ContextPath: contextPath})
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		filter := egress.New(filterCfg, nil, logger)
		stdout, _, err := filter.Filter([]byte(result.Stdout))
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		stderr, _, err := filter.Filter([]byte(result.Stderr))
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		out := fmt.Sprintf("exit=%d timed_out=%v oom_killed=%v\n--- stdout ---\n%s",
			result.ExitCode, result.TimedOut, result.OOMKilled, stdout)
		if stderr != "" {
			out += "\n--- stderr ---\n" + stderr
		}
		return mcp.NewToolResultText(out), nil
	}
}

// ServeStdio blocks serving MCP over stdin/stdout.
func (s *Server) ServeStdio() error {
	s.logger.Info("mcp server starting on stdio")
	return server.ServeStdio(s.mcp)
}
