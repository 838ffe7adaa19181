package httpapi

import (
	"github.com/1thirteeng3/rlm/internal/budget"
	"github.com/1thirteeng3/rlm/internal/orchestrator"
)

// ErrorBody is the standard error response used in OpenAPI documentation.
type ErrorBody struct {
	Error string `json:"error"`
}

// QueryRequest submits one query to the supervisor.
type QueryRequest struct {
	Query       string `json:"query"`
	ContextPath string `json:"context_path,omitempty"` // Host path mounted read-only into the sandbox.
}

// QueryResponse is the terminal result of one orchestrated query.
type QueryResponse struct {
	RunID       string              `json:"run_id"`
	FinalAnswer string              `json:"final_answer,omitempty"`
	Success     bool                `json:"success"`
	Iterations  int                 `json:"iterations"`
	Steps       []orchestrator.Step `json:"steps,omitempty"`
	Budget      budget.Summary      `json:"budget"`
	ErrorCode   string              `json:"error_code,omitempty"`
	Error       string              `json:"error,omitempty"`
}

// StepEvent is one streamed step on the WebSocket endpoint.
type StepEvent struct {
	Type string             `json:"type"` // "step" or "result".
	Step *orchestrator.Step `json:"step,omitempty"`
	// Result is set on the terminal event.
	Result *QueryResponse `json:"result,omitempty"`
}

// HealthResponse reports gateway liveness.
type HealthResponse struct {
	Status string `json:"status"`
}

func toQueryResponse(runID string, result *orchestrator.Result) QueryResponse {
	return QueryResponse{
		RunID:       runID,
		FinalAnswer: result.FinalAnswer,
		Success:     result.Success,
		Iterations:  result.Iterations,
		Steps:       result.Steps,
		Budget:      result.Budget,
		ErrorCode:   result.ErrorCode,
		Error:       result.ErrorText,
	}
}
