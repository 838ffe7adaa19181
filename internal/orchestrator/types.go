package orchestrator

import (
	"github.com/1thirteeng3/rlm/internal/budget"
)

// StepAction identifies what a step did.
type StepAction string

const (
	ActionLLMRequest StepAction = "llm_request"
	ActionCodeExec   StepAction = "code_exec"
	ActionFilter     StepAction = "filter"
	ActionFinal      StepAction = "final"
)

// Step is one entry in the append-only execution log. Input and Output are
// summaries bounded to stepSummaryBytes.
type Step struct {
	Iteration int        `json:"iteration"`
	Action    StepAction `json:"action"`
	Input     string     `json:"input,omitempty"`
	Output    string     `json:"output,omitempty"`
	Error     string     `json:"error,omitempty"`
	CostDelta float64    `json:"cost_delta,omitempty"`
}

// Result is the outcome of one orchestrated query.
type Result struct {
	FinalAnswer string         `json:"final_answer,omitempty"`
	Success     bool           `json:"success"`
	Iterations  int            `json:"iterations"`
	Steps       []Step         `json:"steps"`
	Budget      budget.Summary `json:"budget"`
	Err         error          `json:"-"`
	ErrorCode   string         `json:"error_code,omitempty"`
	ErrorText   string         `json:"error,omitempty"`
}

// stepSummaryBytes bounds the Input/Output fields of a Step.
const stepSummaryBytes = 2000

func summarize(s string) string {
	if len(s) <= stepSummaryBytes {
		return s
	}
	return s[:stepSummaryBytes] + "…"
}
