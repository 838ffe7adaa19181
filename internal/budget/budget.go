// Package budget tracks cumulative LLM spend for one orchestration and
// enforces a hard dollar ceiling. The running total is monotonically
// non-decreasing; callers check the ceiling before every LLM request.
package budget

import (
	"log/slog"
	"sync"

	"github.com/1thirteeng3/rlm/internal/errdefs"
)

// Manager accumulates token usage and cost. Thread-safe; state is in-memory
// and scoped to a single orchestrator run.
type Manager struct {
	mu           sync.Mutex
	limitUSD     float64
	spentUSD     float64
	inputTokens  int
	outputTokens int
	requests     int
	pricing      *PricingTable
	logger       *slog.Logger
}

// Summary is a read-only snapshot of the budget state.
type Summary struct {
	SpentUSD     float64 `json:"spent_usd"`
	LimitUSD     float64 `json:"limit_usd"`
	RemainingUSD float64 `json:"remaining_usd"`
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	Requests     int     `json:"requests"`
}

// NewManager creates a budget manager with the given ceiling.
func NewManager(limitUSD float64, pricing *PricingTable, logger *slog.Logger) *Manager {
	return &Manager{
		limitUSD: limitUSD,
		pricing:  pricing,
		logger:   logger,
	}
}

// Check returns a BudgetError when the ceiling has been reached. It is called
// before each LLM request so that a request is never issued against an
// exhausted budget.
func (m *Manager) Check() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.spentUSD >= m.limitUSD {
		return &errdefs.BudgetError{SpentUSD: m.spentUSD, LimitUSD: m.limitUSD}
	}
	return nil
}

// Record adds one request's token usage and returns the cost delta.
func (m *Manager) Record(model string, inputTokens, outputTokens int) float64 {
	price := m.pricing.Price(model, m.logger)
	delta := float64(inputTokens)/1e6*price.InputCostPerM +
		float64(outputTokens)/1e6*price.OutputCostPerM

	m.mu.Lock()
	defer m.mu.Unlock()
	m.spentUSD += delta
	m.inputTokens += inputTokens
	m.outputTokens += outputTokens
	m.requests++

	m.logger.Debug("budget usage recorded",
		slog.String("model", model),
		slog.Int("input_tokens", inputTokens),
		slog.Int("output_tokens", outputTokens),
		slog.Float64("cost_delta", delta),
		slog.Float64("total_spent", m.spentUSD),
	)
	return delta
}

// Total returns the cumulative spend in USD.
func (m *Manager) Total() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.spentUSD
}

// Remaining returns the budget left before the ceiling, never negative.
func (m *Manager) Remaining() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r := m.limitUSD - m.spentUSD; r > 0 {
		return r
	}
	return 0
}

// Summary returns a snapshot of the budget state.
func (m *Manager) Summary() Summary {
	m.mu.Lock()
	defer m.mu.Unlock()
	remaining := m.limitUSD - m.spentUSD
	if remaining < 0 {
		remaining = 0
	}
	return Summary{
		SpentUSD:     m.spentUSD,
		LimitUSD:     m.limitUSD,
		RemainingUSD: remaining,
		InputTokens:  m.inputTokens,
		OutputTokens: m.outputTokens,
		Requests:     m.requests,
	}
}
