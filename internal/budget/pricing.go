package budget

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// ModelPrice holds per-million-token costs for one model.
type ModelPrice struct {
	InputCostPerM  float64 `json:"input_cost_per_m"`
	OutputCostPerM float64 `json:"output_cost_per_m"`
}

// PricingTable maps model identifiers to their costs. Read-only after load;
// safe to share across orchestrator instances.
type PricingTable struct {
	Models map[string]ModelPrice `json:"models"`

	// builtin marks the embedded fallback table, whose numbers go stale.
	builtin bool
}

// fallbackPricing is the built-in minimal table used when no pricing file is
// available. Lookups against it log a stale-pricing warning.
var fallbackPricing = PricingTable{
	Models: map[string]ModelPrice{
		"gpt-4o":            {InputCostPerM: 2.50, OutputCostPerM: 10.00},
		"gpt-4o-mini":       {InputCostPerM: 0.15, OutputCostPerM: 0.60},
		"claude-sonnet-4-5": {InputCostPerM: 3.00, OutputCostPerM: 15.00},
		"claude-haiku-4-5":  {InputCostPerM: 1.00, OutputCostPerM: 5.00},
		"gemini-2.5-flash":  {InputCostPerM: 0.30, OutputCostPerM: 2.50},
	},
	builtin: true,
}

// defaultPrice is applied to models absent from the table, priced
// pessimistically so an unknown model cannot silently drain the budget.
var defaultPrice = ModelPrice{InputCostPerM: 5.00, OutputCostPerM: 20.00}

// DefaultPricingPath is the well-known pricing file location.
func DefaultPricingPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "pricing.json"
	}
	return filepath.Join(home, ".rlm", "pricing.json")
}

// LoadPricing reads a pricing table from path, or from the well-known
// location when path is empty. When neither exists the built-in fallback is
// returned and a stale-pricing warning is logged.
func LoadPricing(path string, logger *slog.Logger) (*PricingTable, error) {
	explicit := path != ""
	if path == "" {
		path = DefaultPricingPath()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if explicit {
			return nil, fmt.Errorf("reading pricing file %s: %w", path, err)
		}
		logger.Warn("no pricing file found, using built-in fallback (prices may be stale)",
			slog.String("path", path),
		)
		table := fallbackPricing
		return &table, nil
	}

	var table PricingTable
	if err := json.Unmarshal(data, &table); err != nil {
		return nil, fmt.Errorf("parsing pricing file %s: %w", path, err)
	}
	if len(table.Models) == 0 {
		return nil, fmt.Errorf("pricing file %s defines no models", path)
	}
	return &table, nil
}

// Price returns the cost entry for model, falling back to the pessimistic
// default for unknown models.
func (t *PricingTable) Price(model string, logger *slog.Logger) ModelPrice {
	if p, ok := t.Models[model]; ok {
		if t.builtin {
			logger.Warn("using built-in pricing, numbers may be stale",
				slog.String("model", model),
			)
		}
		return p
	}
	logger.Warn("model missing from pricing table, using pessimistic default",
		slog.String("model", model),
	)
	return defaultPrice
}
