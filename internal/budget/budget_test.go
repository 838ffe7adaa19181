package budget

import (
	"errors"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/1thirteeng3/rlm/internal/errdefs"
)

func testLogger() *slog.Logger { return slog.New(slog.DiscardHandler) }

func testPricing() *PricingTable {
	return &PricingTable{Models: map[string]ModelPrice{
		"test-model": {InputCostPerM: 1.00, OutputCostPerM: 2.00},
	}}
}

func TestRecordComputesDelta(t *testing.T) {
	m := NewManager(1.0, testPricing(), testLogger())

	delta := m.Record("test-model", 1_000_000, 500_000)
	want := 1.00 + 1.00 // 1M input at $1/M + 0.5M output at $2/M
	if math.Abs(delta-want) > 1e-9 {
		t.Errorf("delta = %v, want %v", delta, want)
	}
	if math.Abs(m.Total()-want) > 1e-9 {
		t.Errorf("total = %v, want %v", m.Total(), want)
	}
}

func TestTotalIsMonotone(t *testing.T) {
	m := NewManager(100.0, testPricing(), testLogger())

	prev := 0.0
	sum := 0.0
	for i := 0; i < 10; i++ {
		sum += m.Record("test-model", 10_000, 5_000)
		total := m.Total()
		if total < prev {
			t.Fatalf("total decreased: %v -> %v", prev, total)
		}
		prev = total
	}
	if math.Abs(m.Total()-sum) > 1e-9 {
		t.Errorf("total = %v, want sum of deltas %v", m.Total(), sum)
	}
}

func TestCheckBelowLimit(t *testing.T) {
	m := NewManager(1.0, testPricing(), testLogger())
	if err := m.Check(); err != nil {
		t.Errorf("Check on fresh manager: %v", err)
	}
}

func TestCheckAtLimit(t *testing.T) {
	m := NewManager(0.01, testPricing(), testLogger())
	m.Record("test-model", 10_000_000, 0) // $10

	err := m.Check()
	var be *errdefs.BudgetError
	if !errors.As(err, &be) {
		t.Fatalf("error = %v, want BudgetError", err)
	}
	if be.LimitUSD != 0.01 {
		t.Errorf("limit = %v, want 0.01", be.LimitUSD)
	}
	if be.SpentUSD < 9.9 {
		t.Errorf("spent = %v, want ~10", be.SpentUSD)
	}
}

func TestBudgetCeilingScenario(t *testing.T) {
	// A model billing $0.006 per request against a $0.01 ceiling: the first
	// request fits, the second is refused before it is issued.
	pricing := &PricingTable{Models: map[string]ModelPrice{
		"test-model": {InputCostPerM: 6.00, OutputCostPerM: 0},
	}}
	m := NewManager(0.01, pricing, testLogger())

	if err := m.Check(); err != nil {
		t.Fatalf("iteration 1 check: %v", err)
	}
	m.Record("test-model", 1000, 0) // $0.006

	if err := m.Check(); err != nil {
		t.Fatalf("iteration 2 check should still pass at $0.006: %v", err)
	}
	m.Record("test-model", 1000, 0) // $0.012 total

	if err := m.Check(); err == nil {
		t.Fatal("iteration 3 check should fail at $0.012")
	}
}

func TestRemaining(t *testing.T) {
	m := NewManager(1.0, testPricing(), testLogger())
	m.Record("test-model", 500_000, 0) // $0.50
	if r := m.Remaining(); math.Abs(r-0.50) > 1e-9 {
		t.Errorf("remaining = %v, want 0.50", r)
	}
	m.Record("test-model", 1_000_000, 0) // $1.50 total
	if r := m.Remaining(); r != 0 {
		t.Errorf("remaining = %v, want clamped to 0", r)
	}
}

func TestSummary(t *testing.T) {
	m := NewManager(1.0, testPricing(), testLogger())
	m.Record("test-model", 100, 50)
	m.Record("test-model", 200, 80)

	s := m.Summary()
	if s.Requests != 2 {
		t.Errorf("requests = %d, want 2", s.Requests)
	}
	if s.InputTokens != 300 || s.OutputTokens != 130 {
		t.Errorf("tokens = %d/%d, want 300/130", s.InputTokens, s.OutputTokens)
	}
	if s.LimitUSD != 1.0 {
		t.Errorf("limit = %v, want 1.0", s.LimitUSD)
	}
}

func TestUnknownModelUsesPessimisticDefault(t *testing.T) {
	m := NewManager(1.0, testPricing(), testLogger())
	delta := m.Record("mystery-model", 1_000_000, 1_000_000)
	want := defaultPrice.InputCostPerM + defaultPrice.OutputCostPerM
	if math.Abs(delta-want) > 1e-9 {
		t.Errorf("delta = %v, want pessimistic default %v", delta, want)
	}
}

func TestLoadPricingFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pricing.json")
	content := `{"models": {"my-model": {"input_cost_per_m": 1.5, "output_cost_per_m": 3.0}}}`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	table, err := LoadPricing(path, testLogger())
	if err != nil {
		t.Fatalf("LoadPricing: %v", err)
	}
	p := table.Price("my-model", testLogger())
	if p.InputCostPerM != 1.5 || p.OutputCostPerM != 3.0 {
		t.Errorf("price = %+v", p)
	}
}

func TestLoadPricingExplicitPathMissing(t *testing.T) {
	_, err := LoadPricing(filepath.Join(t.TempDir(), "absent.json"), testLogger())
	if err == nil {
		t.Error("expected error for missing explicit pricing file")
	}
}

func TestLoadPricingRejectsEmptyTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.json")
	if err := os.WriteFile(path, []byte(`{"models": {}}`), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadPricing(path, testLogger()); err == nil {
		t.Error("expected error for empty pricing table")
	}
}
