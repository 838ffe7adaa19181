package observability

import (
	"context"
	"testing"

	dto "github.com/prometheus/client_model/go"

	"github.com/1thirteeng3/rlm/internal/config"
)

func TestMetricsRegistered(t *testing.T) {
	m := NewMetricsCollector()

	m.SandboxExecutionsTotal.WithLabelValues("success").Inc()
	m.EgressEventsTotal.WithLabelValues("secret_pattern").Add(2)
	m.QueriesTotal.WithLabelValues("success").Inc()

	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}

	got := map[string]*dto.MetricFamily{}
	for _, mf := range families {
		got[mf.GetName()] = mf
	}

	sandbox, ok := got["rlm_sandbox_executions_total"]
	if !ok {
		t.Fatal("sandbox executions metric missing")
	}
	if v := sandbox.GetMetric()[0].GetCounter().GetValue(); v != 1 {
		t.Errorf("sandbox counter = %v, want 1", v)
	}

	egress, ok := got["rlm_egress_events_total"]
	if !ok {
		t.Fatal("egress events metric missing")
	}
	if v := egress.GetMetric()[0].GetCounter().GetValue(); v != 2 {
		t.Errorf("egress counter = %v, want 2", v)
	}
}

func TestSandboxStatus(t *testing.T) {
	tests := []struct {
		success, timedOut, oom bool
		want                   string
	}{
		{true, false, false, "success"},
		{false, true, false, "timed_out"},
		{false, false, true, "oom_killed"},
		{false, false, false, "error"},
	}
	for _, tt := range tests {
		if got := SandboxStatus(tt.success, tt.timedOut, tt.oom); got != tt.want {
			t.Errorf("SandboxStatus(%v,%v,%v) = %q, want %q", tt.success, tt.timedOut, tt.oom, got, tt.want)
		}
	}
}

func TestNilTracerSetup(t *testing.T) {
	setup, err := NewTracerSetup(nil)
	if err != nil {
		t.Fatalf("NewTracerSetup(nil): %v", err)
	}
	if setup != nil {
		t.Error("disabled tracing should yield nil setup")
	}
	// A nil setup still hands out a usable no-op tracer.
	tracer := setup.Tracer()
	if tracer == nil {
		t.Fatal("nil setup should yield a no-op tracer, not nil")
	}
	_, span := tracer.Start(context.Background(), "noop")
	span.End()
	if err := setup.Shutdown(context.Background()); err != nil {
		t.Errorf("nil setup Shutdown: %v", err)
	}
}

func TestDisabledTracingConfig(t *testing.T) {
	setup, err := NewTracerSetup(&config.TracingConfig{Enabled: false})
	if err != nil {
		t.Fatalf("NewTracerSetup(disabled): %v", err)
	}
	if setup != nil {
		t.Error("disabled tracing should yield nil setup")
	}
}
