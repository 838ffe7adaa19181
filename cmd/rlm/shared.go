package main

import (
	"context"
	"log/slog"
	"os"

	goutils "github.com/jkaninda/go-utils"

	"github.com/1thirteeng3/rlm/internal/audit"
	"github.com/1thirteeng3/rlm/internal/budget"
	"github.com/1thirteeng3/rlm/internal/config"
	"github.com/1thirteeng3/rlm/internal/egress"
	"github.com/1thirteeng3/rlm/internal/llm"
	"github.com/1thirteeng3/rlm/internal/observability"
	"github.com/1thirteeng3/rlm/internal/orchestrator"
	"github.com/1thirteeng3/rlm/internal/sandbox"
)

var (
	configPath string
	verbose    bool
)

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func loadConfig() (*config.Config, error) {
	path := goutils.Env("RLM_CONFIG", configPath)
	if path != "" {
		return config.Load(path)
	}
	return config.Default()
}

// app bundles the long-lived components shared between queries. Orchestrators
// are created per query; everything here is either read-only (pricing) or
// safe for concurrent use (daemon client, metrics registry).
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	sbx      *sandbox.DockerSandbox
	provider llm.Provider
	pricing  *budget.PricingTable
	metrics  *observability.MetricsCollector
	tracing  *observability.TracerSetup
	auditLog *audit.Logger
}

func newApp(logger *slog.Logger) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	sbx, err := sandbox.NewDockerSandbox(cfg.SandboxRuntimeConfig(), logger)
	if err != nil {
		return nil, err
	}

	provider, err := buildProvider(cfg, logger)
	if err != nil {
		return nil, err
	}

	pricing, err := budget.LoadPricing(cfg.Budget.PricingPath, logger)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:      cfg,
		logger:   logger,
		sbx:      sbx,
		provider: provider,
		pricing:  pricing,
	}

	if cfg.AuditLogPath != "" {
		a.auditLog, err = audit.NewLogger(cfg.AuditLogPath, logger)
		if err != nil {
			return nil, err
		}
	}

	if obs := cfg.Observability; obs != nil {
		if obs.Metrics {
			a.metrics = observability.NewMetricsCollector()
		}
		setup, err := observability.NewTracerSetup(obs.Tracing)
		if err != nil {
			return nil, err
		}
		a.tracing = setup
	}
	return a, nil
}

// buildProvider assembles the primary provider plus any configured fallbacks.
func buildProvider(cfg *config.Config, logger *slog.Logger) (llm.Provider, error) {
	primary, err := llm.NewProvider(llm.ProviderConfig{
		Provider: cfg.LLM.Provider,
		APIKey:   cfg.LLM.APIKey,
		Model:    cfg.LLM.Model,
		BaseURL:  cfg.LLM.BaseURL,
	}, logger)
	if err != nil {
		return nil, err
	}
	if len(cfg.LLM.Fallback) == 0 {
		return primary, nil
	}

	chain := []llm.Provider{primary}
	for _, name := range cfg.LLM.Fallback {
		p, err := llm.NewProvider(llm.ProviderConfig{
			Provider: name,
			APIKey:   providerKeyFromEnv(name),
			Model:    cfg.LLM.Model,
		}, logger)
		if err != nil {
			return nil, err
		}
		chain = append(chain, p)
	}
	return llm.NewFallbackProvider(logger, chain...)
}

func providerKeyFromEnv(provider string) string {
	switch provider {
	case "anthropic":
		return os.Getenv("ANTHROPIC_API_KEY")
	case "gemini":
		return os.Getenv("GEMINI_API_KEY")
	default:
		return os.Getenv("OPENAI_API_KEY")
	}
}

// egressConfig maps the file/env egress settings to the filter type.
func (a *app) egressConfig() egress.Config {
	return egress.Config{
		MaxOutputBytes:      a.cfg.Egress.MaxStdoutBytes,
		EntropyThreshold:    a.cfg.Egress.EntropyThreshold,
		MinTokenLength:      a.cfg.Egress.MinEntropyLength,
		SimilarityThreshold: a.cfg.Egress.SimilarityThreshold,
		RaiseOnLeak:         a.cfg.Egress.RaiseOnLeak,
	}
}

// runQuery builds a fresh single-use orchestrator and drives one query.
func (a *app) runQuery(ctx context.Context, query, contextPath string, onStep func(orchestrator.Step)) (string, *orchestrator.Result) {
	bm := budget.NewManager(a.cfg.Budget.MaxDollars, a.pricing, a.logger)

	o := orchestrator.New(orchestrator.Config{
		MaxIterations: a.cfg.Orchestrator.MaxIterations,
		MaxTokens:     a.cfg.Orchestrator.MaxTokens,
		Temperature:   a.cfg.Orchestrator.Temperature,
		RaiseOnLeak:   a.cfg.Egress.RaiseOnLeak,
		Egress:        a.egressConfig(),
	}, a.provider, a.sbx, bm, a.logger)

	if a.metrics != nil {
		o.WithMetrics(a.metrics)
	}
	if a.tracing != nil {
		o.WithTracer(a.tracing.Tracer())
	}

	runID := o.RunID()
	o.OnStep = func(step orchestrator.Step) {
		if a.auditLog != nil {
			_ = a.auditLog.Log(audit.Event{
				RunID:     runID,
				Iteration: step.Iteration,
				Action:    string(step.Action),
				CostUSD:   step.CostDelta,
				Error:     step.Error,
			})
		}
		if onStep != nil {
			onStep(step)
		}
	}

	return runID, o.Run(ctx, query, contextPath)
}

func (a *app) shutdown(ctx context.Context) {
	if a.tracing != nil {
		if err := a.tracing.Shutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", slog.String("error", err.Error()))
		}
	}
	if a.auditLog != nil {
		if err := a.auditLog.Close(); err != nil {
			a.logger.Warn("audit log close failed", slog.String("error", err.Error()))
		}
	}
}
