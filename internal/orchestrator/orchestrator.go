// Package orchestrator drives the agent loop: model request, code extraction,
// sandboxed execution, egress filtering, observation. Every byte returned to
// the model has passed through the egress filter, and the budget is checked
// before every model request.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/1thirteeng3/rlm/internal/budget"
	"github.com/1thirteeng3/rlm/internal/contextfile"
	"github.com/1thirteeng3/rlm/internal/egress"
	"github.com/1thirteeng3/rlm/internal/errdefs"
	"github.com/1thirteeng3/rlm/internal/extract"
	"github.com/1thirteeng3/rlm/internal/llm"
	"github.com/1thirteeng3/rlm/internal/observability"
	"github.com/1thirteeng3/rlm/internal/sandbox"
)

const (
	defaultMaxIterations = 10

	// maxParseFailures is how many consecutive turns without code or a
	// final marker are tolerated before the run ends in a parse failure.
	maxParseFailures = 3

	stderrSeparator = "\n--- stderr ---\n"
)

// Config holds per-orchestrator settings. Constructed once; never mutated.
type Config struct {
	MaxIterations      int
	MaxTokens          int
	Temperature        float64
	RaiseOnLeak        bool
	CustomInstructions string
	Egress             egress.Config
}

// Orchestrator runs one query to completion. Single-use: a second Run on the
// same instance returns an error. Separate instances may run in parallel.
type Orchestrator struct {
	cfg      Config
	provider llm.Provider
	sbx      sandbox.Sandbox
	budget   *budget.Manager
	logger   *slog.Logger
	metrics  *observability.MetricsCollector // nil = metrics disabled
	tracer   trace.Tracer                    // nil = tracing disabled

	used  atomic.Bool
	runID string

	// OnStep, when set, observes each step as it is appended. Used by
	// streaming gateways.
	OnStep func(Step)
}

// New creates an orchestrator for a single query.
func New(cfg Config, provider llm.Provider, sbx sandbox.Sandbox, bm *budget.Manager, logger *slog.Logger) *Orchestrator {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = defaultMaxIterations
	}
	cfg.Egress.RaiseOnLeak = cfg.RaiseOnLeak
	return &Orchestrator{
		cfg:      cfg,
		provider: provider,
		sbx:      sbx,
		budget:   bm,
		logger:   logger,
		runID:    uuid.NewString(),
	}
}

// WithMetrics attaches a metrics collector.
func (o *Orchestrator) WithMetrics(m *observability.MetricsCollector) *Orchestrator {
	o.metrics = m
	return o
}

// WithTracer attaches an OTel tracer.
func (o *Orchestrator) WithTracer(t trace.Tracer) *Orchestrator {
	o.tracer = t
	return o
}

// RunID returns the unique identifier of this run.
func (o *Orchestrator) RunID() string { return o.runID }

// run carries the mutable state of one query.
type run struct {
	history []llm.Message
	steps   []Step
	filter  *egress.Filter
	ctxPath string
}

// Run executes the agent loop for query. contextPath, when non-empty, is
// opened as a read-only context handle, fingerprinted for echo detection, and
// mounted into every sandbox execution. The handle is released on all exit
// paths.
func (o *Orchestrator) Run(ctx context.Context, query, contextPath string) *Result {
	if !o.used.CompareAndSwap(false, true) {
		return o.fatal(nil, errors.New("orchestrator instances are single-use"), 0)
	}
	if o.metrics != nil {
		o.metrics.ActiveQueries.Inc()
		defer o.metrics.ActiveQueries.Dec()
	}
	if o.tracer != nil {
		var span trace.Span
		ctx, span = o.tracer.Start(ctx, "rlm.query",
			trace.WithAttributes(observability.AttrRunID.String(o.runID)))
		defer span.End()
	}

	logger := o.logger.With(slog.String("run_id", o.runID))
	logger.Info("query started", slog.Bool("context", contextPath != ""))

	r := &run{}
	var fp *egress.Fingerprint
	if contextPath != "" {
		handle, err := contextfile.Open(contextPath)
		if err != nil {
			return o.fatal(r, err, 0)
		}
		defer handle.Close()
		fp = handle.Fingerprint()
		r.ctxPath = handle.Path()
	}
	r.filter = egress.New(o.cfg.Egress, fp, logger)
	r.history = append(r.history, llm.Message{Role: llm.RoleUser, Content: query})

	// Fail closed before any model tokens are spent: if the sandbox cannot
	// satisfy its runtime policy, no iteration runs at all.
	if rr, ok := o.sbx.(interface {
		ResolveRuntime(context.Context) (string, error)
	}); ok {
		if _, err := rr.ResolveRuntime(ctx); err != nil {
			return o.fatal(r, err, 0)
		}
	}

	result := o.loop(ctx, r, logger)

	if o.metrics != nil {
		outcome := "error"
		if result.Success {
			outcome = "success"
		}
		o.metrics.QueriesTotal.WithLabelValues(outcome).Inc()
		o.metrics.QueryIterations.Observe(float64(result.Iterations))
	}
	logger.Info("query finished",
		slog.Bool("success", result.Success),
		slog.Int("iterations", result.Iterations),
		slog.Float64("spent_usd", result.Budget.SpentUSD),
	)
	return result
}

// Chat is a one-shot convenience wrapper for queries without a context file.
func (o *Orchestrator) Chat(ctx context.Context, message string) (string, error) {
	result := o.Run(ctx, message, "")
	if result.Err != nil {
		return "", result.Err
	}
	return result.FinalAnswer, nil
}

func (o *Orchestrator) loop(ctx context.Context, r *run, logger *slog.Logger) *Result {
	parseFailures := 0

	for iteration := 0; iteration < o.cfg.MaxIterations; iteration++ {
		logger.Info("iteration",
			slog.Int("n", iteration+1),
			slog.Int("max", o.cfg.MaxIterations),
		)

		// Budget is enforced strictly before the request goes out.
		if err := o.budget.Check(); err != nil {
			return o.fatal(r, err, iteration)
		}

		resp, err := o.callLLM(ctx, r, iteration)
		if err != nil {
			return o.fatal(r, err, iteration)
		}

		// Final marker directly in the model reply.
		if answer, ok := extract.FinalAnswer(resp.Content); ok {
			o.appendStep(r, Step{Iteration: iteration, Action: ActionFinal, Input: summarize(resp.Content), Output: answer})
			return o.success(r, answer, iteration+1)
		}

		r.history = append(r.history, llm.Message{Role: llm.RoleAssistant, Content: resp.Content})

		code, ok := extract.Code(resp.Content)
		if !ok {
			parseFailures++
			if parseFailures >= maxParseFailures {
				return o.fatal(r, fmt.Errorf("%w: %d turns without code or FINAL marker",
					errdefs.ErrParseFailure, parseFailures), iteration+1)
			}
			r.history = append(r.history, llm.Message{
				Role:    llm.RoleUser,
				Content: "No code block found. Reply with a single ```python``` block, or FINAL(answer) if you are done.",
			})
			continue
		}
		parseFailures = 0

		execResult, err := o.executeCode(ctx, r, code, iteration)
		if err != nil {
			return o.fatal(r, err, iteration+1)
		}

		observation, err := o.buildObservation(ctx, r, execResult, iteration)
		if err != nil {
			return o.fatal(r, err, iteration+1)
		}

		// The model may emit the final marker from inside the sandbox.
		if answer, ok := extract.FinalAnswer(observation); ok {
			o.appendStep(r, Step{Iteration: iteration, Action: ActionFinal, Input: summarize(observation), Output: answer})
			return o.success(r, answer, iteration+1)
		}

		r.history = append(r.history, llm.Message{
			Role:    llm.RoleUser,
			Content: "Observation:\n" + observation,
		})
	}

	return o.fatal(r, fmt.Errorf("max iterations (%d) reached without final answer", o.cfg.MaxIterations), o.cfg.MaxIterations)
}

func (o *Orchestrator) callLLM(ctx context.Context, r *run, iteration int) (*llm.Response, error) {
	req := &llm.Request{
		SystemPrompt: buildSystemPrompt(r.ctxPath != "", o.cfg.CustomInstructions),
		Messages:     r.history,
		MaxTokens:    o.cfg.MaxTokens,
		Temperature:  o.cfg.Temperature,
	}

	start := time.Now()
	// Transient provider failures get exactly one retry with jittered
	// exponential backoff.
	resp, err := backoff.Retry(ctx, func() (*llm.Response, error) {
		return o.provider.Complete(ctx, req)
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxTries(2))
	duration := time.Since(start)

	if o.metrics != nil {
		status := "ok"
		if err != nil {
			status = "error"
		}
		model := ""
		if resp != nil {
			model = resp.Model
		}
		o.metrics.LLMRequestsTotal.WithLabelValues(o.provider.Name(), model, status).Inc()
		o.metrics.LLMRequestDuration.WithLabelValues(o.provider.Name(), model).Observe(duration.Seconds())
	}
	if err != nil {
		o.appendStep(r, Step{Iteration: iteration, Action: ActionLLMRequest, Error: err.Error()})
		var llmErr *errdefs.LLMError
		if !errors.As(err, &llmErr) && ctx.Err() == nil {
			err = &errdefs.LLMError{Provider: o.provider.Name(), Err: err}
		}
		return nil, err
	}

	delta := o.budget.Record(resp.Model, resp.Usage.InputTokens, resp.Usage.OutputTokens)
	if o.metrics != nil {
		o.metrics.LLMTokensUsed.WithLabelValues(o.provider.Name(), resp.Model, "input").Add(float64(resp.Usage.InputTokens))
		o.metrics.LLMTokensUsed.WithLabelValues(o.provider.Name(), resp.Model, "output").Add(float64(resp.Usage.OutputTokens))
		o.metrics.BudgetSpentTotal.WithLabelValues(resp.Model).Add(delta)
	}

	o.appendStep(r, Step{
		Iteration: iteration,
		Action:    ActionLLMRequest,
		Input:     summarize(r.history[len(r.history)-1].Content),
		Output:    summarize(resp.Content),
		CostDelta: delta,
	})
	return resp, nil
}

func (o *Orchestrator) executeCode(ctx context.Context, r *run, code string, iteration int) (*sandbox.ExecutionResult, error) {
	if o.tracer != nil {
		var span trace.Span
		ctx, span = o.tracer.Start(ctx, "rlm.sandbox.execute",
			trace.WithAttributes(observability.AttrIteration.Int(iteration)))
		defer span.End()
	}

	result, err := o.sbx.Execute(ctx, code, sandbox.ExecOptions{ContextPath: r.ctxPath})
	if err != nil {
		o.appendStep(r, Step{Iteration: iteration, Action: ActionCodeExec, Input: summarize(code), Error: err.Error()})
		if o.metrics != nil {
			o.metrics.SandboxExecutionsTotal.WithLabelValues("infra_error").Inc()
		}
		return nil, err
	}

	if o.metrics != nil {
		status := observability.SandboxStatus(result.Success(), result.TimedOut, result.OOMKilled)
		o.metrics.SandboxExecutionsTotal.WithLabelValues(status).Inc()
		o.metrics.SandboxExecutionDuration.WithLabelValues(status).Observe(result.Duration.Seconds())
	}

	step := Step{Iteration: iteration, Action: ActionCodeExec, Input: summarize(code), Output: summarize(result.Stdout)}
	if !result.Success() {
		step.Error = fmt.Sprintf("exit=%d timed_out=%v oom_killed=%v", result.ExitCode, result.TimedOut, result.OOMKilled)
	}
	o.appendStep(r, step)
	return result, nil
}

// buildObservation maps an execution result to the text shown to the model.
// Both streams pass through the egress filter; the filtering itself is
// CPU-bound and runs on worker goroutines off the I/O path.
func (o *Orchestrator) buildObservation(ctx context.Context, r *run, result *sandbox.ExecutionResult, iteration int) (string, error) {
	switch {
	case result.OOMKilled:
		return "Error: Memory Limit Exceeded (OOMKilled)", nil
	case result.TimedOut:
		return "Error: Execution Timeout", nil
	}

	var stdoutText, stderrText string
	var stdoutEvents, stderrEvents []egress.Event

	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		stdoutText, stdoutEvents, err = r.filter.Filter([]byte(result.Stdout))
		return err
	})
	g.Go(func() error {
		var err error
		stderrText, stderrEvents, err = r.filter.Filter([]byte(result.Stderr))
		return err
	})
	if err := g.Wait(); err != nil {
		o.appendStep(r, Step{Iteration: iteration, Action: ActionFilter, Error: err.Error()})
		return "", err
	}

	events := append(stdoutEvents, stderrEvents...)
	if o.metrics != nil {
		for _, ev := range events {
			o.metrics.EgressEventsTotal.WithLabelValues(string(ev.Kind)).Inc()
		}
	}
	if len(events) > 0 {
		o.appendStep(r, Step{
			Iteration: iteration,
			Action:    ActionFilter,
			Output:    fmt.Sprintf("%d event(s)", len(events)),
		})
	}

	if !result.Success() {
		return fmt.Sprintf("Error (exit %d):\n%s", result.ExitCode, stderrText), nil
	}
	observation := stdoutText
	if stderrText != "" {
		observation += stderrSeparator + stderrText
	}
	return observation, nil
}

func (o *Orchestrator) appendStep(r *run, step Step) {
	r.steps = append(r.steps, step)
	if o.OnStep != nil {
		o.OnStep(step)
	}
}

func (o *Orchestrator) success(r *run, answer string, iterations int) *Result {
	return &Result{
		FinalAnswer: answer,
		Success:     true,
		Iterations:  iterations,
		Steps:       r.steps,
		Budget:      o.budget.Summary(),
	}
}

func (o *Orchestrator) fatal(r *run, err error, iterations int) *Result {
	result := &Result{
		Success:    false,
		Iterations: iterations,
		Err:        err,
		ErrorCode:  errdefs.Code(err),
		ErrorText:  err.Error(),
		Budget:     o.budget.Summary(),
	}
	if r != nil {
		result.Steps = r.steps
	}
	return result
}
