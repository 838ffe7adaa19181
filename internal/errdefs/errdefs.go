// Package errdefs defines the closed set of error kinds surfaced by RLM.
// Callers match errors programmatically with errors.Is/errors.As instead of
// string inspection.
package errdefs

import (
	"errors"
	"fmt"
)

// Sentinel errors for the error classes that carry no extra payload.
var (
	ErrSecurityViolation = errors.New("security violation")
	ErrContextBinary     = errors.New("context file is binary")
	ErrContextNotFound   = errors.New("context file not found")
	ErrConfiguration     = errors.New("invalid configuration")
	ErrParseFailure      = errors.New("no actionable content in model output")
)

// SandboxKind classifies sandbox-level failures.
type SandboxKind string

const (
	SandboxDaemon   SandboxKind = "daemon"
	SandboxImage    SandboxKind = "image"
	SandboxRuntime  SandboxKind = "runtime"
	SandboxInternal SandboxKind = "internal"
)

// SandboxError is a fatal failure of the sandbox infrastructure itself.
// OOM kills, timeouts, and non-zero exits are NOT SandboxErrors — they are
// normal ExecutionResult outcomes.
type SandboxError struct {
	Kind     SandboxKind
	ExitCode int
	Err      error
}

func (e *SandboxError) Error() string {
	return fmt.Sprintf("sandbox %s error: %v", e.Kind, e.Err)
}

func (e *SandboxError) Unwrap() error { return e.Err }

// Code returns a stable machine-readable identifier.
func (e *SandboxError) Code() string { return "sandbox_" + string(e.Kind) }

// BudgetError reports that the cost ceiling was reached.
type BudgetError struct {
	SpentUSD float64
	LimitUSD float64
}

func (e *BudgetError) Error() string {
	return fmt.Sprintf("budget exceeded: spent $%.4f of $%.4f limit", e.SpentUSD, e.LimitUSD)
}

// Code returns a stable machine-readable identifier.
func (e *BudgetError) Code() string { return "budget_exceeded" }

// LLMError wraps a provider transport or API failure.
type LLMError struct {
	Provider string
	Err      error
}

func (e *LLMError) Error() string {
	return fmt.Sprintf("llm provider %s: %v", e.Provider, e.Err)
}

func (e *LLMError) Unwrap() error { return e.Err }

// Code returns a stable machine-readable identifier.
func (e *LLMError) Code() string { return "llm_failure" }

// DataLeakageError is raised when the egress filter fires a non-truncation
// event under the raise-on-leak policy. Events carries the full event list;
// the concrete type lives in the egress package, so it is kept opaque here.
type DataLeakageError struct {
	Events []string
}

func (e *DataLeakageError) Error() string {
	return fmt.Sprintf("data leakage detected: %d egress event(s)", len(e.Events))
}

// Code returns a stable machine-readable identifier.
func (e *DataLeakageError) Code() string { return "data_leakage" }

// Code maps any RLM error to its stable identifier. Unknown errors map to
// "internal".
func Code(err error) string {
	type coder interface{ Code() string }
	var c coder
	if errors.As(err, &c) {
		return c.Code()
	}
	switch {
	case errors.Is(err, ErrSecurityViolation):
		return "security_violation"
	case errors.Is(err, ErrContextBinary):
		return "context_binary"
	case errors.Is(err, ErrContextNotFound):
		return "context_not_found"
	case errors.Is(err, ErrConfiguration):
		return "configuration"
	case errors.Is(err, ErrParseFailure):
		return "parse_failure"
	default:
		return "internal"
	}
}
