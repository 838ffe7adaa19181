package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// FallbackProvider tries a chain of providers in order, moving to the next on
// transport or API failure. The conversation is identical for every provider;
// only token accounting differs per backend.
type FallbackProvider struct {
	chain  []Provider
	logger *slog.Logger
}

// NewFallbackProvider builds a fallback chain. The first provider is the
// primary.
func NewFallbackProvider(logger *slog.Logger, chain ...Provider) (*FallbackProvider, error) {
	if len(chain) == 0 {
		return nil, errors.New("fallback chain requires at least one provider")
	}
	return &FallbackProvider{chain: chain, logger: logger}, nil
}

// Name returns the primary provider's name.
func (f *FallbackProvider) Name() string { return f.chain[0].Name() }

// Complete tries each provider until one succeeds.
func (f *FallbackProvider) Complete(ctx context.Context, req *Request) (*Response, error) {
	var lastErr error
	for i, p := range f.chain {
		resp, err := p.Complete(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		if i < len(f.chain)-1 {
			f.logger.Warn("llm provider failed, falling back",
				slog.String("provider", p.Name()),
				slog.String("next", f.chain[i+1].Name()),
				slog.String("error", err.Error()),
			)
		}
	}
	return nil, fmt.Errorf("all llm providers failed: %w", lastErr)
}

// Stream tries each provider until one succeeds.
func (f *FallbackProvider) Stream(ctx context.Context, req *Request, onChunk func(string)) (*Response, error) {
	var lastErr error
	for i, p := range f.chain {
		resp, err := p.Stream(ctx, req, onChunk)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		if i < len(f.chain)-1 {
			f.logger.Warn("llm provider failed, falling back",
				slog.String("provider", p.Name()),
				slog.String("next", f.chain[i+1].Name()),
				slog.String("error", err.Error()),
			)
		}
	}
	return nil, fmt.Errorf("all llm providers failed: %w", lastErr)
}
