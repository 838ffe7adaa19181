package llm

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/1thirteeng3/rlm/internal/errdefs"
)

type stubProvider struct {
	name string
	resp *Response
	err  error
}

func (s *stubProvider) Name() string { return s.name }

func (s *stubProvider) Complete(ctx context.Context, req *Request) (*Response, error) {
	return s.resp, s.err
}

func (s *stubProvider) Stream(ctx context.Context, req *Request, onChunk func(string)) (*Response, error) {
	if s.err != nil {
		return nil, s.err
	}
	onChunk(s.resp.Content)
	return s.resp, nil
}

func TestNewProviderSelectsBackend(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)
	tests := []struct {
		provider string
		wantName string
	}{
		{"openai", "openai"},
		{"anthropic", "anthropic"},
		{"gemini", "gemini"},
	}
	for _, tt := range tests {
		p, err := NewProvider(ProviderConfig{Provider: tt.provider, APIKey: "k", Model: "m"}, logger)
		if err != nil {
			t.Fatalf("%s: %v", tt.provider, err)
		}
		if p.Name() != tt.wantName {
			t.Errorf("name = %q, want %q", p.Name(), tt.wantName)
		}
	}
}

func TestNewProviderRejectsUnknown(t *testing.T) {
	_, err := NewProvider(ProviderConfig{Provider: "mystery", Model: "m"}, slog.New(slog.DiscardHandler))
	if !errors.Is(err, errdefs.ErrConfiguration) {
		t.Errorf("error = %v, want ErrConfiguration", err)
	}
}

func TestNewProviderRequiresModel(t *testing.T) {
	_, err := NewProvider(ProviderConfig{Provider: "openai"}, slog.New(slog.DiscardHandler))
	if !errors.Is(err, errdefs.ErrConfiguration) {
		t.Errorf("error = %v, want ErrConfiguration", err)
	}
}

func TestFallbackUsesPrimary(t *testing.T) {
	primary := &stubProvider{name: "a", resp: &Response{Content: "from a"}}
	backup := &stubProvider{name: "b", resp: &Response{Content: "from b"}}
	f, err := NewFallbackProvider(slog.New(slog.DiscardHandler), primary, backup)
	if err != nil {
		t.Fatal(err)
	}

	resp, err := f.Complete(context.Background(), &Request{})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Content != "from a" {
		t.Errorf("content = %q, want primary", resp.Content)
	}
}

func TestFallbackMovesToNext(t *testing.T) {
	primary := &stubProvider{name: "a", err: errors.New("down")}
	backup := &stubProvider{name: "b", resp: &Response{Content: "from b"}}
	f, err := NewFallbackProvider(slog.New(slog.DiscardHandler), primary, backup)
	if err != nil {
		t.Fatal(err)
	}

	resp, err := f.Complete(context.Background(), &Request{})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Content != "from b" {
		t.Errorf("content = %q, want backup", resp.Content)
	}
}

func TestFallbackAllFail(t *testing.T) {
	f, err := NewFallbackProvider(slog.New(slog.DiscardHandler),
		&stubProvider{name: "a", err: errors.New("down")},
		&stubProvider{name: "b", err: errors.New("also down")},
	)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.Complete(context.Background(), &Request{}); err == nil {
		t.Error("expected error when every provider fails")
	}
}

func TestFallbackRequiresProviders(t *testing.T) {
	if _, err := NewFallbackProvider(slog.New(slog.DiscardHandler)); err == nil {
		t.Error("expected error for empty chain")
	}
}
