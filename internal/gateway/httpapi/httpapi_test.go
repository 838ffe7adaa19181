package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/1thirteeng3/rlm/internal/budget"
	"github.com/1thirteeng3/rlm/internal/orchestrator"
	"github.com/1thirteeng3/rlm/internal/ratelimit"
)

// fakeRunner returns a canned result and records what it was asked.
func fakeRunner(result *orchestrator.Result) (QueryRunner, *[]string) {
	var queries []string
	runner := func(ctx context.Context, query, contextPath string, onStep func(orchestrator.Step)) (string, *orchestrator.Result) {
		queries = append(queries, query)
		if onStep != nil {
			onStep(orchestrator.Step{Iteration: 0, Action: orchestrator.ActionLLMRequest})
			onStep(orchestrator.Step{Iteration: 0, Action: orchestrator.ActionFinal})
		}
		return "run-test", result
	}
	return runner, &queries
}

func newTestGateway(cfg Config, result *orchestrator.Result) (*Gateway, *[]string) {
	runner, queries := fakeRunner(result)
	return NewGateway(cfg, runner, slog.New(slog.DiscardHandler)), queries
}

func successResult() *orchestrator.Result {
	return &orchestrator.Result{
		FinalAnswer: "42",
		Success:     true,
		Iterations:  1,
		Budget:      budget.Summary{SpentUSD: 0.01, LimitUSD: 1.0},
	}
}

func TestServeQuery(t *testing.T) {
	gw, queries := newTestGateway(Config{}, successResult())

	resp, err := gw.serveQuery(context.Background(), "test", QueryRequest{Query: "what is 6*7?"}, nil)
	if err != nil {
		t.Fatalf("serveQuery: %v", err)
	}
	if resp.RunID != "run-test" || resp.FinalAnswer != "42" || !resp.Success {
		t.Errorf("response = %+v", resp)
	}
	if len(*queries) != 1 || (*queries)[0] != "what is 6*7?" {
		t.Errorf("runner saw queries %v", *queries)
	}
}

func TestServeQueryEmpty(t *testing.T) {
	gw, queries := newTestGateway(Config{}, successResult())

	_, err := gw.serveQuery(context.Background(), "test", QueryRequest{}, nil)
	if !errors.Is(err, errEmptyQuery) {
		t.Errorf("error = %v, want errEmptyQuery", err)
	}
	if len(*queries) != 0 {
		t.Error("runner invoked for empty query")
	}
}

func TestServeQueryRateLimited(t *testing.T) {
	gw, _ := newTestGateway(Config{
		RateLimit: ratelimit.Config{RequestsPerMinute: 1, BurstSize: 1},
	}, successResult())

	if _, err := gw.serveQuery(context.Background(), "test", QueryRequest{Query: "q"}, nil); err != nil {
		t.Fatalf("first query refused: %v", err)
	}
	_, err := gw.serveQuery(context.Background(), "test", QueryRequest{Query: "q"}, nil)
	if !errors.Is(err, ratelimit.ErrRateLimited) {
		t.Errorf("error = %v, want ErrRateLimited", err)
	}
}

func TestServeQueryErrorResult(t *testing.T) {
	gw, _ := newTestGateway(Config{}, &orchestrator.Result{
		Success:   false,
		ErrorCode: "security_violation",
		ErrorText: "secure runtime required",
	})

	resp, err := gw.serveQuery(context.Background(), "test", QueryRequest{Query: "q"}, nil)
	if err != nil {
		t.Fatalf("serveQuery: %v", err)
	}
	if resp.Success || resp.ErrorCode != "security_violation" {
		t.Errorf("response = %+v", resp)
	}
}

func TestAuthorized(t *testing.T) {
	gw, _ := newTestGateway(Config{APIKey: "sekrit"}, successResult())

	tests := []struct {
		name   string
		header string
		want   bool
	}{
		{"valid", "Bearer sekrit", true},
		{"wrong key", "Bearer nope", false},
		{"missing prefix", "sekrit", false},
		{"empty", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := gw.authorized(tt.header); got != tt.want {
				t.Errorf("authorized(%q) = %v, want %v", tt.header, got, tt.want)
			}
		})
	}

	open, _ := newTestGateway(Config{}, successResult())
	if !open.authorized("") {
		t.Error("empty configured key should disable auth")
	}
}

func TestHealthz(t *testing.T) {
	gw, _ := newTestGateway(Config{}, successResult())
	if got := gw.healthz(); got.Status != "ok" {
		t.Errorf("healthz = %+v", got)
	}
}

func TestClientID(t *testing.T) {
	if got := clientID("10.1.2.3:5040"); got != "10.1.2.3" {
		t.Errorf("clientID = %q", got)
	}
	if got := clientID("not-an-addr"); got != "not-an-addr" {
		t.Errorf("clientID fallback = %q", got)
	}
}

func TestQueryWSStreamsSteps(t *testing.T) {
	gw, _ := newTestGateway(Config{}, successResult())

	srv := httptest.NewServer(http.HandlerFunc(gw.handleQueryWS))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "test done")

	if err := wsjson.Write(ctx, conn, QueryRequest{Query: "what is 6*7?"}); err != nil {
		t.Fatalf("write request: %v", err)
	}

	var steps int
	for {
		var ev StepEvent
		if err := wsjson.Read(ctx, conn, &ev); err != nil {
			t.Fatalf("read event: %v", err)
		}
		if ev.Type == "step" {
			steps++
			continue
		}
		if ev.Type != "result" || ev.Result == nil {
			t.Fatalf("unexpected terminal event: %+v", ev)
		}
		if ev.Result.FinalAnswer != "42" || !ev.Result.Success {
			t.Errorf("result = %+v", ev.Result)
		}
		break
	}
	if steps != 2 {
		t.Errorf("step events = %d, want 2", steps)
	}
}

func TestQueryWSRejectsBadKey(t *testing.T) {
	gw, _ := newTestGateway(Config{APIKey: "sekrit"}, successResult())

	srv := httptest.NewServer(http.HandlerFunc(gw.handleQueryWS))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	_, resp, err := websocket.Dial(ctx, url, nil)
	if err == nil {
		t.Fatal("dial succeeded without API key")
	}
	if resp != nil && resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}
}

func TestQueryWSEmptyQuery(t *testing.T) {
	gw, _ := newTestGateway(Config{}, successResult())

	srv := httptest.NewServer(http.HandlerFunc(gw.handleQueryWS))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "test done")

	if err := wsjson.Write(ctx, conn, QueryRequest{}); err != nil {
		t.Fatalf("write request: %v", err)
	}

	var ev StepEvent
	err = wsjson.Read(ctx, conn, &ev)
	if websocket.CloseStatus(err) != websocket.StatusInvalidFramePayloadData {
		t.Errorf("close status = %v, want invalid payload", err)
	}
}
