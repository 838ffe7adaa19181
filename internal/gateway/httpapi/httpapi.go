// Package httpapi implements the HTTP API gateway for RLM.
//
// Security:
//   - API key authentication on every request (constant-time comparison)
//   - Orchestrators are constructed per request; nothing is shared between
//     queries except the read-only pricing table and the daemon client
//   - TLS expected via reverse proxy (not handled here)
package httpapi

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/jkaninda/okapi"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/1thirteeng3/rlm/internal/orchestrator"
	"github.com/1thirteeng3/rlm/internal/ratelimit"
)

// QueryRunner executes one query with a fresh orchestrator. onStep may be nil.
// The gateway depends on this factory rather than an orchestrator instance
// because orchestrators are single-use.
type QueryRunner func(ctx context.Context, query, contextPath string, onStep func(orchestrator.Step)) (runID string, result *orchestrator.Result)

// Config configures the HTTP API gateway.
type Config struct {
	ListenAddr      string // e.g. ":8080".
	APIKey          string // Bearer key; empty disables auth (local use only).
	EnableDocs      bool
	MetricsRegistry *prometheus.Registry // nil disables /metrics.
	RateLimit       ratelimit.Config
}

// Gateway is the HTTP API gateway.
type Gateway struct {
	config  Config
	run     QueryRunner
	limiter *ratelimit.Limiter
	logger  *slog.Logger
	server  *http.Server
	okapi   *okapi.Okapi
}

// NewGateway creates an HTTP API gateway.
func NewGateway(cfg Config, run QueryRunner, logger *slog.Logger) *Gateway {
	return &Gateway{
		config:  cfg,
		run:     run,
		limiter: ratelimit.NewLimiter(cfg.RateLimit),
		logger:  logger,
		okapi:   okapi.New(),
	}
}

// clientID keys the rate limiter: the remote host, since queries share one
// API key.
func clientID(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}

// Start launches the HTTP server and blocks until it exits.
func (g *Gateway) Start(ctx context.Context) error {
	group := g.okapi.Group("/v1", g.authenticate)

	group.Post("/query", g.handleQuery,
		okapi.DocSummary("Run a query through the code-execution supervisor"),
		okapi.DocTags("Query"),
		okapi.DocRequestBody(QueryRequest{}),
		okapi.DocResponse(QueryResponse{}),
		okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
		okapi.DocResponse(http.StatusUnauthorized, ErrorBody{}),
	)
	// WebSocket streaming endpoint: mounted on the raw mux because the
	// upgrade needs the underlying ResponseWriter.
	g.okapi.HandleStd("GET", "/v1/query/ws", g.handleQueryWS)

	// Observability endpoints (unauthenticated).
	g.okapi.Get("/healthz", g.handleHealth)
	if g.config.MetricsRegistry != nil {
		g.okapi.HandleStd("GET", "/metrics",
			promhttp.HandlerFor(g.config.MetricsRegistry, promhttp.HandlerOpts{}).ServeHTTP)
	}
	if g.config.EnableDocs {
		g.okapi.WithOpenAPIDocs(okapi.OpenAPI{Title: "RLM", Version: "v1"})
	}

	g.server = &http.Server{
		Addr:              g.config.ListenAddr,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	g.logger.Info("http gateway starting", slog.String("addr", g.config.ListenAddr))
	return g.okapi.StartServer(g.server)
}

// Stop gracefully shuts down the HTTP server.
func (g *Gateway) Stop(ctx context.Context) error {
	if g.server == nil {
		return nil
	}
	g.logger.Info("http gateway stopping")
	return g.okapi.Shutdown(g.server)
}

// errEmptyQuery rejects requests without a query before any work starts.
var errEmptyQuery = errors.New("query is required")

// authorized checks a Bearer Authorization header against the configured API
// key in constant time. An empty configured key disables auth (local use).
func (g *Gateway) authorized(authHeader string) bool {
	if g.config.APIKey == "" {
		return true
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return false
	}
	key := strings.TrimPrefix(authHeader, "Bearer ")
	return subtle.ConstantTimeCompare([]byte(key), []byte(g.config.APIKey)) == 1
}

func (g *Gateway) authenticate(next okapi.HandlerFunc) okapi.HandlerFunc {
	return func(c *okapi.Context) error {
		if !g.authorized(c.Header("Authorization")) {
			return c.AbortUnauthorized("missing or invalid API key")
		}
		return next(c)
	}
}

// serveQuery is the transport-agnostic query path: throttle, validate, run.
// Both the JSON endpoint and the WebSocket endpoint delegate here.
func (g *Gateway) serveQuery(ctx context.Context, limiterKey string, req QueryRequest, onStep func(orchestrator.Step)) (QueryResponse, error) {
	// The limiter shields the backend, where each query costs model tokens
	// and a container per iteration.
	if err := g.limiter.Allow(limiterKey); err != nil {
		return QueryResponse{}, err
	}
	if req.Query == "" {
		return QueryResponse{}, errEmptyQuery
	}

	g.logger.Info("http query",
		slog.Bool("context", req.ContextPath != ""),
	)

	runID, result := g.run(ctx, req.Query, req.ContextPath, onStep)
	return toQueryResponse(runID, result), nil
}

func (g *Gateway) handleQuery(c *okapi.Context) error {
	var req QueryRequest
	if err := c.Bind(&req); err != nil {
		return c.AbortBadRequest("query is required")
	}

	// One shared API key means one limiter bucket for the JSON endpoint.
	resp, err := g.serveQuery(c.Context(), "http", req, nil)
	switch {
	case errors.Is(err, ratelimit.ErrRateLimited):
		return c.AbortTooManyRequests("rate limit exceeded")
	case errors.Is(err, errEmptyQuery):
		return c.AbortBadRequest("query is required")
	}
	return c.OK(resp)
}

// handleQueryWS upgrades to WebSocket, reads one QueryRequest, streams step
// events as they happen, and closes after the terminal result event.
func (g *Gateway) handleQueryWS(w http.ResponseWriter, r *http.Request) {
	if !g.authorized(r.Header.Get("Authorization")) {
		http.Error(w, "invalid API key", http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return // Accept already wrote the HTTP error.
	}
	defer conn.Close(websocket.StatusInternalError, "unexpected shutdown")

	ctx := r.Context()

	var req QueryRequest
	if err := wsjson.Read(ctx, conn, &req); err != nil {
		conn.Close(websocket.StatusInvalidFramePayloadData, "invalid request")
		return
	}

	resp, err := g.serveQuery(ctx, clientID(r.RemoteAddr), req, func(step orchestrator.Step) {
		_ = wsjson.Write(ctx, conn, StepEvent{Type: "step", Step: &step})
	})
	switch {
	case errors.Is(err, ratelimit.ErrRateLimited):
		conn.Close(websocket.StatusPolicyViolation, "rate limit exceeded")
		return
	case errors.Is(err, errEmptyQuery):
		conn.Close(websocket.StatusInvalidFramePayloadData, "query is required")
		return
	}

	_ = wsjson.Write(ctx, conn, StepEvent{Type: "result", Result: &resp})
	conn.Close(websocket.StatusNormalClosure, "done")
}

// healthz is the /healthz payload, split from the framework handler so it is
// assertable in tests.
func (g *Gateway) healthz() HealthResponse {
	return HealthResponse{Status: "ok"}
}

func (g *Gateway) handleHealth(c *okapi.Context) error {
	return c.OK(g.healthz())
}
