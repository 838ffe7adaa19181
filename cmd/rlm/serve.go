package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/1thirteeng3/rlm/internal/gateway/httpapi"
	"github.com/1thirteeng3/rlm/internal/orchestrator"
	"github.com/1thirteeng3/rlm/internal/ratelimit"
)

var serveListenAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API gateway",
	Long: `Serve the supervisor over HTTP. POST /v1/query runs a full agent loop;
GET /v1/query/ws streams step events over WebSocket. /healthz and /metrics
are exposed unauthenticated.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveListenAddr, "listen", "", "listen address (overrides config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := newLogger()
	a, err := newApp(logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	defer a.shutdown(context.Background())

	httpCfg := httpapi.Config{ListenAddr: ":8080"}
	if h := a.cfg.HTTP; h != nil {
		if h.ListenAddr != "" {
			httpCfg.ListenAddr = h.ListenAddr
		}
		httpCfg.APIKey = h.APIKey
		httpCfg.EnableDocs = h.EnableDocs
		httpCfg.RateLimit = ratelimit.Config{
			RequestsPerMinute: h.RateLimit.RequestsPerMinute,
			BurstSize:         h.RateLimit.BurstSize,
		}
	}
	if serveListenAddr != "" {
		httpCfg.ListenAddr = serveListenAddr
	}
	if a.metrics != nil {
		httpCfg.MetricsRegistry = a.metrics.Registry
	} else {
		// Serve a registry even without full metrics config so /metrics
		// always answers.
		httpCfg.MetricsRegistry = prometheus.NewRegistry()
	}

	runner := func(ctx context.Context, query, contextPath string, onStep func(orchestrator.Step)) (string, *orchestrator.Result) {
		return a.runQuery(ctx, query, contextPath, onStep)
	}
	gw := httpapi.NewGateway(httpCfg, runner, logger)

	errCh := make(chan error, 1)
	go func() { errCh <- gw.Start(ctx) }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return gw.Stop(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
