package cmd

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/prepcli/prep/contextfile"
	"github.com/prepcli/prep/history"
	"github.com/prepcli/prep/internal/handlers"
	"github.com/prepcli/prep/localratelimiter"
	"github.com/prepcli/prep/metrics"
	"github.com/prepcli/prep/refiner"
)

const shutdownTimeout = 10 * time.Second

func newServeCommand(root *rootOptions) *cobra.Command {
	var (
		host          string
		port          int
		acceptPartial bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve refinements over HTTP",
		Long: `Run an HTTP API in front of the refiner.

  POST /refine   {"prompt": "...", "provider": "openai", "template": "code", "answers": ["..."]}
  GET  /health
  GET  /metrics  Prometheus exposition

Provider keys come from the server environment or the request's Authorization: Bearer
or X-Api-Key header. Clarification questions are answered from "answers"; when they run
out the response is 409 with the open questions.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, root)
			if err != nil {
				return err
			}
			defer func() { _ = a.logger.Sync() }()

			if host == "" {
				host = a.config.Serve.Host
			}
			if port <= 0 {
				port = a.config.Serve.Port
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			metricsClient := metrics.NewMonitoringClient()
			composer := refiner.NewComposer(a.catalog, contextfile.NewReader(a.fs, a.config.Refine.ContextMaxBytes, nil))
			orchestrator := refiner.NewOrchestrator(a.config.Environment(os.LookupEnv), composer, refiner.OrchestratorOptions{
				Factory:                refiner.NewProviderFactory(nil, a.logger),
				Recorder:               metricsClient,
				Logger:                 a.logger,
				AcceptPartialOnDecline: acceptPartial,
			})

			var sink handlers.HistorySink
			if a.config.History.Enabled {
				store, err := history.Open(ctx, a.config.HistoryPath(a.manager))
				if err != nil {
					a.logger.Warn("history disabled", zap.Error(err))
				} else {
					defer store.Close()
					sink = store
				}
			}

			limiter := localratelimiter.NewRateLimiter(ctx, a.config.Serve.RatePerSecond, a.config.Serve.Burst, func(client string) {
				metricsClient.RecordCounter(metrics.ServeRateLimitedTotal, map[string]string{}, 1)
				a.logger.Debug("rate limited", zap.String("client", client))
			})

			ttl := a.config.Serve.CacheTTL
			gin.SetMode(gin.ReleaseMode)
			router, err := handlers.NewRouter(handlers.RouterOptions{
				Refine:         handlers.NewRefineHandler(orchestrator, cache.New(ttl, 2*ttl), metricsClient, sink, a.logger),
				Health:         handlers.NewHealthHandler(metricsClient),
				Metrics:        metricsClient,
				RateLimiter:    limiter,
				AllowedOrigins: a.config.Serve.AllowedOrigins,
				TrustedProxies: a.config.Serve.TrustedProxies,
				Logger:         a.logger,
			})
			if err != nil {
				return err
			}

			return serve(ctx, a, router, host, port)
		},
	}
	cmd.Flags().StringVar(&host, "host", "", "address to bind (default from serve.host)")
	cmd.Flags().IntVar(&port, "port", 0, "port to listen on (default from serve.port)")
	cmd.Flags().BoolVar(&acceptPartial, "accept-partial", false, "return the first draft instead of 409 when answers run out")
	return cmd
}

func serve(ctx context.Context, a *app, handler http.Handler, host string, port int) error {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()
	a.printer.Success("Listening on http://%s", addr)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Wrap(err, "server failed")
	case <-ctx.Done():
	}

	a.printer.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "failed to shut down cleanly")
	}
	return nil
}
