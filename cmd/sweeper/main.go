package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caldera-labs/retrieval-engine/internal/bootstrap"
	"github.com/caldera-labs/retrieval-engine/internal/config"
	"github.com/caldera-labs/retrieval-engine/internal/core/domain"
	"github.com/caldera-labs/retrieval-engine/internal/observability/logging"
	"github.com/caldera-labs/retrieval-engine/internal/observability/metrics"
)

func main() {
	cfg := config.Load()
	logger := logging.NewJSONLogger("sweeper", cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sweeperMetrics := metrics.NewSweeperMetrics("sweeper")

	app, err := bootstrap.New(ctx, cfg, logger, nil)
	if err != nil {
		log.Fatalf("bootstrap error: %v", err)
	}
	defer app.Close()

	metricsServer := &http.Server{
		Addr:    ":" + cfg.SweeperMetricsPort,
		Handler: sweeperMetrics.Handler(),
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("sweeper_metrics_server_error", "error", err)
		}
	}()

	go func() {
		logger.Info("sweeper_subscribed", "subject", cfg.NATSSubject)
		err := app.Bus.SubscribeInvalidation(ctx, func(handlerCtx context.Context, event domain.InvalidationEvent) error {
			evicted, err := app.Cache.Invalidate(handlerCtx, event.Namespace, event.Pattern)
			sweeperMetrics.RecordInvalidationEvent(err)
			if err != nil {
				return err
			}
			logger.Info("invalidation_applied",
				"event_id", event.ID,
				"namespace", event.Namespace,
				"evicted", evicted,
			)
			return nil
		})
		if err != nil && ctx.Err() == nil {
			log.Fatalf("sweeper subscribe error: %v", err)
		}
	}()

	interval := time.Duration(cfg.SweepIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logger.Info("sweeper_started", "interval", interval.String())
	for {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			_ = metricsServer.Shutdown(shutdownCtx)
			cancel()
			return
		case <-ticker.C:
			start := time.Now()
			purged, err := app.Cache.PurgeExpired(ctx)
			sweeperMetrics.RecordSweep(time.Since(start), err)
			if err != nil {
				logger.Error("sweep_failed", "error", err)
				continue
			}
			sweeperMetrics.RecordPurged("all", purged)
			if purged > 0 {
				logger.Info("sweep_completed", "purged", purged)
			}
		}
	}
}
