package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	httpadapter "github.com/caldera-labs/retrieval-engine/internal/adapters/http"
	"github.com/caldera-labs/retrieval-engine/internal/bootstrap"
	"github.com/caldera-labs/retrieval-engine/internal/config"
	"github.com/caldera-labs/retrieval-engine/internal/core/usecase"
	"github.com/caldera-labs/retrieval-engine/internal/observability/logging"
	"github.com/caldera-labs/retrieval-engine/internal/observability/metrics"
)

func main() {
	cfg := config.Load()
	logger := logging.NewJSONLogger("api", cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	engineMetrics := metrics.NewEngineMetrics("api")

	app, err := bootstrap.New(ctx, cfg, logger, engineMetrics)
	if err != nil {
		log.Fatalf("bootstrap error: %v", err)
	}
	defer app.Close()

	invalidator := usecase.NewInvalidationService(app.Cache, app.Bus, logger)
	router := httpadapter.NewRouter(app.AnswerUC, invalidator, httpadapter.Options{
		RateLimitRPS:   cfg.APIRateLimitRPS,
		RateLimitBurst: cfg.APIRateLimitBurst,
		MaxInFlight:    cfg.APIMaxInFlight,
		Logger:         logger,
		OnInvalidate:   engineMetrics.RecordInvalidation,
	})

	mux := http.NewServeMux()
	mux.Handle("/metrics", engineMetrics.Handler())
	mux.Handle("/", engineMetrics.Middleware(router.Handler()))

	server := &http.Server{
		Addr:         ":" + cfg.APIPort,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("api_listening", "port", cfg.APIPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("api server error: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("api_shutdown_error", "error", err)
	}
}
