package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/querypilot/querypilot/internal/api"
	"github.com/querypilot/querypilot/internal/api/uistatic"
	"github.com/querypilot/querypilot/internal/config"
	"github.com/querypilot/querypilot/internal/database"
	"github.com/querypilot/querypilot/internal/observability"
	"github.com/querypilot/querypilot/internal/pipeline"
	"github.com/querypilot/querypilot/internal/schema"
	"github.com/querypilot/querypilot/internal/storage"
	s3store "github.com/querypilot/querypilot/internal/storage/s3"
)

func main() {
	cfg, err := config.LoadFromEnv("querypilot-api")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg, os.Stdout)
	var runner api.PipelineRunner
	if orchestrator, err := pipeline.FromConfig(cfg, logger); err != nil {
		logger.Warn("pipeline disabled, /v1/ask will answer 501", slog.Any("error", err))
	} else {
		runner = orchestrator
	}

	var objectStore storage.ObjectStore
	if cfg.ObjectStore.Enabled {
		store, err := s3store.New(context.Background(), s3store.FromConfig(cfg.ObjectStore))
		if err != nil {
			logger.Error("failed to initialize object store", slog.Any("error", err))
			os.Exit(1)
		}
		objectStore = store
	}

	deps := api.Dependencies{
		Logger:       logger,
		Pipeline:     runner,
		Opener:       database.SQLOpener{ReadOnly: cfg.Query.ReadOnly},
		Describer:    schema.NewExtractor(),
		ObjectStore:  objectStore,
		Limiter:      semaphore.NewWeighted(int64(cfg.Query.MaxConcurrentRuns)),
		QueueTimeout: cfg.Query.QueueTimeout,
		UI:           uistatic.Handler(),
		Readiness: api.CombineReadinessChecks(
			api.CheckAIConfig(cfg),
			api.CheckObjectStoreConfig(cfg),
		),
		DependencyTimeout: time.Second,
	}

	handler := api.NewHandler(cfg, deps)
	server := &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      handler,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("starting api server",
			slog.String("addr", cfg.HTTP.Address),
			slog.String("ai_provider", cfg.AI.Provider),
			slog.Bool("read_only", cfg.Query.ReadOnly),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api server failed", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutting down api server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", slog.Any("error", err))
		_ = server.Close()
		os.Exit(1)
	}
}
