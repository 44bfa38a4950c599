package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"

	"github.com/allison-weber/EPAnomoly/internal/adapter/filestore"
	httpadapter "github.com/allison-weber/EPAnomoly/internal/adapter/http"
	kafkaadapter "github.com/allison-weber/EPAnomoly/internal/adapter/kafka"
	"github.com/allison-weber/EPAnomoly/internal/adapter/sqlite"
	"github.com/allison-weber/EPAnomoly/internal/config"
	"github.com/allison-weber/EPAnomoly/internal/observability"
	"github.com/allison-weber/EPAnomoly/internal/pipeline"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := sharedobs.NewLogger(cfg.LogLevel, cfg.LogFormat)
	metrics := observability.NewMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store := filestore.New(cfg.DataDir, logger)
	pool := pipeline.NewPool(cfg.Params.PoolSize(), cfg.Params.BatchSize, logger)

	// Verdict sinks are feature-flagged via KAFKA_ENABLED and SQLITE_PATH.
	var sinks []pipeline.VerdictSink
	var writer *kafkaadapter.Writer
	if cfg.KafkaEnabled {
		writer = kafkaadapter.NewWriter(cfg, logger)
		sinks = append(sinks, writer)
		logger.Info("kafka verdict sink enabled", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaVerdictTopic)
	}
	var runs *sqlite.Store
	if cfg.SQLitePath != "" {
		runs, err = sqlite.Open(ctx, cfg.SQLitePath, logger)
		if err != nil {
			logger.Error("failed to open run store", "path", cfg.SQLitePath, "error", err)
			os.Exit(1)
		}
		sinks = append(sinks, runs)
		logger.Info("sqlite run store enabled", "path", cfg.SQLitePath)
	}

	engine := pipeline.New(store, pool, cfg.Params, logger, metrics, sinks...)
	cached := pipeline.NewCachedDetector(engine, cfg.VerdictCacheSize, metrics)

	deps := httpadapter.Deps{Ready: engine, Detector: cached, Sites: engine, Runs: engine}
	if runs != nil {
		deps.Runs = runs
	}
	srv := httpadapter.NewServer(cfg.HTTPAddr, deps, logger)

	var scheduler *pipeline.Scheduler
	if cfg.RefitSchedule != "" {
		scheduler, err = pipeline.NewScheduler(engine, cached, cfg.RefitSchedule, logger, metrics)
		if err != nil {
			logger.Error("failed to create refit scheduler", "error", err)
			os.Exit(1)
		}
		scheduler.Start(ctx)
		logger.Info("scheduled refit enabled", "schedule", cfg.RefitSchedule)
	}

	logger.Info("anomaly engine ready",
		"data_dir", cfg.DataDir,
		"workers", pool.Workers(),
		"batch_size", pool.BatchSize(),
		"cache_size", cfg.VerdictCacheSize,
	)

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	if scheduler != nil {
		scheduler.Stop()
	}
	if writer != nil {
		if err := writer.Close(); err != nil {
			logger.Error("kafka writer close error", "error", err)
		}
	}
	if err := runs.Close(); err != nil {
		logger.Error("run store close error", "error", err)
	}

	logger.Info("shutdown complete")
}
