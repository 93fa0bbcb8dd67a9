package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/couchcryptid/aqi-fusion-service/internal/adapter/forecastapi"
	httpadapter "github.com/couchcryptid/aqi-fusion-service/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/aqi-fusion-service/internal/adapter/kafka"
	"github.com/couchcryptid/aqi-fusion-service/internal/alert"
	"github.com/couchcryptid/aqi-fusion-service/internal/config"
	"github.com/couchcryptid/aqi-fusion-service/internal/domain"
	"github.com/couchcryptid/aqi-fusion-service/internal/forecast"
	"github.com/couchcryptid/aqi-fusion-service/internal/observability"
	"github.com/couchcryptid/aqi-fusion-service/internal/pipeline"
	"github.com/couchcryptid/aqi-fusion-service/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	readings := store.NewRedis(redisClient)

	// Alert rules come from a static file when configured, otherwise from
	// the rule sets maintained in Redis.
	var rules alert.RuleSource = readings
	if cfg.RulesFile != "" {
		static, err := store.LoadRulesFile(cfg.RulesFile)
		if err != nil {
			logger.Error("failed to load rules file", "error", err, "path", cfg.RulesFile)
			os.Exit(1)
		}
		rules = static
		logger.Info("alert rules loaded from file", "path", cfg.RulesFile)
	}

	reader := kafkaadapter.NewReader(cfg, logger)
	snapshots := kafkaadapter.NewSnapshotWriter(cfg, logger)
	forecasts := kafkaadapter.NewForecastWriter(cfg, logger)
	intents := kafkaadapter.NewIntentWriter(cfg, logger)

	// Forecast projection is feature-flagged via FORECAST_API_URL.
	var projector pipeline.Projector
	if cfg.ForecastAPIEnabled {
		client := forecastapi.NewClient(cfg.ForecastAPIURL, cfg.ForecastAPITimeout, logger)
		cached := forecastapi.NewCachedProvider(client, cfg.ForecastCacheSize)
		opts := forecast.DefaultOptions()
		opts.CrossoverHours = cfg.ForecastCrossover
		projector = forecast.New(cached, opts, logger)
		logger.Info("forecast projection enabled",
			"url", cfg.ForecastAPIURL,
			"horizon_hours", cfg.ForecastHorizon,
			"cache_size", cfg.ForecastCacheSize)
	} else {
		logger.Info("forecast projection disabled")
	}

	evaluator := alert.New(rules, readings, intents, cfg.AlertCooldown, logger, metrics)

	p := pipeline.New(reader, pipeline.Deps{
		Corrections: domain.DefaultCorrectionTable(),
		Weights:     domain.DefaultFusionWeights(),
		Store:       readings,
		Snapshots:   snapshots,
		Forecasts:   forecasts,
		Projector:   projector,
		Evaluator:   evaluator,
	}, pipeline.Options{
		Workers:               cfg.WorkerCount,
		BatchSize:             cfg.BatchSize,
		CompletenessThreshold: cfg.CompletenessThreshold,
		CollectionTimeout:     cfg.CollectionTimeout,
		ForecastHorizon:       cfg.ForecastHorizon,
	}, logger, metrics)

	srv := httpadapter.NewServer(cfg.HTTPAddr, map[string]httpadapter.ReadinessChecker{
		"pipeline": p,
		"redis":    httpadapter.CheckFunc(readings.Ping),
	}, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Start HTTP server.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	// Start fusion pipeline.
	go func() {
		if err := p.Run(ctx); err != nil {
			logger.Error("pipeline error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	if err := reader.Close(); err != nil {
		logger.Error("kafka reader close error", "error", err)
	}
	for name, c := range map[string]interface{ Close() error }{
		"snapshot writer": snapshots,
		"forecast writer": forecasts,
		"intent writer":   intents,
	} {
		if err := c.Close(); err != nil {
			logger.Error("kafka writer close error", "error", err, "writer", name)
		}
	}
	if err := redisClient.Close(); err != nil {
		logger.Error("redis close error", "error", err)
	}

	logger.Info("shutdown complete")
}
