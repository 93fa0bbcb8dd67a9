package config

import (
	"errors"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	KafkaBrokers       []string
	KafkaSourceTopic   string
	KafkaSnapshotTopic string
	KafkaForecastTopic string
	KafkaIntentTopic   string
	KafkaGroupID       string
	HTTPAddr           string
	LogLevel           string
	LogFormat          string
	ShutdownTimeout    time.Duration

	BatchSize          int
	BatchFlushInterval time.Duration

	// Redis persistence for reading history and alert state.
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Pipeline tuning.
	WorkerCount           int
	CompletenessThreshold float64
	CollectionTimeout     time.Duration
	AlertCooldown         time.Duration
	RulesFile             string

	// Forecast-model collaborator configuration.
	ForecastAPIURL     string
	ForecastAPIEnabled bool
	ForecastAPITimeout time.Duration
	ForecastCacheSize  int
	ForecastHorizon    int
	ForecastCrossover  float64
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	// A local .env is a development convenience; absence is not an error.
	_ = godotenv.Load()

	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	batchSize, err := sharedcfg.ParseBatchSize()
	if err != nil {
		return nil, err
	}

	flushInterval, err := sharedcfg.ParseBatchFlushInterval()
	if err != nil {
		return nil, err
	}

	apiTimeoutStr := sharedcfg.EnvOrDefault("FORECAST_API_TIMEOUT", "5s")
	apiTimeout, err2 := time.ParseDuration(apiTimeoutStr)
	if err2 != nil || apiTimeout <= 0 {
		return nil, errors.New("invalid FORECAST_API_TIMEOUT")
	}

	collectionTimeoutStr := sharedcfg.EnvOrDefault("COLLECTION_TIMEOUT", "5m")
	collectionTimeout, err2 := time.ParseDuration(collectionTimeoutStr)
	if err2 != nil || collectionTimeout <= 0 {
		return nil, errors.New("invalid COLLECTION_TIMEOUT")
	}

	alertCooldownStr := sharedcfg.EnvOrDefault("ALERT_COOLDOWN", "30m")
	alertCooldown, err2 := time.ParseDuration(alertCooldownStr)
	if err2 != nil || alertCooldown <= 0 {
		return nil, errors.New("invalid ALERT_COOLDOWN")
	}

	apiURL := os.Getenv("FORECAST_API_URL")
	apiEnabled := apiURL != ""
	if v := os.Getenv("FORECAST_API_ENABLED"); v != "" {
		apiEnabled = v == "true"
	}

	cfg := &Config{
		KafkaBrokers:       sharedcfg.ParseBrokers(sharedcfg.EnvOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaSourceTopic:   sharedcfg.EnvOrDefault("KAFKA_SOURCE_TOPIC", "raw-measurements"),
		KafkaSnapshotTopic: sharedcfg.EnvOrDefault("KAFKA_SNAPSHOT_TOPIC", "aqi-snapshots"),
		KafkaForecastTopic: sharedcfg.EnvOrDefault("KAFKA_FORECAST_TOPIC", "aqi-forecasts"),
		KafkaIntentTopic:   sharedcfg.EnvOrDefault("KAFKA_INTENT_TOPIC", "notification-intents"),
		KafkaGroupID:       sharedcfg.EnvOrDefault("KAFKA_GROUP_ID", "aqi-fusion"),
		HTTPAddr:           sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:           sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:          sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout:    shutdownTimeout,
		BatchSize:          batchSize,
		BatchFlushInterval: flushInterval,

		RedisAddr:     sharedcfg.EnvOrDefault("REDIS_ADDR", "localhost:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       parseIntEnv("REDIS_DB", 0),

		WorkerCount:           parseIntEnv("WORKER_COUNT", 4),
		CompletenessThreshold: parseFloatEnv("COMPLETENESS_THRESHOLD", 0.75),
		CollectionTimeout:     collectionTimeout,
		AlertCooldown:         alertCooldown,
		RulesFile:             os.Getenv("RULES_FILE"),

		ForecastAPIURL:     apiURL,
		ForecastAPIEnabled: apiEnabled,
		ForecastAPITimeout: apiTimeout,
		ForecastCacheSize:  parseIntEnv("FORECAST_CACHE_SIZE", 1000),
		ForecastHorizon:    parseIntEnv("FORECAST_HORIZON_HOURS", 120),
		ForecastCrossover:  parseFloatEnv("FORECAST_CROSSOVER_HOURS", 12),
	}

	if len(cfg.KafkaBrokers) == 0 {
		return nil, errors.New("KAFKA_BROKERS is required")
	}
	if cfg.KafkaSourceTopic == "" {
		return nil, errors.New("KAFKA_SOURCE_TOPIC is required")
	}
	if cfg.KafkaSnapshotTopic == "" || cfg.KafkaForecastTopic == "" || cfg.KafkaIntentTopic == "" {
		return nil, errors.New("all Kafka sink topics are required")
	}
	if cfg.WorkerCount <= 0 {
		return nil, errors.New("WORKER_COUNT must be positive")
	}
	if cfg.CompletenessThreshold <= 0 || cfg.CompletenessThreshold > 1 {
		return nil, errors.New("COMPLETENESS_THRESHOLD must be in (0, 1]")
	}
	if cfg.ForecastHorizon <= 0 || cfg.ForecastHorizon > 120 {
		return nil, errors.New("FORECAST_HORIZON_HOURS must be in 1..120")
	}
	if cfg.ForecastAPIEnabled && cfg.ForecastAPIURL == "" {
		return nil, errors.New("FORECAST_API_ENABLED is true but FORECAST_API_URL is not set")
	}

	return cfg, nil
}

func parseIntEnv(name string, fallback int) int {
	if s := os.Getenv(name); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			return n
		}
	}
	return fallback
}

func parseFloatEnv(name string, fallback float64) float64 {
	if s := os.Getenv(name); s != "" {
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
	}
	return fallback
}
