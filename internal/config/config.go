package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
	"github.com/pelletier/go-toml/v2"

	"github.com/allison-weber/EPAnomoly/internal/domain"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	DataDir         string
	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	// Detector tuning; DETECTOR_CONFIG, WORKERS and WORKER_BATCH_SIZE
	// override the defaults.
	Params           domain.Params
	VerdictCacheSize int
	RefitSchedule    string

	// Verdict sinks.
	KafkaEnabled       bool
	KafkaBrokers       []string
	KafkaVerdictTopic  string
	BatchSize          int
	BatchFlushInterval time.Duration
	SQLitePath         string
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
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

	params := domain.DefaultParams()
	detectorConfig := os.Getenv("DETECTOR_CONFIG")
	if detectorConfig != "" {
		if params, err = LoadParams(detectorConfig); err != nil {
			return nil, fmt.Errorf("DETECTOR_CONFIG: %w", err)
		}
	}
	if params.Workers, err = parseInt("WORKERS", params.Workers, 0); err != nil {
		return nil, err
	}
	if params.BatchSize, err = parseInt("WORKER_BATCH_SIZE", params.BatchSize, 1); err != nil {
		return nil, err
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}

	cacheSize, err := parseInt("VERDICT_CACHE_SIZE", 256, 1)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		DataDir:         sharedcfg.EnvOrDefault("DATA_DIR", "data"),
		HTTPAddr:        sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,

		Params:           params,
		VerdictCacheSize: cacheSize,
		RefitSchedule:    os.Getenv("REFIT_SCHEDULE"),

		KafkaEnabled:       os.Getenv("KAFKA_ENABLED") == "true",
		KafkaBrokers:       sharedcfg.ParseBrokers(sharedcfg.EnvOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaVerdictTopic:  sharedcfg.EnvOrDefault("KAFKA_VERDICT_TOPIC", "epa-outlier-verdicts"),
		BatchSize:          batchSize,
		BatchFlushInterval: flushInterval,
		SQLitePath:         os.Getenv("SQLITE_PATH"),
	}

	if cfg.DataDir == "" {
		return nil, errors.New("DATA_DIR is required")
	}
	if cfg.KafkaEnabled && len(cfg.KafkaBrokers) == 0 {
		return nil, errors.New("KAFKA_ENABLED is true but KAFKA_BROKERS is empty")
	}
	if cfg.KafkaEnabled && cfg.KafkaVerdictTopic == "" {
		return nil, errors.New("KAFKA_VERDICT_TOPIC is required when KAFKA_ENABLED is true")
	}

	return cfg, nil
}

// LoadParams reads detector parameters from a TOML file. Keys absent from
// the file keep their defaults; unknown keys are rejected.
func LoadParams(path string) (domain.Params, error) {
	f, err := os.Open(path)
	if err != nil {
		return domain.Params{}, fmt.Errorf("open params file: %w", err)
	}
	defer f.Close()

	p := domain.DefaultParams()
	dec := toml.NewDecoder(f).DisallowUnknownFields()
	if err := dec.Decode(&p); err != nil {
		return domain.Params{}, fmt.Errorf("decode params file %s: %w", path, err)
	}
	if err := p.Validate(); err != nil {
		return domain.Params{}, err
	}
	return p, nil
}

func parseInt(key string, def, minValue int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < minValue {
		return 0, fmt.Errorf("invalid %s: must be an integer >= %d", key, minValue)
	}
	return n, nil
}
