package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "effortlog.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is validated by caller
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "EFFORTLOG_PORT")
	setString(&cfg.Server.CORSOrigin, "EFFORTLOG_CORS_ORIGIN")
	setString(&cfg.Storage.Backend, "EFFORTLOG_BACKEND")
	setBool(&cfg.Storage.Strict, "EFFORTLOG_STRICT")
	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "EFFORTLOG_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "EFFORTLOG_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "EFFORTLOG_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "EFFORTLOG_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "EFFORTLOG_PG_HEALTH_CHECK")
	setString(&cfg.FlatFile.Path, "EFFORTLOG_FLATFILE_PATH")
	setInt(&cfg.FlatFile.MaxAttempts, "EFFORTLOG_FLATFILE_MAX_ATTEMPTS")
	setDuration(&cfg.FlatFile.RetryBase, "EFFORTLOG_FLATFILE_RETRY_BASE")
	setDuration(&cfg.Cache.TTL, "EFFORTLOG_CACHE_TTL")
	setInt64(&cfg.Cache.MaxSizeMB, "EFFORTLOG_CACHE_SIZE_MB")
	setString(&cfg.Catalog.Path, "EFFORTLOG_CATALOG_PATH")
	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.Logging.Level, "EFFORTLOG_LOG_LEVEL")
	setString(&cfg.Logging.Service, "EFFORTLOG_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "EFFORTLOG_LOG_ASYNC")
	setInt(&cfg.Breaker.MaxFailures, "EFFORTLOG_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "EFFORTLOG_BREAKER_TIMEOUT")
	setBool(&cfg.Telemetry.Enabled, "EFFORTLOG_TELEMETRY")
	setString(&cfg.Telemetry.OTLPEndpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
}

func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	switch cfg.Storage.Backend {
	case "postgres", "flatfile":
	default:
		return fmt.Errorf("storage.backend must be postgres or flatfile, got %q", cfg.Storage.Backend)
	}
	if cfg.Storage.Backend == "postgres" && cfg.Postgres.DSN == "" {
		return errors.New("postgres.dsn is required")
	}
	if cfg.FlatFile.Path == "" {
		return errors.New("flatfile.path is required")
	}
	if cfg.FlatFile.MaxAttempts < 1 {
		return errors.New("flatfile.max_attempts must be >= 1")
	}
	if cfg.Cache.TTL <= 0 {
		return errors.New("cache.ttl must be positive")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
