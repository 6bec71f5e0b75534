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
const DefaultConfigFile = "coachforge.yaml"

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
	setString(&cfg.Server.Port, "COACHFORGE_PORT")
	setFloat64(&cfg.Server.RateLimitRPS, "COACHFORGE_RATE_LIMIT_RPS")
	setInt(&cfg.Server.RateLimitBurst, "COACHFORGE_RATE_LIMIT_BURST")
	setString(&cfg.Store.Driver, "COACHFORGE_STORE_DRIVER")

	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "COACHFORGE_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "COACHFORGE_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "COACHFORGE_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "COACHFORGE_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "COACHFORGE_PG_HEALTH_CHECK")

	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.NATS.TriggerSubject, "COACHFORGE_TRIGGER_SUBJECT")
	setString(&cfg.NATS.SMSSubject, "COACHFORGE_SMS_SUBJECT")
	setInt(&cfg.NATS.MaxDeliver, "COACHFORGE_TRIGGER_MAX_DELIVER")
	setDuration(&cfg.NATS.NakDelay, "COACHFORGE_TRIGGER_NAK_DELAY")

	// Cache
	setInt64(&cfg.Cache.L1MaxSizeMB, "COACHFORGE_CACHE_L1_SIZE_MB")
	setString(&cfg.Cache.L2Backend, "COACHFORGE_CACHE_L2_BACKEND")
	setString(&cfg.Cache.L2Bucket, "COACHFORGE_CACHE_L2_BUCKET")
	setDuration(&cfg.Cache.L2TTL, "COACHFORGE_CACHE_L2_TTL")
	setString(&cfg.Cache.RedisURL, "REDIS_URL")
	setDuration(&cfg.Cache.DefinitionTTL, "COACHFORGE_DEFINITION_CACHE_TTL")
	setDuration(&cfg.Cache.DraftTTL, "COACHFORGE_DRAFT_TTL")

	// LLM
	setString(&cfg.LLM.AnthropicAPIKey, "ANTHROPIC_API_KEY")
	setString(&cfg.LLM.OpenAIAPIKey, "OPENAI_API_KEY")
	setString(&cfg.LLM.DefaultVendor, "COACHFORGE_LLM_DEFAULT_VENDOR")
	setFloat64(&cfg.LLM.RequestsPerSecond, "COACHFORGE_LLM_RPS")
	setInt(&cfg.LLM.Burst, "COACHFORGE_LLM_BURST")
	setDuration(&cfg.LLM.Timeout, "COACHFORGE_LLM_TIMEOUT")

	setString(&cfg.Logging.Level, "COACHFORGE_LOG_LEVEL")
	setString(&cfg.Logging.Service, "COACHFORGE_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "COACHFORGE_LOG_ASYNC")

	setInt(&cfg.Breaker.MaxFailures, "COACHFORGE_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "COACHFORGE_BREAKER_TIMEOUT")

	setBool(&cfg.OTel.Enabled, "COACHFORGE_OTEL_ENABLED")
	setString(&cfg.OTel.Endpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	setBool(&cfg.OTel.Insecure, "COACHFORGE_OTEL_INSECURE")

	// Onboarding
	setInt(&cfg.Onboarding.MaxAttempts, "COACHFORGE_ONBOARDING_MAX_ATTEMPTS")
	setDuration(&cfg.Onboarding.RetryDelay, "COACHFORGE_ONBOARDING_RETRY_DELAY")
	setString(&cfg.Onboarding.Timezone, "COACHFORGE_DEFAULT_TIMEZONE")
	setBool(&cfg.Onboarding.SendMessages, "COACHFORGE_SEND_MESSAGES")

	setString(&cfg.Seed.Path, "COACHFORGE_SEED_PATH")
	setBool(&cfg.Seed.ApplyOnStart, "COACHFORGE_SEED_ON_START")

	setString(&cfg.Alerts.Provider, "COACHFORGE_ALERTS_PROVIDER")
	setString(&cfg.Alerts.WebhookURL, "COACHFORGE_ALERTS_WEBHOOK_URL")
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	switch cfg.Store.Driver {
	case "postgres":
		if cfg.Postgres.DSN == "" {
			return errors.New("postgres.dsn is required")
		}
		if cfg.Postgres.MaxConns < 1 {
			return errors.New("postgres.max_conns must be >= 1")
		}
	case "memory":
	default:
		return fmt.Errorf("store.driver %q must be postgres or memory", cfg.Store.Driver)
	}
	switch cfg.Cache.L2Backend {
	case "", "none":
	case "nats":
		if cfg.NATS.URL == "" {
			return errors.New("cache.l2_backend nats requires nats.url")
		}
	case "redis":
		if cfg.Cache.RedisURL == "" {
			return errors.New("cache.l2_backend redis requires cache.redis_url")
		}
	default:
		return fmt.Errorf("cache.l2_backend %q must be none, nats or redis", cfg.Cache.L2Backend)
	}
	if cfg.NATS.URL != "" && cfg.NATS.TriggerSubject == "" {
		return errors.New("nats.trigger_subject is required when nats.url is set")
	}
	if cfg.NATS.MaxDeliver < 1 {
		return errors.New("nats.max_deliver must be >= 1")
	}
	if cfg.Alerts.Provider != "" && cfg.Alerts.WebhookURL == "" {
		return errors.New("alerts.webhook_url is required when alerts.provider is set")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if cfg.LLM.Burst < 1 {
		return errors.New("llm.burst must be >= 1")
	}
	if cfg.Onboarding.MaxAttempts < 1 {
		return errors.New("onboarding.max_attempts must be >= 1")
	}
	if _, err := time.LoadLocation(cfg.Onboarding.Timezone); err != nil {
		return fmt.Errorf("onboarding.timezone: %w", err)
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

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
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
