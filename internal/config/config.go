package config

import (
	"fmt"
	"time"

	"github.com/Netflix/go-env"
)

// Config is loaded from the environment. Backing services left empty are
// replaced by in-process equivalents.
type Config struct {
	RedisURL         string `env:"REDIS_URL"`
	DatabaseDSN      string `env:"DATABASE_DSN"`
	RabbitMQURL      string `env:"RABBITMQ_URL"`
	NotifyWebhookURL string `env:"NOTIFY_WEBHOOK_URL"`

	SessionTTLSeconds            int `env:"SESSION_TTL_SECONDS,default=86400"`
	LockTTLSeconds               int `env:"LOCK_TTL_SECONDS,default=10"`
	LockMaxAttempts              int `env:"LOCK_MAX_ATTEMPTS,default=10"`
	LockRetryBaseMs              int `env:"LOCK_RETRY_BASE_MS,default=50"`
	StoreOpTimeoutMs             int `env:"STORE_OP_TIMEOUT_MS,default=2000"`
	FallbackSweepIntervalSeconds int `env:"FALLBACK_SWEEP_INTERVAL_SECONDS,default=3600"`
	FallbackMaxAgeSeconds        int `env:"FALLBACK_MAX_AGE_SECONDS,default=86400"`

	NotifyRateLimitPerSec int    `env:"NOTIFY_RATE_LIMIT_PER_SEC,default=20"`
	WorkerConcurrency     int    `env:"WORKER_CONCURRENCY,default=4"`
	APIPort               int    `env:"API_PORT,default=8080"`
	LogLevel              string `env:"LOG_LEVEL,default=info"`
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	positive := []struct {
		name  string
		value int
	}{
		{"SESSION_TTL_SECONDS", c.SessionTTLSeconds},
		{"LOCK_TTL_SECONDS", c.LockTTLSeconds},
		{"LOCK_MAX_ATTEMPTS", c.LockMaxAttempts},
		{"LOCK_RETRY_BASE_MS", c.LockRetryBaseMs},
		{"STORE_OP_TIMEOUT_MS", c.StoreOpTimeoutMs},
		{"FALLBACK_SWEEP_INTERVAL_SECONDS", c.FallbackSweepIntervalSeconds},
		{"FALLBACK_MAX_AGE_SECONDS", c.FallbackMaxAgeSeconds},
		{"NOTIFY_RATE_LIMIT_PER_SEC", c.NotifyRateLimitPerSec},
		{"WORKER_CONCURRENCY", c.WorkerConcurrency},
		{"API_PORT", c.APIPort},
	}
	for _, p := range positive {
		if p.value <= 0 {
			return fmt.Errorf("invalid config: %s must be > 0 (got %d)", p.name, p.value)
		}
	}
	return nil
}

func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.SessionTTLSeconds) * time.Second
}

func (c *Config) LockTTL() time.Duration {
	return time.Duration(c.LockTTLSeconds) * time.Second
}

func (c *Config) LockRetryBase() time.Duration {
	return time.Duration(c.LockRetryBaseMs) * time.Millisecond
}

func (c *Config) StoreOpTimeout() time.Duration {
	return time.Duration(c.StoreOpTimeoutMs) * time.Millisecond
}

func (c *Config) FallbackSweepInterval() time.Duration {
	return time.Duration(c.FallbackSweepIntervalSeconds) * time.Second
}

func (c *Config) FallbackMaxAge() time.Duration {
	return time.Duration(c.FallbackMaxAgeSeconds) * time.Second
}
