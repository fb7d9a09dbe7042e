package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.APIPort != 8080 {
		t.Errorf("APIPort = %d, want 8080", cfg.APIPort)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %s, want info", cfg.LogLevel)
	}
	if cfg.SessionTTL() != 24*time.Hour {
		t.Errorf("SessionTTL = %v, want 24h", cfg.SessionTTL())
	}
	if cfg.LockTTL() != 10*time.Second {
		t.Errorf("LockTTL = %v, want 10s", cfg.LockTTL())
	}
	if cfg.LockMaxAttempts != 10 {
		t.Errorf("LockMaxAttempts = %d, want 10", cfg.LockMaxAttempts)
	}
	if cfg.LockRetryBase() != 50*time.Millisecond {
		t.Errorf("LockRetryBase = %v, want 50ms", cfg.LockRetryBase())
	}
	if cfg.StoreOpTimeout() != 2*time.Second {
		t.Errorf("StoreOpTimeout = %v, want 2s", cfg.StoreOpTimeout())
	}
	if cfg.FallbackSweepInterval() != time.Hour {
		t.Errorf("FallbackSweepInterval = %v, want 1h", cfg.FallbackSweepInterval())
	}
	if cfg.FallbackMaxAge() != 24*time.Hour {
		t.Errorf("FallbackMaxAge = %v, want 24h", cfg.FallbackMaxAge())
	}
	if cfg.RedisURL != "" || cfg.DatabaseDSN != "" || cfg.RabbitMQURL != "" {
		t.Errorf("backing services should default to unset, got %+v", cfg)
	}
}

func TestLoad_CustomValues(t *testing.T) {
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("API_PORT", "9090")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOCK_TTL_SECONDS", "30")
	t.Setenv("STORE_OP_TIMEOUT_MS", "500")
	t.Setenv("WORKER_CONCURRENCY", "8")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.RedisURL != "redis://localhost:6379/0" {
		t.Errorf("RedisURL = %s", cfg.RedisURL)
	}
	if cfg.APIPort != 9090 {
		t.Errorf("APIPort = %d, want 9090", cfg.APIPort)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %s, want debug", cfg.LogLevel)
	}
	if cfg.LockTTL() != 30*time.Second {
		t.Errorf("LockTTL = %v, want 30s", cfg.LockTTL())
	}
	if cfg.StoreOpTimeout() != 500*time.Millisecond {
		t.Errorf("StoreOpTimeout = %v, want 500ms", cfg.StoreOpTimeout())
	}
	if cfg.WorkerConcurrency != 8 {
		t.Errorf("WorkerConcurrency = %d, want 8", cfg.WorkerConcurrency)
	}
}

func TestLoad_RejectsNonPositiveValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{name: "zero lock ttl", key: "LOCK_TTL_SECONDS", value: "0"},
		{name: "negative attempts", key: "LOCK_MAX_ATTEMPTS", value: "-1"},
		{name: "zero session ttl", key: "SESSION_TTL_SECONDS", value: "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)

			if _, err := Load(); err == nil {
				t.Fatalf("expected error for %s=%s", tt.key, tt.value)
			}
		})
	}
}

func TestLoad_MalformedInteger(t *testing.T) {
	t.Setenv("LOCK_MAX_ATTEMPTS", "ten")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for malformed integer, got nil")
	}
}
