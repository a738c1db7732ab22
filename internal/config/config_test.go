package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{
		"WS_LISTEN_ADDR", "WORKER_POOL_SIZE", "MAX_CONNECTIONS", "READ_TIMEOUT",
		"WRITE_TIMEOUT", "OUTBOUND_QUEUE_SIZE", "API_HOST", "API_PORT",
		"REDIS_ADDR", "REDIS_DB", "NATS_URL", "TENANTS_FILE", "LOG_LEVEL",
	} {
		t.Setenv(key, "")
	}
	t.Setenv("SERVER_NAME", "test-node")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.WS.ListenAddr != ":8080" {
		t.Errorf("WS.ListenAddr = %q, want %q", cfg.WS.ListenAddr, ":8080")
	}
	if cfg.WS.ReadTimeout != 10*time.Second {
		t.Errorf("WS.ReadTimeout = %s, want 10s", cfg.WS.ReadTimeout)
	}
	if cfg.WS.ServerName != "test-node" {
		t.Errorf("WS.ServerName = %q, want %q", cfg.WS.ServerName, "test-node")
	}
	if cfg.API.Addr() != "0.0.0.0:3000" {
		t.Errorf("API.Addr() = %q, want %q", cfg.API.Addr(), "0.0.0.0:3000")
	}
	if cfg.Redis.Addr != "" || cfg.NATS.URL != "" {
		t.Errorf("optional backends should default to disabled, got redis=%q nats=%q", cfg.Redis.Addr, cfg.NATS.URL)
	}
	if cfg.Logger.Level != "info" {
		t.Errorf("Logger.Level = %q, want info", cfg.Logger.Level)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("WS_LISTEN_ADDR", ":9090")
	t.Setenv("WORKER_POOL_SIZE", "8")
	t.Setenv("READ_TIMEOUT", "3s")
	t.Setenv("OUTBOUND_QUEUE_SIZE", "16")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("REDIS_DB", "2")
	t.Setenv("NATS_URL", "nats://nats:4222")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.WS.ListenAddr != ":9090" || cfg.WS.WorkerPoolSize != 8 || cfg.WS.OutboundQueueSize != 16 {
		t.Errorf("unexpected ws config: %+v", cfg.WS)
	}
	if cfg.WS.ReadTimeout != 3*time.Second {
		t.Errorf("WS.ReadTimeout = %s, want 3s", cfg.WS.ReadTimeout)
	}
	if cfg.Redis.Addr != "redis:6379" || cfg.Redis.DB != 2 {
		t.Errorf("unexpected redis config: %+v", cfg.Redis)
	}
	if cfg.NATS.URL != "nats://nats:4222" {
		t.Errorf("NATS.URL = %q", cfg.NATS.URL)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Setenv("REDIS_DB", "zero")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for non-numeric REDIS_DB")
	}

	t.Setenv("REDIS_DB", "0")
	t.Setenv("WORKER_POOL_SIZE", "-1")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for negative WORKER_POOL_SIZE")
	}
}

func TestRequestTimeout(t *testing.T) {
	if got := (APIConfig{RequestTimeoutSeconds: 0}).RequestTimeout(); got != 0 {
		t.Errorf("RequestTimeout() = %s, want 0", got)
	}
	if got := (APIConfig{RequestTimeoutSeconds: 5}).RequestTimeout(); got != 5*time.Second {
		t.Errorf("RequestTimeout() = %s, want 5s", got)
	}
}
