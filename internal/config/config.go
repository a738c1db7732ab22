// Package config loads runtime configuration from the environment, with an
// optional .env file for local development.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the support-chat service.
type Config struct {
	WS      WSConfig
	API     APIConfig
	Redis   RedisConfig
	NATS    NATSConfig
	Tenants TenantsConfig
	Logger  LoggerConfig
}

// WSConfig controls the WebSocket transport.
type WSConfig struct {
	ListenAddr        string
	WorkerPoolSize    int
	MaxConnections    int
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	OutboundQueueSize int
	ServerName        string
}

// APIConfig controls the REST boundary.
type APIConfig struct {
	Host                  string
	Port                  string
	RequestTimeoutSeconds int
}

// RedisConfig holds Redis connection values. An empty Addr disables the
// presence mirror and rate limiting.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// NATSConfig holds the NATS URL. An empty URL disables ticket event
// publishing.
type NATSConfig struct {
	URL string
}

// TenantsConfig points at the YAML company seed. An empty File means the
// built-in seed is used.
type TenantsConfig struct {
	File string
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level string
}

// Load reads configuration from environment variables, applying defaults
// where possible.
func Load() (*Config, error) {
	_ = godotenv.Load()

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	serverName := os.Getenv("SERVER_NAME")
	if serverName == "" {
		serverName, _ = os.Hostname()
	}
	if serverName == "" {
		serverName = "supportd-1"
	}

	cfg := &Config{
		WS: WSConfig{
			ListenAddr:        getEnv("WS_LISTEN_ADDR", ":8080"),
			WorkerPoolSize:    getEnvAsInt("WORKER_POOL_SIZE", 256),
			MaxConnections:    getEnvAsInt("MAX_CONNECTIONS", 100000),
			ReadTimeout:       getEnvAsDuration("READ_TIMEOUT", 10*time.Second),
			WriteTimeout:      getEnvAsDuration("WRITE_TIMEOUT", 10*time.Second),
			OutboundQueueSize: getEnvAsInt("OUTBOUND_QUEUE_SIZE", 256),
			ServerName:        serverName,
		},
		API: APIConfig{
			Host:                  getEnv("API_HOST", "0.0.0.0"),
			Port:                  getEnv("API_PORT", "3000"),
			RequestTimeoutSeconds: getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", 30),
		},
		Redis: RedisConfig{
			Addr:     os.Getenv("REDIS_ADDR"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       redisDB,
		},
		NATS: NATSConfig{
			URL: os.Getenv("NATS_URL"),
		},
		Tenants: TenantsConfig{
			File: os.Getenv("TENANTS_FILE"),
		},
		Logger: LoggerConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects values the server cannot start with.
func (c *Config) Validate() error {
	if c.WS.WorkerPoolSize <= 0 {
		return fmt.Errorf("config: WORKER_POOL_SIZE must be positive, got %d", c.WS.WorkerPoolSize)
	}
	if c.WS.MaxConnections <= 0 {
		return fmt.Errorf("config: MAX_CONNECTIONS must be positive, got %d", c.WS.MaxConnections)
	}
	if c.WS.OutboundQueueSize <= 0 {
		return fmt.Errorf("config: OUTBOUND_QUEUE_SIZE must be positive, got %d", c.WS.OutboundQueueSize)
	}
	return nil
}

// Addr returns the HTTP bind address of the REST API.
func (a APIConfig) Addr() string {
	return fmt.Sprintf("%s:%s", a.Host, a.Port)
}

// RequestTimeout returns the configured request timeout duration.
func (a APIConfig) RequestTimeout() time.Duration {
	if a.RequestTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(a.RequestTimeoutSeconds) * time.Second
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(val)
	if err != nil {
		return fallback
	}
	return parsed
}
