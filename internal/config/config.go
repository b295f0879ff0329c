// Package config loads server configuration from environment variables. In
// development a .env file is read first; in production every required value
// must come from the environment.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the chat server.
type Config struct {
	ListenAddr  string // WebSocket listen address
	MetricsAddr string // Prometheus listen address
	Env         string // development | production
	ServerName  string // bus origin identifier for this instance

	DatabaseURL string
	RedisAddr   string
	NATSURL     string

	JWTSecret   string
	JWTIssuer   string
	PlatformURL string // base URL of the platform API (contacts, presign)

	WorkerPoolSize int
	MaxConnections int
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
}

// Load reads configuration from the environment, falling back to a .env file
// if one is present. In production it panics on missing required values.
func Load() *Config {
	_ = godotenv.Load()

	hostname, _ := os.Hostname()

	cfg := &Config{
		ListenAddr:     getEnv("LISTEN_ADDR", ":8080"),
		MetricsAddr:    getEnv("METRICS_ADDR", ":9090"),
		Env:            getEnv("ENV", "development"),
		ServerName:     getEnv("SERVER_NAME", hostname),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		RedisAddr:      getEnv("REDIS_ADDR", "localhost:6379"),
		NATSURL:        getEnv("NATS_URL", "nats://localhost:4222"),
		JWTSecret:      os.Getenv("JWT_SECRET"),
		JWTIssuer:      getEnv("JWT_ISSUER", "buildersync"),
		PlatformURL:    getEnv("PLATFORM_URL", "http://localhost:3000"),
		WorkerPoolSize: getEnvInt("WORKER_POOL_SIZE", 256),
		MaxConnections: getEnvInt("MAX_CONNECTIONS", 100000),
		ReadTimeout:    getEnvDuration("READ_TIMEOUT", 10*time.Second),
		WriteTimeout:   getEnvDuration("WRITE_TIMEOUT", 10*time.Second),
	}

	if cfg.ServerName == "" {
		cfg.ServerName = "chat-1"
	}

	if cfg.Env == "production" {
		if cfg.DatabaseURL == "" {
			panic("DATABASE_URL is required in production")
		}
		if cfg.JWTSecret == "" {
			panic("JWT_SECRET is required in production")
		}
	}
	if cfg.JWTSecret == "" {
		cfg.JWTSecret = "dev-secret"
	}

	return cfg
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil && n > 0 {
			return n
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil && d > 0 {
			return d
		}
	}
	return defaultValue
}
