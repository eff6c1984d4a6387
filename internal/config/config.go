package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port     string
	RedisURL string
	LogLevel string

	BusBackend   string
	StoreBackend string

	AuthMode         string
	OIDCIssuerURL    string
	OIDCTokenURL     string
	OIDCClientID     string
	OIDCClientSecret string
	OIDCScopes       []string
	StaticUserID     string
	StaticTenantID   string
	StaticToken      string

	RealtimeHost   string
	RealtimePort   int
	RealtimeSecure bool
	RealtimePath   string
	APIBaseURL     string

	WebhookTimeout time.Duration

	WSMessageRate  float64
	WSMessageBurst int
}

const (
	BackendLocal  = "local"
	BackendMemory = "memory"
	BackendRedis  = "redis"

	AuthStatic = "static"
	AuthOIDC   = "oidc"
)

// Load reads a .env file when one exists and then the process environment.
func Load() *Config {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("[CONFIG] Failed to read .env file", "error", err)
	}
	return FromEnv()
}

// FromEnv builds the configuration from the process environment only.
func FromEnv() *Config {
	return &Config{
		Port:     getEnv("PORT", "8080"),
		RedisURL: getEnv("REDIS_URL", "redis://localhost:6379"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		BusBackend:   getEnv("BUS_BACKEND", BackendLocal),
		StoreBackend: getEnv("STORE_BACKEND", BackendMemory),

		AuthMode:         getEnv("AUTH_MODE", AuthStatic),
		OIDCIssuerURL:    getEnv("OIDC_ISSUER_URL", ""),
		OIDCTokenURL:     getEnv("OIDC_TOKEN_URL", ""),
		OIDCClientID:     getEnv("OIDC_CLIENT_ID", ""),
		OIDCClientSecret: getEnv("OIDC_CLIENT_SECRET", ""),
		OIDCScopes:       getEnvList("OIDC_SCOPES"),
		StaticUserID:     getEnv("STATIC_USER_ID", ""),
		StaticTenantID:   getEnv("STATIC_TENANT_ID", ""),
		StaticToken:      getEnv("STATIC_TOKEN", ""),

		RealtimeHost:   getEnv("REALTIME_HOST", "localhost"),
		RealtimePort:   getEnvInt("REALTIME_PORT", 8080),
		RealtimeSecure: getEnvBool("REALTIME_SECURE", false),
		RealtimePath:   getEnv("REALTIME_PATH", "/ws"),
		APIBaseURL:     getEnv("API_BASE_URL", "http://localhost:8080"),

		WebhookTimeout: getEnvDuration("WEBHOOK_TIMEOUT", 10*time.Second),

		WSMessageRate:  getEnvFloat("WS_MESSAGE_RATE", 20),
		WSMessageBurst: getEnvInt("WS_MESSAGE_BURST", 40),
	}
}

// NewLogger returns a text slog logger at the configured level.
func (c *Config) NewLogger() *slog.Logger {
	var level slog.Level
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if value, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

func getEnvList(key string) []string {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return nil
	}
	var out []string
	for _, part := range strings.FieldsFunc(value, func(r rune) bool { return r == ',' || r == ' ' }) {
		out = append(out, part)
	}
	return out
}
