package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the gateway
type Config struct {
	// Server
	Port string
	Env  string

	// Database
	DatabaseURL string

	// Redis
	RedisURL string

	// Upstream inference services
	UpstreamURL          string
	ChartUpstreamURL     string
	UpstreamTimeout      time.Duration
	ChartUpstreamTimeout time.Duration

	// Fallback provider
	OpenAIAPIKey string
	OpenAIModel  string

	// Identity provider token introspection endpoint
	IntrospectionURL string

	// Quota
	QuotaCeiling int
	QuotaWindow  time.Duration

	// CORS
	AllowedOrigins      []string
	AllowedOriginSuffix string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Try to load .env file (ignore error if not found)
	_ = godotenv.Load()

	cfg := &Config{
		Port:                 getEnv("PORT", "8080"),
		Env:                  getEnv("ENV", "development"),
		DatabaseURL:          getEnv("DATABASE_URL", ""),
		RedisURL:             getEnv("REDIS_URL", "redis://localhost:6379"),
		UpstreamURL:          getEnv("UPSTREAM_URL", ""),
		ChartUpstreamURL:     getEnv("CHART_UPSTREAM_URL", ""),
		UpstreamTimeout:      getEnvDuration("UPSTREAM_TIMEOUT", 60*time.Second),
		ChartUpstreamTimeout: getEnvDuration("CHART_UPSTREAM_TIMEOUT", 120*time.Second),
		OpenAIAPIKey:         getEnv("OPENAI_API_KEY", ""),
		OpenAIModel:          getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		IntrospectionURL:     getEnv("INTROSPECTION_URL", ""),
		QuotaCeiling:         getEnvInt("QUOTA_CEILING", 5),
		QuotaWindow:          getEnvDuration("QUOTA_WINDOW", 24*time.Hour),
		AllowedOrigins:       getEnvList("ALLOWED_ORIGINS", []string{"http://localhost:5173", "http://localhost:3000"}),
		AllowedOriginSuffix:  getEnv("ALLOWED_ORIGIN_SUFFIX", ".sgconsultingtech.com"),
	}

	// Validate required fields
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.QuotaCeiling <= 0 {
		return nil, fmt.Errorf("QUOTA_CEILING must be positive, got %d", cfg.QuotaCeiling)
	}
	if cfg.QuotaWindow <= 0 {
		return nil, fmt.Errorf("QUOTA_WINDOW must be positive, got %s", cfg.QuotaWindow)
	}

	// A suffix like "sgconsultingtech.com" without the leading dot would
	// also match "evilsgconsultingtech.com"; normalize it here.
	if cfg.AllowedOriginSuffix != "" && !strings.HasPrefix(cfg.AllowedOriginSuffix, ".") {
		cfg.AllowedOriginSuffix = "." + cfg.AllowedOriginSuffix
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return defaultValue
}
