// Package config reads service settings from the environment, after
// loading a .env file when one is present.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port     string
	LogLevel string

	MongoURI string
	MongoDB  string

	RedisAddr     string
	RedisPassword string
	CacheTTL      time.Duration

	KafkaBrokers []string
	KafkaTopic   string

	JWTSecret string

	XenditSecretKey    string
	XenditBaseURL      string
	XenditWebhookToken string
	PublicURL          string

	DispatchMaxRetries int
	DispatchBackoff    time.Duration
	ProviderTimeout    time.Duration
	SimLatency         time.Duration
	SimFailureRate     float64
}

// Load reads files (default ".env") into the environment without
// overriding variables already set, then builds a Config. A missing file
// is not an error.
func Load(files ...string) (Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return Config{}, fmt.Errorf("load %s: %w", f, err)
		}
	}

	cfg := Config{
		Port:               getEnv("PORT", "8080"),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		MongoURI:           os.Getenv("MONGOURI"),
		MongoDB:            getEnv("MONGO_DB", "recetradb"),
		RedisAddr:          os.Getenv("REDIS_ADDR"),
		RedisPassword:      os.Getenv("REDIS_PASS"),
		KafkaBrokers:       splitList(os.Getenv("KAFKA_BROKERS")),
		KafkaTopic:         getEnv("KAFKA_TOPIC", "recetra.receipts"),
		JWTSecret:          os.Getenv("JWT_SECRET"),
		XenditSecretKey:    os.Getenv("XENDIT_SECRET_KEY"),
		XenditBaseURL:      getEnv("XENDIT_BASE_URL", "https://api.xendit.co"),
		XenditWebhookToken: os.Getenv("XENDIT_WEBHOOK_TOKEN"),
		PublicURL:          getEnv("PUBLIC_URL", "http://localhost:8080"),
	}

	var err error
	if cfg.CacheTTL, err = getDuration("CACHE_TTL", 5*time.Minute); err != nil {
		return Config{}, err
	}
	if cfg.DispatchMaxRetries, err = getInt("DISPATCH_MAX_RETRIES", 2); err != nil {
		return Config{}, err
	}
	if cfg.DispatchBackoff, err = getDuration("DISPATCH_BACKOFF", 500*time.Millisecond); err != nil {
		return Config{}, err
	}
	if cfg.ProviderTimeout, err = getDuration("PROVIDER_TIMEOUT", 10*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.SimLatency, err = getDuration("SIM_LATENCY", 200*time.Millisecond); err != nil {
		return Config{}, err
	}
	if cfg.SimFailureRate, err = getFloat("SIM_FAILURE_RATE", 0.1); err != nil {
		return Config{}, err
	}

	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("JWT_SECRET environment variable not set")
	}
	if cfg.DispatchMaxRetries < 0 {
		return Config{}, fmt.Errorf("DISPATCH_MAX_RETRIES must not be negative")
	}
	if cfg.SimFailureRate < 0 || cfg.SimFailureRate > 1 {
		return Config{}, fmt.Errorf("SIM_FAILURE_RATE must be between 0 and 1")
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getFloat(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return f, nil
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
