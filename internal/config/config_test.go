package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

var keys = []string{
	"PORT", "LOG_LEVEL", "MONGOURI", "MONGO_DB", "REDIS_ADDR", "REDIS_PASS", "CACHE_TTL",
	"KAFKA_BROKERS", "KAFKA_TOPIC", "JWT_SECRET", "XENDIT_SECRET_KEY", "XENDIT_BASE_URL",
	"XENDIT_WEBHOOK_TOKEN", "PUBLIC_URL", "DISPATCH_MAX_RETRIES", "DISPATCH_BACKOFF",
	"PROVIDER_TIMEOUT", "SIM_LATENCY", "SIM_FAILURE_RATE",
}

// clearEnv blanks every variable Load reads for the duration of the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range keys {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("JWT_SECRET", "s3cret")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != "8080" || cfg.MongoDB != "recetradb" || cfg.KafkaTopic != "recetra.receipts" {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.DispatchMaxRetries != 2 || cfg.DispatchBackoff != 500*time.Millisecond || cfg.ProviderTimeout != 10*time.Second {
		t.Fatalf("unexpected dispatch defaults %+v", cfg)
	}
	if cfg.MongoURI != "" || len(cfg.KafkaBrokers) != 0 {
		t.Fatalf("optional backends should be off: %+v", cfg)
	}
}

func TestLoadFromDotEnv(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), ".env")
	content := "JWT_SECRET=fromfile\nKAFKA_BROKERS=k1:9092, k2:9092\nDISPATCH_BACKOFF=1s\nSIM_FAILURE_RATE=0.5\nPORT=9000\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PORT", "7000")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.JWTSecret != "fromfile" || cfg.DispatchBackoff != time.Second || cfg.SimFailureRate != 0.5 {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[1] != "k2:9092" {
		t.Fatalf("unexpected brokers %v", cfg.KafkaBrokers)
	}
	if cfg.Port != "7000" {
		t.Fatalf("environment should win over .env, got port %s", cfg.Port)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	cases := map[string]string{
		"JWT_SECRET":           "",
		"DISPATCH_MAX_RETRIES": "-1",
		"DISPATCH_BACKOFF":     "soon",
		"SIM_FAILURE_RATE":     "2",
		"PROVIDER_TIMEOUT":     "10",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			clearEnv(t)
			t.Setenv("JWT_SECRET", "s3cret")
			t.Setenv(key, value)
			if _, err := Load(filepath.Join(t.TempDir(), "missing.env")); err == nil {
				t.Fatalf("%s=%q accepted", key, value)
			}
		})
	}
}
