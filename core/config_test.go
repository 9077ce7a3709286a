package core

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig_Validates(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("expected defaults to validate: %v", err)
	}
}

func TestConfig_ValidateRejectsInvertedTimeLimits(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Pipeline.SoftTimeLimit = cfg.Pipeline.HardTimeLimit
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected soft limit >= hard limit to be rejected")
	}
}

func TestConfig_ValidateRejectsShrinkingChunkSteps(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Pipeline.LargeChunkSize = cfg.Pipeline.SmallChunkSize - 1
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected decreasing chunk sizes to be rejected")
	}
}

func TestClampStreamInterval(t *testing.T) {
	if got := ClampStreamInterval(50 * time.Millisecond); got != MinStreamInterval {
		t.Fatalf("expected clamp to min, got %s", got)
	}
	if got := ClampStreamInterval(time.Second); got != MaxStreamInterval {
		t.Fatalf("expected clamp to max, got %s", got)
	}
	if got := ClampStreamInterval(0); got != 250*time.Millisecond {
		t.Fatalf("expected default interval, got %s", got)
	}
}

func TestEnvConfigLoader_ParsesTypedValues(t *testing.T) {
	env := map[string]string{
		"INGEST_HTTP_ADDR":                "127.0.0.1:9000",
		"INGEST_HTTP_ALLOWED_ORIGINS":     "https://a.example, https://b.example",
		"INGEST_PIPELINE_SOFT_TIME_LIMIT": "5m",
		"INGEST_WORKER_CONCURRENCY":       "2",
		"INGEST_DATABASE_DEBUG":           "true",
	}
	loader := &EnvConfigLoader{Lookup: func(key string) (string, bool) {
		value, ok := env[key]
		return value, ok
	}}

	raw, err := loader.LoadRaw(context.Background())
	if err != nil {
		t.Fatalf("load raw: %v", err)
	}
	httpSection := raw["http"].(map[string]any)
	if httpSection["addr"] != "127.0.0.1:9000" {
		t.Fatalf("unexpected addr %v", httpSection["addr"])
	}
	origins := httpSection["allowed_origins"].([]string)
	if len(origins) != 2 || origins[1] != "https://b.example" {
		t.Fatalf("unexpected origins %v", origins)
	}
	if raw["pipeline"].(map[string]any)["soft_time_limit"] != 5*time.Minute {
		t.Fatalf("expected parsed duration")
	}
	if raw["worker"].(map[string]any)["concurrency"] != 2 {
		t.Fatalf("expected parsed int")
	}
	if raw["database"].(map[string]any)["debug"] != true {
		t.Fatalf("expected parsed bool")
	}
}

func TestEnvConfigLoader_RejectsMalformedValues(t *testing.T) {
	loader := &EnvConfigLoader{Lookup: func(key string) (string, bool) {
		if key == "INGEST_STREAMER_INTERVAL" {
			return "soon", true
		}
		return "", false
	}}
	if _, err := loader.LoadRaw(context.Background()); err == nil {
		t.Fatalf("expected malformed duration to fail")
	}
}

func TestEnvConfigLoader_LoadsDotEnvFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("INGEST_SERVICE_NAME=dotenv-ingest\n"), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Setenv("INGEST_SERVICE_NAME", "")
	os.Unsetenv("INGEST_SERVICE_NAME")

	raw, err := NewEnvConfigLoader(path, filepath.Join(dir, "missing.env")).LoadRaw(context.Background())
	if err != nil {
		t.Fatalf("load raw: %v", err)
	}
	if raw["service_name"] != "dotenv-ingest" {
		t.Fatalf("expected service name from .env, got %v", raw["service_name"])
	}
}
