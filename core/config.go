package core

import (
	"fmt"
	"strings"
	"time"
)

type HTTPConfig struct {
	Addr           string   `koanf:"addr" mapstructure:"addr"`
	MaxUploadBytes int64    `koanf:"max_upload_bytes" mapstructure:"max_upload_bytes"`
	AllowedOrigins []string `koanf:"allowed_origins" mapstructure:"allowed_origins"`
}

type DatabaseConfig struct {
	Driver string `koanf:"driver" mapstructure:"driver"`
	DSN    string `koanf:"dsn" mapstructure:"dsn"`
	Debug  bool   `koanf:"debug" mapstructure:"debug"`
}

type RedisConfig struct {
	Addr      string        `koanf:"addr" mapstructure:"addr"`
	Password  string        `koanf:"password" mapstructure:"password"`
	DB        int           `koanf:"db" mapstructure:"db"`
	KeyPrefix string        `koanf:"key_prefix" mapstructure:"key_prefix"`
	StateTTL  time.Duration `koanf:"state_ttl" mapstructure:"state_ttl"`
}

type PipelineConfig struct {
	SoftTimeLimit   time.Duration `koanf:"soft_time_limit" mapstructure:"soft_time_limit"`
	HardTimeLimit   time.Duration `koanf:"hard_time_limit" mapstructure:"hard_time_limit"`
	UpsertBatchSize int           `koanf:"upsert_batch_size" mapstructure:"upsert_batch_size"`
	SmallChunkSize  int           `koanf:"small_chunk_size" mapstructure:"small_chunk_size"`
	LargeChunkSize  int           `koanf:"large_chunk_size" mapstructure:"large_chunk_size"`
	LargeFileRows   int           `koanf:"large_file_rows" mapstructure:"large_file_rows"`
}

type StreamerConfig struct {
	Interval    time.Duration `koanf:"interval" mapstructure:"interval"`
	MaxDuration time.Duration `koanf:"max_duration" mapstructure:"max_duration"`
}

type WebhooksConfig struct {
	UserAgent            string        `koanf:"user_agent" mapstructure:"user_agent"`
	MaxRetryDelay        time.Duration `koanf:"max_retry_delay" mapstructure:"max_retry_delay"`
	MaxResponseBodyBytes int64         `koanf:"max_response_body_bytes" mapstructure:"max_response_body_bytes"`
	SubscriptionCacheTTL time.Duration `koanf:"subscription_cache_ttl" mapstructure:"subscription_cache_ttl"`
	// SecretKey seals subscription secrets at rest when set.
	SecretKey string `koanf:"secret_key" mapstructure:"secret_key"`
}

type WorkerConfig struct {
	Concurrency int `koanf:"concurrency" mapstructure:"concurrency"`
	MaxAttempts int `koanf:"max_attempts" mapstructure:"max_attempts"`
}

type Config struct {
	ServiceName string         `koanf:"service_name" mapstructure:"service_name"`
	HTTP        HTTPConfig     `koanf:"http" mapstructure:"http"`
	Database    DatabaseConfig `koanf:"database" mapstructure:"database"`
	Redis       RedisConfig    `koanf:"redis" mapstructure:"redis"`
	Pipeline    PipelineConfig `koanf:"pipeline" mapstructure:"pipeline"`
	Streamer    StreamerConfig `koanf:"streamer" mapstructure:"streamer"`
	Webhooks    WebhooksConfig `koanf:"webhooks" mapstructure:"webhooks"`
	Worker      WorkerConfig   `koanf:"worker" mapstructure:"worker"`
}

const (
	MinStreamInterval = 200 * time.Millisecond
	MaxStreamInterval = 500 * time.Millisecond
)

func DefaultConfig() Config {
	return Config{
		ServiceName: "ingest",
		HTTP: HTTPConfig{
			Addr:           ":8000",
			MaxUploadBytes: 512 << 20,
			AllowedOrigins: []string{"*"},
		},
		Database: DatabaseConfig{
			Driver: "sqlite3",
			DSN:    "file:ingest.db?cache=shared&_foreign_keys=on",
		},
		Redis: RedisConfig{
			KeyPrefix: "ingest",
			StateTTL:  24 * time.Hour,
		},
		Pipeline: PipelineConfig{
			SoftTimeLimit:   110 * time.Minute,
			HardTimeLimit:   120 * time.Minute,
			UpsertBatchSize: 5000,
			SmallChunkSize:  1000,
			LargeChunkSize:  10000,
			LargeFileRows:   10000,
		},
		Streamer: StreamerConfig{
			Interval:    250 * time.Millisecond,
			MaxDuration: 2 * time.Hour,
		},
		Webhooks: WebhooksConfig{
			UserAgent:            "go-ingest-webhook/1.0",
			MaxRetryDelay:        5 * time.Minute,
			MaxResponseBodyBytes: 64 << 10,
			SubscriptionCacheTTL: 30 * time.Second,
		},
		Worker: WorkerConfig{
			Concurrency: 4,
			MaxAttempts: 1,
		},
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service_name is required")
	}
	if c.HTTP.MaxUploadBytes < 0 {
		return fmt.Errorf("core: http.max_upload_bytes must not be negative")
	}
	switch strings.TrimSpace(c.Database.Driver) {
	case "sqlite3", "postgres":
	default:
		return fmt.Errorf("core: database.driver %q is not supported", c.Database.Driver)
	}
	if c.Pipeline.SoftTimeLimit <= 0 || c.Pipeline.HardTimeLimit <= 0 {
		return fmt.Errorf("core: pipeline time limits must be positive")
	}
	if c.Pipeline.SoftTimeLimit >= c.Pipeline.HardTimeLimit {
		return fmt.Errorf("core: pipeline.soft_time_limit must be lower than pipeline.hard_time_limit")
	}
	if c.Pipeline.UpsertBatchSize <= 0 {
		return fmt.Errorf("core: pipeline.upsert_batch_size must be positive")
	}
	if c.Pipeline.SmallChunkSize <= 0 || c.Pipeline.LargeChunkSize < c.Pipeline.SmallChunkSize {
		return fmt.Errorf("core: pipeline chunk sizes must be positive and non-decreasing")
	}
	if c.Streamer.Interval < MinStreamInterval || c.Streamer.Interval > MaxStreamInterval {
		return fmt.Errorf("core: streamer.interval must be between %s and %s", MinStreamInterval, MaxStreamInterval)
	}
	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("core: worker.concurrency must be positive")
	}
	return nil
}

// ClampStreamInterval bounds a caller-requested poll interval.
func ClampStreamInterval(interval time.Duration) time.Duration {
	switch {
	case interval <= 0:
		return DefaultConfig().Streamer.Interval
	case interval < MinStreamInterval:
		return MinStreamInterval
	case interval > MaxStreamInterval:
		return MaxStreamInterval
	default:
		return interval
	}
}
