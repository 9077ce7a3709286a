package core

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const EnvPrefix = "INGEST_"

type envKind int

const (
	envString envKind = iota
	envInt
	envInt64
	envBool
	envDuration
	envList
)

type envBinding struct {
	name    string
	section string
	key     string
	kind    envKind
}

var envBindings = []envBinding{
	{"SERVICE_NAME", "", "service_name", envString},
	{"HTTP_ADDR", "http", "addr", envString},
	{"HTTP_MAX_UPLOAD_BYTES", "http", "max_upload_bytes", envInt64},
	{"HTTP_ALLOWED_ORIGINS", "http", "allowed_origins", envList},
	{"DATABASE_DRIVER", "database", "driver", envString},
	{"DATABASE_DSN", "database", "dsn", envString},
	{"DATABASE_DEBUG", "database", "debug", envBool},
	{"REDIS_ADDR", "redis", "addr", envString},
	{"REDIS_PASSWORD", "redis", "password", envString},
	{"REDIS_DB", "redis", "db", envInt},
	{"REDIS_KEY_PREFIX", "redis", "key_prefix", envString},
	{"REDIS_STATE_TTL", "redis", "state_ttl", envDuration},
	{"PIPELINE_SOFT_TIME_LIMIT", "pipeline", "soft_time_limit", envDuration},
	{"PIPELINE_HARD_TIME_LIMIT", "pipeline", "hard_time_limit", envDuration},
	{"PIPELINE_UPSERT_BATCH_SIZE", "pipeline", "upsert_batch_size", envInt},
	{"PIPELINE_SMALL_CHUNK_SIZE", "pipeline", "small_chunk_size", envInt},
	{"PIPELINE_LARGE_CHUNK_SIZE", "pipeline", "large_chunk_size", envInt},
	{"PIPELINE_LARGE_FILE_ROWS", "pipeline", "large_file_rows", envInt},
	{"STREAMER_INTERVAL", "streamer", "interval", envDuration},
	{"STREAMER_MAX_DURATION", "streamer", "max_duration", envDuration},
	{"WEBHOOKS_USER_AGENT", "webhooks", "user_agent", envString},
	{"WEBHOOKS_MAX_RETRY_DELAY", "webhooks", "max_retry_delay", envDuration},
	{"WEBHOOKS_MAX_RESPONSE_BODY_BYTES", "webhooks", "max_response_body_bytes", envInt64},
	{"WEBHOOKS_SUBSCRIPTION_CACHE_TTL", "webhooks", "subscription_cache_ttl", envDuration},
	{"WEBHOOKS_SECRET_KEY", "webhooks", "secret_key", envString},
	{"WORKER_CONCURRENCY", "worker", "concurrency", envInt},
	{"WORKER_MAX_ATTEMPTS", "worker", "max_attempts", envInt},
}

// EnvConfigLoader reads INGEST_* variables, after loading the optional
// dotenv files into the process environment.
type EnvConfigLoader struct {
	Files  []string
	Lookup func(string) (string, bool)
}

func NewEnvConfigLoader(files ...string) *EnvConfigLoader {
	return &EnvConfigLoader{Files: files}
}

func (l *EnvConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	lookup := os.LookupEnv
	if l != nil && l.Lookup != nil {
		lookup = l.Lookup
	}
	if l != nil {
		for _, file := range l.Files {
			if err := godotenv.Load(file); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("core: load env file %s: %w", file, err)
			}
		}
	}

	raw := map[string]any{}
	for _, binding := range envBindings {
		value, ok := lookup(EnvPrefix + binding.name)
		if !ok || strings.TrimSpace(value) == "" {
			continue
		}
		parsed, err := parseEnvValue(binding.kind, strings.TrimSpace(value))
		if err != nil {
			return nil, fmt.Errorf("core: invalid %s%s: %w", EnvPrefix, binding.name, err)
		}
		if binding.section == "" {
			raw[binding.key] = parsed
			continue
		}
		section, ok := raw[binding.section].(map[string]any)
		if !ok {
			section = map[string]any{}
			raw[binding.section] = section
		}
		section[binding.key] = parsed
	}
	return raw, nil
}

func parseEnvValue(kind envKind, value string) (any, error) {
	switch kind {
	case envInt:
		return strconv.Atoi(value)
	case envInt64:
		return strconv.ParseInt(value, 10, 64)
	case envBool:
		return strconv.ParseBool(value)
	case envDuration:
		return time.ParseDuration(value)
	case envList:
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, part := range parts {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		return out, nil
	default:
		return value, nil
	}
}

// LoadConfig resolves the effective configuration from defaults, the
// environment and runtime overrides.
func LoadConfig(ctx context.Context, runtime Config, files ...string) (Config, error) {
	defaults := DefaultConfig()
	loaded, err := NewCfgxConfigProvider(NewEnvConfigLoader(files...)).Load(ctx, defaults)
	if err != nil {
		return Config{}, err
	}
	return GoOptionsResolver{}.Resolve(defaults, loaded, runtime)
}
