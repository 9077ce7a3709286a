package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisKeyPrefix = "ingest"

// RedisBackend stores State blobs as JSON strings with a TTL so finished
// tasks age out on their own.
type RedisBackend struct {
	client    redis.UniversalClient
	keyPrefix string
	ttl       time.Duration
}

func NewRedisBackend(client redis.UniversalClient, keyPrefix string, ttl time.Duration) (*RedisBackend, error) {
	if client == nil {
		return nil, fmt.Errorf("progress: redis client is required")
	}
	keyPrefix = strings.Trim(strings.TrimSpace(keyPrefix), ":")
	if keyPrefix == "" {
		keyPrefix = defaultRedisKeyPrefix
	}
	return &RedisBackend{client: client, keyPrefix: keyPrefix, ttl: ttl}, nil
}

// Key returns <prefix>:task-state:<task id>.
func (b *RedisBackend) Key(taskID string) string {
	return b.keyPrefix + ":task-state:" + strings.TrimSpace(taskID)
}

func (b *RedisBackend) Get(ctx context.Context, taskID string) (State, bool, error) {
	if b == nil || b.client == nil {
		return State{}, false, fmt.Errorf("progress: redis backend is not configured")
	}
	raw, err := b.client.Get(ctx, b.Key(taskID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return State{}, false, nil
		}
		return State{}, false, fmt.Errorf("progress: read task state: %w", err)
	}
	var state State
	if err := json.Unmarshal(raw, &state); err != nil {
		return State{}, false, fmt.Errorf("progress: decode task state: %w", err)
	}
	return state, true, nil
}

func (b *RedisBackend) Set(ctx context.Context, state State) error {
	if b == nil || b.client == nil {
		return fmt.Errorf("progress: redis backend is not configured")
	}
	if strings.TrimSpace(state.TaskID) == "" {
		return nil
	}
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("progress: encode task state: %w", err)
	}
	if err := b.client.Set(ctx, b.Key(state.TaskID), raw, b.ttl).Err(); err != nil {
		return fmt.Errorf("progress: write task state: %w", err)
	}
	return nil
}

var _ TaskStateBackend = (*RedisBackend)(nil)
