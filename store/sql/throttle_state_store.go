package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-ingest/ratelimit"
	"github.com/uptrace/bun"
)

type throttleStateRecord struct {
	bun.BaseModel `bun:"table:webhook_throttle_states,alias:wts"`

	Key               string     `bun:"endpoint_key,pk"`
	Limit             int        `bun:"rate_limit,notnull"`
	Remaining         int        `bun:"remaining,notnull"`
	ResetAt           *time.Time `bun:"reset_at"`
	RetryAfterSeconds *int       `bun:"retry_after_seconds"`
	ThrottledUntil    *time.Time `bun:"throttled_until"`
	LastStatus        int        `bun:"last_status,notnull"`
	Strikes           int        `bun:"strikes,notnull"`
	UpdatedAt         time.Time  `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

// ThrottleStateStore persists endpoint throttle windows so every process
// delivering to the same subscription honors them.
type ThrottleStateStore struct {
	db *bun.DB
}

func NewThrottleStateStore(db *bun.DB) (*ThrottleStateStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	return &ThrottleStateStore{db: db}, nil
}

func (s *ThrottleStateStore) Get(ctx context.Context, key string) (ratelimit.State, error) {
	if s == nil || s.db == nil {
		return ratelimit.State{}, fmt.Errorf("sqlstore: throttle state store is not configured")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return ratelimit.State{}, fmt.Errorf("sqlstore: throttle key is required")
	}
	record := &throttleStateRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.endpoint_key = ?", key).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ratelimit.State{}, ratelimit.ErrStateNotFound
		}
		return ratelimit.State{}, err
	}
	return record.toDomain(), nil
}

func (s *ThrottleStateStore) Upsert(ctx context.Context, state ratelimit.State) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: throttle state store is not configured")
	}
	state.Key = strings.TrimSpace(state.Key)
	if state.Key == "" {
		return fmt.Errorf("sqlstore: throttle key is required")
	}
	if state.UpdatedAt.IsZero() {
		state.UpdatedAt = time.Now().UTC()
	}
	record := &throttleStateRecord{
		Key:               state.Key,
		Limit:             state.Limit,
		Remaining:         state.Remaining,
		ResetAt:           copyTimePtr(state.ResetAt),
		RetryAfterSeconds: durationSeconds(state.RetryAfter),
		ThrottledUntil:    copyTimePtr(state.ThrottledUntil),
		LastStatus:        state.LastStatus,
		Strikes:           state.Strikes,
		UpdatedAt:         state.UpdatedAt.UTC(),
	}
	_, err := s.db.NewInsert().
		Model(record).
		On("CONFLICT (endpoint_key) DO UPDATE").
		Set("rate_limit = EXCLUDED.rate_limit").
		Set("remaining = EXCLUDED.remaining").
		Set("reset_at = EXCLUDED.reset_at").
		Set("retry_after_seconds = EXCLUDED.retry_after_seconds").
		Set("throttled_until = EXCLUDED.throttled_until").
		Set("last_status = EXCLUDED.last_status").
		Set("strikes = EXCLUDED.strikes").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	return err
}

func (r *throttleStateRecord) toDomain() ratelimit.State {
	state := ratelimit.State{
		Key:            r.Key,
		Limit:          r.Limit,
		Remaining:      r.Remaining,
		ResetAt:        copyTimePtr(r.ResetAt),
		ThrottledUntil: copyTimePtr(r.ThrottledUntil),
		LastStatus:     r.LastStatus,
		Strikes:        r.Strikes,
		UpdatedAt:      r.UpdatedAt.UTC(),
	}
	if r.RetryAfterSeconds != nil && *r.RetryAfterSeconds > 0 {
		wait := time.Duration(*r.RetryAfterSeconds) * time.Second
		state.RetryAfter = &wait
	}
	return state
}

func durationSeconds(value *time.Duration) *int {
	if value == nil || *value <= 0 {
		return nil
	}
	seconds := max(int(value.Seconds()), 1)
	return &seconds
}
