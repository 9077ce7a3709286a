package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-ingest/core"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
)

type WebhookStore struct {
	db   *bun.DB
	repo repository.Repository[*webhookSubscriptionRecord]
	now  func() time.Time
}

func NewWebhookStore(db *bun.DB) (*WebhookStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*webhookSubscriptionRecord](db, webhookSubscriptionHandlers())
	if err := validateRepository("webhook subscription", repo); err != nil {
		return nil, err
	}
	return &WebhookStore{
		db:   db,
		repo: repo,
		now:  func() time.Time { return time.Now().UTC() },
	}, nil
}

func (s *WebhookStore) Create(ctx context.Context, sub core.WebhookSubscription) (core.WebhookSubscription, error) {
	if s == nil || s.repo == nil {
		return core.WebhookSubscription{}, fmt.Errorf("sqlstore: webhook store is not configured")
	}
	if err := sub.Validate(); err != nil {
		return core.WebhookSubscription{}, err
	}
	sub.ID = ""
	created, err := s.repo.Create(ctx, newWebhookSubscriptionRecord(sub, s.now()))
	if err != nil {
		return core.WebhookSubscription{}, err
	}
	return created.toDomain(), nil
}

func (s *WebhookStore) Get(ctx context.Context, id string) (core.WebhookSubscription, error) {
	if s == nil || s.db == nil {
		return core.WebhookSubscription{}, fmt.Errorf("sqlstore: webhook store is not configured")
	}
	id = strings.TrimSpace(id)
	if !validUUID(id) {
		return core.WebhookSubscription{}, core.ErrWebhookNotFound
	}
	record := &webhookSubscriptionRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.WebhookSubscription{}, core.ErrWebhookNotFound
		}
		return core.WebhookSubscription{}, err
	}
	return record.toDomain(), nil
}

func (s *WebhookStore) List(ctx context.Context) ([]core.WebhookSubscription, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: webhook store is not configured")
	}
	records, _, err := s.repo.List(ctx, repository.OrderBy("created_at ASC"))
	if err != nil {
		return nil, err
	}
	return toSubscriptions(records, ""), nil
}

func (s *WebhookStore) Update(ctx context.Context, sub core.WebhookSubscription) (core.WebhookSubscription, error) {
	if s == nil || s.db == nil {
		return core.WebhookSubscription{}, fmt.Errorf("sqlstore: webhook store is not configured")
	}
	id := strings.TrimSpace(sub.ID)
	if !validUUID(id) {
		return core.WebhookSubscription{}, core.ErrWebhookNotFound
	}
	if err := sub.Validate(); err != nil {
		return core.WebhookSubscription{}, err
	}
	record := newWebhookSubscriptionRecord(sub, s.now())
	result, err := s.db.NewUpdate().
		Model(record).
		Column("url", "event_types", "enabled", "secret", "headers", "timeout_seconds", "retry_count", "updated_at").
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return core.WebhookSubscription{}, err
	}
	if rows, rowsErr := result.RowsAffected(); rowsErr == nil && rows == 0 {
		return core.WebhookSubscription{}, core.ErrWebhookNotFound
	}
	return s.Get(ctx, id)
}

func (s *WebhookStore) Delete(ctx context.Context, id string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: webhook store is not configured")
	}
	id = strings.TrimSpace(id)
	if !validUUID(id) {
		return core.ErrWebhookNotFound
	}
	result, err := s.db.NewDelete().
		Model((*webhookSubscriptionRecord)(nil)).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return err
	}
	if rows, rowsErr := result.RowsAffected(); rowsErr == nil && rows == 0 {
		return core.ErrWebhookNotFound
	}
	return nil
}

// ListEnabledForEvent returns enabled subscriptions whose event set contains
// event. The event set is a JSON column, so membership is checked in Go.
func (s *WebhookStore) ListEnabledForEvent(ctx context.Context, event core.EventType) ([]core.WebhookSubscription, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: webhook store is not configured")
	}
	if !event.Valid() {
		return nil, nil
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectRawProcessor(func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("?TableAlias.enabled = ?", true)
		}),
		repository.OrderBy("created_at ASC"),
	)
	if err != nil {
		return nil, err
	}
	return toSubscriptions(records, event), nil
}

func toSubscriptions(records []*webhookSubscriptionRecord, event core.EventType) []core.WebhookSubscription {
	out := make([]core.WebhookSubscription, 0, len(records))
	for _, record := range records {
		sub := record.toDomain()
		if event != "" && !sub.Subscribes(event) {
			continue
		}
		out = append(out, sub)
	}
	return out
}
