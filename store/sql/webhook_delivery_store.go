package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-ingest/core"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

const defaultDeliveryListLimit = 50

// WebhookDeliveryStore is the append-only ledger of delivery attempts.
type WebhookDeliveryStore struct {
	db   *bun.DB
	repo repository.Repository[*webhookDeliveryRecord]
	now  func() time.Time
}

func NewWebhookDeliveryStore(db *bun.DB) (*WebhookDeliveryStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*webhookDeliveryRecord](db, webhookDeliveryHandlers())
	if err := validateRepository("webhook delivery", repo); err != nil {
		return nil, err
	}
	return &WebhookDeliveryStore{
		db:   db,
		repo: repo,
		now:  func() time.Time { return time.Now().UTC() },
	}, nil
}

// Record appends one attempt outcome. Replaying the same delivery attempt
// returns the stored row instead of inserting a second one.
func (s *WebhookDeliveryStore) Record(ctx context.Context, delivery core.WebhookDelivery) (core.WebhookDelivery, error) {
	if s == nil || s.db == nil {
		return core.WebhookDelivery{}, fmt.Errorf("sqlstore: webhook delivery store is not configured")
	}
	subscriptionID := strings.TrimSpace(delivery.SubscriptionID)
	deliveryID := strings.TrimSpace(delivery.DeliveryID)
	if subscriptionID == "" || deliveryID == "" {
		return core.WebhookDelivery{}, fmt.Errorf("sqlstore: subscription id and delivery id are required")
	}
	if delivery.Attempt <= 0 {
		delivery.Attempt = 1
	}
	record := &webhookDeliveryRecord{
		ID:             uuid.NewString(),
		SubscriptionID: subscriptionID,
		DeliveryID:     deliveryID,
		EventType:      string(delivery.EventType),
		Attempt:        delivery.Attempt,
		Status:         string(delivery.Status),
		ResponseCode:   delivery.ResponseCode,
		ResponseTimeMS: delivery.ResponseTimeMS,
		Error:          core.Truncate(delivery.Error, core.MaxDeliveryErrorLength),
		NextAttemptAt:  copyTimePtr(delivery.NextAttemptAt),
		CreatedAt:      s.now(),
	}
	result, err := s.db.NewInsert().
		Model(record).
		On("CONFLICT (delivery_id, attempt) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return core.WebhookDelivery{}, err
	}
	if rows, rowsErr := result.RowsAffected(); rowsErr == nil && rows == 0 {
		return s.get(ctx, deliveryID, delivery.Attempt)
	}
	return record.toDomain(), nil
}

// ListBySubscription returns the most recent attempts first.
func (s *WebhookDeliveryStore) ListBySubscription(ctx context.Context, subscriptionID string, limit int) ([]core.WebhookDelivery, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: webhook delivery store is not configured")
	}
	if limit <= 0 {
		limit = defaultDeliveryListLimit
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("subscription_id", "=", strings.TrimSpace(subscriptionID)),
		repository.OrderBy("created_at DESC"),
		repository.SelectPaginate(limit, 0),
	)
	if err != nil {
		return nil, err
	}
	out := make([]core.WebhookDelivery, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out, nil
}

func (s *WebhookDeliveryStore) get(ctx context.Context, deliveryID string, attempt int) (core.WebhookDelivery, error) {
	record := &webhookDeliveryRecord{}
	if err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.delivery_id = ?", deliveryID).
		Where("?TableAlias.attempt = ?", attempt).
		Limit(1).
		Scan(ctx); err != nil {
		return core.WebhookDelivery{}, err
	}
	return record.toDomain(), nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	message := strings.ToLower(strings.TrimSpace(err.Error()))
	return strings.Contains(message, "unique constraint failed") ||
		strings.Contains(message, "duplicate key value violates unique constraint")
}
