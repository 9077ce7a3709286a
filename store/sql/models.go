package sqlstore

import (
	"strings"
	"time"

	"github.com/goliatone/go-ingest/core"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type jobRecord struct {
	bun.BaseModel `bun:"table:ingest_jobs,alias:ij"`

	ID            string    `bun:"id,pk"`
	TaskID        string    `bun:"task_id,notnull"`
	Filename      string    `bun:"filename,notnull"`
	Status        string    `bun:"status,notnull"`
	Progress      float64   `bun:"progress,notnull"`
	TotalRows     *int      `bun:"total_rows"`
	ProcessedRows int       `bun:"processed_rows,notnull"`
	FailedRows    int       `bun:"failed_rows,notnull"`
	ErrorMessage  *string   `bun:"error_message"`
	ErrorKind     string    `bun:"error_kind,notnull"`
	CreatedAt     time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt     time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

func (r *jobRecord) toDomain() core.Job {
	if r == nil {
		return core.Job{}
	}
	return core.Job{
		ID:            r.ID,
		TaskID:        r.TaskID,
		Filename:      r.Filename,
		Status:        core.JobStatus(r.Status),
		Progress:      r.Progress,
		TotalRows:     copyIntPtr(r.TotalRows),
		ProcessedRows: r.ProcessedRows,
		FailedRows:    r.FailedRows,
		ErrorMessage:  copyStringPtr(r.ErrorMessage),
		ErrorKind:     core.JobErrorKind(r.ErrorKind),
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
}

type productRecord struct {
	bun.BaseModel `bun:"table:products,alias:p"`

	ID          string    `bun:"id,pk"`
	SKU         string    `bun:"sku,notnull"`
	Name        string    `bun:"name,notnull"`
	Description *string   `bun:"description"`
	Active      bool      `bun:"active,notnull"`
	CreatedAt   time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt   time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

func newProductRecord(product core.Product, now time.Time) *productRecord {
	record := &productRecord{
		ID:          strings.TrimSpace(product.ID),
		SKU:         core.NormalizeSKU(product.SKU),
		Name:        strings.TrimSpace(product.Name),
		Description: copyStringPtr(product.Description),
		Active:      product.Active,
		CreatedAt:   product.CreatedAt,
		UpdatedAt:   now,
	}
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	return record
}

func (r *productRecord) toDomain() core.Product {
	if r == nil {
		return core.Product{}
	}
	return core.Product{
		ID:          r.ID,
		SKU:         r.SKU,
		Name:        r.Name,
		Description: copyStringPtr(r.Description),
		Active:      r.Active,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
}

type webhookSubscriptionRecord struct {
	bun.BaseModel `bun:"table:webhook_subscriptions,alias:ws"`

	ID             string            `bun:"id,pk"`
	URL            string            `bun:"url,notnull"`
	EventTypes     []string          `bun:"event_types,type:jsonb,notnull"`
	Enabled        bool              `bun:"enabled,notnull"`
	Secret         string            `bun:"secret,notnull"`
	Headers        map[string]string `bun:"headers,type:jsonb,notnull"`
	TimeoutSeconds int               `bun:"timeout_seconds,notnull"`
	RetryCount     int               `bun:"retry_count,notnull"`
	CreatedAt      time.Time         `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt      time.Time         `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

func newWebhookSubscriptionRecord(sub core.WebhookSubscription, now time.Time) *webhookSubscriptionRecord {
	events := make([]string, 0, len(sub.EventTypes))
	for _, event := range sub.EventTypes {
		events = append(events, string(event))
	}
	headers := make(map[string]string, len(sub.Headers))
	for key, value := range sub.Headers {
		headers[key] = value
	}
	record := &webhookSubscriptionRecord{
		ID:             strings.TrimSpace(sub.ID),
		URL:            strings.TrimSpace(sub.URL),
		EventTypes:     events,
		Enabled:        sub.Enabled,
		Secret:         sub.Secret,
		Headers:        headers,
		TimeoutSeconds: sub.TimeoutSeconds,
		RetryCount:     sub.RetryCount,
		CreatedAt:      sub.CreatedAt,
		UpdatedAt:      now,
	}
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	return record
}

func (r *webhookSubscriptionRecord) toDomain() core.WebhookSubscription {
	if r == nil {
		return core.WebhookSubscription{}
	}
	events := make([]core.EventType, 0, len(r.EventTypes))
	for _, event := range r.EventTypes {
		events = append(events, core.EventType(event))
	}
	var headers map[string]string
	if len(r.Headers) > 0 {
		headers = make(map[string]string, len(r.Headers))
		for key, value := range r.Headers {
			headers[key] = value
		}
	}
	return core.WebhookSubscription{
		ID:             r.ID,
		URL:            r.URL,
		EventTypes:     events,
		Enabled:        r.Enabled,
		Secret:         r.Secret,
		Headers:        headers,
		TimeoutSeconds: r.TimeoutSeconds,
		RetryCount:     r.RetryCount,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
}

type webhookDeliveryRecord struct {
	bun.BaseModel `bun:"table:webhook_deliveries,alias:wd"`

	ID             string     `bun:"id,pk"`
	SubscriptionID string     `bun:"subscription_id,notnull"`
	DeliveryID     string     `bun:"delivery_id,notnull"`
	EventType      string     `bun:"event_type,notnull"`
	Attempt        int        `bun:"attempt,notnull"`
	Status         string     `bun:"status,notnull"`
	ResponseCode   int        `bun:"response_code,notnull"`
	ResponseTimeMS int64      `bun:"response_time_ms,notnull"`
	Error          string     `bun:"error,notnull"`
	NextAttemptAt  *time.Time `bun:"next_attempt_at,nullzero"`
	CreatedAt      time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

func (r *webhookDeliveryRecord) toDomain() core.WebhookDelivery {
	if r == nil {
		return core.WebhookDelivery{}
	}
	return core.WebhookDelivery{
		ID:             r.ID,
		SubscriptionID: r.SubscriptionID,
		DeliveryID:     r.DeliveryID,
		EventType:      core.EventType(r.EventType),
		Attempt:        r.Attempt,
		Status:         core.DeliveryStatus(r.Status),
		ResponseCode:   r.ResponseCode,
		ResponseTimeMS: r.ResponseTimeMS,
		Error:          r.Error,
		NextAttemptAt:  copyTimePtr(r.NextAttemptAt),
		CreatedAt:      r.CreatedAt,
	}
}

func copyIntPtr(value *int) *int {
	if value == nil {
		return nil
	}
	out := *value
	return &out
}

func copyStringPtr(value *string) *string {
	if value == nil {
		return nil
	}
	out := *value
	return &out
}

func copyTimePtr(value *time.Time) *time.Time {
	if value == nil {
		return nil
	}
	out := value.UTC()
	return &out
}
