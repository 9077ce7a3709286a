package core

import (
	"encoding/json"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/samber/lo"
)

type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Terminal reports whether no further transition can occur from s.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

type JobErrorKind string

const (
	JobErrorKindNone       JobErrorKind = ""
	JobErrorKindValidation JobErrorKind = "validation"
	JobErrorKindTimeLimit  JobErrorKind = "time_limit"
	JobErrorKindInternal   JobErrorKind = "internal"
)

type Job struct {
	ID            string
	TaskID        string
	Filename      string
	Status        JobStatus
	Progress      float64
	TotalRows     *int
	ProcessedRows int
	FailedRows    int
	ErrorMessage  *string
	ErrorKind     JobErrorKind
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type CreateJobInput struct {
	TaskID   string
	Filename string
}

// JobProgress is the tuple written to both progress sinks.
type JobProgress struct {
	Progress      float64
	ProcessedRows int
	TotalRows     *int
	FailedRows    int
	Message       string
}

type Product struct {
	ID          string
	SKU         string
	Name        string
	Description *string
	Active      bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Payload is the webhook data body for product events.
func (p Product) Payload() map[string]any {
	var description any
	if p.Description != nil {
		description = *p.Description
	}
	return map[string]any{
		"id":          p.ID,
		"sku":         p.SKU,
		"name":        p.Name,
		"description": description,
		"active":      p.Active,
		"created_at":  p.CreatedAt.UTC().Format(time.RFC3339Nano),
		"updated_at":  p.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
}

// NormalizeSKU returns the storage form of a SKU.
func NormalizeSKU(sku string) string {
	return strings.ToLower(strings.TrimSpace(sku))
}

type ProductInput struct {
	SKU         string
	Name        string
	Description *string
	Active      *bool
}

func (in ProductInput) Normalize() (Product, error) {
	product := Product{
		SKU:         NormalizeSKU(in.SKU),
		Name:        strings.TrimSpace(in.Name),
		Description: normalizeOptionalText(in.Description),
		Active:      true,
	}
	if in.Active != nil {
		product.Active = *in.Active
	}
	if product.SKU == "" {
		return Product{}, NewValidationError("sku", "sku is required")
	}
	if product.Name == "" {
		return Product{}, NewValidationError("name", "name is required")
	}
	return product, nil
}

type ProductPatch struct {
	SKU         *string
	Name        *string
	Description *string
	Active      *bool
}

func (p ProductPatch) IsEmpty() bool {
	return p.SKU == nil && p.Name == nil && p.Description == nil && p.Active == nil
}

// Apply returns product with every non-nil field of the patch applied.
func (p ProductPatch) Apply(product Product) (Product, error) {
	if p.SKU != nil {
		sku := NormalizeSKU(*p.SKU)
		if sku == "" {
			return Product{}, NewValidationError("sku", "sku cannot be empty")
		}
		product.SKU = sku
	}
	if p.Name != nil {
		name := strings.TrimSpace(*p.Name)
		if name == "" {
			return Product{}, NewValidationError("name", "name cannot be empty")
		}
		product.Name = name
	}
	if p.Description != nil {
		product.Description = normalizeOptionalText(p.Description)
	}
	if p.Active != nil {
		product.Active = *p.Active
	}
	return product, nil
}

// ProductUpsert is one normalized row destined for a batch upsert.
type ProductUpsert struct {
	SKU         string
	Name        string
	Description *string
	Active      bool
}

type ProductDeleteFilter struct {
	Active *bool
}

type EventType string

const (
	EventRecordCreated EventType = "record.created"
	EventRecordUpdated EventType = "record.updated"
	EventRecordDeleted EventType = "record.deleted"
)

func EventTypes() []EventType {
	return []EventType{EventRecordCreated, EventRecordUpdated, EventRecordDeleted}
}

func (e EventType) Valid() bool {
	return slices.Contains(EventTypes(), e)
}

func ParseEventTypes(values []string) ([]EventType, error) {
	out := make([]EventType, 0, len(values))
	for _, value := range values {
		event := EventType(strings.TrimSpace(strings.ToLower(value)))
		if !event.Valid() {
			return nil, NewValidationError(
				"event_types",
				fmt.Sprintf("invalid event type %q, must be one of %v", value, EventTypes()),
			)
		}
		out = append(out, event)
	}
	return lo.Uniq(out), nil
}

const (
	DefaultWebhookTimeoutSeconds = 30
	MinWebhookTimeoutSeconds     = 1
	MaxWebhookTimeoutSeconds     = 300
	DefaultWebhookRetryCount     = 3
	MaxWebhookRetryCount         = 10
)

type WebhookSubscription struct {
	ID             string
	URL            string
	EventTypes     []EventType
	Enabled        bool
	Secret         string
	Headers        map[string]string
	TimeoutSeconds int
	RetryCount     int
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (w WebhookSubscription) Subscribes(event EventType) bool {
	return lo.Contains(w.EventTypes, event)
}

func (w WebhookSubscription) Timeout() time.Duration {
	if w.TimeoutSeconds <= 0 {
		return DefaultWebhookTimeoutSeconds * time.Second
	}
	return time.Duration(w.TimeoutSeconds) * time.Second
}

// MaxAttempts is the attempt budget for one delivery; at least one attempt is always made.
func (w WebhookSubscription) MaxAttempts() int {
	if w.RetryCount < 1 {
		return 1
	}
	return w.RetryCount
}

func (w WebhookSubscription) Validate() error {
	if err := validateWebhookURL(w.URL); err != nil {
		return err
	}
	if len(w.EventTypes) == 0 {
		return NewValidationError("event_types", "at least one event type must be specified")
	}
	for _, event := range w.EventTypes {
		if !event.Valid() {
			return NewValidationError("event_types", fmt.Sprintf("invalid event type %q", event))
		}
	}
	if w.TimeoutSeconds < MinWebhookTimeoutSeconds || w.TimeoutSeconds > MaxWebhookTimeoutSeconds {
		return NewValidationError(
			"timeout",
			fmt.Sprintf("timeout must be between %d and %d seconds", MinWebhookTimeoutSeconds, MaxWebhookTimeoutSeconds),
		)
	}
	if w.RetryCount < 0 || w.RetryCount > MaxWebhookRetryCount {
		return NewValidationError(
			"retry_count",
			fmt.Sprintf("retry_count must be between 0 and %d", MaxWebhookRetryCount),
		)
	}
	return nil
}

type WebhookInput struct {
	URL        string
	EventTypes []string
	Enabled    *bool
	Secret     string
	Headers    map[string]string
	Timeout    *int
	RetryCount *int
}

func (in WebhookInput) Normalize() (WebhookSubscription, error) {
	events, err := ParseEventTypes(in.EventTypes)
	if err != nil {
		return WebhookSubscription{}, err
	}
	sub := WebhookSubscription{
		URL:            strings.TrimSpace(in.URL),
		EventTypes:     events,
		Enabled:        true,
		Secret:         in.Secret,
		Headers:        normalizeHeaders(in.Headers),
		TimeoutSeconds: DefaultWebhookTimeoutSeconds,
		RetryCount:     DefaultWebhookRetryCount,
	}
	if in.Enabled != nil {
		sub.Enabled = *in.Enabled
	}
	if in.Timeout != nil {
		sub.TimeoutSeconds = *in.Timeout
	}
	if in.RetryCount != nil {
		sub.RetryCount = *in.RetryCount
	}
	if err := sub.Validate(); err != nil {
		return WebhookSubscription{}, err
	}
	return sub, nil
}

type WebhookPatch struct {
	URL        *string
	EventTypes *[]string
	Enabled    *bool
	Secret     *string
	Headers    *map[string]string
	Timeout    *int
	RetryCount *int
}

func (p WebhookPatch) Apply(sub WebhookSubscription) (WebhookSubscription, error) {
	if p.URL != nil {
		sub.URL = strings.TrimSpace(*p.URL)
	}
	if p.EventTypes != nil {
		events, err := ParseEventTypes(*p.EventTypes)
		if err != nil {
			return WebhookSubscription{}, err
		}
		sub.EventTypes = events
	}
	if p.Enabled != nil {
		sub.Enabled = *p.Enabled
	}
	if p.Secret != nil {
		sub.Secret = *p.Secret
	}
	if p.Headers != nil {
		sub.Headers = normalizeHeaders(*p.Headers)
	}
	if p.Timeout != nil {
		sub.TimeoutSeconds = *p.Timeout
	}
	if p.RetryCount != nil {
		sub.RetryCount = *p.RetryCount
	}
	if err := sub.Validate(); err != nil {
		return WebhookSubscription{}, err
	}
	return sub, nil
}

type DeliveryStatus string

const (
	DeliveryStatusSuccess        DeliveryStatus = "success"
	DeliveryStatusRetryScheduled DeliveryStatus = "retry_scheduled"
	DeliveryStatusFailed         DeliveryStatus = "failed"
	DeliveryStatusSkipped        DeliveryStatus = "skipped"
)

// Terminal reports whether the delivery will not be attempted again.
func (s DeliveryStatus) Terminal() bool {
	return s != DeliveryStatusRetryScheduled
}

type WebhookDelivery struct {
	ID             string
	SubscriptionID string
	DeliveryID     string
	EventType      EventType
	Attempt        int
	Status         DeliveryStatus
	ResponseCode   int
	ResponseTimeMS int64
	Error          string
	NextAttemptAt  *time.Time
	CreatedAt      time.Time
}

type TaskState string

const (
	TaskStatePending    TaskState = "PENDING"
	TaskStateProcessing TaskState = "PROCESSING"
	TaskStateSuccess    TaskState = "SUCCESS"
	TaskStateFailure    TaskState = "FAILURE"
)

// ProgressSnapshot is the merged, caller-facing view of a job's progress.
type ProgressSnapshot struct {
	TaskID        string    `json:"task_id"`
	UploadJobID   string    `json:"upload_job_id"`
	Status        JobStatus `json:"status"`
	Progress      float64   `json:"progress"`
	TotalRows     *int      `json:"total_rows"`
	ProcessedRows int       `json:"processed_rows"`
	FailedRows    int       `json:"failed_rows"`
	TaskState     TaskState `json:"task_state"`
	Message       string    `json:"message"`
	Error         string    `json:"error,omitempty"`
}

func validateWebhookURL(raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return NewValidationError("url", "url is required")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return NewValidationError("url", "url is not valid")
	}
	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return NewValidationError("url", "url must start with http:// or https://")
	}
	if strings.TrimSpace(parsed.Host) == "" {
		return NewValidationError("url", "url host is required")
	}
	return nil
}

func normalizeOptionalText(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func normalizeHeaders(headers map[string]string) map[string]string {
	if len(headers) == 0 {
		return nil
	}
	out := make(map[string]string, len(headers))
	for key, value := range headers {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		out[key] = strings.TrimSpace(value)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// StreamMessage is one frame of a live progress stream: a snapshot, the
// done marker, or an error frame.
type StreamMessage struct {
	Snapshot *ProgressSnapshot
	Done     bool
	Err      string
}

func (m StreamMessage) MarshalJSON() ([]byte, error) {
	switch {
	case m.Done:
		return json.Marshal(map[string]string{"status": "done"})
	case m.Err != "":
		return json.Marshal(map[string]string{"status": "error", "error": m.Err})
	case m.Snapshot != nil:
		return json.Marshal(m.Snapshot)
	default:
		return []byte("null"), nil
	}
}
