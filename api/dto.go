package api

import (
	"time"

	"github.com/goliatone/go-ingest/core"
)

type productRequest struct {
	SKU         *string `json:"sku"`
	Name        *string `json:"name"`
	Description *string `json:"description"`
	Active      *bool   `json:"active"`
}

func (r productRequest) input() core.ProductInput {
	return core.ProductInput{
		SKU:         deref(r.SKU),
		Name:        deref(r.Name),
		Description: r.Description,
		Active:      r.Active,
	}
}

func (r productRequest) patch() core.ProductPatch {
	return core.ProductPatch{
		SKU:         r.SKU,
		Name:        r.Name,
		Description: r.Description,
		Active:      r.Active,
	}
}

type productResponse struct {
	ID          string    `json:"id"`
	SKU         string    `json:"sku"`
	Name        string    `json:"name"`
	Description *string   `json:"description"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func toProductResponse(p core.Product) productResponse {
	return productResponse{
		ID:          p.ID,
		SKU:         p.SKU,
		Name:        p.Name,
		Description: p.Description,
		Active:      p.Active,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
}

type webhookRequest struct {
	URL        *string            `json:"url"`
	EventTypes *[]string          `json:"event_types"`
	Enabled    *bool              `json:"enabled"`
	Secret     *string            `json:"secret"`
	Headers    *map[string]string `json:"headers"`
	Timeout    *int               `json:"timeout"`
	RetryCount *int               `json:"retry_count"`
}

func (r webhookRequest) input() core.WebhookInput {
	in := core.WebhookInput{
		URL:        deref(r.URL),
		Enabled:    r.Enabled,
		Secret:     deref(r.Secret),
		Timeout:    r.Timeout,
		RetryCount: r.RetryCount,
	}
	if r.EventTypes != nil {
		in.EventTypes = *r.EventTypes
	}
	if r.Headers != nil {
		in.Headers = *r.Headers
	}
	return in
}

func (r webhookRequest) patch() core.WebhookPatch {
	return core.WebhookPatch{
		URL:        r.URL,
		EventTypes: r.EventTypes,
		Enabled:    r.Enabled,
		Secret:     r.Secret,
		Headers:    r.Headers,
		Timeout:    r.Timeout,
		RetryCount: r.RetryCount,
	}
}

type webhookResponse struct {
	ID         string            `json:"id"`
	URL        string            `json:"url"`
	EventTypes []string          `json:"event_types"`
	Enabled    bool              `json:"enabled"`
	Secret     *string           `json:"secret"`
	Headers    map[string]string `json:"headers"`
	Timeout    int               `json:"timeout"`
	RetryCount int               `json:"retry_count"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

func toWebhookResponse(sub core.WebhookSubscription) webhookResponse {
	out := webhookResponse{
		ID:         sub.ID,
		URL:        sub.URL,
		EventTypes: make([]string, 0, len(sub.EventTypes)),
		Enabled:    sub.Enabled,
		Headers:    sub.Headers,
		Timeout:    sub.TimeoutSeconds,
		RetryCount: sub.RetryCount,
		CreatedAt:  sub.CreatedAt,
		UpdatedAt:  sub.UpdatedAt,
	}
	for _, event := range sub.EventTypes {
		out.EventTypes = append(out.EventTypes, string(event))
	}
	if sub.Secret != "" {
		secret := sub.Secret
		out.Secret = &secret
	}
	return out
}

type deliveryResponse struct {
	ID             string     `json:"id"`
	DeliveryID     string     `json:"delivery_id"`
	EventType      string     `json:"event_type"`
	Attempt        int        `json:"attempt"`
	Status         string     `json:"status"`
	ResponseCode   int        `json:"response_code,omitempty"`
	ResponseTimeMS int64      `json:"response_time_ms"`
	Error          string     `json:"error,omitempty"`
	NextAttemptAt  *time.Time `json:"next_attempt_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

func toDeliveryResponse(d core.WebhookDelivery) deliveryResponse {
	return deliveryResponse{
		ID:             d.ID,
		DeliveryID:     d.DeliveryID,
		EventType:      string(d.EventType),
		Attempt:        d.Attempt,
		Status:         string(d.Status),
		ResponseCode:   d.ResponseCode,
		ResponseTimeMS: d.ResponseTimeMS,
		Error:          d.Error,
		NextAttemptAt:  d.NextAttemptAt,
		CreatedAt:      d.CreatedAt,
	}
}

func deref[T any](value *T) T {
	var zero T
	if value == nil {
		return zero
	}
	return *value
}
