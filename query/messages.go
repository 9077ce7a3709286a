package query

import (
	"strings"

	"github.com/goliatone/go-ingest/core"
)

const (
	TypeGetProgress           = "ingest.query.upload.progress"
	TypeGetProduct            = "ingest.query.product.get"
	TypeGetWebhook            = "ingest.query.webhook.get"
	TypeListWebhooks          = "ingest.query.webhook.list"
	TypeListWebhookDeliveries = "ingest.query.webhook.deliveries"

	MaxDeliveryListLimit = 500
)

type GetProgressMessage struct {
	TaskID string
}

func (GetProgressMessage) Type() string { return TypeGetProgress }

func (m GetProgressMessage) Validate() error {
	if strings.TrimSpace(m.TaskID) == "" {
		return core.NewValidationError("task_id", "task id is required")
	}
	return nil
}

type GetProductMessage struct {
	ProductID string
}

func (GetProductMessage) Type() string { return TypeGetProduct }

func (m GetProductMessage) Validate() error {
	if strings.TrimSpace(m.ProductID) == "" {
		return core.NewValidationError("id", "product id is required")
	}
	return nil
}

type GetWebhookMessage struct {
	WebhookID string
}

func (GetWebhookMessage) Type() string { return TypeGetWebhook }

func (m GetWebhookMessage) Validate() error {
	if strings.TrimSpace(m.WebhookID) == "" {
		return core.NewValidationError("id", "webhook id is required")
	}
	return nil
}

type ListWebhooksMessage struct{}

func (ListWebhooksMessage) Type() string { return TypeListWebhooks }

type ListWebhookDeliveriesMessage struct {
	WebhookID string
	Limit     int
}

func (ListWebhookDeliveriesMessage) Type() string { return TypeListWebhookDeliveries }

func (m ListWebhookDeliveriesMessage) Validate() error {
	if strings.TrimSpace(m.WebhookID) == "" {
		return core.NewValidationError("id", "webhook id is required")
	}
	if m.Limit < 0 || m.Limit > MaxDeliveryListLimit {
		return core.NewBadInputError("limit must be between 0 and 500")
	}
	return nil
}
