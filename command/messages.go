package command

import (
	"strings"

	"github.com/goliatone/go-ingest/core"
)

const (
	TypeSubmitUpload   = "ingest.command.upload.submit"
	TypeCreateProduct  = "ingest.command.product.create"
	TypeUpdateProduct  = "ingest.command.product.update"
	TypeDeleteProduct  = "ingest.command.product.delete"
	TypeDeleteProducts = "ingest.command.product.delete_many"
	TypeCreateWebhook  = "ingest.command.webhook.create"
	TypeUpdateWebhook  = "ingest.command.webhook.update"
	TypeDeleteWebhook  = "ingest.command.webhook.delete"
)

type SubmitUploadMessage struct {
	Request core.UploadRequest
}

func (SubmitUploadMessage) Type() string { return TypeSubmitUpload }

func (m SubmitUploadMessage) Validate() error {
	if strings.TrimSpace(m.Request.Filename) == "" {
		return core.NewValidationError("file", "a file with a name is required")
	}
	return nil
}

type CreateProductMessage struct {
	Input core.ProductInput
}

func (CreateProductMessage) Type() string { return TypeCreateProduct }

func (m CreateProductMessage) Validate() error {
	_, err := m.Input.Normalize()
	return err
}

type UpdateProductMessage struct {
	ProductID string
	Patch     core.ProductPatch
}

func (UpdateProductMessage) Type() string { return TypeUpdateProduct }

func (m UpdateProductMessage) Validate() error {
	if strings.TrimSpace(m.ProductID) == "" {
		return core.NewValidationError("id", "product id is required")
	}
	return nil
}

type DeleteProductMessage struct {
	ProductID string
}

func (DeleteProductMessage) Type() string { return TypeDeleteProduct }

func (m DeleteProductMessage) Validate() error {
	if strings.TrimSpace(m.ProductID) == "" {
		return core.NewValidationError("id", "product id is required")
	}
	return nil
}

type DeleteProductsMessage struct {
	Request core.BulkDeleteRequest
}

func (DeleteProductsMessage) Type() string { return TypeDeleteProducts }

func (m DeleteProductsMessage) Validate() error {
	if !m.Request.Confirm {
		return core.NewBadInputError("Bulk delete requires confirm=true")
	}
	return nil
}

type CreateWebhookMessage struct {
	Input core.WebhookInput
}

func (CreateWebhookMessage) Type() string { return TypeCreateWebhook }

func (m CreateWebhookMessage) Validate() error {
	_, err := m.Input.Normalize()
	return err
}

type UpdateWebhookMessage struct {
	WebhookID string
	Patch     core.WebhookPatch
}

func (UpdateWebhookMessage) Type() string { return TypeUpdateWebhook }

func (m UpdateWebhookMessage) Validate() error {
	if strings.TrimSpace(m.WebhookID) == "" {
		return core.NewValidationError("id", "webhook id is required")
	}
	return nil
}

type DeleteWebhookMessage struct {
	WebhookID string
}

func (DeleteWebhookMessage) Type() string { return TypeDeleteWebhook }

func (m DeleteWebhookMessage) Validate() error {
	if strings.TrimSpace(m.WebhookID) == "" {
		return core.NewValidationError("id", "webhook id is required")
	}
	return nil
}
