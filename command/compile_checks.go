package command

import (
	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-ingest/core"
)

var (
	_ gocmd.Commander[SubmitUploadMessage]   = (*SubmitUploadCommand)(nil)
	_ gocmd.Commander[CreateProductMessage]  = (*CreateProductCommand)(nil)
	_ gocmd.Commander[UpdateProductMessage]  = (*UpdateProductCommand)(nil)
	_ gocmd.Commander[DeleteProductMessage]  = (*DeleteProductCommand)(nil)
	_ gocmd.Commander[DeleteProductsMessage] = (*DeleteProductsCommand)(nil)
	_ gocmd.Commander[CreateWebhookMessage]  = (*CreateWebhookCommand)(nil)
	_ gocmd.Commander[UpdateWebhookMessage]  = (*UpdateWebhookCommand)(nil)
	_ gocmd.Commander[DeleteWebhookMessage]  = (*DeleteWebhookCommand)(nil)

	_ UploadService          = (*core.Service)(nil)
	_ ProductMutatingService = (*core.Service)(nil)
	_ WebhookMutatingService = (*core.Service)(nil)
)
