package query

import (
	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-ingest/core"
)

var (
	_ gocmd.Querier[GetProgressMessage, core.ProgressSnapshot]            = (*GetProgressQuery)(nil)
	_ gocmd.Querier[GetProductMessage, core.Product]                      = (*GetProductQuery)(nil)
	_ gocmd.Querier[GetWebhookMessage, core.WebhookSubscription]          = (*GetWebhookQuery)(nil)
	_ gocmd.Querier[ListWebhooksMessage, []core.WebhookSubscription]      = (*ListWebhooksQuery)(nil)
	_ gocmd.Querier[ListWebhookDeliveriesMessage, []core.WebhookDelivery] = (*ListWebhookDeliveriesQuery)(nil)

	_ ProgressReader = (*core.Service)(nil)
	_ ProductReader  = (*core.Service)(nil)
	_ WebhookReader  = (*core.Service)(nil)
)
