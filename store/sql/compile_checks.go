package sqlstore

import (
	"github.com/goliatone/go-ingest/core"
	"github.com/goliatone/go-ingest/ratelimit"
)

var (
	_ core.JobStore               = (*JobStore)(nil)
	_ core.ProductStore           = (*ProductStore)(nil)
	_ core.WebhookStore           = (*WebhookStore)(nil)
	_ core.WebhookStore           = (*CachedWebhookStore)(nil)
	_ core.WebhookDeliveryLedger  = (*WebhookDeliveryStore)(nil)
	_ core.StoreProvider          = (*RepositoryFactory)(nil)
	_ core.RepositoryStoreFactory = (*RepositoryFactory)(nil)
	_ ratelimit.StateStore        = (*ThrottleStateStore)(nil)
)
