package ingest

import (
	"fmt"

	"github.com/goliatone/go-ingest/adapters/gocommand"
	ingestcommand "github.com/goliatone/go-ingest/command"
	"github.com/goliatone/go-ingest/core"
	ingestquery "github.com/goliatone/go-ingest/query"

	commanddispatcher "github.com/goliatone/go-command/dispatcher"
)

// CommandQueryService is everything the command and query handlers call.
type CommandQueryService interface {
	ingestcommand.UploadService
	ingestcommand.ProductMutatingService
	ingestcommand.WebhookMutatingService
	ingestquery.ProgressReader
	ingestquery.ProductReader
	ingestquery.WebhookReader
}

type Commands struct {
	SubmitUpload   *ingestcommand.SubmitUploadCommand
	CreateProduct  *ingestcommand.CreateProductCommand
	UpdateProduct  *ingestcommand.UpdateProductCommand
	DeleteProduct  *ingestcommand.DeleteProductCommand
	DeleteProducts *ingestcommand.DeleteProductsCommand
	CreateWebhook  *ingestcommand.CreateWebhookCommand
	UpdateWebhook  *ingestcommand.UpdateWebhookCommand
	DeleteWebhook  *ingestcommand.DeleteWebhookCommand
}

type Queries struct {
	GetProgress           *ingestquery.GetProgressQuery
	GetProduct            *ingestquery.GetProductQuery
	GetWebhook            *ingestquery.GetWebhookQuery
	ListWebhooks          *ingestquery.ListWebhooksQuery
	ListWebhookDeliveries *ingestquery.ListWebhookDeliveriesQuery
}

type Facade struct {
	service  CommandQueryService
	commands Commands
	queries  Queries
}

func NewFacade(service CommandQueryService) (*Facade, error) {
	if service == nil {
		return nil, fmt.Errorf("ingest: command/query service is required")
	}
	facade := &Facade{service: service}
	facade.commands = Commands{
		SubmitUpload:   ingestcommand.NewSubmitUploadCommand(service),
		CreateProduct:  ingestcommand.NewCreateProductCommand(service),
		UpdateProduct:  ingestcommand.NewUpdateProductCommand(service),
		DeleteProduct:  ingestcommand.NewDeleteProductCommand(service),
		DeleteProducts: ingestcommand.NewDeleteProductsCommand(service),
		CreateWebhook:  ingestcommand.NewCreateWebhookCommand(service),
		UpdateWebhook:  ingestcommand.NewUpdateWebhookCommand(service),
		DeleteWebhook:  ingestcommand.NewDeleteWebhookCommand(service),
	}
	facade.queries = Queries{
		GetProgress:           ingestquery.NewGetProgressQuery(service),
		GetProduct:            ingestquery.NewGetProductQuery(service),
		GetWebhook:            ingestquery.NewGetWebhookQuery(service),
		ListWebhooks:          ingestquery.NewListWebhooksQuery(service),
		ListWebhookDeliveries: ingestquery.NewListWebhookDeliveriesQuery(service),
	}
	return facade, nil
}

func (f *Facade) Commands() Commands {
	if f == nil {
		return Commands{}
	}
	return f.commands
}

func (f *Facade) Queries() Queries {
	if f == nil {
		return Queries{}
	}
	return f.queries
}

func (f *Facade) Service() CommandQueryService {
	if f == nil {
		return nil
	}
	return f.service
}

// Register adds every handler to the registry and subscribes it on the
// go-command dispatcher. The returned subscriptions must be released with
// Unsubscribe when the facade is torn down.
func (f *Facade) Register(adapter *gocommand.RegistryAdapter) ([]commanddispatcher.Subscription, error) {
	if f == nil {
		return nil, fmt.Errorf("ingest: facade is nil")
	}
	var subs []commanddispatcher.Subscription
	keep := func(sub commanddispatcher.Subscription, err error) error {
		if err != nil {
			return err
		}
		subs = append(subs, sub)
		return nil
	}
	steps := []func() error{
		func() error {
			return keep(gocommand.RegisterAndSubscribe[ingestcommand.SubmitUploadMessage](adapter, f.commands.SubmitUpload))
		},
		func() error {
			return keep(gocommand.RegisterAndSubscribe[ingestcommand.CreateProductMessage](adapter, f.commands.CreateProduct))
		},
		func() error {
			return keep(gocommand.RegisterAndSubscribe[ingestcommand.UpdateProductMessage](adapter, f.commands.UpdateProduct))
		},
		func() error {
			return keep(gocommand.RegisterAndSubscribe[ingestcommand.DeleteProductMessage](adapter, f.commands.DeleteProduct))
		},
		func() error {
			return keep(gocommand.RegisterAndSubscribe[ingestcommand.DeleteProductsMessage](adapter, f.commands.DeleteProducts))
		},
		func() error {
			return keep(gocommand.RegisterAndSubscribe[ingestcommand.CreateWebhookMessage](adapter, f.commands.CreateWebhook))
		},
		func() error {
			return keep(gocommand.RegisterAndSubscribe[ingestcommand.UpdateWebhookMessage](adapter, f.commands.UpdateWebhook))
		},
		func() error {
			return keep(gocommand.RegisterAndSubscribe[ingestcommand.DeleteWebhookMessage](adapter, f.commands.DeleteWebhook))
		},
		func() error {
			return keep(gocommand.RegisterAndSubscribeQuery[ingestquery.GetProgressMessage, core.ProgressSnapshot](
				adapter, f.queries.GetProgress))
		},
		func() error {
			return keep(gocommand.RegisterAndSubscribeQuery[ingestquery.GetProductMessage, core.Product](
				adapter, f.queries.GetProduct))
		},
		func() error {
			return keep(gocommand.RegisterAndSubscribeQuery[ingestquery.GetWebhookMessage, core.WebhookSubscription](
				adapter, f.queries.GetWebhook))
		},
		func() error {
			return keep(gocommand.RegisterAndSubscribeQuery[ingestquery.ListWebhooksMessage, []core.WebhookSubscription](
				adapter, f.queries.ListWebhooks))
		},
		func() error {
			return keep(gocommand.RegisterAndSubscribeQuery[ingestquery.ListWebhookDeliveriesMessage, []core.WebhookDelivery](
				adapter, f.queries.ListWebhookDeliveries))
		},
	}
	for _, step := range steps {
		if err := step(); err != nil {
			Unsubscribe(subs)
			return nil, err
		}
	}
	return subs, nil
}

func Unsubscribe(subs []commanddispatcher.Subscription) {
	for _, sub := range subs {
		if sub != nil {
			sub.Unsubscribe()
		}
	}
}
