// Package api exposes the ingestion service over HTTP. Mutations go through
// the go-command handlers of the root facade; progress streams are served
// as server-sent events.
package api

import (
	"context"
	"fmt"
	"net/http"

	ingest "github.com/goliatone/go-ingest"
	"github.com/goliatone/go-ingest/core"
	"github.com/goliatone/go-ingest/progress"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	glog "github.com/goliatone/go-logger/glog"
)

const multipartMemory = 32 << 20

// ProgressStreamer pushes progress frames for one task until it ends.
type ProgressStreamer interface {
	Stream(ctx context.Context, taskID string, emit progress.Emitter) error
}

type Option func(*Server)

func WithLogger(logger glog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

func WithHTTPConfig(cfg core.HTTPConfig) Option {
	return func(s *Server) {
		s.config = cfg
	}
}

type Server struct {
	facade   *ingest.Facade
	streamer ProgressStreamer
	config   core.HTTPConfig
	logger   glog.Logger
}

func NewServer(facade *ingest.Facade, streamer ProgressStreamer, opts ...Option) (*Server, error) {
	switch {
	case facade == nil:
		return nil, fmt.Errorf("api: facade is required")
	case streamer == nil:
		return nil, fmt.Errorf("api: progress streamer is required")
	}
	s := &Server{
		facade:   facade,
		streamer: streamer,
		config:   core.DefaultConfig().HTTP,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.logger = glog.Ensure(s.logger)
	return s, nil
}

// Routes builds the chi router for every endpoint.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins(s.config.AllowedOrigins),
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
	}))

	r.Get("/healthz", s.health)
	r.Route("/api", func(r chi.Router) {
		r.Post("/upload", s.upload)
		r.Get("/upload/{task_id}/progress", s.uploadProgress)
		r.Get("/upload/{task_id}/stream", s.uploadStream)

		r.Post("/products", s.createProduct)
		r.Delete("/products", s.deleteProducts)
		r.Get("/products/{id}", s.getProduct)
		r.Put("/products/{id}", s.updateProduct)
		r.Delete("/products/{id}", s.deleteProduct)

		r.Get("/webhooks", s.listWebhooks)
		r.Post("/webhooks", s.createWebhook)
		r.Get("/webhooks/{id}", s.getWebhook)
		r.Put("/webhooks/{id}", s.updateWebhook)
		r.Delete("/webhooks/{id}", s.deleteWebhook)
		r.Get("/webhooks/{id}/deliveries", s.listWebhookDeliveries)
	})
	return r
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func allowedOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}
