package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	ingestcommand "github.com/goliatone/go-ingest/command"
	"github.com/goliatone/go-ingest/core"
	ingestquery "github.com/goliatone/go-ingest/query"

	"github.com/go-chi/chi/v5"
	gocmd "github.com/goliatone/go-command"
)

// multipartOverhead leaves room for boundaries and part headers on top of
// the file size limit.
const multipartOverhead = 1 << 20

type validator interface {
	Validate() error
}

func validate(msg any) error {
	if v, ok := msg.(validator); ok {
		return v.Validate()
	}
	return nil
}

// execute validates msg, runs the command and returns the value it stored in
// its result collector.
func execute[R any, T any](ctx context.Context, run func(context.Context, T) error, msg T) (R, error) {
	var zero R
	if err := validate(msg); err != nil {
		return zero, err
	}
	collector := gocmd.NewResult[R]()
	if err := run(gocmd.ContextWithResult(ctx, collector), msg); err != nil {
		return zero, err
	}
	out, _ := collector.Load()
	return out, nil
}

func (s *Server) upload(w http.ResponseWriter, r *http.Request) {
	limit := s.config.MaxUploadBytes
	if limit > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, limit+multipartOverhead)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeError(w, r, apiBadInput(fmt.Sprintf("Uploaded file exceeds the %d byte limit", limit)))
			return
		}
		s.writeError(w, r, apiWrapBadInput(err, "No file provided"))
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile("file")
	if err != nil {
		s.writeError(w, r, apiBadInput("No file provided"))
		return
	}
	defer file.Close()
	payload, err := io.ReadAll(file)
	if err != nil {
		s.writeError(w, r, apiWrapBadInput(err, "Uploaded file could not be read"))
		return
	}

	receipt, err := execute[core.UploadReceipt](r.Context(), s.facade.Commands().SubmitUpload.Execute,
		ingestcommand.SubmitUploadMessage{Request: core.UploadRequest{
			Filename:    header.Filename,
			ContentType: header.Header.Get("Content-Type"),
			Payload:     payload,
		}},
	)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, receipt)
}

func (s *Server) uploadProgress(w http.ResponseWriter, r *http.Request) {
	msg := ingestquery.GetProgressMessage{TaskID: chi.URLParam(r, "task_id")}
	if err := validate(msg); err != nil {
		s.writeError(w, r, err)
		return
	}
	snapshot, err := s.facade.Queries().GetProgress.Query(r.Context(), msg)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func (s *Server) uploadStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, r, fmt.Errorf("api: response writer does not support streaming"))
		return
	}
	taskID := chi.URLParam(r, "task_id")

	header := w.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	err := s.streamer.Stream(r.Context(), taskID, func(msg core.StreamMessage) error {
		data, err := json.Marshal(msg)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	})
	if err != nil {
		s.logger.Warn("progress stream ended with error", "task_id", taskID, "error", err)
	}
}

func (s *Server) createProduct(w http.ResponseWriter, r *http.Request) {
	var body productRequest
	if err := decodeJSON(r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	product, err := execute[core.Product](r.Context(), s.facade.Commands().CreateProduct.Execute,
		ingestcommand.CreateProductMessage{Input: body.input()})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toProductResponse(product))
}

func (s *Server) getProduct(w http.ResponseWriter, r *http.Request) {
	msg := ingestquery.GetProductMessage{ProductID: chi.URLParam(r, "id")}
	if err := validate(msg); err != nil {
		s.writeError(w, r, err)
		return
	}
	product, err := s.facade.Queries().GetProduct.Query(r.Context(), msg)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toProductResponse(product))
}

func (s *Server) updateProduct(w http.ResponseWriter, r *http.Request) {
	var body productRequest
	if err := decodeJSON(r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	product, err := execute[core.Product](r.Context(), s.facade.Commands().UpdateProduct.Execute,
		ingestcommand.UpdateProductMessage{ProductID: chi.URLParam(r, "id"), Patch: body.patch()})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toProductResponse(product))
}

func (s *Server) deleteProduct(w http.ResponseWriter, r *http.Request) {
	msg := ingestcommand.DeleteProductMessage{ProductID: chi.URLParam(r, "id")}
	if err := validate(msg); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.facade.Commands().DeleteProduct.Execute(r.Context(), msg); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) deleteProducts(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	req := core.BulkDeleteRequest{}
	if raw := strings.TrimSpace(query.Get("confirm")); raw != "" {
		confirm, err := strconv.ParseBool(raw)
		if err != nil {
			s.writeError(w, r, apiBadInput("confirm must be a boolean"))
			return
		}
		req.Confirm = confirm
	}
	if raw := strings.TrimSpace(query.Get("active")); raw != "" {
		active, err := strconv.ParseBool(raw)
		if err != nil {
			s.writeError(w, r, apiBadInput("active must be a boolean"))
			return
		}
		req.Active = &active
	}
	result, err := execute[core.BulkDeleteResult](r.Context(), s.facade.Commands().DeleteProducts.Execute,
		ingestcommand.DeleteProductsMessage{Request: req})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) listWebhooks(w http.ResponseWriter, r *http.Request) {
	subs, err := s.facade.Queries().ListWebhooks.Query(r.Context(), ingestquery.ListWebhooksMessage{})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]webhookResponse, 0, len(subs))
	for _, sub := range subs {
		out = append(out, toWebhookResponse(sub))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) createWebhook(w http.ResponseWriter, r *http.Request) {
	var body webhookRequest
	if err := decodeJSON(r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	sub, err := execute[core.WebhookSubscription](r.Context(), s.facade.Commands().CreateWebhook.Execute,
		ingestcommand.CreateWebhookMessage{Input: body.input()})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toWebhookResponse(sub))
}

func (s *Server) getWebhook(w http.ResponseWriter, r *http.Request) {
	msg := ingestquery.GetWebhookMessage{WebhookID: chi.URLParam(r, "id")}
	if err := validate(msg); err != nil {
		s.writeError(w, r, err)
		return
	}
	sub, err := s.facade.Queries().GetWebhook.Query(r.Context(), msg)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toWebhookResponse(sub))
}

func (s *Server) updateWebhook(w http.ResponseWriter, r *http.Request) {
	var body webhookRequest
	if err := decodeJSON(r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	sub, err := execute[core.WebhookSubscription](r.Context(), s.facade.Commands().UpdateWebhook.Execute,
		ingestcommand.UpdateWebhookMessage{WebhookID: chi.URLParam(r, "id"), Patch: body.patch()})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toWebhookResponse(sub))
}

func (s *Server) deleteWebhook(w http.ResponseWriter, r *http.Request) {
	msg := ingestcommand.DeleteWebhookMessage{WebhookID: chi.URLParam(r, "id")}
	if err := validate(msg); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.facade.Commands().DeleteWebhook.Execute(r.Context(), msg); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listWebhookDeliveries(w http.ResponseWriter, r *http.Request) {
	msg := ingestquery.ListWebhookDeliveriesMessage{WebhookID: chi.URLParam(r, "id")}
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			s.writeError(w, r, apiBadInput("limit must be an integer"))
			return
		}
		msg.Limit = limit
	}
	if err := validate(msg); err != nil {
		s.writeError(w, r, err)
		return
	}
	deliveries, err := s.facade.Queries().ListWebhookDeliveries.Query(r.Context(), msg)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]deliveryResponse, 0, len(deliveries))
	for _, delivery := range deliveries {
		out = append(out, toDeliveryResponse(delivery))
	}
	writeJSON(w, http.StatusOK, out)
}
