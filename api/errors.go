package api

import (
	"encoding/json"
	"net/http"

	"github.com/goliatone/go-ingest/core"

	goerrors "github.com/goliatone/go-errors"
)

type errorBody struct {
	Error errorPayload `json:"error"`
}

type errorPayload struct {
	Category string         `json:"category"`
	Code     int            `json:"code"`
	TextCode string         `json:"text_code"`
	Message  string         `json:"message"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

func apiBadInput(message string) error {
	return goerrors.New(message, goerrors.CategoryBadInput).
		WithCode(http.StatusBadRequest).
		WithTextCode(core.ErrorBadInput)
}

func apiWrapBadInput(source error, message string) error {
	return goerrors.Wrap(source, goerrors.CategoryBadInput, message).
		WithCode(http.StatusBadRequest).
		WithTextCode(core.ErrorBadInput)
}

// envelope maps err onto the public error body and its status code.
func envelope(err error) (int, errorBody) {
	rich := core.MapError(err)
	code := rich.Code
	if code < 400 || code > 599 {
		code = http.StatusInternalServerError
	}
	payload := errorPayload{
		Category: string(rich.Category),
		Code:     code,
		TextCode: rich.TextCode,
		Message:  rich.Message,
	}
	if len(rich.Metadata) > 0 {
		payload.Metadata = rich.Metadata
	}
	if fields := rich.AllValidationErrors(); len(fields) > 0 {
		if payload.Metadata == nil {
			payload.Metadata = map[string]any{}
		}
		out := make([]map[string]string, 0, len(fields))
		for _, field := range fields {
			out = append(out, map[string]string{"field": field.Field, "message": field.Message})
		}
		payload.Metadata["fields"] = out
	}
	return code, errorBody{Error: payload}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code, body := envelope(err)
	if code >= http.StatusInternalServerError {
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	writeJSON(w, code, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeJSON(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return apiWrapBadInput(err, "Request body is not valid JSON")
	}
	return nil
}
