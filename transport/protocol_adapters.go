package transport

import (
	"context"
	"net/http"
	"strings"

	"github.com/goliatone/go-ingest/core"
)

const KindJSON = "json"

// ProtocolHTTPAdapter layers a default method and default headers over a
// RESTAdapter. Request headers win over the defaults.
type ProtocolHTTPAdapter struct {
	kind          string
	defaultMethod string
	defaultHeader map[string]string
	rest          *RESTAdapter
}

// NewJSONAdapter posts JSON documents, the shape every outbound webhook uses.
func NewJSONAdapter(client HTTPDoer) *ProtocolHTTPAdapter {
	return newProtocolHTTPAdapter(KindJSON, client, http.MethodPost, map[string]string{
		"Content-Type": "application/json",
		"Accept":       "application/json",
	})
}

func newProtocolHTTPAdapter(kind string, client HTTPDoer, defaultMethod string, defaultHeaders map[string]string) *ProtocolHTTPAdapter {
	return &ProtocolHTTPAdapter{
		kind:          strings.TrimSpace(strings.ToLower(kind)),
		defaultMethod: strings.TrimSpace(strings.ToUpper(defaultMethod)),
		defaultHeader: cloneHeaders(defaultHeaders),
		rest:          NewRESTAdapter(client),
	}
}

func (a *ProtocolHTTPAdapter) Kind() string {
	if a == nil {
		return ""
	}
	return a.kind
}

// SetMaxResponseBodyBytes bounds how much of each response is read.
func (a *ProtocolHTTPAdapter) SetMaxResponseBodyBytes(limit int64) {
	if a == nil || a.rest == nil || limit <= 0 {
		return
	}
	a.rest.MaxResponseBodyBytes = limit
}

func (a *ProtocolHTTPAdapter) Do(ctx context.Context, req Request) (Response, error) {
	if a == nil || a.rest == nil {
		return Response{}, core.NewInternalError("transport: protocol adapter is nil")
	}
	resolved := req
	if strings.TrimSpace(resolved.Method) == "" {
		resolved.Method = a.defaultMethod
	}
	headers := cloneHeaders(a.defaultHeader)
	for key, value := range req.Headers {
		trimmed := strings.TrimSpace(key)
		if trimmed == "" {
			continue
		}
		headers[http.CanonicalHeaderKey(trimmed)] = strings.TrimSpace(value)
	}
	resolved.Headers = headers
	response, err := a.rest.Do(ctx, resolved)
	if err != nil {
		return response, err
	}
	response.Metadata = cloneMetadata(response.Metadata)
	response.Metadata["kind"] = a.kind
	response.Metadata["protocol_adapter"] = a.kind
	return response, nil
}

func cloneHeaders(input map[string]string) map[string]string {
	if len(input) == 0 {
		return map[string]string{}
	}
	out := make(map[string]string, len(input))
	for key, value := range input {
		trimmed := strings.TrimSpace(key)
		if trimmed == "" {
			continue
		}
		out[http.CanonicalHeaderKey(trimmed)] = strings.TrimSpace(value)
	}
	return out
}

func cloneMetadata(input map[string]any) map[string]any {
	if len(input) == 0 {
		return map[string]any{}
	}
	out := make(map[string]any, len(input))
	for key, value := range input {
		out[key] = value
	}
	return out
}

var _ Adapter = (*ProtocolHTTPAdapter)(nil)
