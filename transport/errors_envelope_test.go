package transport

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-ingest/core"
)

func TestRESTAdapter_ResponseLimitReturnsRichError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("12345"))
	}))
	defer server.Close()

	adapter := NewRESTAdapter(server.Client())
	adapter.MaxResponseBodyBytes = 4

	_, err := adapter.Do(context.Background(), Request{Method: http.MethodGet, URL: server.URL})
	if err == nil {
		t.Fatalf("expected response body limit error")
	}

	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		t.Fatalf("expected go-errors envelope, got %T", err)
	}
	if rich.Category != goerrors.CategoryExternal {
		t.Fatalf("expected external category, got %q", rich.Category)
	}
	if rich.TextCode != core.ErrorExternal {
		t.Fatalf("expected %q text code, got %q", core.ErrorExternal, rich.TextCode)
	}
	if rich.Code != http.StatusBadGateway {
		t.Fatalf("expected %d code, got %d", http.StatusBadGateway, rich.Code)
	}
}

func TestRESTAdapter_TruncatesWhenRequested(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("12345"))
	}))
	defer server.Close()

	adapter := NewRESTAdapter(server.Client())
	res, err := adapter.Do(context.Background(), Request{
		URL:                  server.URL,
		MaxResponseBodyBytes: 3,
		TruncateResponseBody: true,
	})
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	if string(res.Body) != "123" || !res.Success() {
		t.Fatalf("expected truncated 2xx body, got %q (%d)", res.Body, res.StatusCode)
	}
}

func TestRESTAdapter_TimeoutIsExternalFailure(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	adapter := NewRESTAdapter(server.Client())
	res, err := adapter.Do(context.Background(), Request{URL: server.URL, Timeout: 20 * time.Millisecond})
	if !res.TimedOut {
		t.Fatalf("expected timed out response")
	}
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) || rich.Category != goerrors.CategoryExternal {
		t.Fatalf("expected external error on timeout, got %v", err)
	}
}

func TestJSONAdapter_AppliesDefaultsAndOverrides(t *testing.T) {
	var method, contentType, custom string
	var body []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method = r.Method
		contentType = r.Header.Get("Content-Type")
		custom = r.Header.Get("X-Custom")
		body, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	adapter := NewJSONAdapter(server.Client())
	res, err := adapter.Do(context.Background(), Request{
		URL:     server.URL,
		Body:    []byte(`{"ok":true}`),
		Headers: map[string]string{"x-custom": "value"},
	})
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	if method != http.MethodPost || contentType != "application/json" || custom != "value" {
		t.Fatalf("unexpected request shape: %s %s %s", method, contentType, custom)
	}
	if string(body) != `{"ok":true}` || res.StatusCode != http.StatusAccepted {
		t.Fatalf("unexpected exchange: %s %d", body, res.StatusCode)
	}
	if res.Metadata["kind"] != KindJSON {
		t.Fatalf("expected json kind metadata, got %v", res.Metadata["kind"])
	}
}

func TestProtocolAdapter_NilReturnsRichError(t *testing.T) {
	var adapter *ProtocolHTTPAdapter
	_, err := adapter.Do(context.Background(), Request{})
	if err == nil {
		t.Fatalf("expected protocol adapter nil error")
	}

	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		t.Fatalf("expected go-errors envelope, got %T", err)
	}
	if rich.Category != goerrors.CategoryInternal {
		t.Fatalf("expected internal category, got %q", rich.Category)
	}
	if rich.TextCode != core.ErrorInternal {
		t.Fatalf("expected %q text code, got %q", core.ErrorInternal, rich.TextCode)
	}
	if rich.Code != http.StatusInternalServerError {
		t.Fatalf("expected %d code, got %d", http.StatusInternalServerError, rich.Code)
	}
}
