package core

import (
	"errors"
	"net/http"
	"testing"

	goerrors "github.com/goliatone/go-errors"
)

func TestWrapError_FillsEnvelopeFromCategory(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	err := WrapError(cause, goerrors.CategoryExternal, "transport: execute http request", map[string]any{"adapter": "rest"})

	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		t.Fatalf("expected go-errors envelope, got %T", err)
	}
	if rich.Code != http.StatusBadGateway || rich.TextCode != ErrorExternal {
		t.Fatalf("unexpected envelope %d / %q", rich.Code, rich.TextCode)
	}
	if rich.Metadata["adapter"] != "rest" {
		t.Fatalf("expected metadata carried, got %v", rich.Metadata)
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected cause to stay reachable")
	}

	fresh := WrapError(nil, goerrors.CategoryBadInput, "transport: request url is required", nil)
	if !goerrors.As(fresh, &rich) || rich.Code != http.StatusBadRequest || rich.TextCode != ErrorBadInput {
		t.Fatalf("expected bad input envelope without a cause, got %v", fresh)
	}
}

func TestEnvelopeConstructors_UseDistinctTextCodes(t *testing.T) {
	cases := []struct {
		err      error
		textCode string
		status   int
	}{
		{NewValidationError("sku", "sku is required"), ErrorValidation, http.StatusBadRequest},
		{NewBadInputError("Uploaded file is empty"), ErrorBadInput, http.StatusBadRequest},
		{NewInternalError("command: upload service is required"), ErrorInternal, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		mapped := MapError(tc.err)
		if mapped.TextCode != tc.textCode || mapped.Code != tc.status {
			t.Fatalf("expected %q/%d, got %q/%d", tc.textCode, tc.status, mapped.TextCode, mapped.Code)
		}
	}
}
