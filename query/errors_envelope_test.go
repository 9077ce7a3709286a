package query

import (
	"context"
	"testing"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-ingest/core"
)

func TestGetWebhookMessage_ValidateReturnsRichError(t *testing.T) {
	err := (GetWebhookMessage{}).Validate()

	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		t.Fatalf("expected go-errors envelope, got %T", err)
	}
	if rich.Category != goerrors.CategoryValidation {
		t.Fatalf("expected validation category, got %q", rich.Category)
	}
	if rich.TextCode != core.ErrorValidation {
		t.Fatalf("expected %q text code, got %q", core.ErrorValidation, rich.TextCode)
	}
}

func TestListWebhookDeliveriesMessage_LimitIsBadInput(t *testing.T) {
	err := (ListWebhookDeliveriesMessage{WebhookID: "w1", Limit: -1}).Validate()

	var rich *goerrors.Error
	if !goerrors.As(err, &rich) || rich.Category != goerrors.CategoryBadInput {
		t.Fatalf("expected bad input envelope, got %v", err)
	}
}

func TestGetProgressQuery_NilReaderReturnsRichError(t *testing.T) {
	var qry *GetProgressQuery
	_, err := qry.Query(context.Background(), GetProgressMessage{TaskID: "t"})

	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		t.Fatalf("expected go-errors envelope, got %T", err)
	}
	if rich.Category != goerrors.CategoryInternal || rich.TextCode != core.ErrorInternal {
		t.Fatalf("unexpected envelope %q / %q", rich.Category, rich.TextCode)
	}
}
