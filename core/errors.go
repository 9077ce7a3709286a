package core

import (
	"errors"
	"net/http"
	"strings"
	"unicode/utf8"

	goerrors "github.com/goliatone/go-errors"
)

const (
	ErrorBadInput       = "INGEST_BAD_INPUT"
	ErrorValidation     = "INGEST_VALIDATION"
	ErrorNotFound       = "INGEST_NOT_FOUND"
	ErrorConflict       = "INGEST_CONFLICT"
	ErrorTimeLimit      = "INGEST_TIME_LIMIT"
	ErrorChunkFailed    = "INGEST_CHUNK_FAILED"
	ErrorDeliveryFailed = "INGEST_DELIVERY_FAILED"
	ErrorRateLimited    = "INGEST_RATE_LIMITED"
	ErrorExternal       = "INGEST_EXTERNAL_FAILURE"
	ErrorInternal       = "INGEST_INTERNAL_ERROR"
)

var (
	ErrJobNotFound     = errors.New("upload job not found")
	ErrProductNotFound = errors.New("product not found")
	ErrWebhookNotFound = errors.New("webhook not found")
	ErrDuplicateSKU    = errors.New("duplicate sku")
	ErrInvalidUpload   = errors.New("invalid upload")
)

// MapError converts any error into the envelope returned to API callers.
func MapError(err error) *goerrors.Error {
	if err == nil {
		return nil
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return ensureErrorEnvelope(richErr)
	}

	var duplicate *DuplicateSKUError
	if errors.As(err, &duplicate) {
		return newError(duplicate.Error(), goerrors.CategoryBadInput, ErrorConflict).
			WithMetadata(map[string]any{"sku": duplicate.SKU})
	}

	switch {
	case errors.Is(err, ErrJobNotFound):
		return newError("Upload job not found", goerrors.CategoryNotFound, ErrorNotFound)
	case errors.Is(err, ErrProductNotFound):
		return newError("Product not found", goerrors.CategoryNotFound, ErrorNotFound)
	case errors.Is(err, ErrWebhookNotFound):
		return newError("Webhook not found", goerrors.CategoryNotFound, ErrorNotFound)
	case errors.Is(err, ErrInvalidUpload):
		return newError(err.Error(), goerrors.CategoryBadInput, ErrorBadInput)
	}

	mapped := goerrors.MapToError(err, goerrors.DefaultErrorMappers())
	return ensureErrorEnvelope(mapped)
}

func NewValidationError(field string, message string) error {
	return ensureErrorEnvelope(
		goerrors.NewValidation(message, goerrors.FieldError{Field: field, Message: message}).
			WithTextCode(ErrorValidation),
	)
}

func NewBadInputError(message string) error {
	return newError(message, goerrors.CategoryBadInput, ErrorBadInput)
}

// NewInternalError reports a server-side fault such as a missing collaborator.
func NewInternalError(message string) error {
	return newError(message, goerrors.CategoryInternal, ErrorInternal)
}

// WrapError envelopes cause under category. A nil cause yields a fresh error.
func WrapError(cause error, category goerrors.Category, message string, metadata map[string]any) error {
	var err *goerrors.Error
	if cause == nil {
		err = goerrors.New(message, category)
	} else {
		err = goerrors.Wrap(cause, category, message)
	}
	if len(metadata) > 0 {
		err = err.WithMetadata(metadata)
	}
	return ensureErrorEnvelope(err)
}

// DuplicateSKUError reports a create or update that collides with an
// existing SKU.
type DuplicateSKUError struct {
	SKU string
}

func (e *DuplicateSKUError) Error() string {
	return "Product with SKU '" + e.SKU + "' already exists. SKUs must be unique (case-insensitive)."
}

func (e *DuplicateSKUError) Unwrap() error {
	return ErrDuplicateSKU
}

// Persisted message bounds.
const (
	MaxFailureMessageLength = 500
	MaxChunkErrorLength     = 200
	MaxDeliveryErrorLength  = 500
)

// Truncate shortens message to at most limit runes.
func Truncate(message string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(message) <= limit {
		return message
	}
	runes := []rune(message)
	return string(runes[:limit])
}

func newError(message string, category goerrors.Category, textCode string) *goerrors.Error {
	return ensureErrorEnvelope(
		goerrors.New(message, category).
			WithTextCode(textCode),
	)
}

func ensureErrorEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if err.Code == 0 {
		err.Code = httpStatus(err.Category)
	}
	if strings.TrimSpace(err.TextCode) == "" {
		err.TextCode = defaultTextCode(err.Category)
	}
	if err.Category == goerrors.CategoryInternal && strings.TrimSpace(err.Message) == "" {
		err.Message = "An unexpected error occurred"
	}
	return err
}

func defaultTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryValidation:
		return ErrorValidation
	case goerrors.CategoryBadInput:
		return ErrorBadInput
	case goerrors.CategoryNotFound:
		return ErrorNotFound
	case goerrors.CategoryConflict:
		return ErrorConflict
	case goerrors.CategoryExternal:
		return ErrorExternal
	default:
		return ErrorInternal
	}
}

func httpStatus(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return http.StatusBadRequest
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryConflict:
		return http.StatusConflict
	case goerrors.CategoryExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
