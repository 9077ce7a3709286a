package sqlstore

import (
	"strings"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
)

// recordHandlers builds repository handlers for records keyed by a string
// uuid column named id. idField returns nil for a nil record.
func recordHandlers[T any](newRecord func() T, idField func(T) *string) repository.ModelHandlers[T] {
	return repository.ModelHandlers[T]{
		NewRecord: newRecord,
		GetID: func(record T) uuid.UUID {
			id := idField(record)
			if id == nil {
				return uuid.Nil
			}
			return parseUUID(*id)
		},
		SetID: func(record T, value uuid.UUID) {
			if id := idField(record); id != nil {
				*id = value.String()
			}
		},
		GetIdentifier: func() string {
			return "id"
		},
		GetIdentifierValue: func(record T) string {
			id := idField(record)
			if id == nil {
				return ""
			}
			return strings.TrimSpace(*id)
		},
	}
}

func jobHandlers() repository.ModelHandlers[*jobRecord] {
	return recordHandlers(
		func() *jobRecord { return &jobRecord{} },
		func(record *jobRecord) *string {
			if record == nil {
				return nil
			}
			return &record.ID
		},
	)
}

func productHandlers() repository.ModelHandlers[*productRecord] {
	return recordHandlers(
		func() *productRecord { return &productRecord{} },
		func(record *productRecord) *string {
			if record == nil {
				return nil
			}
			return &record.ID
		},
	)
}

func webhookSubscriptionHandlers() repository.ModelHandlers[*webhookSubscriptionRecord] {
	return recordHandlers(
		func() *webhookSubscriptionRecord { return &webhookSubscriptionRecord{} },
		func(record *webhookSubscriptionRecord) *string {
			if record == nil {
				return nil
			}
			return &record.ID
		},
	)
}

func webhookDeliveryHandlers() repository.ModelHandlers[*webhookDeliveryRecord] {
	return recordHandlers(
		func() *webhookDeliveryRecord { return &webhookDeliveryRecord{} },
		func(record *webhookDeliveryRecord) *string {
			if record == nil {
				return nil
			}
			return &record.ID
		},
	)
}

func parseUUID(value string) uuid.UUID {
	parsed, err := uuid.Parse(strings.TrimSpace(value))
	if err != nil {
		return uuid.Nil
	}
	return parsed
}

func validUUID(value string) bool {
	_, err := uuid.Parse(strings.TrimSpace(value))
	return err == nil
}
