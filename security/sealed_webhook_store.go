package security

import (
	"context"
	"fmt"

	"github.com/goliatone/go-ingest/core"
)

// SealedWebhookStore encrypts subscription secrets on write and decrypts
// them on read. Values written before sealing was enabled are returned as
// stored and sealed on their next update.
type SealedWebhookStore struct {
	next   core.WebhookStore
	cipher Cipher
}

func NewSealedWebhookStore(next core.WebhookStore, cipher Cipher) (*SealedWebhookStore, error) {
	switch {
	case next == nil:
		return nil, fmt.Errorf("security: webhook store is required")
	case cipher == nil:
		return nil, fmt.Errorf("security: cipher is required")
	}
	return &SealedWebhookStore{next: next, cipher: cipher}, nil
}

func (s *SealedWebhookStore) Create(ctx context.Context, sub core.WebhookSubscription) (core.WebhookSubscription, error) {
	sealed, err := s.seal(ctx, sub)
	if err != nil {
		return core.WebhookSubscription{}, err
	}
	created, err := s.next.Create(ctx, sealed)
	if err != nil {
		return core.WebhookSubscription{}, err
	}
	return s.open(ctx, created)
}

func (s *SealedWebhookStore) Get(ctx context.Context, id string) (core.WebhookSubscription, error) {
	sub, err := s.next.Get(ctx, id)
	if err != nil {
		return core.WebhookSubscription{}, err
	}
	return s.open(ctx, sub)
}

func (s *SealedWebhookStore) List(ctx context.Context) ([]core.WebhookSubscription, error) {
	subs, err := s.next.List(ctx)
	if err != nil {
		return nil, err
	}
	return s.openAll(ctx, subs)
}

func (s *SealedWebhookStore) Update(ctx context.Context, sub core.WebhookSubscription) (core.WebhookSubscription, error) {
	sealed, err := s.seal(ctx, sub)
	if err != nil {
		return core.WebhookSubscription{}, err
	}
	updated, err := s.next.Update(ctx, sealed)
	if err != nil {
		return core.WebhookSubscription{}, err
	}
	return s.open(ctx, updated)
}

func (s *SealedWebhookStore) Delete(ctx context.Context, id string) error {
	return s.next.Delete(ctx, id)
}

func (s *SealedWebhookStore) ListEnabledForEvent(ctx context.Context, event core.EventType) ([]core.WebhookSubscription, error) {
	subs, err := s.next.ListEnabledForEvent(ctx, event)
	if err != nil {
		return nil, err
	}
	return s.openAll(ctx, subs)
}

func (s *SealedWebhookStore) seal(ctx context.Context, sub core.WebhookSubscription) (core.WebhookSubscription, error) {
	if sub.Secret == "" || IsSealed(sub.Secret) {
		return sub, nil
	}
	sealed, err := s.cipher.Encrypt(ctx, []byte(sub.Secret))
	if err != nil {
		return core.WebhookSubscription{}, fmt.Errorf("security: seal webhook secret: %w", err)
	}
	sub.Secret = string(sealed)
	return sub, nil
}

func (s *SealedWebhookStore) open(ctx context.Context, sub core.WebhookSubscription) (core.WebhookSubscription, error) {
	if !IsSealed(sub.Secret) {
		return sub, nil
	}
	plaintext, err := s.cipher.Decrypt(ctx, []byte(sub.Secret))
	if err != nil {
		return core.WebhookSubscription{}, fmt.Errorf("security: open webhook %s secret: %w", sub.ID, err)
	}
	sub.Secret = string(plaintext)
	return sub, nil
}

func (s *SealedWebhookStore) openAll(ctx context.Context, subs []core.WebhookSubscription) ([]core.WebhookSubscription, error) {
	out := make([]core.WebhookSubscription, 0, len(subs))
	for _, sub := range subs {
		opened, err := s.open(ctx, sub)
		if err != nil {
			return nil, err
		}
		out = append(out, opened)
	}
	return out, nil
}

var _ core.WebhookStore = (*SealedWebhookStore)(nil)
