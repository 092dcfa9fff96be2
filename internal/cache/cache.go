package cache

import (
	"context"
	"time"

	"pharmapos/backend/internal/domain"
)

// ReceiptCache remembers the sale created for an idempotency key so a
// retried checkout can be answered without opening a transaction. The
// store's unique key stays authoritative; the cache is only a shortcut.
type ReceiptCache interface {
	Get(ctx context.Context, idempotencyKey string) (*domain.Sale, bool, error)
	Set(ctx context.Context, idempotencyKey string, sale *domain.Sale, ttl time.Duration) error
}

type NoopReceiptCache struct{}

func (NoopReceiptCache) Get(_ context.Context, _ string) (*domain.Sale, bool, error) {
	return nil, false, nil
}

func (NoopReceiptCache) Set(_ context.Context, _ string, _ *domain.Sale, _ time.Duration) error {
	return nil
}
