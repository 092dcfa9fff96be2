package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pharmapos/backend/internal/domain"
	"pharmapos/backend/internal/xid"
)

func TestNoopReceiptCacheNeverHits(t *testing.T) {
	var c ReceiptCache = NoopReceiptCache{}
	require.NoError(t, c.Set(context.Background(), "k", &domain.Sale{ID: 1}, time.Minute))

	sale, ok, err := c.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, sale)
}

func TestReceiptKeyIsNamespaced(t *testing.T) {
	assert.Equal(t, "pharmapos:receipt:abc", receiptKey("abc"))
}

func TestRedisReceiptCacheIntegration(t *testing.T) {
	addr := os.Getenv("PHARMAPOS_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("set PHARMAPOS_TEST_REDIS_ADDR to run redis integration tests")
	}
	ctx := context.Background()

	c := NewRedisReceiptCache(addr, "", 0)
	t.Cleanup(func() { _ = c.Close() })
	require.NoError(t, c.Ping(ctx))

	key := xid.New("test")
	_, ok, err := c.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)

	want := &domain.Sale{ID: 42, CashierID: "cashier", TotalCents: 1075, IdempotencyKey: key}
	require.NoError(t, c.Set(ctx, key, want, time.Minute))

	got, ok, err := c.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, want.ID, got.ID)
	assert.Equal(t, want.TotalCents, got.TotalCents)
}
