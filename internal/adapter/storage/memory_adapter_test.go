package storage

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/escrow-market/internal/core/domain"
)

func TestMemoryAdapter_Store(t *testing.T) {
	runStoreSuite(t, NewMemoryAdapter())
}

func TestMemoryAdapter_FirstIDIsOne(t *testing.T) {
	adapter := NewMemoryAdapter()
	item, err := adapter.CreateItem(context.Background(), newListing(t, "Widget", 1, "alice"))
	require.NoError(t, err)
	assert.Equal(t, domain.ItemID(1), item.ID)
}

func TestMemoryAdapter_BalanceOverflow(t *testing.T) {
	adapter := NewMemoryAdapter()
	ctx := context.Background()

	adapter.proceeds["alice"] = math.MaxUint64 - 5
	item, err := adapter.CreateItem(ctx, newListing(t, "Widget", 10, "alice"))
	require.NoError(t, err)

	err = adapter.RecordSale(ctx, domain.Sale{ItemID: item.ID, Buyer: "bob", Seller: "alice", Price: 10, SoldAt: time.Now()})
	assert.True(t, errors.Is(err, domain.ErrBalanceOverflow))

	got, _ := adapter.GetItem(ctx, item.ID)
	assert.False(t, got.Sold, "failed sale must not mark the item")
}

func TestMemoryAdapter_GetItemReturnsCopy(t *testing.T) {
	adapter := NewMemoryAdapter()
	ctx := context.Background()
	item, _ := adapter.CreateItem(ctx, newListing(t, "Widget", 10, "alice"))
	require.NoError(t, adapter.RecordSale(ctx, domain.Sale{ItemID: item.ID, Buyer: "bob", Seller: "alice", Price: 10, SoldAt: time.Now()}))

	got, _ := adapter.GetItem(ctx, item.ID)
	*got.SoldAt = time.Time{}

	again, _ := adapter.GetItem(ctx, item.ID)
	assert.False(t, again.SoldAt.IsZero())
}

func TestMemoryAdapter_Idempotency(t *testing.T) {
	adapter := NewMemoryAdapter()
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	adapter.now = func() time.Time { return now }

	ok, err := adapter.SetIdempotency(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, _ = adapter.SetIdempotency(ctx, "k")
	assert.False(t, ok)

	require.NoError(t, adapter.ReleaseIdempotency(ctx, "k"))
	ok, _ = adapter.SetIdempotency(ctx, "k")
	assert.True(t, ok)

	now = now.Add(idempotencyKeyTTL + time.Second)
	ok, _ = adapter.SetIdempotency(ctx, "k")
	assert.True(t, ok, "expired key can be reserved again")
}

func TestMemoryAdapter_IdempotencyPrunesExpiredKeys(t *testing.T) {
	adapter := NewMemoryAdapter()
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	adapter.now = func() time.Time { return now }

	for _, key := range []string{"a", "b", "c"} {
		ok, err := adapter.SetIdempotency(ctx, key)
		require.NoError(t, err)
		require.True(t, ok)
	}

	now = now.Add(idempotencyKeyTTL + time.Second)
	ok, err := adapter.SetIdempotency(ctx, "d")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Len(t, adapter.idem, 1)
	assert.Contains(t, adapter.idem, "d")
}

func TestMemoryAdapter_TotalProceeds(t *testing.T) {
	adapter := NewMemoryAdapter()
	adapter.proceeds["alice"] = 40
	adapter.proceeds["bob"] = 2

	total, err := adapter.TotalProceeds(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(42), total)

	adapter.proceeds["carol"] = math.MaxUint64
	_, err = adapter.TotalProceeds(context.Background())
	assert.True(t, errors.Is(err, domain.ErrBalanceOverflow))
}
