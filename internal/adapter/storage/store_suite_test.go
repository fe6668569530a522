package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/escrow-market/internal/core/domain"
	"github.com/rl1809/escrow-market/internal/port"
)

func newListing(t *testing.T, name string, price uint64, seller domain.Address) domain.Listing {
	t.Helper()
	listing, err := domain.NewListing(name, price, seller, time.Now().UTC().Truncate(time.Microsecond))
	require.NoError(t, err)
	return listing
}

// runStoreSuite checks the behavior every MarketStore must share. The store must be
// empty when the suite starts.
func runStoreSuite(t *testing.T, store port.MarketStore) {
	ctx := context.Background()

	t.Run("create and get", func(t *testing.T) {
		item, err := store.CreateItem(ctx, newListing(t, "Widget", 100, "alice"))
		require.NoError(t, err)
		require.NotZero(t, item.ID)

		got, err := store.GetItem(ctx, item.ID)
		require.NoError(t, err)
		assert.Equal(t, "Widget", got.Name)
		assert.Equal(t, uint64(100), got.Price)
		assert.Equal(t, domain.Address("alice"), got.Seller)
		assert.False(t, got.Sold)
		assert.Nil(t, got.SoldAt)

		_, err = store.GetItem(ctx, item.ID+1000)
		assert.True(t, errors.Is(err, domain.ErrNotFound))
	})

	t.Run("ids increase in insertion order", func(t *testing.T) {
		before, err := store.ListItemIDs(ctx)
		require.NoError(t, err)

		var created []domain.ItemID
		for i := 0; i < 3; i++ {
			item, err := store.CreateItem(ctx, newListing(t, fmt.Sprintf("item-%d", i), 10, "alice"))
			require.NoError(t, err)
			created = append(created, item.ID)
		}

		ids, err := store.ListItemIDs(ctx)
		require.NoError(t, err)
		require.Equal(t, len(before)+3, len(ids))
		assert.Equal(t, created, ids[len(before):])
		for i := 1; i < len(ids); i++ {
			assert.Greater(t, ids[i], ids[i-1])
		}

		n, err := store.CountItems(ctx)
		require.NoError(t, err)
		assert.Equal(t, len(ids), n)
	})

	t.Run("record sale once", func(t *testing.T) {
		item, err := store.CreateItem(ctx, newListing(t, "Gadget", 40, "bob"))
		require.NoError(t, err)

		_, err = store.OwnerOf(ctx, item.ID)
		assert.True(t, errors.Is(err, domain.ErrNotSold))

		sale := domain.Sale{ItemID: item.ID, Buyer: "carol", Seller: "bob", Price: 40, SoldAt: time.Now().UTC()}
		require.NoError(t, store.RecordSale(ctx, sale))

		err = store.RecordSale(ctx, domain.Sale{ItemID: item.ID, Buyer: "dave", Seller: "bob", Price: 40, SoldAt: time.Now().UTC()})
		assert.True(t, errors.Is(err, domain.ErrAlreadySold))

		got, err := store.GetItem(ctx, item.ID)
		require.NoError(t, err)
		assert.True(t, got.Sold)
		assert.NotNil(t, got.SoldAt)

		owner, err := store.OwnerOf(ctx, item.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.Address("carol"), owner)

		balance, err := store.ProceedsOf(ctx, "bob")
		require.NoError(t, err)
		assert.Equal(t, uint64(40), balance)

		_, err = store.OwnerOf(ctx, item.ID+1000)
		assert.True(t, errors.Is(err, domain.ErrNotFound))

		err = store.RecordSale(ctx, domain.Sale{ItemID: item.ID + 1000, Buyer: "dave", Seller: "bob", Price: 1, SoldAt: time.Now().UTC()})
		assert.True(t, errors.Is(err, domain.ErrNotFound))
	})

	t.Run("take proceeds", func(t *testing.T) {
		for i := 0; i < 2; i++ {
			item, err := store.CreateItem(ctx, newListing(t, "Thing", 25, "erin"))
			require.NoError(t, err)
			require.NoError(t, store.RecordSale(ctx, domain.Sale{ItemID: item.ID, Buyer: "frank", Seller: "erin", Price: 25, SoldAt: time.Now().UTC()}))
		}

		amount, err := store.TakeProceeds(ctx, "erin")
		require.NoError(t, err)
		assert.Equal(t, uint64(50), amount)

		amount, err = store.TakeProceeds(ctx, "erin")
		require.NoError(t, err)
		assert.Zero(t, amount)

		amount, err = store.TakeProceeds(ctx, "nobody")
		require.NoError(t, err)
		assert.Zero(t, amount)

		balance, err := store.ProceedsOf(ctx, "erin")
		require.NoError(t, err)
		assert.Zero(t, balance)
	})

	t.Run("total proceeds", func(t *testing.T) {
		before, err := store.TotalProceeds(ctx)
		require.NoError(t, err)

		item, err := store.CreateItem(ctx, newListing(t, "Lamp", 30, "hana"))
		require.NoError(t, err)
		require.NoError(t, store.RecordSale(ctx, domain.Sale{ItemID: item.ID, Buyer: "ivan", Seller: "hana", Price: 30, SoldAt: time.Now().UTC()}))

		total, err := store.TotalProceeds(ctx)
		require.NoError(t, err)
		assert.Equal(t, before+30, total)

		_, err = store.TakeProceeds(ctx, "hana")
		require.NoError(t, err)
		total, err = store.TotalProceeds(ctx)
		require.NoError(t, err)
		assert.Equal(t, before, total)
	})

	t.Run("concurrent sales", func(t *testing.T) {
		item, err := store.CreateItem(ctx, newListing(t, "Rare", 7, "gina"))
		require.NoError(t, err)

		var successCount atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				err := store.RecordSale(ctx, domain.Sale{
					ItemID: item.ID,
					Buyer:  domain.Address(fmt.Sprintf("buyer-%d", i)),
					Seller: "gina",
					Price:  7,
					SoldAt: time.Now().UTC(),
				})
				if err == nil {
					successCount.Add(1)
				} else if !errors.Is(err, domain.ErrAlreadySold) {
					t.Errorf("unexpected error: %v", err)
				}
			}(i)
		}
		wg.Wait()

		assert.Equal(t, int32(1), successCount.Load())
		balance, err := store.ProceedsOf(ctx, "gina")
		require.NoError(t, err)
		assert.Equal(t, uint64(7), balance)
	})
}
