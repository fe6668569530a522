package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/escrow-market/internal/adapter/custody"
	"github.com/rl1809/escrow-market/internal/adapter/storage"
	"github.com/rl1809/escrow-market/internal/core/domain"
)

func sellOne(t *testing.T, store *storage.MemoryAdapter, vault *custody.Vault, price uint64) {
	t.Helper()
	ctx := context.Background()
	item, err := NewItemRegistry(store, nil).List(ctx, "Widget", price, seller)
	require.NoError(t, err)
	_, err = NewPurchaseProcessor(store, vault, nil).Purchase(ctx, item.ID, buyer, price)
	require.NoError(t, err)
}

// Without the guard in front of it, a nested payout still cannot pay twice because
// the balance is cleared before the transfer starts.
func TestPayout_ReentryObservesZeroBalance(t *testing.T) {
	store := storage.NewMemoryAdapter()
	vault := custody.NewVault(nil)
	ledger := NewProceedsLedger(store, vault)
	ctx := context.Background()
	sellOne(t, store, vault, 100)

	var nested []error
	vault.Register(seller, custody.ReceiverFunc(func(ctx context.Context, amount uint64) error {
		if len(nested) < 3 {
			_, err := ledger.Payout(ctx, seller)
			nested = append(nested, err)
		}
		return nil
	}))

	amount, err := ledger.Payout(ctx, seller)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), amount)

	require.Len(t, nested, 1)
	assert.True(t, errors.Is(nested[0], domain.ErrNothingToWithdraw), "got %v", nested[0])
	assert.Equal(t, uint64(100), vault.Paid(seller))
}

func TestPayout_FailureReportsAmount(t *testing.T) {
	store := storage.NewMemoryAdapter()
	vault := custody.NewVault(nil)
	sellOne(t, store, vault, 75)

	ledger := NewProceedsLedger(store, failingCustody{err: errors.New("declined")})
	amount, err := ledger.Payout(context.Background(), seller)
	assert.True(t, errors.Is(err, domain.ErrWithdrawFailed))
	assert.Equal(t, uint64(75), amount)

	balance, err := ledger.BalanceOf(context.Background(), seller)
	require.NoError(t, err)
	assert.Zero(t, balance)
}

func TestPayout_InvalidSeller(t *testing.T) {
	ledger := NewProceedsLedger(storage.NewMemoryAdapter(), custody.NewVault(nil))
	_, err := ledger.Payout(context.Background(), "")
	assert.True(t, errors.Is(err, domain.ErrInvalidAddress))
}
