package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rl1809/escrow-market/internal/core/domain"
	"github.com/rl1809/escrow-market/internal/port"
)

// ItemRegistry owns the catalog: listing, lookup and enumeration.
type ItemRegistry struct {
	store port.MarketStore
	now   func() time.Time
}

func NewItemRegistry(store port.MarketStore, now func() time.Time) *ItemRegistry {
	if now == nil {
		now = time.Now
	}
	return &ItemRegistry{store: store, now: now}
}

func (r *ItemRegistry) List(ctx context.Context, name string, price uint64, seller domain.Address) (domain.Item, error) {
	listing, err := domain.NewListing(name, price, seller, r.now().UTC())
	if err != nil {
		return domain.Item{}, err
	}

	item, err := r.store.CreateItem(ctx, listing)
	if err != nil {
		return domain.Item{}, fmt.Errorf("create item: %w", err)
	}
	return item, nil
}

func (r *ItemRegistry) Get(ctx context.Context, id domain.ItemID) (domain.Item, error) {
	if id == 0 {
		return domain.Item{}, domain.ErrNotFound
	}
	item, err := r.store.GetItem(ctx, id)
	if err != nil {
		return domain.Item{}, wrapStoreErr("get item", err)
	}
	return item, nil
}

func (r *ItemRegistry) Count(ctx context.Context) (int, error) {
	n, err := r.store.CountItems(ctx)
	if err != nil {
		return 0, fmt.Errorf("count items: %w", err)
	}
	return n, nil
}

func (r *ItemRegistry) ListIDs(ctx context.Context) ([]domain.ItemID, error) {
	ids, err := r.store.ListItemIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list item ids: %w", err)
	}
	return ids, nil
}

func (r *ItemRegistry) OwnerOf(ctx context.Context, id domain.ItemID) (domain.Address, error) {
	if id == 0 {
		return "", domain.ErrNotFound
	}
	owner, err := r.store.OwnerOf(ctx, id)
	if err != nil {
		return "", wrapStoreErr("owner of", err)
	}
	return owner, nil
}

var domainErrors = []error{
	domain.ErrNotFound,
	domain.ErrNotSold,
	domain.ErrAlreadySold,
	domain.ErrBalanceOverflow,
}

// wrapStoreErr passes domain errors through untouched and wraps everything else.
func wrapStoreErr(op string, err error) error {
	for _, target := range domainErrors {
		if errors.Is(err, target) {
			return err
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
