package service

import (
	"context"
	"time"

	"github.com/rl1809/escrow-market/internal/core/domain"
	"github.com/rl1809/escrow-market/internal/port"
)

// PurchaseProcessor moves an item from listed to sold. Sold is terminal.
type PurchaseProcessor struct {
	store   port.MarketStore
	custody port.FundCustody
	now     func() time.Time
}

func NewPurchaseProcessor(store port.MarketStore, custody port.FundCustody, now func() time.Time) *PurchaseProcessor {
	if now == nil {
		now = time.Now
	}
	return &PurchaseProcessor{store: store, custody: custody, now: now}
}

// Purchase sells item id to buyer for exactly its listed price.
func (p *PurchaseProcessor) Purchase(ctx context.Context, id domain.ItemID, buyer domain.Address, paid uint64) (domain.Sale, error) {
	if buyer == "" {
		return domain.Sale{}, domain.ErrInvalidAddress
	}
	if id == 0 {
		return domain.Sale{}, domain.ErrNotFound
	}

	item, err := p.store.GetItem(ctx, id)
	if err != nil {
		return domain.Sale{}, wrapStoreErr("get item", err)
	}
	if item.Sold {
		return domain.Sale{}, domain.ErrAlreadySold
	}
	if buyer == item.Seller {
		return domain.Sale{}, domain.ErrSelfPurchase
	}
	if paid != item.Price {
		return domain.Sale{}, domain.ErrPaymentMismatch
	}

	sale := domain.Sale{
		ItemID: item.ID,
		Buyer:  buyer,
		Seller: item.Seller,
		Price:  paid,
		SoldAt: p.now().UTC(),
	}

	// Custody holds the value before the seller is credited, so the held total never
	// falls below the sum of the balances.
	p.custody.Hold(buyer, paid)

	// The store re-checks the unsold state, so a buyer that lost a race between the
	// read above and this write gets ErrAlreadySold.
	if err := p.store.RecordSale(ctx, sale); err != nil {
		p.custody.Refund(buyer, paid)
		return domain.Sale{}, wrapStoreErr("record sale", err)
	}
	return sale, nil
}
