package port

import (
	"context"

	"github.com/rl1809/escrow-market/internal/core/domain"
)

// MarketStore is the single state handle shared by the registry, the purchase flow
// and the proceeds ledger. Implementations serialize their own mutations.
type MarketStore interface {
	// CreateItem allocates the next item id and stores the listing as unsold
	CreateItem(ctx context.Context, listing domain.Listing) (domain.Item, error)

	// GetItem returns domain.ErrNotFound when the id was never issued
	GetItem(ctx context.Context, id domain.ItemID) (domain.Item, error)

	CountItems(ctx context.Context) (int, error)

	// ListItemIDs returns every issued id in insertion order
	ListItemIDs(ctx context.Context) ([]domain.ItemID, error)

	// RecordSale marks the item sold, records the buyer and credits the seller in one
	// step. It returns domain.ErrAlreadySold if the item is no longer unsold.
	RecordSale(ctx context.Context, sale domain.Sale) error

	// OwnerOf returns domain.ErrNotSold for an unsold item
	OwnerOf(ctx context.Context, id domain.ItemID) (domain.Address, error)

	ProceedsOf(ctx context.Context, seller domain.Address) (uint64, error)

	// TotalProceeds sums every unpaid seller balance
	TotalProceeds(ctx context.Context) (uint64, error)

	// TakeProceeds atomically reads the seller balance and resets it to zero
	TakeProceeds(ctx context.Context, seller domain.Address) (uint64, error)
}

// EventRepository persists delivered notifications.
type EventRepository interface {
	SaveEvent(ctx context.Context, event domain.Envelope) error
}
