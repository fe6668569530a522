package storage

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/rl1809/escrow-market/internal/core/domain"
)

const idempotencyPruneInterval = time.Minute

// MemoryAdapter keeps the whole market in process memory. All mutations happen under
// one mutex, which is never held while control leaves the adapter.
type MemoryAdapter struct {
	mu       sync.RWMutex
	lastID   domain.ItemID
	items    map[domain.ItemID]domain.Item
	index    []domain.ItemID
	owners   map[domain.ItemID]domain.Address
	proceeds map[domain.Address]uint64
	idem      map[string]time.Time
	idemTTL   time.Duration
	lastPrune time.Time
	now      func() time.Time
}

func NewMemoryAdapter() *MemoryAdapter {
	return &MemoryAdapter{
		items:    make(map[domain.ItemID]domain.Item),
		owners:   make(map[domain.ItemID]domain.Address),
		proceeds: make(map[domain.Address]uint64),
		idem:     make(map[string]time.Time),
		idemTTL:  idempotencyKeyTTL,
		now:      time.Now,
	}
}

func (m *MemoryAdapter) CreateItem(ctx context.Context, listing domain.Listing) (domain.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lastID++
	item := domain.Item{
		ID:       m.lastID,
		Name:     listing.Name,
		Price:    listing.Price,
		Seller:   listing.Seller,
		ListedAt: listing.ListedAt,
	}
	m.items[item.ID] = item
	m.index = append(m.index, item.ID)
	return item, nil
}

func (m *MemoryAdapter) GetItem(ctx context.Context, id domain.ItemID) (domain.Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	item, ok := m.items[id]
	if !ok {
		return domain.Item{}, domain.ErrNotFound
	}
	return cloneItem(item), nil
}

func (m *MemoryAdapter) CountItems(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.index), nil
}

func (m *MemoryAdapter) ListItemIDs(ctx context.Context) ([]domain.ItemID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]domain.ItemID, len(m.index))
	copy(ids, m.index)
	return ids, nil
}

func (m *MemoryAdapter) RecordSale(ctx context.Context, sale domain.Sale) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	item, ok := m.items[sale.ItemID]
	if !ok {
		return domain.ErrNotFound
	}
	if item.Sold {
		return domain.ErrAlreadySold
	}
	balance := m.proceeds[item.Seller]
	if sale.Price > math.MaxUint64-balance {
		return domain.ErrBalanceOverflow
	}

	soldAt := sale.SoldAt
	item.Sold = true
	item.SoldAt = &soldAt
	m.items[item.ID] = item
	m.owners[item.ID] = sale.Buyer
	m.proceeds[item.Seller] = balance + sale.Price
	return nil
}

func (m *MemoryAdapter) OwnerOf(ctx context.Context, id domain.ItemID) (domain.Address, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.items[id]; !ok {
		return "", domain.ErrNotFound
	}
	owner, ok := m.owners[id]
	if !ok {
		return "", domain.ErrNotSold
	}
	return owner, nil
}

func (m *MemoryAdapter) ProceedsOf(ctx context.Context, seller domain.Address) (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.proceeds[seller], nil
}

func (m *MemoryAdapter) TotalProceeds(ctx context.Context) (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var total uint64
	for _, balance := range m.proceeds {
		if balance > math.MaxUint64-total {
			return 0, domain.ErrBalanceOverflow
		}
		total += balance
	}
	return total, nil
}

func (m *MemoryAdapter) TakeProceeds(ctx context.Context, seller domain.Address) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	amount := m.proceeds[seller]
	if amount > 0 {
		m.proceeds[seller] = 0
	}
	return amount, nil
}

func (m *MemoryAdapter) SetIdempotency(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if now.Sub(m.lastPrune) >= idempotencyPruneInterval {
		for k, expiresAt := range m.idem {
			if !now.Before(expiresAt) {
				delete(m.idem, k)
			}
		}
		m.lastPrune = now
	}

	if expiresAt, ok := m.idem[key]; ok && now.Before(expiresAt) {
		return false, nil
	}
	m.idem[key] = now.Add(m.idemTTL)
	return true, nil
}

func (m *MemoryAdapter) ReleaseIdempotency(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.idem, key)
	return nil
}

func cloneItem(item domain.Item) domain.Item {
	if item.SoldAt != nil {
		soldAt := *item.SoldAt
		item.SoldAt = &soldAt
	}
	return item
}
