package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rl1809/escrow-market/internal/core/domain"
	"github.com/rl1809/escrow-market/internal/metrics"
	"github.com/rl1809/escrow-market/internal/port"
)

// ItemView is an item together with its owner, empty while unsold.
type ItemView struct {
	domain.Item
	Owner domain.Address
}

type Option func(*MarketplaceService)

func WithLogger(logger *zap.Logger) Option {
	return func(s *MarketplaceService) { s.logger = logger }
}

func WithPublisher(publisher port.EventPublisher) Option {
	return func(s *MarketplaceService) { s.publisher = publisher }
}

func WithIdempotency(store port.IdempotencyStore) Option {
	return func(s *MarketplaceService) { s.idempotency = store }
}

func WithClock(now func() time.Time) Option {
	return func(s *MarketplaceService) { s.now = now }
}

// MarketplaceService is the caller-facing surface of the marketplace.
type MarketplaceService struct {
	registry  *ItemRegistry
	purchases *PurchaseProcessor
	ledger    *ProceedsLedger
	guard     ReentrancyGuard

	idempotency port.IdempotencyStore
	publisher   port.EventPublisher
	logger      *zap.Logger
	now         func() time.Time
}

func NewMarketplaceService(store port.MarketStore, custody port.FundCustody, opts ...Option) *MarketplaceService {
	s := &MarketplaceService{
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.registry = NewItemRegistry(store, s.now)
	s.purchases = NewPurchaseProcessor(store, custody, s.now)
	s.ledger = NewProceedsLedger(store, custody)
	return s
}

func (s *MarketplaceService) List(ctx context.Context, seller domain.Address, name string, price uint64) (domain.Item, error) {
	item, err := s.registry.List(ctx, name, price, seller)
	metrics.Listings.WithLabelValues(metrics.Result(err)).Inc()
	if err != nil {
		return domain.Item{}, err
	}

	s.logger.Info("item listed",
		zap.Uint64("item_id", uint64(item.ID)),
		zap.Uint64("price", item.Price),
		zap.Stringer("seller", item.Seller),
	)
	s.publish(ctx, domain.EventItemListed, domain.ItemListed{
		ItemID: item.ID,
		Name:   item.Name,
		Price:  item.Price,
		Seller: item.Seller,
	})
	return item, nil
}

// Purchase buys item id for buyer with the attached value. A non-empty requestID makes
// the call idempotent: a replay of an accepted request fails with ErrDuplicateRequest.
func (s *MarketplaceService) Purchase(ctx context.Context, requestID string, buyer domain.Address, id domain.ItemID, value uint64) (domain.Sale, error) {
	sale, err := s.purchase(ctx, requestID, buyer, id, value)
	metrics.Purchases.WithLabelValues(metrics.Result(err)).Inc()
	if err != nil {
		s.logger.Debug("purchase rejected",
			zap.Uint64("item_id", uint64(id)),
			zap.Stringer("buyer", buyer),
			zap.Error(err),
		)
		return domain.Sale{}, err
	}

	s.logger.Info("item purchased",
		zap.Uint64("item_id", uint64(sale.ItemID)),
		zap.Stringer("buyer", sale.Buyer),
		zap.Stringer("seller", sale.Seller),
		zap.Uint64("price", sale.Price),
	)
	s.publish(ctx, domain.EventItemPurchased, domain.ItemPurchased{
		ItemID: sale.ItemID,
		Buyer:  sale.Buyer,
		Seller: sale.Seller,
		Price:  sale.Price,
	})
	return sale, nil
}

func (s *MarketplaceService) purchase(ctx context.Context, requestID string, buyer domain.Address, id domain.ItemID, value uint64) (domain.Sale, error) {
	if requestID == "" || s.idempotency == nil {
		return s.purchases.Purchase(ctx, id, buyer, value)
	}

	idempotencyKey := fmt.Sprintf("purchase:%s", requestID)
	ok, err := s.idempotency.SetIdempotency(ctx, idempotencyKey)
	if err != nil {
		return domain.Sale{}, fmt.Errorf("idempotency check failed: %w", err)
	}
	if !ok {
		return domain.Sale{}, domain.ErrDuplicateRequest
	}

	sale, err := s.purchases.Purchase(ctx, id, buyer, value)
	if err != nil {
		if releaseErr := s.idempotency.ReleaseIdempotency(ctx, idempotencyKey); releaseErr != nil {
			s.logger.Warn("release idempotency key",
				zap.String("key", idempotencyKey),
				zap.Error(releaseErr),
			)
		}
		return domain.Sale{}, err
	}
	return sale, nil
}

// Withdraw pays the seller's whole balance out. It is the only operation that moves
// funds out of custody and the only one behind the reentrancy guard.
func (s *MarketplaceService) Withdraw(ctx context.Context, seller domain.Address) (uint64, error) {
	amount, err := s.withdraw(ctx, seller)
	metrics.Withdrawals.WithLabelValues(metrics.Result(err)).Inc()
	if err != nil {
		switch {
		case amount > 0:
			// Balance is already zero at this point and is not restored.
			s.logger.Error("payout failed after balance was cleared",
				zap.Stringer("seller", seller),
				zap.Uint64("amount", amount),
				zap.Error(err),
			)
		case errors.Is(err, domain.ErrCustodyShortfall):
			s.logger.Error("payout refused, custody holds less than the balance",
				zap.Stringer("seller", seller),
				zap.Error(err),
			)
		}
		return 0, err
	}

	metrics.WithdrawnAmount.Add(float64(amount))
	s.logger.Info("proceeds withdrawn",
		zap.Stringer("seller", seller),
		zap.Uint64("amount", amount),
	)
	s.publish(ctx, domain.EventWithdrawn, domain.Withdrawn{Seller: seller, Amount: amount})
	return amount, nil
}

func (s *MarketplaceService) withdraw(ctx context.Context, seller domain.Address) (uint64, error) {
	release, err := s.guard.Enter()
	if err != nil {
		return 0, err
	}
	defer release()

	return s.ledger.Payout(ctx, seller)
}

func (s *MarketplaceService) GetItem(ctx context.Context, id domain.ItemID) (ItemView, error) {
	item, err := s.registry.Get(ctx, id)
	if err != nil {
		return ItemView{}, err
	}
	view := ItemView{Item: item}
	if item.Sold {
		owner, err := s.registry.OwnerOf(ctx, id)
		if err != nil {
			return ItemView{}, err
		}
		view.Owner = owner
	}
	return view, nil
}

func (s *MarketplaceService) OwnerOf(ctx context.Context, id domain.ItemID) (domain.Address, error) {
	return s.registry.OwnerOf(ctx, id)
}

func (s *MarketplaceService) TotalItems(ctx context.Context) (int, error) {
	return s.registry.Count(ctx)
}

func (s *MarketplaceService) ListIDs(ctx context.Context) ([]domain.ItemID, error) {
	return s.registry.ListIDs(ctx)
}

func (s *MarketplaceService) ProceedsOf(ctx context.Context, seller domain.Address) (uint64, error) {
	return s.ledger.BalanceOf(ctx, seller)
}

func (s *MarketplaceService) publish(ctx context.Context, eventType domain.EventType, payload any) {
	if s.publisher == nil {
		return
	}
	s.publisher.Publish(ctx, domain.Envelope{
		ID:         uuid.NewString(),
		Type:       eventType,
		OccurredAt: s.now().UTC(),
		Payload:    payload,
	})
}
