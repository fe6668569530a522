package service

import (
	"context"
	"fmt"

	"github.com/rl1809/escrow-market/internal/core/domain"
	"github.com/rl1809/escrow-market/internal/port"
)

// ProceedsLedger pays sellers what they are owed, on request.
type ProceedsLedger struct {
	store   port.MarketStore
	custody port.FundCustody
}

func NewProceedsLedger(store port.MarketStore, custody port.FundCustody) *ProceedsLedger {
	return &ProceedsLedger{store: store, custody: custody}
}

func (l *ProceedsLedger) BalanceOf(ctx context.Context, seller domain.Address) (uint64, error) {
	amount, err := l.store.ProceedsOf(ctx, seller)
	if err != nil {
		return 0, fmt.Errorf("proceeds of: %w", err)
	}
	return amount, nil
}

// Payout zeroes the seller balance and only then transfers it. A call that re-enters
// Payout from inside the transfer sees a zero balance and gets ErrNothingToWithdraw.
//
// If custody holds less than the balance the payout fails with ErrWithdrawFailed
// wrapping ErrCustodyShortfall and the balance is left untouched.
//
// A failed transfer is reported as ErrWithdrawFailed and the balance stays at zero.
// Restoring it would reopen the window for repeated payouts; re-crediting is an
// out-of-band remedy.
func (l *ProceedsLedger) Payout(ctx context.Context, seller domain.Address) (uint64, error) {
	if seller == "" {
		return 0, domain.ErrInvalidAddress
	}

	// A shortfall in custody must be caught before the balance is cleared.
	balance, err := l.store.ProceedsOf(ctx, seller)
	if err != nil {
		return 0, fmt.Errorf("proceeds of: %w", err)
	}
	if balance == 0 {
		return 0, domain.ErrNothingToWithdraw
	}
	if available := l.custody.Available(); available < balance {
		return 0, fmt.Errorf("%w: %w: owed %d, held %d", domain.ErrWithdrawFailed, domain.ErrCustodyShortfall, balance, available)
	}

	amount, err := l.store.TakeProceeds(ctx, seller)
	if err != nil {
		return 0, fmt.Errorf("take proceeds: %w", err)
	}
	if amount == 0 {
		return 0, domain.ErrNothingToWithdraw
	}

	if err := l.custody.Transfer(ctx, seller, amount); err != nil {
		return amount, fmt.Errorf("%w: %w", domain.ErrWithdrawFailed, err)
	}
	return amount, nil
}
