// Package custody holds buyer funds between purchase and withdrawal.
package custody

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/rl1809/escrow-market/internal/core/domain"
)

var (
	ErrInsufficientFunds = errors.New("insufficient funds in custody")
	ErrTransferRejected  = errors.New("transfer rejected by payee")
)

// Receiver is code a payee runs when value reaches it. It is called with no vault
// lock held and may call back into the marketplace. Returning an error rejects the
// transfer.
type Receiver interface {
	Receive(ctx context.Context, amount uint64) error
}

type ReceiverFunc func(ctx context.Context, amount uint64) error

func (f ReceiverFunc) Receive(ctx context.Context, amount uint64) error { return f(ctx, amount) }

// Vault is an accounting escrow: it tracks what it holds and what each payee has
// been paid.
type Vault struct {
	mu        sync.Mutex
	held      uint64
	paid      map[domain.Address]uint64
	deposited map[domain.Address]uint64
	receivers map[domain.Address]Receiver
	logger    *zap.Logger
}

func NewVault(logger *zap.Logger) *Vault {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Vault{
		paid:      make(map[domain.Address]uint64),
		deposited: make(map[domain.Address]uint64),
		receivers: make(map[domain.Address]Receiver),
		logger:    logger,
	}
}

// Register installs r as the receive hook of addr. A nil r removes the hook.
func (v *Vault) Register(addr domain.Address, r Receiver) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if r == nil {
		delete(v.receivers, addr)
		return
	}
	v.receivers[addr] = r
}

func (v *Vault) Hold(from domain.Address, amount uint64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.held += amount
	v.deposited[from] += amount
}

// Refund gives back value held for a purchase that was not recorded.
func (v *Vault) Refund(to domain.Address, amount uint64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.held -= amount
	v.deposited[to] -= amount
}

// Seed adds value already owed to sellers when the vault starts, such as the unpaid
// balances read back from a persistent store.
func (v *Vault) Seed(amount uint64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.held += amount
}

func (v *Vault) Available() uint64 {
	return v.Held()
}

// Transfer moves amount to the payee and then runs the payee's receiver. If the
// receiver rejects the value the move is undone and ErrTransferRejected returned.
func (v *Vault) Transfer(ctx context.Context, to domain.Address, amount uint64) error {
	v.mu.Lock()
	if amount > v.held {
		v.mu.Unlock()
		return ErrInsufficientFunds
	}
	v.held -= amount
	v.paid[to] += amount
	receiver := v.receivers[to]
	v.mu.Unlock()

	if receiver == nil {
		return nil
	}
	if err := receiver.Receive(ctx, amount); err != nil {
		v.mu.Lock()
		v.held += amount
		v.paid[to] -= amount
		v.mu.Unlock()

		v.logger.Warn("payee rejected transfer",
			zap.Stringer("payee", to),
			zap.Uint64("amount", amount),
			zap.Error(err),
		)
		return errors.Join(ErrTransferRejected, err)
	}
	return nil
}

func (v *Vault) Held() uint64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.held
}

func (v *Vault) Paid(addr domain.Address) uint64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.paid[addr]
}

func (v *Vault) Deposited(addr domain.Address) uint64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.deposited[addr]
}
