package service

import (
	"sync/atomic"

	"github.com/rl1809/escrow-market/internal/core/domain"
)

// ReentrancyGuard admits one guarded call at a time. A call arriving while the guard
// is held fails immediately with domain.ErrReentrant; nothing waits.
type ReentrancyGuard struct {
	entered atomic.Bool
}

// Enter acquires the guard. The returned release must be deferred by the caller.
func (g *ReentrancyGuard) Enter() (release func(), err error) {
	if !g.entered.CompareAndSwap(false, true) {
		return nil, domain.ErrReentrant
	}
	return func() { g.entered.Store(false) }, nil
}

func (g *ReentrancyGuard) Held() bool {
	return g.entered.Load()
}
