package service

import (
	"context"
	"math"
	"sync"

	"github.com/rl1809/escrow-market/internal/core/domain"
	"github.com/rl1809/escrow-market/internal/port"
)

// Mock IdempotencyStore
type mockIdempotency struct {
	keys     map[string]bool
	released []string
	mu       sync.Mutex
}

func newMockIdempotency() *mockIdempotency {
	return &mockIdempotency{keys: make(map[string]bool)}
}

func (m *mockIdempotency) SetIdempotency(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.keys[key] {
		return false, nil
	}
	m.keys[key] = true
	return true, nil
}

func (m *mockIdempotency) ReleaseIdempotency(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys, key)
	m.released = append(m.released, key)
	return nil
}

// Mock EventPublisher
type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.Envelope
}

func (p *recordingPublisher) Publish(ctx context.Context, event domain.Envelope) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func (p *recordingPublisher) types() []domain.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.EventType, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

// racingStore reports every item as unsold but loses the write, as if another buyer
// committed between the read and the write.
type racingStore struct {
	port.MarketStore
}

func (s racingStore) RecordSale(ctx context.Context, sale domain.Sale) error {
	return domain.ErrAlreadySold
}

// failingCustody never acknowledges a transfer.
type failingCustody struct {
	err error
}

func (c failingCustody) Hold(from domain.Address, amount uint64) {}

func (c failingCustody) Refund(to domain.Address, amount uint64) {}

func (c failingCustody) Available() uint64 { return math.MaxUint64 }

func (c failingCustody) Transfer(ctx context.Context, to domain.Address, amount uint64) error {
	return c.err
}
