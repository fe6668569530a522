package port

import (
	"context"

	"github.com/rl1809/escrow-market/internal/core/domain"
)

// FundCustody holds the value attached to purchases until it is paid out.
type FundCustody interface {
	// Hold takes custody of value paid by a buyer
	Hold(from domain.Address, amount uint64)

	// Refund returns held value to a buyer whose purchase did not go through
	Refund(to domain.Address, amount uint64)

	// Available reports how much value is in custody right now
	Available() uint64

	// Transfer pays amount out to the payee. A nil error means the payee
	// acknowledged the transfer.
	Transfer(ctx context.Context, to domain.Address, amount uint64) error
}

type EventPublisher interface {
	Publish(ctx context.Context, event domain.Envelope)
}
