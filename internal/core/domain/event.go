package domain

import "time"

type EventType string

const (
	EventItemListed    EventType = "item.listed"
	EventItemPurchased EventType = "item.purchased"
	EventWithdrawn     EventType = "proceeds.withdrawn"
)

// Envelope wraps every marketplace notification.
type Envelope struct {
	ID         string    `json:"id"`
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Payload    any       `json:"payload"`
}

type ItemListed struct {
	ItemID ItemID  `json:"item_id"`
	Name   string  `json:"name"`
	Price  uint64  `json:"price"`
	Seller Address `json:"seller"`
}

type ItemPurchased struct {
	ItemID ItemID  `json:"item_id"`
	Buyer  Address `json:"buyer"`
	Seller Address `json:"seller"`
	Price  uint64  `json:"price"`
}

type Withdrawn struct {
	Seller Address `json:"seller"`
	Amount uint64  `json:"amount"`
}
