package domain

import (
	"math"
	"strings"
	"time"
)

// MaxPrice is the largest listing price every store backend can hold losslessly.
const MaxPrice = math.MaxInt64

// ItemID identifies a listed item. Zero is never issued and means "does not exist".
type ItemID uint64

// Address identifies a participant: a seller, a buyer or a payee.
type Address string

// NewAddress normalizes raw into an Address. It returns ErrInvalidAddress when nothing
// is left after trimming.
func NewAddress(raw string) (Address, error) {
	addr := Address(strings.ToLower(strings.TrimSpace(raw)))
	if addr == "" {
		return "", ErrInvalidAddress
	}
	return addr, nil
}

func (a Address) String() string { return string(a) }

type Item struct {
	ID       ItemID
	Name     string
	Price    uint64 // smallest currency unit
	Seller   Address
	Sold     bool
	ListedAt time.Time
	SoldAt   *time.Time
}

// Listing is a validated request to put an item up for sale.
type Listing struct {
	Name     string
	Price    uint64
	Seller   Address
	ListedAt time.Time
}

// NewListing validates the listing inputs. Validation happens before any id is
// allocated, so a rejected listing never consumes an id.
func NewListing(name string, price uint64, seller Address, now time.Time) (Listing, error) {
	name = strings.TrimSpace(name)
	if price == 0 || price > MaxPrice {
		return Listing{}, ErrInvalidPrice
	}
	if name == "" {
		return Listing{}, ErrInvalidName
	}
	if seller == "" {
		return Listing{}, ErrInvalidAddress
	}
	return Listing{Name: name, Price: price, Seller: seller, ListedAt: now}, nil
}

// Sale is the set of mutations a successful purchase applies in one step: the item
// flips to sold, the buyer is recorded as owner and the seller is credited.
type Sale struct {
	ItemID ItemID
	Buyer  Address
	Seller Address
	Price  uint64
	SoldAt time.Time
}
