package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rl1809/escrow-market/internal/core/domain"
)

const (
	keyPrefix         = "market:"
	itemSeqKey        = keyPrefix + "item:seq"
	itemIndexKey      = keyPrefix + "item:index"
	itemKeyPrefix     = keyPrefix + "item:"
	ownersKey         = keyPrefix + "owners"
	proceedsKey       = keyPrefix + "proceeds"
	idempotencyPrefix = keyPrefix + "idem:"
	EventsChannel     = keyPrefix + "events"
	idempotencyKeyTTL = 24 * time.Hour
)

var createItemScript = redis.NewScript(`
local id = redis.call('INCR', KEYS[1])
local key = ARGV[1] .. id
redis.call('HSET', key, 'name', ARGV[2], 'price', ARGV[3], 'seller', ARGV[4], 'sold', 0, 'listed_at', ARGV[5])
redis.call('RPUSH', KEYS[2], id)
return id
`)

// recordSaleScript returns 1 on success, 0 if the item is already sold and -1 if it
// does not exist.
var recordSaleScript = redis.NewScript(`
local item = KEYS[1]
if redis.call('EXISTS', item) == 0 then
	return -1
end
if redis.call('HGET', item, 'sold') == '1' then
	return 0
end

-- Credit first: an overflowing HINCRBY aborts the script before anything is written.
local seller = redis.call('HGET', item, 'seller')
redis.call('HINCRBY', KEYS[3], seller, ARGV[4])
redis.call('HSET', item, 'sold', 1, 'sold_at', ARGV[3])
redis.call('HSET', KEYS[2], ARGV[1], ARGV[2])
return 1
`)

var takeProceedsScript = redis.NewScript(`
local amount = redis.call('HGET', KEYS[1], ARGV[1])
if not amount then
	return 0
end
redis.call('HSET', KEYS[1], ARGV[1], 0)
return amount
`)

type RedisAdapter struct {
	client *redis.Client
}

func NewRedisAdapter(client *redis.Client) *RedisAdapter {
	return &RedisAdapter{client: client}
}

func itemKey(id domain.ItemID) string {
	return itemKeyPrefix + strconv.FormatUint(uint64(id), 10)
}

func (r *RedisAdapter) CreateItem(ctx context.Context, listing domain.Listing) (domain.Item, error) {
	id, err := createItemScript.Run(ctx, r.client,
		[]string{itemSeqKey, itemIndexKey},
		itemKeyPrefix, listing.Name, listing.Price, string(listing.Seller), listing.ListedAt.UnixNano(),
	).Int64()
	if err != nil {
		return domain.Item{}, err
	}

	return domain.Item{
		ID:       domain.ItemID(id),
		Name:     listing.Name,
		Price:    listing.Price,
		Seller:   listing.Seller,
		ListedAt: listing.ListedAt,
	}, nil
}

func (r *RedisAdapter) GetItem(ctx context.Context, id domain.ItemID) (domain.Item, error) {
	fields, err := r.client.HGetAll(ctx, itemKey(id)).Result()
	if err != nil {
		return domain.Item{}, err
	}
	if len(fields) == 0 {
		return domain.Item{}, domain.ErrNotFound
	}

	price, err := strconv.ParseUint(fields["price"], 10, 64)
	if err != nil {
		return domain.Item{}, fmt.Errorf("parse price of item %d: %w", id, err)
	}
	item := domain.Item{
		ID:       id,
		Name:     fields["name"],
		Price:    price,
		Seller:   domain.Address(fields["seller"]),
		Sold:     fields["sold"] == "1",
		ListedAt: parseUnixNano(fields["listed_at"]),
	}
	if item.Sold {
		soldAt := parseUnixNano(fields["sold_at"])
		item.SoldAt = &soldAt
	}
	return item, nil
}

func (r *RedisAdapter) CountItems(ctx context.Context) (int, error) {
	n, err := r.client.LLen(ctx, itemIndexKey).Result()
	return int(n), err
}

func (r *RedisAdapter) ListItemIDs(ctx context.Context) ([]domain.ItemID, error) {
	raw, err := r.client.LRange(ctx, itemIndexKey, 0, -1).Result()
	if err != nil {
		return nil, err
	}

	ids := make([]domain.ItemID, 0, len(raw))
	for _, s := range raw {
		id, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse item id %q: %w", s, err)
		}
		ids = append(ids, domain.ItemID(id))
	}
	return ids, nil
}

func (r *RedisAdapter) RecordSale(ctx context.Context, sale domain.Sale) error {
	result, err := recordSaleScript.Run(ctx, r.client,
		[]string{itemKey(sale.ItemID), ownersKey, proceedsKey},
		uint64(sale.ItemID), string(sale.Buyer), sale.SoldAt.UnixNano(), sale.Price,
	).Int()
	if err != nil {
		if isOverflow(err) {
			return domain.ErrBalanceOverflow
		}
		return err
	}

	switch result {
	case 1:
		return nil
	case 0:
		return domain.ErrAlreadySold
	default:
		return domain.ErrNotFound
	}
}

func (r *RedisAdapter) OwnerOf(ctx context.Context, id domain.ItemID) (domain.Address, error) {
	owner, err := r.client.HGet(ctx, ownersKey, strconv.FormatUint(uint64(id), 10)).Result()
	if err == nil {
		return domain.Address(owner), nil
	}
	if !errors.Is(err, redis.Nil) {
		return "", err
	}

	exists, err := r.client.Exists(ctx, itemKey(id)).Result()
	if err != nil {
		return "", err
	}
	if exists == 0 {
		return "", domain.ErrNotFound
	}
	return "", domain.ErrNotSold
}

func (r *RedisAdapter) ProceedsOf(ctx context.Context, seller domain.Address) (uint64, error) {
	amount, err := r.client.HGet(ctx, proceedsKey, string(seller)).Uint64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return amount, err
}

func (r *RedisAdapter) TotalProceeds(ctx context.Context) (uint64, error) {
	raw, err := r.client.HVals(ctx, proceedsKey).Result()
	if err != nil {
		return 0, err
	}

	var total uint64
	for _, s := range raw {
		balance, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("parse balance %q: %w", s, err)
		}
		if balance > math.MaxUint64-total {
			return 0, domain.ErrBalanceOverflow
		}
		total += balance
	}
	return total, nil
}

func (r *RedisAdapter) TakeProceeds(ctx context.Context, seller domain.Address) (uint64, error) {
	// The balance comes back as a bulk string so Lua never turns it into a float.
	return takeProceedsScript.Run(ctx, r.client, []string{proceedsKey}, string(seller)).Uint64()
}

func (r *RedisAdapter) SetIdempotency(ctx context.Context, key string) (bool, error) {
	ok, err := r.client.SetNX(ctx, idempotencyPrefix+key, 1, idempotencyKeyTTL).Result()
	if err != nil {
		return false, err
	}

	return ok, nil
}

func (r *RedisAdapter) ReleaseIdempotency(ctx context.Context, key string) error {
	return r.client.Del(ctx, idempotencyPrefix+key).Err()
}

// SaveEvent fans a notification out to subscribers of EventsChannel.
func (r *RedisAdapter) SaveEvent(ctx context.Context, event domain.Envelope) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return r.client.Publish(ctx, EventsChannel, payload).Err()
}

func parseUnixNano(s string) time.Time {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

func isOverflow(err error) bool {
	return strings.Contains(err.Error(), "would overflow")
}
