package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/rl1809/escrow-market/internal/adapter/custody"
	"github.com/rl1809/escrow-market/internal/adapter/storage"
	"github.com/rl1809/escrow-market/internal/core/domain"
	"github.com/rl1809/escrow-market/internal/core/service"
	"github.com/rl1809/escrow-market/internal/port"
)

const (
	seller        = domain.Address("0xseller")
	itemPrice     = 100
	totalItems    = 20
	totalRequests = 50
	reentryDepth  = 5
)

func main() {
	redisAddr := flag.String("redis", "", "run against Redis at this address instead of memory")
	flag.Parse()

	ctx := context.Background()

	memory := storage.NewMemoryAdapter()
	var store port.MarketStore = memory
	var idempotency port.IdempotencyStore = memory
	if *redisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: *redisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatalf("failed to connect redis: %v", err)
		}
		defer rdb.Close()

		// Clear previous test data
		keys, _ := rdb.Keys(ctx, "market:*").Result()
		if len(keys) > 0 {
			rdb.Del(ctx, keys...)
		}
		redisAdapter := storage.NewRedisAdapter(rdb)
		store = redisAdapter
		idempotency = redisAdapter
	}

	vault := custody.NewVault(zap.NewNop())
	market := service.NewMarketplaceService(store, vault, service.WithIdempotency(idempotency))

	ids := make([]domain.ItemID, 0, totalItems)
	for i := 0; i < totalItems; i++ {
		item, err := market.List(ctx, seller, fmt.Sprintf("item-%d", i), itemPrice)
		if err != nil {
			log.Fatalf("failed to list item: %v", err)
		}
		ids = append(ids, item.ID)
	}

	// Every buyer goes after the same item; each item must sell exactly once.
	var successCount atomic.Int32
	var soldOutCount atomic.Int32
	var otherCount atomic.Int32

	var wg sync.WaitGroup
	start := time.Now()

	for _, id := range ids {
		for i := 0; i < totalRequests; i++ {
			wg.Add(1)
			go func(id domain.ItemID, userID int) {
				defer wg.Done()

				buyer := domain.Address(fmt.Sprintf("0xbuyer-%d", userID))
				_, err := market.Purchase(ctx, uuid.NewString(), buyer, id, itemPrice)
				switch {
				case err == nil:
					successCount.Add(1)
				case errors.Is(err, domain.ErrAlreadySold):
					soldOutCount.Add(1)
				default:
					otherCount.Add(1)
				}
			}(id, i)
		}
	}

	wg.Wait()
	elapsed := time.Since(start)

	// A hostile seller tries to withdraw again from inside the payout.
	var reentryAttempts atomic.Int32
	var reentryRejected atomic.Int32
	vault.Register(seller, custody.ReceiverFunc(func(ctx context.Context, amount uint64) error {
		if reentryAttempts.Add(1) > reentryDepth {
			return nil
		}
		if _, err := market.Withdraw(ctx, seller); errors.Is(err, domain.ErrReentrant) {
			reentryRejected.Add(1)
		}
		return nil
	}))

	withdrawn, withdrawErr := market.Withdraw(ctx, seller)
	_, secondErr := market.Withdraw(ctx, seller)

	// Results
	success := successCount.Load()
	soldOut := soldOutCount.Load()
	expectedProceeds := uint64(totalItems * itemPrice)

	fmt.Println("========== STRESS TEST RESULTS ==========")
	fmt.Printf("Items Listed:       %d\n", totalItems)
	fmt.Printf("Requests per Item:  %d\n", totalRequests)
	fmt.Printf("Successful:         %d\n", success)
	fmt.Printf("Already Sold:       %d\n", soldOut)
	fmt.Printf("Other Errors:       %d\n", otherCount.Load())
	fmt.Printf("Duration:           %v\n", elapsed)
	fmt.Printf("Withdrawn:          %d\n", withdrawn)
	fmt.Printf("Seller Received:    %d\n", vault.Paid(seller))
	fmt.Printf("Vault Held:         %d\n", vault.Held())
	fmt.Println("==========================================")

	// Assertions
	if success == totalItems && soldOut == totalItems*(totalRequests-1) {
		fmt.Printf("PASS: Exactly %d purchases succeeded, %d rejected\n", totalItems, soldOut)
	} else {
		fmt.Printf("FAIL: Expected %d success/%d sold out, got %d/%d\n",
			totalItems, totalItems*(totalRequests-1), success, soldOut)
	}

	if withdrawErr == nil && withdrawn == expectedProceeds && vault.Paid(seller) == expectedProceeds {
		fmt.Println("PASS: Seller was paid exactly once")
	} else {
		fmt.Printf("FAIL: Expected payout %d, got %d (err=%v, received=%d)\n",
			expectedProceeds, withdrawn, withdrawErr, vault.Paid(seller))
	}

	if reentryRejected.Load() == 1 {
		fmt.Println("PASS: Nested withdraw was rejected")
	} else {
		fmt.Printf("FAIL: Expected 1 rejected re-entry, got %d\n", reentryRejected.Load())
	}

	if errors.Is(secondErr, domain.ErrNothingToWithdraw) && vault.Held() == 0 {
		fmt.Println("PASS: Proceeds drained to 0")
	} else {
		fmt.Printf("FAIL: Expected empty ledger, got err=%v held=%d\n", secondErr, vault.Held())
	}
}
