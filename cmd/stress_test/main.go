package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/flashmart/flash-sale/internal/adapter/lock"
	"github.com/flashmart/flash-sale/internal/adapter/metrics"
	"github.com/flashmart/flash-sale/internal/adapter/queue"
	"github.com/flashmart/flash-sale/internal/adapter/storage"
	"github.com/flashmart/flash-sale/internal/core/domain"
	"github.com/flashmart/flash-sale/internal/core/service"
)

const (
	mysqlDSN      = "root:root@tcp(localhost:3306)/flashsale?parseTime=true"
	redisAddr     = "localhost:6379"
	initialStock  = 20
	totalRequests = 50
	workerCount   = 4
	settleTimeout = 60 * time.Second
)

func main() {
	ctx := context.Background()
	logger := zap.NewNop()

	db, err := sql.Open("mysql", mysqlDSN)
	if err != nil {
		log.Fatalf("failed to open mysql: %v", err)
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		log.Fatalf("failed to connect mysql: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatalf("failed to connect redis: %v", err)
	}
	defer rdb.Close()

	// Wire the full pipeline against a throwaway product and queue.
	store := storage.NewMySQLAdapter(db, &metrics.Noop{}, logger)
	locks := lock.NewQuorumLock([]*redis.Client{rdb}, logger,
		lock.WithRetry(5, 20*time.Millisecond, 20*time.Millisecond))
	queueName := fmt.Sprintf("stress-%d", time.Now().UnixNano())
	jobs := queue.NewRedisQueue(rdb, queueName, logger,
		queue.WithPollTimeout(200*time.Millisecond))
	defer func() {
		keys, _ := rdb.Keys(ctx, queueName+":*").Result()
		if len(keys) > 0 {
			rdb.Del(ctx, keys...)
		}
	}()

	admission := service.NewAdmissionService(store, store, locks, jobs, &metrics.Noop{}, logger)
	worker := service.NewReservationWorker(jobs, locks, store, store, &metrics.Noop{}, logger)

	now := time.Now()
	product := domain.Product{
		ID:              uuid.NewString(),
		Name:            "stress-test-item",
		Price:           decimal.NewFromFloat(99.99),
		InitialStock:    initialStock,
		CurrentStock:    initialStock,
		FlashSaleActive: true,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := store.CreateProduct(ctx, product); err != nil {
		log.Fatalf("failed to seed product: %v", err)
	}
	defer func() {
		db.Exec(`DELETE FROM orders WHERE product_id = ?`, product.ID)
		db.Exec(`DELETE FROM products WHERE id = ?`, product.ID)
	}()

	// Start the confirm-phase workers.
	workerCtx, stopWorkers := context.WithCancel(ctx)
	var workerWg sync.WaitGroup
	for i := 0; i < workerCount; i++ {
		workerWg.Add(1)
		go func() {
			defer workerWg.Done()
			worker.Run(workerCtx)
		}()
	}

	// Spawn concurrent purchase requests.
	var admittedCount, rejectedCount atomic.Int32
	var mu sync.Mutex
	var orderIDs []string
	var wg sync.WaitGroup
	start := time.Now()

	for i := 0; i < totalRequests; i++ {
		wg.Add(1)
		go func(userID int) {
			defer wg.Done()
			handle, err := admission.PlaceOrder(ctx, service.PlaceOrderInput{
				ProductID: product.ID,
				UserID:    fmt.Sprintf("user-%d", userID),
				Quantity:  1,
			})
			if err != nil {
				if !errors.Is(err, domain.ErrLockUnavailable) && !errors.Is(err, domain.ErrInsufficientStock) {
					log.Printf("unexpected admission error: %v", err)
				}
				rejectedCount.Add(1)
				return
			}
			admittedCount.Add(1)
			mu.Lock()
			orderIDs = append(orderIDs, handle.OrderID)
			mu.Unlock()
		}(i)
	}
	wg.Wait()
	admissionElapsed := time.Since(start)

	// Wait for every admitted order to reach a terminal status.
	if err := waitSettled(ctx, store, orderIDs); err != nil {
		log.Fatalf("pipeline did not settle: %v", err)
	}
	totalElapsed := time.Since(start)
	stopWorkers()
	workerWg.Wait()

	var confirmed, failed int32
	for _, id := range orderIDs {
		order, err := store.GetOrder(ctx, id)
		if err != nil || order == nil {
			log.Fatalf("failed to read order %s: %v", id, err)
		}
		switch order.Status {
		case domain.OrderStatusConfirmed:
			confirmed++
		case domain.OrderStatusFailed:
			failed++
		}
	}

	final, err := store.GetProduct(ctx, product.ID)
	if err != nil || final == nil {
		log.Fatalf("failed to read final stock: %v", err)
	}

	fmt.Println("========== STRESS TEST RESULTS ==========")
	fmt.Printf("Initial Stock:     %d\n", initialStock)
	fmt.Printf("Total Requests:    %d\n", totalRequests)
	fmt.Printf("Admitted:          %d\n", admittedCount.Load())
	fmt.Printf("Rejected:          %d\n", rejectedCount.Load())
	fmt.Printf("Confirmed:         %d\n", confirmed)
	fmt.Printf("Failed:            %d\n", failed)
	fmt.Printf("Admission Time:    %v\n", admissionElapsed)
	fmt.Printf("Total Time:        %v\n", totalElapsed)
	fmt.Printf("Final Stock:       %d\n", final.CurrentStock)
	fmt.Println("==========================================")

	pass := true
	if int(confirmed) > initialStock {
		fmt.Printf("FAIL: Oversold, %d confirmed against %d stock\n", confirmed, initialStock)
		pass = false
	}
	if final.CurrentStock < 0 {
		fmt.Printf("FAIL: Stock went negative: %d\n", final.CurrentStock)
		pass = false
	}
	if final.CurrentStock != initialStock-int(confirmed) {
		fmt.Printf("FAIL: Stock accounting broken, expected %d got %d\n",
			initialStock-int(confirmed), final.CurrentStock)
		pass = false
	}
	if pass {
		fmt.Println("PASS: No oversell, stock accounting exact")
	}
}

func waitSettled(ctx context.Context, store *storage.MySQLAdapter, orderIDs []string) error {
	deadline := time.Now().Add(settleTimeout)
	for time.Now().Before(deadline) {
		settled := true
		for _, id := range orderIDs {
			order, err := store.GetOrder(ctx, id)
			if err != nil {
				return err
			}
			if order == nil || !order.Status.Terminal() {
				settled = false
				break
			}
		}
		if settled {
			return nil
		}
		time.Sleep(200 * time.Millisecond)
	}
	return fmt.Errorf("orders still non-terminal after %v", settleTimeout)
}
