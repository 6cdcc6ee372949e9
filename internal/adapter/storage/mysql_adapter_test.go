package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/flashmart/flash-sale/internal/adapter/metrics"
	"github.com/flashmart/flash-sale/internal/core/domain"
	"github.com/flashmart/flash-sale/internal/port"
)

func getTestAdapter(t *testing.T) *MySQLAdapter {
	dsn := os.Getenv("MYSQL_DSN")
	if dsn == "" {
		dsn = "root:root@tcp(localhost:3306)/flashsale?parseTime=true"
	}
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		t.Skipf("MySQL not available: %v", err)
	}
	if err := db.Ping(); err != nil {
		t.Skipf("MySQL not available: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewMySQLAdapter(db, &metrics.Noop{}, zap.NewNop())
}

func seedProduct(t *testing.T, m *MySQLAdapter, stock int) domain.Product {
	now := time.Now().Truncate(time.Second)
	p := domain.Product{
		ID:              uuid.NewString(),
		Name:            fmt.Sprintf("gadget-%s", t.Name()),
		Price:           decimal.NewFromFloat(499.99),
		InitialStock:    stock,
		CurrentStock:    stock,
		FlashSaleActive: true,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	require.NoError(t, m.CreateProduct(context.Background(), p))
	t.Cleanup(func() {
		m.db.Exec(`DELETE FROM orders WHERE product_id = ?`, p.ID)
		m.db.Exec(`DELETE FROM products WHERE id = ?`, p.ID)
	})
	return p
}

func seedOrder(t *testing.T, m *MySQLAdapter, productID string, quantity int) domain.Order {
	now := time.Now().Truncate(time.Second)
	o := domain.Order{
		ID:        uuid.NewString(),
		ProductID: productID,
		UserID:    "u1",
		Quantity:  quantity,
		Status:    domain.OrderStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, m.CreateOrder(context.Background(), o))
	return o
}

func TestProductRoundtrip(t *testing.T) {
	m := getTestAdapter(t)
	ctx := context.Background()

	want := seedProduct(t, m, 100)

	got, err := m.GetProduct(ctx, want.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, want.ID, got.ID)
	assert.Equal(t, want.Name, got.Name)
	assert.True(t, want.Price.Equal(got.Price), "price must survive the roundtrip")
	assert.Equal(t, 100, got.CurrentStock)
	assert.True(t, got.FlashSaleActive)

	missing, err := m.GetProduct(ctx, "no-such-product")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestReserve_DecrementsStock(t *testing.T) {
	m := getTestAdapter(t)
	ctx := context.Background()
	p := seedProduct(t, m, 10)

	ok, err := m.Reserve(ctx, p.ID, 4)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := m.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 6, got.CurrentStock)
}

func TestReserve_InsufficientStock(t *testing.T) {
	m := getTestAdapter(t)
	ctx := context.Background()
	p := seedProduct(t, m, 3)

	ok, err := m.Reserve(ctx, p.ID, 5)
	require.NoError(t, err)
	assert.False(t, ok, "reserve must refuse when stock is short")

	got, err := m.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.CurrentStock, "a refused reserve must not touch stock")
}

func TestReserve_ConcurrentNeverOversells(t *testing.T) {
	m := getTestAdapter(t)
	ctx := context.Background()
	p := seedProduct(t, m, 10)

	var wg sync.WaitGroup
	var mu sync.Mutex
	var granted int
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := m.Reserve(ctx, p.ID, 1)
			if err != nil {
				t.Errorf("reserve failed: %v", err)
				return
			}
			if ok {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, granted, "exactly the available units may be granted")

	got, err := m.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.CurrentStock)
}

func TestRelease_RestoresStock(t *testing.T) {
	m := getTestAdapter(t)
	ctx := context.Background()
	p := seedProduct(t, m, 10)

	ok, err := m.Reserve(ctx, p.ID, 4)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = m.Release(ctx, p.ID, 4)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := m.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 10, got.CurrentStock)
}

func TestOrderLifecycle(t *testing.T) {
	m := getTestAdapter(t)
	ctx := context.Background()
	p := seedProduct(t, m, 5)
	o := seedOrder(t, m, p.ID, 2)

	got, err := m.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, domain.OrderStatusPending, got.Status)
	assert.Nil(t, got.ReservedAt)
	assert.Nil(t, got.ExpiresAt)

	require.NoError(t, m.SetOrderJobID(ctx, o.ID, "job-42"))
	require.NoError(t, m.UpdateOrderStatus(ctx, o.ID, domain.OrderStatusProcessing))

	got, err = m.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, "job-42", got.JobID)
	assert.Equal(t, domain.OrderStatusProcessing, got.Status)

	orders, err := m.ListUserOrders(ctx, "u1")
	require.NoError(t, err)
	require.NotEmpty(t, orders)

	missing, err := m.GetOrder(ctx, "no-such-order")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestInTx_ConfirmOrder(t *testing.T) {
	m := getTestAdapter(t)
	ctx := context.Background()
	p := seedProduct(t, m, 5)
	o := seedOrder(t, m, p.ID, 2)

	reservedAt := time.Now().Truncate(time.Second)
	expiresAt := reservedAt.Add(domain.CompletionWindow)

	err := m.InTx(ctx, func(tx port.ReservationTx) error {
		if err := tx.UpdateOrderStatus(ctx, o.ID, domain.OrderStatusProcessing); err != nil {
			return err
		}
		ok, err := tx.Reserve(ctx, p.ID, 2)
		if err != nil {
			return err
		}
		if !ok {
			return errors.New("unexpected reserve refusal")
		}
		return tx.ConfirmOrder(ctx, o.ID, reservedAt, expiresAt)
	})
	require.NoError(t, err)

	got, err := m.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusConfirmed, got.Status)
	require.NotNil(t, got.ReservedAt)
	require.NotNil(t, got.ExpiresAt)
	assert.Equal(t, domain.CompletionWindow, got.ExpiresAt.Sub(*got.ReservedAt))

	product, err := m.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, product.CurrentStock)
}

func TestInTx_RollbackRestoresStock(t *testing.T) {
	m := getTestAdapter(t)
	ctx := context.Background()
	p := seedProduct(t, m, 5)
	o := seedOrder(t, m, p.ID, 2)

	failure := errors.New("simulated failure after reserve")
	err := m.InTx(ctx, func(tx port.ReservationTx) error {
		ok, err := tx.Reserve(ctx, p.ID, 2)
		if err != nil {
			return err
		}
		if !ok {
			return errors.New("unexpected reserve refusal")
		}
		return failure
	})
	require.ErrorIs(t, err, failure)

	// The decrement happened inside the transaction only; the rollback must
	// leave stock and order untouched.
	product, err := m.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, product.CurrentStock)

	got, err := m.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPending, got.Status)
}

func TestCountOrdersByStatus(t *testing.T) {
	m := getTestAdapter(t)
	ctx := context.Background()
	p := seedProduct(t, m, 5)

	o1 := seedOrder(t, m, p.ID, 1)
	o2 := seedOrder(t, m, p.ID, 1)
	seedOrder(t, m, p.ID, 1)
	require.NoError(t, m.UpdateOrderStatus(ctx, o1.ID, domain.OrderStatusConfirmed))
	require.NoError(t, m.UpdateOrderStatus(ctx, o2.ID, domain.OrderStatusFailed))

	counts, err := m.CountOrdersByStatus(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, counts[domain.OrderStatusConfirmed], 1)
	assert.GreaterOrEqual(t, counts[domain.OrderStatusFailed], 1)
	assert.GreaterOrEqual(t, counts[domain.OrderStatusPending], 1)
}
