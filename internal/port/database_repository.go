package port

import (
	"context"
	"time"

	"github.com/flashmart/flash-sale/internal/core/domain"
)

type ProductRepository interface {
	// GetProduct returns nil without error when the product does not exist.
	GetProduct(ctx context.Context, id string) (*domain.Product, error)

	CreateProduct(ctx context.Context, product domain.Product) error

	ListProducts(ctx context.Context) ([]domain.Product, error)
}

type OrderRepository interface {
	// CreateOrder persists a new order row.
	CreateOrder(ctx context.Context, order domain.Order) error

	// GetOrder returns nil without error when the order does not exist.
	GetOrder(ctx context.Context, id string) (*domain.Order, error)

	ListUserOrders(ctx context.Context, userID string) ([]domain.Order, error)

	// SetOrderJobID correlates the order with its queued reservation job.
	SetOrderJobID(ctx context.Context, orderID, jobID string) error

	UpdateOrderStatus(ctx context.Context, orderID string, status domain.OrderStatus) error

	CountOrdersByStatus(ctx context.Context) (map[domain.OrderStatus]int, error)
}

type InventoryStore interface {
	// Reserve decrements current stock by quantity only if enough remains, as
	// a single conditional write at the storage layer. Returns true iff the
	// decrement was applied.
	Reserve(ctx context.Context, productID string, quantity int) (bool, error)

	// Release unconditionally restores quantity (rollback path). Callers pair
	// it strictly with a prior successful Reserve.
	Release(ctx context.Context, productID string, quantity int) (bool, error)
}

// ReservationStore scopes the confirm phase to a single database transaction.
type ReservationStore interface {
	// InTx runs fn inside one transaction: commit when fn returns nil, roll
	// back otherwise.
	InTx(ctx context.Context, fn func(tx ReservationTx) error) error
}

// ReservationTx is the slice of storage operations the worker performs inside
// its transaction.
type ReservationTx interface {
	UpdateOrderStatus(ctx context.Context, orderID string, status domain.OrderStatus) error
	ConfirmOrder(ctx context.Context, orderID string, reservedAt, expiresAt time.Time) error
	Reserve(ctx context.Context, productID string, quantity int) (bool, error)
	Release(ctx context.Context, productID string, quantity int) (bool, error)
}
