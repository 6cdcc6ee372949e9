package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Product is the unit of inventory contended over during a flash sale.
// CurrentStock is only ever mutated through the inventory store's conditional
// decrement and increment; 0 <= CurrentStock <= InitialStock holds at all times.
type Product struct {
	ID              string
	Name            string
	Price           decimal.Decimal
	InitialStock    int
	CurrentStock    int
	FlashSaleActive bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// ProductLockKey builds the lock resource key shared by the admission phase and
// the confirm phase of the reservation protocol.
func ProductLockKey(productID string) string {
	return fmt.Sprintf("lock:product:%s", productID)
}
