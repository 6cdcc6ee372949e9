package domain

import "time"

type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusConfirmed  OrderStatus = "confirmed"
	OrderStatusFailed     OrderStatus = "failed"
	OrderStatusExpired    OrderStatus = "expired"
)

// CompletionWindow is how long a confirmed reservation stays valid before an
// external sweep may expire it.
const CompletionWindow = 15 * time.Minute

// Terminal reports whether no further transition is allowed out of s by the
// reservation pipeline.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusConfirmed || s == OrderStatusFailed || s == OrderStatusExpired
}

// CanTransitionTo encodes the order lifecycle: pending -> processing ->
// confirmed|failed, pending -> failed (worker could not re-acquire the lock),
// confirmed -> expired (time-based sweep).
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	switch s {
	case OrderStatusPending:
		return next == OrderStatusProcessing || next == OrderStatusFailed
	case OrderStatusProcessing:
		return next == OrderStatusConfirmed || next == OrderStatusFailed
	case OrderStatusConfirmed:
		return next == OrderStatusExpired
	default:
		return false
	}
}

// Order is created in pending state by the admission service; every later
// transition is owned by the reservation worker. Orders are never deleted.
type Order struct {
	ID         string
	ProductID  string
	UserID     string
	Quantity   int
	Status     OrderStatus
	JobID      string
	ReservedAt *time.Time
	ExpiresAt  *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// OrderHandle is returned to the caller immediately after admission; the actual
// reservation outcome is only observable through order/job status queries.
type OrderHandle struct {
	JobID         string
	OrderID       string
	QueuePosition int
	EstimatedWait time.Duration
}

// OrderMetrics aggregates order status counts with queue depth for
// observability endpoints.
type OrderMetrics struct {
	TotalOrders     int
	PendingOrders   int
	ConfirmedOrders int
	FailedOrders    int
	Queue           QueueCounts
}
