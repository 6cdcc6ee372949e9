package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/flashmart/flash-sale/internal/core/domain"
	"github.com/flashmart/flash-sale/internal/port"
)

const (
	defaultLockTTL    = 10 * time.Second
	defaultWaitPerJob = 2 * time.Second
)

// AdmissionService is the synchronous fast path: it decides whether a purchase
// request is admitted and hands the actual inventory mutation to the
// reservation worker through the queue. The caller gets a tracking handle
// immediately and is never blocked on the reservation outcome.
type AdmissionService struct {
	products   port.ProductRepository
	orders     port.OrderRepository
	locks      port.LockManager
	queue      port.JobQueue
	metrics    port.MetricsRecorder
	logger     *zap.Logger
	lockTTL    time.Duration
	waitPerJob time.Duration
}

type AdmissionOption func(*AdmissionService)

// WithLockTTL overrides the admission lock TTL (also carried in the job for
// the confirm phase).
func WithLockTTL(d time.Duration) AdmissionOption {
	return func(s *AdmissionService) {
		if d > 0 {
			s.lockTTL = d
		}
	}
}

// WithWaitPerJob overrides the per-job estimate used for the advisory wait
// time returned to callers.
func WithWaitPerJob(d time.Duration) AdmissionOption {
	return func(s *AdmissionService) {
		if d > 0 {
			s.waitPerJob = d
		}
	}
}

func NewAdmissionService(
	products port.ProductRepository,
	orders port.OrderRepository,
	locks port.LockManager,
	queue port.JobQueue,
	metrics port.MetricsRecorder,
	logger *zap.Logger,
	opts ...AdmissionOption,
) *AdmissionService {
	s := &AdmissionService{
		products:   products,
		orders:     orders,
		locks:      locks,
		queue:      queue,
		metrics:    metrics,
		logger:     logger,
		lockTTL:    defaultLockTTL,
		waitPerJob: defaultWaitPerJob,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type PlaceOrderInput struct {
	ProductID string
	UserID    string
	Quantity  int
}

// PlaceOrder runs the admission phase: availability checks, a short-lived
// quorum lock around the admission decision, order creation, and job enqueue.
// Lock contention is only incurred by requests that pass the advisory stock
// check, which prunes most doomed requests under a sale spike.
func (s *AdmissionService) PlaceOrder(ctx context.Context, in PlaceOrderInput) (*domain.OrderHandle, error) {
	if in.Quantity < 1 {
		return nil, s.reject(ctx, domain.ErrInvalidQuantity)
	}

	product, err := s.products.GetProduct(ctx, in.ProductID)
	if err != nil {
		return nil, s.reject(ctx, fmt.Errorf("load product: %w", err))
	}
	if product == nil {
		return nil, s.reject(ctx, domain.ErrProductNotFound)
	}
	if !product.FlashSaleActive {
		return nil, s.reject(ctx, domain.ErrSaleNotActive)
	}

	// Advisory fast-fail before taking the lock; the value may be stale, the
	// authoritative check happens under the lock below.
	if product.CurrentStock < in.Quantity {
		return nil, s.reject(ctx, domain.ErrInsufficientStock)
	}

	lockKey := domain.ProductLockKey(in.ProductID)
	lease, err := s.locks.Acquire(ctx, lockKey, s.lockTTL)
	if err != nil {
		return nil, s.reject(ctx, fmt.Errorf("acquire admission lock: %w", err))
	}
	if lease == nil {
		return nil, s.reject(ctx, domain.ErrLockUnavailable)
	}

	fresh, err := s.products.GetProduct(ctx, in.ProductID)
	if err != nil {
		s.releaseLease(ctx, lease)
		return nil, s.reject(ctx, fmt.Errorf("re-read product: %w", err))
	}
	if fresh == nil || fresh.CurrentStock < in.Quantity {
		s.releaseLease(ctx, lease)
		return nil, s.reject(ctx, domain.ErrInsufficientStock)
	}

	now := time.Now()
	order := domain.Order{
		ID:        uuid.NewString(),
		ProductID: in.ProductID,
		UserID:    in.UserID,
		Quantity:  in.Quantity,
		Status:    domain.OrderStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.orders.CreateOrder(ctx, order); err != nil {
		s.releaseLease(ctx, lease)
		return nil, s.reject(ctx, fmt.Errorf("create order: %w", err))
	}

	// The lock's job, serializing the admission decision, is done. The
	// inventory mutation is deferred and independently protected by the
	// worker's lock plus the conditional decrement.
	s.releaseLease(ctx, lease)

	jobID, err := s.queue.Enqueue(ctx, domain.ReservationJob{
		OrderID:    order.ID,
		ProductID:  in.ProductID,
		UserID:     in.UserID,
		Quantity:   in.Quantity,
		LockKey:    lockKey,
		LockTTL:    s.lockTTL,
		EnqueuedAt: now,
	})
	if err != nil {
		return nil, s.reject(ctx, fmt.Errorf("enqueue reservation job: %w", err))
	}

	if err := s.orders.SetOrderJobID(ctx, order.ID, jobID); err != nil {
		return nil, s.reject(ctx, fmt.Errorf("persist job id: %w", err))
	}

	s.metrics.RecordOrderStatus(ctx, domain.OrderStatusPending)
	s.metrics.RecordStockLevel(ctx, in.ProductID, fresh.CurrentStock)

	position, err := s.queue.Position(ctx, jobID)
	if err != nil {
		s.logger.Debug("queue position lookup failed",
			zap.String("job_id", jobID), zap.Error(err))
		position = 0
	}

	s.logger.Info("order admitted",
		zap.String("order_id", order.ID),
		zap.String("product_id", in.ProductID),
		zap.String("job_id", jobID),
		zap.Int("queue_position", position))

	return &domain.OrderHandle{
		JobID:         jobID,
		OrderID:       order.ID,
		QueuePosition: position,
		EstimatedWait: time.Duration(position) * s.waitPerJob,
	}, nil
}

// GetOrder returns the order or domain.ErrOrderNotFound.
func (s *AdmissionService) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	order, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, domain.ErrOrderNotFound
	}
	return order, nil
}

// GetQueueStatus reports the reservation job's queue state and position.
func (s *AdmissionService) GetQueueStatus(ctx context.Context, jobID string) (*domain.JobStatus, error) {
	return s.queue.Status(ctx, jobID)
}

func (s *AdmissionService) ListUserOrders(ctx context.Context, userID string) ([]domain.Order, error) {
	return s.orders.ListUserOrders(ctx, userID)
}

// OrderMetrics aggregates order status counts with queue depth.
func (s *AdmissionService) OrderMetrics(ctx context.Context) (*domain.OrderMetrics, error) {
	counts, err := s.orders.CountOrdersByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("count orders: %w", err)
	}
	queueCounts, err := s.queue.Counts(ctx)
	if err != nil {
		return nil, fmt.Errorf("queue counts: %w", err)
	}

	m := &domain.OrderMetrics{
		PendingOrders:   counts[domain.OrderStatusPending],
		ConfirmedOrders: counts[domain.OrderStatusConfirmed],
		FailedOrders:    counts[domain.OrderStatusFailed],
		Queue:           queueCounts,
	}
	for _, n := range counts {
		m.TotalOrders += n
	}
	return m, nil
}

// reject records the failed-admission signal and passes the cause through
// unchanged so transports can map it.
func (s *AdmissionService) reject(ctx context.Context, err error) error {
	s.metrics.RecordOrderStatus(ctx, domain.OrderStatusFailed)
	if !isRejection(err) {
		s.logger.Error("admission failed", zap.Error(err))
	}
	return err
}

func (s *AdmissionService) releaseLease(ctx context.Context, lease *domain.Lease) {
	if err := s.locks.Release(ctx, lease); err != nil {
		s.logger.Warn("lock release failed",
			zap.String("resource", lease.Resource), zap.Error(err))
	}
}

// isRejection distinguishes expected admission rejections from infrastructure
// errors worth logging at error level.
func isRejection(err error) bool {
	return errors.Is(err, domain.ErrProductNotFound) ||
		errors.Is(err, domain.ErrSaleNotActive) ||
		errors.Is(err, domain.ErrInsufficientStock) ||
		errors.Is(err, domain.ErrLockUnavailable) ||
		errors.Is(err, domain.ErrInvalidQuantity)
}
