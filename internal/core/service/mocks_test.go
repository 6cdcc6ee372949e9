package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/flashmart/flash-sale/internal/core/domain"
	"github.com/flashmart/flash-sale/internal/port"
)

// memStore backs product/order repositories, the inventory store, and the
// reservation transaction scope with plain maps. InTx snapshots state and
// restores it when fn fails, mimicking a rollback.
type memStore struct {
	mu          sync.Mutex
	products    map[string]*domain.Product
	orders      map[string]*domain.Order
	failConfirm bool
}

func newMemStore() *memStore {
	return &memStore{
		products: make(map[string]*domain.Product),
		orders:   make(map[string]*domain.Order),
	}
}

func (m *memStore) addProduct(p domain.Product) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.products[p.ID] = &p
}

func (m *memStore) addOrder(o domain.Order) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[o.ID] = &o
}

func (m *memStore) product(id string) domain.Product {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.products[id]
}

func (m *memStore) order(id string) domain.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.orders[id]
}

func (m *memStore) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[id]
	if !ok {
		return nil, nil
	}
	copied := *p
	return &copied, nil
}

func (m *memStore) CreateProduct(ctx context.Context, p domain.Product) error {
	m.addProduct(p)
	return nil
}

func (m *memStore) ListProducts(ctx context.Context) ([]domain.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Product
	for _, p := range m.products {
		out = append(out, *p)
	}
	return out, nil
}

func (m *memStore) CreateOrder(ctx context.Context, o domain.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[o.ID] = &o
	return nil
}

func (m *memStore) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, nil
	}
	copied := *o
	return &copied, nil
}

func (m *memStore) ListUserOrders(ctx context.Context, userID string) ([]domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Order
	for _, o := range m.orders {
		if o.UserID == userID {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (m *memStore) SetOrderJobID(ctx context.Context, orderID, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok {
		return errors.New("order not found")
	}
	o.JobID = jobID
	return nil
}

func (m *memStore) UpdateOrderStatus(ctx context.Context, orderID string, status domain.OrderStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateStatusLocked(orderID, status)
}

func (m *memStore) updateStatusLocked(orderID string, status domain.OrderStatus) error {
	o, ok := m.orders[orderID]
	if !ok {
		return errors.New("order not found")
	}
	o.Status = status
	return nil
}

func (m *memStore) CountOrdersByStatus(ctx context.Context) (map[domain.OrderStatus]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := make(map[domain.OrderStatus]int)
	for _, o := range m.orders {
		counts[o.Status]++
	}
	return counts, nil
}

func (m *memStore) InTx(ctx context.Context, fn func(tx port.ReservationTx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	productsSnap := make(map[string]*domain.Product, len(m.products))
	for id, p := range m.products {
		copied := *p
		productsSnap[id] = &copied
	}
	ordersSnap := make(map[string]*domain.Order, len(m.orders))
	for id, o := range m.orders {
		copied := *o
		ordersSnap[id] = &copied
	}

	if err := fn(&memTx{store: m}); err != nil {
		m.products = productsSnap
		m.orders = ordersSnap
		return err
	}
	return nil
}

type memTx struct {
	store *memStore
}

func (t *memTx) UpdateOrderStatus(ctx context.Context, orderID string, status domain.OrderStatus) error {
	return t.store.updateStatusLocked(orderID, status)
}

func (t *memTx) ConfirmOrder(ctx context.Context, orderID string, reservedAt, expiresAt time.Time) error {
	if t.store.failConfirm {
		return errors.New("simulated confirm failure")
	}
	o, ok := t.store.orders[orderID]
	if !ok {
		return errors.New("order not found")
	}
	o.Status = domain.OrderStatusConfirmed
	o.ReservedAt = &reservedAt
	o.ExpiresAt = &expiresAt
	return nil
}

func (t *memTx) Reserve(ctx context.Context, productID string, quantity int) (bool, error) {
	p, ok := t.store.products[productID]
	if !ok {
		return false, nil
	}
	if p.CurrentStock < quantity {
		return false, nil
	}
	p.CurrentStock -= quantity
	return true, nil
}

func (t *memTx) Release(ctx context.Context, productID string, quantity int) (bool, error) {
	p, ok := t.store.products[productID]
	if !ok {
		return false, nil
	}
	p.CurrentStock += quantity
	return true, nil
}

// scriptedProducts returns a fixed sequence of products, one per GetProduct
// call, to simulate stock changing between the advisory check and the re-read
// under the lock.
type scriptedProducts struct {
	mu       sync.Mutex
	sequence []*domain.Product
}

func (s *scriptedProducts) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.sequence) == 0 {
		return nil, nil
	}
	p := s.sequence[0]
	s.sequence = s.sequence[1:]
	return p, nil
}

func (s *scriptedProducts) CreateProduct(ctx context.Context, p domain.Product) error { return nil }

func (s *scriptedProducts) ListProducts(ctx context.Context) ([]domain.Product, error) {
	return nil, nil
}

// mockLock hands out at most one lease per resource and counts operations.
type mockLock struct {
	mu       sync.Mutex
	held     map[string]string
	failAll  bool
	acquires int
	releases int
}

func newMockLock() *mockLock {
	return &mockLock{held: make(map[string]string)}
}

func (m *mockLock) Acquire(ctx context.Context, resource string, ttl time.Duration) (*domain.Lease, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAll {
		return nil, nil
	}
	if _, taken := m.held[resource]; taken {
		return nil, nil
	}
	m.acquires++
	token := uuid.NewString()
	m.held[resource] = token
	return &domain.Lease{Resource: resource, Token: token, Deadline: time.Now().Add(ttl)}, nil
}

func (m *mockLock) Release(ctx context.Context, lease *domain.Lease) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if lease == nil {
		return nil
	}
	if token, ok := m.held[lease.Resource]; ok && token == lease.Token {
		delete(m.held, lease.Resource)
		m.releases++
	}
	return nil
}

func (m *mockLock) Extend(ctx context.Context, lease *domain.Lease, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if lease == nil {
		return false, nil
	}
	token, ok := m.held[lease.Resource]
	if !ok || token != lease.Token {
		return false, nil
	}
	lease.Deadline = time.Now().Add(ttl)
	return true, nil
}

func (m *mockLock) stats() (acquires, releases int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.acquires, m.releases
}

// mockQueue records enqueued jobs and terminal reports.
type mockQueue struct {
	mu         sync.Mutex
	enqueueErr error
	jobs       map[string]domain.ReservationJob
	order      []string
	completed  map[string]domain.JobOutcome
	retried    map[string]string
}

func newMockQueue() *mockQueue {
	return &mockQueue{
		jobs:      make(map[string]domain.ReservationJob),
		completed: make(map[string]domain.JobOutcome),
		retried:   make(map[string]string),
	}
}

func (m *mockQueue) Enqueue(ctx context.Context, job domain.ReservationJob) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.enqueueErr != nil {
		return "", m.enqueueErr
	}
	id := fmt.Sprintf("job-%d", len(m.order)+1)
	m.jobs[id] = job
	m.order = append(m.order, id)
	return id, nil
}

func (m *mockQueue) Dequeue(ctx context.Context) (*domain.QueuedJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.order) == 0 {
		return nil, nil
	}
	id := m.order[0]
	m.order = m.order[1:]
	return &domain.QueuedJob{ID: id, Attempts: 1, Job: m.jobs[id]}, nil
}

func (m *mockQueue) Complete(ctx context.Context, jobID string, outcome domain.JobOutcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completed[jobID] = outcome
	return nil
}

func (m *mockQueue) Retry(ctx context.Context, jobID string, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.retried[jobID] = reason
	return nil
}

func (m *mockQueue) Position(ctx context.Context, jobID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, id := range m.order {
		if id == jobID {
			return i + 1, nil
		}
	}
	return 0, nil
}

func (m *mockQueue) Status(ctx context.Context, jobID string) (*domain.JobStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[jobID]; !ok {
		return nil, domain.ErrJobNotFound
	}
	return &domain.JobStatus{ID: jobID, State: domain.JobStateWaiting, Attempts: 1}, nil
}

func (m *mockQueue) Counts(ctx context.Context) (domain.QueueCounts, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return domain.QueueCounts{
		Waiting:   int64(len(m.order)),
		Completed: int64(len(m.completed)),
	}, nil
}

func (m *mockQueue) outcome(jobID string) (domain.JobOutcome, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.completed[jobID]
	return o, ok
}

func (m *mockQueue) retriedReason(jobID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.retried[jobID]
	return r, ok
}

// countingMetrics records statuses for assertions; all methods are
// fire-and-forget like the real recorder.
type countingMetrics struct {
	mu       sync.Mutex
	statuses map[domain.OrderStatus]int
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{statuses: make(map[domain.OrderStatus]int)}
}

func (c *countingMetrics) RecordOrderStatus(ctx context.Context, status domain.OrderStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.statuses[status]++
}

func (c *countingMetrics) RecordStockLevel(ctx context.Context, productID string, level int) {}

func (c *countingMetrics) RecordProcessingTime(ctx context.Context, d time.Duration) {}

func (c *countingMetrics) count(status domain.OrderStatus) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statuses[status]
}
