package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/flashmart/flash-sale/internal/core/domain"
	"github.com/flashmart/flash-sale/internal/port"
)

// execer is satisfied by both *sql.DB and *sql.Tx so the conditional stock
// operations can run standalone or nested inside the worker's transaction.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type MySQLAdapter struct {
	db      *sql.DB
	metrics port.MetricsRecorder
	logger  *zap.Logger
}

func NewMySQLAdapter(db *sql.DB, metrics port.MetricsRecorder, logger *zap.Logger) *MySQLAdapter {
	return &MySQLAdapter{db: db, metrics: metrics, logger: logger}
}

func (m *MySQLAdapter) CreateProduct(ctx context.Context, p domain.Product) error {
	_, err := m.db.ExecContext(ctx, `
		INSERT INTO products (id, name, price, initial_stock, current_stock, flash_sale_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Name, p.Price, p.InitialStock, p.CurrentStock, p.FlashSaleActive,
		p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert product: %w", err)
	}
	return nil
}

func (m *MySQLAdapter) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	var p domain.Product
	err := m.db.QueryRowContext(ctx, `
		SELECT id, name, price, initial_stock, current_stock, flash_sale_active, created_at, updated_at
		FROM products WHERE id = ?`, id,
	).Scan(&p.ID, &p.Name, &p.Price, &p.InitialStock, &p.CurrentStock,
		&p.FlashSaleActive, &p.CreatedAt, &p.UpdatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query product: %w", err)
	}
	return &p, nil
}

func (m *MySQLAdapter) ListProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT id, name, price, initial_stock, current_stock, flash_sale_active, created_at, updated_at
		FROM products ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("query products: %w", err)
	}
	defer rows.Close()

	var products []domain.Product
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Price, &p.InitialStock, &p.CurrentStock,
			&p.FlashSaleActive, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

func (m *MySQLAdapter) CreateOrder(ctx context.Context, order domain.Order) error {
	_, err := m.db.ExecContext(ctx, `
		INSERT INTO orders (id, product_id, user_id, quantity, status, job_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		order.ID, order.ProductID, order.UserID, order.Quantity, order.Status,
		order.JobID, order.CreatedAt, order.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

func (m *MySQLAdapter) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	order, err := scanOrder(m.db.QueryRowContext(ctx, `
		SELECT id, product_id, user_id, quantity, status, job_id, reserved_at, expires_at, created_at, updated_at
		FROM orders WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query order: %w", err)
	}
	return order, nil
}

func (m *MySQLAdapter) ListUserOrders(ctx context.Context, userID string) ([]domain.Order, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT id, product_id, user_id, quantity, status, job_id, reserved_at, expires_at, created_at, updated_at
		FROM orders WHERE user_id = ? ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("query user orders: %w", err)
	}
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, *order)
	}
	return orders, rows.Err()
}

func (m *MySQLAdapter) SetOrderJobID(ctx context.Context, orderID, jobID string) error {
	_, err := m.db.ExecContext(ctx, `
		UPDATE orders SET job_id = ?, updated_at = NOW() WHERE id = ?`, jobID, orderID)
	if err != nil {
		return fmt.Errorf("set order job id: %w", err)
	}
	return nil
}

func (m *MySQLAdapter) UpdateOrderStatus(ctx context.Context, orderID string, status domain.OrderStatus) error {
	return updateOrderStatus(ctx, m.db, orderID, status)
}

func (m *MySQLAdapter) CountOrdersByStatus(ctx context.Context) (map[domain.OrderStatus]int, error) {
	rows, err := m.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM orders GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count orders: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.OrderStatus]int)
	for rows.Next() {
		var status domain.OrderStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan order count: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// Reserve applies the conditional decrement against the pool, outside any
// transaction.
func (m *MySQLAdapter) Reserve(ctx context.Context, productID string, quantity int) (bool, error) {
	return m.reserveStock(ctx, m.db, productID, quantity)
}

// Release restores stock unconditionally; it cannot push stock negative.
func (m *MySQLAdapter) Release(ctx context.Context, productID string, quantity int) (bool, error) {
	return m.releaseStock(ctx, m.db, productID, quantity)
}

// InTx runs fn within a single transaction, committing when fn returns nil.
func (m *MySQLAdapter) InTx(ctx context.Context, fn func(tx port.ReservationTx) error) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&reservationTx{tx: tx, adapter: m}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// reservationTx exposes the worker's storage operations bound to one *sql.Tx.
type reservationTx struct {
	tx      *sql.Tx
	adapter *MySQLAdapter
}

func (r *reservationTx) UpdateOrderStatus(ctx context.Context, orderID string, status domain.OrderStatus) error {
	return updateOrderStatus(ctx, r.tx, orderID, status)
}

func (r *reservationTx) ConfirmOrder(ctx context.Context, orderID string, reservedAt, expiresAt time.Time) error {
	_, err := r.tx.ExecContext(ctx, `
		UPDATE orders SET status = ?, reserved_at = ?, expires_at = ?, updated_at = NOW()
		WHERE id = ?`,
		domain.OrderStatusConfirmed, reservedAt, expiresAt, orderID)
	if err != nil {
		return fmt.Errorf("confirm order: %w", err)
	}
	return nil
}

func (r *reservationTx) Reserve(ctx context.Context, productID string, quantity int) (bool, error) {
	return r.adapter.reserveStock(ctx, r.tx, productID, quantity)
}

func (r *reservationTx) Release(ctx context.Context, productID string, quantity int) (bool, error) {
	return r.adapter.releaseStock(ctx, r.tx, productID, quantity)
}

func (m *MySQLAdapter) reserveStock(ctx context.Context, e execer, productID string, quantity int) (bool, error) {
	result, err := e.ExecContext(ctx, `
		UPDATE products
		SET current_stock = current_stock - ?, updated_at = NOW()
		WHERE id = ? AND current_stock >= ?`,
		quantity, productID, quantity)
	if err != nil {
		return false, fmt.Errorf("reserve stock: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("reserve stock rows: %w", err)
	}

	m.publishStock(ctx, e, productID)
	return rows > 0, nil
}

func (m *MySQLAdapter) releaseStock(ctx context.Context, e execer, productID string, quantity int) (bool, error) {
	result, err := e.ExecContext(ctx, `
		UPDATE products
		SET current_stock = current_stock + ?, updated_at = NOW()
		WHERE id = ?`,
		quantity, productID)
	if err != nil {
		return false, fmt.Errorf("release stock: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("release stock rows: %w", err)
	}

	m.publishStock(ctx, e, productID)
	return rows > 0, nil
}

// publishStock pushes the current level to the metrics collaborator.
// Best-effort: the value may lag the authoritative one and never participates
// in correctness decisions.
func (m *MySQLAdapter) publishStock(ctx context.Context, e execer, productID string) {
	var stock int
	err := e.QueryRowContext(ctx, `SELECT current_stock FROM products WHERE id = ?`, productID).Scan(&stock)
	if err != nil {
		m.logger.Debug("stock metric read failed", zap.String("product_id", productID), zap.Error(err))
		return
	}
	m.metrics.RecordStockLevel(ctx, productID, stock)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*domain.Order, error) {
	var order domain.Order
	var reservedAt, expiresAt sql.NullTime
	err := row.Scan(&order.ID, &order.ProductID, &order.UserID, &order.Quantity,
		&order.Status, &order.JobID, &reservedAt, &expiresAt,
		&order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if reservedAt.Valid {
		order.ReservedAt = &reservedAt.Time
	}
	if expiresAt.Valid {
		order.ExpiresAt = &expiresAt.Time
	}
	return &order, nil
}

func updateOrderStatus(ctx context.Context, e execer, orderID string, status domain.OrderStatus) error {
	_, err := e.ExecContext(ctx, `
		UPDATE orders SET status = ?, updated_at = NOW() WHERE id = ?`, status, orderID)
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	return nil
}
