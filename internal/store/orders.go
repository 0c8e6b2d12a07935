package store

import (
	"context"
	"database/sql"
	"time"

	"checkout-service/internal/models"

	"github.com/jmoiron/sqlx"
)

// CreateOrder persists a checkout attempt. The write is merge-safe: replaying
// the create for an existing order id refreshes the business fields but keeps
// the original created_at, so a retried initiation never resets history.
func (s *Store) CreateOrder(ctx context.Context, order *models.Order) error {
	query := `
		INSERT INTO orders (order_id, user_id, product_list, tx_amount, tx_channel, tx_id, tx_status,
			cust_name, cust_email, cust_contact, address, status, delivery_status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (order_id) DO UPDATE SET
			user_id = EXCLUDED.user_id,
			product_list = EXCLUDED.product_list,
			tx_amount = EXCLUDED.tx_amount,
			tx_channel = EXCLUDED.tx_channel,
			cust_name = EXCLUDED.cust_name,
			cust_email = EXCLUDED.cust_email,
			cust_contact = EXCLUDED.cust_contact,
			address = EXCLUDED.address,
			status = EXCLUDED.status,
			updated_at = NOW()
		RETURNING created_at, updated_at`

	return s.db.GetContext(ctx, order, query,
		order.OrderID, order.UserID, order.ProductList, order.TxAmount, order.TxChannel,
		order.TxID, order.TxStatus, order.CustName, order.CustEmail, order.CustContact,
		order.Address, order.Status, order.DeliveryStatus)
}

// GetOrderByID retrieves an order by ID
func (s *Store) GetOrderByID(ctx context.Context, orderID string) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, "SELECT * FROM orders WHERE order_id = $1", orderID)
	if err == sql.ErrNoRows {
		return nil, models.ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// UpdateOrderPayment records the gateway transaction id and moves the order
// into its post-initiation status, touching nothing else.
func (s *Store) UpdateOrderPayment(ctx context.Context, orderID, txID, status string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE orders SET tx_id = $1, status = $2, updated_at = NOW() WHERE order_id = $3",
		txID, status, orderID)
	return err
}

// UpdateOrderStatus moves an order to a terminal status and caches the last
// gateway status string. The write only applies when the status actually
// changes, so replays leave updated_at alone.
func (s *Store) UpdateOrderStatus(ctx context.Context, orderID, status, txStatus string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE orders SET status = $1, tx_status = COALESCE(NULLIF($2, ''), tx_status), updated_at = NOW()
		 WHERE order_id = $3 AND status <> $1`,
		status, txStatus, orderID)
	return err
}

// DeleteOrder removes an order. Deleting an already-removed order is a no-op.
func (s *Store) DeleteOrder(ctx context.Context, orderID string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM orders WHERE order_id = $1", orderID)
	return err
}

// GetOrdersByUserID retrieves orders for a user
func (s *Store) GetOrdersByUserID(ctx context.Context, userID string) ([]models.Order, error) {
	var orders []models.Order
	err := s.db.SelectContext(ctx, &orders,
		"SELECT * FROM orders WHERE user_id = $1 ORDER BY created_at DESC", userID)
	return orders, err
}

// ListStaleOrders returns orders stuck in any of the given statuses since
// before the cutoff, oldest first. These are the reconciler's work set.
func (s *Store) ListStaleOrders(ctx context.Context, statuses []string, cutoff time.Time, limit int) ([]models.Order, error) {
	query, args, err := sqlx.In(
		"SELECT * FROM orders WHERE status IN (?) AND updated_at < ? ORDER BY updated_at ASC LIMIT ?",
		statuses, cutoff, limit)
	if err != nil {
		return nil, err
	}
	query = s.db.Rebind(query)

	var orders []models.Order
	err = s.db.SelectContext(ctx, &orders, query, args...)
	return orders, err
}

// UpdateOrderDeliveryStatus updates the shipment progression of a paid order.
func (s *Store) UpdateOrderDeliveryStatus(ctx context.Context, orderID, status string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE orders SET delivery_status = $1, updated_at = NOW() WHERE order_id = $2",
		status, orderID)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return models.ErrOrderNotFound
	}
	return nil
}
