package store

import (
	"context"

	"checkout-service/internal/models"
)

// AppendPaidProduct writes one purchase ledger entry. The (order, product)
// pair is unique, so replaying a finalize cannot double-record a line item;
// the duplicate insert is silently absorbed.
func (s *Store) AppendPaidProduct(ctx context.Context, rec *models.PaidProduct) error {
	query := `
		INSERT INTO paid_products (user_id, order_id, tx_id, product_ref, product_name, qty,
			unit_amount, image_ref, cust_name, cust_email, cust_contact, address,
			payment_method, delivery_status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (order_id, product_ref) DO NOTHING`

	_, err := s.db.ExecContext(ctx, query,
		rec.UserID, rec.OrderID, rec.TxID, rec.ProductRef, rec.ProductName, rec.Qty,
		rec.UnitAmount, rec.ImageRef, rec.CustName, rec.CustEmail, rec.CustContact,
		rec.Address, rec.PaymentMethod, rec.DeliveryStatus)
	return err
}

// GetPaidProductsByUserID retrieves a user's purchase history, newest first
func (s *Store) GetPaidProductsByUserID(ctx context.Context, userID string) ([]models.PaidProduct, error) {
	var recs []models.PaidProduct
	err := s.db.SelectContext(ctx, &recs,
		"SELECT * FROM paid_products WHERE user_id = $1 ORDER BY paid_at DESC, id DESC", userID)
	return recs, err
}

// GetPaidProductsByOrderID retrieves the ledger entries of one order
func (s *Store) GetPaidProductsByOrderID(ctx context.Context, orderID string) ([]models.PaidProduct, error) {
	var recs []models.PaidProduct
	err := s.db.SelectContext(ctx, &recs,
		"SELECT * FROM paid_products WHERE order_id = $1 ORDER BY id", orderID)
	return recs, err
}

// UpdatePaidProductDelivery moves every ledger entry of an order to the given
// delivery status.
func (s *Store) UpdatePaidProductDelivery(ctx context.Context, orderID, status string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE paid_products SET delivery_status = $1 WHERE order_id = $2", status, orderID)
	return err
}
