package store

import (
	"context"

	"checkout-service/internal/models"
)

// UpsertCartItem adds a product variant to a user's cart. Adding the same
// variant again merges quantity into the existing line and refreshes the
// price snapshot; a different variant of the same product stays a separate
// line.
func (s *Store) UpsertCartItem(ctx context.Context, item *models.CartItem) error {
	query := `
		INSERT INTO cart_items (user_id, item_key, product_id, name, color, size, measurement,
			qty, unit_amount, image_ref)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (user_id, item_key) DO UPDATE SET
			qty = cart_items.qty + EXCLUDED.qty,
			unit_amount = EXCLUDED.unit_amount,
			image_ref = EXCLUDED.image_ref,
			updated_at = NOW()
		RETURNING qty, added_at, updated_at`

	return s.db.GetContext(ctx, item, query,
		item.UserID, item.ItemKey, item.ProductID, item.Name, item.Color, item.Size,
		item.Measurement, item.Qty, item.UnitAmount, item.ImageRef)
}

// GetCartItems retrieves every cart line belonging to a user
func (s *Store) GetCartItems(ctx context.Context, userID string) ([]models.CartItem, error) {
	var items []models.CartItem
	err := s.db.SelectContext(ctx, &items,
		"SELECT * FROM cart_items WHERE user_id = $1 ORDER BY added_at", userID)
	return items, err
}

// DeleteCartItem removes one cart line by its variant key. Returns
// models.ErrCartItemNotFound when the line was already gone.
func (s *Store) DeleteCartItem(ctx context.Context, userID, itemKey string) error {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM cart_items WHERE user_id = $1 AND item_key = $2", userID, itemKey)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return models.ErrCartItemNotFound
	}
	return nil
}
