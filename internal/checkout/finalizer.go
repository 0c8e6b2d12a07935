package checkout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"checkout-service/internal/models"
	"checkout-service/internal/util"

	"go.uber.org/zap"
)

// Finalizer applies the terminal side effects of a resolved checkout: on
// success it writes the purchase ledger and clears the paid products out of
// the user's cart, on failure it removes the order document.
type Finalizer struct {
	orders OrderStore
	cart   CartStore
	ledger LedgerStore
	logger *zap.Logger
}

// FinalizeReport summarizes what a finalize pass actually did.
type FinalizeReport struct {
	LedgerRecords    int
	CartItemsRemoved int
}

// NewFinalizer creates a new finalizer
func NewFinalizer(orders OrderStore, cart CartStore, ledger LedgerStore) *Finalizer {
	return &Finalizer{
		orders: orders,
		cart:   cart,
		ledger: ledger,
		logger: util.NamedLogger("finalizer"),
	}
}

// Finalize runs the side effects for the given outcome. Ledger and cart
// writes are best-effort per item: one bad line item must not block the rest,
// and a missing cart line is normal when the user already pruned it. Callers
// never re-check the outcome; whoever calls Finalize has already won the
// resolution.
func (f *Finalizer) Finalize(ctx context.Context, order *models.Order, txID string, success bool) (*FinalizeReport, error) {
	ctx, span := util.StartSpan(ctx, "Finalizer.Finalize")
	defer span.End()

	if !success {
		if err := f.orders.DeleteOrder(ctx, order.OrderID); err != nil {
			return nil, fmt.Errorf("failed to delete failed order: %w", err)
		}
		util.OrdersDeletedTotal.WithLabelValues("payment_failed").Inc()
		f.logger.Info("Failed order removed",
			zap.String("order_id", order.OrderID),
			zap.String("user_id", order.UserID))
		return &FinalizeReport{}, nil
	}

	report := &FinalizeReport{}
	method := models.MethodFromChannel(order.TxChannel)

	for _, item := range order.ProductList {
		rec := &models.PaidProduct{
			UserID:         order.UserID,
			OrderID:        order.OrderID,
			TxID:           txID,
			ProductRef:     item.ProductRef,
			ProductName:    item.Name,
			Qty:            item.Qty,
			UnitAmount:     item.UnitAmount,
			ImageRef:       item.ImageRef,
			CustName:       order.CustName,
			CustEmail:      order.CustEmail,
			CustContact:    order.CustContact,
			Address:        order.Address,
			PaymentMethod:  method,
			DeliveryStatus: models.DeliveryNotStarted,
			PaidAt:         time.Now(),
		}
		if err := f.ledger.AppendPaidProduct(ctx, rec); err != nil {
			f.logger.Error("Failed to record paid product",
				zap.String("order_id", order.OrderID),
				zap.String("product_ref", item.ProductRef),
				zap.Error(err))
			continue
		}
		report.LedgerRecords++
		util.PaidProductsRecordedTotal.Inc()
	}

	report.CartItemsRemoved = f.clearPaidCartItems(ctx, order)

	f.logger.Info("Order finalized",
		zap.String("order_id", order.OrderID),
		zap.String("tx_id", txID),
		zap.Int("ledger_records", report.LedgerRecords),
		zap.Int("cart_items_removed", report.CartItemsRemoved))

	return report, nil
}

// clearPaidCartItems deletes every cart line whose product appears in the
// paid order. Variants are not compared: any line of a purchased product
// leaves the cart.
func (f *Finalizer) clearPaidCartItems(ctx context.Context, order *models.Order) int {
	paid := make(map[string]bool, len(order.ProductList))
	for _, item := range order.ProductList {
		paid[item.ProductRef] = true
	}

	items, err := f.cart.GetCartItems(ctx, order.UserID)
	if err != nil {
		f.logger.Error("Failed to read cart for cleanup",
			zap.String("user_id", order.UserID),
			zap.Error(err))
		return 0
	}

	matched := make(map[string]bool, len(paid))
	removed := 0
	for _, item := range items {
		if !paid[item.ProductID] {
			continue
		}
		matched[item.ProductID] = true
		if err := f.cart.DeleteCartItem(ctx, order.UserID, item.ItemKey); err != nil {
			if errors.Is(err, models.ErrCartItemNotFound) {
				f.logger.Info("Cart item already gone",
					zap.String("user_id", order.UserID),
					zap.String("item_key", item.ItemKey))
			} else {
				f.logger.Error("Failed to delete cart item",
					zap.String("user_id", order.UserID),
					zap.String("item_key", item.ItemKey),
					zap.Error(err))
			}
			continue
		}
		removed++
		util.CartItemsRemovedTotal.Inc()
	}

	for _, item := range order.ProductList {
		if !matched[item.ProductRef] {
			f.logger.Debug("Paid product had no cart line",
				zap.String("user_id", order.UserID),
				zap.String("product_ref", item.ProductRef))
		}
	}

	return removed
}
