package checkout

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"checkout-service/internal/gateway"
	"checkout-service/internal/models"
	"checkout-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Initiator validates checkout input, persists the pending order, and opens
// the transaction with the hosted gateway.
type Initiator struct {
	orders    OrderStore
	cart      CartStore
	gateway   gateway.PaymentGateway
	publisher EventPublisher
	logger    *zap.Logger

	// cleanupOnFailure removes the pending order when the gateway turns the
	// initiation down. Off by default: the stray pending_payment order is
	// harmless and the reconciler sweeps it later.
	cleanupOnFailure bool
}

// NewInitiator creates a new initiator
func NewInitiator(orders OrderStore, cart CartStore, gw gateway.PaymentGateway,
	publisher EventPublisher, cleanupOnFailure bool) *Initiator {
	return &Initiator{
		orders:           orders,
		cart:             cart,
		gateway:          gw,
		publisher:        publisher,
		logger:           util.NamedLogger("initiator"),
		cleanupOnFailure: cleanupOnFailure,
	}
}

// CheckoutRequest carries what the shopper submitted from the checkout form.
// Quantities and prices are never taken from the client; they come from the
// user's stored cart lines.
type CheckoutRequest struct {
	UserID string `json:"user_id" binding:"required"`
	// OrderID is caller-generated and opaque; one is synthesized when empty.
	OrderID string `json:"order_id,omitempty"`
	// ItemKeys selects which cart lines to buy. Empty means the whole cart.
	ItemKeys      []string `json:"item_keys,omitempty"`
	CustName      string   `json:"cust_name"`
	CustEmail     string   `json:"cust_email"`
	CustContact   string   `json:"cust_contact"`
	Address       string   `json:"address"`
	PaymentMethod string   `json:"payment_method"`
}

// CheckoutResult is a successful initiation: the persisted order plus the
// hosted page the embedded browser should open.
type CheckoutResult struct {
	Order       *models.Order
	CheckoutURL string
}

// Initiate runs the checkout handshake: validate, persist pending_payment,
// request the transaction, then merge the gateway's txId into the order and
// move it to pending. Validation failures happen before any network or
// storage call.
func (i *Initiator) Initiate(ctx context.Context, req *CheckoutRequest) (*CheckoutResult, error) {
	ctx, span := util.StartSpan(ctx, "Initiator.Initiate")
	defer span.End()

	channel, err := i.validate(req)
	if err != nil {
		util.CheckoutRejectedTotal.WithLabelValues("validation").Inc()
		return nil, err
	}

	items, err := i.selectCartItems(ctx, req)
	if err != nil {
		return nil, err
	}

	orderID := req.OrderID
	if orderID == "" {
		orderID = strconv.FormatInt(time.Now().UnixMilli(), 10)
	}

	order := &models.Order{
		OrderID:        orderID,
		UserID:         req.UserID,
		ProductList:    items,
		TxAmount:       items.Total(),
		TxChannel:      channel,
		CustName:       strings.TrimSpace(req.CustName),
		CustEmail:      strings.TrimSpace(req.CustEmail),
		CustContact:    strings.TrimSpace(req.CustContact),
		Address:        strings.TrimSpace(req.Address),
		Status:         models.OrderStatusPendingPayment,
		DeliveryStatus: models.DeliveryNotStarted,
	}

	if err := i.orders.CreateOrder(ctx, order); err != nil {
		util.CheckoutRejectedTotal.WithLabelValues("storage").Inc()
		return nil, fmt.Errorf("failed to create order: %w", err)
	}

	i.logger.Info("Order created",
		zap.String("order_id", order.OrderID),
		zap.String("user_id", order.UserID),
		zap.String("amount", order.TxAmount.StringFixed(2)),
		zap.String("channel", order.TxChannel))

	res, err := i.gateway.RequestTransaction(ctx, order)
	if err != nil {
		return nil, i.rejectInitiation(ctx, order, "gateway_error", "gateway unreachable", err)
	}
	if !res.Accepted {
		reason := res.Message
		if reason == "" {
			reason = "gateway declined the transaction"
		}
		return nil, i.rejectInitiation(ctx, order, "gateway_rejected", reason, nil)
	}

	txID := res.TxID
	if txID == "" {
		// The gateway accepted but gave no id; synthesize one so status
		// queries and the ledger still have a reference.
		txID = fmt.Sprintf("TXN-%s", uuid.New().String()[:8])
		i.logger.Warn("Gateway returned no transaction id, synthesized one",
			zap.String("order_id", order.OrderID),
			zap.String("tx_id", txID))
	}

	if err := i.orders.UpdateOrderPayment(ctx, order.OrderID, txID, models.OrderStatusPending); err != nil {
		util.CheckoutRejectedTotal.WithLabelValues("storage").Inc()
		return nil, fmt.Errorf("failed to record transaction id: %w", err)
	}
	order.TxID = txID
	order.Status = models.OrderStatusPending

	util.CheckoutInitiatedTotal.Inc()

	if i.publisher != nil {
		event := &models.CheckoutInitiatedEvent{
			BaseEvent: models.BaseEvent{
				EventID:   uuid.New().String(),
				EventType: models.EventTypeCheckoutInitiated,
				Timestamp: time.Now(),
			},
			OrderID:  order.OrderID,
			UserID:   order.UserID,
			TxID:     order.TxID,
			Amount:   order.TxAmount.StringFixed(2),
			Channel:  order.TxChannel,
			LineItem: len(order.ProductList),
		}
		if err := i.publisher.PublishCheckoutInitiated(ctx, event); err != nil {
			i.logger.Error("Failed to publish CheckoutInitiated event", zap.Error(err))
		}
	}

	i.logger.Info("Checkout initiated",
		zap.String("order_id", order.OrderID),
		zap.String("tx_id", order.TxID))

	return &CheckoutResult{Order: order, CheckoutURL: res.CheckoutURL}, nil
}

// validate rejects incomplete delivery details and unknown payment methods
// before anything leaves the process.
func (i *Initiator) validate(req *CheckoutRequest) (string, error) {
	if strings.TrimSpace(req.UserID) == "" {
		return "", &models.ValidationError{Field: "user_id", Reason: "must not be empty"}
	}
	fields := []struct {
		name  string
		value string
	}{
		{"cust_name", req.CustName},
		{"cust_email", req.CustEmail},
		{"cust_contact", req.CustContact},
		{"address", req.Address},
	}
	for _, f := range fields {
		if strings.TrimSpace(f.value) == "" {
			return "", &models.ValidationError{Field: f.name, Reason: "must not be empty"}
		}
	}
	channel, ok := models.ChannelFromMethod(req.PaymentMethod)
	if !ok {
		return "", &models.ValidationError{Field: "payment_method", Reason: "unknown payment method"}
	}
	return channel, nil
}

// selectCartItems loads the user's cart and turns the requested lines into
// the order's product list, using the stored quantity and price.
func (i *Initiator) selectCartItems(ctx context.Context, req *CheckoutRequest) (models.LineItems, error) {
	cartItems, err := i.cart.GetCartItems(ctx, req.UserID)
	if err != nil {
		util.CheckoutRejectedTotal.WithLabelValues("storage").Inc()
		return nil, fmt.Errorf("failed to read cart: %w", err)
	}

	selected := cartItems
	if len(req.ItemKeys) > 0 {
		byKey := make(map[string]models.CartItem, len(cartItems))
		for _, item := range cartItems {
			byKey[item.ItemKey] = item
		}
		selected = selected[:0:0]
		for _, key := range req.ItemKeys {
			item, ok := byKey[key]
			if !ok {
				util.CheckoutRejectedTotal.WithLabelValues("validation").Inc()
				return nil, &models.ValidationError{Field: "item_keys", Reason: fmt.Sprintf("cart item %q not found", key)}
			}
			selected = append(selected, item)
		}
	}
	if len(selected) == 0 {
		util.CheckoutRejectedTotal.WithLabelValues("validation").Inc()
		return nil, &models.ValidationError{Field: "item_keys", Reason: "cart is empty"}
	}

	items := make(models.LineItems, 0, len(selected))
	for _, item := range selected {
		items = append(items, models.LineItem{
			ProductRef: item.ProductID,
			Name:       item.Name,
			Qty:        item.Qty,
			UnitAmount: item.UnitAmount,
			ImageRef:   item.ImageRef,
		})
	}
	return items, nil
}

// rejectInitiation handles a gateway turn-down. The pending order is left in
// place unless cleanup is enabled; either way the caller gets an
// InitiationError to surface.
func (i *Initiator) rejectInitiation(ctx context.Context, order *models.Order, label, reason string, cause error) error {
	util.CheckoutRejectedTotal.WithLabelValues(label).Inc()
	i.logger.Warn("Checkout initiation failed",
		zap.String("order_id", order.OrderID),
		zap.String("reason", reason),
		zap.Error(cause))

	if i.cleanupOnFailure {
		if err := i.orders.DeleteOrder(ctx, order.OrderID); err != nil {
			i.logger.Error("Failed to clean up order after rejected initiation",
				zap.String("order_id", order.OrderID),
				zap.Error(err))
		} else {
			util.OrdersDeletedTotal.WithLabelValues("initiation_failed").Inc()
		}
	}

	return &models.InitiationError{Reason: reason, Err: cause}
}
