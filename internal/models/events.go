package models

import "time"

// Event types
const (
	EventTypeCheckoutInitiated = "CHECKOUT_INITIATED"
	EventTypePaymentResolved   = "PAYMENT_RESOLVED"
	EventTypeOrderFinalized    = "ORDER_FINALIZED"
	EventTypeOrderAbandoned    = "ORDER_ABANDONED"
	EventTypeDeliveryUpdated   = "DELIVERY_UPDATED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// CheckoutInitiatedEvent published once the gateway accepts a transaction
type CheckoutInitiatedEvent struct {
	BaseEvent
	OrderID  string `json:"order_id"`
	UserID   string `json:"user_id"`
	TxID     string `json:"tx_id"`
	Amount   string `json:"amount"`
	Channel  string `json:"channel"`
	LineItem int    `json:"line_items"`
}

// PaymentResolvedEvent published when a checkout reaches its terminal outcome
type PaymentResolvedEvent struct {
	BaseEvent
	OrderID string `json:"order_id"`
	UserID  string `json:"user_id"`
	TxID    string `json:"tx_id"`
	Outcome string `json:"outcome"`
	Source  string `json:"source"`
	Reason  string `json:"reason,omitempty"`
}

// OrderFinalizedEvent published after a paid order's ledger and cart cleanup
type OrderFinalizedEvent struct {
	BaseEvent
	OrderID          string `json:"order_id"`
	UserID           string `json:"user_id"`
	TxID             string `json:"tx_id"`
	LedgerRecords    int    `json:"ledger_records"`
	CartItemsRemoved int    `json:"cart_items_removed"`
}

// OrderAbandonedEvent published when the reconciler gives up on a stale order
type OrderAbandonedEvent struct {
	BaseEvent
	OrderID string `json:"order_id"`
	UserID  string `json:"user_id"`
	Age     string `json:"age"`
}

// DeliveryUpdatedEvent consumed from the operations stream when a shipment
// progresses
type DeliveryUpdatedEvent struct {
	BaseEvent
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
}
