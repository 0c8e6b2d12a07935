package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Order represents one checkout attempt and its payment lifecycle
type Order struct {
	OrderID        string          `db:"order_id" json:"order_id"`
	UserID         string          `db:"user_id" json:"user_id"`
	ProductList    LineItems       `db:"product_list" json:"product_list"`
	TxAmount       decimal.Decimal `db:"tx_amount" json:"tx_amount"`
	TxChannel      string          `db:"tx_channel" json:"tx_channel"`
	TxID           string          `db:"tx_id" json:"tx_id,omitempty"`
	TxStatus       string          `db:"tx_status" json:"tx_status,omitempty"`
	CustName       string          `db:"cust_name" json:"cust_name"`
	CustEmail      string          `db:"cust_email" json:"cust_email"`
	CustContact    string          `db:"cust_contact" json:"cust_contact"`
	Address        string          `db:"address" json:"address"`
	Status         string          `db:"status" json:"status"`
	DeliveryStatus string          `db:"delivery_status" json:"delivery_status"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time       `db:"updated_at" json:"updated_at"`
}

// LineItem is one purchasable entry inside an order's product list
type LineItem struct {
	ProductRef string          `json:"product_ref"`
	Name       string          `json:"name"`
	Qty        int             `json:"qty"`
	UnitAmount decimal.Decimal `json:"unit_amount"`
	ImageRef   string          `json:"image_ref,omitempty"`
}

// Subtotal returns unit amount times quantity.
func (l LineItem) Subtotal() decimal.Decimal {
	return l.UnitAmount.Mul(decimal.NewFromInt(int64(l.Qty)))
}

// LineItems stores an order's product list as a single JSONB column
type LineItems []LineItem

// Value implements driver.Valuer.
func (l LineItems) Value() (driver.Value, error) {
	return json.Marshal(l)
}

// Scan implements sql.Scanner.
func (l *LineItems) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*l = nil
		return nil
	case []byte:
		return json.Unmarshal(v, l)
	case string:
		return json.Unmarshal([]byte(v), l)
	}
	return fmt.Errorf("cannot scan product list from %T", src)
}

// Total sums the subtotals of every line item.
func (l LineItems) Total() decimal.Decimal {
	total := decimal.Zero
	for _, item := range l {
		total = total.Add(item.Subtotal())
	}
	return total
}

// CartItem is one product variant sitting in a user's cart
type CartItem struct {
	UserID      string          `db:"user_id" json:"user_id"`
	ItemKey     string          `db:"item_key" json:"item_key"`
	ProductID   string          `db:"product_id" json:"product_id"`
	Name        string          `db:"name" json:"name"`
	Color       string          `db:"color" json:"color,omitempty"`
	Size        string          `db:"size" json:"size,omitempty"`
	Measurement string          `db:"measurement" json:"measurement,omitempty"`
	Qty         int             `db:"qty" json:"qty"`
	UnitAmount  decimal.Decimal `db:"unit_amount" json:"unit_amount"`
	ImageRef    string          `db:"image_ref" json:"image_ref,omitempty"`
	AddedAt     time.Time       `db:"added_at" json:"added_at"`
	UpdatedAt   time.Time       `db:"updated_at" json:"updated_at"`
}

// Variant returns the variant identity the cart item is keyed by.
func (c CartItem) Variant() VariantKey {
	return VariantKey{
		ProductID:   c.ProductID,
		Color:       c.Color,
		Size:        c.Size,
		Measurement: c.Measurement,
	}
}

// PaidProduct is one immutable ledger entry, written once per line item of a
// successfully paid order. Only the delivery status ever changes afterwards.
type PaidProduct struct {
	ID             int64           `db:"id" json:"id"`
	UserID         string          `db:"user_id" json:"user_id"`
	OrderID        string          `db:"order_id" json:"order_id"`
	TxID           string          `db:"tx_id" json:"tx_id"`
	ProductRef     string          `db:"product_ref" json:"product_ref"`
	ProductName    string          `db:"product_name" json:"product_name"`
	Qty            int             `db:"qty" json:"qty"`
	UnitAmount     decimal.Decimal `db:"unit_amount" json:"unit_amount"`
	ImageRef       string          `db:"image_ref" json:"image_ref,omitempty"`
	CustName       string          `db:"cust_name" json:"cust_name"`
	CustEmail      string          `db:"cust_email" json:"cust_email"`
	CustContact    string          `db:"cust_contact" json:"cust_contact"`
	Address        string          `db:"address" json:"address"`
	PaymentMethod  string          `db:"payment_method" json:"payment_method"`
	DeliveryStatus string          `db:"delivery_status" json:"delivery_status"`
	PaidAt         time.Time       `db:"paid_at" json:"paid_at"`
}

// Order statuses
const (
	OrderStatusPendingPayment = "pending_payment"
	OrderStatusPending        = "pending"
	OrderStatusPaid           = "paid"
	OrderStatusFailed         = "failed"
)

// Delivery statuses
const (
	DeliveryNotStarted = "not_started"
	DeliveryInProgress = "delivering"
	DeliveryCompleted  = "Completed"
)

// Payment channel codes as the gateway understands them
const (
	ChannelOnlineBanking = "DD"
	ChannelCreditCard    = "CC"
	ChannelEWallet       = "EW"
)

// Human-facing payment method labels
const (
	MethodOnlineBanking = "Online Banking"
	MethodCreditCard    = "Credit Card"
	MethodEWallet       = "E-Wallet"
	MethodUnknown       = "Unknown"
)

// ChannelFromMethod maps a payment-method label to its gateway channel code.
// The second return is false for labels the gateway has no channel for.
func ChannelFromMethod(label string) (string, bool) {
	switch label {
	case MethodOnlineBanking:
		return ChannelOnlineBanking, true
	case MethodCreditCard:
		return ChannelCreditCard, true
	case MethodEWallet:
		return ChannelEWallet, true
	}
	return "", false
}

// MethodFromChannel maps a gateway channel code back to the label shown to
// users and stored on ledger entries. Unrecognized codes map to "Unknown".
func MethodFromChannel(channel string) string {
	switch channel {
	case ChannelOnlineBanking:
		return MethodOnlineBanking
	case ChannelCreditCard:
		return MethodCreditCard
	case ChannelEWallet:
		return MethodEWallet
	}
	return MethodUnknown
}

// ValidDeliveryStatus reports whether s is one of the known delivery states.
func ValidDeliveryStatus(s string) bool {
	switch s {
	case DeliveryNotStarted, DeliveryInProgress, DeliveryCompleted:
		return true
	}
	return false
}
