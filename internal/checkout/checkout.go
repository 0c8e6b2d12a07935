// Package checkout implements the payment confirmation workflow: opening a
// transaction with the hosted gateway, racing the redirect, poller and
// user-cancel signals to a single verdict, and applying the terminal side
// effects exactly once.
package checkout

import (
	"context"
	"time"

	"checkout-service/internal/models"
)

// Outcome is the terminal result of a checkout.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// SignalSource identifies which racing observer produced a resolution.
type SignalSource string

const (
	SourceRedirect   SignalSource = "redirect"
	SourcePoller     SignalSource = "poller"
	SourceUserCancel SignalSource = "user_cancel"
	SourceReconciler SignalSource = "reconciler"
)

// Resolution couples a terminal outcome with the signal that produced it.
type Resolution struct {
	Outcome  Outcome
	Source   SignalSource
	TxStatus string
	Reason   string
}

// OrderStore is the slice of the document store the checkout flow needs for
// order documents.
type OrderStore interface {
	CreateOrder(ctx context.Context, order *models.Order) error
	GetOrderByID(ctx context.Context, orderID string) (*models.Order, error)
	UpdateOrderPayment(ctx context.Context, orderID, txID, status string) error
	UpdateOrderStatus(ctx context.Context, orderID, status, txStatus string) error
	DeleteOrder(ctx context.Context, orderID string) error
}

// CartStore reads and prunes a user's cart lines.
type CartStore interface {
	GetCartItems(ctx context.Context, userID string) ([]models.CartItem, error)
	DeleteCartItem(ctx context.Context, userID, itemKey string) error
}

// LedgerStore appends purchase ledger entries.
type LedgerStore interface {
	AppendPaidProduct(ctx context.Context, rec *models.PaidProduct) error
}

// ResolutionGuard coordinates resolution ownership across service instances.
type ResolutionGuard interface {
	AcquireResolution(ctx context.Context, orderID string, ttl time.Duration) (bool, error)
	ReleaseResolution(ctx context.Context, orderID string) error
}

// EventPublisher is the notification edge of the checkout flow.
type EventPublisher interface {
	PublishCheckoutInitiated(ctx context.Context, event *models.CheckoutInitiatedEvent) error
	PublishPaymentResolved(ctx context.Context, event *models.PaymentResolvedEvent) error
	PublishOrderFinalized(ctx context.Context, event *models.OrderFinalizedEvent) error
}

// OrderFinalizer applies the terminal side effects of a resolved checkout.
type OrderFinalizer interface {
	Finalize(ctx context.Context, order *models.Order, txID string, success bool) (*FinalizeReport, error)
}
