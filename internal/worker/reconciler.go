package worker

import (
	"context"
	"fmt"
	"time"

	"checkout-service/internal/checkout"
	"checkout-service/internal/gateway"
	"checkout-service/internal/models"
	"checkout-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ReconcilerStore is the slice of the document store the reconciler needs.
type ReconcilerStore interface {
	ListStaleOrders(ctx context.Context, statuses []string, cutoff time.Time, limit int) ([]models.Order, error)
	UpdateOrderStatus(ctx context.Context, orderID, status, txStatus string) error
}

// SessionRegistry reports which orders an interactive session is already
// settling on this instance.
type SessionRegistry interface {
	Has(orderID string) bool
}

// EventSink is the slice of the event publisher the reconciler uses.
type EventSink interface {
	PublishOrderFinalized(ctx context.Context, event *models.OrderFinalizedEvent) error
	PublishOrderAbandoned(ctx context.Context, event *models.OrderAbandonedEvent) error
}

// ReconcilerConfig tunes the background sweep.
type ReconcilerConfig struct {
	// Interval is the sweep cadence.
	Interval time.Duration
	// StaleAge is how long an order must sit untouched before a sweep
	// considers it orphaned.
	StaleAge time.Duration
	// AbandonAge is how long an order may stay unsettled before it is
	// written off as failed.
	AbandonAge time.Duration
	// BatchSize caps how many orders one sweep inspects.
	BatchSize int
	// GuardTTL bounds the cross-instance claim on an order being settled.
	GuardTTL time.Duration
	// QueryTimeout bounds each gateway status call.
	QueryTimeout time.Duration
}

func (c ReconcilerConfig) withDefaults() ReconcilerConfig {
	if c.Interval <= 0 {
		c.Interval = time.Minute
	}
	if c.StaleAge <= 0 {
		c.StaleAge = 5 * time.Minute
	}
	if c.AbandonAge <= 0 {
		c.AbandonAge = 24 * time.Hour
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 50
	}
	if c.GuardTTL <= 0 {
		c.GuardTTL = 10 * time.Minute
	}
	if c.QueryTimeout <= 0 {
		c.QueryTimeout = 10 * time.Second
	}
	return c
}

// Reconciler settles orders whose interactive session died with them still
// pending: a crashed app, a killed process, a shutdown mid-checkout. It asks
// the gateway what actually happened and applies the same terminal side
// effects the interactive flow would have. Unlike the interactive arbitrator,
// the resolution guard is mandatory here; several instances may sweep the
// same table.
type Reconciler struct {
	store     ReconcilerStore
	gateway   gateway.PaymentGateway
	finalizer checkout.OrderFinalizer
	guard     checkout.ResolutionGuard
	sessions  SessionRegistry
	publisher EventSink
	cfg       ReconcilerConfig
	logger    *zap.Logger
}

// NewReconciler creates a new reconciler
func NewReconciler(store ReconcilerStore, gw gateway.PaymentGateway, finalizer checkout.OrderFinalizer,
	guard checkout.ResolutionGuard, sessions SessionRegistry, publisher EventSink, cfg ReconcilerConfig) *Reconciler {
	return &Reconciler{
		store:     store,
		gateway:   gw,
		finalizer: finalizer,
		guard:     guard,
		sessions:  sessions,
		publisher: publisher,
		cfg:       cfg.withDefaults(),
		logger:    util.NamedLogger("reconciler"),
	}
}

// Run sweeps on the configured cadence until ctx ends.
func (r *Reconciler) Run(ctx context.Context) {
	r.logger.Info("Reconciler started",
		zap.Duration("interval", r.cfg.Interval),
		zap.Duration("stale_age", r.cfg.StaleAge),
		zap.Duration("abandon_age", r.cfg.AbandonAge))

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Reconciler stopped")
			return
		case <-ticker.C:
			settled, err := r.Sweep(ctx)
			if err != nil {
				r.logger.Error("Reconcile sweep failed", zap.Error(err))
			} else if settled > 0 {
				r.logger.Info("Reconcile sweep settled orders", zap.Int("count", settled))
			}
		}
	}
}

// Sweep inspects one batch of stale orders and returns how many it settled.
func (r *Reconciler) Sweep(ctx context.Context) (int, error) {
	ctx, span := util.StartSpan(ctx, "Reconciler.Sweep")
	defer span.End()

	cutoff := time.Now().Add(-r.cfg.StaleAge)
	statuses := []string{models.OrderStatusPending, models.OrderStatusPendingPayment}
	orders, err := r.store.ListStaleOrders(ctx, statuses, cutoff, r.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to list stale orders: %w", err)
	}

	settled := 0
	for i := range orders {
		if ctx.Err() != nil {
			break
		}
		order := &orders[i]
		// A live session on this instance already owns the order.
		if r.sessions != nil && r.sessions.Has(order.OrderID) {
			continue
		}
		if r.reconcile(ctx, order) {
			settled++
		}
	}
	return settled, nil
}

// reconcile settles one stale order, returning true when it reached a
// terminal outcome. The guard is acquired first and released again whenever
// the order is left unsettled; a settled order keeps the claim until the TTL
// lapses.
func (r *Reconciler) reconcile(ctx context.Context, order *models.Order) bool {
	ok, err := r.guard.AcquireResolution(ctx, order.OrderID, r.cfg.GuardTTL)
	if err != nil {
		r.logger.Warn("Failed to claim stale order",
			zap.String("order_id", order.OrderID),
			zap.Error(err))
		return false
	}
	if !ok {
		r.logger.Debug("Stale order claimed elsewhere", zap.String("order_id", order.OrderID))
		return false
	}

	age := time.Since(order.UpdatedAt)

	// Initiation never completed: there is no transaction to ask about.
	if order.TxID == "" || order.Status == models.OrderStatusPendingPayment {
		if age >= r.cfg.AbandonAge {
			return r.abandon(ctx, order, age)
		}
		r.release(ctx, order.OrderID)
		return false
	}

	qctx, cancel := context.WithTimeout(ctx, r.cfg.QueryTimeout)
	res, err := r.gateway.QueryStatus(qctx, order.TxID)
	cancel()
	if err != nil {
		r.logger.Warn("Status query failed during reconcile",
			zap.String("order_id", order.OrderID),
			zap.String("tx_id", order.TxID),
			zap.Error(err))
		r.release(ctx, order.OrderID)
		return false
	}

	if res.Recorded && res.Paid() {
		return r.settlePaid(ctx, order, res.TxStatus)
	}
	if age >= r.cfg.AbandonAge {
		return r.abandon(ctx, order, age)
	}

	r.release(ctx, order.OrderID)
	return false
}

// settlePaid applies the success side effects the interactive flow never got
// to run: mark the order paid, write the ledger, clear the cart.
func (r *Reconciler) settlePaid(ctx context.Context, order *models.Order, txStatus string) bool {
	if err := r.store.UpdateOrderStatus(ctx, order.OrderID, models.OrderStatusPaid, txStatus); err != nil {
		r.logger.Error("Failed to mark reconciled order paid",
			zap.String("order_id", order.OrderID),
			zap.Error(err))
		r.release(ctx, order.OrderID)
		return false
	}

	report, err := r.finalizer.Finalize(ctx, order, order.TxID, true)
	if err != nil {
		r.logger.Error("Failed to finalize reconciled order",
			zap.String("order_id", order.OrderID),
			zap.Error(err))
		return false
	}

	if r.publisher != nil {
		event := &models.OrderFinalizedEvent{
			BaseEvent: models.BaseEvent{
				EventID:   uuid.New().String(),
				EventType: models.EventTypeOrderFinalized,
				Timestamp: time.Now(),
			},
			OrderID:          order.OrderID,
			UserID:           order.UserID,
			TxID:             order.TxID,
			LedgerRecords:    report.LedgerRecords,
			CartItemsRemoved: report.CartItemsRemoved,
		}
		if err := r.publisher.PublishOrderFinalized(ctx, event); err != nil {
			r.logger.Error("Failed to publish OrderFinalized event", zap.Error(err))
		}
	}

	util.ReconciledOrdersTotal.WithLabelValues("paid").Inc()
	r.logger.Info("Reconciled stale order as paid",
		zap.String("order_id", order.OrderID),
		zap.String("tx_id", order.TxID),
		zap.String("tx_status", txStatus))
	return true
}

// abandon writes a stale order off as failed and removes its document. The
// shopper is long gone; no result screen waits for this one.
func (r *Reconciler) abandon(ctx context.Context, order *models.Order, age time.Duration) bool {
	if err := r.store.UpdateOrderStatus(ctx, order.OrderID, models.OrderStatusFailed, ""); err != nil {
		r.logger.Error("Failed to mark abandoned order failed",
			zap.String("order_id", order.OrderID),
			zap.Error(err))
		r.release(ctx, order.OrderID)
		return false
	}

	if _, err := r.finalizer.Finalize(ctx, order, order.TxID, false); err != nil {
		r.logger.Error("Failed to remove abandoned order",
			zap.String("order_id", order.OrderID),
			zap.Error(err))
		return false
	}

	if r.publisher != nil {
		event := &models.OrderAbandonedEvent{
			BaseEvent: models.BaseEvent{
				EventID:   uuid.New().String(),
				EventType: models.EventTypeOrderAbandoned,
				Timestamp: time.Now(),
			},
			OrderID: order.OrderID,
			UserID:  order.UserID,
			Age:     age.Round(time.Second).String(),
		}
		if err := r.publisher.PublishOrderAbandoned(ctx, event); err != nil {
			r.logger.Error("Failed to publish OrderAbandoned event", zap.Error(err))
		}
	}

	util.ReconciledOrdersTotal.WithLabelValues("abandoned").Inc()
	r.logger.Info("Abandoned stale order",
		zap.String("order_id", order.OrderID),
		zap.Duration("age", age))
	return true
}

func (r *Reconciler) release(ctx context.Context, orderID string) {
	if err := r.guard.ReleaseResolution(ctx, orderID); err != nil {
		r.logger.Warn("Failed to release resolution claim",
			zap.String("order_id", orderID),
			zap.Error(err))
	}
}
