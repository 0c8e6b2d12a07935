package worker

import (
	"context"
	"errors"

	"checkout-service/internal/broker"
	"checkout-service/internal/models"
	"checkout-service/internal/util"

	"go.uber.org/zap"
)

// DeliveryStore is the slice of the document store the delivery worker needs.
type DeliveryStore interface {
	UpdateOrderDeliveryStatus(ctx context.Context, orderID, status string) error
	UpdatePaidProductDelivery(ctx context.Context, orderID, status string) error
}

// DeliveryWorker consumes shipment progress events from the operations stream
// and mirrors them onto the paid order and its ledger entries.
type DeliveryWorker struct {
	consumer *broker.Consumer
	handler  *broker.EventHandler
	store    DeliveryStore
	logger   *zap.Logger
}

// NewDeliveryWorker creates a new delivery worker
func NewDeliveryWorker(consumer *broker.Consumer, store DeliveryStore) *DeliveryWorker {
	w := &DeliveryWorker{
		consumer: consumer,
		store:    store,
		logger:   util.NamedLogger("delivery-worker"),
	}

	handler := broker.NewEventHandler()
	handler.OnDeliveryUpdated(w.HandleDeliveryUpdated)
	w.handler = handler

	return w
}

// HandleDeliveryUpdated applies one shipment progress event. Malformed events
// are logged and dropped rather than retried; they will never become valid.
func (w *DeliveryWorker) HandleDeliveryUpdated(ctx context.Context, event *models.DeliveryUpdatedEvent) error {
	if !models.ValidDeliveryStatus(event.Status) {
		w.logger.Warn("Dropping delivery event with unknown status",
			zap.String("order_id", event.OrderID),
			zap.String("status", event.Status))
		return nil
	}

	if err := w.store.UpdateOrderDeliveryStatus(ctx, event.OrderID, event.Status); err != nil {
		if errors.Is(err, models.ErrOrderNotFound) {
			w.logger.Warn("Delivery event for unknown order",
				zap.String("order_id", event.OrderID))
			return nil
		}
		return err
	}

	if err := w.store.UpdatePaidProductDelivery(ctx, event.OrderID, event.Status); err != nil {
		w.logger.Error("Failed to mirror delivery status onto ledger",
			zap.String("order_id", event.OrderID),
			zap.Error(err))
	}

	util.DeliveryUpdatesTotal.Inc()
	w.logger.Info("Delivery status updated",
		zap.String("order_id", event.OrderID),
		zap.String("status", event.Status))
	return nil
}

// Start consumes the delivery stream until ctx ends.
func (w *DeliveryWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting delivery worker")
	return w.consumer.StartConsuming(ctx, w.handler.HandleMessage)
}

// Stop closes the underlying consumer.
func (w *DeliveryWorker) Stop() error {
	w.logger.Info("Stopping delivery worker")
	return w.consumer.Close()
}
