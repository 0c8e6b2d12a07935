package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CheckoutInitiatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "checkout_initiated_total",
		Help: "Total number of checkouts accepted by the payment gateway",
	})

	CheckoutRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_rejected_total",
		Help: "Total number of checkout attempts that never reached the embedded browser",
	}, []string{"reason"})

	PaymentsResolvedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payments_resolved_total",
		Help: "Total number of checkouts that reached a terminal outcome",
	}, []string{"outcome", "source"})

	ResolutionLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name: "payment_resolution_latency_seconds",
		Help: "Time from gateway handoff to terminal outcome",
		// Polling alone takes at least a minute, so default buckets are useless here.
		Buckets: []float64{1, 5, 15, 30, 60, 75, 90, 120, 180, 300},
	})

	PollAttemptsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "poll_attempts_total",
		Help: "Total number of gateway status queries issued by pollers",
	})

	PollTransientsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "poll_transients_total",
		Help: "Total number of poll attempts that produced no verdict",
	}, []string{"reason"})

	PaidProductsRecordedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "paid_products_recorded_total",
		Help: "Total number of purchase ledger entries written",
	})

	CartItemsRemovedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cart_items_removed_total",
		Help: "Total number of cart lines cleared after successful payment",
	})

	OrdersDeletedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orders_deleted_total",
		Help: "Total number of order documents removed",
	}, []string{"reason"})

	ReconciledOrdersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reconciled_orders_total",
		Help: "Total number of stale orders settled by the background reconciler",
	}, []string{"outcome"})

	DeliveryUpdatesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "delivery_updates_total",
		Help: "Total number of delivery status changes applied",
	})

	GatewayRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gateway_request_duration_seconds",
		Help:    "Latency of payment gateway calls",
		Buckets: prometheus.DefBuckets,
	}, []string{"path"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
