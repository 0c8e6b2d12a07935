package checkout

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"checkout-service/internal/models"
	"checkout-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Latch states
const (
	latchOpen int32 = iota
	latchClaimed
)

// Resolution reasons surfaced in events and logs
const (
	ReasonUserCancelled = "user cancelled checkout"
	ReasonPollExhausted = "status polling exhausted"
)

// Arbitrator reconciles the racing checkout signals (redirect classification,
// status poller, user cancel) into one terminal outcome. The first signal to
// claim the latch runs every side effect; later signals are no-ops. Claiming
// is a single compare-and-set, so two near-simultaneous signals can never
// both win.
type Arbitrator struct {
	order     *models.Order
	orders    OrderStore
	finalizer OrderFinalizer
	publisher EventPublisher
	guard     ResolutionGuard
	logger    *zap.Logger

	guardTTL       time.Duration
	resolveTimeout time.Duration

	latch      int32
	resolution Resolution
	done       chan struct{}
	pollCtx    context.Context
	cancelPoll context.CancelFunc
	startedAt  time.Time
}

// ArbitratorConfig tunes resolution side effects.
type ArbitratorConfig struct {
	// GuardTTL bounds the cross-instance resolution claim.
	GuardTTL time.Duration
	// ResolveTimeout bounds the persistence work of the winning signal,
	// which runs detached from the signal's own request context.
	ResolveTimeout time.Duration
}

func (c ArbitratorConfig) withDefaults() ArbitratorConfig {
	if c.GuardTTL <= 0 {
		c.GuardTTL = 10 * time.Minute
	}
	if c.ResolveTimeout <= 0 {
		c.ResolveTimeout = 15 * time.Second
	}
	return c
}

// NewArbitrator creates an arbitrator for one initiated order. The guard and
// publisher may be nil; both are best-effort in the interactive flow.
func NewArbitrator(order *models.Order, orders OrderStore, finalizer OrderFinalizer,
	publisher EventPublisher, guard ResolutionGuard, cfg ArbitratorConfig) *Arbitrator {
	cfg = cfg.withDefaults()
	pollCtx, cancel := context.WithCancel(context.Background())
	return &Arbitrator{
		order:          order,
		orders:         orders,
		finalizer:      finalizer,
		publisher:      publisher,
		guard:          guard,
		logger:         util.NamedLogger("arbitrator"),
		guardTTL:       cfg.GuardTTL,
		resolveTimeout: cfg.ResolveTimeout,
		done:           make(chan struct{}),
		pollCtx:        pollCtx,
		cancelPoll:     cancel,
		startedAt:      time.Now(),
	}
}

// Order returns the order this arbitrator settles.
func (a *Arbitrator) Order() *models.Order {
	return a.order
}

// PollContext carries the poller's lifetime: it is cancelled the moment any
// signal wins, so no further gateway queries can be issued for this checkout.
func (a *Arbitrator) PollContext() context.Context {
	return a.pollCtx
}

// Done is closed once the checkout has a terminal outcome and its side
// effects have completed. A success reported through Done already has the
// ledger written and the cart cleaned.
func (a *Arbitrator) Done() <-chan struct{} {
	return a.done
}

// Resolution returns the terminal outcome, if there is one yet.
func (a *Arbitrator) Resolution() (Resolution, bool) {
	select {
	case <-a.done:
		return a.resolution, true
	default:
		return Resolution{}, false
	}
}

// Abort stops the poller without resolving, for process shutdown. The order
// stays pending and the background reconciler settles it later.
func (a *Arbitrator) Abort() {
	a.cancelPoll()
}

// ObserveNavigation classifies a page-load URL reported from the embedded
// browser. Neutral and ambiguous URLs produce no signal. Returns true when
// this URL won the resolution.
func (a *Arbitrator) ObserveNavigation(ctx context.Context, rawURL string) bool {
	outcome, ok := classifyRedirectURL(rawURL)
	if !ok {
		return false
	}
	return a.resolve(ctx, Resolution{Outcome: outcome, Source: SourceRedirect, Reason: rawURL})
}

// Cancel records the user backing out of the embedded checkout. Returns true
// when the cancel won the resolution.
func (a *Arbitrator) Cancel(ctx context.Context) bool {
	return a.resolve(ctx, Resolution{
		Outcome: OutcomeFailure,
		Source:  SourceUserCancel,
		Reason:  ReasonUserCancelled,
	})
}

// completePoll feeds the poller's verdict into the latch.
func (a *Arbitrator) completePoll(ctx context.Context, result PollResult) bool {
	if result.Paid {
		return a.resolve(ctx, Resolution{
			Outcome:  OutcomeSuccess,
			Source:   SourcePoller,
			TxStatus: result.TxStatus,
		})
	}
	return a.resolve(ctx, Resolution{
		Outcome: OutcomeFailure,
		Source:  SourcePoller,
		Reason:  ReasonPollExhausted,
	})
}

// resolve claims the latch and, on winning, runs all terminal side effects:
// stop the poller, persist the status, finalize on success, publish, then
// close Done. Failure outcomes do not delete the order here; that waits for
// the user to dismiss the result screen.
func (a *Arbitrator) resolve(ctx context.Context, res Resolution) bool {
	if !atomic.CompareAndSwapInt32(&a.latch, latchOpen, latchClaimed) {
		a.logger.Debug("Late signal ignored",
			zap.String("order_id", a.order.OrderID),
			zap.String("source", string(res.Source)),
			zap.String("outcome", string(res.Outcome)))
		return false
	}

	a.cancelPoll()

	// The winning signal often arrives on a request context that dies as
	// soon as the handler returns; side effects get their own deadline.
	wctx, cancel := context.WithTimeout(context.Background(), a.resolveTimeout)
	defer cancel()
	wctx, span := util.StartSpan(wctx, "Arbitrator.Resolve")
	defer span.End()

	a.logger.Info("Checkout resolved",
		zap.String("order_id", a.order.OrderID),
		zap.String("outcome", string(res.Outcome)),
		zap.String("source", string(res.Source)),
		zap.String("reason", res.Reason))

	if a.guard != nil {
		if _, err := a.guard.AcquireResolution(wctx, a.order.OrderID, a.guardTTL); err != nil {
			a.logger.Warn("Failed to claim resolution guard",
				zap.String("order_id", a.order.OrderID),
				zap.Error(err))
		}
	}

	status := models.OrderStatusFailed
	if res.Outcome == OutcomeSuccess {
		status = models.OrderStatusPaid
	}
	if err := a.orders.UpdateOrderStatus(wctx, a.order.OrderID, status, res.TxStatus); err != nil {
		a.logger.Error("Failed to persist terminal status",
			zap.String("order_id", a.order.OrderID),
			zap.String("status", status),
			zap.Error(err))
	}

	if res.Outcome == OutcomeSuccess {
		report, err := a.finalizer.Finalize(wctx, a.order, a.order.TxID, true)
		if err != nil {
			a.logger.Error("Failed to finalize paid order",
				zap.String("order_id", a.order.OrderID),
				zap.Error(err))
		} else if a.publisher != nil {
			event := &models.OrderFinalizedEvent{
				BaseEvent: models.BaseEvent{
					EventID:   uuid.New().String(),
					EventType: models.EventTypeOrderFinalized,
					Timestamp: time.Now(),
				},
				OrderID:          a.order.OrderID,
				UserID:           a.order.UserID,
				TxID:             a.order.TxID,
				LedgerRecords:    report.LedgerRecords,
				CartItemsRemoved: report.CartItemsRemoved,
			}
			if err := a.publisher.PublishOrderFinalized(wctx, event); err != nil {
				a.logger.Error("Failed to publish OrderFinalized event", zap.Error(err))
			}
		}
	}

	if a.publisher != nil {
		event := &models.PaymentResolvedEvent{
			BaseEvent: models.BaseEvent{
				EventID:   uuid.New().String(),
				EventType: models.EventTypePaymentResolved,
				Timestamp: time.Now(),
			},
			OrderID: a.order.OrderID,
			UserID:  a.order.UserID,
			TxID:    a.order.TxID,
			Outcome: string(res.Outcome),
			Source:  string(res.Source),
			Reason:  res.Reason,
		}
		if err := a.publisher.PublishPaymentResolved(wctx, event); err != nil {
			a.logger.Error("Failed to publish PaymentResolved event", zap.Error(err))
		}
	}

	util.PaymentsResolvedTotal.WithLabelValues(string(res.Outcome), string(res.Source)).Inc()
	util.ResolutionLatency.Observe(time.Since(a.startedAt).Seconds())

	a.resolution = res
	close(a.done)
	return true
}

// Markers the gateway result pages carry in their URLs
var (
	redirectSuccessMarkers = []string{"success", "completed"}
	redirectFailureMarkers = []string{"failed", "cancel", "error"}
)

// classifyRedirectURL maps a page-load URL to an outcome by case-insensitive
// substring match. A URL matching both classes is ambiguous and yields no
// signal rather than a guess.
func classifyRedirectURL(rawURL string) (Outcome, bool) {
	lower := strings.ToLower(rawURL)
	success := containsAny(lower, redirectSuccessMarkers)
	failure := containsAny(lower, redirectFailureMarkers)
	switch {
	case success && !failure:
		return OutcomeSuccess, true
	case failure && !success:
		return OutcomeFailure, true
	}
	return "", false
}

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}
