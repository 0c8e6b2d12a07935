package checkout

import (
	"context"
	"sync"

	"checkout-service/internal/gateway"
	"checkout-service/internal/models"
	"checkout-service/internal/util"

	"go.uber.org/zap"
)

// Session states reported to the client
const (
	StateAwaiting  = "awaiting_result"
	StateSucceeded = "succeeded"
	StateFailed    = "failed"
)

// Session is one live interactive checkout: the initiated order, the
// arbitrator settling it, and the background poller feeding the arbitrator.
type Session struct {
	Order      *models.Order
	arbitrator *Arbitrator
}

// Resolution returns the session's terminal outcome, if any.
func (s *Session) Resolution() (Resolution, bool) {
	return s.arbitrator.Resolution()
}

// State reports where the session is for status queries.
func (s *Session) State() string {
	res, ok := s.arbitrator.Resolution()
	if !ok {
		return StateAwaiting
	}
	if res.Outcome == OutcomeSuccess {
		return StateSucceeded
	}
	return StateFailed
}

// ObserveNavigation forwards an embedded-browser page load to the arbitrator.
func (s *Session) ObserveNavigation(ctx context.Context, rawURL string) bool {
	return s.arbitrator.ObserveNavigation(ctx, rawURL)
}

// Cancel forwards a user back-navigation to the arbitrator.
func (s *Session) Cancel(ctx context.Context) bool {
	return s.arbitrator.Cancel(ctx)
}

// WaitResult blocks until the session resolves or ctx ends. The second
// return is false when ctx ended first.
func (s *Session) WaitResult(ctx context.Context) (Resolution, bool) {
	select {
	case <-ctx.Done():
		return Resolution{}, false
	case <-s.arbitrator.Done():
		res, _ := s.arbitrator.Resolution()
		return res, true
	}
}

// SessionManager tracks live checkout sessions by order id and owns their
// pollers' lifecycles.
type SessionManager struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	orders    OrderStore
	finalizer OrderFinalizer
	publisher EventPublisher
	guard     ResolutionGuard
	poller    *Poller
	arbCfg    ArbitratorConfig
	logger    *zap.Logger
}

// NewSessionManager creates a session manager. The poller runs against gw
// with cfg's cadence for every session started.
func NewSessionManager(orders OrderStore, finalizer OrderFinalizer, publisher EventPublisher,
	guard ResolutionGuard, gw gateway.PaymentGateway, pollCfg PollerConfig, arbCfg ArbitratorConfig) *SessionManager {
	return &SessionManager{
		sessions:  make(map[string]*Session),
		orders:    orders,
		finalizer: finalizer,
		publisher: publisher,
		guard:     guard,
		poller:    NewPoller(gw, pollCfg),
		arbCfg:    arbCfg,
		logger:    util.NamedLogger("sessions"),
	}
}

// StartSession registers an initiated order and launches its status poller.
// One live session per order; a second start for the same order fails.
func (m *SessionManager) StartSession(order *models.Order) (*Session, error) {
	m.mu.Lock()
	if _, exists := m.sessions[order.OrderID]; exists {
		m.mu.Unlock()
		return nil, models.ErrSessionActive
	}
	arb := NewArbitrator(order, m.orders, m.finalizer, m.publisher, m.guard, m.arbCfg)
	session := &Session{Order: order, arbitrator: arb}
	m.sessions[order.OrderID] = session
	m.mu.Unlock()

	go m.runPoller(session)

	m.logger.Info("Checkout session started",
		zap.String("order_id", order.OrderID),
		zap.String("tx_id", order.TxID))
	return session, nil
}

// runPoller drives the status poller and feeds its verdict into the
// arbitrator. A cancelled run means another signal already won (or the
// process is shutting down) and carries no verdict.
func (m *SessionManager) runPoller(session *Session) {
	result, ok := m.poller.Run(session.arbitrator.PollContext(), session.Order.TxID)
	if !ok {
		return
	}
	session.arbitrator.completePoll(context.Background(), result)
}

// GetSession returns the live session for an order.
func (m *SessionManager) GetSession(orderID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	session, ok := m.sessions[orderID]
	if !ok {
		return nil, models.ErrSessionNotFound
	}
	return session, nil
}

// Has reports whether this instance is interactively settling the order.
func (m *SessionManager) Has(orderID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.sessions[orderID]
	return ok
}

// ActiveSessions returns how many checkouts are in flight.
func (m *SessionManager) ActiveSessions() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Dismiss ends a session after the user leaves the result screen. An
// unresolved session is first cancelled: dismissing mid-flight is the same
// back-navigation gesture. A failed order's document is deleted here, not at
// resolution time, so the result screen can still show what failed.
func (m *SessionManager) Dismiss(ctx context.Context, orderID string) (Resolution, error) {
	m.mu.RLock()
	session, ok := m.sessions[orderID]
	m.mu.RUnlock()
	if !ok {
		return Resolution{}, models.ErrSessionNotFound
	}

	session.arbitrator.Cancel(ctx)

	// The cancel either won or lost to an earlier signal; either way the
	// session is resolved now.
	<-session.arbitrator.Done()
	res, _ := session.arbitrator.Resolution()

	if res.Outcome == OutcomeFailure {
		if _, err := m.finalizer.Finalize(ctx, session.Order, session.Order.TxID, false); err != nil {
			m.logger.Error("Failed to remove failed order at dismissal",
				zap.String("order_id", orderID),
				zap.Error(err))
			return res, err
		}
	}

	m.mu.Lock()
	delete(m.sessions, orderID)
	m.mu.Unlock()

	m.logger.Info("Checkout session dismissed",
		zap.String("order_id", orderID),
		zap.String("outcome", string(res.Outcome)))
	return res, nil
}

// Shutdown stops every live poller without resolving the sessions. Pending
// orders are left for the reconciler.
func (m *SessionManager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, session := range m.sessions {
		session.arbitrator.Abort()
	}
	if len(m.sessions) > 0 {
		m.logger.Info("Stopped pollers for live sessions", zap.Int("count", len(m.sessions)))
	}
}
