package checkout

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"checkout-service/internal/gateway"
	"checkout-service/internal/models"

	"github.com/shopspring/decimal"
)

func mustDecimal(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// memStore is an in-memory stand-in for the document store, with the same
// merge and conditional-update semantics as the real one.
type memStore struct {
	mu     sync.Mutex
	orders map[string]*models.Order
	cart   map[string][]models.CartItem
	ledger []models.PaidProduct

	statusCalls   int
	statusApplied int
	deleteCalls   int

	appendErr     func(rec *models.PaidProduct) error
	cartReadErr   error
	cartDeleteErr func(userID, itemKey string) error
}

func newMemStore() *memStore {
	return &memStore{
		orders: make(map[string]*models.Order),
		cart:   make(map[string][]models.CartItem),
	}
}

func (m *memStore) CreateOrder(ctx context.Context, order *models.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	if existing, ok := m.orders[order.OrderID]; ok {
		order.CreatedAt = existing.CreatedAt
	} else {
		order.CreatedAt = now
	}
	order.UpdatedAt = now
	cp := *order
	m.orders[order.OrderID] = &cp
	return nil
}

func (m *memStore) GetOrderByID(ctx context.Context, orderID string) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	order, ok := m.orders[orderID]
	if !ok {
		return nil, models.ErrOrderNotFound
	}
	cp := *order
	return &cp, nil
}

func (m *memStore) UpdateOrderPayment(ctx context.Context, orderID, txID, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	order, ok := m.orders[orderID]
	if !ok {
		return models.ErrOrderNotFound
	}
	order.TxID = txID
	order.Status = status
	order.UpdatedAt = time.Now()
	return nil
}

func (m *memStore) UpdateOrderStatus(ctx context.Context, orderID, status, txStatus string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statusCalls++
	order, ok := m.orders[orderID]
	if !ok || order.Status == status {
		return nil
	}
	order.Status = status
	if txStatus != "" {
		order.TxStatus = txStatus
	}
	order.UpdatedAt = time.Now()
	m.statusApplied++
	return nil
}

func (m *memStore) DeleteOrder(ctx context.Context, orderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteCalls++
	delete(m.orders, orderID)
	return nil
}

func (m *memStore) GetCartItems(ctx context.Context, userID string) ([]models.CartItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cartReadErr != nil {
		return nil, m.cartReadErr
	}
	items := make([]models.CartItem, len(m.cart[userID]))
	copy(items, m.cart[userID])
	return items, nil
}

func (m *memStore) DeleteCartItem(ctx context.Context, userID, itemKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cartDeleteErr != nil {
		if err := m.cartDeleteErr(userID, itemKey); err != nil {
			return err
		}
	}
	items := m.cart[userID]
	for i, item := range items {
		if item.ItemKey == itemKey {
			m.cart[userID] = append(items[:i:i], items[i+1:]...)
			return nil
		}
	}
	return models.ErrCartItemNotFound
}

func (m *memStore) AppendPaidProduct(ctx context.Context, rec *models.PaidProduct) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.appendErr != nil {
		if err := m.appendErr(rec); err != nil {
			return err
		}
	}
	for _, existing := range m.ledger {
		if existing.OrderID == rec.OrderID && existing.ProductRef == rec.ProductRef {
			return nil
		}
	}
	m.ledger = append(m.ledger, *rec)
	return nil
}

func (m *memStore) addCartItem(userID string, key models.VariantKey, name string, qty int, unitAmount string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cart[userID] = append(m.cart[userID], models.CartItem{
		UserID:     userID,
		ItemKey:    key.Key(),
		ProductID:  key.ProductID,
		Name:       name,
		Color:      key.Color,
		Size:       key.Size,
		Qty:        qty,
		UnitAmount: mustDecimal(unitAmount),
		AddedAt:    time.Now(),
	})
}

func (m *memStore) cartKeys(userID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.cart[userID]))
	for _, item := range m.cart[userID] {
		keys = append(keys, item.ItemKey)
	}
	return keys
}

func (m *memStore) orderCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.orders)
}

func (m *memStore) ledgerSnapshot() []models.PaidProduct {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.PaidProduct, len(m.ledger))
	copy(out, m.ledger)
	return out
}

// fakeGateway scripts gateway responses per call number.
type fakeGateway struct {
	queries   int32
	requestFn func(order *models.Order) (*gateway.InitiationResult, error)
	statusFn  func(call int, txID string) (*gateway.StatusResult, error)
}

func (g *fakeGateway) RequestTransaction(ctx context.Context, order *models.Order) (*gateway.InitiationResult, error) {
	if g.requestFn != nil {
		return g.requestFn(order)
	}
	return &gateway.InitiationResult{
		Accepted:    true,
		TxID:        "TX-" + order.OrderID,
		CheckoutURL: "https://pay.example.com/s/" + order.OrderID,
	}, nil
}

func (g *fakeGateway) QueryStatus(ctx context.Context, txID string) (*gateway.StatusResult, error) {
	call := int(atomic.AddInt32(&g.queries, 1))
	if g.statusFn != nil {
		return g.statusFn(call, txID)
	}
	return &gateway.StatusResult{Recorded: false}, nil
}

func (g *fakeGateway) queryCount() int {
	return int(atomic.LoadInt32(&g.queries))
}

// countingFinalizer records Finalize invocations, optionally delegating to a
// real finalizer.
type countingFinalizer struct {
	calls     int32
	successes int32
	failures  int32
	inner     OrderFinalizer
}

func (f *countingFinalizer) Finalize(ctx context.Context, order *models.Order, txID string, success bool) (*FinalizeReport, error) {
	atomic.AddInt32(&f.calls, 1)
	if success {
		atomic.AddInt32(&f.successes, 1)
	} else {
		atomic.AddInt32(&f.failures, 1)
	}
	if f.inner != nil {
		return f.inner.Finalize(ctx, order, txID, success)
	}
	return &FinalizeReport{}, nil
}

func (f *countingFinalizer) callCount() int {
	return int(atomic.LoadInt32(&f.calls))
}

// recordingPublisher captures published events.
type recordingPublisher struct {
	mu        sync.Mutex
	initiated []*models.CheckoutInitiatedEvent
	resolved  []*models.PaymentResolvedEvent
	finalized []*models.OrderFinalizedEvent
}

func (p *recordingPublisher) PublishCheckoutInitiated(ctx context.Context, event *models.CheckoutInitiatedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.initiated = append(p.initiated, event)
	return nil
}

func (p *recordingPublisher) PublishPaymentResolved(ctx context.Context, event *models.PaymentResolvedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resolved = append(p.resolved, event)
	return nil
}

func (p *recordingPublisher) PublishOrderFinalized(ctx context.Context, event *models.OrderFinalizedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.finalized = append(p.finalized, event)
	return nil
}

func (p *recordingPublisher) resolvedEvents() []*models.PaymentResolvedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*models.PaymentResolvedEvent, len(p.resolved))
	copy(out, p.resolved)
	return out
}

// fakeGuard grants or denies resolution claims.
type fakeGuard struct {
	mu       sync.Mutex
	deny     bool
	err      error
	acquired []string
	released []string
}

func (g *fakeGuard) AcquireResolution(ctx context.Context, orderID string, ttl time.Duration) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return false, g.err
	}
	if g.deny {
		return false, nil
	}
	g.acquired = append(g.acquired, orderID)
	return true, nil
}

func (g *fakeGuard) ReleaseResolution(ctx context.Context, orderID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.released = append(g.released, orderID)
	return nil
}
