package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"checkout-service/internal/checkout"
	"checkout-service/internal/gateway"
	"checkout-service/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type statusWrite struct {
	orderID  string
	status   string
	txStatus string
}

type stubStore struct {
	mu      sync.Mutex
	stale   []models.Order
	listErr error
	writes  []statusWrite
}

func (s *stubStore) ListStaleOrders(ctx context.Context, statuses []string, cutoff time.Time, limit int) ([]models.Order, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	out := make([]models.Order, len(s.stale))
	copy(out, s.stale)
	return out, nil
}

func (s *stubStore) UpdateOrderStatus(ctx context.Context, orderID, status, txStatus string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes = append(s.writes, statusWrite{orderID, status, txStatus})
	return nil
}

func (s *stubStore) statusWrites() []statusWrite {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]statusWrite, len(s.writes))
	copy(out, s.writes)
	return out
}

type stubGateway struct {
	mu       sync.Mutex
	queries  int
	statusFn func(txID string) (*gateway.StatusResult, error)
}

func (g *stubGateway) RequestTransaction(ctx context.Context, order *models.Order) (*gateway.InitiationResult, error) {
	return nil, errors.New("not used by the reconciler")
}

func (g *stubGateway) QueryStatus(ctx context.Context, txID string) (*gateway.StatusResult, error) {
	g.mu.Lock()
	g.queries++
	g.mu.Unlock()
	if g.statusFn != nil {
		return g.statusFn(txID)
	}
	return &gateway.StatusResult{Recorded: false}, nil
}

func (g *stubGateway) queryCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.queries
}

type finalizeCall struct {
	orderID string
	success bool
}

type stubFinalizer struct {
	mu    sync.Mutex
	calls []finalizeCall
}

func (f *stubFinalizer) Finalize(ctx context.Context, order *models.Order, txID string, success bool) (*checkout.FinalizeReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, finalizeCall{order.OrderID, success})
	return &checkout.FinalizeReport{LedgerRecords: len(order.ProductList)}, nil
}

func (f *stubFinalizer) finalizeCalls() []finalizeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]finalizeCall, len(f.calls))
	copy(out, f.calls)
	return out
}

type stubGuard struct {
	mu       sync.Mutex
	deny     bool
	acquired []string
	released []string
}

func (g *stubGuard) AcquireResolution(ctx context.Context, orderID string, ttl time.Duration) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.deny {
		return false, nil
	}
	g.acquired = append(g.acquired, orderID)
	return true, nil
}

func (g *stubGuard) ReleaseResolution(ctx context.Context, orderID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.released = append(g.released, orderID)
	return nil
}

type stubRegistry struct {
	live map[string]bool
}

func (r *stubRegistry) Has(orderID string) bool {
	return r.live[orderID]
}

type stubSink struct {
	mu        sync.Mutex
	finalized []*models.OrderFinalizedEvent
	abandoned []*models.OrderAbandonedEvent
}

func (s *stubSink) PublishOrderFinalized(ctx context.Context, event *models.OrderFinalizedEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finalized = append(s.finalized, event)
	return nil
}

func (s *stubSink) PublishOrderAbandoned(ctx context.Context, event *models.OrderAbandonedEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.abandoned = append(s.abandoned, event)
	return nil
}

func staleOrder(id string, age time.Duration) models.Order {
	return models.Order{
		OrderID:   id,
		UserID:    "user-1",
		TxID:      "TX-" + id,
		Status:    models.OrderStatusPending,
		UpdatedAt: time.Now().Add(-age),
	}
}

func testReconcilerConfig() ReconcilerConfig {
	return ReconcilerConfig{
		Interval:     time.Minute,
		StaleAge:     5 * time.Minute,
		AbandonAge:   24 * time.Hour,
		BatchSize:    50,
		GuardTTL:     10 * time.Minute,
		QueryTimeout: time.Second,
	}
}

func TestSweepSettlesPaidOrder(t *testing.T) {
	store := &stubStore{stale: []models.Order{staleOrder("order-r1", time.Hour)}}
	gw := &stubGateway{statusFn: func(txID string) (*gateway.StatusResult, error) {
		return &gateway.StatusResult{Recorded: true, TxStatus: "PAID"}, nil
	}}
	fin := &stubFinalizer{}
	guard := &stubGuard{}
	sink := &stubSink{}

	rec := NewReconciler(store, gw, fin, guard, nil, sink, testReconcilerConfig())
	settled, err := rec.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, settled)

	writes := store.statusWrites()
	require.Len(t, writes, 1)
	assert.Equal(t, statusWrite{"order-r1", models.OrderStatusPaid, "PAID"}, writes[0])

	calls := fin.finalizeCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, finalizeCall{"order-r1", true}, calls[0])

	sink.mu.Lock()
	assert.Len(t, sink.finalized, 1)
	assert.Empty(t, sink.abandoned)
	sink.mu.Unlock()

	// The claim stays held after settling; only unsettled orders release it.
	guard.mu.Lock()
	assert.Equal(t, []string{"order-r1"}, guard.acquired)
	assert.Empty(t, guard.released)
	guard.mu.Unlock()
}

func TestSweepSkipsOrdersWithLiveSessions(t *testing.T) {
	store := &stubStore{stale: []models.Order{staleOrder("order-r2", time.Hour)}}
	gw := &stubGateway{}
	guard := &stubGuard{}
	registry := &stubRegistry{live: map[string]bool{"order-r2": true}}

	rec := NewReconciler(store, gw, &stubFinalizer{}, guard, registry, nil, testReconcilerConfig())
	settled, err := rec.Sweep(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, settled)
	assert.Equal(t, 0, gw.queryCount())
	guard.mu.Lock()
	assert.Empty(t, guard.acquired)
	guard.mu.Unlock()
}

func TestSweepSkipsWhenGuardDenied(t *testing.T) {
	store := &stubStore{stale: []models.Order{staleOrder("order-r3", time.Hour)}}
	gw := &stubGateway{}
	guard := &stubGuard{deny: true}

	rec := NewReconciler(store, gw, &stubFinalizer{}, guard, nil, nil, testReconcilerConfig())
	settled, err := rec.Sweep(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, settled)
	assert.Equal(t, 0, gw.queryCount())
	assert.Empty(t, store.statusWrites())
}

func TestSweepLeavesYoungUnrecordedOrder(t *testing.T) {
	store := &stubStore{stale: []models.Order{staleOrder("order-r4", time.Hour)}}
	gw := &stubGateway{}
	guard := &stubGuard{}

	rec := NewReconciler(store, gw, &stubFinalizer{}, guard, nil, nil, testReconcilerConfig())
	settled, err := rec.Sweep(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, settled)
	assert.Equal(t, 1, gw.queryCount())
	assert.Empty(t, store.statusWrites())

	// The unsettled order's claim is released for the next sweep.
	guard.mu.Lock()
	assert.Equal(t, []string{"order-r4"}, guard.released)
	guard.mu.Unlock()
}

func TestSweepAbandonsOldOrder(t *testing.T) {
	store := &stubStore{stale: []models.Order{staleOrder("order-r5", 48 * time.Hour)}}
	gw := &stubGateway{}
	fin := &stubFinalizer{}
	sink := &stubSink{}

	rec := NewReconciler(store, gw, fin, &stubGuard{}, nil, sink, testReconcilerConfig())
	settled, err := rec.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, settled)

	writes := store.statusWrites()
	require.Len(t, writes, 1)
	assert.Equal(t, statusWrite{"order-r5", models.OrderStatusFailed, ""}, writes[0])

	calls := fin.finalizeCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, finalizeCall{"order-r5", false}, calls[0])

	sink.mu.Lock()
	require.Len(t, sink.abandoned, 1)
	assert.Equal(t, "order-r5", sink.abandoned[0].OrderID)
	sink.mu.Unlock()
}

func TestSweepAbandonsStrayInitiation(t *testing.T) {
	order := staleOrder("order-r6", 48*time.Hour)
	order.Status = models.OrderStatusPendingPayment
	order.TxID = ""
	store := &stubStore{stale: []models.Order{order}}
	gw := &stubGateway{}
	fin := &stubFinalizer{}

	rec := NewReconciler(store, gw, fin, &stubGuard{}, nil, nil, testReconcilerConfig())
	settled, err := rec.Sweep(context.Background())
	require.NoError(t, err)

	// Nothing to query without a transaction; straight to abandonment.
	assert.Equal(t, 1, settled)
	assert.Equal(t, 0, gw.queryCount())
	require.Len(t, fin.finalizeCalls(), 1)
	assert.False(t, fin.finalizeCalls()[0].success)
}

func TestSweepLeavesYoungStrayInitiation(t *testing.T) {
	order := staleOrder("order-r7", time.Hour)
	order.Status = models.OrderStatusPendingPayment
	order.TxID = ""
	store := &stubStore{stale: []models.Order{order}}
	guard := &stubGuard{}

	rec := NewReconciler(store, &stubGateway{}, &stubFinalizer{}, guard, nil, nil, testReconcilerConfig())
	settled, err := rec.Sweep(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, settled)
	assert.Empty(t, store.statusWrites())
	guard.mu.Lock()
	assert.Equal(t, []string{"order-r7"}, guard.released)
	guard.mu.Unlock()
}

func TestSweepReleasesOnQueryError(t *testing.T) {
	store := &stubStore{stale: []models.Order{staleOrder("order-r8", time.Hour)}}
	gw := &stubGateway{statusFn: func(txID string) (*gateway.StatusResult, error) {
		return nil, errors.New("gateway timeout")
	}}
	guard := &stubGuard{}

	rec := NewReconciler(store, gw, &stubFinalizer{}, guard, nil, nil, testReconcilerConfig())
	settled, err := rec.Sweep(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, settled)
	assert.Empty(t, store.statusWrites())
	guard.mu.Lock()
	assert.Equal(t, []string{"order-r8"}, guard.released)
	guard.mu.Unlock()
}

func TestSweepPropagatesListError(t *testing.T) {
	store := &stubStore{listErr: errors.New("connection reset")}
	rec := NewReconciler(store, &stubGateway{}, &stubFinalizer{}, &stubGuard{}, nil, nil, testReconcilerConfig())

	_, err := rec.Sweep(context.Background())
	assert.Error(t, err)
}

func TestRunStopsWhenContextEnds(t *testing.T) {
	cfg := testReconcilerConfig()
	cfg.Interval = 5 * time.Millisecond
	rec := NewReconciler(&stubStore{}, &stubGateway{}, &stubFinalizer{}, &stubGuard{}, nil, nil, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		rec.Run(ctx)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reconciler did not stop after context cancellation")
	}
}
