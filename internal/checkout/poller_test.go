package checkout

import (
	"context"
	"testing"
	"time"

	"checkout-service/internal/gateway"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastPollConfig(maxAttempts int) PollerConfig {
	return PollerConfig{
		InitialDelay: 5 * time.Millisecond,
		Interval:     5 * time.Millisecond,
		MaxAttempts:  maxAttempts,
	}
}

func TestPollerSettlesMidBudget(t *testing.T) {
	gw := &fakeGateway{statusFn: func(call int, txID string) (*gateway.StatusResult, error) {
		if call < 3 {
			return &gateway.StatusResult{Recorded: false}, nil
		}
		return &gateway.StatusResult{Recorded: true, TxStatus: "PAID"}, nil
	}}

	poller := NewPoller(gw, fastPollConfig(60))
	result, ok := poller.Run(context.Background(), "TX1")

	require.True(t, ok)
	assert.True(t, result.Paid)
	assert.Equal(t, "PAID", result.TxStatus)
	assert.Equal(t, 3, result.Attempts)
	// Settling stops the poller immediately; no further queries.
	assert.Equal(t, 3, gw.queryCount())
}

func TestPollerExhaustsBudget(t *testing.T) {
	gw := &fakeGateway{} // never recorded

	poller := NewPoller(gw, fastPollConfig(4))
	result, ok := poller.Run(context.Background(), "TX1")

	require.True(t, ok)
	assert.False(t, result.Paid)
	assert.Equal(t, 4, result.Attempts)
	assert.Equal(t, 4, gw.queryCount())
}

func TestPollerTreatsErrorsAsTransient(t *testing.T) {
	gw := &fakeGateway{statusFn: func(call int, txID string) (*gateway.StatusResult, error) {
		switch call {
		case 1:
			return nil, assert.AnError
		case 2:
			return &gateway.StatusResult{Recorded: true, TxStatus: "FAILED"}, nil
		default:
			return &gateway.StatusResult{Recorded: true, TxStatus: "SUCCESS"}, nil
		}
	}}

	// An error, then an unsettled status, then success: the first two burn
	// attempts but never abort the run.
	poller := NewPoller(gw, fastPollConfig(10))
	result, ok := poller.Run(context.Background(), "TX1")

	require.True(t, ok)
	assert.True(t, result.Paid)
	assert.Equal(t, 3, result.Attempts)
}

func TestPollerNonTerminalFailureKeepsPolling(t *testing.T) {
	// An explicit FAILED from the gateway is not trusted as terminal; the
	// budget runs out instead.
	gw := &fakeGateway{statusFn: func(call int, txID string) (*gateway.StatusResult, error) {
		return &gateway.StatusResult{Recorded: true, TxStatus: "FAILED"}, nil
	}}

	poller := NewPoller(gw, fastPollConfig(3))
	result, ok := poller.Run(context.Background(), "TX1")

	require.True(t, ok)
	assert.False(t, result.Paid)
	assert.Equal(t, 3, gw.queryCount())
}

func TestPollerHonorsInitialDelay(t *testing.T) {
	gw := &fakeGateway{statusFn: func(call int, txID string) (*gateway.StatusResult, error) {
		return &gateway.StatusResult{Recorded: true, TxStatus: "PAID"}, nil
	}}

	cfg := PollerConfig{InitialDelay: 80 * time.Millisecond, Interval: 5 * time.Millisecond, MaxAttempts: 5}
	poller := NewPoller(gw, cfg)

	start := time.Now()
	_, ok := poller.Run(context.Background(), "TX1")
	require.True(t, ok)
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}

func TestPollerStopsOnCancel(t *testing.T) {
	gw := &fakeGateway{}
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	var ok bool
	poller := NewPoller(gw, PollerConfig{InitialDelay: time.Hour, Interval: time.Second, MaxAttempts: 60})
	go func() {
		_, ok = poller.Run(ctx, "TX1")
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("poller did not stop on cancel")
	}

	// Cancelled during the initial delay: no verdict, no queries at all.
	assert.False(t, ok)
	assert.Equal(t, 0, gw.queryCount())
}

func TestPollerCancelMidFlightStopsBeforeNextQuery(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	gw := &fakeGateway{statusFn: func(call int, txID string) (*gateway.StatusResult, error) {
		// Cancellation lands while the first query is still in flight.
		cancel()
		return &gateway.StatusResult{Recorded: false}, nil
	}}

	poller := NewPoller(gw, fastPollConfig(10))
	_, ok := poller.Run(ctx, "TX1")

	assert.False(t, ok)
	assert.Equal(t, 1, gw.queryCount())
}

func TestPollerDefaultsMatchGatewayCadence(t *testing.T) {
	cfg := PollerConfig{}.withDefaults()
	assert.Equal(t, 60*time.Second, cfg.InitialDelay)
	assert.Equal(t, 2*time.Second, cfg.Interval)
	assert.Equal(t, 60, cfg.MaxAttempts)
}
