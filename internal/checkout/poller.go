package checkout

import (
	"context"
	"time"

	"checkout-service/internal/gateway"
	"checkout-service/internal/util"

	"go.uber.org/zap"
)

// PollerConfig carries the cadence of gateway status polling.
type PollerConfig struct {
	// InitialDelay gives the gateway time to record the transaction before
	// the first query. Queries fired earlier just burn attempts on the
	// not-yet-recorded sentinel.
	InitialDelay time.Duration
	Interval     time.Duration
	MaxAttempts  int
}

// DefaultPollerConfig mirrors the gateway's observed settlement behavior:
// wait a minute, then check every two seconds for up to sixty attempts.
func DefaultPollerConfig() PollerConfig {
	return PollerConfig{
		InitialDelay: 60 * time.Second,
		Interval:     2 * time.Second,
		MaxAttempts:  60,
	}
}

func (c PollerConfig) withDefaults() PollerConfig {
	def := DefaultPollerConfig()
	if c.InitialDelay <= 0 {
		c.InitialDelay = def.InitialDelay
	}
	if c.Interval <= 0 {
		c.Interval = def.Interval
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = def.MaxAttempts
	}
	return c
}

// PollResult is the verdict of a completed polling run.
type PollResult struct {
	Paid     bool
	TxStatus string
	Attempts int
}

// Poller repeatedly asks the gateway for a transaction's status until it sees
// a paid state or the attempt budget runs out. It never touches storage; the
// caller owns what happens with the verdict.
type Poller struct {
	gateway gateway.PaymentGateway
	cfg     PollerConfig
	logger  *zap.Logger
}

// NewPoller creates a poller. Zero config fields fall back to defaults.
func NewPoller(gw gateway.PaymentGateway, cfg PollerConfig) *Poller {
	return &Poller{
		gateway: gw,
		cfg:     cfg.withDefaults(),
		logger:  util.NamedLogger("poller"),
	}
}

// Run blocks until the transaction settles, the budget is exhausted, or ctx
// is cancelled. The second return is false when cancelled, in which case the
// result carries no verdict. Network errors and the not-yet-recorded sentinel
// are transient: they consume an attempt and polling continues.
func (p *Poller) Run(ctx context.Context, txID string) (PollResult, bool) {
	delay := time.NewTimer(p.cfg.InitialDelay)
	defer delay.Stop()
	select {
	case <-ctx.Done():
		return PollResult{}, false
	case <-delay.C:
	}

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for attempt := 1; ; attempt++ {
		// Re-check before every query: a cancellation racing the tick must
		// not produce one more gateway call.
		if ctx.Err() != nil {
			return PollResult{}, false
		}
		util.PollAttemptsTotal.Inc()

		// Each query gets one interval; a stalled request must not slip the
		// cadence.
		qctx, cancel := context.WithTimeout(ctx, p.cfg.Interval)
		status, err := p.gateway.QueryStatus(qctx, txID)
		cancel()

		switch {
		case ctx.Err() != nil:
			return PollResult{}, false
		case err != nil:
			util.PollTransientsTotal.WithLabelValues("error").Inc()
			p.logger.Debug("Status query failed, will retry",
				zap.String("tx_id", txID),
				zap.Int("attempt", attempt),
				zap.Error(err))
		case !status.Recorded:
			util.PollTransientsTotal.WithLabelValues("not_recorded").Inc()
			p.logger.Debug("Transaction not yet recorded",
				zap.String("tx_id", txID),
				zap.Int("attempt", attempt))
		case status.Paid():
			p.logger.Info("Transaction settled",
				zap.String("tx_id", txID),
				zap.String("tx_status", status.TxStatus),
				zap.Int("attempt", attempt))
			return PollResult{Paid: true, TxStatus: status.TxStatus, Attempts: attempt}, true
		default:
			// Recorded but not settled (PENDING, FAILED, ...). The gateway
			// may still flip it before the budget ends, so keep polling.
			p.logger.Debug("Transaction not settled",
				zap.String("tx_id", txID),
				zap.String("tx_status", status.TxStatus),
				zap.Int("attempt", attempt))
		}

		if attempt >= p.cfg.MaxAttempts {
			p.logger.Warn("Polling budget exhausted",
				zap.String("tx_id", txID),
				zap.Int("attempts", attempt))
			return PollResult{Attempts: attempt}, true
		}

		select {
		case <-ctx.Done():
			return PollResult{}, false
		case <-ticker.C:
		}
	}
}
