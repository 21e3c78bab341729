package payments

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/remoteprojobs/wallet/internal/metrics"
	"github.com/remoteprojobs/wallet/internal/retry"
)

// ExpiredDescription is recorded on transactions the reconciler gives up on.
const ExpiredDescription = "expired"

// ReconcileResult summarizes one sweep.
type ReconcileResult struct {
	Checked int `json:"checked"`
	Settled int `json:"settled"`
	Expired int `json:"expired"`
	Errors  int `json:"errors"`
}

// ReconcileOptions tunes the sweep.
type ReconcileOptions struct {
	// MinAge skips transactions younger than this; their callback is likely in flight.
	MinAge time.Duration
	// PendingTTL is how long a transaction may stay pending before it is failed.
	PendingTTL time.Duration
	// BatchSize caps the transactions examined per sweep.
	BatchSize   int
	MaxAttempts int
	RetryDelay  time.Duration
}

// DefaultReconcileOptions returns the production sweep settings.
func DefaultReconcileOptions() ReconcileOptions {
	return ReconcileOptions{
		MinAge:      time.Minute,
		PendingTTL:  30 * time.Minute,
		BatchSize:   100,
		MaxAttempts: 3,
		RetryDelay:  500 * time.Millisecond,
	}
}

// Reconcile asks the gateway about stale pending transactions and settles
// the definitive ones through the same claim callbacks use. Transactions
// past PendingTTL are failed as expired only when the gateway answered
// "not settled" or was never reached; a failed status query leaves them
// pending for the next sweep.
func (p *Processor) Reconcile(ctx context.Context, opts ReconcileOptions) (*ReconcileResult, error) {
	start := time.Now()
	defer func() {
		metrics.ReconcilerRunsTotal.Inc()
		metrics.ReconcilerDuration.Observe(time.Since(start).Seconds())
	}()

	now := p.now()
	pending, err := p.store.ListPending(ctx, now.Add(-opts.MinAge), opts.BatchSize)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending payments: %w", err)
	}

	res := &ReconcileResult{}
	for _, tx := range pending {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		res.Checked++

		status, err := p.queryGateway(ctx, tx, opts)
		if err != nil {
			// A failed query is not a "not settled" answer.
			res.Errors++
			p.logger.Warn("reconcile status query failed, payment left pending",
				"reference", tx.Reference, "error", err)
			continue
		}

		var out *Outcome
		switch {
		case status != nil && status.Settled:
			o := status.Outcome
			o.Reference = tx.Reference
			out = &o
		case now.Sub(tx.CreatedAt) >= opts.PendingTTL:
			out = &Outcome{Reference: tx.Reference, Description: ExpiredDescription}
		default:
			continue
		}

		_, applied, err := p.settle(ctx, *out, SourceReconciler)
		if err != nil {
			res.Errors++
			p.logger.Error("reconcile settle failed", "reference", tx.Reference, "error", err)
			continue
		}
		if !applied {
			continue
		}
		if out.Description == ExpiredDescription && !out.Success {
			res.Expired++
		} else {
			res.Settled++
		}
	}
	return res, nil
}

// queryGateway returns nil status without error when the transaction never
// reached the gateway.
func (p *Processor) queryGateway(ctx context.Context, tx *Transaction, opts ReconcileOptions) (*GatewayStatus, error) {
	if tx.ProviderReference == "" {
		return nil, nil
	}
	policy := retry.Policy{Attempts: opts.MaxAttempts, BaseDelay: opts.RetryDelay, MaxDelay: 10 * opts.RetryDelay}
	return p.gatewayStatus(ctx, tx.ProviderReference, policy)
}

// gatewayStatus asks the gateway about one provider reference, each attempt
// bounded by GatewayTimeout.
func (p *Processor) gatewayStatus(ctx context.Context, providerRef string, policy retry.Policy) (*GatewayStatus, error) {
	var status *GatewayStatus
	err := retry.Do(ctx, policy, func(ctx context.Context) error {
		qctx, cancel := context.WithTimeout(ctx, p.opts.GatewayTimeout)
		defer cancel()
		s, err := p.gateway.TransactionStatus(qctx, providerRef)
		if err != nil {
			return err
		}
		status = s
		return nil
	})
	return status, err
}

// Timer periodically runs the reconciler.
type Timer struct {
	processor *Processor
	opts      ReconcileOptions
	interval  time.Duration
	logger    *slog.Logger
	stop      chan struct{}
	stopOnce  sync.Once
	running   atomic.Bool
}

// NewTimer creates a reconciliation timer.
func NewTimer(processor *Processor, interval time.Duration, opts ReconcileOptions, logger *slog.Logger) *Timer {
	if interval <= 0 {
		interval = 2 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Timer{
		processor: processor,
		opts:      opts,
		interval:  interval,
		logger:    logger,
		stop:      make(chan struct{}),
	}
}

// Running reports whether the timer loop is actively running.
func (t *Timer) Running() bool {
	return t.running.Load()
}

// Start begins the periodic reconciliation loop. Call in a goroutine.
func (t *Timer) Start(ctx context.Context) {
	t.running.Store(true)
	defer t.running.Store(false)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.stop:
			return
		case <-ticker.C:
			t.safeRun(ctx)
		}
	}
}

// Stop signals the timer to stop. Safe to call more than once.
func (t *Timer) Stop() {
	t.stopOnce.Do(func() { close(t.stop) })
}

func (t *Timer) safeRun(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("panic in payment reconciler", "panic", fmt.Sprint(r))
		}
	}()

	res, err := t.processor.Reconcile(ctx, t.opts)
	if err != nil {
		t.logger.Warn("payment reconciliation failed", "error", err)
		return
	}
	if res.Settled > 0 || res.Expired > 0 || res.Errors > 0 {
		t.logger.Info("payment reconciliation",
			"checked", res.Checked, "settled", res.Settled, "expired", res.Expired, "errors", res.Errors)
	}
}
