package quota

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dwellscope/listing-cli/internal/store"
)

// Checker periodically reconciles every user's ledger against their
// counters and logs any drift. It never repairs; the ledger is the
// audit trail and drift is an operator signal.
type Checker struct {
	ledger   *Ledger
	store    store.Store
	interval time.Duration
}

// checkerConcurrency bounds parallel per-user reconciliations.
const checkerConcurrency = 4

// NewChecker creates a background reconciliation checker.
func NewChecker(ledger *Ledger, st store.Store, interval time.Duration) *Checker {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	return &Checker{ledger: ledger, store: st, interval: interval}
}

// Run starts the periodic check loop. It blocks until ctx is cancelled.
func (c *Checker) Run(ctx context.Context) {
	log := zap.L().With(zap.String("component", "quota.checker"))
	log.Info("starting ledger reconciliation checker", zap.Duration("interval", c.interval))

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("ledger reconciliation checker stopped")
			return
		case <-ticker.C:
			c.check(ctx, log)
		}
	}
}

func (c *Checker) check(ctx context.Context, log *zap.Logger) {
	users, err := c.store.ListCounterUsers(ctx)
	if err != nil {
		log.Error("quota: failed to list users for reconciliation", zap.Error(err))
		return
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(checkerConcurrency)

	var drifted atomic.Int64
	for _, userID := range users {
		g.Go(func() error {
			report, err := c.ledger.Reconcile(gCtx, userID)
			if err != nil {
				log.Error("quota: reconcile failed", zap.String("user_id", userID), zap.Error(err))
				return nil
			}
			if !report.Clean() {
				drifted.Add(1)
				for _, d := range report.Drifts {
					log.Warn("quota: ledger drift detected",
						zap.String("user_id", userID),
						zap.String("action", string(d.Action)),
						zap.Int("used", d.Used),
						zap.Int("usage_total", d.UsageTotal),
						zap.Int("drift", d.Drift),
					)
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	log.Debug("quota: reconciliation sweep complete",
		zap.Int("users", len(users)),
		zap.Int64("drifted", drifted.Load()),
	)
}
