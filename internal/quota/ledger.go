// Package quota meters pipeline actions against per-user limits and
// keeps the append-only ledger that backs the counters.
package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/dwellscope/listing-cli/internal/model"
	"github.com/dwellscope/listing-cli/internal/store"
)

// ExceededError reports a metered action that hit its limit. It carries
// the standing so callers can show used/limit without another read.
type ExceededError struct {
	Action model.Action
	Used   int
	Limit  int
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf("quota exceeded for %s: %d/%d", e.Action, e.Used, e.Limit)
}

// FailurePolicy names what happens to an already-consumed quota unit
// when the stage fails after the spend.
type FailurePolicy string

const (
	// PolicyFailCharged keeps the unit: failed attempts cost quota.
	PolicyFailCharged FailurePolicy = "fail_charged"
	// PolicyRefundOnUpstreamFailure credits the unit back when the
	// failure was upstream (AI or fetch), not caller error.
	PolicyRefundOnUpstreamFailure FailurePolicy = "refund_on_upstream_failure"
)

// Ledger is the quota accounting service. All mutations go through the
// store in single transactions; the ledger never holds state in memory.
type Ledger struct {
	store    store.Store
	defaults map[model.Action]int
	policy   FailurePolicy
}

// NewLedger creates a Ledger with the given per-action default limits.
func NewLedger(st store.Store, defaults map[model.Action]int, policy FailurePolicy) *Ledger {
	if policy == "" {
		policy = PolicyFailCharged
	}
	return &Ledger{store: st, defaults: defaults, policy: policy}
}

// Policy returns the configured failure policy.
func (l *Ledger) Policy() FailurePolicy {
	return l.policy
}

// Ensure lazily creates the user's counters. Newly created actions get
// their default limit as a free_grant credit, so the ledger accounts
// for every unit of limit ever issued.
func (l *Ledger) Ensure(ctx context.Context, userID string) error {
	created, err := l.store.EnsureCounters(ctx, userID)
	if err != nil {
		return err
	}
	for _, action := range created {
		limit := l.defaults[action]
		if limit <= 0 {
			continue
		}
		entry := model.LedgerEntry{
			UserID:    userID,
			Action:    action,
			Delta:     limit,
			Reason:    model.ReasonFreeGrant,
			Direction: model.DirectionCredit,
			Amount:    limit,
			Note:      "initial free grant",
		}
		if _, err := l.store.AppendAdjustment(ctx, entry, limit, 0); err != nil {
			return eris.Wrapf(err, "quota: initial grant %s/%s", userID, action)
		}
	}
	return nil
}

// CheckAndConsume spends one unit of the action's quota. On exhaustion
// it returns an ExceededError carrying the current standing; nothing is
// written in that case.
func (l *Ledger) CheckAndConsume(ctx context.Context, userID string, action model.Action, sessionID string) (*model.UsageCounter, error) {
	counter, ok, err := l.store.ConsumeQuota(ctx, userID, action, sessionID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &ExceededError{Action: action, Used: counter.Used, Limit: counter.Limit}
	}
	return counter, nil
}

// Grant raises the action's limit by n units with the given reason
// (free_grant or purchase).
func (l *Ledger) Grant(ctx context.Context, userID string, action model.Action, n int, reason model.LedgerReason, note, purchaseID string) (*model.UsageCounter, error) {
	if n <= 0 {
		return nil, eris.Errorf("quota: grant must be positive, got %d", n)
	}
	entry := model.LedgerEntry{
		UserID:     userID,
		Action:     action,
		Delta:      n,
		Reason:     reason,
		Direction:  model.DirectionCredit,
		Amount:     n,
		Note:       note,
		PurchaseID: purchaseID,
	}
	return l.store.AppendAdjustment(ctx, entry, n, 0)
}

// Adjust applies a signed admin adjustment to the action's limit.
func (l *Ledger) Adjust(ctx context.Context, userID string, action model.Action, delta int, note string) (*model.UsageCounter, error) {
	if delta == 0 {
		return nil, eris.New("quota: adjustment delta must be non-zero")
	}
	direction := model.DirectionCredit
	amount := delta
	if delta < 0 {
		direction = model.DirectionDebit
		amount = -delta
	}
	entry := model.LedgerEntry{
		UserID:    userID,
		Action:    action,
		Delta:     delta,
		Reason:    model.ReasonAdminAdjustment,
		Direction: direction,
		Amount:    amount,
		Note:      note,
	}
	return l.store.AppendAdjustment(ctx, entry, delta, 0)
}

// RefundUsage credits one previously consumed unit back. Only called
// under PolicyRefundOnUpstreamFailure.
func (l *Ledger) RefundUsage(ctx context.Context, userID string, action model.Action, sessionID, note string) (*model.UsageCounter, error) {
	entry := model.LedgerEntry{
		UserID:    userID,
		Action:    action,
		Delta:     1,
		Reason:    model.ReasonRefund,
		Direction: model.DirectionCredit,
		Amount:    1,
		Note:      note,
		SessionID: sessionID,
	}
	return l.store.AppendAdjustment(ctx, entry, 0, -1)
}

// MaybeRefund applies the failure policy after an upstream failure on a
// stage whose quota was already spent. Refund failures are logged, not
// propagated: the stage outcome is already decided.
func (l *Ledger) MaybeRefund(ctx context.Context, userID string, action model.Action, sessionID, note string) {
	if l.policy != PolicyRefundOnUpstreamFailure {
		return
	}
	if _, err := l.RefundUsage(ctx, userID, action, sessionID, note); err != nil {
		zap.L().Error("quota: refund failed",
			zap.String("user_id", userID),
			zap.String("action", string(action)),
			zap.String("session_id", sessionID),
			zap.Error(err),
		)
	}
}

// Snapshot returns the user's counters.
func (l *Ledger) Snapshot(ctx context.Context, userID string) ([]model.UsageCounter, error) {
	return l.store.GetCounters(ctx, userID)
}

// ActionDrift is one reconciliation finding: the ledger's usage total
// does not net out against the counter.
type ActionDrift struct {
	Action     model.Action `json:"action"`
	Used       int          `json:"used"`
	UsageTotal int          `json:"usage_total"`
	Drift      int          `json:"drift"`
}

// Report is the outcome of reconciling one user's ledger.
type Report struct {
	UserID string        `json:"user_id"`
	Drifts []ActionDrift `json:"drifts,omitempty"`
	At     time.Time     `json:"at"`
}

// Clean reports whether the ledger reconciles exactly.
func (r Report) Clean() bool {
	return len(r.Drifts) == 0
}

// Reconcile checks, per action, that the running total of usage and
// refund deltas equals -used. Advisory: it reports drift, it never
// repairs.
func (l *Ledger) Reconcile(ctx context.Context, userID string) (*Report, error) {
	counters, err := l.store.GetCounters(ctx, userID)
	if err != nil {
		return nil, err
	}
	totals, err := l.store.UsageTotals(ctx, userID)
	if err != nil {
		return nil, err
	}

	report := &Report{UserID: userID, At: time.Now().UTC()}
	for _, c := range counters {
		total := totals[c.Action]
		if total != -c.Used {
			report.Drifts = append(report.Drifts, ActionDrift{
				Action:     c.Action,
				Used:       c.Used,
				UsageTotal: total,
				Drift:      c.Used + total,
			})
		}
	}
	return report, nil
}
