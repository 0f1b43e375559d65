package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/dwellscope/listing-cli/internal/model"
)

// ErrSessionCap is returned by CreateOrGetSession when the per-user
// session cap would be exceeded.
var ErrSessionCap = eris.New("store: session cap reached")

// SessionFilter specifies criteria for listing sessions.
type SessionFilter struct {
	Status model.Status `json:"status,omitempty"`
	Limit  int          `json:"limit,omitempty"`
	Offset int          `json:"offset,omitempty"`
}

// LedgerFilter specifies criteria for listing ledger entries.
type LedgerFilter struct {
	Action model.Action       `json:"action,omitempty"`
	Reason model.LedgerReason `json:"reason,omitempty"`
	Limit  int                `json:"limit,omitempty"`
}

// Store defines the persistence interface for the enrichment core.
// Get methods return (nil, nil) when no row exists.
type Store interface {
	// Sessions. CreateOrGetSession is idempotent per (user, listing):
	// an existing session for the same reference is returned instead of
	// a duplicate. The boolean reports whether a row was created.
	CreateOrGetSession(ctx context.Context, userID, listingURL, listingID string) (*model.PropertySession, bool, error)
	GetSession(ctx context.Context, sessionID string) (*model.PropertySession, error)
	ListSessions(ctx context.Context, userID string, filter SessionFilter) ([]model.PropertySession, error)
	CountSessions(ctx context.Context, userID string) (int, error)

	// GuardedTransition atomically moves the session to `to` iff it is
	// owned by ownerID and its status is in `from`. False means the
	// guard lost: no row was mutated and the caller must perform no
	// further side effects.
	GuardedTransition(ctx context.Context, sessionID, ownerID string, from []model.Status, to model.Status) (bool, error)
	TouchExtracted(ctx context.Context, sessionID string, at time.Time) error

	// Artifacts, all upserted keyed by session id.
	UpsertRawFacts(ctx context.Context, sessionID string, facts model.ListingFacts) error
	GetRawFacts(ctx context.Context, sessionID string) (*model.RawFacts, error)
	UpsertConfirmedFacts(ctx context.Context, cf model.ConfirmedFacts) error
	GetConfirmedFacts(ctx context.Context, sessionID string) (*model.ConfirmedFacts, error)
	UpsertRawStats(ctx context.Context, rs model.RawStats) error
	GetRawStats(ctx context.Context, sessionID string) (*model.RawStats, error)
	UpsertConfirmedStats(ctx context.Context, cs model.ConfirmedStats) error
	GetConfirmedStats(ctx context.Context, sessionID string) (*model.ConfirmedStats, error)
	UpsertEvaluation(ctx context.Context, ev model.Evaluation) error
	GetEvaluation(ctx context.Context, sessionID string) (*model.Evaluation, error)

	// Preferences are read-only for the core.
	GetPreferences(ctx context.Context, userID string) (*model.Preferences, error)

	// Quota. EnsureCounters lazily creates zero-limit per-action rows
	// and returns the actions whose row was newly created, so the
	// caller can write the one-time free-grant entries that raise the
	// limits on the ledger's books.
	EnsureCounters(ctx context.Context, userID string) ([]model.Action, error)
	GetCounter(ctx context.Context, userID string, action model.Action) (*model.UsageCounter, error)
	GetCounters(ctx context.Context, userID string) ([]model.UsageCounter, error)
	ListCounterUsers(ctx context.Context) ([]string, error)

	// ConsumeQuota performs the atomic increment-iff-below-limit and,
	// on success, appends exactly one usage debit to the ledger in the
	// same transaction. ok=false means the quota was exhausted and
	// nothing was written; the returned counter carries (used, limit)
	// either way.
	ConsumeQuota(ctx context.Context, userID string, action model.Action, sessionID string) (*model.UsageCounter, bool, error)

	// AppendAdjustment writes a non-usage ledger entry (grant, purchase,
	// admin adjustment, refund) and applies the corresponding counter
	// change in one transaction. Used never drops below zero.
	AppendAdjustment(ctx context.Context, entry model.LedgerEntry, limitDelta, usedDelta int) (*model.UsageCounter, error)

	ListLedger(ctx context.Context, userID string, filter LedgerFilter) ([]model.LedgerEntry, error)

	// UsageTotals returns the per-action sum of ledger deltas with
	// reason usage or refund, for reconciliation against the counters.
	// Refunds roll back used, so they must net into the same total.
	UsageTotals(ctx context.Context, userID string) (map[model.Action]int, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
