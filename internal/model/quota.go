package model

import "time"

// Action is a metered pipeline action.
type Action string

const (
	ActionExtract  Action = "extract"
	ActionStats    Action = "stats"
	ActionEvaluate Action = "evaluate"
	ActionVideo    Action = "video"
)

// AllActions lists every metered action, in pipeline order.
var AllActions = []Action{ActionExtract, ActionStats, ActionEvaluate, ActionVideo}

// Valid reports whether a is a known metered action.
func (a Action) Valid() bool {
	for _, known := range AllActions {
		if a == known {
			return true
		}
	}
	return false
}

// UsageCounter is one (user, action) usage row. The intended invariant
// is 0 <= Used <= Limit; the store upholds it with a single conditional
// increment.
type UsageCounter struct {
	UserID    string    `json:"user_id"`
	Action    Action    `json:"action"`
	Used      int       `json:"used"`
	Limit     int       `json:"limit"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Remaining returns the unconsumed quota, never negative.
func (c UsageCounter) Remaining() int {
	if c.Limit <= c.Used {
		return 0
	}
	return c.Limit - c.Used
}

// LedgerReason classifies why a ledger entry was written.
type LedgerReason string

const (
	ReasonFreeGrant       LedgerReason = "free_grant"
	ReasonPurchase        LedgerReason = "purchase"
	ReasonUsage           LedgerReason = "usage"
	ReasonAdminAdjustment LedgerReason = "admin_adjustment"
	ReasonRefund          LedgerReason = "refund"
)

// LedgerDirection marks an entry as a debit or a credit.
type LedgerDirection string

const (
	DirectionDebit  LedgerDirection = "debit"
	DirectionCredit LedgerDirection = "credit"
)

// LedgerEntry is one immutable row in the append-only quota accounting
// log. Entries are never mutated or deleted; corrections are additional
// rows with the appropriate reason.
type LedgerEntry struct {
	ID         string          `json:"id"`
	UserID     string          `json:"user_id"`
	Action     Action          `json:"action"`
	Delta      int             `json:"delta"`
	Reason     LedgerReason    `json:"reason"`
	Direction  LedgerDirection `json:"direction,omitempty"`
	Amount     int             `json:"amount,omitempty"`
	Note       string          `json:"note,omitempty"`
	PurchaseID string          `json:"purchase_id,omitempty"`
	SessionID  string          `json:"session_id,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}
