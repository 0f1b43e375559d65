package model

import "time"

// Status is the lifecycle state of a property session.
type Status string

const (
	StatusCreated                Status = "CREATED"
	StatusFetchedHTML            Status = "FETCHED_HTML"
	StatusExtractedBase          Status = "EXTRACTED_BASE"
	StatusAIParsed               Status = "AI_PARSED"
	StatusNeedsConfirmation      Status = "NEEDS_CONFIRMATION"
	StatusConfirmed              Status = "CONFIRMED"
	StatusStatsRunning           Status = "STATS_RUNNING"
	StatusStatsNeedsConfirmation Status = "STATS_NEEDS_CONFIRMATION"
	StatusStatsReady             Status = "STATS_READY"
	StatusStatsFailed            Status = "STATS_FAILED"
	StatusEvalRunning            Status = "EVAL_RUNNING"
	StatusAIReady                Status = "AI_READY"
	StatusEvalFailed             Status = "EVAL_FAILED"
	StatusVideoRequested         Status = "VIDEO_REQUESTED"
	StatusVideoReady             Status = "VIDEO_READY"
)

// AllStatuses lists every lifecycle state. Used as the from-set for
// transitions that are semantically unconditional but still routed
// through the guarded primitive.
var AllStatuses = []Status{
	StatusCreated,
	StatusFetchedHTML,
	StatusExtractedBase,
	StatusAIParsed,
	StatusNeedsConfirmation,
	StatusConfirmed,
	StatusStatsRunning,
	StatusStatsNeedsConfirmation,
	StatusStatsReady,
	StatusStatsFailed,
	StatusEvalRunning,
	StatusAIReady,
	StatusEvalFailed,
	StatusVideoRequested,
	StatusVideoReady,
}

// Valid reports whether s is a known lifecycle state.
func (s Status) Valid() bool {
	for _, known := range AllStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// PropertySession is one tracked listing reference and its lifecycle
// state for one user. Sessions are created on first extract for a new
// reference and are never deleted by the core.
type PropertySession struct {
	ID              string     `json:"id"`
	UserID          string     `json:"user_id"`
	ListingURL      string     `json:"listing_url"`
	ListingID       string     `json:"listing_id,omitempty"`
	Status          Status     `json:"status"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	LastExtractedAt *time.Time `json:"last_extracted_at,omitempty"`
}

// MaxSessionsPerUser is the hard cap on sessions per user, enforced at
// creation time.
const MaxSessionsPerUser = 100
