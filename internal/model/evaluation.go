package model

import "time"

// Evaluation is the AI verdict for a session, produced from confirmed
// facts and confirmed stats. There is no confidence gating for
// evaluations; a successful parse is final.
type Evaluation struct {
	SessionID   string    `json:"session_id"`
	Score       float64   `json:"score"`
	Summary     string    `json:"summary"`
	Pros        []string  `json:"pros,omitempty"`
	Cons        []string  `json:"cons,omitempty"`
	CompletedAt time.Time `json:"completed_at"`
}

// StaleAgainst reports whether the evaluation predates the given stats
// confirmation time. Staleness is advisory only; it is surfaced to
// callers and never enforced by the state machine.
func (e Evaluation) StaleAgainst(statsConfirmedAt time.Time) bool {
	return e.CompletedAt.Before(statsConfirmedAt)
}
