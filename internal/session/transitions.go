// Package session defines the property session lifecycle: which guarded
// transitions each stage may take. The guard itself is a conditional
// update executed by the store; this package only owns the from-sets
// and targets.
package session

import "github.com/dwellscope/listing-cli/internal/model"

// Transition is one guarded state change: the update succeeds only if
// the current status is in From, and moves the row to To.
type Transition struct {
	From []model.Status
	To   model.Status
}

// Contains reports whether s is in the transition's from-set.
func (t Transition) Contains(s model.Status) bool {
	for _, from := range t.From {
		if s == from {
			return true
		}
	}
	return false
}

// ExtractFinalize is the write that lands a full extract in
// NEEDS_CONFIRMATION. It is independent of prior state but still routed
// through the guarded primitive so every status write shares one shape.
func ExtractFinalize() Transition {
	return Transition{From: model.AllStatuses, To: model.StatusNeedsConfirmation}
}

// ExtractFetched marks a fetch-only extract.
func ExtractFetched() Transition {
	return Transition{From: model.AllStatuses, To: model.StatusFetchedHTML}
}

// ExtractBase marks a base-fields-only extract.
func ExtractBase() Transition {
	return Transition{From: model.AllStatuses, To: model.StatusExtractedBase}
}

// ConfirmFacts guards manual facts confirmation. Confirmation is only
// meaningful while the session is awaiting it.
func ConfirmFacts() Transition {
	return Transition{
		From: []model.Status{model.StatusNeedsConfirmation},
		To:   model.StatusConfirmed,
	}
}

// BeginStats guards entry into STATS_RUNNING. A forced recompute may
// also re-enter from the post-stats states.
func BeginStats(force bool) Transition {
	from := []model.Status{
		model.StatusConfirmed,
		model.StatusStatsFailed,
		model.StatusStatsNeedsConfirmation,
	}
	if force {
		from = append(from,
			model.StatusStatsReady,
			model.StatusAIReady,
			model.StatusEvalFailed,
		)
	}
	return Transition{From: from, To: model.StatusStatsRunning}
}

// ConfirmStats guards manual stats confirmation. Strictly a single-state
// guard, tighter than BeginStats.
func ConfirmStats() Transition {
	return Transition{
		From: []model.Status{model.StatusStatsNeedsConfirmation},
		To:   model.StatusStatsReady,
	}
}

// BeginEvaluate guards entry into EVAL_RUNNING.
func BeginEvaluate() Transition {
	return Transition{
		From: []model.Status{
			model.StatusStatsReady,
			model.StatusAIReady,
			model.StatusEvalFailed,
		},
		To: model.StatusEvalRunning,
	}
}

// RequestVideo guards entry into VIDEO_REQUESTED. Re-requesting after a
// finished video is allowed.
func RequestVideo() Transition {
	return Transition{
		From: []model.Status{model.StatusAIReady, model.StatusVideoReady},
		To:   model.StatusVideoRequested,
	}
}

// Resolve returns the single-state transition used to settle a RUNNING
// stage into its outcome, or to revert to the pre-transition status
// after a precondition or quota failure.
func Resolve(from, to model.Status) Transition {
	return Transition{From: []model.Status{from}, To: to}
}
