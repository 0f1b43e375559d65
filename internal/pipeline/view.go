package pipeline

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/dwellscope/listing-cli/internal/model"
	"github.com/dwellscope/listing-cli/internal/store"
)

// SessionView is one session with all its artifacts, as returned by
// session reads. EvaluationStale flags a verdict that predates the
// latest stats confirmation; it is advisory and never blocks anything.
type SessionView struct {
	Session         *model.PropertySession `json:"session"`
	RawFacts        *model.RawFacts        `json:"raw_facts,omitempty"`
	ConfirmedFacts  *model.ConfirmedFacts  `json:"confirmed_facts,omitempty"`
	RawStats        *model.RawStats        `json:"raw_stats,omitempty"`
	ConfirmedStats  *model.ConfirmedStats  `json:"confirmed_stats,omitempty"`
	Evaluation      *model.Evaluation      `json:"evaluation,omitempty"`
	EvaluationStale bool                   `json:"evaluation_stale,omitempty"`
}

// GetSessionView loads the session and all artifacts concurrently.
func (p *Pipeline) GetSessionView(ctx context.Context, userID, sessionID string) (*SessionView, error) {
	sess, err := p.ownedSession(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}

	view := &SessionView{Session: sess}
	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		view.RawFacts, err = p.store.GetRawFacts(gCtx, sess.ID)
		return err
	})
	g.Go(func() error {
		var err error
		view.ConfirmedFacts, err = p.store.GetConfirmedFacts(gCtx, sess.ID)
		return err
	})
	g.Go(func() error {
		var err error
		view.RawStats, err = p.store.GetRawStats(gCtx, sess.ID)
		return err
	})
	g.Go(func() error {
		var err error
		view.ConfirmedStats, err = p.store.GetConfirmedStats(gCtx, sess.ID)
		return err
	})
	g.Go(func() error {
		var err error
		view.Evaluation, err = p.store.GetEvaluation(gCtx, sess.ID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if view.Evaluation != nil && view.ConfirmedStats != nil {
		view.EvaluationStale = view.Evaluation.StaleAgainst(view.ConfirmedStats.ConfirmedAt)
	}
	return view, nil
}

// SessionSummary is one row of a session listing.
type SessionSummary struct {
	model.PropertySession
	EvaluationStale bool `json:"evaluation_stale,omitempty"`
}

// evaluatedStatuses are the states in which a session can carry an
// evaluation worth staleness-checking.
var evaluatedStatuses = map[model.Status]bool{
	model.StatusAIReady:        true,
	model.StatusEvalFailed:     true,
	model.StatusVideoRequested: true,
	model.StatusVideoReady:     true,
}

// ListSessions lists the user's sessions with staleness flags resolved
// for the sessions that have been evaluated.
func (p *Pipeline) ListSessions(ctx context.Context, userID string, filter store.SessionFilter) ([]SessionSummary, error) {
	sessions, err := p.store.ListSessions(ctx, userID, filter)
	if err != nil {
		return nil, err
	}

	summaries := make([]SessionSummary, len(sessions))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, sess := range sessions {
		summaries[i] = SessionSummary{PropertySession: sess}
		if !evaluatedStatuses[sess.Status] {
			continue
		}
		g.Go(func() error {
			ev, err := p.store.GetEvaluation(gCtx, sess.ID)
			if err != nil {
				return err
			}
			cs, err := p.store.GetConfirmedStats(gCtx, sess.ID)
			if err != nil {
				return err
			}
			if ev != nil && cs != nil {
				summaries[i].EvaluationStale = ev.StaleAgainst(cs.ConfirmedAt)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return summaries, nil
}

// Quota returns the user's per-action standing, creating the counters
// with their free grants on first sight.
func (p *Pipeline) Quota(ctx context.Context, userID string) ([]model.UsageCounter, error) {
	if err := p.ledger.Ensure(ctx, userID); err != nil {
		return nil, err
	}
	return p.ledger.Snapshot(ctx, userID)
}
