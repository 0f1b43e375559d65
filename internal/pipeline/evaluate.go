package pipeline

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"

	"github.com/dwellscope/listing-cli/internal/model"
	"github.com/dwellscope/listing-cli/internal/quota"
	"github.com/dwellscope/listing-cli/internal/session"
)

// Evaluate produces the AI verdict for a session whose facts and stats
// are both confirmed. There is no confidence gating here; a parseable
// verdict is final.
func (p *Pipeline) Evaluate(ctx context.Context, userID, sessionID string) (*model.Evaluation, error) {
	sess, err := p.ownedSession(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	prev := sess.Status

	if err := p.guard(ctx, sess, session.BeginEvaluate()); err != nil {
		return nil, err
	}

	var (
		cf    *model.ConfirmedFacts
		cs    *model.ConfirmedStats
		prefs *model.Preferences
	)
	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		cf, err = p.store.GetConfirmedFacts(gCtx, sess.ID)
		return err
	})
	g.Go(func() error {
		var err error
		cs, err = p.store.GetConfirmedStats(gCtx, sess.ID)
		return err
	})
	g.Go(func() error {
		var err error
		prefs, err = p.store.GetPreferences(gCtx, userID)
		return err
	})
	if err := g.Wait(); err != nil {
		p.revert(ctx, sess, model.StatusEvalRunning, prev)
		return nil, err
	}

	var missing []string
	if cf == nil {
		missing = append(missing, "confirmed_facts")
	}
	if cs == nil {
		missing = append(missing, "confirmed_stats")
	}
	if len(missing) > 0 {
		p.revert(ctx, sess, model.StatusEvalRunning, prev)
		return nil, errPrecondition("inputs_not_confirmed", missing)
	}
	if prefs == nil {
		prefs = &model.Preferences{UserID: userID}
	}

	if _, err := p.ledger.CheckAndConsume(ctx, userID, model.ActionEvaluate, sess.ID); err != nil {
		p.revert(ctx, sess, model.StatusEvalRunning, prev)
		var exceeded *quota.ExceededError
		if errors.As(err, &exceeded) {
			return nil, errQuotaExceeded(exceeded.Action, exceeded.Used, exceeded.Limit)
		}
		return nil, err
	}

	req := aimodelRequest(evaluateSystemPrompt, evaluatePrompt(cf.Facts, *cs, *prefs), p.cfg)
	resp, err := p.ai.Generate(ctx, req)
	if err != nil {
		p.failStage(ctx, sess, model.StatusEvalRunning, model.StatusEvalFailed)
		p.ledger.MaybeRefund(ctx, userID, model.ActionEvaluate, sess.ID, "ai call failed")
		return nil, errUpstream("ai_failed", err)
	}
	resp.Usage.LogCost(p.cfg.Model, "evaluate")

	var verdict struct {
		Score   float64  `json:"score"`
		Summary string   `json:"summary"`
		Pros    []string `json:"pros"`
		Cons    []string `json:"cons"`
	}
	if err := decodeLoose(resp.Text, &verdict); err != nil {
		p.failStage(ctx, sess, model.StatusEvalRunning, model.StatusEvalFailed)
		p.ledger.MaybeRefund(ctx, userID, model.ActionEvaluate, sess.ID, "unparseable output")
		return nil, errUpstream("unparseable_output", err)
	}

	ev := model.Evaluation{
		SessionID:   sess.ID,
		Score:       verdict.Score,
		Summary:     verdict.Summary,
		Pros:        verdict.Pros,
		Cons:        verdict.Cons,
		CompletedAt: p.now(),
	}
	if err := p.store.UpsertEvaluation(ctx, ev); err != nil {
		p.failStage(ctx, sess, model.StatusEvalRunning, model.StatusEvalFailed)
		return nil, err
	}
	if err := p.settle(ctx, sess, model.StatusEvalRunning, model.StatusAIReady); err != nil {
		return nil, err
	}
	return &ev, nil
}
