package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/dwellscope/listing-cli/internal/model"
	"github.com/dwellscope/listing-cli/internal/quota"
	"github.com/dwellscope/listing-cli/internal/session"
)

// StatsResult reports where a compute-stats run landed. Insufficient is
// set when the confidence gate held the session back.
type StatsResult struct {
	Status       model.Status `json:"status"`
	Insufficient []string     `json:"insufficient,omitempty"`
}

// statsPayload is the wire shape of the model's stats output. Confidence
// arrives as raw strings and goes through ParseConfidence exactly once,
// here.
type statsPayload struct {
	Fields             map[string]model.FieldAnnotation `json:"fields"`
	RequiredConfidence map[string]string                `json:"required_confidence"`
	OptionalConfidence map[string]string                `json:"optional_confidence"`
}

// ComputeStats researches the property's location and either
// auto-confirms the result or parks the session for manual review,
// depending on the confidence gate.
func (p *Pipeline) ComputeStats(ctx context.Context, userID, sessionID string, force bool) (*StatsResult, error) {
	sess, err := p.ownedSession(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	prev := sess.Status

	if err := p.guard(ctx, sess, session.BeginStats(force)); err != nil {
		return nil, err
	}

	cf, err := p.store.GetConfirmedFacts(ctx, sess.ID)
	if err != nil {
		p.revert(ctx, sess, model.StatusStatsRunning, prev)
		return nil, err
	}
	if cf == nil {
		p.revert(ctx, sess, model.StatusStatsRunning, prev)
		return nil, errPrecondition("facts_not_confirmed", nil)
	}

	prefs, err := p.store.GetPreferences(ctx, userID)
	if err != nil {
		p.revert(ctx, sess, model.StatusStatsRunning, prev)
		return nil, err
	}
	if prefs == nil {
		p.revert(ctx, sess, model.StatusStatsRunning, prev)
		return nil, errPrecondition("preferences_incomplete", []string{"commute_destination", "commute_mode"})
	}
	if missing := prefs.MissingMinimum(); len(missing) > 0 {
		p.revert(ctx, sess, model.StatusStatsRunning, prev)
		return nil, errPrecondition("preferences_incomplete", missing)
	}

	if _, err := p.ledger.CheckAndConsume(ctx, userID, model.ActionStats, sess.ID); err != nil {
		p.revert(ctx, sess, model.StatusStatsRunning, prev)
		var exceeded *quota.ExceededError
		if errors.As(err, &exceeded) {
			return nil, errQuotaExceeded(exceeded.Action, exceeded.Used, exceeded.Limit)
		}
		return nil, err
	}

	req := aimodelRequest(statsSystemPrompt, statsPrompt(cf.Facts, *prefs), p.cfg)
	req.WebSearch = true
	req.MaxSearches = p.cfg.StatsMaxSearches

	resp, err := p.ai.Generate(ctx, req)
	if err != nil {
		p.failStage(ctx, sess, model.StatusStatsRunning, model.StatusStatsFailed)
		p.ledger.MaybeRefund(ctx, userID, model.ActionStats, sess.ID, "ai call failed")
		return nil, errUpstream("ai_failed", err)
	}
	resp.Usage.LogCost(p.cfg.Model, "stats")

	var payload statsPayload
	if err := decodeLoose(resp.Text, &payload); err != nil {
		p.failStage(ctx, sess, model.StatusStatsRunning, model.StatusStatsFailed)
		p.ledger.MaybeRefund(ctx, userID, model.ActionStats, sess.ID, "unparseable output")
		return nil, errUpstream("unparseable_output", err)
	}

	rs := normalizeStats(sess.ID, payload, p.now())
	if err := p.store.UpsertRawStats(ctx, rs); err != nil {
		p.failStage(ctx, sess, model.StatusStatsRunning, model.StatusStatsFailed)
		return nil, err
	}

	decision := evaluateGate(rs)
	if decision.Pass {
		cs := buildConfirmedStats(rs, decision, p.now())
		if err := p.store.UpsertConfirmedStats(ctx, cs); err != nil {
			p.failStage(ctx, sess, model.StatusStatsRunning, model.StatusStatsFailed)
			return nil, err
		}
		if err := p.settle(ctx, sess, model.StatusStatsRunning, model.StatusStatsReady); err != nil {
			return nil, err
		}
		return &StatsResult{Status: model.StatusStatsReady}, nil
	}

	if err := p.settle(ctx, sess, model.StatusStatsRunning, model.StatusStatsNeedsConfirmation); err != nil {
		return nil, err
	}
	return &StatsResult{
		Status:       model.StatusStatsNeedsConfirmation,
		Insufficient: decision.Insufficient,
	}, nil
}

// normalizeStats converts the wire payload into the stored raw row with
// every confidence string parsed into the typed enum. Unknown strings
// collapse to low.
func normalizeStats(sessionID string, payload statsPayload, at time.Time) model.RawStats {
	rs := model.RawStats{
		SessionID: sessionID,
		Fields:    make(map[string]model.FieldAnnotation, len(payload.Fields)),
		UpdatedAt: at,
	}
	for name, ann := range payload.Fields {
		if ann.Confidence != "" {
			level, _ := model.ParseConfidence(string(ann.Confidence))
			ann.Confidence = level
		}
		rs.Fields[name] = ann
	}
	if len(payload.RequiredConfidence) > 0 {
		rs.RequiredConfidence = make(map[string]model.ConfidenceLevel, len(payload.RequiredConfidence))
		for name, raw := range payload.RequiredConfidence {
			level, _ := model.ParseConfidence(raw)
			rs.RequiredConfidence[name] = level
		}
	}
	if len(payload.OptionalConfidence) > 0 {
		rs.OptionalConfidence = make(map[string]model.ConfidenceLevel, len(payload.OptionalConfidence))
		for name, raw := range payload.OptionalConfidence {
			level, _ := model.ParseConfidence(raw)
			rs.OptionalConfidence[name] = level
		}
	}
	return rs
}
