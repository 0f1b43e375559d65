package pipeline

import (
	"context"

	"github.com/dwellscope/listing-cli/internal/model"
	"github.com/dwellscope/listing-cli/internal/session"
)

// ConfirmFacts accepts a user-reviewed facts payload for a session that
// is awaiting confirmation. Validation happens before the guard so a
// bad payload never costs the caller their NEEDS_CONFIRMATION slot.
func (p *Pipeline) ConfirmFacts(ctx context.Context, userID, sessionID string, facts model.ListingFacts) (*model.ConfirmedFacts, error) {
	sess, err := p.ownedSession(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}

	if missing := facts.MissingRequired(); len(missing) > 0 {
		return nil, errValidation("missing_required_fields", missing)
	}

	if err := p.guard(ctx, sess, session.ConfirmFacts()); err != nil {
		return nil, err
	}

	cf := model.ConfirmedFacts{
		SessionID:       sess.ID,
		Facts:           facts,
		ConfirmedByUser: true,
		ConfirmedAt:     p.now(),
	}
	if err := p.store.UpsertConfirmedFacts(ctx, cf); err != nil {
		p.revert(ctx, sess, model.StatusConfirmed, model.StatusNeedsConfirmation)
		return nil, err
	}
	return &cf, nil
}

// ConfirmStats accepts a user-completed stats draft for a session the
// confidence gate held back. The gate is bypassed entirely; the draft
// only has to carry every required field with a well-typed value.
func (p *Pipeline) ConfirmStats(ctx context.Context, userID, sessionID string, draft map[string]model.FieldAnnotation) (*model.ConfirmedStats, error) {
	sess, err := p.ownedSession(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}

	if bad := validateStatsDraft(draft); len(bad) > 0 {
		return nil, errValidation("invalid_stats_draft", bad)
	}

	if err := p.guard(ctx, sess, session.ConfirmStats()); err != nil {
		return nil, err
	}

	cs := model.ConfirmedStats{
		SessionID:          sess.ID,
		Fields:             make(map[string]model.FieldAnnotation),
		RequiredConfidence: make(map[string]model.ConfidenceLevel),
		RequiredSource:     make(map[string][]string),
		ConfirmedByUser:    true,
		ConfirmedAt:        p.now(),
	}
	for _, field := range model.RequiredStatsFields() {
		ann := draft[field]
		cs.Fields[field] = ann
		level, _ := model.ParseConfidence(string(ann.Confidence))
		cs.RequiredConfidence[field] = level
		if len(ann.Sources) > 0 {
			cs.RequiredSource[field] = ann.Sources
		}
	}
	if err := p.store.UpsertConfirmedStats(ctx, cs); err != nil {
		p.revert(ctx, sess, model.StatusStatsReady, model.StatusStatsNeedsConfirmation)
		return nil, err
	}
	return &cs, nil
}
