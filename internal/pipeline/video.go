package pipeline

import (
	"context"
	"errors"

	"github.com/dwellscope/listing-cli/internal/model"
	"github.com/dwellscope/listing-cli/internal/quota"
	"github.com/dwellscope/listing-cli/internal/session"
)

// RequestVideo queues a walkthrough video for an evaluated session.
// The core only meters the request and parks the session in
// VIDEO_REQUESTED; rendering is an external worker's concern, which
// later lands the session in VIDEO_READY.
func (p *Pipeline) RequestVideo(ctx context.Context, userID, sessionID string) (*model.PropertySession, error) {
	sess, err := p.ownedSession(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	prev := sess.Status

	if err := p.guard(ctx, sess, session.RequestVideo()); err != nil {
		return nil, err
	}

	if _, err := p.ledger.CheckAndConsume(ctx, userID, model.ActionVideo, sess.ID); err != nil {
		p.revert(ctx, sess, model.StatusVideoRequested, prev)
		var exceeded *quota.ExceededError
		if errors.As(err, &exceeded) {
			return nil, errQuotaExceeded(exceeded.Action, exceeded.Used, exceeded.Limit)
		}
		return nil, err
	}
	return sess, nil
}
