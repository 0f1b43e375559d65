// Package pipeline orchestrates the enrichment stages of a property
// session: extract, confirm facts, compute stats, confirm stats,
// evaluate, request video. Every stage follows the same order: identity
// is resolved by the transport, then guard, preconditions, quota, AI
// call, tolerant decode, raw upsert, post-processing and the final
// guarded status write. Each step is an exit point.
package pipeline

import (
	"context"
	"net/url"
	"regexp"
	"time"

	"go.uber.org/zap"

	"github.com/dwellscope/listing-cli/internal/fetcher"
	"github.com/dwellscope/listing-cli/internal/model"
	"github.com/dwellscope/listing-cli/internal/quota"
	"github.com/dwellscope/listing-cli/internal/session"
	"github.com/dwellscope/listing-cli/internal/store"
	"github.com/dwellscope/listing-cli/pkg/aimodel"
)

// Config tunes the pipeline's AI calls.
type Config struct {
	Model            string
	MaxTokens        int64
	Temperature      float64
	StatsMaxSearches int64
}

// Pipeline wires the store, the quota ledger, the page fetcher and the
// AI client into the stage orchestrators.
type Pipeline struct {
	store  store.Store
	ledger *quota.Ledger
	ai     aimodel.Client
	fetch  fetcher.Fetcher
	cfg    Config
	now    func() time.Time
}

// New creates a Pipeline.
func New(st store.Store, ledger *quota.Ledger, ai aimodel.Client, fetch fetcher.Fetcher, cfg Config) *Pipeline {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4096
	}
	return &Pipeline{
		store:  st,
		ledger: ledger,
		ai:     ai,
		fetch:  fetch,
		cfg:    cfg,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// listingIDPattern pulls the numeric listing id out of a listing URL
// path, e.g. /properties/123456789.
var listingIDPattern = regexp.MustCompile(`/properties/(\d+)`)

// parseListingRef validates the listing URL and derives the stable
// listing id when the URL carries one. URLs without a recognizable id
// are still accepted; idempotency then keys on the normalized URL.
func parseListingRef(rawURL string) (normalized, listingID string, err error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", "", errValidation("invalid_url", []string{"url"})
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", "", errValidation("invalid_url", []string{"url"})
	}
	u.Fragment = ""
	if m := listingIDPattern.FindStringSubmatch(u.Path); m != nil {
		listingID = m[1]
	}
	return u.String(), listingID, nil
}

// ownedSession loads the session and enforces ownership. A missing
// session and a foreign session are distinct failures.
func (p *Pipeline) ownedSession(ctx context.Context, userID, sessionID string) (*model.PropertySession, error) {
	sess, err := p.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, errNotFound("session_not_found")
	}
	if sess.UserID != userID {
		return nil, errForbidden("not_owner")
	}
	return sess, nil
}

// guard runs one guarded transition and normalizes a lost guard to the
// conflict failure.
func (p *Pipeline) guard(ctx context.Context, sess *model.PropertySession, tr session.Transition) error {
	// A from-set miss on the loaded row conflicts without a round trip.
	// The conditional update below stays authoritative under races.
	if !tr.Contains(sess.Status) {
		return errConflict("invalid_state")
	}
	ok, err := p.store.GuardedTransition(ctx, sess.ID, sess.UserID, tr.From, tr.To)
	if err != nil {
		return err
	}
	if !ok {
		return errConflict("invalid_state")
	}
	sess.Status = tr.To
	return nil
}

// revert moves a session back to its pre-stage status after a failure
// that must not leave it parked in RUNNING. The revert itself is
// guarded from the RUNNING state; if some concurrent writer already
// moved the row, the revert is a no-op by design of the guard.
func (p *Pipeline) revert(ctx context.Context, sess *model.PropertySession, running, prev model.Status) {
	tr := session.Resolve(running, prev)
	ok, err := p.store.GuardedTransition(ctx, sess.ID, sess.UserID, tr.From, tr.To)
	if err != nil {
		zap.L().Error("pipeline: revert failed",
			zap.String("session_id", sess.ID),
			zap.String("from", string(running)),
			zap.String("to", string(prev)),
			zap.Error(err),
		)
		return
	}
	if ok {
		sess.Status = prev
	}
}

// aimodelRequest builds the common generate request shape for a stage.
func aimodelRequest(system, prompt string, cfg Config) aimodel.Request {
	req := aimodel.Request{
		System:    system,
		Prompt:    prompt,
		MaxTokens: cfg.MaxTokens,
	}
	if cfg.Temperature > 0 {
		t := cfg.Temperature
		req.Temperature = &t
	}
	return req
}

// settle lands a RUNNING stage in its outcome state.
func (p *Pipeline) settle(ctx context.Context, sess *model.PropertySession, running, outcome model.Status) error {
	return p.guard(ctx, sess, session.Resolve(running, outcome))
}

// failStage is the best-effort landing of a RUNNING stage in its FAILED
// state. No transition re-admits a RUNNING state, so the session must
// not be left there; a lost guard means a concurrent writer already
// moved the row and is only logged.
func (p *Pipeline) failStage(ctx context.Context, sess *model.PropertySession, running, failed model.Status) {
	if err := p.settle(ctx, sess, running, failed); err != nil {
		zap.L().Error("pipeline: failure settle",
			zap.String("session_id", sess.ID),
			zap.String("to", string(failed)),
			zap.Error(err),
		)
	}
}
