package pipeline

import (
	"context"
	"errors"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/dwellscope/listing-cli/internal/model"
	"github.com/dwellscope/listing-cli/internal/quota"
	"github.com/dwellscope/listing-cli/internal/session"
	"github.com/dwellscope/listing-cli/internal/store"
)

// ExtractStage selects how far an extract run goes.
type ExtractStage string

const (
	// StageFetch stops after the page fetch and returns text snippets.
	StageFetch ExtractStage = "fetch"
	// StageBase stops after cheap base-field extraction, no AI call.
	StageBase ExtractStage = "base"
	// StageFull runs the AI parse and lands in NEEDS_CONFIRMATION.
	StageFull ExtractStage = "full"
)

// ParseExtractStage maps a request string to a stage. Empty means full.
func ParseExtractStage(s string) (ExtractStage, error) {
	switch ExtractStage(strings.ToLower(strings.TrimSpace(s))) {
	case "", StageFull:
		return StageFull, nil
	case StageFetch:
		return StageFetch, nil
	case StageBase:
		return StageBase, nil
	}
	return "", errValidation("invalid_stage", []string{"stage"})
}

// ExtractResult is what an extract run hands back to the transport.
type ExtractResult struct {
	Session  *model.PropertySession `json:"session"`
	Created  bool                   `json:"created"`
	Facts    *model.ListingFacts    `json:"facts,omitempty"`
	Snippets []string               `json:"snippets,omitempty"`
}

// Extract runs the extract stage for one listing URL. The session is
// resolved idempotently per (user, listing); re-extracting a known
// listing reuses the session, still consumes one extract unit and
// overwrites the raw facts.
func (p *Pipeline) Extract(ctx context.Context, userID, rawURL string, stage ExtractStage) (*ExtractResult, error) {
	normalized, listingID, err := parseListingRef(rawURL)
	if err != nil {
		return nil, err
	}

	if err := p.ledger.Ensure(ctx, userID); err != nil {
		return nil, err
	}

	sess, created, err := p.store.CreateOrGetSession(ctx, userID, normalized, listingID)
	if err != nil {
		if errors.Is(err, store.ErrSessionCap) {
			return nil, errForbidden("MAX_LINKS_REACHED")
		}
		return nil, err
	}

	if _, err := p.ledger.CheckAndConsume(ctx, userID, model.ActionExtract, sess.ID); err != nil {
		var exceeded *quota.ExceededError
		if errors.As(err, &exceeded) {
			return nil, errQuotaExceeded(exceeded.Action, exceeded.Used, exceeded.Limit)
		}
		return nil, err
	}

	html, err := p.fetch.FetchHTML(ctx, normalized)
	if err != nil {
		p.ledger.MaybeRefund(ctx, userID, model.ActionExtract, sess.ID, "fetch failed")
		return nil, errUpstream("fetch_failed", err)
	}

	if err := p.store.TouchExtracted(ctx, sess.ID, p.now()); err != nil {
		return nil, err
	}

	result := &ExtractResult{Session: sess, Created: created}

	switch stage {
	case StageFetch:
		if err := p.guard(ctx, sess, session.ExtractFetched()); err != nil {
			return nil, err
		}
		result.Snippets = pageSnippets(html)
		return result, nil

	case StageBase:
		facts := baseFacts(html)
		if err := p.store.UpsertRawFacts(ctx, sess.ID, facts); err != nil {
			return nil, err
		}
		if err := p.guard(ctx, sess, session.ExtractBase()); err != nil {
			return nil, err
		}
		result.Facts = &facts
		return result, nil
	}

	resp, err := p.ai.Generate(ctx, aimodelRequest(extractSystemPrompt, extractPrompt(normalized, html), p.cfg))
	if err != nil {
		p.ledger.MaybeRefund(ctx, userID, model.ActionExtract, sess.ID, "ai call failed")
		return nil, errUpstream("ai_failed", err)
	}
	resp.Usage.LogCost(p.cfg.Model, "extract")

	var facts model.ListingFacts
	if err := decodeLoose(resp.Text, &facts); err != nil {
		zap.L().Warn("pipeline: extract output unparseable",
			zap.String("session_id", sess.ID),
			zap.Error(err),
		)
		p.ledger.MaybeRefund(ctx, userID, model.ActionExtract, sess.ID, "unparseable output")
		return nil, errUpstream("unparseable_output", err)
	}

	if err := p.guard(ctx, sess, session.Resolve(sess.Status, model.StatusAIParsed)); err != nil {
		return nil, err
	}
	if err := p.store.UpsertRawFacts(ctx, sess.ID, facts); err != nil {
		return nil, err
	}
	if err := p.guard(ctx, sess, session.ExtractFinalize()); err != nil {
		return nil, err
	}

	result.Facts = &facts
	return result, nil
}

var (
	tagPattern      = regexp.MustCompile(`(?s)<(script|style)[^>]*>.*?</(script|style)>|<[^>]+>`)
	spacePattern    = regexp.MustCompile(`\s+`)
	titlePattern    = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)
	pricePattern    = regexp.MustCompile(`£[\d,]+(?:,\d{3})*`)
	bedroomsPattern = regexp.MustCompile(`(?i)(\d+)\s+bedroom`)
)

// pageSnippets returns short plain-text excerpts of the page for a
// fetch-only extract: the title plus the leading body text.
func pageSnippets(html string) []string {
	var snippets []string
	if m := titlePattern.FindStringSubmatch(html); m != nil {
		snippets = append(snippets, strings.TrimSpace(m[1]))
	}
	text := spacePattern.ReplaceAllString(tagPattern.ReplaceAllString(html, " "), " ")
	text = strings.TrimSpace(text)
	const chunk = 400
	for i := 0; i < len(text) && len(snippets) < 4; i += chunk {
		end := min(i+chunk, len(text))
		snippets = append(snippets, text[i:end])
	}
	return snippets
}

// baseFacts pulls the cheap regex-visible fields out of the page. Base
// extraction is deliberately partial; it never reaches confirmation.
func baseFacts(html string) model.ListingFacts {
	var facts model.ListingFacts
	if m := pricePattern.FindString(html); m != "" {
		facts.Price = m
	}
	if m := bedroomsPattern.FindStringSubmatch(html); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			facts.Bedrooms = n
		}
	}
	if m := titlePattern.FindStringSubmatch(html); m != nil {
		facts.Description = strings.TrimSpace(m[1])
	}
	return facts
}
