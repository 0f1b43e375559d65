package pipeline

import (
	"fmt"
	"strings"

	"github.com/dwellscope/listing-cli/internal/model"
)

const extractSystemPrompt = `You are a UK property listing parser. You receive the raw HTML of a
property listing page and return the listing's structured facts as JSON.

Return ONLY a JSON object with these keys:
{
  "price": "asking price as displayed, e.g. £450,000",
  "address": "display address",
  "postcode": "postcode or outcode if shown, else omit",
  "property_type": "e.g. flat, terraced, semi-detached, detached",
  "bedrooms": <integer>,
  "bathrooms": <integer, omit if unknown>,
  "tenure": "freehold|leasehold|share of freehold, omit if unknown",
  "size_sqm": <number, omit if unknown>,
  "description": "one-paragraph summary of the listing description",
  "features": ["key features as listed"]
}

Use only what the page states. Never invent values; omit unknown keys.`

// extractMaxHTMLBytes caps how much page HTML is inlined in the prompt.
const extractMaxHTMLBytes = 120_000

func extractPrompt(listingURL, html string) string {
	if len(html) > extractMaxHTMLBytes {
		html = html[:extractMaxHTMLBytes]
	}
	return fmt.Sprintf("Listing URL: %s\n\nPage HTML:\n%s", listingURL, html)
}

const statsSystemPrompt = `You are a UK residential location researcher. Given a property's
confirmed facts and the buyer's commute preferences, research the
location using web search and return neighbourhood statistics as JSON.

Return ONLY a JSON object of this shape:
{
  "fields": {
    "<field_name>": {
      "value": <number or string>,
      "confidence": "low|medium|high",
      "sources": ["url", ...],
      "notes": "optional short note"
    }
  },
  "required_confidence": {"<field_name>": "low|medium|high"},
  "optional_confidence": {"<field_name>": "low|medium|high"}
}

Required fields (all must appear under "fields"):
  commute_total_minutes, commute_walk_minutes, commute_mode,
  nearest_station_distance_m, nearest_station_name,
  supermarket_distance_m, supermarket_name,
  green_space_distance_m, green_space_name, safety_score

Distances are metres, times are minutes, safety_score is 0-10.
Report honest confidence: "high" only for values you verified against a
source. You may add extra fields beyond the required set.`

func statsPrompt(facts model.ListingFacts, prefs model.Preferences) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Property:\n  address: %s\n", facts.Address)
	if facts.Postcode != "" {
		fmt.Fprintf(&b, "  postcode: %s\n", facts.Postcode)
	}
	fmt.Fprintf(&b, "  type: %s, bedrooms: %d, price: %s\n", facts.PropertyType, facts.Bedrooms, facts.Price)

	fmt.Fprintf(&b, "\nBuyer preferences:\n  commute destination: %s\n  commute mode: %s\n",
		prefs.CommuteDestination, prefs.CommuteMode)
	if prefs.MaxCommuteMinutes > 0 {
		fmt.Fprintf(&b, "  max commute minutes: %d\n", prefs.MaxCommuteMinutes)
	}
	if len(prefs.Priorities) > 0 {
		fmt.Fprintf(&b, "  priorities: %s\n", strings.Join(prefs.Priorities, ", "))
	}
	return b.String()
}

const evaluateSystemPrompt = `You are a UK property buying advisor. Given a property's confirmed
facts, its confirmed location statistics and the buyer's preferences,
produce an overall evaluation.

Return ONLY a JSON object:
{
  "score": <number 0-10, one decimal place>,
  "summary": "3-5 sentence verdict",
  "pros": ["...", ...],
  "cons": ["...", ...]
}

Weigh the commute against the buyer's stated maximum, value for money
for the area, and the buyer's priorities. Be direct about weaknesses.`

func evaluatePrompt(facts model.ListingFacts, stats model.ConfirmedStats, prefs model.Preferences) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Facts:\n  address: %s\n  price: %s\n  type: %s\n  bedrooms: %d\n",
		facts.Address, facts.Price, facts.PropertyType, facts.Bedrooms)
	if facts.Tenure != "" {
		fmt.Fprintf(&b, "  tenure: %s\n", facts.Tenure)
	}
	if facts.SizeSqm > 0 {
		fmt.Fprintf(&b, "  size_sqm: %.1f\n", facts.SizeSqm)
	}

	b.WriteString("\nLocation statistics:\n")
	for _, field := range model.RequiredStatsFields() {
		if ann, ok := stats.Fields[field]; ok {
			fmt.Fprintf(&b, "  %s: %v (confidence %s)\n", field, ann.Value, stats.RequiredConfidence[field])
		}
	}

	fmt.Fprintf(&b, "\nBuyer preferences:\n  commute destination: %s\n  commute mode: %s\n",
		prefs.CommuteDestination, prefs.CommuteMode)
	if prefs.MaxCommuteMinutes > 0 {
		fmt.Fprintf(&b, "  max commute minutes: %d\n", prefs.MaxCommuteMinutes)
	}
	if len(prefs.Priorities) > 0 {
		fmt.Fprintf(&b, "  priorities: %s\n", strings.Join(prefs.Priorities, ", "))
	}
	return b.String()
}
