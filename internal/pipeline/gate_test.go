package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dwellscope/listing-cli/internal/model"
)

func allHighRawStats(sessionID string) model.RawStats {
	rs := model.RawStats{
		SessionID: sessionID,
		Fields:    make(map[string]model.FieldAnnotation),
	}
	for _, field := range model.RequiredStatsFields() {
		rs.Fields[field] = model.FieldAnnotation{
			Value:      42,
			Confidence: model.ConfidenceHigh,
			Sources:    []string{"https://example.com/source"},
		}
	}
	return rs
}

func TestGate_AllHighPasses(t *testing.T) {
	decision := evaluateGate(allHighRawStats("sess-1"))
	assert.True(t, decision.Pass)
	assert.Empty(t, decision.Insufficient)
	for _, field := range model.RequiredStatsFields() {
		assert.Equal(t, model.ConfidenceHigh, decision.Resolved[field])
	}
}

func TestGate_MediumIsSufficient(t *testing.T) {
	rs := allHighRawStats("sess-1")
	ann := rs.Fields["safety_score"]
	ann.Confidence = model.ConfidenceMedium
	rs.Fields["safety_score"] = ann

	decision := evaluateGate(rs)
	assert.True(t, decision.Pass)
}

func TestGate_SingleLowFieldFails(t *testing.T) {
	for _, field := range model.RequiredStatsFields() {
		t.Run(field, func(t *testing.T) {
			rs := allHighRawStats("sess-1")
			ann := rs.Fields[field]
			ann.Confidence = model.ConfidenceLow
			rs.Fields[field] = ann

			decision := evaluateGate(rs)
			assert.False(t, decision.Pass)
			assert.Equal(t, []string{field}, decision.Insufficient)
		})
	}
}

func TestGate_MissingFieldFails(t *testing.T) {
	rs := allHighRawStats("sess-1")
	delete(rs.Fields, "supermarket_name")

	decision := evaluateGate(rs)
	assert.False(t, decision.Pass)
	assert.Equal(t, []string{"supermarket_name"}, decision.Insufficient)
	assert.Equal(t, model.ConfidenceLow, decision.Resolved["supermarket_name"])
}

func TestGate_BatchFallbackWhenAnnotationSilent(t *testing.T) {
	rs := allHighRawStats("sess-1")
	ann := rs.Fields["commute_mode"]
	ann.Confidence = ""
	rs.Fields["commute_mode"] = ann
	rs.RequiredConfidence = map[string]model.ConfidenceLevel{
		"commute_mode": model.ConfidenceMedium,
	}

	decision := evaluateGate(rs)
	assert.True(t, decision.Pass)
	assert.Equal(t, model.ConfidenceMedium, decision.Resolved["commute_mode"])
}

func TestGate_NoAnnotationNoBatchFailsClosed(t *testing.T) {
	rs := allHighRawStats("sess-1")
	ann := rs.Fields["commute_mode"]
	ann.Confidence = ""
	rs.Fields["commute_mode"] = ann

	decision := evaluateGate(rs)
	assert.False(t, decision.Pass)
	assert.Equal(t, model.ConfidenceLow, decision.Resolved["commute_mode"])
}

func TestGate_UnknownConfidenceStringFailsClosed(t *testing.T) {
	rs := allHighRawStats("sess-1")
	ann := rs.Fields["safety_score"]
	ann.Confidence = model.ConfidenceLevel("certain")
	rs.Fields["safety_score"] = ann

	decision := evaluateGate(rs)
	assert.False(t, decision.Pass)
	assert.Equal(t, []string{"safety_score"}, decision.Insufficient)
}

func TestBuildConfirmedStats_NarrowsToRequiredFields(t *testing.T) {
	rs := allHighRawStats("sess-1")
	rs.Fields["gym_distance_m"] = model.FieldAnnotation{Value: 300, Confidence: model.ConfidenceHigh}

	decision := evaluateGate(rs)
	require.True(t, decision.Pass)

	at := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	cs := buildConfirmedStats(rs, decision, at)

	assert.Equal(t, "sess-1", cs.SessionID)
	assert.False(t, cs.ConfirmedByUser)
	assert.Equal(t, at, cs.ConfirmedAt)
	assert.Len(t, cs.Fields, len(model.RequiredStatsFields()))
	assert.NotContains(t, cs.Fields, "gym_distance_m")
	assert.Equal(t, []string{"https://example.com/source"}, cs.RequiredSource["safety_score"])
}

func TestValidateStatsDraft(t *testing.T) {
	draft := make(map[string]model.FieldAnnotation)
	for _, field := range model.RequiredStatsFields() {
		if numericStatsFields[field] {
			draft[field] = model.FieldAnnotation{Value: float64(10)}
		} else {
			draft[field] = model.FieldAnnotation{Value: "walk"}
		}
	}
	assert.Empty(t, validateStatsDraft(draft))

	missing := make(map[string]model.FieldAnnotation)
	for k, v := range draft {
		missing[k] = v
	}
	delete(missing, "safety_score")
	assert.Equal(t, []string{"safety_score"}, validateStatsDraft(missing))

	mistyped := make(map[string]model.FieldAnnotation)
	for k, v := range draft {
		mistyped[k] = v
	}
	mistyped["commute_total_minutes"] = model.FieldAnnotation{Value: "about forty"}
	assert.Equal(t, []string{"commute_total_minutes"}, validateStatsDraft(mistyped))
}
