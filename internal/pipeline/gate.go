package pipeline

import (
	"time"

	"github.com/dwellscope/listing-cli/internal/model"
)

// GateDecision is the confidence gate's verdict over one raw stats row.
type GateDecision struct {
	Pass bool
	// Resolved carries the effective confidence of every required field
	// after the fail-closed resolution chain.
	Resolved map[string]model.ConfidenceLevel
	// Insufficient lists the required fields that resolved below medium,
	// in the canonical field order.
	Insufficient []string
}

// evaluateGate resolves the confidence of every required field and
// decides auto-confirmation. Resolution order per field: the field's
// own annotation, then the batch required_confidence map, then low.
// A missing field, an unknown confidence string, or an explicit low all
// fail closed.
func evaluateGate(rs model.RawStats) GateDecision {
	decision := GateDecision{
		Pass:     true,
		Resolved: make(map[string]model.ConfidenceLevel, len(model.RequiredStatsFields())),
	}

	for _, field := range model.RequiredStatsFields() {
		level := model.ConfidenceLow

		ann, present := rs.Fields[field]
		switch {
		case present && ann.Confidence != "":
			level, _ = model.ParseConfidence(string(ann.Confidence))
		case present:
			if batch, ok := rs.RequiredConfidence[field]; ok {
				level, _ = model.ParseConfidence(string(batch))
			}
		}

		decision.Resolved[field] = level
		if !present || !level.Sufficient() {
			decision.Pass = false
			decision.Insufficient = append(decision.Insufficient, field)
		}
	}
	return decision
}

// buildConfirmedStats narrows a gate-passing raw row to the confirmed
// record: exactly the required fields, their resolved confidences and
// their sources.
func buildConfirmedStats(rs model.RawStats, decision GateDecision, at time.Time) model.ConfirmedStats {
	cs := model.ConfirmedStats{
		SessionID:          rs.SessionID,
		Fields:             make(map[string]model.FieldAnnotation, len(decision.Resolved)),
		RequiredConfidence: make(map[string]model.ConfidenceLevel, len(decision.Resolved)),
		RequiredSource:     make(map[string][]string),
		ConfirmedByUser:    false,
		ConfirmedAt:        at,
	}
	for _, field := range model.RequiredStatsFields() {
		ann, ok := rs.Fields[field]
		if !ok {
			continue
		}
		cs.Fields[field] = ann
		cs.RequiredConfidence[field] = decision.Resolved[field]
		if len(ann.Sources) > 0 {
			cs.RequiredSource[field] = ann.Sources
		}
	}
	return cs
}

// numericStatsFields are the required fields whose values must be
// numbers in a manual confirmation draft.
var numericStatsFields = map[string]bool{
	"commute_total_minutes":      true,
	"commute_walk_minutes":       true,
	"nearest_station_distance_m": true,
	"supermarket_distance_m":     true,
	"green_space_distance_m":     true,
	"safety_score":               true,
}

// validateStatsDraft checks a user-supplied confirmation draft: every
// required field present and well-typed. Returns the offending field
// names in canonical order; empty means the draft is acceptable.
func validateStatsDraft(fields map[string]model.FieldAnnotation) []string {
	var bad []string
	for _, field := range model.RequiredStatsFields() {
		ann, ok := fields[field]
		if !ok || ann.Value == nil {
			bad = append(bad, field)
			continue
		}
		if numericStatsFields[field] {
			switch ann.Value.(type) {
			case float64, int, int64:
			default:
				bad = append(bad, field)
			}
			continue
		}
		s, isString := ann.Value.(string)
		if !isString || s == "" {
			bad = append(bad, field)
		}
	}
	return bad
}
