package model

import (
	"strings"
	"time"
)

// ConfidenceLevel is the three-level confidence attached to an
// AI-produced field. It is always carried as a typed enum; raw model
// strings go through ParseConfidence exactly once at decode time.
type ConfidenceLevel string

const (
	ConfidenceLow    ConfidenceLevel = "low"
	ConfidenceMedium ConfidenceLevel = "medium"
	ConfidenceHigh   ConfidenceLevel = "high"
)

// ParseConfidence maps a model-supplied string to a ConfidenceLevel.
// Unknown or empty strings report ok=false; callers must treat that as
// low (fail-closed), never as sufficient.
func ParseConfidence(s string) (ConfidenceLevel, bool) {
	switch ConfidenceLevel(strings.ToLower(strings.TrimSpace(s))) {
	case ConfidenceLow:
		return ConfidenceLow, true
	case ConfidenceMedium:
		return ConfidenceMedium, true
	case ConfidenceHigh:
		return ConfidenceHigh, true
	}
	return ConfidenceLow, false
}

// Sufficient reports whether c clears the auto-confirmation bar.
func (c ConfidenceLevel) Sufficient() bool {
	return c == ConfidenceMedium || c == ConfidenceHigh
}

// FieldAnnotation is one AI-annotated statistic field.
type FieldAnnotation struct {
	Value      any             `json:"value"`
	Confidence ConfidenceLevel `json:"confidence,omitempty"`
	Sources    []string        `json:"sources,omitempty"`
	Notes      string          `json:"notes,omitempty"`
}

// requiredStatsFields is the fixed set of fields the confidence gate
// inspects. Order is stable for deterministic error payloads.
var requiredStatsFields = []string{
	"commute_total_minutes",
	"commute_walk_minutes",
	"commute_mode",
	"nearest_station_distance_m",
	"nearest_station_name",
	"supermarket_distance_m",
	"supermarket_name",
	"green_space_distance_m",
	"green_space_name",
	"safety_score",
}

// RequiredStatsFields returns the names of the required statistic fields.
func RequiredStatsFields() []string {
	out := make([]string, len(requiredStatsFields))
	copy(out, requiredStatsFields)
	return out
}

// RawStats is the full, unvalidated statistics output for a session.
// All fields the model produced are stored here regardless of
// confidence; only the confirmed record is narrowed.
type RawStats struct {
	SessionID          string                     `json:"session_id"`
	Fields             map[string]FieldAnnotation `json:"fields"`
	RequiredConfidence map[string]ConfidenceLevel `json:"required_confidence,omitempty"`
	OptionalConfidence map[string]ConfidenceLevel `json:"optional_confidence,omitempty"`
	UpdatedAt          time.Time                  `json:"updated_at"`
}

// ConfirmedStats is the accepted statistics record consumed by evaluate.
// It carries exactly the required fields plus their confidence and
// source maps.
type ConfirmedStats struct {
	SessionID          string                     `json:"session_id"`
	Fields             map[string]FieldAnnotation `json:"fields"`
	RequiredConfidence map[string]ConfidenceLevel `json:"required_confidence"`
	RequiredSource     map[string][]string        `json:"required_source,omitempty"`
	ConfirmedByUser    bool                       `json:"confirmed_by_user"`
	ConfirmedAt        time.Time                  `json:"confirmed_at"`
}
