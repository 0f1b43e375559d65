package model

import "time"

// Preferences holds the per-user inputs compute-stats depends on. The
// core only reads and validates them; they are written by an external
// surface.
type Preferences struct {
	UserID             string    `json:"user_id"`
	CommuteDestination string    `json:"commute_destination"`
	CommuteMode        string    `json:"commute_mode"`
	MaxCommuteMinutes  int       `json:"max_commute_minutes,omitempty"`
	Priorities         []string  `json:"priorities,omitempty"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// MissingMinimum returns the preference fields that must be set before
// compute-stats can run. Empty means the minimum set is complete.
func (p Preferences) MissingMinimum() []string {
	var missing []string
	if p.CommuteDestination == "" {
		missing = append(missing, "commute_destination")
	}
	if p.CommuteMode == "" {
		missing = append(missing, "commute_mode")
	}
	return missing
}
