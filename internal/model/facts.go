package model

import "time"

// ListingFacts holds the structured facts extracted from a listing page.
type ListingFacts struct {
	Price        string   `json:"price"`
	Address      string   `json:"address"`
	Postcode     string   `json:"postcode,omitempty"`
	PropertyType string   `json:"property_type"`
	Bedrooms     int      `json:"bedrooms"`
	Bathrooms    int      `json:"bathrooms,omitempty"`
	Tenure       string   `json:"tenure,omitempty"`
	SizeSqm      float64  `json:"size_sqm,omitempty"`
	Description  string   `json:"description,omitempty"`
	Features     []string `json:"features,omitempty"`
}

// MissingRequired returns the names of required facts fields that are
// absent from f, in a stable order. Empty means f is confirmable.
func (f ListingFacts) MissingRequired() []string {
	var missing []string
	if f.Price == "" {
		missing = append(missing, "price")
	}
	if f.Address == "" {
		missing = append(missing, "address")
	}
	if f.PropertyType == "" {
		missing = append(missing, "property_type")
	}
	if f.Bedrooms <= 0 {
		missing = append(missing, "bedrooms")
	}
	return missing
}

// RawFacts is the unvalidated AI extraction output for a session,
// upserted keyed by session id.
type RawFacts struct {
	SessionID string       `json:"session_id"`
	Facts     ListingFacts `json:"facts"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// ConfirmedFacts is the accepted facts record consumed by compute-stats.
type ConfirmedFacts struct {
	SessionID       string       `json:"session_id"`
	Facts           ListingFacts `json:"facts"`
	ConfirmedByUser bool         `json:"confirmed_by_user"`
	ConfirmedAt     time.Time    `json:"confirmed_at"`
}
