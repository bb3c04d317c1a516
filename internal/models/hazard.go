package models

import "time"

type HazardType string

const (
	HazardTypeUnknown HazardType = "UNKNOWN"
	HazardTypeSeismic HazardType = "SEISMIC"
	HazardTypeTsunami HazardType = "TSUNAMI"
)

type HazardEvent struct {
	ID          string // Stable dedup key from source + external ID (e.g., "usgs_ci40462000")
	Source      string // "usgs", "gdacs"
	ExternalID  string
	Type        HazardType
	Title       string
	Description string
	Magnitude   float64 // Richter scale
	DepthKM     float64 // Hypocenter depth; shallower events carry more surface risk
	Latitude    float64
	Longitude   float64
	TsunamiFlag bool
	OccurredAt  time.Time // when the event occurred
	Raw         []byte    // original JSON/XML for debugging
	CreatedAt   time.Time // when we ingested it
}

type Coordinates struct {
	Latitude  float64
	Longitude float64
}

func (e *HazardEvent) Coordinates() Coordinates {
	return Coordinates{
		Latitude:  e.Latitude,
		Longitude: e.Longitude,
	}
}

// DedupKey builds the canonical HazardEvent ID. Re-ingesting a record with
// the same (source, externalID) always maps to the same key.
func DedupKey(source, externalID string) string {
	return source + "_" + externalID
}
