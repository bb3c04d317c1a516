package api

import (
	"github.com/tidewatch/go-hazard-alerts/internal/models"
)

type FeatureCollection struct {
	Type     string    `json:"type"`
	Features []Feature `json:"features"`
}
type Feature struct {
	Type       string         `json:"type"`
	Geometry   Geometry       `json:"geometry"`
	Properties map[string]any `json:"properties"`
}
type Geometry struct {
	Type        string    `json:"type"`
	Coordinates []float64 `json:"coordinates"`
}

func toGeoJSON(events []models.HazardEvent) FeatureCollection {
	features := make([]Feature, 0, len(events))

	for _, e := range events {
		f := Feature{
			Type: "Feature",
			Geometry: Geometry{
				Type:        "Point",
				Coordinates: []float64{e.Longitude, e.Latitude},
			},
			Properties: map[string]any{
				"id":          e.ID,
				"type":        string(e.Type),
				"title":       e.Title,
				"description": e.Description,
				"magnitude":   e.Magnitude,
				"depth_km":    e.DepthKM,
				"tsunami":     e.TsunamiFlag,
				"source":      e.Source,
				"occurred_at": e.OccurredAt,
			},
		}
		features = append(features, f)
	}

	return FeatureCollection{
		Type:     "FeatureCollection",
		Features: features,
	}
}
