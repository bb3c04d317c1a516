package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/tidewatch/go-hazard-alerts/internal/models"
	"github.com/tidewatch/go-hazard-alerts/internal/normalizer"
)

type usgsResponse struct {
	Features []usgsFeature `json:"features"`
}

type usgsFeature struct {
	ID         string         `json:"id"`
	Properties usgsProperties `json:"properties"`
	Geometry   usgsGeometry   `json:"geometry"`
}
type usgsProperties struct {
	Mag     *float64 `json:"mag"`
	Place   string   `json:"place"`
	Time    int64    `json:"time"` // unix millis
	Title   string   `json:"title"`
	Tsunami int      `json:"tsunami"` // 0 or 1
}
type usgsGeometry struct {
	Coordinates []float64 `json:"coordinates"` // [lon, lat, depth]
}

func (m *Manager) pollUSGS(ctx context.Context, url string) ([]normalizer.RawRecord, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}

	client := &http.Client{
		Timeout: 15 * time.Second,
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error while doing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d - status: %s", resp.StatusCode, resp.Status)
	}

	var data usgsResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, fmt.Errorf("error decoding resp.Body: %w", err)
	}

	records := make([]normalizer.RawRecord, 0, len(data.Features))
	for _, f := range data.Features {
		raw, _ := json.Marshal(f)
		r := normalizer.RawRecord{
			Source:      "usgs",
			ExternalID:  f.ID,
			Type:        models.HazardTypeSeismic,
			Title:       f.Properties.Title,
			Description: f.Properties.Place,
			Magnitude:   f.Properties.Mag,
			TsunamiFlag: f.Properties.Tsunami == 1,
			OccurredAt:  time.UnixMilli(f.Properties.Time).UTC(),
			Raw:         raw,
		}
		if len(f.Geometry.Coordinates) >= 2 {
			lon, lat := f.Geometry.Coordinates[0], f.Geometry.Coordinates[1]
			r.Longitude = &lon
			r.Latitude = &lat
		}
		if len(f.Geometry.Coordinates) >= 3 {
			r.DepthKM = f.Geometry.Coordinates[2]
		}
		records = append(records, r)
	}

	return records, nil
}
