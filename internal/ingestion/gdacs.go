package ingestion

import (
	"context"
	"encoding/xml"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/tidewatch/go-hazard-alerts/internal/models"
	"github.com/tidewatch/go-hazard-alerts/internal/normalizer"
)

type gdacsRSS struct {
	Channel gdacsChannel `xml:"channel"`
}
type gdacsChannel struct {
	Items []gdacsItem `xml:"item"`
}
type gdacsItem struct {
	Title       string  `xml:"title"`
	Description string  `xml:"description"`
	Link        string  `xml:"link"`
	PubDate     string  `xml:"pubDate"`
	Lat         float64 `xml:"http://www.georss.org/georss point>lat"`
	Lon         float64 `xml:"http://www.georss.org/georss point>lon"`
	EventType   string  `xml:"http://www.gdacs.org gdacs>eventtype"`
	AlertLevel  string  `xml:"http://www.gdacs.org gdacs>alertlevel"`
	EventID     string  `xml:"http://www.gdacs.org gdacs>eventid"`
	Severity    float64 `xml:"http://www.gdacs.org gdacs>severity"`
}

func (m *Manager) pollGDACS(ctx context.Context, url string) ([]normalizer.RawRecord, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}

	client := &http.Client{
		Timeout: 15 * time.Second,
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error doing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d - status: %s", resp.StatusCode, resp.Status)
	}

	var data gdacsRSS
	if err := xml.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, fmt.Errorf("error decoding resp.Body: %w", err)
	}

	records := make([]normalizer.RawRecord, 0, len(data.Channel.Items))
	for _, item := range data.Channel.Items {
		typ := mapGDACSEventType(item.EventType)
		if typ == models.HazardTypeUnknown {
			// GDACS carries floods, cyclones and wildfires too; only
			// seismic and tsunami items feed the alert pipeline.
			slog.Debug("skipping unsupported GDACS event type",
				"id", item.EventID, "event_type", item.EventType)
			continue
		}

		occurredAt, err := time.Parse(time.RFC1123, item.PubDate)
		if err != nil {
			slog.Warn("GDACS timestamp parsing failed", "id", item.EventID, "error", err.Error())
			occurredAt = time.Now().UTC()
		}

		mag := item.Severity
		lat, lon := item.Lat, item.Lon
		raw, _ := xml.Marshal(item)
		records = append(records, normalizer.RawRecord{
			Source:      "gdacs",
			ExternalID:  item.EventID,
			Type:        typ,
			Title:       item.Title,
			Description: item.Description,
			Magnitude:   &mag,
			Latitude:    &lat,
			Longitude:   &lon,
			TsunamiFlag: typ == models.HazardTypeTsunami,
			OccurredAt:  occurredAt.UTC(),
			Raw:         raw,
		})
	}

	return records, nil
}

func mapGDACSEventType(eventType string) models.HazardType {
	switch strings.ToUpper(eventType) {
	case "EQ":
		return models.HazardTypeSeismic
	case "TS":
		return models.HazardTypeTsunami
	default:
		return models.HazardTypeUnknown
	}
}
