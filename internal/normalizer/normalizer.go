// Package normalizer canonicalizes raw hazard feed records into immutable
// HazardEvents: it validates coordinates and magnitude, derives the 1-5
// severity score, and deduplicates replayed records by (source, externalID)
// so at-least-once feeds never create duplicate events.
package normalizer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tidewatch/go-hazard-alerts/internal/models"
	"github.com/tidewatch/go-hazard-alerts/internal/repository"
)

// RawRecord is a feed record before validation. Optional numeric fields are
// pointers so a missing magnitude is distinguishable from zero.
type RawRecord struct {
	Source      string
	ExternalID  string
	Type        models.HazardType
	Title       string
	Description string
	Magnitude   *float64
	DepthKM     float64
	Latitude    *float64
	Longitude   *float64
	TsunamiFlag bool
	OccurredAt  time.Time
	Raw         []byte
}

// ValidationError rejects a malformed record; it never aborts the
// surrounding batch.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid hazard record: %s %s", e.Field, e.Reason)
}

// Normalize validates a raw record and produces the canonical event.
func Normalize(r RawRecord, now time.Time) (*models.HazardEvent, error) {
	if r.Source == "" {
		return nil, &ValidationError{Field: "source", Reason: "missing"}
	}
	if r.ExternalID == "" {
		return nil, &ValidationError{Field: "externalId", Reason: "missing"}
	}
	if r.Magnitude == nil {
		return nil, &ValidationError{Field: "magnitude", Reason: "missing"}
	}
	if *r.Magnitude <= 0 {
		return nil, &ValidationError{Field: "magnitude", Reason: "must be positive"}
	}
	if r.Latitude == nil || r.Longitude == nil {
		return nil, &ValidationError{Field: "epicenter", Reason: "missing coordinates"}
	}
	if *r.Latitude < -90 || *r.Latitude > 90 {
		return nil, &ValidationError{Field: "epicenter.lat", Reason: "out of range"}
	}
	if *r.Longitude < -180 || *r.Longitude > 180 {
		return nil, &ValidationError{Field: "epicenter.lon", Reason: "out of range"}
	}

	typ := r.Type
	if typ == "" {
		typ = models.HazardTypeSeismic
	}

	return &models.HazardEvent{
		ID:          models.DedupKey(r.Source, r.ExternalID),
		Source:      r.Source,
		ExternalID:  r.ExternalID,
		Type:        typ,
		Title:       r.Title,
		Description: r.Description,
		Magnitude:   *r.Magnitude,
		DepthKM:     r.DepthKM,
		Latitude:    *r.Latitude,
		Longitude:   *r.Longitude,
		TsunamiFlag: r.TsunamiFlag,
		OccurredAt:  r.OccurredAt,
		Raw:         r.Raw,
		CreatedAt:   now,
	}, nil
}

// Severity scores a hazard 1-5. The score is non-decreasing in magnitude
// and non-increasing in depth; a tsunami flag adds one level. The effective
// magnitude discounts depth because deep events shed most of their energy
// before reaching the surface.
func Severity(magnitude, depthKM float64, tsunami bool) int {
	effective := magnitude - depthKM/100

	var score int
	switch {
	case effective < 4.5:
		score = 1
	case effective < 5.5:
		score = 2
	case effective < 6.5:
		score = 3
	case effective < 7.5:
		score = 4
	default:
		score = 5
	}

	if tsunami {
		score++
	}
	if score > 5 {
		score = 5
	}
	return score
}

// Ingestor performs idempotent ingestion against the event store.
type Ingestor struct {
	repo repository.HazardEventRepository
	now  func() time.Time
}

func NewIngestor(repo repository.HazardEventRepository) *Ingestor {
	return &Ingestor{repo: repo, now: time.Now}
}

// Ingest normalizes and persists a raw record. created=false means the
// dedup key already existed and the record was dropped without side
// effects.
func (i *Ingestor) Ingest(ctx context.Context, r RawRecord) (*models.HazardEvent, bool, error) {
	event, err := Normalize(r, i.now().UTC())
	if err != nil {
		return nil, false, err
	}

	created, err := i.repo.CreateHazardIfAbsent(ctx, event)
	if err != nil {
		return nil, false, fmt.Errorf("error persisting hazard event: %w", err)
	}
	if !created {
		slog.Debug("duplicate hazard record ignored", "id", event.ID)
		return event, false, nil
	}
	return event, true, nil
}
