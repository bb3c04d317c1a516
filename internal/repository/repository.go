package repository

import (
	"context"
	"errors"
	"time"

	"github.com/tidewatch/go-hazard-alerts/internal/models"
)

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned by compare-and-set updates when the stored
	// version no longer matches; the caller lost a concurrent race and
	// should re-read before retrying.
	ErrConflict = errors.New("version conflict")
)

// HazardFilter narrows hazard event listings.
type HazardFilter struct {
	Limit        int
	Since        *time.Time
	Type         *models.HazardType
	MinMagnitude *float64
}

// AlertFilter narrows alert listings.
type AlertFilter struct {
	Limit    int
	Status   *models.AlertStatus
	Severity *int
	Open     bool // only non-terminal alerts
}

// ChannelStat is one aggregate row of delivery outcomes per channel.
type ChannelStat struct {
	Channel   models.Channel
	Sent      int
	Delivered int
	Read      int
	Failed    int
	Bounced   int
}

type HazardEventRepository interface {
	// CreateHazardIfAbsent inserts the event unless its dedup key already
	// exists; created=false means a replayed feed record was ignored.
	CreateHazardIfAbsent(ctx context.Context, e *models.HazardEvent) (created bool, err error)
	GetHazard(ctx context.Context, id string) (*models.HazardEvent, error)
	ListHazards(ctx context.Context, opts HazardFilter) ([]models.HazardEvent, error)
}

type AlertRepository interface {
	CreateAlert(ctx context.Context, a *models.Alert) error
	GetAlert(ctx context.Context, id string) (*models.Alert, error)
	// FindOpenAlert returns the single non-terminal alert for an event and
	// scope, or ErrNotFound.
	FindOpenAlert(ctx context.Context, hazardEventID, scope string) (*models.Alert, error)
	ListAlerts(ctx context.Context, opts AlertFilter) ([]models.Alert, error)
	// ListDueAlerts returns non-terminal alerts whose next escalation
	// deadline is at or before now.
	ListDueAlerts(ctx context.Context, now time.Time) ([]models.Alert, error)
	// UpdateAlertCAS persists the alert's mutable fields only if the stored
	// version still equals expectedVersion, bumping the version on success.
	// Returns ErrConflict when another writer got there first.
	UpdateAlertCAS(ctx context.Context, a *models.Alert, expectedVersion int64) error
}

type AffectedEntityRepository interface {
	AddAffectedEntities(ctx context.Context, rows []models.AffectedEntity) error
	ListAffectedEntities(ctx context.Context, alertID string) ([]models.AffectedEntity, error)
}

type ContactRepository interface {
	UpsertContact(ctx context.Context, c *models.Contact) error
	GetContact(ctx context.Context, id string) (*models.Contact, error)
	// ListContactsByTier returns contacts whose tier is <= maxTier,
	// restricted to the given IDs when ids is non-empty.
	ListContactsByTier(ctx context.Context, maxTier int, ids []string) ([]models.Contact, error)
}

type AssetRepository interface {
	UpsertAsset(ctx context.Context, a *models.Asset) error
	ListAssets(ctx context.Context) ([]models.Asset, error)
}

type DeliveryLogRepository interface {
	// AppendDelivery inserts a new attempt row. Rows are never deleted.
	AppendDelivery(ctx context.Context, d *models.DeliveryLog) error
	// HasDispatch reports whether any attempt exists for the idempotency
	// key (alert, contact, channel, step).
	HasDispatch(ctx context.Context, alertID, contactID string, ch models.Channel, stepIndex int) (bool, error)
	// MarkDeliverySent/Delivered/Read/Failed advance the status of one
	// specific attempt row.
	MarkDeliverySent(ctx context.Context, id, providerMessageID string, at time.Time) error
	MarkDeliveryDelivered(ctx context.Context, id string, at time.Time) error
	MarkDeliveryRead(ctx context.Context, id string, at time.Time) error
	MarkDeliveryFailed(ctx context.Context, id string, status models.DeliveryStatus, detail string) error
	FindDeliveryByProviderID(ctx context.Context, providerMessageID string) (*models.DeliveryLog, error)
	ListDeliveries(ctx context.Context, alertID string) ([]models.DeliveryLog, error)
	// ChannelStats aggregates delivery outcomes per channel over a window.
	ChannelStats(ctx context.Context, since, until time.Time) ([]ChannelStat, error)
}

// Store is the full persistence surface the engine needs.
type Store interface {
	HazardEventRepository
	AlertRepository
	AffectedEntityRepository
	ContactRepository
	AssetRepository
	DeliveryLogRepository
}
