package models

import "time"

type AlertStatus string

const (
	AlertStatusPending      AlertStatus = "PENDING"
	AlertStatusNotifying    AlertStatus = "NOTIFYING"
	AlertStatusEscalating   AlertStatus = "ESCALATING"
	AlertStatusAcknowledged AlertStatus = "ACKNOWLEDGED"
	AlertStatusResolved     AlertStatus = "RESOLVED"
	AlertStatusExpired      AlertStatus = "EXPIRED"
)

// Terminal reports whether no further transitions may leave the status.
func (s AlertStatus) Terminal() bool {
	switch s {
	case AlertStatusAcknowledged, AlertStatusResolved, AlertStatusExpired:
		return true
	}
	return false
}

// ScopeGlobal marks an alert addressed to every registered contact rather
// than a resolved affected-entity set.
const ScopeGlobal = "global"

// ScopeAffected marks an alert addressed to the contacts of entities the
// geospatial resolver placed inside the impact radius.
const ScopeAffected = "affected"

type Alert struct {
	ID               string
	HazardEventID    string
	Scope            string // ScopeGlobal or ScopeAffected
	Severity         int    // 1-5, fixed at creation
	Status           AlertStatus
	PolicyID         string
	StepIndex        int        // monotonic; -1 until the first dispatch
	NextEscalationAt *time.Time // nil once terminal or out of steps
	Acknowledged     bool
	AcknowledgedBy   string
	AcknowledgedAt   *time.Time
	CreatedAt        time.Time
	ResolvedAt       *time.Time
	Version          int64 // optimistic concurrency token
}

type RiskBand string

const (
	RiskBandCritical RiskBand = "CRITICAL"
	RiskBandHigh     RiskBand = "HIGH"
	RiskBandModerate RiskBand = "MODERATE"
	RiskBandLow      RiskBand = "LOW"
)

// AffectedEntity is an immutable snapshot linking an alert to an asset that
// fell inside the hazard's impact radius. A re-resolution writes new rows
// under a higher pass number instead of editing existing ones.
type AffectedEntity struct {
	ID             int64
	AlertID        string
	AssetID        string
	Kind           AssetKind
	Name           string
	ContactID      string
	DistanceKM     float64
	Band           RiskBand
	ResolutionPass int
	CreatedAt      time.Time
}
