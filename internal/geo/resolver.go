// Package geo computes great-circle distances between a hazard epicenter
// and candidate assets, and classifies each asset into a discrete risk band
// derived from the hazard's magnitude and depth. Everything here is pure:
// same inputs, same outputs, no ordering dependence.
package geo

import (
	"math"

	"github.com/tidewatch/go-hazard-alerts/internal/models"
)

const earthRadiusKM = 6371

// DistanceKM returns the haversine great-circle distance in kilometers.
func DistanceKM(a, b models.Coordinates) float64 {
	phi1 := a.Latitude * math.Pi / 180
	phi2 := b.Latitude * math.Pi / 180
	deltaPhi := (b.Latitude - a.Latitude) * math.Pi / 180
	deltaLambda := (b.Longitude - a.Longitude) * math.Pi / 180

	h := math.Sin(deltaPhi/2)*math.Sin(deltaPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*
			math.Sin(deltaLambda/2)*math.Sin(deltaLambda/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))

	return earthRadiusKM * c
}

// Radii are the four concentric impact radii for a hazard, in kilometers.
// Critical is the tightest ring, Low the widest; anything beyond Low is
// unaffected.
type Radii struct {
	Critical float64
	High     float64
	Moderate float64
	Low      float64
}

// Band multipliers over the base radius, tightest ring first.
const (
	criticalFactor = 10
	highFactor     = 30
	moderateFactor = 80
	lowFactor      = 150
)

// ImpactRadii derives the ring radii from magnitude and depth. The base
// radius grows exponentially with magnitude (tracking Richter energy
// scaling) and shrinks for deeper hypocenters.
func ImpactRadii(magnitude, depthKM float64) Radii {
	// 10^(0.5*(M - depth/100)) meters, converted to kilometers.
	base := math.Pow(10, 0.5*(magnitude-depthKM/100)) / 1000
	return Radii{
		Critical: base * criticalFactor,
		High:     base * highFactor,
		Moderate: base * moderateFactor,
		Low:      base * lowFactor,
	}
}

// Band maps a distance to the tightest ring containing it. The second
// return is false when the distance falls outside all rings.
func (r Radii) Band(distanceKM float64) (models.RiskBand, bool) {
	switch {
	case distanceKM <= r.Critical:
		return models.RiskBandCritical, true
	case distanceKM <= r.High:
		return models.RiskBandHigh, true
	case distanceKM <= r.Moderate:
		return models.RiskBandModerate, true
	case distanceKM <= r.Low:
		return models.RiskBandLow, true
	}
	return "", false
}

// Affected pairs an asset with its computed distance and band.
type Affected struct {
	Asset      models.Asset
	DistanceKM float64
	Band       models.RiskBand
}

// Resolution splits candidates into those inside the impact radius and
// those that could not be placed. Candidates without a known position are
// neither safe nor unsafe; they are surfaced in Unresolved.
type Resolution struct {
	Affected   []Affected
	Unresolved []models.Asset
}

// Resolve classifies every candidate against the hazard's impact rings.
func Resolve(epicenter models.Coordinates, magnitude, depthKM float64, candidates []models.Asset) Resolution {
	radii := ImpactRadii(magnitude, depthKM)

	var res Resolution
	for _, a := range candidates {
		pos, ok := a.Position()
		if !ok {
			res.Unresolved = append(res.Unresolved, a)
			continue
		}
		dist := DistanceKM(epicenter, pos)
		band, inside := radii.Band(dist)
		if !inside {
			continue
		}
		res.Affected = append(res.Affected, Affected{
			Asset:      a,
			DistanceKM: dist,
			Band:       band,
		})
	}
	return res
}
