package models

import "time"

// EscalationStep is one rung of an escalation ladder: wait, then notify the
// contacts whose tier is within MaxTier, optionally on an overridden channel
// set.
type EscalationStep struct {
	Wait     time.Duration
	MaxTier  int
	Channels []Channel // empty means use the alert's base channel set
}

// EscalationPolicy is an ordered ladder of steps applied to an
// unacknowledged alert. Policies apply per hazard type and severity range.
type EscalationPolicy struct {
	ID          string
	HazardTypes []HazardType
	MinSeverity int
	MaxSeverity int
	Steps       []EscalationStep
}

// Applies reports whether the policy governs alerts of the given hazard
// type and severity.
func (p *EscalationPolicy) Applies(t HazardType, severity int) bool {
	if severity < p.MinSeverity || severity > p.MaxSeverity {
		return false
	}
	for _, ht := range p.HazardTypes {
		if ht == t {
			return true
		}
	}
	return false
}
