// Package policy maps hazard severity to notification channels and selects
// the escalation ladder governing an alert. The matrix is configuration
// data loaded from YAML; the engine never hard-codes thresholds.
package policy

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tidewatch/go-hazard-alerts/internal/models"
)

// ConfigError marks a broken policy table. It is fatal at load time: a
// severity without channels is a missing invariant, not a transient
// condition.
type ConfigError struct {
	Detail string
}

func (e *ConfigError) Error() string {
	return "policy configuration error: " + e.Detail
}

// duration lets YAML carry values like "10m" or "45s".
type duration time.Duration

func (d *duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = duration(parsed)
	return nil
}

type fileFormat struct {
	Channels      map[string]map[int][]string `yaml:"channels"`
	ExcludedTypes []string                    `yaml:"excluded_types"`
	Escalation    []escalationFormat          `yaml:"escalation_policies"`
}

type escalationFormat struct {
	ID          string       `yaml:"id"`
	HazardTypes []string     `yaml:"hazard_types"`
	MinSeverity int          `yaml:"min_severity"`
	MaxSeverity int          `yaml:"max_severity"`
	Steps       []stepFormat `yaml:"steps"`
}

type stepFormat struct {
	Wait     duration `yaml:"wait"`
	MaxTier  int      `yaml:"max_tier"`
	Channels []string `yaml:"channels"`
}

// Table is the loaded, validated policy matrix.
type Table struct {
	channels map[models.HazardType]map[int][]models.Channel
	excluded map[models.HazardType]bool
	policies []models.EscalationPolicy
}

// Load reads and validates a policy table from a YAML file.
func Load(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading policy file: %w", err)
	}
	return Parse(data)
}

// Parse builds a table from YAML bytes.
func Parse(data []byte) (*Table, error) {
	var ff fileFormat
	if err := yaml.Unmarshal(data, &ff); err != nil {
		return nil, fmt.Errorf("error parsing policy file: %w", err)
	}

	t := &Table{
		channels: make(map[models.HazardType]map[int][]models.Channel),
		excluded: make(map[models.HazardType]bool),
	}

	for _, typ := range ff.ExcludedTypes {
		t.excluded[models.HazardType(typ)] = true
	}

	for typ, bySeverity := range ff.Channels {
		m := make(map[int][]models.Channel, len(bySeverity))
		for sev, chans := range bySeverity {
			out := make([]models.Channel, 0, len(chans))
			for _, c := range chans {
				out = append(out, models.Channel(c))
			}
			m[sev] = out
		}
		t.channels[models.HazardType(typ)] = m
	}

	for _, ef := range ff.Escalation {
		p := models.EscalationPolicy{
			ID:          ef.ID,
			MinSeverity: ef.MinSeverity,
			MaxSeverity: ef.MaxSeverity,
		}
		for _, ht := range ef.HazardTypes {
			p.HazardTypes = append(p.HazardTypes, models.HazardType(ht))
		}
		for _, sf := range ef.Steps {
			step := models.EscalationStep{
				Wait:    time.Duration(sf.Wait),
				MaxTier: sf.MaxTier,
			}
			for _, c := range sf.Channels {
				step.Channels = append(step.Channels, models.Channel(c))
			}
			p.Steps = append(p.Steps, step)
		}
		t.policies = append(t.policies, p)
	}

	if err := t.validate(); err != nil {
		return nil, err
	}
	return t, nil
}

// validate enforces that the channel mapping is a total, monotonically
// escalating function over severities 1-5 for every non-excluded hazard
// type, and that every (type, severity) pair resolves to an escalation
// policy with at least one step.
func (t *Table) validate() error {
	for typ, bySeverity := range t.channels {
		if t.excluded[typ] {
			continue
		}
		prev := map[models.Channel]bool{}
		for sev := 1; sev <= 5; sev++ {
			chans, ok := bySeverity[sev]
			if !ok || len(chans) == 0 {
				return &ConfigError{Detail: fmt.Sprintf("no channels for %s severity %d", typ, sev)}
			}
			cur := map[models.Channel]bool{}
			for _, c := range chans {
				cur[c] = true
			}
			for c := range prev {
				if !cur[c] {
					return &ConfigError{Detail: fmt.Sprintf(
						"%s severity %d drops channel %s present at lower severity", typ, sev, c)}
				}
			}
			prev = cur

			if _, err := t.PolicyFor(typ, sev); err != nil {
				return err
			}
		}
	}
	for _, p := range t.policies {
		if len(p.Steps) == 0 {
			return &ConfigError{Detail: fmt.Sprintf("escalation policy %s has no steps", p.ID)}
		}
	}
	return nil
}

// Excluded reports whether the hazard type is configured out of alerting
// entirely.
func (t *Table) Excluded(typ models.HazardType) bool {
	return t.excluded[typ]
}

// ChannelsFor returns the ordered channel list for a hazard type and
// severity. Returns a ConfigError for an unmapped pair.
func (t *Table) ChannelsFor(typ models.HazardType, severity int) ([]models.Channel, error) {
	if t.excluded[typ] {
		return nil, nil
	}
	bySeverity, ok := t.channels[typ]
	if !ok {
		return nil, &ConfigError{Detail: fmt.Sprintf("no channel mapping for hazard type %s", typ)}
	}
	chans, ok := bySeverity[severity]
	if !ok || len(chans) == 0 {
		return nil, &ConfigError{Detail: fmt.Sprintf("no channels for %s severity %d", typ, severity)}
	}
	out := make([]models.Channel, len(chans))
	copy(out, chans)
	return out, nil
}

// PolicyFor selects the escalation ladder for a hazard type and severity.
func (t *Table) PolicyFor(typ models.HazardType, severity int) (*models.EscalationPolicy, error) {
	for i := range t.policies {
		if t.policies[i].Applies(typ, severity) {
			return &t.policies[i], nil
		}
	}
	return nil, &ConfigError{Detail: fmt.Sprintf("no escalation policy for %s severity %d", typ, severity)}
}

// Policies returns the loaded escalation ladders, for the query surface.
func (t *Table) Policies() []models.EscalationPolicy {
	out := make([]models.EscalationPolicy, len(t.policies))
	copy(out, t.policies)
	return out
}
