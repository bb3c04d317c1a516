package policy

import (
	"errors"
	"testing"
	"time"

	"github.com/tidewatch/go-hazard-alerts/internal/models"
)

func TestDefault_Valid(t *testing.T) {
	tbl := Default()

	// Severity 5 seismic must carry every channel.
	chans, err := tbl.ChannelsFor(models.HazardTypeSeismic, 5)
	if err != nil {
		t.Fatalf("ChannelsFor failed: %v", err)
	}
	want := map[models.Channel]bool{
		models.ChannelEmail: true, models.ChannelChat: true,
		models.ChannelSMS: true, models.ChannelVoice: true,
	}
	for _, c := range chans {
		delete(want, c)
	}
	if len(want) != 0 {
		t.Errorf("severity 5 missing channels: %v", want)
	}

	// Severity 3 adds SMS and chat but not voice.
	chans, err = tbl.ChannelsFor(models.HazardTypeSeismic, 3)
	if err != nil {
		t.Fatalf("ChannelsFor failed: %v", err)
	}
	for _, c := range chans {
		if c == models.ChannelVoice {
			t.Error("severity 3 must not include voice")
		}
	}
	if len(chans) != 3 {
		t.Errorf("severity 3 channels = %v, want email+chat+sms", chans)
	}
}

func TestChannels_MonotonicAcrossSeverities(t *testing.T) {
	tbl := Default()
	for _, typ := range []models.HazardType{models.HazardTypeSeismic, models.HazardTypeTsunami} {
		prev := map[models.Channel]bool{}
		for sev := 1; sev <= 5; sev++ {
			chans, err := tbl.ChannelsFor(typ, sev)
			if err != nil {
				t.Fatalf("ChannelsFor(%s, %d) failed: %v", typ, sev, err)
			}
			cur := map[models.Channel]bool{}
			for _, c := range chans {
				cur[c] = true
			}
			for c := range prev {
				if !cur[c] {
					t.Errorf("%s severity %d dropped channel %s", typ, sev, c)
				}
			}
			prev = cur
		}
	}
}

func TestPolicyFor_SelectsBySeverity(t *testing.T) {
	tbl := Default()

	p, err := tbl.PolicyFor(models.HazardTypeSeismic, 5)
	if err != nil {
		t.Fatalf("PolicyFor failed: %v", err)
	}
	if p.ID != "critical" {
		t.Errorf("severity 5 policy = %s, want critical", p.ID)
	}
	if len(p.Steps) == 0 {
		t.Fatal("policy has no steps")
	}
	if p.Steps[0].Wait != 5*time.Minute {
		t.Errorf("first step wait = %v, want 5m", p.Steps[0].Wait)
	}

	p, err = tbl.PolicyFor(models.HazardTypeTsunami, 1)
	if err != nil {
		t.Fatalf("PolicyFor failed: %v", err)
	}
	if p.ID != "routine" {
		t.Errorf("severity 1 policy = %s, want routine", p.ID)
	}
}

func TestParse_RejectsPartialMatrix(t *testing.T) {
	// Severity 4 is missing for SEISMIC: the mapping must be total.
	broken := `
channels:
  SEISMIC:
    1: [email]
    2: [email]
    3: [email, sms]
    5: [email, sms, voice]
escalation_policies:
  - id: p
    hazard_types: [SEISMIC]
    min_severity: 1
    max_severity: 5
    steps:
      - { wait: 10m, max_tier: 0 }
`
	_, err := Parse([]byte(broken))
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Errorf("expected ConfigError for partial matrix, got %v", err)
	}
}

func TestParse_RejectsChannelRegression(t *testing.T) {
	broken := `
channels:
  SEISMIC:
    1: [email, sms]
    2: [email]
    3: [email, sms]
    4: [email, sms]
    5: [email, sms]
escalation_policies:
  - id: p
    hazard_types: [SEISMIC]
    min_severity: 1
    max_severity: 5
    steps:
      - { wait: 10m, max_tier: 0 }
`
	_, err := Parse([]byte(broken))
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Errorf("expected ConfigError for channel regression, got %v", err)
	}
}

func TestParse_ExcludedTypeHasNoChannels(t *testing.T) {
	cfg := `
channels:
  SEISMIC:
    1: [email]
    2: [email]
    3: [email]
    4: [email]
    5: [email]
excluded_types: [TSUNAMI]
escalation_policies:
  - id: p
    hazard_types: [SEISMIC]
    min_severity: 1
    max_severity: 5
    steps:
      - { wait: 10m, max_tier: 0 }
`
	tbl, err := Parse([]byte(cfg))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if !tbl.Excluded(models.HazardTypeTsunami) {
		t.Error("TSUNAMI should be excluded")
	}
	chans, err := tbl.ChannelsFor(models.HazardTypeTsunami, 5)
	if err != nil || chans != nil {
		t.Errorf("excluded type: got (%v, %v), want (nil, nil)", chans, err)
	}
}
