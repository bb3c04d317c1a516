package policy

// defaultYAML is the built-in policy matrix, used when no policy file is
// configured. Severities 1-2 stay on the cheapest channel; 3 adds chat and
// SMS; 4-5 add voice calls.
const defaultYAML = `
channels:
  SEISMIC:
    1: [email]
    2: [email]
    3: [email, chat, sms]
    4: [email, chat, sms, voice]
    5: [email, chat, sms, voice]
  TSUNAMI:
    1: [email]
    2: [email, chat]
    3: [email, chat, sms]
    4: [email, chat, sms, voice]
    5: [email, chat, sms, voice]

escalation_policies:
  - id: routine
    hazard_types: [SEISMIC, TSUNAMI]
    min_severity: 1
    max_severity: 2
    steps:
      - { wait: 30m, max_tier: 0 }
      - { wait: 1h, max_tier: 1 }
  - id: urgent
    hazard_types: [SEISMIC, TSUNAMI]
    min_severity: 3
    max_severity: 4
    steps:
      - { wait: 10m, max_tier: 0 }
      - { wait: 20m, max_tier: 1 }
      - { wait: 30m, max_tier: 2 }
  - id: critical
    hazard_types: [SEISMIC, TSUNAMI]
    min_severity: 5
    max_severity: 5
    steps:
      - { wait: 5m, max_tier: 0 }
      - { wait: 10m, max_tier: 1, channels: [voice, sms, chat, email] }
      - { wait: 15m, max_tier: 3, channels: [voice, sms, chat, email] }
`

// Default returns the built-in policy table.
func Default() *Table {
	t, err := Parse([]byte(defaultYAML))
	if err != nil {
		// The embedded table is validated by tests; failing here means the
		// binary shipped with broken defaults.
		panic(err)
	}
	return t
}
