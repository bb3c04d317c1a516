package ingestion

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/tidewatch/go-hazard-alerts/internal/config"
	"github.com/tidewatch/go-hazard-alerts/internal/dispatch"
	"github.com/tidewatch/go-hazard-alerts/internal/escalation"
	"github.com/tidewatch/go-hazard-alerts/internal/models"
	"github.com/tidewatch/go-hazard-alerts/internal/normalizer"
	"github.com/tidewatch/go-hazard-alerts/internal/policy"
	"github.com/tidewatch/go-hazard-alerts/internal/repository"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const usgsFixture = `{
  "features": [
    {
      "id": "us7000abcd",
      "properties": {
        "mag": 6.8,
        "place": "120km E of Hachijo-jima, Japan",
        "time": 1740000000000,
        "title": "M 6.8 - 120km E of Hachijo-jima, Japan",
        "tsunami": 1
      },
      "geometry": { "coordinates": [141.1, 33.2, 25.0] }
    },
    {
      "id": "us7000efgh",
      "properties": {
        "mag": null,
        "place": "somewhere",
        "time": 1740000100000,
        "title": "unreviewed event",
        "tsunami": 0
      },
      "geometry": { "coordinates": [10.0, 10.0, 5.0] }
    }
  ]
}`

const gdacsFixture = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0" xmlns:gdacs="http://www.gdacs.org" xmlns:georss="http://www.georss.org/georss">
  <channel>
    <item>
      <title>Earthquake in Japan</title>
      <description>Strong quake offshore</description>
      <pubDate>Mon, 24 Feb 2025 12:00:00 UTC</pubDate>
      <georss:point><georss:lat>33.1</georss:lat><georss:lon>141.0</georss:lon></georss:point>
      <gdacs:eventtype>EQ</gdacs:eventtype>
      <gdacs:alertlevel>Orange</gdacs:alertlevel>
      <gdacs:eventid>1471234</gdacs:eventid>
      <gdacs:severity>6.5</gdacs:severity>
    </item>
    <item>
      <title>Tropical Cyclone FREDDY</title>
      <description>Cyclone warning</description>
      <pubDate>Mon, 24 Feb 2025 13:00:00 UTC</pubDate>
      <georss:point><georss:lat>-20.0</georss:lat><georss:lon>57.5</georss:lon></georss:point>
      <gdacs:eventtype>TC</gdacs:eventtype>
      <gdacs:alertlevel>Red</gdacs:alertlevel>
      <gdacs:eventid>1001055</gdacs:eventid>
      <gdacs:severity>4.0</gdacs:severity>
    </item>
  </channel>
</rss>`

type nopDispatcher struct{}

func (nopDispatcher) Dispatch(context.Context, []dispatch.Notification) {}
func (nopDispatcher) CancelAlert(string)                                {}
func (nopDispatcher) CancelPendingCalls(context.Context, string)        {}

func newTestManager(t *testing.T, cfg *config.Config) (*Manager, *repository.SQLiteDB) {
	t.Helper()

	store, err := repository.NewSQLiteDB(":memory:")
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	engine := escalation.NewEngine(escalation.Config{}, store, policy.Default(), nopDispatcher{}, nil, nil)
	engine.Start()
	t.Cleanup(engine.Stop)

	return NewManager(cfg, normalizer.NewIngestor(store), engine), store
}

func TestPollUSGS(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(usgsFixture))
	}))
	defer srv.Close()

	m, _ := newTestManager(t, &config.Config{})
	records, err := m.pollUSGS(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("pollUSGS failed: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("records = %d, want 2", len(records))
	}

	r := records[0]
	if r.Source != "usgs" || r.ExternalID != "us7000abcd" {
		t.Errorf("identity: source=%s external=%s", r.Source, r.ExternalID)
	}
	if r.Magnitude == nil || *r.Magnitude != 6.8 {
		t.Errorf("magnitude = %v, want 6.8", r.Magnitude)
	}
	if r.Latitude == nil || *r.Latitude != 33.2 || r.Longitude == nil || *r.Longitude != 141.1 {
		t.Errorf("coordinates = %v,%v", r.Latitude, r.Longitude)
	}
	if r.DepthKM != 25.0 {
		t.Errorf("depth = %v, want 25", r.DepthKM)
	}
	if !r.TsunamiFlag {
		t.Error("tsunami flag not set")
	}

	// The unreviewed event keeps its missing magnitude; validation happens
	// downstream, not in the poller.
	if records[1].Magnitude != nil {
		t.Errorf("expected nil magnitude, got %v", *records[1].Magnitude)
	}
}

func TestPollUSGS_BadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	m, _ := newTestManager(t, &config.Config{})
	if _, err := m.pollUSGS(context.Background(), srv.URL); err == nil {
		t.Error("expected an error for a 503 response")
	}
}

func TestPollGDACS_FiltersUnsupportedTypes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(gdacsFixture))
	}))
	defer srv.Close()

	m, _ := newTestManager(t, &config.Config{})
	records, err := m.pollGDACS(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("pollGDACS failed: %v", err)
	}

	// The cyclone item is dropped; only the earthquake survives.
	if len(records) != 1 {
		t.Fatalf("records = %d, want 1", len(records))
	}
	r := records[0]
	if r.Source != "gdacs" || r.ExternalID != "1471234" {
		t.Errorf("identity: source=%s external=%s", r.Source, r.ExternalID)
	}
	if r.Type != models.HazardTypeSeismic {
		t.Errorf("type = %s, want SEISMIC", r.Type)
	}
	if r.Magnitude == nil || *r.Magnitude != 6.5 {
		t.Errorf("magnitude = %v, want 6.5", r.Magnitude)
	}
	if r.OccurredAt.IsZero() {
		t.Error("pubDate did not parse")
	}
}

func TestPipeline_InjectToAlert(t *testing.T) {
	cfg := &config.Config{
		Worker: config.WorkerConfig{Count: 1, BufferSize: 4},
		// No sources enabled; records enter via Inject.
	}
	m, store := newTestManager(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)

	mag, lat, lon := 8.0, 33.2, 141.1
	record := normalizer.RawRecord{
		Source:     "usgs",
		ExternalID: "pipeline-1",
		Type:       models.HazardTypeSeismic,
		Magnitude:  &mag,
		DepthKM:    10,
		Latitude:   &lat,
		Longitude:  &lon,
		OccurredAt: time.Now().UTC(),
	}
	m.Inject(record)
	m.Inject(record) // duplicate must be a no-op
	m.Stop()

	events, err := store.ListHazards(ctx, repository.HazardFilter{})
	if err != nil {
		t.Fatalf("ListHazards failed: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("hazard events = %d, want 1 (duplicate dropped)", len(events))
	}

	// Severity 5, no tracked assets: a global broadcast alert opens.
	if _, err := store.FindOpenAlert(ctx, "usgs_pipeline-1", models.ScopeGlobal); err != nil {
		t.Errorf("expected a global alert from the pipeline: %v", err)
	}
}
