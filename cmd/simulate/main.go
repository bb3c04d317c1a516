// simulate injects a synthetic hazard event into a local database and
// runs it through severity scoring, geospatial resolution and alert
// creation, printing what would be dispatched. Useful for exercising a
// policy table without waiting for a real feed.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"time"

	"github.com/joho/godotenv"

	"github.com/tidewatch/go-hazard-alerts/internal/config"
	"github.com/tidewatch/go-hazard-alerts/internal/dispatch"
	"github.com/tidewatch/go-hazard-alerts/internal/escalation"
	"github.com/tidewatch/go-hazard-alerts/internal/logging"
	"github.com/tidewatch/go-hazard-alerts/internal/models"
	"github.com/tidewatch/go-hazard-alerts/internal/normalizer"
	"github.com/tidewatch/go-hazard-alerts/internal/policy"
	"github.com/tidewatch/go-hazard-alerts/internal/repository"
)

// printDispatcher renders every notification to stdout instead of
// calling providers.
type printDispatcher struct{}

func (printDispatcher) Dispatch(_ context.Context, batch []dispatch.Notification) {
	for _, n := range batch {
		msg, err := dispatch.Render(n)
		if err != nil {
			slog.Error("error rendering notification", "error", err)
			continue
		}
		fmt.Printf("--> [%s] to %s (%s)\n    %s\n", n.Channel, n.Contact.Name, n.Contact.ID, msg.Subject)
	}
}

func (printDispatcher) CancelAlert(string)                         {}
func (printDispatcher) CancelPendingCalls(context.Context, string) {}

func main() {
	var (
		magnitude = flag.Float64("mag", 7.2, "magnitude of the synthetic event")
		depth     = flag.Float64("depth", 15, "depth in km")
		lat       = flag.Float64("lat", 35.0, "epicenter latitude")
		lon       = flag.Float64("lon", 139.0, "epicenter longitude")
		tsunami   = flag.Bool("tsunami", false, "set the tsunami flag")
	)
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logging.Fatalf("Fatal while loading config: %v", err)
	}
	logging.Setup(cfg.Logging.Level)

	db, err := repository.NewSQLiteDB(cfg.DB.Path)
	if err != nil {
		logging.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	table := policy.Default()
	if cfg.Policy.Path != "" {
		table, err = policy.Load(cfg.Policy.Path)
		if err != nil {
			logging.Fatalf("Failed to load policy table: %v", err)
		}
	}

	engine := escalation.NewEngine(escalation.Config{
		BroadcastSeverity: cfg.Escalation.BroadcastSeverity,
	}, db, table, printDispatcher{}, nil, nil)
	engine.Start()
	defer engine.Stop()

	ctx := context.Background()
	record := normalizer.RawRecord{
		Source:      "simulate",
		ExternalID:  fmt.Sprintf("sim-%d", time.Now().UnixNano()),
		Type:        models.HazardTypeSeismic,
		Title:       fmt.Sprintf("Simulated M%.1f event", *magnitude),
		Magnitude:   magnitude,
		DepthKM:     *depth,
		Latitude:    lat,
		Longitude:   lon,
		TsunamiFlag: *tsunami,
		OccurredAt:  time.Now().UTC(),
	}

	event, created, err := normalizer.NewIngestor(db).Ingest(ctx, record)
	if err != nil {
		logging.Fatalf("Failed to ingest synthetic event: %v", err)
	}
	if !created {
		logging.Fatalf("Synthetic event collided with an existing dedup key")
	}

	severity := normalizer.Severity(event.Magnitude, event.DepthKM, event.TsunamiFlag)
	fmt.Printf("event %s: magnitude %.1f, depth %.0fkm, severity %d\n",
		event.ID, event.Magnitude, event.DepthKM, severity)

	if err := engine.HandleHazard(ctx, event); err != nil {
		logging.Fatalf("Failed to process synthetic event: %v", err)
	}

	for _, scope := range []string{models.ScopeAffected, models.ScopeGlobal} {
		alert, err := db.FindOpenAlert(ctx, event.ID, scope)
		if err != nil {
			continue
		}
		fmt.Printf("alert %s opened: scope=%s status=%s policy=%s\n",
			alert.ID, alert.Scope, alert.Status, alert.PolicyID)

		entities, err := db.ListAffectedEntities(ctx, alert.ID)
		if err != nil {
			slog.Error("error listing affected entities", "error", err)
			continue
		}
		for _, e := range entities {
			fmt.Printf("  affected: %s %s at %.0fkm (%s)\n", e.Kind, e.Name, e.DistanceKM, e.Band)
		}
		return
	}
	fmt.Println("no alert raised for this event")
}
