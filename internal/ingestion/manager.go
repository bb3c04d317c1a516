// Package ingestion polls external hazard feeds and pushes normalized
// records through the idempotent ingest pipeline into the escalation
// engine.
package ingestion

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/tidewatch/go-hazard-alerts/internal/config"
	"github.com/tidewatch/go-hazard-alerts/internal/escalation"
	"github.com/tidewatch/go-hazard-alerts/internal/normalizer"
	"github.com/tidewatch/go-hazard-alerts/internal/worker"
)

type Manager struct {
	cfg      *config.Config
	ingestor *normalizer.Ingestor
	engine   *escalation.Engine
	pool     *worker.Pool[normalizer.RawRecord]
	wg       sync.WaitGroup
}

func NewManager(cfg *config.Config, ingestor *normalizer.Ingestor, engine *escalation.Engine) *Manager {
	return &Manager{
		cfg:      cfg,
		ingestor: ingestor,
		engine:   engine,
	}
}

func (m *Manager) Start(ctx context.Context) {
	processor := func(ctx context.Context, record normalizer.RawRecord) error {
		event, created, err := m.ingestor.Ingest(ctx, record)
		if err != nil {
			// Malformed records are rejected individually; the batch
			// they arrived in is unaffected.
			slog.Error("error ingesting record",
				"source", record.Source, "external_id", record.ExternalID, "error", err)
			return err
		}
		if !created {
			return nil
		}

		slog.Info("ingested hazard event", "id", event.ID, "type", event.Type,
			"magnitude", event.Magnitude, "source", event.Source)
		return m.engine.HandleHazard(ctx, event)
	}

	m.pool = worker.NewPool(m.cfg.Worker.Count, m.cfg.Worker.BufferSize, processor)
	m.pool.Start(ctx)

	if m.cfg.Sources.USGSEnabled {
		m.wg.Add(1)
		go m.runPoller(ctx, "usgs", m.cfg.Sources.USGSURL, m.cfg.Sources.USGSPollInterval)
	}

	if m.cfg.Sources.GDACSEnabled {
		m.wg.Add(1)
		go m.runPoller(ctx, "gdacs", m.cfg.Sources.GDACSURL, m.cfg.Sources.GDACSPollInterval)
	}
}

func (m *Manager) runPoller(ctx context.Context, source, url string, interval time.Duration) {
	defer m.wg.Done()
	slog.Info("starting poller", "source", source, "interval", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Initial poll
	m.poll(ctx, source, url)

	for {
		select {
		case <-ctx.Done():
			slog.Info("poller shutting down", "source", source)
			return
		case <-ticker.C:
			m.poll(ctx, source, url)
		}
	}
}

func (m *Manager) poll(ctx context.Context, source, url string) {
	slog.Debug("polling", "source", source)

	var (
		records []normalizer.RawRecord
		err     error
	)

	switch source {
	case "usgs":
		records, err = m.pollUSGS(ctx, url)
	case "gdacs":
		records, err = m.pollGDACS(ctx, url)
	}
	if err != nil {
		slog.Error("poll failed", "source", source, "error", err)
		return
	}

	for _, r := range records {
		m.pool.Submit(r)
	}

	slog.Debug("poll complete", "source", source, "count", len(records))
}

// Inject feeds one record into the pipeline directly, bypassing the
// pollers. Used by the simulator and by tests.
func (m *Manager) Inject(r normalizer.RawRecord) {
	m.pool.Submit(r)
}

func (m *Manager) Stop() {
	m.wg.Wait()
	m.pool.Stop()
	slog.Info("ingestion manager stopped")
}
