// Package escalation owns the per-alert state machine:
//
//	PENDING -> NOTIFYING -> ESCALATING -> ACKNOWLEDGED | RESOLVED | EXPIRED
//
// Escalation timers are sweep-driven: every alert carries its next
// escalation deadline, and periodic sweeps advance whichever alerts are
// due. Every transition commits through an optimistic version check plus a
// per-(alert, step) dispatch lock, so concurrent triggers (a sweep racing a
// manual trigger) commit at most one transition and one dispatch per step.
package escalation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/tidewatch/go-hazard-alerts/internal/broadcast"
	"github.com/tidewatch/go-hazard-alerts/internal/dispatch"
	"github.com/tidewatch/go-hazard-alerts/internal/geo"
	"github.com/tidewatch/go-hazard-alerts/internal/models"
	"github.com/tidewatch/go-hazard-alerts/internal/normalizer"
	"github.com/tidewatch/go-hazard-alerts/internal/policy"
	"github.com/tidewatch/go-hazard-alerts/internal/repository"
)

// ErrNotRunning is returned by operations on a stopped engine.
var ErrNotRunning = errors.New("escalation engine is not running")

// Dispatcher is the slice of the delivery dispatcher the engine drives.
type Dispatcher interface {
	Dispatch(ctx context.Context, batch []dispatch.Notification)
	CancelAlert(alertID string)
	CancelPendingCalls(ctx context.Context, alertID string)
}

type Config struct {
	// BroadcastSeverity is the severity at which an event with no resolved
	// affected entities still raises a global broadcast alert.
	BroadcastSeverity int
}

type Engine struct {
	cfg        Config
	store      repository.Store
	policies   *policy.Table
	dispatcher Dispatcher
	events     *broadcast.Broadcaster
	clock      Clock

	running atomic.Bool

	mu        sync.Mutex
	stepLocks map[string]bool // "alertID|step" currently dispatching
}

func NewEngine(cfg Config, store repository.Store, policies *policy.Table, dispatcher Dispatcher, events *broadcast.Broadcaster, clock Clock) *Engine {
	if cfg.BroadcastSeverity == 0 {
		cfg.BroadcastSeverity = 5
	}
	if clock == nil {
		clock = NewRealClock()
	}
	return &Engine{
		cfg:        cfg,
		store:      store,
		policies:   policies,
		dispatcher: dispatcher,
		events:     events,
		clock:      clock,
		stepLocks:  make(map[string]bool),
	}
}

// Start makes the engine accept work. Idempotent.
func (e *Engine) Start() {
	if e.running.CompareAndSwap(false, true) {
		slog.Info("escalation engine started")
	}
}

// Stop makes the engine reject new work. Idempotent; in-flight dispatch
// completes on its own.
func (e *Engine) Stop() {
	if e.running.CompareAndSwap(true, false) {
		slog.Info("escalation engine stopped")
	}
}

// Running reports the engine's lifecycle state.
func (e *Engine) Running() bool {
	return e.running.Load()
}

// HandleHazard reacts to a freshly ingested hazard event: it scores
// severity, resolves affected entities, and opens an alert when warranted.
// Re-ingested duplicates never reach this point.
func (e *Engine) HandleHazard(ctx context.Context, event *models.HazardEvent) error {
	if !e.running.Load() {
		return ErrNotRunning
	}
	if e.policies.Excluded(event.Type) {
		slog.Debug("hazard type excluded from alerting", "id", event.ID, "type", event.Type)
		return nil
	}

	severity := normalizer.Severity(event.Magnitude, event.DepthKM, event.TsunamiFlag)

	assets, err := e.store.ListAssets(ctx)
	if err != nil {
		return fmt.Errorf("error listing assets: %w", err)
	}
	resolution := geo.Resolve(event.Coordinates(), event.Magnitude, event.DepthKM, assets)
	for _, a := range resolution.Unresolved {
		slog.Warn("asset has no position, excluded from resolution", "asset", a.ID, "hazard", event.ID)
	}

	scope := models.ScopeAffected
	if len(resolution.Affected) == 0 {
		if severity < e.cfg.BroadcastSeverity {
			slog.Debug("no affected entities, below broadcast severity", "id", event.ID, "severity", severity)
			return nil
		}
		scope = models.ScopeGlobal
	}

	// At most one non-terminal alert per (event, scope).
	if _, err := e.store.FindOpenAlert(ctx, event.ID, scope); err == nil {
		slog.Debug("open alert already exists", "hazard", event.ID, "scope", scope)
		return nil
	} else if !errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("error checking for open alert: %w", err)
	}

	pol, err := e.policies.PolicyFor(event.Type, severity)
	if err != nil {
		// Missing policy is a configuration invariant violation; surface it.
		return err
	}

	now := e.clock.Now().UTC()
	alert := &models.Alert{
		ID:               uuid.NewString(),
		HazardEventID:    event.ID,
		Scope:            scope,
		Severity:         severity,
		Status:           models.AlertStatusPending,
		PolicyID:         pol.ID,
		StepIndex:        -1,
		NextEscalationAt: &now, // due immediately: tier 0 goes out on creation
		CreatedAt:        now,
	}
	if err := e.store.CreateAlert(ctx, alert); err != nil {
		return fmt.Errorf("error creating alert: %w", err)
	}

	if scope == models.ScopeAffected {
		rows := make([]models.AffectedEntity, 0, len(resolution.Affected))
		for _, aff := range resolution.Affected {
			rows = append(rows, models.AffectedEntity{
				AlertID:        alert.ID,
				AssetID:        aff.Asset.ID,
				Kind:           aff.Asset.Kind,
				Name:           aff.Asset.Name,
				ContactID:      aff.Asset.ContactID,
				DistanceKM:     aff.DistanceKM,
				Band:           aff.Band,
				ResolutionPass: 1,
				CreatedAt:      now,
			})
		}
		if err := e.store.AddAffectedEntities(ctx, rows); err != nil {
			return fmt.Errorf("error persisting affected entities: %w", err)
		}
	}

	slog.Info("alert created", "alert", alert.ID, "hazard", event.ID,
		"severity", severity, "scope", scope, "affected", len(resolution.Affected))
	e.publish(broadcast.EventAlertCreated, alert)

	// PENDING -> NOTIFYING without waiting for the next sweep.
	return e.trigger(ctx, alert)
}

// Sweep advances every alert whose escalation deadline has passed. A
// failure on one alert is logged and never blocks the rest, and a failed
// sweep cycle never prevents future cycles.
func (e *Engine) Sweep(ctx context.Context) error {
	if !e.running.Load() {
		return ErrNotRunning
	}

	due, err := e.store.ListDueAlerts(ctx, e.clock.Now().UTC())
	if err != nil {
		return fmt.Errorf("error listing due alerts: %w", err)
	}

	for i := range due {
		if err := e.trigger(ctx, &due[i]); err != nil {
			slog.Error("error advancing alert", "alert", due[i].ID, "error", err)
		}
	}
	return nil
}

// TriggerAlert advances a single alert if it is due, for manual escalation.
func (e *Engine) TriggerAlert(ctx context.Context, alertID string) error {
	if !e.running.Load() {
		return ErrNotRunning
	}
	alert, err := e.store.GetAlert(ctx, alertID)
	if err != nil {
		return err
	}
	return e.trigger(ctx, alert)
}

// trigger moves one alert forward by at most one step. Safe under
// concurrent invocation for the same alert: the step lock collapses
// duplicate triggers and the CAS write resolves any remaining race.
func (e *Engine) trigger(ctx context.Context, alert *models.Alert) error {
	if alert.Status.Terminal() || alert.NextEscalationAt == nil {
		return nil
	}
	now := e.clock.Now().UTC()
	if now.Before(*alert.NextEscalationAt) {
		return nil
	}

	hazard, err := e.store.GetHazard(ctx, alert.HazardEventID)
	if err != nil {
		return fmt.Errorf("error loading hazard for alert: %w", err)
	}
	pol, err := e.policies.PolicyFor(hazard.Type, alert.Severity)
	if err != nil {
		return err
	}

	nextStep := alert.StepIndex + 1
	if nextStep >= len(pol.Steps) {
		return e.expire(ctx, alert)
	}

	if !e.lockStep(alert.ID, nextStep) {
		// Another trigger is already dispatching this step.
		return nil
	}
	defer e.unlockStep(alert.ID, nextStep)

	step := pol.Steps[nextStep]
	expected := alert.Version
	alert.StepIndex = nextStep
	if nextStep == 0 {
		alert.Status = models.AlertStatusNotifying
	} else {
		alert.Status = models.AlertStatusEscalating
	}
	deadline := now.Add(step.Wait)
	alert.NextEscalationAt = &deadline

	if err := e.store.UpdateAlertCAS(ctx, alert, expected); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			// Lost the race; the winner dispatched this step.
			slog.Debug("concurrent transition won elsewhere", "alert", alert.ID, "step", nextStep)
			return nil
		}
		return err
	}

	batch, err := e.buildNotifications(ctx, alert, hazard, step)
	if err != nil {
		return err
	}
	e.dispatcher.Dispatch(ctx, batch)

	slog.Info("escalation step dispatched", "alert", alert.ID, "step", nextStep,
		"recipients", len(batch), "next_deadline", deadline)
	if nextStep > 0 {
		e.publish(broadcast.EventAlertEscalated, alert)
	}
	return nil
}

func (e *Engine) expire(ctx context.Context, alert *models.Alert) error {
	expected := alert.Version
	alert.Status = models.AlertStatusExpired
	alert.NextEscalationAt = nil

	if err := e.store.UpdateAlertCAS(ctx, alert, expected); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil
		}
		return err
	}
	slog.Warn("alert expired unacknowledged", "alert", alert.ID, "steps", alert.StepIndex+1)
	e.publish(broadcast.EventAlertExpired, alert)
	return nil
}

// Acknowledge marks the alert acknowledged and halts escalation. Repeated
// calls after any terminal state are no-ops. Voice calls not yet connected
// are cancelled; messages already in flight are not recalled.
func (e *Engine) Acknowledge(ctx context.Context, alertID, acknowledgedBy string) error {
	return e.terminate(ctx, alertID, func(a *models.Alert) {
		now := e.clock.Now().UTC()
		a.Status = models.AlertStatusAcknowledged
		a.Acknowledged = true
		a.AcknowledgedBy = acknowledgedBy
		a.AcknowledgedAt = &now
		a.NextEscalationAt = nil
	}, broadcast.EventAlertAcked)
}

// Resolve closes the alert because the underlying hazard condition cleared
// or an operator closed it. Idempotent.
func (e *Engine) Resolve(ctx context.Context, alertID string) error {
	return e.terminate(ctx, alertID, func(a *models.Alert) {
		now := e.clock.Now().UTC()
		a.Status = models.AlertStatusResolved
		a.ResolvedAt = &now
		a.NextEscalationAt = nil
	}, broadcast.EventAlertResolved)
}

// ResolveStale closes acknowledged alerts whose acknowledgement is older
// than the retention window. Acknowledged alerts hold no timers; this scan
// just moves them to their final resting state so the open-alert views
// stay meaningful.
func (e *Engine) ResolveStale(ctx context.Context, olderThan time.Duration) error {
	if !e.running.Load() {
		return ErrNotRunning
	}

	status := models.AlertStatusAcknowledged
	alerts, err := e.store.ListAlerts(ctx, repository.AlertFilter{Status: &status})
	if err != nil {
		return fmt.Errorf("error listing acknowledged alerts: %w", err)
	}

	cutoff := e.clock.Now().UTC().Add(-olderThan)
	for i := range alerts {
		a := &alerts[i]
		if a.AcknowledgedAt == nil || a.AcknowledgedAt.After(cutoff) {
			continue
		}
		now := e.clock.Now().UTC()
		expected := a.Version
		a.Status = models.AlertStatusResolved
		a.ResolvedAt = &now
		if err := e.store.UpdateAlertCAS(ctx, a, expected); err != nil {
			if errors.Is(err, repository.ErrConflict) {
				continue
			}
			slog.Error("error resolving stale alert", "alert", a.ID, "error", err)
			continue
		}
		slog.Info("stale acknowledged alert resolved", "alert", a.ID)
		e.publish(broadcast.EventAlertResolved, a)
	}
	return nil
}

// terminate drives a terminal transition, retrying from fresh state on
// version conflicts until it commits or finds the alert already terminal.
func (e *Engine) terminate(ctx context.Context, alertID string, mutate func(*models.Alert), kind broadcast.EventKind) error {
	if !e.running.Load() {
		return ErrNotRunning
	}
	for {
		alert, err := e.store.GetAlert(ctx, alertID)
		if err != nil {
			return err
		}
		if alert.Status.Terminal() {
			// Already settled; repeated signals are not errors.
			return nil
		}

		expected := alert.Version
		mutate(alert)
		err = e.store.UpdateAlertCAS(ctx, alert, expected)
		if errors.Is(err, repository.ErrConflict) {
			continue
		}
		if err != nil {
			return err
		}

		e.dispatcher.CancelAlert(alert.ID)
		e.dispatcher.CancelPendingCalls(ctx, alert.ID)
		slog.Info("alert closed", "alert", alert.ID, "status", alert.Status)
		e.publish(kind, alert)
		return nil
	}
}

// buildNotifications expands one escalation step into recipient-channel
// pairs.
func (e *Engine) buildNotifications(ctx context.Context, alert *models.Alert, hazard *models.HazardEvent, step models.EscalationStep) ([]dispatch.Notification, error) {
	chans := step.Channels
	if len(chans) == 0 {
		var err error
		chans, err = e.policies.ChannelsFor(hazard.Type, alert.Severity)
		if err != nil {
			return nil, err
		}
	}

	var contactIDs []string
	if alert.Scope == models.ScopeAffected {
		entities, err := e.store.ListAffectedEntities(ctx, alert.ID)
		if err != nil {
			return nil, fmt.Errorf("error loading affected entities: %w", err)
		}
		seen := make(map[string]bool)
		for _, ent := range entities {
			if ent.ContactID != "" && !seen[ent.ContactID] {
				seen[ent.ContactID] = true
				contactIDs = append(contactIDs, ent.ContactID)
			}
		}
		if len(contactIDs) == 0 {
			return nil, nil
		}
	}

	contacts, err := e.store.ListContactsByTier(ctx, step.MaxTier, contactIDs)
	if err != nil {
		return nil, fmt.Errorf("error loading contacts: %w", err)
	}

	var batch []dispatch.Notification
	for _, c := range contacts {
		for _, ch := range chans {
			batch = append(batch, dispatch.Notification{
				Alert:     *alert,
				Hazard:    *hazard,
				Contact:   c,
				Channel:   ch,
				StepIndex: alert.StepIndex,
			})
		}
	}
	return batch, nil
}

func (e *Engine) lockStep(alertID string, step int) bool {
	key := fmt.Sprintf("%s|%d", alertID, step)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stepLocks[key] {
		return false
	}
	e.stepLocks[key] = true
	return true
}

func (e *Engine) unlockStep(alertID string, step int) {
	key := fmt.Sprintf("%s|%d", alertID, step)
	e.mu.Lock()
	delete(e.stepLocks, key)
	e.mu.Unlock()
}

func (e *Engine) publish(kind broadcast.EventKind, alert *models.Alert) {
	if e.events == nil {
		return
	}
	cp := *alert
	e.events.Publish(broadcast.Event{Kind: kind, At: e.clock.Now().UTC(), Alert: &cp})
}
