// Package dispatch fans notifications out to channel senders. Dispatch is
// concurrent across recipient-channel pairs but strictly sequential per
// idempotency key; transient provider failures retry with exponential
// backoff, permanent ones fail fast, and every attempt leaves a delivery
// log row.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tidewatch/go-hazard-alerts/internal/broadcast"
	"github.com/tidewatch/go-hazard-alerts/internal/channels"
	"github.com/tidewatch/go-hazard-alerts/internal/models"
	"github.com/tidewatch/go-hazard-alerts/internal/repository"
	"github.com/tidewatch/go-hazard-alerts/internal/worker"
)

type Config struct {
	Workers     int
	BufferSize  int
	MaxAttempts int           // per idempotency key, including the first try
	BackoffBase time.Duration // doubled after each transient failure
}

// DeadLetterFunc is invoked after retries are exhausted. It must not
// block; escalation continues regardless.
type DeadLetterFunc func(d models.DeliveryLog)

type Dispatcher struct {
	cfg          Config
	repo         repository.DeliveryLogRepository
	senders      map[models.Channel]channels.Sender
	pool         *worker.Pool[Notification]
	events       *broadcast.Broadcaster
	onDeadLetter DeadLetterFunc

	mu        sync.Mutex
	claimed   map[string]bool // idempotency keys already picked up
	cancelled map[string]bool // alerts for which no new dispatch may start

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func NewDispatcher(cfg Config, repo repository.DeliveryLogRepository, senders []channels.Sender, events *broadcast.Broadcaster) *Dispatcher {
	byChannel := make(map[models.Channel]channels.Sender, len(senders))
	for _, s := range senders {
		byChannel[s.Channel()] = s
	}

	d := &Dispatcher{
		cfg:       cfg,
		repo:      repo,
		senders:   byChannel,
		events:    events,
		claimed:   make(map[string]bool),
		cancelled: make(map[string]bool),
		now:       time.Now,
		sleep:     sleepCtx,
	}
	d.pool = worker.NewPool(cfg.Workers, cfg.BufferSize, d.process)
	return d
}

// SetDeadLetterFunc wires the tracker's dead-letter intake. Must be called
// before Start.
func (d *Dispatcher) SetDeadLetterFunc(fn DeadLetterFunc) {
	d.onDeadLetter = fn
}

func (d *Dispatcher) Start(ctx context.Context) {
	d.pool.Start(ctx)
}

func (d *Dispatcher) Stop() {
	d.pool.Stop()
}

// Dispatch enqueues a batch of notifications. Pairs whose idempotency key
// was already claimed are dropped here, so a duplicated step trigger cannot
// double-send.
func (d *Dispatcher) Dispatch(ctx context.Context, batch []Notification) {
	for _, n := range batch {
		if !d.claim(n.Key()) {
			slog.Debug("duplicate dispatch suppressed", "key", n.Key())
			continue
		}
		d.pool.Submit(n)
	}
}

// CancelAlert stops new dispatch work for an alert. In-flight sends finish
// and log their outcome.
func (d *Dispatcher) CancelAlert(alertID string) {
	d.mu.Lock()
	d.cancelled[alertID] = true
	d.mu.Unlock()
}

// CancelPendingCalls abandons voice calls for an alert that have been
// handed to the provider but not yet connected. Best-effort.
func (d *Dispatcher) CancelPendingCalls(ctx context.Context, alertID string) {
	sender, ok := d.senders[models.ChannelVoice]
	if !ok {
		return
	}
	canceller, ok := sender.(channels.CallCanceller)
	if !ok {
		return
	}

	logs, err := d.repo.ListDeliveries(ctx, alertID)
	if err != nil {
		slog.Error("error listing deliveries for call cancellation", "alert", alertID, "error", err)
		return
	}
	for _, l := range logs {
		if l.Channel != models.ChannelVoice || l.Status != models.DeliveryStatusSent {
			continue
		}
		if l.ProviderMessageID == "" {
			continue
		}
		if err := canceller.CancelCall(ctx, l.ProviderMessageID); err != nil {
			slog.Warn("voice call cancellation failed", "alert", alertID,
				"provider_id", l.ProviderMessageID, "error", err)
		}
	}
}

func (d *Dispatcher) claim(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.claimed[key] {
		return false
	}
	d.claimed[key] = true
	return true
}

func (d *Dispatcher) isCancelled(alertID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cancelled[alertID]
}

// process delivers one notification, retrying transient failures. It runs
// on a pool worker; all attempts for one key happen here sequentially.
func (d *Dispatcher) process(ctx context.Context, n Notification) error {
	if d.isCancelled(n.Alert.ID) {
		return nil
	}

	// A restart loses the in-memory claim set; the delivery log is the
	// durable source of truth for "this step already went out".
	already, err := d.repo.HasDispatch(ctx, n.Alert.ID, n.Contact.ID, n.Channel, n.StepIndex)
	if err != nil {
		return fmt.Errorf("error checking prior dispatch: %w", err)
	}
	if already {
		slog.Debug("dispatch already recorded", "key", n.Key())
		return nil
	}

	address, ok := n.Contact.AddressFor(n.Channel)
	if !ok {
		// Not an error: a contact with no address on this channel simply
		// produces no delivery.
		slog.Debug("contact unreachable on channel", "contact", n.Contact.ID, "channel", n.Channel)
		return nil
	}

	sender, ok := d.senders[n.Channel]
	if !ok {
		return fmt.Errorf("no sender configured for channel %q", n.Channel)
	}

	msg, err := Render(n)
	if err != nil {
		return err
	}

	backoff := d.cfg.BackoffBase
	for attempt := 1; attempt <= d.cfg.MaxAttempts; attempt++ {
		if d.isCancelled(n.Alert.ID) {
			return nil
		}

		row := &models.DeliveryLog{
			ID:        uuid.NewString(),
			AlertID:   n.Alert.ID,
			ContactID: n.Contact.ID,
			Channel:   n.Channel,
			StepIndex: n.StepIndex,
			Attempt:   attempt,
			Status:    models.DeliveryStatusQueued,
			QueuedAt:  d.now().UTC(),
		}
		if err := d.repo.AppendDelivery(ctx, row); err != nil {
			return fmt.Errorf("error recording delivery attempt: %w", err)
		}

		res, sendErr := sender.Send(ctx, address, msg)
		if sendErr == nil {
			sentAt := d.now().UTC()
			if err := d.repo.MarkDeliverySent(ctx, row.ID, res.ProviderMessageID, sentAt); err != nil {
				slog.Error("error marking delivery sent", "id", row.ID, "error", err)
			}
			row.Status = models.DeliveryStatusSent
			row.ProviderMessageID = res.ProviderMessageID
			row.SentAt = &sentAt
			d.publish(row)
			return nil
		}

		detail := sendErr.Error()
		if err := d.repo.MarkDeliveryFailed(ctx, row.ID, models.DeliveryStatusFailed, detail); err != nil {
			slog.Error("error marking delivery failed", "id", row.ID, "error", err)
		}
		row.Status = models.DeliveryStatusFailed
		row.ErrorDetail = detail
		d.publish(row)

		if !channels.IsTransient(sendErr) {
			slog.Warn("permanent delivery failure", "key", n.Key(), "error", sendErr)
			return nil
		}

		if attempt == d.cfg.MaxAttempts {
			slog.Warn("delivery retries exhausted", "key", n.Key(), "attempts", attempt)
			if d.onDeadLetter != nil {
				d.onDeadLetter(*row)
			}
			return nil
		}

		if err := d.sleep(ctx, backoff); err != nil {
			return err
		}
		backoff *= 2
	}
	return nil
}

func (d *Dispatcher) publish(row *models.DeliveryLog) {
	if d.events == nil {
		return
	}
	d.events.Publish(broadcast.Event{
		Kind:     broadcast.EventDelivery,
		At:       d.now().UTC(),
		Delivery: row,
	})
}

func sleepCtx(ctx context.Context, dur time.Duration) error {
	t := time.NewTimer(dur)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
