// Package tracker consumes delivery outcomes after dispatch: provider
// status callbacks, inbound acknowledgement replies, and dead-lettered
// notifications. It is the read side of the delivery log.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tidewatch/go-hazard-alerts/internal/broadcast"
	"github.com/tidewatch/go-hazard-alerts/internal/models"
	"github.com/tidewatch/go-hazard-alerts/internal/repository"
)

// ErrUnknownMessage is returned for a provider callback whose message ID
// matches no recorded attempt.
var ErrUnknownMessage = errors.New("unknown provider message id")

// Acknowledger is the slice of the escalation engine the tracker drives on
// inbound replies.
type Acknowledger interface {
	Acknowledge(ctx context.Context, alertID, acknowledgedBy string) error
}

// ProviderUpdate is one status callback from a downstream provider,
// correlated by the provider's message ID.
type ProviderUpdate struct {
	ProviderMessageID string    `json:"provider_message_id"`
	Status            string    `json:"status"` // delivered | read | bounced | failed
	Detail            string    `json:"detail,omitempty"`
	At                time.Time `json:"at"`
}

// ChannelSummary aggregates attempts for one channel of one alert.
type ChannelSummary struct {
	Channel   models.Channel `json:"channel"`
	Attempts  int            `json:"attempts"`
	Queued    int            `json:"queued"`
	Sent      int            `json:"sent"`
	Delivered int            `json:"delivered"`
	Read      int            `json:"read"`
	Failed    int            `json:"failed"`
	Bounced   int            `json:"bounced"`
}

// Summary is the delivery picture for one alert: per-channel rollups plus
// the latest status per recipient.
type Summary struct {
	AlertID  string                           `json:"alert_id"`
	Channels []ChannelSummary                 `json:"channels"`
	Contacts map[string]models.DeliveryStatus `json:"contacts"`
}

type Tracker struct {
	repo   repository.DeliveryLogRepository
	engine Acknowledger
	events *broadcast.Broadcaster

	now func() time.Time
}

func New(repo repository.DeliveryLogRepository, engine Acknowledger, events *broadcast.Broadcaster) *Tracker {
	return &Tracker{
		repo:   repo,
		engine: engine,
		events: events,
		now:    time.Now,
	}
}

// statusRank orders delivery statuses along the confirmation chain.
// Provider callbacks arrive out of order; only forward movement is applied.
func statusRank(s models.DeliveryStatus) int {
	switch s {
	case models.DeliveryStatusQueued:
		return 0
	case models.DeliveryStatusSent:
		return 1
	case models.DeliveryStatusDelivered:
		return 2
	case models.DeliveryStatusRead:
		return 3
	case models.DeliveryStatusFailed, models.DeliveryStatusBounced:
		return 4
	default:
		return -1
	}
}

// HandleProviderUpdate applies one provider callback to the matching
// attempt row. Updates that would move the row backwards (a "delivered"
// arriving after "read") are dropped, so replayed or reordered callbacks
// are harmless.
func (t *Tracker) HandleProviderUpdate(ctx context.Context, u ProviderUpdate) error {
	row, err := t.repo.FindDeliveryByProviderID(ctx, u.ProviderMessageID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			slog.Warn("provider callback for unknown message", "provider_message_id", u.ProviderMessageID)
			return ErrUnknownMessage
		}
		return fmt.Errorf("error looking up delivery: %w", err)
	}

	at := u.At
	if at.IsZero() {
		at = t.now().UTC()
	}

	var next models.DeliveryStatus
	switch strings.ToLower(u.Status) {
	case "delivered":
		next = models.DeliveryStatusDelivered
	case "read":
		next = models.DeliveryStatusRead
	case "bounced":
		next = models.DeliveryStatusBounced
	case "failed":
		next = models.DeliveryStatusFailed
	default:
		return fmt.Errorf("unrecognized provider status %q", u.Status)
	}

	if statusRank(next) <= statusRank(row.Status) {
		slog.Debug("stale provider callback ignored",
			"delivery", row.ID, "have", row.Status, "got", next)
		return nil
	}

	switch next {
	case models.DeliveryStatusDelivered:
		err = t.repo.MarkDeliveryDelivered(ctx, row.ID, at)
	case models.DeliveryStatusRead:
		// A read confirmation implies delivery even if that callback was
		// lost.
		if row.DeliveredAt == nil {
			if derr := t.repo.MarkDeliveryDelivered(ctx, row.ID, at); derr != nil {
				return fmt.Errorf("error backfilling delivered state: %w", derr)
			}
		}
		err = t.repo.MarkDeliveryRead(ctx, row.ID, at)
	case models.DeliveryStatusBounced, models.DeliveryStatusFailed:
		err = t.repo.MarkDeliveryFailed(ctx, row.ID, next, u.Detail)
	}
	if err != nil {
		return fmt.Errorf("error updating delivery status: %w", err)
	}

	row.Status = next
	t.publish(row)
	slog.Info("delivery status updated", "delivery", row.ID,
		"alert", row.AlertID, "channel", row.Channel, "status", next)
	return nil
}

// HandleReply processes an inbound message from a contact. Replies of the
// form "ACK <alert-id>" acknowledge the alert; anything else is ignored.
func (t *Tracker) HandleReply(ctx context.Context, from, body string) error {
	fields := strings.Fields(strings.TrimSpace(body))
	if len(fields) < 2 || !strings.EqualFold(fields[0], "ack") {
		slog.Debug("inbound reply did not match ack format", "from", from)
		return nil
	}
	alertID := fields[1]

	if err := t.engine.Acknowledge(ctx, alertID, from); err != nil {
		return fmt.Errorf("error acknowledging alert from reply: %w", err)
	}
	slog.Info("alert acknowledged by reply", "alert", alertID, "from", from)
	return nil
}

// DeadLetter records a delivery abandoned after retries were exhausted.
// Wired as the dispatcher's dead-letter sink.
func (t *Tracker) DeadLetter(row models.DeliveryLog) {
	slog.Error("delivery dead-lettered",
		"alert", row.AlertID, "contact", row.ContactID,
		"channel", row.Channel, "step", row.StepIndex,
		"attempts", row.Attempt, "error", row.ErrorDetail)
}

// AlertSummary rolls the delivery log for one alert up into per-channel
// counts and the latest status seen per contact.
func (t *Tracker) AlertSummary(ctx context.Context, alertID string) (*Summary, error) {
	rows, err := t.repo.ListDeliveries(ctx, alertID)
	if err != nil {
		return nil, fmt.Errorf("error listing deliveries: %w", err)
	}

	byChannel := make(map[models.Channel]*ChannelSummary)
	contacts := make(map[string]models.DeliveryStatus)
	var order []models.Channel

	for _, row := range rows {
		cs, ok := byChannel[row.Channel]
		if !ok {
			cs = &ChannelSummary{Channel: row.Channel}
			byChannel[row.Channel] = cs
			order = append(order, row.Channel)
		}
		cs.Attempts++
		switch row.Status {
		case models.DeliveryStatusQueued:
			cs.Queued++
		case models.DeliveryStatusSent:
			cs.Sent++
		case models.DeliveryStatusDelivered:
			cs.Delivered++
		case models.DeliveryStatusRead:
			cs.Read++
		case models.DeliveryStatusFailed:
			cs.Failed++
		case models.DeliveryStatusBounced:
			cs.Bounced++
		}

		// Furthest point reached wins, except a failed attempt never
		// shadows a successful retry.
		cur, seen := contacts[row.ContactID]
		switch {
		case !seen:
			contacts[row.ContactID] = row.Status
		case statusRank(cur) >= 4 && statusRank(row.Status) < 4:
			contacts[row.ContactID] = row.Status
		case statusRank(cur) < 4 && statusRank(row.Status) >= 4:
			// keep the successful status
		case statusRank(row.Status) > statusRank(cur):
			contacts[row.ContactID] = row.Status
		}
	}

	summary := &Summary{AlertID: alertID, Contacts: contacts}
	for _, ch := range order {
		summary.Channels = append(summary.Channels, *byChannel[ch])
	}
	return summary, nil
}

// ChannelStats reports aggregate delivery outcomes per channel over a
// time window.
func (t *Tracker) ChannelStats(ctx context.Context, since, until time.Time) ([]repository.ChannelStat, error) {
	return t.repo.ChannelStats(ctx, since, until)
}

func (t *Tracker) publish(row *models.DeliveryLog) {
	if t.events == nil {
		return
	}
	cp := *row
	t.events.Publish(broadcast.Event{Kind: broadcast.EventDelivery, At: t.now().UTC(), Delivery: &cp})
}
