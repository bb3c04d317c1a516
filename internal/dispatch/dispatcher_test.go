package dispatch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/tidewatch/go-hazard-alerts/internal/channels"
	"github.com/tidewatch/go-hazard-alerts/internal/models"
	"github.com/tidewatch/go-hazard-alerts/internal/repository"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// memDeliveryRepo is an in-memory DeliveryLogRepository.
type memDeliveryRepo struct {
	mu   sync.Mutex
	rows []*models.DeliveryLog
}

func (r *memDeliveryRepo) AppendDelivery(ctx context.Context, d *models.DeliveryLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *d
	r.rows = append(r.rows, &cp)
	return nil
}

func (r *memDeliveryRepo) HasDispatch(ctx context.Context, alertID, contactID string, ch models.Channel, stepIndex int) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range r.rows {
		if row.AlertID == alertID && row.ContactID == contactID && row.Channel == ch && row.StepIndex == stepIndex {
			return true, nil
		}
	}
	return false, nil
}

func (r *memDeliveryRepo) find(id string) *models.DeliveryLog {
	for _, row := range r.rows {
		if row.ID == id {
			return row
		}
	}
	return nil
}

func (r *memDeliveryRepo) MarkDeliverySent(ctx context.Context, id, providerMessageID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	row := r.find(id)
	if row == nil {
		return repository.ErrNotFound
	}
	row.Status = models.DeliveryStatusSent
	row.ProviderMessageID = providerMessageID
	row.SentAt = &at
	return nil
}

func (r *memDeliveryRepo) MarkDeliveryDelivered(ctx context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	row := r.find(id)
	if row == nil {
		return repository.ErrNotFound
	}
	row.Status = models.DeliveryStatusDelivered
	row.DeliveredAt = &at
	return nil
}

func (r *memDeliveryRepo) MarkDeliveryRead(ctx context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	row := r.find(id)
	if row == nil {
		return repository.ErrNotFound
	}
	row.Status = models.DeliveryStatusRead
	row.ReadAt = &at
	return nil
}

func (r *memDeliveryRepo) MarkDeliveryFailed(ctx context.Context, id string, status models.DeliveryStatus, detail string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	row := r.find(id)
	if row == nil {
		return repository.ErrNotFound
	}
	row.Status = status
	row.ErrorDetail = detail
	return nil
}

func (r *memDeliveryRepo) FindDeliveryByProviderID(ctx context.Context, providerMessageID string) (*models.DeliveryLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range r.rows {
		if row.ProviderMessageID == providerMessageID {
			cp := *row
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *memDeliveryRepo) ListDeliveries(ctx context.Context, alertID string) ([]models.DeliveryLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.DeliveryLog
	for _, row := range r.rows {
		if row.AlertID == alertID {
			out = append(out, *row)
		}
	}
	return out, nil
}

func (r *memDeliveryRepo) ChannelStats(ctx context.Context, since, until time.Time) ([]repository.ChannelStat, error) {
	return nil, nil
}

func (r *memDeliveryRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rows)
}

// scriptedSender returns canned outcomes per call.
type scriptedSender struct {
	channel   models.Channel
	err       error
	calls     atomic.Int64
	cancelled []string
	mu        sync.Mutex
}

func (s *scriptedSender) Channel() models.Channel { return s.channel }

func (s *scriptedSender) Send(ctx context.Context, address string, msg channels.Message) (channels.Result, error) {
	n := s.calls.Add(1)
	if s.err != nil {
		return channels.Result{}, s.err
	}
	return channels.Result{ProviderMessageID: address + "-" + string(rune('0'+n))}, nil
}

func (s *scriptedSender) CancelCall(ctx context.Context, providerMessageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelled = append(s.cancelled, providerMessageID)
	return nil
}

func testNotification(ch models.Channel) Notification {
	return Notification{
		Alert: models.Alert{ID: "alert-1", Severity: 4, Status: models.AlertStatusNotifying},
		Hazard: models.HazardEvent{ID: "usgs_x", Magnitude: 7.1, DepthKM: 8,
			Title: "offshore quake", OccurredAt: time.Now().UTC()},
		Contact:   models.Contact{ID: "c1", Name: "ops", Phone: "+15550001", Email: "x@example.com", ChatHandle: "C01"},
		Channel:   ch,
		StepIndex: 0,
	}
}

func newTestDispatcher(repo *memDeliveryRepo, senders ...channels.Sender) *Dispatcher {
	d := NewDispatcher(Config{
		Workers:     2,
		BufferSize:  16,
		MaxAttempts: 3,
		BackoffBase: time.Millisecond,
	}, repo, senders, nil)
	d.sleep = func(ctx context.Context, _ time.Duration) error { return nil }
	return d
}

func TestDispatcher_ExactlyOnceSendPerKey(t *testing.T) {
	repo := &memDeliveryRepo{}
	sender := &scriptedSender{channel: models.ChannelSMS}
	d := newTestDispatcher(repo, sender)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Start(ctx)

	n := testNotification(models.ChannelSMS)
	// The same step dispatched twice concurrently (sweep + manual trigger).
	d.Dispatch(ctx, []Notification{n})
	d.Dispatch(ctx, []Notification{n})
	d.Stop()

	if got := sender.calls.Load(); got != 1 {
		t.Errorf("provider called %d times, want exactly 1", got)
	}
	if repo.count() != 1 {
		t.Errorf("expected 1 delivery row, got %d", repo.count())
	}
}

func TestDispatcher_BoundedRetriesThenDeadLetter(t *testing.T) {
	repo := &memDeliveryRepo{}
	sender := &scriptedSender{channel: models.ChannelSMS,
		err: channels.Transient(errors.New("provider timeout"))}
	d := newTestDispatcher(repo, sender)

	var deadLetters atomic.Int64
	d.SetDeadLetterFunc(func(models.DeliveryLog) { deadLetters.Add(1) })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Start(ctx)
	d.Dispatch(ctx, []Notification{testNotification(models.ChannelSMS)})
	d.Stop()

	if got := sender.calls.Load(); got != 3 {
		t.Errorf("provider called %d times, want MaxAttempts=3", got)
	}
	if repo.count() != 3 {
		t.Errorf("expected 3 attempt rows, got %d", repo.count())
	}
	logs, _ := repo.ListDeliveries(ctx, "alert-1")
	for _, l := range logs {
		if l.Status != models.DeliveryStatusFailed {
			t.Errorf("attempt %d status = %s, want failed", l.Attempt, l.Status)
		}
	}
	if deadLetters.Load() != 1 {
		t.Errorf("dead letter surfaced %d times, want 1", deadLetters.Load())
	}
}

func TestDispatcher_PermanentFailureNotRetried(t *testing.T) {
	repo := &memDeliveryRepo{}
	sender := &scriptedSender{channel: models.ChannelEmail,
		err: channels.Permanent(errors.New("mailbox does not exist"))}
	d := newTestDispatcher(repo, sender)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Start(ctx)
	d.Dispatch(ctx, []Notification{testNotification(models.ChannelEmail)})
	d.Stop()

	if got := sender.calls.Load(); got != 1 {
		t.Errorf("provider called %d times, want 1 (no retries)", got)
	}
	if repo.count() != 1 {
		t.Errorf("expected 1 row, got %d", repo.count())
	}
}

func TestDispatcher_NoAddressNoDeliveryRow(t *testing.T) {
	repo := &memDeliveryRepo{}
	sender := &scriptedSender{channel: models.ChannelSMS}
	d := newTestDispatcher(repo, sender)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Start(ctx)

	n := testNotification(models.ChannelSMS)
	n.Contact = models.Contact{ID: "silent", Name: "no addresses"}
	d.Dispatch(ctx, []Notification{n})
	d.Stop()

	if sender.calls.Load() != 0 {
		t.Error("sender must not be called for an unreachable contact")
	}
	if repo.count() != 0 {
		t.Errorf("expected zero delivery rows, got %d", repo.count())
	}
}

func TestDispatcher_CancelAlertBlocksNewDispatch(t *testing.T) {
	repo := &memDeliveryRepo{}
	sender := &scriptedSender{channel: models.ChannelSMS}
	d := newTestDispatcher(repo, sender)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Start(ctx)

	d.CancelAlert("alert-1")
	d.Dispatch(ctx, []Notification{testNotification(models.ChannelSMS)})
	d.Stop()

	if sender.calls.Load() != 0 {
		t.Error("no dispatch may start after cancellation")
	}
}

func TestDispatcher_CancelPendingCalls(t *testing.T) {
	repo := &memDeliveryRepo{}
	voice := &scriptedSender{channel: models.ChannelVoice}
	d := newTestDispatcher(repo, voice)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Start(ctx)
	d.Dispatch(ctx, []Notification{testNotification(models.ChannelVoice)})
	d.Stop()

	d.CancelPendingCalls(ctx, "alert-1")

	voice.mu.Lock()
	defer voice.mu.Unlock()
	if len(voice.cancelled) != 1 {
		t.Errorf("expected 1 cancelled call, got %d", len(voice.cancelled))
	}
}
