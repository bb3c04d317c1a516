package tracker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/tidewatch/go-hazard-alerts/internal/models"
	"github.com/tidewatch/go-hazard-alerts/internal/repository"
)

type memRepo struct {
	mu   sync.Mutex
	rows map[string]*models.DeliveryLog
}

func newMemRepo() *memRepo {
	return &memRepo{rows: make(map[string]*models.DeliveryLog)}
}

func (m *memRepo) AppendDelivery(_ context.Context, d *models.DeliveryLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *d
	m.rows[d.ID] = &cp
	return nil
}

func (m *memRepo) HasDispatch(_ context.Context, alertID, contactID string, ch models.Channel, stepIndex int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rows {
		if r.AlertID == alertID && r.ContactID == contactID && r.Channel == ch && r.StepIndex == stepIndex {
			return true, nil
		}
	}
	return false, nil
}

func (m *memRepo) MarkDeliverySent(_ context.Context, id, providerMessageID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.rows[id]
	r.Status = models.DeliveryStatusSent
	r.ProviderMessageID = providerMessageID
	r.SentAt = &at
	return nil
}

func (m *memRepo) MarkDeliveryDelivered(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.rows[id]
	r.Status = models.DeliveryStatusDelivered
	r.DeliveredAt = &at
	return nil
}

func (m *memRepo) MarkDeliveryRead(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.rows[id]
	r.Status = models.DeliveryStatusRead
	r.ReadAt = &at
	return nil
}

func (m *memRepo) MarkDeliveryFailed(_ context.Context, id string, status models.DeliveryStatus, detail string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.rows[id]
	r.Status = status
	r.ErrorDetail = detail
	return nil
}

func (m *memRepo) FindDeliveryByProviderID(_ context.Context, providerMessageID string) (*models.DeliveryLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rows {
		if r.ProviderMessageID == providerMessageID {
			cp := *r
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *memRepo) ListDeliveries(_ context.Context, alertID string) ([]models.DeliveryLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.DeliveryLog
	for _, r := range m.rows {
		if r.AlertID == alertID {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (m *memRepo) ChannelStats(_ context.Context, since, until time.Time) ([]repository.ChannelStat, error) {
	return nil, nil
}

func (m *memRepo) get(id string) models.DeliveryLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.rows[id]
}

type fakeAcker struct {
	mu    sync.Mutex
	calls []string // "alertID|by"
	err   error
}

func (f *fakeAcker) Acknowledge(_ context.Context, alertID, by string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, alertID+"|"+by)
	return f.err
}

func seedRow(t *testing.T, repo *memRepo, id, providerID string, status models.DeliveryStatus) {
	t.Helper()
	row := &models.DeliveryLog{
		ID: id, AlertID: "a1", ContactID: "c1",
		Channel: models.ChannelSMS, StepIndex: 0, Attempt: 1,
		Status: status, ProviderMessageID: providerID,
		QueuedAt: time.Now().UTC(),
	}
	if err := repo.AppendDelivery(context.Background(), row); err != nil {
		t.Fatalf("seed failed: %v", err)
	}
}

func TestTracker_ProviderUpdateAdvancesStatus(t *testing.T) {
	repo := newMemRepo()
	tr := New(repo, &fakeAcker{}, nil)
	seedRow(t, repo, "d1", "prov-1", models.DeliveryStatusSent)

	err := tr.HandleProviderUpdate(context.Background(), ProviderUpdate{
		ProviderMessageID: "prov-1", Status: "delivered", At: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("HandleProviderUpdate failed: %v", err)
	}
	if got := repo.get("d1"); got.Status != models.DeliveryStatusDelivered || got.DeliveredAt == nil {
		t.Errorf("row after callback: %+v", got)
	}
}

func TestTracker_OutOfOrderCallbacksDoNotRegress(t *testing.T) {
	repo := newMemRepo()
	tr := New(repo, &fakeAcker{}, nil)
	seedRow(t, repo, "d1", "prov-1", models.DeliveryStatusSent)
	ctx := context.Background()

	// "read" arrives before "delivered".
	if err := tr.HandleProviderUpdate(ctx, ProviderUpdate{ProviderMessageID: "prov-1", Status: "read"}); err != nil {
		t.Fatalf("read callback failed: %v", err)
	}
	got := repo.get("d1")
	if got.Status != models.DeliveryStatusRead {
		t.Fatalf("status = %s, want read", got.Status)
	}
	if got.DeliveredAt == nil {
		t.Error("read callback did not backfill delivered timestamp")
	}

	// The late "delivered" must not move the row backwards.
	if err := tr.HandleProviderUpdate(ctx, ProviderUpdate{ProviderMessageID: "prov-1", Status: "delivered"}); err != nil {
		t.Fatalf("late delivered callback errored: %v", err)
	}
	if got := repo.get("d1"); got.Status != models.DeliveryStatusRead {
		t.Errorf("status regressed to %s", got.Status)
	}
}

func TestTracker_BounceMarksFailure(t *testing.T) {
	repo := newMemRepo()
	tr := New(repo, &fakeAcker{}, nil)
	seedRow(t, repo, "d1", "prov-1", models.DeliveryStatusSent)

	err := tr.HandleProviderUpdate(context.Background(), ProviderUpdate{
		ProviderMessageID: "prov-1", Status: "bounced", Detail: "mailbox full",
	})
	if err != nil {
		t.Fatalf("bounce callback failed: %v", err)
	}
	got := repo.get("d1")
	if got.Status != models.DeliveryStatusBounced || got.ErrorDetail != "mailbox full" {
		t.Errorf("row after bounce: %+v", got)
	}
}

func TestTracker_UnknownProviderMessage(t *testing.T) {
	tr := New(newMemRepo(), &fakeAcker{}, nil)
	err := tr.HandleProviderUpdate(context.Background(), ProviderUpdate{
		ProviderMessageID: "nope", Status: "delivered",
	})
	if !errors.Is(err, ErrUnknownMessage) {
		t.Errorf("err = %v, want ErrUnknownMessage", err)
	}
}

func TestTracker_UnrecognizedStatusRejected(t *testing.T) {
	repo := newMemRepo()
	tr := New(repo, &fakeAcker{}, nil)
	seedRow(t, repo, "d1", "prov-1", models.DeliveryStatusSent)

	err := tr.HandleProviderUpdate(context.Background(), ProviderUpdate{
		ProviderMessageID: "prov-1", Status: "teleported",
	})
	if err == nil {
		t.Error("expected an error for an unrecognized status")
	}
}

func TestTracker_ReplyAcknowledges(t *testing.T) {
	acker := &fakeAcker{}
	tr := New(newMemRepo(), acker, nil)
	ctx := context.Background()

	cases := []struct {
		body string
		want int
	}{
		{"ACK alert-42", 1},
		{"  ack alert-42  ", 1},
		{"thanks, on it", 0},
		{"ACK", 0}, // no alert id
	}
	for _, tc := range cases {
		acker.calls = nil
		if err := tr.HandleReply(ctx, "+15550000", tc.body); err != nil {
			t.Fatalf("HandleReply(%q) failed: %v", tc.body, err)
		}
		if len(acker.calls) != tc.want {
			t.Errorf("HandleReply(%q): %d acks, want %d", tc.body, len(acker.calls), tc.want)
		}
	}

	tr.HandleReply(ctx, "+15550000", "ACK alert-42")
	if acker.calls[len(acker.calls)-1] != "alert-42|+15550000" {
		t.Errorf("ack call = %s", acker.calls[len(acker.calls)-1])
	}
}

func TestTracker_AlertSummary(t *testing.T) {
	repo := newMemRepo()
	tr := New(repo, &fakeAcker{}, nil)
	ctx := context.Background()

	rows := []*models.DeliveryLog{
		{ID: "d1", AlertID: "a1", ContactID: "c1", Channel: models.ChannelSMS, Attempt: 1, Status: models.DeliveryStatusFailed},
		{ID: "d2", AlertID: "a1", ContactID: "c1", Channel: models.ChannelSMS, Attempt: 2, Status: models.DeliveryStatusDelivered},
		{ID: "d3", AlertID: "a1", ContactID: "c2", Channel: models.ChannelEmail, Attempt: 1, Status: models.DeliveryStatusRead},
		{ID: "d4", AlertID: "other", ContactID: "c9", Channel: models.ChannelEmail, Attempt: 1, Status: models.DeliveryStatusSent},
	}
	for _, r := range rows {
		repo.AppendDelivery(ctx, r)
	}

	s, err := tr.AlertSummary(ctx, "a1")
	if err != nil {
		t.Fatalf("AlertSummary failed: %v", err)
	}

	total := 0
	for _, cs := range s.Channels {
		total += cs.Attempts
		if cs.Channel == models.ChannelSMS {
			if cs.Failed != 1 || cs.Delivered != 1 {
				t.Errorf("sms summary: %+v", cs)
			}
		}
	}
	if total != 3 {
		t.Errorf("attempts across channels = %d, want 3 (other alert excluded)", total)
	}

	// A failed first attempt must not shadow the delivered retry.
	if s.Contacts["c1"] != models.DeliveryStatusDelivered {
		t.Errorf("c1 status = %s, want delivered", s.Contacts["c1"])
	}
	if s.Contacts["c2"] != models.DeliveryStatusRead {
		t.Errorf("c2 status = %s, want read", s.Contacts["c2"])
	}
}
