package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/tidewatch/go-hazard-alerts/internal/models"
)

type SQLiteDB struct {
	db *sql.DB
}

func NewSQLiteDB(path string) (*SQLiteDB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	// Concurrent sweeps and dispatch workers share one connection pool;
	// sqlite serializes writers, so keep a single connection to avoid
	// SQLITE_BUSY churn.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("error while pinging database: %w", err)
	}

	s := &SQLiteDB{
		db: db,
	}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("error while migrating to database: %w", err)
	}

	return s, nil
}

func (s *SQLiteDB) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS hazard_events (
			id TEXT PRIMARY KEY,
			source TEXT NOT NULL,
			external_id TEXT NOT NULL,
			type TEXT NOT NULL,
			title TEXT NOT NULL,
			description TEXT,
			magnitude REAL NOT NULL,
			depth_km REAL NOT NULL,
			latitude REAL NOT NULL,
			longitude REAL NOT NULL,
			tsunami_flag INTEGER NOT NULL DEFAULT 0,
			occurred_at DATETIME NOT NULL,
			raw BLOB,
			created_at DATETIME NOT NULL
		);

		CREATE TABLE IF NOT EXISTS alerts (
			id TEXT PRIMARY KEY,
			hazard_event_id TEXT NOT NULL,
			scope TEXT NOT NULL,
			severity INTEGER NOT NULL,
			status TEXT NOT NULL,
			policy_id TEXT NOT NULL,
			step_index INTEGER NOT NULL,
			next_escalation_at DATETIME,
			acknowledged INTEGER NOT NULL DEFAULT 0,
			acknowledged_by TEXT,
			acknowledged_at DATETIME,
			created_at DATETIME NOT NULL,
			resolved_at DATETIME,
			version INTEGER NOT NULL DEFAULT 0,
			FOREIGN KEY (hazard_event_id) REFERENCES hazard_events(id)
		);

		CREATE TABLE IF NOT EXISTS affected_entities (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			alert_id TEXT NOT NULL,
			asset_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			name TEXT NOT NULL,
			contact_id TEXT NOT NULL,
			distance_km REAL NOT NULL,
			band TEXT NOT NULL,
			resolution_pass INTEGER NOT NULL,
			created_at DATETIME NOT NULL,
			FOREIGN KEY (alert_id) REFERENCES alerts(id)
		);

		CREATE TABLE IF NOT EXISTS contacts (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			tier INTEGER NOT NULL DEFAULT 0,
			phone TEXT,
			email TEXT,
			chat_handle TEXT
		);

		CREATE TABLE IF NOT EXISTS assets (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			name TEXT NOT NULL,
			contact_id TEXT NOT NULL,
			latitude REAL,
			longitude REAL,
			FOREIGN KEY (contact_id) REFERENCES contacts(id)
		);

		CREATE TABLE IF NOT EXISTS delivery_logs (
			id TEXT PRIMARY KEY,
			alert_id TEXT NOT NULL,
			contact_id TEXT NOT NULL,
			channel TEXT NOT NULL,
			step_index INTEGER NOT NULL,
			attempt INTEGER NOT NULL,
			status TEXT NOT NULL,
			provider_message_id TEXT,
			error_detail TEXT,
			queued_at DATETIME NOT NULL,
			sent_at DATETIME,
			delivered_at DATETIME,
			read_at DATETIME,
			FOREIGN KEY (alert_id) REFERENCES alerts(id),
			FOREIGN KEY (contact_id) REFERENCES contacts(id)
		);

		CREATE INDEX IF NOT EXISTS idx_hazard_events_occurred ON hazard_events(occurred_at);
		CREATE INDEX IF NOT EXISTS idx_alerts_event_scope ON alerts(hazard_event_id, scope);
		CREATE INDEX IF NOT EXISTS idx_alerts_due ON alerts(next_escalation_at);
		CREATE INDEX IF NOT EXISTS idx_affected_alert ON affected_entities(alert_id);
		CREATE INDEX IF NOT EXISTS idx_delivery_alert ON delivery_logs(alert_id);
		CREATE INDEX IF NOT EXISTS idx_delivery_key ON delivery_logs(alert_id, contact_id, channel, step_index);
  	`

	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteDB) Close() error {
	return s.db.Close()
}

// ========== hazard events ==========

func (s *SQLiteDB) CreateHazardIfAbsent(ctx context.Context, e *models.HazardEvent) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO hazard_events
			(id, source, external_id, type, title, description, magnitude, depth_km,
			 latitude, longitude, tsunami_flag, occurred_at, raw, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		e.ID, e.Source, e.ExternalID, string(e.Type), e.Title, e.Description,
		e.Magnitude, e.DepthKM, e.Latitude, e.Longitude, boolToInt(e.TsunamiFlag),
		e.OccurredAt, e.Raw, e.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("error inserting hazard event: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *SQLiteDB) GetHazard(ctx context.Context, id string) (*models.HazardEvent, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, source, external_id, type, title, description, magnitude, depth_km,
		       latitude, longitude, tsunami_flag, occurred_at, raw, created_at
		FROM hazard_events WHERE id = ?`, id)
	return scanHazard(row)
}

func (s *SQLiteDB) ListHazards(ctx context.Context, opts HazardFilter) ([]models.HazardEvent, error) {
	query := `
		SELECT id, source, external_id, type, title, description, magnitude, depth_km,
		       latitude, longitude, tsunami_flag, occurred_at, raw, created_at
		FROM hazard_events`
	var conds []string
	var args []any

	if opts.Type != nil {
		conds = append(conds, "type = ?")
		args = append(args, string(*opts.Type))
	}
	if opts.MinMagnitude != nil {
		conds = append(conds, "magnitude >= ?")
		args = append(args, *opts.MinMagnitude)
	}
	if opts.Since != nil {
		conds = append(conds, "occurred_at >= ?")
		args = append(args, *opts.Since)
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY occurred_at DESC"
	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("error listing hazard events: %w", err)
	}
	defer rows.Close()

	var out []models.HazardEvent
	for rows.Next() {
		e, err := scanHazard(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanHazard(r rowScanner) (*models.HazardEvent, error) {
	var e models.HazardEvent
	var typ string
	var desc sql.NullString
	var tsunami int
	err := r.Scan(&e.ID, &e.Source, &e.ExternalID, &typ, &e.Title, &desc,
		&e.Magnitude, &e.DepthKM, &e.Latitude, &e.Longitude, &tsunami,
		&e.OccurredAt, &e.Raw, &e.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error scanning hazard event: %w", err)
	}
	e.Type = models.HazardType(typ)
	e.Description = desc.String
	e.TsunamiFlag = tsunami != 0
	return &e, nil
}

// ========== alerts ==========

func (s *SQLiteDB) CreateAlert(ctx context.Context, a *models.Alert) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO alerts
			(id, hazard_event_id, scope, severity, status, policy_id, step_index,
			 next_escalation_at, acknowledged, acknowledged_by, acknowledged_at,
			 created_at, resolved_at, version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.HazardEventID, a.Scope, a.Severity, string(a.Status), a.PolicyID,
		a.StepIndex, nullTime(a.NextEscalationAt), boolToInt(a.Acknowledged),
		a.AcknowledgedBy, nullTime(a.AcknowledgedAt), a.CreatedAt,
		nullTime(a.ResolvedAt), a.Version)
	if err != nil {
		return fmt.Errorf("error inserting alert: %w", err)
	}
	return nil
}

const alertColumns = `id, hazard_event_id, scope, severity, status, policy_id, step_index,
	next_escalation_at, acknowledged, acknowledged_by, acknowledged_at,
	created_at, resolved_at, version`

func (s *SQLiteDB) GetAlert(ctx context.Context, id string) (*models.Alert, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+alertColumns+" FROM alerts WHERE id = ?", id)
	return scanAlert(row)
}

func (s *SQLiteDB) FindOpenAlert(ctx context.Context, hazardEventID, scope string) (*models.Alert, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+alertColumns+` FROM alerts
		 WHERE hazard_event_id = ? AND scope = ? AND status NOT IN (?, ?, ?)`,
		hazardEventID, scope,
		string(models.AlertStatusAcknowledged),
		string(models.AlertStatusResolved),
		string(models.AlertStatusExpired))
	return scanAlert(row)
}

func (s *SQLiteDB) ListAlerts(ctx context.Context, opts AlertFilter) ([]models.Alert, error) {
	query := "SELECT " + alertColumns + " FROM alerts"
	var conds []string
	var args []any

	if opts.Status != nil {
		conds = append(conds, "status = ?")
		args = append(args, string(*opts.Status))
	}
	if opts.Severity != nil {
		conds = append(conds, "severity = ?")
		args = append(args, *opts.Severity)
	}
	if opts.Open {
		conds = append(conds, "status NOT IN (?, ?, ?)")
		args = append(args,
			string(models.AlertStatusAcknowledged),
			string(models.AlertStatusResolved),
			string(models.AlertStatusExpired))
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("error listing alerts: %w", err)
	}
	defer rows.Close()

	var out []models.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func (s *SQLiteDB) ListDueAlerts(ctx context.Context, now time.Time) ([]models.Alert, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+alertColumns+` FROM alerts
		 WHERE next_escalation_at IS NOT NULL AND next_escalation_at <= ?
		   AND status NOT IN (?, ?, ?)`,
		now,
		string(models.AlertStatusAcknowledged),
		string(models.AlertStatusResolved),
		string(models.AlertStatusExpired))
	if err != nil {
		return nil, fmt.Errorf("error listing due alerts: %w", err)
	}
	defer rows.Close()

	var out []models.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func (s *SQLiteDB) UpdateAlertCAS(ctx context.Context, a *models.Alert, expectedVersion int64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE alerts SET
			status = ?, step_index = ?, next_escalation_at = ?,
			acknowledged = ?, acknowledged_by = ?, acknowledged_at = ?,
			resolved_at = ?, version = version + 1
		WHERE id = ? AND version = ?`,
		string(a.Status), a.StepIndex, nullTime(a.NextEscalationAt),
		boolToInt(a.Acknowledged), a.AcknowledgedBy, nullTime(a.AcknowledgedAt),
		nullTime(a.ResolvedAt), a.ID, expectedVersion)
	if err != nil {
		return fmt.Errorf("error updating alert: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrConflict
	}
	a.Version = expectedVersion + 1
	return nil
}

func scanAlert(r rowScanner) (*models.Alert, error) {
	var a models.Alert
	var status string
	var next, ackAt, resolvedAt sql.NullTime
	var ackBy sql.NullString
	var acked int
	err := r.Scan(&a.ID, &a.HazardEventID, &a.Scope, &a.Severity, &status,
		&a.PolicyID, &a.StepIndex, &next, &acked, &ackBy, &ackAt,
		&a.CreatedAt, &resolvedAt, &a.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error scanning alert: %w", err)
	}
	a.Status = models.AlertStatus(status)
	a.NextEscalationAt = timePtr(next)
	a.Acknowledged = acked != 0
	a.AcknowledgedBy = ackBy.String
	a.AcknowledgedAt = timePtr(ackAt)
	a.ResolvedAt = timePtr(resolvedAt)
	return &a, nil
}

// ========== affected entities ==========

func (s *SQLiteDB) AddAffectedEntities(ctx context.Context, entities []models.AffectedEntity) error {
	if len(entities) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("error starting transaction: %w", err)
	}
	defer tx.Rollback()

	for _, e := range entities {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO affected_entities
				(alert_id, asset_id, kind, name, contact_id, distance_km, band,
				 resolution_pass, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			e.AlertID, e.AssetID, string(e.Kind), e.Name, e.ContactID,
			e.DistanceKM, string(e.Band), e.ResolutionPass, e.CreatedAt)
		if err != nil {
			return fmt.Errorf("error inserting affected entity: %w", err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteDB) ListAffectedEntities(ctx context.Context, alertID string) ([]models.AffectedEntity, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, alert_id, asset_id, kind, name, contact_id, distance_km, band,
		       resolution_pass, created_at
		FROM affected_entities WHERE alert_id = ? ORDER BY distance_km ASC`, alertID)
	if err != nil {
		return nil, fmt.Errorf("error listing affected entities: %w", err)
	}
	defer rows.Close()

	var out []models.AffectedEntity
	for rows.Next() {
		var e models.AffectedEntity
		var kind, band string
		if err := rows.Scan(&e.ID, &e.AlertID, &e.AssetID, &kind, &e.Name,
			&e.ContactID, &e.DistanceKM, &band, &e.ResolutionPass, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("error scanning affected entity: %w", err)
		}
		e.Kind = models.AssetKind(kind)
		e.Band = models.RiskBand(band)
		out = append(out, e)
	}
	return out, rows.Err()
}

// ========== contacts ==========

func (s *SQLiteDB) UpsertContact(ctx context.Context, c *models.Contact) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO contacts (id, name, tier, phone, email, chat_handle)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name, tier = excluded.tier, phone = excluded.phone,
			email = excluded.email, chat_handle = excluded.chat_handle`,
		c.ID, c.Name, c.Tier, c.Phone, c.Email, c.ChatHandle)
	if err != nil {
		return fmt.Errorf("error upserting contact: %w", err)
	}
	return nil
}

func (s *SQLiteDB) GetContact(ctx context.Context, id string) (*models.Contact, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, tier, phone, email, chat_handle FROM contacts WHERE id = ?`, id)
	c, err := scanContact(row)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (s *SQLiteDB) ListContactsByTier(ctx context.Context, maxTier int, ids []string) ([]models.Contact, error) {
	query := `SELECT id, name, tier, phone, email, chat_handle FROM contacts WHERE tier <= ?`
	args := []any{maxTier}

	if len(ids) > 0 {
		query += " AND id IN (?" + strings.Repeat(", ?", len(ids)-1) + ")"
		for _, id := range ids {
			args = append(args, id)
		}
	}
	query += " ORDER BY tier ASC, id ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("error listing contacts: %w", err)
	}
	defer rows.Close()

	var out []models.Contact
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func scanContact(r rowScanner) (*models.Contact, error) {
	var c models.Contact
	var phone, email, chat sql.NullString
	err := r.Scan(&c.ID, &c.Name, &c.Tier, &phone, &email, &chat)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error scanning contact: %w", err)
	}
	c.Phone = phone.String
	c.Email = email.String
	c.ChatHandle = chat.String
	return &c, nil
}

// ========== assets ==========

func (s *SQLiteDB) UpsertAsset(ctx context.Context, a *models.Asset) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO assets (id, kind, name, contact_id, latitude, longitude)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			kind = excluded.kind, name = excluded.name, contact_id = excluded.contact_id,
			latitude = excluded.latitude, longitude = excluded.longitude`,
		a.ID, string(a.Kind), a.Name, a.ContactID, nullFloat(a.Latitude), nullFloat(a.Longitude))
	if err != nil {
		return fmt.Errorf("error upserting asset: %w", err)
	}
	return nil
}

func (s *SQLiteDB) ListAssets(ctx context.Context) ([]models.Asset, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, name, contact_id, latitude, longitude FROM assets ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("error listing assets: %w", err)
	}
	defer rows.Close()

	var out []models.Asset
	for rows.Next() {
		var a models.Asset
		var kind string
		var lat, lon sql.NullFloat64
		if err := rows.Scan(&a.ID, &kind, &a.Name, &a.ContactID, &lat, &lon); err != nil {
			return nil, fmt.Errorf("error scanning asset: %w", err)
		}
		a.Kind = models.AssetKind(kind)
		if lat.Valid {
			v := lat.Float64
			a.Latitude = &v
		}
		if lon.Valid {
			v := lon.Float64
			a.Longitude = &v
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ========== delivery logs ==========

func (s *SQLiteDB) AppendDelivery(ctx context.Context, d *models.DeliveryLog) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO delivery_logs
			(id, alert_id, contact_id, channel, step_index, attempt, status,
			 provider_message_id, error_detail, queued_at, sent_at, delivered_at, read_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.AlertID, d.ContactID, string(d.Channel), d.StepIndex, d.Attempt,
		string(d.Status), d.ProviderMessageID, d.ErrorDetail, d.QueuedAt,
		nullTime(d.SentAt), nullTime(d.DeliveredAt), nullTime(d.ReadAt))
	if err != nil {
		return fmt.Errorf("error inserting delivery log: %w", err)
	}
	return nil
}

func (s *SQLiteDB) HasDispatch(ctx context.Context, alertID, contactID string, ch models.Channel, stepIndex int) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(1) FROM delivery_logs
		WHERE alert_id = ? AND contact_id = ? AND channel = ? AND step_index = ?`,
		alertID, contactID, string(ch), stepIndex).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("error checking dispatch: %w", err)
	}
	return count > 0, nil
}

func (s *SQLiteDB) MarkDeliverySent(ctx context.Context, id, providerMessageID string, at time.Time) error {
	return s.markDelivery(ctx, `
		UPDATE delivery_logs SET status = ?, provider_message_id = ?, sent_at = ?
		WHERE id = ?`,
		string(models.DeliveryStatusSent), providerMessageID, at, id)
}

func (s *SQLiteDB) MarkDeliveryDelivered(ctx context.Context, id string, at time.Time) error {
	return s.markDelivery(ctx, `
		UPDATE delivery_logs SET status = ?, delivered_at = ? WHERE id = ?`,
		string(models.DeliveryStatusDelivered), at, id)
}

func (s *SQLiteDB) MarkDeliveryRead(ctx context.Context, id string, at time.Time) error {
	return s.markDelivery(ctx, `
		UPDATE delivery_logs SET status = ?, read_at = ? WHERE id = ?`,
		string(models.DeliveryStatusRead), at, id)
}

func (s *SQLiteDB) MarkDeliveryFailed(ctx context.Context, id string, status models.DeliveryStatus, detail string) error {
	return s.markDelivery(ctx, `
		UPDATE delivery_logs SET status = ?, error_detail = ? WHERE id = ?`,
		string(status), detail, id)
}

func (s *SQLiteDB) markDelivery(ctx context.Context, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("error updating delivery log: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteDB) FindDeliveryByProviderID(ctx context.Context, providerMessageID string) (*models.DeliveryLog, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, alert_id, contact_id, channel, step_index, attempt, status,
		       provider_message_id, error_detail, queued_at, sent_at, delivered_at, read_at
		FROM delivery_logs WHERE provider_message_id = ?`, providerMessageID)
	return scanDelivery(row)
}

func (s *SQLiteDB) ListDeliveries(ctx context.Context, alertID string) ([]models.DeliveryLog, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, alert_id, contact_id, channel, step_index, attempt, status,
		       provider_message_id, error_detail, queued_at, sent_at, delivered_at, read_at
		FROM delivery_logs WHERE alert_id = ?
		ORDER BY step_index ASC, contact_id ASC, channel ASC, attempt ASC`, alertID)
	if err != nil {
		return nil, fmt.Errorf("error listing delivery logs: %w", err)
	}
	defer rows.Close()

	var out []models.DeliveryLog
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

func (s *SQLiteDB) ChannelStats(ctx context.Context, since, until time.Time) ([]ChannelStat, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT channel,
		       SUM(CASE WHEN status IN ('sent', 'delivered', 'read') THEN 1 ELSE 0 END),
		       SUM(CASE WHEN status IN ('delivered', 'read') THEN 1 ELSE 0 END),
		       SUM(CASE WHEN status = 'read' THEN 1 ELSE 0 END),
		       SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END),
		       SUM(CASE WHEN status = 'bounced' THEN 1 ELSE 0 END)
		FROM delivery_logs
		WHERE queued_at >= ? AND queued_at < ?
		GROUP BY channel ORDER BY channel`, since, until)
	if err != nil {
		return nil, fmt.Errorf("error aggregating channel stats: %w", err)
	}
	defer rows.Close()

	var out []ChannelStat
	for rows.Next() {
		var st ChannelStat
		var ch string
		if err := rows.Scan(&ch, &st.Sent, &st.Delivered, &st.Read, &st.Failed, &st.Bounced); err != nil {
			return nil, fmt.Errorf("error scanning channel stat: %w", err)
		}
		st.Channel = models.Channel(ch)
		out = append(out, st)
	}
	return out, rows.Err()
}

func scanDelivery(r rowScanner) (*models.DeliveryLog, error) {
	var d models.DeliveryLog
	var ch, status string
	var provider, detail sql.NullString
	var sentAt, deliveredAt, readAt sql.NullTime
	err := r.Scan(&d.ID, &d.AlertID, &d.ContactID, &ch, &d.StepIndex, &d.Attempt,
		&status, &provider, &detail, &d.QueuedAt, &sentAt, &deliveredAt, &readAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error scanning delivery log: %w", err)
	}
	d.Channel = models.Channel(ch)
	d.Status = models.DeliveryStatus(status)
	d.ProviderMessageID = provider.String
	d.ErrorDetail = detail.String
	d.SentAt = timePtr(sentAt)
	d.DeliveredAt = timePtr(deliveredAt)
	d.ReadAt = timePtr(readAt)
	return &d, nil
}

// ========== helpers ==========

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func nullFloat(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
