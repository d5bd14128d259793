package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"meridian-router.dev/meridian/internal/clock"
)

// CreateAlert stores a new alert definition.
func (s *Store) CreateAlert(ctx context.Context, a *Alert) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = clock.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO alerts
		 (id, name, metric_type, source, operator, threshold, severity, enabled,
		  check_interval_seconds, recipients, last_checked, last_triggered, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		a.ID, a.Name, a.MetricType, a.Source, a.Operator, a.Threshold, a.Severity,
		a.Enabled, a.CheckIntervalSec, a.Recipients, a.LastChecked, a.LastTriggered, a.CreatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("alert %q already exists", a.Name)
	}
	if err != nil {
		return fmt.Errorf("creating alert: %w", err)
	}
	return nil
}

// UpdateAlert updates an existing alert definition.
func (s *Store) UpdateAlert(ctx context.Context, a *Alert) error {
	res, err := s.db.ExecContext(ctx, s.rebind(
		`UPDATE alerts SET name = ?, metric_type = ?, source = ?, operator = ?,
		 threshold = ?, severity = ?, enabled = ?, check_interval_seconds = ?, recipients = ?
		 WHERE id = ?`),
		a.Name, a.MetricType, a.Source, a.Operator, a.Threshold, a.Severity,
		a.Enabled, a.CheckIntervalSec, a.Recipients, a.ID)
	if err != nil {
		return fmt.Errorf("updating alert: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteAlert removes an alert and (via cascade) its instances.
func (s *Store) DeleteAlert(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM alerts WHERE id = ?`), id)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetAlert returns one alert by id.
func (s *Store) GetAlert(ctx context.Context, id string) (*Alert, error) {
	var a Alert
	err := s.db.GetContext(ctx, &a, s.rebind(`SELECT * FROM alerts WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// GetAlertByName returns one alert by name.
func (s *Store) GetAlertByName(ctx context.Context, name string) (*Alert, error) {
	var a Alert
	err := s.db.GetContext(ctx, &a, s.rebind(`SELECT * FROM alerts WHERE name = ?`), name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// ListAlerts returns all alert definitions.
func (s *Store) ListAlerts(ctx context.Context) ([]Alert, error) {
	var out []Alert
	err := s.db.SelectContext(ctx, &out, `SELECT * FROM alerts ORDER BY name`)
	return out, err
}

// ListEnabledAlerts returns alerts the evaluation loop should consider.
func (s *Store) ListEnabledAlerts(ctx context.Context) ([]Alert, error) {
	var out []Alert
	err := s.db.SelectContext(ctx, &out, s.rebind(
		`SELECT * FROM alerts WHERE enabled = ? ORDER BY name`), true)
	return out, err
}

// TouchAlertChecked stamps last_checked, and last_triggered when fired.
func (s *Store) TouchAlertChecked(ctx context.Context, id string, triggered bool) error {
	now := clock.Now().UTC()
	if triggered {
		_, err := s.db.ExecContext(ctx, s.rebind(
			`UPDATE alerts SET last_checked = ?, last_triggered = ? WHERE id = ?`), now, now, id)
		return err
	}
	_, err := s.db.ExecContext(ctx, s.rebind(
		`UPDATE alerts SET last_checked = ? WHERE id = ?`), now, id)
	return err
}

// CreateAlertInstance records a firing.
func (s *Store) CreateAlertInstance(ctx context.Context, inst *AlertInstance) error {
	if inst.ID == "" {
		inst.ID = uuid.NewString()
	}
	if inst.FiredAt.IsZero() {
		inst.FiredAt = clock.Now().UTC()
	}
	if inst.Status == "" {
		inst.Status = InstanceFiring
	}
	_, err := s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO alert_instances
		 (id, alert_id, value, message, status, notified, fired_at, acknowledged_at, resolved_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		inst.ID, inst.AlertID, inst.Value, inst.Message, inst.Status,
		inst.Notified, inst.FiredAt, inst.AcknowledgedAt, inst.ResolvedAt)
	if err != nil {
		return fmt.Errorf("creating alert instance: %w", err)
	}
	return nil
}

// RecentInstanceExists reports whether the alert fired since the given time.
// Used to suppress duplicate notifications inside the check window.
func (s *Store) RecentInstanceExists(ctx context.Context, alertID string, since time.Time) (bool, error) {
	var count int
	err := s.db.GetContext(ctx, &count, s.rebind(
		`SELECT COUNT(*) FROM alert_instances WHERE alert_id = ? AND fired_at >= ?`),
		alertID, since)
	return count > 0, err
}

// OpenInstances returns unresolved instances for an alert.
func (s *Store) OpenInstances(ctx context.Context, alertID string) ([]AlertInstance, error) {
	var out []AlertInstance
	err := s.db.SelectContext(ctx, &out, s.rebind(
		`SELECT * FROM alert_instances WHERE alert_id = ? AND status != ?
		 ORDER BY fired_at DESC`), alertID, InstanceResolved)
	return out, err
}

// ResolveInstances closes all open instances of an alert.
func (s *Store) ResolveInstances(ctx context.Context, alertID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.rebind(
		`UPDATE alert_instances SET status = ?, resolved_at = ?
		 WHERE alert_id = ? AND status != ?`),
		InstanceResolved, clock.Now().UTC(), alertID, InstanceResolved)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// AcknowledgeInstance marks one instance acknowledged.
func (s *Store) AcknowledgeInstance(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, s.rebind(
		`UPDATE alert_instances SET status = ?, acknowledged_at = ?
		 WHERE id = ? AND status = ?`),
		InstanceAcknowledged, clock.Now().UTC(), id, InstanceFiring)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkInstanceNotified stamps the notified flag after dispatch.
func (s *Store) MarkInstanceNotified(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, s.rebind(
		`UPDATE alert_instances SET notified = ? WHERE id = ?`), true, id)
	return err
}

// ListAlertInstances returns recent instances, optionally filtered by status.
func (s *Store) ListAlertInstances(ctx context.Context, status string, limit int) ([]AlertInstance, error) {
	if limit <= 0 {
		limit = 100
	}
	var out []AlertInstance
	var err error
	if status != "" {
		err = s.db.SelectContext(ctx, &out, s.rebind(
			`SELECT * FROM alert_instances WHERE status = ?
			 ORDER BY fired_at DESC LIMIT ?`), status, limit)
	} else {
		err = s.db.SelectContext(ctx, &out, s.rebind(
			`SELECT * FROM alert_instances ORDER BY fired_at DESC LIMIT ?`), limit)
	}
	return out, err
}

// CountOpenInstances returns the number of unresolved instances, for the
// dashboard and the Prometheus exporter.
func (s *Store) CountOpenInstances(ctx context.Context) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count, s.rebind(
		`SELECT COUNT(*) FROM alert_instances WHERE status != ?`), InstanceResolved)
	return count, err
}
