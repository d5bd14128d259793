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

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("not found")

// InsertMetric stores a metric sample.
func (s *Store) InsertMetric(ctx context.Context, m *MetricSample) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = clock.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO metric_samples (id, metric_type, value, unit, source, metadata, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`),
		m.ID, m.Type, m.Value, m.Unit, m.Source, m.Metadata, m.Timestamp)
	if err != nil {
		return fmt.Errorf("inserting metric: %w", err)
	}
	return nil
}

// InsertMetrics stores a batch of samples in one transaction.
func (s *Store) InsertMetrics(ctx context.Context, samples []MetricSample) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := s.rebind(
		`INSERT INTO metric_samples (id, metric_type, value, unit, source, metadata, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`)
	now := clock.Now().UTC()
	for i := range samples {
		m := &samples[i]
		if m.ID == "" {
			m.ID = uuid.NewString()
		}
		if m.Timestamp.IsZero() {
			m.Timestamp = now
		}
		if _, err := tx.ExecContext(ctx, query,
			m.ID, m.Type, m.Value, m.Unit, m.Source, m.Metadata, m.Timestamp); err != nil {
			return fmt.Errorf("inserting metric batch: %w", err)
		}
	}
	return tx.Commit()
}

// LatestMetric returns the most recent sample for a type, optionally filtered
// by source.
func (s *Store) LatestMetric(ctx context.Context, metricType, source string) (*MetricSample, error) {
	var m MetricSample
	var err error
	if source != "" {
		err = s.db.GetContext(ctx, &m, s.rebind(
			`SELECT * FROM metric_samples WHERE metric_type = ? AND source = ?
			 ORDER BY timestamp DESC LIMIT 1`), metricType, source)
	} else {
		err = s.db.GetContext(ctx, &m, s.rebind(
			`SELECT * FROM metric_samples WHERE metric_type = ?
			 ORDER BY timestamp DESC LIMIT 1`), metricType)
	}
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// MetricHistory returns samples for a type since the given time, newest first.
func (s *Store) MetricHistory(ctx context.Context, metricType, source string, since time.Time, limit int) ([]MetricSample, error) {
	if limit <= 0 {
		limit = 1000
	}
	var out []MetricSample
	var err error
	if source != "" {
		err = s.db.SelectContext(ctx, &out, s.rebind(
			`SELECT * FROM metric_samples
			 WHERE metric_type = ? AND source = ? AND timestamp >= ?
			 ORDER BY timestamp DESC LIMIT ?`), metricType, source, since, limit)
	} else {
		err = s.db.SelectContext(ctx, &out, s.rebind(
			`SELECT * FROM metric_samples
			 WHERE metric_type = ? AND timestamp >= ?
			 ORDER BY timestamp DESC LIMIT ?`), metricType, since, limit)
	}
	return out, err
}

// MetricSources returns the distinct sources seen for a metric type.
func (s *Store) MetricSources(ctx context.Context, metricType string) ([]string, error) {
	var out []string
	err := s.db.SelectContext(ctx, &out, s.rebind(
		`SELECT DISTINCT source FROM metric_samples
		 WHERE metric_type = ? AND source != '' ORDER BY source`), metricType)
	return out, err
}

// DeleteMetricsBefore removes samples older than the cutoff. Returns the
// number of rows deleted.
func (s *Store) DeleteMetricsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.rebind(
		`DELETE FROM metric_samples WHERE timestamp < ?`), cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// UpsertServiceState inserts or updates the status row for a unit.
func (s *Store) UpsertServiceState(ctx context.Context, st *ServiceState) error {
	if st.ID == "" {
		st.ID = uuid.NewString()
	}
	if st.LastChecked.IsZero() {
		st.LastChecked = clock.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO service_states (id, name, status, pid, cpu_percent, memory_mb, started_at, last_checked)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (name) DO UPDATE SET
		   status = excluded.status,
		   pid = excluded.pid,
		   cpu_percent = excluded.cpu_percent,
		   memory_mb = excluded.memory_mb,
		   started_at = excluded.started_at,
		   last_checked = excluded.last_checked`),
		st.ID, st.Name, st.Status, st.PID, st.CPUPercent, st.MemoryMB, st.StartedAt, st.LastChecked)
	if err != nil {
		return fmt.Errorf("upserting service state: %w", err)
	}
	return nil
}

// ListServiceStates returns all service status rows ordered by name.
func (s *Store) ListServiceStates(ctx context.Context) ([]ServiceState, error) {
	var out []ServiceState
	err := s.db.SelectContext(ctx, &out,
		`SELECT * FROM service_states ORDER BY name`)
	return out, err
}

// GetServiceState returns the status row for one unit.
func (s *Store) GetServiceState(ctx context.Context, name string) (*ServiceState, error) {
	var st ServiceState
	err := s.db.GetContext(ctx, &st, s.rebind(
		`SELECT * FROM service_states WHERE name = ?`), name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &st, nil
}

// ReplaceConnections stores a fresh connection snapshot batch.
func (s *Store) ReplaceConnections(ctx context.Context, conns []ConnectionSnapshot) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := s.rebind(
		`INSERT INTO connection_snapshots
		 (id, protocol, local_addr, local_port, remote_addr, remote_port, status, pid, process, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	now := clock.Now().UTC()
	for i := range conns {
		c := &conns[i]
		if c.ID == "" {
			c.ID = uuid.NewString()
		}
		if c.Timestamp.IsZero() {
			c.Timestamp = now
		}
		if _, err := tx.ExecContext(ctx, query,
			c.ID, c.Protocol, c.LocalAddr, c.LocalPort, c.RemoteAddr, c.RemotePort,
			c.Status, c.PID, c.Process, c.Timestamp); err != nil {
			return fmt.Errorf("inserting connection snapshot: %w", err)
		}
	}
	return tx.Commit()
}

// ListConnections returns the most recent connection snapshots.
func (s *Store) ListConnections(ctx context.Context, limit int) ([]ConnectionSnapshot, error) {
	if limit <= 0 {
		limit = 100
	}
	var out []ConnectionSnapshot
	err := s.db.SelectContext(ctx, &out, s.rebind(
		`SELECT * FROM connection_snapshots ORDER BY timestamp DESC LIMIT ?`), limit)
	return out, err
}

// DeleteConnectionsBefore removes snapshots older than the cutoff.
func (s *Store) DeleteConnectionsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.rebind(
		`DELETE FROM connection_snapshots WHERE timestamp < ?`), cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// InsertLog stores a parsed syslog line. Duplicate lines (same timestamp,
// process and message) are silently skipped so repeated tail reads do not
// multiply rows.
func (s *Store) InsertLog(ctx context.Context, l *SystemLog) (bool, error) {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO system_logs (id, timestamp, level, source, process, host, message)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`),
		l.ID, l.Timestamp, l.Level, l.Source, l.Process, l.Host, l.Message)
	if isUniqueViolation(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("inserting log: %w", err)
	}
	return true, nil
}

// ListLogs returns recent logs, optionally filtered by level and source.
func (s *Store) ListLogs(ctx context.Context, level, source string, limit int) ([]SystemLog, error) {
	if limit <= 0 {
		limit = 200
	}
	query := `SELECT * FROM system_logs WHERE 1=1`
	args := []any{}
	if level != "" {
		query += ` AND level = ?`
		args = append(args, level)
	}
	if source != "" {
		query += ` AND source = ?`
		args = append(args, source)
	}
	query += ` ORDER BY timestamp DESC LIMIT ?`
	args = append(args, limit)

	var out []SystemLog
	err := s.db.SelectContext(ctx, &out, s.rebind(query), args...)
	return out, err
}

// DeleteLogsBefore removes log rows older than the cutoff.
func (s *Store) DeleteLogsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.rebind(
		`DELETE FROM system_logs WHERE timestamp < ?`), cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// GetSetting returns a persisted setting value, or "" when unset.
func (s *Store) GetSetting(ctx context.Context, key string) (string, error) {
	var setting SystemSetting
	err := s.db.GetContext(ctx, &setting, s.rebind(
		`SELECT * FROM system_settings WHERE key = ?`), key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return setting.Value, nil
}

// SetSetting stores a setting value.
func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO system_settings (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`),
		key, value, clock.Now().UTC())
	return err
}
