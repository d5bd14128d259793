package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"meridian-router.dev/meridian/internal/clock"
)

// CreateFirewallRule stores a new rule row.
func (s *Store) CreateFirewallRule(ctx context.Context, r *FirewallRule) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	now := clock.Now().UTC()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now
	_, err := s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO firewall_rules
		 (id, name, chain, protocol, src_ip, src_port, dst_ip, dst_port, in_iface, out_iface,
		  action, priority, enabled, comment, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		r.ID, r.Name, r.Chain, r.Protocol, r.SrcIP, r.SrcPort, r.DstIP, r.DstPort,
		r.InIface, r.OutIface, r.Action, r.Priority, r.Enabled, r.Comment, r.CreatedAt, r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("creating firewall rule: %w", err)
	}
	return nil
}

// UpdateFirewallRule updates an existing rule row.
func (s *Store) UpdateFirewallRule(ctx context.Context, r *FirewallRule) error {
	r.UpdatedAt = clock.Now().UTC()
	res, err := s.db.ExecContext(ctx, s.rebind(
		`UPDATE firewall_rules SET name = ?, chain = ?, protocol = ?, src_ip = ?, src_port = ?,
		 dst_ip = ?, dst_port = ?, in_iface = ?, out_iface = ?, action = ?, priority = ?,
		 enabled = ?, comment = ?, updated_at = ? WHERE id = ?`),
		r.Name, r.Chain, r.Protocol, r.SrcIP, r.SrcPort, r.DstIP, r.DstPort,
		r.InIface, r.OutIface, r.Action, r.Priority, r.Enabled, r.Comment, r.UpdatedAt, r.ID)
	if err != nil {
		return fmt.Errorf("updating firewall rule: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteFirewallRule removes a rule row.
func (s *Store) DeleteFirewallRule(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, s.rebind(
		`DELETE FROM firewall_rules WHERE id = ?`), id)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetFirewallRule returns one rule by id.
func (s *Store) GetFirewallRule(ctx context.Context, id string) (*FirewallRule, error) {
	var r FirewallRule
	err := s.db.GetContext(ctx, &r, s.rebind(
		`SELECT * FROM firewall_rules WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// ListFirewallRules returns all rules ordered by chain then priority.
func (s *Store) ListFirewallRules(ctx context.Context) ([]FirewallRule, error) {
	var out []FirewallRule
	err := s.db.SelectContext(ctx, &out,
		`SELECT * FROM firewall_rules ORDER BY chain, priority, name`)
	return out, err
}

// ListEnabledFirewallRules returns enabled rules in render order.
func (s *Store) ListEnabledFirewallRules(ctx context.Context) ([]FirewallRule, error) {
	var out []FirewallRule
	err := s.db.SelectContext(ctx, &out, s.rebind(
		`SELECT * FROM firewall_rules WHERE enabled = ? ORDER BY chain, priority, name`), true)
	return out, err
}

// CreatePortForward stores a new port forward row.
func (s *Store) CreatePortForward(ctx context.Context, p *PortForward) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = clock.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO port_forwards
		 (id, name, protocol, external_port, dest_ip, dest_port, in_iface, enabled, comment, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		p.ID, p.Name, p.Protocol, p.ExternalPort, p.DestIP, p.DestPort,
		p.InIface, p.Enabled, p.Comment, p.CreatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("port forward for %s/%d already exists", p.Protocol, p.ExternalPort)
	}
	if err != nil {
		return fmt.Errorf("creating port forward: %w", err)
	}
	return nil
}

// UpdatePortForward updates an existing port forward row.
func (s *Store) UpdatePortForward(ctx context.Context, p *PortForward) error {
	res, err := s.db.ExecContext(ctx, s.rebind(
		`UPDATE port_forwards SET name = ?, protocol = ?, external_port = ?, dest_ip = ?,
		 dest_port = ?, in_iface = ?, enabled = ?, comment = ? WHERE id = ?`),
		p.Name, p.Protocol, p.ExternalPort, p.DestIP, p.DestPort,
		p.InIface, p.Enabled, p.Comment, p.ID)
	if err != nil {
		return fmt.Errorf("updating port forward: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeletePortForward removes a port forward row.
func (s *Store) DeletePortForward(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, s.rebind(
		`DELETE FROM port_forwards WHERE id = ?`), id)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetPortForward returns one port forward by id.
func (s *Store) GetPortForward(ctx context.Context, id string) (*PortForward, error) {
	var p PortForward
	err := s.db.GetContext(ctx, &p, s.rebind(
		`SELECT * FROM port_forwards WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ListPortForwards returns all port forwards.
func (s *Store) ListPortForwards(ctx context.Context) ([]PortForward, error) {
	var out []PortForward
	err := s.db.SelectContext(ctx, &out,
		`SELECT * FROM port_forwards ORDER BY external_port`)
	return out, err
}

// ListEnabledPortForwards returns enabled port forwards in render order.
func (s *Store) ListEnabledPortForwards(ctx context.Context) ([]PortForward, error) {
	var out []PortForward
	err := s.db.SelectContext(ctx, &out, s.rebind(
		`SELECT * FROM port_forwards WHERE enabled = ? ORDER BY external_port`), true)
	return out, err
}

// InsertDeploymentLog records an apply/deploy action.
func (s *Store) InsertDeploymentLog(ctx context.Context, d *DeploymentLog) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = clock.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO deployment_logs (id, target, action, status, message, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`),
		d.ID, d.Target, d.Action, d.Status, d.Message, d.CreatedAt)
	return err
}

// ListDeploymentLogs returns recent deployment logs, optionally by target.
func (s *Store) ListDeploymentLogs(ctx context.Context, target string, limit int) ([]DeploymentLog, error) {
	if limit <= 0 {
		limit = 100
	}
	var out []DeploymentLog
	var err error
	if target != "" {
		err = s.db.SelectContext(ctx, &out, s.rebind(
			`SELECT * FROM deployment_logs WHERE target = ?
			 ORDER BY created_at DESC LIMIT ?`), target, limit)
	} else {
		err = s.db.SelectContext(ctx, &out, s.rebind(
			`SELECT * FROM deployment_logs ORDER BY created_at DESC LIMIT ?`), limit)
	}
	return out, err
}
