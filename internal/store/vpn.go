package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"meridian-router.dev/meridian/internal/clock"
)

// CreateTunnel stores a new VPN tunnel row.
func (s *Store) CreateTunnel(ctx context.Context, t *VPNTunnel) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = clock.Now().UTC()
	}
	if t.Status == "" {
		t.Status = TunnelDisconnected
	}
	_, err := s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO vpn_tunnels
		 (id, name, type, local_endpoint, remote_endpoint, local_subnet, remote_subnet,
		  psk, ike_proposal, esp_proposal, auto_start, enabled, status, status_changed, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		t.ID, t.Name, t.Type, t.LocalEndpoint, t.RemoteEndpoint, t.LocalSubnet, t.RemoteSubnet,
		t.PSK, t.IKEProposal, t.ESPProposal, t.AutoStart, t.Enabled, t.Status, t.StatusChanged, t.CreatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("tunnel %q already exists", t.Name)
	}
	if err != nil {
		return fmt.Errorf("creating tunnel: %w", err)
	}
	return nil
}

// UpdateTunnel updates a tunnel definition.
func (s *Store) UpdateTunnel(ctx context.Context, t *VPNTunnel) error {
	res, err := s.db.ExecContext(ctx, s.rebind(
		`UPDATE vpn_tunnels SET name = ?, type = ?, local_endpoint = ?, remote_endpoint = ?,
		 local_subnet = ?, remote_subnet = ?, psk = ?, ike_proposal = ?, esp_proposal = ?,
		 auto_start = ?, enabled = ? WHERE id = ?`),
		t.Name, t.Type, t.LocalEndpoint, t.RemoteEndpoint, t.LocalSubnet, t.RemoteSubnet,
		t.PSK, t.IKEProposal, t.ESPProposal, t.AutoStart, t.Enabled, t.ID)
	if err != nil {
		return fmt.Errorf("updating tunnel: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateTunnelStatus records an observed status transition.
func (s *Store) UpdateTunnelStatus(ctx context.Context, id, status string) error {
	_, err := s.db.ExecContext(ctx, s.rebind(
		`UPDATE vpn_tunnels SET status = ?, status_changed = ? WHERE id = ? AND status != ?`),
		status, clock.Now().UTC(), id, status)
	return err
}

// DeleteTunnel removes a tunnel row.
func (s *Store) DeleteTunnel(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, s.rebind(
		`DELETE FROM vpn_tunnels WHERE id = ?`), id)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetTunnel returns one tunnel by id.
func (s *Store) GetTunnel(ctx context.Context, id string) (*VPNTunnel, error) {
	var t VPNTunnel
	err := s.db.GetContext(ctx, &t, s.rebind(
		`SELECT * FROM vpn_tunnels WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// ListTunnels returns all tunnels.
func (s *Store) ListTunnels(ctx context.Context) ([]VPNTunnel, error) {
	var out []VPNTunnel
	err := s.db.SelectContext(ctx, &out, `SELECT * FROM vpn_tunnels ORDER BY name`)
	return out, err
}

// ListEnabledTunnels returns enabled tunnels of the given type.
func (s *Store) ListEnabledTunnels(ctx context.Context, tunnelType string) ([]VPNTunnel, error) {
	var out []VPNTunnel
	err := s.db.SelectContext(ctx, &out, s.rebind(
		`SELECT * FROM vpn_tunnels WHERE enabled = ? AND type = ? ORDER BY name`),
		true, tunnelType)
	return out, err
}
