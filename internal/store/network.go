package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"meridian-router.dev/meridian/internal/clock"
)

// UpsertInterface syncs one interface inventory row by name.
func (s *Store) UpsertInterface(ctx context.Context, ifc *NetworkInterface) error {
	if ifc.ID == "" {
		ifc.ID = uuid.NewString()
	}
	ifc.UpdatedAt = clock.Now().UTC()
	_, err := s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO network_interfaces (id, name, mac, state, mtu, speed_mbps, duplex, addresses, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (name) DO UPDATE SET
		   mac = excluded.mac,
		   state = excluded.state,
		   mtu = excluded.mtu,
		   speed_mbps = excluded.speed_mbps,
		   duplex = excluded.duplex,
		   addresses = excluded.addresses,
		   updated_at = excluded.updated_at`),
		ifc.ID, ifc.Name, ifc.MAC, ifc.State, ifc.MTU, ifc.SpeedMbps,
		ifc.Duplex, ifc.Addresses, ifc.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upserting interface: %w", err)
	}
	return nil
}

// ListInterfaces returns the synced interface inventory.
func (s *Store) ListInterfaces(ctx context.Context) ([]NetworkInterface, error) {
	var out []NetworkInterface
	err := s.db.SelectContext(ctx, &out,
		`SELECT * FROM network_interfaces ORDER BY name`)
	return out, err
}

// CreateRoute stores a managed static route.
func (s *Store) CreateRoute(ctx context.Context, r *StaticRoute) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = clock.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO static_routes
		 (id, destination, gateway, interface, metric, persistent, monitor_address, enabled, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		r.ID, r.Destination, r.Gateway, r.Interface, r.Metric,
		r.Persistent, r.MonitorAddress, r.Enabled, r.CreatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("route to %s already exists", r.Destination)
	}
	if err != nil {
		return fmt.Errorf("creating route: %w", err)
	}
	return nil
}

// DeleteRoute removes a managed route row.
func (s *Store) DeleteRoute(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, s.rebind(
		`DELETE FROM static_routes WHERE id = ?`), id)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetRoute returns one managed route by id.
func (s *Store) GetRoute(ctx context.Context, id string) (*StaticRoute, error) {
	var r StaticRoute
	err := s.db.GetContext(ctx, &r, s.rebind(
		`SELECT * FROM static_routes WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// ListRoutes returns all managed routes.
func (s *Store) ListRoutes(ctx context.Context) ([]StaticRoute, error) {
	var out []StaticRoute
	err := s.db.SelectContext(ctx, &out,
		`SELECT * FROM static_routes ORDER BY destination`)
	return out, err
}

// ListMonitoredRoutes returns enabled routes that carry a monitor address.
func (s *Store) ListMonitoredRoutes(ctx context.Context) ([]StaticRoute, error) {
	var out []StaticRoute
	err := s.db.SelectContext(ctx, &out, s.rebind(
		`SELECT * FROM static_routes WHERE enabled = ? AND monitor_address != ''
		 ORDER BY destination`), true)
	return out, err
}
