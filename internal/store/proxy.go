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

// CreateProxyConfig stores a new proxy site row.
func (s *Store) CreateProxyConfig(ctx context.Context, p *ProxyConfig) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	now := clock.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	if p.UpstreamScheme == "" {
		p.UpstreamScheme = "http"
	}
	if p.ConnectTimeout <= 0 {
		p.ConnectTimeout = 60
	}
	if p.SendTimeout <= 0 {
		p.SendTimeout = 60
	}
	if p.ReadTimeout <= 0 {
		p.ReadTimeout = 60
	}
	if p.CustomHeaders == "" {
		p.CustomHeaders = "{}"
	}
	_, err := s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO proxy_configs
		 (id, domain, upstream_host, upstream_port, upstream_scheme, ssl_enabled, force_ssl,
		  connect_timeout, send_timeout, read_timeout, custom_headers,
		  rate_limit_enabled, rate_limit_rpm, access_log_enabled, error_log_enabled,
		  deployed, deployed_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		p.ID, p.Domain, p.UpstreamHost, p.UpstreamPort, p.UpstreamScheme,
		p.SSLEnabled, p.ForceSSL,
		p.ConnectTimeout, p.SendTimeout, p.ReadTimeout, p.CustomHeaders,
		p.RateLimitEnabled, p.RateLimitRPM, p.AccessLogEnabled, p.ErrorLogEnabled,
		p.Deployed, p.DeployedAt, p.CreatedAt, p.UpdatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("proxy config for %q already exists", p.Domain)
	}
	if err != nil {
		return fmt.Errorf("creating proxy config: %w", err)
	}
	return nil
}

// UpdateProxyConfig updates a proxy site definition.
func (s *Store) UpdateProxyConfig(ctx context.Context, p *ProxyConfig) error {
	p.UpdatedAt = clock.Now().UTC()
	if p.CustomHeaders == "" {
		p.CustomHeaders = "{}"
	}
	res, err := s.db.ExecContext(ctx, s.rebind(
		`UPDATE proxy_configs SET domain = ?, upstream_host = ?, upstream_port = ?,
		 upstream_scheme = ?, ssl_enabled = ?, force_ssl = ?,
		 connect_timeout = ?, send_timeout = ?, read_timeout = ?, custom_headers = ?,
		 rate_limit_enabled = ?, rate_limit_rpm = ?, access_log_enabled = ?, error_log_enabled = ?,
		 updated_at = ? WHERE id = ?`),
		p.Domain, p.UpstreamHost, p.UpstreamPort, p.UpstreamScheme,
		p.SSLEnabled, p.ForceSSL,
		p.ConnectTimeout, p.SendTimeout, p.ReadTimeout, p.CustomHeaders,
		p.RateLimitEnabled, p.RateLimitRPM, p.AccessLogEnabled, p.ErrorLogEnabled,
		p.UpdatedAt, p.ID)
	if err != nil {
		return fmt.Errorf("updating proxy config: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetProxyDeployed stamps the deployed state after a deploy or remove.
func (s *Store) SetProxyDeployed(ctx context.Context, id string, deployed bool) error {
	var deployedAt *time.Time
	if deployed {
		now := clock.Now().UTC()
		deployedAt = &now
	}
	_, err := s.db.ExecContext(ctx, s.rebind(
		`UPDATE proxy_configs SET deployed = ?, deployed_at = ? WHERE id = ?`),
		deployed, deployedAt, id)
	return err
}

// DeleteProxyConfig removes a proxy site row.
func (s *Store) DeleteProxyConfig(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, s.rebind(
		`DELETE FROM proxy_configs WHERE id = ?`), id)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetProxyConfig returns one proxy site by id.
func (s *Store) GetProxyConfig(ctx context.Context, id string) (*ProxyConfig, error) {
	var p ProxyConfig
	err := s.db.GetContext(ctx, &p, s.rebind(
		`SELECT * FROM proxy_configs WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ListProxyConfigs returns all proxy sites.
func (s *Store) ListProxyConfigs(ctx context.Context) ([]ProxyConfig, error) {
	var out []ProxyConfig
	err := s.db.SelectContext(ctx, &out, `SELECT * FROM proxy_configs ORDER BY domain`)
	return out, err
}

// UpsertCertificate inserts or refreshes a certificate record by domain.
func (s *Store) UpsertCertificate(ctx context.Context, c *SSLCertificate) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = clock.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO ssl_certificates (id, domain, cert_path, key_path, issued_at, expires_at, auto_renew, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (domain) DO UPDATE SET
		   cert_path = excluded.cert_path,
		   key_path = excluded.key_path,
		   issued_at = excluded.issued_at,
		   expires_at = excluded.expires_at,
		   auto_renew = excluded.auto_renew`),
		c.ID, c.Domain, c.CertPath, c.KeyPath, c.IssuedAt, c.ExpiresAt, c.AutoRenew, c.CreatedAt)
	if err != nil {
		return fmt.Errorf("upserting certificate: %w", err)
	}
	return nil
}

// GetCertificate returns the certificate record for a domain.
func (s *Store) GetCertificate(ctx context.Context, domain string) (*SSLCertificate, error) {
	var c SSLCertificate
	err := s.db.GetContext(ctx, &c, s.rebind(
		`SELECT * FROM ssl_certificates WHERE domain = ?`), domain)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ListCertificates returns all certificate records.
func (s *Store) ListCertificates(ctx context.Context) ([]SSLCertificate, error) {
	var out []SSLCertificate
	err := s.db.SelectContext(ctx, &out, `SELECT * FROM ssl_certificates ORDER BY domain`)
	return out, err
}

// ListCertificatesExpiringBefore returns auto-renew certificates expiring
// before the cutoff.
func (s *Store) ListCertificatesExpiringBefore(ctx context.Context, cutoff time.Time) ([]SSLCertificate, error) {
	var out []SSLCertificate
	err := s.db.SelectContext(ctx, &out, s.rebind(
		`SELECT * FROM ssl_certificates
		 WHERE auto_renew = ? AND expires_at IS NOT NULL AND expires_at < ?
		 ORDER BY expires_at`), true, cutoff)
	return out, err
}

// DeleteCertificate removes a certificate record.
func (s *Store) DeleteCertificate(ctx context.Context, domain string) error {
	res, err := s.db.ExecContext(ctx, s.rebind(
		`DELETE FROM ssl_certificates WHERE domain = ?`), domain)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
