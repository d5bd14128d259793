package proxy

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"meridian-router.dev/meridian/internal/clock"
	"meridian-router.dev/meridian/internal/store"
)

// renewWindow is how close to expiry a certificate gets renewed.
const renewWindow = 30 * 24 * time.Hour

// Seams for tests.
var (
	runCertbot = func(ctx context.Context, args ...string) (string, error) {
		out, err := exec.CommandContext(ctx, "certbot", args...).CombinedOutput()
		return strings.TrimSpace(string(out)), err
	}
	runOpenSSL = func(ctx context.Context, args ...string) (string, error) {
		out, err := exec.CommandContext(ctx, "openssl", args...).CombinedOutput()
		return strings.TrimSpace(string(out)), err
	}
)

// ObtainCertificate requests a certificate via the webroot challenge and
// records it. The site must already serve the ACME path over HTTP.
func (m *Manager) ObtainCertificate(ctx context.Context, domain string) (*store.SSLCertificate, error) {
	args := []string{
		"certonly", "--webroot",
		"-w", m.cfg.Webroot,
		"-d", domain,
		"--non-interactive", "--agree-tos",
	}
	if m.cfg.CertbotEmail != "" {
		args = append(args, "--email", m.cfg.CertbotEmail)
	} else {
		args = append(args, "--register-unsafely-without-email")
	}

	if out, err := runCertbot(ctx, args...); err != nil {
		m.recordDeploy(ctx, "obtain-certificate", "failed", fmt.Sprintf("%s: %s", domain, out))
		return nil, fmt.Errorf("certbot failed for %s: %w: %s", domain, err, out)
	}

	certDir := filepath.Join(m.cfg.LiveCertDir, domain)
	now := clock.Now().UTC()
	cert := &store.SSLCertificate{
		Domain:    domain,
		CertPath:  filepath.Join(certDir, "fullchain.pem"),
		KeyPath:   filepath.Join(certDir, "privkey.pem"),
		IssuedAt:  &now,
		AutoRenew: true,
	}
	if expires, err := m.certificateExpiry(ctx, cert.CertPath); err == nil {
		cert.ExpiresAt = &expires
	} else {
		// Let's Encrypt certificates run 90 days.
		fallback := now.Add(90 * 24 * time.Hour)
		cert.ExpiresAt = &fallback
		m.logger.Warn("could not read certificate expiry", "domain", domain, "error", err)
	}

	if err := m.store.UpsertCertificate(ctx, cert); err != nil {
		return nil, fmt.Errorf("recording certificate: %w", err)
	}
	m.recordDeploy(ctx, "obtain-certificate", "success", domain)
	m.logger.Audit("certificate obtained", "domain", domain)
	return cert, nil
}

// RenewExpiring renews every auto-renew certificate inside the renew
// window and reloads nginx when at least one was refreshed.
func (m *Manager) RenewExpiring(ctx context.Context) error {
	cutoff := clock.Now().UTC().Add(renewWindow)
	certs, err := m.store.ListCertificatesExpiringBefore(ctx, cutoff)
	if err != nil {
		return err
	}

	renewed := 0
	var firstErr error
	for i := range certs {
		cert := &certs[i]
		if !cert.AutoRenew {
			continue
		}
		if err := m.renewOne(ctx, cert); err != nil {
			m.logger.Warn("certificate renewal failed", "domain", cert.Domain, "error", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		renewed++
	}

	if renewed > 0 {
		if err := reloadNginx(ctx); err != nil {
			return err
		}
		m.logger.Info("certificates renewed", "count", renewed)
	}
	return firstErr
}

func (m *Manager) renewOne(ctx context.Context, cert *store.SSLCertificate) error {
	out, err := runCertbot(ctx, "renew", "--cert-name", cert.Domain, "--non-interactive")
	if err != nil {
		m.recordDeploy(ctx, "renew-certificate", "failed", fmt.Sprintf("%s: %s", cert.Domain, out))
		return fmt.Errorf("certbot renew: %w: %s", err, out)
	}

	if expires, err := m.certificateExpiry(ctx, cert.CertPath); err == nil {
		cert.ExpiresAt = &expires
	}
	now := clock.Now().UTC()
	cert.IssuedAt = &now
	if err := m.store.UpsertCertificate(ctx, cert); err != nil {
		return err
	}
	m.recordDeploy(ctx, "renew-certificate", "success", cert.Domain)
	return nil
}

// certificateExpiry reads notAfter from the certificate file.
func (m *Manager) certificateExpiry(ctx context.Context, certPath string) (time.Time, error) {
	out, err := runOpenSSL(ctx, "x509", "-enddate", "-noout", "-in", certPath)
	if err != nil {
		return time.Time{}, fmt.Errorf("reading certificate: %w: %s", err, out)
	}
	return ParseEndDate(out)
}

// ParseEndDate parses openssl's "notAfter=Nov 20 12:00:00 2026 GMT" output.
func ParseEndDate(out string) (time.Time, error) {
	_, value, found := strings.Cut(strings.TrimSpace(out), "=")
	if !found {
		return time.Time{}, fmt.Errorf("unexpected openssl output %q", out)
	}
	t, err := time.Parse("Jan 2 15:04:05 2006 MST", strings.TrimSpace(value))
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing notAfter: %w", err)
	}
	return t.UTC(), nil
}
