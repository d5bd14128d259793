package proxy

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"meridian-router.dev/meridian/internal/config"
	"meridian-router.dev/meridian/internal/store"
)

func newTestManager(t *testing.T) (*Manager, *store.Store, *config.ProxyConfig) {
	t.Helper()
	st, err := store.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	dir := t.TempDir()
	cfg := &config.ProxyConfig{
		SitesAvailable: filepath.Join(dir, "sites-available"),
		SitesEnabled:   filepath.Join(dir, "sites-enabled"),
		Webroot:        "/var/www/html",
		LiveCertDir:    "/etc/letsencrypt/live",
		CertbotEmail:   "admin@example.com",
	}
	return NewManager(st, cfg, nil), st, cfg
}

func sampleSite() *store.ProxyConfig {
	return &store.ProxyConfig{
		Domain: "app.example.com", UpstreamHost: "10.0.0.5",
		UpstreamPort: 3000, UpstreamScheme: "http",
		AccessLogEnabled: true, ErrorLogEnabled: true,
	}
}

func TestRenderServerBlockPlain(t *testing.T) {
	m, _, _ := newTestManager(t)
	out := m.RenderServerBlock(sampleSite())

	require.Contains(t, out, "server_name app.example.com;")
	require.Contains(t, out, "listen 80;")
	require.Contains(t, out, "proxy_pass http://10.0.0.5:3000;")
	require.Contains(t, out, "/.well-known/acme-challenge/")
	require.NotContains(t, out, "listen 443")
	require.NotContains(t, out, "return 301")
}

func TestRenderServerBlockSSL(t *testing.T) {
	m, _, _ := newTestManager(t)
	site := sampleSite()
	site.SSLEnabled = true
	site.ForceSSL = true

	out := m.RenderServerBlock(site)
	require.Contains(t, out, "listen 443 ssl;")
	require.Contains(t, out, "return 301 https://$host$request_uri;")
	require.Contains(t, out, "ssl_certificate /etc/letsencrypt/live/app.example.com/fullchain.pem;")
	require.Contains(t, out, "ssl_certificate_key /etc/letsencrypt/live/app.example.com/privkey.pem;")
	require.Contains(t, out, "ssl_protocols TLSv1.2 TLSv1.3;")
}

func TestRenderServerBlockOptions(t *testing.T) {
	m, _, _ := newTestManager(t)
	site := sampleSite()
	site.ConnectTimeout = 5
	site.SendTimeout = 30
	site.ReadTimeout = 120
	site.CustomHeaders = `{"X-Frame-Options":"DENY","X-Robots-Tag":"noindex"}`
	site.RateLimitEnabled = true
	site.RateLimitRPM = 120
	site.AccessLogEnabled = false
	site.ErrorLogEnabled = false

	out := m.RenderServerBlock(site)
	require.Contains(t, out, "limit_req_zone $binary_remote_addr zone=app_example_com:10m rate=120r/m;")
	require.Contains(t, out, "limit_req zone=app_example_com burst=10 nodelay;")
	require.Contains(t, out, "proxy_connect_timeout 5s;")
	require.Contains(t, out, "proxy_send_timeout 30s;")
	require.Contains(t, out, "proxy_read_timeout 120s;")
	require.Contains(t, out, `proxy_set_header X-Frame-Options "DENY";`)
	require.Contains(t, out, `proxy_set_header X-Robots-Tag "noindex";`)
	require.Contains(t, out, "access_log off;")
	require.Contains(t, out, "error_log /dev/null crit;")
	// Header order is stable across renders.
	require.Less(t, strings.Index(out, "X-Frame-Options"), strings.Index(out, "X-Robots-Tag"))
}

func TestRenderServerBlockDefaultsQuiet(t *testing.T) {
	m, _, _ := newTestManager(t)
	out := m.RenderServerBlock(sampleSite())
	require.NotContains(t, out, "limit_req")
	require.NotContains(t, out, "access_log off")
	require.NotContains(t, out, "error_log /dev/null")
	require.NotContains(t, out, "proxy_connect_timeout")
}

func TestProxyConfigDefaultsPersist(t *testing.T) {
	ctx := context.Background()
	_, st, _ := newTestManager(t)

	site := sampleSite()
	require.NoError(t, st.CreateProxyConfig(ctx, site))

	got, err := st.GetProxyConfig(ctx, site.ID)
	require.NoError(t, err)
	require.Equal(t, 60, got.ConnectTimeout)
	require.Equal(t, 60, got.SendTimeout)
	require.Equal(t, 60, got.ReadTimeout)
	require.Equal(t, "{}", got.CustomHeaders)
	require.True(t, got.AccessLogEnabled)
	require.True(t, got.ErrorLogEnabled)
}

func TestRenderServerBlockSSLWithoutRedirect(t *testing.T) {
	m, _, _ := newTestManager(t)
	site := sampleSite()
	site.SSLEnabled = true

	out := m.RenderServerBlock(site)
	require.NotContains(t, out, "return 301")
	// Both HTTP and HTTPS proxy to the upstream.
	require.Equal(t, 2, countOccurrences(out, "proxy_pass http://10.0.0.5:3000;"))
}

func countOccurrences(s, sub string) int {
	count := 0
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			count++
		}
	}
	return count
}

func TestDeployAndRemove(t *testing.T) {
	ctx := context.Background()
	m, st, cfg := newTestManager(t)

	site := sampleSite()
	require.NoError(t, st.CreateProxyConfig(ctx, site))

	origNginx, origReload := runNginx, reloadNginx
	defer func() { runNginx, reloadNginx = origNginx, origReload }()
	reloads := 0
	runNginx = func(ctx context.Context, args ...string) (string, error) { return "", nil }
	reloadNginx = func(ctx context.Context) error { reloads++; return nil }

	require.NoError(t, m.Deploy(ctx, site))

	available := filepath.Join(cfg.SitesAvailable, "app.example.com.conf")
	enabled := filepath.Join(cfg.SitesEnabled, "app.example.com.conf")
	require.FileExists(t, available)
	target, err := os.Readlink(enabled)
	require.NoError(t, err)
	require.Equal(t, available, target)
	require.Equal(t, 1, reloads)

	deployed, err := st.GetProxyConfig(ctx, site.ID)
	require.NoError(t, err)
	require.True(t, deployed.Deployed)

	require.NoError(t, m.Remove(ctx, site))
	require.NoFileExists(t, available)
	require.NoFileExists(t, enabled)

	removed, err := st.GetProxyConfig(ctx, site.ID)
	require.NoError(t, err)
	require.False(t, removed.Deployed)
}

func TestDeployCleansUpOnFailedConfigTest(t *testing.T) {
	ctx := context.Background()
	m, st, cfg := newTestManager(t)

	site := sampleSite()
	require.NoError(t, st.CreateProxyConfig(ctx, site))

	origNginx, origReload := runNginx, reloadNginx
	defer func() { runNginx, reloadNginx = origNginx, origReload }()
	runNginx = func(ctx context.Context, args ...string) (string, error) {
		return "nginx: [emerg] invalid parameter", fmt.Errorf("exit status 1")
	}
	reloadNginx = func(ctx context.Context) error {
		t.Fatal("must not reload after failed config test")
		return nil
	}

	require.Error(t, m.Deploy(ctx, site))
	require.NoFileExists(t, filepath.Join(cfg.SitesAvailable, "app.example.com.conf"))
	require.NoFileExists(t, filepath.Join(cfg.SitesEnabled, "app.example.com.conf"))

	logs, err := st.ListDeploymentLogs(ctx, "proxy", 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	require.Equal(t, "failed", logs[0].Status)
}

func TestParseEndDate(t *testing.T) {
	ts, err := ParseEndDate("notAfter=Nov 20 12:00:00 2026 GMT")
	require.NoError(t, err)
	require.Equal(t, time.Date(2026, time.November, 20, 12, 0, 0, 0, time.UTC), ts)

	// Single digit days come space padded from openssl.
	ts, err = ParseEndDate("notAfter=Jan  2 03:04:05 2027 GMT")
	require.NoError(t, err)
	require.Equal(t, time.Date(2027, time.January, 2, 3, 4, 5, 0, time.UTC), ts)

	_, err = ParseEndDate("garbage")
	require.Error(t, err)
}

func TestObtainCertificate(t *testing.T) {
	ctx := context.Background()
	m, st, _ := newTestManager(t)

	origCertbot, origOpenSSL := runCertbot, runOpenSSL
	defer func() { runCertbot, runOpenSSL = origCertbot, origOpenSSL }()
	var certbotArgs []string
	runCertbot = func(ctx context.Context, args ...string) (string, error) {
		certbotArgs = args
		return "Successfully received certificate.", nil
	}
	runOpenSSL = func(ctx context.Context, args ...string) (string, error) {
		return "notAfter=Nov 25 12:00:00 2026 GMT", nil
	}

	cert, err := m.ObtainCertificate(ctx, "app.example.com")
	require.NoError(t, err)
	require.Equal(t, "/etc/letsencrypt/live/app.example.com/fullchain.pem", cert.CertPath)
	require.NotNil(t, cert.ExpiresAt)
	require.Equal(t, 2026, cert.ExpiresAt.Year())
	require.Contains(t, certbotArgs, "--webroot")
	require.Contains(t, certbotArgs, "--email")

	stored, err := st.GetCertificate(ctx, "app.example.com")
	require.NoError(t, err)
	require.True(t, stored.AutoRenew)
}

func TestObtainCertificateExpiryFallback(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestManager(t)

	origCertbot, origOpenSSL := runCertbot, runOpenSSL
	defer func() { runCertbot, runOpenSSL = origCertbot, origOpenSSL }()
	runCertbot = func(ctx context.Context, args ...string) (string, error) { return "", nil }
	runOpenSSL = func(ctx context.Context, args ...string) (string, error) {
		return "", fmt.Errorf("no such file")
	}

	cert, err := m.ObtainCertificate(ctx, "app.example.com")
	require.NoError(t, err)
	require.NotNil(t, cert.ExpiresAt)
	// 90 day default when openssl cannot read the file.
	days := time.Until(*cert.ExpiresAt).Hours() / 24
	require.InDelta(t, 90, days, 1)
}

func TestRenewExpiring(t *testing.T) {
	ctx := context.Background()
	m, st, _ := newTestManager(t)

	soon := time.Now().UTC().Add(10 * 24 * time.Hour)
	far := time.Now().UTC().Add(80 * 24 * time.Hour)
	require.NoError(t, st.UpsertCertificate(ctx, &store.SSLCertificate{
		Domain: "soon.example.com", CertPath: "/tmp/soon.pem",
		ExpiresAt: &soon, AutoRenew: true,
	}))
	require.NoError(t, st.UpsertCertificate(ctx, &store.SSLCertificate{
		Domain: "far.example.com", CertPath: "/tmp/far.pem",
		ExpiresAt: &far, AutoRenew: true,
	}))

	origCertbot, origOpenSSL, origReload := runCertbot, runOpenSSL, reloadNginx
	defer func() { runCertbot, runOpenSSL, reloadNginx = origCertbot, origOpenSSL, origReload }()
	var renewedDomains []string
	runCertbot = func(ctx context.Context, args ...string) (string, error) {
		for i, a := range args {
			if a == "--cert-name" {
				renewedDomains = append(renewedDomains, args[i+1])
			}
		}
		return "", nil
	}
	runOpenSSL = func(ctx context.Context, args ...string) (string, error) {
		return "notAfter=Nov 25 12:00:00 2026 GMT", nil
	}
	reloads := 0
	reloadNginx = func(ctx context.Context) error { reloads++; return nil }

	require.NoError(t, m.RenewExpiring(ctx))
	require.Equal(t, []string{"soon.example.com"}, renewedDomains)
	require.Equal(t, 1, reloads)
}
