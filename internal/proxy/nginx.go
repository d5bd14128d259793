// Package proxy manages nginx reverse proxy sites and their Let's Encrypt
// certificates.
package proxy

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"meridian-router.dev/meridian/internal/config"
	"meridian-router.dev/meridian/internal/logging"
	"meridian-router.dev/meridian/internal/metrics"
	"meridian-router.dev/meridian/internal/store"
)

// Seams for tests.
var (
	runNginx = func(ctx context.Context, args ...string) (string, error) {
		out, err := exec.CommandContext(ctx, "nginx", args...).CombinedOutput()
		return strings.TrimSpace(string(out)), err
	}
	reloadNginx = func(ctx context.Context) error {
		out, err := exec.CommandContext(ctx, "systemctl", "reload", "nginx").CombinedOutput()
		if err != nil {
			return fmt.Errorf("reloading nginx: %w: %s", err, strings.TrimSpace(string(out)))
		}
		return nil
	}
)

// Manager deploys proxy sites into the nginx config tree.
type Manager struct {
	store  *store.Store
	cfg    *config.ProxyConfig
	logger *logging.Logger
}

// NewManager creates a proxy manager.
func NewManager(st *store.Store, cfg *config.ProxyConfig, logger *logging.Logger) *Manager {
	if logger == nil {
		logger = logging.Default().WithComponent("proxy")
	}
	return &Manager{store: st, cfg: cfg, logger: logger}
}

// RenderServerBlock renders an nginx site config for one proxy entry.
func (m *Manager) RenderServerBlock(p *store.ProxyConfig) string {
	var sb strings.Builder

	sb.WriteString("# Managed file, do not edit. Changes are overwritten on deploy.\n")

	// Site files are included inside the http context, so the rate limit
	// zone can live at the top of the file.
	if p.RateLimitEnabled && p.RateLimitRPM > 0 {
		sb.WriteString(fmt.Sprintf("limit_req_zone $binary_remote_addr zone=%s:10m rate=%dr/m;\n\n",
			zoneName(p.Domain), p.RateLimitRPM))
	}

	sb.WriteString("server {\n")
	sb.WriteString("\tlisten 80;\n")
	sb.WriteString("\tlisten [::]:80;\n")
	sb.WriteString(fmt.Sprintf("\tserver_name %s;\n\n", p.Domain))
	writeLogToggles(&sb, p)
	// ACME challenges are always served over plain HTTP.
	sb.WriteString("\tlocation /.well-known/acme-challenge/ {\n")
	sb.WriteString(fmt.Sprintf("\t\troot %s;\n", m.cfg.Webroot))
	sb.WriteString("\t}\n\n")
	if p.SSLEnabled && p.ForceSSL {
		sb.WriteString("\tlocation / {\n")
		sb.WriteString("\t\treturn 301 https://$host$request_uri;\n")
		sb.WriteString("\t}\n")
	} else {
		writeProxyLocation(&sb, p)
	}
	sb.WriteString("}\n")

	if p.SSLEnabled {
		certDir := filepath.Join(m.cfg.LiveCertDir, p.Domain)
		sb.WriteString("\nserver {\n")
		sb.WriteString("\tlisten 443 ssl;\n")
		sb.WriteString("\tlisten [::]:443 ssl;\n")
		sb.WriteString(fmt.Sprintf("\tserver_name %s;\n\n", p.Domain))
		writeLogToggles(&sb, p)
		sb.WriteString(fmt.Sprintf("\tssl_certificate %s;\n", filepath.Join(certDir, "fullchain.pem")))
		sb.WriteString(fmt.Sprintf("\tssl_certificate_key %s;\n", filepath.Join(certDir, "privkey.pem")))
		sb.WriteString("\tssl_protocols TLSv1.2 TLSv1.3;\n\n")
		writeProxyLocation(&sb, p)
		sb.WriteString("}\n")
	}

	return sb.String()
}

func writeLogToggles(sb *strings.Builder, p *store.ProxyConfig) {
	if p.AccessLogEnabled && p.ErrorLogEnabled {
		return
	}
	if !p.AccessLogEnabled {
		sb.WriteString("\taccess_log off;\n")
	}
	if !p.ErrorLogEnabled {
		// nginx has no error_log off; crit to /dev/null is the usual mute.
		sb.WriteString("\terror_log /dev/null crit;\n")
	}
	sb.WriteString("\n")
}

func writeProxyLocation(sb *strings.Builder, p *store.ProxyConfig) {
	upstream := fmt.Sprintf("%s://%s:%d", p.UpstreamScheme, p.UpstreamHost, p.UpstreamPort)

	sb.WriteString("\tlocation / {\n")
	if p.RateLimitEnabled && p.RateLimitRPM > 0 {
		sb.WriteString(fmt.Sprintf("\t\tlimit_req zone=%s burst=10 nodelay;\n", zoneName(p.Domain)))
	}
	sb.WriteString(fmt.Sprintf("\t\tproxy_pass %s;\n", upstream))
	sb.WriteString("\t\tproxy_set_header Host $host;\n")
	sb.WriteString("\t\tproxy_set_header X-Real-IP $remote_addr;\n")
	sb.WriteString("\t\tproxy_set_header X-Forwarded-For $proxy_add_x_forwarded_for;\n")
	sb.WriteString("\t\tproxy_set_header X-Forwarded-Proto $scheme;\n")
	for _, h := range customHeaders(p.CustomHeaders) {
		sb.WriteString(fmt.Sprintf("\t\tproxy_set_header %s %q;\n", h.name, h.value))
	}
	if p.ConnectTimeout > 0 {
		sb.WriteString(fmt.Sprintf("\t\tproxy_connect_timeout %ds;\n", p.ConnectTimeout))
	}
	if p.SendTimeout > 0 {
		sb.WriteString(fmt.Sprintf("\t\tproxy_send_timeout %ds;\n", p.SendTimeout))
	}
	if p.ReadTimeout > 0 {
		sb.WriteString(fmt.Sprintf("\t\tproxy_read_timeout %ds;\n", p.ReadTimeout))
	}
	sb.WriteString("\t\tproxy_http_version 1.1;\n")
	sb.WriteString("\t\tproxy_set_header Upgrade $http_upgrade;\n")
	sb.WriteString("\t\tproxy_set_header Connection \"upgrade\";\n")
	sb.WriteString("\t}\n")
}

type headerEntry struct {
	name  string
	value string
}

// customHeaders decodes the stored JSON header map, sorted by name so the
// rendered file is stable.
func customHeaders(raw string) []headerEntry {
	if raw == "" || raw == "{}" {
		return nil
	}
	var m map[string]string
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil
	}
	out := make([]headerEntry, 0, len(m))
	for name, value := range m {
		out = append(out, headerEntry{name: name, value: value})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}

// zoneName derives the limit_req_zone label from the site domain.
func zoneName(domain string) string {
	return strings.ReplaceAll(domain, ".", "_")
}

// Deploy writes the site file, enables it and reloads nginx after a config
// test. A failed test removes the fresh files again.
func (m *Manager) Deploy(ctx context.Context, p *store.ProxyConfig) error {
	available := filepath.Join(m.cfg.SitesAvailable, p.Domain+".conf")
	enabled := filepath.Join(m.cfg.SitesEnabled, p.Domain+".conf")

	if err := os.MkdirAll(m.cfg.SitesAvailable, 0o755); err != nil {
		return err
	}
	if err := os.MkdirAll(m.cfg.SitesEnabled, 0o755); err != nil {
		return err
	}

	if err := os.WriteFile(available, []byte(m.RenderServerBlock(p)), 0o644); err != nil {
		return fmt.Errorf("writing site config: %w", err)
	}
	if _, err := os.Lstat(enabled); os.IsNotExist(err) {
		if err := os.Symlink(available, enabled); err != nil {
			return fmt.Errorf("enabling site: %w", err)
		}
	}

	if out, err := runNginx(ctx, "-t"); err != nil {
		os.Remove(enabled)
		os.Remove(available)
		m.recordDeploy(ctx, "deploy", "failed", fmt.Sprintf("%s: %s", p.Domain, out))
		return fmt.Errorf("nginx config test failed: %w: %s", err, out)
	}
	if err := reloadNginx(ctx); err != nil {
		m.recordDeploy(ctx, "deploy", "failed", fmt.Sprintf("%s: %v", p.Domain, err))
		return err
	}

	if err := m.store.SetProxyDeployed(ctx, p.ID, true); err != nil {
		m.logger.Warn("failed to mark proxy deployed", "domain", p.Domain, "error", err)
	}
	m.recordDeploy(ctx, "deploy", "success", p.Domain)
	m.logger.Audit("proxy site deployed", "domain", p.Domain)
	return nil
}

// Remove disables and deletes the site files and reloads nginx.
func (m *Manager) Remove(ctx context.Context, p *store.ProxyConfig) error {
	available := filepath.Join(m.cfg.SitesAvailable, p.Domain+".conf")
	enabled := filepath.Join(m.cfg.SitesEnabled, p.Domain+".conf")

	os.Remove(enabled)
	os.Remove(available)

	if err := reloadNginx(ctx); err != nil {
		return err
	}

	if err := m.store.SetProxyDeployed(ctx, p.ID, false); err != nil {
		m.logger.Warn("failed to mark proxy undeployed", "domain", p.Domain, "error", err)
	}
	m.recordDeploy(ctx, "remove", "success", p.Domain)
	m.logger.Audit("proxy site removed", "domain", p.Domain)
	return nil
}

func (m *Manager) recordDeploy(ctx context.Context, action, status, message string) {
	metrics.Get().RecordDeployment("proxy", status)
	err := m.store.InsertDeploymentLog(ctx, &store.DeploymentLog{
		Target: "proxy", Action: action, Status: status, Message: message,
	})
	if err != nil {
		m.logger.Warn("failed to record deployment", "error", err)
	}
}
