// Package vpn renders the StrongSwan configuration for the managed IPSec
// tunnels, tracks tunnel state and reads WireGuard status.
package vpn

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"meridian-router.dev/meridian/internal/clock"
	"meridian-router.dev/meridian/internal/config"
	"meridian-router.dev/meridian/internal/logging"
	"meridian-router.dev/meridian/internal/metrics"
	"meridian-router.dev/meridian/internal/store"
)

// runIPSec is swappable in tests.
var runIPSec = func(ctx context.Context, args ...string) (string, error) {
	out, err := exec.CommandContext(ctx, "ipsec", args...).CombinedOutput()
	return string(out), err
}

const (
	defaultIKEProposal = "aes256-sha256-modp2048"
	defaultESPProposal = "aes256-sha256"
)

// Manager renders and controls the StrongSwan tunnels.
type Manager struct {
	store  *store.Store
	cfg    *config.VPNConfig
	logger *logging.Logger
}

// NewManager creates a VPN manager.
func NewManager(st *store.Store, cfg *config.VPNConfig, logger *logging.Logger) *Manager {
	if logger == nil {
		logger = logging.Default().WithComponent("vpn")
	}
	return &Manager{store: st, cfg: cfg, logger: logger}
}

// RenderConfig renders ipsec.conf content for the enabled tunnels.
func RenderConfig(tunnels []store.VPNTunnel) string {
	var sb strings.Builder

	sb.WriteString("# Managed file, do not edit. Changes are overwritten on apply.\n\n")
	sb.WriteString("config setup\n")
	sb.WriteString("\tcharondebug=\"ike 1, knl 1\"\n")
	sb.WriteString("\tuniqueids=no\n")

	for _, t := range tunnels {
		if !t.Enabled || t.Type != "ipsec" {
			continue
		}
		auto := "add"
		if t.AutoStart {
			auto = "start"
		}
		sb.WriteString(fmt.Sprintf("\nconn %s\n", t.Name))
		sb.WriteString(fmt.Sprintf("\tauto=%s\n", auto))
		sb.WriteString("\tkeyexchange=ikev2\n")
		sb.WriteString("\tauthby=secret\n")
		sb.WriteString(fmt.Sprintf("\tike=%s!\n", firstNonEmpty(t.IKEProposal, defaultIKEProposal)))
		sb.WriteString(fmt.Sprintf("\tesp=%s!\n", firstNonEmpty(t.ESPProposal, defaultESPProposal)))
		sb.WriteString(fmt.Sprintf("\tleft=%s\n", t.LocalEndpoint))
		sb.WriteString(fmt.Sprintf("\tleftsubnet=%s\n", t.LocalSubnet))
		sb.WriteString(fmt.Sprintf("\tright=%s\n", t.RemoteEndpoint))
		sb.WriteString(fmt.Sprintf("\trightsubnet=%s\n", t.RemoteSubnet))
		sb.WriteString("\tdpdaction=restart\n")
		sb.WriteString("\tdpddelay=30s\n")
	}

	return sb.String()
}

// RenderSecrets renders ipsec.secrets PSK lines.
func RenderSecrets(tunnels []store.VPNTunnel) string {
	var sb strings.Builder
	sb.WriteString("# Managed file, do not edit.\n")
	for _, t := range tunnels {
		if !t.Enabled || t.Type != "ipsec" || t.PSK == "" {
			continue
		}
		sb.WriteString(fmt.Sprintf("%s %s : PSK \"%s\"\n", t.LocalEndpoint, t.RemoteEndpoint, t.PSK))
	}
	return sb.String()
}

// Apply rewrites ipsec.conf and ipsec.secrets from the store and reloads
// StrongSwan. The previous files are kept as .bak for manual recovery.
func (m *Manager) Apply(ctx context.Context) error {
	tunnels, err := m.store.ListEnabledTunnels(ctx, "ipsec")
	if err != nil {
		return fmt.Errorf("loading tunnels: %w", err)
	}

	if err := writeWithBackup(m.cfg.IPSecConf, RenderConfig(tunnels), 0o644); err != nil {
		return fmt.Errorf("writing ipsec.conf: %w", err)
	}
	// Secrets stay root-only.
	if err := writeWithBackup(m.cfg.IPSecSecrets, RenderSecrets(tunnels), 0o600); err != nil {
		return fmt.Errorf("writing ipsec.secrets: %w", err)
	}

	if out, err := runIPSec(ctx, "reload"); err != nil {
		m.recordDeploy(ctx, "reload", "failed", strings.TrimSpace(out))
		return fmt.Errorf("reloading ipsec: %w: %s", err, out)
	}
	if _, err := runIPSec(ctx, "rereadsecrets"); err != nil {
		m.logger.Warn("rereadsecrets failed", "error", err)
	}

	m.recordDeploy(ctx, "apply", "success", fmt.Sprintf("%d tunnels", len(tunnels)))
	m.logger.Audit("ipsec configuration applied", "tunnels", len(tunnels))
	return nil
}

// Up initiates one tunnel.
func (m *Manager) Up(ctx context.Context, name string) error {
	if out, err := runIPSec(ctx, "up", name); err != nil {
		return fmt.Errorf("bringing up %s: %w: %s", name, err, strings.TrimSpace(out))
	}
	m.logger.Audit("tunnel initiated", "tunnel", name)
	return nil
}

// Down terminates one tunnel.
func (m *Manager) Down(ctx context.Context, name string) error {
	if out, err := runIPSec(ctx, "down", name); err != nil {
		return fmt.Errorf("bringing down %s: %w: %s", name, err, strings.TrimSpace(out))
	}
	m.logger.Audit("tunnel terminated", "tunnel", name)
	return nil
}

// RefreshStatus polls `ipsec status` and updates the stored tunnel rows.
func (m *Manager) RefreshStatus(ctx context.Context) error {
	tunnels, err := m.store.ListEnabledTunnels(ctx, "ipsec")
	if err != nil {
		return err
	}
	if len(tunnels) == 0 {
		return nil
	}

	out, err := runIPSec(ctx, "status")
	if err != nil {
		// A stopped daemon means every tunnel is down.
		out = ""
	}
	statuses := ParseStatus(out)

	for _, t := range tunnels {
		status, ok := statuses[t.Name]
		if !ok {
			status = store.TunnelDisconnected
		}
		metrics.Get().SetTunnelUp(t.Name, t.Type, status == store.TunnelConnected)
		if err := m.store.UpdateTunnelStatus(ctx, t.ID, status); err != nil {
			m.logger.Warn("failed to update tunnel status", "tunnel", t.Name, "error", err)
		}
	}
	return nil
}

// ParseStatus extracts per-connection states from `ipsec status` output.
func ParseStatus(out string) map[string]string {
	statuses := make(map[string]string)
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		// Lines look like: "office[2]: ESTABLISHED 25 minutes ago, ..."
		name, rest, found := strings.Cut(line, "[")
		if !found {
			// Child SA lines use "office{1}: INSTALLED, TUNNEL, ..."
			name, rest, found = strings.Cut(line, "{")
			if !found {
				continue
			}
		}
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		switch {
		case strings.Contains(rest, "ESTABLISHED"), strings.Contains(rest, "INSTALLED"):
			statuses[name] = store.TunnelConnected
		case strings.Contains(rest, "CONNECTING"):
			if statuses[name] != store.TunnelConnected {
				statuses[name] = store.TunnelConnecting
			}
		}
	}
	return statuses
}

func (m *Manager) recordDeploy(ctx context.Context, action, status, message string) {
	metrics.Get().RecordDeployment("vpn", status)
	err := m.store.InsertDeploymentLog(ctx, &store.DeploymentLog{
		Target: "vpn", Action: action, Status: status, Message: message,
	})
	if err != nil {
		m.logger.Warn("failed to record deployment", "error", err)
	}
}

// writeWithBackup renames the existing file to .bak before writing.
func writeWithBackup(path, content string, perm os.FileMode) error {
	if _, err := os.Stat(path); err == nil {
		backup := fmt.Sprintf("%s.bak.%s", path, clock.Now().Format("20060102-150405"))
		if err := os.Rename(path, backup); err != nil {
			return fmt.Errorf("backing up %s: %w", path, err)
		}
	}
	return os.WriteFile(path, []byte(content), perm)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
