package firewall

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pmezard/go-difflib/difflib"

	"meridian-router.dev/meridian/internal/clock"
	"meridian-router.dev/meridian/internal/config"
	"meridian-router.dev/meridian/internal/logging"
	"meridian-router.dev/meridian/internal/metrics"
	"meridian-router.dev/meridian/internal/store"
)

// Seams for tests.
var (
	runNft = func(ctx context.Context, stdin string, args ...string) (string, error) {
		cmd := exec.CommandContext(ctx, "nft", args...)
		if stdin != "" {
			cmd.Stdin = strings.NewReader(stdin)
		}
		out, err := cmd.CombinedOutput()
		return strings.TrimSpace(string(out)), err
	}
	runSystemctl = func(ctx context.Context, args ...string) (string, error) {
		out, err := exec.CommandContext(ctx, "systemctl", args...).CombinedOutput()
		return strings.TrimSpace(string(out)), err
	}
)

const backupKeep = 10

// Manager renders the stored rules and applies them to the host.
type Manager struct {
	store  *store.Store
	cfg    *config.FirewallConfig
	logger *logging.Logger
}

// NewManager creates a firewall manager.
func NewManager(st *store.Store, cfg *config.FirewallConfig, logger *logging.Logger) *Manager {
	if logger == nil {
		logger = logging.Default().WithComponent("firewall")
	}
	return &Manager{store: st, cfg: cfg, logger: logger}
}

// natSettingKey persists the masquerade toggle.
const natSettingKey = "nat_enabled"

// BuildFromStore renders the config script from the enabled rows.
func (m *Manager) BuildFromStore(ctx context.Context) (string, error) {
	rules, err := m.store.ListEnabledFirewallRules(ctx)
	if err != nil {
		return "", fmt.Errorf("loading rules: %w", err)
	}
	forwards, err := m.store.ListEnabledPortForwards(ctx)
	if err != nil {
		return "", fmt.Errorf("loading port forwards: %w", err)
	}
	wan := m.cfg.WANInterface
	if enabled, err := m.NATEnabled(ctx); err == nil && !enabled {
		wan = ""
	}
	return BuildScript(rules, forwards, wan), nil
}

// NATEnabled reports whether masquerade is active. Defaults to on when a
// WAN interface is configured and the toggle was never set.
func (m *Manager) NATEnabled(ctx context.Context) (bool, error) {
	v, err := m.store.GetSetting(ctx, natSettingKey)
	if err != nil {
		return false, err
	}
	if v == "" {
		return m.cfg.WANInterface != "", nil
	}
	return v == "true", nil
}

// SetNAT persists the masquerade toggle. The caller still has to apply the
// ruleset for it to take effect.
func (m *Manager) SetNAT(ctx context.Context, enabled bool) error {
	v := "false"
	if enabled {
		v = "true"
	}
	return m.store.SetSetting(ctx, natSettingKey, v)
}

// Validate runs the script through nft's dry-run mode.
func (m *Manager) Validate(ctx context.Context, script string) error {
	if out, err := runNft(ctx, script, "-c", "-f", "-"); err != nil {
		return fmt.Errorf("ruleset validation failed: %w: %s", err, out)
	}
	return nil
}

// Preview returns a unified diff between the deployed config file and what
// would be written now.
func (m *Manager) Preview(ctx context.Context) (string, error) {
	script, err := m.BuildFromStore(ctx)
	if err != nil {
		return "", err
	}
	current, err := os.ReadFile(m.cfg.ConfigPath)
	if err != nil && !os.IsNotExist(err) {
		return "", err
	}

	diff, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(string(current)),
		B:        difflib.SplitLines(script),
		FromFile: m.cfg.ConfigPath,
		ToFile:   m.cfg.ConfigPath + " (pending)",
		Context:  3,
	})
	if err != nil {
		return "", err
	}
	return diff, nil
}

// Apply validates the pending ruleset, backs up the current config, writes
// the new file and loads it. On a failed load the previous config is
// restored and re-applied.
func (m *Manager) Apply(ctx context.Context) error {
	script, err := m.BuildFromStore(ctx)
	if err != nil {
		return err
	}

	if err := m.Validate(ctx, script); err != nil {
		m.recordDeploy(ctx, "validate", "failed", err.Error())
		return err
	}

	backup, err := m.backupCurrent()
	if err != nil {
		return fmt.Errorf("backing up config: %w", err)
	}

	if err := os.WriteFile(m.cfg.ConfigPath, []byte(script), 0o644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	if out, err := runNft(ctx, "", "-f", m.cfg.ConfigPath); err != nil {
		applyErr := fmt.Errorf("loading ruleset: %w: %s", err, out)
		m.recordDeploy(ctx, "apply", "failed", applyErr.Error())
		if backup != "" {
			if rbErr := m.rollback(ctx, backup); rbErr != nil {
				return fmt.Errorf("%w; rollback also failed: %v", applyErr, rbErr)
			}
			return fmt.Errorf("%w (previous ruleset restored)", applyErr)
		}
		return applyErr
	}

	// Restart the unit so systemd picks up the new file on the next boot.
	// The kernel already has the rules, so a failed restart only costs
	// persistence.
	if m.cfg.Unit != "" {
		if out, err := runSystemctl(ctx, "restart", m.cfg.Unit); err != nil {
			m.logger.Warn("firewall unit restart failed",
				"unit", m.cfg.Unit, "error", err, "output", out)
		}
	}

	m.pruneBackups()
	m.recordDeploy(ctx, "apply", "success", fmt.Sprintf("%d bytes written", len(script)))
	m.logger.Audit("firewall ruleset applied", "path", m.cfg.ConfigPath)
	return nil
}

// LiveRuleset returns the kernel's current ruleset.
func (m *Manager) LiveRuleset(ctx context.Context) (string, error) {
	out, err := runNft(ctx, "", "list", "ruleset")
	if err != nil {
		return "", fmt.Errorf("listing ruleset: %w: %s", err, out)
	}
	return out, nil
}

// backupCurrent copies the deployed config into the backup dir. Returns the
// backup path, or "" when there is no config yet.
func (m *Manager) backupCurrent() (string, error) {
	data, err := os.ReadFile(m.cfg.ConfigPath)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(m.cfg.BackupDir, 0o755); err != nil {
		return "", err
	}
	name := fmt.Sprintf("nftables_%s.conf", clock.Now().Format("2006-01-02_15-04-05"))
	path := filepath.Join(m.cfg.BackupDir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

func (m *Manager) rollback(ctx context.Context, backupPath string) error {
	data, err := os.ReadFile(backupPath)
	if err != nil {
		return err
	}
	if err := os.WriteFile(m.cfg.ConfigPath, data, 0o644); err != nil {
		return err
	}
	if out, err := runNft(ctx, "", "-f", m.cfg.ConfigPath); err != nil {
		return fmt.Errorf("reloading previous ruleset: %w: %s", err, out)
	}
	m.logger.Warn("firewall rolled back", "backup", backupPath)
	return nil
}

// pruneBackups keeps only the most recent backup files.
func (m *Manager) pruneBackups() {
	entries, err := os.ReadDir(m.cfg.BackupDir)
	if err != nil {
		return
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), "nftables_") {
			names = append(names, e.Name())
		}
	}
	if len(names) <= backupKeep {
		return
	}
	// Timestamped names sort chronologically.
	sort.Strings(names)
	for _, name := range names[:len(names)-backupKeep] {
		os.Remove(filepath.Join(m.cfg.BackupDir, name))
	}
}

func (m *Manager) recordDeploy(ctx context.Context, action, status, message string) {
	metrics.Get().RecordDeployment("firewall", status)
	err := m.store.InsertDeploymentLog(ctx, &store.DeploymentLog{
		Target: "firewall", Action: action, Status: status, Message: message,
	})
	if err != nil {
		m.logger.Warn("failed to record deployment", "error", err)
	}
}
