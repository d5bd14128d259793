package firewall

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"meridian-router.dev/meridian/internal/config"
	"meridian-router.dev/meridian/internal/store"
)

func TestRenderRule(t *testing.T) {
	tests := []struct {
		name string
		rule store.FirewallRule
		want string
	}{
		{
			name: "allow ssh from lan",
			rule: store.FirewallRule{
				Chain: "input", Protocol: "tcp", SrcIP: "10.0.0.0/24",
				DstPort: "22", Action: "accept", Name: "allow-ssh",
			},
			want: `ip saddr 10.0.0.0/24 tcp dport 22 accept comment "allow-ssh"`,
		},
		{
			name: "drop all from host",
			rule: store.FirewallRule{
				Chain: "input", SrcIP: "192.0.2.13", Action: "drop",
			},
			want: "ip saddr 192.0.2.13 drop",
		},
		{
			name: "port list",
			rule: store.FirewallRule{
				Chain: "input", Protocol: "tcp", DstPort: "80,443", Action: "accept",
			},
			want: "tcp dport { 80, 443 } accept",
		},
		{
			name: "port range",
			rule: store.FirewallRule{
				Chain: "input", Protocol: "udp", DstPort: "6000-6100", Action: "accept",
			},
			want: "udp dport 6000-6100 accept",
		},
		{
			name: "protocol only",
			rule: store.FirewallRule{
				Chain: "forward", Protocol: "udp", Action: "reject",
			},
			want: "meta l4proto udp reject",
		},
		{
			name: "interface match",
			rule: store.FirewallRule{
				Chain: "forward", InIface: "lan0", OutIface: "wan0", Action: "accept",
			},
			want: `iif "lan0" oif "wan0" accept`,
		},
		{
			name: "comment wins over name",
			rule: store.FirewallRule{
				Chain: "input", Action: "drop", Name: "x", Comment: "block scanners",
			},
			want: `drop comment "block scanners"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, RenderRule(&tt.rule))
		})
	}
}

func TestBuildScript(t *testing.T) {
	rules := []store.FirewallRule{
		{Chain: "input", Protocol: "tcp", DstPort: "22", Action: "accept", Enabled: true, Name: "ssh"},
		{Chain: "input", Protocol: "tcp", DstPort: "23", Action: "accept", Enabled: false, Name: "telnet"},
		{Chain: "forward", SrcIP: "10.0.1.0/24", Action: "accept", Enabled: true},
	}
	forwards := []store.PortForward{
		{Protocol: "tcp", ExternalPort: 8080, DestIP: "10.0.0.5", DestPort: 80, Enabled: true, Name: "web"},
	}

	script := BuildScript(rules, forwards, "wan0")

	require.True(t, strings.HasPrefix(script, "#!/usr/sbin/nft -f"))
	require.Contains(t, script, "flush ruleset")
	require.Contains(t, script, "table inet meridian")
	require.Contains(t, script, "tcp dport 22 accept")
	require.NotContains(t, script, "dport 23", "disabled rules must not render")
	require.Contains(t, script, "tcp dport 8080 dnat to 10.0.0.5:80")
	require.Contains(t, script, "ip daddr 10.0.0.5 tcp dport 80 accept")
	require.Contains(t, script, `oif "wan0" masquerade`)
	require.Contains(t, script, "ct state established,related accept")
}

func TestBuildScriptWithoutWAN(t *testing.T) {
	script := BuildScript(nil, nil, "")
	require.NotContains(t, script, "masquerade")
	require.Contains(t, script, "policy drop")
}

func TestNATToggle(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestManager(t)

	// Defaults to on because a WAN interface is configured.
	enabled, err := m.NATEnabled(ctx)
	require.NoError(t, err)
	require.True(t, enabled)

	script, err := m.BuildFromStore(ctx)
	require.NoError(t, err)
	require.Contains(t, script, "masquerade")

	require.NoError(t, m.SetNAT(ctx, false))
	enabled, err = m.NATEnabled(ctx)
	require.NoError(t, err)
	require.False(t, enabled)

	script, err = m.BuildFromStore(ctx)
	require.NoError(t, err)
	require.NotContains(t, script, "masquerade")
}

func newTestManager(t *testing.T) (*Manager, *store.Store, *config.FirewallConfig) {
	t.Helper()
	st, err := store.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	dir := t.TempDir()
	cfg := &config.FirewallConfig{
		ConfigPath:   filepath.Join(dir, "nftables.conf"),
		BackupDir:    filepath.Join(dir, "backups"),
		WANInterface: "wan0",
	}
	return NewManager(st, cfg, nil), st, cfg
}

func TestApplyWritesConfigAndBackup(t *testing.T) {
	ctx := context.Background()
	m, st, cfg := newTestManager(t)

	orig := runNft
	defer func() { runNft = orig }()
	var calls [][]string
	runNft = func(ctx context.Context, stdin string, args ...string) (string, error) {
		calls = append(calls, args)
		return "", nil
	}

	require.NoError(t, st.CreateFirewallRule(ctx, &store.FirewallRule{
		Name: "ssh", Chain: "input", Protocol: "tcp", DstPort: "22",
		Action: "accept", Enabled: true,
	}))

	// Seed an existing config so a backup gets taken.
	require.NoError(t, os.WriteFile(cfg.ConfigPath, []byte("# old\n"), 0o644))

	require.NoError(t, m.Apply(ctx))

	data, err := os.ReadFile(cfg.ConfigPath)
	require.NoError(t, err)
	require.Contains(t, string(data), "tcp dport 22 accept")

	backups, err := os.ReadDir(cfg.BackupDir)
	require.NoError(t, err)
	require.Len(t, backups, 1)

	// Validate then load.
	require.Len(t, calls, 2)
	require.Equal(t, []string{"-c", "-f", "-"}, calls[0])
	require.Equal(t, []string{"-f", cfg.ConfigPath}, calls[1])

	logs, err := st.ListDeploymentLogs(ctx, "firewall", 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	require.Equal(t, "success", logs[0].Status)
}

func TestApplyRestartsUnit(t *testing.T) {
	ctx := context.Background()
	m, _, cfg := newTestManager(t)
	cfg.Unit = "nftables"

	origNft := runNft
	defer func() { runNft = origNft }()
	runNft = func(ctx context.Context, stdin string, args ...string) (string, error) {
		return "", nil
	}

	origCtl := runSystemctl
	defer func() { runSystemctl = origCtl }()
	var restarts [][]string
	runSystemctl = func(ctx context.Context, args ...string) (string, error) {
		restarts = append(restarts, args)
		return "", nil
	}

	require.NoError(t, m.Apply(ctx))
	require.Len(t, restarts, 1)
	require.Equal(t, []string{"restart", "nftables"}, restarts[0])
}

func TestApplySucceedsWhenUnitRestartFails(t *testing.T) {
	ctx := context.Background()
	m, st, cfg := newTestManager(t)
	cfg.Unit = "nftables"

	origNft := runNft
	defer func() { runNft = origNft }()
	runNft = func(ctx context.Context, stdin string, args ...string) (string, error) {
		return "", nil
	}

	origCtl := runSystemctl
	defer func() { runSystemctl = origCtl }()
	runSystemctl = func(ctx context.Context, args ...string) (string, error) {
		return "Failed to restart nftables.service", fmt.Errorf("exit status 1")
	}

	// The rules are live, so a restart failure must not fail the apply.
	require.NoError(t, m.Apply(ctx))

	logs, err := st.ListDeploymentLogs(ctx, "firewall", 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	require.Equal(t, "success", logs[0].Status)
}

func TestApplyRollsBackOnLoadFailure(t *testing.T) {
	ctx := context.Background()
	m, _, cfg := newTestManager(t)

	require.NoError(t, os.WriteFile(cfg.ConfigPath, []byte("# known good\n"), 0o644))

	orig := runNft
	defer func() { runNft = orig }()
	loads := 0
	runNft = func(ctx context.Context, stdin string, args ...string) (string, error) {
		if args[0] == "-c" {
			return "", nil
		}
		loads++
		if loads == 1 {
			return "syntax error", fmt.Errorf("exit status 1")
		}
		return "", nil
	}

	err := m.Apply(ctx)
	require.Error(t, err)
	require.Contains(t, err.Error(), "restored")

	data, err := os.ReadFile(cfg.ConfigPath)
	require.NoError(t, err)
	require.Equal(t, "# known good\n", string(data))
}

func TestValidationFailureLeavesConfigUntouched(t *testing.T) {
	ctx := context.Background()
	m, _, cfg := newTestManager(t)

	require.NoError(t, os.WriteFile(cfg.ConfigPath, []byte("# current\n"), 0o644))

	orig := runNft
	defer func() { runNft = orig }()
	runNft = func(ctx context.Context, stdin string, args ...string) (string, error) {
		return "bad rule", fmt.Errorf("exit status 1")
	}

	require.Error(t, m.Apply(ctx))

	data, err := os.ReadFile(cfg.ConfigPath)
	require.NoError(t, err)
	require.Equal(t, "# current\n", string(data))
}

func TestPreviewShowsDiff(t *testing.T) {
	ctx := context.Background()
	m, st, cfg := newTestManager(t)

	require.NoError(t, os.WriteFile(cfg.ConfigPath, []byte("# empty\n"), 0o644))
	require.NoError(t, st.CreateFirewallRule(ctx, &store.FirewallRule{
		Name: "ssh", Chain: "input", Protocol: "tcp", DstPort: "22",
		Action: "accept", Enabled: true,
	}))

	diff, err := m.Preview(ctx)
	require.NoError(t, err)
	require.Contains(t, diff, "+")
	require.Contains(t, diff, "tcp dport 22 accept")
	require.Contains(t, diff, "-# empty")
}
