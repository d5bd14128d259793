package vpn

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"meridian-router.dev/meridian/internal/config"
	"meridian-router.dev/meridian/internal/store"
)

func newTestManager(t *testing.T) (*Manager, *store.Store, *config.VPNConfig) {
	t.Helper()
	st, err := store.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	dir := t.TempDir()
	cfg := &config.VPNConfig{
		IPSecConf:    filepath.Join(dir, "ipsec.conf"),
		IPSecSecrets: filepath.Join(dir, "ipsec.secrets"),
	}
	return NewManager(st, cfg, nil), st, cfg
}

func sampleTunnel() *store.VPNTunnel {
	return &store.VPNTunnel{
		Name: "office", Type: "ipsec",
		LocalEndpoint: "198.51.100.1", RemoteEndpoint: "203.0.113.9",
		LocalSubnet: "10.0.0.0/24", RemoteSubnet: "10.1.0.0/24",
		PSK: "sharedsecret", AutoStart: true, Enabled: true,
	}
}

func TestRenderConfig(t *testing.T) {
	out := RenderConfig([]store.VPNTunnel{*sampleTunnel()})

	require.Contains(t, out, "conn office")
	require.Contains(t, out, "auto=start")
	require.Contains(t, out, "left=198.51.100.1")
	require.Contains(t, out, "right=203.0.113.9")
	require.Contains(t, out, "leftsubnet=10.0.0.0/24")
	require.Contains(t, out, "rightsubnet=10.1.0.0/24")
	require.Contains(t, out, "ike=aes256-sha256-modp2048!")
	require.Contains(t, out, "keyexchange=ikev2")
}

func TestRenderConfigSkipsDisabledAndWireGuard(t *testing.T) {
	disabled := *sampleTunnel()
	disabled.Name = "off"
	disabled.Enabled = false
	wg := *sampleTunnel()
	wg.Name = "roadwarrior"
	wg.Type = "wireguard"

	out := RenderConfig([]store.VPNTunnel{disabled, wg})
	require.NotContains(t, out, "conn off")
	require.NotContains(t, out, "conn roadwarrior")
}

func TestRenderConfigCustomProposals(t *testing.T) {
	tun := *sampleTunnel()
	tun.IKEProposal = "aes128-sha1-modp1024"
	tun.ESPProposal = "aes128-sha1"
	tun.AutoStart = false

	out := RenderConfig([]store.VPNTunnel{tun})
	require.Contains(t, out, "ike=aes128-sha1-modp1024!")
	require.Contains(t, out, "esp=aes128-sha1!")
	require.Contains(t, out, "auto=add")
}

func TestRenderSecrets(t *testing.T) {
	out := RenderSecrets([]store.VPNTunnel{*sampleTunnel()})
	require.Contains(t, out, `198.51.100.1 203.0.113.9 : PSK "sharedsecret"`)

	noPSK := *sampleTunnel()
	noPSK.PSK = ""
	out = RenderSecrets([]store.VPNTunnel{noPSK})
	require.NotContains(t, out, "PSK")
}

func TestParseStatus(t *testing.T) {
	out := `Security Associations (2 up, 1 connecting):
      office[2]: ESTABLISHED 25 minutes ago, 198.51.100.1[198.51.100.1]...203.0.113.9[203.0.113.9]
      office{1}:  INSTALLED, TUNNEL, reqid 1, ESP SPIs: c1b2a3d4_i f4e3d2c1_o
      branch[3]: CONNECTING, 198.51.100.1[%any]...192.0.2.44[%any]
`
	statuses := ParseStatus(out)
	require.Equal(t, store.TunnelConnected, statuses["office"])
	require.Equal(t, store.TunnelConnecting, statuses["branch"])
	_, ok := statuses["datacenter"]
	require.False(t, ok)
}

func TestParseStatusEmpty(t *testing.T) {
	require.Empty(t, ParseStatus(""))
	require.Empty(t, ParseStatus("Security Associations (0 up, 0 connecting):\n  none\n"))
}

func TestApplyWritesFilesAndReloads(t *testing.T) {
	ctx := context.Background()
	m, st, cfg := newTestManager(t)

	require.NoError(t, st.CreateTunnel(ctx, sampleTunnel()))

	orig := runIPSec
	defer func() { runIPSec = orig }()
	var calls [][]string
	runIPSec = func(ctx context.Context, args ...string) (string, error) {
		calls = append(calls, args)
		return "", nil
	}

	require.NoError(t, m.Apply(ctx))

	conf, err := os.ReadFile(cfg.IPSecConf)
	require.NoError(t, err)
	require.Contains(t, string(conf), "conn office")

	secrets, err := os.ReadFile(cfg.IPSecSecrets)
	require.NoError(t, err)
	require.Contains(t, string(secrets), "PSK")

	info, err := os.Stat(cfg.IPSecSecrets)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	require.Len(t, calls, 2)
	require.Equal(t, []string{"reload"}, calls[0])
	require.Equal(t, []string{"rereadsecrets"}, calls[1])

	logs, err := st.ListDeploymentLogs(ctx, "vpn", 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	require.Equal(t, "success", logs[0].Status)
}

func TestApplyBacksUpPreviousConfig(t *testing.T) {
	ctx := context.Background()
	m, st, cfg := newTestManager(t)

	require.NoError(t, st.CreateTunnel(ctx, sampleTunnel()))
	require.NoError(t, os.WriteFile(cfg.IPSecConf, []byte("# previous\n"), 0o644))

	orig := runIPSec
	defer func() { runIPSec = orig }()
	runIPSec = func(ctx context.Context, args ...string) (string, error) { return "", nil }

	require.NoError(t, m.Apply(ctx))

	entries, err := os.ReadDir(filepath.Dir(cfg.IPSecConf))
	require.NoError(t, err)
	var foundBackup bool
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "ipsec.conf.bak.") {
			foundBackup = true
		}
	}
	require.True(t, foundBackup, "previous config should be kept as backup")
}

func TestRefreshStatus(t *testing.T) {
	ctx := context.Background()
	m, st, _ := newTestManager(t)

	tun := sampleTunnel()
	require.NoError(t, st.CreateTunnel(ctx, tun))

	orig := runIPSec
	defer func() { runIPSec = orig }()
	runIPSec = func(ctx context.Context, args ...string) (string, error) {
		return "office[2]: ESTABLISHED 1 minute ago\n", nil
	}

	require.NoError(t, m.RefreshStatus(ctx))

	got, err := st.GetTunnel(ctx, tun.ID)
	require.NoError(t, err)
	require.Equal(t, store.TunnelConnected, got.Status)
	require.NotNil(t, got.StatusChanged)

	// Daemon stops, tunnel goes disconnected.
	runIPSec = func(ctx context.Context, args ...string) (string, error) {
		return "", os.ErrNotExist
	}
	require.NoError(t, m.RefreshStatus(ctx))
	got, err = st.GetTunnel(ctx, tun.ID)
	require.NoError(t, err)
	require.Equal(t, store.TunnelDisconnected, got.Status)
}

func TestGeneratePSK(t *testing.T) {
	psk, err := GeneratePSK(32)
	require.NoError(t, err)
	require.Len(t, psk, 32)
	for _, c := range psk {
		require.Contains(t, pskAlphabet, string(c))
	}

	other, err := GeneratePSK(32)
	require.NoError(t, err)
	require.NotEqual(t, psk, other)

	short, err := GeneratePSK(0)
	require.NoError(t, err)
	require.Len(t, short, 32)
}

func TestHasFreshHandshake(t *testing.T) {
	now := time.Now()
	require.True(t, hasFreshHandshake([]WireGuardPeerStatus{
		{LatestHandshake: now.Add(-time.Minute)},
	}, now))
	require.False(t, hasFreshHandshake([]WireGuardPeerStatus{
		{LatestHandshake: now.Add(-10 * time.Minute)},
	}, now))
	require.False(t, hasFreshHandshake([]WireGuardPeerStatus{
		{}, // never shaken
	}, now))
	require.False(t, hasFreshHandshake(nil, now))
}

func TestRefreshWireGuardStatus(t *testing.T) {
	ctx := context.Background()
	m, st, cfg := newTestManager(t)
	cfg.WireGuardDevice = "wg0"

	tun := sampleTunnel()
	tun.Name = "roadwarrior"
	tun.Type = "wireguard"
	tun.PSK = ""
	require.NoError(t, st.CreateTunnel(ctx, tun))

	orig := wgDevice
	defer func() { wgDevice = orig }()
	wgDevice = func(name string) (*WireGuardStatus, error) {
		return &WireGuardStatus{
			Running:   true,
			Interface: name,
			Peers: []WireGuardPeerStatus{
				{PublicKey: "abc", LatestHandshake: time.Now().Add(-30 * time.Second)},
			},
		}, nil
	}

	require.NoError(t, m.RefreshWireGuardStatus(ctx))
	got, err := st.GetTunnel(ctx, tun.ID)
	require.NoError(t, err)
	require.Equal(t, store.TunnelConnected, got.Status)
}
