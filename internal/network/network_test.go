package network

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"meridian-router.dev/meridian/internal/logging"
	"meridian-router.dev/meridian/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func TestParseDestination(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"default", "0.0.0.0/0", false},
		{"10.0.0.0/24", "10.0.0.0/24", false},
		{"192.0.2.7", "192.0.2.7/32", false},
		{"2001:db8::/48", "2001:db8::/48", false},
		{"not-an-address", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		got, err := ParseDestination(tt.in)
		if tt.wantErr {
			require.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		require.Equal(t, tt.want, got.String(), tt.in)
	}
}

func TestSkipInterface(t *testing.T) {
	tests := []struct {
		name string
		skip bool
	}{
		{"lo", true},
		{"veth1a2b", true},
		{"docker0", true},
		{"br-93cd01", true},
		{"virbr0", true},
		{"eth0", false},
		{"wan0", false},
		{"enp3s0", false},
	}
	for _, tt := range tests {
		require.Equal(t, tt.skip, skipInterface(tt.name), tt.name)
	}
}

func TestForwarding(t *testing.T) {
	dir := t.TempDir()
	v4 := filepath.Join(dir, "ip_forward")
	v6 := filepath.Join(dir, "forwarding")
	require.NoError(t, os.WriteFile(v4, []byte("0\n"), 0o644))
	require.NoError(t, os.WriteFile(v6, []byte("0\n"), 0o644))

	origV4, origV6 := forwardingPathV4, forwardingPathV6
	defer func() { forwardingPathV4, forwardingPathV6 = origV4, origV6 }()
	forwardingPathV4, forwardingPathV6 = v4, v6

	enabled, err := ForwardingEnabled()
	require.NoError(t, err)
	require.False(t, enabled)

	require.NoError(t, SetForwarding(true))
	enabled, err = ForwardingEnabled()
	require.NoError(t, err)
	require.True(t, enabled)

	require.NoError(t, SetForwarding(false))
	enabled, err = ForwardingEnabled()
	require.NoError(t, err)
	require.False(t, enabled)
}

func TestRouteMonitorCheckAll(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	require.NoError(t, st.CreateRoute(ctx, &store.StaticRoute{
		Destination: "10.1.0.0/24", Gateway: "10.0.0.1",
		MonitorAddress: "10.1.0.1", Enabled: true,
	}))
	require.NoError(t, st.CreateRoute(ctx, &store.StaticRoute{
		Destination: "10.2.0.0/24", Gateway: "10.0.0.1",
		MonitorAddress: "10.2.0.1", Enabled: true,
	}))
	// No monitor address, not probed.
	require.NoError(t, st.CreateRoute(ctx, &store.StaticRoute{
		Destination: "10.3.0.0/24", Gateway: "10.0.0.1", Enabled: true,
	}))

	orig := CheckPingFunc
	defer func() { CheckPingFunc = orig }()
	CheckPingFunc = func(ctx context.Context, ip string) error {
		if ip == "10.2.0.1" {
			return fmt.Errorf("timeout")
		}
		return nil
	}

	m := NewRouteMonitor(st, nil)
	results, err := m.CheckAll(ctx)
	require.NoError(t, err)
	require.Len(t, results, 2)

	byTarget := make(map[string]RouteHealth)
	for _, r := range results {
		byTarget[r.Target] = r
	}
	require.True(t, byTarget["10.1.0.1"].Reachable)
	require.False(t, byTarget["10.2.0.1"].Reachable)
	require.Contains(t, byTarget["10.2.0.1"].Error, "timeout")
}

func TestRouteMonitorLogsTransitionsOnly(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	require.NoError(t, st.CreateRoute(ctx, &store.StaticRoute{
		Destination: "10.1.0.0/24", Gateway: "10.0.0.1",
		MonitorAddress: "10.1.0.1", Enabled: true,
	}))

	var buf bytes.Buffer
	lcfg := logging.DefaultConfig()
	lcfg.Output = &buf
	m := NewRouteMonitor(st, logging.New(lcfg).WithComponent("routes"))

	orig := CheckPingFunc
	defer func() { CheckPingFunc = orig }()
	reachable := false
	CheckPingFunc = func(ctx context.Context, ip string) error {
		if reachable {
			return nil
		}
		return fmt.Errorf("timeout")
	}

	// Two failing probes log the outage once.
	_, err := m.CheckAll(ctx)
	require.NoError(t, err)
	_, err = m.CheckAll(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, strings.Count(buf.String(), "route unreachable"))

	// Recovery logs once, repeat successes stay quiet.
	reachable = true
	_, err = m.CheckAll(ctx)
	require.NoError(t, err)
	_, err = m.CheckAll(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, strings.Count(buf.String(), "route recovered"))
}

func TestBuildRouteValidation(t *testing.T) {
	_, err := buildRoute(&store.StaticRoute{Destination: "10.0.0.0/24"})
	require.Error(t, err, "route without gateway or interface")

	_, err = buildRoute(&store.StaticRoute{Destination: "10.0.0.0/24", Gateway: "not-an-ip"})
	require.Error(t, err)

	route, err := buildRoute(&store.StaticRoute{
		Destination: "10.0.0.0/24", Gateway: "192.168.1.1", Metric: 100,
	})
	require.NoError(t, err)
	require.Equal(t, "10.0.0.0/24", route.Dst.String())
	require.Equal(t, "192.168.1.1", route.Gw.String())
	require.Equal(t, 100, route.Priority)
}
