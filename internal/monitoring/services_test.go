package monitoring

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"meridian-router.dev/meridian/internal/config"
)

func TestMapUnitState(t *testing.T) {
	tests := []struct {
		active string
		want   string
	}{
		{"active", "running"},
		{"activating", "running"},
		{"reloading", "running"},
		{"inactive", "stopped"},
		{"deactivating", "stopped"},
		{"failed", "failed"},
		{"not-found", "unknown"},
		{"", "unknown"},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, mapUnitState(tt.active), tt.active)
	}
}

func TestParseShowOutput(t *testing.T) {
	out := "MainPID=4242\nActiveEnterTimestamp=Tue 2026-03-10 08:00:00 UTC\n"
	props := parseShowOutput(out)
	require.Equal(t, "4242", props["MainPID"])
	require.Equal(t, "Tue 2026-03-10 08:00:00 UTC", props["ActiveEnterTimestamp"])
}

func TestParseSystemdTimestamp(t *testing.T) {
	ts, err := parseSystemdTimestamp("Tue 2026-03-10 08:00:00 UTC")
	require.NoError(t, err)
	require.Equal(t, time.Date(2026, time.March, 10, 8, 0, 0, 0, time.UTC), ts.UTC())

	_, err = parseSystemdTimestamp("")
	require.Error(t, err)
}

func TestServiceCheck(t *testing.T) {
	orig := runSystemctl
	defer func() { runSystemctl = orig }()

	runSystemctl = func(ctx context.Context, args ...string) (string, error) {
		switch args[0] {
		case "is-active":
			return "active", nil
		case "show":
			return "MainPID=0\nActiveEnterTimestamp=Tue 2026-03-10 08:00:00 UTC", nil
		}
		return "", fmt.Errorf("unexpected call: %v", args)
	}

	m := NewServiceMonitor(newTestStore(t), &config.MonitoringConfig{}, nil)
	state := m.Check(context.Background(), "nginx")

	require.Equal(t, "nginx", state.Name)
	require.Equal(t, "running", state.Status)
	require.Nil(t, state.PID)
	require.NotNil(t, state.StartedAt)
}

func TestServiceCheckFailedUnit(t *testing.T) {
	orig := runSystemctl
	defer func() { runSystemctl = orig }()

	runSystemctl = func(ctx context.Context, args ...string) (string, error) {
		if args[0] == "is-active" {
			return "failed", fmt.Errorf("exit status 3")
		}
		return "", nil
	}

	m := NewServiceMonitor(newTestStore(t), &config.MonitoringConfig{}, nil)
	state := m.Check(context.Background(), "strongswan")
	require.Equal(t, "failed", state.Status)
}

func TestCollectAllPersists(t *testing.T) {
	orig := runSystemctl
	defer func() { runSystemctl = orig }()

	runSystemctl = func(ctx context.Context, args ...string) (string, error) {
		if args[0] == "is-active" {
			return "active", nil
		}
		return "MainPID=0", nil
	}

	ctx := context.Background()
	st := newTestStore(t)
	m := NewServiceMonitor(st, &config.MonitoringConfig{Services: []string{"nginx", "sshd"}}, nil)

	require.NoError(t, m.CollectAll(ctx))

	states, err := st.ListServiceStates(ctx)
	require.NoError(t, err)
	require.Len(t, states, 2)
	for _, s := range states {
		require.Equal(t, "running", s.Status)
	}
}
