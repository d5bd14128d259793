package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestMetricRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.InsertMetric(ctx, &MetricSample{
		Type:   MetricCPU,
		Value:  42.5,
		Unit:   "percent",
		Source: "",
	})
	require.NoError(t, err)

	err = s.InsertMetric(ctx, &MetricSample{
		Type:   MetricDisk,
		Value:  88.0,
		Unit:   "percent",
		Source: "/",
	})
	require.NoError(t, err)

	latest, err := s.LatestMetric(ctx, MetricCPU, "")
	require.NoError(t, err)
	require.Equal(t, 42.5, latest.Value)

	disk, err := s.LatestMetric(ctx, MetricDisk, "/")
	require.NoError(t, err)
	require.Equal(t, 88.0, disk.Value)

	_, err = s.LatestMetric(ctx, MetricSwap, "")
	require.ErrorIs(t, err, ErrNotFound)

	history, err := s.MetricHistory(ctx, MetricCPU, "", time.Now().Add(-time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
}

func TestMetricBatchAndRetention(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	old := time.Now().UTC().Add(-48 * time.Hour)
	samples := []MetricSample{
		{Type: MetricCPU, Value: 10, Unit: "percent", Timestamp: old},
		{Type: MetricCPU, Value: 20, Unit: "percent"},
		{Type: MetricMemory, Value: 30, Unit: "percent"},
	}
	require.NoError(t, s.InsertMetrics(ctx, samples))

	deleted, err := s.DeleteMetricsBefore(ctx, time.Now().UTC().Add(-24*time.Hour))
	require.NoError(t, err)
	require.Equal(t, int64(1), deleted)
}

func TestAlertLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	alert := &Alert{
		Name:       "high-cpu",
		MetricType: MetricCPU,
		Operator:   ">",
		Threshold:  90,
		Severity:   "critical",
		Enabled:    true,
	}
	require.NoError(t, s.CreateAlert(ctx, alert))
	require.NotEmpty(t, alert.ID)

	// Duplicate names are rejected.
	require.Error(t, s.CreateAlert(ctx, &Alert{
		Name: "high-cpu", MetricType: MetricCPU, Operator: ">", Threshold: 1,
	}))

	enabled, err := s.ListEnabledAlerts(ctx)
	require.NoError(t, err)
	require.Len(t, enabled, 1)

	inst := &AlertInstance{AlertID: alert.ID, Value: 95, Message: "cpu at 95%"}
	require.NoError(t, s.CreateAlertInstance(ctx, inst))

	recent, err := s.RecentInstanceExists(ctx, alert.ID, time.Now().UTC().Add(-time.Minute))
	require.NoError(t, err)
	require.True(t, recent)

	open, err := s.OpenInstances(ctx, alert.ID)
	require.NoError(t, err)
	require.Len(t, open, 1)

	require.NoError(t, s.AcknowledgeInstance(ctx, inst.ID))
	// Acknowledging twice fails, the instance is no longer firing.
	require.ErrorIs(t, s.AcknowledgeInstance(ctx, inst.ID), ErrNotFound)

	resolved, err := s.ResolveInstances(ctx, alert.ID)
	require.NoError(t, err)
	require.Equal(t, int64(1), resolved)

	openCount, err := s.CountOpenInstances(ctx)
	require.NoError(t, err)
	require.Zero(t, openCount)

	// Cascade delete removes instances with the alert.
	require.NoError(t, s.DeleteAlert(ctx, alert.ID))
	all, err := s.ListAlertInstances(ctx, "", 10)
	require.NoError(t, err)
	require.Empty(t, all)
}

func TestServiceStateUpsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	pid := 321
	require.NoError(t, s.UpsertServiceState(ctx, &ServiceState{
		Name: "nginx", Status: "running", PID: &pid,
	}))
	require.NoError(t, s.UpsertServiceState(ctx, &ServiceState{
		Name: "nginx", Status: "stopped",
	}))

	states, err := s.ListServiceStates(ctx)
	require.NoError(t, err)
	require.Len(t, states, 1)
	require.Equal(t, "stopped", states[0].Status)
}

func TestLogDedup(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ts := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	entry := &SystemLog{
		Timestamp: ts, Level: "error", Source: "auth",
		Process: "sshd", Message: "Failed password for root",
	}
	inserted, err := s.InsertLog(ctx, entry)
	require.NoError(t, err)
	require.True(t, inserted)

	dup, err := s.InsertLog(ctx, &SystemLog{
		Timestamp: ts, Level: "error", Source: "auth",
		Process: "sshd", Message: "Failed password for root",
	})
	require.NoError(t, err)
	require.False(t, dup)

	logs, err := s.ListLogs(ctx, "error", "", 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
}

func TestFirewallRuleCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rule := &FirewallRule{
		Name: "allow-ssh", Chain: "input", Protocol: "tcp",
		DstPort: "22", Action: "accept", Priority: 10, Enabled: true,
	}
	require.NoError(t, s.CreateFirewallRule(ctx, rule))

	rule.Action = "drop"
	require.NoError(t, s.UpdateFirewallRule(ctx, rule))

	got, err := s.GetFirewallRule(ctx, rule.ID)
	require.NoError(t, err)
	require.Equal(t, "drop", got.Action)

	disabled := &FirewallRule{
		Name: "blocked", Chain: "input", Action: "drop", Enabled: false,
	}
	require.NoError(t, s.CreateFirewallRule(ctx, disabled))

	enabled, err := s.ListEnabledFirewallRules(ctx)
	require.NoError(t, err)
	require.Len(t, enabled, 1)

	require.NoError(t, s.DeleteFirewallRule(ctx, rule.ID))
	require.ErrorIs(t, s.DeleteFirewallRule(ctx, rule.ID), ErrNotFound)
}

func TestPortForwardUniqueness(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	pf := &PortForward{
		Name: "web", Protocol: "tcp", ExternalPort: 8080,
		DestIP: "10.0.0.5", DestPort: 80, Enabled: true,
	}
	require.NoError(t, s.CreatePortForward(ctx, pf))

	err := s.CreatePortForward(ctx, &PortForward{
		Name: "other", Protocol: "tcp", ExternalPort: 8080,
		DestIP: "10.0.0.6", DestPort: 80,
	})
	require.Error(t, err)

	// Same port on udp is fine.
	require.NoError(t, s.CreatePortForward(ctx, &PortForward{
		Name: "dns", Protocol: "udp", ExternalPort: 8080,
		DestIP: "10.0.0.7", DestPort: 53,
	}))
}

func TestTunnelStatusTransitions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tun := &VPNTunnel{
		Name: "office", Type: "ipsec",
		LocalEndpoint: "203.0.113.1", RemoteEndpoint: "198.51.100.2",
		LocalSubnet: "10.1.0.0/24", RemoteSubnet: "10.2.0.0/24",
		PSK: "secret", Enabled: true,
	}
	require.NoError(t, s.CreateTunnel(ctx, tun))
	require.Equal(t, TunnelDisconnected, tun.Status)

	require.NoError(t, s.UpdateTunnelStatus(ctx, tun.ID, TunnelConnected))
	got, err := s.GetTunnel(ctx, tun.ID)
	require.NoError(t, err)
	require.Equal(t, TunnelConnected, got.Status)
	require.NotNil(t, got.StatusChanged)
}

func TestUserAndActivity(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	count, err := s.CountUsers(ctx)
	require.NoError(t, err)
	require.Zero(t, count)

	u := &User{Username: "admin", PasswordHash: "x", Role: "admin"}
	require.NoError(t, s.CreateUser(ctx, u))

	got, err := s.GetUserByUsername(ctx, "admin")
	require.NoError(t, err)
	require.Nil(t, got.LastLoginAt)

	require.NoError(t, s.TouchUserLogin(ctx, u.ID))
	got, err = s.GetUserByUsername(ctx, "admin")
	require.NoError(t, err)
	require.NotNil(t, got.LastLoginAt)

	require.NoError(t, s.InsertActivity(ctx, &UserActivity{
		Username: "admin", Action: "login", ClientIP: "192.0.2.10",
	}))
	activity, err := s.ListActivity(ctx, 10)
	require.NoError(t, err)
	require.Len(t, activity, 1)
}

func TestCertificateExpiry(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	soon := time.Now().UTC().Add(10 * 24 * time.Hour)
	later := time.Now().UTC().Add(80 * 24 * time.Hour)

	require.NoError(t, s.UpsertCertificate(ctx, &SSLCertificate{
		Domain: "soon.example.com", ExpiresAt: &soon, AutoRenew: true,
	}))
	require.NoError(t, s.UpsertCertificate(ctx, &SSLCertificate{
		Domain: "later.example.com", ExpiresAt: &later, AutoRenew: true,
	}))

	expiring, err := s.ListCertificatesExpiringBefore(ctx, time.Now().UTC().Add(30*24*time.Hour))
	require.NoError(t, err)
	require.Len(t, expiring, 1)
	require.Equal(t, "soon.example.com", expiring[0].Domain)

	// Upsert refreshes in place.
	require.NoError(t, s.UpsertCertificate(ctx, &SSLCertificate{
		Domain: "soon.example.com", ExpiresAt: &later, AutoRenew: true,
	}))
	certs, err := s.ListCertificates(ctx)
	require.NoError(t, err)
	require.Len(t, certs, 2)
}
