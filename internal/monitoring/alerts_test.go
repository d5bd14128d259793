package monitoring

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"meridian-router.dev/meridian/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func TestEvaluateCondition(t *testing.T) {
	tests := []struct {
		value     float64
		operator  string
		threshold float64
		want      bool
	}{
		{95, ">", 90, true},
		{85, ">", 90, false},
		{10, "<", 20, true},
		{90, ">=", 90, true},
		{90, "<=", 90, true},
		{5, "==", 5, true},
		{5, "!=", 5, false},
		{5, "!=", 6, true},
	}
	for _, tt := range tests {
		got, err := EvaluateCondition(tt.value, tt.operator, tt.threshold)
		require.NoError(t, err)
		require.Equal(t, tt.want, got, "%v %s %v", tt.value, tt.operator, tt.threshold)
	}

	_, err := EvaluateCondition(1, "~", 2)
	require.Error(t, err)
}

func TestAlertFiresOnce(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	engine := NewAlertEngine(st, nil, nil)

	alert := &store.Alert{
		Name: "high-cpu", MetricType: store.MetricCPU,
		Operator: ">", Threshold: 90, Severity: "critical",
		Enabled: true, CheckIntervalSec: 300,
	}
	require.NoError(t, st.CreateAlert(ctx, alert))

	require.NoError(t, st.InsertMetric(ctx, &store.MetricSample{
		Type: store.MetricCPU, Value: 97.5, Unit: "percent",
	}))

	require.NoError(t, engine.EvaluateAll(ctx))

	instances, err := st.ListAlertInstances(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, instances, 1)
	require.Equal(t, store.InstanceFiring, instances[0].Status)
	require.Equal(t, 97.5, instances[0].Value)

	// A second round inside the check window must not fire again.
	require.NoError(t, engine.EvaluateAll(ctx))
	instances, err = st.ListAlertInstances(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, instances, 1)

	updated, err := st.GetAlert(ctx, alert.ID)
	require.NoError(t, err)
	require.NotNil(t, updated.LastChecked)
	require.NotNil(t, updated.LastTriggered)
}

func TestAlertAutoResolves(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	engine := NewAlertEngine(st, nil, nil)

	alert := &store.Alert{
		Name: "mem-high", MetricType: store.MetricMemory,
		Operator: ">=", Threshold: 80, Severity: "warning",
		Enabled: true,
	}
	require.NoError(t, st.CreateAlert(ctx, alert))

	require.NoError(t, st.InsertMetric(ctx, &store.MetricSample{
		Type: store.MetricMemory, Value: 91, Unit: "percent",
	}))
	require.NoError(t, engine.EvaluateAll(ctx))

	open, err := st.CountOpenInstances(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, open)

	// Condition clears, the open instance resolves.
	require.NoError(t, st.InsertMetric(ctx, &store.MetricSample{
		Type: store.MetricMemory, Value: 42, Unit: "percent",
	}))
	require.NoError(t, engine.EvaluateAll(ctx))

	open, err = st.CountOpenInstances(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, open)

	instances, err := st.ListAlertInstances(ctx, store.InstanceResolved, 10)
	require.NoError(t, err)
	require.Len(t, instances, 1)
	require.NotNil(t, instances[0].ResolvedAt)
}

func TestAlertWithoutDataIsSkipped(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	engine := NewAlertEngine(st, nil, nil)

	alert := &store.Alert{
		Name: "no-data", MetricType: store.MetricTemperature,
		Operator: ">", Threshold: 80, Enabled: true, Severity: "warning",
	}
	require.NoError(t, st.CreateAlert(ctx, alert))

	require.NoError(t, engine.EvaluateAll(ctx))

	instances, err := st.ListAlertInstances(ctx, "", 10)
	require.NoError(t, err)
	require.Empty(t, instances)

	updated, err := st.GetAlert(ctx, alert.ID)
	require.NoError(t, err)
	require.NotNil(t, updated.LastChecked)
	require.Nil(t, updated.LastTriggered)
}

func TestAlertSourceFilter(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	engine := NewAlertEngine(st, nil, nil)

	alert := &store.Alert{
		Name: "root-disk", MetricType: store.MetricDisk, Source: "/",
		Operator: ">", Threshold: 85, Enabled: true, Severity: "critical",
	}
	require.NoError(t, st.CreateAlert(ctx, alert))

	// Breaching sample on a different mountpoint must not fire.
	require.NoError(t, st.InsertMetric(ctx, &store.MetricSample{
		Type: store.MetricDisk, Source: "/var", Value: 99, Unit: "percent",
	}))
	require.NoError(t, st.InsertMetric(ctx, &store.MetricSample{
		Type: store.MetricDisk, Source: "/", Value: 40, Unit: "percent",
	}))
	require.NoError(t, engine.EvaluateAll(ctx))

	instances, err := st.ListAlertInstances(ctx, "", 10)
	require.NoError(t, err)
	require.Empty(t, instances)
}

func TestSplitRecipients(t *testing.T) {
	require.Nil(t, splitRecipients(""))
	require.Equal(t, []string{"a@x.com"}, splitRecipients("a@x.com"))
	require.Equal(t, []string{"a@x.com", "b@y.com"}, splitRecipients(" a@x.com , b@y.com ,"))
}
