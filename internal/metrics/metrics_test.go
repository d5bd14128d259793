package metrics

import (
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestGetIsSingleton(t *testing.T) {
	require.Same(t, Get(), Get())
}

func TestRecordTaskRun(t *testing.T) {
	r := Get()

	r.RecordTaskRun("collect-metrics", nil, 0, 0.5)
	r.RecordTaskRun("collect-metrics", errors.New("boom"), 2, 1.2)

	require.Equal(t, 1.0, testutil.ToFloat64(r.TaskRuns.WithLabelValues("collect-metrics", "success")))
	require.Equal(t, 1.0, testutil.ToFloat64(r.TaskRuns.WithLabelValues("collect-metrics", "error")))
	require.Equal(t, 2.0, testutil.ToFloat64(r.TaskRetries.WithLabelValues("collect-metrics")))
}

func TestServiceAndTunnelGauges(t *testing.T) {
	r := Get()

	r.SetServiceUp("nginx", true)
	require.Equal(t, 1.0, testutil.ToFloat64(r.ServiceUp.WithLabelValues("nginx")))
	r.SetServiceUp("nginx", false)
	require.Equal(t, 0.0, testutil.ToFloat64(r.ServiceUp.WithLabelValues("nginx")))

	r.SetTunnelUp("office", "ipsec", true)
	require.Equal(t, 1.0, testutil.ToFloat64(r.TunnelUp.WithLabelValues("office", "ipsec")))
}

func TestHandlerServesScrape(t *testing.T) {
	Get().CPUPercent.Set(42)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	require.Equal(t, 200, rec.Code)
	require.Contains(t, rec.Body.String(), "router_cpu_percent 42")
}
