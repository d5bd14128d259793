package api

import (
	"errors"
	"net/http"
	"time"

	"meridian-router.dev/meridian/internal/clock"
	"meridian-router.dev/meridian/internal/store"
)

// handleLatestMetrics returns the newest sample for each dashboard metric.
func (s *Server) handleLatestMetrics(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	out := map[string]any{}

	for _, metricType := range []string{
		store.MetricCPU, store.MetricMemory, store.MetricSwap,
		store.MetricLoad, store.MetricConnections, store.MetricProcesses,
	} {
		sample, err := s.store.LatestMetric(ctx, metricType, "")
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error())
			return
		}
		out[metricType] = sample
	}

	disks := map[string]*store.MetricSample{}
	mounts, err := s.store.MetricSources(ctx, store.MetricDisk)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	for _, mount := range mounts {
		if sample, err := s.store.LatestMetric(ctx, store.MetricDisk, mount); err == nil {
			disks[mount] = sample
		}
	}
	out["disks"] = disks

	WriteJSON(w, http.StatusOK, out)
}

func (s *Server) handleMetricHistory(w http.ResponseWriter, r *http.Request) {
	metricType := r.URL.Query().Get("type")
	if metricType == "" {
		WriteError(w, http.StatusBadRequest, "type parameter is required")
		return
	}
	source := r.URL.Query().Get("source")
	hours := queryInt(r, "hours", 24)
	limit := queryInt(r, "limit", 1000)

	since := clock.Now().UTC().Add(-time.Duration(hours) * time.Hour)
	samples, err := s.store.MetricHistory(r.Context(), metricType, source, since, limit)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if samples == nil {
		samples = []store.MetricSample{}
	}
	WriteJSON(w, http.StatusOK, samples)
}

func (s *Server) handleServices(w http.ResponseWriter, r *http.Request) {
	states, err := s.store.ListServiceStates(r.Context())
	if err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if states == nil {
		states = []store.ServiceState{}
	}
	WriteJSON(w, http.StatusOK, states)
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	level := r.URL.Query().Get("level")
	source := r.URL.Query().Get("source")
	limit := queryInt(r, "limit", 100)

	logs, err := s.store.ListLogs(r.Context(), level, source, limit)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if logs == nil {
		logs = []store.SystemLog{}
	}
	WriteJSON(w, http.StatusOK, logs)
}

func (s *Server) handleConnections(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 200)
	conns, err := s.store.ListConnections(r.Context(), limit)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if conns == nil {
		conns = []store.ConnectionSnapshot{}
	}
	WriteJSON(w, http.StatusOK, conns)
}

// handleDashboard aggregates the landing-page snapshot in one request.
func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	out := map[string]any{
		"status":  s.statusSnapshot(),
		"metrics": map[string]any{},
	}

	metricsOut := map[string]any{}
	for _, metricType := range []string{
		store.MetricCPU, store.MetricMemory, store.MetricSwap,
		store.MetricLoad, store.MetricConnections,
	} {
		if sample, err := s.store.LatestMetric(ctx, metricType, ""); err == nil {
			metricsOut[metricType] = sample
		}
	}
	out["metrics"] = metricsOut

	if states, err := s.store.ListServiceStates(ctx); err == nil {
		out["services"] = states
	}
	if ifaces, err := s.store.ListInterfaces(ctx); err == nil {
		out["interfaces"] = ifaces
	}
	if tunnels, err := s.store.ListTunnels(ctx); err == nil {
		out["tunnels"] = tunnels
	}
	if instances, err := s.store.ListAlertInstances(ctx, store.InstanceFiring, 10); err == nil {
		out["firing_alerts"] = instances
	}
	if report, err := s.health.Run(ctx); err == nil {
		out["health"] = report
	}

	WriteJSON(w, http.StatusOK, out)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	report, err := s.health.Run(r.Context())
	if err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, report)
}
