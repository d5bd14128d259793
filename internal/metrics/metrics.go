// Package metrics exposes the Prometheus registry for the router manager.
package metrics

import (
	"net/http"
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once     sync.Once
	registry *Registry
)

// Registry holds all exported metrics.
type Registry struct {
	// System resources, mirrored from the newest collector samples.
	CPUPercent    prometheus.Gauge
	MemoryPercent prometheus.Gauge
	SwapPercent   prometheus.Gauge
	DiskPercent   *prometheus.GaugeVec
	LoadAverage   *prometheus.GaugeVec
	Connections   prometheus.Gauge

	// Service supervision
	ServiceUp *prometheus.GaugeVec

	// Alerting
	AlertsFiring        prometheus.Gauge
	AlertsEvaluated     prometheus.Counter
	AlertsFired         *prometheus.CounterVec
	NotificationsSent   *prometheus.CounterVec
	NotificationsFailed *prometheus.CounterVec

	// Scheduler
	TaskRuns     *prometheus.CounterVec
	TaskRetries  *prometheus.CounterVec
	TaskDuration *prometheus.HistogramVec

	// Config deployments (firewall, vpn, proxy)
	Deployments *prometheus.CounterVec

	// VPN
	TunnelUp *prometheus.GaugeVec

	// API
	APIRequests *prometheus.CounterVec
	APILatency  *prometheus.HistogramVec
}

// Get returns the global metrics registry, creating it if necessary.
func Get() *Registry {
	once.Do(func() {
		registry = newRegistry()
	})
	return registry
}

// Handler serves the Prometheus scrape endpoint.
func Handler() http.Handler {
	Get()
	return promhttp.Handler()
}

func newRegistry() *Registry {
	r := &Registry{}

	r.CPUPercent = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "router_cpu_percent",
		Help: "System wide CPU utilization",
	})

	r.MemoryPercent = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "router_memory_percent",
		Help: "Memory utilization",
	})

	r.SwapPercent = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "router_swap_percent",
		Help: "Swap utilization",
	})

	r.DiskPercent = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "router_disk_percent",
		Help: "Disk usage per mountpoint",
	}, []string{"mountpoint"})

	r.LoadAverage = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "router_load_average",
		Help: "Load average over 1, 5 and 15 minutes",
	}, []string{"window"})

	r.Connections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "router_connections",
		Help: "Active network connections",
	})

	r.ServiceUp = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "router_service_up",
		Help: "Whether a monitored systemd unit is running (1) or not (0)",
	}, []string{"service"})

	r.AlertsFiring = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "router_alerts_firing",
		Help: "Currently open alert instances",
	})

	r.AlertsEvaluated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "router_alerts_evaluated_total",
		Help: "Total alert rule evaluations",
	})

	r.AlertsFired = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "router_alerts_fired_total",
		Help: "Total alert instances fired",
	}, []string{"alert", "severity"})

	r.NotificationsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "router_notifications_sent_total",
		Help: "Notifications delivered per channel",
	}, []string{"channel"})

	r.NotificationsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "router_notifications_failed_total",
		Help: "Notification delivery failures per channel",
	}, []string{"channel"})

	r.TaskRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "router_task_runs_total",
		Help: "Scheduled task runs by outcome",
	}, []string{"task", "status"})

	r.TaskRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "router_task_retries_total",
		Help: "Scheduled task retry attempts",
	}, []string{"task"})

	r.TaskDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "router_task_duration_seconds",
		Help:    "Scheduled task run duration",
		Buckets: prometheus.DefBuckets,
	}, []string{"task"})

	r.Deployments = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "router_deployments_total",
		Help: "Configuration deployments by target and outcome",
	}, []string{"target", "status"})

	r.TunnelUp = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "router_vpn_tunnel_up",
		Help: "Whether a VPN tunnel is connected (1) or not (0)",
	}, []string{"tunnel", "type"})

	r.APIRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "router_api_requests_total",
		Help: "Total API requests",
	}, []string{"method", "path", "status"})

	r.APILatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "router_api_request_duration_seconds",
		Help:    "API request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	return r
}

// RecordAPIRequest records one handled API request.
func (r *Registry) RecordAPIRequest(method, path string, status int, duration float64) {
	r.APIRequests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	r.APILatency.WithLabelValues(method, path).Observe(duration)
}

// RecordTaskRun records a scheduled task run.
func (r *Registry) RecordTaskRun(task string, err error, retries int, seconds float64) {
	status := "success"
	if err != nil {
		status = "error"
	}
	r.TaskRuns.WithLabelValues(task, status).Inc()
	if retries > 0 {
		r.TaskRetries.WithLabelValues(task).Add(float64(retries))
	}
	r.TaskDuration.WithLabelValues(task).Observe(seconds)
}

// RecordDeployment records a configuration deployment attempt.
func (r *Registry) RecordDeployment(target, status string) {
	r.Deployments.WithLabelValues(target, status).Inc()
}

// SetServiceUp mirrors a unit's running state.
func (r *Registry) SetServiceUp(service string, running bool) {
	r.ServiceUp.WithLabelValues(service).Set(boolToFloat(running))
}

// SetTunnelUp mirrors a tunnel's connection state.
func (r *Registry) SetTunnelUp(tunnel, tunnelType string, connected bool) {
	r.TunnelUp.WithLabelValues(tunnel, tunnelType).Set(boolToFloat(connected))
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
