package scheduler

import (
	"context"
	"time"
)

// Standard task IDs used by the daemon.
const (
	TaskCollectMetrics = "collect-metrics"
	TaskCollectLogs    = "collect-logs"
	TaskEvaluateAlerts = "evaluate-alerts"
	TaskServiceStatus  = "service-status"
	TaskCleanup        = "cleanup-old-data"
	TaskHealthCheck    = "system-health-check"
	TaskCertRenewal    = "certificate-renewal"
	TaskVPNRefresh     = "vpn-status-refresh"
	TaskRouteHealth    = "route-health"
)

// NewMetricsCollectionTask samples system metrics at the given interval.
func NewMetricsCollectionTask(fn TaskFunc, interval time.Duration) *Task {
	return &Task{
		ID:          TaskCollectMetrics,
		Name:        "Metrics Collection",
		Description: "Sample CPU, memory, disk, network and connection metrics",
		Schedule:    Every(interval),
		Enabled:     true,
		RunOnStart:  true,
		Timeout:     30 * time.Second,
		MaxRetries:  2,
		RetryDelay:  5 * time.Second,
		Func:        fn,
	}
}

// NewLogCollectionTask tails the system log files.
func NewLogCollectionTask(fn TaskFunc, interval time.Duration) *Task {
	return &Task{
		ID:          TaskCollectLogs,
		Name:        "Log Collection",
		Description: "Aggregate entries from the host syslog files",
		Schedule:    Every(interval),
		Enabled:     true,
		RunOnStart:  true,
		Timeout:     time.Minute,
		Func:        fn,
	}
}

// NewAlertEvaluationTask runs the alert engine. It follows the metric
// collection interval so fresh samples are evaluated promptly.
func NewAlertEvaluationTask(fn TaskFunc, interval time.Duration) *Task {
	return &Task{
		ID:          TaskEvaluateAlerts,
		Name:        "Alert Evaluation",
		Description: "Evaluate alert conditions against the latest samples",
		Schedule:    Every(interval),
		Enabled:     true,
		Timeout:     30 * time.Second,
		Func:        fn,
	}
}

// NewServiceStatusTask polls the monitored systemd units.
func NewServiceStatusTask(fn TaskFunc, interval time.Duration) *Task {
	return &Task{
		ID:          TaskServiceStatus,
		Name:        "Service Status",
		Description: "Poll monitored systemd units",
		Schedule:    Every(interval),
		Enabled:     true,
		RunOnStart:  true,
		Timeout:     time.Minute,
		Func:        fn,
	}
}

// NewCleanupTask prunes expired rows nightly at the given hour.
func NewCleanupTask(fn TaskFunc, hour int) *Task {
	return &Task{
		ID:          TaskCleanup,
		Name:        "Data Cleanup",
		Description: "Delete metrics, logs and snapshots past retention",
		Schedule:    Daily(hour, 0),
		Enabled:     true,
		Timeout:     10 * time.Minute,
		MaxRetries:  1,
		RetryDelay:  time.Minute,
		Func:        fn,
	}
}

// NewHealthCheckTask runs the periodic system health check.
func NewHealthCheckTask(fn TaskFunc, interval time.Duration) *Task {
	return &Task{
		ID:          TaskHealthCheck,
		Name:        "Health Check",
		Description: "Check resource thresholds and essential services",
		Schedule:    Every(interval),
		Enabled:     true,
		RunOnStart:  true,
		Timeout:     time.Minute,
		Func:        fn,
	}
}

// NewCertificateRenewalTask renews expiring certificates nightly. Renewal
// shells out to certbot, so transient ACME failures get a few retries.
func NewCertificateRenewalTask(fn TaskFunc) *Task {
	return &Task{
		ID:          TaskCertRenewal,
		Name:        "Certificate Renewal",
		Description: "Renew TLS certificates nearing expiry",
		Schedule:    Daily(4, 0),
		Enabled:     true,
		Timeout:     15 * time.Minute,
		MaxRetries:  3,
		RetryDelay:  2 * time.Minute,
		Func:        fn,
	}
}

// NewVPNStatusTask refreshes tunnel status from the IPSec and WireGuard
// control planes.
func NewVPNStatusTask(fn TaskFunc, interval time.Duration) *Task {
	return &Task{
		ID:          TaskVPNRefresh,
		Name:        "VPN Status Refresh",
		Description: "Refresh tunnel status from ipsec and wireguard",
		Schedule:    Every(interval),
		Enabled:     true,
		RunOnStart:  true,
		Timeout:     time.Minute,
		Func:        fn,
	}
}

// NewRouteHealthTask pings the monitor address of each managed route.
func NewRouteHealthTask(fn TaskFunc, interval time.Duration) *Task {
	return &Task{
		ID:          TaskRouteHealth,
		Name:        "Route Health",
		Description: "Probe the monitor address of managed static routes",
		Schedule:    Every(interval),
		Enabled:     true,
		Timeout:     time.Minute,
		Func:        fn,
	}
}

// noop is used when a subsystem is disabled but its task should stay
// visible in the status list.
func noop(context.Context) error { return nil }

// NewDisabledTask registers a placeholder for a feature that is switched
// off in the config.
func NewDisabledTask(id, name, description string) *Task {
	return &Task{
		ID:          id,
		Name:        name,
		Description: description,
		Schedule:    Every(24 * time.Hour),
		Enabled:     false,
		Func:        noop,
	}
}
