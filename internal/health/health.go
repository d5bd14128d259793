// Package health evaluates overall system health from the collected
// metrics and service states.
package health

import (
	"context"
	"errors"
	"fmt"
	"time"

	"meridian-router.dev/meridian/internal/clock"
	"meridian-router.dev/meridian/internal/config"
	"meridian-router.dev/meridian/internal/logging"
	"meridian-router.dev/meridian/internal/store"
)

// Statuses, ordered by severity.
const (
	StatusHealthy  = "healthy"
	StatusWarning  = "warning"
	StatusCritical = "critical"
)

// Check is one evaluated health aspect.
type Check struct {
	Name    string  `json:"name"`
	Status  string  `json:"status"`
	Message string  `json:"message,omitempty"`
	Value   float64 `json:"value,omitempty"`
}

// Report is the aggregate health snapshot.
type Report struct {
	Status     string    `json:"status"`
	Checks     []Check   `json:"checks"`
	OpenAlerts int       `json:"open_alerts"`
	CheckedAt  time.Time `json:"checked_at"`
}

// Resource thresholds.
const (
	cpuWarn  = 70.0
	cpuCrit  = 90.0
	memWarn  = 80.0
	memCrit  = 90.0
	diskWarn = 85.0
	diskCrit = 95.0
)

// Checker builds health reports from the store.
type Checker struct {
	store  *store.Store
	cfg    *config.MonitoringConfig
	logger *logging.Logger
}

// NewChecker creates a health checker.
func NewChecker(st *store.Store, cfg *config.MonitoringConfig, logger *logging.Logger) *Checker {
	if logger == nil {
		logger = logging.Default().WithComponent("health")
	}
	return &Checker{store: st, cfg: cfg, logger: logger}
}

// Run evaluates all checks and returns the report. Degraded states are
// logged so they land in the audit trail even when nobody polls the API.
func (c *Checker) Run(ctx context.Context) (*Report, error) {
	report := &Report{
		Status:    StatusHealthy,
		CheckedAt: clock.Now().UTC(),
	}

	report.add(c.resourceCheck(ctx, "cpu", store.MetricCPU, cpuWarn, cpuCrit))
	report.add(c.resourceCheck(ctx, "memory", store.MetricMemory, memWarn, memCrit))
	report.add(c.diskChecks(ctx)...)
	report.add(c.serviceChecks(ctx)...)

	if count, err := c.store.CountOpenInstances(ctx); err == nil {
		report.OpenAlerts = count
	}

	if report.Status != StatusHealthy {
		c.logger.Warn("system health degraded", "status", report.Status)
	}
	return report, nil
}

func (r *Report) add(checks ...Check) {
	for _, check := range checks {
		r.Checks = append(r.Checks, check)
		r.Status = worse(r.Status, check.Status)
	}
}

func worse(a, b string) string {
	rank := map[string]int{StatusHealthy: 0, StatusWarning: 1, StatusCritical: 2}
	if rank[b] > rank[a] {
		return b
	}
	return a
}

func (c *Checker) resourceCheck(ctx context.Context, name, metricType string, warn, crit float64) Check {
	sample, err := c.store.LatestMetric(ctx, metricType, "")
	if errors.Is(err, store.ErrNotFound) {
		return Check{Name: name, Status: StatusHealthy, Message: "no data"}
	}
	if err != nil {
		return Check{Name: name, Status: StatusWarning, Message: err.Error()}
	}
	return thresholdCheck(name, sample.Value, warn, crit)
}

func (c *Checker) diskChecks(ctx context.Context) []Check {
	mounts, err := c.store.MetricSources(ctx, store.MetricDisk)
	if err != nil {
		return []Check{{Name: "disk", Status: StatusWarning, Message: err.Error()}}
	}
	var checks []Check
	for _, mount := range mounts {
		sample, err := c.store.LatestMetric(ctx, store.MetricDisk, mount)
		if err != nil {
			continue
		}
		checks = append(checks, thresholdCheck("disk "+mount, sample.Value, diskWarn, diskCrit))
	}
	return checks
}

func (c *Checker) serviceChecks(ctx context.Context) []Check {
	states, err := c.store.ListServiceStates(ctx)
	if err != nil {
		return []Check{{Name: "services", Status: StatusWarning, Message: err.Error()}}
	}
	var checks []Check
	for _, s := range states {
		check := Check{Name: "service " + s.Name, Status: StatusHealthy, Message: s.Status}
		switch s.Status {
		case "failed":
			check.Status = StatusCritical
		case "stopped", "unknown":
			check.Status = StatusWarning
		}
		checks = append(checks, check)
	}
	return checks
}

func thresholdCheck(name string, value, warn, crit float64) Check {
	check := Check{Name: name, Status: StatusHealthy, Value: value}
	switch {
	case value >= crit:
		check.Status = StatusCritical
		check.Message = fmt.Sprintf("%.1f%% exceeds critical threshold %.0f%%", value, crit)
	case value >= warn:
		check.Status = StatusWarning
		check.Message = fmt.Sprintf("%.1f%% exceeds warning threshold %.0f%%", value, warn)
	}
	return check
}
