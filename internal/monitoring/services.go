package monitoring

import (
	"context"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v4/process"

	"meridian-router.dev/meridian/internal/config"
	"meridian-router.dev/meridian/internal/logging"
	"meridian-router.dev/meridian/internal/metrics"
	"meridian-router.dev/meridian/internal/store"
)

// runSystemctl is swappable in tests.
var runSystemctl = func(ctx context.Context, args ...string) (string, error) {
	out, err := exec.CommandContext(ctx, "systemctl", args...).CombinedOutput()
	return strings.TrimSpace(string(out)), err
}

// ServiceMonitor polls systemd units and records their status.
type ServiceMonitor struct {
	store  *store.Store
	cfg    *config.MonitoringConfig
	logger *logging.Logger
}

// NewServiceMonitor creates a service monitor for the configured unit list.
func NewServiceMonitor(st *store.Store, cfg *config.MonitoringConfig, logger *logging.Logger) *ServiceMonitor {
	if logger == nil {
		logger = logging.Default().WithComponent("services")
	}
	return &ServiceMonitor{store: st, cfg: cfg, logger: logger}
}

// CollectAll polls every configured unit and upserts its status row.
func (m *ServiceMonitor) CollectAll(ctx context.Context) error {
	for _, name := range m.cfg.Services {
		state := m.Check(ctx, name)
		metrics.Get().SetServiceUp(name, state.Status == "running")
		if err := m.store.UpsertServiceState(ctx, state); err != nil {
			m.logger.Warn("failed to persist service state", "service", name, "error", err)
		}
	}
	return nil
}

// Check polls one unit. systemctl failures map to status "unknown" so a
// missing systemd (containers, tests) degrades instead of erroring.
func (m *ServiceMonitor) Check(ctx context.Context, name string) *store.ServiceState {
	state := &store.ServiceState{Name: name, Status: "unknown"}

	active, err := runSystemctl(ctx, "is-active", name)
	if err != nil && active == "" {
		return state
	}
	state.Status = mapUnitState(active)

	show, err := runSystemctl(ctx, "show", name, "--property=MainPID,ActiveEnterTimestamp")
	if err != nil {
		return state
	}
	props := parseShowOutput(show)

	if pidStr := props["MainPID"]; pidStr != "" && pidStr != "0" {
		if pid, err := strconv.Atoi(pidStr); err == nil {
			state.PID = &pid
			m.attachProcessStats(ctx, state, int32(pid))
		}
	}
	if ts := props["ActiveEnterTimestamp"]; ts != "" {
		if t, err := parseSystemdTimestamp(ts); err == nil {
			state.StartedAt = &t
		}
	}

	return state
}

func (m *ServiceMonitor) attachProcessStats(ctx context.Context, state *store.ServiceState, pid int32) {
	p, err := process.NewProcessWithContext(ctx, pid)
	if err != nil {
		return
	}
	if cpuPct, err := p.CPUPercentWithContext(ctx); err == nil {
		state.CPUPercent = round2(cpuPct)
	}
	if memInfo, err := p.MemoryInfoWithContext(ctx); err == nil && memInfo != nil {
		state.MemoryMB = round2(float64(memInfo.RSS) / 1024 / 1024)
	}
}

// mapUnitState maps systemctl is-active output to our status values.
func mapUnitState(active string) string {
	switch active {
	case "active", "activating", "reloading":
		return "running"
	case "inactive", "deactivating":
		return "stopped"
	case "failed":
		return "failed"
	default:
		return "unknown"
	}
}

// parseShowOutput parses `systemctl show` key=value lines.
func parseShowOutput(out string) map[string]string {
	props := make(map[string]string)
	for _, line := range strings.Split(out, "\n") {
		key, value, found := strings.Cut(strings.TrimSpace(line), "=")
		if found {
			props[key] = value
		}
	}
	return props
}

// parseSystemdTimestamp parses systemd's "Day YYYY-MM-DD HH:MM:SS TZ" form.
func parseSystemdTimestamp(s string) (time.Time, error) {
	return time.Parse("Mon 2006-01-02 15:04:05 MST", s)
}
