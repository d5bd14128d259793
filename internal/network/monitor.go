package network

import (
	"context"
	"fmt"
	"sync"
	"time"

	probing "github.com/prometheus-community/pro-bing"

	"meridian-router.dev/meridian/internal/logging"
	"meridian-router.dev/meridian/internal/store"
)

// CheckPingFunc is swappable in tests.
var CheckPingFunc = func(ctx context.Context, ip string) error {
	pinger, err := probing.NewPinger(ip)
	if err != nil {
		return fmt.Errorf("failed to create pinger: %w", err)
	}
	pinger.Count = 1
	pinger.Timeout = 2 * time.Second
	pinger.SetPrivileged(false)

	if err := pinger.RunWithContext(ctx); err != nil {
		return err
	}
	if pinger.Statistics().PacketsRecv == 0 {
		return fmt.Errorf("packet loss")
	}
	return nil
}

// RouteHealth is one probe result.
type RouteHealth struct {
	RouteID     string `json:"route_id"`
	Destination string `json:"destination"`
	Target      string `json:"target"`
	Reachable   bool   `json:"reachable"`
	Error       string `json:"error,omitempty"`
}

// RouteMonitor pings the monitor address of each enabled route and logs
// reachability transitions.
type RouteMonitor struct {
	store  *store.Store
	logger *logging.Logger

	mu        sync.Mutex
	reachable map[string]bool // route id -> last probe result
}

// NewRouteMonitor creates a route monitor.
func NewRouteMonitor(st *store.Store, logger *logging.Logger) *RouteMonitor {
	if logger == nil {
		logger = logging.Default().WithComponent("routes")
	}
	return &RouteMonitor{store: st, logger: logger, reachable: make(map[string]bool)}
}

// CheckAll probes every monitored route once. Only state changes are logged,
// so a persistently dead route does not flood the log every interval.
func (m *RouteMonitor) CheckAll(ctx context.Context) ([]RouteHealth, error) {
	routes, err := m.store.ListMonitoredRoutes(ctx)
	if err != nil {
		return nil, err
	}

	results := make([]RouteHealth, 0, len(routes))
	for _, r := range routes {
		health := RouteHealth{
			RouteID:     r.ID,
			Destination: r.Destination,
			Target:      r.MonitorAddress,
			Reachable:   true,
		}
		if err := CheckPingFunc(ctx, r.MonitorAddress); err != nil {
			health.Reachable = false
			health.Error = err.Error()
		}

		m.mu.Lock()
		prev, seen := m.reachable[r.ID]
		m.reachable[r.ID] = health.Reachable
		m.mu.Unlock()

		switch {
		case !health.Reachable && (!seen || prev):
			m.logger.Warn("route unreachable",
				"destination", r.Destination, "target", r.MonitorAddress, "error", health.Error)
		case health.Reachable && seen && !prev:
			m.logger.Info("route recovered",
				"destination", r.Destination, "target", r.MonitorAddress)
		}
		results = append(results, health)
	}
	return results, nil
}
