// Package monitoring implements the metrics collector, the systemd service
// monitor, syslog aggregation and the alert evaluation loop.
package monitoring

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
	gnet "github.com/shirou/gopsutil/v4/net"
	"github.com/shirou/gopsutil/v4/process"
	"github.com/shirou/gopsutil/v4/sensors"

	"meridian-router.dev/meridian/internal/clock"
	"meridian-router.dev/meridian/internal/config"
	"meridian-router.dev/meridian/internal/logging"
	"meridian-router.dev/meridian/internal/metrics"
	"meridian-router.dev/meridian/internal/store"
)

// sysClassNet is overridable in tests.
var sysClassNet = "/sys/class/net"

// netSample remembers interface counters between collections so rates can be
// derived.
type netSample struct {
	rxBytes uint64
	txBytes uint64
	when    time.Time
}

// Collector gathers system metrics and persists them as samples.
type Collector struct {
	store  *store.Store
	cfg    *config.MonitoringConfig
	logger *logging.Logger

	mu      sync.Mutex
	prevNet map[string]netSample
}

// NewCollector creates a collector backed by the given store.
func NewCollector(st *store.Store, cfg *config.MonitoringConfig, logger *logging.Logger) *Collector {
	if logger == nil {
		logger = logging.Default().WithComponent("collector")
	}
	return &Collector{
		store:   st,
		cfg:     cfg,
		logger:  logger,
		prevNet: make(map[string]netSample),
	}
}

// Collect gathers one full round of metrics and stores them. Individual
// probe failures are logged and skipped so one broken source does not stall
// the rest of the collection.
func (c *Collector) Collect(ctx context.Context) error {
	var samples []store.MetricSample
	now := clock.Now().UTC()

	samples = append(samples, c.collectCPU(ctx)...)
	samples = append(samples, c.collectMemory(ctx)...)
	samples = append(samples, c.collectDisks(ctx)...)
	samples = append(samples, c.collectNetwork(ctx, now)...)
	samples = append(samples, c.collectLoad(ctx)...)
	samples = append(samples, c.collectProcesses(ctx)...)
	samples = append(samples, c.collectTemperatures(ctx)...)

	connSamples, snapshots := c.collectConnections(ctx)
	samples = append(samples, connSamples...)

	if len(samples) == 0 {
		return fmt.Errorf("no metrics collected")
	}

	if err := c.store.InsertMetrics(ctx, samples); err != nil {
		return fmt.Errorf("persisting metrics: %w", err)
	}
	if len(snapshots) > 0 {
		if err := c.store.ReplaceConnections(ctx, snapshots); err != nil {
			c.logger.Warn("failed to persist connection snapshots", "error", err)
		}
	}

	mirrorGauges(samples, len(snapshots))
	c.logger.Debug("metrics collected", "samples", len(samples), "connections", len(snapshots))
	return nil
}

// mirrorGauges reflects the freshest samples into the Prometheus registry so
// scrapes see current values without hitting the database.
func mirrorGauges(samples []store.MetricSample, connections int) {
	reg := metrics.Get()
	for _, s := range samples {
		switch s.Type {
		case store.MetricCPU:
			reg.CPUPercent.Set(s.Value)
		case store.MetricMemory:
			reg.MemoryPercent.Set(s.Value)
		case store.MetricSwap:
			reg.SwapPercent.Set(s.Value)
		case store.MetricDisk:
			reg.DiskPercent.WithLabelValues(s.Source).Set(s.Value)
		case store.MetricLoad:
			reg.LoadAverage.WithLabelValues("1m").Set(s.Value)
		}
	}
	reg.Connections.Set(float64(connections))
}

func (c *Collector) collectCPU(ctx context.Context) []store.MetricSample {
	var out []store.MetricSample

	// Total busy percentage over a short sampling window.
	if totals, err := cpu.PercentWithContext(ctx, time.Second, false); err == nil && len(totals) > 0 {
		out = append(out, store.MetricSample{
			Type: store.MetricCPU, Value: round2(totals[0]), Unit: "percent",
		})
	} else if err != nil {
		c.logger.Warn("cpu sampling failed", "error", err)
	}

	if perCore, err := cpu.PercentWithContext(ctx, 0, true); err == nil {
		for i, v := range perCore {
			out = append(out, store.MetricSample{
				Type:   store.MetricCPUCore,
				Value:  round2(v),
				Unit:   "percent",
				Source: fmt.Sprintf("core%d", i),
			})
		}
	}

	return out
}

func (c *Collector) collectMemory(ctx context.Context) []store.MetricSample {
	var out []store.MetricSample

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		meta, _ := json.Marshal(map[string]uint64{
			"total": vm.Total, "used": vm.Used, "available": vm.Available,
		})
		out = append(out, store.MetricSample{
			Type: store.MetricMemory, Value: round2(vm.UsedPercent), Unit: "percent",
			Metadata: string(meta),
		})
	} else {
		c.logger.Warn("memory sampling failed", "error", err)
	}

	if sw, err := mem.SwapMemoryWithContext(ctx); err == nil && sw.Total > 0 {
		out = append(out, store.MetricSample{
			Type: store.MetricSwap, Value: round2(sw.UsedPercent), Unit: "percent",
		})
	}

	return out
}

func (c *Collector) collectDisks(ctx context.Context) []store.MetricSample {
	var out []store.MetricSample

	parts, err := disk.PartitionsWithContext(ctx, false)
	if err != nil {
		c.logger.Warn("disk partition listing failed", "error", err)
		return nil
	}
	for _, p := range parts {
		usage, err := disk.UsageWithContext(ctx, p.Mountpoint)
		if err != nil || usage.Total == 0 {
			continue
		}
		meta, _ := json.Marshal(map[string]any{
			"device": p.Device, "fstype": p.Fstype,
			"total": usage.Total, "used": usage.Used,
		})
		out = append(out, store.MetricSample{
			Type: store.MetricDisk, Value: round2(usage.UsedPercent), Unit: "percent",
			Source: p.Mountpoint, Metadata: string(meta),
		})
	}

	if counters, err := disk.IOCountersWithContext(ctx); err == nil {
		for name, io := range counters {
			meta, _ := json.Marshal(map[string]uint64{
				"read_bytes": io.ReadBytes, "write_bytes": io.WriteBytes,
				"read_count": io.ReadCount, "write_count": io.WriteCount,
			})
			out = append(out, store.MetricSample{
				Type: store.MetricDiskIO, Value: float64(io.ReadBytes + io.WriteBytes),
				Unit: "bytes", Source: name, Metadata: string(meta),
			})
		}
	}

	return out
}

func (c *Collector) collectNetwork(ctx context.Context, now time.Time) []store.MetricSample {
	var out []store.MetricSample

	counters, err := gnet.IOCountersWithContext(ctx, true)
	if err != nil {
		c.logger.Warn("network counter sampling failed", "error", err)
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, io := range counters {
		if io.Name == "lo" {
			continue
		}
		meta, _ := json.Marshal(map[string]uint64{
			"bytes_sent": io.BytesSent, "bytes_recv": io.BytesRecv,
			"packets_sent": io.PacketsSent, "packets_recv": io.PacketsRecv,
			"err_in": io.Errin, "err_out": io.Errout,
			"drop_in": io.Dropin, "drop_out": io.Dropout,
		})
		out = append(out, store.MetricSample{
			Type: store.MetricNetwork, Value: float64(io.BytesSent + io.BytesRecv),
			Unit: "bytes", Source: io.Name, Metadata: string(meta),
		})

		// Bandwidth utilization needs a previous sample and a known link speed.
		prev, ok := c.prevNet[io.Name]
		c.prevNet[io.Name] = netSample{rxBytes: io.BytesRecv, txBytes: io.BytesSent, when: now}
		if !ok {
			continue
		}
		utilization, ok := bandwidthPercent(io.BytesRecv, io.BytesSent, prev, now, linkSpeedMbps(io.Name))
		if !ok {
			continue
		}
		out = append(out, store.MetricSample{
			Type: store.MetricBandwidth, Value: utilization, Unit: "percent",
			Source: io.Name,
		})
	}

	return out
}

// bandwidthPercent derives link utilization from the counter delta since the
// previous sample. Reports false when the link speed is unknown, the interval
// is empty, or a counter went backwards after an interface bounce.
func bandwidthPercent(rx, tx uint64, prev netSample, now time.Time, speedMbps int) (float64, bool) {
	if speedMbps <= 0 {
		return 0, false
	}
	elapsed := now.Sub(prev.when).Seconds()
	if elapsed <= 0 {
		return 0, false
	}
	if rx < prev.rxBytes || tx < prev.txBytes {
		return 0, false
	}
	bitsPerSec := float64((rx-prev.rxBytes)+(tx-prev.txBytes)) * 8 / elapsed
	return round2(bitsPerSec / (float64(speedMbps) * 1e6) * 100), true
}

func (c *Collector) collectLoad(ctx context.Context) []store.MetricSample {
	avg, err := load.AvgWithContext(ctx)
	if err != nil {
		return nil
	}
	meta, _ := json.Marshal(map[string]float64{
		"load1": avg.Load1, "load5": avg.Load5, "load15": avg.Load15,
	})
	return []store.MetricSample{{
		Type: store.MetricLoad, Value: round2(avg.Load1), Unit: "load",
		Metadata: string(meta),
	}}
}

func (c *Collector) collectProcesses(ctx context.Context) []store.MetricSample {
	misc, err := load.MiscWithContext(ctx)
	if err != nil {
		return nil
	}
	meta, _ := json.Marshal(map[string]int{
		"total": misc.ProcsTotal, "running": misc.ProcsRunning, "blocked": misc.ProcsBlocked,
	})
	return []store.MetricSample{{
		Type: store.MetricProcesses, Value: float64(misc.ProcsTotal), Unit: "count",
		Metadata: string(meta),
	}}
}

func (c *Collector) collectTemperatures(ctx context.Context) []store.MetricSample {
	temps, err := sensors.TemperaturesWithContext(ctx)
	if err != nil {
		// Common on VMs and containers, not worth a warning.
		return nil
	}
	var out []store.MetricSample
	for _, t := range temps {
		if t.Temperature <= 0 {
			continue
		}
		out = append(out, store.MetricSample{
			Type: store.MetricTemperature, Value: round2(t.Temperature), Unit: "celsius",
			Source: t.SensorKey,
		})
	}
	return out
}

func (c *Collector) collectConnections(ctx context.Context) ([]store.MetricSample, []store.ConnectionSnapshot) {
	conns, err := gnet.ConnectionsWithContext(ctx, "inet")
	if err != nil {
		c.logger.Warn("connection sampling failed", "error", err)
		return nil, nil
	}

	established := 0
	for _, conn := range conns {
		if conn.Status == "ESTABLISHED" {
			established++
		}
	}

	meta, _ := json.Marshal(map[string]int{
		"total": len(conns), "established": established,
	})
	samples := []store.MetricSample{{
		Type: store.MetricConnections, Value: float64(len(conns)), Unit: "count",
		Metadata: string(meta),
	}}

	limit := c.cfg.MaxConnections
	if limit <= 0 {
		limit = 50
	}

	names := make(map[int32]string)
	var snapshots []store.ConnectionSnapshot
	for _, conn := range conns {
		if len(snapshots) >= limit {
			break
		}
		if conn.Status != "ESTABLISHED" && conn.Status != "LISTEN" {
			continue
		}
		snap := store.ConnectionSnapshot{
			Protocol:   protoName(conn.Type),
			LocalAddr:  conn.Laddr.IP,
			LocalPort:  int(conn.Laddr.Port),
			RemoteAddr: conn.Raddr.IP,
			RemotePort: int(conn.Raddr.Port),
			Status:     conn.Status,
		}
		if conn.Pid > 0 {
			pid := int(conn.Pid)
			snap.PID = &pid
			name, ok := names[conn.Pid]
			if !ok {
				if p, err := process.NewProcessWithContext(ctx, conn.Pid); err == nil {
					name, _ = p.NameWithContext(ctx)
				}
				names[conn.Pid] = name
			}
			snap.Process = name
		}
		snapshots = append(snapshots, snap)
	}

	return samples, snapshots
}

// linkSpeedMbps reads the negotiated link speed from sysfs. Returns 0 when
// the interface does not report one (virtual devices, down links).
func linkSpeedMbps(iface string) int {
	data, err := os.ReadFile(sysClassNet + "/" + iface + "/speed")
	if err != nil {
		return 0
	}
	speed, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || speed < 0 {
		return 0
	}
	return speed
}

func protoName(socketType uint32) string {
	// Socket type constants from syscall: SOCK_STREAM=1, SOCK_DGRAM=2.
	switch socketType {
	case 1:
		return "tcp"
	case 2:
		return "udp"
	default:
		return "other"
	}
}

func round2(v float64) float64 {
	return float64(int(v*100+0.5)) / 100
}
