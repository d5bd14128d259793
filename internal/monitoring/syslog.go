package monitoring

import (
	"bytes"
	"context"
	"io"
	"os"
	"strings"
	"time"

	"meridian-router.dev/meridian/internal/clock"
	"meridian-router.dev/meridian/internal/config"
	"meridian-router.dev/meridian/internal/logging"
	"meridian-router.dev/meridian/internal/store"
)

// tailLineCount is how many lines are read from the end of each log file per
// collection round.
const tailLineCount = 100

// LogCollector tails the host syslog files and stores parsed entries.
type LogCollector struct {
	store  *store.Store
	cfg    *config.MonitoringConfig
	logger *logging.Logger
}

// NewLogCollector creates a syslog collector.
func NewLogCollector(st *store.Store, cfg *config.MonitoringConfig, logger *logging.Logger) *LogCollector {
	if logger == nil {
		logger = logging.Default().WithComponent("syslog")
	}
	return &LogCollector{store: st, cfg: cfg, logger: logger}
}

// Collect reads the tail of each configured file, parses the lines and
// stores new entries. Duplicates across rounds are dropped by the store.
func (c *LogCollector) Collect(ctx context.Context) error {
	now := clock.Now()
	inserted := 0

	for _, path := range c.cfg.SyslogFiles {
		lines, err := tailLines(path, tailLineCount)
		if err != nil {
			// Most hosts only carry a subset of the standard files.
			continue
		}
		for _, line := range lines {
			entry, ok := ParseSyslogLine(line, now)
			if !ok {
				continue
			}
			fresh, err := c.store.InsertLog(ctx, entry)
			if err != nil {
				c.logger.Warn("failed to store log entry", "file", path, "error", err)
				continue
			}
			if fresh {
				inserted++
			}
		}
	}

	if inserted > 0 {
		c.logger.Debug("syslog entries collected", "new", inserted)
	}
	return nil
}

// ParseSyslogLine parses a classic syslog line:
//
//	Jan  2 15:04:05 host process[pid]: message
//
// The year is taken from the reference time since syslog omits it.
func ParseSyslogLine(line string, ref time.Time) (*store.SystemLog, bool) {
	line = strings.TrimRight(line, "\r\n")
	if len(line) < 16 {
		return nil, false
	}

	ts, err := time.ParseInLocation(time.Stamp, line[:15], ref.Location())
	if err != nil {
		return nil, false
	}
	ts = ts.AddDate(ref.Year(), 0, 0)
	// A December entry read in January belongs to the previous year.
	if ts.After(ref.Add(24 * time.Hour)) {
		ts = ts.AddDate(-1, 0, 0)
	}

	rest := strings.TrimSpace(line[15:])
	host, rest, found := strings.Cut(rest, " ")
	if !found {
		return nil, false
	}
	procField, message, found := strings.Cut(rest, ": ")
	if !found {
		return nil, false
	}

	procName := procField
	if idx := strings.Index(procName, "["); idx >= 0 {
		procName = procName[:idx]
	}

	return &store.SystemLog{
		Timestamp: ts.UTC(),
		Level:     ClassifyLevel(message),
		Source:    ClassifySource(procName),
		Process:   procName,
		Host:      host,
		Message:   strings.TrimSpace(message),
	}, true
}

// ClassifyLevel infers a severity from message content.
func ClassifyLevel(message string) string {
	lower := strings.ToLower(message)
	switch {
	case strings.Contains(lower, "emerg"), strings.Contains(lower, "alert"),
		strings.Contains(lower, "crit"), strings.Contains(lower, "panic"):
		return "critical"
	case strings.Contains(lower, "error"), strings.Contains(lower, "err "),
		strings.Contains(lower, "fail"), strings.Contains(lower, "denied"):
		return "error"
	case strings.Contains(lower, "warn"):
		return "warning"
	case strings.Contains(lower, "debug"):
		return "debug"
	default:
		return "info"
	}
}

// ClassifySource buckets a process name into a log source category.
func ClassifySource(process string) string {
	lower := strings.ToLower(process)
	switch {
	case strings.HasPrefix(lower, "sshd"), strings.HasPrefix(lower, "sudo"),
		strings.HasPrefix(lower, "su"), strings.HasPrefix(lower, "login"),
		strings.Contains(lower, "pam"):
		return "auth"
	case lower == "kernel":
		return "kernel"
	case strings.HasPrefix(lower, "systemd"), strings.HasPrefix(lower, "cron"),
		strings.HasPrefix(lower, "dbus"):
		return "daemon"
	case strings.Contains(lower, "network"), strings.HasPrefix(lower, "dhclient"),
		strings.HasPrefix(lower, "dnsmasq"), strings.HasPrefix(lower, "nftables"):
		return "network"
	default:
		return "system"
	}
}

// tailLines returns up to n trailing lines of a file without reading the
// whole thing.
func tailLines(path string, n int) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}

	// Read a chunk from the end large enough for n typical lines.
	const avgLine = 256
	size := int64(n+1) * avgLine
	offset := info.Size() - size
	if offset < 0 {
		offset = 0
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return nil, err
	}

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}

	lines := bytes.Split(data, []byte{'\n'})
	// The first line is likely truncated when we seeked into the file.
	if offset > 0 && len(lines) > 0 {
		lines = lines[1:]
	}

	out := make([]string, 0, n)
	for _, l := range lines {
		if len(bytes.TrimSpace(l)) == 0 {
			continue
		}
		out = append(out, string(l))
	}
	if len(out) > n {
		out = out[len(out)-n:]
	}
	return out, nil
}
