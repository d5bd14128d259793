package network

import (
	"fmt"
	"os"
	"strings"
)

// Overridable in tests.
var (
	forwardingPathV4 = "/proc/sys/net/ipv4/ip_forward"
	forwardingPathV6 = "/proc/sys/net/ipv6/conf/all/forwarding"
)

// ForwardingEnabled reports whether IPv4 forwarding is on.
func ForwardingEnabled() (bool, error) {
	data, err := os.ReadFile(forwardingPathV4)
	if err != nil {
		return false, fmt.Errorf("reading ip_forward: %w", err)
	}
	return strings.TrimSpace(string(data)) == "1", nil
}

// SetForwarding toggles IPv4 (and best-effort IPv6) packet forwarding.
func SetForwarding(enabled bool) error {
	val := "0"
	if enabled {
		val = "1"
	}
	if err := os.WriteFile(forwardingPathV4, []byte(val), 0o644); err != nil {
		return fmt.Errorf("writing ip_forward: %w", err)
	}
	// Hosts without IPv6 lack this path.
	if err := os.WriteFile(forwardingPathV6, []byte(val), 0o644); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("writing ipv6 forwarding: %w", err)
	}
	return nil
}
