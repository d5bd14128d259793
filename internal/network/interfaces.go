// Package network manages the interface inventory, static routes, IP
// forwarding and route reachability monitoring.
package network

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/safchain/ethtool"
	"github.com/vishvananda/netlink"

	"meridian-router.dev/meridian/internal/logging"
	"meridian-router.dev/meridian/internal/store"
)

// Seams for tests; netlink needs a live kernel.
var (
	linkList = netlink.LinkList
	addrList = func(link netlink.Link) ([]netlink.Addr, error) {
		return netlink.AddrList(link, netlink.FAMILY_ALL)
	}
	linkSetUp   = netlink.LinkSetUp
	linkSetDown = netlink.LinkSetDown
)

// skippedPrefixes are virtual interfaces left out of the inventory.
var skippedPrefixes = []string{"lo", "veth", "docker", "br-", "virbr"}

// InterfaceManager keeps the stored interface inventory in sync with the
// kernel and toggles link state.
type InterfaceManager struct {
	store  *store.Store
	logger *logging.Logger
}

// NewInterfaceManager creates an interface manager.
func NewInterfaceManager(st *store.Store, logger *logging.Logger) *InterfaceManager {
	if logger == nil {
		logger = logging.Default().WithComponent("network")
	}
	return &InterfaceManager{store: st, logger: logger}
}

// Sync reads the kernel link list and upserts the inventory rows.
func (m *InterfaceManager) Sync(ctx context.Context) error {
	links, err := linkList()
	if err != nil {
		return fmt.Errorf("listing links: %w", err)
	}

	var eth *ethtool.Ethtool
	if h, err := ethtool.NewEthtool(); err == nil {
		eth = h
		defer eth.Close()
	}

	for _, link := range links {
		attrs := link.Attrs()
		if skipInterface(attrs.Name) {
			continue
		}

		row := &store.NetworkInterface{
			Name: attrs.Name,
			MAC:  attrs.HardwareAddr.String(),
			MTU:  attrs.MTU,
		}
		if attrs.OperState == netlink.OperUp {
			row.State = "up"
		} else {
			row.State = "down"
		}

		if addrs, err := addrList(link); err == nil {
			cidrs := make([]string, 0, len(addrs))
			for _, a := range addrs {
				if a.IPNet != nil {
					cidrs = append(cidrs, a.IPNet.String())
				}
			}
			row.Addresses = strings.Join(cidrs, ",")
		}

		row.SpeedMbps, row.Duplex = linkSettings(eth, attrs.Name)

		if err := m.store.UpsertInterface(ctx, row); err != nil {
			m.logger.Warn("failed to persist interface", "iface", attrs.Name, "error", err)
		}
	}

	return nil
}

// SetState brings a link up or down and re-syncs its row.
func (m *InterfaceManager) SetState(ctx context.Context, name string, up bool) error {
	link, err := netlink.LinkByName(name)
	if err != nil {
		return fmt.Errorf("looking up link %s: %w", name, err)
	}
	if up {
		err = linkSetUp(link)
	} else {
		err = linkSetDown(link)
	}
	if err != nil {
		return fmt.Errorf("changing link state: %w", err)
	}
	m.logger.Audit("interface state changed", "iface", name, "up", up)
	return m.Sync(ctx)
}

func skipInterface(name string) bool {
	for _, prefix := range skippedPrefixes {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}

// linkSettings reads speed and duplex via ethtool, falling back to sysfs
// for virtual NICs that do not implement the ioctl.
func linkSettings(eth *ethtool.Ethtool, iface string) (int, string) {
	if eth != nil {
		if settings, err := eth.GetLinkSettings(iface); err == nil && settings.Speed > 0 {
			duplex := "unknown"
			switch settings.Duplex {
			case ethtool.DUPLEX_FULL:
				duplex = "full"
			case ethtool.DUPLEX_HALF:
				duplex = "half"
			}
			return int(settings.Speed), duplex
		}
	}

	speed := 0
	if data, err := os.ReadFile(fmt.Sprintf("/sys/class/net/%s/speed", iface)); err == nil {
		fmt.Sscanf(strings.TrimSpace(string(data)), "%d", &speed)
		if speed < 0 {
			speed = 0
		}
	}
	duplex := "unknown"
	if data, err := os.ReadFile(fmt.Sprintf("/sys/class/net/%s/duplex", iface)); err == nil {
		if d := strings.TrimSpace(string(data)); d == "full" || d == "half" {
			duplex = d
		}
	}
	return speed, duplex
}
