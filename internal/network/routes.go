package network

import (
	"context"
	"fmt"
	"net"

	"github.com/vishvananda/netlink"

	"meridian-router.dev/meridian/internal/logging"
	"meridian-router.dev/meridian/internal/store"
)

var (
	routeAdd  = netlink.RouteAdd
	routeDel  = netlink.RouteDel
	routeList = netlink.RouteList
)

// RouteManager applies stored static routes to the kernel.
type RouteManager struct {
	store  *store.Store
	logger *logging.Logger
}

// NewRouteManager creates a route manager.
func NewRouteManager(st *store.Store, logger *logging.Logger) *RouteManager {
	if logger == nil {
		logger = logging.Default().WithComponent("routes")
	}
	return &RouteManager{store: st, logger: logger}
}

// buildRoute converts a stored route into a netlink route.
func buildRoute(r *store.StaticRoute) (*netlink.Route, error) {
	dst, err := ParseDestination(r.Destination)
	if err != nil {
		return nil, err
	}

	route := &netlink.Route{Dst: dst, Priority: r.Metric}

	if r.Gateway != "" {
		gw := net.ParseIP(r.Gateway)
		if gw == nil {
			return nil, fmt.Errorf("invalid gateway %q", r.Gateway)
		}
		route.Gw = gw
	}
	if r.Interface != "" {
		link, err := netlink.LinkByName(r.Interface)
		if err != nil {
			return nil, fmt.Errorf("looking up interface %s: %w", r.Interface, err)
		}
		route.LinkIndex = link.Attrs().Index
	}
	if r.Gateway == "" && r.Interface == "" {
		return nil, fmt.Errorf("route needs a gateway or an interface")
	}

	return route, nil
}

// Apply installs one route in the kernel.
func (m *RouteManager) Apply(ctx context.Context, r *store.StaticRoute) error {
	route, err := buildRoute(r)
	if err != nil {
		return err
	}
	if err := routeAdd(route); err != nil {
		return fmt.Errorf("adding route %s: %w", r.Destination, err)
	}
	m.logger.Audit("route added", "destination", r.Destination, "gateway", r.Gateway)
	return nil
}

// Remove deletes one route from the kernel.
func (m *RouteManager) Remove(ctx context.Context, r *store.StaticRoute) error {
	route, err := buildRoute(r)
	if err != nil {
		return err
	}
	if err := routeDel(route); err != nil {
		return fmt.Errorf("deleting route %s: %w", r.Destination, err)
	}
	m.logger.Audit("route removed", "destination", r.Destination)
	return nil
}

// ApplyPersistent installs every enabled persistent route. Individual
// failures are logged so one bad route does not block the rest at boot.
func (m *RouteManager) ApplyPersistent(ctx context.Context) error {
	routes, err := m.store.ListRoutes(ctx)
	if err != nil {
		return err
	}
	for i := range routes {
		r := &routes[i]
		if !r.Enabled || !r.Persistent {
			continue
		}
		if err := m.Apply(ctx, r); err != nil {
			m.logger.Warn("failed to apply persistent route",
				"destination", r.Destination, "error", err)
		}
	}
	return nil
}

// RouteEntry is one row of the kernel routing table.
type RouteEntry struct {
	Destination string `json:"destination"`
	Gateway     string `json:"gateway,omitempty"`
	Interface   string `json:"interface,omitempty"`
	Protocol    string `json:"protocol,omitempty"`
	Metric      int    `json:"metric,omitempty"`
	Family      string `json:"family"`
}

// KernelRoutes reads the IPv4 and IPv6 routing tables via netlink.
func (m *RouteManager) KernelRoutes() ([]RouteEntry, error) {
	var out []RouteEntry
	for _, family := range []int{netlink.FAMILY_V4, netlink.FAMILY_V6} {
		routes, err := routeList(nil, family)
		if err != nil {
			return nil, fmt.Errorf("listing routes: %w", err)
		}
		fam := "ipv4"
		if family == netlink.FAMILY_V6 {
			fam = "ipv6"
		}
		for _, r := range routes {
			entry := RouteEntry{
				Destination: "default",
				Protocol:    r.Protocol.String(),
				Metric:      r.Priority,
				Family:      fam,
			}
			if r.Dst != nil {
				entry.Destination = r.Dst.String()
			}
			if r.Gw != nil {
				entry.Gateway = r.Gw.String()
			}
			if r.LinkIndex > 0 {
				if link, err := netlink.LinkByIndex(r.LinkIndex); err == nil {
					entry.Interface = link.Attrs().Name
				}
			}
			out = append(out, entry)
		}
	}
	return out, nil
}

// ParseDestination parses a route destination. "default" means 0.0.0.0/0,
// a bare IP gets a host mask.
func ParseDestination(dest string) (*net.IPNet, error) {
	if dest == "default" {
		return &net.IPNet{IP: net.IPv4zero, Mask: net.CIDRMask(0, 32)}, nil
	}
	if _, ipnet, err := net.ParseCIDR(dest); err == nil {
		return ipnet, nil
	}
	if ip := net.ParseIP(dest); ip != nil {
		if ip4 := ip.To4(); ip4 != nil {
			return &net.IPNet{IP: ip4, Mask: net.CIDRMask(32, 32)}, nil
		}
		return &net.IPNet{IP: ip, Mask: net.CIDRMask(128, 128)}, nil
	}
	return nil, fmt.Errorf("invalid destination %q", dest)
}
