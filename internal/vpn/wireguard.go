package vpn

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.zx2c4.com/wireguard/wgctrl"

	"meridian-router.dev/meridian/internal/clock"
	"meridian-router.dev/meridian/internal/store"
)

// handshakeFreshness is how recent a peer handshake must be for the tunnel
// to count as connected.
const handshakeFreshness = 3 * time.Minute

// WireGuardPeerStatus is one peer's live state.
type WireGuardPeerStatus struct {
	PublicKey       string    `json:"public_key"`
	Endpoint        string    `json:"endpoint,omitempty"`
	AllowedIPs      []string  `json:"allowed_ips"`
	LatestHandshake time.Time `json:"latest_handshake"`
	TransferRx      int64     `json:"transfer_rx"`
	TransferTx      int64     `json:"transfer_tx"`
}

// WireGuardStatus is one device's live state.
type WireGuardStatus struct {
	Running    bool                  `json:"running"`
	Interface  string                `json:"interface"`
	PublicKey  string                `json:"public_key,omitempty"`
	ListenPort int                   `json:"listen_port,omitempty"`
	Peers      []WireGuardPeerStatus `json:"peers,omitempty"`
}

// wgDevice is swappable in tests; wgctrl needs a live kernel module.
var wgDevice = func(name string) (*WireGuardStatus, error) {
	client, err := wgctrl.New()
	if err != nil {
		return nil, fmt.Errorf("opening wgctrl: %w", err)
	}
	defer client.Close()

	device, err := client.Device(name)
	if err != nil {
		if strings.Contains(err.Error(), "no such device") ||
			strings.Contains(err.Error(), "not found") {
			return &WireGuardStatus{Interface: name}, nil
		}
		return nil, fmt.Errorf("reading device %s: %w", name, err)
	}

	status := &WireGuardStatus{
		Running:    true,
		Interface:  device.Name,
		PublicKey:  device.PublicKey.String(),
		ListenPort: device.ListenPort,
	}
	for _, p := range device.Peers {
		peer := WireGuardPeerStatus{
			PublicKey:       p.PublicKey.String(),
			LatestHandshake: p.LastHandshakeTime,
			TransferRx:      p.ReceiveBytes,
			TransferTx:      p.TransmitBytes,
		}
		if p.Endpoint != nil {
			peer.Endpoint = p.Endpoint.String()
		}
		for _, ip := range p.AllowedIPs {
			peer.AllowedIPs = append(peer.AllowedIPs, ip.String())
		}
		status.Peers = append(status.Peers, peer)
	}
	return status, nil
}

// WireGuardDeviceStatus reads the live state of one WireGuard interface.
func (m *Manager) WireGuardDeviceStatus(name string) (*WireGuardStatus, error) {
	return wgDevice(name)
}

// RefreshWireGuardStatus maps device/peer state onto the stored WireGuard
// tunnel rows. A tunnel counts as connected when any peer completed a
// handshake recently.
func (m *Manager) RefreshWireGuardStatus(ctx context.Context) error {
	if m.cfg.WireGuardDevice == "" {
		return nil
	}
	tunnels, err := m.store.ListEnabledTunnels(ctx, "wireguard")
	if err != nil {
		return err
	}
	if len(tunnels) == 0 {
		return nil
	}

	device, err := wgDevice(m.cfg.WireGuardDevice)
	if err != nil {
		return err
	}

	status := store.TunnelDisconnected
	if device.Running && hasFreshHandshake(device.Peers, clock.Now()) {
		status = store.TunnelConnected
	}

	for _, t := range tunnels {
		if err := m.store.UpdateTunnelStatus(ctx, t.ID, status); err != nil {
			m.logger.Warn("failed to update tunnel status", "tunnel", t.Name, "error", err)
		}
	}
	return nil
}

func hasFreshHandshake(peers []WireGuardPeerStatus, now time.Time) bool {
	for _, p := range peers {
		if !p.LatestHandshake.IsZero() && now.Sub(p.LatestHandshake) < handshakeFreshness {
			return true
		}
	}
	return false
}
