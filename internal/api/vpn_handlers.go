package api

import (
	"errors"
	"net/http"

	"meridian-router.dev/meridian/internal/store"
	"meridian-router.dev/meridian/internal/vpn"
)

type tunnelRequest struct {
	Name           string `json:"name" validate:"required,max=64"`
	Type           string `json:"type" validate:"required,oneof=ipsec wireguard"`
	LocalEndpoint  string `json:"local_endpoint" validate:"required"`
	RemoteEndpoint string `json:"remote_endpoint" validate:"required"`
	LocalSubnet    string `json:"local_subnet" validate:"required,cidr"`
	RemoteSubnet   string `json:"remote_subnet" validate:"required,cidr"`
	PSK            string `json:"psk"`
	IKEProposal    string `json:"ike_proposal"`
	ESPProposal    string `json:"esp_proposal"`
	AutoStart      bool   `json:"auto_start"`
	Enabled        bool   `json:"enabled"`
}

func (req *tunnelRequest) toModel() *store.VPNTunnel {
	return &store.VPNTunnel{
		Name:           req.Name,
		Type:           req.Type,
		LocalEndpoint:  req.LocalEndpoint,
		RemoteEndpoint: req.RemoteEndpoint,
		LocalSubnet:    req.LocalSubnet,
		RemoteSubnet:   req.RemoteSubnet,
		PSK:            req.PSK,
		IKEProposal:    req.IKEProposal,
		ESPProposal:    req.ESPProposal,
		AutoStart:      req.AutoStart,
		Enabled:        req.Enabled,
	}
}

func (s *Server) handleListTunnels(w http.ResponseWriter, r *http.Request) {
	tunnels, err := s.store.ListTunnels(r.Context())
	if err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if tunnels == nil {
		tunnels = []store.VPNTunnel{}
	}
	WriteJSON(w, http.StatusOK, tunnels)
}

func (s *Server) handleCreateTunnel(w http.ResponseWriter, r *http.Request) {
	var req tunnelRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	tunnel := req.toModel()
	if err := s.store.CreateTunnel(r.Context(), tunnel); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.audit(r, "vpn_tunnel_created", tunnel.Name)
	WriteJSON(w, http.StatusCreated, tunnel)
}

func (s *Server) handleUpdateTunnel(w http.ResponseWriter, r *http.Request) {
	var req tunnelRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	tunnel := req.toModel()
	tunnel.ID = r.PathValue("id")
	if err := s.store.UpdateTunnel(r.Context(), tunnel); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			WriteError(w, http.StatusNotFound, "tunnel not found")
			return
		}
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.audit(r, "vpn_tunnel_updated", tunnel.Name)
	WriteJSON(w, http.StatusOK, tunnel)
}

func (s *Server) handleDeleteTunnel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.store.DeleteTunnel(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			WriteError(w, http.StatusNotFound, "tunnel not found")
			return
		}
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.audit(r, "vpn_tunnel_deleted", id)
	WriteJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// handleVPNApply regenerates the strongSwan config from enabled tunnels and
// reloads it.
func (s *Server) handleVPNApply(w http.ResponseWriter, r *http.Request) {
	if err := s.vpn.Apply(r.Context()); err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.audit(r, "vpn_applied", "")
	WriteJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleTunnelUp(w http.ResponseWriter, r *http.Request) {
	s.tunnelAction(w, r, true)
}

func (s *Server) handleTunnelDown(w http.ResponseWriter, r *http.Request) {
	s.tunnelAction(w, r, false)
}

func (s *Server) tunnelAction(w http.ResponseWriter, r *http.Request, up bool) {
	tunnel, err := s.store.GetTunnel(r.Context(), r.PathValue("id"))
	if errors.Is(err, store.ErrNotFound) {
		WriteError(w, http.StatusNotFound, "tunnel not found")
		return
	}
	if err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	action := "vpn_tunnel_down"
	if up {
		action = "vpn_tunnel_up"
		err = s.vpn.Up(r.Context(), tunnel.Name)
	} else {
		err = s.vpn.Down(r.Context(), tunnel.Name)
	}
	if err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.audit(r, action, tunnel.Name)
	WriteJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleGeneratePSK(w http.ResponseWriter, r *http.Request) {
	length := queryInt(r, "length", 32)
	psk, err := vpn.GeneratePSK(length)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"psk": psk})
}

func (s *Server) handleWireGuardStatus(w http.ResponseWriter, r *http.Request) {
	device := s.cfg.VPN.WireGuardDevice
	if device == "" {
		WriteError(w, http.StatusNotFound, "no wireguard device configured")
		return
	}
	status, err := s.vpn.WireGuardDeviceStatus(device)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, status)
}
