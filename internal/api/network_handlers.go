package api

import (
	"errors"
	"net/http"

	"meridian-router.dev/meridian/internal/network"
	"meridian-router.dev/meridian/internal/store"
)

func (s *Server) handleListInterfaces(w http.ResponseWriter, r *http.Request) {
	ifaces, err := s.store.ListInterfaces(r.Context())
	if err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if ifaces == nil {
		ifaces = []store.NetworkInterface{}
	}
	WriteJSON(w, http.StatusOK, ifaces)
}

func (s *Server) handleSyncInterfaces(w http.ResponseWriter, r *http.Request) {
	if err := s.interfaces.Sync(r.Context()); err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	ifaces, err := s.store.ListInterfaces(r.Context())
	if err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, ifaces)
}

type interfaceStateRequest struct {
	Up bool `json:"up"`
}

func (s *Server) handleInterfaceState(w http.ResponseWriter, r *http.Request) {
	var req interfaceStateRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	name := r.PathValue("name")
	if err := s.interfaces.SetState(r.Context(), name, req.Up); err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	action := "interface_down"
	if req.Up {
		action = "interface_up"
	}
	s.audit(r, action, name)
	WriteJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleListRoutes(w http.ResponseWriter, r *http.Request) {
	routes, err := s.store.ListRoutes(r.Context())
	if err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if routes == nil {
		routes = []store.StaticRoute{}
	}
	WriteJSON(w, http.StatusOK, routes)
}

type routeRequest struct {
	Destination    string `json:"destination" validate:"required"`
	Gateway        string `json:"gateway" validate:"omitempty,ip"`
	Interface      string `json:"interface"`
	Metric         int    `json:"metric" validate:"gte=0"`
	Persistent     bool   `json:"persistent"`
	MonitorAddress string `json:"monitor_address" validate:"omitempty,ip"`
	Enabled        bool   `json:"enabled"`
}

func (s *Server) handleCreateRoute(w http.ResponseWriter, r *http.Request) {
	var req routeRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	if _, err := network.ParseDestination(req.Destination); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	route := &store.StaticRoute{
		Destination:    req.Destination,
		Gateway:        req.Gateway,
		Interface:      req.Interface,
		Metric:         req.Metric,
		Persistent:     req.Persistent,
		MonitorAddress: req.MonitorAddress,
		Enabled:        req.Enabled,
	}
	if err := s.store.CreateRoute(r.Context(), route); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if route.Enabled {
		if err := s.routes.Apply(r.Context(), route); err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}
	s.audit(r, "route_created", route.Destination)
	WriteJSON(w, http.StatusCreated, route)
}

func (s *Server) handleDeleteRoute(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	route, err := s.store.GetRoute(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		WriteError(w, http.StatusNotFound, "route not found")
		return
	}
	if err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if route.Enabled {
		if err := s.routes.Remove(r.Context(), route); err != nil {
			s.logger.Warn("failed to remove route from kernel", "destination", route.Destination, "error", err)
		}
	}
	if err := s.store.DeleteRoute(r.Context(), id); err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.audit(r, "route_deleted", route.Destination)
	WriteJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// handleRoutingTable returns the live kernel routing table.
func (s *Server) handleRoutingTable(w http.ResponseWriter, r *http.Request) {
	entries, err := s.routes.KernelRoutes()
	if err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if entries == nil {
		entries = []network.RouteEntry{}
	}
	WriteJSON(w, http.StatusOK, entries)
}

// handleRouteHealth probes the monitor address of every monitored route.
func (s *Server) handleRouteHealth(w http.ResponseWriter, r *http.Request) {
	results, err := s.routeMonitor.CheckAll(r.Context())
	if err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if results == nil {
		results = []network.RouteHealth{}
	}
	WriteJSON(w, http.StatusOK, results)
}

func (s *Server) handleGetForwarding(w http.ResponseWriter, r *http.Request) {
	enabled, err := network.ForwardingEnabled()
	if err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, map[string]bool{"enabled": enabled})
}

type forwardingRequest struct {
	Enabled bool `json:"enabled"`
}

func (s *Server) handleSetForwarding(w http.ResponseWriter, r *http.Request) {
	var req forwardingRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	if err := network.SetForwarding(req.Enabled); err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	action := "forwarding_disabled"
	if req.Enabled {
		action = "forwarding_enabled"
	}
	s.audit(r, action, "")
	WriteJSON(w, http.StatusOK, map[string]bool{"enabled": req.Enabled})
}
