package api

import (
	"errors"
	"net/http"

	"meridian-router.dev/meridian/internal/firewall"
	"meridian-router.dev/meridian/internal/store"
)

type firewallRuleRequest struct {
	Name     string `json:"name" validate:"required,max=128"`
	Chain    string `json:"chain" validate:"required,oneof=input forward output"`
	Protocol string `json:"protocol" validate:"omitempty,oneof=tcp udp icmp"`
	SrcIP    string `json:"src_ip"`
	SrcPort  string `json:"src_port"`
	DstIP    string `json:"dst_ip"`
	DstPort  string `json:"dst_port"`
	InIface  string `json:"in_iface"`
	OutIface string `json:"out_iface"`
	Action   string `json:"action" validate:"required,oneof=accept drop reject"`
	Priority int    `json:"priority"`
	Enabled  bool   `json:"enabled"`
	Comment  string `json:"comment"`
}

func (req *firewallRuleRequest) toModel() *store.FirewallRule {
	return &store.FirewallRule{
		Name:     req.Name,
		Chain:    req.Chain,
		Protocol: req.Protocol,
		SrcIP:    req.SrcIP,
		SrcPort:  req.SrcPort,
		DstIP:    req.DstIP,
		DstPort:  req.DstPort,
		InIface:  req.InIface,
		OutIface: req.OutIface,
		Action:   req.Action,
		Priority: req.Priority,
		Enabled:  req.Enabled,
		Comment:  req.Comment,
	}
}

func (s *Server) handleListFirewallRules(w http.ResponseWriter, r *http.Request) {
	rules, err := s.store.ListFirewallRules(r.Context())
	if err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if rules == nil {
		rules = []store.FirewallRule{}
	}
	WriteJSON(w, http.StatusOK, rules)
}

func (s *Server) handleCreateFirewallRule(w http.ResponseWriter, r *http.Request) {
	var req firewallRuleRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	rule := req.toModel()
	if err := s.store.CreateFirewallRule(r.Context(), rule); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	// live=true also appends the rule to the running ruleset, without the
	// full preview/apply cycle.
	if rule.Enabled && r.URL.Query().Get("live") == "true" {
		if err := s.firewall.AddLiveRule(r.Context(), rule); err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}
	s.audit(r, "firewall_rule_created", rule.Name)
	WriteJSON(w, http.StatusCreated, rule)
}

func (s *Server) handleUpdateFirewallRule(w http.ResponseWriter, r *http.Request) {
	var req firewallRuleRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	rule := req.toModel()
	rule.ID = r.PathValue("id")
	if err := s.store.UpdateFirewallRule(r.Context(), rule); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			WriteError(w, http.StatusNotFound, "firewall rule not found")
			return
		}
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.audit(r, "firewall_rule_updated", rule.Name)
	WriteJSON(w, http.StatusOK, rule)
}

func (s *Server) handleDeleteFirewallRule(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.store.DeleteFirewallRule(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			WriteError(w, http.StatusNotFound, "firewall rule not found")
			return
		}
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.audit(r, "firewall_rule_deleted", id)
	WriteJSON(w, http.StatusOK, map[string]bool{"success": true})
}

type portForwardRequest struct {
	Name         string `json:"name" validate:"required,max=128"`
	Protocol     string `json:"protocol" validate:"required,oneof=tcp udp"`
	ExternalPort int    `json:"external_port" validate:"required,gte=1,lte=65535"`
	DestIP       string `json:"dest_ip" validate:"required,ip"`
	DestPort     int    `json:"dest_port" validate:"required,gte=1,lte=65535"`
	InIface      string `json:"in_iface"`
	Enabled      bool   `json:"enabled"`
	Comment      string `json:"comment"`
}

func (req *portForwardRequest) toModel() *store.PortForward {
	return &store.PortForward{
		Name:         req.Name,
		Protocol:     req.Protocol,
		ExternalPort: req.ExternalPort,
		DestIP:       req.DestIP,
		DestPort:     req.DestPort,
		InIface:      req.InIface,
		Enabled:      req.Enabled,
		Comment:      req.Comment,
	}
}

func (s *Server) handleListPortForwards(w http.ResponseWriter, r *http.Request) {
	forwards, err := s.store.ListPortForwards(r.Context())
	if err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if forwards == nil {
		forwards = []store.PortForward{}
	}
	WriteJSON(w, http.StatusOK, forwards)
}

func (s *Server) handleCreatePortForward(w http.ResponseWriter, r *http.Request) {
	var req portForwardRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	forward := req.toModel()
	if err := s.store.CreatePortForward(r.Context(), forward); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if forward.Enabled && r.URL.Query().Get("live") == "true" {
		if err := s.firewall.AddLivePortForward(r.Context(), forward); err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}
	s.audit(r, "port_forward_created", forward.Name)
	WriteJSON(w, http.StatusCreated, forward)
}

func (s *Server) handleUpdatePortForward(w http.ResponseWriter, r *http.Request) {
	var req portForwardRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	forward := req.toModel()
	forward.ID = r.PathValue("id")
	if err := s.store.UpdatePortForward(r.Context(), forward); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			WriteError(w, http.StatusNotFound, "port forward not found")
			return
		}
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.audit(r, "port_forward_updated", forward.Name)
	WriteJSON(w, http.StatusOK, forward)
}

func (s *Server) handleDeletePortForward(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.store.DeletePortForward(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			WriteError(w, http.StatusNotFound, "port forward not found")
			return
		}
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.audit(r, "port_forward_deleted", id)
	WriteJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// handleFirewallPreview renders the ruleset without touching the host.
func (s *Server) handleFirewallPreview(w http.ResponseWriter, r *http.Request) {
	script, err := s.firewall.Preview(r.Context())
	if err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"ruleset": script})
}

func (s *Server) handleFirewallApply(w http.ResponseWriter, r *http.Request) {
	if err := s.firewall.Apply(r.Context()); err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.audit(r, "firewall_applied", "")
	WriteJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// handleFirewallRuleset returns the ruleset currently loaded in the kernel,
// both raw and parsed.
func (s *Server) handleFirewallRuleset(w http.ResponseWriter, r *http.Request) {
	raw, err := s.firewall.LiveRuleset(r.Context())
	if err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	tables, err := s.firewall.Ruleset(r.Context())
	if err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if tables == nil {
		tables = []firewall.RulesetTable{}
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"ruleset": raw,
		"tables":  tables,
	})
}

func (s *Server) handleGetNAT(w http.ResponseWriter, r *http.Request) {
	enabled, err := s.firewall.NATEnabled(r.Context())
	if err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"enabled":   enabled,
		"interface": s.cfg.Firewall.WANInterface,
	})
}

type natRequest struct {
	Enabled bool `json:"enabled"`
}

func (s *Server) handleSetNAT(w http.ResponseWriter, r *http.Request) {
	var req natRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	if err := s.firewall.SetNAT(r.Context(), req.Enabled); err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := s.firewall.Apply(r.Context()); err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	action := "nat_disabled"
	if req.Enabled {
		action = "nat_enabled"
	}
	s.audit(r, action, s.cfg.Firewall.WANInterface)
	WriteJSON(w, http.StatusOK, map[string]bool{"enabled": req.Enabled})
}

func (s *Server) handleDeployments(w http.ResponseWriter, r *http.Request) {
	target := r.URL.Query().Get("target")
	limit := queryInt(r, "limit", 50)

	logs, err := s.store.ListDeploymentLogs(r.Context(), target, limit)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if logs == nil {
		logs = []store.DeploymentLog{}
	}
	WriteJSON(w, http.StatusOK, logs)
}
