package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"meridian-router.dev/meridian/internal/store"
)

type proxySiteRequest struct {
	Domain           string            `json:"domain" validate:"required,hostname"`
	UpstreamHost     string            `json:"upstream_host" validate:"required"`
	UpstreamPort     int               `json:"upstream_port" validate:"required,gte=1,lte=65535"`
	UpstreamScheme   string            `json:"upstream_scheme" validate:"required,oneof=http https"`
	SSLEnabled       bool              `json:"ssl_enabled"`
	ForceSSL         bool              `json:"force_ssl"`
	ConnectTimeout   int               `json:"connect_timeout" validate:"gte=0"`
	SendTimeout      int               `json:"send_timeout" validate:"gte=0"`
	ReadTimeout      int               `json:"read_timeout" validate:"gte=0"`
	CustomHeaders    map[string]string `json:"custom_headers"`
	RateLimitEnabled bool              `json:"rate_limit_enabled"`
	RateLimitRPM     int               `json:"rate_limit_rpm" validate:"gte=0"`
	AccessLog        *bool             `json:"access_log_enabled"` // defaults to on
	ErrorLog         *bool             `json:"error_log_enabled"`
}

func (req *proxySiteRequest) toModel() *store.ProxyConfig {
	headers := "{}"
	if len(req.CustomHeaders) > 0 {
		if b, err := json.Marshal(req.CustomHeaders); err == nil {
			headers = string(b)
		}
	}
	return &store.ProxyConfig{
		Domain:           req.Domain,
		UpstreamHost:     req.UpstreamHost,
		UpstreamPort:     req.UpstreamPort,
		UpstreamScheme:   req.UpstreamScheme,
		SSLEnabled:       req.SSLEnabled,
		ForceSSL:         req.ForceSSL,
		ConnectTimeout:   req.ConnectTimeout,
		SendTimeout:      req.SendTimeout,
		ReadTimeout:      req.ReadTimeout,
		CustomHeaders:    headers,
		RateLimitEnabled: req.RateLimitEnabled,
		RateLimitRPM:     req.RateLimitRPM,
		AccessLogEnabled: req.AccessLog == nil || *req.AccessLog,
		ErrorLogEnabled:  req.ErrorLog == nil || *req.ErrorLog,
	}
}

func (s *Server) handleListProxySites(w http.ResponseWriter, r *http.Request) {
	sites, err := s.store.ListProxyConfigs(r.Context())
	if err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if sites == nil {
		sites = []store.ProxyConfig{}
	}
	WriteJSON(w, http.StatusOK, sites)
}

func (s *Server) handleCreateProxySite(w http.ResponseWriter, r *http.Request) {
	var req proxySiteRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	site := req.toModel()
	if err := s.store.CreateProxyConfig(r.Context(), site); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.audit(r, "proxy_site_created", site.Domain)
	WriteJSON(w, http.StatusCreated, site)
}

func (s *Server) handleUpdateProxySite(w http.ResponseWriter, r *http.Request) {
	var req proxySiteRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	site := req.toModel()
	site.ID = r.PathValue("id")
	if err := s.store.UpdateProxyConfig(r.Context(), site); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			WriteError(w, http.StatusNotFound, "proxy site not found")
			return
		}
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.audit(r, "proxy_site_updated", site.Domain)
	WriteJSON(w, http.StatusOK, site)
}

func (s *Server) handleDeleteProxySite(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	site, err := s.store.GetProxyConfig(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		WriteError(w, http.StatusNotFound, "proxy site not found")
		return
	}
	if err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if site.Deployed {
		if err := s.proxy.Remove(r.Context(), site); err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}
	if err := s.store.DeleteProxyConfig(r.Context(), id); err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.audit(r, "proxy_site_deleted", site.Domain)
	WriteJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// handleDeployProxySite writes the server block, validates the nginx config
// and reloads.
func (s *Server) handleDeployProxySite(w http.ResponseWriter, r *http.Request) {
	site, err := s.store.GetProxyConfig(r.Context(), r.PathValue("id"))
	if errors.Is(err, store.ErrNotFound) {
		WriteError(w, http.StatusNotFound, "proxy site not found")
		return
	}
	if err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if err := s.proxy.Deploy(r.Context(), site); err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.audit(r, "proxy_site_deployed", site.Domain)
	WriteJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleListCertificates(w http.ResponseWriter, r *http.Request) {
	certs, err := s.store.ListCertificates(r.Context())
	if err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if certs == nil {
		certs = []store.SSLCertificate{}
	}
	WriteJSON(w, http.StatusOK, certs)
}

type obtainCertificateRequest struct {
	Domain string `json:"domain" validate:"required,hostname"`
}

func (s *Server) handleObtainCertificate(w http.ResponseWriter, r *http.Request) {
	var req obtainCertificateRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	cert, err := s.proxy.ObtainCertificate(r.Context(), req.Domain)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.audit(r, "certificate_obtained", req.Domain)
	WriteJSON(w, http.StatusCreated, cert)
}

func (s *Server) handleRenewCertificates(w http.ResponseWriter, r *http.Request) {
	if err := s.proxy.RenewExpiring(r.Context()); err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.audit(r, "certificates_renewed", "")
	WriteJSON(w, http.StatusOK, map[string]bool{"success": true})
}
