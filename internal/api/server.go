// Package api implements the HTTP admin API.
package api

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"meridian-router.dev/meridian/internal/auth"
	"meridian-router.dev/meridian/internal/brand"
	"meridian-router.dev/meridian/internal/clock"
	"meridian-router.dev/meridian/internal/config"
	"meridian-router.dev/meridian/internal/firewall"
	"meridian-router.dev/meridian/internal/health"
	"meridian-router.dev/meridian/internal/logging"
	"meridian-router.dev/meridian/internal/metrics"
	"meridian-router.dev/meridian/internal/network"
	"meridian-router.dev/meridian/internal/proxy"
	"meridian-router.dev/meridian/internal/scheduler"
	"meridian-router.dev/meridian/internal/store"
	"meridian-router.dev/meridian/internal/vpn"
)

// Server handles API requests.
type Server struct {
	cfg    *config.Config
	store  *store.Store
	auth   *auth.Service
	logger *logging.Logger

	scheduler    *scheduler.Scheduler
	firewall     *firewall.Manager
	vpn          *vpn.Manager
	proxy        *proxy.Manager
	health       *health.Checker
	interfaces   *network.InterfaceManager
	routes       *network.RouteManager
	routeMonitor *network.RouteMonitor

	ws        *WSManager
	startTime time.Time
	mux       *http.ServeMux
	httpSrv   *http.Server
}

// ServerOptions holds the server's dependencies.
type ServerOptions struct {
	Config       *config.Config
	Store        *store.Store
	Auth         *auth.Service
	Logger       *logging.Logger
	Scheduler    *scheduler.Scheduler
	Firewall     *firewall.Manager
	VPN          *vpn.Manager
	Proxy        *proxy.Manager
	Health       *health.Checker
	Interfaces   *network.InterfaceManager
	Routes       *network.RouteManager
	RouteMonitor *network.RouteMonitor
}

// NewServer creates the API server and registers its routes.
func NewServer(opts ServerOptions) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Default().WithComponent("api")
	}

	s := &Server{
		cfg:          opts.Config,
		store:        opts.Store,
		auth:         opts.Auth,
		logger:       logger,
		scheduler:    opts.Scheduler,
		firewall:     opts.Firewall,
		vpn:          opts.VPN,
		proxy:        opts.Proxy,
		health:       opts.Health,
		interfaces:   opts.Interfaces,
		routes:       opts.Routes,
		routeMonitor: opts.RouteMonitor,
		startTime:    clock.Now(),
	}
	s.ws = NewWSManager(logger)
	s.initRoutes()
	return s
}

func (s *Server) initRoutes() {
	mux := http.NewServeMux()
	s.mux = mux

	// Public endpoints
	mux.HandleFunc("POST /api/auth/login", s.handleLogin)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.Handle("GET /metrics", metrics.Handler())

	// Session
	mux.Handle("GET /api/auth/me", s.require(s.handleMe))
	mux.Handle("POST /api/auth/logout", s.require(s.handleLogout))
	mux.Handle("POST /api/auth/password", s.require(s.handleChangePassword))
	mux.Handle("POST /api/users", s.requireAdmin(s.handleCreateUser))
	mux.Handle("GET /api/activity", s.requireAdmin(s.handleActivity))

	// Monitoring
	mux.Handle("GET /api/dashboard", s.require(s.handleDashboard))
	mux.Handle("GET /api/metrics/latest", s.require(s.handleLatestMetrics))
	mux.Handle("GET /api/metrics/history", s.require(s.handleMetricHistory))
	mux.Handle("GET /api/services", s.require(s.handleServices))
	mux.Handle("GET /api/logs", s.require(s.handleLogs))
	mux.Handle("GET /api/connections", s.require(s.handleConnections))
	mux.Handle("GET /api/health", s.require(s.handleHealth))

	// Alerts
	mux.Handle("GET /api/alerts", s.require(s.handleListAlerts))
	mux.Handle("POST /api/alerts", s.requireAdmin(s.handleCreateAlert))
	mux.Handle("GET /api/alerts/{id}", s.require(s.handleGetAlert))
	mux.Handle("PUT /api/alerts/{id}", s.requireAdmin(s.handleUpdateAlert))
	mux.Handle("DELETE /api/alerts/{id}", s.requireAdmin(s.handleDeleteAlert))
	mux.Handle("GET /api/alerts/instances", s.require(s.handleAlertInstances))
	mux.Handle("POST /api/alerts/instances/{id}/ack", s.requireAdmin(s.handleAcknowledgeInstance))

	// Firewall
	mux.Handle("GET /api/firewall/rules", s.require(s.handleListFirewallRules))
	mux.Handle("POST /api/firewall/rules", s.requireAdmin(s.handleCreateFirewallRule))
	mux.Handle("PUT /api/firewall/rules/{id}", s.requireAdmin(s.handleUpdateFirewallRule))
	mux.Handle("DELETE /api/firewall/rules/{id}", s.requireAdmin(s.handleDeleteFirewallRule))
	mux.Handle("GET /api/firewall/forwards", s.require(s.handleListPortForwards))
	mux.Handle("POST /api/firewall/forwards", s.requireAdmin(s.handleCreatePortForward))
	mux.Handle("PUT /api/firewall/forwards/{id}", s.requireAdmin(s.handleUpdatePortForward))
	mux.Handle("DELETE /api/firewall/forwards/{id}", s.requireAdmin(s.handleDeletePortForward))
	mux.Handle("GET /api/firewall/preview", s.requireAdmin(s.handleFirewallPreview))
	mux.Handle("GET /api/firewall/ruleset", s.require(s.handleFirewallRuleset))
	mux.Handle("POST /api/firewall/apply", s.requireAdmin(s.handleFirewallApply))
	mux.Handle("GET /api/nat", s.require(s.handleGetNAT))
	mux.Handle("POST /api/nat", s.requireAdmin(s.handleSetNAT))
	mux.Handle("GET /api/deployments", s.require(s.handleDeployments))

	// Network
	mux.Handle("GET /api/interfaces", s.require(s.handleListInterfaces))
	mux.Handle("POST /api/interfaces/sync", s.requireAdmin(s.handleSyncInterfaces))
	mux.Handle("POST /api/interfaces/{name}/state", s.requireAdmin(s.handleInterfaceState))
	mux.Handle("GET /api/routes", s.require(s.handleListRoutes))
	mux.Handle("POST /api/routes", s.requireAdmin(s.handleCreateRoute))
	mux.Handle("DELETE /api/routes/{id}", s.requireAdmin(s.handleDeleteRoute))
	mux.Handle("GET /api/routes/table", s.require(s.handleRoutingTable))
	mux.Handle("GET /api/routes/health", s.require(s.handleRouteHealth))
	mux.Handle("GET /api/forwarding", s.require(s.handleGetForwarding))
	mux.Handle("POST /api/forwarding", s.requireAdmin(s.handleSetForwarding))

	// VPN
	mux.Handle("GET /api/vpn/tunnels", s.require(s.handleListTunnels))
	mux.Handle("POST /api/vpn/tunnels", s.requireAdmin(s.handleCreateTunnel))
	mux.Handle("PUT /api/vpn/tunnels/{id}", s.requireAdmin(s.handleUpdateTunnel))
	mux.Handle("DELETE /api/vpn/tunnels/{id}", s.requireAdmin(s.handleDeleteTunnel))
	mux.Handle("POST /api/vpn/apply", s.requireAdmin(s.handleVPNApply))
	mux.Handle("POST /api/vpn/tunnels/{id}/up", s.requireAdmin(s.handleTunnelUp))
	mux.Handle("POST /api/vpn/tunnels/{id}/down", s.requireAdmin(s.handleTunnelDown))
	mux.Handle("POST /api/vpn/psk", s.requireAdmin(s.handleGeneratePSK))
	mux.Handle("GET /api/vpn/wireguard", s.require(s.handleWireGuardStatus))

	// Proxy
	mux.Handle("GET /api/proxy/sites", s.require(s.handleListProxySites))
	mux.Handle("POST /api/proxy/sites", s.requireAdmin(s.handleCreateProxySite))
	mux.Handle("PUT /api/proxy/sites/{id}", s.requireAdmin(s.handleUpdateProxySite))
	mux.Handle("DELETE /api/proxy/sites/{id}", s.requireAdmin(s.handleDeleteProxySite))
	mux.Handle("POST /api/proxy/sites/{id}/deploy", s.requireAdmin(s.handleDeployProxySite))
	mux.Handle("GET /api/certificates", s.require(s.handleListCertificates))
	mux.Handle("POST /api/certificates/obtain", s.requireAdmin(s.handleObtainCertificate))
	mux.Handle("POST /api/certificates/renew", s.requireAdmin(s.handleRenewCertificates))

	// Scheduler
	mux.Handle("GET /api/tasks", s.require(s.handleTaskStatus))
	mux.Handle("POST /api/tasks/{id}/run", s.requireAdmin(s.handleRunTask))

	// Live status stream
	mux.Handle("GET /api/ws/status", s.require(s.handleStatusWS))
}

// Handler returns the full middleware chain.
func (s *Server) Handler() http.Handler {
	return s.accessLog(s.mux)
}

// Start runs the HTTP server until the context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	addr := s.cfg.API.Listen
	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 16,
	}

	errCh := make(chan error, 1)
	go func() {
		if s.cfg.API.TLSCert != "" && s.cfg.API.TLSKey != "" {
			s.logger.Info("API server starting with TLS", "addr", addr)
			errCh <- s.httpSrv.ListenAndServeTLS(s.cfg.API.TLSCert, s.cfg.API.TLSKey)
			return
		}
		s.logger.Info("API server starting", "addr", addr)
		errCh <- s.httpSrv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.ws.CloseAll()
		return s.httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

// accessLog logs every request and feeds the API metrics.
func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := clock.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start)
		if r.URL.Path == "/metrics" || r.URL.Path == "/healthz" {
			return
		}
		metrics.Get().RecordAPIRequest(r.Method, routePattern(r), wrapped.statusCode, duration.Seconds())

		logFn := s.logger.Info
		if wrapped.statusCode >= 500 {
			logFn = s.logger.Error
		} else if wrapped.statusCode >= 400 {
			logFn = s.logger.Warn
		}
		logFn("request",
			"method", r.Method, "path", r.URL.Path,
			"status", wrapped.statusCode, "duration", duration.Round(time.Millisecond),
			"ip", getClientIP(r))
	})
}

// routePattern returns the matched route pattern so metrics labels stay
// bounded even with IDs in the path.
func routePattern(r *http.Request) string {
	if p := r.Pattern; p != "" {
		// Pattern includes the method prefix, e.g. "GET /api/alerts/{id}".
		if _, path, found := strings.Cut(p, " "); found {
			return path
		}
		return p
	}
	return r.URL.Path
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]any{
		"status":  "online",
		"version": brand.Version,
		"uptime":  time.Since(s.startTime).Round(time.Second).String(),
	})
}

// statusSnapshot builds the payload pushed on the websocket status topic.
func (s *Server) statusSnapshot() any {
	out := map[string]any{
		"status":  "online",
		"version": brand.Version,
		"uptime":  time.Since(s.startTime).Round(time.Second).String(),
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if open, err := s.store.CountOpenInstances(ctx); err == nil {
		out["alerts_firing"] = open
	}
	return out
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.store.Ping(ctx); err != nil {
		WriteError(w, http.StatusServiceUnavailable, "database unreachable")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, fmt.Errorf("hijack not supported")
}
