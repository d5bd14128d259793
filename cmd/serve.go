// Package cmd implements the CLI entry points.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"meridian-router.dev/meridian/internal/api"
	"meridian-router.dev/meridian/internal/auth"
	"meridian-router.dev/meridian/internal/config"
	"meridian-router.dev/meridian/internal/firewall"
	"meridian-router.dev/meridian/internal/health"
	"meridian-router.dev/meridian/internal/logging"
	"meridian-router.dev/meridian/internal/monitoring"
	"meridian-router.dev/meridian/internal/network"
	"meridian-router.dev/meridian/internal/notification"
	"meridian-router.dev/meridian/internal/proxy"
	"meridian-router.dev/meridian/internal/scheduler"
	"meridian-router.dev/meridian/internal/store"
	"meridian-router.dev/meridian/internal/vpn"
)

// RunServe starts the daemon: store, scheduler and API server. It blocks
// until SIGINT or SIGTERM.
func RunServe(configFile string) error {
	cfg, err := loadConfig(configFile)
	if err != nil {
		return err
	}

	logger := buildLogger(cfg.Log)
	logging.SetDefault(logger)

	st, err := store.Open(cfg.Database)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	authSvc, err := auth.NewService(st, cfg.API, logger.WithComponent("auth"))
	if err != nil {
		return err
	}
	if err := authSvc.EnsureAdmin(ctx,
		os.Getenv("MERIDIAN_ADMIN_USER"), os.Getenv("MERIDIAN_ADMIN_PASSWORD")); err != nil {
		return fmt.Errorf("seeding admin user: %w", err)
	}

	if cfg.Monitoring.AlertsFile != "" {
		if err := monitoring.ProvisionAlerts(ctx, st, cfg.Monitoring.AlertsFile, logger); err != nil {
			logger.Warn("alert provisioning failed", "file", cfg.Monitoring.AlertsFile, "error", err)
		}
	}

	dispatcher := notification.NewDispatcher(cfg.Notifications, logger.WithComponent("notify"))

	collector := monitoring.NewCollector(st, cfg.Monitoring, logger.WithComponent("collector"))
	serviceMon := monitoring.NewServiceMonitor(st, cfg.Monitoring, logger.WithComponent("services"))
	logCollector := monitoring.NewLogCollector(st, cfg.Monitoring, logger.WithComponent("syslog"))
	alertEngine := monitoring.NewAlertEngine(st, dispatcher, logger.WithComponent("alerts"))
	retention := monitoring.NewRetention(st, cfg.Monitoring, logger.WithComponent("retention"))
	checker := health.NewChecker(st, cfg.Monitoring, logger.WithComponent("health"))

	firewallMgr := firewall.NewManager(st, cfg.Firewall, logger.WithComponent("firewall"))
	vpnMgr := vpn.NewManager(st, cfg.VPN, logger.WithComponent("vpn"))
	proxyMgr := proxy.NewManager(st, cfg.Proxy, logger.WithComponent("proxy"))
	interfaceMgr := network.NewInterfaceManager(st, logger.WithComponent("network"))
	routeMgr := network.NewRouteManager(st, logger.WithComponent("network"))
	routeMonitor := network.NewRouteMonitor(st, logger.WithComponent("routes"))

	sched := scheduler.New(logger)
	tasks := []*scheduler.Task{
		scheduler.NewMetricsCollectionTask(collector.Collect, cfg.Monitoring.CollectInterval()),
		scheduler.NewServiceStatusTask(serviceMon.CollectAll, cfg.Monitoring.CollectInterval()),
		scheduler.NewLogCollectionTask(logCollector.Collect, cfg.Monitoring.LogCollectInterval()),
		scheduler.NewAlertEvaluationTask(alertEngine.EvaluateAll, cfg.Monitoring.CollectInterval()),
		scheduler.NewCleanupTask(retention.Run, cfg.Monitoring.CleanupHour),
		scheduler.NewHealthCheckTask(func(ctx context.Context) error {
			_, err := checker.Run(ctx)
			return err
		}, cfg.Monitoring.HealthCheckInterval()),
		scheduler.NewCertificateRenewalTask(proxyMgr.RenewExpiring),
		scheduler.NewVPNStatusTask(func(ctx context.Context) error {
			if err := vpnMgr.RefreshStatus(ctx); err != nil {
				return err
			}
			return vpnMgr.RefreshWireGuardStatus(ctx)
		}, cfg.Monitoring.CollectInterval()),
		scheduler.NewRouteHealthTask(func(ctx context.Context) error {
			_, err := routeMonitor.CheckAll(ctx)
			return err
		}, cfg.Monitoring.HealthCheckInterval()),
	}
	for _, task := range tasks {
		if err := sched.AddTask(task); err != nil {
			return fmt.Errorf("registering task %s: %w", task.ID, err)
		}
	}
	sched.Start()
	defer sched.Stop()

	server := api.NewServer(api.ServerOptions{
		Config:       cfg,
		Store:        st,
		Auth:         authSvc,
		Logger:       logger.WithComponent("api"),
		Scheduler:    sched,
		Firewall:     firewallMgr,
		VPN:          vpnMgr,
		Proxy:        proxyMgr,
		Health:       checker,
		Interfaces:   interfaceMgr,
		Routes:       routeMgr,
		RouteMonitor: routeMonitor,
	})

	logger.Info("daemon started", "listen", cfg.API.Listen, "driver", st.Driver())
	return server.Start(ctx)
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	cfg, err := config.LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("loading config %s: %w", path, err)
	}
	return cfg, nil
}

func buildLogger(lc *config.LogConfig) *logging.Logger {
	cfg := logging.DefaultConfig()
	if lc != nil {
		switch lc.Level {
		case "debug":
			cfg.Level = logging.LevelDebug
		case "warn":
			cfg.Level = logging.LevelWarn
		case "error":
			cfg.Level = logging.LevelError
		}
		cfg.JSON = lc.JSON
		if lc.File != "" {
			if f, err := os.OpenFile(lc.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644); err == nil {
				cfg.Output = f
			} else {
				fmt.Fprintf(os.Stderr, "cannot open log file %s: %v, logging to stderr\n", lc.File, err)
			}
		}
	}
	return logging.New(cfg)
}
