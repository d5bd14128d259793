package cmd

import (
	"context"
	"fmt"
	"time"

	"meridian-router.dev/meridian/internal/monitoring"
	"meridian-router.dev/meridian/internal/store"
)

// RunCollect performs a single metrics collection pass and exits. Useful for
// cron-driven installs that do not run the full daemon.
func RunCollect(configFile string) error {
	cfg, err := loadConfig(configFile)
	if err != nil {
		return err
	}
	logger := buildLogger(cfg.Log)

	st, err := store.Open(cfg.Database)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	collector := monitoring.NewCollector(st, cfg.Monitoring, logger.WithComponent("collector"))
	if err := collector.Collect(ctx); err != nil {
		return fmt.Errorf("collecting metrics: %w", err)
	}

	serviceMon := monitoring.NewServiceMonitor(st, cfg.Monitoring, logger.WithComponent("services"))
	if err := serviceMon.CollectAll(ctx); err != nil {
		logger.Warn("service status collection failed", "error", err)
	}

	logCollector := monitoring.NewLogCollector(st, cfg.Monitoring, logger.WithComponent("syslog"))
	if err := logCollector.Collect(ctx); err != nil {
		logger.Warn("log collection failed", "error", err)
	}

	fmt.Println("collection complete")
	return nil
}
