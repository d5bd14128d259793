package cmd

import (
	"context"
	"fmt"
	"time"

	"meridian-router.dev/meridian/internal/firewall"
	"meridian-router.dev/meridian/internal/network"
	"meridian-router.dev/meridian/internal/store"
)

// RunApplyNetwork is the boot-time apply: sync the interface inventory,
// re-install persistent routes and load the firewall ruleset. Meant to run
// from a systemd oneshot before the daemon starts.
func RunApplyNetwork(configFile string) error {
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

	interfaces := network.NewInterfaceManager(st, logger.WithComponent("network"))
	if err := interfaces.Sync(ctx); err != nil {
		logger.Warn("interface sync failed", "error", err)
	}

	routes := network.NewRouteManager(st, logger.WithComponent("network"))
	if err := routes.ApplyPersistent(ctx); err != nil {
		return fmt.Errorf("applying persistent routes: %w", err)
	}

	// A box with a WAN interface is routing; forwarding has to survive
	// reboots.
	if cfg.Firewall.WANInterface != "" {
		if err := network.SetForwarding(true); err != nil {
			logger.Warn("enabling ip forwarding failed", "error", err)
		}
	}

	fw := firewall.NewManager(st, cfg.Firewall, logger.WithComponent("firewall"))
	if err := fw.Apply(ctx); err != nil {
		return fmt.Errorf("applying firewall ruleset: %w", err)
	}

	fmt.Println("network configuration applied")
	return nil
}
