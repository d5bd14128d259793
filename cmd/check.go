package cmd

import (
	"fmt"

	"meridian-router.dev/meridian/internal/config"
)

// RunCheck validates a configuration file without starting anything.
func RunCheck(configFile string, verbose bool) error {
	cfg, err := config.LoadFile(configFile)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	fmt.Printf("%s: OK\n", configFile)
	if verbose {
		fmt.Printf("  listen:            %s\n", cfg.API.Listen)
		fmt.Printf("  database driver:   %s\n", cfg.Database.Driver)
		fmt.Printf("  collect interval:  %s\n", cfg.Monitoring.CollectInterval())
		fmt.Printf("  monitored units:   %d\n", len(cfg.Monitoring.Services))
		fmt.Printf("  wan interface:     %s\n", cfg.Firewall.WANInterface)
		fmt.Printf("  notifications:     %v\n", cfg.Notifications.Enabled)
	}
	return nil
}
