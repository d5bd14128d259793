package monitoring

import (
	"context"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"meridian-router.dev/meridian/internal/logging"
	"meridian-router.dev/meridian/internal/store"
)

// alertsFile is the on-disk YAML layout for provisioned alerts.
type alertsFile struct {
	Alerts []provisionedAlert `yaml:"alerts"`
}

type provisionedAlert struct {
	Name          string  `yaml:"name"`
	Metric        string  `yaml:"metric"`
	Source        string  `yaml:"source"`
	Operator      string  `yaml:"operator"`
	Threshold     float64 `yaml:"threshold"`
	Severity      string  `yaml:"severity"`
	CheckInterval int     `yaml:"check_interval_seconds"`
	Recipients    string  `yaml:"recipients"`
	Disabled      bool    `yaml:"disabled"`
}

// ProvisionAlerts loads alert definitions from a YAML file and syncs them
// into the store by name. Existing alerts keep their id and history;
// definitions not present in the file are left alone so UI-created alerts
// survive.
func ProvisionAlerts(ctx context.Context, st *store.Store, path string, logger *logging.Logger) error {
	if logger == nil {
		logger = logging.Default().WithComponent("alerts")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading alerts file: %w", err)
	}

	var file alertsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parsing alerts file: %w", err)
	}

	created, updated := 0, 0
	for _, def := range file.Alerts {
		if def.Name == "" || def.Metric == "" {
			return fmt.Errorf("alert entry missing name or metric")
		}
		if _, err := EvaluateCondition(0, def.Operator, 0); err != nil {
			return fmt.Errorf("alert %q: %w", def.Name, err)
		}

		alert := store.Alert{
			Name:             def.Name,
			MetricType:       def.Metric,
			Source:           def.Source,
			Operator:         def.Operator,
			Threshold:        def.Threshold,
			Severity:         defaultSeverity(def.Severity),
			Enabled:          !def.Disabled,
			CheckIntervalSec: def.CheckInterval,
			Recipients:       def.Recipients,
		}

		existing, err := st.GetAlertByName(ctx, def.Name)
		switch {
		case errors.Is(err, store.ErrNotFound):
			if err := st.CreateAlert(ctx, &alert); err != nil {
				return err
			}
			created++
		case err != nil:
			return err
		default:
			alert.ID = existing.ID
			if err := st.UpdateAlert(ctx, &alert); err != nil {
				return err
			}
			updated++
		}
	}

	logger.Info("alerts provisioned", "file", path, "created", created, "updated", updated)
	return nil
}

func defaultSeverity(s string) string {
	switch s {
	case "info", "warning", "critical":
		return s
	case "":
		return "warning"
	default:
		return "warning"
	}
}
