package monitoring

import (
	"context"
	"time"

	"meridian-router.dev/meridian/internal/clock"
	"meridian-router.dev/meridian/internal/config"
	"meridian-router.dev/meridian/internal/logging"
	"meridian-router.dev/meridian/internal/store"
)

// Retention prunes samples, logs and connection snapshots past their
// configured age.
type Retention struct {
	store  *store.Store
	cfg    *config.MonitoringConfig
	logger *logging.Logger
}

// NewRetention creates the cleanup job.
func NewRetention(st *store.Store, cfg *config.MonitoringConfig, logger *logging.Logger) *Retention {
	if logger == nil {
		logger = logging.Default().WithComponent("retention")
	}
	return &Retention{store: st, cfg: cfg, logger: logger}
}

// Run deletes expired rows in one pass.
func (r *Retention) Run(ctx context.Context) error {
	now := clock.Now().UTC()

	metricDays := r.cfg.MetricRetentionDays
	if metricDays <= 0 {
		metricDays = 30
	}
	logDays := r.cfg.LogRetentionDays
	if logDays <= 0 {
		logDays = 7
	}

	metrics, err := r.store.DeleteMetricsBefore(ctx, now.AddDate(0, 0, -metricDays))
	if err != nil {
		return err
	}
	logs, err := r.store.DeleteLogsBefore(ctx, now.AddDate(0, 0, -logDays))
	if err != nil {
		return err
	}
	conns, err := r.store.DeleteConnectionsBefore(ctx, now.Add(-r.connectionRetention()))
	if err != nil {
		return err
	}

	if metrics+logs+conns > 0 {
		r.logger.Info("retention cleanup done",
			"metrics", metrics, "logs", logs, "connections", conns)
	}
	return nil
}

func (r *Retention) connectionRetention() time.Duration {
	return r.cfg.ConnectionRetention()
}
