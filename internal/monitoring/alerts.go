package monitoring

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"meridian-router.dev/meridian/internal/clock"
	"meridian-router.dev/meridian/internal/logging"
	"meridian-router.dev/meridian/internal/metrics"
	"meridian-router.dev/meridian/internal/notification"
	"meridian-router.dev/meridian/internal/store"
)

// AlertEngine evaluates alert definitions against the latest samples and
// manages the firing → notified → resolved lifecycle of alert instances.
type AlertEngine struct {
	store      *store.Store
	dispatcher *notification.Dispatcher
	logger     *logging.Logger
}

// NewAlertEngine creates the evaluation loop's engine.
func NewAlertEngine(st *store.Store, dispatcher *notification.Dispatcher, logger *logging.Logger) *AlertEngine {
	if logger == nil {
		logger = logging.Default().WithComponent("alerts")
	}
	return &AlertEngine{store: st, dispatcher: dispatcher, logger: logger}
}

// EvaluateAll runs one evaluation round over all enabled alerts.
func (e *AlertEngine) EvaluateAll(ctx context.Context) error {
	alerts, err := e.store.ListEnabledAlerts(ctx)
	if err != nil {
		return fmt.Errorf("listing alerts: %w", err)
	}

	var firstErr error
	for i := range alerts {
		metrics.Get().AlertsEvaluated.Inc()
		if err := e.Evaluate(ctx, &alerts[i]); err != nil {
			e.logger.Error("alert evaluation failed", "alert", alerts[i].Name, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	if open, err := e.store.CountOpenInstances(ctx); err == nil {
		metrics.Get().AlertsFiring.Set(float64(open))
	}
	return firstErr
}

// Evaluate checks one alert. On a breach it creates an instance and
// notifies, unless one already fired inside the alert's check window. When
// the condition clears, open instances are resolved.
func (e *AlertEngine) Evaluate(ctx context.Context, alert *store.Alert) error {
	sample, err := e.store.LatestMetric(ctx, alert.MetricType, alert.Source)
	if errors.Is(err, store.ErrNotFound) {
		// No data yet for this metric, nothing to evaluate.
		return e.store.TouchAlertChecked(ctx, alert.ID, false)
	}
	if err != nil {
		return err
	}

	breached, err := EvaluateCondition(sample.Value, alert.Operator, alert.Threshold)
	if err != nil {
		return err
	}

	if !breached {
		resolved, err := e.store.ResolveInstances(ctx, alert.ID)
		if err != nil {
			return err
		}
		if resolved > 0 {
			e.logger.Info("alert resolved", "alert", alert.Name, "value", sample.Value)
			e.notify(alert, sample.Value, true)
		}
		return e.store.TouchAlertChecked(ctx, alert.ID, false)
	}

	// Suppress duplicates inside the check window.
	since := clock.Now().UTC().Add(-alert.CheckInterval())
	recent, err := e.store.RecentInstanceExists(ctx, alert.ID, since)
	if err != nil {
		return err
	}
	if recent {
		return e.store.TouchAlertChecked(ctx, alert.ID, false)
	}

	inst := &store.AlertInstance{
		AlertID: alert.ID,
		Value:   sample.Value,
		Message: fmt.Sprintf("%s: %s %s %.2f (current value %.2f%s)",
			alert.Name, alert.MetricType, alert.Operator, alert.Threshold,
			sample.Value, unitSuffix(sample.Unit)),
	}
	if err := e.store.CreateAlertInstance(ctx, inst); err != nil {
		return err
	}

	metrics.Get().AlertsFired.WithLabelValues(alert.Name, alert.Severity).Inc()
	e.logger.Warn("alert fired",
		"alert", alert.Name, "severity", alert.Severity,
		"value", sample.Value, "threshold", alert.Threshold)

	if e.notify(alert, sample.Value, false) {
		if err := e.store.MarkInstanceNotified(ctx, inst.ID); err != nil {
			e.logger.Warn("failed to mark instance notified", "error", err)
		}
	}

	return e.store.TouchAlertChecked(ctx, alert.ID, true)
}

// notify dispatches through the configured channels and, when the alert
// carries its own recipient list, by direct email. Returns true if any
// delivery was attempted.
func (e *AlertEngine) notify(alert *store.Alert, value float64, resolved bool) bool {
	if e.dispatcher == nil {
		return false
	}

	title := fmt.Sprintf("Alert: %s", alert.Name)
	level := severityLevel(alert.Severity)
	body := fmt.Sprintf("%s %s %.2f breached with value %.2f",
		alert.MetricType, alert.Operator, alert.Threshold, value)
	if resolved {
		title = fmt.Sprintf("Resolved: %s", alert.Name)
		level = notification.LevelInfo
		body = fmt.Sprintf("%s back within threshold (value %.2f)", alert.MetricType, value)
	}

	e.dispatcher.Send(notification.Notification{
		Title:   title,
		Message: body,
		Level:   level,
		Data: map[string]any{
			"alert":    alert.Name,
			"metric":   alert.MetricType,
			"value":    value,
			"resolved": resolved,
		},
	})

	if recipients := splitRecipients(alert.Recipients); len(recipients) > 0 && !resolved {
		if err := e.dispatcher.SendEmail(recipients, title, body); err != nil {
			e.logger.Warn("alert email failed", "alert", alert.Name, "error", err)
		}
	}

	return true
}

// EvaluateCondition applies a comparison operator to a sample value.
func EvaluateCondition(value float64, operator string, threshold float64) (bool, error) {
	switch operator {
	case ">":
		return value > threshold, nil
	case "<":
		return value < threshold, nil
	case ">=":
		return value >= threshold, nil
	case "<=":
		return value <= threshold, nil
	case "==":
		return value == threshold, nil
	case "!=":
		return value != threshold, nil
	default:
		return false, fmt.Errorf("unknown operator %q", operator)
	}
}

func severityLevel(severity string) string {
	switch strings.ToLower(severity) {
	case "critical":
		return notification.LevelCritical
	case "warning":
		return notification.LevelWarning
	default:
		return notification.LevelInfo
	}
}

func splitRecipients(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func unitSuffix(unit string) string {
	if unit == "percent" {
		return "%"
	}
	if unit == "" {
		return ""
	}
	return " " + unit
}
