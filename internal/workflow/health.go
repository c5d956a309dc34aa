package workflow

import (
	"context"

	"lectern/internal/stage"
)

// HealthReport aggregates per-stage readiness checks.
type HealthReport struct {
	Checks []stage.Health
	Ready  bool
}

// HealthCheck probes the queue and every stage handler. The report is
// not ready if any individual check fails.
func (m *Manager) HealthCheck(ctx context.Context) HealthReport {
	report := HealthReport{Ready: true}

	queueCheck := stage.Healthy("queue")
	if _, err := m.store.Health(ctx); err != nil {
		queueCheck = stage.Unhealthy("queue", err.Error())
	}
	report.Checks = append(report.Checks, queueCheck)

	for _, stg := range m.stages {
		check := stg.handler.HealthCheck(ctx)
		report.Checks = append(report.Checks, check)
	}
	for _, check := range report.Checks {
		if !check.Ready {
			report.Ready = false
		}
	}
	return report
}
