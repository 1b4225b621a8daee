package venue

import (
	"context"
	"log/slog"
	"time"

	"github.com/finbridge/venuegate/internal/model"
	"github.com/finbridge/venuegate/internal/pkg/logger"
	"github.com/finbridge/venuegate/internal/pkg/metrics"
)

// Monitor probes each enabled venue with a lightweight balance call on a
// fixed interval, independent of order flow, and feeds the registry's
// health state.
type Monitor struct {
	reg             *Registry
	probeAsset      string
	probeTimeout    time.Duration
	degradedLatency time.Duration
	alertAfter      int
	log             *slog.Logger
}

func NewMonitor(reg *Registry, probeAsset string, probeTimeout, degradedLatency time.Duration, alertAfter int) *Monitor {
	if alertAfter <= 0 {
		alertAfter = 3
	}
	return &Monitor{
		reg:             reg,
		probeAsset:      probeAsset,
		probeTimeout:    probeTimeout,
		degradedLatency: degradedLatency,
		alertAfter:      alertAfter,
		log:             logger.Component("health-monitor"),
	}
}

func (m *Monitor) Name() string { return "venue-health" }

// Run probes every enabled venue once. A venue's failure never aborts the
// pass for the others.
func (m *Monitor) Run() error {
	for _, id := range m.reg.EnabledIDs() {
		m.probe(id)
	}
	return nil
}

func (m *Monitor) probe(id string) {
	adapter, err := m.reg.Adapter(id)
	if err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), m.probeTimeout)
	defer cancel()

	start := time.Now()
	_, err = adapter.GetBalance(ctx, m.probeAsset)
	latency := time.Since(start)

	if err != nil {
		failures := m.reg.RecordFailure(id)
		if failures == m.alertAfter {
			m.log.Error("venue unreachable, operator attention required",
				"venue", id, "consecutive_failures", failures, "error", err.Error())
			metrics.OperatorAlerts.WithLabelValues("venue_down").Inc()
		}
		return
	}

	status := model.VenueHealthy
	if latency > m.degradedLatency {
		status = model.VenueDegraded
	}
	m.reg.SetStatus(id, status, latency)
}
