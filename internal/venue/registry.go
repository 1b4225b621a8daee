package venue

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/finbridge/venuegate/internal/model"
	"github.com/finbridge/venuegate/internal/pkg/apperrors"
	"github.com/finbridge/venuegate/internal/pkg/logger"
	"github.com/finbridge/venuegate/internal/pkg/metrics"
	"github.com/shopspring/decimal"
)

type registered struct {
	cfg     model.VenueConfig
	adapter Adapter
	health  model.VenueHealth
}

// Registry holds the configured venues, their live adapter instances, and
// the mutable health state routing decisions are made on.
type Registry struct {
	mu     sync.RWMutex
	venues map[string]*registered
	log    *slog.Logger
}

func NewRegistry() *Registry {
	return &Registry{
		venues: make(map[string]*registered),
		log:    logger.Component("registry"),
	}
}

// Register adds a venue. New venues start healthy so they are routable
// before the first probe completes.
func (r *Registry) Register(cfg model.VenueConfig, adapter Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.venues[cfg.ID] = &registered{
		cfg:     cfg,
		adapter: adapter,
		health:  model.VenueHealth{Status: model.VenueHealthy, LastChecked: time.Now().UTC()},
	}
	metrics.VenueHealthGauge.WithLabelValues(cfg.ID).Set(2)
}

func (r *Registry) Adapter(id string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.venues[id]
	if !ok {
		return nil, apperrors.Newf(apperrors.ErrNotFound, "venue %s is not registered", id)
	}
	return reg.adapter, nil
}

func (r *Registry) Config(id string) (model.VenueConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.venues[id]
	if !ok {
		return model.VenueConfig{}, false
	}
	return reg.cfg, true
}

// EnabledIDs returns enabled venue ids in priority order.
func (r *Registry) EnabledIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.venues))
	for id, reg := range r.venues {
		if reg.cfg.Enabled {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool {
		return r.venues[ids[i]].cfg.Priority < r.venues[ids[j]].cfg.Priority
	})
	return ids
}

// SelectVenue picks the routable venue for an order: enabled, healthy,
// lowest configured priority first.
func (r *Registry) SelectVenue(symbol string, side model.Side, amount decimal.Decimal) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	candidates := make([]*registered, 0, len(r.venues))
	for _, reg := range r.venues {
		if reg.cfg.Enabled && reg.health.Status == model.VenueHealthy {
			candidates = append(candidates, reg)
		}
	}
	if len(candidates) == 0 {
		return "", apperrors.Newf(apperrors.ErrNoHealthyVenue, "no healthy venue available for %s", symbol)
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].cfg.Priority < candidates[j].cfg.Priority
	})
	return candidates[0].cfg.ID, nil
}

func (r *Registry) Health(id string) (model.VenueHealth, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.venues[id]
	if !ok {
		return model.VenueHealth{}, false
	}
	return reg.health, true
}

// SetStatus records a health observation from the monitor. Transitions in
// either direction are logged for operators.
func (r *Registry) SetStatus(id string, status model.VenueStatus, latency time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	reg, ok := r.venues[id]
	if !ok {
		return
	}
	prev := reg.health.Status
	reg.health.Status = status
	reg.health.Latency = latency
	reg.health.LastChecked = time.Now().UTC()
	if status == model.VenueHealthy {
		reg.health.ConsecutiveFailures = 0
	}
	if prev != status {
		r.log.Info("venue health transition", "venue", id, "from", string(prev), "to", string(status), "latency_ms", latency.Milliseconds())
	}
	metrics.VenueHealthGauge.WithLabelValues(id).Set(healthGaugeValue(status))
}

// RecordFailure increments the consecutive-failure counter and marks the
// venue down. It returns the new counter so callers can alert on a streak.
func (r *Registry) RecordFailure(id string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	reg, ok := r.venues[id]
	if !ok {
		return 0
	}
	prev := reg.health.Status
	reg.health.ConsecutiveFailures++
	reg.health.Status = model.VenueDown
	reg.health.LastChecked = time.Now().UTC()
	if prev != model.VenueDown {
		r.log.Warn("venue health transition", "venue", id, "from", string(prev), "to", "down", "consecutive_failures", reg.health.ConsecutiveFailures)
	}
	metrics.VenueHealthGauge.WithLabelValues(id).Set(0)
	return reg.health.ConsecutiveFailures
}

// VenueView is the operator-facing snapshot of one venue.
type VenueView struct {
	Config model.VenueConfig `json:"config"`
	Health model.VenueHealth `json:"health"`
}

func (r *Registry) Snapshot() []VenueView {
	r.mu.RLock()
	defer r.mu.RUnlock()
	views := make([]VenueView, 0, len(r.venues))
	for _, reg := range r.venues {
		views = append(views, VenueView{Config: reg.cfg, Health: reg.health})
	}
	sort.Slice(views, func(i, j int) bool {
		return views[i].Config.Priority < views[j].Config.Priority
	})
	return views
}

func healthGaugeValue(s model.VenueStatus) float64 {
	switch s {
	case model.VenueHealthy:
		return 2
	case model.VenueDegraded:
		return 1
	default:
		return 0
	}
}
