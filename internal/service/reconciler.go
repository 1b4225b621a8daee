package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/finbridge/venuegate/internal/config"
	"github.com/finbridge/venuegate/internal/ledger"
	"github.com/finbridge/venuegate/internal/model"
	"github.com/finbridge/venuegate/internal/pkg/logger"
	"github.com/finbridge/venuegate/internal/pkg/metrics"
	"github.com/finbridge/venuegate/internal/repository"
	"github.com/finbridge/venuegate/internal/venue"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Reconciler compares venue-reported balances against the ledger's
// allocated totals and records the drift. It never mutates allocations;
// discrepancies are evidence for operators, not something to paper over.
type Reconciler struct {
	registry *venue.Registry
	ledger   *ledger.Ledger
	recons   repository.ReconStore
	allocs   repository.AllocationStore

	assets     []string
	epsilonAbs decimal.Decimal
	epsilonBps decimal.Decimal
	log        *slog.Logger
}

func NewReconciler(
	cfg config.ReconciliationConfig,
	registry *venue.Registry,
	led *ledger.Ledger,
	recons repository.ReconStore,
	allocs repository.AllocationStore,
) *Reconciler {
	epsAbs, err := decimal.NewFromString(cfg.EpsilonAbs)
	if err != nil {
		epsAbs = decimal.NewFromFloat(0.01)
	}
	return &Reconciler{
		registry:   registry,
		ledger:     led,
		recons:     recons,
		allocs:     allocs,
		assets:     cfg.TrackedAssets,
		epsilonAbs: epsAbs,
		epsilonBps: decimal.NewFromInt(cfg.EpsilonBps),
		log:        logger.Component("reconciler"),
	}
}

func (r *Reconciler) Name() string { return "balance-reconciliation" }

// Run reconciles every tracked (venue, asset) pair. One venue failing
// does not stop the rest of the cycle.
func (r *Reconciler) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	for _, venueID := range r.registry.EnabledIDs() {
		adapter, err := r.registry.Adapter(venueID)
		if err != nil {
			continue
		}
		for _, asset := range r.assets {
			if err := r.reconcilePair(ctx, adapter, venueID, asset); err != nil {
				r.log.Warn("pair reconciliation failed", "venue", venueID,
					"asset", asset, "error", err.Error())
			}
		}
	}

	if r.allocs != nil {
		if err := r.allocs.Save(ctx, r.ledger.Snapshot()); err != nil {
			r.log.Error("allocation snapshot failed", "error", err.Error())
		}
	}
	return nil
}

func (r *Reconciler) reconcilePair(ctx context.Context, adapter venue.Adapter, venueID, asset string) error {
	balance, err := adapter.GetBalance(ctx, asset)
	if err != nil {
		return err
	}

	actual := balance.Total
	allocated := r.ledger.AllocatedTotal(venueID, asset)
	difference := actual.Sub(allocated)
	status := r.classify(actual, allocated, difference)

	rec := &model.ReconciliationRecord{
		ID:         uuid.NewString(),
		Venue:      venueID,
		Asset:      asset,
		Actual:     actual,
		Allocated:  allocated,
		Difference: difference,
		Status:     status,
		CreatedAt:  time.Now().UTC(),
	}
	if r.recons != nil {
		if err := r.recons.Insert(ctx, rec); err != nil {
			r.log.Error("reconciliation record not persisted", "venue", venueID,
				"asset", asset, "error", err.Error())
		}
	}

	r.ledger.RefreshTotal(venueID, asset, actual)

	if status != model.ReconBalanced {
		metrics.ReconDiscrepancies.WithLabelValues(venueID, string(status)).Inc()
		r.log.Warn("balance drift detected", "venue", venueID, "asset", asset,
			"status", status, "actual", actual.String(),
			"allocated", allocated.String(), "difference", difference.String())
	}
	return nil
}

// classify applies a relative tolerance with an absolute floor, so dust
// on large balances and rounding on small ones both read as balanced.
func (r *Reconciler) classify(actual, allocated, difference decimal.Decimal) model.ReconciliationStatus {
	epsilon := r.epsilonAbs
	relative := actual.Abs().Mul(r.epsilonBps).Div(decimal.NewFromInt(10000))
	if relative.GreaterThan(epsilon) {
		epsilon = relative
	}

	switch {
	case difference.Abs().LessThanOrEqual(epsilon):
		return model.ReconBalanced
	case difference.Sign() < 0:
		return model.ReconOverAllocated
	default:
		return model.ReconUnderAllocated
	}
}

// Sweeper polls every open order's venue status so fills and cancels
// observed out of band still converge into the ledger.
type Sweeper struct {
	pipeline *Pipeline
	orders   repository.OrderStore
	registry *venue.Registry
	log      *slog.Logger
}

func NewSweeper(pipeline *Pipeline, orders repository.OrderStore, registry *venue.Registry) *Sweeper {
	return &Sweeper{
		pipeline: pipeline,
		orders:   orders,
		registry: registry,
		log:      logger.Component("sweeper"),
	}
}

func (s *Sweeper) Name() string { return "open-order-sweep" }

func (s *Sweeper) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	open, err := s.orders.ListOpen(ctx)
	if err != nil {
		return err
	}

	for _, order := range open {
		if order.ExternalID == "" {
			continue
		}
		adapter, err := s.registry.Adapter(order.Venue)
		if err != nil {
			continue
		}
		ack, err := adapter.GetOrderStatus(ctx, order.ExternalID, order.Symbol)
		if err != nil {
			s.log.Warn("sweep status poll failed", "order_id", order.ID,
				"venue", order.Venue, "error", err.Error())
			continue
		}
		if ack.Status == order.Status && ack.FilledAmount.Equal(order.FilledAmount) &&
			ack.AvgPrice.Equal(order.AvgPrice) && ack.Fees.Equal(order.Fees) {
			continue
		}
		if err := s.pipeline.ApplyOrderUpdate(ctx, order, ack.Status, ack.FilledAmount, ack.AvgPrice, ack.Fees); err != nil {
			s.log.Error("sweep update failed", "order_id", order.ID, "error", err.Error())
		}
	}
	return nil
}
