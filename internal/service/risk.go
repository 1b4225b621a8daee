package service

import (
	"context"

	"github.com/finbridge/venuegate/internal/config"
	"github.com/finbridge/venuegate/internal/model"
	"github.com/finbridge/venuegate/internal/pkg/apperrors"
	"github.com/finbridge/venuegate/internal/pkg/metrics"
	"github.com/finbridge/venuegate/internal/repository"
)

// RiskEngine runs pre-trade checks. A returned error means the order
// must be rejected before any allocation happens.
type RiskEngine struct {
	cfg   config.RiskConfig
	usage repository.UsageStore
}

func NewRiskEngine(cfg config.RiskConfig, usage repository.UsageStore) *RiskEngine {
	return &RiskEngine{cfg: cfg, usage: usage}
}

func (e *RiskEngine) CheckOrder(ctx context.Context, req model.OrderRequest) error {
	if req.Amount.Sign() <= 0 {
		metrics.RiskRejects.WithLabelValues("invalid_amount").Inc()
		return apperrors.Newf(apperrors.ErrInvalidRequest, "amount must be positive")
	}
	if req.Type == model.OrderTypeLimit && req.Price.Sign() <= 0 {
		metrics.RiskRejects.WithLabelValues("invalid_price").Inc()
		return apperrors.Newf(apperrors.ErrInvalidRequest, "limit orders require a positive price")
	}

	orderValue, _ := req.SettlementAmount().Float64()
	if e.cfg.MaxOrderValue > 0 && req.Side == model.SideBuy && orderValue > e.cfg.MaxOrderValue {
		metrics.RiskRejects.WithLabelValues("max_value").Inc()
		return apperrors.Newf(apperrors.ErrBusinessReject,
			"order value %.2f exceeds per-order limit %.2f", orderValue, e.cfg.MaxOrderValue)
	}

	if e.cfg.MaxDailyOrders > 0 && e.usage != nil {
		orders, _, err := e.usage.GetDailyUsage(ctx, req.BrokerID)
		// usage store being down must not halt trading
		if err == nil && orders >= e.cfg.MaxDailyOrders {
			metrics.RiskRejects.WithLabelValues("daily_orders").Inc()
			return apperrors.Newf(apperrors.ErrBusinessReject,
				"broker %s reached the daily order limit of %d", req.BrokerID, e.cfg.MaxDailyOrders)
		}
	}
	return nil
}

// RecordUsage is called after a successful submission.
func (e *RiskEngine) RecordUsage(ctx context.Context, req model.OrderRequest) {
	if e.usage == nil {
		return
	}
	volume, _ := req.SettlementAmount().Float64()
	_ = e.usage.AddDailyUsage(ctx, req.BrokerID, 1, volume)
}
