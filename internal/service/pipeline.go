package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/finbridge/venuegate/internal/config"
	"github.com/finbridge/venuegate/internal/ledger"
	"github.com/finbridge/venuegate/internal/model"
	"github.com/finbridge/venuegate/internal/pkg/apperrors"
	"github.com/finbridge/venuegate/internal/pkg/logger"
	"github.com/finbridge/venuegate/internal/pkg/metrics"
	"github.com/finbridge/venuegate/internal/repository"
	"github.com/finbridge/venuegate/internal/venue"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Pipeline runs the order lifecycle: dedup, risk, venue selection,
// allocation, submission, settlement. Allocation and submission are
// kept consistent by compensating: an order that fails after funds are
// reserved gets them back before the error surfaces.
type Pipeline struct {
	registry   *venue.Registry
	ledger     *ledger.Ledger
	orders     repository.OrderStore
	risk       *RiskEngine
	compliance ComplianceReporter
	reserve    repository.Reserver

	window      time.Duration
	callTimeout time.Duration
	log         *slog.Logger
}

func NewPipeline(
	cfg config.PipelineConfig,
	registry *venue.Registry,
	led *ledger.Ledger,
	orders repository.OrderStore,
	risk *RiskEngine,
	compliance ComplianceReporter,
) *Pipeline {
	return &Pipeline{
		registry:    registry,
		ledger:      led,
		orders:      orders,
		risk:        risk,
		compliance:  compliance,
		window:      time.Duration(cfg.IdempotencyWindowSeconds) * time.Second,
		callTimeout: time.Duration(cfg.CallTimeoutSeconds) * time.Second,
		log:         logger.Component("pipeline"),
	}
}

// WithReserver installs an advisory idempotency reservation checked
// before the order store's conditional insert. The store remains
// authoritative; a reservation miss only short-circuits the common case.
func (p *Pipeline) WithReserver(r repository.Reserver) *Pipeline {
	p.reserve = r
	return p
}

// SubmitOrder processes one trade intent end to end. A duplicate intent
// inside the dedup window returns the original order with created=false
// and no side effects.
func (p *Pipeline) SubmitOrder(ctx context.Context, req model.OrderRequest) (*model.InternalOrder, bool, error) {
	if err := validateRequest(req); err != nil {
		return nil, false, err
	}

	// Resolve retries before risk checks and venue selection, so a retry
	// of an already created order returns it even when the venue has
	// since gone unhealthy or a risk limit has been reached.
	idemKey := req.IdempotencyKey()
	if existing, err := p.orders.FindActiveByKey(ctx, idemKey, p.window); err == nil {
		p.log.Info("duplicate order suppressed", "order_id", existing.ID,
			"broker", req.BrokerID, "symbol", req.Symbol)
		return existing, false, nil
	}

	if err := p.risk.CheckOrder(ctx, req); err != nil {
		return nil, false, err
	}

	venueID, err := p.registry.SelectVenue(req.Symbol, req.Side, req.Amount)
	if err != nil {
		return nil, false, err
	}

	if p.reserve != nil {
		fresh, rerr := p.reserve.Reserve(ctx, idemKey)
		if rerr != nil {
			// the reservation layer being down must not halt trading
			p.log.Warn("idempotency reservation unavailable", "error", rerr.Error())
		} else if !fresh {
			p.log.Debug("idempotency key already reserved", "broker", req.BrokerID, "symbol", req.Symbol)
		}
	}

	now := time.Now().UTC()
	order := &model.InternalOrder{
		ID:             uuid.NewString(),
		IdempotencyKey: idemKey,
		TenantID:       req.TenantID,
		BrokerID:       req.BrokerID,
		UserID:         req.UserID,
		Venue:          venueID,
		Symbol:         req.Symbol,
		Side:           req.Side,
		Type:           req.Type,
		Amount:         req.Amount,
		Price:          req.Price,
		Status:         model.OrderPending,
		SettleAsset:    req.SettlementAsset(),
		AllocatedAmt:   req.SettlementAmount(),
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	persisted, created, err := p.orders.CreateIfAbsent(ctx, order, p.window)
	if err != nil {
		return nil, false, err
	}
	if !created {
		p.log.Info("duplicate order suppressed", "order_id", persisted.ID,
			"broker", req.BrokerID, "symbol", req.Symbol)
		return persisted, false, nil
	}

	if err := p.execute(ctx, order, req); err != nil {
		return nil, false, err
	}
	return order, true, nil
}

// execute drives a freshly created order through allocation and venue
// submission. State transitions are persisted as they happen so a crash
// leaves an auditable trail.
func (p *Pipeline) execute(ctx context.Context, order *model.InternalOrder, req model.OrderRequest) error {
	allocCtx := map[string]interface{}{"order_id": order.ID}

	err := p.ledger.Allocate(order.Venue, order.SettleAsset, order.BrokerID, order.UserID, order.AllocatedAmt)
	if err != nil {
		// nothing reached the venue, so the record and its claim go
		p.discardOrder(ctx, order)
		metrics.OrdersTotal.WithLabelValues("rejected", string(order.Side), order.Venue).Inc()
		return err
	}

	order.Status = model.OrderAllocated
	if err := p.orders.Update(ctx, order); err != nil {
		p.rollbackAllocation(order, allocCtx)
		p.discardOrder(ctx, order)
		return err
	}

	adapter, err := p.registry.Adapter(order.Venue)
	if err != nil {
		p.rollbackAllocation(order, allocCtx)
		p.discardOrder(ctx, order)
		return err
	}

	callCtx, cancel := context.WithTimeout(ctx, p.callTimeout)
	defer cancel()
	ack, err := adapter.PlaceOrder(callCtx, venue.OrderParams{
		Symbol:   order.Symbol,
		Side:     order.Side,
		Type:     order.Type,
		Amount:   order.Amount,
		Price:    order.Price,
		ClientID: order.ID,
	})
	if err != nil {
		p.rollbackAllocation(order, allocCtx)
		order.Status = model.OrderRejected
		order.FailureReason = err.Error()
		if uerr := p.orders.Update(ctx, order); uerr != nil {
			p.log.Error("failed to persist rejection", "order_id", order.ID, "error", uerr.Error())
		}
		metrics.OrdersTotal.WithLabelValues("rejected", string(order.Side), order.Venue).Inc()
		return err
	}

	order.ExternalID = ack.ExternalID
	order.Status = model.OrderSubmitted
	p.applyAck(order, ack)
	p.reportCompliance(ctx, order)
	p.risk.RecordUsage(ctx, req)

	if err := p.orders.Update(ctx, order); err != nil {
		// the venue has the order; surfacing an error now would invite a
		// duplicate submission
		p.log.Error("failed to persist submitted order", "order_id", order.ID, "error", err.Error())
	}
	metrics.OrdersTotal.WithLabelValues("submitted", string(order.Side), order.Venue).Inc()
	p.log.Info("order submitted", "order_id", order.ID, "venue", order.Venue,
		"external_id", order.ExternalID, "symbol", order.Symbol,
		"side", order.Side, "amount", order.Amount.String())
	return nil
}

// discardOrder removes an order that failed before reaching a venue,
// with its idempotency claim and any advisory reservation, so a
// corrected retry is not held for the dedup window.
func (p *Pipeline) discardOrder(ctx context.Context, order *model.InternalOrder) {
	_ = p.orders.Delete(ctx, order.ID)
	if p.reserve != nil {
		p.reserve.Release(ctx, order.IdempotencyKey)
	}
}

// GetOrder returns the stored order, refreshed from the venue when it
// is still open.
func (p *Pipeline) GetOrder(ctx context.Context, id string) (*model.InternalOrder, error) {
	order, err := p.orders.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if order.Status.Terminal() || order.ExternalID == "" {
		return order, nil
	}

	adapter, err := p.registry.Adapter(order.Venue)
	if err != nil {
		return order, nil
	}
	callCtx, cancel := context.WithTimeout(ctx, p.callTimeout)
	defer cancel()
	ack, err := adapter.GetOrderStatus(callCtx, order.ExternalID, order.Symbol)
	if err != nil {
		p.log.Warn("status refresh failed, serving stored state",
			"order_id", order.ID, "error", err.Error())
		return order, nil
	}

	if err := p.ApplyOrderUpdate(ctx, order, ack.Status, ack.FilledAmount, ack.AvgPrice, ack.Fees); err != nil {
		return order, nil
	}
	return order, nil
}

// CancelOrder cancels an open order at its venue and returns the
// reserved remainder to the platform pool.
func (p *Pipeline) CancelOrder(ctx context.Context, id string) (*model.InternalOrder, error) {
	order, err := p.orders.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if order.Status.Terminal() {
		return nil, apperrors.Newf(apperrors.ErrBusinessReject,
			"order %s is %s and cannot be cancelled", id, order.Status)
	}
	if order.ExternalID == "" {
		return nil, apperrors.Newf(apperrors.ErrBusinessReject,
			"order %s has not reached a venue", id)
	}

	adapter, err := p.registry.Adapter(order.Venue)
	if err != nil {
		return nil, err
	}
	callCtx, cancel := context.WithTimeout(ctx, p.callTimeout)
	defer cancel()
	if err := adapter.CancelOrder(callCtx, order.ExternalID, order.Symbol); err != nil {
		return nil, err
	}

	if err := p.ApplyOrderUpdate(ctx, order, model.OrderCancelled, order.FilledAmount, order.AvgPrice, order.Fees); err != nil {
		return nil, err
	}
	metrics.OrdersTotal.WithLabelValues("cancelled", string(order.Side), order.Venue).Inc()
	return order, nil
}

// ApplyOrderUpdate folds a venue-observed state into the order and the
// ledger. It is the single convergence point for status polls, the
// open-order sweep, and streamed fills, so fill accounting happens once
// per observed delta regardless of which path saw it first.
func (p *Pipeline) ApplyOrderUpdate(ctx context.Context, order *model.InternalOrder, status model.OrderStatus, filled, avgPrice, fees decimal.Decimal) error {
	newlyFilled := filled.Sub(order.FilledAmount)
	if newlyFilled.Sign() > 0 {
		p.settleFill(order, newlyFilled, avgPrice)
	}

	order.FilledAmount = filled
	if avgPrice.Sign() > 0 {
		order.AvgPrice = avgPrice
	}
	if fees.Sign() > 0 {
		order.Fees = fees
	}

	if status.Terminal() && !order.Status.Terminal() {
		p.releaseRemainder(order, status)
	}
	order.Status = status
	return p.orders.Update(ctx, order)
}

// settleFill moves the consumed settlement asset out of the allocation
// and credits the received asset in.
func (p *Pipeline) settleFill(order *model.InternalOrder, newlyFilled, avgPrice decimal.Decimal) {
	base, quote := model.BaseQuote(order.Symbol)
	price := avgPrice
	if price.Sign() <= 0 {
		price = order.Price
	}

	var spent, received decimal.Decimal
	var spentAsset, receivedAsset string
	if order.Side == model.SideSell {
		spentAsset, receivedAsset = base, quote
		spent = newlyFilled
		received = newlyFilled.Mul(price)
	} else {
		spentAsset, receivedAsset = quote, base
		spent = newlyFilled.Mul(price)
		received = newlyFilled
	}

	// spending is capped by what the order reserved
	if spent.GreaterThan(order.AllocatedAmt) {
		spent = order.AllocatedAmt
	}
	if spent.Sign() > 0 {
		if err := p.ledger.Release(order.Venue, spentAsset, order.BrokerID, order.UserID, spent); err != nil {
			p.log.Error("fill release failed", "order_id", order.ID, "error", err.Error())
		} else {
			order.AllocatedAmt = order.AllocatedAmt.Sub(spent)
		}
	}
	if received.Sign() > 0 {
		if err := p.ledger.Credit(order.Venue, receivedAsset, order.BrokerID, order.UserID, received); err != nil {
			p.log.Error("fill credit failed", "order_id", order.ID, "error", err.Error())
		}
	}
}

// releaseRemainder returns the unconsumed reservation when an order
// reaches a terminal state.
func (p *Pipeline) releaseRemainder(order *model.InternalOrder, status model.OrderStatus) {
	if order.AllocatedAmt.Sign() <= 0 {
		return
	}
	err := p.ledger.Deallocate(order.Venue, order.SettleAsset, order.BrokerID, order.UserID, order.AllocatedAmt)
	if err != nil {
		p.log.Error("remainder deallocation failed", "order_id", order.ID,
			"status", status, "error", err.Error())
		return
	}
	order.AllocatedAmt = decimal.Zero
}

func (p *Pipeline) rollbackAllocation(order *model.InternalOrder, _ map[string]interface{}) {
	err := p.ledger.Deallocate(order.Venue, order.SettleAsset, order.BrokerID, order.UserID, order.AllocatedAmt)
	if err != nil {
		p.log.Error("allocation rollback failed", "order_id", order.ID, "error", err.Error())
	}
}

// reportCompliance notifies the reporter exactly once per accepted
// order. Failures downgrade to a warning; the trade stands either way.
func (p *Pipeline) reportCompliance(ctx context.Context, order *model.InternalOrder) {
	if p.compliance == nil {
		return
	}
	ref, err := p.compliance.ReportOrder(ctx, order)
	if err != nil {
		p.log.Warn("compliance report failed", "order_id", order.ID, "error", err.Error())
		return
	}
	order.ComplianceRef = ref
}

func (p *Pipeline) applyAck(order *model.InternalOrder, ack *venue.OrderAck) {
	if ack.FilledAmount.Sign() > 0 {
		p.settleFill(order, ack.FilledAmount, ack.AvgPrice)
		order.FilledAmount = ack.FilledAmount
	}
	if ack.AvgPrice.Sign() > 0 {
		order.AvgPrice = ack.AvgPrice
	}
	if ack.Fees.Sign() > 0 {
		order.Fees = ack.Fees
	}
	if ack.Status != "" {
		order.Status = ack.Status
		if ack.Status == model.OrderSubmitted || ack.Status == model.OrderPending {
			order.Status = model.OrderSubmitted
		}
	}
	if order.Status.Terminal() {
		p.releaseRemainder(order, order.Status)
	}
}

// HandleFill is registered as the fill stream callback.
func (p *Pipeline) HandleFill(fill venue.Fill) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	order, err := p.orders.FindByExternalID(ctx, fill.Venue, fill.ExternalID)
	if err != nil {
		// orders from outside this gateway show up here too
		p.log.Debug("fill for unknown order", "venue", fill.Venue, "external_id", fill.ExternalID)
		return
	}
	if order.Status.Terminal() {
		return
	}
	if err := p.ApplyOrderUpdate(ctx, order, fill.Status, fill.FilledAmount, fill.AvgPrice, fill.Fees); err != nil {
		p.log.Error("fill apply failed", "order_id", order.ID, "error", err.Error())
	}
}

func validateRequest(req model.OrderRequest) error {
	base, quote := model.BaseQuote(req.Symbol)
	if base == "" || quote == "" {
		return apperrors.Newf(apperrors.ErrInvalidRequest, "symbol must be BASE/QUOTE, got %q", req.Symbol)
	}
	if req.Type == model.OrderTypeMarket && req.Side == model.SideBuy && req.Price.Sign() <= 0 {
		// the quote reservation is amount*price, so a market buy needs a
		// price bound
		return apperrors.Newf(apperrors.ErrInvalidRequest,
			"market buys require a price bound to size the quote reservation")
	}
	return nil
}
