package service

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/finbridge/venuegate/internal/config"
	"github.com/finbridge/venuegate/internal/ledger"
	"github.com/finbridge/venuegate/internal/model"
	"github.com/finbridge/venuegate/internal/pkg/apperrors"
	"github.com/finbridge/venuegate/internal/repository"
	"github.com/finbridge/venuegate/internal/venue"
	"github.com/shopspring/decimal"
)

type fakeAdapter struct {
	venueID    string
	placeErr   error
	placeAck   *venue.OrderAck
	statusAck  *venue.OrderAck
	statusErr  error
	cancelErr  error
	placeCalls atomic.Int32
}

func (f *fakeAdapter) Venue() string { return f.venueID }

func (f *fakeAdapter) GetBalance(context.Context, string) (*model.Balance, error) {
	return &model.Balance{Total: decimal.NewFromInt(1000)}, nil
}

func (f *fakeAdapter) PlaceOrder(context.Context, venue.OrderParams) (*venue.OrderAck, error) {
	f.placeCalls.Add(1)
	if f.placeErr != nil {
		return nil, f.placeErr
	}
	if f.placeAck != nil {
		return f.placeAck, nil
	}
	return &venue.OrderAck{ExternalID: "ext-1", Status: model.OrderOpen}, nil
}

func (f *fakeAdapter) GetOrderStatus(context.Context, string, string) (*venue.OrderAck, error) {
	if f.statusErr != nil {
		return nil, f.statusErr
	}
	if f.statusAck != nil {
		return f.statusAck, nil
	}
	return &venue.OrderAck{ExternalID: "ext-1", Status: model.OrderOpen}, nil
}

func (f *fakeAdapter) CancelOrder(context.Context, string, string) error { return f.cancelErr }

type countingReporter struct {
	calls atomic.Int32
	fail  bool
}

func (r *countingReporter) ReportOrder(_ context.Context, order *model.InternalOrder) (string, error) {
	r.calls.Add(1)
	if r.fail {
		return "", apperrors.Newf(apperrors.ErrInternal, "reporting endpoint unreachable")
	}
	return "ref-" + order.ID, nil
}

type pipelineFixture struct {
	pipeline *Pipeline
	ledger   *ledger.Ledger
	orders   *repository.MemoryOrderStore
	adapter  *fakeAdapter
	reporter *countingReporter
	registry *venue.Registry
}

func newPipelineFixture(t *testing.T) *pipelineFixture {
	t.Helper()

	adapter := &fakeAdapter{venueID: "binance"}
	registry := venue.NewRegistry()
	registry.Register(model.VenueConfig{ID: "binance", Enabled: true, Priority: 1}, adapter)

	led := ledger.New(nil)
	led.RefreshTotal("binance", "USDT", decimal.NewFromInt(100000))
	led.RefreshTotal("binance", "BTC", decimal.NewFromInt(10))

	orders := repository.NewMemoryOrderStore()
	reporter := &countingReporter{}
	risk := NewRiskEngine(config.RiskConfig{}, repository.NewMemoryUsageStore())

	cfg := config.PipelineConfig{IdempotencyWindowSeconds: 30, CallTimeoutSeconds: 5}
	return &pipelineFixture{
		pipeline: NewPipeline(cfg, registry, led, orders, risk, reporter),
		ledger:   led,
		orders:   orders,
		adapter:  adapter,
		reporter: reporter,
		registry: registry,
	}
}

func buyRequest(amount, price string) model.OrderRequest {
	return model.OrderRequest{
		TenantID: "tenant-1",
		BrokerID: "broker-1",
		UserID:   "cust-1",
		Symbol:   "BTC/USDT",
		Side:     model.SideBuy,
		Type:     model.OrderTypeLimit,
		Amount:   mustDec(amount),
		Price:    mustDec(price),
	}
}

func mustDec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestSubmitOrderHappyPath(t *testing.T) {
	f := newPipelineFixture(t)

	order, created, err := f.pipeline.SubmitOrder(context.Background(), buyRequest("1", "50000"))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !created {
		t.Fatal("expected a new order")
	}
	if order.Status != model.OrderOpen {
		t.Fatalf("status = %s, want open", order.Status)
	}
	if order.ExternalID != "ext-1" {
		t.Fatalf("external id = %q", order.ExternalID)
	}
	if order.SettleAsset != "USDT" {
		t.Fatalf("settle asset = %s, want USDT", order.SettleAsset)
	}
	// a 1 BTC buy at 50000 reserves 50000 USDT
	if got := f.ledger.AvailableBalance("binance", "USDT", "broker-1", "cust-1"); !got.Equal(mustDec("50000")) {
		t.Fatalf("allocation = %s, want 50000", got)
	}
	if f.reporter.calls.Load() != 1 {
		t.Fatalf("compliance calls = %d, want 1", f.reporter.calls.Load())
	}
	if order.ComplianceRef == "" {
		t.Fatal("missing compliance ref")
	}
}

func TestSubmitOrderDuplicateWithinWindow(t *testing.T) {
	f := newPipelineFixture(t)
	req := buyRequest("1", "50000")

	first, _, err := f.pipeline.SubmitOrder(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	second, created, err := f.pipeline.SubmitOrder(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if created {
		t.Fatal("duplicate produced a second order")
	}
	if second.ID != first.ID {
		t.Fatalf("duplicate returned %s, want %s", second.ID, first.ID)
	}
	if f.adapter.placeCalls.Load() != 1 {
		t.Fatalf("venue calls = %d, want 1", f.adapter.placeCalls.Load())
	}
	// only the first order's reservation exists
	if got := f.ledger.AvailableBalance("binance", "USDT", "broker-1", "cust-1"); !got.Equal(mustDec("50000")) {
		t.Fatalf("allocation = %s, want 50000", got)
	}
}

func TestSubmitOrderVenueRejectRollsBack(t *testing.T) {
	f := newPipelineFixture(t)
	f.adapter.placeErr = apperrors.Newf(apperrors.ErrBusinessReject, "order would immediately match")

	_, _, err := f.pipeline.SubmitOrder(context.Background(), buyRequest("1", "50000"))
	if !apperrors.Is(err, apperrors.ErrBusinessReject) {
		t.Fatalf("expected BUSINESS_REJECT, got %v", err)
	}
	if got := f.ledger.AvailableBalance("binance", "USDT", "broker-1", "cust-1"); !got.IsZero() {
		t.Fatalf("allocation not rolled back: %s", got)
	}
	if got := f.ledger.PlatformAvailable("binance", "USDT"); !got.Equal(mustDec("100000")) {
		t.Fatalf("platform available = %s, want 100000", got)
	}
	if f.reporter.calls.Load() != 0 {
		t.Fatal("compliance reported a rejected order")
	}
}

func TestSubmitOrderInsufficientBalance(t *testing.T) {
	f := newPipelineFixture(t)

	_, _, err := f.pipeline.SubmitOrder(context.Background(), buyRequest("3", "50000"))
	if !apperrors.Is(err, apperrors.ErrInsufficientBalance) {
		t.Fatalf("expected INSUFFICIENT_BALANCE, got %v", err)
	}
	// the failed intent must not hold the idempotency key
	if _, created, err := f.pipeline.SubmitOrder(context.Background(), buyRequest("1", "50000")); err != nil || !created {
		t.Fatalf("follow-up order blocked: created=%v err=%v", created, err)
	}
}

func TestSubmitOrderNoHealthyVenue(t *testing.T) {
	f := newPipelineFixture(t)
	reg := venue.NewRegistry()
	f.pipeline.registry = reg

	_, _, err := f.pipeline.SubmitOrder(context.Background(), buyRequest("1", "50000"))
	if !apperrors.Is(err, apperrors.ErrNoHealthyVenue) {
		t.Fatalf("expected NO_HEALTHY_VENUE, got %v", err)
	}
}

func TestSubmitOrderMarketBuyNeedsPrice(t *testing.T) {
	f := newPipelineFixture(t)
	req := buyRequest("1", "0")
	req.Type = model.OrderTypeMarket

	_, _, err := f.pipeline.SubmitOrder(context.Background(), req)
	if !apperrors.Is(err, apperrors.ErrInvalidRequest) {
		t.Fatalf("expected INVALID_REQUEST, got %v", err)
	}
}

func TestComplianceFailureOnlyWarns(t *testing.T) {
	f := newPipelineFixture(t)
	f.reporter.fail = true

	order, _, err := f.pipeline.SubmitOrder(context.Background(), buyRequest("1", "50000"))
	if err != nil {
		t.Fatalf("order failed on compliance error: %v", err)
	}
	if order.Status != model.OrderOpen {
		t.Fatalf("status = %s", order.Status)
	}
	if order.ComplianceRef != "" {
		t.Fatal("compliance ref set despite failure")
	}
	if f.reporter.calls.Load() != 1 {
		t.Fatalf("compliance calls = %d, want 1", f.reporter.calls.Load())
	}
}

func TestApplyOrderUpdateFillSettles(t *testing.T) {
	f := newPipelineFixture(t)

	order, _, err := f.pipeline.SubmitOrder(context.Background(), buyRequest("1", "50000"))
	if err != nil {
		t.Fatal(err)
	}

	// full fill at 49000: 49000 USDT spent, 1 BTC received, the 1000
	// USDT remainder returns to the pool
	err = f.pipeline.ApplyOrderUpdate(context.Background(), order,
		model.OrderFilled, mustDec("1"), mustDec("49000"), mustDec("10"))
	if err != nil {
		t.Fatal(err)
	}
	if order.Status != model.OrderFilled {
		t.Fatalf("status = %s", order.Status)
	}
	if got := f.ledger.AvailableBalance("binance", "BTC", "broker-1", "cust-1"); !got.Equal(mustDec("1")) {
		t.Fatalf("BTC credit = %s, want 1", got)
	}
	if got := f.ledger.AvailableBalance("binance", "USDT", "broker-1", "cust-1"); !got.IsZero() {
		t.Fatalf("USDT allocation = %s, want 0", got)
	}
	if got := f.ledger.PlatformAvailable("binance", "USDT"); !got.Equal(mustDec("51000")) {
		t.Fatalf("platform USDT = %s, want 51000", got)
	}

	stored, err := f.orders.FindByID(context.Background(), order.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !stored.FilledAmount.Equal(mustDec("1")) {
		t.Fatalf("persisted fill = %s", stored.FilledAmount)
	}
}

func TestCancelOrderReleasesReservation(t *testing.T) {
	f := newPipelineFixture(t)

	order, _, err := f.pipeline.SubmitOrder(context.Background(), buyRequest("1", "50000"))
	if err != nil {
		t.Fatal(err)
	}

	cancelled, err := f.pipeline.CancelOrder(context.Background(), order.ID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Status != model.OrderCancelled {
		t.Fatalf("status = %s", cancelled.Status)
	}
	if got := f.ledger.PlatformAvailable("binance", "USDT"); !got.Equal(mustDec("100000")) {
		t.Fatalf("platform USDT = %s, want 100000", got)
	}

	if _, err := f.pipeline.CancelOrder(context.Background(), order.ID); err == nil {
		t.Fatal("cancelling a terminal order succeeded")
	}
}

func TestHandleFillUnknownOrderIgnored(t *testing.T) {
	f := newPipelineFixture(t)
	// must not panic or mutate anything
	f.pipeline.HandleFill(venue.Fill{Venue: "binance", ExternalID: "someone-else"})
	if got := f.ledger.PlatformAvailable("binance", "USDT"); !got.Equal(mustDec("100000")) {
		t.Fatalf("platform USDT mutated: %s", got)
	}
}

type fakeReserver struct {
	reserves atomic.Int32
	releases atomic.Int32
}

func (r *fakeReserver) Reserve(context.Context, string) (bool, error) {
	r.reserves.Add(1)
	return true, nil
}

func (r *fakeReserver) Release(context.Context, string) { r.releases.Add(1) }

func TestReservationReleasedOnPreSubmissionFailure(t *testing.T) {
	f := newPipelineFixture(t)
	res := &fakeReserver{}
	f.pipeline.WithReserver(res)

	if _, _, err := f.pipeline.SubmitOrder(context.Background(), buyRequest("1", "50000")); err != nil {
		t.Fatal(err)
	}
	if got := res.reserves.Load(); got != 1 {
		t.Fatalf("reserves = %d, want 1", got)
	}
	if got := res.releases.Load(); got != 0 {
		t.Fatalf("submitted order released its reservation")
	}

	// 10 BTC at 50000 needs more USDT than the platform holds
	_, _, err := f.pipeline.SubmitOrder(context.Background(), buyRequest("10", "50000"))
	if !apperrors.Is(err, apperrors.ErrInsufficientBalance) {
		t.Fatalf("err = %v", err)
	}
	if got := res.releases.Load(); got != 1 {
		t.Fatalf("releases = %d, want 1", got)
	}
}

func TestApplyOrderUpdatePartialFillThenVenueFinal(t *testing.T) {
	f := newPipelineFixture(t)

	order, _, err := f.pipeline.SubmitOrder(context.Background(), buyRequest("1", "50000"))
	if err != nil {
		t.Fatal(err)
	}

	// venue expired the order after a 0.4 BTC fill: 20000 USDT spent,
	// the 30000 USDT remainder must come back
	err = f.pipeline.ApplyOrderUpdate(context.Background(), order,
		model.OrderCancelled, mustDec("0.4"), mustDec("50000"), mustDec("0"))
	if err != nil {
		t.Fatal(err)
	}
	if !order.Status.Terminal() {
		t.Fatalf("status = %s, want terminal", order.Status)
	}
	if got := f.ledger.AvailableBalance("binance", "BTC", "broker-1", "cust-1"); !got.Equal(mustDec("0.4")) {
		t.Fatalf("BTC credit = %s, want 0.4", got)
	}
	if got := f.ledger.AvailableBalance("binance", "USDT", "broker-1", "cust-1"); !got.IsZero() {
		t.Fatalf("USDT still allocated = %s, want 0", got)
	}
	if got := f.ledger.PlatformAvailable("binance", "USDT"); !got.Equal(mustDec("80000")) {
		t.Fatalf("platform USDT = %s, want 80000", got)
	}
}

func TestSubmitOrderRetryAfterVenueWentDown(t *testing.T) {
	f := newPipelineFixture(t)
	req := buyRequest("1", "50000")

	first, _, err := f.pipeline.SubmitOrder(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}

	// the retry of a created order must return it, not a routing error
	f.registry.SetStatus("binance", model.VenueDown, 0)
	second, created, err := f.pipeline.SubmitOrder(context.Background(), req)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if created {
		t.Fatal("retry created a second order")
	}
	if second.ID != first.ID {
		t.Fatalf("retry returned %s, want %s", second.ID, first.ID)
	}
	if f.adapter.placeCalls.Load() != 1 {
		t.Fatalf("venue calls = %d, want 1", f.adapter.placeCalls.Load())
	}
}
