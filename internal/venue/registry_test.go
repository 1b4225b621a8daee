package venue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/finbridge/venuegate/internal/model"
	"github.com/finbridge/venuegate/internal/pkg/apperrors"
	"github.com/shopspring/decimal"
)

type stubAdapter struct {
	id         string
	balanceErr error
	delay      time.Duration
}

func (s *stubAdapter) Venue() string { return s.id }

func (s *stubAdapter) GetBalance(ctx context.Context, _ string) (*model.Balance, error) {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.balanceErr != nil {
		return nil, s.balanceErr
	}
	return &model.Balance{Venue: s.id, Total: decimal.NewFromInt(1)}, nil
}

func (s *stubAdapter) PlaceOrder(context.Context, OrderParams) (*OrderAck, error) {
	return nil, errors.New("not implemented")
}

func (s *stubAdapter) GetOrderStatus(context.Context, string, string) (*OrderAck, error) {
	return nil, errors.New("not implemented")
}

func (s *stubAdapter) CancelOrder(context.Context, string, string) error {
	return errors.New("not implemented")
}

func threeVenueRegistry() *Registry {
	r := NewRegistry()
	r.Register(model.VenueConfig{ID: "binance", Enabled: true, Priority: 1}, &stubAdapter{id: "binance"})
	r.Register(model.VenueConfig{ID: "coinbase", Enabled: true, Priority: 2}, &stubAdapter{id: "coinbase"})
	r.Register(model.VenueConfig{ID: "kraken", Enabled: false, Priority: 3}, &stubAdapter{id: "kraken"})
	return r
}

func TestSelectVenuePrefersLowestPriority(t *testing.T) {
	r := threeVenueRegistry()

	id, err := r.SelectVenue("BTC/USDT", model.SideBuy, decimal.NewFromInt(1))
	if err != nil {
		t.Fatal(err)
	}
	if id != "binance" {
		t.Fatalf("selected %s, want binance", id)
	}
}

func TestSelectVenueSkipsUnhealthy(t *testing.T) {
	r := threeVenueRegistry()
	r.SetStatus("binance", model.VenueDown, 0)

	id, err := r.SelectVenue("BTC/USDT", model.SideBuy, decimal.NewFromInt(1))
	if err != nil {
		t.Fatal(err)
	}
	if id != "coinbase" {
		t.Fatalf("selected %s, want coinbase", id)
	}
}

func TestSelectVenueSkipsDisabled(t *testing.T) {
	r := threeVenueRegistry()
	r.SetStatus("binance", model.VenueDown, 0)
	r.SetStatus("coinbase", model.VenueDegraded, 0)

	// kraken is healthy but disabled
	_, err := r.SelectVenue("BTC/USDT", model.SideBuy, decimal.NewFromInt(1))
	if !apperrors.Is(err, apperrors.ErrNoHealthyVenue) {
		t.Fatalf("err = %v, want NO_HEALTHY_VENUE", err)
	}
}

func TestEnabledIDsPriorityOrder(t *testing.T) {
	r := threeVenueRegistry()
	ids := r.EnabledIDs()
	if len(ids) != 2 || ids[0] != "binance" || ids[1] != "coinbase" {
		t.Fatalf("enabled ids = %v", ids)
	}
}

func TestRecoveryResetsFailureStreak(t *testing.T) {
	r := threeVenueRegistry()

	r.RecordFailure("binance")
	r.RecordFailure("binance")
	if h, _ := r.Health("binance"); h.ConsecutiveFailures != 2 || h.Status != model.VenueDown {
		t.Fatalf("health = %+v", h)
	}

	r.SetStatus("binance", model.VenueHealthy, 10*time.Millisecond)
	if h, _ := r.Health("binance"); h.ConsecutiveFailures != 0 || h.Status != model.VenueHealthy {
		t.Fatalf("health after recovery = %+v", h)
	}
}

func TestMonitorMarksVenueDown(t *testing.T) {
	r := NewRegistry()
	failing := &stubAdapter{id: "binance", balanceErr: errors.New("connection refused")}
	r.Register(model.VenueConfig{ID: "binance", Enabled: true, Priority: 1}, failing)

	m := NewMonitor(r, "USDT", time.Second, 500*time.Millisecond, 3)
	for i := 0; i < 3; i++ {
		if err := m.Run(); err != nil {
			t.Fatal(err)
		}
	}

	h, _ := r.Health("binance")
	if h.Status != model.VenueDown {
		t.Fatalf("status = %s, want down", h.Status)
	}
	if h.ConsecutiveFailures != 3 {
		t.Fatalf("failures = %d, want 3", h.ConsecutiveFailures)
	}
}

func TestMonitorMarksSlowVenueDegraded(t *testing.T) {
	r := NewRegistry()
	slow := &stubAdapter{id: "binance", delay: 20 * time.Millisecond}
	r.Register(model.VenueConfig{ID: "binance", Enabled: true, Priority: 1}, slow)

	m := NewMonitor(r, "USDT", time.Second, 5*time.Millisecond, 3)
	if err := m.Run(); err != nil {
		t.Fatal(err)
	}

	h, _ := r.Health("binance")
	if h.Status != model.VenueDegraded {
		t.Fatalf("status = %s, want degraded", h.Status)
	}
}

func TestMonitorRecoversVenue(t *testing.T) {
	r := NewRegistry()
	adapter := &stubAdapter{id: "binance", balanceErr: errors.New("down")}
	r.Register(model.VenueConfig{ID: "binance", Enabled: true, Priority: 1}, adapter)

	m := NewMonitor(r, "USDT", time.Second, 500*time.Millisecond, 3)
	_ = m.Run()
	if h, _ := r.Health("binance"); h.Status != model.VenueDown {
		t.Fatalf("status = %s, want down", h.Status)
	}

	adapter.balanceErr = nil
	_ = m.Run()
	h, _ := r.Health("binance")
	if h.Status != model.VenueHealthy || h.ConsecutiveFailures != 0 {
		t.Fatalf("health after recovery = %+v", h)
	}
}
