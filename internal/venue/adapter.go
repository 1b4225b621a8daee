// Package venue contains one adapter per external trading venue plus the
// registry that routes between them. Each adapter owns its venue's request
// signing, symbol translation, and order-status vocabulary; the shared
// transport owns pacing, retry, and circuit breaking.
package venue

import (
	"context"

	"github.com/finbridge/venuegate/internal/model"
	"github.com/shopspring/decimal"
)

// OrderParams is the venue-neutral order submission payload. Symbol is the
// internal "BASE/QUOTE" form; adapters translate it to the venue's native
// format.
type OrderParams struct {
	Symbol   string
	Side     model.Side
	Type     model.OrderType
	Amount   decimal.Decimal
	Price    decimal.Decimal
	ClientID string
}

// OrderAck is the adapter's view of a venue order after placement or a
// status poll.
type OrderAck struct {
	ExternalID   string
	Status       model.OrderStatus
	FilledAmount decimal.Decimal
	AvgPrice     decimal.Decimal
	Fees         decimal.Decimal
}

// Adapter is the uniform capability surface over one venue. Implementations
// must be safe for concurrent use; pacing and breaker state are internal.
type Adapter interface {
	Venue() string
	GetBalance(ctx context.Context, asset string) (*model.Balance, error)
	PlaceOrder(ctx context.Context, p OrderParams) (*OrderAck, error)
	GetOrderStatus(ctx context.Context, externalID, symbol string) (*OrderAck, error)
	CancelOrder(ctx context.Context, externalID, symbol string) error
}

// New constructs the adapter for a configured venue by id.
func New(cfg model.VenueConfig) (Adapter, bool) {
	switch cfg.ID {
	case "binance":
		return NewBinance(cfg), true
	case "coinbase":
		return NewCoinbase(cfg), true
	case "kraken":
		return NewKraken(cfg), true
	}
	return nil, false
}
