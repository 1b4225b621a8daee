package model

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

type OrderType string

const (
	OrderTypeLimit  OrderType = "LIMIT"
	OrderTypeMarket OrderType = "MARKET"
)

// OrderStatus is the internal order lifecycle:
// pending -> allocated -> submitted -> filled | partially_filled | cancelled | rejected.
type OrderStatus string

const (
	OrderPending         OrderStatus = "pending"
	OrderAllocated       OrderStatus = "allocated"
	OrderSubmitted       OrderStatus = "submitted"
	OrderOpen            OrderStatus = "open"
	OrderPartiallyFilled OrderStatus = "partially_filled"
	OrderFilled          OrderStatus = "filled"
	OrderCancelled       OrderStatus = "cancelled"
	OrderRejected        OrderStatus = "rejected"
)

// Terminal reports whether the status is final. Terminal orders are
// immutable and excluded from the open-order sweep.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderFilled, OrderCancelled, OrderRejected:
		return true
	}
	return false
}

// InternalOrder is one record per trade intent.
type InternalOrder struct {
	ID             string          `json:"id" db:"id"`
	IdempotencyKey string          `json:"-" db:"idempotency_key"`
	TenantID       string          `json:"tenant_id" db:"tenant_id"`
	BrokerID       string          `json:"broker_id" db:"broker_id"`
	UserID         string          `json:"user_id" db:"user_id"`
	Venue          string          `json:"venue" db:"venue"`
	Symbol         string          `json:"symbol" db:"symbol"`
	Side           Side            `json:"side" db:"side"`
	Type           OrderType       `json:"type" db:"order_type"`
	Amount         decimal.Decimal `json:"amount" db:"amount"`
	Price          decimal.Decimal `json:"price" db:"price"`
	Status         OrderStatus     `json:"status" db:"status"`
	FilledAmount   decimal.Decimal `json:"filled_amount" db:"filled_amount"`
	AvgPrice       decimal.Decimal `json:"avg_price" db:"avg_price"`
	Fees           decimal.Decimal `json:"fees" db:"fees"`
	ExternalID     string          `json:"external_id,omitempty" db:"external_id"`
	SettleAsset    string          `json:"settle_asset" db:"settle_asset"`
	AllocatedAmt   decimal.Decimal `json:"allocated_amount" db:"allocated_amount"`
	ComplianceRef  string          `json:"compliance_ref,omitempty" db:"compliance_ref"`
	FailureReason  string          `json:"failure_reason,omitempty" db:"failure_reason"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at" db:"updated_at"`
}

// OrderRequest is the inbound trade intent.
type OrderRequest struct {
	TenantID string          `json:"tenant_id" binding:"required"`
	BrokerID string          `json:"broker_id" binding:"required"`
	UserID   string          `json:"user_id" binding:"required"`
	Symbol   string          `json:"symbol" binding:"required"`
	Side     Side            `json:"side" binding:"required,oneof=BUY SELL"`
	Type     OrderType       `json:"type" binding:"required,oneof=LIMIT MARKET"`
	Amount   decimal.Decimal `json:"amount" binding:"required"`
	Price    decimal.Decimal `json:"price,omitempty"`
}

// IdempotencyKey derives the deduplication key from the full parameter
// tuple. Two identical intents within the dedup window map to one order.
func (r OrderRequest) IdempotencyKey() string {
	raw := fmt.Sprintf("%s|%s|%s|%s|%s|%s|%s|%s",
		r.TenantID, r.BrokerID, r.UserID,
		strings.ToUpper(r.Symbol), r.Side, r.Type,
		r.Amount.String(), r.Price.String())
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// BaseQuote splits a "BASE/QUOTE" symbol. The empty quote case is left to
// request validation.
func BaseQuote(symbol string) (string, string) {
	parts := strings.SplitN(strings.ToUpper(symbol), "/", 2)
	if len(parts) != 2 {
		return parts[0], ""
	}
	return parts[0], parts[1]
}

// SettlementAsset is the asset an order consumes from the platform
// allocation: selling spends the base asset, buying spends the quote.
func (r OrderRequest) SettlementAsset() string {
	base, quote := BaseQuote(r.Symbol)
	if r.Side == SideSell {
		return base
	}
	return quote
}

// SettlementAmount is how much of the settlement asset the order reserves.
// Buys reserve amount*price in quote units, sells reserve the base amount.
func (r OrderRequest) SettlementAmount() decimal.Decimal {
	if r.Side == SideSell {
		return r.Amount
	}
	return r.Amount.Mul(r.Price)
}
