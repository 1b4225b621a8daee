package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// LedgerAuditEntry records one ledger mutation with before/after amounts
// for the affected broker and customer. Entries are append-only.
type LedgerAuditEntry struct {
	ID       string `json:"id"`
	Op       string `json:"op"` // allocate, deallocate, release, credit, refresh
	Venue    string `json:"venue"`
	Asset    string `json:"asset"`
	BrokerID string `json:"broker_id,omitempty"`
	UserID   string `json:"user_id,omitempty"`

	Amount          decimal.Decimal `json:"amount"`
	BrokerBefore    decimal.Decimal `json:"broker_before"`
	BrokerAfter     decimal.Decimal `json:"broker_after"`
	CustomerBefore  decimal.Decimal `json:"customer_before"`
	CustomerAfter   decimal.Decimal `json:"customer_after"`
	AvailableBefore decimal.Decimal `json:"available_before"`
	AvailableAfter  decimal.Decimal `json:"available_after"`

	// Business context: order id, reconciliation run, refresh source.
	Context map[string]interface{} `json:"context,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}
