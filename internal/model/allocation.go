package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// PlatformAllocation is the ledger's view of one (venue, asset) pair:
// the last observed venue total, the unreserved remainder, and the
// broker/customer subdivision of the reserved part.
type PlatformAllocation struct {
	Venue         string                                `json:"venue"`
	Asset         string                                `json:"asset"`
	Total         decimal.Decimal                       `json:"total_platform_balance"`
	Available     decimal.Decimal                       `json:"available_for_allocation"`
	Brokers       map[string]decimal.Decimal            `json:"broker_allocations"`
	Customers     map[string]map[string]decimal.Decimal `json:"customer_allocations"`
	OverCommitted bool                                  `json:"over_committed"`
	LastUpdated   time.Time                             `json:"last_updated"`
}

// AllocatedTotal is the sum of all broker allocations.
func (p PlatformAllocation) AllocatedTotal() decimal.Decimal {
	sum := decimal.Zero
	for _, amt := range p.Brokers {
		sum = sum.Add(amt)
	}
	return sum
}

type ReconciliationStatus string

const (
	ReconBalanced       ReconciliationStatus = "balanced"
	ReconOverAllocated  ReconciliationStatus = "over_allocated"
	ReconUnderAllocated ReconciliationStatus = "under_allocated"
)

// ReconciliationRecord is one append-only audit row per (venue, asset)
// per reconciliation run. Difference is actual minus allocated, so
// over-allocation shows up negative.
type ReconciliationRecord struct {
	ID         string               `json:"id" db:"id"`
	Venue      string               `json:"venue" db:"venue"`
	Asset      string               `json:"asset" db:"asset"`
	Actual     decimal.Decimal      `json:"actual_balance" db:"actual_balance"`
	Allocated  decimal.Decimal      `json:"allocated_total" db:"allocated_total"`
	Difference decimal.Decimal      `json:"difference" db:"difference"`
	Status     ReconciliationStatus `json:"status" db:"status"`
	CreatedAt  time.Time            `json:"created_at" db:"created_at"`
}

// ReconciliationFilter narrows ReconciliationRecord listings.
type ReconciliationFilter struct {
	Venue  string
	Asset  string
	Status ReconciliationStatus
	Limit  int
}
