package repository

import (
	"context"
	"time"

	"github.com/finbridge/venuegate/internal/model"
)

// OrderStore persists internal orders. CreateIfAbsent is the
// deduplication point: callers pass the dedup window and only one order
// per idempotency key exists inside it.
type OrderStore interface {
	// CreateIfAbsent inserts order unless another order with the same
	// idempotency key was created within window. It returns the order
	// that owns the key and whether the insert happened.
	CreateIfAbsent(ctx context.Context, order *model.InternalOrder, window time.Duration) (*model.InternalOrder, bool, error)
	// FindActiveByKey returns the order holding key inside the dedup
	// window, or NOT_FOUND. It lets the pipeline resolve a retry before
	// risk checks and venue selection run.
	FindActiveByKey(ctx context.Context, key string, window time.Duration) (*model.InternalOrder, error)
	Update(ctx context.Context, order *model.InternalOrder) error
	Delete(ctx context.Context, id string) error
	FindByID(ctx context.Context, id string) (*model.InternalOrder, error)
	FindByExternalID(ctx context.Context, venue, externalID string) (*model.InternalOrder, error)
	ListOpen(ctx context.Context) ([]*model.InternalOrder, error)
}

// Reserver grants advisory short-lived claims on idempotency keys. A
// false Reserve means another submission with the same key is in flight
// or recently completed.
type Reserver interface {
	Reserve(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string)
}

// AllocationStore snapshots the ledger so it survives restarts.
type AllocationStore interface {
	Save(ctx context.Context, allocs []model.PlatformAllocation) error
	Load(ctx context.Context) ([]model.PlatformAllocation, error)
}

// ReconStore appends and lists reconciliation outcomes.
type ReconStore interface {
	Insert(ctx context.Context, rec *model.ReconciliationRecord) error
	List(ctx context.Context, filter model.ReconciliationFilter) ([]*model.ReconciliationRecord, error)
}

// LedgerAuditStore appends ledger mutation records.
type LedgerAuditStore interface {
	Insert(ctx context.Context, entries []model.LedgerAuditEntry) error
}

// UsageStore tracks per-broker daily order counts and traded volume for
// pre-trade risk limits.
type UsageStore interface {
	GetDailyUsage(ctx context.Context, brokerID string) (orders int, volume float64, err error)
	AddDailyUsage(ctx context.Context, brokerID string, orders int, volume float64) error
}
