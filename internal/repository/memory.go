package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/finbridge/venuegate/internal/model"
	"github.com/finbridge/venuegate/internal/pkg/apperrors"
)

// In-memory stores back the same interfaces as the postgres ones. They
// serve single-node deployments without a database and the test suites.

type memoryClaim struct {
	orderID   string
	createdAt time.Time
}

type MemoryOrderStore struct {
	mu     sync.Mutex
	orders map[string]*model.InternalOrder
	claims map[string]memoryClaim
}

func NewMemoryOrderStore() *MemoryOrderStore {
	return &MemoryOrderStore{
		orders: make(map[string]*model.InternalOrder),
		claims: make(map[string]memoryClaim),
	}
}

func (s *MemoryOrderStore) CreateIfAbsent(_ context.Context, order *model.InternalOrder, window time.Duration) (*model.InternalOrder, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	if claim, ok := s.claims[order.IdempotencyKey]; ok && now.Sub(claim.createdAt) < window {
		existing, ok := s.orders[claim.orderID]
		if !ok {
			return nil, false, apperrors.Newf(apperrors.ErrInternal, "dangling idempotency claim %s", order.IdempotencyKey)
		}
		cp := *existing
		return &cp, false, nil
	}

	s.claims[order.IdempotencyKey] = memoryClaim{orderID: order.ID, createdAt: now}
	cp := *order
	s.orders[order.ID] = &cp
	return order, true, nil
}

func (s *MemoryOrderStore) FindActiveByKey(_ context.Context, key string, window time.Duration) (*model.InternalOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	claim, ok := s.claims[key]
	if !ok || time.Since(claim.createdAt) >= window {
		return nil, apperrors.Newf(apperrors.ErrNotFound, "no live claim on key")
	}
	existing, ok := s.orders[claim.orderID]
	if !ok {
		return nil, apperrors.Newf(apperrors.ErrNotFound, "no live claim on key")
	}
	cp := *existing
	return &cp, nil
}

func (s *MemoryOrderStore) Update(_ context.Context, order *model.InternalOrder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orders[order.ID]; !ok {
		return apperrors.Newf(apperrors.ErrNotFound, "order %s not found", order.ID)
	}
	order.UpdatedAt = time.Now().UTC()
	cp := *order
	s.orders[order.ID] = &cp
	return nil
}

func (s *MemoryOrderStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, claim := range s.claims {
		if claim.orderID == id {
			delete(s.claims, key)
		}
	}
	delete(s.orders, id)
	return nil
}

func (s *MemoryOrderStore) FindByID(_ context.Context, id string) (*model.InternalOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[id]
	if !ok {
		return nil, apperrors.Newf(apperrors.ErrNotFound, "order %s not found", id)
	}
	cp := *order
	return &cp, nil
}

func (s *MemoryOrderStore) FindByExternalID(_ context.Context, venue, externalID string) (*model.InternalOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, order := range s.orders {
		if order.Venue == venue && order.ExternalID == externalID {
			cp := *order
			return &cp, nil
		}
	}
	return nil, apperrors.Newf(apperrors.ErrNotFound, "order %s/%s not found", venue, externalID)
}

func (s *MemoryOrderStore) ListOpen(_ context.Context) ([]*model.InternalOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.InternalOrder
	for _, order := range s.orders {
		switch order.Status {
		case model.OrderSubmitted, model.OrderOpen, model.OrderPartiallyFilled:
			cp := *order
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

type MemoryAllocationStore struct {
	mu     sync.Mutex
	allocs map[string]model.PlatformAllocation
}

func NewMemoryAllocationStore() *MemoryAllocationStore {
	return &MemoryAllocationStore{allocs: make(map[string]model.PlatformAllocation)}
}

func (s *MemoryAllocationStore) Save(_ context.Context, allocs []model.PlatformAllocation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, alloc := range allocs {
		s.allocs[alloc.Venue+"|"+alloc.Asset] = alloc
	}
	return nil
}

func (s *MemoryAllocationStore) Load(_ context.Context) ([]model.PlatformAllocation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.PlatformAllocation, 0, len(s.allocs))
	for _, alloc := range s.allocs {
		out = append(out, alloc)
	}
	return out, nil
}

type MemoryReconStore struct {
	mu      sync.Mutex
	records []*model.ReconciliationRecord
}

func NewMemoryReconStore() *MemoryReconStore {
	return &MemoryReconStore{}
}

func (s *MemoryReconStore) Insert(_ context.Context, rec *model.ReconciliationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rec
	s.records = append(s.records, &cp)
	return nil
}

func (s *MemoryReconStore) List(_ context.Context, filter model.ReconciliationFilter) ([]*model.ReconciliationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	limit := filter.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	var out []*model.ReconciliationRecord
	for i := len(s.records) - 1; i >= 0 && len(out) < limit; i-- {
		rec := s.records[i]
		if filter.Venue != "" && rec.Venue != filter.Venue {
			continue
		}
		if filter.Asset != "" && rec.Asset != filter.Asset {
			continue
		}
		if filter.Status != "" && rec.Status != filter.Status {
			continue
		}
		cp := *rec
		out = append(out, &cp)
	}
	return out, nil
}

type MemoryLedgerAuditStore struct {
	mu      sync.Mutex
	entries []model.LedgerAuditEntry
}

func NewMemoryLedgerAuditStore() *MemoryLedgerAuditStore {
	return &MemoryLedgerAuditStore{}
}

func (s *MemoryLedgerAuditStore) Insert(_ context.Context, entries []model.LedgerAuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entries...)
	return nil
}

func (s *MemoryLedgerAuditStore) Entries() []model.LedgerAuditEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.LedgerAuditEntry, len(s.entries))
	copy(out, s.entries)
	return out
}

type memoryUsage struct {
	orders int
	volume float64
	day    string
}

type MemoryUsageStore struct {
	mu    sync.Mutex
	usage map[string]memoryUsage
}

func NewMemoryUsageStore() *MemoryUsageStore {
	return &MemoryUsageStore{usage: make(map[string]memoryUsage)}
}

func (s *MemoryUsageStore) GetDailyUsage(_ context.Context, brokerID string) (int, float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.usage[brokerID]
	if u.day != today() {
		return 0, 0, nil
	}
	return u.orders, u.volume, nil
}

func (s *MemoryUsageStore) AddDailyUsage(_ context.Context, brokerID string, orders int, volume float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.usage[brokerID]
	if u.day != today() {
		u = memoryUsage{day: today()}
	}
	u.orders += orders
	u.volume += volume
	s.usage[brokerID] = u
	return nil
}

func today() string {
	return time.Now().UTC().Format("2006-01-02")
}
