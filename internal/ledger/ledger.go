package ledger

import (
	"log/slog"
	"sync"
	"time"

	"github.com/finbridge/venuegate/internal/model"
	"github.com/finbridge/venuegate/internal/pkg/apperrors"
	"github.com/finbridge/venuegate/internal/pkg/logger"
	"github.com/finbridge/venuegate/internal/pkg/metrics"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AuditSink receives every ledger mutation. Emission happens inside the
// entry lock so before/after amounts are consistent; sinks must not
// block.
type AuditSink interface {
	RecordLedgerOp(entry model.LedgerAuditEntry)
}

// entry holds the allocation state for one (venue, asset) pair.
// Invariants held under mu:
//   - each broker total equals the sum of its customer allocations
//   - available + sum of broker totals equals total, unless the venue
//     reported less than we have allocated (overCommitted)
//   - no amount is ever negative
type entry struct {
	mu sync.Mutex

	total     decimal.Decimal
	available decimal.Decimal

	// customer allocations keyed "broker|customer", with broker totals
	// maintained as a secondary index.
	allocations  map[string]decimal.Decimal
	brokerTotals map[string]decimal.Decimal

	overCommitted bool
	lastUpdated   time.Time
}

// Ledger tracks per-venue, per-asset allocation of platform balances to
// brokers and their customers. All mutations are atomic per (venue,
// asset) pair.
type Ledger struct {
	mu      sync.RWMutex
	entries map[string]*entry

	sink AuditSink
	log  *slog.Logger
}

func New(sink AuditSink) *Ledger {
	return &Ledger{
		entries: make(map[string]*entry),
		sink:    sink,
		log:     logger.Component("ledger"),
	}
}

func entryKey(venue, asset string) string { return venue + "|" + asset }
func allocKey(broker, customer string) string { return broker + "|" + customer }

func (l *Ledger) entry(venue, asset string) *entry {
	l.mu.RLock()
	e, ok := l.entries[entryKey(venue, asset)]
	l.mu.RUnlock()
	if ok {
		return e
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok = l.entries[entryKey(venue, asset)]; ok {
		return e
	}
	e = &entry{
		allocations:  make(map[string]decimal.Decimal),
		brokerTotals: make(map[string]decimal.Decimal),
	}
	l.entries[entryKey(venue, asset)] = e
	return e
}

// Allocate reserves amount of the venue's available balance for the
// given customer, moving it in one step to broker and customer. It
// fails when the unreserved remainder cannot cover the amount.
func (l *Ledger) Allocate(venue, asset, broker, customer string, amount decimal.Decimal) error {
	if amount.Sign() <= 0 {
		return apperrors.New(apperrors.ErrInvalidRequest, "allocation amount must be positive", nil)
	}
	e := l.entry(venue, asset)
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.available.LessThan(amount) {
		metrics.LedgerRejects.WithLabelValues("allocate").Inc()
		return apperrors.Newf(apperrors.ErrInsufficientBalance,
			"insufficient available balance on %s for %s: have %s, need %s",
			venue, asset, e.available, amount)
	}

	audit := l.beginAudit("allocate", venue, asset, broker, customer, amount, e)
	e.available = e.available.Sub(amount)
	e.brokerTotals[broker] = e.brokerTotals[broker].Add(amount)
	e.allocations[allocKey(broker, customer)] = e.allocations[allocKey(broker, customer)].Add(amount)
	e.lastUpdated = time.Now().UTC()
	l.finishAudit(audit, broker, customer, e)
	return nil
}

// Deallocate returns amount from the customer's allocation to the
// venue's available pool. It fails when the customer (or the broker
// index) does not hold that much.
func (l *Ledger) Deallocate(venue, asset, broker, customer string, amount decimal.Decimal) error {
	if amount.Sign() <= 0 {
		return apperrors.New(apperrors.ErrInvalidRequest, "deallocation amount must be positive", nil)
	}
	e := l.entry(venue, asset)
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.checkHolding(venue, asset, broker, customer, amount, "deallocate"); err != nil {
		return err
	}

	audit := l.beginAudit("deallocate", venue, asset, broker, customer, amount, e)
	e.available = e.available.Add(amount)
	e.subtract(broker, customer, amount)
	e.lastUpdated = time.Now().UTC()
	l.finishAudit(audit, broker, customer, e)
	return nil
}

// Release removes amount from both the customer's allocation and the
// venue total. Used when an order consumes the settlement asset: the
// balance has left the venue, so the unreserved remainder is untouched.
func (l *Ledger) Release(venue, asset, broker, customer string, amount decimal.Decimal) error {
	if amount.Sign() <= 0 {
		return apperrors.New(apperrors.ErrInvalidRequest, "release amount must be positive", nil)
	}
	e := l.entry(venue, asset)
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.checkHolding(venue, asset, broker, customer, amount, "release"); err != nil {
		return err
	}

	audit := l.beginAudit("release", venue, asset, broker, customer, amount, e)
	e.total = e.total.Sub(amount)
	e.subtract(broker, customer, amount)
	e.lastUpdated = time.Now().UTC()
	l.finishAudit(audit, broker, customer, e)
	return nil
}

// Credit adds amount to both the customer's allocation and the venue
// total. Used when an order delivers the received asset.
func (l *Ledger) Credit(venue, asset, broker, customer string, amount decimal.Decimal) error {
	if amount.Sign() <= 0 {
		return apperrors.New(apperrors.ErrInvalidRequest, "credit amount must be positive", nil)
	}
	e := l.entry(venue, asset)
	e.mu.Lock()
	defer e.mu.Unlock()

	audit := l.beginAudit("credit", venue, asset, broker, customer, amount, e)
	e.total = e.total.Add(amount)
	e.brokerTotals[broker] = e.brokerTotals[broker].Add(amount)
	e.allocations[allocKey(broker, customer)] = e.allocations[allocKey(broker, customer)].Add(amount)
	e.lastUpdated = time.Now().UTC()
	l.finishAudit(audit, broker, customer, e)
	return nil
}

// AvailableBalance reports the customer's current allocation for the
// given venue and asset.
func (l *Ledger) AvailableBalance(venue, asset, broker, customer string) decimal.Decimal {
	e := l.entry(venue, asset)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.allocations[allocKey(broker, customer)]
}

// PlatformAvailable reports the unreserved remainder for the given
// venue and asset.
func (l *Ledger) PlatformAvailable(venue, asset string) decimal.Decimal {
	e := l.entry(venue, asset)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.available
}

// AllocatedTotal reports the sum of all broker allocations for the
// given venue and asset.
func (l *Ledger) AllocatedTotal(venue, asset string) decimal.Decimal {
	e := l.entry(venue, asset)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.allocatedLocked()
}

// RefreshTotal records the venue-reported total and recomputes the
// unreserved remainder. When the venue reports less than the allocated
// sum the pair is flagged over-committed and the remainder floors at
// zero; allocations themselves are never reduced here.
func (l *Ledger) RefreshTotal(venue, asset string, actual decimal.Decimal) {
	e := l.entry(venue, asset)
	e.mu.Lock()
	defer e.mu.Unlock()

	audit := l.beginAudit("refresh", venue, asset, "", "", actual, e)
	allocated := e.allocatedLocked()
	e.total = actual
	remainder := actual.Sub(allocated)
	if remainder.Sign() < 0 {
		if !e.overCommitted {
			l.log.Error("venue balance below allocated total",
				"venue", venue, "asset", asset,
				"actual", actual.String(), "allocated", allocated.String())
			metrics.OperatorAlerts.WithLabelValues("over_committed").Inc()
		}
		e.overCommitted = true
		e.available = decimal.Zero
	} else {
		e.overCommitted = false
		e.available = remainder
	}
	e.lastUpdated = time.Now().UTC()
	l.finishAudit(audit, "", "", e)
}

// Snapshot returns copies of all tracked (venue, asset) allocations.
func (l *Ledger) Snapshot() []model.PlatformAllocation {
	l.mu.RLock()
	keys := make([]string, 0, len(l.entries))
	entries := make([]*entry, 0, len(l.entries))
	for k, e := range l.entries {
		keys = append(keys, k)
		entries = append(entries, e)
	}
	l.mu.RUnlock()

	out := make([]model.PlatformAllocation, 0, len(entries))
	for i, e := range entries {
		venue, asset := splitKey(keys[i])

		e.mu.Lock()
		alloc := model.PlatformAllocation{
			Venue:         venue,
			Asset:         asset,
			Total:         e.total,
			Available:     e.available,
			Brokers:       make(map[string]decimal.Decimal, len(e.brokerTotals)),
			Customers:     make(map[string]map[string]decimal.Decimal),
			OverCommitted: e.overCommitted,
			LastUpdated:   e.lastUpdated,
		}
		for b, amt := range e.brokerTotals {
			alloc.Brokers[b] = amt
		}
		for k, amt := range e.allocations {
			broker, customer := splitKey(k)
			if alloc.Customers[broker] == nil {
				alloc.Customers[broker] = make(map[string]decimal.Decimal)
			}
			alloc.Customers[broker][customer] = amt
		}
		e.mu.Unlock()
		out = append(out, alloc)
	}
	return out
}

// Restore replaces the state for one (venue, asset) pair, used when
// rehydrating from persistence at startup.
func (l *Ledger) Restore(alloc model.PlatformAllocation) {
	e := l.entry(alloc.Venue, alloc.Asset)
	e.mu.Lock()
	defer e.mu.Unlock()

	e.total = alloc.Total
	e.available = alloc.Available
	e.overCommitted = alloc.OverCommitted
	e.lastUpdated = alloc.LastUpdated
	e.allocations = make(map[string]decimal.Decimal)
	e.brokerTotals = make(map[string]decimal.Decimal)
	for broker, customers := range alloc.Customers {
		for customer, amt := range customers {
			e.allocations[allocKey(broker, customer)] = amt
			e.brokerTotals[broker] = e.brokerTotals[broker].Add(amt)
		}
	}
}

func (e *entry) allocatedLocked() decimal.Decimal {
	sum := decimal.Zero
	for _, amt := range e.brokerTotals {
		sum = sum.Add(amt)
	}
	return sum
}

func (e *entry) checkHolding(venue, asset, broker, customer string, amount decimal.Decimal, op string) error {
	held := e.allocations[allocKey(broker, customer)]
	if held.LessThan(amount) {
		metrics.LedgerRejects.WithLabelValues(op).Inc()
		return apperrors.Newf(apperrors.ErrInsufficientBalance,
			"customer %s holds %s %s on %s, cannot %s %s",
			customer, held, asset, venue, op, amount)
	}
	if e.brokerTotals[broker].LessThan(amount) {
		metrics.LedgerRejects.WithLabelValues(op).Inc()
		return apperrors.Newf(apperrors.ErrInternal,
			"broker %s index below customer holdings on %s/%s", broker, venue, asset)
	}
	return nil
}

// subtract removes amount from the customer and broker index, deleting
// zeroed keys to keep maps compact.
func (e *entry) subtract(broker, customer string, amount decimal.Decimal) {
	k := allocKey(broker, customer)
	remaining := e.allocations[k].Sub(amount)
	if remaining.IsZero() {
		delete(e.allocations, k)
	} else {
		e.allocations[k] = remaining
	}
	bt := e.brokerTotals[broker].Sub(amount)
	if bt.IsZero() {
		delete(e.brokerTotals, broker)
	} else {
		e.brokerTotals[broker] = bt
	}
}

func (l *Ledger) beginAudit(op, venue, asset, broker, customer string, amount decimal.Decimal, e *entry) model.LedgerAuditEntry {
	return model.LedgerAuditEntry{
		ID:              uuid.NewString(),
		Op:              op,
		Venue:           venue,
		Asset:           asset,
		BrokerID:        broker,
		UserID:          customer,
		Amount:          amount,
		BrokerBefore:    e.brokerTotals[broker],
		CustomerBefore:  e.allocations[allocKey(broker, customer)],
		AvailableBefore: e.available,
		CreatedAt:       time.Now().UTC(),
	}
}

func (l *Ledger) finishAudit(audit model.LedgerAuditEntry, broker, customer string, e *entry) {
	if l.sink == nil {
		return
	}
	audit.BrokerAfter = e.brokerTotals[broker]
	audit.CustomerAfter = e.allocations[allocKey(broker, customer)]
	audit.AvailableAfter = e.available
	l.sink.RecordLedgerOp(audit)
}

func splitKey(k string) (string, string) {
	for i := 0; i < len(k); i++ {
		if k[i] == '|' {
			return k[:i], k[i+1:]
		}
	}
	return k, ""
}
