package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/finbridge/venuegate/internal/model"
	"github.com/finbridge/venuegate/internal/pkg/logger"
	"github.com/finbridge/venuegate/internal/repository"
)

// AuditService consumes ledger mutation records off a buffered channel
// and persists them in batches, so ledger operations never block on
// storage. A ring buffer keeps the most recent entries queryable even
// without a database.
type AuditService struct {
	ch     chan model.LedgerAuditEntry
	buffer *auditRing
	store  repository.LedgerAuditStore
	log    *slog.Logger

	done chan struct{}
	once sync.Once
}

func NewAuditService(store repository.LedgerAuditStore) *AuditService {
	svc := &AuditService{
		ch:     make(chan model.LedgerAuditEntry, 1000),
		buffer: newAuditRing(1000),
		store:  store,
		log:    logger.Component("audit"),
		done:   make(chan struct{}),
	}
	go svc.consume()
	return svc
}

// RecordLedgerOp satisfies ledger.AuditSink. A full channel drops the
// entry rather than blocking the ledger.
func (s *AuditService) RecordLedgerOp(entry model.LedgerAuditEntry) {
	s.buffer.add(entry)
	select {
	case s.ch <- entry:
	default:
		s.log.Warn("audit buffer full, dropping entry", "op", entry.Op,
			"venue", entry.Venue, "asset", entry.Asset)
	}
}

// Recent returns up to limit of the latest entries, newest first.
func (s *AuditService) Recent(limit int) []model.LedgerAuditEntry {
	return s.buffer.list(limit)
}

func (s *AuditService) Close() {
	s.once.Do(func() {
		close(s.ch)
		<-s.done
	})
}

func (s *AuditService) consume() {
	defer close(s.done)

	batch := make([]model.LedgerAuditEntry, 0, 64)
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 || s.store == nil {
			batch = batch[:0]
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.store.Insert(ctx, batch); err != nil {
			s.log.Error("audit persist failed", "count", len(batch), "error", err.Error())
		}
		cancel()
		batch = batch[:0]
	}

	for {
		select {
		case entry, ok := <-s.ch:
			if !ok {
				flush()
				return
			}
			batch = append(batch, entry)
			if len(batch) >= 64 {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

type auditRing struct {
	mu      sync.Mutex
	entries []model.LedgerAuditEntry
	next    int
	full    bool
}

func newAuditRing(size int) *auditRing {
	return &auditRing{entries: make([]model.LedgerAuditEntry, size)}
}

func (r *auditRing) add(entry model.LedgerAuditEntry) {
	r.mu.Lock()
	r.entries[r.next] = entry
	r.next = (r.next + 1) % len(r.entries)
	if r.next == 0 {
		r.full = true
	}
	r.mu.Unlock()
}

func (r *auditRing) list(limit int) []model.LedgerAuditEntry {
	r.mu.Lock()
	defer r.mu.Unlock()

	size := r.next
	if r.full {
		size = len(r.entries)
	}
	if limit <= 0 || limit > size {
		limit = size
	}

	out := make([]model.LedgerAuditEntry, 0, limit)
	for i := 1; i <= limit; i++ {
		idx := (r.next - i + len(r.entries)) % len(r.entries)
		out = append(out, r.entries[idx])
	}
	return out
}
