package venue

import (
	"sync"
	"time"

	"github.com/finbridge/venuegate/internal/pkg/metrics"
)

// BreakerState represents the state of a circuit breaker
type BreakerState int32

const (
	// BreakerClosed - normal operation, requests pass through
	BreakerClosed BreakerState = iota
	// BreakerOpen - circuit is open, requests are rejected
	BreakerOpen
	// BreakerHalfOpen - testing if the venue has recovered
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig holds circuit breaker tuning per venue.
type BreakerConfig struct {
	ErrorThreshold float64       // error percentage (0-100) that opens the breaker
	MinRequests    int           // minimum samples in the window before tripping
	Window         time.Duration // rolling observation window
	Cooldown       time.Duration // how long the breaker stays open
	HalfOpenMax    int           // probe requests allowed while half-open
}

func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		ErrorThreshold: 50,
		MinRequests:    5,
		Window:         30 * time.Second,
		Cooldown:       15 * time.Second,
		HalfOpenMax:    1,
	}
}

type breakerSample struct {
	at time.Time
	ok bool
}

// Breaker implements the circuit breaker pattern for one venue adapter.
// It trips when the error percentage over the rolling window crosses the
// threshold, fails fast while open, and re-probes after the cooldown.
type Breaker struct {
	venue string
	cfg   BreakerConfig

	mu            sync.Mutex
	state         BreakerState
	samples       []breakerSample
	openedAt      time.Time
	halfOpenInUse int
	now           func() time.Time // test hook
}

func NewBreaker(venue string, cfg BreakerConfig) *Breaker {
	if cfg.Window <= 0 {
		cfg = DefaultBreakerConfig()
	}
	return &Breaker{
		venue: venue,
		cfg:   cfg,
		state: BreakerClosed,
		now:   time.Now,
	}
}

// Allow reports whether a call may proceed. While open it fails fast; after
// the cooldown it admits a bounded number of half-open probes.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		return true
	case BreakerOpen:
		if b.now().Sub(b.openedAt) < b.cfg.Cooldown {
			return false
		}
		b.transition(BreakerHalfOpen)
		b.halfOpenInUse = 1
		return true
	case BreakerHalfOpen:
		if b.halfOpenInUse >= b.cfg.HalfOpenMax {
			return false
		}
		b.halfOpenInUse++
		return true
	}
	return false
}

func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.record(true)
	if b.state == BreakerHalfOpen {
		b.transition(BreakerClosed)
		b.samples = nil
		b.halfOpenInUse = 0
	}
}

func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.record(false)
	if b.state == BreakerHalfOpen {
		b.transition(BreakerOpen)
		b.openedAt = b.now()
		b.halfOpenInUse = 0
		return
	}
	if b.state == BreakerClosed && b.shouldTrip() {
		b.transition(BreakerOpen)
		b.openedAt = b.now()
	}
}

func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) record(ok bool) {
	now := b.now()
	b.samples = append(b.samples, breakerSample{at: now, ok: ok})
	cutoff := now.Add(-b.cfg.Window)
	trimmed := b.samples[:0]
	for _, s := range b.samples {
		if s.at.After(cutoff) {
			trimmed = append(trimmed, s)
		}
	}
	b.samples = trimmed
}

func (b *Breaker) shouldTrip() bool {
	total := len(b.samples)
	if total < b.cfg.MinRequests {
		return false
	}
	failures := 0
	for _, s := range b.samples {
		if !s.ok {
			failures++
		}
	}
	pct := float64(failures) / float64(total) * 100
	return pct >= b.cfg.ErrorThreshold
}

func (b *Breaker) transition(to BreakerState) {
	b.state = to
	metrics.CircuitState.WithLabelValues(b.venue).Set(float64(to))
}
