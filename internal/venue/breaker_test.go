package venue

import (
	"testing"
	"time"
)

func testBreaker() (*Breaker, *time.Time) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	b := NewBreaker("testvenue", BreakerConfig{
		ErrorThreshold: 50,
		MinRequests:    5,
		Window:         30 * time.Second,
		Cooldown:       15 * time.Second,
		HalfOpenMax:    1,
	})
	b.now = func() time.Time { return now }
	return b, &now
}

func TestBreakerStaysClosedBelowMinRequests(t *testing.T) {
	b, _ := testBreaker()

	for i := 0; i < 4; i++ {
		b.RecordFailure()
	}
	if b.State() != BreakerClosed {
		t.Fatalf("tripped below the sample minimum: %s", b.State())
	}
	if !b.Allow() {
		t.Fatal("closed breaker refused a call")
	}
}

func TestBreakerTripsAtThreshold(t *testing.T) {
	b, _ := testBreaker()

	// 3 failures out of 6 is exactly 50%
	for i := 0; i < 3; i++ {
		b.RecordSuccess()
	}
	for i := 0; i < 3; i++ {
		b.RecordFailure()
	}
	if b.State() != BreakerOpen {
		t.Fatalf("state = %s, want open", b.State())
	}
	if b.Allow() {
		t.Fatal("open breaker admitted a call")
	}
}

func TestBreakerStaysClosedBelowThreshold(t *testing.T) {
	b, _ := testBreaker()

	for i := 0; i < 5; i++ {
		b.RecordSuccess()
	}
	for i := 0; i < 2; i++ {
		b.RecordFailure()
	}
	if b.State() != BreakerClosed {
		t.Fatalf("state = %s, want closed", b.State())
	}
}

func TestBreakerHalfOpenAfterCooldown(t *testing.T) {
	b, now := testBreaker()

	for i := 0; i < 5; i++ {
		b.RecordFailure()
	}
	if b.State() != BreakerOpen {
		t.Fatalf("state = %s, want open", b.State())
	}

	*now = now.Add(16 * time.Second)
	if !b.Allow() {
		t.Fatal("no probe admitted after cooldown")
	}
	if b.State() != BreakerHalfOpen {
		t.Fatalf("state = %s, want half-open", b.State())
	}
	// only one probe at a time
	if b.Allow() {
		t.Fatal("second probe admitted while half-open")
	}
}

func TestBreakerHalfOpenSuccessCloses(t *testing.T) {
	b, now := testBreaker()

	for i := 0; i < 5; i++ {
		b.RecordFailure()
	}
	*now = now.Add(16 * time.Second)
	if !b.Allow() {
		t.Fatal("no probe admitted")
	}

	b.RecordSuccess()
	if b.State() != BreakerClosed {
		t.Fatalf("state = %s, want closed", b.State())
	}
	if !b.Allow() {
		t.Fatal("closed breaker refused a call")
	}
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	b, now := testBreaker()

	for i := 0; i < 5; i++ {
		b.RecordFailure()
	}
	*now = now.Add(16 * time.Second)
	if !b.Allow() {
		t.Fatal("no probe admitted")
	}

	b.RecordFailure()
	if b.State() != BreakerOpen {
		t.Fatalf("state = %s, want open", b.State())
	}
	if b.Allow() {
		t.Fatal("reopened breaker admitted a call")
	}

	// a full cooldown restarts from the reopen
	*now = now.Add(16 * time.Second)
	if !b.Allow() {
		t.Fatal("no probe after the second cooldown")
	}
}

func TestBreakerWindowExpiry(t *testing.T) {
	b, now := testBreaker()

	for i := 0; i < 4; i++ {
		b.RecordFailure()
	}
	// old failures age out of the rolling window
	*now = now.Add(31 * time.Second)
	b.RecordFailure()
	if b.State() != BreakerClosed {
		t.Fatalf("aged-out samples still count: %s", b.State())
	}
}
