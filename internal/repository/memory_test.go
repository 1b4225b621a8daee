package repository

import (
	"context"
	"testing"
	"time"

	"github.com/finbridge/venuegate/internal/model"
	"github.com/finbridge/venuegate/internal/pkg/apperrors"
	"github.com/shopspring/decimal"
)

func sampleOrder(id string) *model.InternalOrder {
	now := time.Now().UTC()
	return &model.InternalOrder{
		ID:             id,
		IdempotencyKey: "key-1",
		TenantID:       "tenant-1",
		BrokerID:       "broker-1",
		UserID:         "cust-1",
		Venue:          "binance",
		Symbol:         "BTC/USDT",
		Side:           model.SideBuy,
		Type:           model.OrderTypeLimit,
		Amount:         decimal.NewFromInt(1),
		Price:          decimal.NewFromInt(50000),
		Status:         model.OrderPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func TestCreateIfAbsentDuplicateWithinWindow(t *testing.T) {
	store := NewMemoryOrderStore()
	ctx := context.Background()

	first, created, err := store.CreateIfAbsent(ctx, sampleOrder("ord-1"), time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if !created {
		t.Fatal("first insert reported as duplicate")
	}

	second, created, err := store.CreateIfAbsent(ctx, sampleOrder("ord-2"), time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if created {
		t.Fatal("duplicate key created a second order")
	}
	if second.ID != first.ID {
		t.Fatalf("duplicate returned %s, want %s", second.ID, first.ID)
	}
}

func TestCreateIfAbsentClaimExpiresAfterWindow(t *testing.T) {
	store := NewMemoryOrderStore()
	ctx := context.Background()
	window := 5 * time.Millisecond

	first, _, err := store.CreateIfAbsent(ctx, sampleOrder("ord-1"), window)
	if err != nil {
		t.Fatal(err)
	}

	time.Sleep(3 * window)

	// the stale claim is taken over and a fresh order owns the key
	second, created, err := store.CreateIfAbsent(ctx, sampleOrder("ord-2"), window)
	if err != nil {
		t.Fatal(err)
	}
	if !created {
		t.Fatal("expired claim still suppressed the retry")
	}
	if second.ID == first.ID {
		t.Fatal("takeover returned the stale order")
	}

	held, err := store.FindActiveByKey(ctx, "key-1", window)
	if err != nil {
		t.Fatal(err)
	}
	if held.ID != second.ID {
		t.Fatalf("key held by %s, want %s", held.ID, second.ID)
	}
}

func TestFindActiveByKeyWindow(t *testing.T) {
	store := NewMemoryOrderStore()
	ctx := context.Background()

	if _, err := store.FindActiveByKey(ctx, "key-1", time.Minute); !apperrors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("missing key err = %v", err)
	}

	order := sampleOrder("ord-1")
	if _, _, err := store.CreateIfAbsent(ctx, order, time.Minute); err != nil {
		t.Fatal(err)
	}

	held, err := store.FindActiveByKey(ctx, "key-1", time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if held.ID != order.ID {
		t.Fatalf("held by %s, want %s", held.ID, order.ID)
	}

	time.Sleep(2 * time.Millisecond)
	if _, err := store.FindActiveByKey(ctx, "key-1", time.Millisecond); !apperrors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("expired claim err = %v", err)
	}

	if err := store.Delete(ctx, order.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := store.FindActiveByKey(ctx, "key-1", time.Minute); !apperrors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("deleted order err = %v", err)
	}
}
