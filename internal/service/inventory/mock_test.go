package inventory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
	"github.com/vladislavdragonenkov/marketplace/internal/storage/memory"
)

func seedStore(t *testing.T) *memory.Store {
	t.Helper()
	store := memory.NewStore()
	now := time.Now().UTC()
	for _, p := range []domain.Product{
		{ID: "p-a", MerchantID: "m-1", Name: "A", Price: 10, Stock: 5, Status: domain.ProductStatusActive, CreatedAt: now},
		{ID: "p-b", MerchantID: "m-1", Name: "B", Price: 20, Stock: 1, Status: domain.ProductStatusActive, CreatedAt: now},
	} {
		if err := store.Products().Create(context.Background(), p); err != nil {
			t.Fatalf("seed product: %v", err)
		}
	}
	return store
}

func TestLedger_ReserveAndRelease(t *testing.T) {
	ctx := context.Background()
	store := seedStore(t)
	ledger := NewLedger(store.Products(), nil, nil)

	if err := ledger.ReserveStock(ctx, "p-a", 3); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := ledger.ReserveStock(ctx, "p-b", 2); !errors.Is(err, domain.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}
	if err := ledger.ReleaseStock(ctx, "p-a", 3); err != nil {
		t.Fatalf("release: %v", err)
	}

	p, err := store.Products().Get(ctx, "p-a")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if p.Stock != 5 || p.Sold != 0 {
		t.Fatalf("expected stock restored, got stock=%d sold=%d", p.Stock, p.Sold)
	}
}

func TestFaultyLedger_FailsOnNthReserve(t *testing.T) {
	ctx := context.Background()
	store := seedStore(t)
	faulty := NewFaultyLedger(NewLedger(store.Products(), nil, nil), 2)

	if err := faulty.ReserveStock(ctx, "p-a", 1); err != nil {
		t.Fatalf("first reserve must pass: %v", err)
	}
	if err := faulty.ReserveStock(ctx, "p-a", 1); !errors.Is(err, ErrInjectedFailure) {
		t.Fatalf("expected injected failure, got %v", err)
	}
	if err := faulty.ReserveStock(ctx, "p-a", 1); err != nil {
		t.Fatalf("third reserve must pass: %v", err)
	}
	if err := faulty.ReleaseStock(ctx, "p-a", 1); err != nil {
		t.Fatalf("release: %v", err)
	}
	if faulty.ReserveCalls != 3 || faulty.ReleaseCalls != 1 {
		t.Fatalf("unexpected call counters: reserve=%d release=%d", faulty.ReserveCalls, faulty.ReleaseCalls)
	}
}
