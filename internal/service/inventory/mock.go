package inventory

import (
	"context"
	"errors"
	"sync"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
)

// ErrInjectedFailure — ошибка, которую FaultyLedger возвращает по умолчанию.
var ErrInjectedFailure = errors.New("injected inventory failure")

// FaultyLedger оборачивает настоящий ledger и роняет N-й резерв. Используется в тестах атомарности.
type FaultyLedger struct {
	next domain.InventoryLedger

	mu sync.Mutex
	// FailOnReserve — номер вызова ReserveStock (с 1), который завершится ошибкой; 0 — не падать.
	FailOnReserve int
	ReserveErr    error

	ReserveCalls int
	ReleaseCalls int
}

// NewFaultyLedger возвращает обёртку, которая упадёт на failOn-м резерве.
func NewFaultyLedger(next domain.InventoryLedger, failOn int) *FaultyLedger {
	return &FaultyLedger{next: next, FailOnReserve: failOn, ReserveErr: ErrInjectedFailure}
}

// ReserveStock считает вызовы и подменяет N-й ошибкой.
func (f *FaultyLedger) ReserveStock(ctx context.Context, productID string, qty int) error {
	f.mu.Lock()
	f.ReserveCalls++
	fail := f.FailOnReserve > 0 && f.ReserveCalls == f.FailOnReserve
	f.mu.Unlock()

	if fail {
		return f.ReserveErr
	}
	return f.next.ReserveStock(ctx, productID, qty)
}

// ReleaseStock считает вызовы и делегирует дальше.
func (f *FaultyLedger) ReleaseStock(ctx context.Context, productID string, qty int) error {
	f.mu.Lock()
	f.ReleaseCalls++
	f.mu.Unlock()
	return f.next.ReleaseStock(ctx, productID, qty)
}

// FaultyFactory оборачивает каждый ledger транзакции в FaultyLedger и запоминает последний.
func FaultyFactory(base Factory, failOn int) (Factory, func() *FaultyLedger) {
	var (
		mu   sync.Mutex
		last *FaultyLedger
	)
	factory := func(tx domain.Tx) domain.InventoryLedger {
		mu.Lock()
		defer mu.Unlock()
		last = NewFaultyLedger(base(tx), failOn)
		return last
	}
	return factory, func() *FaultyLedger {
		mu.Lock()
		defer mu.Unlock()
		return last
	}
}

var _ domain.InventoryLedger = (*FaultyLedger)(nil)
