package memory

import (
	"context"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
)

// Store — in-memory хранилище для локальной разработки и тестов.
// Все сущности живут под одним mutex; транзакция держит его целиком и
// откатывает изменения по журналу undo-операций.
type Store struct {
	mu       sync.Mutex
	products map[string]domain.Product
	carts    map[string]domain.Cart
	orders   map[string]domain.Order
	couriers map[string]domain.Courier
	outbox   map[string]outboxRecord
	now      domain.Clock
}

// StoreOption настраивает Store.
type StoreOption func(*Store)

// WithClock задаёт время для служебных полей outbox.
func WithClock(clock domain.Clock) StoreOption {
	return func(s *Store) {
		if clock != nil {
			s.now = clock
		}
	}
}

// NewStore создаёт пустое хранилище.
func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		products: make(map[string]domain.Product),
		carts:    make(map[string]domain.Cart),
		orders:   make(map[string]domain.Order),
		couriers: make(map[string]domain.Courier),
		outbox:   make(map[string]outboxRecord),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// journal копит undo-операции одной транзакции.
type journal struct {
	undo []func()
}

func (j *journal) rollback() {
	for i := len(j.undo) - 1; i >= 0; i-- {
		j.undo[i]()
	}
	j.undo = nil
}

// view — доступ к хранилищу вне транзакции (journal == nil) или внутри неё.
type view struct {
	s       *Store
	journal *journal
}

// lock берёт mutex только вне транзакции: внутри него уже держит WithinTx.
func (v view) lock() func() {
	if v.journal != nil {
		return func() {}
	}
	v.s.mu.Lock()
	return v.s.mu.Unlock
}

func (v view) record(undo func()) {
	if v.journal != nil {
		v.journal.undo = append(v.journal.undo, undo)
	}
}

// snapshot запоминает текущее значение ключа для отката.
func snapshot[K comparable, V any](m map[K]V, key K) func() {
	prev, existed := m[key]
	return func() {
		if existed {
			m[key] = prev
			return
		}
		delete(m, key)
	}
}

func (v view) Products() domain.ProductRepository { return productRepositoryInMemory{v} }
func (v view) Carts() domain.CartRepository       { return cartRepositoryInMemory{v} }
func (v view) Orders() domain.OrderRepository     { return orderRepositoryInMemory{v} }
func (v view) Couriers() domain.CourierRepository { return courierRepositoryInMemory{v} }
func (v view) Outbox() domain.OutboxRepository    { return outboxRepositoryInMemory{v} }

func (s *Store) autocommit() view { return view{s: s} }

// Products возвращает репозиторий товаров вне транзакции.
func (s *Store) Products() domain.ProductRepository { return s.autocommit().Products() }

// Carts возвращает репозиторий корзин вне транзакции.
func (s *Store) Carts() domain.CartRepository { return s.autocommit().Carts() }

// Orders возвращает репозиторий заказов вне транзакции.
func (s *Store) Orders() domain.OrderRepository { return s.autocommit().Orders() }

// Couriers возвращает репозиторий курьеров вне транзакции.
func (s *Store) Couriers() domain.CourierRepository { return s.autocommit().Couriers() }

// Outbox возвращает outbox-репозиторий вне транзакции.
func (s *Store) Outbox() domain.OutboxRepository { return s.autocommit().Outbox() }

// WithinTx выполняет fn под mutex хранилища. Ошибка или panic откатывают все изменения fn.
// Внутри fn можно пользоваться только репозиториями из tx.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx domain.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	j := &journal{}
	committed := false
	defer func() {
		if !committed {
			j.rollback()
		}
	}()

	if err := fn(ctx, view{s: s, journal: j}); err != nil {
		return err
	}
	committed = true
	return nil
}

var _ domain.UnitOfWork = (*Store)(nil)
