package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
)

const (
	pingTimeout = 5 * time.Second
	opTimeout   = 5 * time.Second

	// SQLSTATE unique_violation
	codeUniqueViolation = "23505"
)

// dbtx — общий интерфейс *sql.DB и *sql.Tx, поверх которого работают репозитории.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// PoolConfig — лимиты пула соединений database/sql.
type PoolConfig struct {
	MaxOpen     int
	MaxIdle     int
	MaxLifetime time.Duration
	MaxIdleTime time.Duration
}

// DefaultPoolConfig — лимиты для одного экземпляра сервиса.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxOpen:     25,
		MaxIdle:     25,
		MaxLifetime: 30 * time.Minute,
		MaxIdleTime: 5 * time.Minute,
	}
}

func (p PoolConfig) apply(db *sql.DB) {
	db.SetMaxOpenConns(p.MaxOpen)
	db.SetMaxIdleConns(p.MaxIdle)
	db.SetConnMaxLifetime(p.MaxLifetime)
	db.SetConnMaxIdleTime(p.MaxIdleTime)
}

// Store владеет пулом соединений с PostgreSQL и реализует domain.UnitOfWork.
type Store struct {
	db     *sql.DB
	logger *log.Entry
	clock  domain.Clock
	pool   PoolConfig
}

// Option настраивает Store.
type Option func(*Store)

func WithLogger(logger *log.Entry) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock задаёт время для created_at/updated_at служебных таблиц.
func WithClock(clock domain.Clock) Option {
	return func(s *Store) {
		if clock != nil {
			s.clock = clock
		}
	}
}

func WithPool(pool PoolConfig) Option {
	return func(s *Store) { s.pool = pool }
}

// Open подключается через драйвер pgx и ждёт ответа базы не дольше pingTimeout.
func Open(ctx context.Context, dsn string, opts ...Option) (*Store, error) {
	s := &Store{
		logger: log.WithField("component", "postgres"),
		clock:  time.Now,
		pool:   DefaultPoolConfig(),
	}
	for _, opt := range opts {
		opt(s)
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}
	s.pool.apply(db)
	s.db = db

	if err := s.Ping(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return s, nil
}

// DB отдаёт пул для операций вне unit of work.
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errStoreNotInitialized
	}
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	return s.db.PingContext(ctx)
}

// EnsureSchema применяет все up-миграции.
func (s *Store) EnsureSchema(ctx context.Context) error {
	return s.MigrateUp(ctx, 0)
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) Products() domain.ProductRepository { return &productRepository{q: s.db} }
func (s *Store) Carts() domain.CartRepository       { return &cartRepository{q: s.db} }
func (s *Store) Orders() domain.OrderRepository     { return &orderRepository{q: s.db} }
func (s *Store) Couriers() domain.CourierRepository { return &courierRepository{q: s.db} }
func (s *Store) Outbox() domain.OutboxRepository    { return s.outbox(s.db) }

func (s *Store) outbox(q dbtx) *outboxRepository {
	return &outboxRepository{q: q, clock: s.clock}
}

// txRepos — репозитории, привязанные к одной *sql.Tx.
type txRepos struct {
	store *Store
	tx    *sql.Tx
}

func (t txRepos) Products() domain.ProductRepository { return &productRepository{q: t.tx} }
func (t txRepos) Carts() domain.CartRepository       { return &cartRepository{q: t.tx} }
func (t txRepos) Orders() domain.OrderRepository     { return &orderRepository{q: t.tx} }
func (t txRepos) Couriers() domain.CourierRepository { return &courierRepository{q: t.tx} }
func (t txRepos) Outbox() domain.OutboxRepository    { return t.store.outbox(t.tx) }

// WithinTx выполняет fn в одной транзакции: ошибка или panic откатывают всё.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx domain.Tx) error) error {
	if s == nil || s.db == nil {
		return errStoreNotInitialized
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	return settle(tx, s.logger, func() error { return fn(ctx, txRepos{store: s, tx: tx}) })
}

// settle вызывает body и завершает tx: commit при успехе, rollback при ошибке или panic.
func settle(tx *sql.Tx, logger *log.Entry, body func() error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err == nil {
			return
		}
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) && logger != nil {
			logger.WithError(rbErr).Warn("rollback failed")
		}
	}()

	if err = body(); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// atomically выполняет fn в транзакции, если q ещё не транзакция.
func atomically(ctx context.Context, q dbtx, fn func(q dbtx) error) error {
	db, ok := q.(*sql.DB)
	if !ok {
		return fn(q)
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	return settle(tx, nil, func() error { return fn(tx) })
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == codeUniqueViolation
}

var _ domain.UnitOfWork = (*Store)(nil)
