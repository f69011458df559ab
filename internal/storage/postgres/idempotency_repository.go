package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
)

const idempotencyColumns = `scope, key, request_hash, response_body, http_status, status, ttl_at, created_at, updated_at`

type idempotencyRepository struct {
	q     dbtx
	clock domain.Clock
}

// NewIdempotencyRepository создаёт хранилище ключей оформления заказа поверх store.
// Ключи пишутся вне транзакций WithinTx: сохранённый ответ должен пережить откат заказа.
func NewIdempotencyRepository(store *Store) domain.IdempotencyRepository {
	clock := store.clock
	if clock == nil {
		clock = time.Now
	}
	return &idempotencyRepository{q: store.DB(), clock: clock}
}

// CreateProcessing вставляет ключ или перезаписывает истёкший; живой ключ возвращается вместе с причиной конфликта.
func (r *idempotencyRepository) CreateProcessing(ctx context.Context, scope, key, requestHash string, ttlAt time.Time) (domain.IdempotencyRecord, error) {
	record, err := domain.NewProcessingRecord(scope, key, requestHash, ttlAt, r.clock())
	if err != nil {
		return domain.IdempotencyRecord{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var claimed string
	err = r.q.QueryRowContext(ctx, `
		INSERT INTO idempotency_keys (`+idempotencyColumns+`)
		VALUES ($1, $2, $3, NULL, NULL, $4, $5, $6, $6)
		ON CONFLICT (scope, key) DO UPDATE
		SET request_hash = EXCLUDED.request_hash,
		    response_body = NULL,
		    http_status = NULL,
		    status = EXCLUDED.status,
		    ttl_at = EXCLUDED.ttl_at,
		    created_at = EXCLUDED.created_at,
		    updated_at = EXCLUDED.updated_at
		WHERE idempotency_keys.ttl_at <= EXCLUDED.created_at
		RETURNING key
	`, record.Scope, record.Key, record.RequestHash, string(record.Status), record.TTLAt, record.CreatedAt).Scan(&claimed)
	switch {
	case err == nil:
		return record, nil
	case !errors.Is(err, sql.ErrNoRows):
		return domain.IdempotencyRecord{}, fmt.Errorf("claim idempotency key: %w", err)
	}

	existing, err := r.Get(ctx, record.Scope, record.Key)
	if err != nil {
		// запись успели удалить между INSERT и SELECT; клиент повторит запрос
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyAlreadyExists
	}
	return existing, existing.ConflictWith(record.RequestHash)
}

func (r *idempotencyRepository) Get(ctx context.Context, scope, key string) (domain.IdempotencyRecord, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyRequired
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	record, err := scanIdempotencyRecord(r.q.QueryRowContext(ctx,
		`SELECT `+idempotencyColumns+` FROM idempotency_keys WHERE scope = $1 AND key = $2`,
		strings.TrimSpace(scope), key,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyNotFound
	}
	return record, err
}

func (r *idempotencyRepository) MarkDone(ctx context.Context, scope, key string, body []byte, httpStatus int) error {
	return r.finish(ctx, scope, key, domain.IdempotencyStatusDone, body, httpStatus)
}

func (r *idempotencyRepository) MarkFailed(ctx context.Context, scope, key string, body []byte, httpStatus int) error {
	return r.finish(ctx, scope, key, domain.IdempotencyStatusFailed, body, httpStatus)
}

// DeleteExpired удаляет до limit самых старых истёкших ключей. LIMIT NULL в PostgreSQL снимает ограничение.
func (r *idempotencyRepository) DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error) {
	if before.IsZero() {
		before = r.clock().UTC()
	}
	batch := sql.NullInt64{Int64: int64(limit), Valid: limit > 0}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.q.ExecContext(ctx, `
		DELETE FROM idempotency_keys
		WHERE (scope, key) IN (
			SELECT scope, key
			FROM idempotency_keys
			WHERE ttl_at <= $1
			ORDER BY ttl_at
			LIMIT $2
		)
	`, before, batch)
	if err != nil {
		return 0, fmt.Errorf("delete expired idempotency keys: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return int(n), nil
}

func (r *idempotencyRepository) finish(ctx context.Context, scope, key string, status domain.IdempotencyStatus, body []byte, httpStatus int) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.ErrIdempotencyKeyRequired
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.q.ExecContext(ctx, `
		UPDATE idempotency_keys
		SET response_body = $3, http_status = $4, status = $5, updated_at = $6
		WHERE scope = $1 AND key = $2
	`, strings.TrimSpace(scope), key, body, httpStatus, string(status), r.clock().UTC())
	if err != nil {
		return fmt.Errorf("finish idempotency key: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return domain.ErrIdempotencyKeyNotFound
	}
	return nil
}

func scanIdempotencyRecord(row rowScanner) (domain.IdempotencyRecord, error) {
	var (
		record     domain.IdempotencyRecord
		status     string
		httpStatus sql.NullInt64
	)
	err := row.Scan(
		&record.Scope,
		&record.Key,
		&record.RequestHash,
		&record.ResponseBody,
		&httpStatus,
		&status,
		&record.TTLAt,
		&record.CreatedAt,
		&record.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.IdempotencyRecord{}, err
		}
		return domain.IdempotencyRecord{}, fmt.Errorf("scan idempotency key: %w", err)
	}

	record.Status = domain.IdempotencyStatus(status)
	if !record.Status.Valid() {
		return domain.IdempotencyRecord{}, fmt.Errorf("idempotency key %s has unknown status %q", record.Key, status)
	}
	record.HTTPStatus = int(httpStatus.Int64)
	return record, nil
}

var _ domain.IdempotencyRepository = (*idempotencyRepository)(nil)
