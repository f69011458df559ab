package memory

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
)

type scopedKey struct {
	scope string
	key   string
}

func newScopedKey(scope, key string) (scopedKey, error) {
	k := scopedKey{scope: strings.TrimSpace(scope), key: strings.TrimSpace(key)}
	if k.key == "" {
		return scopedKey{}, domain.ErrIdempotencyKeyRequired
	}
	return k, nil
}

// IdempotencyKeys хранит ключи оформления заказа в памяти процесса.
// Ключи живут отдельно от Store и не участвуют в его транзакциях.
type IdempotencyKeys struct {
	mu      sync.Mutex
	clock   domain.Clock
	records map[scopedKey]domain.IdempotencyRecord
}

// IdempotencyOption настраивает IdempotencyKeys.
type IdempotencyOption func(*IdempotencyKeys)

// WithIdempotencyClock подменяет время, относительно которого проверяется TTL.
func WithIdempotencyClock(clock domain.Clock) IdempotencyOption {
	return func(r *IdempotencyKeys) {
		if clock != nil {
			r.clock = clock
		}
	}
}

func NewIdempotencyRepository(opts ...IdempotencyOption) *IdempotencyKeys {
	r := &IdempotencyKeys{
		clock:   time.Now,
		records: make(map[scopedKey]domain.IdempotencyRecord),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// CreateProcessing занимает ключ; истёкшая запись с тем же ключом перезаписывается.
func (r *IdempotencyKeys) CreateProcessing(_ context.Context, scope, key, requestHash string, ttlAt time.Time) (domain.IdempotencyRecord, error) {
	now := r.clock().UTC()
	record, err := domain.NewProcessingRecord(scope, key, requestHash, ttlAt, now)
	if err != nil {
		return domain.IdempotencyRecord{}, err
	}
	k := scopedKey{scope: record.Scope, key: record.Key}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.records[k]; ok && !existing.Expired(now) {
		return copyRecord(existing), existing.ConflictWith(record.RequestHash)
	}
	r.records[k] = record
	return copyRecord(record), nil
}

func (r *IdempotencyKeys) Get(_ context.Context, scope, key string) (domain.IdempotencyRecord, error) {
	k, err := newScopedKey(scope, key)
	if err != nil {
		return domain.IdempotencyRecord{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.records[k]
	if !ok {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyNotFound
	}
	return copyRecord(record), nil
}

func (r *IdempotencyKeys) MarkDone(_ context.Context, scope, key string, body []byte, httpStatus int) error {
	return r.finish(scope, key, domain.IdempotencyStatusDone, body, httpStatus)
}

func (r *IdempotencyKeys) MarkFailed(_ context.Context, scope, key string, body []byte, httpStatus int) error {
	return r.finish(scope, key, domain.IdempotencyStatusFailed, body, httpStatus)
}

// DeleteExpired удаляет до limit записей с ttl <= before, начиная с самых старых; limit <= 0 снимает ограничение.
func (r *IdempotencyKeys) DeleteExpired(_ context.Context, before time.Time, limit int) (int, error) {
	if before.IsZero() {
		before = r.clock().UTC()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var expired []scopedKey
	for k, record := range r.records {
		if record.Expired(before) {
			expired = append(expired, k)
		}
	}
	slices.SortFunc(expired, func(a, b scopedKey) int {
		return r.records[a].TTLAt.Compare(r.records[b].TTLAt)
	})
	if limit > 0 && len(expired) > limit {
		expired = expired[:limit]
	}
	for _, k := range expired {
		delete(r.records, k)
	}
	return len(expired), nil
}

// Len возвращает число хранимых ключей, включая истёкшие.
func (r *IdempotencyKeys) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

func (r *IdempotencyKeys) finish(scope, key string, status domain.IdempotencyStatus, body []byte, httpStatus int) error {
	k, err := newScopedKey(scope, key)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.records[k]
	if !ok {
		return domain.ErrIdempotencyKeyNotFound
	}
	record.Status = status
	record.ResponseBody = slices.Clone(body)
	record.HTTPStatus = httpStatus
	record.UpdatedAt = r.clock().UTC()
	r.records[k] = record
	return nil
}

func copyRecord(src domain.IdempotencyRecord) domain.IdempotencyRecord {
	dst := src
	dst.ResponseBody = slices.Clone(src.ResponseBody)
	return dst
}

var _ domain.IdempotencyRepository = (*IdempotencyKeys)(nil)
