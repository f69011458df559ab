package domain

import (
	"context"
	"errors"
	"slices"
	"strings"
	"time"
)

var (
	// ErrIdempotencyKeyRequired — запрос без ключа идемпотентности.
	ErrIdempotencyKeyRequired = errors.New("idempotency key is required")
	// ErrIdempotencyRequestHashRequired — не удалось вычислить отпечаток запроса.
	ErrIdempotencyRequestHashRequired = errors.New("idempotency request hash is required")
	// ErrIdempotencyKeyAlreadyExists — ключ уже использовался с тем же телом запроса.
	ErrIdempotencyKeyAlreadyExists = errors.New("idempotency key already exists")
	// ErrIdempotencyHashMismatch — ключ уже использовался с другим телом запроса.
	ErrIdempotencyHashMismatch = errors.New("idempotency key reused with different request")
	// ErrIdempotencyKeyNotFound — запись по ключу отсутствует.
	ErrIdempotencyKeyNotFound = errors.New("idempotency key not found")
)

// IdempotencyStatus — стадия обработки запроса с ключом идемпотентности:
// processing пока обработчик работает, затем done или failed с сохранённым ответом.
type IdempotencyStatus string

const (
	IdempotencyStatusProcessing IdempotencyStatus = "processing"
	IdempotencyStatusDone       IdempotencyStatus = "done"
	IdempotencyStatusFailed     IdempotencyStatus = "failed"
)

var idempotencyStatuses = []IdempotencyStatus{IdempotencyStatusProcessing, IdempotencyStatusDone, IdempotencyStatusFailed}

func (s IdempotencyStatus) Valid() bool { return slices.Contains(idempotencyStatuses, s) }

// Settled — ответ сохранён и его можно повторить клиенту.
func (s IdempotencyStatus) Settled() bool { return s == IdempotencyStatusDone || s == IdempotencyStatusFailed }

// IdempotencyRecord хранит сохранённый ответ на оформление заказа.
// Ключ уникален в пределах клиента: Scope = customer id.
type IdempotencyRecord struct {
	Scope        string
	Key          string
	RequestHash  string
	ResponseBody []byte
	HTTPStatus   int
	Status       IdempotencyStatus
	TTLAt        time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// IdempotencyRepository — хранилище ключей; записи адресуются парой (scope, key).
type IdempotencyRepository interface {
	CreateProcessing(ctx context.Context, scope, key, requestHash string, ttlAt time.Time) (IdempotencyRecord, error)
	Get(ctx context.Context, scope, key string) (IdempotencyRecord, error)
	MarkDone(ctx context.Context, scope, key string, responseBody []byte, httpStatus int) error
	MarkFailed(ctx context.Context, scope, key string, responseBody []byte, httpStatus int) error
	DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error)
}

// IsIdempotencyConflict сообщает, что ключ уже занят (тем же или другим запросом).
func IsIdempotencyConflict(err error) bool {
	return errors.Is(err, ErrIdempotencyKeyAlreadyExists) || errors.Is(err, ErrIdempotencyHashMismatch)
}

// DefaultIdempotencyTTL — срок жизни ключа, если вызывающий его не задал.
const DefaultIdempotencyTTL = 24 * time.Hour

// NewProcessingRecord нормализует ключ и собирает запись в статусе processing.
func NewProcessingRecord(scope, key, requestHash string, ttlAt, now time.Time) (IdempotencyRecord, error) {
	key = strings.TrimSpace(key)
	requestHash = strings.TrimSpace(requestHash)
	switch {
	case key == "":
		return IdempotencyRecord{}, ErrIdempotencyKeyRequired
	case requestHash == "":
		return IdempotencyRecord{}, ErrIdempotencyRequestHashRequired
	}
	now = now.UTC()
	if ttlAt.IsZero() {
		ttlAt = now.Add(DefaultIdempotencyTTL)
	}
	return IdempotencyRecord{
		Scope:       strings.TrimSpace(scope),
		Key:         key,
		RequestHash: requestHash,
		Status:      IdempotencyStatusProcessing,
		TTLAt:       ttlAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// Expired сообщает, что запись можно перезаписать или удалить.
func (r IdempotencyRecord) Expired(at time.Time) bool {
	return !r.TTLAt.After(at)
}

// ConflictWith объясняет, почему живой ключ нельзя занять запросом с отпечатком requestHash.
func (r IdempotencyRecord) ConflictWith(requestHash string) error {
	if r.RequestHash != strings.TrimSpace(requestHash) {
		return ErrIdempotencyHashMismatch
	}
	return ErrIdempotencyKeyAlreadyExists
}
