package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
	"github.com/vladislavdragonenkov/marketplace/internal/metrics"
)

const defaultKeyTTL = 24 * time.Hour

var (
	// ErrRequestInProgress — запрос с этим ключом ещё обрабатывается.
	ErrRequestInProgress = errors.New("request with the same idempotency key is in progress")
)

// Response — сохраняемый результат обработки запроса.
type Response struct {
	Status   int
	Body     []byte
	Replayed bool
}

// Handler выполняет запрос и возвращает готовый к сохранению ответ.
// Ошибка означает, что ответ не сформирован: ключ помечается failed со статусом из Response.
type Handler func(ctx context.Context) (Response, error)

// Guard обеспечивает повторяемость запросов по заголовку Idempotency-Key.
type Guard struct {
	repo    domain.IdempotencyRepository
	ttl     time.Duration
	clock   domain.Clock
	metrics *metrics.MarketplaceMetrics
	logger  *log.Entry
}

// GuardOption настраивает Guard.
type GuardOption func(*Guard)

// WithTTL задаёт срок жизни ключа.
func WithTTL(ttl time.Duration) GuardOption {
	return func(g *Guard) {
		if ttl > 0 {
			g.ttl = ttl
		}
	}
}

// WithGuardClock подменяет источник времени.
func WithGuardClock(clock domain.Clock) GuardOption {
	return func(g *Guard) {
		if clock != nil {
			g.clock = clock
		}
	}
}

// WithReplayMetrics подключает счётчик повторов.
func WithReplayMetrics(m *metrics.MarketplaceMetrics) GuardOption {
	return func(g *Guard) {
		g.metrics = m
	}
}

// WithGuardLogger задаёт logger.
func WithGuardLogger(logger *log.Entry) GuardOption {
	return func(g *Guard) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// NewGuard создаёт Guard поверх репозитория ключей.
func NewGuard(repo domain.IdempotencyRepository, opts ...GuardOption) *Guard {
	g := &Guard{
		repo:   repo,
		ttl:    defaultKeyTTL,
		clock:  time.Now,
		logger: log.WithField("component", "idempotency-guard"),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Execute выполняет handler не более одного раза на пару (scope, key).
// Пустой ключ отключает защиту. Повтор с тем же телом возвращает сохранённый ответ,
// повтор с другим телом возвращает ErrIdempotencyHashMismatch.
func (g *Guard) Execute(ctx context.Context, scope, key string, request any, handler Handler) (Response, error) {
	key = strings.TrimSpace(key)
	if key == "" || g == nil || g.repo == nil {
		return handler(ctx)
	}

	hash, err := RequestHash(request)
	if err != nil {
		return Response{}, err
	}

	record, err := g.repo.CreateProcessing(ctx, scope, key, hash, g.clock().UTC().Add(g.ttl))
	if err != nil {
		return g.replay(record, err)
	}

	resp, runErr := handler(ctx)
	if runErr != nil {
		status := resp.Status
		if status == 0 {
			status = http.StatusInternalServerError
		}
		if err := g.repo.MarkFailed(ctx, scope, key, resp.Body, status); err != nil {
			g.logger.WithError(err).WithField("idempotency_key", key).Warn("failed to store idempotency failure response")
		}
		return resp, runErr
	}

	if err := g.repo.MarkDone(ctx, scope, key, resp.Body, resp.Status); err != nil {
		g.logger.WithError(err).WithField("idempotency_key", key).Warn("failed to store idempotent success response")
	}
	return resp, nil
}

func (g *Guard) replay(record domain.IdempotencyRecord, createErr error) (Response, error) {
	switch {
	case errors.Is(createErr, domain.ErrIdempotencyHashMismatch):
		return Response{}, createErr
	case errors.Is(createErr, domain.ErrIdempotencyKeyAlreadyExists):
	default:
		return Response{}, fmt.Errorf("create idempotency record: %w", createErr)
	}

	if !record.Status.Settled() {
		return Response{}, ErrRequestInProgress
	}
	g.metrics.RecordIdempotencyReplay()
	g.logger.WithFields(log.Fields{
		"idempotency_key": record.Key,
		"status":          record.Status,
	}).Info("idempotent response replayed")
	return Response{
		Status:   record.HTTPStatus,
		Body:     slices.Clone(record.ResponseBody),
		Replayed: true,
	}, nil
}

// RequestHash возвращает отпечаток тела запроса. encoding/json сортирует ключи map,
// поэтому отпечаток детерминирован для структур и map.
func RequestHash(request any) (string, error) {
	data, err := json.Marshal(request)
	if err != nil {
		return "", fmt.Errorf("hash idempotent request: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
