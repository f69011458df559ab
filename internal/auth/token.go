// Package auth выпускает и проверяет bearer-токены участников маркетплейса.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
)

// DefaultTTL — срок жизни выпущенного токена по умолчанию.
const DefaultTTL = 24 * time.Hour

var (
	// ErrMissingToken — запрос без bearer-токена.
	ErrMissingToken = fmt.Errorf("%w: missing bearer token", domain.ErrUnauthorized)
	// ErrInvalidToken — подпись, срок или claims токена некорректны.
	ErrInvalidToken = fmt.Errorf("%w: invalid or expired token", domain.ErrUnauthorized)
	// ErrSecretRequired — секрет подписи не задан.
	ErrSecretRequired = errors.New("jwt secret is required")
)

// Claims — полезная нагрузка токена: subject = id участника, role = его роль.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Tokens подписывает и разбирает HS256-токены.
type Tokens struct {
	secret []byte
	clock  domain.Clock
}

// NewTokens создаёт Tokens с секретом подписи.
func NewTokens(secret string, clock domain.Clock) (*Tokens, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, ErrSecretRequired
	}
	if clock == nil {
		clock = time.Now
	}
	return &Tokens{secret: []byte(secret), clock: clock}, nil
}

// Issue возвращает подписанный токен для участника.
func (t *Tokens) Issue(actor domain.Actor, ttl time.Duration) (string, error) {
	if strings.TrimSpace(actor.ID) == "" {
		return "", domain.Validationf("subject is required")
	}
	if !actor.Role.Valid() {
		return "", domain.Validationf("unknown role %q", actor.Role)
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	now := t.clock()
	claims := Claims{
		Role: string(actor.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actor.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
}

// Parse проверяет токен и возвращает участника.
func (t *Tokens) Parse(raw string) (domain.Actor, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return domain.Actor{}, ErrMissingToken
	}

	var claims Claims
	token, err := jwt.ParseWithClaims(raw, &claims, func(tok *jwt.Token) (any, error) {
		if tok.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, fmt.Errorf("unexpected sign method %q", tok.Method.Alg())
		}
		return t.secret, nil
	}, jwt.WithTimeFunc(t.clock), jwt.WithExpirationRequired())
	if err != nil || !token.Valid {
		return domain.Actor{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	actor := domain.Actor{ID: claims.Subject, Role: domain.Role(claims.Role)}
	if actor.ID == "" || !actor.Role.Valid() {
		return domain.Actor{}, fmt.Errorf("%w: subject or role claim is missing", ErrInvalidToken)
	}
	return actor, nil
}

// FromHeader извлекает токен из значения заголовка Authorization.
func FromHeader(header string) (string, error) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", ErrMissingToken
	}
	return strings.TrimSpace(token), nil
}
