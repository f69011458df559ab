package httpapi

import (
	"fmt"
	"slices"
	"time"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/marketplace/internal/auth"
	"github.com/vladislavdragonenkov/marketplace/internal/domain"
	"github.com/vladislavdragonenkov/marketplace/internal/metrics"
)

const ctxActor = "actor"

// TokenParser разбирает bearer-токен в участника.
type TokenParser interface {
	Parse(raw string) (domain.Actor, error)
}

// requestLogger пишет одну строку на запрос.
func requestLogger(logger *log.Entry, m *metrics.MarketplaceMetrics) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}
			duration := time.Since(start)
			status := c.Response().Status
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			m.RecordHTTPRequest(c.Request().Method, route, status, duration)

			entry := logger.WithFields(log.Fields{
				"method":      c.Request().Method,
				"path":        c.Request().URL.Path,
				"route":       route,
				"status":      status,
				"duration_ms": duration.Milliseconds(),
				"request_id":  c.Response().Header().Get(echo.HeaderXRequestID),
			})
			if actor, ok := c.Get(ctxActor).(domain.Actor); ok {
				entry = entry.WithField("actor_role", actor.Role)
			}
			switch {
			case status >= 500:
				entry.Error("request completed")
			case status >= 400:
				entry.Warn("request completed")
			default:
				entry.Info("request completed")
			}
			return nil
		}
	}
}

// authenticate кладёт участника из bearer-токена в контекст запроса.
func authenticate(tokens TokenParser) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			raw, err := auth.FromHeader(c.Request().Header.Get(echo.HeaderAuthorization))
			if err != nil {
				return err
			}
			actor, err := tokens.Parse(raw)
			if err != nil {
				return err
			}
			c.Set(ctxActor, actor)
			return next(c)
		}
	}
}

// requireRole пропускает только перечисленные роли.
func requireRole(roles ...domain.Role) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			actor, ok := c.Get(ctxActor).(domain.Actor)
			if !ok {
				return auth.ErrMissingToken
			}
			if !slices.Contains(roles, actor.Role) {
				return fmt.Errorf("%w: role %s cannot access %s", domain.ErrUnauthorized, actor.Role, c.Path())
			}
			return next(c)
		}
	}
}

func actorFrom(c echo.Context) domain.Actor {
	actor, _ := c.Get(ctxActor).(domain.Actor)
	return actor
}
