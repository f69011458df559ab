package httpapi

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/marketplace/internal/auth"
	"github.com/vladislavdragonenkov/marketplace/internal/domain"
	"github.com/vladislavdragonenkov/marketplace/internal/service/idempotency"
)

var kindStatus = map[domain.ErrorKind]int{
	domain.KindValidation:        http.StatusBadRequest,
	domain.KindEmptyCart:         http.StatusBadRequest,
	domain.KindNotFound:          http.StatusNotFound,
	domain.KindProductNotFound:   http.StatusNotFound,
	domain.KindUnauthorized:      http.StatusForbidden,
	domain.KindInsufficientStock: http.StatusConflict,
	domain.KindInvalidTransition: http.StatusConflict,
	domain.KindAlreadyClaimed:    http.StatusConflict,
	domain.KindConflict:          http.StatusConflict,
	domain.KindInternal:          http.StatusInternalServerError,
}

// classify переводит ошибку в HTTP-статус и тело ответа.
func classify(err error) (int, errorResponse) {
	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Code, errorResponse{Error: errorBody{
			Kind:    kindForStatus(httpErr.Code),
			Message: fmt.Sprint(httpErr.Message),
		}}
	}

	kind := domain.KindOf(err)
	status, ok := kindStatus[kind]
	if !ok {
		status = http.StatusInternalServerError
	}
	switch {
	case errors.Is(err, auth.ErrMissingToken), errors.Is(err, auth.ErrInvalidToken):
		status = http.StatusUnauthorized
	case errors.Is(err, idempotency.ErrRequestInProgress):
		kind, status = domain.KindConflict, http.StatusConflict
	}

	message := err.Error()
	if status == http.StatusInternalServerError {
		message = "internal server error"
	}
	return status, errorResponse{Error: errorBody{Kind: kind, Message: message}}
}

func kindForStatus(status int) domain.ErrorKind {
	switch status {
	case http.StatusBadRequest, http.StatusUnsupportedMediaType:
		return domain.KindValidation
	case http.StatusNotFound, http.StatusMethodNotAllowed:
		return domain.KindNotFound
	case http.StatusUnauthorized, http.StatusForbidden:
		return domain.KindUnauthorized
	case http.StatusConflict:
		return domain.KindConflict
	default:
		return domain.KindInternal
	}
}

// errorHandler пишет ошибки в едином формате {"success": false, "error": {...}}.
func errorHandler(logger *log.Entry) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		status, body := classify(err)
		if status >= http.StatusInternalServerError {
			logger.WithError(err).WithFields(log.Fields{
				"method": c.Request().Method,
				"path":   c.Path(),
			}).Error("request failed")
		}

		if c.Request().Method == http.MethodHead {
			err = c.NoContent(status)
		} else {
			err = c.JSON(status, body)
		}
		if err != nil {
			logger.WithError(err).Warn("failed to write error response")
		}
	}
}
