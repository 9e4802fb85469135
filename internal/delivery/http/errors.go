package http

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/FilipeAphrody/sentinel-session/internal/domain"
)

// response is the envelope of every JSON body the service writes.
type response struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Detail  string      `json:"detail,omitempty"`
}

func ok(c echo.Context, status int, message string, data interface{}) error {
	return c.JSON(status, response{Success: true, Message: message, Data: data})
}

// StatusFor maps an error kind to its HTTP status code.
func StatusFor(kind domain.ErrorKind) int {
	switch kind {
	case domain.KindBadRequest, domain.KindInvalidSession, domain.KindInvalidOTP:
		return http.StatusBadRequest
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindConflict:
		return http.StatusConflict
	case domain.KindInvalidCredentials:
		return http.StatusUnauthorized
	case domain.KindTooManyAttempts:
		return http.StatusTooManyRequests
	case domain.KindInvalidState:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// NewHTTPErrorHandler renders errors returned by handlers. The wrapped cause is
// attached as detail only when exposeDetail is set.
func NewHTTPErrorHandler(logger *zap.Logger, exposeDetail bool) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		status := http.StatusInternalServerError
		body := response{Message: "something went wrong"}

		var he *echo.HTTPError
		var typed *domain.Error
		switch {
		case errors.As(err, &typed):
			status = StatusFor(typed.Kind)
			body.Message = typed.Message
			if exposeDetail && typed.Err != nil {
				body.Detail = typed.Err.Error()
			}
		case errors.As(err, &he):
			status = he.Code
			body.Message = fmt.Sprint(he.Message)
			if exposeDetail && he.Internal != nil {
				body.Detail = he.Internal.Error()
			}
		default:
			if exposeDetail {
				body.Detail = err.Error()
			}
		}

		if status >= http.StatusInternalServerError {
			logger.Error("Request failed",
				zap.String("method", c.Request().Method),
				zap.String("path", c.Path()),
				zap.Error(err),
			)
		}

		var writeErr error
		if c.Request().Method == http.MethodHead {
			writeErr = c.NoContent(status)
		} else {
			writeErr = c.JSON(status, body)
		}
		if writeErr != nil {
			logger.Warn("Failed to write error response", zap.Error(writeErr))
		}
	}
}
