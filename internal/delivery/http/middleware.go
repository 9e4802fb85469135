package http

import (
	"context"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/FilipeAphrody/sentinel-session/internal/domain"
	"github.com/FilipeAphrody/sentinel-session/internal/logger"
	"github.com/FilipeAphrody/sentinel-session/internal/usecase"
	"github.com/FilipeAphrody/sentinel-session/pkg/security"
)

// Context keys set by SessionAuth.
const (
	ctxUserID    = "user_id"
	ctxRole      = "role"
	ctxEmail     = "email"
	ctxSessionID = "session_id"
)

// Authenticator resolves a LOGIN session id to its identity.
type Authenticator interface {
	Authenticate(ctx context.Context, sessionID string) (*domain.SessionMetadata, error)
}

var errNotAuthenticated = domain.NewError(domain.KindInvalidCredentials, "authentication required")

// SessionAuth admits requests that carry a live LOGIN session, either as the
// auth cookie or as a bearer token whose sid claim names the session. The
// session is always looked up, so logging out revokes bearer tokens too.
func SessionAuth(auth Authenticator, jwtSecret string, jar CookieJar) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			sessionID := jar.Value(c, AuthSessionCookie)

			if authHeader := c.Request().Header.Get(echo.HeaderAuthorization); authHeader != "" {
				// Expected format: "Bearer <token>"
				parts := strings.Split(authHeader, " ")
				if len(parts) != 2 || parts[0] != "Bearer" {
					return domain.NewError(domain.KindInvalidCredentials, "invalid authorization format")
				}
				claims, err := security.ValidateToken(parts[1], jwtSecret)
				if err != nil {
					return domain.NewError(domain.KindInvalidCredentials, "invalid or expired token")
				}
				sessionID = claims.SessionID
			}

			if sessionID == "" {
				return errNotAuthenticated
			}

			identity, err := auth.Authenticate(c.Request().Context(), sessionID)
			if err != nil {
				if domain.KindOf(err) == domain.KindInternal {
					return err
				}
				return errNotAuthenticated
			}

			// Inject extracted user information into Echo context.
			c.Set(ctxUserID, identity.UserID)
			c.Set(ctxRole, identity.Role)
			c.Set(ctxEmail, identity.Email)
			c.Set(ctxSessionID, sessionID)

			return next(c)
		}
	}
}

// RoleMiddleware ensures only users with specific roles (or admins) can access the route.
func RoleMiddleware(requiredRole string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			role, ok := c.Get(ctxRole).(string)

			// Authorization logic: Admins have full access, others need the specific role.
			if !ok || (role != requiredRole && role != "admin") {
				return domain.NewError(domain.KindInvalidState, "access denied: insufficient permissions")
			}

			return next(c)
		}
	}
}

// ClientIP records the caller address on the request context for the audit trail.
func ClientIP() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			c.SetRequest(req.WithContext(usecase.WithClientIP(req.Context(), c.RealIP())))
			return next(c)
		}
	}
}

// RequestLogger writes one zap entry per request, tagged with the request id.
func RequestLogger(log *zap.Logger) echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogRemoteIP:  true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			reqLog := logger.WithRequestID(log, v.RequestID)
			fields := []zap.Field{
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency.Round(time.Microsecond)),
				zap.String("remote_ip", v.RemoteIP),
			}
			if v.Error != nil {
				reqLog.Warn("Request", append(fields, zap.Error(v.Error))...)
				return nil
			}
			reqLog.Info("Request", fields...)
			return nil
		},
	})
}

func userIDFrom(c echo.Context) string {
	id, _ := c.Get(ctxUserID).(string)
	return id
}
