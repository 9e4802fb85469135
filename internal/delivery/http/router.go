package http

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/FilipeAphrody/sentinel-session/internal/usecase"
)

// ServerConfig configures the echo instance built by NewServer.
type ServerConfig struct {
	Handlers HandlerConfig
	// AllowOrigins feeds CORS; credentials are allowed so cookies flow.
	AllowOrigins []string
	// ExposeErrorDetail attaches wrapped causes to error bodies.
	ExposeErrorDetail bool
	PostLoginURL      string
	Version           string
	// MetricsHandler is served at /metrics when set.
	MetricsHandler http.Handler
}

// NewServer builds the HTTP server with every route mounted under /v1/auth.
// social may be nil when social login is not configured.
func NewServer(u *usecase.AuthUsecase, social *SocialLogin, cfg ServerConfig, logger *zap.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = NewRequestValidator()
	e.HTTPErrorHandler = NewHTTPErrorHandler(logger, cfg.ExposeErrorDetail)

	// Global Middlewares
	e.Use(middleware.RequestID())
	e.Use(RequestLogger(logger))
	e.Use(middleware.Recover())
	e.Use(middleware.Secure())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     cfg.AllowOrigins,
		AllowCredentials: true,
	}))
	e.Use(ClientIP())

	requireSession := SessionAuth(u, cfg.Handlers.JWTSecret, cfg.Handlers.Cookies)

	v1 := e.Group("/v1/auth")
	NewAuthHandler(v1, u, cfg.Handlers, requireSession)
	NewMFAHandler(v1, u, cfg.Handlers.Cookies, requireSession)
	NewAdminHandler(v1, u, requireSession)
	if social != nil {
		NewOAuthHandler(v1, u, *social, cfg.Handlers.Cookies, cfg.PostLoginURL, logger)
	}

	if cfg.MetricsHandler != nil {
		e.GET("/metrics", echo.WrapHandler(cfg.MetricsHandler))
	}

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, echo.Map{
			"status":  "healthy",
			"version": cfg.Version,
			"time":    time.Now().Format(time.RFC3339),
		})
	})
	return e
}
