package http

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/FilipeAphrody/sentinel-session/internal/domain"
	"github.com/FilipeAphrody/sentinel-session/internal/usecase"
	"github.com/FilipeAphrody/sentinel-session/pkg/security"
)

// HandlerConfig holds what the handlers need beyond the engine.
type HandlerConfig struct {
	JWTSecret      string
	AccessTokenTTL time.Duration
	Cookies        CookieJar
}

// AuthHandler represents the HTTP delivery layer for authentication.
type AuthHandler struct {
	usecase *usecase.AuthUsecase
	cfg     HandlerConfig
}

// NewAuthHandler registers the authentication routes to the provided echo group.
// Routes behind requireSession need a live LOGIN session.
func NewAuthHandler(g *echo.Group, u *usecase.AuthUsecase, cfg HandlerConfig, requireSession echo.MiddlewareFunc) *AuthHandler {
	handler := &AuthHandler{usecase: u, cfg: cfg}

	g.POST("/register", handler.Register)
	g.POST("/login", handler.Login)
	g.POST("/logout", handler.Logout)
	g.POST("/forget-password", handler.ForgetPassword)
	g.POST("/reset-password", handler.ResetPassword)
	g.POST("/resend-otp", handler.ResendOTP)
	g.POST("/validate-session", handler.ValidateSession)

	g.GET("/me", handler.Me, requireSession)
	g.POST("/verify-email", handler.RequestEmailVerification, requireSession)
	return handler
}

type registerRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8,max=128"`
	Name     string `json:"name" validate:"max=100"`
}

// loginRequest defines the expected JSON payload for the login endpoint.
type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type emailRequest struct {
	Email string `json:"email" validate:"required,email"`
}

type resetPasswordRequest struct {
	SessionID string `json:"sessionId" validate:"required"`
	Password  string `json:"password" validate:"required,min=8,max=128"`
}

type resendRequest struct {
	SessionType string `json:"sessionType" validate:"required"`
	SessionID   string `json:"sessionId" validate:"required"`
}

// validateSessionRequest may omit sessionId for LOGIN_2FA, which then comes
// from the challenge cookie.
type validateSessionRequest struct {
	SessionType string `json:"sessionType" validate:"required"`
	SessionID   string `json:"sessionId"`
	OTP         string `json:"otp" validate:"required,max=10"`
}

// bindAndValidate decodes the body and runs the registered validator.
func bindAndValidate(c echo.Context, req interface{}) error {
	if err := c.Bind(req); err != nil {
		return domain.BadRequest("invalid request body", err)
	}
	return c.Validate(req)
}

// issueLogin writes the auth cookie and returns a bearer token bound to the session.
func (h *AuthHandler) issueLogin(c echo.Context, sessionID string, ttl time.Duration, identity *domain.SessionMetadata) (string, error) {
	h.cfg.Cookies.Set(c, AuthSessionCookie, sessionID, ttl)
	h.cfg.Cookies.Clear(c, Login2FASessionCookie)
	if identity == nil {
		return "", nil
	}
	token, err := security.GenerateAccessToken(identity.UserID, identity.Role, sessionID, h.cfg.JWTSecret, h.cfg.AccessTokenTTL)
	if err != nil {
		return "", domain.Internal(err)
	}
	return token, nil
}

func (h *AuthHandler) Register(c echo.Context) error {
	var req registerRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	res, err := h.usecase.CreateUser(c.Request().Context(), usecase.RegisterInput{
		Email:    req.Email,
		Password: req.Password,
		Name:     req.Name,
	})
	if err != nil {
		return err
	}
	return ok(c, http.StatusCreated, "verification code sent", res)
}

// Login handles the initial authentication request. Accounts with 2FA get a
// LOGIN_2FA challenge cookie instead of the auth cookie.
func (h *AuthHandler) Login(c echo.Context) error {
	var req loginRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	res, err := h.usecase.Login(c.Request().Context(), req.Email, req.Password)
	if err != nil {
		return err
	}
	return h.respondLogin(c, res)
}

func (h *AuthHandler) respondLogin(c echo.Context, res *usecase.LoginResult) error {
	if res.Kind == domain.KindLogin2FA {
		h.cfg.Cookies.Set(c, Login2FASessionCookie, res.SessionID, res.ExpiresIn)
		return ok(c, http.StatusOK, "two-factor code required", res)
	}

	token, err := h.issueLogin(c, res.SessionID, res.ExpiresIn, res.Identity)
	if err != nil {
		return err
	}
	return ok(c, http.StatusOK, "logged in", echo.Map{
		"sessionId":    res.SessionID,
		"is2FaEnabled": res.Is2FAEnabled,
		"nextAction":   res.NextAction,
		"accessToken":  token,
	})
}

// Logout deletes the LOGIN session named by the auth cookie or bearer token.
func (h *AuthHandler) Logout(c echo.Context) error {
	sessionID := h.cfg.Cookies.Value(c, AuthSessionCookie)
	if sessionID == "" {
		if bearer, found := strings.CutPrefix(c.Request().Header.Get(echo.HeaderAuthorization), "Bearer "); found {
			if claims, err := security.ValidateToken(bearer, h.cfg.JWTSecret); err == nil {
				sessionID = claims.SessionID
			}
		}
	}

	if err := h.usecase.Logout(c.Request().Context(), sessionID); err != nil {
		return err
	}
	h.cfg.Cookies.Clear(c, AuthSessionCookie)
	return ok(c, http.StatusOK, "logged out", nil)
}

func (h *AuthHandler) ForgetPassword(c echo.Context) error {
	var req emailRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	res, err := h.usecase.ForgetPassword(c.Request().Context(), req.Email)
	if err != nil {
		return err
	}
	return ok(c, http.StatusOK, "password reset code sent", res)
}

func (h *AuthHandler) ResetPassword(c echo.Context) error {
	var req resetPasswordRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	if err := h.usecase.ResetPassword(c.Request().Context(), req.SessionID, req.Password); err != nil {
		return err
	}
	return ok(c, http.StatusOK, "password updated", nil)
}

func (h *AuthHandler) ResendOTP(c echo.Context) error {
	var req resendRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	kind, err := domain.ParseSessionKind(req.SessionType)
	if err != nil {
		return err
	}

	res, err := h.usecase.ResendOTP(c.Request().Context(), kind, req.SessionID)
	if err != nil {
		return err
	}
	return ok(c, http.StatusOK, "verification code sent", res)
}

// ValidateSession checks an OTP and applies the cookie side of the transition.
func (h *AuthHandler) ValidateSession(c echo.Context) error {
	var req validateSessionRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	kind, err := domain.ParseSessionKind(req.SessionType)
	if err != nil {
		return err
	}

	sessionID := req.SessionID
	if sessionID == "" && kind == domain.KindLogin2FA {
		sessionID = h.cfg.Cookies.Value(c, Login2FASessionCookie)
	}
	if sessionID == "" {
		return domain.BadRequest("field 'sessionId' is required", nil)
	}

	res, err := h.usecase.ValidateSession(c.Request().Context(), kind, sessionID, req.OTP)
	if err != nil {
		if kind == domain.KindLogin2FA && domain.KindOf(err) == domain.KindTooManyAttempts {
			h.cfg.Cookies.Clear(c, Login2FASessionCookie)
		}
		return err
	}

	if res.Kind == domain.KindLogin {
		token, err := h.issueLogin(c, res.SessionID, res.ExpiresIn, res.Identity)
		if err != nil {
			return err
		}
		return ok(c, http.StatusOK, "logged in", echo.Map{
			"validated":   true,
			"sessionId":   res.SessionID,
			"nextAction":  res.NextAction,
			"accessToken": token,
		})
	}
	return ok(c, http.StatusOK, "session validated", res)
}

// Me returns the account behind the current session.
func (h *AuthHandler) Me(c echo.Context) error {
	user, err := h.usecase.GetUser(c.Request().Context(), userIDFrom(c))
	if err != nil {
		return err
	}
	return ok(c, http.StatusOK, "", user)
}

func (h *AuthHandler) RequestEmailVerification(c echo.Context) error {
	res, err := h.usecase.RequestEmailVerification(c.Request().Context(), userIDFrom(c))
	if err != nil {
		return err
	}
	return ok(c, http.StatusOK, "verification code sent", res)
}
