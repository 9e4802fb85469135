package http

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/FilipeAphrody/sentinel-session/internal/usecase"
)

// MFAHandler handles MFA enrollment and management.
type MFAHandler struct {
	usecase *usecase.AuthUsecase
	cookies CookieJar
}

// NewMFAHandler registers the MFA management routes. Every route needs a live
// LOGIN session.
func NewMFAHandler(g *echo.Group, u *usecase.AuthUsecase, cookies CookieJar, requireSession echo.MiddlewareFunc) *MFAHandler {
	handler := &MFAHandler{usecase: u, cookies: cookies}

	mfa := g.Group("/2fa", requireSession)
	mfa.POST("/generate", handler.Generate)
	mfa.POST("/enable", handler.Enable)
	mfa.POST("/disable", handler.Disable)
	return handler
}

// mfaEnableRequest is used to verify the first code before enabling MFA.
// SessionID falls back to the setup cookie.
type mfaEnableRequest struct {
	Code      string `json:"code" validate:"required,len=6,numeric"`
	SessionID string `json:"sessionId"`
}

type mfaCodeRequest struct {
	Code string `json:"code" validate:"required,len=6,numeric"`
}

// Generate creates a pending TOTP key and returns it once, with its QR code.
func (h *MFAHandler) Generate(c echo.Context) error {
	setup, err := h.usecase.Generate2FASession(c.Request().Context(), userIDFrom(c))
	if err != nil {
		return err
	}
	h.cookies.Set(c, TwoFactorSetupCookie, setup.SessionID, setup.ExpiresIn)
	return ok(c, http.StatusOK, "scan the code with your authenticator app", setup)
}

// Enable verifies the provided code and officially turns on MFA for the user account.
func (h *MFAHandler) Enable(c echo.Context) error {
	var req mfaEnableRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = h.cookies.Value(c, TwoFactorSetupCookie)
	}

	if err := h.usecase.Enable2FA(c.Request().Context(), userIDFrom(c), req.Code, sessionID); err != nil {
		return err
	}
	h.cookies.Clear(c, TwoFactorSetupCookie)
	return ok(c, http.StatusOK, "two-factor authentication enabled", nil)
}

func (h *MFAHandler) Disable(c echo.Context) error {
	var req mfaCodeRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	if err := h.usecase.Disable2FA(c.Request().Context(), userIDFrom(c), req.Code); err != nil {
		return err
	}
	return ok(c, http.StatusOK, "two-factor authentication disabled", nil)
}
