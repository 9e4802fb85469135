package http

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/FilipeAphrody/sentinel-session/internal/domain"
	"github.com/FilipeAphrody/sentinel-session/internal/usecase"
)

// AdminHandler exposes account and session administration.
type AdminHandler struct {
	usecase *usecase.AuthUsecase
}

func NewAdminHandler(g *echo.Group, u *usecase.AuthUsecase, requireSession echo.MiddlewareFunc) *AdminHandler {
	handler := &AdminHandler{usecase: u}

	adminOnly := []echo.MiddlewareFunc{requireSession, RoleMiddleware("admin")}
	g.PATCH("/users/:id/status", handler.ChangeAccountStatus, adminOnly...)
	g.GET("/attempts/:email", handler.GetFailedAttempts, adminOnly...)
	g.GET("/sessions/:id", handler.InspectSession, adminOnly...)
	g.DELETE("/sessions/:id", handler.RevokeSession, adminOnly...)
	return handler
}

type accountStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=ACTIVE SUSPENDED BLOCKED"`
	Note   string `json:"note" validate:"max=500"`
}

func (h *AdminHandler) ChangeAccountStatus(c echo.Context) error {
	var req accountStatusRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	err := h.usecase.ChangeAccountStatus(c.Request().Context(), c.Param("id"), domain.AccountStatus(req.Status), req.Note)
	if err != nil {
		return err
	}
	return ok(c, http.StatusOK, "account status updated", nil)
}

func (h *AdminHandler) GetFailedAttempts(c echo.Context) error {
	record, err := h.usecase.GetFailedAttempts(c.Request().Context(), c.Param("email"))
	if err != nil {
		return err
	}
	return ok(c, http.StatusOK, "", record)
}

func (h *AdminHandler) InspectSession(c echo.Context) error {
	kind, err := domain.ParseSessionKind(c.QueryParam("sessionType"))
	if err != nil {
		return err
	}

	view, err := h.usecase.InspectSession(c.Request().Context(), kind, c.Param("id"))
	if err != nil {
		return err
	}
	return ok(c, http.StatusOK, "", view)
}

func (h *AdminHandler) RevokeSession(c echo.Context) error {
	kind, err := domain.ParseSessionKind(c.QueryParam("sessionType"))
	if err != nil {
		return err
	}

	removed, err := h.usecase.RevokeSession(c.Request().Context(), kind, c.Param("id"))
	if err != nil {
		return err
	}
	if !removed {
		return domain.ErrSessionNotFound
	}
	return ok(c, http.StatusOK, "session revoked", nil)
}
