package http

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/FilipeAphrody/sentinel-session/internal/domain"
	"github.com/FilipeAphrody/sentinel-session/internal/oauth"
	"github.com/FilipeAphrody/sentinel-session/internal/usecase"
	"github.com/FilipeAphrody/sentinel-session/pkg/security"
)

// SocialProvider is an external identity provider using the authorization code flow.
type SocialProvider interface {
	Name() string
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (*oauth.Profile, error)
}

// StateStore issues single-use OAuth state values.
type StateStore interface {
	Save(ctx context.Context, state, provider string, ttl time.Duration) error
	Consume(ctx context.Context, state, provider string) (bool, error)
}

// SocialLogin bundles a provider with the store for its state values.
type SocialLogin struct {
	Provider SocialProvider
	States   StateStore
}

// OAuthHandler signs users in through a social provider.
type OAuthHandler struct {
	usecase      *usecase.AuthUsecase
	provider     SocialProvider
	states       StateStore
	cookies      CookieJar
	postLoginURL string
	logger       *zap.Logger
}

func NewOAuthHandler(g *echo.Group, u *usecase.AuthUsecase, social SocialLogin, cookies CookieJar, postLoginURL string, logger *zap.Logger) *OAuthHandler {
	provider := social.Provider
	handler := &OAuthHandler{
		usecase:      u,
		provider:     provider,
		states:       social.States,
		cookies:      cookies,
		postLoginURL: postLoginURL,
		logger:       logger,
	}

	g.GET("/"+provider.Name(), handler.Redirect)
	g.GET("/"+provider.Name()+"/callback", handler.Callback)
	return handler
}

// Redirect starts the flow. The state is stored server side and also bound to
// the browser with a short-lived cookie. The cookie is SameSite=Lax because the
// callback arrives as a cross-site navigation.
func (h *OAuthHandler) Redirect(c echo.Context) error {
	state := security.GenerateSessionID()
	if err := h.states.Save(c.Request().Context(), state, h.provider.Name(), oauthStateCookieMaxAge); err != nil {
		return domain.Internal(err)
	}
	c.SetCookie(&http.Cookie{
		Name:     oauthStateCookie,
		Value:    state,
		Path:     "/",
		Domain:   h.cookies.Domain,
		MaxAge:   int(oauthStateCookieMaxAge / time.Second),
		HttpOnly: true,
		Secure:   h.cookies.Secure,
		SameSite: http.SameSiteLaxMode,
	})
	return c.Redirect(http.StatusTemporaryRedirect, h.provider.AuthCodeURL(state))
}

func (h *OAuthHandler) Callback(c echo.Context) error {
	expected := h.cookies.Value(c, oauthStateCookie)
	h.cookies.Clear(c, oauthStateCookie)

	state := c.QueryParam("state")
	if expected == "" || subtle.ConstantTimeCompare([]byte(expected), []byte(state)) != 1 {
		return domain.BadRequest("invalid oauth state", nil)
	}
	issued, err := h.states.Consume(c.Request().Context(), state, h.provider.Name())
	if err != nil {
		return domain.Internal(err)
	}
	if !issued {
		return domain.BadRequest("invalid oauth state", nil)
	}
	code := c.QueryParam("code")
	if code == "" {
		return domain.BadRequest("missing authorization code", nil)
	}

	ctx := c.Request().Context()
	profile, err := h.provider.Exchange(ctx, code)
	if err != nil {
		if errors.Is(err, oauth.ErrEmailNotVerified) {
			return domain.BadRequest("provider email is not verified", err)
		}
		h.logger.Error("OAuth exchange failed", zap.String("provider", h.provider.Name()), zap.Error(err))
		return domain.NewError(domain.KindInternal, "something went wrong")
	}

	res, err := h.usecase.SocialLogin(ctx, usecase.SocialLoginInput{
		Email:    profile.Email,
		Name:     profile.Name,
		Provider: profile.Provider,
	})
	if err != nil {
		return err
	}

	if res.Kind == domain.KindLogin2FA {
		h.cookies.Set(c, Login2FASessionCookie, res.SessionID, res.ExpiresIn)
	} else {
		h.cookies.Set(c, AuthSessionCookie, res.SessionID, res.ExpiresIn)
	}
	return c.Redirect(http.StatusFound, h.landingURL(res.NextAction))
}

// landingURL appends the next step to the frontend landing page.
func (h *OAuthHandler) landingURL(nextAction string) string {
	target, err := url.Parse(h.postLoginURL)
	if err != nil || nextAction == "" {
		return h.postLoginURL
	}
	q := target.Query()
	q.Set("nextAction", nextAction)
	target.RawQuery = q.Encode()
	return target.String()
}
