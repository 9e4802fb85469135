package http

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

const (
	AuthSessionCookie      = "auth-session-id"
	Login2FASessionCookie  = "2fa-session-id"
	TwoFactorSetupCookie   = "2fa-setup-session-id"
	oauthStateCookie       = "oauth-state"
	oauthStateCookieMaxAge = 10 * time.Minute
)

// CookieJar writes the session cookies with one set of attributes.
type CookieJar struct {
	Secure bool
	Domain string
}

func (j CookieJar) Set(c echo.Context, name, value string, ttl time.Duration) {
	c.SetCookie(&http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   j.Domain,
		MaxAge:   int(ttl / time.Second),
		Expires:  time.Now().Add(ttl),
		HttpOnly: true,
		Secure:   j.Secure,
		SameSite: http.SameSiteStrictMode,
	})
}

func (j CookieJar) Clear(c echo.Context, name string) {
	c.SetCookie(&http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		Domain:   j.Domain,
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		Secure:   j.Secure,
		SameSite: http.SameSiteStrictMode,
	})
}

// Value returns the cookie's value or "" when it is absent.
func (j CookieJar) Value(c echo.Context, name string) string {
	cookie, err := c.Cookie(name)
	if err != nil {
		return ""
	}
	return cookie.Value
}
