package middleware

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"leasehub/api/internal/config"
	"leasehub/api/internal/security"
)

const (
	AccessCookie  = "accessToken"
	RefreshCookie = "refreshToken"
	csrfCookieTTL = 24 * time.Hour
)

// CookieSettings controls the attributes shared by every auth cookie.
type CookieSettings struct {
	Domain string
	Path   string
	Secure bool
}

func CookieSettingsFromConfig(cfg *config.AppConfig) CookieSettings {
	path := cfg.Cookies.Path
	if path == "" {
		path = "/"
	}
	return CookieSettings{
		Domain: cfg.Cookies.Domain,
		Path:   path,
		Secure: cfg.IsProduction(),
	}
}

// AuthCookies is the set written after a successful login, signup, refresh or reset.
type AuthCookies struct {
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
	CSRFToken        string
}

func (s CookieSettings) cookie(name, value string, maxAge time.Duration, httpOnly bool) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     s.Path,
		Domain:   s.Domain,
		MaxAge:   int(maxAge / time.Second),
		Expires:  time.Now().Add(maxAge),
		Secure:   s.Secure,
		HttpOnly: httpOnly,
		SameSite: http.SameSiteStrictMode,
	}
}

func SetAuthCookies(c *gin.Context, s CookieSettings, cookies AuthCookies) {
	now := time.Now()
	http.SetCookie(c.Writer, s.cookie(AccessCookie, cookies.AccessToken, cookies.AccessExpiresAt.Sub(now), true))
	http.SetCookie(c.Writer, s.cookie(RefreshCookie, cookies.RefreshToken, cookies.RefreshExpiresAt.Sub(now), true))
	if cookies.CSRFToken != "" {
		SetCSRFCookie(c, s, cookies.CSRFToken)
	}
}

// SetCSRFCookie writes the double-submit cookie. Scripts must be able to read it.
func SetCSRFCookie(c *gin.Context, s CookieSettings, token string) {
	http.SetCookie(c.Writer, s.cookie(security.CSRFCookie, token, csrfCookieTTL, false))
}

func ClearAuthCookies(c *gin.Context, s CookieSettings) {
	for _, name := range []string{AccessCookie, RefreshCookie, security.CSRFCookie} {
		cookie := s.cookie(name, "", 0, name != security.CSRFCookie)
		cookie.MaxAge = -1
		cookie.Expires = time.Unix(0, 0)
		http.SetCookie(c.Writer, cookie)
	}
}

// dropRequestCookie removes name from the inbound Cookie header.
func dropRequestCookie(r *http.Request, name string) {
	cookies := r.Cookies()
	r.Header.Del("Cookie")
	for _, cookie := range cookies {
		if cookie.Name != name {
			r.AddCookie(cookie)
		}
	}
}
