package middleware

import (
	"context"
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"leasehub/api/internal/apperr"
	"leasehub/api/internal/models"
	"leasehub/api/internal/security"
	"leasehub/api/internal/service"
)

const identityKey = "identity"

// Identity is what protected handlers learn about the caller.
type Identity struct {
	UserID string
	Email  string
	Role   models.UserRole
}

type TokenVerifier interface {
	Verify(token string) (*security.AccessClaims, error)
}

type RevocationChecker interface {
	IsRevoked(ctx context.Context, token string) bool
}

type Refresher interface {
	Refresh(ctx context.Context, refreshToken, ip string) (service.AuthResult, error)
}

// Gate authenticates requests from the access token cookie or bearer header
// and can transparently refresh an expired session.
type Gate struct {
	tokens    TokenVerifier
	denylist  RevocationChecker
	refresher Refresher
	csrf      security.CsrfGuard
	cookies   CookieSettings
	log       zerolog.Logger
}

func NewGate(tokens TokenVerifier, denylist RevocationChecker, refresher Refresher, cookies CookieSettings, log zerolog.Logger) *Gate {
	return &Gate{
		tokens:    tokens,
		denylist:  denylist,
		refresher: refresher,
		csrf:      security.NewCsrfGuard(),
		cookies:   cookies,
		log:       log.With().Str("component", "gate").Logger(),
	}
}

func CurrentIdentity(c *gin.Context) (Identity, bool) {
	v, ok := c.Get(identityKey)
	if !ok {
		return Identity{}, false
	}
	identity, ok := v.(Identity)
	return identity, ok
}

// ExtractAccessToken reads the access token from the cookie, falling back to
// the bearer header.
func ExtractAccessToken(c *gin.Context) string {
	if cookie, err := c.Cookie(AccessCookie); err == nil && cookie != "" {
		return cookie
	}
	header := c.GetHeader("Authorization")
	if len(header) > 7 && strings.EqualFold(header[:7], "Bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}

// authenticate resolves the caller without writing a response.
func (g *Gate) authenticate(c *gin.Context) (Identity, error) {
	token := ExtractAccessToken(c)
	if token == "" {
		return Identity{}, apperr.Unauthenticated(apperr.CodeUnauthorized, "Authentication required")
	}
	if g.denylist.IsRevoked(c.Request.Context(), token) {
		return Identity{}, apperr.Unauthenticated(apperr.CodeTokenRevoked, "Token has been revoked")
	}

	claims, err := g.tokens.Verify(token)
	if err != nil {
		if errors.Is(err, security.ErrTokenExpired) {
			return Identity{}, apperr.Unauthenticated(apperr.CodeTokenExpired, "Token has expired")
		}
		return Identity{}, apperr.Unauthenticated(apperr.CodeInvalidToken, "Invalid token")
	}

	return Identity{UserID: claims.UserID, Email: claims.Email, Role: claims.Role}, nil
}

func (g *Gate) Authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, err := g.authenticate(c)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		c.Set(identityKey, identity)
		c.Next()
	}
}

// OptionalAuth attaches the identity when the request carries a usable token
// and never rejects.
func (g *Gate) OptionalAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if identity, err := g.authenticate(c); err == nil {
			c.Set(identityKey, identity)
		}
		c.Next()
	}
}

// SilentRefresh runs before Authenticate on refresh-capable routes. When the
// access token is missing or expired and a refresh cookie is present, it
// rotates the session, writes fresh cookies and rewrites the inbound request
// so that Authenticate sees the new access token. Failures fall through.
func (g *Gate) SilentRefresh() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !g.needsRefresh(c) {
			c.Next()
			return
		}
		refreshToken, err := c.Cookie(RefreshCookie)
		if err != nil || refreshToken == "" {
			c.Next()
			return
		}

		result, err := g.refresher.Refresh(c.Request.Context(), refreshToken, c.ClientIP())
		if err != nil {
			event := g.log.Debug()
			if apperr.KindOf(err) == apperr.KindInternal {
				event = g.log.Error()
			}
			event.Err(err).Msg("silent refresh failed")
			c.Next()
			return
		}

		csrfToken, err := g.csrf.Issue()
		if err != nil {
			g.log.Error().Err(err).Msg("issue csrf token failed")
		}
		SetAuthCookies(c, g.cookies, AuthCookies{
			AccessToken:      result.AccessToken,
			AccessExpiresAt:  result.AccessExpiresAt,
			RefreshToken:     result.RefreshToken,
			RefreshExpiresAt: result.RefreshExpiresAt,
			CSRFToken:        csrfToken,
		})

		dropRequestCookie(c.Request, AccessCookie)
		c.Request.Header.Set("Authorization", "Bearer "+result.AccessToken)

		g.log.Debug().Str("user_id", result.User.ID).Msg("session refreshed silently")
		c.Next()
	}
}

func (g *Gate) needsRefresh(c *gin.Context) bool {
	token := ExtractAccessToken(c)
	if token == "" {
		return true
	}
	_, err := g.tokens.Verify(token)
	return errors.Is(err, security.ErrTokenExpired)
}
