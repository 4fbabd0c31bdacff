package middleware

import (
	"context"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"

	"leasehub/api/internal/apperr"
	"leasehub/api/internal/cache"
)

type Limiter interface {
	Check(ctx context.Context, purpose cache.Purpose, identifier string) (cache.Result, error)
	CheckLogin(ctx context.Context, ip, email string) (cache.Result, cache.Result, error)
}

// KeyFunc picks the identifier a request is counted under.
type KeyFunc func(c *gin.Context) string

func ByClientIP(c *gin.Context) string {
	return c.ClientIP()
}

// ByEmailOrIP counts by the JSON body's email field, falling back to the
// client address. The body stays readable through ShouldBindBodyWith.
func ByEmailOrIP(c *gin.Context) string {
	if email := bodyEmail(c); email != "" {
		return email
	}
	return c.ClientIP()
}

func bodyEmail(c *gin.Context) string {
	var body struct {
		Email string `json:"email"`
	}
	if c.Request.Body == nil {
		return ""
	}
	if err := c.ShouldBindBodyWith(&body, binding.JSON); err != nil {
		return ""
	}
	return strings.TrimSpace(body.Email)
}

func RateLimit(limiter Limiter, purpose cache.Purpose, key KeyFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		res, err := limiter.Check(c.Request.Context(), purpose, key(c))
		if err != nil {
			AbortWithError(c, apperr.Internal(err))
			return
		}
		writeRateLimitHeaders(c, res)
		if !res.Allowed {
			AbortWithError(c, apperr.RateLimited(res.RetryAfter))
			return
		}
		c.Next()
	}
}

// LoginRateLimit counts the attempt by client address and by submitted email.
func LoginRateLimit(limiter Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		ipRes, emailRes, err := limiter.CheckLogin(c.Request.Context(), c.ClientIP(), bodyEmail(c))
		if err != nil {
			AbortWithError(c, apperr.Internal(err))
			return
		}

		res := mergeResults(ipRes, emailRes)
		writeRateLimitHeaders(c, res)
		if !res.Allowed {
			AbortWithError(c, apperr.RateLimited(res.RetryAfter))
			return
		}
		c.Next()
	}
}

// mergeResults reports the denying result, or the one closest to its limit
// when both allow.
func mergeResults(a, b cache.Result) cache.Result {
	switch {
	case !a.Allowed:
		return a
	case !b.Allowed:
		return b
	case b.Remaining < a.Remaining:
		return b
	case b.Remaining == a.Remaining && b.Limit < a.Limit:
		return b
	default:
		return a
	}
}

func writeRateLimitHeaders(c *gin.Context, res cache.Result) {
	c.Header("X-RateLimit-Limit", strconv.Itoa(res.Limit))
	c.Header("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
	c.Header("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))
}
