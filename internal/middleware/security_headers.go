package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const hstsValue = "max-age=31536000; includeSubDomains"

// SecurityHeaders sets HSTS on HTTPS responses in production and redirects
// plain HTTP there unless forceHTTPS is off.
func SecurityHeaders(production, forceHTTPS bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")

		if !production {
			c.Next()
			return
		}

		if isHTTPS(c.Request) {
			c.Header("Strict-Transport-Security", hstsValue)
			c.Next()
			return
		}

		if forceHTTPS {
			c.Redirect(http.StatusMovedPermanently, "https://"+c.Request.Host+c.Request.URL.RequestURI())
			c.Abort()
			return
		}
		c.Next()
	}
}

func isHTTPS(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	proto := r.Header.Get("X-Forwarded-Proto")
	if i := strings.IndexByte(proto, ','); i >= 0 {
		proto = proto[:i]
	}
	return strings.EqualFold(strings.TrimSpace(proto), "https")
}
