package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"leasehub/api/internal/apperr"
	"leasehub/api/internal/security"
)

// CSRF enforces the double-submit check on state-changing requests. Paths
// under an exempt prefix (OAuth callbacks) are skipped.
func CSRF(guard security.CsrfGuard, exemptPrefixes ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !guard.RequiresProtection(c.Request.Method) || exempt(c.Request.URL.Path, exemptPrefixes) {
			c.Next()
			return
		}

		cookie, _ := c.Cookie(security.CSRFCookie)
		if !guard.Validate(c.GetHeader(security.CSRFHeader), cookie) {
			AbortWithError(c, apperr.New(apperr.KindAuthorization, apperr.CodeCSRFFailed, "Invalid CSRF token"))
			return
		}
		c.Next()
	}
}

func exempt(path string, prefixes []string) bool {
	for _, prefix := range prefixes {
		if prefix != "" && strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}
