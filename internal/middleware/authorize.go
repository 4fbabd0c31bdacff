package middleware

import (
	"github.com/gin-gonic/gin"

	"leasehub/api/internal/apperr"
	"leasehub/api/internal/models"
)

// RequireRoles must run after Authenticate.
func RequireRoles(roles ...models.UserRole) gin.HandlerFunc {
	roleSet := make(map[models.UserRole]struct{}, len(roles))
	for _, role := range roles {
		roleSet[role] = struct{}{}
	}

	return func(c *gin.Context) {
		identity, ok := CurrentIdentity(c)
		if !ok {
			AbortWithError(c, apperr.Unauthenticated(apperr.CodeUnauthorized, "Authentication required"))
			return
		}

		if _, ok := roleSet[identity.Role]; !ok {
			AbortWithError(c, apperr.Forbidden("Insufficient permissions"))
			return
		}

		c.Next()
	}
}
