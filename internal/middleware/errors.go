package middleware

import (
	"math"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"leasehub/api/internal/apperr"
)

// AbortWithError writes the {code, message} body for err and stops the chain.
func AbortWithError(c *gin.Context, err error) {
	appErr := apperr.From(err)
	if appErr.Kind == apperr.KindRateLimited && appErr.RetryAfter > 0 {
		c.Header("Retry-After", strconv.FormatInt(ceilSeconds(appErr.RetryAfter), 10))
	}
	if appErr.Kind == apperr.KindInternal {
		_ = c.Error(err)
	}
	c.AbortWithStatusJSON(apperr.HTTPStatus(appErr), apperr.ToResponse(appErr))
}

func ceilSeconds(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	return int64(math.Ceil(d.Seconds()))
}
