package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/course-insights-bridge/internal/models"
	appErrors "github.com/noah-isme/course-insights-bridge/pkg/errors"
	"github.com/noah-isme/course-insights-bridge/pkg/response"
)

// RequireRoles lets the request through only for the listed caller roles.
func RequireRoles(roles ...models.CallerRole) gin.HandlerFunc {
	allowed := make(map[models.CallerRole]struct{}, len(roles))
	for _, r := range roles {
		allowed[r] = struct{}{}
	}
	return func(c *gin.Context) {
		claims := Claims(c)
		if claims == nil {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}
		if _, ok := allowed[claims.Role]; !ok {
			response.Error(c, appErrors.ErrForbidden)
			c.Abort()
			return
		}
		c.Next()
	}
}
