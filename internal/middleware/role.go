package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/campus-events/backend/internal/models"
	"github.com/campus-events/backend/pkg/response"
)

// RequireRole returns a middleware that allows only the given roles.
func RequireRole(roles ...models.Role) gin.HandlerFunc {
	allowed := make(map[string]struct{})
	for _, r := range roles {
		allowed[string(r)] = struct{}{}
	}
	return func(c *gin.Context) {
		roleVal, ok := c.Get(ContextUserRole)
		if !ok {
			response.Unauthorized(c, "missing user context")
			c.Abort()
			return
		}
		role, _ := roleVal.(string)
		if _, ok := allowed[role]; !ok {
			response.Forbidden(c, "insufficient permissions")
			c.Abort()
			return
		}
		c.Next()
	}
}

// RequireStaff allows admins and organizers.
func RequireStaff() gin.HandlerFunc {
	return RequireRole(models.RoleAdmin, models.RoleOrganizer)
}
