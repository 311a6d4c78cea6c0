package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/campus-events/backend/internal/auth"
	"github.com/campus-events/backend/internal/models"
	"github.com/campus-events/backend/pkg/response"
)

const (
	// ContextUserID is the key for user ID in gin context.
	ContextUserID = "user_id"
	// ContextUserRole is the key for user role in gin context.
	ContextUserRole = "user_role"
	// ContextUserEmail is the key for user email in gin context.
	ContextUserEmail = "user_email"
	// ContextUserShift is the key for the declared shift in gin context.
	ContextUserShift = "user_shift"
)

// TokenValidator validates a bearer token.
type TokenValidator interface {
	Validate(token string) (*auth.Claims, error)
}

// JWT returns a middleware that validates JWT and sets user claims in context.
func JWT(validator TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			response.Unauthorized(c, "missing authorization header")
			c.Abort()
			return
		}
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			response.Unauthorized(c, "invalid authorization header")
			c.Abort()
			return
		}
		claims, err := validator.Validate(parts[1])
		if err != nil {
			response.Unauthorized(c, "invalid or expired token")
			c.Abort()
			return
		}
		c.Set(ContextUserID, claims.UserID)
		c.Set(ContextUserRole, claims.Role)
		c.Set(ContextUserEmail, claims.Email)
		c.Set(ContextUserShift, claims.Shift)
		c.Next()
	}
}

// PrincipalFrom builds the engine principal from the claims the JWT middleware stored.
func PrincipalFrom(c *gin.Context) models.Principal {
	id, _ := c.MustGet(ContextUserID).(uuid.UUID)
	role, _ := c.Get(ContextUserRole)
	shift, _ := c.Get(ContextUserShift)
	roleStr, _ := role.(string)
	shiftStr, _ := shift.(string)
	return models.Principal{UserID: id, Role: models.Role(roleStr), Shift: models.Shift(shiftStr)}
}
