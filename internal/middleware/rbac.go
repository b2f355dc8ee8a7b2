package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/clinfhir/extractor-api/internal/models"
	appErrors "github.com/clinfhir/extractor-api/pkg/errors"
	"github.com/clinfhir/extractor-api/pkg/response"
)

// RequireRole enforces the minimum role for a route under the total order
// USER < RESEARCHER < CLINICIAN < ADMIN. Must run after Auth.
func RequireRole(minimum models.UserRole) gin.HandlerFunc {
	return func(c *gin.Context) {
		user := UserFromContext(c)
		if user == nil {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}

		if !user.Role.AtLeast(minimum) {
			response.Error(c, appErrors.ErrForbidden)
			c.Abort()
			return
		}

		c.Next()
	}
}

// UserFromContext returns the resolved caller, or nil outside Auth.
func UserFromContext(c *gin.Context) *models.User {
	value, exists := c.Get(ContextUserKey)
	if !exists {
		return nil
	}
	user, ok := value.(*models.User)
	if !ok {
		return nil
	}
	return user
}
