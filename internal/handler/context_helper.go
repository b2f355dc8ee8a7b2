package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/clinfhir/extractor-api/internal/middleware"
	"github.com/clinfhir/extractor-api/internal/models"
)

func userFromContext(c *gin.Context) *models.User {
	return middleware.UserFromContext(c)
}
