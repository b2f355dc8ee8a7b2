package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/clinfhir/extractor-api/internal/models"
	"github.com/clinfhir/extractor-api/internal/service"
	appErrors "github.com/clinfhir/extractor-api/pkg/errors"
	"github.com/clinfhir/extractor-api/pkg/response"
)

// APIKeyHandler exposes API key management endpoints.
type APIKeyHandler struct {
	service *service.APIKeyService
}

// NewAPIKeyHandler creates a new handler.
func NewAPIKeyHandler(svc *service.APIKeyService) *APIKeyHandler {
	return &APIKeyHandler{service: svc}
}

// Create godoc
// @Summary Create API key
// @Description Issue a new API key; the secret is returned once and never stored
// @Tags API Keys
// @Accept json
// @Produce json
// @Param payload body models.CreateAPIKeyRequest true "API key payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /auth/api-keys [post]
func (h *APIKeyHandler) Create(c *gin.Context) {
	user := userFromContext(c)
	if user == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req models.CreateAPIKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid api key payload"))
		return
	}
	req.IP = c.ClientIP()
	req.UserAgent = c.GetHeader("User-Agent")

	created, err := h.service.Create(c.Request.Context(), user, req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, created)
}

// List godoc
// @Summary List API keys
// @Description List the caller's API keys without secret material
// @Tags API Keys
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /auth/api-keys [get]
func (h *APIKeyHandler) List(c *gin.Context) {
	user := userFromContext(c)
	if user == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	keys, err := h.service.List(c.Request.Context(), user.ID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, keys, nil)
}

// Delete godoc
// @Summary Revoke API key
// @Description Revoke an API key by id; owners may revoke their own keys, admins any key
// @Tags API Keys
// @Produce json
// @Param id path string true "API key id"
// @Success 204 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /auth/api-keys/{id} [delete]
func (h *APIKeyHandler) Delete(c *gin.Context) {
	user := userFromContext(c)
	if user == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	keyID := c.Param("id")
	if err := h.service.Revoke(c.Request.Context(), keyID, user, c.ClientIP(), c.GetHeader("User-Agent")); err != nil {
		response.Error(c, err)
		return
	}

	response.NoContent(c)
}
