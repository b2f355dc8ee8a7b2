package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/clinfhir/extractor-api/internal/service"
	appErrors "github.com/clinfhir/extractor-api/pkg/errors"
	"github.com/clinfhir/extractor-api/pkg/response"
)

// ExtractionHandler accepts clinical document uploads for FHIR extraction.
type ExtractionHandler struct {
	service *service.ExtractionService
}

// NewExtractionHandler creates a new handler.
func NewExtractionHandler(svc *service.ExtractionService) *ExtractionHandler {
	return &ExtractionHandler{service: svc}
}

// Extract godoc
// @Summary Extract FHIR resources from a clinical document
// @Description Upload a clinical document and receive the extracted FHIR bundle
// @Tags Extraction
// @Accept multipart/form-data
// @Produce json
// @Param file formData file true "Clinical document"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Failure 502 {object} response.Envelope
// @Router /extract-fhir [post]
func (h *ExtractionHandler) Extract(c *gin.Context) {
	actor := userFromContext(c)
	if actor == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "file is required"))
		return
	}
	src, err := fileHeader.Open()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open file"))
		return
	}
	defer src.Close()

	result, err := h.service.Extract(
		c.Request.Context(),
		actor,
		fileHeader.Filename,
		fileHeader.Header.Get("Content-Type"),
		fileHeader.Size,
		src,
		c.ClientIP(),
		c.GetHeader("User-Agent"),
	)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, result, nil)
}
