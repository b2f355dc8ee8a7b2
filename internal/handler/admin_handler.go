package handler

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/clinfhir/extractor-api/internal/models"
	"github.com/clinfhir/extractor-api/internal/service"
	appErrors "github.com/clinfhir/extractor-api/pkg/errors"
	"github.com/clinfhir/extractor-api/pkg/export"
	"github.com/clinfhir/extractor-api/pkg/response"
)

// AdminHandler exposes administrative endpoints for user and audit review.
type AdminHandler struct {
	users *service.UserService
	audit *service.AuditService
}

// NewAdminHandler creates a new handler.
func NewAdminHandler(users *service.UserService, audit *service.AuditService) *AdminHandler {
	return &AdminHandler{users: users, audit: audit}
}

// ListUsers godoc
// @Summary List users
// @Description List registered users with optional role, status and search filters
// @Tags Admin
// @Produce json
// @Param role query string false "Filter by role"
// @Param active query bool false "Filter by active status"
// @Param search query string false "Match against email or username"
// @Param page query int false "Page number"
// @Param pageSize query int false "Page size"
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /auth/users [get]
func (h *AdminHandler) ListUsers(c *gin.Context) {
	actor := userFromContext(c)
	if actor == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	filter := models.UserFilter{
		Search:    strings.TrimSpace(c.Query("search")),
		SortBy:    c.Query("sortBy"),
		SortOrder: c.Query("sortOrder"),
	}
	if role := c.Query("role"); role != "" {
		r := models.UserRole(strings.ToUpper(role))
		if !r.Valid() {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown role %q", role)))
			return
		}
		filter.Role = &r
	}
	if active := c.Query("active"); active != "" {
		v, err := strconv.ParseBool(active)
		if err != nil {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "active must be a boolean"))
			return
		}
		filter.Active = &v
	}
	filter.Page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	filter.PageSize, _ = strconv.Atoi(c.DefaultQuery("pageSize", "20"))

	users, pagination, err := h.users.List(c.Request.Context(), filter, actor, c.ClientIP(), c.GetHeader("User-Agent"))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, users, pagination)
}

// ListAuditLogs godoc
// @Summary List audit logs
// @Description Return the most recent audit entries, newest first
// @Tags Admin
// @Produce json
// @Param limit query int false "Maximum entries (default 100, max 1000)"
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /auth/audit-logs [get]
func (h *AdminHandler) ListAuditLogs(c *gin.Context) {
	actor := userFromContext(c)
	if actor == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	limit, err := parseLimit(c.Query("limit"))
	if err != nil {
		response.Error(c, err)
		return
	}

	logs, err := h.audit.List(c.Request.Context(), limit)
	if err != nil {
		response.Error(c, err)
		return
	}

	h.audit.Record(service.AuditEvent{
		UserID:    &actor.ID,
		Action:    models.AuditActionListAuditLogs,
		Status:    models.AuditStatusSuccess,
		IP:        c.ClientIP(),
		UserAgent: c.GetHeader("User-Agent"),
		Details:   map[string]interface{}{"limit": limit, "returned": len(logs)},
	})

	response.JSON(c, http.StatusOK, logs, nil)
}

// ExportAuditLogs godoc
// @Summary Export audit logs
// @Description Download recent audit entries as a CSV or PDF file
// @Tags Admin
// @Produce text/csv
// @Produce application/pdf
// @Param format query string false "Export format: csv or pdf (default csv)"
// @Param limit query int false "Maximum entries (default 100, max 1000)"
// @Success 200 {file} file
// @Failure 401 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /auth/audit-logs/export [get]
func (h *AdminHandler) ExportAuditLogs(c *gin.Context) {
	actor := userFromContext(c)
	if actor == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	format := strings.ToLower(c.DefaultQuery("format", "csv"))
	if format != "csv" && format != "pdf" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "format must be csv or pdf"))
		return
	}

	limit, err := parseLimit(c.Query("limit"))
	if err != nil {
		response.Error(c, err)
		return
	}

	dataset, err := h.audit.ExportDataset(c.Request.Context(), limit)
	if err != nil {
		response.Error(c, err)
		return
	}

	var payload []byte
	var contentType string
	switch format {
	case "pdf":
		contentType = "application/pdf"
		payload, err = export.RenderPDF(dataset, "Audit Log Export")
	default:
		contentType = "text/csv"
		payload, err = export.RenderCSV(dataset)
	}
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render export"))
		return
	}

	h.audit.Record(service.AuditEvent{
		UserID:    &actor.ID,
		Action:    models.AuditActionExportAuditLog,
		Status:    models.AuditStatusSuccess,
		IP:        c.ClientIP(),
		UserAgent: c.GetHeader("User-Agent"),
		Details:   map[string]interface{}{"format": format, "rows": len(dataset.Rows)},
	})

	filename := fmt.Sprintf("audit-logs-%s.%s", time.Now().UTC().Format("20060102-150405"), format)
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, contentType, payload)
}

func parseLimit(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 1 {
		return 0, appErrors.Clone(appErrors.ErrValidation, "limit must be a positive integer")
	}
	return limit, nil
}
