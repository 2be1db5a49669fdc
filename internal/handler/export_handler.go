package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/talim-live-api/internal/service"
	"github.com/noah-isme/talim-live-api/pkg/response"
)

// ExportHandler exposes progress report downloads.
type ExportHandler struct {
	service *service.ExportService
}

// NewExportHandler creates a new handler.
func NewExportHandler(svc *service.ExportService) *ExportHandler {
	return &ExportHandler{service: svc}
}

// StudentReport godoc
// @Summary Export a student's cumulative progress report
// @Tags Reports
// @Produce application/pdf
// @Param classId path string true "Class ID"
// @Param studentId path string true "Student ID"
// @Param format query string false "pdf or csv" default(pdf)
// @Success 200 {file} binary
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /classes/{classId}/students/{studentId}/report [get]
func (h *ExportHandler) StudentReport(c *gin.Context) {
	format := service.ExportFormat(c.DefaultQuery("format", "pdf"))

	result, err := h.service.StudentReport(c.Request.Context(), c.Param("classId"), c.Param("studentId"), format, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}

	c.Header("Content-Disposition", `attachment; filename="`+result.Filename+`"`)
	c.Data(200, result.ContentType, result.Content)
}
