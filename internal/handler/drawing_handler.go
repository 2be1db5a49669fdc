package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/talim-live-api/internal/dto"
	"github.com/noah-isme/talim-live-api/internal/service"
	appErrors "github.com/noah-isme/talim-live-api/pkg/errors"
	"github.com/noah-isme/talim-live-api/pkg/response"
)

// DrawingHandler exposes the annotation endpoints.
type DrawingHandler struct {
	service *service.AnnotationService
}

// NewDrawingHandler creates a new handler.
func NewDrawingHandler(svc *service.AnnotationService) *DrawingHandler {
	return &DrawingHandler{service: svc}
}

// Save godoc
// @Summary Save a drawing overlay
// @Description Append one drawing save event for a page
// @Tags Drawings
// @Accept json
// @Produce json
// @Param payload body dto.SaveDrawingRequest true "Drawing payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /drawings [post]
func (h *DrawingHandler) Save(c *gin.Context) {
	var req dto.SaveDrawingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid drawing payload"))
		return
	}

	drawing, err := h.service.Save(c.Request.Context(), req, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, drawing)
}

// Latest godoc
// @Summary Get the latest drawing for a page
// @Tags Drawings
// @Produce json
// @Param classId query string true "Class ID"
// @Param book query string true "Book"
// @Param page query int true "Page"
// @Param studentId query string true "Student ID"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /drawings/latest [get]
func (h *DrawingHandler) Latest(c *gin.Context) {
	var q dto.DrawingQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid drawing query"))
		return
	}

	drawing, err := h.service.Latest(c.Request.Context(), q)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, drawing, nil)
}

// History godoc
// @Summary List recent drawing saves for a page
// @Tags Drawings
// @Produce json
// @Param classId query string true "Class ID"
// @Param book query string true "Book"
// @Param page query int true "Page"
// @Param studentId query string true "Student ID"
// @Param limit query int false "Max events"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /drawings/history [get]
func (h *DrawingHandler) History(c *gin.Context) {
	var q dto.DrawingQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid drawing query"))
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))

	drawings, err := h.service.History(c.Request.Context(), q, limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, drawings, nil)
}
