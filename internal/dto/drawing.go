package dto

import "github.com/noah-isme/talim-live-api/internal/models"

// SaveDrawingRequest appends one drawing save event. StudentID may be set by
// teachers annotating a student's page; students always save as themselves.
type SaveDrawingRequest struct {
	SessionID string          `json:"sessionId" validate:"required"`
	Page      int             `json:"page" validate:"required,min=1"`
	StudentID string          `json:"studentId"`
	Lines     []models.Stroke `json:"lines"`
}

// DrawingQuery selects the drawing history tuple.
type DrawingQuery struct {
	ClassID   string `form:"classId" validate:"required"`
	Book      string `form:"book" validate:"required"`
	Page      int    `form:"page" validate:"required,min=1"`
	StudentID string `form:"studentId" validate:"required"`
}
