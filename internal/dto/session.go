package dto

import "github.com/noah-isme/talim-live-api/internal/models"

// StartSessionRequest opens a live session for a class.
type StartSessionRequest struct {
	ClassID     string `json:"classId" validate:"required"`
	Book        string `json:"book" validate:"required"`
	InitialPage int    `json:"initialPage" validate:"omitempty,min=1"`
}

// UpdateClassProgressRequest advances the class-wide page.
type UpdateClassProgressRequest struct {
	Page int `json:"page" validate:"required,min=1"`
}

// UpdateProgressRequest is a student's own progress update. The caller only
// ever writes their own studentProgress sub-path. Drawings carries the live
// overlay per page number and merges page by page; pages not mentioned keep
// their strokes.
type UpdateProgressRequest struct {
	CurrentPage int                        `json:"currentPage" validate:"required,min=1"`
	Status      string                     `json:"status" validate:"omitempty,oneof=pending joined"`
	Drawings    map[string][]models.Stroke `json:"drawings"`
}

// StudentFeedbackPayload carries per-student feedback at session end.
type StudentFeedbackPayload struct {
	Assessment         AssessmentPayload `json:"assessment"`
	PageNotes          map[string]string `json:"pageNotes"`
	AreasOfImprovement []string          `json:"areasOfImprovement"`
	Strengths          []string          `json:"strengths"`
	Notes              string            `json:"notes"`
}

// AssessmentPayload scores are 0-5 each.
type AssessmentPayload struct {
	Reading       int `json:"reading" validate:"min=0,max=5"`
	Pronunciation int `json:"pronunciation" validate:"min=0,max=5"`
	Memorization  int `json:"memorization" validate:"min=0,max=5"`
}

// EndSessionRequest terminates a session with teacher-entered feedback.
type EndSessionRequest struct {
	ClassNotes      string                            `json:"classNotes"`
	StudentFeedback map[string]StudentFeedbackPayload `json:"studentFeedback" validate:"dive"`
}

// SessionView is the session snapshot surfaced to clients.
type SessionView struct {
	Session *models.Session `json:"session"`
	Class   *models.ClassRoom `json:"class,omitempty"`
}
