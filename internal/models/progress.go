package models

import "time"

// StudentProgressRecord is the durable per-(class, student) history document.
// It is append-only and written exclusively by the termination aggregator.
type StudentProgressRecord struct {
	ClassID     string             `json:"classId"`
	StudentID   string             `json:"studentId"`
	CourseID    string             `json:"courseId"`
	Sessions    []SessionHistory   `json:"sessions"`
	Assessments []AssessmentRecord `json:"assessments"`
	UpdatedAt   time.Time          `json:"updatedAt"`
}

// SessionHistory is one completed-session entry in the cumulative record.
type SessionHistory struct {
	SessionID string    `json:"sessionId"`
	DisplayID string    `json:"displayId"`
	Date      time.Time `json:"date"`
	Book      string    `json:"book"`
	StartPage int       `json:"startPage"`
	EndPage   int       `json:"endPage"`
}

// AssessmentRecord is one scored entry in the cumulative record.
type AssessmentRecord struct {
	SessionID          string            `json:"sessionId"`
	Date               time.Time         `json:"date"`
	Reading            int               `json:"reading"`
	Pronunciation      int               `json:"pronunciation"`
	Memorization       int               `json:"memorization"`
	PageNotes          map[string]string `json:"pageNotes"`
	AreasOfImprovement []string          `json:"areasOfImprovement"`
	Strengths          []string          `json:"strengths"`
	Notes              string            `json:"notes"`
}
