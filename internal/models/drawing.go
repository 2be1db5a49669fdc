package models

import "time"

// Drawing is one freehand annotation save event. Saves are append-only:
// every save creates a new document and readers take the newest one for
// the (class, book, page, student) tuple.
type Drawing struct {
	ID        string    `json:"id"`
	SessionID string    `json:"sessionId"`
	ClassID   string    `json:"classId"`
	Book      string    `json:"book"`
	Page      int       `json:"page"`
	StudentID string    `json:"studentId"`
	Lines     []Stroke  `json:"lines"`
	SavedAt   time.Time `json:"savedAt"`
}

// Stroke is a single freehand stroke.
type Stroke struct {
	Tool   string  `json:"tool"`
	Color  string  `json:"color"`
	Width  float64 `json:"width"`
	Points []Point `json:"points"`
}

// Point is one coordinate of a stroke.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}
