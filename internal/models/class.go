package models

import "time"

// ClassRoom holds the roster consumed by the session coordinator. The
// coordinator owns only the ActiveSessionID pointer; everything else is
// read-only from the core's perspective.
type ClassRoom struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	TeacherID       string    `json:"teacherId"`
	StudentIDs      []string  `json:"studentIds"`
	CourseID        string    `json:"courseId"`
	ActiveSessionID *string   `json:"activeSession,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// HasStudent reports roster membership.
func (c *ClassRoom) HasStudent(studentID string) bool {
	for _, id := range c.StudentIDs {
		if id == studentID {
			return true
		}
	}
	return false
}

// Course describes the curriculum a class follows.
type Course struct {
	ID    string   `json:"id"`
	Name  string   `json:"name"`
	Books []string `json:"books"`
}
