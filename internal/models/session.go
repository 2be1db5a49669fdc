package models

import "time"

// SessionStatus is the lifecycle state persisted on the session document.
type SessionStatus string

const (
	SessionStatusActive    SessionStatus = "active"
	SessionStatusCompleted SessionStatus = "completed"
)

// StudentSessionStatus tracks a single student's standing within a session.
const (
	StudentStatusPending = "pending"
	StudentStatusJoined  = "joined"
)

// Session is one live teaching interaction between a teacher and the
// students of a class over a book/page range.
//
// Invariant: Status == active exactly when EndTime is nil.
type Session struct {
	ID        string        `json:"id"`
	DisplayID string        `json:"displayId,omitempty"`
	ClassID   string        `json:"classId"`
	TeacherID string        `json:"teacherId"`
	Status    SessionStatus `json:"status"`
	Book      string        `json:"book"`

	StartTime time.Time  `json:"startTime"`
	EndTime   *time.Time `json:"endTime,omitempty"`

	// CurrentPage is the page the whole class is viewing. It is owned by
	// the teacher and is distinct from any per-student currentPage.
	CurrentPage int `json:"currentPage"`
	StartPage   int `json:"startPage"`
	EndPage     int `json:"endPage"`

	Attendees []string `json:"attendees"`

	StudentProgress map[string]StudentSessionProgress `json:"studentProgress"`
	StudentStatus   map[string]StudentJoinInfo        `json:"studentStatus"`

	Meeting  *MeetingResource `json:"meeting,omitempty"`
	Feedback *SessionFeedback `json:"feedback,omitempty"`
}

// Active reports whether the session is still running.
func (s *Session) Active() bool {
	return s != nil && s.Status == SessionStatusActive
}

// StudentSessionProgress is the per-student sub-document inside a session.
// Each student is the sole writer of their own entry.
type StudentSessionProgress struct {
	CurrentPage int        `json:"currentPage"`
	Status      string     `json:"status"`
	LastActive  *time.Time `json:"lastActive,omitempty"`

	// Drawings holds the live overlay per page, keyed by page number. It
	// rides the session document so connected peers see strokes through the
	// snapshot feed; the durable save history lives in the drawings
	// collection.
	Drawings map[string][]Stroke `json:"drawings,omitempty"`
}

// StudentJoinInfo records join metadata per student.
type StudentJoinInfo struct {
	JoinedAt time.Time `json:"joinedAt"`
}

// SessionFeedback is the teacher-authored payload folded into the session
// document at termination. Normalization guarantees zero values instead of
// missing fields so downstream aggregation never null-checks.
type SessionFeedback struct {
	ClassNotes string                     `json:"classNotes"`
	Students   map[string]StudentFeedback `json:"students"`
}

// StudentFeedback is per-student assessment data collected at session end.
type StudentFeedback struct {
	Assessment         Assessment        `json:"assessment"`
	PageNotes          map[string]string `json:"pageNotes"`
	AreasOfImprovement []string          `json:"areasOfImprovement"`
	Strengths          []string          `json:"strengths"`
	Notes              string            `json:"notes"`
}

// Assessment scores are each on a 0-5 scale.
type Assessment struct {
	Reading       int `json:"reading"`
	Pronunciation int `json:"pronunciation"`
	Memorization  int `json:"memorization"`
}
