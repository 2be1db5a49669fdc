package models

import "time"

// MeetingResource is the denormalized copy of the externally provisioned
// video-meeting entity kept on the session document.
type MeetingResource struct {
	Link      string    `json:"link"`
	EventID   string    `json:"eventId"`
	StartTime time.Time `json:"startTime"`
	EndTime   time.Time `json:"endTime"`
}
