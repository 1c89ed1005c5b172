package models

import "time"

// SessionType classifies a focus session.
type SessionType string

const (
	SessionTypeFocus      SessionType = "FOCUS"
	SessionTypeBreak      SessionType = "BREAK"
	SessionTypeMeditation SessionType = "MEDITATION"
	SessionTypePlanning   SessionType = "PLANNING"
)

// SessionStatus is the lifecycle state of a focus session.
// ACTIVE transitions to COMPLETED and COMPLETED is terminal; an unended
// session simply expires with its storage TTL.
type SessionStatus string

const (
	SessionStatusActive    SessionStatus = "ACTIVE"
	SessionStatusCompleted SessionStatus = "COMPLETED"
)

// FocusSession is a timed individual work interval, optionally tied to a hive.
type FocusSession struct {
	SessionID              string        `json:"session_id"`
	UserID                 string        `json:"user_id"`
	HiveID                 string        `json:"hive_id,omitempty"`
	StartTime              time.Time     `json:"start_time"`
	EndTime                *time.Time    `json:"end_time,omitempty"`
	PlannedDurationMinutes int           `json:"planned_duration_minutes"`
	ActualDurationMinutes  int           `json:"actual_duration_minutes,omitempty"`
	Type                   SessionType   `json:"type"`
	Status                 SessionStatus `json:"status"`
}

// StartSessionRequest is the payload for starting a focus session.
type StartSessionRequest struct {
	HiveID          string      `json:"hive_id"`
	DurationMinutes int         `json:"duration_minutes" binding:"required,min=1"`
	Type            SessionType `json:"type"`
}

type HiveSessionsResponse struct {
	Count    int            `json:"count"`
	Sessions []FocusSession `json:"sessions"`
}
