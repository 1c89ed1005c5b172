package models

import "time"

// PresenceStatus is a user's current availability.
type PresenceStatus string

const (
	StatusOnline  PresenceStatus = "ONLINE"
	StatusAway    PresenceStatus = "AWAY"
	StatusBusy    PresenceStatus = "BUSY"
	StatusOffline PresenceStatus = "OFFLINE"
)

// UserPresence is the full presence snapshot for a user. It is stored with
// TTL = 2x the heartbeat timeout and refreshed on every update or heartbeat.
type UserPresence struct {
	UserID         string         `json:"user_id"`
	Status         PresenceStatus `json:"status"`
	Activity       string         `json:"activity"`
	LastSeen       time.Time      `json:"last_seen"`
	CurrentHiveID  string         `json:"current_hive_id,omitempty"`
	InFocusSession bool           `json:"in_focus_session"`
}

// PresenceUpdate is the client-supplied payload for a presence change.
type PresenceUpdate struct {
	Status   PresenceStatus `json:"status" binding:"required"`
	Activity string         `json:"activity"`
	HiveID   string         `json:"hive_id"`
}

// HivePresenceInfo is the aggregate broadcast to a hive's presence topic
// whenever its membership changes.
type HivePresenceInfo struct {
	HiveID           string         `json:"hive_id"`
	ActiveUsers      int            `json:"active_users"`
	FocusingSessions int            `json:"focusing_sessions"`
	OnlineMembers    []UserPresence `json:"online_members"`
	LastActivity     int64          `json:"last_activity"`
}

type HiveActiveUsersResponse struct {
	Count int            `json:"count"`
	Users []UserPresence `json:"users"`
}

type HivesPresenceRequest struct {
	HiveIDs []string `json:"hive_ids" binding:"required"`
}
