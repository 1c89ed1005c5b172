package models

// Event and broadcast payloads. Events travel over the store's pub/sub
// channels so every service instance can replay them to its own locally
// connected subscribers; broadcasts go straight to websocket destinations.

// EventType tags a pub/sub event.
type EventType string

const (
	EventJoin  EventType = "JOIN"
	EventLeave EventType = "LEAVE"
	EventStart EventType = "START"
	EventEnd   EventType = "END"
)

// PresenceEvent is published on the presence channel for hive join/leave.
// Origin identifies the publishing instance so it can skip its own replay.
type PresenceEvent struct {
	Type      EventType `json:"type"`
	HiveID    string    `json:"hive_id"`
	UserID    string    `json:"user_id"`
	Timestamp int64     `json:"timestamp"`
	Origin    string    `json:"origin,omitempty"`
}

// SessionEvent is published on the session channel for session start/end.
type SessionEvent struct {
	Type      EventType `json:"type"`
	SessionID string    `json:"session_id"`
	UserID    string    `json:"user_id"`
	HiveID    string    `json:"hive_id,omitempty"`
	Timestamp int64     `json:"timestamp"`
	Origin    string    `json:"origin,omitempty"`
}

// BroadcastType tags a websocket broadcast payload.
type BroadcastType string

const (
	BroadcastStatusChanged  BroadcastType = "STATUS_CHANGED"
	BroadcastSessionStarted BroadcastType = "SESSION_STARTED"
	BroadcastSessionEnded   BroadcastType = "SESSION_ENDED"
)

// PresenceBroadcast is sent to a hive's presence topic and echoed to the
// user's private queue on every status change.
type PresenceBroadcast struct {
	UserID   string         `json:"user_id"`
	Status   PresenceStatus `json:"status"`
	Activity string         `json:"activity"`
	HiveID   string         `json:"hive_id,omitempty"`
	Type     BroadcastType  `json:"type"`
}

// SessionBroadcast is sent to a hive's sessions topic when a session in that
// hive starts or ends.
type SessionBroadcast struct {
	SessionID string        `json:"session_id"`
	UserID    string        `json:"user_id"`
	HiveID    string        `json:"hive_id"`
	Type      BroadcastType `json:"type"`
	Session   *FocusSession `json:"session,omitempty"`
}

// Broadcast destinations. Per-hive topics carry presence and session changes;
// each user additionally has a private queue.

func HivePresenceTopic(hiveID string) string {
	return "hive:" + hiveID + ":presence"
}

func HiveSessionsTopic(hiveID string) string {
	return "hive:" + hiveID + ":sessions"
}

func UserQueue(userID string) string {
	return "user:" + userID
}
