package models

import "time"

// CollabRole is a user's permission level within a collaboration topic.
type CollabRole string

const (
	CollabRoleOwner  CollabRole = "owner"
	CollabRoleEditor CollabRole = "editor"
	CollabRoleViewer CollabRole = "viewer"
)

// CollabEventType identifies a collaboration channel frame.
type CollabEventType string

const (
	CollabUserJoined   CollabEventType = "user_joined"
	CollabUserLeft     CollabEventType = "user_left"
	CollabMessageAdded CollabEventType = "message_added"
	CollabCursorMoved  CollabEventType = "cursor_moved"
	CollabTypingStart  CollabEventType = "typing_start"
	CollabTypingStop   CollabEventType = "typing_stop"
)

// Cursor is a user's pointer position within the shared view.
type Cursor struct {
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	TargetID string  `json:"target_id,omitempty"`
}

// CollaborationUser is one participant in a collaboration topic.
// Records are marked offline on user_left, never deleted.
type CollaborationUser struct {
	ID       string     `json:"id"`
	Name     string     `json:"name"`
	Role     CollabRole `json:"role"`
	IsOnline bool       `json:"is_online"`
	LastSeen time.Time  `json:"last_seen"`
	Cursor   *Cursor    `json:"cursor,omitempty"`
}

// CollaborationEvent is a single frame on the collaboration channel,
// both client → server and server → client.
type CollaborationEvent struct {
	Type      CollabEventType `json:"type"`
	UserID    string          `json:"user_id"`
	Data      map[string]any  `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// Invite is the result of inviting a user into a collaboration topic.
type Invite struct {
	ID        string     `json:"id"`
	Email     string     `json:"email"`
	Role      CollabRole `json:"role"`
	CreatedAt time.Time  `json:"created_at"`
}
