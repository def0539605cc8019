package identity

import (
	"time"

	"github.com/google/uuid"
)

// Event types recorded for accepted session state changes.
type SessionEventType string

const (
	SessionEventCreated              SessionEventType = "created"
	SessionEventRemoved              SessionEventType = "removed"
	SessionEventAgreedToCookiePolicy SessionEventType = "agreed_to_cookie_policy"
	SessionEventLinkedWithUser       SessionEventType = "linked_with_user"
)

// Event types recorded for accepted user state changes. Recreated marks a
// re-authentication that resolved to an already known identity.
type UserEventType string

const (
	UserEventCreated              UserEventType = "created"
	UserEventRecreated            UserEventType = "recreated"
	UserEventAgreedToCookiePolicy UserEventType = "agreed_to_cookie_policy"
)

// SessionEvent is one append-only audit row. Events are written in the same
// transaction as the state change they record and are never updated or
// deleted; the core operations never read them back.
type SessionEvent struct {
	ID         int64            `json:"id"`
	Type       SessionEventType `json:"type"`
	OccurredAt time.Time        `json:"occurred_at"`
	Data       []byte           `json:"data,omitempty"`
	SessionID  uuid.UUID        `json:"session_id"`
}

// UserEvent is the user-side counterpart of SessionEvent.
type UserEvent struct {
	ID         int64         `json:"id"`
	Type       UserEventType `json:"type"`
	OccurredAt time.Time     `json:"occurred_at"`
	Data       []byte        `json:"data,omitempty"`
	UserID     int64         `json:"user_id"`
}
