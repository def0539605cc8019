package identity

import (
	"time"

	"github.com/google/uuid"
)

// SessionToken names a session from the caller's side. It is a copyable
// value with no ownership semantics: SessionID selects the session row,
// UserToken is an opaque bearer credential for the external profile provider
// and is never interpreted by the store.
type SessionToken struct {
	SessionID uuid.UUID `json:"session_id"`
	UserToken string    `json:"user_token,omitempty"`
}

// SessionState is the session lifecycle state. Transitions are one-way:
// active sessions may link with a user once, and any live session may be
// removed. Nothing leaves the removed state.
type SessionState string

const (
	SessionStateActive         SessionState = "active"
	SessionStateLinkedWithUser SessionState = "active_linked_with_user"
	SessionStateRemoved        SessionState = "removed"
)

// IsLive reports whether the state still accepts reads and mutations.
func (s SessionState) IsLive() bool {
	return s == SessionStateActive || s == SessionStateLinkedWithUser
}

// CanTransitionTo reports whether the lifecycle permits moving to next.
// Self-transitions are allowed for live states so idempotent operations
// (re-linking the same user) stay no-ops instead of errors.
func (s SessionState) CanTransitionTo(next SessionState) bool {
	switch s {
	case SessionStateActive:
		return next == SessionStateActive || next == SessionStateLinkedWithUser || next == SessionStateRemoved
	case SessionStateLinkedWithUser:
		return next == SessionStateLinkedWithUser || next == SessionStateRemoved
	default:
		return false
	}
}

// liveSessionStates is the predicate used by every lookup/update that only
// touches non-removed sessions.
var liveSessionStates = []string{
	string(SessionStateActive),
	string(SessionStateLinkedWithUser),
}

// Session is one browser/client continuity period. UserID is set exactly
// when State is SessionStateLinkedWithUser; TimeRemoved is set exactly when
// State is SessionStateRemoved. User is a projection populated only by the
// user-facing operations, never persisted on the session row itself.
type Session struct {
	ID                   uuid.UUID    `json:"id"`
	State                SessionState `json:"state"`
	XsrfToken            string       `json:"xsrf_token"`
	AgreedToCookiePolicy bool         `json:"agreed_to_cookie_policy"`
	UserID               *int64       `json:"user_id,omitempty"`
	User                 *PrivateUser `json:"user,omitempty"`
	TimeCreated          time.Time    `json:"time_created"`
	TimeLastUpdated      time.Time    `json:"time_last_updated"`
	TimeRemoved          *time.Time   `json:"time_removed,omitempty"`
}

// IsLinked reports whether the session carries a durable user identity.
func (s *Session) IsLinked() bool {
	return s != nil && s.State == SessionStateLinkedWithUser && s.UserID != nil
}

// Token returns the caller-facing token naming this session.
func (s *Session) Token() SessionToken {
	return SessionToken{SessionID: s.ID}
}

// VerifyXsrfToken compares the caller-supplied secret against the session's
// stored one in constant time.
func (s *Session) VerifyXsrfToken(xsrfToken string) bool {
	return s != nil && constantTimeCompare(s.XsrfToken, xsrfToken)
}

// constantTimeCompare performs a constant-time string comparison
func constantTimeCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	var result byte
	for i := 0; i < len(a); i++ {
		result |= a[i] ^ b[i]
	}
	return result == 0
}
