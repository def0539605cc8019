package identity

import (
	"context"
	"time"

	"github.com/dmitrymomot/identitykit/pkg/provider"
)

// MaxUsersPerLookup caps a single GetUsersInfo batch.
const MaxUsersPerLookup = 20

// Store is the transactional session and identity store. Every
// multi-statement operation executes as one atomic unit: it either commits
// all of its row and event writes or none of them. Implementations hold no
// in-process mutable shared state; concurrent callers are serialized by the
// backing engine's row-level locking.
//
// Errors returned by every method are one of the package sentinels
// (ErrSessionNotFound, ErrUserNotFound, ErrXsrfTokenMismatch,
// ErrTooManyUsers, ErrPolicyRegressed) or wrap ErrStoreFailure. None of
// them are retried internally.
type Store interface {
	// GetOrCreateSession resolves token to a live session, or creates a
	// fresh one when token is nil, unknown, or names a removed session. A
	// stale or forged token is never rejected: it silently degrades to the
	// no-token case so the caller always ends up with a usable session.
	// The returned flag is true iff a session was created.
	GetOrCreateSession(ctx context.Context, token *SessionToken, now time.Time) (SessionToken, *Session, bool, error)

	// GetSession returns the live session named by token, or
	// ErrSessionNotFound.
	GetSession(ctx context.Context, token SessionToken) (*Session, error)

	// ExpireSession transitions a live session to removed. The XSRF secret
	// is checked inside the same transaction; on mismatch the whole unit
	// rolls back and the session stays live.
	ExpireSession(ctx context.Context, token SessionToken, now time.Time, xsrfToken string) error

	// AgreeToCookiePolicy marks the session as having agreed to the cookie
	// policy and, when the session is linked, propagates the flag to the
	// user row. Returns the refreshed session without user detail.
	AgreeToCookiePolicy(ctx context.Context, token SessionToken, now time.Time, xsrfToken string) (*Session, error)

	// GetOrCreateUserOnSession resolves profile to a durable user (keyed on
	// the provider user id hash), links the session to it if not already
	// linked, and returns the session with its PrivateUser projection. The
	// flag is true iff the user row was freshly created. A session already
	// linked to a different user fails with ErrSessionNotFound.
	GetOrCreateUserOnSession(ctx context.Context, token SessionToken, p provider.Profile, now time.Time, xsrfToken string) (SessionToken, *Session, bool, error)

	// GetUserOnSession is the read-only cross-check: the profile must
	// resolve to an active user and the session must be linked to exactly
	// that user. A linkage mismatch reports ErrSessionNotFound rather than
	// an authorization error to avoid leaking identity correlation.
	GetUserOnSession(ctx context.Context, token SessionToken, p provider.Profile) (*Session, error)

	// GetUsersInfo returns the public projections for the given active
	// users, all-or-nothing: any id that does not resolve to an active user
	// fails the whole call with ErrUserNotFound. Batches above
	// MaxUsersPerLookup fail with ErrTooManyUsers.
	GetUsersInfo(ctx context.Context, ids []int64) ([]PublicUser, error)
}

// dedupeIDs drops duplicate ids preserving first-seen order, so a repeated
// id cannot trip the all-or-nothing miss accounting.
func dedupeIDs(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
