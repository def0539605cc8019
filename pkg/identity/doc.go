// Package identity is the transactional session and identity store: it
// issues, validates, and mutates anonymous and user-linked sessions, links
// sessions to durable user identities resolved from external provider
// profiles, and records an append-only audit event for every accepted state
// change.
//
// # Model
//
// A Session represents one browser/client continuity period, named by a
// SessionToken. Its lifecycle is a small one-way machine: active sessions
// may link with exactly one user, and any live session may be removed;
// nothing leaves the removed state. A User is the durable identity behind
// an external provider subject, deduplicated by a one-way hash of the
// provider's subject id — re-authentication of a known identity is
// idempotent and revives deactivated users. Session and user event rows are
// appended in the same transaction as the change they record.
//
// # Consistency
//
// The Store interface is implemented twice. PGStore delegates all
// coordination to PostgreSQL: every multi-statement operation runs in a
// single read-committed pgx transaction, conflicting writers serialize on
// the row locks taken by UPDATE ... RETURNING, and any error rolls the
// whole unit back. User resolution is a read-then-insert-or-update keyed on
// the unique provider user id hash; a lost insert race is caught under a
// savepoint and retried as an update exactly once. MemoryStore reproduces
// the same observable semantics behind a mutex for tests and local
// development.
//
// Every mutating operation demands the session's XSRF secret and fails with
// ErrXsrfTokenMismatch — atomically, leaving no partial state — when it
// does not match.
//
// # Usage
//
//	pool, err := pg.Connect(ctx, cfg)
//	if err != nil {
//	    // handle
//	}
//	store := identity.NewPGStore(pool)
//
//	tok, sess, created, err := store.GetOrCreateSession(ctx, nil, time.Now())
package identity
