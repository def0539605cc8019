package identity

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmitrymomot/identitykit/pkg/pg"
	"github.com/dmitrymomot/identitykit/pkg/provider"
	"github.com/dmitrymomot/identitykit/pkg/token"
)

const sessionColumns = `id, state, xsrf_token, agreed_to_cookie_policy, user_id,
	time_created, time_last_updated, time_removed`

const userColumns = `id, state, role, agreed_to_cookie_policy, provider_user_id,
	provider_user_id_hash, provider_profile, time_created, time_last_updated, time_removed`

// PGStore implements Store on PostgreSQL via pgx. All coordination is
// delegated to the database: every multi-statement operation runs in one
// read-committed transaction and conflicting writers are serialized by row
// locks taken by UPDATE ... RETURNING.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore wraps an existing connection pool. The pool stays owned by the
// caller; the store never closes it.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

func (s *PGStore) GetOrCreateSession(ctx context.Context, tok *SessionToken, now time.Time) (SessionToken, *Session, bool, error) {
	var (
		sess    *Session
		created bool
	)

	err := pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		if tok != nil {
			found, err := getLiveSession(ctx, tx, tok.SessionID)
			switch {
			case err == nil:
				sess = found
				return nil
			case !errors.Is(err, ErrSessionNotFound):
				return err
			}
			// Lookup miss degrades to the no-token case below.
		}

		xsrfToken, err := token.NewXsrfToken()
		if err != nil {
			return err
		}

		row := tx.QueryRow(ctx, `
			INSERT INTO identity.sessions
				(id, state, xsrf_token, agreed_to_cookie_policy, user_id, time_created, time_last_updated, time_removed)
			VALUES ($1, $2, $3, FALSE, NULL, $4, $4, NULL)
			RETURNING `+sessionColumns,
			token.NewSessionID(), SessionStateActive, xsrfToken, now)

		sess, err = scanSession(row)
		if err != nil {
			return err
		}
		created = true

		return appendSessionEvent(ctx, tx, sess.ID, SessionEventCreated, now)
	})
	if err != nil {
		return SessionToken{}, nil, false, wrapStoreErr(err)
	}

	return sess.Token(), sess, created, nil
}

func (s *PGStore) GetSession(ctx context.Context, tok SessionToken) (*Session, error) {
	sess, err := getLiveSession(ctx, s.pool, tok.SessionID)
	if err != nil {
		return nil, wrapStoreErr(err)
	}
	return sess, nil
}

func (s *PGStore) ExpireSession(ctx context.Context, tok SessionToken, now time.Time, xsrfToken string) error {
	err := pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		// Transition first, verify second: the update's RETURNING hands back
		// the stored secret under the row lock. A mismatch aborts the whole
		// transaction, so the transition never survives a failed check.
		var storedXsrf string
		err := tx.QueryRow(ctx, `
			UPDATE identity.sessions
			SET state = $2, time_last_updated = $3, time_removed = $3
			WHERE id = $1 AND state = ANY($4)
			RETURNING xsrf_token`,
			tok.SessionID, SessionStateRemoved, now, liveSessionStates).Scan(&storedXsrf)
		if err != nil {
			if pg.IsNotFoundError(err) {
				return ErrSessionNotFound
			}
			return err
		}

		if !constantTimeCompare(storedXsrf, xsrfToken) {
			return ErrXsrfTokenMismatch
		}

		return appendSessionEvent(ctx, tx, tok.SessionID, SessionEventRemoved, now)
	})
	return wrapStoreErr(err)
}

func (s *PGStore) AgreeToCookiePolicy(ctx context.Context, tok SessionToken, now time.Time, xsrfToken string) (*Session, error) {
	var sess *Session

	err := pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `
			UPDATE identity.sessions
			SET agreed_to_cookie_policy = TRUE, time_last_updated = $2
			WHERE id = $1 AND state = ANY($3)
			RETURNING `+sessionColumns,
			tok.SessionID, now, liveSessionStates)

		var err error
		sess, err = scanSession(row)
		if err != nil {
			if pg.IsNotFoundError(err) {
				return ErrSessionNotFound
			}
			return err
		}

		if !sess.VerifyXsrfToken(xsrfToken) {
			return ErrXsrfTokenMismatch
		}

		if err := appendSessionEvent(ctx, tx, sess.ID, SessionEventAgreedToCookiePolicy, now); err != nil {
			return err
		}

		if sess.UserID == nil {
			return nil
		}

		// The flag is monotonic on the user row as well.
		var userID int64
		err = tx.QueryRow(ctx, `
			UPDATE identity.users
			SET agreed_to_cookie_policy = TRUE, time_last_updated = $2
			WHERE id = $1 AND state = $3
			RETURNING id`,
			*sess.UserID, now, UserStateActive).Scan(&userID)
		if err != nil {
			if pg.IsNotFoundError(err) {
				return ErrUserNotFound
			}
			return err
		}

		return appendUserEvent(ctx, tx, userID, UserEventAgreedToCookiePolicy, now)
	})
	if err != nil {
		return nil, wrapStoreErr(err)
	}

	return sess, nil
}

func (s *PGStore) GetOrCreateUserOnSession(ctx context.Context, tok SessionToken, p provider.Profile, now time.Time, xsrfToken string) (SessionToken, *Session, bool, error) {
	if err := p.Validate(); err != nil {
		return SessionToken{}, nil, false, wrapStoreErr(err)
	}

	var (
		sess    *Session
		created bool
	)

	err := pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		var err error
		sess, err = getLiveSession(ctx, tx, tok.SessionID)
		if err != nil {
			return err
		}

		if !sess.VerifyXsrfToken(xsrfToken) {
			return ErrXsrfTokenMismatch
		}

		user, freshlyInserted, err := upsertUser(ctx, tx, p, sess.AgreedToCookiePolicy, now)
		if err != nil {
			return err
		}
		created = freshlyInserted

		// A session is linked to at most one user for its lifetime.
		if sess.UserID != nil && *sess.UserID != user.ID {
			return ErrSessionNotFound
		}

		eventType := UserEventRecreated
		if created {
			eventType = UserEventCreated
		}
		if err := appendUserEvent(ctx, tx, user.ID, eventType, now); err != nil {
			return err
		}

		// A fresh user can inherit the session's agreement, which is itself
		// an auditable policy acceptance.
		if created && user.AgreedToCookiePolicy {
			if err := appendUserEvent(ctx, tx, user.ID, UserEventAgreedToCookiePolicy, now); err != nil {
				return err
			}
		}

		// The upsert ORs agreement flags, so a regression here means the
		// invariant broke somewhere below us.
		if !created && sess.AgreedToCookiePolicy && !user.AgreedToCookiePolicy {
			return ErrPolicyRegressed
		}

		if sess.UserID == nil {
			_, err := tx.Exec(ctx, `
				UPDATE identity.sessions
				SET state = $2, agreed_to_cookie_policy = $3, user_id = $4, time_last_updated = $5
				WHERE id = $1`,
				sess.ID, SessionStateLinkedWithUser, user.AgreedToCookiePolicy, user.ID, now)
			if err != nil {
				return err
			}
			if err := appendSessionEvent(ctx, tx, sess.ID, SessionEventLinkedWithUser, now); err != nil {
				return err
			}

			sess.State = SessionStateLinkedWithUser
			sess.AgreedToCookiePolicy = user.AgreedToCookiePolicy
			sess.UserID = &user.ID
			sess.TimeLastUpdated = now
		}

		sess.User = user.privateUser(p)
		return nil
	})
	if err != nil {
		return SessionToken{}, nil, false, wrapStoreErr(err)
	}

	return sess.Token(), sess, created, nil
}

func (s *PGStore) GetUserOnSession(ctx context.Context, tok SessionToken, p provider.Profile) (*Session, error) {
	if err := p.Validate(); err != nil {
		return nil, wrapStoreErr(err)
	}

	row := s.pool.QueryRow(ctx, `
		SELECT `+userColumns+`
		FROM identity.users
		WHERE provider_user_id_hash = $1 AND state = $2
		LIMIT 1`,
		p.UserIDHash(), UserStateActive)

	user, err := scanUser(row)
	if err != nil {
		if pg.IsNotFoundError(err) {
			return nil, ErrUserNotFound
		}
		return nil, wrapStoreErr(err)
	}

	row = s.pool.QueryRow(ctx, `
		SELECT `+sessionColumns+`
		FROM identity.sessions
		WHERE id = $1 AND state = $2
		LIMIT 1`,
		tok.SessionID, SessionStateLinkedWithUser)

	sess, err := scanSession(row)
	if err != nil {
		if pg.IsNotFoundError(err) {
			return nil, ErrSessionNotFound
		}
		return nil, wrapStoreErr(err)
	}

	if sess.UserID == nil || *sess.UserID != user.ID {
		return nil, ErrSessionNotFound
	}

	sess.User = user.privateUser(p)
	return sess, nil
}

func (s *PGStore) GetUsersInfo(ctx context.Context, ids []int64) ([]PublicUser, error) {
	ids = dedupeIDs(ids)
	if len(ids) > MaxUsersPerLookup {
		return nil, ErrTooManyUsers
	}
	if len(ids) == 0 {
		return []PublicUser{}, nil
	}

	rows, err := s.pool.Query(ctx, `
		SELECT `+userColumns+`
		FROM identity.users
		WHERE id = ANY($1) AND state = $2`,
		ids, UserStateActive)
	if err != nil {
		return nil, wrapStoreErr(err)
	}
	defer rows.Close()

	byID := make(map[int64]PublicUser, len(ids))
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, wrapStoreErr(err)
		}
		byID[user.ID] = user.publicUser()
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreErr(err)
	}

	// All-or-nothing: one unknown or inactive id fails the whole batch.
	out := make([]PublicUser, 0, len(ids))
	for _, id := range ids {
		user, ok := byID[id]
		if !ok {
			return nil, ErrUserNotFound
		}
		out = append(out, user)
	}
	return out, nil
}

// upsertUser resolves the profile to a user row keyed on the provider user
// id hash: read, then insert or update inside the ambient transaction. The
// unique constraint is the race backstop — a concurrent insert surfaces as
// a duplicate-key error under a savepoint and is retried as an update
// exactly once. Returns the row and whether it was freshly inserted
// (time_created equal to time_last_updated).
func upsertUser(ctx context.Context, tx pgx.Tx, p provider.Profile, sessionAgreed bool, now time.Time) (*User, bool, error) {
	hash := p.UserIDHash()

	_, err := getUserByHash(ctx, tx, hash)
	switch {
	case err == nil:
		// Known identity, fall through to the update below.
	case pg.IsNotFoundError(err):
		// Savepoint so a lost insert race doesn't abort the outer transaction.
		inner, err := tx.Begin(ctx)
		if err != nil {
			return nil, false, err
		}

		row := inner.QueryRow(ctx, `
			INSERT INTO identity.users
				(state, role, agreed_to_cookie_policy, provider_user_id, provider_user_id_hash, provider_profile, time_created, time_last_updated, time_removed)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $7, NULL)
			RETURNING `+userColumns,
			UserStateActive, RoleRegular, sessionAgreed, p.ProviderUserID, hash, p, now)

		user, err := scanUser(row)
		if err == nil {
			if err := inner.Commit(ctx); err != nil {
				return nil, false, err
			}
			return user, true, nil
		}

		_ = inner.Rollback(ctx)
		if !pg.IsDuplicateKeyError(err) {
			return nil, false, err
		}
		// Lost the race; the row exists now, update it instead.
	default:
		return nil, false, err
	}

	// Re-authentication is idempotent and self-healing: force the user back
	// to active, OR the agreement flags (once true, stays true), and refresh
	// the stored snapshot.
	row := tx.QueryRow(ctx, `
		UPDATE identity.users
		SET time_last_updated = $2,
			state = $3,
			time_removed = NULL,
			agreed_to_cookie_policy = agreed_to_cookie_policy OR $4,
			provider_profile = $5
		WHERE provider_user_id_hash = $1
		RETURNING `+userColumns,
		hash, now, UserStateActive, sessionAgreed, p)

	user, err := scanUser(row)
	if err != nil {
		return nil, false, err
	}
	return user, user.TimeCreated.Equal(user.TimeLastUpdated), nil
}

// queryRower is the subset of pgx.Tx and pgxpool.Pool the read helpers need.
type queryRower interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func getLiveSession(ctx context.Context, q queryRower, id uuid.UUID) (*Session, error) {
	row := q.QueryRow(ctx, `
		SELECT `+sessionColumns+`
		FROM identity.sessions
		WHERE id = $1 AND state = ANY($2)
		LIMIT 1`,
		id, liveSessionStates)

	sess, err := scanSession(row)
	if err != nil {
		if pg.IsNotFoundError(err) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	return sess, nil
}

func getUserByHash(ctx context.Context, q queryRower, hash string) (*User, error) {
	row := q.QueryRow(ctx, `
		SELECT `+userColumns+`
		FROM identity.users
		WHERE provider_user_id_hash = $1
		LIMIT 1`,
		hash)
	return scanUser(row)
}

func appendSessionEvent(ctx context.Context, tx pgx.Tx, sessionID uuid.UUID, eventType SessionEventType, now time.Time) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO identity.session_events (type, occurred_at, data, session_id)
		VALUES ($1, $2, NULL, $3)`,
		eventType, now, sessionID)
	return err
}

func appendUserEvent(ctx context.Context, tx pgx.Tx, userID int64, eventType UserEventType, now time.Time) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO identity.user_events (type, occurred_at, data, user_id)
		VALUES ($1, $2, NULL, $3)`,
		eventType, now, userID)
	return err
}

func scanSession(row pgx.Row) (*Session, error) {
	var s Session
	err := row.Scan(
		&s.ID,
		&s.State,
		&s.XsrfToken,
		&s.AgreedToCookiePolicy,
		&s.UserID,
		&s.TimeCreated,
		&s.TimeLastUpdated,
		&s.TimeRemoved,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func scanUser(row pgx.Row) (*User, error) {
	var u User
	err := row.Scan(
		&u.ID,
		&u.State,
		&u.Role,
		&u.AgreedToCookiePolicy,
		&u.ProviderUserID,
		&u.ProviderUserIDHash,
		&u.Profile,
		&u.TimeCreated,
		&u.TimeLastUpdated,
		&u.TimeRemoved,
	)
	if err != nil {
		return nil, err
	}
	return &u, nil
}
