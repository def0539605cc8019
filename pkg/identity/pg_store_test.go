package identity_test

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/identitykit/pkg/identity"
	"github.com/dmitrymomot/identitykit/pkg/pg"
)

// newTestPool connects to the database named by TEST_DATABASE_URL, applies
// the migrations, and truncates all identity tables so each test starts
// clean. Tests are skipped when the variable is unset.
func newTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	connURL := os.Getenv("TEST_DATABASE_URL")
	if connURL == "" {
		t.Skip("TEST_DATABASE_URL is not set")
	}

	ctx := context.Background()
	cfg := pg.Config{
		ConnectionString: connURL,
		MaxOpenConns:     4,
		MaxIdleConns:     1,
		RetryAttempts:    1,
		RetryInterval:    time.Second,
		MigrationsPath:   "../../migrations",
		MigrationsTable:  "schema_migrations",
	}

	pool, err := pg.Connect(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, pg.Migrate(ctx, pool, cfg, slog.Default()))

	_, err = pool.Exec(ctx, `TRUNCATE identity.session_events, identity.user_events, identity.sessions, identity.users RESTART IDENTITY CASCADE`)
	require.NoError(t, err)

	return pool
}

func TestPGStoreSessionLifecycle(t *testing.T) {
	pool := newTestPool(t)
	store := identity.NewPGStore(pool)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	tok, sess, created, err := store.GetOrCreateSession(ctx, nil, now)
	require.NoError(t, err)
	require.True(t, created)
	assert.Equal(t, identity.SessionStateActive, sess.State)
	assert.Len(t, sess.XsrfToken, 64)
	assert.True(t, sess.TimeCreated.Equal(now))

	_, again, created, err := store.GetOrCreateSession(ctx, &tok, now.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, sess.ID, again.ID)
	assert.Equal(t, sess.XsrfToken, again.XsrfToken)

	got, err := store.GetSession(ctx, tok)
	require.NoError(t, err)
	assert.Equal(t, sess.ID, got.ID)

	// A mismatched XSRF secret rolls the removal back.
	err = store.ExpireSession(ctx, tok, now.Add(2*time.Minute), "forged-secret")
	require.ErrorIs(t, err, identity.ErrXsrfTokenMismatch)
	_, err = store.GetSession(ctx, tok)
	require.NoError(t, err)

	require.NoError(t, store.ExpireSession(ctx, tok, now.Add(3*time.Minute), sess.XsrfToken))
	_, err = store.GetSession(ctx, tok)
	assert.ErrorIs(t, err, identity.ErrSessionNotFound)

	// A token for a removed session degrades to a fresh session.
	_, fresh, created, err := store.GetOrCreateSession(ctx, &tok, now.Add(4*time.Minute))
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, sess.ID, fresh.ID)

	var eventTypes []string
	rows, err := pool.Query(ctx, `SELECT type FROM identity.session_events WHERE session_id = $1 ORDER BY id`, sess.ID)
	require.NoError(t, err)
	defer rows.Close()
	for rows.Next() {
		var eventType string
		require.NoError(t, rows.Scan(&eventType))
		eventTypes = append(eventTypes, eventType)
	}
	require.NoError(t, rows.Err())
	assert.Equal(t, []string{"created", "removed"}, eventTypes)
}

func TestPGStoreUserUpsert(t *testing.T) {
	pool := newTestPool(t)
	store := identity.NewPGStore(pool)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)
	profile := testProfile("auth0|pg-jane")

	tokA, sessA, _, err := store.GetOrCreateSession(ctx, nil, now)
	require.NoError(t, err)

	_, linkedA, created, err := store.GetOrCreateUserOnSession(ctx, tokA, profile, now.Add(time.Minute), sessA.XsrfToken)
	require.NoError(t, err)
	require.True(t, created)
	assert.Equal(t, identity.SessionStateLinkedWithUser, linkedA.State)
	require.NotNil(t, linkedA.User)
	assert.Equal(t, profile.Name, linkedA.User.Name)
	assert.Equal(t, profile.UserIDHash(), linkedA.User.ProviderUserIDHash)

	// The same identity from a second session resolves to the same row.
	tokB, sessB, _, err := store.GetOrCreateSession(ctx, nil, now)
	require.NoError(t, err)
	_, linkedB, created, err := store.GetOrCreateUserOnSession(ctx, tokB, profile, now.Add(2*time.Minute), sessB.XsrfToken)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, *linkedA.UserID, *linkedB.UserID)

	// A session already bound to one identity rejects another.
	_, _, _, err = store.GetOrCreateUserOnSession(ctx, tokA, testProfile("auth0|pg-imposter"), now.Add(3*time.Minute), sessA.XsrfToken)
	assert.ErrorIs(t, err, identity.ErrSessionNotFound)

	var eventTypes []string
	rows, err := pool.Query(ctx, `SELECT type FROM identity.user_events WHERE user_id = $1 ORDER BY id`, *linkedA.UserID)
	require.NoError(t, err)
	defer rows.Close()
	for rows.Next() {
		var eventType string
		require.NoError(t, rows.Scan(&eventType))
		eventTypes = append(eventTypes, eventType)
	}
	require.NoError(t, rows.Err())
	assert.Equal(t, []string{"created", "recreated"}, eventTypes)
}

func TestPGStoreCookiePolicyPropagation(t *testing.T) {
	pool := newTestPool(t)
	store := identity.NewPGStore(pool)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	tok, sess, _, err := store.GetOrCreateSession(ctx, nil, now)
	require.NoError(t, err)
	_, linked, _, err := store.GetOrCreateUserOnSession(ctx, tok, testProfile("auth0|pg-policy"), now.Add(time.Minute), sess.XsrfToken)
	require.NoError(t, err)
	require.False(t, linked.AgreedToCookiePolicy)

	updated, err := store.AgreeToCookiePolicy(ctx, tok, now.Add(2*time.Minute), sess.XsrfToken)
	require.NoError(t, err)
	assert.True(t, updated.AgreedToCookiePolicy)

	var agreed bool
	err = pool.QueryRow(ctx, `SELECT agreed_to_cookie_policy FROM identity.users WHERE id = $1`, *linked.UserID).Scan(&agreed)
	require.NoError(t, err)
	assert.True(t, agreed)

	// The flag survives a later link from a session that never agreed.
	tokB, sessB, _, err := store.GetOrCreateSession(ctx, nil, now)
	require.NoError(t, err)
	_, linkedB, _, err := store.GetOrCreateUserOnSession(ctx, tokB, testProfile("auth0|pg-policy"), now.Add(3*time.Minute), sessB.XsrfToken)
	require.NoError(t, err)
	assert.True(t, linkedB.User.AgreedToCookiePolicy)
	assert.True(t, linkedB.AgreedToCookiePolicy)
}

func TestPGStoreGetUserOnSession(t *testing.T) {
	pool := newTestPool(t)
	store := identity.NewPGStore(pool)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)
	profile := testProfile("auth0|pg-check")

	tok, sess, _, err := store.GetOrCreateSession(ctx, nil, now)
	require.NoError(t, err)
	_, linked, _, err := store.GetOrCreateUserOnSession(ctx, tok, profile, now.Add(time.Minute), sess.XsrfToken)
	require.NoError(t, err)

	got, err := store.GetUserOnSession(ctx, tok, profile)
	require.NoError(t, err)
	require.NotNil(t, got.User)
	assert.Equal(t, *linked.UserID, got.User.ID)

	_, err = store.GetUserOnSession(ctx, tok, testProfile("auth0|pg-unknown"))
	assert.ErrorIs(t, err, identity.ErrUserNotFound)

	freshTok, _, _, err := store.GetOrCreateSession(ctx, nil, now)
	require.NoError(t, err)
	_, err = store.GetUserOnSession(ctx, freshTok, profile)
	assert.ErrorIs(t, err, identity.ErrSessionNotFound)
}

func TestPGStoreGetUsersInfo(t *testing.T) {
	pool := newTestPool(t)
	store := identity.NewPGStore(pool)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	link := func(subject string) int64 {
		tok, sess, _, err := store.GetOrCreateSession(ctx, nil, now)
		require.NoError(t, err)
		_, linked, _, err := store.GetOrCreateUserOnSession(ctx, tok, testProfile(subject), now.Add(time.Minute), sess.XsrfToken)
		require.NoError(t, err)
		return *linked.UserID
	}

	a := link("auth0|pg-a")
	b := link("auth0|pg-b")

	users, err := store.GetUsersInfo(ctx, []int64{b, a, b})
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, b, users[0].ID)
	assert.Equal(t, a, users[1].ID)

	_, err = store.GetUsersInfo(ctx, []int64{a, a + 999})
	assert.ErrorIs(t, err, identity.ErrUserNotFound)

	ids := make([]int64, identity.MaxUsersPerLookup+1)
	for i := range ids {
		ids[i] = int64(i + 1)
	}
	_, err = store.GetUsersInfo(ctx, ids)
	assert.ErrorIs(t, err, identity.ErrTooManyUsers)
}
