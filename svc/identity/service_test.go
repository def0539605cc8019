package identity_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	idstore "github.com/dmitrymomot/identitykit/pkg/identity"
	"github.com/dmitrymomot/identitykit/pkg/provider"
	identity "github.com/dmitrymomot/identitykit/svc/identity"
)

var t0 = time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

func testProfile(subject string) provider.Profile {
	return provider.Profile{
		ProviderUserID: subject,
		Name:           "Jane Doe",
		Language:       "en-US",
	}
}

// fakeCache is an in-process ProfileCache that records every call.
type fakeCache struct {
	entries map[int64]idstore.PublicUser
	sets    []int64
	deletes []int64
	broken  bool
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: make(map[int64]idstore.PublicUser)}
}

func (c *fakeCache) Get(ctx context.Context, id int64) (idstore.PublicUser, bool) {
	if c.broken {
		return idstore.PublicUser{}, false
	}
	user, ok := c.entries[id]
	return user, ok
}

func (c *fakeCache) Set(ctx context.Context, user idstore.PublicUser) {
	c.sets = append(c.sets, user.ID)
	if c.broken {
		return
	}
	c.entries[user.ID] = user
}

func (c *fakeCache) Delete(ctx context.Context, ids ...int64) {
	c.deletes = append(c.deletes, ids...)
	for _, id := range ids {
		delete(c.entries, id)
	}
}

// countingStore counts GetUsersInfo round trips to the underlying store.
type countingStore struct {
	idstore.Store
	lookups int
}

func (s *countingStore) GetUsersInfo(ctx context.Context, ids []int64) ([]idstore.PublicUser, error) {
	s.lookups++
	return s.Store.GetUsersInfo(ctx, ids)
}

func linkUser(t *testing.T, store idstore.Store, subject string) (idstore.SessionToken, string, int64) {
	t.Helper()
	ctx := context.Background()

	tok, sess, _, err := store.GetOrCreateSession(ctx, nil, t0)
	require.NoError(t, err)
	_, linked, _, err := store.GetOrCreateUserOnSession(ctx, tok, testProfile(subject), t0.Add(time.Minute), sess.XsrfToken)
	require.NoError(t, err)
	return tok, sess.XsrfToken, *linked.UserID
}

func TestServicePassthrough(t *testing.T) {
	ctx := context.Background()
	svc := identity.NewService(idstore.NewMemoryStore())

	tok, sess, created, err := svc.GetOrCreateSession(ctx, nil, t0)
	require.NoError(t, err)
	assert.True(t, created)

	got, err := svc.GetSession(ctx, tok)
	require.NoError(t, err)
	assert.Equal(t, sess, got)

	// Domain errors come back unchanged from the store.
	err = svc.ExpireSession(ctx, tok, t0.Add(time.Minute), "forged-secret")
	assert.ErrorIs(t, err, idstore.ErrXsrfTokenMismatch)

	updated, err := svc.AgreeToCookiePolicy(ctx, tok, t0.Add(time.Minute), sess.XsrfToken)
	require.NoError(t, err)
	assert.True(t, updated.AgreedToCookiePolicy)

	require.NoError(t, svc.ExpireSession(ctx, tok, t0.Add(2*time.Minute), sess.XsrfToken))
	_, err = svc.GetSession(ctx, tok)
	assert.ErrorIs(t, err, idstore.ErrSessionNotFound)
}

func TestServiceGetUsersInfo(t *testing.T) {
	ctx := context.Background()

	t.Run("cap is enforced before the cache is consulted", func(t *testing.T) {
		cache := newFakeCache()
		svc := identity.NewService(idstore.NewMemoryStore(), identity.WithProfileCache(cache))

		ids := make([]int64, idstore.MaxUsersPerLookup+1)
		for i := range ids {
			ids[i] = int64(i + 1)
		}

		_, err := svc.GetUsersInfo(ctx, ids)
		assert.ErrorIs(t, err, idstore.ErrTooManyUsers)
		assert.Empty(t, cache.sets)
	})

	t.Run("misses are fetched once and served from cache after", func(t *testing.T) {
		store := &countingStore{Store: idstore.NewMemoryStore()}
		_, _, userID := linkUser(t, store.Store, "auth0|jane")

		cache := newFakeCache()
		svc := identity.NewService(store, identity.WithProfileCache(cache))

		first, err := svc.GetUsersInfo(ctx, []int64{userID})
		require.NoError(t, err)
		require.Len(t, first, 1)
		assert.Equal(t, 1, store.lookups)
		assert.Equal(t, []int64{userID}, cache.sets)

		second, err := svc.GetUsersInfo(ctx, []int64{userID})
		require.NoError(t, err)
		assert.Equal(t, first, second)
		assert.Equal(t, 1, store.lookups)
	})

	t.Run("cached and fetched entries merge in request order", func(t *testing.T) {
		store := idstore.NewMemoryStore()
		_, _, a := linkUser(t, store, "auth0|a")
		_, _, b := linkUser(t, store, "auth0|b")

		cache := newFakeCache()
		svc := identity.NewService(store, identity.WithProfileCache(cache))

		// Prime only a.
		_, err := svc.GetUsersInfo(ctx, []int64{a})
		require.NoError(t, err)

		users, err := svc.GetUsersInfo(ctx, []int64{b, a, b})
		require.NoError(t, err)
		require.Len(t, users, 2)
		assert.Equal(t, b, users[0].ID)
		assert.Equal(t, a, users[1].ID)
	})

	t.Run("any unknown id fails even with cached entries present", func(t *testing.T) {
		store := idstore.NewMemoryStore()
		_, _, a := linkUser(t, store, "auth0|a")

		cache := newFakeCache()
		svc := identity.NewService(store, identity.WithProfileCache(cache))

		_, err := svc.GetUsersInfo(ctx, []int64{a})
		require.NoError(t, err)

		_, err = svc.GetUsersInfo(ctx, []int64{a, a + 999})
		assert.ErrorIs(t, err, idstore.ErrUserNotFound)
	})

	t.Run("a broken cache degrades to store reads", func(t *testing.T) {
		store := &countingStore{Store: idstore.NewMemoryStore()}
		_, _, userID := linkUser(t, store.Store, "auth0|jane")

		cache := newFakeCache()
		cache.broken = true
		svc := identity.NewService(store, identity.WithProfileCache(cache))

		for range 3 {
			users, err := svc.GetUsersInfo(ctx, []int64{userID})
			require.NoError(t, err)
			require.Len(t, users, 1)
		}
		assert.Equal(t, 3, store.lookups)
	})

	t.Run("without a cache the store is queried directly", func(t *testing.T) {
		store := &countingStore{Store: idstore.NewMemoryStore()}
		_, _, userID := linkUser(t, store.Store, "auth0|jane")

		svc := identity.NewService(store)

		users, err := svc.GetUsersInfo(ctx, []int64{userID})
		require.NoError(t, err)
		assert.Len(t, users, 1)
		assert.Equal(t, 1, store.lookups)
	})
}

func TestServiceCacheInvalidation(t *testing.T) {
	ctx := context.Background()

	t.Run("agreeing to the cookie policy drops the linked user's entry", func(t *testing.T) {
		store := idstore.NewMemoryStore()
		tok, xsrf, userID := linkUser(t, store, "auth0|jane")

		cache := newFakeCache()
		svc := identity.NewService(store, identity.WithProfileCache(cache))

		_, err := svc.GetUsersInfo(ctx, []int64{userID})
		require.NoError(t, err)

		_, err = svc.AgreeToCookiePolicy(ctx, tok, t0.Add(2*time.Minute), xsrf)
		require.NoError(t, err)
		assert.Equal(t, []int64{userID}, cache.deletes)

		// The next read reflects the write instead of the stale entry.
		users, err := svc.GetUsersInfo(ctx, []int64{userID})
		require.NoError(t, err)
		assert.Equal(t, t0.Add(2*time.Minute), users[0].TimeLastUpdated)
	})

	t.Run("resolving a user on a session drops its entry", func(t *testing.T) {
		store := idstore.NewMemoryStore()
		_, _, userID := linkUser(t, store, "auth0|jane")

		cache := newFakeCache()
		svc := identity.NewService(store, identity.WithProfileCache(cache))

		_, err := svc.GetUsersInfo(ctx, []int64{userID})
		require.NoError(t, err)

		tok, sess, _, err := svc.GetOrCreateSession(ctx, nil, t0)
		require.NoError(t, err)
		_, _, _, err = svc.GetOrCreateUserOnSession(ctx, tok, testProfile("auth0|jane"), t0.Add(3*time.Minute), sess.XsrfToken)
		require.NoError(t, err)
		assert.Contains(t, cache.deletes, userID)
	})

	t.Run("agreeing on an anonymous session touches no cache entry", func(t *testing.T) {
		store := idstore.NewMemoryStore()
		cache := newFakeCache()
		svc := identity.NewService(store, identity.WithProfileCache(cache))

		tok, sess, _, err := svc.GetOrCreateSession(ctx, nil, t0)
		require.NoError(t, err)
		_, err = svc.AgreeToCookiePolicy(ctx, tok, t0.Add(time.Minute), sess.XsrfToken)
		require.NoError(t, err)
		assert.Empty(t, cache.deletes)
	})
}
