package identity

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	idstore "github.com/dmitrymomot/identitykit/pkg/identity"
)

// ProfileCache caches public user projections between GetUsersInfo calls.
// Implementations must be safe for concurrent use and must degrade to
// misses on any backend failure — a cache is never allowed to fail a
// request the store could serve.
type ProfileCache interface {
	Get(ctx context.Context, id int64) (idstore.PublicUser, bool)
	Set(ctx context.Context, user idstore.PublicUser)
	Delete(ctx context.Context, ids ...int64)
}

// CacheConfig tunes the Redis-backed profile cache.
type CacheConfig struct {
	TTL       time.Duration `env:"IDENTITY_PROFILE_CACHE_TTL" envDefault:"5m"`                // TTL bounds staleness of cached public profiles.
	KeyPrefix string        `env:"IDENTITY_PROFILE_CACHE_PREFIX" envDefault:"identity:user:"` // KeyPrefix namespaces cache keys on a shared server.
}

// RedisProfileCache implements ProfileCache on go-redis, storing each
// projection as a JSON value under KeyPrefix + id.
type RedisProfileCache struct {
	client *redis.Client
	cfg    CacheConfig
}

// NewRedisProfileCache wraps an existing client; the client stays owned by
// the caller.
func NewRedisProfileCache(client *redis.Client, cfg CacheConfig) *RedisProfileCache {
	return &RedisProfileCache{client: client, cfg: cfg}
}

func (c *RedisProfileCache) Get(ctx context.Context, id int64) (idstore.PublicUser, bool) {
	raw, err := c.client.Get(ctx, c.key(id)).Bytes()
	if err != nil {
		return idstore.PublicUser{}, false
	}

	var user idstore.PublicUser
	if err := json.Unmarshal(raw, &user); err != nil {
		// A corrupt entry is dropped so it cannot keep poisoning reads.
		_ = c.client.Del(ctx, c.key(id)).Err()
		return idstore.PublicUser{}, false
	}
	return user, true
}

func (c *RedisProfileCache) Set(ctx context.Context, user idstore.PublicUser) {
	raw, err := json.Marshal(user)
	if err != nil {
		return
	}
	_ = c.client.Set(ctx, c.key(user.ID), raw, c.cfg.TTL).Err()
}

func (c *RedisProfileCache) Delete(ctx context.Context, ids ...int64) {
	if len(ids) == 0 {
		return
	}
	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, c.key(id))
	}
	_ = c.client.Del(ctx, keys...).Err()
}

func (c *RedisProfileCache) key(id int64) string {
	return c.cfg.KeyPrefix + strconv.FormatInt(id, 10)
}
