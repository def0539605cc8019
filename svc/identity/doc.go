// Package identity is the service facade the routing layer consumes. It
// wraps the transactional store from pkg/identity with structured logging
// and an optional Redis-backed cache for public profile lookups.
//
// The facade adds no consistency logic of its own: domain errors pass
// through untouched, the batch cap is checked before the cache so capacity
// violations are never masked, and cache failures silently degrade to store
// reads. Cached projections are invalidated whenever an operation touches
// the underlying user row.
//
// # Usage
//
//	store := idstore.NewPGStore(pool)
//	svc := identity.NewService(store,
//	    identity.WithLogger(log),
//	    identity.WithProfileCache(identity.NewRedisProfileCache(client, cacheCfg)),
//	)
package identity
