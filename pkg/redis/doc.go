// Package redis provides connection helpers for the Redis server backing
// the public-profile cache.
//
// It wraps the go-redis client with a retrying Connect, a Config struct
// populated from environment variables via github.com/caarlos0/env, and a
// health-check closure for liveness/readiness probes.
//
// # Usage
//
//	var cfg redis.Config
//	config.MustLoad(&cfg)
//
//	client, err := redis.Connect(ctx, cfg)
//	if err != nil {
//	    // the cache is optional; callers may continue without it
//	}
//	defer client.Close()
package redis
