// Package pg bootstraps the PostgreSQL layer behind the identity store:
// connection pooling on pgx/v5, schema migrations via goose/v3, health
// checks, and error classification helpers.
//
// The API surface is intentionally tiny. Config is an env-tagged struct
// (see github.com/caarlos0/env field tags for variable names and defaults),
// Connect opens a *pgxpool.Pool with retry, Migrate brings the schema up to
// date before the store serves traffic, and Healthcheck plugs into
// liveness/readiness probes.
//
// # Usage
//
//	var cfg pg.Config
//	config.MustLoad(&cfg)
//
//	pool, err := pg.Connect(ctx, cfg)
//	if err != nil {
//	    // terminate: the store is useless without its database
//	}
//	defer pool.Close()
//
//	if err := pg.Migrate(ctx, pool, cfg, slog.Default()); err != nil {
//	    // terminate
//	}
//
// # Error classification
//
// The identity store's conflict handling depends on telling error classes
// apart: [IsNotFoundError] for empty lookups, [IsDuplicateKeyError] for the
// lost insert race on the provider user id hash, [IsCheckViolationError]
// for schema-level invariant breaches. All helpers unwrap through
// errors.Join chains.
package pg
