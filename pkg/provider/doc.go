// Package provider defines the boundary between the identity store and the
// external profile provider. The provider protocol itself (OAuth dance,
// token exchange, userinfo endpoints) is deliberately out of scope: the
// transport layer implements Adapter and the rest of the system works with
// the normalized Profile value only.
//
// The package also owns the provider user id hash — the stable one-way key
// that deduplicates external identities into a single local user record —
// and BCP 47 language tag normalization for profile data arriving from the
// wire.
package provider
