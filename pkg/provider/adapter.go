package provider

import "context"

// Adapter abstracts provider-specific profile retrieval behind a minimal,
// provider-agnostic interface. Implementations live with the transport layer
// and encapsulate all protocol details (token exchange, profile endpoints);
// the identity store consumes only the normalized Profile.
type Adapter interface {
	// ProviderID returns a stable provider identifier used for storage and
	// logging, e.g. "auth0", "google".
	ProviderID() string

	// FetchProfile resolves an opaque bearer credential to a normalized
	// profile. Implementations return ErrUnauthorized when the credential is
	// rejected by the provider.
	FetchProfile(ctx context.Context, bearerToken string) (Profile, error)
}
