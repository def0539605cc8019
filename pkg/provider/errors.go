package provider

import "errors"

var (
	// ErrUnauthorized indicates the provider rejected the bearer credential
	ErrUnauthorized = errors.New("provider.unauthorized")

	// ErrMissingProviderUserID indicates a profile without a subject identifier
	ErrMissingProviderUserID = errors.New("provider.missing_provider_user_id")
)
