package provider

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"golang.org/x/text/language"
)

// Profile is the normalized user profile handed to the identity store after
// the HTTP layer has already talked to the external provider. The store
// never sees bearer tokens or provider wire formats, only this value.
type Profile struct {
	// ProviderUserID is the provider's stable subject identifier,
	// represented as a string. Numeric ids must be converted by the adapter.
	ProviderUserID string `json:"provider_user_id"`

	// Name is the display name asserted by the provider.
	Name string `json:"name"`

	// Picture is the URL of the user's avatar image (optional).
	Picture string `json:"picture,omitempty"`

	// Language is a BCP 47 language tag (optional). Use NormalizeLanguage
	// before storing values received from the wire.
	Language string `json:"language,omitempty"`
}

// Validate checks the profile carries the fields the store depends on.
func (p Profile) Validate() error {
	if strings.TrimSpace(p.ProviderUserID) == "" {
		return ErrMissingProviderUserID
	}
	return nil
}

// UserIDHash derives the stable one-way key used to deduplicate external
// identities into a single local user record. Two fetches for the same
// external subject always produce the same hash, so re-authentication
// resolves to the same user row regardless of request ordering.
func (p Profile) UserIDHash() string {
	sum := sha256.Sum256([]byte(p.ProviderUserID))
	return hex.EncodeToString(sum[:])
}

// NormalizeLanguage canonicalizes a BCP 47 language tag, e.g. "EN-us" to
// "en-US". Unparseable input normalizes to the empty string rather than
// polluting stored profiles with junk.
func NormalizeLanguage(lang string) string {
	if strings.TrimSpace(lang) == "" {
		return ""
	}
	tag, err := language.Parse(lang)
	if err != nil {
		return ""
	}
	return tag.String()
}
