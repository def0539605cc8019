// Package token generates the unguessable identifiers the identity store
// hands out: random session ids and per-session XSRF secrets.
//
// Both generators draw exclusively from crypto/rand. Session ids are v4
// UUIDs (128 bits of randomness, collision probability negligible at store
// scale); XSRF secrets are 48 random bytes encoded as 64 base64 characters.
//
// # Usage
//
//	id := token.NewSessionID()
//	xsrf, err := token.NewXsrfToken()
//	if err != nil {
//	    // the CSPRNG is unavailable, nothing sensible can be issued
//	}
package token
