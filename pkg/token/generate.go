package token

import (
	"crypto/rand"
	"encoding/base64"
	"errors"

	"github.com/google/uuid"
)

// xsrfTokenBytes is the amount of raw entropy behind every XSRF secret.
// 48 bytes encode to a 64-character base64 string.
const xsrfTokenBytes = 48

// NewSessionID returns a cryptographically random 128-bit session identifier.
func NewSessionID() uuid.UUID {
	return uuid.New()
}

// NewXsrfToken returns a fresh per-session XSRF secret: 48 bytes from the
// CSPRNG, standard base64 encoded. The secret is never derived from session
// state, so it cannot be predicted from anything the client already holds.
func NewXsrfToken() (string, error) {
	b := make([]byte, xsrfTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", errors.Join(ErrTokenGeneration, err)
	}
	return base64.StdEncoding.EncodeToString(b), nil
}
