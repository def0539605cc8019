package token_test

import (
	"encoding/base64"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/identitykit/pkg/token"
)

func TestNewSessionID(t *testing.T) {
	t.Run("generates valid v4 uuid", func(t *testing.T) {
		id := token.NewSessionID()
		assert.NotEqual(t, uuid.Nil, id)
		assert.Equal(t, uuid.Version(4), id.Version())
	})

	t.Run("generates unique ids", func(t *testing.T) {
		seen := make(map[uuid.UUID]struct{})
		for range 1000 {
			id := token.NewSessionID()
			_, dup := seen[id]
			require.False(t, dup, "duplicate session id %s", id)
			seen[id] = struct{}{}
		}
	})
}

func TestNewXsrfToken(t *testing.T) {
	t.Run("is 64 characters of base64", func(t *testing.T) {
		xsrf, err := token.NewXsrfToken()
		require.NoError(t, err)
		assert.Len(t, xsrf, 64)

		raw, err := base64.StdEncoding.DecodeString(xsrf)
		require.NoError(t, err)
		assert.Len(t, raw, 48)
	})

	t.Run("generates unique secrets", func(t *testing.T) {
		seen := make(map[string]struct{})
		for range 1000 {
			xsrf, err := token.NewXsrfToken()
			require.NoError(t, err)
			_, dup := seen[xsrf]
			require.False(t, dup, "duplicate xsrf token")
			seen[xsrf] = struct{}{}
		}
	})
}
