package token

import "errors"

var (
	// ErrTokenGeneration indicates the system CSPRNG failed
	ErrTokenGeneration = errors.New("token.generation_failed")
)
