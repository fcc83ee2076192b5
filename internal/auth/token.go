package auth

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// TokenBytes is the amount of randomness in a session token (256 bits).
const TokenBytes = 32

// TokenGenerator produces unguessable opaque session tokens.
type TokenGenerator interface {
	NewToken() (string, error)
}

// RandomTokens reads tokens from crypto/rand.
type RandomTokens struct{}

func (RandomTokens) NewToken() (string, error) {
	b := make([]byte, TokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
