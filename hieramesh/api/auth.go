package api

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
)

// Authentication errors
var (
	ErrAuthRequired      = errors.New("authentication required")
	ErrAuthFailed        = errors.New("authentication failed")
	ErrAuthTokenMismatch = errors.New("auth token mismatch")
)

// Authenticator checks the token a client presents. An empty token
// disables authentication.
type Authenticator struct {
	token string
}

// NewAuthenticator creates an Authenticator for token.
func NewAuthenticator(token string) *Authenticator {
	return &Authenticator{token: token}
}

// IsEnabled returns true if a token is required.
func (a *Authenticator) IsEnabled() bool {
	return a != nil && a.token != ""
}

// ValidateToken checks if the provided token matches the configured token
// in constant time.
func (a *Authenticator) ValidateToken(provided string) error {
	if !a.IsEnabled() {
		return nil
	}
	if provided == "" {
		return ErrAuthRequired
	}
	if subtle.ConstantTimeCompare([]byte(a.token), []byte(provided)) != 1 {
		return ErrAuthTokenMismatch
	}
	return nil
}

// GenerateToken returns a random 256-bit hex token.
func GenerateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// AuthMessage is the first frame a client sends.
type AuthMessage struct {
	Type  string `json:"type"` // Must be "auth"
	Token string `json:"token"`
}

// AuthResponse answers an AuthMessage.
type AuthResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}
