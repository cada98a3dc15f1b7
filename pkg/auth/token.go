package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
)

const (
	// SessionTokenPrefix identifies LabControl session tokens
	SessionTokenPrefix = "lc_"
	// TokenLength is the total length of random bytes (32 bytes = 256 bits)
	TokenLength = 32
)

// TokenGenerator generates cryptographically random opaque tokens. The same
// generator backs session tokens and verification token values.
type TokenGenerator struct{}

// NewTokenGenerator creates a new token generator
func NewTokenGenerator() *TokenGenerator {
	return &TokenGenerator{}
}

// GenerateSessionToken creates a new session token.
// Format: lc_<base64url(32 random bytes)>
// The plaintext is shown to the caller once; only the hash is stored.
func (tg *TokenGenerator) GenerateSessionToken() (token string, tokenHash string, err error) {
	randomBytes := make([]byte, TokenLength)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	fullToken := SessionTokenPrefix + base64.RawURLEncoding.EncodeToString(randomBytes)
	return fullToken, HashToken(fullToken), nil
}

// GenerateVerificationValue creates an unguessable value for single-use
// verification tokens (email verification, password reset).
func (tg *TokenGenerator) GenerateVerificationValue() (string, error) {
	randomBytes := make([]byte, TokenLength)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(randomBytes), nil
}

// HashToken computes the SHA256 hash of a token for lookup
func HashToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}

// ValidateSessionTokenFormat checks if a token has the correct format
func (tg *TokenGenerator) ValidateSessionTokenFormat(token string) error {
	if !strings.HasPrefix(token, SessionTokenPrefix) {
		return fmt.Errorf("token must start with %q", SessionTokenPrefix)
	}

	encodedPart := strings.TrimPrefix(token, SessionTokenPrefix)
	if len(encodedPart) == 0 {
		return fmt.Errorf("token is too short")
	}

	if _, err := base64.RawURLEncoding.DecodeString(encodedPart); err != nil {
		return fmt.Errorf("invalid token encoding: %w", err)
	}

	return nil
}
