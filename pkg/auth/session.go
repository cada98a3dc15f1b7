package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/labcontrol/labcontrol/pkg/counter"
)

// DefaultSessionTTL is how long an issued session stays valid.
const DefaultSessionTTL = 12 * time.Hour

// ErrSessionInvalid is returned for unknown, malformed, or expired session
// tokens. The cause is deliberately not distinguished to the caller.
var ErrSessionInvalid = errors.New("invalid or expired session")

// Session is the record stored in the counter store under the hashed token.
type Session struct {
	Principal Principal `json:"principal"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// SessionStore issues and resolves opaque session tokens. Tokens are stored
// hashed; the plaintext exists only in the client's hands.
type SessionStore struct {
	store     *counter.Store
	generator *TokenGenerator
	ttl       time.Duration
}

// NewSessionStore creates a session store over the counter store.
func NewSessionStore(store *counter.Store, ttl time.Duration) *SessionStore {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &SessionStore{
		store:     store,
		generator: NewTokenGenerator(),
		ttl:       ttl,
	}
}

// Issue creates a session for the principal and returns the plaintext token.
func (s *SessionStore) Issue(ctx context.Context, principal *Principal) (string, error) {
	token, tokenHash, err := s.generator.GenerateSessionToken()
	if err != nil {
		return "", err
	}

	now := time.Now()
	session := Session{
		Principal: *principal,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.ttl),
	}

	if err := s.store.SetJSON(ctx, sessionKey(tokenHash), session, s.ttl); err != nil {
		return "", fmt.Errorf("failed to store session: %w", err)
	}

	return token, nil
}

// Resolve validates a presented token and returns the principal it carries.
func (s *SessionStore) Resolve(ctx context.Context, token string) (*Principal, error) {
	if err := s.generator.ValidateSessionTokenFormat(token); err != nil {
		return nil, ErrSessionInvalid
	}

	var session Session
	found, err := s.store.GetJSON(ctx, sessionKey(HashToken(token)), &session)
	if err != nil {
		return nil, fmt.Errorf("session lookup failed: %w", err)
	}
	if !found || time.Now().After(session.ExpiresAt) {
		return nil, ErrSessionInvalid
	}
	if !session.Principal.Active {
		return nil, ErrSessionInvalid
	}

	principal := session.Principal
	return &principal, nil
}

// Revoke deletes a session, logging the principal out.
func (s *SessionStore) Revoke(ctx context.Context, token string) error {
	if err := s.generator.ValidateSessionTokenFormat(token); err != nil {
		return ErrSessionInvalid
	}
	return s.store.Delete(ctx, sessionKey(HashToken(token)))
}

func sessionKey(tokenHash string) string {
	return "session:" + tokenHash
}
