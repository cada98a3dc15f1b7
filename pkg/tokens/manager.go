package tokens

import (
	"context"
	"fmt"
	"time"

	"github.com/labcontrol/labcontrol/pkg/auth"
	"github.com/labcontrol/labcontrol/pkg/counter"
	"github.com/labcontrol/labcontrol/pkg/observability"
	"github.com/labcontrol/labcontrol/pkg/policy"
)

// Token purposes. A subject holds at most one live token per purpose;
// purposes never interfere with each other.
const (
	PurposeEmailVerify   = "email_verify"
	PurposePasswordReset = "password_reset"
)

// Default token lifetimes.
const (
	DefaultEmailVerifyTTL   = 48 * time.Hour
	DefaultPasswordResetTTL = time.Hour
)

// recordGrace keeps the backing record around past its expiry so a late
// presentation of the correct token reads as expired rather than unknown.
const recordGrace = 24 * time.Hour

// Verification failures. All of them match policy.ErrTokenInvalid, which is
// the only distinction clients ever see.
var (
	ErrTokenMismatch    = fmt.Errorf("%w: value mismatch", policy.ErrTokenInvalid)
	ErrTokenExpired     = fmt.Errorf("%w: expired", policy.ErrTokenInvalid)
	ErrTokenAlreadyUsed = fmt.Errorf("%w: already consumed", policy.ErrTokenInvalid)
)

// Manager issues and consumes one-time verification tokens (email
// verification, password reset). Token values are stored hashed; the
// plaintext exists only in the message sent to the user.
type Manager struct {
	store     *counter.Store
	generator *auth.TokenGenerator
	metrics   *observability.Metrics
	now       func() time.Time
}

// NewManager creates a token manager over the counter store. metrics may be
// nil.
func NewManager(store *counter.Store, metrics *observability.Metrics) *Manager {
	return &Manager{
		store:     store,
		generator: auth.NewTokenGenerator(),
		metrics:   metrics,
		now:       time.Now,
	}
}

// Issue creates a fresh token for (subject, purpose) and returns its
// plaintext value. Any previously issued token for the pair is atomically
// invalidated: at most one token per pair can ever verify.
func (m *Manager) Issue(ctx context.Context, subject, purpose string, ttl time.Duration) (string, error) {
	if subject == "" || purpose == "" {
		return "", fmt.Errorf("token subject and purpose are required")
	}
	if ttl <= 0 {
		return "", fmt.Errorf("token ttl must be positive")
	}

	value, err := m.generator.GenerateVerificationValue()
	if err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}

	now := m.now()
	err = m.store.PutRecord(ctx, recordKey(subject, purpose),
		auth.HashToken(value), now, now.Add(ttl), ttl+recordGrace)
	if err != nil {
		return "", fmt.Errorf("failed to store token: %w", err)
	}

	if m.metrics != nil {
		m.metrics.TokensIssuedTotal.WithLabelValues(purpose).Inc()
	}
	return value, nil
}

// Consume verifies and burns the live token for (subject, purpose). The
// check-and-set runs as one store command, so of any number of concurrent
// presentations of the same value exactly one succeeds.
//
// Returns nil on success; otherwise one of ErrTokenMismatch,
// ErrTokenExpired, ErrTokenAlreadyUsed, or a store error. A mismatched
// presentation does not burn the live token.
func (m *Manager) Consume(ctx context.Context, subject, purpose, presented string) error {
	result, err := m.store.ConsumeRecord(ctx, recordKey(subject, purpose),
		auth.HashToken(presented), m.now())
	if err != nil {
		// Fail closed: an unreachable store never verifies a token.
		m.observe(purpose, "error")
		return fmt.Errorf("token verification failed: %w", err)
	}

	switch result {
	case counter.ConsumeOK:
		m.observe(purpose, "ok")
		return nil
	case counter.ConsumeExpired:
		m.observe(purpose, "expired")
		return ErrTokenExpired
	case counter.ConsumeAlreadyConsumed:
		m.observe(purpose, "already_used")
		return ErrTokenAlreadyUsed
	default:
		m.observe(purpose, "mismatch")
		return ErrTokenMismatch
	}
}

func (m *Manager) observe(purpose, outcome string) {
	if m.metrics != nil {
		m.metrics.TokensConsumedTotal.WithLabelValues(purpose, outcome).Inc()
	}
}

func recordKey(subject, purpose string) string {
	return fmt.Sprintf("token:%s:%s", subject, purpose)
}
