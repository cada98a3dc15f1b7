package auth

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/labcontrol/labcontrol/pkg/counter"
)

func setupSessionTest(t *testing.T) (*SessionStore, *miniredis.Miniredis, func()) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := counter.NewWithClient(client)
	sessions := NewSessionStore(store, time.Hour)

	return sessions, mr, func() {
		store.Close()
		mr.Close()
	}
}

func testPrincipal() *Principal {
	return &Principal{
		ID:       "user-1",
		Role:     RolePatient,
		TenantID: "lab-1",
		Active:   true,
	}
}

func TestSessionIssueAndResolve(t *testing.T) {
	sessions, _, cleanup := setupSessionTest(t)
	defer cleanup()

	ctx := context.Background()
	want := testPrincipal()

	token, err := sessions.Issue(ctx, want)
	require.NoError(t, err)

	got, err := sessions.Resolve(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestSessionResolve_UnknownToken(t *testing.T) {
	sessions, _, cleanup := setupSessionTest(t)
	defer cleanup()

	_, err := sessions.Resolve(context.Background(), "lc_dW5rbm93bi10b2tlbg")
	assert.ErrorIs(t, err, ErrSessionInvalid)
}

func TestSessionResolve_MalformedToken(t *testing.T) {
	sessions, _, cleanup := setupSessionTest(t)
	defer cleanup()

	_, err := sessions.Resolve(context.Background(), "not-a-session-token")
	assert.ErrorIs(t, err, ErrSessionInvalid)
}

func TestSessionResolve_ExpiredByTTL(t *testing.T) {
	sessions, mr, cleanup := setupSessionTest(t)
	defer cleanup()

	ctx := context.Background()
	token, err := sessions.Issue(ctx, testPrincipal())
	require.NoError(t, err)

	mr.FastForward(2 * time.Hour)

	_, err = sessions.Resolve(ctx, token)
	assert.ErrorIs(t, err, ErrSessionInvalid)
}

func TestSessionResolve_InactivePrincipal(t *testing.T) {
	sessions, _, cleanup := setupSessionTest(t)
	defer cleanup()

	ctx := context.Background()
	principal := testPrincipal()
	principal.Active = false

	token, err := sessions.Issue(ctx, principal)
	require.NoError(t, err)

	_, err = sessions.Resolve(ctx, token)
	assert.ErrorIs(t, err, ErrSessionInvalid)
}

func TestSessionRevoke(t *testing.T) {
	sessions, _, cleanup := setupSessionTest(t)
	defer cleanup()

	ctx := context.Background()
	token, err := sessions.Issue(ctx, testPrincipal())
	require.NoError(t, err)

	require.NoError(t, sessions.Revoke(ctx, token))

	_, err = sessions.Resolve(ctx, token)
	assert.ErrorIs(t, err, ErrSessionInvalid)
}
