package ratelimit

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

func setupLimiter(t *testing.T, policies map[string]Policy) (*Limiter, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := counter.NewWithClient(client)
	t.Cleanup(func() { store.Close() })

	limiter, err := NewLimiter(store, policies, nil)
	require.NoError(t, err)
	return limiter, mr
}

func TestCheck_WithinLimit(t *testing.T) {
	limiter, _ := setupLimiter(t, nil)
	base := time.Unix(1_700_000_000, 0)
	limiter.now = func() time.Time { return base }

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		d, err := limiter.Check(ctx, ClassLogin, "10.0.0.1")
		require.NoError(t, err)
		assert.True(t, d.Allowed, "request %d", i+1)
		assert.Equal(t, 4-i, d.Remaining)
	}
}

func TestCheck_SixthRequestRejected(t *testing.T) {
	limiter, _ := setupLimiter(t, nil)
	base := time.Unix(1_700_000_000, 0)
	limiter.now = func() time.Time { return base }

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, err := limiter.Check(ctx, ClassLogin, "10.0.0.1")
		require.NoError(t, err)
	}

	d, err := limiter.Check(ctx, ClassLogin, "10.0.0.1")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 0, d.Remaining)

	// 1_700_000_000 is 200s into its 900s window.
	assert.Equal(t, 700*time.Second, d.RetryAfter)
}

func TestCheck_NewWindowStartsFresh(t *testing.T) {
	limiter, mr := setupLimiter(t, nil)
	base := time.Unix(1_700_000_000, 0)
	now := base
	limiter.now = func() time.Time { return now }

	ctx := context.Background()
	for i := 0; i < 6; i++ {
		_, err := limiter.Check(ctx, ClassLogin, "10.0.0.1")
		require.NoError(t, err)
	}

	now = base.Add(15 * time.Minute)
	mr.FastForward(15 * time.Minute)

	d, err := limiter.Check(ctx, ClassLogin, "10.0.0.1")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 4, d.Remaining)
}

func TestCheck_IdentitiesCountIndependently(t *testing.T) {
	limiter, _ := setupLimiter(t, nil)
	base := time.Unix(1_700_000_000, 0)
	limiter.now = func() time.Time { return base }

	ctx := context.Background()
	for i := 0; i < 6; i++ {
		_, err := limiter.Check(ctx, ClassLogin, "10.0.0.1")
		require.NoError(t, err)
	}

	d, err := limiter.Check(ctx, ClassLogin, "10.0.0.2")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestCheck_ClassesCountIndependently(t *testing.T) {
	limiter, _ := setupLimiter(t, nil)
	base := time.Unix(1_700_000_000, 0)
	limiter.now = func() time.Time { return base }

	ctx := context.Background()
	for i := 0; i < 6; i++ {
		_, err := limiter.Check(ctx, ClassLogin, "10.0.0.1")
		require.NoError(t, err)
	}

	d, err := limiter.Check(ctx, ClassRegistration, "10.0.0.1")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestCheck_CounterSaturates(t *testing.T) {
	limiter, mr := setupLimiter(t, nil)
	base := time.Unix(1_700_000_000, 0)
	limiter.now = func() time.Time { return base }

	ctx := context.Background()
	for i := 0; i < 50; i++ {
		_, err := limiter.Check(ctx, ClassLogin, "10.0.0.1")
		require.NoError(t, err)
	}

	// The stored count never grows past limit+1 regardless of attempts.
	key := "ratelimit:login:10.0.0.1:1888888"
	val, err := mr.Get(key)
	require.NoError(t, err)
	assert.Equal(t, "6", val)
}

func TestCheck_UnknownClass(t *testing.T) {
	limiter, _ := setupLimiter(t, nil)

	d, err := limiter.Check(context.Background(), "bulk_export", "10.0.0.1")
	assert.Error(t, err)
	assert.False(t, d.Allowed)
}

func TestCheck_StoreDownFailsClosed(t *testing.T) {
	limiter, mr := setupLimiter(t, nil)
	mr.Close()

	d, err := limiter.Check(context.Background(), ClassLogin, "10.0.0.1")
	assert.Error(t, err)
	assert.ErrorIs(t, err, counter.ErrUnavailable)
	assert.False(t, d.Allowed)
	assert.Positive(t, d.RetryAfter)
}

func TestNewLimiter_InvalidPolicy(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := counter.NewWithClient(client)
	defer store.Close()

	_, err = NewLimiter(store, map[string]Policy{"bad": {Limit: 0, Window: time.Minute}}, nil)
	assert.Error(t, err)
}

func TestNewLimiter_SubSecondWindow(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := counter.NewWithClient(client)
	defer store.Close()

	// Window arithmetic is whole-second; anything shorter must be refused
	// at construction rather than dividing by zero per request.
	_, err = NewLimiter(store, map[string]Policy{"login": {Limit: 5, Window: 500 * time.Millisecond}}, nil)
	assert.Error(t, err)
}
