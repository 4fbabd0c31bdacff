package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestDenylistRevokeAndLookup(t *testing.T) {
	mr, client := newTestRedis(t)
	ctx := context.Background()
	list := NewDenylist(client, AllowDegraded, time.Second, zerolog.Nop())

	assert.False(t, list.IsRevoked(ctx, "token-a"))
	require.NoError(t, list.Revoke(ctx, "token-a", 2*time.Minute))
	assert.True(t, list.IsRevoked(ctx, "token-a"))
	assert.False(t, list.IsRevoked(ctx, "token-b"))

	key := denylistKey("token-a")
	assert.NotContains(t, key, "token-a")
	assert.Equal(t, 2*time.Minute, mr.TTL(key))

	mr.FastForward(2*time.Minute + time.Second)
	assert.False(t, list.IsRevoked(ctx, "token-a"))
}

func TestDenylistDefaultTTL(t *testing.T) {
	mr, client := newTestRedis(t)
	list := NewDenylist(client, AllowDegraded, time.Second, zerolog.Nop())

	require.NoError(t, list.Revoke(context.Background(), "token-a", 0))
	assert.Equal(t, DefaultDenylistTTL, mr.TTL(denylistKey("token-a")))
}

func TestDenylistOutagePolicy(t *testing.T) {
	mr, client := newTestRedis(t)
	ctx := context.Background()
	open := NewDenylist(client, AllowDegraded, 100*time.Millisecond, zerolog.Nop())
	closed := NewDenylist(client, Reject, 100*time.Millisecond, zerolog.Nop())

	mr.Close()

	assert.False(t, open.IsRevoked(ctx, "token-a"))
	assert.True(t, closed.IsRevoked(ctx, "token-a"))
	assert.ErrorIs(t, open.Revoke(ctx, "token-a", time.Minute), ErrUnavailable)
}

func TestRateLimitBoundary(t *testing.T) {
	mr, client := newTestRedis(t)
	ctx := context.Background()
	limiter := NewRateLimiter(client, nil, AllowDegraded, time.Second, zerolog.Nop())

	for i := 1; i <= 5; i++ {
		res, err := limiter.Check(ctx, PurposeLoginEmail, "a@x.com")
		require.NoError(t, err)
		assert.True(t, res.Allowed, "attempt %d", i)
		assert.Equal(t, 5-i, res.Remaining)
		assert.Equal(t, 5, res.Limit)
	}

	res, err := limiter.Check(ctx, PurposeLoginEmail, "a@x.com")
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Zero(t, res.Remaining)
	assert.Greater(t, res.RetryAfter, time.Duration(0))
	assert.LessOrEqual(t, res.RetryAfter, 15*time.Minute)

	// The window is fixed from the first hit, later hits must not extend it.
	assert.Equal(t, 15*time.Minute, mr.TTL("rl:login-email:a@x.com"))

	mr.FastForward(15*time.Minute + time.Second)
	res, err = limiter.Check(ctx, PurposeLoginEmail, "a@x.com")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, 4, res.Remaining)
}

func TestRateLimitNormalizesEmail(t *testing.T) {
	_, client := newTestRedis(t)
	ctx := context.Background()
	limiter := NewRateLimiter(client, map[Purpose]Rule{
		PurposePasswordReset: {Limit: 1, Window: time.Hour},
	}, AllowDegraded, time.Second, zerolog.Nop())

	res, err := limiter.Check(ctx, PurposePasswordReset, "A@X.com")
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	res, err = limiter.Check(ctx, PurposePasswordReset, "  a@x.COM ")
	require.NoError(t, err)
	assert.False(t, res.Allowed)
}

func TestRateLimitUnknownPurpose(t *testing.T) {
	_, client := newTestRedis(t)
	limiter := NewRateLimiter(client, nil, AllowDegraded, time.Second, zerolog.Nop())

	_, err := limiter.Check(context.Background(), Purpose("upload"), "x")
	assert.Error(t, err)
}

func TestCheckLoginDeniesWhenEitherCounterDenies(t *testing.T) {
	_, client := newTestRedis(t)
	ctx := context.Background()
	limiter := NewRateLimiter(client, map[Purpose]Rule{
		PurposeLoginIP:    {Limit: 3, Window: time.Minute},
		PurposeLoginEmail: {Limit: 10, Window: time.Minute},
	}, AllowDegraded, time.Second, zerolog.Nop())

	for i := 0; i < 3; i++ {
		ipRes, emailRes, err := limiter.CheckLogin(ctx, "10.0.0.1", "user"+string(rune('a'+i))+"@x.com")
		require.NoError(t, err)
		assert.True(t, ipRes.Allowed)
		assert.True(t, emailRes.Allowed)
	}

	ipRes, emailRes, err := limiter.CheckLogin(ctx, "10.0.0.1", "fresh@x.com")
	require.NoError(t, err)
	assert.False(t, ipRes.Allowed)
	assert.True(t, emailRes.Allowed)
}

func TestRateLimitFailsOpen(t *testing.T) {
	mr, client := newTestRedis(t)
	limiter := NewRateLimiter(client, nil, AllowDegraded, 100*time.Millisecond, zerolog.Nop())
	mr.Close()

	res, err := limiter.Check(context.Background(), PurposeLoginIP, "10.0.0.1")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.True(t, res.Degraded)
	assert.Zero(t, res.Remaining)
}

func TestRateLimitRejectPolicy(t *testing.T) {
	mr, client := newTestRedis(t)
	limiter := NewRateLimiter(client, nil, Reject, 100*time.Millisecond, zerolog.Nop())
	mr.Close()

	res, err := limiter.Check(context.Background(), PurposeLoginIP, "10.0.0.1")
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, 15*time.Minute, res.RetryAfter)
}
