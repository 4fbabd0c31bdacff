package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"leasehub/api/internal/security"
)

const (
	denylistPrefix     = "denylist:"
	DefaultDenylistTTL = 900 * time.Second
)

// Denylist remembers revoked access tokens until they would have expired anyway.
type Denylist struct {
	client    redis.Cmdable
	policy    Policy
	opTimeout time.Duration
	logger    zerolog.Logger
}

func NewDenylist(client redis.Cmdable, policy Policy, opTimeout time.Duration, logger zerolog.Logger) *Denylist {
	return &Denylist{
		client:    client,
		policy:    policy,
		opTimeout: opTimeout,
		logger:    logger.With().Str("component", "denylist").Logger(),
	}
}

func denylistKey(token string) string {
	return denylistPrefix + security.HashToken(token)
}

// Revoke stores the token for ttl. A non-positive ttl falls back to the access token lifetime.
func (d *Denylist) Revoke(ctx context.Context, token string, ttl time.Duration) error {
	if token == "" {
		return nil
	}
	if ttl <= 0 {
		ttl = DefaultDenylistTTL
	}

	ctx, cancel := withOpTimeout(ctx, d.opTimeout)
	defer cancel()

	if err := d.client.Set(ctx, denylistKey(token), "1", ttl).Err(); err != nil {
		return fmt.Errorf("%w: denylist set: %v", ErrUnavailable, err)
	}
	return nil
}

// IsRevoked reports whether token was revoked. On a store error the
// configured Policy decides the answer.
func (d *Denylist) IsRevoked(ctx context.Context, token string) bool {
	if token == "" {
		return false
	}

	ctx, cancel := withOpTimeout(ctx, d.opTimeout)
	defer cancel()

	n, err := d.client.Exists(ctx, denylistKey(token)).Result()
	if err != nil {
		d.logger.Error().Err(err).Bool("degraded", true).Str("policy", d.policy.String()).Msg("denylist lookup failed")
		return d.policy == Reject
	}
	return n > 0
}
