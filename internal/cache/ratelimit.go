package cache

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"leasehub/api/internal/config"
)

type Purpose string

const (
	PurposeLoginIP           Purpose = "login-ip"
	PurposeLoginEmail        Purpose = "login-email"
	PurposePasswordReset     Purpose = "password-reset"
	PurposeEmailVerification Purpose = "email-verification"
)

const rateLimitPrefix = "rl:"

// Fixed window: the TTL is only set by the hit that creates the counter.
// A counter that somehow lost its TTL gets one again instead of living forever.
var fixedWindowScript = redis.NewScript(`
local count = redis.call('INCR', KEYS[1])
if count == 1 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
	ttl = tonumber(ARGV[1])
end
return {count, ttl}
`)

type Rule struct {
	Limit  int
	Window time.Duration
}

// Result describes one counter after it was incremented.
type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
	// Degraded is set when the answer came from the outage policy, not redis.
	Degraded bool
}

type RateLimiter struct {
	client    redis.Cmdable
	rules     map[Purpose]Rule
	policy    Policy
	opTimeout time.Duration
	logger    zerolog.Logger
	now       func() time.Time
}

func DefaultRules() map[Purpose]Rule {
	return map[Purpose]Rule{
		PurposeLoginIP:           {Limit: 10, Window: 15 * time.Minute},
		PurposeLoginEmail:        {Limit: 5, Window: 15 * time.Minute},
		PurposePasswordReset:     {Limit: 3, Window: time.Hour},
		PurposeEmailVerification: {Limit: 3, Window: time.Hour},
	}
}

func RulesFromConfig(cfg config.RateLimitConfig) map[Purpose]Rule {
	return map[Purpose]Rule{
		PurposeLoginIP:           {Limit: cfg.LoginIP.Limit, Window: cfg.LoginIP.Window},
		PurposeLoginEmail:        {Limit: cfg.LoginEmail.Limit, Window: cfg.LoginEmail.Window},
		PurposePasswordReset:     {Limit: cfg.PasswordReset.Limit, Window: cfg.PasswordReset.Window},
		PurposeEmailVerification: {Limit: cfg.EmailVerification.Limit, Window: cfg.EmailVerification.Window},
	}
}

func NewRateLimiter(client redis.Cmdable, rules map[Purpose]Rule, policy Policy, opTimeout time.Duration, logger zerolog.Logger) *RateLimiter {
	merged := DefaultRules()
	for purpose, rule := range rules {
		if rule.Limit > 0 && rule.Window > 0 {
			merged[purpose] = rule
		}
	}
	return &RateLimiter{
		client:    client,
		rules:     merged,
		policy:    policy,
		opTimeout: opTimeout,
		logger:    logger.With().Str("component", "ratelimit").Logger(),
		now:       time.Now,
	}
}

// NormalizeIdentifier lower-cases email addresses so that case variants share a counter.
func NormalizeIdentifier(purpose Purpose, identifier string) string {
	identifier = strings.TrimSpace(identifier)
	switch purpose {
	case PurposeLoginEmail, PurposePasswordReset, PurposeEmailVerification:
		return strings.ToLower(identifier)
	}
	return identifier
}

// Check counts one hit for identifier under purpose.
func (l *RateLimiter) Check(ctx context.Context, purpose Purpose, identifier string) (Result, error) {
	rule, ok := l.rules[purpose]
	if !ok {
		return Result{}, fmt.Errorf("unknown rate limit purpose %q", purpose)
	}

	key := rateLimitPrefix + string(purpose) + ":" + NormalizeIdentifier(purpose, identifier)
	now := l.now()

	opCtx, cancel := withOpTimeout(ctx, l.opTimeout)
	defer cancel()

	vals, err := fixedWindowScript.Run(opCtx, l.client, []string{key}, rule.Window.Milliseconds()).Int64Slice()
	if err != nil || len(vals) != 2 {
		if err == nil {
			err = fmt.Errorf("unexpected script reply %v", vals)
		}
		return l.degraded(purpose, rule, now, err), nil
	}

	count, ttl := vals[0], time.Duration(vals[1])*time.Millisecond
	res := Result{
		Allowed: count <= int64(rule.Limit),
		Limit:   rule.Limit,
		ResetAt: now.Add(ttl),
	}
	if remaining := int64(rule.Limit) - count; remaining > 0 {
		res.Remaining = int(remaining)
	}
	if !res.Allowed {
		res.RetryAfter = ttl
	}
	return res, nil
}

// CheckLogin counts the attempt against both the client address and the
// submitted email. The login is denied if either counter denies it.
func (l *RateLimiter) CheckLogin(ctx context.Context, ip, email string) (Result, Result, error) {
	ipRes, err := l.Check(ctx, PurposeLoginIP, ip)
	if err != nil {
		return Result{}, Result{}, err
	}
	if strings.TrimSpace(email) == "" {
		return ipRes, ipRes, nil
	}
	emailRes, err := l.Check(ctx, PurposeLoginEmail, email)
	if err != nil {
		return Result{}, Result{}, err
	}
	return ipRes, emailRes, nil
}

func (l *RateLimiter) degraded(purpose Purpose, rule Rule, now time.Time, err error) Result {
	l.logger.Error().
		Err(err).
		Bool("degraded", true).
		Str("purpose", string(purpose)).
		Str("policy", l.policy.String()).
		Msg("rate limit store unavailable")

	res := Result{
		Allowed:  l.policy == AllowDegraded,
		Limit:    rule.Limit,
		ResetAt:  now.Add(rule.Window),
		Degraded: true,
	}
	if !res.Allowed {
		res.RetryAfter = rule.Window
	}
	return res
}
