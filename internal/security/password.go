package security

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/semaphore"

	"leasehub/api/internal/apperr"
)

const (
	DefaultBcryptCost      = 10
	DefaultPasswordSymbols = "@$!%*?&"
	DefaultPasswordMinLen  = 8
	// bcrypt ignores everything past 72 bytes and x/crypto rejects it outright.
	maxPasswordBytes = 72

	dummyPassword = "leasehub-timing-equalizer"
)

// PasswordHasher wraps bcrypt. Hashing is CPU bound, so the number of
// concurrent hash/compare operations is capped.
type PasswordHasher struct {
	cost int
	sem  *semaphore.Weighted

	dummyOnce sync.Once
	dummyHash []byte
}

func NewPasswordHasher(cost int, maxConcurrent int64) *PasswordHasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = DefaultBcryptCost
	}
	if maxConcurrent <= 0 {
		maxConcurrent = 8
	}
	return &PasswordHasher{
		cost: cost,
		sem:  semaphore.NewWeighted(maxConcurrent),
	}
}

func (h *PasswordHasher) Hash(ctx context.Context, password string) (string, error) {
	if err := h.sem.Acquire(ctx, 1); err != nil {
		return "", fmt.Errorf("acquire hash slot: %w", err)
	}
	defer h.sem.Release(1)

	hashed, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", fmt.Errorf("bcrypt: %w", err)
	}
	return string(hashed), nil
}

// Verify reports whether password matches hash. A malformed hash is a
// mismatch; only context cancellation is returned as an error.
func (h *PasswordHasher) Verify(ctx context.Context, password, hash string) (bool, error) {
	if err := h.sem.Acquire(ctx, 1); err != nil {
		return false, fmt.Errorf("acquire hash slot: %w", err)
	}
	defer h.sem.Release(1)

	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil, nil
}

// VerifyDummy spends the same work as a real comparison so that unknown
// accounts are not distinguishable by response time.
func (h *PasswordHasher) VerifyDummy(ctx context.Context, password string) {
	h.dummyOnce.Do(func() {
		h.dummyHash, _ = bcrypt.GenerateFromPassword([]byte(dummyPassword), h.cost)
	})
	if err := h.sem.Acquire(ctx, 1); err != nil {
		return
	}
	defer h.sem.Release(1)
	_ = bcrypt.CompareHashAndPassword(h.dummyHash, []byte(password))
}

// PasswordPolicy is a whitelist policy: every character must be an ASCII
// letter, a digit or one of Symbols, and each class must appear at least once.
type PasswordPolicy struct {
	MinLength int
	Symbols   string
}

func NewPasswordPolicy(minLength int, symbols string) PasswordPolicy {
	if minLength <= 0 {
		minLength = DefaultPasswordMinLen
	}
	if symbols == "" {
		symbols = DefaultPasswordSymbols
	}
	return PasswordPolicy{MinLength: minLength, Symbols: symbols}
}

func (p PasswordPolicy) Requirements() string {
	return fmt.Sprintf(
		"Password must be %d to %d characters and contain at least one uppercase letter, one lowercase letter, one number and one special character (%s); no other characters are allowed",
		p.MinLength, maxPasswordBytes, p.Symbols,
	)
}

func (p PasswordPolicy) MeetsPolicy(password string) bool {
	return p.Check(password) == nil
}

// Check returns a WEAK_PASSWORD validation error describing the requirements.
func (p PasswordPolicy) Check(password string) error {
	if len(password) < p.MinLength || len(password) > maxPasswordBytes {
		return p.violation()
	}

	var hasLower, hasUpper, hasDigit, hasSymbol bool
	for _, r := range password {
		switch {
		case r >= 'a' && r <= 'z':
			hasLower = true
		case r >= 'A' && r <= 'Z':
			hasUpper = true
		case r >= '0' && r <= '9':
			hasDigit = true
		case strings.ContainsRune(p.Symbols, r):
			hasSymbol = true
		default:
			return p.violation()
		}
	}

	if !hasLower || !hasUpper || !hasDigit || !hasSymbol {
		return p.violation()
	}
	return nil
}

func (p PasswordPolicy) violation() error {
	return apperr.Validation(apperr.CodeWeakPassword, p.Requirements())
}
