package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"leasehub/api/internal/ids"
	"leasehub/api/internal/models"
	"leasehub/api/internal/repository"
	"leasehub/api/internal/security"
)

type fakeUsers struct {
	mu      sync.Mutex
	byID    map[string]models.User
	writes  int
	failAll error
}

func newFakeUsers() *fakeUsers {
	return &fakeUsers{byID: map[string]models.User{}}
}

func (f *fakeUsers) Create(_ context.Context, user models.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll != nil {
		return f.failAll
	}
	for _, u := range f.byID {
		if u.Email == user.Email {
			return repository.ErrEmailTaken
		}
	}
	f.writes++
	f.byID[user.ID] = user
	return nil
}

func (f *fakeUsers) FindByEmail(_ context.Context, email string) (models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll != nil {
		return models.User{}, f.failAll
	}
	for _, u := range f.byID {
		if u.Email == email {
			return u, nil
		}
	}
	return models.User{}, repository.ErrUserNotFound
}

func (f *fakeUsers) GetByID(_ context.Context, id string) (models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.byID[id]
	if !ok {
		return models.User{}, repository.ErrUserNotFound
	}
	return u, nil
}

func (f *fakeUsers) UpdateLastLogin(_ context.Context, id string, at time.Time) error {
	return f.mutate(id, func(u *models.User) { u.LastLoginAt = &at })
}

func (f *fakeUsers) UpdatePassword(_ context.Context, id string, hash string) error {
	return f.mutate(id, func(u *models.User) { u.PasswordHash = &hash })
}

func (f *fakeUsers) SetVerificationToken(_ context.Context, id string, token string, expiresAt time.Time) error {
	return f.mutate(id, func(u *models.User) {
		u.EmailVerificationToken = &token
		u.EmailVerificationExpiresAt = &expiresAt
	})
}

func (f *fakeUsers) ConsumeVerificationToken(_ context.Context, token string) (models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, u := range f.byID {
		if u.EmailVerificationToken != nil && *u.EmailVerificationToken == token &&
			u.EmailVerificationExpiresAt != nil && u.EmailVerificationExpiresAt.After(time.Now()) {
			u.EmailVerified = true
			u.EmailVerificationToken = nil
			u.EmailVerificationExpiresAt = nil
			f.byID[id] = u
			f.writes++
			return u, nil
		}
	}
	return models.User{}, repository.ErrVerificationTokenInvalid
}

func (f *fakeUsers) mutate(id string, fn func(*models.User)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.byID[id]
	if !ok {
		return repository.ErrUserNotFound
	}
	fn(&u)
	f.byID[id] = u
	f.writes++
	return nil
}

func (f *fakeUsers) get(id string) models.User {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.byID[id]
}

func (f *fakeUsers) writeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writes
}

type fakeProfiles struct {
	mu       sync.Mutex
	profiles []models.Profile
}

func (f *fakeProfiles) Create(_ context.Context, p models.Profile) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.profiles = append(f.profiles, p)
	return nil
}

// fakeRefresh mirrors the conditional-update semantics of the SQL store.
type fakeRefresh struct {
	mu   sync.Mutex
	rows map[string]*models.RefreshToken
	err  error
}

func newFakeRefresh() *fakeRefresh {
	return &fakeRefresh{rows: map[string]*models.RefreshToken{}}
}

func (f *fakeRefresh) lifetime(rememberMe bool) time.Duration {
	if rememberMe {
		return 30 * 24 * time.Hour
	}
	return 24 * time.Hour
}

func (f *fakeRefresh) Create(_ context.Context, userID string, rememberMe bool, ip string) (string, models.RefreshToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", models.RefreshToken{}, f.err
	}
	raw, _ := security.RandomToken(48)
	rec := &models.RefreshToken{
		ID: ids.New(), UserID: userID, TokenHash: security.HashToken(raw), FamilyID: ids.NewFamily(),
		RememberMe: rememberMe, ExpiresAt: time.Now().Add(f.lifetime(rememberMe)), IPAddress: ip, CreatedAt: time.Now(),
	}
	f.rows[rec.TokenHash] = rec
	return raw, *rec, nil
}

func (f *fakeRefresh) Validate(_ context.Context, token string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, f.err
	}
	rec, ok := f.rows[security.HashToken(token)]
	return ok && live(rec), nil
}

func (f *fakeRefresh) Rotate(_ context.Context, oldToken, userID, ip string) (string, models.RefreshToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	old, ok := f.rows[security.HashToken(oldToken)]
	if !ok || old.UserID != userID || !live(old) {
		return "", models.RefreshToken{}, repository.ErrRefreshTokenInvalid
	}
	raw, _ := security.RandomToken(48)
	rec := &models.RefreshToken{
		ID: ids.New(), UserID: userID, TokenHash: security.HashToken(raw), FamilyID: old.FamilyID,
		RememberMe: old.RememberMe, ExpiresAt: time.Now().Add(f.lifetime(old.RememberMe)), IPAddress: ip, CreatedAt: time.Now(),
	}
	now := time.Now()
	old.Revoked, old.RevokedAt, old.ReplacedBy = true, &now, &rec.ID
	f.rows[rec.TokenHash] = rec
	return raw, *rec, nil
}

func (f *fakeRefresh) Lookup(_ context.Context, token string) (models.RefreshToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return models.RefreshToken{}, f.err
	}
	rec, ok := f.rows[security.HashToken(token)]
	if !ok {
		return models.RefreshToken{}, repository.ErrRefreshTokenNotFound
	}
	return *rec, nil
}

func (f *fakeRefresh) Revoke(_ context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if rec, ok := f.rows[security.HashToken(token)]; ok {
		rec.Revoked = true
	}
	return nil
}

func (f *fakeRefresh) RevokeFamily(_ context.Context, familyID string) (int64, error) {
	return f.revokeWhere(func(r *models.RefreshToken) bool { return r.FamilyID == familyID }), nil
}

func (f *fakeRefresh) RevokeAllForUser(_ context.Context, userID string) (int64, error) {
	return f.revokeWhere(func(r *models.RefreshToken) bool { return r.UserID == userID }), nil
}

func (f *fakeRefresh) revokeWhere(match func(*models.RefreshToken) bool) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, r := range f.rows {
		if match(r) && !r.Revoked {
			r.Revoked = true
			n++
		}
	}
	return n
}

func (f *fakeRefresh) liveCount(userID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, r := range f.rows {
		if r.UserID == userID && live(r) {
			n++
		}
	}
	return n
}

type fakeResetTokens struct {
	mu       sync.Mutex
	rows     map[string]*models.PasswordResetToken
	users    *fakeUsers
	failNext error
}

func newFakeResetTokens(users *fakeUsers) *fakeResetTokens {
	return &fakeResetTokens{rows: map[string]*models.PasswordResetToken{}, users: users}
}

func (f *fakeResetTokens) IssueResetToken(_ context.Context, userID, ip string) (string, error) {
	raw, _ := security.RandomHex(32)
	f.insert(userID, raw, time.Now().Add(time.Hour))
	return raw, nil
}

func (f *fakeResetTokens) insert(userID, raw string, expiresAt time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now()
	for _, r := range f.rows {
		if r.UserID == userID && r.UsedAt == nil {
			r.UsedAt = &now
		}
	}
	f.rows[security.HashToken(raw)] = &models.PasswordResetToken{
		ID: ids.New(), UserID: userID, TokenHash: security.HashToken(raw), ExpiresAt: expiresAt, CreatedAt: now,
	}
}

func (f *fakeResetTokens) IsValid(_ context.Context, tokenHash string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rows[tokenHash]
	return ok && r.Usable(time.Now()), nil
}

// ConsumeAndSetPassword is all-or-nothing: when failNext is set the token
// stays usable and the password is untouched.
func (f *fakeResetTokens) ConsumeAndSetPassword(ctx context.Context, tokenHash, passwordHash string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rows[tokenHash]
	if !ok || !r.Usable(time.Now()) {
		return "", repository.ErrResetTokenInvalid
	}
	if f.failNext != nil {
		err := f.failNext
		f.failNext = nil
		return "", err
	}
	if err := f.users.UpdatePassword(ctx, r.UserID, passwordHash); err != nil {
		return "", err
	}
	now := time.Now()
	for _, other := range f.rows {
		if other.UserID == r.UserID && other.UsedAt == nil {
			other.UsedAt = &now
		}
	}
	return r.UserID, nil
}

type fakeDenylist struct {
	mu      sync.Mutex
	entries map[string]time.Duration
	err     error
}

func (f *fakeDenylist) Revoke(_ context.Context, token string, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if f.entries == nil {
		f.entries = map[string]time.Duration{}
	}
	f.entries[token] = ttl
	return nil
}

func (f *fakeDenylist) IsRevoked(_ context.Context, token string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.entries[token]
	return ok
}

type sentMail struct {
	kind  string
	to    string
	token string
}

type fakeMailer struct {
	mu   sync.Mutex
	sent []sentMail
	err  error
}

func (f *fakeMailer) record(kind, to, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sentMail{kind: kind, to: to, token: token})
	return nil
}

func (f *fakeMailer) SendVerificationEmail(_ context.Context, to, token string) error {
	return f.record("verification", to, token)
}

func (f *fakeMailer) SendPasswordResetEmail(_ context.Context, to, token string) error {
	return f.record("password_reset", to, token)
}

func (f *fakeMailer) SendWelcomeEmail(_ context.Context, to string) error {
	return f.record("welcome", to, "")
}

func (f *fakeMailer) SendAccountUpdateNotification(_ context.Context, to, change string) error {
	return f.record("account_update", to, change)
}

func (f *fakeMailer) last(kind string) (sentMail, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.sent) - 1; i >= 0; i-- {
		if f.sent[i].kind == kind {
			return f.sent[i], true
		}
	}
	return sentMail{}, false
}

func (f *fakeMailer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

var errStoreDown = errors.New("store down")

func live(t *models.RefreshToken) bool {
	return !t.Revoked && t.ExpiresAt.After(time.Now())
}

type harness struct {
	svc      *SessionService
	users    *fakeUsers
	profiles *fakeProfiles
	refresh  *fakeRefresh
	resets   *fakeResetTokens
	denylist *fakeDenylist
	mailer   *fakeMailer
	codec    *security.TokenCodec
}

func newHarness() *harness {
	codec, err := security.NewTokenCodec("service-test-secret-service-test", 15*time.Minute)
	if err != nil {
		panic(err)
	}
	users := newFakeUsers()
	h := &harness{
		users:    users,
		profiles: &fakeProfiles{},
		refresh:  newFakeRefresh(),
		resets:   newFakeResetTokens(users),
		denylist: &fakeDenylist{},
		mailer:   &fakeMailer{},
		codec:    codec,
	}
	h.svc = NewSessionService(SessionDeps{
		Users:       h.users,
		Profiles:    h.profiles,
		Refresh:     h.refresh,
		ResetTokens: h.resets,
		Denylist:    h.denylist,
		Hasher:      security.NewPasswordHasher(bcrypt.MinCost, 4),
		Tokens:      codec,
		Policy:      security.NewPasswordPolicy(8, security.DefaultPasswordSymbols),
		Mailer:      h.mailer,
	}, SessionConfig{VerificationTTL: 24 * time.Hour, RevokeFamilyOnReuse: true}, zerolog.Nop())
	return h
}
