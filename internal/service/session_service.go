package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"leasehub/api/internal/apperr"
	"leasehub/api/internal/ids"
	"leasehub/api/internal/mail"
	"leasehub/api/internal/models"
	"leasehub/api/internal/repository"
	"leasehub/api/internal/security"
)

const (
	msgInvalidCredentials  = "Invalid credentials"
	msgInvalidRefreshToken = "Invalid or expired refresh token"
	msgInvalidResetToken   = "Invalid or expired reset token"
	msgInvalidVerification = "Invalid or expired verification token"
	msgAccountDisabled     = "Account is disabled"
	verificationTokenBytes = 32
	notificationTimeout    = 3 * time.Second
	defaultVerificationTTL = 24 * time.Hour
	passwordChangeNotice   = "password"
)

type UserStore interface {
	Create(ctx context.Context, user models.User) error
	FindByEmail(ctx context.Context, email string) (models.User, error)
	GetByID(ctx context.Context, id string) (models.User, error)
	UpdateLastLogin(ctx context.Context, id string, at time.Time) error
	UpdatePassword(ctx context.Context, id string, passwordHash string) error
	SetVerificationToken(ctx context.Context, id string, token string, expiresAt time.Time) error
	ConsumeVerificationToken(ctx context.Context, token string) (models.User, error)
}

type ProfileStore interface {
	Create(ctx context.Context, profile models.Profile) error
}

type RefreshTokenStore interface {
	Create(ctx context.Context, userID string, rememberMe bool, ip string) (string, models.RefreshToken, error)
	Validate(ctx context.Context, token string) (bool, error)
	Rotate(ctx context.Context, oldToken, userID, ip string) (string, models.RefreshToken, error)
	Lookup(ctx context.Context, token string) (models.RefreshToken, error)
	Revoke(ctx context.Context, token string) error
	RevokeFamily(ctx context.Context, familyID string) (int64, error)
	RevokeAllForUser(ctx context.Context, userID string) (int64, error)
}

type ResetTokenStore interface {
	IssueResetToken(ctx context.Context, userID, ip string) (string, error)
	IsValid(ctx context.Context, tokenHash string) (bool, error)
	ConsumeAndSetPassword(ctx context.Context, tokenHash, passwordHash string) (string, error)
}

type Denylist interface {
	Revoke(ctx context.Context, token string, ttl time.Duration) error
	IsRevoked(ctx context.Context, token string) bool
}

type PasswordHasher interface {
	Hash(ctx context.Context, password string) (string, error)
	Verify(ctx context.Context, password, hash string) (bool, error)
	VerifyDummy(ctx context.Context, password string)
}

type TokenCodec interface {
	Issue(userID string, email string, role models.UserRole) (string, time.Time, error)
	Verify(token string) (*security.AccessClaims, error)
	Decode(token string) *security.AccessClaims
	Remaining(claims *security.AccessClaims) time.Duration
}

type PasswordPolicy interface {
	Check(password string) error
}

// SessionDeps are the collaborators of SessionService. All are required.
type SessionDeps struct {
	Users       UserStore
	Profiles    ProfileStore
	Refresh     RefreshTokenStore
	ResetTokens ResetTokenStore
	Denylist    Denylist
	Hasher      PasswordHasher
	Tokens      TokenCodec
	Policy      PasswordPolicy
	Mailer      mail.Mailer
}

type SessionConfig struct {
	VerificationTTL     time.Duration
	RevokeFamilyOnReuse bool
	// ReuseGrace is how long after its rotation a token may be presented again
	// without revoking its family. Parallel requests racing a silent refresh
	// land inside it.
	ReuseGrace time.Duration
}

// SessionService owns the signup, login, refresh and password flows.
type SessionService struct {
	deps SessionDeps
	cfg  SessionConfig
	log  zerolog.Logger
	now  func() time.Time
}

func NewSessionService(deps SessionDeps, cfg SessionConfig, log zerolog.Logger) *SessionService {
	if cfg.VerificationTTL <= 0 {
		cfg.VerificationTTL = defaultVerificationTTL
	}
	return &SessionService{
		deps: deps,
		cfg:  cfg,
		log:  log.With().Str("component", "session").Logger(),
		now:  time.Now,
	}
}

type AuthResult struct {
	User             models.User
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
	RememberMe       bool
}

type SignupInput struct {
	Email     string
	Password  string
	Role      models.UserRole
	FirstName string
	LastName  string
	Phone     string
}

type LoginInput struct {
	Email      string
	Password   string
	RememberMe bool
	IPAddress  string
}

func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (s *SessionService) Signup(ctx context.Context, input SignupInput, ip string) (AuthResult, error) {
	email := NormalizeEmail(input.Email)
	if email == "" {
		return AuthResult{}, apperr.Validation(apperr.CodeValidation, "Email is required")
	}
	role := input.Role
	if role == "" {
		role = models.UserRoleTenant
	}
	if !role.Valid() {
		return AuthResult{}, apperr.Validation(apperr.CodeValidation, "Role must be tenant, landlord or broker")
	}
	if err := s.deps.Policy.Check(input.Password); err != nil {
		return AuthResult{}, err
	}

	if _, err := s.deps.Users.FindByEmail(ctx, email); err == nil {
		return AuthResult{}, emailExists()
	} else if !errors.Is(err, repository.ErrUserNotFound) {
		return AuthResult{}, apperr.Internal(err)
	}

	passwordHash, err := s.deps.Hasher.Hash(ctx, input.Password)
	if err != nil {
		return AuthResult{}, apperr.Internal(err)
	}

	verificationToken, err := security.RandomHex(verificationTokenBytes)
	if err != nil {
		return AuthResult{}, apperr.Internal(err)
	}
	verificationExpires := s.now().Add(s.cfg.VerificationTTL)

	user := models.User{
		ID:                         ids.New(),
		Email:                      email,
		PasswordHash:               &passwordHash,
		Role:                       role,
		EmailVerified:              false,
		EmailVerificationToken:     &verificationToken,
		EmailVerificationExpiresAt: &verificationExpires,
		IsActive:                   true,
	}
	if err := s.deps.Users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrEmailTaken) {
			return AuthResult{}, emailExists()
		}
		return AuthResult{}, apperr.Internal(err)
	}

	if input.FirstName != "" && input.LastName != "" && input.Phone != "" {
		profile := models.Profile{
			UserID:    user.ID,
			FirstName: strings.TrimSpace(input.FirstName),
			LastName:  strings.TrimSpace(input.LastName),
			Phone:     strings.TrimSpace(input.Phone),
		}
		if err := s.deps.Profiles.Create(ctx, profile); err != nil {
			s.log.Warn().Err(err).Str("user_id", user.ID).Msg("create profile failed")
		}
	}

	s.notify(ctx, user.ID, mail.KindVerification, func(ctx context.Context) error {
		return s.deps.Mailer.SendVerificationEmail(ctx, user.Email, verificationToken)
	})

	result, err := s.issuePair(ctx, user, false, ip)
	if err != nil {
		return AuthResult{}, err
	}
	s.log.Info().Str("user_id", user.ID).Str("role", string(role)).Msg("user signed up")
	return result, nil
}

// Login fails with the same error for an unknown email, an account without a
// password and a wrong password. Unknown emails still pay for one bcrypt
// comparison.
func (s *SessionService) Login(ctx context.Context, input LoginInput) (AuthResult, error) {
	email := NormalizeEmail(input.Email)

	user, err := s.deps.Users.FindByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, repository.ErrUserNotFound) {
			return AuthResult{}, apperr.Internal(err)
		}
		s.deps.Hasher.VerifyDummy(ctx, input.Password)
		return AuthResult{}, invalidCredentials()
	}
	if !user.HasPassword() {
		s.deps.Hasher.VerifyDummy(ctx, input.Password)
		return AuthResult{}, invalidCredentials()
	}

	ok, err := s.deps.Hasher.Verify(ctx, input.Password, *user.PasswordHash)
	if err != nil {
		return AuthResult{}, apperr.Internal(err)
	}
	if !ok {
		s.log.Info().Str("user_id", user.ID).Msg("login rejected: password mismatch")
		return AuthResult{}, invalidCredentials()
	}
	if !user.IsActive {
		return AuthResult{}, apperr.Forbidden(msgAccountDisabled)
	}

	now := s.now()
	if err := s.deps.Users.UpdateLastLogin(ctx, user.ID, now); err != nil {
		s.log.Warn().Err(err).Str("user_id", user.ID).Msg("update last login failed")
	}
	user.LastLoginAt = &now

	return s.issuePair(ctx, user, input.RememberMe, input.IPAddress)
}

// Logout revokes the refresh token and denylists the access token for the rest
// of its lifetime.
func (s *SessionService) Logout(ctx context.Context, accessToken, refreshToken string) error {
	if accessToken == "" || refreshToken == "" {
		return apperr.Validation(apperr.CodeValidation, "Access token and refresh token are required")
	}

	if err := s.deps.Refresh.Revoke(ctx, refreshToken); err != nil {
		return apperr.Internal(fmt.Errorf("revoke refresh token: %w", err))
	}

	ttl := s.deps.Tokens.Remaining(s.deps.Tokens.Decode(accessToken))
	if err := s.deps.Denylist.Revoke(ctx, accessToken, ttl); err != nil {
		s.log.Warn().Err(err).Bool("degraded", true).Msg("denylist access token failed")
	}
	return nil
}

// Refresh rotates refreshToken and mints a new access token with the user's
// current role. Presenting a token that was already rotated revokes the whole
// family when RevokeFamilyOnReuse is set.
func (s *SessionService) Refresh(ctx context.Context, refreshToken, ip string) (AuthResult, error) {
	if refreshToken == "" {
		return AuthResult{}, invalidRefresh()
	}

	valid, err := s.deps.Refresh.Validate(ctx, refreshToken)
	if err != nil {
		return AuthResult{}, apperr.Internal(err)
	}

	record, err := s.deps.Refresh.Lookup(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, repository.ErrRefreshTokenNotFound) {
			return AuthResult{}, invalidRefresh()
		}
		return AuthResult{}, apperr.Internal(err)
	}

	if !valid {
		if record.Rotated() {
			s.handleReuse(ctx, record)
		}
		return AuthResult{}, invalidRefresh()
	}

	user, err := s.deps.Users.GetByID(ctx, record.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return AuthResult{}, invalidRefresh()
		}
		return AuthResult{}, apperr.Internal(err)
	}
	if !user.IsActive {
		return AuthResult{}, invalidRefresh()
	}

	newToken, newRecord, err := s.deps.Refresh.Rotate(ctx, refreshToken, user.ID, ip)
	if err != nil {
		if errors.Is(err, repository.ErrRefreshTokenInvalid) {
			// Lost a race against a concurrent rotation of the same token.
			return AuthResult{}, invalidRefresh()
		}
		return AuthResult{}, apperr.Internal(err)
	}

	accessToken, accessExpires, err := s.deps.Tokens.Issue(user.ID, user.Email, user.Role)
	if err != nil {
		return AuthResult{}, apperr.Internal(err)
	}

	return AuthResult{
		User:             user,
		AccessToken:      accessToken,
		AccessExpiresAt:  accessExpires,
		RefreshToken:     newToken,
		RefreshExpiresAt: newRecord.ExpiresAt,
		RememberMe:       newRecord.RememberMe,
	}, nil
}

func (s *SessionService) handleReuse(ctx context.Context, record models.RefreshToken) {
	if record.RevokedAt != nil && s.now().Sub(*record.RevokedAt) < s.cfg.ReuseGrace {
		s.log.Debug().Str("user_id", record.UserID).Msg("refresh token presented again within the rotation grace")
		return
	}
	event := s.log.Warn().Str("user_id", record.UserID).Str("family_id", record.FamilyID)
	if !s.cfg.RevokeFamilyOnReuse {
		event.Msg("rotated refresh token presented again")
		return
	}
	n, err := s.deps.Refresh.RevokeFamily(ctx, record.FamilyID)
	if err != nil {
		event.Err(err).Msg("rotated refresh token presented again; family revocation failed")
		return
	}
	event.Int64("revoked", n).Msg("rotated refresh token presented again; family revoked")
}

func (s *SessionService) VerifyEmail(ctx context.Context, token string) (models.User, error) {
	if strings.TrimSpace(token) == "" {
		return models.User{}, apperr.Validation(apperr.CodeInvalidToken, msgInvalidVerification)
	}

	user, err := s.deps.Users.ConsumeVerificationToken(ctx, token)
	if err != nil {
		if errors.Is(err, repository.ErrVerificationTokenInvalid) {
			return models.User{}, apperr.Validation(apperr.CodeInvalidToken, msgInvalidVerification)
		}
		return models.User{}, apperr.Internal(err)
	}

	s.notify(ctx, user.ID, mail.KindWelcome, func(ctx context.Context) error {
		return s.deps.Mailer.SendWelcomeEmail(ctx, user.Email)
	})
	return user, nil
}

func (s *SessionService) ResendVerification(ctx context.Context, email string) error {
	user, err := s.deps.Users.FindByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return apperr.NotFound("User not found")
		}
		return apperr.Internal(err)
	}
	if user.EmailVerified {
		return apperr.Validation(apperr.CodeValidation, "Email is already verified")
	}

	token, err := security.RandomHex(verificationTokenBytes)
	if err != nil {
		return apperr.Internal(err)
	}
	if err := s.deps.Users.SetVerificationToken(ctx, user.ID, token, s.now().Add(s.cfg.VerificationTTL)); err != nil {
		return apperr.Internal(err)
	}

	s.notify(ctx, user.ID, mail.KindVerification, func(ctx context.Context) error {
		return s.deps.Mailer.SendVerificationEmail(ctx, user.Email, token)
	})
	return nil
}

// ForgotPassword never reports whether the email exists. Failures past input
// validation are logged only.
func (s *SessionService) ForgotPassword(ctx context.Context, email, ip string) error {
	email = NormalizeEmail(email)
	if email == "" {
		return apperr.Validation(apperr.CodeValidation, "Email is required")
	}

	user, err := s.deps.Users.FindByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, repository.ErrUserNotFound) {
			s.log.Error().Err(err).Msg("forgot password lookup failed")
		}
		return nil
	}

	raw, err := s.deps.ResetTokens.IssueResetToken(ctx, user.ID, ip)
	if err != nil {
		s.log.Error().Err(err).Str("user_id", user.ID).Msg("issue reset token failed")
		return nil
	}

	s.notify(ctx, user.ID, mail.KindPasswordReset, func(ctx context.Context) error {
		return s.deps.Mailer.SendPasswordResetEmail(ctx, user.Email, raw)
	})
	return nil
}

// ResetPassword consumes the reset token, replaces the password, revokes every
// refresh token of the user and logs them in with a fresh pair.
func (s *SessionService) ResetPassword(ctx context.Context, rawToken, newPassword, ip string) (AuthResult, error) {
	if err := s.deps.Policy.Check(newPassword); err != nil {
		return AuthResult{}, err
	}
	if rawToken == "" {
		return AuthResult{}, apperr.Validation(apperr.CodeInvalidToken, msgInvalidResetToken)
	}

	tokenHash := security.HashToken(rawToken)
	valid, err := s.deps.ResetTokens.IsValid(ctx, tokenHash)
	if err != nil {
		return AuthResult{}, apperr.Internal(err)
	}
	if !valid {
		return AuthResult{}, apperr.Validation(apperr.CodeInvalidToken, msgInvalidResetToken)
	}

	passwordHash, err := s.deps.Hasher.Hash(ctx, newPassword)
	if err != nil {
		return AuthResult{}, apperr.Internal(err)
	}

	userID, err := s.deps.ResetTokens.ConsumeAndSetPassword(ctx, tokenHash, passwordHash)
	if err != nil {
		if errors.Is(err, repository.ErrResetTokenInvalid) {
			return AuthResult{}, apperr.Validation(apperr.CodeInvalidToken, msgInvalidResetToken)
		}
		return AuthResult{}, apperr.Internal(err)
	}
	if n, err := s.deps.Refresh.RevokeAllForUser(ctx, userID); err != nil {
		return AuthResult{}, apperr.Internal(err)
	} else if n > 0 {
		s.log.Info().Str("user_id", userID).Int64("revoked", n).Msg("refresh tokens revoked after password reset")
	}

	user, err := s.deps.Users.GetByID(ctx, userID)
	if err != nil {
		return AuthResult{}, apperr.Internal(err)
	}

	s.notify(ctx, user.ID, mail.KindAccountUpdate, func(ctx context.Context) error {
		return s.deps.Mailer.SendAccountUpdateNotification(ctx, user.Email, passwordChangeNotice)
	})

	if !user.IsActive {
		return AuthResult{}, apperr.Forbidden(msgAccountDisabled)
	}
	return s.issuePair(ctx, user, false, ip)
}

func (s *SessionService) ChangePassword(ctx context.Context, userID, currentPassword, newPassword string) error {
	user, err := s.deps.Users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return apperr.NotFound("User not found")
		}
		return apperr.Internal(err)
	}
	if !user.HasPassword() {
		return apperr.Validation(apperr.CodeValidation, "This account has no password; use password reset instead")
	}

	ok, err := s.deps.Hasher.Verify(ctx, currentPassword, *user.PasswordHash)
	if err != nil {
		return apperr.Internal(err)
	}
	if !ok {
		return apperr.Unauthenticated(apperr.CodeInvalidCredentials, "Current password is incorrect")
	}
	if err := s.deps.Policy.Check(newPassword); err != nil {
		return err
	}
	if newPassword == currentPassword {
		return apperr.Validation(apperr.CodeValidation, "New password must differ from the current password")
	}

	passwordHash, err := s.deps.Hasher.Hash(ctx, newPassword)
	if err != nil {
		return apperr.Internal(err)
	}
	if err := s.deps.Users.UpdatePassword(ctx, user.ID, passwordHash); err != nil {
		return apperr.Internal(err)
	}

	s.notify(ctx, user.ID, mail.KindAccountUpdate, func(ctx context.Context) error {
		return s.deps.Mailer.SendAccountUpdateNotification(ctx, user.Email, passwordChangeNotice)
	})
	return nil
}

func (s *SessionService) CurrentUser(ctx context.Context, userID string) (models.User, error) {
	user, err := s.deps.Users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return models.User{}, apperr.NotFound("User not found")
		}
		return models.User{}, apperr.Internal(err)
	}
	return user, nil
}

func (s *SessionService) issuePair(ctx context.Context, user models.User, rememberMe bool, ip string) (AuthResult, error) {
	refreshToken, record, err := s.deps.Refresh.Create(ctx, user.ID, rememberMe, ip)
	if err != nil {
		return AuthResult{}, apperr.Internal(err)
	}
	accessToken, accessExpires, err := s.deps.Tokens.Issue(user.ID, user.Email, user.Role)
	if err != nil {
		return AuthResult{}, apperr.Internal(err)
	}
	return AuthResult{
		User:             user,
		AccessToken:      accessToken,
		AccessExpiresAt:  accessExpires,
		RefreshToken:     refreshToken,
		RefreshExpiresAt: record.ExpiresAt,
		RememberMe:       rememberMe,
	}, nil
}

// notify sends mail detached from the request so a client disconnect does not
// drop it. Failures are logged and swallowed.
func (s *SessionService) notify(ctx context.Context, userID string, kind mail.Kind, send func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notificationTimeout)
	defer cancel()
	if err := send(ctx); err != nil {
		s.log.Warn().Err(err).Str("user_id", userID).Str("mail", string(kind)).Msg("mail enqueue failed")
	}
}

func invalidCredentials() error {
	return apperr.Unauthenticated(apperr.CodeInvalidCredentials, msgInvalidCredentials)
}

func invalidRefresh() error {
	return apperr.Unauthenticated(apperr.CodeInvalidRefreshToken, msgInvalidRefreshToken)
}

func emailExists() error {
	return apperr.Conflict(apperr.CodeEmailExists, "Email already exists")
}
