package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig(env string) AppConfig {
	return AppConfig{
		Environment: env,
		Security: SecurityConfig{
			JWTSecret:       "0123456789abcdef0123456789abcdef-prod",
			AccessTTL:       15 * time.Minute,
			RefreshTTL:      24 * time.Hour,
			RememberMeTTL:   720 * time.Hour,
			PasswordSymbols: "@$!%*?&",
		},
		RateLimit: RateLimitConfig{
			LoginIP:           LimitRule{Limit: 10, Window: 15 * time.Minute},
			LoginEmail:        LimitRule{Limit: 5, Window: 15 * time.Minute},
			PasswordReset:     LimitRule{Limit: 3, Window: time.Hour},
			EmailVerification: LimitRule{Limit: 3, Window: time.Hour},
		},
	}
}

func TestValidateProductionRequiresSecret(t *testing.T) {
	cfg := validConfig(EnvProduction)
	cfg.Security.JWTSecret = ""

	err := cfg.Validate()
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestValidateProductionRejectsShortSecret(t *testing.T) {
	cfg := validConfig(EnvProduction)
	cfg.Security.JWTSecret = "short"

	require.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
}

func TestValidateDevelopmentFallsBackToDevSecret(t *testing.T) {
	cfg := validConfig(EnvDevelopment)
	cfg.Security.JWTSecret = ""

	require.NoError(t, cfg.Validate())
	assert.Equal(t, devJWTSecret, cfg.Security.JWTSecret)
	assert.True(t, cfg.UsesDevelopmentSecret())
}

func TestValidateRejectsUnknownEnvironment(t *testing.T) {
	cfg := validConfig("prod")
	require.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
}

func TestValidateRejectsEmptyLimit(t *testing.T) {
	cfg := validConfig(EnvProduction)
	cfg.RateLimit.PasswordReset.Limit = 0

	require.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("LEASEHUB_ENVIRONMENT", "test")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 15*time.Minute, cfg.Security.AccessTTL)
	assert.Equal(t, 24*time.Hour, cfg.Security.RefreshTTL)
	assert.Equal(t, 720*time.Hour, cfg.Security.RememberMeTTL)
	assert.Equal(t, 10, cfg.Security.BcryptCost)
	assert.Equal(t, "@$!%*?&", cfg.Security.PasswordSymbols)
	assert.Equal(t, 5, cfg.RateLimit.LoginEmail.Limit)
	assert.Equal(t, time.Hour, cfg.RateLimit.EmailVerification.Window)
	assert.Equal(t, 10*time.Second, cfg.Security.ReuseGrace)
}

func TestLoadReadsNestedEnv(t *testing.T) {
	t.Setenv("LEASEHUB_ENVIRONMENT", EnvProduction)
	t.Setenv("LEASEHUB_SECURITY_JWTSECRET", "an-explicit-production-secret-of-enough-length")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "an-explicit-production-secret-of-enough-length", cfg.Security.JWTSecret)
	assert.True(t, cfg.IsProduction())
}

func TestValidateRejectsNegativeReuseGrace(t *testing.T) {
	cfg := validConfig(EnvProduction)
	cfg.Security.ReuseGrace = -time.Second

	require.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
}

func TestValidateWorkerIgnoresSecurity(t *testing.T) {
	cfg := validConfig(EnvProduction)
	cfg.Security = SecurityConfig{}
	cfg.Mail = MailConfig{Stream: "mail:outbox", Group: "mailers", SMTPHost: "smtp.example.com"}

	require.NoError(t, cfg.ValidateWorker())
	require.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
}

func TestValidateWorkerProductionRequiresSMTP(t *testing.T) {
	cfg := validConfig(EnvProduction)
	cfg.Mail = MailConfig{Stream: "mail:outbox", Group: "mailers"}
	require.ErrorIs(t, cfg.ValidateWorker(), ErrInvalidConfig)

	cfg.Environment = EnvDevelopment
	assert.NoError(t, cfg.ValidateWorker())
}

func TestLoadWorkerWithoutJWTSecret(t *testing.T) {
	t.Setenv("LEASEHUB_ENVIRONMENT", "staging")

	_, err := Load()
	require.ErrorIs(t, err, ErrInvalidConfig)

	cfg, err := LoadWorker()
	require.NoError(t, err)
	assert.Empty(t, cfg.Security.JWTSecret)
	assert.Equal(t, "mail:outbox", cfg.Mail.Stream)
}
