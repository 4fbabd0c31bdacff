package handlers

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"leasehub/api/internal/cache"
	"leasehub/api/internal/middleware"
	"leasehub/api/internal/models"
	"leasehub/api/internal/security"
	"leasehub/api/internal/service"
)

// Sessions is the subset of service.SessionService the HTTP layer calls.
type Sessions interface {
	Signup(ctx context.Context, input service.SignupInput, ip string) (service.AuthResult, error)
	Login(ctx context.Context, input service.LoginInput) (service.AuthResult, error)
	Logout(ctx context.Context, accessToken, refreshToken string) error
	Refresh(ctx context.Context, refreshToken, ip string) (service.AuthResult, error)
	VerifyEmail(ctx context.Context, token string) (models.User, error)
	ResendVerification(ctx context.Context, email string) error
	ForgotPassword(ctx context.Context, email, ip string) error
	ResetPassword(ctx context.Context, rawToken, newPassword, ip string) (service.AuthResult, error)
	ChangePassword(ctx context.Context, userID, currentPassword, newPassword string) error
	CurrentUser(ctx context.Context, userID string) (models.User, error)
}

// Pinger reports whether a backing store is reachable.
type Pinger func(ctx context.Context) error

type Deps struct {
	Log         zerolog.Logger
	Environment string
	Sessions    Sessions
	Gate        *middleware.Gate
	Limiter     middleware.Limiter
	Cookies     middleware.CookieSettings
	// CSRFExempt lists path prefixes skipped by the CSRF check.
	CSRFExempt []string
	Database   Pinger
	Cache      Pinger
}

type HandlerSet struct {
	log         zerolog.Logger
	environment string
	sessions    Sessions
	gate        *middleware.Gate
	limiter     middleware.Limiter
	cookies     middleware.CookieSettings
	csrf        security.CsrfGuard
	csrfExempt  []string
	database    Pinger
	cache       Pinger
}

func NewHandlerSet(deps Deps) HandlerSet {
	return HandlerSet{
		log:         deps.Log,
		environment: deps.Environment,
		sessions:    deps.Sessions,
		gate:        deps.Gate,
		limiter:     deps.Limiter,
		cookies:     deps.Cookies,
		csrf:        security.NewCsrfGuard(),
		csrfExempt:  deps.CSRFExempt,
		database:    deps.Database,
		cache:       deps.Cache,
	}
}

func (h HandlerSet) Register(router *gin.RouterGroup) {
	router.GET("/healthz", h.Health)

	v1 := router.Group("/v1")
	v1.Use(middleware.CSRF(h.csrf, h.csrfExempt...))
	{
		resetLimit := middleware.RateLimit(h.limiter, cache.PurposePasswordReset, middleware.ByEmailOrIP)
		verifyLimit := middleware.RateLimit(h.limiter, cache.PurposeEmailVerification, middleware.ByEmailOrIP)

		auth := v1.Group("/auth")
		auth.GET("/csrf-token", h.CSRFToken)
		auth.POST("/signup", h.Signup)
		auth.POST("/login", middleware.LoginRateLimit(h.limiter), h.Login)
		auth.POST("/logout", h.Logout)
		auth.POST("/refresh", h.Refresh)
		auth.POST("/verify-email", verifyLimit, h.VerifyEmail)
		auth.POST("/resend-verification", verifyLimit, h.ResendVerification)
		auth.POST("/forgot-password", resetLimit, h.ForgotPassword)
		auth.POST("/reset-password", resetLimit, h.ResetPassword)

		auth.GET("/me", h.gate.SilentRefresh(), h.gate.Authenticate(), h.Me)
		auth.POST("/change-password", h.gate.Authenticate(), h.ChangePassword)
		auth.GET("/me/listing-access",
			h.gate.Authenticate(),
			middleware.RequireRoles(models.UserRoleLandlord, models.UserRoleBroker),
			h.ListingAccess,
		)
	}
}
