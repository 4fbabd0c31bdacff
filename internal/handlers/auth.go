package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"

	"leasehub/api/internal/apperr"
	"leasehub/api/internal/middleware"
	"leasehub/api/internal/models"
	"leasehub/api/internal/service"
)

const forgotPasswordMessage = "If an account exists for that email, a password reset link has been sent"

type userResponse struct {
	ID            string     `json:"id"`
	Email         string     `json:"email"`
	Role          string     `json:"role"`
	EmailVerified bool       `json:"emailVerified"`
	IsActive      bool       `json:"isActive"`
	LastLoginAt   *time.Time `json:"lastLoginAt,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
}

type authResponse struct {
	User             userResponse `json:"user"`
	AccessToken      string       `json:"accessToken"`
	AccessExpiresAt  time.Time    `json:"accessExpiresAt"`
	RefreshToken     string       `json:"refreshToken"`
	RefreshExpiresAt time.Time    `json:"refreshExpiresAt"`
	CSRFToken        string       `json:"csrfToken"`
}

type messageResponse struct {
	Message string `json:"message"`
}

func toUserResponse(user models.User) userResponse {
	return userResponse{
		ID:            user.ID,
		Email:         user.Email,
		Role:          string(user.Role),
		EmailVerified: user.EmailVerified,
		IsActive:      user.IsActive,
		LastLoginAt:   user.LastLoginAt,
		CreatedAt:     user.CreatedAt,
	}
}

// bind decodes the JSON body. The body may already have been read by a rate
// limit key function, so it always goes through ShouldBindBodyWith.
func bind(c *gin.Context, req any) bool {
	if err := c.ShouldBindBodyWith(req, binding.JSON); err != nil {
		middleware.AbortWithError(c, apperr.Validation(apperr.CodeValidation, "Invalid request body"))
		return false
	}
	return true
}

// sendAuthResponse writes the session cookies together with the JSON body.
func (h HandlerSet) sendAuthResponse(c *gin.Context, status int, result service.AuthResult) {
	csrfToken, err := h.csrf.Issue()
	if err != nil {
		middleware.AbortWithError(c, apperr.Internal(err))
		return
	}

	middleware.SetAuthCookies(c, h.cookies, middleware.AuthCookies{
		AccessToken:      result.AccessToken,
		AccessExpiresAt:  result.AccessExpiresAt,
		RefreshToken:     result.RefreshToken,
		RefreshExpiresAt: result.RefreshExpiresAt,
		CSRFToken:        csrfToken,
	})

	c.JSON(status, authResponse{
		User:             toUserResponse(result.User),
		AccessToken:      result.AccessToken,
		AccessExpiresAt:  result.AccessExpiresAt,
		RefreshToken:     result.RefreshToken,
		RefreshExpiresAt: result.RefreshExpiresAt,
		CSRFToken:        csrfToken,
	})
}

func (h HandlerSet) CSRFToken(c *gin.Context) {
	token, err := h.csrf.Issue()
	if err != nil {
		middleware.AbortWithError(c, apperr.Internal(err))
		return
	}
	middleware.SetCSRFCookie(c, h.cookies, token)
	c.JSON(http.StatusOK, gin.H{"csrfToken": token})
}

type signupRequest struct {
	Email     string `json:"email" binding:"required,email"`
	Password  string `json:"password" binding:"required"`
	Role      string `json:"role"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Phone     string `json:"phone"`
}

func (h HandlerSet) Signup(c *gin.Context) {
	var req signupRequest
	if !bind(c, &req) {
		return
	}

	result, err := h.sessions.Signup(c.Request.Context(), service.SignupInput{
		Email:     req.Email,
		Password:  req.Password,
		Role:      models.UserRole(req.Role),
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Phone:     req.Phone,
	}, c.ClientIP())
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}

	h.sendAuthResponse(c, http.StatusCreated, result)
}

type loginRequest struct {
	Email      string `json:"email" binding:"required"`
	Password   string `json:"password" binding:"required"`
	RememberMe bool   `json:"rememberMe"`
}

func (h HandlerSet) Login(c *gin.Context) {
	var req loginRequest
	if !bind(c, &req) {
		return
	}

	result, err := h.sessions.Login(c.Request.Context(), service.LoginInput{
		Email:      req.Email,
		Password:   req.Password,
		RememberMe: req.RememberMe,
		IPAddress:  c.ClientIP(),
	})
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}

	h.sendAuthResponse(c, http.StatusOK, result)
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// refreshTokenFrom prefers the cookie and falls back to the JSON body for
// clients that do not keep cookies.
func refreshTokenFrom(c *gin.Context) string {
	if token, err := c.Cookie(middleware.RefreshCookie); err == nil && token != "" {
		return token
	}
	var req refreshRequest
	if c.Request.ContentLength == 0 {
		return ""
	}
	if err := c.ShouldBindBodyWith(&req, binding.JSON); err != nil {
		return ""
	}
	return req.RefreshToken
}

func (h HandlerSet) Logout(c *gin.Context) {
	err := h.sessions.Logout(c.Request.Context(), middleware.ExtractAccessToken(c), refreshTokenFrom(c))
	middleware.ClearAuthCookies(c, h.cookies)
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, messageResponse{Message: "Logged out"})
}

func (h HandlerSet) Refresh(c *gin.Context) {
	result, err := h.sessions.Refresh(c.Request.Context(), refreshTokenFrom(c), c.ClientIP())
	if err != nil {
		if apperr.CodeOf(err) == apperr.CodeInvalidRefreshToken {
			middleware.ClearAuthCookies(c, h.cookies)
		}
		middleware.AbortWithError(c, err)
		return
	}

	h.sendAuthResponse(c, http.StatusOK, result)
}

type tokenRequest struct {
	Token string `json:"token" binding:"required"`
}

func (h HandlerSet) VerifyEmail(c *gin.Context) {
	var req tokenRequest
	if !bind(c, &req) {
		return
	}

	user, err := h.sessions.VerifyEmail(c.Request.Context(), req.Token)
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Email verified",
		"user":    toUserResponse(user),
	})
}

type emailRequest struct {
	Email string `json:"email" binding:"required"`
}

func (h HandlerSet) ResendVerification(c *gin.Context) {
	var req emailRequest
	if !bind(c, &req) {
		return
	}

	if err := h.sessions.ResendVerification(c.Request.Context(), req.Email); err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, messageResponse{Message: "Verification email sent"})
}

func (h HandlerSet) ForgotPassword(c *gin.Context) {
	var req emailRequest
	if !bind(c, &req) {
		return
	}

	if err := h.sessions.ForgotPassword(c.Request.Context(), req.Email, c.ClientIP()); err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, messageResponse{Message: forgotPasswordMessage})
}

type resetPasswordRequest struct {
	Token    string `json:"token" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (h HandlerSet) ResetPassword(c *gin.Context) {
	var req resetPasswordRequest
	if !bind(c, &req) {
		return
	}

	result, err := h.sessions.ResetPassword(c.Request.Context(), req.Token, req.Password, c.ClientIP())
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}

	h.sendAuthResponse(c, http.StatusOK, result)
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword" binding:"required"`
	NewPassword     string `json:"newPassword" binding:"required"`
}

func (h HandlerSet) ChangePassword(c *gin.Context) {
	identity, ok := middleware.CurrentIdentity(c)
	if !ok {
		middleware.AbortWithError(c, apperr.Unauthenticated(apperr.CodeUnauthorized, "Authentication required"))
		return
	}

	var req changePasswordRequest
	if !bind(c, &req) {
		return
	}

	if err := h.sessions.ChangePassword(c.Request.Context(), identity.UserID, req.CurrentPassword, req.NewPassword); err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, messageResponse{Message: "Password changed"})
}

func (h HandlerSet) Me(c *gin.Context) {
	identity, ok := middleware.CurrentIdentity(c)
	if !ok {
		middleware.AbortWithError(c, apperr.Unauthenticated(apperr.CodeUnauthorized, "Authentication required"))
		return
	}

	user, err := h.sessions.CurrentUser(c.Request.Context(), identity.UserID)
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"user": toUserResponse(user)})
}

// ListingAccess answers whether the caller may publish and manage listings.
// Only landlords and brokers reach it.
func (h HandlerSet) ListingAccess(c *gin.Context) {
	identity, _ := middleware.CurrentIdentity(c)
	c.JSON(http.StatusOK, gin.H{
		"userId":            identity.UserID,
		"role":              string(identity.Role),
		"canManageListings": true,
	})
}
