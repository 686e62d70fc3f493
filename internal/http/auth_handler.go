package http

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"socialauth/internal/domain"
	"socialauth/internal/service"
)

// CookieConfig define la cookie de sesion.
type CookieConfig struct {
	Name   string
	Domain string
	Secure bool
}

// AuthHandler mantiene dependencias para los endpoints /auth.
type AuthHandler struct {
	logger *zap.Logger
	auth   *service.AuthService
	cookie CookieConfig
}

func NewAuthHandler(logger *zap.Logger, auth *service.AuthService, cookie CookieConfig) *AuthHandler {
	return &AuthHandler{
		logger: logger,
		auth:   auth,
		cookie: cookie,
	}
}

type channelRequest struct {
	Channel    string `json:"channel" binding:"required"`
	Identifier string `json:"identifier" binding:"required"`
}

type codeRequest struct {
	Channel    string `json:"channel" binding:"required"`
	Identifier string `json:"identifier" binding:"required"`
	Code       string `json:"code" binding:"required"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken" binding:"required"`
}

// Signup maneja POST /auth/signup.
func (h *AuthHandler) Signup(c *gin.Context) {
	var req struct {
		Channel     string `json:"channel" binding:"required"`
		Identifier  string `json:"identifier" binding:"required"`
		Password    string `json:"password"`
		DisplayName string `json:"displayName"`
		Username    string `json:"username"`
	}
	if !h.bind(c, &req) {
		return
	}

	challenge, err := h.auth.Signup(c.Request.Context(), service.SignupInput{
		Channel:     domain.Channel(req.Channel),
		Identifier:  req.Identifier,
		Password:    req.Password,
		DisplayName: req.DisplayName,
		Username:    req.Username,
	})
	if err != nil {
		h.respondError(c, "signup", err)
		return
	}
	c.JSON(http.StatusCreated, challenge)
}

// RequestOTP maneja POST /auth/request-otp.
func (h *AuthHandler) RequestOTP(c *gin.Context) {
	var req channelRequest
	if !h.bind(c, &req) {
		return
	}
	challenge, err := h.auth.RequestOTP(c.Request.Context(), domain.Channel(req.Channel), req.Identifier)
	if err != nil {
		h.respondError(c, "request otp", err)
		return
	}
	c.JSON(http.StatusOK, challenge)
}

// VerifyOTP maneja POST /auth/verify-otp.
func (h *AuthHandler) VerifyOTP(c *gin.Context) {
	var req codeRequest
	if !h.bind(c, &req) {
		return
	}
	res, err := h.auth.VerifyOTP(c.Request.Context(), domain.Channel(req.Channel), req.Identifier, req.Code)
	if err != nil {
		h.respondError(c, "verify otp", err)
		return
	}
	h.respondVerified(c, res)
}

// VerifySignup maneja POST /auth/verify.
func (h *AuthHandler) VerifySignup(c *gin.Context) {
	var req codeRequest
	if !h.bind(c, &req) {
		return
	}
	res, err := h.auth.VerifySignup(c.Request.Context(), domain.Channel(req.Channel), req.Identifier, req.Code)
	if err != nil {
		h.respondError(c, "verify signup", err)
		return
	}
	h.respondVerified(c, res)
}

func (h *AuthHandler) respondVerified(c *gin.Context, res service.VerifyResult) {
	body := gin.H{"ok": true}
	if res.VerificationToken != "" {
		body["verificationToken"] = res.VerificationToken
	}
	c.JSON(http.StatusOK, body)
}

// Login maneja POST /auth/login.
func (h *AuthHandler) Login(c *gin.Context) {
	var req struct {
		Identifier string `json:"identifier" binding:"required"`
		Password   string `json:"password" binding:"required"`
	}
	if !h.bind(c, &req) {
		return
	}

	result, err := h.auth.Login(c.Request.Context(), req.Identifier, req.Password)
	if err != nil {
		h.respondError(c, "login", err)
		return
	}
	if result.TwoFactorRequired {
		c.JSON(http.StatusOK, gin.H{
			"twoFactorRequired": true,
			"maskedDestination": result.Challenge.MaskedDestination,
			"expiresInSec":      result.Challenge.ExpiresInSec,
		})
		return
	}
	h.respondSession(c, *result.Session)
}

// CompleteLogin maneja POST /auth/login/verify.
func (h *AuthHandler) CompleteLogin(c *gin.Context) {
	var req codeRequest
	if !h.bind(c, &req) {
		return
	}
	session, err := h.auth.CompleteLogin(c.Request.Context(), domain.Channel(req.Channel), req.Identifier, req.Code)
	if err != nil {
		h.respondError(c, "complete login", err)
		return
	}
	h.respondSession(c, session)
}

func (h *AuthHandler) respondSession(c *gin.Context, session service.Session) {
	h.setSessionCookie(c, session.Token, session.ExpiresIn)
	c.JSON(http.StatusOK, gin.H{
		"token":        session.Token,
		"refreshToken": session.RefreshToken,
		"expiresIn":    session.ExpiresIn,
		"user":         session.User,
	})
}

// Refresh maneja POST /auth/refresh.
func (h *AuthHandler) Refresh(c *gin.Context) {
	var req refreshRequest
	if !h.bind(c, &req) {
		return
	}
	res, err := h.auth.Refresh(c.Request.Context(), req.RefreshToken)
	if err != nil {
		h.respondError(c, "refresh", err)
		return
	}
	h.setSessionCookie(c, res.Token, res.ExpiresIn)
	body := gin.H{"token": res.Token, "expiresIn": res.ExpiresIn}
	if res.RefreshToken != "" {
		body["refreshToken"] = res.RefreshToken
	}
	c.JSON(http.StatusOK, body)
}

// Logout maneja POST /auth/logout.
func (h *AuthHandler) Logout(c *gin.Context) {
	var req refreshRequest
	_ = c.ShouldBindJSON(&req)
	if err := h.auth.Logout(c.Request.Context(), req.RefreshToken); err != nil {
		h.respondError(c, "logout", err)
		return
	}
	h.clearSessionCookie(c)
	c.Status(http.StatusNoContent)
}

// Forgot maneja POST /auth/forgot.
func (h *AuthHandler) Forgot(c *gin.Context) {
	var req channelRequest
	if !h.bind(c, &req) {
		return
	}
	challenge, err := h.auth.Forgot(c.Request.Context(), domain.Channel(req.Channel), req.Identifier)
	if err != nil {
		h.respondError(c, "forgot", err)
		return
	}
	c.JSON(http.StatusOK, challenge)
}

// ResetPassword maneja POST /auth/reset-password.
func (h *AuthHandler) ResetPassword(c *gin.Context) {
	var req struct {
		Channel    string `json:"channel" binding:"required"`
		Identifier string `json:"identifier" binding:"required"`
		Code       string `json:"code" binding:"required"`
		Password   string `json:"password" binding:"required"`
	}
	if !h.bind(c, &req) {
		return
	}
	err := h.auth.ResetPassword(c.Request.Context(), domain.Channel(req.Channel), req.Identifier, req.Code, req.Password)
	if err != nil {
		h.respondError(c, "reset password", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// SetPassword maneja POST /auth/set-password.
func (h *AuthHandler) SetPassword(c *gin.Context) {
	var req struct {
		Channel           string `json:"channel" binding:"required"`
		Identifier        string `json:"identifier" binding:"required"`
		Password          string `json:"password" binding:"required"`
		VerificationToken string `json:"verificationToken"`
	}
	if !h.bind(c, &req) {
		return
	}
	user, err := h.auth.SetPassword(c.Request.Context(), domain.Channel(req.Channel), req.Identifier, req.Password, req.VerificationToken)
	if err != nil {
		h.respondError(c, "set password", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "user": user})
}

// CheckUsername maneja GET /auth/check-username?username=.
func (h *AuthHandler) CheckUsername(c *gin.Context) {
	available, err := h.auth.UsernameAvailable(c.Request.Context(), c.Query("username"))
	if err != nil {
		h.respondError(c, "check username", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"available": available})
}

// Me maneja GET /auth/me.
func (h *AuthHandler) Me(c *gin.Context) {
	claims, ok := GetAuthClaims(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}
	user, err := h.auth.Me(c.Request.Context(), claims.UserID)
	if err != nil {
		h.respondError(c, "me", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": user})
}

// UpdateProfile maneja PATCH /auth/me.
func (h *AuthHandler) UpdateProfile(c *gin.Context) {
	claims, ok := GetAuthClaims(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}
	var req struct {
		DisplayName string `json:"displayName"`
		Username    string `json:"username"`
		AvatarURL   string `json:"avatarUrl"`
	}
	if !h.bind(c, &req) {
		return
	}
	user, err := h.auth.UpdateProfile(c.Request.Context(), claims.UserID, service.ProfileInput{
		DisplayName: req.DisplayName,
		Username:    req.Username,
		AvatarURL:   req.AvatarURL,
	})
	if err != nil {
		h.respondError(c, "update profile", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": user})
}

func (h *AuthHandler) bind(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		h.logger.Warn("invalid request", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return false
	}
	return true
}

// respondError traduce errores de servicio a respuestas con mensajes uniformes.
func (h *AuthHandler) respondError(c *gin.Context, op string, err error) {
	switch {
	case errors.Is(err, service.ErrValidation), errors.Is(err, domain.ErrInvalidRecord):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": "already exists"})
	case errors.Is(err, service.ErrInvalidCredentials):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
	case errors.Is(err, service.ErrAccountNotVerified):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "account not verified"})
	case errors.Is(err, service.ErrOTPNotRequested),
		errors.Is(err, service.ErrOTPExpired),
		errors.Is(err, service.ErrOTPInvalid):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired code"})
	case errors.Is(err, service.ErrTokenInvalid):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
	case errors.Is(err, service.ErrRateLimited):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})
	default:
		h.logger.Error(op+" failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func (h *AuthHandler) setSessionCookie(c *gin.Context, token string, expiresIn int64) {
	if strings.TrimSpace(h.cookie.Name) == "" {
		return
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(h.cookie.Name, token, int(expiresIn), "/", h.cookie.Domain, h.cookie.Secure, true)
}

func (h *AuthHandler) clearSessionCookie(c *gin.Context) {
	if strings.TrimSpace(h.cookie.Name) == "" {
		return
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(h.cookie.Name, "", -1, "/", h.cookie.Domain, h.cookie.Secure, true)
}

