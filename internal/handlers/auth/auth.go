package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ChandlerPotter/go-auth/internal/middleware"
	"github.com/ChandlerPotter/go-auth/internal/models"
	"github.com/ChandlerPotter/go-auth/internal/session"
	"github.com/ChandlerPotter/go-auth/internal/stores"
	"github.com/ChandlerPotter/go-auth/internal/user"
)

const (
	RefreshTokenCookie = "refresh_token"
	refreshCookiePath  = "/auth"

	// Every refresh failure looks the same to the client.
	signInAgain = "please sign in again"
)

type RegisterRequest struct {
	Email       string `json:"email"        binding:"required,email"`
	Password    string `json:"password"     binding:"required"`
	DisplayName string `json:"display_name"`
}

type LoginRequest struct {
	Email    string `json:"email"    binding:"required"`
	Password string `json:"password" binding:"required"`
}

// RefreshRequest is optional on /auth/refresh and /auth/logout; the
// refresh_token cookie is used when the body carries no token.
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type TokenResponse struct {
	AccessToken           string    `json:"access_token"`
	TokenType             string    `json:"token_type"`
	ExpiresIn             int64     `json:"expires_in"`
	RefreshToken          string    `json:"refresh_token"`
	RefreshTokenExpiresAt time.Time `json:"refresh_token_expires_at"`
}

// SessionService is implemented by *session.Manager.
type SessionService interface {
	StartSession(ctx context.Context, u *models.User) (*session.TokenPair, error)
	Refresh(ctx context.Context, raw string) (*session.TokenPair, error)
	Revoke(ctx context.Context, raw string) error
	RevokeAll(ctx context.Context, userID uint) error
}

var _ SessionService = (*session.Manager)(nil)

type AuthHandler struct {
	UserStore     stores.UserStore
	Sessions      SessionService
	Hasher        user.PasswordHasher
	Logger        *zap.Logger
	SecureCookies bool
}

// NewAuthHandler constructs an AuthHandler.
func NewAuthHandler(
	userStore stores.UserStore,
	sessions SessionService,
	hasher user.PasswordHasher,
	logger *zap.Logger,
	secureCookies bool,
) *AuthHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthHandler{
		UserStore:     userStore,
		Sessions:      sessions,
		Hasher:        hasher,
		Logger:        logger,
		SecureCookies: secureCookies,
	}
}

// RegisterRoutes mounts the auth endpoints. requireAuth guards the routes
// that act on the signed-in user.
func (h *AuthHandler) RegisterRoutes(r gin.IRouter, requireAuth gin.HandlerFunc) {
	authGroup := r.Group("/auth")
	{
		authGroup.POST("/register", h.Register)
		authGroup.POST("/login", h.Login)
		authGroup.POST("/refresh", h.RefreshToken)
		authGroup.POST("/logout", h.Logout)
		authGroup.POST("/logout-all", requireAuth, h.LogoutAll)
	}

	protected := r.Group("/")
	protected.Use(requireAuth)
	{
		protected.GET("/me", h.GetCurrentUser)
	}
}

func (h *AuthHandler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := user.ValidatePassword(req.Password); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	hashedPassword, err := h.Hasher.Hash([]byte(req.Password))
	if err != nil {
		h.Logger.Error("hash password", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "error hashing password"})
		return
	}

	u := &models.User{
		Email:        req.Email,
		DisplayName:  req.DisplayName,
		PasswordHash: string(hashedPassword),
		RoleID:       models.ROLE_USER,
	}
	if err := h.UserStore.CreateUser(c.Request.Context(), u); err != nil {
		if errors.Is(err, stores.ErrEmailTaken) {
			c.JSON(http.StatusConflict, gin.H{"error": "email already registered"})
			return
		}
		h.Logger.Error("create user", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create user"})
		return
	}
	u.Role = models.Role{ID: models.ROLE_USER, Name: "user"}

	pair, err := h.Sessions.StartSession(c.Request.Context(), u)
	if err != nil {
		h.Logger.Error("start session after registration", zap.Uint("user_id", u.ID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not start session"})
		return
	}

	h.Logger.Info("user registered", zap.Uint("user_id", u.ID))
	h.writeTokens(c, http.StatusCreated, pair)
}

func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	u, err := h.UserStore.FindByEmail(c.Request.Context(), req.Email)
	if err != nil {
		if errors.Is(err, stores.ErrNotFound) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid email or password"})
			return
		}
		h.Logger.Error("find user for login", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "server error"})
		return
	}

	if err := h.Hasher.Compare([]byte(u.PasswordHash), []byte(req.Password)); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid email or password"})
		return
	}

	pair, err := h.Sessions.StartSession(c.Request.Context(), u)
	if err != nil {
		h.Logger.Error("start session", zap.Uint("user_id", u.ID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not start session"})
		return
	}

	h.writeTokens(c, http.StatusOK, pair)
}

func (h *AuthHandler) GetCurrentUser(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User ID not found in context"})
		return
	}

	u, err := h.UserStore.FindByID(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, stores.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
			return
		}
		h.Logger.Error("find current user", zap.Uint("user_id", userID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "server error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"id":           u.ID,
		"email":        u.Email,
		"display_name": u.DisplayName,
		"role":         u.RoleName(),
	})
}

func (h *AuthHandler) RefreshToken(c *gin.Context) {
	raw := h.presentedRefreshToken(c)

	pair, err := h.Sessions.Refresh(c.Request.Context(), raw)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrInvalidToken),
			errors.Is(err, session.ErrExpired),
			errors.Is(err, session.ErrReuseDetected):
			h.Logger.Debug("refresh rejected", zap.Error(err))
		default:
			h.Logger.Error("refresh failed", zap.Error(err))
		}
		h.clearCookies(c)
		c.JSON(http.StatusUnauthorized, gin.H{"error": signInAgain})
		return
	}

	h.writeTokens(c, http.StatusOK, pair)
}

func (h *AuthHandler) Logout(c *gin.Context) {
	raw := h.presentedRefreshToken(c)

	if err := h.Sessions.Revoke(c.Request.Context(), raw); err != nil {
		h.Logger.Error("logout", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Could not revoke refresh token"})
		return
	}

	h.clearCookies(c)
	c.JSON(http.StatusOK, gin.H{"message": "logout successful"})
}

func (h *AuthHandler) LogoutAll(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User ID not found in context"})
		return
	}

	if err := h.Sessions.RevokeAll(c.Request.Context(), userID); err != nil {
		h.Logger.Error("logout all", zap.Uint("user_id", userID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Could not revoke sessions"})
		return
	}

	h.clearCookies(c)
	c.JSON(http.StatusOK, gin.H{"message": "all sessions revoked"})
}

// presentedRefreshToken prefers the JSON body and falls back to the cookie.
func (h *AuthHandler) presentedRefreshToken(c *gin.Context) string {
	var req RefreshRequest
	if c.Request.ContentLength != 0 {
		_ = c.ShouldBindJSON(&req)
	}
	if req.RefreshToken != "" {
		return req.RefreshToken
	}
	raw, _ := c.Cookie(RefreshTokenCookie)
	return raw
}

func (h *AuthHandler) writeTokens(c *gin.Context, status int, pair *session.TokenPair) {
	accessTTL := time.Until(pair.AccessTokenExpiresAt)
	refreshTTL := time.Until(pair.RefreshTokenExpiresAt)

	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(middleware.AccessTokenCookie, pair.AccessToken, int(accessTTL.Seconds()), "/", "", h.SecureCookies, true)
	c.SetCookie(RefreshTokenCookie, pair.RefreshToken, int(refreshTTL.Seconds()), refreshCookiePath, "", h.SecureCookies, true)

	c.JSON(status, TokenResponse{
		AccessToken:           pair.AccessToken,
		TokenType:             "Bearer",
		ExpiresIn:             int64(accessTTL.Seconds()),
		RefreshToken:          pair.RefreshToken,
		RefreshTokenExpiresAt: pair.RefreshTokenExpiresAt,
	})
}

func (h *AuthHandler) clearCookies(c *gin.Context) {
	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(middleware.AccessTokenCookie, "", -1, "/", "", h.SecureCookies, true)
	c.SetCookie(RefreshTokenCookie, "", -1, refreshCookiePath, "", h.SecureCookies, true)
}
