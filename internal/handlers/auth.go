package handlers

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"todo-task/backend/internal/auth"

	"github.com/gin-gonic/gin"
)

// AccountService is the part of auth.Service the account endpoints need.
type AccountService interface {
	SignIn(ctx context.Context, email, password string) (*auth.Session, error)
	Register(ctx context.Context, email, password string) (*auth.Session, error)
	Refresh(ctx context.Context, refreshToken string) (*auth.Session, error)
	RevokeToken(ctx context.Context, refreshToken string) error
}

type AuthHandler struct {
	accounts AccountService
	logger   *log.Logger
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type RegisterRequest struct {
	Email           string `json:"email"`
	ConfirmEmail    string `json:"confirmEmail"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirmPassword"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

type LogoutRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

type TokenResponse struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	TokenType    string    `json:"token_type"`
	ExpiresIn    int64     `json:"expires_in"`
	ExpiresAt    time.Time `json:"expires_at"`
	UserID       string    `json:"user_id"`
	Email        string    `json:"email"`
}

func NewAuthHandler(accounts AccountService, logger *log.Logger) *AuthHandler {
	if logger == nil {
		logger = log.Default()
	}
	return &AuthHandler{accounts: accounts, logger: logger}
}

func tokenResponse(s *auth.Session) TokenResponse {
	expiresIn := int64(time.Until(s.ExpiresAt).Seconds())
	if expiresIn < 0 {
		expiresIn = 0
	}
	return TokenResponse{
		AccessToken:  s.AccessToken,
		RefreshToken: s.RefreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    expiresIn,
		ExpiresAt:    s.ExpiresAt,
		UserID:       s.UserID,
		Email:        s.Email,
	}
}

func authStatus(err error) (int, string) {
	switch {
	case errors.Is(err, auth.ErrMissingFields),
		errors.Is(err, auth.ErrEmailMismatch),
		errors.Is(err, auth.ErrPasswordMismatch),
		errors.Is(err, auth.ErrWeakPassword),
		errors.Is(err, auth.ErrInvalidEmail):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, auth.ErrInvalidCredentials):
		return http.StatusUnauthorized, "invalid_credentials"
	case errors.Is(err, auth.ErrInvalidToken):
		return http.StatusUnauthorized, "invalid_token"
	case errors.Is(err, auth.ErrEmailInUse):
		return http.StatusConflict, "email_in_use"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func (h *AuthHandler) writeError(c *gin.Context, err error) {
	status, code := authStatus(err)
	if status == http.StatusInternalServerError {
		h.logger.Printf("[api] auth request failed: %v", err)
	}
	c.JSON(status, gin.H{
		"error":   code,
		"message": auth.Message(err),
	})
}

func (h *AuthHandler) bind(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request format",
			"details": err.Error(),
		})
		return false
	}
	return true
}

// Token exchanges email and password for an access and refresh token pair.
func (h *AuthHandler) Token(c *gin.Context) {
	var req LoginRequest
	if !h.bind(c, &req) {
		return
	}
	if req.Email == "" || req.Password == "" {
		h.writeError(c, auth.ErrMissingFields)
		return
	}

	session, err := h.accounts.SignIn(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, tokenResponse(session))
}

// Register creates an account. The confirmation fields are checked when present.
func (h *AuthHandler) Register(c *gin.Context) {
	var req RegisterRequest
	if !h.bind(c, &req) {
		return
	}

	reg := auth.Registration{
		Email:           req.Email,
		ConfirmEmail:    req.ConfirmEmail,
		Password:        req.Password,
		ConfirmPassword: req.ConfirmPassword,
	}
	if reg.ConfirmEmail == "" {
		reg.ConfirmEmail = reg.Email
	}
	if reg.ConfirmPassword == "" {
		reg.ConfirmPassword = reg.Password
	}
	if err := reg.Validate(); err != nil {
		h.writeError(c, err)
		return
	}

	session, err := h.accounts.Register(c.Request.Context(), reg.Email, reg.Password)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, tokenResponse(session))
}

// Refresh trades a refresh token for a new pair. The old refresh token stops working.
func (h *AuthHandler) Refresh(c *gin.Context) {
	var req RefreshRequest
	if !h.bind(c, &req) {
		return
	}

	session, err := h.accounts.Refresh(c.Request.Context(), req.RefreshToken)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, tokenResponse(session))
}

func (h *AuthHandler) Logout(c *gin.Context) {
	var req LogoutRequest
	if !h.bind(c, &req) {
		return
	}

	// unknown tokens are already logged out
	if err := h.accounts.RevokeToken(c.Request.Context(), req.RefreshToken); err != nil && !errors.Is(err, auth.ErrInvalidToken) {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Successfully logged out",
	})
}
