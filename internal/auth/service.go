package auth

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/mail"
	"strings"
	"time"

	"todo-task/backend/internal/models"

	"github.com/gofrs/uuid"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const minPasswordLength = 6

// Session is a signed-in identity. A nil *Session means nobody is signed in.
type Session struct {
	UserID       string    `json:"user_id"`
	Email        string    `json:"email"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

func (s *Session) Expired(now time.Time) bool {
	return s != nil && !now.Before(s.ExpiresAt)
}

type Provider interface {
	SignIn(ctx context.Context, email, password string) (*Session, error)
	Register(ctx context.Context, email, password string) (*Session, error)
	SignOut(ctx context.Context, session *Session) error
	Refresh(ctx context.Context, refreshToken string) (*Session, error)
}

type Claims struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	jwt.RegisteredClaims
}

type Config struct {
	JWTSecret       string
	Issuer          string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	BCryptCost      int
}

// Service is the account backend: users and refresh tokens live in the database, access
// tokens are HS256 JWTs.
type Service struct {
	db     *gorm.DB
	config Config
	now    func() time.Time
	logger *log.Logger
}

func NewService(db *gorm.DB, config Config, logger *log.Logger) *Service {
	if config.AccessTokenTTL <= 0 {
		config.AccessTokenTTL = time.Hour
	}
	if config.RefreshTokenTTL <= 0 {
		config.RefreshTokenTTL = 7 * 24 * time.Hour
	}
	if config.BCryptCost == 0 {
		config.BCryptCost = bcrypt.DefaultCost
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Service{db: db, config: config, now: time.Now, logger: logger}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validEmail(email string) bool {
	addr, err := mail.ParseAddress(email)
	return err == nil && addr.Address == email && strings.Contains(email[strings.LastIndex(email, "@"):], ".")
}

func (s *Service) SignIn(ctx context.Context, email, password string) (*Session, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return nil, ErrMissingFields
	}

	db := s.db.WithContext(ctx)

	var user models.User
	if err := db.Where("email = ?", email).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("failed to load user: %w", err)
	}

	if bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)) != nil {
		return nil, ErrInvalidCredentials
	}

	now := s.now()
	if err := db.Model(&user).Update("last_login_at", now).Error; err != nil {
		s.logger.Printf("[auth] failed to record login for %s: %v", user.ID, err)
	}

	return s.issue(db, &user)
}

func (s *Service) Register(ctx context.Context, email, password string) (*Session, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return nil, ErrMissingFields
	}
	if !validEmail(email) {
		return nil, ErrInvalidEmail
	}
	if len(password) < minPasswordLength {
		return nil, ErrWeakPassword
	}

	db := s.db.WithContext(ctx)

	var existing models.User
	if err := db.Where("email = ?", email).First(&existing).Error; err == nil {
		return nil, ErrEmailInUse
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to check email: %w", err)
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), s.config.BCryptCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	now := s.now()
	user := models.User{
		ID:          uuid.Must(uuid.NewV4()),
		Email:       email,
		Password:    string(hashedPassword),
		LastLoginAt: &now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := db.Create(&user).Error; err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	return s.issue(db, &user)
}

func (s *Service) SignOut(ctx context.Context, session *Session) error {
	if session == nil || session.RefreshToken == "" {
		return nil
	}
	return s.RevokeToken(ctx, session.RefreshToken)
}

// RevokeToken deletes a refresh token. Unknown tokens are ignored.
func (s *Service) RevokeToken(ctx context.Context, refreshToken string) error {
	id, err := uuid.FromString(refreshToken)
	if err != nil {
		return nil
	}
	if err := s.db.WithContext(ctx).Where("refresh_token = ?", id).Delete(&models.Token{}).Error; err != nil {
		return fmt.Errorf("failed to revoke token: %w", err)
	}
	return nil
}

// Refresh exchanges a refresh token for a new session. The old refresh token is consumed.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*Session, error) {
	id, err := uuid.FromString(refreshToken)
	if err != nil {
		return nil, ErrInvalidToken
	}

	var session *Session
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var token models.Token
		if err := tx.Where("refresh_token = ? AND expires_at > ?", id, s.now()).First(&token).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrInvalidToken
			}
			return err
		}

		var user models.User
		if err := tx.First(&user, "id = ?", token.UserId).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrInvalidToken
			}
			return err
		}

		if err := tx.Delete(&token).Error; err != nil {
			return err
		}

		session, err = s.issue(tx, &user)
		return err
	})
	if err != nil {
		if errors.Is(err, ErrInvalidToken) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to refresh session: %w", err)
	}
	return session, nil
}

func (s *Service) issue(db *gorm.DB, user *models.User) (*Session, error) {
	now := s.now()
	expiresAt := now.Add(s.config.AccessTokenTTL)

	claims := Claims{
		UserID: user.ID.String(),
		Email:  user.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.config.Issuer,
			Subject:   user.ID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	accessToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.config.JWTSecret))
	if err != nil {
		return nil, fmt.Errorf("failed to sign access token: %w", err)
	}

	token := models.Token{
		ID:           uuid.Must(uuid.NewV4()),
		UserId:       user.ID,
		RefreshToken: uuid.Must(uuid.NewV4()),
		ExpiresAt:    now.Add(s.config.RefreshTokenTTL),
		CreatedAt:    now,
	}
	if err := db.Create(&token).Error; err != nil {
		return nil, fmt.Errorf("failed to store refresh token: %w", err)
	}

	return &Session{
		UserID:       user.ID.String(),
		Email:        user.Email,
		AccessToken:  accessToken,
		RefreshToken: token.RefreshToken.String(),
		ExpiresAt:    expiresAt,
	}, nil
}

// Verify checks an access token and returns its claims.
func (s *Service) Verify(accessToken string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	}
	if s.config.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.config.Issuer))
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(accessToken, claims, func(token *jwt.Token) (interface{}, error) {
		return []byte(s.config.JWTSecret), nil
	}, opts...)
	if err != nil || !token.Valid || claims.UserID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// PurgeExpiredTokens deletes refresh tokens that can no longer be exchanged.
func (s *Service) PurgeExpiredTokens(ctx context.Context) (int64, error) {
	result := s.db.WithContext(ctx).Where("expires_at <= ?", s.now()).Delete(&models.Token{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to purge tokens: %w", result.Error)
	}
	return result.RowsAffected, nil
}
