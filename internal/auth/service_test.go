package auth_test

import (
	"context"
	"testing"
	"time"

	"todo-task/backend/internal/auth"
	"todo-task/backend/internal/models"

	"github.com/gofrs/uuid"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/suite"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type ServiceTestSuite struct {
	suite.Suite
	db      *gorm.DB
	service *auth.Service
	ctx     context.Context
}

func newTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to get sql handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	if err := db.AutoMigrate(&models.User{}, &models.Token{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return db
}

func testConfig() auth.Config {
	return auth.Config{
		JWTSecret:       "test-secret",
		Issuer:          "todo-task",
		AccessTokenTTL:  time.Hour,
		RefreshTokenTTL: 24 * time.Hour,
		BCryptCost:      bcrypt.MinCost,
	}
}

func (suite *ServiceTestSuite) SetupTest() {
	suite.db = newTestDB(suite.T())
	suite.service = auth.NewService(suite.db, testConfig(), nil)
	suite.ctx = context.Background()
}

func (suite *ServiceTestSuite) TestRegisterCreatesSession() {
	session, err := suite.service.Register(suite.ctx, "  Alice@Example.com ", "secret1")
	suite.Require().NoError(err)

	suite.NotEmpty(session.UserID)
	suite.Equal("alice@example.com", session.Email)
	suite.NotEmpty(session.AccessToken)
	suite.NotEmpty(session.RefreshToken)

	var user models.User
	suite.Require().NoError(suite.db.Where("email = ?", "alice@example.com").First(&user).Error)
	suite.NotEqual("secret1", user.Password)
	suite.NoError(bcrypt.CompareHashAndPassword([]byte(user.Password), []byte("secret1")))
}

func (suite *ServiceTestSuite) TestRegisterValidation() {
	_, err := suite.service.Register(suite.ctx, "", "secret1")
	suite.ErrorIs(err, auth.ErrMissingFields)

	_, err = suite.service.Register(suite.ctx, "not-an-email", "secret1")
	suite.ErrorIs(err, auth.ErrInvalidEmail)

	_, err = suite.service.Register(suite.ctx, "bob@example.com", "123")
	suite.ErrorIs(err, auth.ErrWeakPassword)
}

func (suite *ServiceTestSuite) TestRegisterDuplicateEmail() {
	_, err := suite.service.Register(suite.ctx, "bob@example.com", "secret1")
	suite.Require().NoError(err)

	_, err = suite.service.Register(suite.ctx, "BOB@example.com", "secret2")
	suite.ErrorIs(err, auth.ErrEmailInUse)
}

func (suite *ServiceTestSuite) TestSignIn() {
	registered, err := suite.service.Register(suite.ctx, "carol@example.com", "secret1")
	suite.Require().NoError(err)

	session, err := suite.service.SignIn(suite.ctx, "Carol@example.com", "secret1")
	suite.Require().NoError(err)
	suite.Equal(registered.UserID, session.UserID)

	_, err = suite.service.SignIn(suite.ctx, "carol@example.com", "wrong")
	suite.ErrorIs(err, auth.ErrInvalidCredentials)

	_, err = suite.service.SignIn(suite.ctx, "nobody@example.com", "secret1")
	suite.ErrorIs(err, auth.ErrInvalidCredentials)

	_, err = suite.service.SignIn(suite.ctx, "carol@example.com", "")
	suite.ErrorIs(err, auth.ErrMissingFields)
}

func (suite *ServiceTestSuite) TestVerify() {
	session, err := suite.service.Register(suite.ctx, "dave@example.com", "secret1")
	suite.Require().NoError(err)

	claims, err := suite.service.Verify(session.AccessToken)
	suite.Require().NoError(err)
	suite.Equal(session.UserID, claims.UserID)
	suite.Equal("dave@example.com", claims.Email)

	_, err = suite.service.Verify("garbage")
	suite.ErrorIs(err, auth.ErrInvalidToken)

	other := auth.NewService(suite.db, auth.Config{JWTSecret: "other", Issuer: "todo-task"}, nil)
	_, err = other.Verify(session.AccessToken)
	suite.ErrorIs(err, auth.ErrInvalidToken)
}

func (suite *ServiceTestSuite) TestVerifyRejectsExpiredAndForeignIssuer() {
	sign := func(claims auth.Claims) string {
		s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
		suite.Require().NoError(err)
		return s
	}

	expired := sign(auth.Claims{
		UserID: "u1",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "todo-task",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	})
	_, err := suite.service.Verify(expired)
	suite.ErrorIs(err, auth.ErrInvalidToken)

	foreign := sign(auth.Claims{
		UserID: "u1",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "someone-else",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	_, err = suite.service.Verify(foreign)
	suite.ErrorIs(err, auth.ErrInvalidToken)
}

func (suite *ServiceTestSuite) TestRefreshRotatesToken() {
	session, err := suite.service.Register(suite.ctx, "erin@example.com", "secret1")
	suite.Require().NoError(err)

	refreshed, err := suite.service.Refresh(suite.ctx, session.RefreshToken)
	suite.Require().NoError(err)
	suite.Equal(session.UserID, refreshed.UserID)
	suite.NotEqual(session.RefreshToken, refreshed.RefreshToken)

	_, err = suite.service.Refresh(suite.ctx, session.RefreshToken)
	suite.ErrorIs(err, auth.ErrInvalidToken)

	_, err = suite.service.Refresh(suite.ctx, "not-a-uuid")
	suite.ErrorIs(err, auth.ErrInvalidToken)
}

func (suite *ServiceTestSuite) TestSignOutRevokesRefreshToken() {
	session, err := suite.service.Register(suite.ctx, "frank@example.com", "secret1")
	suite.Require().NoError(err)

	suite.Require().NoError(suite.service.SignOut(suite.ctx, session))
	_, err = suite.service.Refresh(suite.ctx, session.RefreshToken)
	suite.ErrorIs(err, auth.ErrInvalidToken)

	suite.NoError(suite.service.SignOut(suite.ctx, nil))
}

func (suite *ServiceTestSuite) TestPurgeExpiredTokens() {
	session, err := suite.service.Register(suite.ctx, "gina@example.com", "secret1")
	suite.Require().NoError(err)

	var user models.User
	suite.Require().NoError(suite.db.Where("email = ?", session.Email).First(&user).Error)
	expired := models.Token{
		ID:           mustUUID(),
		UserId:       user.ID,
		RefreshToken: mustUUID(),
		ExpiresAt:    time.Now().Add(-time.Hour),
	}
	suite.Require().NoError(suite.db.Create(&expired).Error)

	purged, err := suite.service.PurgeExpiredTokens(suite.ctx)
	suite.Require().NoError(err)
	suite.Equal(int64(1), purged)

	var remaining int64
	suite.db.Model(&models.Token{}).Count(&remaining)
	suite.Equal(int64(1), remaining)
}

func TestServiceTestSuite(t *testing.T) {
	suite.Run(t, new(ServiceTestSuite))
}

func TestMessage(t *testing.T) {
	tests := map[error]string{
		auth.ErrMissingFields:    "Please fill in all fields.",
		auth.ErrEmailMismatch:    "Emails do not match.",
		auth.ErrPasswordMismatch: "Passwords do not match.",
	}
	for err, expected := range tests {
		if got := auth.Message(err); got != expected {
			t.Errorf("Message(%v) = %q, want %q", err, got, expected)
		}
	}

	if auth.Message(nil) != "" {
		t.Error("Expected empty message for nil error")
	}
}

func mustUUID() uuid.UUID {
	return uuid.Must(uuid.NewV4())
}
