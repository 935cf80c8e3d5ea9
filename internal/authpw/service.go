// Package authpw provides email/password accounts with verification and
// password reset.
package authpw

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/blessing-molokwu/chatademy-sub000/internal/auth"
	"github.com/blessing-molokwu/chatademy-sub000/internal/store"
	"github.com/blessing-molokwu/chatademy-sub000/internal/util"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

const (
	MinPasswordLength = 8
	verificationTTL   = 24 * time.Hour
	passwordResetTTL  = time.Hour
	bcryptCost        = bcrypt.DefaultCost
)

var (
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrInvalidToken       = errors.New("invalid or expired token")
	ErrWrongPassword      = errors.New("current password is incorrect")
	ErrWeakPassword       = fmt.Errorf("password must be at least %d characters", MinPasswordLength)
)

// Service provides email/password authentication
type Service struct {
	store UserStore
	log   logrus.FieldLogger
}

// UserStore defines the storage interface for auth
type UserStore interface {
	GetUserByEmail(ctx context.Context, email string) (store.User, error)
	GetUserByID(ctx context.Context, id string) (store.User, error)
	CreateUser(ctx context.Context, user store.User) error
	SetVerificationToken(ctx context.Context, userID, tokenHash string, expiresAt time.Time) error
	VerifyUserEmail(ctx context.Context, tokenHash string) (string, error)
	UpdateUserPassword(ctx context.Context, userID, passwordHash string) error
	CreatePasswordReset(ctx context.Context, userID, tokenHash string, expiresAt time.Time) error
	GetPasswordReset(ctx context.Context, tokenHash string) (string, error)
	MarkPasswordResetUsed(ctx context.Context, tokenHash string) error
}

func NewService(store UserStore, log logrus.FieldLogger) *Service {
	return &Service{store: store, log: log}
}

type RegisterRequest struct {
	Name        string
	Email       string
	Password    string
	Institution string
}

// RegisterResult carries the new user and the plain verification token; only
// its hash is stored.
type RegisterResult struct {
	User              store.User
	VerificationToken string
}

// Register creates an unverified account. Emails are compared lower-cased.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*RegisterResult, error) {
	email := NormalizeEmail(req.Email)
	if email == "" || strings.TrimSpace(req.Name) == "" {
		return nil, errors.New("name and email are required")
	}
	if len(req.Password) < MinPasswordLength {
		return nil, ErrWeakPassword
	}

	if _, err := s.store.GetUserByEmail(ctx, email); err == nil {
		return nil, ErrEmailTaken
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("lookup email: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user := store.User{
		ID:                util.NewID("usr"),
		Name:              strings.TrimSpace(req.Name),
		Email:             email,
		PasswordHash:      string(hash),
		Institution:       strings.TrimSpace(req.Institution),
		ResearchInterests: []string{},
		Role:              "user",
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		if store.IsUniqueViolation(err) {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("create user: %w", err)
	}

	token := util.NewToken()
	if err := s.store.SetVerificationToken(ctx, user.ID, auth.HashToken(token), time.Now().Add(verificationTTL)); err != nil {
		return nil, fmt.Errorf("set verification token: %w", err)
	}

	return &RegisterResult{User: user, VerificationToken: token}, nil
}

// Login checks credentials. Unknown emails and wrong passwords produce the
// same error.
func (s *Service) Login(ctx context.Context, email, password string) (store.User, error) {
	if strings.TrimSpace(email) == "" || password == "" {
		return store.User{}, ErrInvalidCredentials
	}
	user, err := s.store.GetUserByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.User{}, ErrInvalidCredentials
		}
		return store.User{}, fmt.Errorf("lookup user: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return store.User{}, ErrInvalidCredentials
	}
	return user, nil
}

// VerifyEmail marks the account owning token as verified.
func (s *Service) VerifyEmail(ctx context.Context, token string) (string, error) {
	if strings.TrimSpace(token) == "" {
		return "", ErrInvalidToken
	}
	userID, err := s.store.VerifyUserEmail(ctx, auth.HashToken(token))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrInvalidToken
		}
		return "", fmt.Errorf("verify email: %w", err)
	}
	return userID, nil
}

// RequestPasswordReset returns a reset token and the account it belongs to.
// An unknown email yields an empty token and no error.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) (string, store.User, error) {
	user, err := s.store.GetUserByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", store.User{}, nil
		}
		return "", store.User{}, fmt.Errorf("lookup user: %w", err)
	}

	token := util.NewToken()
	if err := s.store.CreatePasswordReset(ctx, user.ID, auth.HashToken(token), time.Now().Add(passwordResetTTL)); err != nil {
		return "", store.User{}, err
	}
	return token, user, nil
}

// ResetPassword sets a new password using a reset token. Tokens are single
// use.
func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) error {
	if strings.TrimSpace(token) == "" {
		return ErrInvalidToken
	}
	if len(newPassword) < MinPasswordLength {
		return ErrWeakPassword
	}

	tokenHash := auth.HashToken(token)
	userID, err := s.store.GetPasswordReset(ctx, tokenHash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrInvalidToken
		}
		return fmt.Errorf("lookup reset token: %w", err)
	}

	if err := s.setPassword(ctx, userID, newPassword); err != nil {
		return err
	}

	if err := s.store.MarkPasswordResetUsed(ctx, tokenHash); err != nil {
		s.log.WithError(err).WithField("user_id", userID).Warn("mark password reset used")
	}
	return nil
}

// ChangePassword replaces the password of a signed-in user after checking
// the current one.
func (s *Service) ChangePassword(ctx context.Context, userID, currentPassword, newPassword string) error {
	if len(newPassword) < MinPasswordLength {
		return ErrWeakPassword
	}
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(currentPassword)); err != nil {
		return ErrWrongPassword
	}
	return s.setPassword(ctx, userID, newPassword)
}

func (s *Service) setPassword(ctx context.Context, userID, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := s.store.UpdateUserPassword(ctx, userID, string(hash)); err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return nil
}

func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
