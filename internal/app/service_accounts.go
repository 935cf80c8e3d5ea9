package app

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/blessing-molokwu/chatademy-sub000/internal/authpw"
	"github.com/blessing-molokwu/chatademy-sub000/internal/pagination"
	"github.com/blessing-molokwu/chatademy-sub000/internal/ratelimit"
	"github.com/blessing-molokwu/chatademy-sub000/internal/store"
)

// AuthResult is a signed-in account. DevToken carries the verification or
// reset token when no SMTP server is configured.
type AuthResult struct {
	Session  Session
	User     store.User
	DevToken string
}

// accountError turns authpw sentinels into API errors.
func accountError(err error) error {
	switch {
	case errors.Is(err, authpw.ErrEmailTaken):
		return domainError(http.StatusBadRequest, "DUPLICATE_VALUE", "An account with this email already exists")
	case errors.Is(err, authpw.ErrInvalidCredentials):
		return unauthenticated("Invalid email or password")
	case errors.Is(err, authpw.ErrInvalidToken):
		return badRequest("Invalid or expired token")
	case errors.Is(err, authpw.ErrWrongPassword):
		return badRequest("Current password is incorrect")
	case errors.Is(err, authpw.ErrWeakPassword):
		return validationError([]string{err.Error()})
	}
	return err
}

// LimitAuth counts one attempt of action from clientIP against the auth
// rate limit.
func (s *Service) LimitAuth(ctx context.Context, action, clientIP string) error {
	return ratelimit.Check(ctx, s.limiter, action+":"+clientIP)
}

func (s *Service) resetAuthLimit(ctx context.Context, action, clientIP string) {
	if err := s.limiter.Reset(ctx, action+":"+clientIP); err != nil {
		s.log.WithError(err).WithField("client_ip", clientIP).Warn("reset auth rate limit")
	}
}

func (s *Service) Register(ctx context.Context, req RegisterRequest) (AuthResult, error) {
	created, err := s.accounts.Register(ctx, authpw.RegisterRequest{
		Name:        req.Name,
		Email:       req.Email,
		Password:    req.Password,
		Institution: req.Institution,
	})
	if err != nil {
		return AuthResult{}, accountError(err)
	}

	sess, err := s.issueSession(ctx, created.User)
	if err != nil {
		return AuthResult{}, err
	}
	result := AuthResult{Session: sess, User: created.User}

	if s.SMTPConfigured() {
		link := s.link("/verify-email", "token", created.VerificationToken)
		if err := s.mailer.SendVerificationEmail(created.User.Email, created.User.Name, link); err != nil {
			s.log.WithError(err).WithField("user_id", created.User.ID).Warn("send verification email")
		}
	} else {
		result.DevToken = created.VerificationToken
	}
	return result, nil
}

// Login checks credentials and starts a session. A successful login clears
// the caller's failed attempts.
func (s *Service) Login(ctx context.Context, req LoginRequest, clientIP string) (AuthResult, error) {
	user, err := s.accounts.Login(ctx, req.Email, req.Password)
	if err != nil {
		return AuthResult{}, accountError(err)
	}
	sess, err := s.issueSession(ctx, user)
	if err != nil {
		return AuthResult{}, err
	}
	s.resetAuthLimit(ctx, "login", clientIP)
	return AuthResult{Session: sess, User: user}, nil
}

func (s *Service) Me(ctx context.Context, sess Session) (store.User, error) {
	user, err := s.store.GetUserByID(ctx, sess.UserID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.User{}, notFound("User")
	}
	return user, err
}

func (s *Service) UpdateProfile(ctx context.Context, sess Session, req ProfileRequest) (store.User, error) {
	user, err := s.Me(ctx, sess)
	if err != nil {
		return store.User{}, err
	}
	if req.Name != nil {
		user.Name = strings.TrimSpace(*req.Name)
	}
	if req.Institution != nil {
		user.Institution = strings.TrimSpace(*req.Institution)
	}
	if req.Bio != nil {
		user.Bio = strings.TrimSpace(*req.Bio)
	}
	if req.ResearchInterests != nil {
		user.ResearchInterests = cleanList(*req.ResearchInterests)
	}
	if err := s.store.UpdateUserProfile(ctx, user); err != nil {
		return store.User{}, err
	}
	return user, nil
}

func (s *Service) ChangePassword(ctx context.Context, sess Session, req ChangePasswordRequest) error {
	return accountError(s.accounts.ChangePassword(ctx, sess.UserID, req.CurrentPassword, req.NewPassword))
}

func (s *Service) VerifyEmail(ctx context.Context, token string) error {
	userID, err := s.accounts.VerifyEmail(ctx, token)
	if err != nil {
		return accountError(err)
	}
	s.log.WithField("user_id", userID).Info("email verified")
	return nil
}

// ForgotPassword starts a reset for email. Unknown addresses succeed
// silently. The returned token is only set when SMTP is unconfigured.
func (s *Service) ForgotPassword(ctx context.Context, email string) (string, error) {
	token, user, err := s.accounts.RequestPasswordReset(ctx, email)
	if err != nil {
		return "", err
	}
	if token == "" {
		return "", nil
	}
	if !s.SMTPConfigured() {
		return token, nil
	}
	if err := s.mailer.SendPasswordResetEmail(user.Email, user.Name, s.link("/reset-password", "token", token)); err != nil {
		s.log.WithError(err).WithField("user_id", user.ID).Warn("send password reset email")
	}
	return "", nil
}

func (s *Service) ResetPassword(ctx context.Context, req ResetPasswordRequest) error {
	return accountError(s.accounts.ResetPassword(ctx, req.Token, req.Password))
}

func (s *Service) GetUser(ctx context.Context, id string) (store.User, error) {
	user, err := s.store.GetUserByID(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return store.User{}, notFound("User")
	}
	return user, err
}

func (s *Service) ListUsers(ctx context.Context, searchText string, page pagination.Params) ([]store.User, int, error) {
	return s.store.ListUsers(ctx, store.UserFilter{
		Search: strings.TrimSpace(searchText),
		Limit:  page.Limit,
		Offset: page.Offset(),
	})
}

// link builds a frontend URL under AppBaseURL.
func (s *Service) link(path, key, value string) string {
	base := strings.TrimRight(s.cfg.AppBaseURL, "/")
	if key == "" {
		return base + path
	}
	return base + path + "?" + url.Values{key: {value}}.Encode()
}
