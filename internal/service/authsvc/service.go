// Package authsvc registers users, verifies their email address and issues
// session tokens.
package authsvc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/geocoder89/wascheduler/internal/apperr"
	"github.com/geocoder89/wascheduler/internal/auth"
	"github.com/geocoder89/wascheduler/internal/domain/user"
	"github.com/geocoder89/wascheduler/internal/notifications"
	"github.com/geocoder89/wascheduler/internal/security"
)

const verifyPath = "/api/auth/verify/"

type UserStore interface {
	Create(ctx context.Context, email, passwordHash, verificationToken string) (user.User, error)
	GetByEmail(ctx context.Context, email string) (user.User, error)
	MarkVerified(ctx context.Context, email, token string) error
}

type Deps struct {
	Users     UserStore
	Tokens    *auth.Manager
	Passwords *security.Hasher
	Mailer    notifications.Notifier

	// PublicBaseURL prefixes verification links, without a trailing slash.
	PublicBaseURL string
	Log           *slog.Logger
}

type Service struct {
	users     UserStore
	tokens    *auth.Manager
	passwords *security.Hasher
	mailer    notifications.Notifier
	baseURL   string
	log       *slog.Logger
}

func New(d Deps) *Service {
	log := d.Log
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		users:     d.Users,
		tokens:    d.Tokens,
		passwords: d.Passwords,
		mailer:    d.Mailer,
		baseURL:   strings.TrimRight(d.PublicBaseURL, "/"),
		log:       log.With("component", "authsvc"),
	}
}

type Session struct {
	Token  string
	UserID int64
}

// Register creates an unverified account and mails its verification link.
// A mail failure is logged; the account stays and the call succeeds.
func (s *Service) Register(ctx context.Context, email, password, confirmPassword string) error {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return fmt.Errorf("%w: email and password are required", apperr.ErrValidation)
	}
	if password != confirmPassword {
		return fmt.Errorf("%w: passwords do not match", apperr.ErrValidation)
	}

	_, err := s.users.GetByEmail(ctx, email)
	switch {
	case err == nil:
		return fmt.Errorf("%w: user already exists", apperr.ErrConflict)
	case !errors.Is(err, user.ErrNotFound):
		return fmt.Errorf("%w: lookup user: %v", apperr.ErrInternal, err)
	}

	hash, err := s.passwords.Hash(password)
	if err != nil {
		if errors.Is(err, security.ErrPasswordTooLong) {
			return fmt.Errorf("%w: password must be at most %d bytes", apperr.ErrValidation, security.MaxPasswordBytes)
		}
		return fmt.Errorf("%w: hash password: %v", apperr.ErrInternal, err)
	}

	token, err := s.tokens.GenerateVerificationToken(email)
	if err != nil {
		return fmt.Errorf("%w: sign verification token: %v", apperr.ErrInternal, err)
	}

	u, err := s.users.Create(ctx, email, hash, token)
	if err != nil {
		if errors.Is(err, user.ErrEmailTaken) {
			return fmt.Errorf("%w: user already exists", apperr.ErrConflict)
		}
		return fmt.Errorf("%w: create user: %v", apperr.ErrInternal, err)
	}

	err = s.mailer.SendVerificationEmail(ctx, notifications.SendVerificationEmailInput{
		Email:     u.Email,
		VerifyURL: s.VerifyURL(token),
	})
	if err != nil {
		s.log.ErrorContext(ctx, "send verification email", "user_id", u.ID, "err", err)
	}

	s.log.InfoContext(ctx, "user registered", "user_id", u.ID)
	return nil
}

func (s *Service) VerifyURL(token string) string {
	return s.baseURL + verifyPath + token
}

// VerifyEmail consumes a verification token. Any token that is not the
// user's current one, including one already used, is ErrInvalidToken.
func (s *Service) VerifyEmail(ctx context.Context, token string) error {
	claims, err := s.tokens.VerifyVerificationToken(token)
	if err != nil {
		return fmt.Errorf("%w: %v", apperr.ErrInvalidToken, err)
	}

	err = s.users.MarkVerified(ctx, claims.Email, token)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return fmt.Errorf("%w: token not pending", apperr.ErrInvalidToken)
		}
		return fmt.Errorf("%w: mark verified: %v", apperr.ErrInternal, err)
	}

	s.log.InfoContext(ctx, "email verified", "email", claims.Email)
	return nil
}

// Login checks verification before the password, so an unverified account
// always gets ErrUnverified.
func (s *Service) Login(ctx context.Context, email, password string) (Session, error) {
	u, err := s.users.GetByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return Session{}, apperr.ErrInvalidCredentials
		}
		return Session{}, fmt.Errorf("%w: lookup user: %v", apperr.ErrInternal, err)
	}

	if !u.Verified {
		return Session{}, apperr.ErrUnverified
	}

	if err := s.passwords.Check(u.PasswordHash, password); err != nil {
		if !errors.Is(err, security.ErrMismatch) {
			s.log.ErrorContext(ctx, "unreadable password hash", "user_id", u.ID, "err", err)
		}
		return Session{}, apperr.ErrInvalidCredentials
	}

	token, err := s.tokens.GenerateSessionToken(u.ID)
	if err != nil {
		return Session{}, fmt.Errorf("%w: sign session token: %v", apperr.ErrInternal, err)
	}

	return Session{Token: token, UserID: u.ID}, nil
}

func (s *Service) ParseSession(token string) (int64, error) {
	claims, err := s.tokens.VerifySessionToken(token)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", apperr.ErrInvalidToken, err)
	}
	return claims.UserID, nil
}
