// Package service holds the business rules between the HTTP handlers and
// the stores:
//
//	Handler (HTTP) → AuthService / ChatService → repositories, llm clients
//	                                           ↘ session.Reconciler
//
// Nothing in this package reads requests or writes responses.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/sakif/gemix-chat/internal/apperror"
	"github.com/sakif/gemix-chat/internal/auth"
	"github.com/sakif/gemix-chat/internal/model"
	"github.com/sakif/gemix-chat/internal/repository"
)

// MinPasswordLength is the shortest password accepted at sign-up and on
// password change.
const MinPasswordLength = 8

var emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// AuthService handles accounts: sign-up, sign-in, profile and password.
type AuthService struct {
	users     repository.UserRepository
	passwords *auth.PasswordService
	logger    *slog.Logger
}

// NewAuthService creates an AuthService with all required dependencies.
func NewAuthService(
	users repository.UserRepository,
	passwords *auth.PasswordService,
	logger *slog.Logger,
) *AuthService {
	return &AuthService{
		users:     users,
		passwords: passwords,
		logger:    logger.With(slog.String("component", "auth")),
	}
}

// SignUpInput is the sign-up form. First and last name are optional.
type SignUpInput struct {
	Username  string `json:"username"`
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

// SignUp validates the form, stores the account and returns it.
//
// Validation order: required fields, email shape, password length. A
// taken username or email comes back as apperror.ErrDuplicateUsername or
// apperror.ErrDuplicateEmail from the store.
func (s *AuthService) SignUp(ctx context.Context, in SignUpInput) (*model.User, error) {
	username := strings.TrimSpace(in.Username)
	email := strings.TrimSpace(in.Email)

	if username == "" || email == "" || in.Password == "" {
		return nil, apperror.ValidationFailed("", "Email, username and password are required.")
	}
	if !emailPattern.MatchString(email) {
		return nil, apperror.ValidationFailed("email", "Please enter a valid email address.")
	}
	if len(in.Password) < MinPasswordLength {
		return nil, apperror.ValidationFailed("password", "Password must be at least 8 characters long.")
	}

	digest, err := s.hash(in.Password)
	if err != nil {
		return nil, err
	}

	user := &model.User{
		Username:     username,
		Email:        email,
		PasswordHash: digest,
		FirstName:    strings.TrimSpace(in.FirstName),
		LastName:     strings.TrimSpace(in.LastName),
	}
	if _, err := s.users.Create(ctx, user); err != nil {
		return nil, err
	}

	s.logger.Info("user signed up",
		slog.Int64("userID", user.ID),
		slog.String("username", user.Username),
	)
	return user, nil
}

// SignIn checks credentials. identifier is a username or an email address.
//
// An unknown identifier and a wrong password both return
// apperror.InvalidCredentials, so a caller cannot tell which was wrong.
// A digest in an outdated format is upgraded on success; failing to
// upgrade is logged and does not fail the sign-in.
func (s *AuthService) SignIn(ctx context.Context, identifier, password string) (*model.User, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" || password == "" {
		return nil, apperror.InvalidCredentials()
	}

	user, err := s.lookup(ctx, identifier)
	if err != nil {
		return nil, err
	}
	if user == nil || !s.passwords.Verify(user.PasswordHash, password) {
		s.logger.Info("sign-in rejected", slog.String("identifier", identifier))
		return nil, apperror.InvalidCredentials()
	}

	if s.passwords.NeedsRehash(user.PasswordHash) {
		s.upgradeDigest(ctx, user, password)
	}

	s.logger.Info("user signed in", slog.Int64("userID", user.ID))
	return user, nil
}

// ChangePassword replaces the password after checking the current one.
func (s *AuthService) ChangePassword(ctx context.Context, userID int64, current, next, confirm string) error {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return err
	}

	switch {
	case !s.passwords.Verify(user.PasswordHash, current):
		return apperror.ValidationFailed("currentPassword", "Current password is incorrect.")
	case len(next) < MinPasswordLength:
		return apperror.ValidationFailed("newPassword", "New password must be at least 8 characters.")
	case next != confirm:
		return apperror.ValidationFailed("confirmPassword", "New passwords do not match.")
	case next == current:
		return apperror.ValidationFailed("newPassword", "New password must be different from current.")
	}

	digest, err := s.hash(next)
	if err != nil {
		return err
	}
	if err := s.users.UpdatePassword(ctx, userID, digest); err != nil {
		return err
	}

	s.logger.Info("password changed", slog.Int64("userID", userID))
	return nil
}

// UpdateProfile sets first and last name and returns the updated user.
// First name is required; last name may be cleared.
func (s *AuthService) UpdateProfile(ctx context.Context, userID int64, firstName, lastName string) (*model.User, error) {
	firstName = strings.TrimSpace(firstName)
	lastName = strings.TrimSpace(lastName)
	if firstName == "" {
		return nil, apperror.ValidationFailed("firstName", "First name is required.")
	}

	if err := s.users.UpdateProfile(ctx, userID, firstName, lastName); err != nil {
		return nil, err
	}
	return s.users.GetByID(ctx, userID)
}

// GetUser returns the user with the given id.
func (s *AuthService) GetUser(ctx context.Context, userID int64) (*model.User, error) {
	return s.users.GetByID(ctx, userID)
}

func (s *AuthService) lookup(ctx context.Context, identifier string) (*model.User, error) {
	if strings.Contains(identifier, "@") {
		user, err := s.users.GetByEmail(ctx, identifier)
		if err != nil || user != nil {
			return user, err
		}
	}
	return s.users.GetByUsername(ctx, identifier)
}

func (s *AuthService) hash(password string) (string, error) {
	digest, err := s.passwords.Hash(password)
	if errors.Is(err, auth.ErrPasswordTooLong) {
		return "", apperror.ValidationFailed("password", "Password must be 72 bytes or fewer.")
	}
	if err != nil {
		return "", fmt.Errorf("service/auth: %w", err)
	}
	return digest, nil
}

func (s *AuthService) upgradeDigest(ctx context.Context, user *model.User, password string) {
	digest, err := s.passwords.Hash(password)
	if err == nil {
		err = s.users.UpdatePassword(ctx, user.ID, digest)
	}
	if err != nil {
		s.logger.Warn("password digest upgrade failed",
			slog.Int64("userID", user.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	user.PasswordHash = digest
	s.logger.Info("password digest upgraded", slog.Int64("userID", user.ID))
}
