package identity

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

// ResetTokenTTL is how long a password reset token stays valid
var ResetTokenTTL = time.Hour

// PasswordResetManager drives the forgot password flow. Only the SHA-256
// digest of a token is stored, the raw value lives in the reset email.
type PasswordResetManager struct {
	repo   RepositoryManager
	mailer Mailer
	logger Logger
	now    func() time.Time
}

// NewPasswordResetManager returns a new PasswordResetManager
func NewPasswordResetManager(repo RepositoryManager, mailer Mailer) *PasswordResetManager {
	return &PasswordResetManager{
		repo:   repo,
		mailer: mailer,
		logger: defLogger{},
		now:    time.Now,
	}
}

func (m *PasswordResetManager) WithLogger(logger Logger) *PasswordResetManager {
	if logger != nil {
		m.logger = logger
	}
	return m
}

// WithClock overrides the time source, used by tests
func (m *PasswordResetManager) WithClock(now func() time.Time) *PasswordResetManager {
	if now != nil {
		m.now = now
	}
	return m
}

var _ PasswordResetService = (*PasswordResetManager)(nil)

// ForgotPassword issues a reset token and emails the raw value.
// Unknown emails are rejected outright, the endpoint discloses account
// existence. The transport message stays neutral, callers wanting a
// non-enumerable surface should collapse the error to a generic accept.
func (m *PasswordResetManager) ForgotPassword(ctx context.Context, email string) error {
	user, err := m.repo.Users().FindByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		if isNotFound(err) {
			return goerrors.New("unable to process password reset request", goerrors.CategoryValidation).
				WithTextCode(TextCodeAccountNotFound).
				WithCode(goerrors.CodeBadRequest)
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to retrieve account")
	}

	raw, digest, err := NewResetToken()
	if err != nil {
		return err
	}

	expires := m.now().Add(ResetTokenTTL)
	if err := m.repo.Users().SaveResetToken(ctx, user.ID, digest, expires); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to store reset token")
	}

	m.dispatchEmail("password_reset", func() error {
		return m.mailer.SendPasswordResetEmail(user.Email, user.FullName(), raw)
	})

	return nil
}

// ValidateResetToken checks a token without consuming it, used by reset
// form preflight
func (m *PasswordResetManager) ValidateResetToken(ctx context.Context, token string) error {
	_, err := m.lookupByToken(ctx, token)
	return err
}

// ResetPassword consumes the token, stores the new credential, and
// invalidates the stored refresh token so open sessions cannot survive
// an account takeover recovery
func (m *PasswordResetManager) ResetPassword(ctx context.Context, token, newPassword string) error {
	user, err := m.lookupByToken(ctx, token)
	if err != nil {
		return err
	}

	hash, err := HashPassword(newPassword)
	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return richErr
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to hash password")
	}

	// clears the reset token columns in the same statement
	if err := m.repo.Users().UpdatePassword(ctx, user.ID, hash); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to update password")
	}

	if err := m.repo.Users().StoreRefreshToken(ctx, user.ID, nil); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to clear refresh token")
	}

	m.dispatchEmail("profile_update", func() error {
		return m.mailer.SendProfileUpdateEmail(user.Email, user.FullName())
	})

	return nil
}

func (m *PasswordResetManager) lookupByToken(ctx context.Context, token string) (*User, error) {
	if token == "" {
		return nil, ErrInvalidResetToken
	}

	user, err := m.repo.Users().FindByResetTokenHash(ctx, HashResetToken(token))
	if err != nil {
		if isNotFound(err) {
			return nil, ErrInvalidResetToken
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to retrieve reset token")
	}

	if user.ResetPasswordExpires == nil || m.now().After(*user.ResetPasswordExpires) {
		return nil, ErrInvalidResetToken
	}

	return user, nil
}

func (m *PasswordResetManager) dispatchEmail(kind string, send func() error) {
	go func() {
		if err := send(); err != nil {
			m.logger.Error("email dispatch failed", "email", kind, "error", err)
		}
	}()
}
