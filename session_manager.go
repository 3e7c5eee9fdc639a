package identity

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// SessionManager handles credential login and the refresh token lifecycle
type SessionManager struct {
	repo     RepositoryManager
	tokens   TokenService
	activity ActivityTracker
	mailer   Mailer
	logger   Logger
	now      func() time.Time
}

// NewSessionManager returns a new SessionManager
func NewSessionManager(repo RepositoryManager, tokens TokenService, mailer Mailer) *SessionManager {
	return &SessionManager{
		repo:   repo,
		tokens: tokens,
		mailer: mailer,
		logger: defLogger{},
		now:    time.Now,
	}
}

func (s *SessionManager) WithLogger(logger Logger) *SessionManager {
	if logger != nil {
		s.logger = logger
	}
	return s
}

// WithActivityTracker wires the login anomaly detector
func (s *SessionManager) WithActivityTracker(tracker ActivityTracker) *SessionManager {
	s.activity = tracker
	return s
}

// WithClock overrides the time source, used by tests
func (s *SessionManager) WithClock(now func() time.Time) *SessionManager {
	if now != nil {
		s.now = now
	}
	return s
}

var _ SessionService = (*SessionManager)(nil)

// Login verifies credentials and opens a session, rotating any stored
// refresh token
func (s *SessionManager) Login(ctx context.Context, email, password string, client *ClientInfo) (*AuthResult, error) {
	user, err := s.repo.Users().FindByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		if isNotFound(err) {
			return nil, ErrAccountNotFound
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to retrieve account")
	}

	if err := s.ensureLoginable(user); err != nil {
		s.logger.Warn("login blocked", "user_id", user.ID.String(), "status", user.Status, "error", err)
		return nil, err
	}

	if err := ComparePasswordAndHash(password, user.PasswordHash); err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return nil, ErrInvalidCredentials
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to compare credentials")
	}

	tokens, err := s.tokens.IssuePair(IdentityFromUser(user))
	if err != nil {
		return nil, err
	}

	if err := s.repo.Users().StoreRefreshToken(ctx, user.ID, &tokens.RefreshToken); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to store refresh token")
	}

	if client == nil {
		// nothing to match history against, alert unconditionally
		s.dispatchEmail("login_alert", func() error {
			return s.mailer.SendLoginAlertEmail(user.Email, user.FullName(), "Unknown Device")
		})
	} else if s.activity != nil {
		// a failed write must not undo a successful credential check
		if err := s.activity.RecordLogin(ctx, user, *client); err != nil {
			s.logger.Error("failed to record login activity", "user_id", user.ID.String(), "error", err)
		}
	}

	return &AuthResult{User: user, Tokens: tokens}, nil
}

// RefreshTokens rotates the session pair. The presented token must pass
// signature and expiry checks AND byte match the stored value.
func (s *SessionManager) RefreshTokens(ctx context.Context, refreshToken string) (*AuthResult, error) {
	claims, err := s.tokens.VerifyRefresh(refreshToken)
	if err != nil {
		return nil, ErrInvalidRefreshToken
	}

	id, err := uuid.Parse(claims.UserID())
	if err != nil {
		return nil, ErrInvalidRefreshToken
	}

	user, err := s.repo.Users().GetByID(ctx, id.String())
	if err != nil {
		if isNotFound(err) {
			return nil, ErrInvalidRefreshToken
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to retrieve account")
	}

	if user.RefreshToken == nil || *user.RefreshToken != refreshToken {
		return nil, ErrInvalidRefreshToken
	}

	if err := s.ensureActive(user); err != nil {
		return nil, err
	}

	tokens, err := s.tokens.IssuePair(IdentityFromUser(user))
	if err != nil {
		return nil, err
	}

	rotated, err := s.repo.Users().RotateRefreshToken(ctx, user.ID, refreshToken, tokens.RefreshToken)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to rotate refresh token")
	}
	if !rotated {
		// a concurrent refresh already consumed this token
		return nil, ErrInvalidRefreshToken
	}

	return &AuthResult{User: user, Tokens: tokens}, nil
}

// Logout clears the stored refresh token. Calling it with no live
// session is a no op.
func (s *SessionManager) Logout(ctx context.Context, userID string) error {
	id, err := uuid.Parse(userID)
	if err != nil {
		return ErrAccountNotFound
	}

	if err := s.repo.Users().StoreRefreshToken(ctx, id, nil); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to clear refresh token")
	}

	return nil
}

// ChangePassword swaps credentials for an authenticated account. The
// stored refresh token survives, existing sessions stay alive.
func (s *SessionManager) ChangePassword(ctx context.Context, userID, currentPassword, newPassword string) error {
	user, err := s.repo.Users().GetByID(ctx, userID)
	if err != nil {
		if isNotFound(err) {
			return ErrAccountNotFound
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to retrieve account")
	}

	if err := ComparePasswordAndHash(currentPassword, user.PasswordHash); err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return goerrors.New("current password is incorrect", goerrors.CategoryValidation).
				WithTextCode(TextCodeInvalidCredentials).
				WithCode(goerrors.CodeBadRequest)
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to compare credentials")
	}

	hash, err := HashPassword(newPassword)
	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return richErr
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to hash password")
	}

	if err := s.repo.Users().UpdatePassword(ctx, user.ID, hash); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to update password")
	}

	s.dispatchEmail("profile_update", func() error {
		return s.mailer.SendProfileUpdateEmail(user.Email, user.FullName())
	})

	return nil
}

func (s *SessionManager) ensureLoginable(user *User) error {
	user.EnsureStatus()

	if !user.IsVerified() {
		// a pending code means the account never finished verification,
		// without one the account was deactivated
		if user.VerificationCode != nil {
			return ErrAccountNotVerified
		}
		return ErrAccountDeactivated
	}

	return s.ensureActive(user)
}

func (s *SessionManager) ensureActive(user *User) error {
	if !user.IsActive {
		return ErrAccountDeactivated
	}
	return nil
}

func (s *SessionManager) dispatchEmail(kind string, send func() error) {
	go func() {
		if err := send(); err != nil {
			s.logger.Error("email dispatch failed", "email", kind, "error", err)
		}
	}()
}
