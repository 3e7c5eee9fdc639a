package identity

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

// VerificationCodeTTL is how long a one time code stays valid
var VerificationCodeTTL = time.Hour

// MaxVerificationAttempts is the ceiling before a new code is required
var MaxVerificationAttempts = 5

// ResendThrottleWindow is the minimum gap between code emails
var ResendThrottleWindow = 60 * time.Second

// VerificationManager drives registration and the inactive to active
// account transition
type VerificationManager struct {
	repo   RepositoryManager
	tokens TokenService
	mailer Mailer
	logger Logger
	now    func() time.Time
}

// NewVerificationManager returns a new VerificationManager
func NewVerificationManager(repo RepositoryManager, tokens TokenService, mailer Mailer) *VerificationManager {
	return &VerificationManager{
		repo:   repo,
		tokens: tokens,
		mailer: mailer,
		logger: defLogger{},
		now:    time.Now,
	}
}

func (m *VerificationManager) WithLogger(logger Logger) *VerificationManager {
	if logger != nil {
		m.logger = logger
	}
	return m
}

// WithClock overrides the time source, used by tests
func (m *VerificationManager) WithClock(now func() time.Time) *VerificationManager {
	if now != nil {
		m.now = now
	}
	return m
}

var _ Verifier = (*VerificationManager)(nil)

// Register creates an inactive account and emails its first verification code
func (m *VerificationManager) Register(ctx context.Context, input RegisterInput) (*User, error) {
	email := NormalizeEmail(input.Email)

	existing, err := m.repo.Users().FindByEmail(ctx, email)
	if err != nil && !isNotFound(err) {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to check for existing account")
	}
	if existing != nil {
		return nil, ErrEmailTaken
	}

	hash, err := HashPassword(input.Password)
	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return nil, richErr
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to hash password")
	}

	code, err := GenerateVerificationCode()
	if err != nil {
		return nil, err
	}

	now := m.now()
	expires := now.Add(VerificationCodeTTL)

	user := &User{
		Email:                   email,
		PasswordHash:            hash,
		FirstName:               input.FirstName,
		LastName:                input.LastName,
		Bio:                     input.Bio,
		Phone:                   input.Phone,
		IsActive:                true,
		Status:                  UserStatusInactive,
		VerificationCode:        &code,
		VerificationCodeExpires: &expires,
		LastOTPSentAt:           &now,
	}

	user, err = m.repo.Users().Create(ctx, user)
	if err != nil {
		// a concurrent registration can win the insert after our existence check
		if isUniqueViolation(err) {
			return nil, ErrEmailTaken
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "could not create user")
	}

	m.dispatchEmail("verification", func() error {
		return m.mailer.SendVerificationEmail(user.Email, user.FullName(), code)
	})

	return user, nil
}

// VerifyEmail consumes a one time code, activates the account, and opens
// the first session
func (m *VerificationManager) VerifyEmail(ctx context.Context, email, code string) (*AuthResult, error) {
	user, err := m.findByEmail(ctx, email)
	if err != nil {
		return nil, err
	}

	if user.IsVerified() {
		return nil, ErrAlreadyVerified
	}

	if user.VerificationAttempts >= MaxVerificationAttempts {
		// the ceiling also rejects a correct code, a new one must be requested
		return nil, ErrTooManyAttempts
	}

	if !m.codeMatches(user, code) {
		// NOTE: read-increment is not atomic across requests, concurrent
		// failures may undercount; the ceiling still holds eventually
		if err := m.repo.Users().IncrementVerificationAttempts(ctx, user.ID); err != nil {
			return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to track verification attempt")
		}
		return nil, ErrInvalidVerificationCode
	}

	user, err = m.repo.Users().MarkVerified(ctx, user.ID)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to activate account")
	}

	tokens, err := m.tokens.IssuePair(IdentityFromUser(user))
	if err != nil {
		return nil, err
	}

	if err := m.repo.Users().StoreRefreshToken(ctx, user.ID, &tokens.RefreshToken); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to store refresh token")
	}

	return &AuthResult{User: user, Tokens: tokens}, nil
}

// ResendVerification issues a fresh code, resetting the attempt counter
func (m *VerificationManager) ResendVerification(ctx context.Context, email string) error {
	user, err := m.findByEmail(ctx, email)
	if err != nil {
		return err
	}

	if user.IsVerified() {
		return ErrAlreadyVerified
	}

	now := m.now()
	if user.LastOTPSentAt != nil {
		if remaining := ThrottleRemaining(now, *user.LastOTPSentAt, ResendThrottleWindow); remaining > 0 {
			return throttledError(remaining)
		}
	}

	code, err := GenerateVerificationCode()
	if err != nil {
		return err
	}

	expires := now.Add(VerificationCodeTTL)
	if err := m.repo.Users().SetVerificationCode(ctx, user.ID, code, expires, now); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to store verification code")
	}

	m.dispatchEmail("verification", func() error {
		return m.mailer.SendVerificationEmail(user.Email, user.FullName(), code)
	})

	return nil
}

func (m *VerificationManager) findByEmail(ctx context.Context, email string) (*User, error) {
	user, err := m.repo.Users().FindByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		if isNotFound(err) {
			return nil, ErrAccountNotFound
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to retrieve account")
	}
	return user, nil
}

func (m *VerificationManager) codeMatches(user *User, code string) bool {
	if user.VerificationCode == nil || *user.VerificationCode != code {
		return false
	}

	if user.VerificationCodeExpires == nil || m.now().After(*user.VerificationCodeExpires) {
		return false
	}

	return true
}

// throttledError reports how long the caller has to wait without
// touching the shared sentinel
func throttledError(remaining time.Duration) error {
	clone := ErrResendThrottled.Clone()
	if clone == nil {
		return ErrResendThrottled
	}
	clone.Source = ErrResendThrottled
	return clone.WithMetadata(map[string]any{
		"retry_after_seconds": int(remaining.Round(time.Second).Seconds()),
	})
}

func (m *VerificationManager) dispatchEmail(kind string, send func() error) {
	go func() {
		if err := send(); err != nil {
			m.logger.Error("email dispatch failed", "email", kind, "error", err)
		}
	}()
}
