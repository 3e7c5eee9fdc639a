package identity_test

import (
	"context"
	"testing"
	"time"

	goerrors "github.com/goliatone/go-errors"
	repository "github.com/goliatone/go-repository-bun"
	identity "github.com/secureapp/go-identity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestForgotPasswordStoresDigestAndEmailsRawToken(t *testing.T) {
	repo := newTestRepoManager()
	mailer := newFakeMailer()
	user := newActiveUser()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	var digest string
	repo.users.On("FindByEmail", mock.Anything, user.Email).Return(user, nil).Once()
	repo.users.On("SaveResetToken", mock.Anything, user.ID, mock.AnythingOfType("string"),
		now.Add(identity.ResetTokenTTL)).
		Run(func(args mock.Arguments) {
			digest = args.String(2)
		}).
		Return(nil).Once()

	manager := identity.NewPasswordResetManager(repo, mailer).
		WithClock(func() time.Time { return now })

	err := manager.ForgotPassword(context.Background(), user.Email)
	require.NoError(t, err)

	msg := waitMail(t, mailer.resets)
	assert.Equal(t, user.Email, msg.To)
	// only the digest is at rest, the raw token travels in the email
	assert.Len(t, msg.Value, 64)
	assert.NotEqual(t, msg.Value, digest)
	assert.Equal(t, identity.HashResetToken(msg.Value), digest)

	repo.assertExpectations(t)
}

func TestForgotPasswordUnknownEmail(t *testing.T) {
	repo := newTestRepoManager()
	mailer := newFakeMailer()

	repo.users.On("FindByEmail", mock.Anything, "nobody@example.com").
		Return(nil, repository.NewRecordNotFound()).Once()

	manager := identity.NewPasswordResetManager(repo, mailer)

	err := manager.ForgotPassword(context.Background(), "nobody@example.com")
	require.Error(t, err)

	var richErr *goerrors.Error
	require.True(t, goerrors.As(err, &richErr))
	assert.Equal(t, goerrors.CodeBadRequest, richErr.Code)
	assert.Equal(t, identity.TextCodeAccountNotFound, richErr.TextCode)

	assertNoMail(t, mailer.resets)
	repo.assertExpectations(t)
}

func TestValidateResetToken(t *testing.T) {
	repo := newTestRepoManager()
	user := newActiveUser()

	raw := "a0b1c2d3e4f5a0b1c2d3e4f5a0b1c2d3e4f5a0b1c2d3e4f5a0b1c2d3e4f5a0b1"
	expires := time.Now().Add(30 * time.Minute)
	user.ResetPasswordExpires = &expires

	repo.users.On("FindByResetTokenHash", mock.Anything, identity.HashResetToken(raw)).
		Return(user, nil).Once()

	manager := identity.NewPasswordResetManager(repo, newFakeMailer())

	require.NoError(t, manager.ValidateResetToken(context.Background(), raw))
	repo.assertExpectations(t)
}

func TestValidateResetTokenUnknown(t *testing.T) {
	repo := newTestRepoManager()

	repo.users.On("FindByResetTokenHash", mock.Anything, mock.AnythingOfType("string")).
		Return(nil, repository.NewRecordNotFound()).Once()

	manager := identity.NewPasswordResetManager(repo, newFakeMailer())

	err := manager.ValidateResetToken(context.Background(), "deadbeef")
	require.Error(t, err)
	assert.ErrorIs(t, err, identity.ErrInvalidResetToken)
}

func TestValidateResetTokenEmpty(t *testing.T) {
	manager := identity.NewPasswordResetManager(newTestRepoManager(), newFakeMailer())

	err := manager.ValidateResetToken(context.Background(), "")
	require.Error(t, err)
	assert.ErrorIs(t, err, identity.ErrInvalidResetToken)
}

func TestValidateResetTokenExpired(t *testing.T) {
	repo := newTestRepoManager()
	user := newActiveUser()

	raw := "a0b1c2d3e4f5a0b1c2d3e4f5a0b1c2d3e4f5a0b1c2d3e4f5a0b1c2d3e4f5a0b1"
	expires := time.Now().Add(-time.Minute)
	user.ResetPasswordExpires = &expires

	repo.users.On("FindByResetTokenHash", mock.Anything, identity.HashResetToken(raw)).
		Return(user, nil).Once()

	manager := identity.NewPasswordResetManager(repo, newFakeMailer())

	err := manager.ValidateResetToken(context.Background(), raw)
	require.Error(t, err)
	assert.ErrorIs(t, err, identity.ErrInvalidResetToken)
	repo.assertExpectations(t)
}

func TestResetPasswordClearsRefreshToken(t *testing.T) {
	repo := newTestRepoManager()
	mailer := newFakeMailer()
	user := newActiveUser()

	raw := "a0b1c2d3e4f5a0b1c2d3e4f5a0b1c2d3e4f5a0b1c2d3e4f5a0b1c2d3e4f5a0b1"
	expires := time.Now().Add(30 * time.Minute)
	user.ResetPasswordExpires = &expires

	repo.users.On("FindByResetTokenHash", mock.Anything, identity.HashResetToken(raw)).
		Return(user, nil).Once()
	repo.users.On("UpdatePassword", mock.Anything, user.ID, mock.AnythingOfType("string")).
		Run(func(args mock.Arguments) {
			assert.NoError(t, identity.ComparePasswordAndHash("n3w password!", args.String(2)))
		}).
		Return(nil).Once()
	// recovery must close any open session
	repo.users.On("StoreRefreshToken", mock.Anything, user.ID, (*string)(nil)).Return(nil).Once()

	manager := identity.NewPasswordResetManager(repo, mailer)

	err := manager.ResetPassword(context.Background(), raw, "n3w password!")
	require.NoError(t, err)

	msg := waitMail(t, mailer.profileUpdate)
	assert.Equal(t, user.Email, msg.To)
	repo.assertExpectations(t)
}

func TestResetPasswordInvalidToken(t *testing.T) {
	repo := newTestRepoManager()

	repo.users.On("FindByResetTokenHash", mock.Anything, mock.AnythingOfType("string")).
		Return(nil, repository.NewRecordNotFound()).Once()

	manager := identity.NewPasswordResetManager(repo, newFakeMailer())

	err := manager.ResetPassword(context.Background(), "deadbeef", "n3w password!")
	require.Error(t, err)
	assert.ErrorIs(t, err, identity.ErrInvalidResetToken)

	repo.users.AssertNotCalled(t, "UpdatePassword", mock.Anything, mock.Anything, mock.Anything)
	repo.assertExpectations(t)
}
