package identity_test

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"testing"

	identity "github.com/secureapp/go-identity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

// setupDatabase opens an in memory database and applies the embedded
// migrations in lexical order
func setupDatabase(t *testing.T) *bun.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	sqldb, err := sql.Open(sqliteshim.ShimName, dsn)
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)

	db := bun.NewDB(sqldb, sqlitedialect.New())
	t.Cleanup(func() { db.Close() })

	root := "data/sql/migrations"
	var files []string
	err = fs.WalkDir(identity.GetMigrationsFS(), root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(path, ".up.sql") {
			files = append(files, path)
		}
		return nil
	})
	require.NoError(t, err)
	sort.Strings(files)

	for _, file := range files {
		contents, err := fs.ReadFile(identity.GetMigrationsFS(), file)
		require.NoError(t, err)
		_, err = db.ExecContext(context.Background(), string(contents))
		require.NoError(t, err, "applying %s", file)
	}

	return db
}

type lifecycleFixture struct {
	repo     identity.RepositoryManager
	tokens   identity.TokenService
	mailer   *fakeMailer
	verifier *identity.VerificationManager
	sessions *identity.SessionManager
	resets   *identity.PasswordResetManager
}

func newLifecycleFixture(t *testing.T) *lifecycleFixture {
	t.Helper()

	db := setupDatabase(t)
	repo := identity.NewRepositoryManager(db)
	require.NoError(t, repo.Validate())

	tokens := identity.NewTokenService(defaultTokenConfig(), nil)
	mailer := newFakeMailer()

	activity := identity.NewLoginActivityTracker(repo, mailer)

	return &lifecycleFixture{
		repo:     repo,
		tokens:   tokens,
		mailer:   mailer,
		verifier: identity.NewVerificationManager(repo, tokens, mailer),
		sessions: identity.NewSessionManager(repo, tokens, mailer).WithActivityTracker(activity),
		resets:   identity.NewPasswordResetManager(repo, mailer),
	}
}

func TestAccountLifecycle(t *testing.T) {
	fx := newLifecycleFixture(t)
	ctx := context.Background()

	user, err := fx.verifier.Register(ctx, identity.RegisterInput{
		Email:     "Jane@Example.com",
		Password:  "str0ng password",
		FirstName: "Jane",
		LastName:  "Doe",
	})
	require.NoError(t, err)
	assert.Equal(t, "jane@example.com", user.Email)
	assert.Equal(t, identity.UserStatusInactive, user.Status)

	code := waitMail(t, fx.mailer.verification).Value
	require.Len(t, code, 6)

	// the same address cannot be claimed twice, regardless of casing
	_, err = fx.verifier.Register(ctx, identity.RegisterInput{
		Email:    "JANE@example.com",
		Password: "another password",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, identity.ErrEmailTaken)

	// login before verification is refused
	_, err = fx.sessions.Login(ctx, user.Email, "str0ng password", nil)
	assert.ErrorIs(t, err, identity.ErrAccountNotVerified)

	// a wrong code bumps the persisted attempt counter
	_, err = fx.verifier.VerifyEmail(ctx, user.Email, "000000")
	assert.ErrorIs(t, err, identity.ErrInvalidVerificationCode)

	stored, err := fx.repo.Users().FindByEmail(ctx, user.Email)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.VerificationAttempts)

	result, err := fx.verifier.VerifyEmail(ctx, user.Email, code)
	require.NoError(t, err)
	assert.Equal(t, identity.UserStatusActive, result.User.Status)
	assert.True(t, result.User.IsVerified())
	assert.NotEmpty(t, result.Tokens.AccessToken)
	assert.NotEmpty(t, result.Tokens.RefreshToken)

	// first login from a device the account has never seen raises the alert
	client := identity.ClientInfo{IP: "203.0.113.7", UserAgent: "cli/1.0"}
	auth, err := fx.sessions.Login(ctx, "jane@example.com", "str0ng password", &client)
	require.NoError(t, err)

	alert := waitMail(t, fx.mailer.alerts)
	assert.Equal(t, "jane@example.com", alert.To)

	notes, err := fx.repo.Notifications().ListByUser(ctx, result.User.ID, 10)
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Contains(t, notes[0].Message, "New login detected")

	// the same device again stays quiet
	_, err = fx.sessions.Login(ctx, "jane@example.com", "str0ng password", &client)
	require.NoError(t, err)
	assertNoMail(t, fx.mailer.alerts)

	events, err := fx.repo.LoginEvents().ListByUser(ctx, result.User.ID, 10)
	require.NoError(t, err)
	assert.Len(t, events, 2)

	// rotation consumes the presented token
	refreshed, err := fx.sessions.RefreshTokens(ctx, auth.Tokens.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, auth.Tokens.RefreshToken, refreshed.Tokens.RefreshToken)

	_, err = fx.sessions.RefreshTokens(ctx, auth.Tokens.RefreshToken)
	assert.ErrorIs(t, err, identity.ErrInvalidRefreshToken)

	userID := result.User.ID.String()
	require.NoError(t, fx.sessions.Logout(ctx, userID))
	require.NoError(t, fx.sessions.Logout(ctx, userID))

	_, err = fx.sessions.RefreshTokens(ctx, refreshed.Tokens.RefreshToken)
	assert.ErrorIs(t, err, identity.ErrInvalidRefreshToken)
}

func TestPasswordResetLifecycle(t *testing.T) {
	fx := newLifecycleFixture(t)
	ctx := context.Background()

	user, err := fx.verifier.Register(ctx, identity.RegisterInput{
		Email:    "sam@example.com",
		Password: "old password!",
	})
	require.NoError(t, err)

	code := waitMail(t, fx.mailer.verification).Value
	_, err = fx.verifier.VerifyEmail(ctx, user.Email, code)
	require.NoError(t, err)

	auth, err := fx.sessions.Login(ctx, user.Email, "old password!", nil)
	require.NoError(t, err)
	waitMail(t, fx.mailer.alerts)

	require.NoError(t, fx.resets.ForgotPassword(ctx, user.Email))

	raw := waitMail(t, fx.mailer.resets).Value
	require.Len(t, raw, 64)

	// only the digest is at rest
	stored, err := fx.repo.Users().FindByEmail(ctx, user.Email)
	require.NoError(t, err)
	require.NotNil(t, stored.ResetPasswordTokenHash)
	assert.Equal(t, identity.HashResetToken(raw), *stored.ResetPasswordTokenHash)

	require.NoError(t, fx.resets.ValidateResetToken(ctx, raw))
	require.NoError(t, fx.resets.ResetPassword(ctx, raw, "n3w password!"))
	waitMail(t, fx.mailer.profileUpdate)

	// consuming the token is single use and closes the open session
	err = fx.resets.ValidateResetToken(ctx, raw)
	assert.ErrorIs(t, err, identity.ErrInvalidResetToken)

	_, err = fx.sessions.RefreshTokens(ctx, auth.Tokens.RefreshToken)
	assert.ErrorIs(t, err, identity.ErrInvalidRefreshToken)

	_, err = fx.sessions.Login(ctx, user.Email, "old password!", nil)
	assert.ErrorIs(t, err, identity.ErrInvalidCredentials)

	relogin, err := fx.sessions.Login(ctx, user.Email, "n3w password!", nil)
	require.NoError(t, err)
	assert.NotEmpty(t, relogin.Tokens.AccessToken)
}
