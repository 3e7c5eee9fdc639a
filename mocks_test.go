package identity_test

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	identity "github.com/secureapp/go-identity"
	"github.com/stretchr/testify/mock"
	"github.com/uptrace/bun"
)

// MockUsers implements identity.Users for the methods the managers touch.
// The embedded interface covers the rest of the repository surface.
type MockUsers struct {
	mock.Mock
	identity.Users
}

func (m *MockUsers) GetByID(ctx context.Context, id string, criteria ...repository.SelectCriteria) (*identity.User, error) {
	args := m.Called(ctx, id)
	user, _ := args.Get(0).(*identity.User)
	return user, args.Error(1)
}

func (m *MockUsers) FindByEmail(ctx context.Context, email string) (*identity.User, error) {
	args := m.Called(ctx, email)
	user, _ := args.Get(0).(*identity.User)
	return user, args.Error(1)
}

func (m *MockUsers) FindByResetTokenHash(ctx context.Context, digest string) (*identity.User, error) {
	args := m.Called(ctx, digest)
	user, _ := args.Get(0).(*identity.User)
	return user, args.Error(1)
}

func (m *MockUsers) Create(ctx context.Context, record *identity.User, criteria ...repository.InsertCriteria) (*identity.User, error) {
	args := m.Called(ctx, record)
	user, _ := args.Get(0).(*identity.User)
	if user == nil && args.Error(1) == nil {
		// echo the input, mirroring what the real repository returns
		user = record
	}
	return user, args.Error(1)
}

func (m *MockUsers) MarkVerified(ctx context.Context, id uuid.UUID) (*identity.User, error) {
	args := m.Called(ctx, id)
	user, _ := args.Get(0).(*identity.User)
	return user, args.Error(1)
}

func (m *MockUsers) SetVerificationCode(ctx context.Context, id uuid.UUID, code string, expires, sentAt time.Time) error {
	args := m.Called(ctx, id, code, expires, sentAt)
	return args.Error(0)
}

func (m *MockUsers) IncrementVerificationAttempts(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockUsers) StoreRefreshToken(ctx context.Context, id uuid.UUID, token *string) error {
	args := m.Called(ctx, id, token)
	return args.Error(0)
}

func (m *MockUsers) RotateRefreshToken(ctx context.Context, id uuid.UUID, current, next string) (bool, error) {
	args := m.Called(ctx, id, current, next)
	return args.Bool(0), args.Error(1)
}

func (m *MockUsers) SaveResetToken(ctx context.Context, id uuid.UUID, digest string, expires time.Time) error {
	args := m.Called(ctx, id, digest, expires)
	return args.Error(0)
}

func (m *MockUsers) UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string) error {
	args := m.Called(ctx, id, passwordHash)
	return args.Error(0)
}

// MockLoginEvents implements identity.LoginEvents
type MockLoginEvents struct {
	mock.Mock
	identity.LoginEvents
}

func (m *MockLoginEvents) Append(ctx context.Context, event *identity.LoginEvent) (*identity.LoginEvent, error) {
	args := m.Called(ctx, event)
	saved, _ := args.Get(0).(*identity.LoginEvent)
	return saved, args.Error(1)
}

func (m *MockLoginEvents) Exists(ctx context.Context, query identity.LoginEventQuery) (bool, error) {
	args := m.Called(ctx, query)
	return args.Bool(0), args.Error(1)
}

func (m *MockLoginEvents) ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]*identity.LoginEvent, error) {
	args := m.Called(ctx, userID, limit)
	events, _ := args.Get(0).([]*identity.LoginEvent)
	return events, args.Error(1)
}

// MockNotifications implements identity.Notifications
type MockNotifications struct {
	mock.Mock
	identity.Notifications
}

func (m *MockNotifications) Create(ctx context.Context, record *identity.Notification, criteria ...repository.InsertCriteria) (*identity.Notification, error) {
	args := m.Called(ctx, record)
	saved, _ := args.Get(0).(*identity.Notification)
	return saved, args.Error(1)
}

func (m *MockNotifications) ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]*identity.Notification, error) {
	args := m.Called(ctx, userID, limit)
	records, _ := args.Get(0).([]*identity.Notification)
	return records, args.Error(1)
}

func (m *MockNotifications) MarkRead(ctx context.Context, userID, id uuid.UUID) (bool, error) {
	args := m.Called(ctx, userID, id)
	return args.Bool(0), args.Error(1)
}

// testRepoManager wires the mocked repositories behind the
// identity.RepositoryManager interface
type testRepoManager struct {
	users         *MockUsers
	loginEvents   *MockLoginEvents
	notifications *MockNotifications
}

func newTestRepoManager() *testRepoManager {
	return &testRepoManager{
		users:         &MockUsers{},
		loginEvents:   &MockLoginEvents{},
		notifications: &MockNotifications{},
	}
}

func (r *testRepoManager) Validate() error { return nil }
func (r *testRepoManager) MustValidate()   {}

func (r *testRepoManager) RunInTx(ctx context.Context, opts *sql.TxOptions, f func(ctx context.Context, tx bun.Tx) error) error {
	return f(ctx, bun.Tx{})
}

func (r *testRepoManager) Users() identity.Users                 { return r.users }
func (r *testRepoManager) LoginEvents() identity.LoginEvents     { return r.loginEvents }
func (r *testRepoManager) Notifications() identity.Notifications { return r.notifications }

func (r *testRepoManager) assertExpectations(t *testing.T) {
	t.Helper()
	r.users.AssertExpectations(t)
	r.loginEvents.AssertExpectations(t)
	r.notifications.AssertExpectations(t)
}

// MockTokenService implements identity.TokenService
type MockTokenService struct {
	mock.Mock
}

func (m *MockTokenService) IssuePair(id identity.Identity) (identity.TokenPair, error) {
	args := m.Called(id)
	pair, _ := args.Get(0).(identity.TokenPair)
	return pair, args.Error(1)
}

func (m *MockTokenService) SignAccess(id identity.Identity) (string, error) {
	args := m.Called(id)
	return args.String(0), args.Error(1)
}

func (m *MockTokenService) SignRefresh(id identity.Identity) (string, error) {
	args := m.Called(id)
	return args.String(0), args.Error(1)
}

func (m *MockTokenService) VerifyAccess(token string) (identity.AuthClaims, error) {
	args := m.Called(token)
	claims, _ := args.Get(0).(identity.AuthClaims)
	return claims, args.Error(1)
}

func (m *MockTokenService) VerifyRefresh(token string) (identity.AuthClaims, error) {
	args := m.Called(token)
	claims, _ := args.Get(0).(identity.AuthClaims)
	return claims, args.Error(1)
}

type sentMail struct {
	To    string
	Name  string
	Value string
}

// fakeMailer records deliveries behind channels so tests can wait for
// the fire and forget sends
type fakeMailer struct {
	mu  sync.Mutex
	err error

	verification  chan sentMail
	resets        chan sentMail
	alerts        chan sentMail
	profileUpdate chan sentMail
}

func newFakeMailer() *fakeMailer {
	return &fakeMailer{
		verification:  make(chan sentMail, 8),
		resets:        make(chan sentMail, 8),
		alerts:        make(chan sentMail, 8),
		profileUpdate: make(chan sentMail, 8),
	}
}

func (f *fakeMailer) failWith(err error) *fakeMailer {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
	return f
}

func (f *fakeMailer) fail() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

func (f *fakeMailer) SendVerificationEmail(to, name, code string) error {
	f.verification <- sentMail{To: to, Name: name, Value: code}
	return f.fail()
}

func (f *fakeMailer) SendPasswordResetEmail(to, name, token string) error {
	f.resets <- sentMail{To: to, Name: name, Value: token}
	return f.fail()
}

func (f *fakeMailer) SendLoginAlertEmail(to, name, device string) error {
	f.alerts <- sentMail{To: to, Name: name, Value: device}
	return f.fail()
}

func (f *fakeMailer) SendProfileUpdateEmail(to, name string) error {
	f.profileUpdate <- sentMail{To: to, Name: name}
	return f.fail()
}

func waitMail(t *testing.T, ch chan sentMail) sentMail {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for email dispatch")
		return sentMail{}
	}
}

func assertNoMail(t *testing.T, ch chan sentMail) {
	t.Helper()
	select {
	case msg := <-ch:
		t.Fatalf("unexpected email dispatch: %+v", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

// testTokenConfig satisfies identity.TokenConfig
type testTokenConfig struct {
	accessKey  string
	refreshKey string
	accessTTL  time.Duration
	refreshTTL time.Duration
	issuer     string
}

func (c testTokenConfig) GetAccessSigningKey() string       { return c.accessKey }
func (c testTokenConfig) GetRefreshSigningKey() string      { return c.refreshKey }
func (c testTokenConfig) GetAccessTokenTTL() time.Duration  { return c.accessTTL }
func (c testTokenConfig) GetRefreshTokenTTL() time.Duration { return c.refreshTTL }
func (c testTokenConfig) GetIssuer() string                 { return c.issuer }

func defaultTokenConfig() testTokenConfig {
	return testTokenConfig{
		accessKey:  "access-secret",
		refreshKey: "refresh-secret",
		accessTTL:  15 * time.Minute,
		refreshTTL: 7 * 24 * time.Hour,
		issuer:     "identity-test",
	}
}

func newActiveUser() *identity.User {
	hash, _ := identity.HashPassword("correct horse battery")
	return &identity.User{
		ID:           uuid.New(),
		Email:        "user@example.com",
		FirstName:    "Jane",
		LastName:     "Doe",
		Role:         identity.RoleUser,
		Status:       identity.UserStatusActive,
		IsActive:     true,
		PasswordHash: hash,
	}
}
