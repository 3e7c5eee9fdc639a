package identity

import (
	"context"
	"fmt"
	"time"
)

// Logger is the minimal structured logger the package depends on.
// Messages take slog style key value pairs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// LoggerProvider hands out named loggers, matching goliatone/go-logger
type LoggerProvider interface {
	GetLogger(name string) Logger
}

// ResolveLogger picks the named logger from the provider when available,
// otherwise the explicit logger, otherwise the default
func ResolveLogger(name string, provider LoggerProvider, logger Logger) (LoggerProvider, Logger) {
	if provider != nil {
		if l := provider.GetLogger(name); l != nil {
			return provider, l
		}
	}

	if logger == nil {
		logger = defLogger{}
	}

	return singleLoggerProvider{logger: logger}, logger
}

type singleLoggerProvider struct {
	logger Logger
}

func (p singleLoggerProvider) GetLogger(string) Logger {
	return p.logger
}

// Identity holds the attributes of an authenticated account
type Identity interface {
	ID() string
	Email() string
	Role() string
}

// TokenConfig holds the token signing options
type TokenConfig interface {
	GetAccessSigningKey() string
	GetRefreshSigningKey() string
	GetAccessTokenTTL() time.Duration
	GetRefreshTokenTTL() time.Duration
	GetIssuer() string
}

// TokenService signs and verifies the session token pair
type TokenService interface {
	IssuePair(identity Identity) (TokenPair, error)
	SignAccess(identity Identity) (string, error)
	SignRefresh(identity Identity) (string, error)
	VerifyAccess(token string) (AuthClaims, error)
	VerifyRefresh(token string) (AuthClaims, error)
}

// Mailer delivers transactional account email
type Mailer interface {
	SendVerificationEmail(to, name, code string) error
	SendPasswordResetEmail(to, name, token string) error
	SendLoginAlertEmail(to, name, device string) error
	SendProfileUpdateEmail(to, name string) error
}

// ClientInfo identifies the device behind a login request
type ClientInfo struct {
	IP        string
	UserAgent string
}

// Device formats the client pair for alert messages
func (c ClientInfo) Device() string {
	return c.UserAgent + " (IP: " + c.IP + ")"
}

// AuthResult is returned by operations that establish a session
type AuthResult struct {
	User   *User
	Tokens TokenPair
}

// RegisterInput is the payload to create a new account
type RegisterInput struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
	Bio       string
	Phone     string
}

// Verifier manages registration and email verification
type Verifier interface {
	Register(ctx context.Context, input RegisterInput) (*User, error)
	VerifyEmail(ctx context.Context, email, code string) (*AuthResult, error)
	ResendVerification(ctx context.Context, email string) error
}

// SessionService manages credential login and the refresh lifecycle
type SessionService interface {
	Login(ctx context.Context, email, password string, client *ClientInfo) (*AuthResult, error)
	RefreshTokens(ctx context.Context, refreshToken string) (*AuthResult, error)
	Logout(ctx context.Context, userID string) error
	ChangePassword(ctx context.Context, userID, currentPassword, newPassword string) error
}

// PasswordResetService manages the forgot password flow
type PasswordResetService interface {
	ForgotPassword(ctx context.Context, email string) error
	ValidateResetToken(ctx context.Context, token string) error
	ResetPassword(ctx context.Context, token, newPassword string) error
}

// ActivityTracker records logins and raises new device alerts
type ActivityTracker interface {
	RecordLogin(ctx context.Context, user *User, client ClientInfo) error
	LoginHistory(ctx context.Context, userID string, limit int) ([]*LoginEvent, error)
}

type userIdentity struct {
	id    string
	email string
	role  string
}

func (a userIdentity) ID() string    { return a.id }
func (a userIdentity) Email() string { return a.email }
func (a userIdentity) Role() string  { return a.role }

var _ Identity = userIdentity{}

// IdentityFromUser adapts a stored user into the token subject
func IdentityFromUser(user *User) Identity {
	user.EnsureRole()
	return userIdentity{
		id:    user.ID.String(),
		email: user.Email,
		role:  string(user.Role),
	}
}

type defLogger struct{}

func (d defLogger) Error(msg string, args ...any) { d.print("ERR", msg, args...) }
func (d defLogger) Warn(msg string, args ...any)  { d.print("WRN", msg, args...) }
func (d defLogger) Info(msg string, args ...any)  { d.print("INF", msg, args...) }
func (d defLogger) Debug(msg string, args ...any) { d.print("DBG", msg, args...) }

func (d defLogger) print(level, msg string, args ...any) {
	out := "[" + level + "] IDENTITY " + msg
	for i := 0; i+1 < len(args); i += 2 {
		out += fmt.Sprintf(" %v=%v", args[i], args[i+1])
	}
	fmt.Println(out)
}
