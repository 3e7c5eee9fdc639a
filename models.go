package identity

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// UserRole is the user's role
type UserRole string

const (
	// RoleUser is the default role for self-registered accounts
	RoleUser UserRole = "user"
	// RoleModerator can manage content on behalf of other users
	RoleModerator UserRole = "moderator"
	// RoleAdmin can manage accounts
	RoleAdmin UserRole = "admin"
)

// UserStatus tracks the account lifecycle
type UserStatus string

const (
	// UserStatusInactive is a registered account pending email verification
	UserStatusInactive UserStatus = "inactive"
	// UserStatusActive is a verified account
	UserStatusActive UserStatus = "active"
)

// User is the user model
type User struct {
	bun.BaseModel           `bun:"table:users,alias:usr"`
	ID                      uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	Role                    UserRole   `bun:"user_role,notnull" json:"user_role,omitempty"`
	Status                  UserStatus `bun:"status,notnull" json:"status,omitempty"`
	IsActive                bool       `bun:"is_active" json:"is_active"`
	FirstName               string     `bun:"first_name,notnull" json:"first_name,omitempty"`
	LastName                string     `bun:"last_name,notnull" json:"last_name,omitempty"`
	Email                   string     `bun:"email,notnull,unique" json:"email,omitempty"`
	Phone                   string     `bun:"phone_number" json:"phone_number,omitempty"`
	Bio                     string     `bun:"bio" json:"bio,omitempty"`
	PasswordHash            string     `bun:"password_hash,notnull" json:"-"`
	VerificationCode        *string    `bun:"verification_code,nullzero" json:"-"`
	VerificationCodeExpires *time.Time `bun:"verification_code_expires,nullzero" json:"-"`
	VerificationAttempts    int        `bun:"verification_attempts" json:"-"`
	LastOTPSentAt           *time.Time `bun:"last_otp_sent_at,nullzero" json:"-"`
	RefreshToken            *string    `bun:"refresh_token,nullzero" json:"-"`
	ResetPasswordTokenHash  *string    `bun:"reset_password_token_hash,nullzero" json:"-"`
	ResetPasswordExpires    *time.Time `bun:"reset_password_expires,nullzero" json:"-"`
	CreatedAt               *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt               *time.Time `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
	DeletedAt               *time.Time `bun:"deleted_at,soft_delete,nullzero" json:"deleted_at,omitempty"`
}

// EnsureStatus will set the default status for legacy rows
func (u *User) EnsureStatus() {
	if u.Status == "" {
		u.Status = UserStatusInactive
	}
}

// EnsureRole will set the default role
func (u *User) EnsureRole() {
	if u.Role == "" {
		u.Role = RoleUser
	}
}

// FullName joins first and last name, either may be empty
func (u *User) FullName() string {
	return strings.TrimSpace(strings.TrimSpace(u.FirstName) + " " + strings.TrimSpace(u.LastName))
}

// IsVerified checks if the account completed email verification
func (u *User) IsVerified() bool {
	return u.Status == UserStatusActive
}

// LoginEvent records a successful login, the table is append only
type LoginEvent struct {
	bun.BaseModel `bun:"table:login_events,alias:lev"`
	ID            uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	UserID        uuid.UUID  `bun:"user_id,notnull,type:uuid" json:"user_id,omitempty"`
	User          *User      `bun:"rel:belongs-to,join:user_id=id" json:"user,omitempty"`
	IPAddress     string     `bun:"ip_address,notnull" json:"ip_address,omitempty"`
	UserAgent     string     `bun:"user_agent,notnull" json:"user_agent,omitempty"`
	LoginAt       time.Time  `bun:"login_at,notnull" json:"login_at"`
	Duration      *int64     `bun:"session_duration,nullzero" json:"session_duration,omitempty"`
	CreatedAt     *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
}

// Device formats the client pair for alert messages
func (e *LoginEvent) Device() string {
	return e.UserAgent + " (IP: " + e.IPAddress + ")"
}

// Notification is an in-app message for a user
type Notification struct {
	bun.BaseModel `bun:"table:notifications,alias:ntf"`
	ID            uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	UserID        uuid.UUID  `bun:"user_id,notnull,type:uuid" json:"user_id,omitempty"`
	Message       string     `bun:"message,notnull" json:"message,omitempty"`
	Read          bool       `bun:"read" json:"read"`
	CreatedAt     *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
}

// NormalizeEmail lowercases and trims an email identifier
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
