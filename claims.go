package identity

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// TokenUseAccess marks short lived API tokens
	TokenUseAccess = "access"
	// TokenUseRefresh marks long lived rotation tokens
	TokenUseRefresh = "refresh"
)

// AuthClaims represents structured JWT claims
type AuthClaims interface {
	Subject() string
	UserID() string
	Email() string
	Role() string
	Use() string
	HasRole(role UserRole) bool
	IsAtLeast(minRole UserRole) bool
	Expires() time.Time
	IssuedAt() time.Time
}

// JWTClaims is the concrete implementation of AuthClaims
type JWTClaims struct {
	jwt.RegisteredClaims
	UID       string `json:"userId,omitempty"`
	UserEmail string `json:"email,omitempty"`
	UserRole  string `json:"role,omitempty"`
	TokenUse  string `json:"use,omitempty"`
}

// Verify interface compliance
var _ AuthClaims = (*JWTClaims)(nil)

// Subject returns the subject claim
func (c *JWTClaims) Subject() string {
	return c.RegisteredClaims.Subject
}

// UserID returns the user ID
func (c *JWTClaims) UserID() string {
	if c.UID != "" {
		return c.UID
	}
	return c.Subject()
}

// Email returns the account email
func (c *JWTClaims) Email() string {
	return c.UserEmail
}

// Role returns the global role
func (c *JWTClaims) Role() string {
	return c.UserRole
}

// Use returns the token purpose, access or refresh
func (c *JWTClaims) Use() string {
	return c.TokenUse
}

// HasRole checks if the user has a specific role
func (c *JWTClaims) HasRole(role UserRole) bool {
	return UserRole(c.UserRole) == role
}

// IsAtLeast checks if the user's role is at least the minimum required role
func (c *JWTClaims) IsAtLeast(minRole UserRole) bool {
	return UserRole(c.UserRole).IsAtLeast(minRole)
}

// Expires returns the expiration time
func (c *JWTClaims) Expires() time.Time {
	if c.RegisteredClaims.ExpiresAt != nil {
		return c.RegisteredClaims.ExpiresAt.Time
	}
	return time.Time{}
}

// IssuedAt returns the issued at time
func (c *JWTClaims) IssuedAt() time.Time {
	if c.RegisteredClaims.IssuedAt != nil {
		return c.RegisteredClaims.IssuedAt.Time
	}
	return time.Time{}
}
