package identity

import (
	"strings"

	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
)

// Stable text codes exposed to API clients
const (
	TextCodeEmailTaken         = "identity_email_taken"
	TextCodeAccountNotFound    = "identity_account_not_found"
	TextCodeAlreadyVerified    = "identity_already_verified"
	TextCodeInvalidCode        = "identity_invalid_verification_code"
	TextCodeTooManyAttempts    = "identity_too_many_attempts"
	TextCodeResendThrottled    = "identity_resend_throttled"
	TextCodeInvalidCredentials = "identity_invalid_credentials"
	TextCodeNotVerified        = "identity_email_not_verified"
	TextCodeDeactivated        = "identity_account_deactivated"
	TextCodeInvalidRefresh     = "identity_invalid_refresh_token"
	TextCodeInvalidResetToken  = "identity_invalid_reset_token"
	TextCodeTokenExpired       = "identity_token_expired"
	TextCodeTokenMalformed     = "identity_token_malformed"
)

// ErrEmailTaken another account already registered this email
var ErrEmailTaken = errors.New("an account with this email already exists", errors.CategoryConflict).
	WithTextCode(TextCodeEmailTaken).
	WithCode(errors.CodeConflict)

// ErrAccountNotFound no account matches the given identifier
var ErrAccountNotFound = errors.New("account not found", errors.CategoryNotFound).
	WithTextCode(TextCodeAccountNotFound).
	WithCode(errors.CodeNotFound)

// ErrAlreadyVerified the account already completed email verification
var ErrAlreadyVerified = errors.New("email is already verified", errors.CategoryConflict).
	WithTextCode(TextCodeAlreadyVerified).
	WithCode(errors.CodeConflict)

// ErrInvalidVerificationCode wrong, missing, or expired verification code
var ErrInvalidVerificationCode = errors.New("invalid or expired verification code", errors.CategoryValidation).
	WithTextCode(TextCodeInvalidCode).
	WithCode(errors.CodeBadRequest)

// ErrTooManyAttempts the verification attempt ceiling was reached
var ErrTooManyAttempts = errors.New("too many verification attempts, request a new code", errors.CategoryRateLimit).
	WithTextCode(TextCodeTooManyAttempts).
	WithCode(429)

// ErrResendThrottled a code was sent too recently
var ErrResendThrottled = errors.New("verification code sent too recently", errors.CategoryRateLimit).
	WithTextCode(TextCodeResendThrottled).
	WithCode(429)

// ErrInvalidCredentials password comparison failed
var ErrInvalidCredentials = errors.New("invalid email or password", errors.CategoryValidation).
	WithTextCode(TextCodeInvalidCredentials).
	WithCode(errors.CodeBadRequest)

// ErrAccountNotVerified login attempted before email verification
var ErrAccountNotVerified = errors.New("email not verified, check your inbox", errors.CategoryValidation).
	WithTextCode(TextCodeNotVerified).
	WithCode(errors.CodeBadRequest)

// ErrAccountDeactivated the account was administratively disabled
var ErrAccountDeactivated = errors.New("account is deactivated", errors.CategoryAuth).
	WithTextCode(TextCodeDeactivated).
	WithCode(errors.CodeForbidden)

// ErrInvalidRefreshToken refresh token failed verification or does not match the stored value
var ErrInvalidRefreshToken = errors.New("invalid refresh token", errors.CategoryValidation).
	WithTextCode(TextCodeInvalidRefresh).
	WithCode(errors.CodeBadRequest)

// ErrInvalidResetToken reset token is unknown or expired
var ErrInvalidResetToken = errors.New("invalid or expired reset token", errors.CategoryValidation).
	WithTextCode(TextCodeInvalidResetToken).
	WithCode(errors.CodeBadRequest)

// ErrTokenExpired the JWT is past its expiry claim
var ErrTokenExpired = errors.New("token is expired", errors.CategoryAuth).
	WithTextCode(TextCodeTokenExpired).
	WithCode(errors.CodeUnauthorized)

// ErrTokenMalformed the JWT failed signature or structural checks
var ErrTokenMalformed = errors.New("token is malformed", errors.CategoryAuth).
	WithTextCode(TextCodeTokenMalformed).
	WithCode(errors.CodeUnauthorized)

// ErrNoEmptyString empty input where a value is required
var ErrNoEmptyString = errors.New("value cannot be empty", errors.CategoryValidation).
	WithCode(errors.CodeBadRequest)

// ErrMismatchedHashAndPassword cleartext does not match the stored hash
var ErrMismatchedHashAndPassword = errors.New("invalid email or password", errors.CategoryValidation).
	WithTextCode(TextCodeInvalidCredentials).
	WithCode(errors.CodeBadRequest)

// isNotFound matches this package's not found sentinels and the record
// not found category the repository layer reports, which carries its own
// database category
func isNotFound(err error) bool {
	return errors.IsNotFound(err) || repository.IsRecordNotFound(err)
}

// isUniqueViolation sniffs the driver's duplicate key failure on insert
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint") || strings.Contains(msg, "duplicate key")
}

// IsOperational reports whether an error is an expected domain failure
// rather than a programming or infrastructure fault
func IsOperational(err error) bool {
	if err == nil {
		return false
	}
	var richErr *errors.Error
	if !errors.As(err, &richErr) {
		return false
	}
	return richErr.Category != errors.CategoryInternal
}
