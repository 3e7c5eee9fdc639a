package identity

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"math/big"
	"strconv"

	goerrors "github.com/goliatone/go-errors"
)

const (
	verificationCodeMin  = 100_000
	verificationCodeSpan = 900_000
	resetTokenBytes      = 32
)

// GenerateVerificationCode returns a 6 digit one time code in [100000, 999999]
func GenerateVerificationCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(verificationCodeSpan))
	if err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to generate verification code")
	}
	return strconv.FormatInt(n.Int64()+verificationCodeMin, 10), nil
}

// NewResetToken returns the raw token sent to the user and the
// SHA-256 digest stored at rest. The raw value never touches storage.
func NewResetToken() (raw string, digest string, err error) {
	buf := make([]byte, resetTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to generate reset token")
	}
	raw = hex.EncodeToString(buf)
	return raw, HashResetToken(raw), nil
}

// HashResetToken derives the storable digest for a raw reset token
func HashResetToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
