// Package mfa verifies second-factor codes presented during login.
package mfa

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"

	"github.com/sweetpy/intelXv2-sub001/internal/identity/domain"
)

// DemoCode is the code accepted for demo accounts that have no TOTP secret.
const DemoCode = "123456"

// Verifier checks an MFA code for a user.
type Verifier interface {
	Verify(ctx context.Context, user *domain.User, code string) bool
}

// HashOTP returns a SHA-256 hash of the OTP string, hex-encoded.
func HashOTP(code string) string {
	h := sha256.Sum256([]byte(code))
	return hex.EncodeToString(h[:])
}

// OTPEqual performs constant-time comparison of the provided OTP's hash with the stored hash.
func OTPEqual(providedOTP, storedHash string) bool {
	providedHash := HashOTP(providedOTP)
	return subtle.ConstantTimeCompare([]byte(providedHash), []byte(storedHash)) == 1
}

// StaticVerifier accepts one fixed code for every user.
type StaticVerifier struct {
	codeHash string
}

// NewStaticVerifier returns a verifier accepting code (DemoCode when empty).
func NewStaticVerifier(code string) *StaticVerifier {
	if code == "" {
		code = DemoCode
	}
	return &StaticVerifier{codeHash: HashOTP(code)}
}

func (v *StaticVerifier) Verify(ctx context.Context, user *domain.User, code string) bool {
	if code == "" {
		return false
	}
	return OTPEqual(code, v.codeHash)
}

// TOTPVerifier validates RFC 6238 codes (30 s period, six digits, one step of skew) for users
// with a TOTP secret. Users without one are checked by the fallback verifier.
type TOTPVerifier struct {
	fallback Verifier
	nowF     func() time.Time
}

// NewTOTPVerifier returns a TOTPVerifier. fallback may be nil, in which case users without a
// secret are always rejected.
func NewTOTPVerifier(fallback Verifier) *TOTPVerifier {
	return &TOTPVerifier{fallback: fallback, nowF: time.Now}
}

func (v *TOTPVerifier) Verify(ctx context.Context, user *domain.User, code string) bool {
	if code == "" {
		return false
	}
	if user != nil && user.TOTPSecret != "" {
		ok, err := totp.ValidateCustom(code, user.TOTPSecret, v.nowF().UTC(), totp.ValidateOpts{
			Period:    30,
			Skew:      1,
			Digits:    otp.DigitsSix,
			Algorithm: otp.AlgorithmSHA1,
		})
		return err == nil && ok
	}
	if v.fallback == nil {
		return false
	}
	return v.fallback.Verify(ctx, user, code)
}
