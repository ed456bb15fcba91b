package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/optistrat/adminauth/internal/auth/store"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

var (
	ErrInvalidCode       = errors.New("invalid TOTP code")
	ErrMFANotEnabled     = errors.New("MFA not enabled for this principal")
	ErrMFAAlreadyEnabled = errors.New("MFA already enabled for this principal")

	// ErrEnrollmentPending means a secret was provisioned but never
	// confirmed, so codes cannot be accepted yet.
	ErrEnrollmentPending = errors.New("MFA enrollment pending confirmation")
)

// codePattern accepts exactly six ASCII digits. Anything else is rejected
// before any secret is fetched.
var codePattern = regexp.MustCompile(`^[0-9]{6}$`)

// totpOpts are fixed at the RFC 6238 defaults: 30s steps, six digits,
// SHA-1, one step of skew either side to absorb clock drift.
var totpOpts = totp.ValidateOpts{
	Period:    30,
	Skew:      1,
	Digits:    otp.DigitsSix,
	Algorithm: otp.AlgorithmSHA1,
}

// MFAService owns TOTP enrollment and verification. It is the only code
// that ever reads the stored secret.
type MFAService struct {
	Store  store.Store
	Issuer string // Issuer name shown in authenticator apps

	// Now is the clock; nil means time.Now. Injected for tests.
	Now func() time.Time
}

func (s *MFAService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Enroll generates a TOTP secret for the principal and returns the otpauth
// provisioning URL. This does NOT enable MFA yet - the principal must
// confirm with a valid code first. The URL is shown exactly once, at
// enrollment; after that the secret never leaves the server.
func (s *MFAService) Enroll(ctx context.Context, principalID, email string) (string, error) {
	enabled, secret, err := s.Store.Principals().GetMFAInfo(ctx, principalID)
	if err != nil {
		return "", fmt.Errorf("failed to get MFA info: %w", err)
	}
	if enabled {
		return "", ErrMFAAlreadyEnabled
	}
	if secret != nil && *secret != "" {
		return "", ErrEnrollmentPending
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      s.Issuer,
		AccountName: email,
		Period:      30,
		SecretSize:  20, // 160-bit secret per RFC 4226 recommendation
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate TOTP key: %w", err)
	}

	if err := s.Store.Principals().UpdateMFASecret(ctx, principalID, key.Secret()); err != nil {
		return "", fmt.Errorf("failed to store MFA secret: %w", err)
	}

	return key.URL(), nil
}

// ConfirmEnrollment verifies a code against the pending secret and enables
// MFA for the principal if valid.
func (s *MFAService) ConfirmEnrollment(ctx context.Context, principalID, code string) error {
	if !codePattern.MatchString(code) {
		return ErrInvalidCode
	}

	enabled, secret, err := s.Store.Principals().GetMFAInfo(ctx, principalID)
	if err != nil {
		return fmt.Errorf("failed to get MFA info: %w", err)
	}
	if enabled {
		return ErrMFAAlreadyEnabled
	}
	if secret == nil || *secret == "" {
		return ErrMFANotEnabled
	}

	valid, err := totp.ValidateCustom(code, *secret, s.now(), totpOpts)
	if err != nil || !valid {
		return ErrInvalidCode
	}

	if err := s.Store.Principals().EnableMFA(ctx, principalID); err != nil {
		return fmt.Errorf("failed to enable MFA: %w", err)
	}
	return nil
}

// Verify checks a submitted code against the principal's confirmed secret.
// A malformed code is rejected without touching the store. A missing
// principal or unconfirmed enrollment verifies false rather than erroring,
// so callers cannot distinguish "no such account" from "wrong code".
// Verification is stateless: the same code verifies true for the whole of
// its validity window.
func (s *MFAService) Verify(ctx context.Context, principalID, code string) (bool, error) {
	if !codePattern.MatchString(code) {
		return false, nil
	}

	enabled, secret, err := s.Store.Principals().GetMFAInfo(ctx, principalID)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get MFA info: %w", err)
	}
	if !enabled || secret == nil || *secret == "" {
		return false, nil
	}

	valid, err := totp.ValidateCustom(code, *secret, s.now(), totpOpts)
	if err != nil {
		return false, nil
	}
	return valid, nil
}

// Disable removes MFA for a principal after verifying a current code.
func (s *MFAService) Disable(ctx context.Context, principalID, code string) error {
	valid, err := s.Verify(ctx, principalID, code)
	if err != nil {
		return err
	}
	if !valid {
		return ErrInvalidCode
	}

	return s.Store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.Principals().DisableMFA(ctx, principalID); err != nil {
			return fmt.Errorf("failed to disable MFA: %w", err)
		}
		return nil
	})
}
