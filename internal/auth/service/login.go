package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/optistrat/adminauth/internal/auth/domain"
	"github.com/optistrat/adminauth/internal/auth/store"
	"github.com/optistrat/adminauth/pkg/cryptox"
	"github.com/optistrat/adminauth/pkg/jwtx"
)

var (
	// ErrInvalidCredentials covers unknown identifier and wrong secret
	// alike; callers must not be able to tell which.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrForbidden means the credentials were valid but the principal's
	// role does not grant back-office access. No token is issued.
	ErrForbidden = errors.New("principal role not permitted")

	// ErrInvalidChallenge covers unknown, expired and consumed
	// second-factor challenges.
	ErrInvalidChallenge = errors.New("invalid or expired login challenge")
)

// RateLimitedError is returned when the attempt throttle denies a request.
// RetryAfter is how long until the window resets.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry in %s", e.RetryAfter.Round(time.Second))
}

const (
	// DefaultChallengeTTL bounds how long a password check stays good for
	// while the client fetches a TOTP code.
	DefaultChallengeTTL = 5 * time.Minute

	// DefaultMaxChallengeAttempts bounds wrong codes per challenge before
	// the whole login must restart from the password.
	DefaultMaxChallengeAttempts = 5
)

// LoginService drives the login state machine: credential check, role
// check, then either a signed access token or a pending second-factor
// challenge. Attempts are throttled per calling origin before any
// credential work happens.
type LoginService struct {
	Identity IdentityProvider
	MFA      *MFAService
	Throttle *ThrottleService
	Store    store.Store

	Signer    jwtx.Signer
	Issuer    string
	Audience  []string
	AccessTTL time.Duration

	// AllowedRoles gates back-office access. Valid credentials with a
	// role outside this set end in Forbidden.
	AllowedRoles []string

	LoginPolicy          domain.ThrottlePolicy
	ChallengeTTL         time.Duration
	MaxChallengeAttempts int

	// Logger reports non-fatal bookkeeping failures; nil means slog.Default.
	Logger *slog.Logger

	// Now is the clock; nil means time.Now. Injected for tests.
	Now func() time.Time
}

func (s *LoginService) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

func (s *LoginService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *LoginService) challengeTTL() time.Duration {
	if s.ChallengeTTL > 0 {
		return s.ChallengeTTL
	}
	return DefaultChallengeTTL
}

func (s *LoginService) maxChallengeAttempts() int {
	if s.MaxChallengeAttempts > 0 {
		return s.MaxChallengeAttempts
	}
	return DefaultMaxChallengeAttempts
}

// BeginLogin runs the first factor. Outcomes, in evaluation order:
// throttle denial, bad credentials, forbidden role, then either a pending
// second-factor challenge (MFA enabled) or a signed access token.
func (s *LoginService) BeginLogin(ctx context.Context, email, password, origin string) (domain.LoginResult, error) {
	if dec := s.Throttle.Check(ctx, origin, s.LoginPolicy); !dec.Allowed {
		return domain.LoginResult{}, &RateLimitedError{RetryAfter: dec.ResetIn}
	}

	principalID, err := s.Identity.VerifyCredentials(ctx, email, password)
	if err != nil {
		return domain.LoginResult{}, err
	}

	role, err := s.roleIfAllowed(ctx, principalID)
	if err != nil {
		return domain.LoginResult{}, err
	}

	enabled, _, err := s.Store.Principals().GetMFAInfo(ctx, principalID)
	if err != nil {
		return domain.LoginResult{}, fmt.Errorf("get MFA info: %w", err)
	}

	// Unconfirmed enrollment counts as MFA-disabled here; the pending
	// secret only starts gating logins once it has been confirmed.
	if !enabled {
		return s.finalize(ctx, principalID, role, origin, []string{jwtx.AMRPassword})
	}

	// The client holds the raw token; only its fingerprint is persisted,
	// so a leaked database cannot complete a pending login.
	token, err := cryptox.GenerateToken(cryptox.TokenSize128)
	if err != nil {
		return domain.LoginResult{}, fmt.Errorf("generate challenge token: %w", err)
	}

	now := s.now()
	challenge := domain.LoginChallenge{
		ID:          cryptox.FingerprintToken(token),
		PrincipalID: principalID,
		Origin:      origin,
		CreatedAt:   now,
		ExpiresAt:   now.Add(s.challengeTTL()),
	}
	if err := s.Store.Challenges().Create(ctx, challenge); err != nil {
		return domain.LoginResult{}, fmt.Errorf("create challenge: %w", err)
	}

	return domain.LoginResult{
		State:    domain.StateAwaitingSecondFactor,
		MFAToken: token,
	}, nil
}

// CompleteSecondFactor runs the second factor for a known principal. The
// code is verified against the confirmed TOTP secret; the role check is
// repeated so a role change between factors still ends in Forbidden.
func (s *LoginService) CompleteSecondFactor(ctx context.Context, principalID, code, origin string) (domain.LoginResult, error) {
	if dec := s.Throttle.Check(ctx, origin, s.LoginPolicy); !dec.Allowed {
		return domain.LoginResult{}, &RateLimitedError{RetryAfter: dec.ResetIn}
	}

	enabled, secret, err := s.Store.Principals().GetMFAInfo(ctx, principalID)
	if err != nil {
		return domain.LoginResult{}, fmt.Errorf("get MFA info: %w", err)
	}
	if !enabled {
		if secret != nil && *secret != "" {
			return domain.LoginResult{}, ErrEnrollmentPending
		}
		return domain.LoginResult{}, ErrMFANotEnabled
	}

	valid, err := s.MFA.Verify(ctx, principalID, code)
	if err != nil {
		return domain.LoginResult{}, err
	}
	if !valid {
		return domain.LoginResult{}, ErrInvalidCode
	}

	role, err := s.roleIfAllowed(ctx, principalID)
	if err != nil {
		return domain.LoginResult{}, err
	}

	return s.finalize(ctx, principalID, role, origin, []string{jwtx.AMRPassword, jwtx.AMRMFA})
}

// CompleteChallenge resolves an opaque challenge token from BeginLogin and
// runs the second factor for the principal it is bound to. Wrong codes
// burn one of the challenge's attempts; exhausting them or outliving the
// TTL forces the login to restart from the password.
func (s *LoginService) CompleteChallenge(ctx context.Context, mfaToken, code, origin string) (domain.LoginResult, error) {
	challenge, err := s.Store.Challenges().Get(ctx, cryptox.FingerprintToken(mfaToken))
	if errors.Is(err, store.ErrNotFound) {
		return domain.LoginResult{}, ErrInvalidChallenge
	}
	if err != nil {
		return domain.LoginResult{}, fmt.Errorf("get challenge: %w", err)
	}

	now := s.now()
	if now.After(challenge.ExpiresAt) {
		_ = s.Store.Challenges().Delete(ctx, challenge.ID)
		return domain.LoginResult{}, ErrInvalidChallenge
	}
	if challenge.Attempts >= s.maxChallengeAttempts() {
		_ = s.Store.Challenges().Delete(ctx, challenge.ID)
		return domain.LoginResult{}, &RateLimitedError{RetryAfter: challenge.ExpiresAt.Sub(now)}
	}

	result, err := s.CompleteSecondFactor(ctx, challenge.PrincipalID, code, origin)
	if errors.Is(err, ErrInvalidCode) {
		updated, incErr := s.Store.Challenges().IncrementAttempts(ctx, challenge.ID)
		if incErr == nil && updated.Attempts >= s.maxChallengeAttempts() {
			_ = s.Store.Challenges().Delete(ctx, challenge.ID)
		}
		return domain.LoginResult{}, err
	}
	if err != nil {
		return domain.LoginResult{}, err
	}

	// Consumed; a challenge authenticates at most once.
	_ = s.Store.Challenges().Delete(ctx, challenge.ID)

	return result, nil
}

// roleIfAllowed returns the principal's role name, or ErrForbidden when it
// is outside AllowedRoles.
func (s *LoginService) roleIfAllowed(ctx context.Context, principalID string) (string, error) {
	role, err := s.Identity.RoleOf(ctx, principalID)
	if err != nil {
		return "", err
	}
	if !slices.Contains(s.AllowedRoles, role) {
		return "", ErrForbidden
	}
	return role, nil
}

// finalize signs the access token and clears the caller's attempt window.
// Reached only after every check has passed; a Forbidden outcome never
// gets here, so no token exists that would need revoking.
func (s *LoginService) finalize(ctx context.Context, principalID, role, origin string, amr []string) (domain.LoginResult, error) {
	principal, err := s.Store.Principals().GetByID(ctx, principalID)
	if err != nil {
		return domain.LoginResult{}, fmt.Errorf("lookup principal: %w", err)
	}

	ttl := s.AccessTTL
	if ttl <= 0 {
		ttl = jwtx.DefaultAccessTokenTTL
	}

	claims := jwtx.NewAccessClaims(
		principalID,
		jwtx.NewJTI(),
		role,
		amr,
		ttl,
		s.Issuer,
		s.Audience,
		principal.Email,
		s.now(),
	)

	token, err := s.Signer.Sign(claims)
	if err != nil {
		return domain.LoginResult{}, fmt.Errorf("sign access token: %w", err)
	}

	// Bookkeeping only; an authenticated principal is not turned away
	// because the attempt window could not be cleared.
	if err := s.Throttle.Reset(ctx, origin, s.LoginPolicy.Endpoint); err != nil {
		s.logger().WarnContext(ctx, "failed to clear attempt window",
			"endpoint", s.LoginPolicy.Endpoint,
			"error", err)
	}

	return domain.LoginResult{
		State:       domain.StateAuthenticated,
		AccessToken: token,
		ExpiresIn:   ttl,
	}, nil
}
