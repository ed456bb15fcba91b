package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/optistrat/adminauth/internal/auth/domain"
	"github.com/optistrat/adminauth/internal/auth/service"
	"github.com/optistrat/adminauth/internal/auth/store"
	"github.com/optistrat/adminauth/internal/auth/store/drivers/sqlite"
	"github.com/optistrat/adminauth/pkg/jwtx"
	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/require"
)

const (
	testIssuer   = "optistrat-admin"
	testPassword = "correct horse battery staple"

	// Fixed base32 TOTP secret for generating valid codes in tests.
	testSecret = "JBSWY3DPEHPK3PXPJBSWY3DPEHPK3PXP"
)

type loginEnv struct {
	store    *sqlite.Store
	clock    *fakeClock
	login    *service.LoginService
	mfa      *service.MFAService
	throttle *service.ThrottleService
	verifier jwtx.Verifier

	adminRoleID  string
	editorRoleID string
}

func newLoginEnv(t *testing.T) *loginEnv {
	t.Helper()

	st := newTestStore(t)
	clock := newFakeClock()

	signer, keys, err := jwtx.NewEphemeralSigner()
	require.NoError(t, err)

	throttle := &service.ThrottleService{Store: st, Now: clock.Now}
	mfa := &service.MFAService{Store: st, Issuer: testIssuer, Now: clock.Now}

	login := &service.LoginService{
		Identity:     &service.StoreIdentity{Store: st},
		MFA:          mfa,
		Throttle:     throttle,
		Store:        st,
		Signer:       signer,
		Issuer:       testIssuer,
		Audience:     []string{testIssuer},
		AllowedRoles: []string{domain.RoleAdmin, domain.RoleEditor},
		LoginPolicy:  domain.DefaultLoginPolicy,
		Now:          clock.Now,
	}

	return &loginEnv{
		store:        st,
		clock:        clock,
		login:        login,
		mfa:          mfa,
		throttle:     throttle,
		verifier:     jwtx.NewVerifierEdDSA(keys, testIssuer, []string{testIssuer}),
		adminRoleID:  seedRole(t, st, domain.RoleAdmin),
		editorRoleID: seedRole(t, st, domain.RoleEditor),
	}
}

// enableMFA wires a confirmed TOTP secret onto a principal.
func (e *loginEnv) enableMFA(t *testing.T, principalID string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, e.store.Principals().UpdateMFASecret(ctx, principalID, testSecret))
	require.NoError(t, e.store.Principals().EnableMFA(ctx, principalID))
}

func (e *loginEnv) code(t *testing.T) string {
	t.Helper()
	code, err := totp.GenerateCode(testSecret, e.clock.Now())
	require.NoError(t, err)
	return code
}

func TestBeginLogin_PasswordOnly(t *testing.T) {
	env := newLoginEnv(t)
	ctx := context.Background()
	id := seedPrincipal(t, env.store, "admin@optistrat.example", testPassword, env.adminRoleID)

	result, err := env.login.BeginLogin(ctx, "admin@optistrat.example", testPassword, "1.2.3.4")
	require.NoError(t, err)
	require.Equal(t, domain.StateAuthenticated, result.State)
	require.NotEmpty(t, result.AccessToken)
	require.Empty(t, result.MFAToken)
	require.Equal(t, jwtx.DefaultAccessTokenTTL, result.ExpiresIn)

	claims, err := env.verifier.Verify(result.AccessToken)
	require.NoError(t, err)
	require.Equal(t, id, claims.Subject)
	require.Equal(t, domain.RoleAdmin, claims.Role)
	require.Equal(t, []string{jwtx.AMRPassword}, claims.AMR)
	require.Equal(t, "admin@optistrat.example", claims.Email)
}

func TestBeginLogin_InvalidCredentials(t *testing.T) {
	env := newLoginEnv(t)
	ctx := context.Background()
	seedPrincipal(t, env.store, "admin@optistrat.example", testPassword, env.adminRoleID)

	t.Run("wrong password", func(t *testing.T) {
		_, err := env.login.BeginLogin(ctx, "admin@optistrat.example", "wrong", "1.2.3.4")
		require.ErrorIs(t, err, service.ErrInvalidCredentials)
	})

	t.Run("unknown email reports the same error", func(t *testing.T) {
		_, err := env.login.BeginLogin(ctx, "nobody@optistrat.example", testPassword, "1.2.3.4")
		require.ErrorIs(t, err, service.ErrInvalidCredentials)
	})
}

func TestBeginLogin_ForbiddenRole(t *testing.T) {
	env := newLoginEnv(t)
	ctx := context.Background()

	guestRoleID := seedRole(t, env.store, "guest")
	seedPrincipal(t, env.store, "guest@optistrat.example", testPassword, guestRoleID)

	_, err := env.login.BeginLogin(ctx, "guest@optistrat.example", testPassword, "1.2.3.4")
	require.ErrorIs(t, err, service.ErrForbidden)
}

func TestBeginLogin_MFAFlow(t *testing.T) {
	env := newLoginEnv(t)
	ctx := context.Background()
	id := seedPrincipal(t, env.store, "admin@optistrat.example", testPassword, env.adminRoleID)
	env.enableMFA(t, id)

	result, err := env.login.BeginLogin(ctx, "admin@optistrat.example", testPassword, "1.2.3.4")
	require.NoError(t, err)
	require.Equal(t, domain.StateAwaitingSecondFactor, result.State)
	require.NotEmpty(t, result.MFAToken)
	require.Empty(t, result.AccessToken, "no token may exist before the second factor")

	// Only the fingerprint is persisted; the raw token must not key a row.
	_, err = env.store.Challenges().Get(ctx, result.MFAToken)
	require.ErrorIs(t, err, store.ErrNotFound)

	final, err := env.login.CompleteChallenge(ctx, result.MFAToken, env.code(t), "1.2.3.4")
	require.NoError(t, err)
	require.Equal(t, domain.StateAuthenticated, final.State)
	require.NotEmpty(t, final.AccessToken)

	claims, err := env.verifier.Verify(final.AccessToken)
	require.NoError(t, err)
	require.Equal(t, []string{jwtx.AMRPassword, jwtx.AMRMFA}, claims.AMR)

	t.Run("challenge is single use", func(t *testing.T) {
		_, err := env.login.CompleteChallenge(ctx, result.MFAToken, env.code(t), "1.2.3.4")
		require.ErrorIs(t, err, service.ErrInvalidChallenge)
	})
}

func TestBeginLogin_PendingEnrollmentDoesNotGate(t *testing.T) {
	env := newLoginEnv(t)
	ctx := context.Background()
	id := seedPrincipal(t, env.store, "admin@optistrat.example", testPassword, env.adminRoleID)

	// Secret provisioned but never confirmed.
	require.NoError(t, env.store.Principals().UpdateMFASecret(ctx, id, testSecret))

	result, err := env.login.BeginLogin(ctx, "admin@optistrat.example", testPassword, "1.2.3.4")
	require.NoError(t, err)
	require.Equal(t, domain.StateAuthenticated, result.State)
}

func TestBeginLogin_RateLimited(t *testing.T) {
	env := newLoginEnv(t)
	ctx := context.Background()
	seedPrincipal(t, env.store, "admin@optistrat.example", testPassword, env.adminRoleID)

	for i := range 5 {
		_, err := env.login.BeginLogin(ctx, "admin@optistrat.example", "wrong", "1.2.3.4")
		require.ErrorIs(t, err, service.ErrInvalidCredentials, "attempt %d", i+1)
	}

	// Budget spent: even the correct password is refused now.
	_, err := env.login.BeginLogin(ctx, "admin@optistrat.example", testPassword, "1.2.3.4")
	var rateLimited *service.RateLimitedError
	require.ErrorAs(t, err, &rateLimited)
	require.Greater(t, rateLimited.RetryAfter, time.Duration(0))

	t.Run("other origins are unaffected", func(t *testing.T) {
		result, err := env.login.BeginLogin(ctx, "admin@optistrat.example", testPassword, "5.6.7.8")
		require.NoError(t, err)
		require.Equal(t, domain.StateAuthenticated, result.State)
	})

	t.Run("window elapse restores the budget", func(t *testing.T) {
		env.clock.Advance(domain.DefaultLoginPolicy.Window + time.Second)

		result, err := env.login.BeginLogin(ctx, "admin@optistrat.example", testPassword, "1.2.3.4")
		require.NoError(t, err)
		require.Equal(t, domain.StateAuthenticated, result.State)
	})
}

func TestBeginLogin_SuccessClearsWindow(t *testing.T) {
	env := newLoginEnv(t)
	ctx := context.Background()
	seedPrincipal(t, env.store, "admin@optistrat.example", testPassword, env.adminRoleID)

	for range 3 {
		_, err := env.login.BeginLogin(ctx, "admin@optistrat.example", "wrong", "1.2.3.4")
		require.ErrorIs(t, err, service.ErrInvalidCredentials)
	}

	_, err := env.login.BeginLogin(ctx, "admin@optistrat.example", testPassword, "1.2.3.4")
	require.NoError(t, err)

	// The window was cleared, so the full budget is available again.
	for i := range 5 {
		_, err := env.login.BeginLogin(ctx, "admin@optistrat.example", "wrong", "1.2.3.4")
		require.ErrorIs(t, err, service.ErrInvalidCredentials, "attempt %d", i+1)
	}
}

func TestCompleteChallenge_WrongCodes(t *testing.T) {
	env := newLoginEnv(t)
	ctx := context.Background()
	id := seedPrincipal(t, env.store, "admin@optistrat.example", testPassword, env.adminRoleID)
	env.enableMFA(t, id)

	result, err := env.login.BeginLogin(ctx, "admin@optistrat.example", testPassword, "10.0.0.1")
	require.NoError(t, err)
	require.Equal(t, domain.StateAwaitingSecondFactor, result.State)

	// Distinct origins so the per-challenge budget is what trips, not the
	// per-origin throttle.
	origins := []string{"10.0.0.2", "10.0.0.3", "10.0.0.4", "10.0.0.5", "10.0.0.6"}
	for i, origin := range origins {
		_, err := env.login.CompleteChallenge(ctx, result.MFAToken, "000000", origin)
		require.ErrorIs(t, err, service.ErrInvalidCode, "attempt %d", i+1)
	}

	// Challenge exhausted; the login has to start over from the password.
	_, err = env.login.CompleteChallenge(ctx, result.MFAToken, env.code(t), "10.0.0.7")
	require.ErrorIs(t, err, service.ErrInvalidChallenge)
}

func TestCompleteChallenge_RoleRevokedMidFlow(t *testing.T) {
	env := newLoginEnv(t)
	ctx := context.Background()
	id := seedPrincipal(t, env.store, "admin@optistrat.example", testPassword, env.adminRoleID)
	env.enableMFA(t, id)

	result, err := env.login.BeginLogin(ctx, "admin@optistrat.example", testPassword, "1.2.3.4")
	require.NoError(t, err)
	require.Equal(t, domain.StateAwaitingSecondFactor, result.State)

	// Demoted between factors; a correct code must not produce a token.
	guestRoleID := seedRole(t, env.store, "guest")
	require.NoError(t, env.store.Principals().UpdateRole(ctx, id, guestRoleID))

	final, err := env.login.CompleteChallenge(ctx, result.MFAToken, env.code(t), "1.2.3.4")
	require.ErrorIs(t, err, service.ErrForbidden)
	require.Empty(t, final.AccessToken)
}

func TestCompleteChallenge_Expired(t *testing.T) {
	env := newLoginEnv(t)
	ctx := context.Background()
	id := seedPrincipal(t, env.store, "admin@optistrat.example", testPassword, env.adminRoleID)
	env.enableMFA(t, id)

	result, err := env.login.BeginLogin(ctx, "admin@optistrat.example", testPassword, "1.2.3.4")
	require.NoError(t, err)

	env.clock.Advance(service.DefaultChallengeTTL + time.Second)

	_, err = env.login.CompleteChallenge(ctx, result.MFAToken, env.code(t), "1.2.3.4")
	require.ErrorIs(t, err, service.ErrInvalidChallenge)
}

// failingAttempts errors on Delete so the post-login window clear fails.
type failingAttempts struct {
	store.Attempts
}

func (failingAttempts) Delete(ctx context.Context, origin, endpoint string) error {
	return errors.New("storage unavailable")
}

type resetFailingStore struct {
	store.Store
}

func (s *resetFailingStore) Attempts() store.Attempts {
	return failingAttempts{Attempts: s.Store.Attempts()}
}

func TestBeginLogin_ResetFailureStillAuthenticates(t *testing.T) {
	env := newLoginEnv(t)
	ctx := context.Background()
	seedPrincipal(t, env.store, "admin@optistrat.example", testPassword, env.adminRoleID)

	env.login.Throttle = &service.ThrottleService{
		Store: &resetFailingStore{Store: env.store},
		Now:   env.clock.Now,
	}

	// Clearing the window is bookkeeping; its failure must not turn away a
	// fully authenticated principal.
	result, err := env.login.BeginLogin(ctx, "admin@optistrat.example", testPassword, "1.2.3.4")
	require.NoError(t, err)
	require.Equal(t, domain.StateAuthenticated, result.State)
	require.NotEmpty(t, result.AccessToken)
}

func TestCompleteSecondFactor_PendingEnrollment(t *testing.T) {
	env := newLoginEnv(t)
	ctx := context.Background()
	id := seedPrincipal(t, env.store, "admin@optistrat.example", testPassword, env.adminRoleID)
	require.NoError(t, env.store.Principals().UpdateMFASecret(ctx, id, testSecret))

	_, err := env.login.CompleteSecondFactor(ctx, id, "123456", "1.2.3.4")
	require.ErrorIs(t, err, service.ErrEnrollmentPending)
}
