package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/optistrat/adminauth/internal/auth/domain"
	httpapi "github.com/optistrat/adminauth/internal/auth/http"
	"github.com/optistrat/adminauth/internal/auth/service"
	"github.com/optistrat/adminauth/internal/auth/store/drivers/sqlite"
	"github.com/optistrat/adminauth/pkg/cryptox"
	"github.com/optistrat/adminauth/pkg/idx"
	"github.com/optistrat/adminauth/pkg/jwtx"
	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/require"
)

const (
	testIssuer   = "optistrat-admin"
	testPassword = "correct horse battery staple"
	testSecret   = "JBSWY3DPEHPK3PXPJBSWY3DPEHPK3PXP"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestRouter wires a full router over a throwaway database with one
// seeded admin principal.
func newTestRouter(t *testing.T, mfaEnabled bool) *httpapi.Router {
	t.Helper()

	cryptox.SetPepperPath(filepath.Join(t.TempDir(), "pepper"))

	st, err := sqlite.NewStore("file:" + filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.ApplyMigrations())

	ctx := context.Background()
	now := time.Now().UTC()

	roleID := idx.New().String()
	require.NoError(t, st.Roles().Create(ctx, domain.Role{
		ID: roleID, Name: domain.RoleAdmin, CreatedAt: now, UpdatedAt: now,
	}))

	hash, err := cryptox.HashPassword(testPassword)
	require.NoError(t, err)

	principalID := idx.New().String()
	require.NoError(t, st.Principals().Create(ctx, domain.Principal{
		ID:           principalID,
		Email:        "admin@optistrat.example",
		DisplayName:  "Administrator",
		PasswordHash: hash,
		RoleID:       roleID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}))

	if mfaEnabled {
		require.NoError(t, st.Principals().UpdateMFASecret(ctx, principalID, testSecret))
		require.NoError(t, st.Principals().EnableMFA(ctx, principalID))
	}

	signer, keys, err := jwtx.NewEphemeralSigner()
	require.NoError(t, err)
	verifier := jwtx.NewVerifierEdDSA(keys, testIssuer, []string{testIssuer})

	throttle := &service.ThrottleService{Store: st}
	mfa := &service.MFAService{Store: st, Issuer: testIssuer}
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
	}

	router := httpapi.NewRouter(keys, verifier, "test", st, testLogger())
	router.LoginService = login
	router.MFAService = mfa
	router.ThrottleService = throttle
	router.ThrottlePolicies = map[string]domain.ThrottlePolicy{
		domain.DefaultLoginPolicy.Endpoint: domain.DefaultLoginPolicy,
		domain.DefaultChatPolicy.Endpoint:  domain.DefaultChatPolicy,
	}
	router.ApplyRoutes()

	return router
}

func postJSON(t *testing.T, router http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	raw, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = "192.0.2.1:40000"

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestLoginEndpoint(t *testing.T) {
	router := newTestRouter(t, false)

	t.Run("success issues a bearer token", func(t *testing.T) {
		rec := postJSON(t, router, "/v1/login", map[string]string{
			"email":    "admin@optistrat.example",
			"password": testPassword,
		})
		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, "no-store", rec.Header().Get("Cache-Control"))

		body := decode(t, rec)
		require.Equal(t, true, body["authenticated"])
		require.NotEmpty(t, body["access_token"])
		require.Equal(t, "Bearer", body["token_type"])
	})

	t.Run("wrong password is a generic 401", func(t *testing.T) {
		rec := postJSON(t, router, "/v1/login", map[string]string{
			"email":    "admin@optistrat.example",
			"password": "wrong",
		})
		require.Equal(t, http.StatusUnauthorized, rec.Code)
		require.Equal(t, "invalid_credentials", decode(t, rec)["error"])
	})

	t.Run("unknown email is indistinguishable", func(t *testing.T) {
		rec := postJSON(t, router, "/v1/login", map[string]string{
			"email":    "nobody@optistrat.example",
			"password": testPassword,
		})
		require.Equal(t, http.StatusUnauthorized, rec.Code)
		require.Equal(t, "invalid_credentials", decode(t, rec)["error"])
	})

	t.Run("missing fields are a 400", func(t *testing.T) {
		rec := postJSON(t, router, "/v1/login", map[string]string{"email": "x@y.example"})
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestLoginEndpoint_MFA(t *testing.T) {
	router := newTestRouter(t, true)

	rec := postJSON(t, router, "/v1/login", map[string]string{
		"email":    "admin@optistrat.example",
		"password": testPassword,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode(t, rec)
	require.Equal(t, true, body["mfa_required"])
	mfaToken, _ := body["mfa_token"].(string)
	require.NotEmpty(t, mfaToken)
	require.Empty(t, body["access_token"], "no token before the second factor")

	t.Run("wrong code", func(t *testing.T) {
		rec := postJSON(t, router, "/v1/login/mfa", map[string]string{
			"mfa_token": mfaToken,
			"code":      "000000",
		})
		require.Equal(t, http.StatusBadRequest, rec.Code)
		require.Equal(t, "invalid_code", decode(t, rec)["error"])
	})

	t.Run("valid code completes the login", func(t *testing.T) {
		code, err := totp.GenerateCode(testSecret, time.Now())
		require.NoError(t, err)

		rec := postJSON(t, router, "/v1/login/mfa", map[string]string{
			"mfa_token": mfaToken,
			"code":      code,
		})
		require.Equal(t, http.StatusOK, rec.Code)

		body := decode(t, rec)
		require.Equal(t, true, body["authenticated"])
		require.NotEmpty(t, body["access_token"])
	})

	t.Run("unknown challenge token", func(t *testing.T) {
		rec := postJSON(t, router, "/v1/login/mfa", map[string]string{
			"mfa_token": idx.New().String(),
			"code":      "123456",
		})
		require.Equal(t, http.StatusUnauthorized, rec.Code)
		require.Equal(t, "invalid_challenge", decode(t, rec)["error"])
	})
}

func TestRateLimitCheckEndpoint(t *testing.T) {
	router := newTestRouter(t, false)

	for i := range domain.DefaultChatPolicy.MaxAttempts {
		rec := postJSON(t, router, "/v1/ratelimit/check", map[string]string{"policy": "chat"})
		require.Equal(t, http.StatusOK, rec.Code, "attempt %d", i+1)
		require.Equal(t, true, decode(t, rec)["allowed"])
	}

	rec := postJSON(t, router, "/v1/ratelimit/check", map[string]string{"policy": "chat"})
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.NotEmpty(t, rec.Header().Get("Retry-After"))
	require.Equal(t, false, decode(t, rec)["allowed"])

	t.Run("unknown policy", func(t *testing.T) {
		rec := postJSON(t, router, "/v1/ratelimit/check", map[string]string{"policy": "nope"})
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})
}
