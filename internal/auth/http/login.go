package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/optistrat/adminauth/internal/auth/service"
	"github.com/optistrat/adminauth/pkg/httpx"
	"github.com/optistrat/adminauth/pkg/slogx"
)

// LoginHandler drives the two-step login flow over HTTP.
type LoginHandler struct {
	LoginService *service.LoginService
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Authenticated bool   `json:"authenticated"`
	AccessToken   string `json:"access_token,omitempty"`
	TokenType     string `json:"token_type,omitempty"`
	ExpiresIn     int64  `json:"expires_in,omitempty"`

	MFARequired bool   `json:"mfa_required,omitempty"`
	MFAToken    string `json:"mfa_token,omitempty"`
}

type secondFactorRequest struct {
	MFAToken string `json:"mfa_token"`
	Code     string `json:"code"`
}

// HandleLogin handles POST /v1/login.
func (h *LoginHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
		return
	}
	if req.Email == "" || req.Password == "" {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "email and password are required")
		return
	}

	origin := httpx.IPKeyExtractor(r)
	result, err := h.LoginService.BeginLogin(ctx, req.Email, req.Password, origin)
	if err != nil {
		writeLoginError(w, log, err)
		return
	}

	if result.MFAToken != "" {
		httpx.WriteJSON(w, http.StatusOK, loginResponse{
			MFARequired: true,
			MFAToken:    result.MFAToken,
		})
		return
	}

	httpx.WriteJSON(w, http.StatusOK, loginResponse{
		Authenticated: true,
		AccessToken:   result.AccessToken,
		TokenType:     "Bearer",
		ExpiresIn:     int64(result.ExpiresIn.Seconds()),
	})
}

// HandleSecondFactor handles POST /v1/login/mfa.
func (h *LoginHandler) HandleSecondFactor(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	var req secondFactorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
		return
	}
	if req.MFAToken == "" || req.Code == "" {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "mfa_token and code are required")
		return
	}

	origin := httpx.IPKeyExtractor(r)
	result, err := h.LoginService.CompleteChallenge(ctx, req.MFAToken, req.Code, origin)
	if err != nil {
		writeLoginError(w, log, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, loginResponse{
		Authenticated: true,
		AccessToken:   result.AccessToken,
		TokenType:     "Bearer",
		ExpiresIn:     int64(result.ExpiresIn.Seconds()),
	})
}

// writeLoginError maps service errors onto the wire. Credential failures
// stay deliberately vague so callers cannot probe which emails exist.
func writeLoginError(w http.ResponseWriter, log *slog.Logger, err error) {
	var rateLimited *service.RateLimitedError
	switch {
	case errors.As(err, &rateLimited):
		retryAfter := int64(rateLimited.RetryAfter.Seconds())
		if retryAfter < 1 {
			retryAfter = 1
		}
		w.Header().Set("Retry-After", strconv.FormatInt(retryAfter, 10))
		httpx.WriteJSON(w, http.StatusTooManyRequests, map[string]any{
			"error":               "rate_limited",
			"error_description":   "Too many attempts, try again later",
			"retry_after_seconds": retryAfter,
		})

	case errors.Is(err, service.ErrInvalidCredentials):
		httpx.WriteError(w, http.StatusUnauthorized, "invalid_credentials",
			"Invalid email or password")

	case errors.Is(err, service.ErrForbidden):
		httpx.WriteError(w, http.StatusForbidden, "forbidden",
			"Account is not permitted to access this service")

	case errors.Is(err, service.ErrInvalidCode):
		httpx.WriteError(w, http.StatusBadRequest, "invalid_code",
			"Invalid verification code")

	case errors.Is(err, service.ErrInvalidChallenge):
		httpx.WriteError(w, http.StatusUnauthorized, "invalid_challenge",
			"Login challenge is invalid or expired, start over")

	case errors.Is(err, service.ErrEnrollmentPending):
		httpx.WriteError(w, http.StatusForbidden, "enrollment_pending",
			"Two-factor enrollment has not been confirmed")

	case errors.Is(err, service.ErrMFANotEnabled):
		httpx.WriteError(w, http.StatusBadRequest, "mfa_not_enabled",
			"Two-factor authentication is not enabled")

	default:
		log.Error("login failed", "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "server_error",
			"Internal server error")
	}
}
