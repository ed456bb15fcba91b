package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/optistrat/adminauth/internal/auth/service"
	"github.com/optistrat/adminauth/pkg/httpx"
	"github.com/optistrat/adminauth/pkg/jwtx"
	"github.com/optistrat/adminauth/pkg/slogx"
)

// MFAHandler handles TOTP enrollment management for the authenticated
// principal.
type MFAHandler struct {
	MFAService *service.MFAService
}

type totpEnrollResponse struct {
	// ProvisioningURL is the otpauth:// URL encoding issuer, account and
	// secret. Shown exactly once; the secret never leaves the server again.
	ProvisioningURL string `json:"provisioning_url"`
}

type totpCodeRequest struct {
	Code string `json:"code"`
}

// HandleEnroll handles POST /v1/mfa/totp/enroll. Generates a pending TOTP
// secret for the caller; MFA starts gating logins only after confirmation.
func (h *MFAHandler) HandleEnroll(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	principalID := httpx.PrincipalIDFromCtx(ctx)
	if principalID == "" {
		httpx.WriteError(w, http.StatusUnauthorized, "invalid_token", "Missing principal")
		return
	}

	email := ""
	if claims, ok := ctx.Value(httpx.CtxKeyClaims).(jwtx.Claims); ok {
		email = claims.Email
	}

	url, err := h.MFAService.Enroll(ctx, principalID, email)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrMFAAlreadyEnabled):
			httpx.WriteError(w, http.StatusBadRequest, "mfa_already_enabled",
				"MFA is already enabled for this account")
		case errors.Is(err, service.ErrEnrollmentPending):
			httpx.WriteError(w, http.StatusConflict, "enrollment_pending",
				"An unconfirmed enrollment already exists")
		default:
			log.Error("failed to enroll TOTP", "principal_id", principalID, "err", err)
			httpx.WriteError(w, http.StatusInternalServerError, "server_error",
				"Internal server error")
		}
		return
	}

	httpx.WriteJSON(w, http.StatusOK, totpEnrollResponse{ProvisioningURL: url})
}

// HandleConfirm handles POST /v1/mfa/totp/confirm. Verifies a code against
// the pending secret and switches MFA on.
func (h *MFAHandler) HandleConfirm(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	principalID := httpx.PrincipalIDFromCtx(ctx)
	if principalID == "" {
		httpx.WriteError(w, http.StatusUnauthorized, "invalid_token", "Missing principal")
		return
	}

	var req totpCodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
		return
	}

	if err := h.MFAService.ConfirmEnrollment(ctx, principalID, req.Code); err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidCode):
			httpx.WriteError(w, http.StatusBadRequest, "invalid_code",
				"Invalid verification code")
		case errors.Is(err, service.ErrMFAAlreadyEnabled):
			httpx.WriteError(w, http.StatusBadRequest, "mfa_already_enabled",
				"MFA is already enabled for this account")
		case errors.Is(err, service.ErrMFANotEnabled):
			httpx.WriteError(w, http.StatusBadRequest, "not_enrolled",
				"No pending enrollment, enroll first")
		default:
			log.Error("failed to confirm TOTP enrollment", "principal_id", principalID, "err", err)
			httpx.WriteError(w, http.StatusInternalServerError, "server_error",
				"Internal server error")
		}
		return
	}

	httpx.WriteJSON(w, http.StatusOK, map[string]string{
		"message": "MFA enabled",
	})
}

// HandleRemove handles DELETE /v1/mfa/totp. Requires a current code so a
// stolen session alone cannot weaken the account.
func (h *MFAHandler) HandleRemove(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	principalID := httpx.PrincipalIDFromCtx(ctx)
	if principalID == "" {
		httpx.WriteError(w, http.StatusUnauthorized, "invalid_token", "Missing principal")
		return
	}

	var req totpCodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
		return
	}

	if err := h.MFAService.Disable(ctx, principalID, req.Code); err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidCode):
			httpx.WriteError(w, http.StatusBadRequest, "invalid_code",
				"Invalid verification code")
		case errors.Is(err, service.ErrMFANotEnabled):
			httpx.WriteError(w, http.StatusBadRequest, "mfa_not_enabled",
				"MFA is not enabled for this account")
		default:
			log.Error("failed to remove MFA", "principal_id", principalID, "err", err)
			httpx.WriteError(w, http.StatusInternalServerError, "server_error",
				"Internal server error")
		}
		return
	}

	httpx.WriteJSON(w, http.StatusOK, map[string]string{
		"message": "MFA removed",
	})
}
