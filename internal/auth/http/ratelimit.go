package http

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/optistrat/adminauth/internal/auth/domain"
	"github.com/optistrat/adminauth/internal/auth/service"
	"github.com/optistrat/adminauth/pkg/httpx"
)

// RateLimitHandler exposes the durable attempt throttle to sibling
// services. The chat-widget proxy checks in here before forwarding a
// message so abusive origins are cut off with the same bookkeeping the
// login flow uses.
type RateLimitHandler struct {
	ThrottleService *service.ThrottleService
	Policies        map[string]domain.ThrottlePolicy
}

type rateLimitCheckRequest struct {
	// Policy names a configured budget, e.g. "chat". Defaults to "chat"
	// when omitted since that is the only external consumer today.
	Policy string `json:"policy"`
}

type rateLimitCheckResponse struct {
	Allowed        bool  `json:"allowed"`
	Remaining      int   `json:"remaining"`
	ResetInSeconds int64 `json:"reset_in_seconds"`
}

// HandleCheck handles POST /v1/ratelimit/check. Each call counts as one
// attempt for the calling origin under the named policy.
func (h *RateLimitHandler) HandleCheck(w http.ResponseWriter, r *http.Request) {
	var req rateLimitCheckRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
			return
		}
	}
	if req.Policy == "" {
		req.Policy = domain.DefaultChatPolicy.Endpoint
	}

	policy, ok := h.Policies[req.Policy]
	if !ok {
		httpx.WriteError(w, http.StatusBadRequest, "unknown_policy",
			"No such rate limit policy: "+req.Policy)
		return
	}

	origin := httpx.IPKeyExtractor(r)
	decision := h.ThrottleService.Check(r.Context(), origin, policy)

	resetIn := int64(decision.ResetIn.Seconds())
	body := rateLimitCheckResponse{
		Allowed:        decision.Allowed,
		Remaining:      decision.Remaining,
		ResetInSeconds: resetIn,
	}

	if !decision.Allowed {
		if resetIn < 1 {
			resetIn = 1
		}
		w.Header().Set("Retry-After", strconv.FormatInt(resetIn, 10))
		httpx.WriteJSON(w, http.StatusTooManyRequests, body)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, body)
}
