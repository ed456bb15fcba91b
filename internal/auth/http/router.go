package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/optistrat/adminauth/internal/auth/domain"
	"github.com/optistrat/adminauth/internal/auth/service"
	"github.com/optistrat/adminauth/internal/auth/store"
	"github.com/optistrat/adminauth/pkg/httpx"
	"github.com/optistrat/adminauth/pkg/jwtx"
	"github.com/optistrat/adminauth/pkg/slogx"
)

// Router holds shared dependencies for HTTP handlers.
type Router struct {
	Mux         *http.ServeMux
	middlewares []httpx.Middleware

	keys         *jwtx.KeySet
	verifier     jwtx.Verifier
	buildVersion string
	startTime    time.Time
	logger       *slog.Logger

	store           store.Store
	LoginService    *service.LoginService
	MFAService      *service.MFAService
	ThrottleService *service.ThrottleService

	// ThrottlePolicies are the named budgets the check endpoint accepts.
	ThrottlePolicies map[string]domain.ThrottlePolicy
}

func NewRouter(
	keys *jwtx.KeySet,
	verifier jwtx.Verifier,
	buildVersion string,
	st store.Store,
	logger *slog.Logger,
) *Router {
	r := &Router{
		Mux:          http.NewServeMux(),
		keys:         keys,
		verifier:     verifier,
		buildVersion: buildVersion,
		startTime:    time.Now(),
		store:        st,
		logger:       logger,
	}

	// Set default middleware chain
	r.middlewares = []httpx.Middleware{
		slogx.HTTPMiddleware(r.logger),
	}

	return r
}

func (r *Router) ApplyRoutes() {
	r.registerLogin()
	r.registerMFA()
	r.registerRateLimit()
	r.registerSystem()
}

// ServeHTTP implements http.Handler for Router and applies the global middleware chain.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	httpx.Chain(r.Mux, r.middlewares...).ServeHTTP(w, req)
}

func (r *Router) registerLogin() {
	h := &LoginHandler{LoginService: r.LoginService}

	// POST /v1/login - strict transport-level limit by IP; the durable
	// attempt throttle inside LoginService is the real gate, this just
	// sheds floods before they reach the database.
	r.Mux.Handle("POST /v1/login",
		httpx.Chain(http.HandlerFunc(h.HandleLogin),
			httpx.RateLimitByIP(httpx.StrictLimit),
		),
	)

	// POST /v1/login/mfa - strict limit by IP (TOTP brute force surface)
	r.Mux.Handle("POST /v1/login/mfa",
		httpx.Chain(http.HandlerFunc(h.HandleSecondFactor),
			httpx.RateLimitByIP(httpx.StrictLimit),
		),
	)
}

func (r *Router) registerMFA() {
	h := &MFAHandler{MFAService: r.MFAService}

	// POST /mfa/totp/enroll - admin-only, moderate limit by principal
	securedEnroll := httpx.Chain(http.HandlerFunc(h.HandleEnroll),
		httpx.AuthnMiddleware(r.verifier),
		httpx.RequireRole(domain.RoleAdmin, domain.RoleEditor),
		httpx.RateLimitByPrincipal(httpx.ModerateLimit),
	)

	// POST /mfa/totp/confirm - strict limit by principal (code guessing)
	securedConfirm := httpx.Chain(http.HandlerFunc(h.HandleConfirm),
		httpx.AuthnMiddleware(r.verifier),
		httpx.RequireRole(domain.RoleAdmin, domain.RoleEditor),
		httpx.RateLimitByPrincipal(httpx.StrictLimit),
	)

	// DELETE /mfa/totp - requires a session that actually passed MFA
	securedRemove := httpx.Chain(http.HandlerFunc(h.HandleRemove),
		httpx.AuthnMiddleware(r.verifier),
		httpx.RequireRole(domain.RoleAdmin, domain.RoleEditor),
		httpx.RequireMFA(),
		httpx.RateLimitByPrincipal(httpx.StrictLimit),
	)

	r.Mux.Handle("POST /v1/mfa/totp/enroll", securedEnroll)
	r.Mux.Handle("POST /v1/mfa/totp/confirm", securedConfirm)
	r.Mux.Handle("DELETE /v1/mfa/totp", securedRemove)
}

func (r *Router) registerRateLimit() {
	h := &RateLimitHandler{
		ThrottleService: r.ThrottleService,
		Policies:        r.ThrottlePolicies,
	}

	// POST /v1/ratelimit/check - consulted by sibling services (e.g. the
	// chat-widget proxy) before doing work on behalf of an origin.
	r.Mux.Handle("POST /v1/ratelimit/check",
		httpx.Chain(http.HandlerFunc(h.HandleCheck),
			httpx.RateLimitByIP(httpx.LenientLimit),
		),
	)
}

func (r *Router) registerSystem() {
	// Health check endpoints - lenient rate limits (monitoring systems may poll frequently)
	r.Mux.Handle("GET /livez",
		httpx.Chain(LivezHandler(r.startTime, r.buildVersion),
			httpx.RateLimitByIP(httpx.LenientLimit),
		),
	)
	r.Mux.Handle("GET /readyz",
		httpx.Chain(ReadyzHandler(r.startTime, r.buildVersion, r.store, r.keys),
			httpx.RateLimitByIP(httpx.LenientLimit),
		),
	)
}
