package httpx

import (
	"net/http"
	"slices"

	"github.com/optistrat/adminauth/pkg/jwtx"
)

// RequireRole the caller's role claim must be one of the provided roles.
func RequireRole(allowed ...string) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			role := roleFromCtx(r.Context())
			if role == "" || !slices.Contains(allowed, role) {
				writeBearerRoleError(w)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireMFA the caller's token must carry the "mfa" authentication method.
// Used to fence MFA management behind a fully verified session.
func RequireMFA() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := r.Context().Value(CtxKeyClaims).(jwtx.Claims)
			if !ok || !slices.Contains(claims.AMR, jwtx.AMRMFA) {
				writeBearerRoleError(w)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeBearerRoleError(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Bearer error="insufficient_scope"`)
	w.WriteHeader(http.StatusForbidden)
	_, _ = w.Write([]byte("forbidden"))
}
