package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/ovaphlow/pitchfork/service-auth-go-stdlib/internal/token"
)

type claimsKey struct{}

// ClaimsFromContext returns the access-token claims set by RequireAccessToken.
func ClaimsFromContext(ctx context.Context) (*token.Claims, bool) {
	c, ok := ctx.Value(claimsKey{}).(*token.Claims)
	return c, ok
}

// accessTokenFrom prefers the Authorization bearer header over the cookie.
func accessTokenFrom(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); len(auth) > 7 && strings.EqualFold(auth[:7], "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	if c, err := r.Cookie(AccessCookieName); err == nil {
		return c.Value
	}
	return ""
}

// RequireAccessToken rejects requests without a valid access token: 401 when
// none is presented, 403 when it fails verification.
func (h *Handler) RequireAccessToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := accessTokenFrom(r)
		if raw == "" {
			h.writeJSON(w, http.StatusUnauthorized, messageResponse{Message: "Access denied. No token provided."})
			return
		}
		claims, err := h.svc.Authenticate(raw)
		if err != nil {
			h.logger.Debugw("access token rejected", "path", r.URL.Path, "err", err)
			h.writeJSON(w, http.StatusForbidden, messageResponse{Message: "Invalid or expired token"})
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey{}, claims)))
	})
}
