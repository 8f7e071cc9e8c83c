package auth

import (
	"net/http"
	"strings"

	"github.com/noah-isme/coupon-engine/internal/common"
)

// AdminRole is the role required by administrative endpoints.
const AdminRole = "admin"

// Middleware wires token verification into HTTP handlers.
type Middleware struct {
	Verifier Verifier
}

// RequireAdmin rejects requests without a valid bearer token carrying the
// admin role, and records the principal on the request context otherwise.
func (m Middleware) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, err := m.Verifier.Verify(bearerToken(r))
		if err != nil {
			common.WriteAppError(w, err)
			return
		}
		ctx := common.WithSubject(r.Context(), claims.Subject)
		ctx = common.WithRoles(ctx, claims.Roles)
		if !common.HasRole(ctx, AdminRole) {
			common.JSONError(w, http.StatusForbidden, "FORBIDDEN", "admin role required", nil)
			return
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}
