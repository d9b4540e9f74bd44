package auth

import "net/http"

// Roles, lowest to highest. A token without a role acts as an editor.
const (
	RoleViewer = "viewer"
	RoleEditor = "editor"
	RoleAdmin  = "admin"
)

var roleRank = map[string]int{
	RoleViewer: 1,
	RoleEditor: 2,
	RoleAdmin:  3,
}

// RankOf returns the rank of role; unknown roles rank below viewer.
func RankOf(role string) int {
	if role == "" {
		role = RoleEditor
	}
	return roleRank[role]
}

// RequireRole rejects requests whose token role ranks below min. Requests
// with no claims pass: auth is off when no JWT secret is configured.
func RequireRole(min string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := ClaimsFromContext(r.Context())
			if claims != nil && RankOf(claims.Role) < RankOf(min) {
				writeError(w, http.StatusForbidden, "insufficient permissions: requires "+min)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
