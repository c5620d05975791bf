package middleware

import (
	"net/http"

	"github.com/folioforge/backend/internal/contextkeys"
	"github.com/folioforge/backend/internal/handler"
)

// AdminOnly lets through callers with the admin role or an allowlisted email.
// Must be used AFTER Auth middleware which sets the user in context.
func AdminOnly(isAdminEmail func(email string) bool) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			role, _ := r.Context().Value(contextkeys.UserRole).(string)
			email, _ := r.Context().Value(contextkeys.UserEmail).(string)
			if role != "admin" && (email == "" || !isAdminEmail(email)) {
				handler.JSON(w, http.StatusForbidden, map[string]string{"error": "forbidden: admin access required"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
