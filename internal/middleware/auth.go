package middleware

import (
	"crypto/subtle"
	"net/http"
)

const adminSecretHeader = "X-Admin-Secret"

// AdminAuth guards admin routes with a static shared secret. The comparison
// is constant-time; an empty configured secret disables admin access
// entirely rather than leaving it open.
func AdminAuth(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret == "" {
				http.Error(w, "admin access disabled", http.StatusForbidden)
				return
			}
			provided := r.Header.Get(adminSecretHeader)
			if subtle.ConstantTimeCompare([]byte(provided), []byte(secret)) != 1 {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
