package httpx

import (
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

const AdminKeyHeader = "X-Admin-Key"

// RequireAdminKey checks X-Admin-Key (or a Bearer token) against a bcrypt hash.
// An empty hash disables the check.
func RequireAdminKey(bcryptHash string) Middleware {
	hash := []byte(strings.TrimSpace(bcryptHash))
	return func(next http.Handler) http.Handler {
		if len(hash) == 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := strings.TrimSpace(r.Header.Get(AdminKeyHeader))
			if key == "" {
				if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
					key = strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
				}
			}
			if key == "" {
				http.Error(w, "missing admin key", http.StatusUnauthorized)
				return
			}
			if err := bcrypt.CompareHashAndPassword(hash, []byte(key)); err != nil {
				http.Error(w, "invalid admin key", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
