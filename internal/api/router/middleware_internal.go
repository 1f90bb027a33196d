package router

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

const internalTokenHeader = "X-Internal-Token"

// requireInternalToken guards staff and service-to-service endpoints.
// The token may arrive in X-Internal-Token or as a bearer credential.
// When expected is empty, the middleware is a no-op.
func requireInternalToken(expected string) func(http.Handler) http.Handler {
	expected = strings.TrimSpace(expected)
	return func(next http.Handler) http.Handler {
		if expected == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := strings.TrimSpace(r.Header.Get(internalTokenHeader))
			if token == "" {
				if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
					token = strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
				}
			}
			if token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(expected)) != 1 {
				http.Error(w, "invalid internal token", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
