package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"net/http"
	"strings"

	pkghttp "github.com/BradenHooton/attemptguard/pkg/http"
)

// RequireAdminToken guards operator endpoints with a static bearer token.
// An empty token disables the endpoints entirely.
func RequireAdminToken(token string) func(next http.Handler) http.Handler {
	want := sha256.Sum256([]byte(token))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" {
				pkghttp.WriteNotFound(w, "Not found")
				return
			}

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				pkghttp.WriteUnauthorized(w, "Missing authorization header")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				pkghttp.WriteUnauthorized(w, "Invalid authorization header format")
				return
			}

			// hash both sides so the comparison does not leak the token length
			got := sha256.Sum256([]byte(strings.TrimSpace(parts[1])))
			if subtle.ConstantTimeCompare(got[:], want[:]) != 1 {
				pkghttp.WriteUnauthorized(w, "Invalid admin token")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
