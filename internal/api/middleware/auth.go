package middleware

import (
	"net/http"

	"golang.org/x/crypto/bcrypt"

	"github.com/vanishdb/vanishdb/internal/api/response"
)

// AdminAuth is middleware guarding the admin surface. It compares the
// X-API-Key header against a configured bcrypt hash. Missing or mismatched
// keys return 401.
func AdminAuth(keyHash string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := GetRequestID(r.Context())

			rawKey := r.Header.Get("X-API-Key")
			if rawKey == "" {
				response.Err(w, http.StatusUnauthorized, "UNAUTHORIZED", "API key is required", requestID)
				return
			}

			if bcrypt.CompareHashAndPassword([]byte(keyHash), []byte(rawKey)) != nil {
				response.Err(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid API key", requestID)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
