// Package middleware provides HTTP middleware for the control API.
package middleware

import (
	"crypto/subtle"
	"net/http"
)

// APIKeyHeader carries the control API key.
const APIKeyHeader = "X-API-Key"

// APIKey returns middleware that requires the X-API-Key header when enabled.
// The key is never read from the query string, which ends up in logs.
// /health stays open for supervisors.
func APIKey(enabled bool, key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !enabled {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/health" {
				next.ServeHTTP(w, r)
				return
			}

			got := r.Header.Get(APIKeyHeader)
			if key == "" || subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
				writeErrorResponse(w, http.StatusUnauthorized, "Invalid or missing API key")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
