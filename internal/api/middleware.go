// Package api implements the duetology REST API using chi.
package api

import (
	"net/http"
	"strings"
)

// DeviceHeader carries the anonymous client identity used by the vote guard.
const DeviceHeader = "X-Device-ID"

// AuthMiddleware returns middleware that validates a Bearer token.
// If enabled is false, all requests pass through (disabled mode).
// If enabled is true, requests must carry a valid "Authorization: Bearer <token>" header.
func AuthMiddleware(enabled bool, token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !enabled {
				next.ServeHTTP(w, r)
				return
			}
			auth := r.Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") || strings.TrimPrefix(auth, "Bearer ") != token {
				writeJSON(w, http.StatusUnauthorized, errorBody("unauthorized"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireDevice rejects requests without a device header.
func RequireDevice(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.TrimSpace(r.Header.Get(DeviceHeader)) == "" {
			writeJSON(w, http.StatusBadRequest, errorBody(DeviceHeader+" header is required"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func deviceID(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(DeviceHeader))
}
