// Package middleware provides HTTP middleware for the incubator API.
package middleware

import (
	"net/http"
	"strings"
)

// CORS returns middleware that answers preflights and sets CORS headers for
// the allowed origins. "*" allows any origin but never with credentials.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	explicit := make(map[string]struct{}, len(allowedOrigins))
	wildcard := false
	for _, o := range allowedOrigins {
		o = strings.TrimRight(strings.TrimSpace(o), "/")
		switch o {
		case "":
		case "*":
			wildcard = true
		default:
			explicit[o] = struct{}{}
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			_, isExplicit := explicit[origin]

			if origin != "" && (isExplicit || wildcard) {
				h := w.Header()
				h.Set("Access-Control-Allow-Origin", origin)
				h.Add("Vary", "Origin")
				h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				h.Set("Access-Control-Allow-Headers", "Content-Type")
				h.Set("Access-Control-Max-Age", "600")
				// The anonymous identity cookie must not be sent to a wildcard match.
				if isExplicit {
					h.Set("Access-Control-Allow-Credentials", "true")
				}
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
