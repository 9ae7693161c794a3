// Package middleware provides HTTP middleware for the agent relay API.
package middleware

import "net/http"

// CORS returns middleware that handles CORS headers. Basic-auth clients need
// the Authorization header allowed on preflight.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	wildcard := false
	explicit := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		if o == "*" {
			wildcard = true
			continue
		}
		explicit[o] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			_, isExplicit := explicit[origin]

			if origin != "" && (wildcard || isExplicit) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
				w.Header().Add("Vary", "Origin")
				// Credentials only for explicit origins; echoing a wildcard with credentials enables CSRF.
				if isExplicit {
					w.Header().Set("Access-Control-Allow-Credentials", "true")
				}
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
