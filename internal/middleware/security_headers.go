package middleware

import "net/http"

// SecurityHeadersConfig holds security headers configuration
type SecurityHeadersConfig struct {
	Env string
}

// SecurityHeaders returns a middleware that adds security headers to all
// responses. The service serves JSON to other services, so the set is the
// API-relevant subset; there is no script or style surface to police.
func SecurityHeaders(config SecurityHeadersConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Prevent MIME sniffing of JSON responses
			w.Header().Set("X-Content-Type-Options", "nosniff")

			// The API is never legitimately framed
			w.Header().Set("X-Frame-Options", "DENY")

			// Responses carry usernames and IPs; keep them out of shared caches
			w.Header().Set("Cache-Control", "no-store")

			w.Header().Set("Referrer-Policy", "no-referrer")

			// HSTS only for HTTPS connections in production
			if config.Env == "production" && (r.Header.Get("X-Forwarded-Proto") == "https" || r.URL.Scheme == "https") {
				w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
			}

			next.ServeHTTP(w, r)
		})
	}
}
