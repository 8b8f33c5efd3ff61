package middleware

import "net/http"

// CORSConfig controls which origins CorsMiddleware allows.
type CORSConfig struct {
	// AllowedOrigins is the exact set of allowed Origin header values. An
	// entry of "*" allows any origin.
	AllowedOrigins []string
}

func (c CORSConfig) allows(origin string) bool {
	if origin == "" {
		return false
	}
	for _, o := range c.AllowedOrigins {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}

// CorsMiddleware wraps next with permissive CORS headers for the configured
// origins, answering preflight OPTIONS requests directly.
func CorsMiddleware(next http.Handler, cfg CORSConfig) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if cfg.allows(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Vary", "Origin")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
