package core

import (
	"net/http"
	"strconv"
	"strings"
)

// CORSMiddleware creates a CORS middleware handler for HTTP servers.
// It answers preflight (OPTIONS) requests itself and decorates every other
// response whose Origin is allowed.
//
// Supported origin patterns:
//   - "*" for every origin
//   - "*.example.com" for subdomains
//   - "http://localhost:*" for any port
func CORSMiddleware(config *CORSConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if config == nil || !config.Enabled {
				next.ServeHTTP(w, r)
				return
			}

			applyCORSHeaders(w, r.Header.Get("Origin"), config)

			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func applyCORSHeaders(w http.ResponseWriter, origin string, config *CORSConfig) {
	if !isOriginAllowed(origin, config.AllowedOrigins) {
		return
	}

	h := w.Header()
	h.Set("Access-Control-Allow-Origin", origin)
	h.Add("Vary", "Origin")

	if config.AllowCredentials {
		h.Set("Access-Control-Allow-Credentials", "true")
	}
	if len(config.AllowedMethods) > 0 {
		h.Set("Access-Control-Allow-Methods", strings.Join(config.AllowedMethods, ", "))
	}
	if len(config.AllowedHeaders) > 0 {
		h.Set("Access-Control-Allow-Headers", strings.Join(config.AllowedHeaders, ", "))
	}
	if len(config.ExposedHeaders) > 0 {
		h.Set("Access-Control-Expose-Headers", strings.Join(config.ExposedHeaders, ", "))
	}
	if config.MaxAge > 0 {
		h.Set("Access-Control-Max-Age", strconv.Itoa(config.MaxAge))
	}
}

// isOriginAllowed matches origin against the configured patterns.
// An empty origin (same-origin request) never matches.
func isOriginAllowed(origin string, allowedOrigins []string) bool {
	if origin == "" {
		return false
	}

	for _, allowed := range allowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}

		// Wildcard subdomain, e.g. https://*.example.com
		if idx := strings.Index(allowed, "*."); idx >= 0 {
			prefix, suffix := allowed[:idx], allowed[idx+1:] // suffix keeps the leading dot
			if strings.HasPrefix(origin, prefix) && strings.HasSuffix(origin, suffix) {
				sub := strings.TrimSuffix(origin[len(prefix):], suffix)
				if sub != "" {
					return true
				}
			}
		}

		// Wildcard port, e.g. http://localhost:*
		if base, ok := strings.CutSuffix(allowed, ":*"); ok {
			if port, found := strings.CutPrefix(origin, base+":"); found && isDigits(port) {
				return true
			}
		}
	}

	return false
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
