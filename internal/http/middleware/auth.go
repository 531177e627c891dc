package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

type AuthConfig struct {
	Token string
	// ProtectedPrefixes defaults to the versioned API.
	ProtectedPrefixes []string
}

// Auth requires a bearer token on protected paths. With an empty token every
// request is treated as authenticated.
func Auth(cfg AuthConfig) func(http.Handler) http.Handler {
	prefixes := normalizeStringList(cfg.ProtectedPrefixes)
	if len(prefixes) == 0 {
		prefixes = []string{"/v1/"}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if cfg.Token == "" || !hasAnyPrefix(r.URL.Path, prefixes) {
				next.ServeHTTP(w, r)
				return
			}

			authorization := r.Header.Get("Authorization")
			const prefix = "Bearer "
			if !strings.HasPrefix(authorization, prefix) {
				writeUnauthorized(w, r)
				return
			}

			token := strings.TrimSpace(strings.TrimPrefix(authorization, prefix))
			if token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(cfg.Token)) != 1 {
				writeUnauthorized(w, r)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func hasAnyPrefix(path string, prefixes []string) bool {
	for _, prefix := range prefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func writeUnauthorized(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	writeError(w, r, http.StatusUnauthorized, "unauthorized", "authentication required")
}
