package middleware

import (
	"net/http"
	"strconv"
	"strings"
)

const defaultCORSMaxAgeSeconds = 600

var (
	// corsRequestHeaders are the headers the dashboard sends.
	corsRequestHeaders = []string{
		"Accept",
		"Authorization",
		"Content-Type",
		"Idempotency-Key",
		"X-Request-Id",
	}
	corsExposedHeaders = []string{
		"Retry-After",
		"X-Request-Id",
	}
)

// CORSConfig admits the dashboard origins. AllowedMethods is the method set
// of the route table; preflights asking for anything else are refused.
type CORSConfig struct {
	AllowedOrigins []string
	AllowedMethods []string
	MaxAgeSeconds  int
}

func CORS(cfg CORSConfig) func(http.Handler) http.Handler {
	allowedOrigins := normalizeStringList(cfg.AllowedOrigins)
	allowAnyOrigin := containsFold(allowedOrigins, "*")

	allowedMethods := normalizeStringList(cfg.AllowedMethods)
	if len(allowedMethods) == 0 {
		allowedMethods = []string{http.MethodGet}
	}

	maxAgeSeconds := cfg.MaxAgeSeconds
	if maxAgeSeconds <= 0 {
		maxAgeSeconds = defaultCORSMaxAgeSeconds
	}

	allowMethodsValue := strings.Join(allowedMethods, ", ")
	allowHeadersValue := strings.Join(corsRequestHeaders, ", ")
	exposeHeadersValue := strings.Join(corsExposedHeaders, ", ")
	maxAgeValue := strconv.Itoa(maxAgeSeconds)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := strings.TrimSpace(r.Header.Get("Origin"))
			if origin == "" || (!allowAnyOrigin && !containsFold(allowedOrigins, origin)) {
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Add("Vary", "Origin")
			if allowAnyOrigin {
				w.Header().Set("Access-Control-Allow-Origin", "*")
			} else {
				w.Header().Set("Access-Control-Allow-Origin", origin)
			}

			requestedMethod := r.Header.Get("Access-Control-Request-Method")
			if r.Method != http.MethodOptions || requestedMethod == "" {
				w.Header().Set("Access-Control-Expose-Headers", exposeHeadersValue)
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Add("Vary", "Access-Control-Request-Method")
			w.Header().Add("Vary", "Access-Control-Request-Headers")
			if !containsFold(allowedMethods, requestedMethod) {
				writeError(w, r, http.StatusForbidden, "cors_rejected", "method "+requestedMethod+" is not served")
				return
			}
			if header, ok := unknownHeader(r.Header.Get("Access-Control-Request-Headers")); !ok {
				writeError(w, r, http.StatusForbidden, "cors_rejected", "header "+header+" is not accepted")
				return
			}

			w.Header().Set("Access-Control-Allow-Methods", allowMethodsValue)
			w.Header().Set("Access-Control-Allow-Headers", allowHeadersValue)
			w.Header().Set("Access-Control-Max-Age", maxAgeValue)
			w.WriteHeader(http.StatusNoContent)
		})
	}
}

// unknownHeader returns the first requested header outside
// corsRequestHeaders.
func unknownHeader(requested string) (string, bool) {
	for _, header := range strings.Split(requested, ",") {
		header = strings.TrimSpace(header)
		if header != "" && !containsFold(corsRequestHeaders, header) {
			return header, false
		}
	}
	return "", true
}

func normalizeStringList(values []string) []string {
	result := make([]string, 0, len(values))
	for _, raw := range values {
		value := strings.TrimSpace(raw)
		if value == "" {
			continue
		}
		result = append(result, value)
	}
	return result
}

func containsFold(values []string, target string) bool {
	for _, value := range values {
		if strings.EqualFold(value, target) {
			return true
		}
	}
	return false
}
