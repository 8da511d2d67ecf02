package rest

import (
	"net"
	"net/http"
	"strings"
)

// CORS opens both endpoints to any origin. The selection and analytics
// APIs are called from embed scripts running on customers' pages, so the
// usual origin allow-list does not apply here.
func CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Request-Id")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientIP keeps it simple: RemoteAddr host part.
// If you are behind a trusted reverse proxy, you may choose to trust
// X-Forwarded-For, but doing so blindly is a spoofing risk.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil && host != "" {
		return host
	}
	return r.RemoteAddr
}
