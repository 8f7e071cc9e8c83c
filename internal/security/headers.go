// Package security sets response hardening headers on the coupon API.
package security

import (
	"net/http"
	"strconv"
)

// Headers configures response hardening. Priced carts and rankings depend on
// the submitted body, so API responses are never cacheable.
type Headers struct {
	HSTS       bool
	HSTSMaxAge int
	NoStore    bool
}

// Middleware attaches the configured headers to every response.
func (h Headers) Middleware(next http.Handler) http.Handler {
	hsts := ""
	if h.HSTS {
		maxAge := h.HSTSMaxAge
		if maxAge <= 0 {
			maxAge = 31536000
		}
		hsts = "max-age=" + strconv.Itoa(maxAge) + "; includeSubDomains"
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers := w.Header()
		headers.Set("X-Content-Type-Options", "nosniff")
		headers.Set("X-Frame-Options", "DENY")
		headers.Set("Referrer-Policy", "no-referrer")
		if h.NoStore {
			headers.Set("Cache-Control", "no-store")
		}
		if hsts != "" && (r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https") {
			headers.Set("Strict-Transport-Security", hsts)
		}
		next.ServeHTTP(w, r)
	})
}
