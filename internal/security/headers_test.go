package security

import (
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func serve(h Headers, req *http.Request) http.Header {
	rr := httptest.NewRecorder()
	h.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})).ServeHTTP(rr, req)
	return rr.Result().Header
}

func TestHeadersOverTLS(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "https://coupons.example/api/v1/coupons", nil)
	req.TLS = &tls.ConnectionState{}

	headers := serve(Headers{HSTS: true, NoStore: true}, req)
	require.Equal(t, "nosniff", headers.Get("X-Content-Type-Options"))
	require.Equal(t, "no-store", headers.Get("Cache-Control"))
	require.Equal(t, "max-age=31536000; includeSubDomains", headers.Get("Strict-Transport-Security"))
}

func TestHeadersForwardedProto(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "http://coupons.example/health/live", nil)
	req.Header.Set("X-Forwarded-Proto", "https")

	headers := serve(Headers{HSTS: true, HSTSMaxAge: 60}, req)
	require.Equal(t, "max-age=60; includeSubDomains", headers.Get("Strict-Transport-Security"))
	require.Empty(t, headers.Get("Cache-Control"))
}

func TestHeadersPlainHTTP(t *testing.T) {
	headers := serve(Headers{HSTS: true}, httptest.NewRequest(http.MethodGet, "http://coupons.example/", nil))
	require.Empty(t, headers.Get("Strict-Transport-Security"))
	require.Equal(t, "DENY", headers.Get("X-Frame-Options"))
}
