package ratelimit

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	limiter "github.com/ulule/limiter/v3"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func serve(h http.Handler, remote string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/applicable-coupons", nil)
	req.RemoteAddr = remote
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestMiddlewareEnforcesLimitPerIP(t *testing.T) {
	store, err := NewStore(nil, "test")
	require.NoError(t, err)
	l, err := New(store, "2-M", false)
	require.NoError(t, err)
	h := Handler{Limiter: l}.Middleware(okHandler())

	require.Equal(t, http.StatusOK, serve(h, "10.0.0.1:1234").Code)
	rr := serve(h, "10.0.0.1:1234")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "0", rr.Header().Get("X-RateLimit-Remaining"))

	limited := serve(h, "10.0.0.1:1234")
	require.Equal(t, http.StatusTooManyRequests, limited.Code)
	require.Equal(t, "2", limited.Header().Get("X-RateLimit-Limit"))
	require.NotEmpty(t, limited.Header().Get("Retry-After"))
	require.Contains(t, limited.Body.String(), "RATE_LIMITED")

	require.Equal(t, http.StatusOK, serve(h, "10.0.0.2:1234").Code)
}

func TestMiddlewareWithRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store, err := NewStore(client, "")
	require.NoError(t, err)
	l, err := New(store, "1-H", false)
	require.NoError(t, err)
	h := Handler{Limiter: l}.Middleware(okHandler())

	require.Equal(t, http.StatusOK, serve(h, "10.0.0.9:80").Code)
	require.Equal(t, http.StatusTooManyRequests, serve(h, "10.0.0.9:80").Code)
}

type failingStore struct {
	limiter.Store
}

func (failingStore) Get(context.Context, string, limiter.Rate) (limiter.Context, error) {
	return limiter.Context{}, errors.New("store down")
}

func TestMiddlewareFailsOpen(t *testing.T) {
	l, err := New(failingStore{}, "1-S", false)
	require.NoError(t, err)

	var reported error
	h := Handler{Limiter: l, OnError: func(err error) { reported = err }}.Middleware(okHandler())

	require.Equal(t, http.StatusOK, serve(h, "10.0.0.1:1").Code)
	require.EqualError(t, reported, "store down")
}

func TestNewRejectsBadRate(t *testing.T) {
	store, err := NewStore(nil, "")
	require.NoError(t, err)
	_, err = New(store, "lots", false)
	require.Error(t, err)
}
