package common_test

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/coupon-engine/internal/common"
)

func TestWriteAppErrorUsesWrappedAppError(t *testing.T) {
	appErr := common.NewAppError("COUPON_EXPIRED", "coupon has expired", http.StatusBadRequest, errors.New("expired")).
		WithDetails(map[string]string{"id": "9"})
	rr := httptest.NewRecorder()
	common.WriteAppError(rr, fmt.Errorf("apply: %w", appErr))

	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.JSONEq(t, `{"error":{"code":"COUPON_EXPIRED","message":"coupon has expired","details":{"id":"9"}}}`, rr.Body.String())
}

func TestWriteAppErrorHidesUnknownErrors(t *testing.T) {
	rr := httptest.NewRecorder()
	common.WriteAppError(rr, errors.New("pq: connection refused"))

	require.Equal(t, http.StatusInternalServerError, rr.Code)
	require.NotContains(t, rr.Body.String(), "connection refused")
	require.Contains(t, rr.Body.String(), `"INTERNAL"`)
}

func TestHasRole(t *testing.T) {
	ctx := common.WithRoles(t.Context(), []string{"viewer", "admin"})
	require.True(t, common.HasRole(ctx, "admin"))
	require.False(t, common.HasRole(t.Context(), "admin"))

	ctx = common.WithSubject(ctx, "ops")
	sub, ok := common.Subject(ctx)
	require.True(t, ok)
	require.Equal(t, "ops", sub)
}
