package app

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	_ "github.com/cultiva-erp/cultiva-erp/internal/testing/guard"
	"github.com/cultiva-erp/cultiva-erp/jobs"
)

func newAuthedRouter(t *testing.T, token string) http.Handler {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.MinCost)
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewRouter(RouterParams{
		Logger: logger,
		Config: &Config{
			APITokenHash:       string(hash),
			RateLimitPerMinute: 1000,
			AppRequestTimeout:  5 * time.Second,
		},
		JobHandler: jobs.NewHandler(nil, logger),
	})
}

func TestHealthzIsUnauthenticated(t *testing.T) {
	router := newAuthedRouter(t, "cultiva-api-token")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestAPIRequiresBearerToken(t *testing.T) {
	router := newAuthedRouter(t, "cultiva-api-token")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/jobs/health", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/jobs/health", nil)
	req.Header.Set("Authorization", "Bearer wrong-token")
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/api/jobs/health", nil)
	req.Header.Set("Authorization", "Bearer cultiva-api-token")
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}
