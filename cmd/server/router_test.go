package main

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trailblazerplus/server/pkg/bootstrap"
	"github.com/trailblazerplus/server/pkg/infrastructure/identity"
	"github.com/trailblazerplus/server/pkg/storage/memory"
)

func testService() *bootstrap.Service {
	return &bootstrap.Service{
		DB:       memory.New(),
		Identity: identity.DevVerifier{},
		Config:   &bootstrap.Config{StravaVerifyToken: "verify-me", Port: "0"},
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func TestRouter_Operational(t *testing.T) {
	h := newRouter(testService())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestRouter_WebhookChallenge(t *testing.T) {
	h := newRouter(testService())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/strava/webhook?hub.mode=subscribe&hub.verify_token=verify-me&hub.challenge=abc", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"hub.challenge":"abc"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/strava/webhook", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestRouter_Callables(t *testing.T) {
	h := newRouter(testService())

	req := httptest.NewRequest(http.MethodPost, "/strava/status", strings.NewReader(`{"data":{}}`))
	req.Header.Set("Authorization", "Bearer u1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"connected":false`)
}
