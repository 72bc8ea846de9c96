package sentry

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/getsentry/sentry-go"
)

func TestScrub(t *testing.T) {
	ev := &sentry.Event{Request: &sentry.Request{
		Headers:     map[string]string{"Authorization": "Bearer x", "Cookie": "c", "Accept": "json"},
		QueryString: "hub.verify_token=secret",
		Data:        `{"code":"abc"}`,
	}}

	out := scrub(ev, nil)
	if _, ok := out.Request.Headers["Authorization"]; ok {
		t.Error("Authorization header not scrubbed")
	}
	if _, ok := out.Request.Headers["Cookie"]; ok {
		t.Error("Cookie header not scrubbed")
	}
	if out.Request.Headers["Accept"] != "json" {
		t.Error("Unrelated header removed")
	}
	if out.Request.QueryString != "" || out.Request.Data != "" {
		t.Error("Query string or body not scrubbed")
	}
}

func TestInit_NoDSN(t *testing.T) {
	if err := Init(Config{}, nil); err != nil {
		t.Errorf("Expected nil error without DSN, got %v", err)
	}
	// Capturing without a client is a no-op.
	CaptureException(errors.New("boom"), map[string]string{"user_id": "u1"}, nil)
}

func TestMiddleware_PassesThrough(t *testing.T) {
	h := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/healthz", nil))
	if rec.Code != http.StatusAccepted {
		t.Errorf("Expected 202, got %d", rec.Code)
	}
}
