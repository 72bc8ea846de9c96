// Package httputil maps provider HTTP responses to typed errors and carries
// the small request/response helpers shared by the HTTP surfaces.
package httputil

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"

	shared "github.com/trailblazerplus/server/pkg"
)

// MaxErrorBodySize is the maximum size of error body kept on an error.
const MaxErrorBodySize = 500

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

// ParseErrorResponse returns nil for 2xx/3xx responses. Otherwise it returns a
// *shared.ProviderAPIError carrying the (truncated) body. The body is re-wrapped
// so the caller can still read it.
func ParseErrorResponse(resp *http.Response) error {
	if resp.StatusCode < 400 {
		return nil
	}

	bodyBytes, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	resp.Body = io.NopCloser(bytes.NewReader(bodyBytes))

	bodyStr := ""
	if err == nil && len(bodyBytes) > 0 {
		bodyStr = truncate(string(bodyBytes), MaxErrorBodySize)
	}

	apiErr := &shared.ProviderAPIError{
		StatusCode: resp.StatusCode,
		Body:       bodyStr,
	}
	if resp.Request != nil && resp.Request.URL != nil {
		apiErr.URL = redactURL(resp.Request.URL.String())
	}
	return apiErr
}

// TransportError wraps a failure where no response was received.
func TransportError(rawURL string, err error) error {
	apiErr := &shared.ProviderAPIError{URL: redactURL(rawURL), Body: err.Error()}

	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		apiErr.Timeout = true
	}
	return apiErr
}

// redactURL drops the query string so tokens passed as parameters never reach logs.
func redactURL(raw string) string {
	if i := strings.IndexByte(raw, '?'); i >= 0 {
		return raw[:i]
	}
	return raw
}

// BearerToken extracts the credential from an Authorization header.
func BearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

// WriteJSON encodes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
