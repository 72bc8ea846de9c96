package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	shared "github.com/trailblazerplus/server/pkg"
	httputil "github.com/trailblazerplus/server/pkg/infrastructure/http"
	"github.com/trailblazerplus/server/pkg/types"
)

// statusStream pushes the connection status as server-sent events until the
// client goes away. EventSource cannot set headers, so the id token may also
// arrive as ?token=.
func (h *Handler) statusStream(w http.ResponseWriter, r *http.Request) {
	token := httputil.BearerToken(r)
	if token == "" {
		token = r.URL.Query().Get("token")
	}
	userID, err := h.authenticate(r.Context(), token)
	if err != nil {
		writeError(w, toCallableError(err, ""))
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, &CallableError{Status: StatusInternal, Message: "Streaming unsupported"})
		return
	}

	ctx := r.Context()
	updates, cancel, err := h.subscribe(ctx, userID)
	if err != nil {
		h.logger.Error("status subscribe failed", "user_id", userID, "error", err)
		writeError(w, &CallableError{Status: StatusInternal, Message: "Failed to load Strava status"})
		return
	}
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case status, ok := <-updates:
			if !ok {
				return
			}
			if err := writeEvent(w, "status", status); err != nil {
				h.logger.Debug("status stream write failed", "user_id", userID, "error", err)
				return
			}
			flusher.Flush()
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, name string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data)
	return err
}

// subscribe returns a status feed and its cancel handle, live when the backend
// can push changes and polled otherwise.
func (h *Handler) subscribe(ctx context.Context, userID string) (<-chan types.ConnectionStatus, func(), error) {
	if h.deps.Watcher != nil {
		return h.deps.Watcher.WatchConnection(ctx, userID)
	}

	ctx, cancel := context.WithCancel(ctx)
	ch := make(chan types.ConnectionStatus, 1)
	go h.poll(ctx, userID, ch)
	return ch, cancel, nil
}

func (h *Handler) poll(ctx context.Context, userID string, ch chan<- types.ConnectionStatus) {
	defer close(ch)

	ticker := time.NewTicker(h.pollInterval)
	defer ticker.Stop()

	var last *types.ConnectionStatus
	for {
		user, err := h.deps.Users.GetUser(ctx, userID)
		switch {
		case err == nil || errors.Is(err, shared.ErrUserNotFound):
			status := types.StatusFromUser(user)
			if last == nil || !sameStatus(*last, status) {
				select {
				case ch <- status:
					last = &status
				case <-ctx.Done():
					return
				}
			}
		case ctx.Err() != nil:
			return
		default:
			h.logger.Warn("status poll failed", "user_id", userID, "error", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func sameStatus(a, b types.ConnectionStatus) bool {
	if a.Connected != b.Connected || a.AthleteID != b.AthleteID {
		return false
	}
	if (a.AthleteUsername == nil) != (b.AthleteUsername == nil) {
		return false
	}
	if a.AthleteUsername != nil && *a.AthleteUsername != *b.AthleteUsername {
		return false
	}
	if (a.LastSyncAt == nil) != (b.LastSyncAt == nil) {
		return false
	}
	return a.LastSyncAt == nil || a.LastSyncAt.Equal(*b.LastSyncAt)
}
