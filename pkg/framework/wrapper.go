package framework

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/cloudevents/sdk-go/v2/event"
	"github.com/google/uuid"

	"github.com/trailblazerplus/server/pkg/bootstrap"
	"github.com/trailblazerplus/server/pkg/infrastructure/sentry"
	"github.com/trailblazerplus/server/pkg/types"
)

// FrameworkContext contains dependencies injected by the framework
type FrameworkContext struct {
	Service     *bootstrap.Service
	Logger      *slog.Logger
	ExecutionID string
}

// HandlerFunc is the signature for a cloud function handler
type HandlerFunc func(ctx context.Context, e event.Event, fwCtx *FrameworkContext) (interface{}, error)

// HTTPHandlerFunc is the signature for an HTTP-triggered function
type HTTPHandlerFunc func(w http.ResponseWriter, r *http.Request, fwCtx *FrameworkContext)

// WrapCloudEvent wraps a handler with per-invocation logging and error reporting.
// Returning an error from the wrapped function makes Pub/Sub redeliver.
func WrapCloudEvent(serviceName string, svc *bootstrap.Service, handler HandlerFunc) func(context.Context, event.Event) error {
	return func(ctx context.Context, e event.Event) error {
		fwCtx := newContext(serviceName, svc)
		meta := extractEventMetadata(e)
		logger := fwCtx.Logger.With("event_id", e.ID(), "event_type", e.Type())
		if meta.EntryID != "" {
			logger = logger.With("entry_id", meta.EntryID)
		}
		if meta.UserID != "" {
			logger = logger.With("user_id", meta.UserID)
		}
		fwCtx.Logger = logger

		defer sentry.RecoverAndCapture(logger)

		start := time.Now()
		logger.Info("Function started")

		outputs, err := handler(ctx, e, fwCtx)
		if err != nil {
			sentry.CaptureException(err, map[string]string{
				"service":      serviceName,
				"execution_id": fwCtx.ExecutionID,
			}, logger)
			logger.Error("Function failed", "error", err, "duration_ms", time.Since(start).Milliseconds())
			return err
		}

		logger.Info("Function completed successfully", "outputs", outputs, "duration_ms", time.Since(start).Milliseconds())
		return nil
	}
}

// WrapHTTP wraps an HTTP handler with the same logging and Sentry reporting.
func WrapHTTP(serviceName string, svc *bootstrap.Service, handler HTTPHandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		fwCtx := newContext(serviceName, svc)
		fwCtx.Logger = fwCtx.Logger.With("method", r.Method, "path", r.URL.Path)

		inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			handler(w, r, fwCtx)
		})
		sentry.Middleware(inner).ServeHTTP(w, r)
	}
}

func newContext(serviceName string, svc *bootstrap.Service) *FrameworkContext {
	logger := svc.Logger
	if logger == nil {
		logger = bootstrap.NewLogger(serviceName)
	}
	execID := uuid.NewString()
	return &FrameworkContext{
		Service:     svc,
		Logger:      logger.With("service", serviceName, "execution_id", execID),
		ExecutionID: execID,
	}
}

type eventMetadata struct {
	EntryID string
	UserID  string
}

// extractEventMetadata pulls correlation ids out of a Pub/Sub envelope or a
// bare JSON payload. Missing fields are left empty.
func extractEventMetadata(e event.Event) eventMetadata {
	var meta eventMetadata

	payload := e.Data()
	var msg types.PubSubMessage
	if err := json.Unmarshal(payload, &msg); err == nil && len(msg.Message.Data) > 0 {
		payload = msg.Message.Data
	}

	var fields map[string]interface{}
	if err := json.Unmarshal(payload, &fields); err != nil {
		return meta
	}
	if id, ok := fields["entry_id"].(string); ok {
		meta.EntryID = id
	}
	if uid, ok := fields["user_id"].(string); ok {
		meta.UserID = uid
	}
	if uid, ok := fields["userId"].(string); ok {
		meta.UserID = uid
	}
	return meta
}
