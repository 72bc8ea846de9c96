package stravawebhook

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"

	"github.com/trailblazerplus/server/pkg/bootstrap"
	"github.com/trailblazerplus/server/pkg/framework"
)

const serviceName = "strava-webhook"

var (
	svc      *bootstrap.Service
	receiver http.Handler
	svcOnce  sync.Once
	svcErr   error
)

func init() {
	functions.HTTP("StravaWebhook", StravaWebhook)
}

func initService(ctx context.Context) (*bootstrap.Service, error) {
	svcOnce.Do(func() {
		baseSvc, err := bootstrap.NewService(ctx, serviceName)
		if err != nil {
			slog.Error("Failed to initialize service", "error", err)
			svcErr = err
			return
		}
		svc = baseSvc
		receiver = baseSvc.Receiver()
	})
	return svc, svcErr
}

// StravaWebhook is the entry point for the Strava push subscription.
func StravaWebhook(w http.ResponseWriter, r *http.Request) {
	svc, err := initService(r.Context())
	if err != nil {
		http.Error(w, "Service unavailable", http.StatusInternalServerError)
		return
	}
	framework.WrapHTTP(serviceName, svc, webhookHandler(receiver))(w, r)
}

// webhookHandler answers the handshake and enqueues events.
func webhookHandler(receiver http.Handler) framework.HTTPHandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, fwCtx *framework.FrameworkContext) {
		fwCtx.Logger.Debug("Strava webhook request")
		receiver.ServeHTTP(w, r)
	}
}
