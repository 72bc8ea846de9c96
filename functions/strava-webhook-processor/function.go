package stravawebhookprocessor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	"github.com/cloudevents/sdk-go/v2/event"

	"github.com/trailblazerplus/server/pkg/bootstrap"
	"github.com/trailblazerplus/server/pkg/framework"
	infrapubsub "github.com/trailblazerplus/server/pkg/infrastructure/pubsub"
)

const serviceName = "strava-webhook-processor"

var (
	svc     *bootstrap.Service
	svcOnce sync.Once
	svcErr  error
)

func init() {
	functions.CloudEvent("ProcessStravaWebhook", ProcessStravaWebhook)
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
	})
	return svc, svcErr
}

// EntryProcessor drains one queue entry.
type EntryProcessor interface {
	ProcessEntry(ctx context.Context, entryID string) error
}

// ProcessStravaWebhook is triggered by the queue notification topic.
func ProcessStravaWebhook(ctx context.Context, e event.Event) error {
	svc, err := initService(ctx)
	if err != nil {
		return fmt.Errorf("service init failed: %v", err)
	}
	return framework.WrapCloudEvent(serviceName, svc, processHandler(svc.Processor()))(ctx, e)
}

// processHandler returns an error only when the entry could not be read or
// marked, so Pub/Sub redelivers. Processing failures are recorded on the entry.
func processHandler(p EntryProcessor) framework.HandlerFunc {
	return func(ctx context.Context, e event.Event, fwCtx *framework.FrameworkContext) (interface{}, error) {
		entryID, err := infrapubsub.DecodeQueueNotification(e)
		if err != nil {
			// Redelivery cannot repair a malformed notification.
			fwCtx.Logger.Error("Dropping malformed queue notification", "error", err)
			return map[string]interface{}{"status": "skipped"}, nil
		}

		if err := p.ProcessEntry(ctx, entryID); err != nil {
			return nil, err
		}
		return map[string]interface{}{"entry_id": entryID}, nil
	}
}
