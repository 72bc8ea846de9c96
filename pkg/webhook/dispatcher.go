package webhook

import (
	"context"
	"log/slog"
	"sync"

	"github.com/cloudevents/sdk-go/v2/event"

	infrapubsub "github.com/trailblazerplus/server/pkg/infrastructure/pubsub"
)

// LocalDispatcher satisfies shared.Publisher by processing queue
// notifications in-process. It stands in for Pub/Sub when publishing is off.
type LocalDispatcher struct {
	processor *Processor
	logger    *slog.Logger
	wg        sync.WaitGroup
	baseCtx   context.Context
}

// NewLocalDispatcher creates a dispatcher. Processing runs on baseCtx, not
// the request context, so it outlives the webhook response.
func NewLocalDispatcher(baseCtx context.Context, processor *Processor, logger *slog.Logger) *LocalDispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &LocalDispatcher{processor: processor, logger: logger.With("component", "dispatcher"), baseCtx: baseCtx}
}

func (d *LocalDispatcher) PublishCloudEvent(ctx context.Context, topic string, e event.Event) (string, error) {
	entryID, err := infrapubsub.DecodeQueueNotification(e)
	if err != nil {
		return "", err
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := d.processor.ProcessEntry(d.baseCtx, entryID); err != nil {
			d.logger.Error("in-process webhook processing failed", "entry_id", entryID, "error", err)
		}
	}()
	return "local-" + e.ID(), nil
}

// Wait blocks until in-flight entries finish.
func (d *LocalDispatcher) Wait() {
	d.wg.Wait()
}
