package pubsub

import (
	"context"
	"log/slog"

	"cloud.google.com/go/pubsub"
	"github.com/cloudevents/sdk-go/v2/event"
)

// PubSubAdapter publishes CloudEvents to Google Cloud Pub/Sub. The event data
// becomes the message body; CloudEvent attributes travel as ce-* attributes.
type PubSubAdapter struct {
	Client *pubsub.Client
}

func (a *PubSubAdapter) PublishCloudEvent(ctx context.Context, topicID string, e event.Event) (string, error) {
	topic := a.Client.Topic(topicID)
	res := topic.Publish(ctx, &pubsub.Message{
		Data: e.Data(),
		Attributes: map[string]string{
			"ce-id":          e.ID(),
			"ce-type":        e.Type(),
			"ce-source":      e.Source(),
			"ce-specversion": e.SpecVersion(),
		},
	})
	return res.Get(ctx)
}

// LogPublisher is a mock publisher for local development
type LogPublisher struct {
	Logger *slog.Logger
}

func (p *LogPublisher) PublishCloudEvent(ctx context.Context, topicID string, e event.Event) (string, error) {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("mock publish", "component", "pubsub", "topic", topicID, "type", e.Type(), "data", string(e.Data()))
	return "mock-" + e.ID(), nil
}
