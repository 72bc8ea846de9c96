package pubsub

import (
	"encoding/json"
	"fmt"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/cloudevents/sdk-go/v2/event"
	"github.com/google/uuid"

	"github.com/trailblazerplus/server/pkg/types"
)

// NewCloudEvent creates a standardized CloudEvent v1.0
func NewCloudEvent(source, eventType string, data interface{}) (cloudevents.Event, error) {
	e := cloudevents.NewEvent()
	e.SetID(uuid.NewString())
	e.SetSpecVersion("1.0")
	e.SetType(eventType)
	e.SetSource(source)

	if err := e.SetData(cloudevents.ApplicationJSON, data); err != nil {
		return e, err
	}

	return e, nil
}

// NewQueueEvent announces a freshly enqueued webhook entry.
func NewQueueEvent(entryID string) (cloudevents.Event, error) {
	return NewCloudEvent(EventSourceWebhook, EventTypeQueueEntry, types.QueueNotification{EntryID: entryID})
}

// DecodeQueueNotification reads the entry id from either a Pub/Sub push
// envelope (functions runtime) or a bare notification (in-process delivery).
func DecodeQueueNotification(e event.Event) (string, error) {
	var msg types.PubSubMessage
	if err := e.DataAs(&msg); err == nil && len(msg.Message.Data) > 0 {
		var n types.QueueNotification
		if err := json.Unmarshal(msg.Message.Data, &n); err != nil {
			return "", fmt.Errorf("decode pubsub payload: %w", err)
		}
		if n.EntryID != "" {
			return n.EntryID, nil
		}
	}

	var n types.QueueNotification
	if err := e.DataAs(&n); err != nil {
		return "", fmt.Errorf("decode queue notification: %w", err)
	}
	if n.EntryID == "" {
		return "", fmt.Errorf("queue notification without entry_id")
	}
	return n.EntryID, nil
}
