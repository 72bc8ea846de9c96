package types

// PubSubMessage is the payload of a Pub/Sub event via Cloud Event.
type PubSubMessage struct {
	Message struct {
		Data       []byte            `json:"data"`
		Attributes map[string]string `json:"attributes,omitempty"`
	} `json:"message"`
}

// QueueNotification is published after a webhook entry is enqueued.
type QueueNotification struct {
	EntryID string `json:"entry_id"`
}
