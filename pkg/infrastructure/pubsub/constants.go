package pubsub

// CloudEvent attributes for the webhook queue trigger.
const (
	EventSourceWebhook  = "/strava/webhook"
	EventTypeQueueEntry = "com.trailblazerplus.strava.webhook.queued"
)
