package shared

const (
	ProjectID = "trailblazer-plus" // Can be overridden by env var in main if needed

	TopicWebhookQueue = "topic-strava-webhook-queue"

	CollectionUsers        = "users"
	CollectionActivities   = "activities"
	CollectionWebhookQueue = "strava_webhook_queue"
)
