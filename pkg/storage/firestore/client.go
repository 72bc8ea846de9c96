package firestore

import (
	"cloud.google.com/go/firestore"

	shared "github.com/trailblazerplus/server/pkg"
	"github.com/trailblazerplus/server/pkg/types"
)

type Client struct {
	fs *firestore.Client
}

func NewClient(client *firestore.Client) *Client {
	return &Client{fs: client}
}

func (c *Client) Close() error {
	return c.fs.Close()
}

// Raw exposes the underlying client for transactions and bulk writes.
func (c *Client) Raw() *firestore.Client {
	return c.fs
}

func (c *Client) Users() *Collection[types.User] {
	return &Collection[types.User]{
		Ref:           c.fs.Collection(shared.CollectionUsers),
		ToFirestore:   UserToFirestore,
		FromFirestore: FirestoreToUser,
	}
}

// UserActivities are sub-collections of Users: users/{uid}/activities/{id}
func (c *Client) UserActivities(userID string) *Collection[types.Activity] {
	return &Collection[types.Activity]{
		Ref:           c.fs.Collection(shared.CollectionUsers).Doc(userID).Collection(shared.CollectionActivities),
		ToFirestore:   ActivityToFirestore,
		FromFirestore: FirestoreToActivity,
	}
}

// WebhookQueue is the flat durable inbox: strava_webhook_queue/{id}
func (c *Client) WebhookQueue() *Collection[types.WebhookQueueEntry] {
	return &Collection[types.WebhookQueueEntry]{
		Ref:           c.fs.Collection(shared.CollectionWebhookQueue),
		ToFirestore:   WebhookEntryToFirestore,
		FromFirestore: FirestoreToWebhookEntry,
	}
}
