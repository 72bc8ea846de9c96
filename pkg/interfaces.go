package shared

import (
	"context"
	"time"

	"github.com/cloudevents/sdk-go/v2/event"

	"github.com/trailblazerplus/server/pkg/types"
)

// --- Persistence Interfaces ---

// StreakFunc computes the next streak state from the stored one. Stores call it
// inside a transaction (or under a lock) so concurrent updates cannot be lost.
type StreakFunc func(current types.StreakState) types.StreakState

// DeltaFunc derives the stats delta to apply when an activity is removed.
type DeltaFunc func(a *types.Activity) types.StatDelta

type UserStore interface {
	GetUser(ctx context.Context, userID string) (*types.User, error)
	CreateUser(ctx context.Context, user *types.User) error

	// ApplyStatDelta atomically increments the provided stats fields.
	ApplyStatDelta(ctx context.Context, userID string, delta types.StatDelta) error
	// UpdateStreak runs fn against the stored streak state and persists the result atomically.
	UpdateStreak(ctx context.Context, userID string, fn StreakFunc) (types.StreakState, error)
	// SetStreak overwrites the streak and last activity date. A nil date clears it.
	SetStreak(ctx context.Context, userID string, streak int, lastActivityDate *time.Time) error
	ResetStats(ctx context.Context, userID string) error
}

type ConnectionStore interface {
	SetConnection(ctx context.Context, userID string, conn *types.ProviderConnection) error
	UpdateConnectionTokens(ctx context.Context, userID string, accessToken, refreshToken string, expiresAt time.Time) error
	TouchLastSync(ctx context.Context, userID string, at time.Time) error
	DeleteConnection(ctx context.Context, userID string) error
	// FindUserIDByAthleteID returns the first user linked to athleteID, or "" when none is.
	FindUserIDByAthleteID(ctx context.Context, athleteID int64) (string, error)
}

type ActivityStore interface {
	// InsertActivity stores the activity and applies delta in one transaction.
	// It returns false without writing when the user already has an activity
	// with the same external id.
	InsertActivity(ctx context.Context, userID string, activity *types.Activity, delta types.StatDelta) (bool, error)
	// GetActivityByExternalID returns nil, nil when no activity matches.
	GetActivityByExternalID(ctx context.Context, userID, externalID string) (*types.Activity, error)
	PatchActivity(ctx context.Context, userID, activityID string, patch types.ActivityPatch) error
	// DeleteActivityByExternalID removes the activity and applies deltaFn(activity)
	// in one transaction. It returns nil, nil when nothing matched.
	DeleteActivityByExternalID(ctx context.Context, userID, externalID string, deltaFn DeltaFunc) (*types.Activity, error)
	ListActivities(ctx context.Context, userID string, query types.ActivityQuery) ([]*types.Activity, error)
	DeleteAllActivities(ctx context.Context, userID string) (int, error)
}

type QueueStore interface {
	EnqueueWebhook(ctx context.Context, entry *types.WebhookQueueEntry) (string, error)
	GetWebhookEntry(ctx context.Context, id string) (*types.WebhookQueueEntry, error)
	MarkWebhookProcessed(ctx context.Context, id string, at time.Time, errMsg string) error
	ListFailedWebhooks(ctx context.Context, limit int) ([]*types.WebhookQueueEntry, error)
	RequeueWebhook(ctx context.Context, id string) error
}

// Database is the full persistence surface a backend provides.
type Database interface {
	UserStore
	ConnectionStore
	ActivityStore
	QueueStore
	Close() error
}

// ConnectionWatcher is implemented by backends that can push live document changes.
type ConnectionWatcher interface {
	// WatchConnection streams the connection status until cancel is called or ctx ends.
	WatchConnection(ctx context.Context, userID string) (<-chan types.ConnectionStatus, func(), error)
}

// --- Messaging Interfaces ---

type Publisher interface {
	PublishCloudEvent(ctx context.Context, topic string, e event.Event) (string, error)
}

// --- Storage Interfaces ---

type BlobStore interface {
	Write(ctx context.Context, bucket, object string, data []byte) error
	Read(ctx context.Context, bucket, object string) ([]byte, error)
}

// --- Identity Interfaces ---

// IdentityVerifier resolves a caller's bearer credential to an internal user id.
type IdentityVerifier interface {
	VerifyIDToken(ctx context.Context, token string) (string, error)
}

// --- Delivery Guard ---

// DeliveryGuard reports whether a webhook delivery key is seen for the first time.
type DeliveryGuard interface {
	FirstDelivery(ctx context.Context, key string) (bool, error)
	// Release forgets key so a later delivery is accepted again.
	Release(ctx context.Context, key string) error
}
