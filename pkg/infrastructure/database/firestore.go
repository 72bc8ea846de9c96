package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	shared "github.com/trailblazerplus/server/pkg"
	"github.com/trailblazerplus/server/pkg/domain/activity"
	storage "github.com/trailblazerplus/server/pkg/storage/firestore"
	"github.com/trailblazerplus/server/pkg/types"
)

// FirestoreAdapter provides database operations using Firestore
// It wraps our typed storage client
type FirestoreAdapter struct {
	Client  *firestore.Client
	storage *storage.Client // internal typed wrapper
	now     func() time.Time
	logger  *slog.Logger
}

var (
	_ shared.Database          = (*FirestoreAdapter)(nil)
	_ shared.ConnectionWatcher = (*FirestoreAdapter)(nil)
)

func NewFirestoreAdapter(client *firestore.Client, logger *slog.Logger) *FirestoreAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &FirestoreAdapter{
		Client:  client,
		storage: storage.NewClient(client),
		now:     time.Now,
		logger:  logger.With("component", "firestore"),
	}
}

func (a *FirestoreAdapter) Close() error {
	return a.storage.Close()
}

func (a *FirestoreAdapter) userRef(userID string) *firestore.DocumentRef {
	return a.storage.Users().Doc(userID).Ref
}

func connectionPath(field string) firestore.FieldPath {
	return firestore.FieldPath{storage.FieldConnection, field}
}

// --- UserStore ---

func (a *FirestoreAdapter) GetUser(ctx context.Context, userID string) (*types.User, error) {
	u, err := a.storage.Users().Doc(userID).Get(ctx)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, shared.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user %s: %w", userID, err)
	}
	return u, nil
}

func (a *FirestoreAdapter) CreateUser(ctx context.Context, user *types.User) error {
	u := *user
	now := a.now().UTC()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.UpdatedAt = now
	err := a.storage.Users().Doc(u.ID).Create(ctx, &u)
	if storage.IsAlreadyExists(err) {
		return nil
	}
	return err
}

// ApplyStatDelta uses server-side increments, so concurrent deltas for the
// same user never overwrite each other.
func (a *FirestoreAdapter) ApplyStatDelta(ctx context.Context, userID string, delta types.StatDelta) error {
	if delta.IsZero() {
		return nil
	}
	data := storage.StatIncrements(delta)
	data[storage.FieldUpdatedAt] = a.now().UTC()
	_, err := a.userRef(userID).Set(ctx, data, firestore.MergeAll)
	return err
}

func (a *FirestoreAdapter) UpdateStreak(ctx context.Context, userID string, fn shared.StreakFunc) (types.StreakState, error) {
	ref := a.userRef(userID)
	var next types.StreakState
	err := a.Client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		var current types.StreakState
		snap, err := tx.Get(ref)
		switch {
		case storage.IsNotFound(err):
		case err != nil:
			return err
		default:
			current = storage.StreakFromFirestore(snap.Data())
		}

		next = fn(current)
		return tx.Set(ref, a.streakFields(next.CurrentStreak, next.LastActivityDate), firestore.MergeAll)
	})
	if err != nil {
		return types.StreakState{}, fmt.Errorf("update streak for %s: %w", userID, err)
	}
	return next, nil
}

func (a *FirestoreAdapter) SetStreak(ctx context.Context, userID string, streak int, lastActivityDate *time.Time) error {
	_, err := a.userRef(userID).Set(ctx, a.streakFields(streak, lastActivityDate), firestore.MergeAll)
	return err
}

func (a *FirestoreAdapter) streakFields(streak int, lastActivityDate *time.Time) map[string]interface{} {
	m := map[string]interface{}{
		storage.FieldStats:     map[string]interface{}{storage.FieldCurrentStreak: int64(streak)},
		storage.FieldUpdatedAt: a.now().UTC(),
	}
	if lastActivityDate != nil {
		m[storage.FieldLastActivityDate] = lastActivityDate.UTC()
	} else {
		m[storage.FieldLastActivityDate] = nil
	}
	return m
}

func (a *FirestoreAdapter) ResetStats(ctx context.Context, userID string) error {
	_, err := a.userRef(userID).Set(ctx, map[string]interface{}{
		storage.FieldStats:            storage.StatsToFirestore(types.Stats{}),
		storage.FieldLastActivityDate: nil,
		storage.FieldUpdatedAt:        a.now().UTC(),
	}, firestore.Merge(
		[]string{storage.FieldStats},
		[]string{storage.FieldLastActivityDate},
		[]string{storage.FieldUpdatedAt},
	))
	return err
}

// --- ConnectionStore ---

func (a *FirestoreAdapter) SetConnection(ctx context.Context, userID string, conn *types.ProviderConnection) error {
	// Merge on the whole field so stale sub-fields of a previous link are dropped.
	_, err := a.userRef(userID).Set(ctx, map[string]interface{}{
		storage.FieldConnection: storage.ConnectionToFirestore(conn),
		storage.FieldUpdatedAt:  a.now().UTC(),
	}, firestore.Merge([]string{storage.FieldConnection}, []string{storage.FieldUpdatedAt}))
	return err
}

func (a *FirestoreAdapter) updateConnection(ctx context.Context, userID string, updates []firestore.Update) error {
	ref := a.userRef(userID)
	return a.Client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if storage.IsNotFound(err) {
			return shared.ErrNotConnected
		}
		if err != nil {
			return err
		}
		if v, err := snap.DataAt(storage.FieldConnection); err != nil || v == nil {
			return shared.ErrNotConnected
		}
		return tx.Update(ref, updates)
	})
}

func (a *FirestoreAdapter) UpdateConnectionTokens(ctx context.Context, userID string, accessToken, refreshToken string, expiresAt time.Time) error {
	return a.updateConnection(ctx, userID, []firestore.Update{
		{FieldPath: connectionPath(storage.FieldAccessToken), Value: accessToken},
		{FieldPath: connectionPath(storage.FieldRefreshToken), Value: refreshToken},
		{FieldPath: connectionPath(storage.FieldTokenExpiresAt), Value: expiresAt.UTC()},
	})
}

func (a *FirestoreAdapter) TouchLastSync(ctx context.Context, userID string, at time.Time) error {
	return a.updateConnection(ctx, userID, []firestore.Update{
		{FieldPath: connectionPath(storage.FieldLastSyncAt), Value: at.UTC()},
	})
}

func (a *FirestoreAdapter) DeleteConnection(ctx context.Context, userID string) error {
	err := a.storage.Users().Doc(userID).Update(ctx, []firestore.Update{
		{Path: storage.FieldConnection, Value: firestore.Delete},
		{Path: storage.FieldUpdatedAt, Value: a.now().UTC()},
	})
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	return err
}

// FindUserIDByAthleteID needs a single-field index on strava_connection.athlete_id.
func (a *FirestoreAdapter) FindUserIDByAthleteID(ctx context.Context, athleteID int64) (string, error) {
	it := a.storage.Users().Ref.
		WherePath(connectionPath(storage.FieldAthleteID), "==", athleteID).
		OrderBy(firestore.DocumentID, firestore.Asc).
		Limit(1).
		Documents(ctx)
	defer it.Stop()

	snap, err := it.Next()
	if errors.Is(err, iterator.Done) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("query athlete %d: %w", athleteID, err)
	}
	return snap.Ref.ID, nil
}

// --- ActivityStore ---

func (a *FirestoreAdapter) InsertActivity(ctx context.Context, userID string, act *types.Activity, delta types.StatDelta) (bool, error) {
	if act.ID == "" {
		if act.ExternalID != nil {
			act.ID = activity.DocID(*act.ExternalID)
		} else {
			act.ID = uuid.NewString()
		}
	}
	activities := a.storage.UserActivities(userID)
	ref := activities.Doc(act.ID).Ref
	userRef := a.userRef(userID)

	inserted := false
	err := a.Client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		inserted = false
		_, err := tx.Get(ref)
		if err == nil {
			return nil
		}
		if !storage.IsNotFound(err) {
			return err
		}
		if act.ExternalID != nil {
			// Catches provider activities stored under a non-deterministic id.
			n, err := tx.Documents(activities.Ref.Where(storage.FieldExternalID, "==", *act.ExternalID).Limit(1)).GetAll()
			if err != nil {
				return err
			}
			if len(n) > 0 {
				return nil
			}
		}

		if err := tx.Create(ref, activities.ToFirestore(act)); err != nil {
			return err
		}
		if !delta.IsZero() {
			data := storage.StatIncrements(delta)
			data[storage.FieldUpdatedAt] = a.now().UTC()
			if err := tx.Set(userRef, data, firestore.MergeAll); err != nil {
				return err
			}
		}
		inserted = true
		return nil
	})
	if storage.IsAlreadyExists(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("insert activity %s: %w", act.ID, err)
	}
	return inserted, nil
}

func (a *FirestoreAdapter) GetActivityByExternalID(ctx context.Context, userID, externalID string) (*types.Activity, error) {
	activities := a.storage.UserActivities(userID)
	it := activities.Ref.Where(storage.FieldExternalID, "==", externalID).Limit(1).Documents(ctx)
	defer it.Stop()

	snap, err := it.Next()
	if errors.Is(err, iterator.Done) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return activities.Decode(snap), nil
}

func (a *FirestoreAdapter) PatchActivity(ctx context.Context, userID, activityID string, patch types.ActivityPatch) error {
	updates := storage.PatchUpdates(patch)
	if len(updates) == 0 {
		return nil
	}
	err := a.storage.UserActivities(userID).Doc(activityID).Update(ctx, updates)
	if errors.Is(err, storage.ErrNotFound) {
		return shared.ErrActivityNotFound
	}
	return err
}

func (a *FirestoreAdapter) DeleteActivityByExternalID(ctx context.Context, userID, externalID string, deltaFn shared.DeltaFunc) (*types.Activity, error) {
	activities := a.storage.UserActivities(userID)
	userRef := a.userRef(userID)
	query := activities.Ref.Where(storage.FieldExternalID, "==", externalID).Limit(1)

	var deleted *types.Activity
	err := a.Client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		deleted = nil
		snaps, err := tx.Documents(query).GetAll()
		if err != nil {
			return err
		}
		if len(snaps) == 0 {
			return nil
		}
		act := activities.Decode(snaps[0])
		if err := tx.Delete(snaps[0].Ref); err != nil {
			return err
		}
		if deltaFn != nil {
			if delta := deltaFn(act); !delta.IsZero() {
				data := storage.StatIncrements(delta)
				data[storage.FieldUpdatedAt] = a.now().UTC()
				if err := tx.Set(userRef, data, firestore.MergeAll); err != nil {
					return err
				}
			}
		}
		deleted = act
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("delete activity %s: %w", externalID, err)
	}
	return deleted, nil
}

func (a *FirestoreAdapter) ListActivities(ctx context.Context, userID string, query types.ActivityQuery) ([]*types.Activity, error) {
	activities := a.storage.UserActivities(userID)
	q := activities.Ref.Query
	if query.Since != nil {
		q = q.Where(storage.FieldDate, ">=", query.Since.UTC())
	}
	dir := firestore.Desc
	if query.Ascending {
		dir = firestore.Asc
	}
	q = q.OrderBy(storage.FieldDate, dir)
	if query.Limit > 0 {
		q = q.Limit(query.Limit)
	}
	return activities.All(q.Documents(ctx))
}

func (a *FirestoreAdapter) DeleteAllActivities(ctx context.Context, userID string) (int, error) {
	snaps, err := a.storage.UserActivities(userID).Ref.Documents(ctx).GetAll()
	if err != nil {
		return 0, err
	}
	if len(snaps) == 0 {
		return 0, nil
	}

	bw := a.Client.BulkWriter(ctx)
	jobs := make([]*firestore.BulkWriterJob, 0, len(snaps))
	for _, snap := range snaps {
		job, err := bw.Delete(snap.Ref)
		if err != nil {
			bw.End()
			return 0, err
		}
		jobs = append(jobs, job)
	}
	bw.End()

	deleted := 0
	for _, job := range jobs {
		if _, err := job.Results(); err != nil {
			return deleted, fmt.Errorf("delete activities: %w", err)
		}
		deleted++
	}
	return deleted, nil
}

// --- QueueStore ---

func (a *FirestoreAdapter) EnqueueWebhook(ctx context.Context, entry *types.WebhookQueueEntry) (string, error) {
	e := *entry
	if e.ReceivedAt.IsZero() {
		e.ReceivedAt = a.now().UTC()
	}
	e.ProcessedAt = nil
	queue := a.storage.WebhookQueue()
	doc := queue.NewDoc()
	if e.ID != "" {
		doc = queue.Doc(e.ID)
	}
	if err := doc.Create(ctx, &e); err != nil {
		return "", err
	}
	return doc.ID(), nil
}

func (a *FirestoreAdapter) GetWebhookEntry(ctx context.Context, id string) (*types.WebhookQueueEntry, error) {
	e, err := a.storage.WebhookQueue().Doc(id).Get(ctx)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, shared.ErrEntryNotFound
	}
	return e, err
}

func (a *FirestoreAdapter) MarkWebhookProcessed(ctx context.Context, id string, at time.Time, errMsg string) error {
	err := a.storage.WebhookQueue().Doc(id).Update(ctx, []firestore.Update{
		{Path: storage.FieldProcessedAt, Value: at.UTC()},
		{Path: storage.FieldError, Value: errMsg},
		{Path: storage.FieldFailed, Value: errMsg != ""},
		{Path: storage.FieldAttempts, Value: firestore.Increment(1)},
	})
	if errors.Is(err, storage.ErrNotFound) {
		return shared.ErrEntryNotFound
	}
	return err
}

// ListFailedWebhooks needs a composite index on (failed, received_at).
func (a *FirestoreAdapter) ListFailedWebhooks(ctx context.Context, limit int) ([]*types.WebhookQueueEntry, error) {
	queue := a.storage.WebhookQueue()
	q := queue.Ref.Where(storage.FieldFailed, "==", true).OrderBy(storage.FieldReceivedAt, firestore.Asc)
	if limit > 0 {
		q = q.Limit(limit)
	}
	return queue.All(q.Documents(ctx))
}

func (a *FirestoreAdapter) RequeueWebhook(ctx context.Context, id string) error {
	err := a.storage.WebhookQueue().Doc(id).Update(ctx, []firestore.Update{
		{Path: storage.FieldProcessedAt, Value: nil},
		{Path: storage.FieldError, Value: ""},
		{Path: storage.FieldFailed, Value: false},
	})
	if errors.Is(err, storage.ErrNotFound) {
		return shared.ErrEntryNotFound
	}
	return err
}

// --- ConnectionWatcher ---

// WatchConnection streams the user's connection status from document snapshots.
func (a *FirestoreAdapter) WatchConnection(ctx context.Context, userID string) (<-chan types.ConnectionStatus, func(), error) {
	ctx, cancel := context.WithCancel(ctx)
	it := a.userRef(userID).Snapshots(ctx)
	ch := make(chan types.ConnectionStatus, 4)

	go func() {
		defer close(ch)
		defer it.Stop()
		for {
			snap, err := it.Next()
			if err != nil {
				if status.Code(err) != codes.Canceled && ctx.Err() == nil {
					a.logger.Warn("connection snapshot stream ended", "user_id", userID, "error", err)
				}
				return
			}
			var st types.ConnectionStatus
			if snap.Exists() {
				st = types.StatusFromUser(storage.FirestoreToUser(snap.Ref.ID, snap.Data()))
			}
			select {
			case ch <- st:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, cancel, nil
}
