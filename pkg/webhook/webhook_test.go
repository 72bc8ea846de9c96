package webhook

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	shared "github.com/trailblazerplus/server/pkg"
	"github.com/trailblazerplus/server/pkg/domain/stats"
	"github.com/trailblazerplus/server/pkg/ingest"
	infrapubsub "github.com/trailblazerplus/server/pkg/infrastructure/pubsub"
	"github.com/trailblazerplus/server/pkg/integrations/strava"
	"github.com/trailblazerplus/server/pkg/storage/memory"
	"github.com/trailblazerplus/server/pkg/testing/mocks"
	"github.com/trailblazerplus/server/pkg/types"
)

type fakeTokens struct {
	athletes map[int64]string
	tokenErr error
}

func (f *fakeTokens) FindUserByAthleteID(ctx context.Context, athleteID int64) (string, error) {
	return f.athletes[athleteID], nil
}

func (f *fakeTokens) GetValidAccessToken(ctx context.Context, userID string) (string, error) {
	if f.tokenErr != nil {
		return "", f.tokenErr
	}
	return "token-" + userID, nil
}

type failingQueue struct {
	*memory.Store
}

func (f failingQueue) EnqueueWebhook(ctx context.Context, entry *types.WebhookQueueEntry) (string, error) {
	return "", errors.New("firestore unavailable")
}

func newReceiver(queue shared.QueueStore, pub shared.Publisher, opts ...ReceiverOption) *Receiver {
	tokens := &fakeTokens{athletes: map[int64]string{42: "u1"}}
	return NewReceiver("s3cret", tokens, queue, pub, nil, opts...)
}

func TestHandleChallenge(t *testing.T) {
	r := newReceiver(memory.New(), nil)

	got, err := r.HandleChallenge("subscribe", "s3cret", "abc123")
	require.NoError(t, err)
	assert.Equal(t, "abc123", got)

	_, err = r.HandleChallenge("subscribe", "wrong", "abc123")
	assert.ErrorIs(t, err, shared.ErrVerificationFailed)

	_, err = r.HandleChallenge("unsubscribe", "s3cret", "abc123")
	assert.ErrorIs(t, err, shared.ErrVerificationFailed)
}

func TestServeHTTP_Challenge(t *testing.T) {
	r := newReceiver(memory.New(), nil)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/strava/webhook?hub.mode=subscribe&hub.verify_token=s3cret&hub.challenge=xyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"hub.challenge":"xyz"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/strava/webhook?hub.mode=subscribe&hub.verify_token=nope&hub.challenge=xyz", nil))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "Invalid verify token")
}

func TestServeHTTP_MethodNotAllowed(t *testing.T) {
	r := newReceiver(memory.New(), nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/strava/webhook", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func postEvent(r *Receiver, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/strava/webhook", strings.NewReader(body)))
	return rec
}

func TestServeHTTP_EnqueuesAndPublishes(t *testing.T) {
	store := memory.New()
	pub := &mocks.MockPublisher{}
	r := newReceiver(store, pub)

	rec := postEvent(r, `{"object_type":"activity","object_id":1001,"aspect_type":"create","owner_id":42,"subscription_id":9,"event_time":1700000000}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())

	require.Len(t, pub.Published, 1)
	entryID, err := infrapubsub.DecodeQueueNotification(pub.Published[0])
	require.NoError(t, err)

	entry, err := store.GetWebhookEntry(context.Background(), entryID)
	require.NoError(t, err)
	assert.Equal(t, int64(1001), entry.ObjectID)
	assert.Equal(t, "create", entry.AspectType)
	assert.Equal(t, int64(1700000000), entry.EventTime)
	assert.Nil(t, entry.ProcessedAt)
}

func TestServeHTTP_UnknownOwnerDropped(t *testing.T) {
	store := memory.New()
	pub := &mocks.MockPublisher{}
	r := newReceiver(store, pub)

	rec := postEvent(r, `{"object_type":"activity","object_id":5,"aspect_type":"create","owner_id":999,"event_time":1}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, pub.Published)

	id, err := r.HandleEvent(context.Background(), &strava.WebhookEvent{ObjectType: "activity", OwnerID: 999})
	require.NoError(t, err)
	assert.Empty(t, id)
}

func TestServeHTTP_AthleteEventsDropped(t *testing.T) {
	pub := &mocks.MockPublisher{}
	r := newReceiver(memory.New(), pub)

	rec := postEvent(r, `{"object_type":"athlete","object_id":42,"aspect_type":"update","owner_id":42,"updates":{"authorized":"false"}}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, pub.Published)
}

func TestServeHTTP_MalformedBodyAcknowledged(t *testing.T) {
	r := newReceiver(memory.New(), nil)
	rec := postEvent(r, `{not json`)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServeHTTP_EnqueueFailureReleasesGuard(t *testing.T) {
	guard := &mocks.MockDeliveryGuard{}
	r := newReceiver(failingQueue{memory.New()}, nil, WithGuard(guard))

	rec := postEvent(r, `{"object_type":"activity","object_id":1,"aspect_type":"create","owner_id":42,"event_time":5}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Len(t, guard.Released, 1)
}

func TestHandleEvent_DuplicateDeliveryDropped(t *testing.T) {
	seen := map[string]bool{}
	guard := &mocks.MockDeliveryGuard{
		FirstDeliveryFunc: func(ctx context.Context, key string) (bool, error) {
			first := !seen[key]
			seen[key] = true
			return first, nil
		},
	}
	store := memory.New()
	r := newReceiver(store, nil, WithGuard(guard))
	ev := &strava.WebhookEvent{ObjectType: "activity", ObjectID: 3, AspectType: "create", OwnerID: 42, EventTime: 10}

	first, err := r.HandleEvent(context.Background(), ev)
	require.NoError(t, err)
	assert.NotEmpty(t, first)

	second, err := r.HandleEvent(context.Background(), ev)
	require.NoError(t, err)
	assert.Empty(t, second)
}

func TestHandleEvent_GuardErrorFailsOpen(t *testing.T) {
	guard := &mocks.MockDeliveryGuard{
		FirstDeliveryFunc: func(ctx context.Context, key string) (bool, error) {
			return false, errors.New("redis down")
		},
	}
	r := newReceiver(memory.New(), nil, WithGuard(guard))

	id, err := r.HandleEvent(context.Background(), &strava.WebhookEvent{ObjectType: "activity", ObjectID: 3, AspectType: "create", OwnerID: 42})
	require.NoError(t, err)
	assert.NotEmpty(t, id)
}

// --- Processor ---

var now = time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)

func newProcessor(t *testing.T, client *mocks.MockStravaClient, tokens *fakeTokens) (*Processor, *memory.Store) {
	t.Helper()
	store := memory.New()
	agg := stats.NewAggregator(store, store, time.UTC, nil).WithClock(func() time.Time { return now })
	engine := ingest.NewEngine(store, agg, client, nil, ingest.Options{}, nil)
	return NewProcessor(store, tokens, engine, agg, nil), store
}

func enqueue(t *testing.T, store *memory.Store, aspect string, objectID, owner int64) string {
	t.Helper()
	id, err := store.EnqueueWebhook(context.Background(), &types.WebhookQueueEntry{
		ObjectType: "activity", ObjectID: objectID, AspectType: aspect, OwnerID: owner,
	})
	require.NoError(t, err)
	return id
}

func activityClient() *mocks.MockStravaClient {
	return &mocks.MockStravaClient{
		FetchActivityFunc: func(ctx context.Context, token string, id int64) (*strava.Activity, error) {
			return &strava.Activity{ID: id, Name: "Evening Run", Type: "Run", Distance: 5000, MovingTime: 1500, StartDate: now}, nil
		},
	}
}

func TestProcessEntry_CreateUpdateDelete(t *testing.T) {
	ctx := context.Background()
	p, store := newProcessor(t, activityClient(), &fakeTokens{athletes: map[int64]string{42: "u1"}})

	createID := enqueue(t, store, "create", 1001, 42)
	require.NoError(t, p.ProcessEntry(ctx, createID))

	entry, _ := store.GetWebhookEntry(ctx, createID)
	require.NotNil(t, entry.ProcessedAt)
	assert.Empty(t, entry.Error)

	u, _ := store.GetUser(ctx, "u1")
	assert.Equal(t, 5.0, u.Stats.TotalKm)
	assert.Equal(t, 1, u.Stats.CurrentStreak)

	updateID := enqueue(t, store, "update", 1001, 42)
	require.NoError(t, p.ProcessEntry(ctx, updateID))
	u, _ = store.GetUser(ctx, "u1")
	assert.Equal(t, 5.0, u.Stats.TotalKm, "update must not double count")

	deleteID := enqueue(t, store, "delete", 1001, 42)
	require.NoError(t, p.ProcessEntry(ctx, deleteID))
	u, _ = store.GetUser(ctx, "u1")
	assert.InDelta(t, 0, u.Stats.TotalKm, 1e-9)
	assert.Equal(t, int64(0), u.Stats.TotalSteps)
}

func TestProcessEntry_UserNotFound(t *testing.T) {
	ctx := context.Background()
	p, store := newProcessor(t, activityClient(), &fakeTokens{athletes: map[int64]string{}})

	id := enqueue(t, store, "create", 1, 77)
	require.NoError(t, p.ProcessEntry(ctx, id))

	entry, _ := store.GetWebhookEntry(ctx, id)
	require.NotNil(t, entry.ProcessedAt)
	assert.Equal(t, "User not found", entry.Error)
}

func TestProcessEntry_FailureIsTerminal(t *testing.T) {
	ctx := context.Background()
	client := &mocks.MockStravaClient{
		FetchActivityFunc: func(ctx context.Context, token string, id int64) (*strava.Activity, error) {
			return nil, &shared.ProviderAPIError{StatusCode: 500, Body: "upstream"}
		},
	}
	p, store := newProcessor(t, client, &fakeTokens{athletes: map[int64]string{42: "u1"}})

	id := enqueue(t, store, "create", 1, 42)
	require.NoError(t, p.ProcessEntry(ctx, id))

	entry, _ := store.GetWebhookEntry(ctx, id)
	require.NotNil(t, entry.ProcessedAt)
	assert.Contains(t, entry.Error, "status 500")

	failed, _ := store.ListFailedWebhooks(ctx, 10)
	assert.Len(t, failed, 1)

	// A redelivered trigger does not reprocess.
	processedAt := *entry.ProcessedAt
	require.NoError(t, p.ProcessEntry(ctx, id))
	entry, _ = store.GetWebhookEntry(ctx, id)
	assert.True(t, entry.ProcessedAt.Equal(processedAt))
	assert.Equal(t, 1, entry.Attempts)

	reset, err := p.Requeue(ctx, []string{id})
	require.NoError(t, err)
	assert.Equal(t, []string{id}, reset)
	entry, _ = store.GetWebhookEntry(ctx, id)
	assert.Nil(t, entry.ProcessedAt)
}

func TestProcessEntry_NotConnected(t *testing.T) {
	ctx := context.Background()
	p, store := newProcessor(t, activityClient(), &fakeTokens{athletes: map[int64]string{42: "u1"}, tokenErr: shared.ErrNotConnected})

	id := enqueue(t, store, "create", 1, 42)
	require.NoError(t, p.ProcessEntry(ctx, id))
	entry, _ := store.GetWebhookEntry(ctx, id)
	assert.Equal(t, shared.ErrNotConnected.Error(), entry.Error)
}

func TestLocalDispatcher(t *testing.T) {
	ctx := context.Background()
	p, store := newProcessor(t, activityClient(), &fakeTokens{athletes: map[int64]string{42: "u1"}})
	d := NewLocalDispatcher(ctx, p, nil)
	r := newReceiver(store, d)

	id, err := r.HandleEvent(ctx, &strava.WebhookEvent{ObjectType: "activity", ObjectID: 9, AspectType: "create", OwnerID: 42})
	require.NoError(t, err)
	d.Wait()

	entry, _ := store.GetWebhookEntry(ctx, id)
	require.NotNil(t, entry.ProcessedAt)
	assert.Empty(t, entry.Error)
}
