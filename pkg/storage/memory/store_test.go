package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	shared "github.com/trailblazerplus/server/pkg"
	"github.com/trailblazerplus/server/pkg/types"
)

func ptr[T any](v T) *T { return &v }

func delta(km, minutes float64, steps int64) types.StatDelta {
	return types.StatDelta{Km: &km, Minutes: &minutes, Steps: &steps}
}

func TestInsertActivity_UniqueExternalID(t *testing.T) {
	ctx := context.Background()
	s := New()

	act := &types.Activity{ID: "strava_1", Source: types.SourceStrava, ExternalID: ptr("1"), Type: "run", Distance: 5, Duration: 1800}
	inserted, err := s.InsertActivity(ctx, "u1", act, delta(5, 30, 6500))
	require.NoError(t, err)
	assert.True(t, inserted)

	dup := &types.Activity{ID: "other-id", Source: types.SourceStrava, ExternalID: ptr("1"), Type: "run", Distance: 5, Duration: 1800}
	inserted, err = s.InsertActivity(ctx, "u1", dup, delta(5, 30, 6500))
	require.NoError(t, err)
	assert.False(t, inserted)

	u, err := s.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 5.0, u.Stats.TotalKm)
	assert.Equal(t, int64(6500), u.Stats.TotalSteps)

	// Same external id under another user is independent.
	inserted, err = s.InsertActivity(ctx, "u2", dup, delta(5, 30, 6500))
	require.NoError(t, err)
	assert.True(t, inserted)
}

func TestDeleteActivityByExternalID(t *testing.T) {
	ctx := context.Background()
	s := New()

	_, err := s.InsertActivity(ctx, "u1", &types.Activity{ID: "strava_9", ExternalID: ptr("9"), Type: "walk", Distance: 2}, delta(2, 20, 2600))
	require.NoError(t, err)

	deleted, err := s.DeleteActivityByExternalID(ctx, "u1", "9", func(a *types.Activity) types.StatDelta {
		return delta(-a.Distance, -20, -2600)
	})
	require.NoError(t, err)
	require.NotNil(t, deleted)
	assert.Equal(t, "strava_9", deleted.ID)

	u, _ := s.GetUser(ctx, "u1")
	assert.InDelta(t, 0, u.Stats.TotalKm, 1e-9)
	assert.Equal(t, int64(0), u.Stats.TotalSteps)

	missing, err := s.DeleteActivityByExternalID(ctx, "u1", "9", nil)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestApplyStatDelta_Concurrent(t *testing.T) {
	ctx := context.Background()
	s := New()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.ApplyStatDelta(ctx, "u1", delta(1, 1, 100))
		}()
	}
	wg.Wait()

	u, _ := s.GetUser(ctx, "u1")
	assert.Equal(t, 50.0, u.Stats.TotalKm)
	assert.Equal(t, int64(5000), u.Stats.TotalSteps)
}

func TestUpdateStreakAndSetStreak(t *testing.T) {
	ctx := context.Background()
	s := New()
	day := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	state, err := s.UpdateStreak(ctx, "u1", func(cur types.StreakState) types.StreakState {
		assert.Nil(t, cur.LastActivityDate)
		return types.StreakState{CurrentStreak: cur.CurrentStreak + 1, LastActivityDate: &day}
	})
	require.NoError(t, err)
	assert.Equal(t, 1, state.CurrentStreak)

	earlier := day.AddDate(0, 0, -4)
	require.NoError(t, s.SetStreak(ctx, "u1", 0, &earlier))
	u, _ := s.GetUser(ctx, "u1")
	assert.Equal(t, 0, u.Stats.CurrentStreak)
	require.NotNil(t, u.LastActivityDate)
	assert.True(t, u.LastActivityDate.Equal(earlier))

	require.NoError(t, s.SetStreak(ctx, "u1", 0, nil))
	u, _ = s.GetUser(ctx, "u1")
	assert.Nil(t, u.LastActivityDate)
}

func TestConnectionLifecycle(t *testing.T) {
	ctx := context.Background()
	s := New()

	_, err := s.GetUser(ctx, "nobody")
	assert.ErrorIs(t, err, shared.ErrUserNotFound)

	require.NoError(t, s.SetConnection(ctx, "u1", &types.ProviderConnection{AthleteID: 77, AccessToken: "enc-a", RefreshToken: "enc-r"}))

	uid, err := s.FindUserIDByAthleteID(ctx, 77)
	require.NoError(t, err)
	assert.Equal(t, "u1", uid)

	uid, err = s.FindUserIDByAthleteID(ctx, 78)
	require.NoError(t, err)
	assert.Empty(t, uid)

	exp := time.Now().Add(time.Hour)
	require.NoError(t, s.UpdateConnectionTokens(ctx, "u1", "enc-a2", "enc-r2", exp))
	require.NoError(t, s.TouchLastSync(ctx, "u1", time.Now()))

	u, _ := s.GetUser(ctx, "u1")
	assert.Equal(t, "enc-a2", u.Connection.AccessToken)
	assert.NotNil(t, u.Connection.LastSyncAt)

	require.NoError(t, s.DeleteConnection(ctx, "u1"))
	u, _ = s.GetUser(ctx, "u1")
	assert.Nil(t, u.Connection)
	assert.ErrorIs(t, s.UpdateConnectionTokens(ctx, "u1", "a", "r", exp), shared.ErrNotConnected)
}

func TestListActivities(t *testing.T) {
	ctx := context.Background()
	s := New()
	base := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		_, err := s.InsertActivity(ctx, "u1", &types.Activity{Type: "run", Date: base.AddDate(0, 0, i)}, types.StatDelta{})
		require.NoError(t, err)
	}

	recent, err := s.ListActivities(ctx, "u1", types.ActivityQuery{Limit: 3})
	require.NoError(t, err)
	require.Len(t, recent, 3)
	assert.True(t, recent[0].Date.Equal(base.AddDate(0, 0, 4)))

	since := base.AddDate(0, 0, 3)
	asc, err := s.ListActivities(ctx, "u1", types.ActivityQuery{Ascending: true, Since: &since})
	require.NoError(t, err)
	require.Len(t, asc, 2)
	assert.True(t, asc[0].Date.Before(asc[1].Date))

	n, err := s.DeleteAllActivities(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 5, n)
}

func TestWebhookQueue(t *testing.T) {
	ctx := context.Background()
	s := New()

	id, err := s.EnqueueWebhook(ctx, &types.WebhookQueueEntry{ObjectType: "activity", ObjectID: 1, AspectType: "create", OwnerID: 7})
	require.NoError(t, err)

	e, err := s.GetWebhookEntry(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, e.ProcessedAt)
	assert.False(t, e.ReceivedAt.IsZero())

	require.NoError(t, s.MarkWebhookProcessed(ctx, id, time.Now(), "User not found"))
	failed, err := s.ListFailedWebhooks(ctx, 10)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "User not found", failed[0].Error)
	assert.Equal(t, 1, failed[0].Attempts)

	require.NoError(t, s.RequeueWebhook(ctx, id))
	e, _ = s.GetWebhookEntry(ctx, id)
	assert.Nil(t, e.ProcessedAt)
	assert.Empty(t, e.Error)

	_, err = s.GetWebhookEntry(ctx, "missing")
	assert.ErrorIs(t, err, shared.ErrEntryNotFound)
}

func TestWatchConnection(t *testing.T) {
	ctx, cancelCtx := context.WithCancel(context.Background())
	defer cancelCtx()
	s := New()

	ch, cancel, err := s.WatchConnection(ctx, "u1")
	require.NoError(t, err)
	defer cancel()

	initial := <-ch
	assert.False(t, initial.Connected)

	require.NoError(t, s.SetConnection(context.Background(), "u1", &types.ProviderConnection{AthleteID: 5}))
	select {
	case st := <-ch:
		assert.True(t, st.Connected)
		assert.Equal(t, int64(5), st.AthleteID)
	case <-time.After(time.Second):
		t.Fatal("no status update")
	}

	cancel()
	_, open := <-ch
	assert.False(t, open)
}
