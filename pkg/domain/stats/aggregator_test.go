package stats

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trailblazerplus/server/pkg/storage/memory"
	"github.com/trailblazerplus/server/pkg/types"
)

func newTestAggregator(now time.Time) (*Aggregator, *memory.Store) {
	store := memory.New()
	agg := NewAggregator(store, store, time.UTC, nil).WithClock(func() time.Time { return now })
	return agg, store
}

func TestAggregator_UpdateStreak(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 6, 15, 9, 0, 0, 0, time.UTC)
	agg, store := newTestAggregator(now)

	state, err := agg.UpdateStreak(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, state.CurrentStreak)

	state, err = agg.UpdateStreak(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, state.CurrentStreak, "same-day activity must not double count")

	agg.WithClock(func() time.Time { return now.AddDate(0, 0, 1) })
	state, err = agg.UpdateStreak(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, state.CurrentStreak)

	u, _ := store.GetUser(ctx, "u1")
	assert.Equal(t, 2, u.Stats.CurrentStreak)
	assert.True(t, u.LastActivityDate.Equal(time.Date(2024, 6, 16, 0, 0, 0, 0, time.UTC)))
}

func TestAggregator_RecalculateStreak_StaleKeepsDate(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 6, 15, 9, 0, 0, 0, time.UTC)
	agg, store := newTestAggregator(now)

	last := now.AddDate(0, 0, -10)
	require.NoError(t, store.SetStreak(ctx, "u1", 7, &last))

	streak, err := agg.RecalculateStreak(ctx, "u1", []time.Time{last})
	require.NoError(t, err)
	assert.Equal(t, 0, streak)

	u, _ := store.GetUser(ctx, "u1")
	assert.Equal(t, 0, u.Stats.CurrentStreak)
	assert.True(t, u.LastActivityDate.Equal(last))
}

func TestAggregator_Reconcile(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 6, 15, 9, 0, 0, 0, time.UTC)
	agg, store := newTestAggregator(now)

	for _, d := range []int{5, 1, 0} {
		_, err := store.InsertActivity(ctx, "u1", &types.Activity{Type: "run", Date: now.AddDate(0, 0, -d)}, types.StatDelta{})
		require.NoError(t, err)
	}

	streak, err := agg.Reconcile(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, streak)
}

func TestAggregator_ApplyDeltaSymmetry(t *testing.T) {
	ctx := context.Background()
	agg, store := newTestAggregator(time.Now())

	act := &types.Activity{Type: "hike", Distance: 7.3, Duration: 5400}
	require.NoError(t, agg.ApplyDelta(ctx, "u1", DeltaFor(act)))
	require.NoError(t, agg.ApplyDelta(ctx, "u1", DeltaFor(act).Negate()))

	u, _ := store.GetUser(ctx, "u1")
	assert.InDelta(t, 0, u.Stats.TotalKm, 1e-9)
	assert.InDelta(t, 0, u.Stats.TotalMinutes, 1e-9)
	assert.Equal(t, int64(0), u.Stats.TotalSteps)

	assert.NoError(t, agg.ApplyDelta(ctx, "u1", types.StatDelta{}))
}

func TestAggregator_RecalculateStreak_NoActivitiesClearsDate(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 6, 15, 9, 0, 0, 0, time.UTC)
	agg, store := newTestAggregator(now)

	_, err := agg.UpdateStreak(ctx, "u1")
	require.NoError(t, err)

	streak, err := agg.RecalculateStreak(ctx, "u1", nil)
	require.NoError(t, err)
	assert.Equal(t, 0, streak)

	u, _ := store.GetUser(ctx, "u1")
	assert.Nil(t, u.LastActivityDate)

	state, err := agg.UpdateStreak(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, state.CurrentStreak)
}

func TestDeltaFor_PrefersStoredSteps(t *testing.T) {
	stored := int64(6500)
	act := &types.Activity{Type: "bike", Distance: 5, Duration: 1200, Steps: &stored}
	assert.Equal(t, int64(6500), *DeltaFor(act).Steps)

	act.Steps = nil
	assert.Equal(t, int64(0), *DeltaFor(act).Steps)
}
