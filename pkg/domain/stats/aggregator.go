package stats

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	shared "github.com/trailblazerplus/server/pkg"
	"github.com/trailblazerplus/server/pkg/domain/activity"
	"github.com/trailblazerplus/server/pkg/types"
)

// Aggregator is the only writer of user stats and streak state.
// Every mutation is delegated to a store primitive that is atomic per user.
type Aggregator struct {
	users      shared.UserStore
	activities shared.ActivityStore
	loc        *time.Location
	now        func() time.Time
	logger     *slog.Logger
}

// NewAggregator creates an aggregator. A nil loc means UTC.
func NewAggregator(users shared.UserStore, activities shared.ActivityStore, loc *time.Location, logger *slog.Logger) *Aggregator {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{
		users:      users,
		activities: activities,
		loc:        loc,
		now:        time.Now,
		logger:     logger.With("component", "stats"),
	}
}

// WithClock overrides the time source.
func (a *Aggregator) WithClock(now func() time.Time) *Aggregator {
	a.now = now
	return a
}

// Location is the day boundary used for streaks and weeks.
func (a *Aggregator) Location() *time.Location { return a.loc }

// Now returns the aggregator's current time.
func (a *Aggregator) Now() time.Time { return a.now() }

// Today returns midnight of the current day.
func (a *Aggregator) Today() time.Time { return StartOfDay(a.now(), a.loc) }

// WeekStart returns midnight of the current week's Sunday.
func (a *Aggregator) WeekStart() time.Time { return StartOfWeek(a.now(), a.loc) }

// DeltaFor is the stats contribution of one activity. Deleting an activity
// applies the negation of the same value, so it must stay a pure function of
// the stored record. Stored steps win over recomputing from the type, which a
// provider update may have changed since insert.
func DeltaFor(act *types.Activity) types.StatDelta {
	km := act.Distance
	minutes := math.Round(float64(act.Duration) / 60)
	steps := activity.ComputeSteps(act.Type, act.Distance)
	if act.Steps != nil {
		steps = *act.Steps
	}
	return types.StatDelta{Km: &km, Minutes: &minutes, Steps: &steps}
}

// ApplyDelta atomically increments the provided stats fields.
func (a *Aggregator) ApplyDelta(ctx context.Context, userID string, delta types.StatDelta) error {
	if delta.IsZero() {
		return nil
	}
	if err := a.users.ApplyStatDelta(ctx, userID, delta); err != nil {
		return fmt.Errorf("apply stats delta: %w", err)
	}
	return nil
}

// UpdateStreak advances the streak for an activity logged today.
func (a *Aggregator) UpdateStreak(ctx context.Context, userID string) (types.StreakState, error) {
	today := a.Today()
	state, err := a.users.UpdateStreak(ctx, userID, func(cur types.StreakState) types.StreakState {
		return NextStreak(cur, today, a.loc)
	})
	if err != nil {
		return types.StreakState{}, fmt.Errorf("update streak: %w", err)
	}
	a.logger.Debug("streak updated", "user_id", userID, "current_streak", state.CurrentStreak)
	return state, nil
}

// RecalculateStreak rebuilds the streak from the given activity dates and persists it.
// The stored last activity date becomes the newest remaining day, or is cleared
// when there is none, so the next activity is judged against what still exists.
func (a *Aggregator) RecalculateStreak(ctx context.Context, userID string, dates []time.Time) (int, error) {
	streak, latest := RecalculateStreak(dates, a.now(), a.loc)
	if err := a.users.SetStreak(ctx, userID, streak, latest); err != nil {
		return 0, fmt.Errorf("set streak: %w", err)
	}
	a.logger.Info("streak recalculated", "user_id", userID, "current_streak", streak, "activity_count", len(dates))
	return streak, nil
}

// Reconcile recalculates the streak from every stored activity of the user.
func (a *Aggregator) Reconcile(ctx context.Context, userID string) (int, error) {
	acts, err := a.activities.ListActivities(ctx, userID, types.ActivityQuery{})
	if err != nil {
		return 0, fmt.Errorf("list activities: %w", err)
	}
	dates := make([]time.Time, 0, len(acts))
	for _, act := range acts {
		dates = append(dates, act.Date)
	}
	return a.RecalculateStreak(ctx, userID, dates)
}

// Reset zeroes the totals and streak.
func (a *Aggregator) Reset(ctx context.Context, userID string) error {
	if err := a.users.ResetStats(ctx, userID); err != nil {
		return fmt.Errorf("reset stats: %w", err)
	}
	return nil
}
