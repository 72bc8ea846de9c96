package ingest

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	shared "github.com/trailblazerplus/server/pkg"
	"github.com/trailblazerplus/server/pkg/domain/activity"
	"github.com/trailblazerplus/server/pkg/domain/stats"
	"github.com/trailblazerplus/server/pkg/types"
)

// GiveawayThreshold is the number of activities in a week that qualifies for the giveaway.
const GiveawayThreshold = 3

// DefaultRecentLimit is how many activities the home screen shows.
const DefaultRecentLimit = 3

// ManualEntry is an activity logged by hand.
type ManualEntry struct {
	Type            string
	DurationMinutes float64
	DistanceKm      float64
	Location        *string
	Date            *time.Time
}

// LogManualActivity stores a manual activity, adds it to the totals and
// advances the streak.
func (e *Engine) LogManualActivity(ctx context.Context, userID string, entry ManualEntry) (*types.Activity, error) {
	if !activity.IsCategory(entry.Type) {
		return nil, fmt.Errorf("%w: unknown type %q", shared.ErrInvalidActivity, entry.Type)
	}
	if entry.DurationMinutes <= 0 {
		return nil, fmt.Errorf("%w: duration must be positive", shared.ErrInvalidActivity)
	}
	if entry.DistanceKm < 0 || math.IsNaN(entry.DistanceKm) {
		return nil, fmt.Errorf("%w: distance must not be negative", shared.ErrInvalidActivity)
	}

	now := e.agg.Now().UTC()
	date := now
	if entry.Date != nil {
		date = entry.Date.UTC()
	}

	act := &types.Activity{
		ID:        uuid.NewString(),
		Source:    types.SourceManual,
		Type:      entry.Type,
		Duration:  int(math.Round(entry.DurationMinutes * 60)),
		Distance:  entry.DistanceKm,
		Location:  entry.Location,
		Date:      date,
		CreatedAt: now,
	}
	steps := activity.ComputeSteps(act.Type, act.Distance)
	act.Steps = &steps
	if _, err := e.store.InsertActivity(ctx, userID, act, stats.DeltaFor(act)); err != nil {
		return nil, fmt.Errorf("insert manual activity: %w", err)
	}
	if _, err := e.agg.UpdateStreak(ctx, userID); err != nil {
		return nil, err
	}

	e.logger.Info("manual activity logged", "user_id", userID, "activity_id", act.ID, "type", act.Type)
	return act, nil
}

// ResetChallenge deletes every activity of the user and zeroes the totals and streak.
func (e *Engine) ResetChallenge(ctx context.Context, userID string) (int, error) {
	n, err := e.store.DeleteAllActivities(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("delete activities: %w", err)
	}
	if err := e.agg.Reset(ctx, userID); err != nil {
		return n, err
	}
	e.logger.Info("challenge reset", "user_id", userID, "deleted", n)
	return n, nil
}

// RecentActivities returns the newest activities, DefaultRecentLimit when limit <= 0.
func (e *Engine) RecentActivities(ctx context.Context, userID string, limit int) ([]*types.Activity, error) {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	return e.store.ListActivities(ctx, userID, types.ActivityQuery{Limit: limit})
}

// ListActivities passes a listing query through to the store.
func (e *Engine) ListActivities(ctx context.Context, userID string, query types.ActivityQuery) ([]*types.Activity, error) {
	return e.store.ListActivities(ctx, userID, query)
}

// WeeklyCount counts activities since the start of the current week (Sunday).
func (e *Engine) WeeklyCount(ctx context.Context, userID string) (int, error) {
	since := e.agg.WeekStart()
	acts, err := e.store.ListActivities(ctx, userID, types.ActivityQuery{Since: &since})
	if err != nil {
		return 0, fmt.Errorf("list weekly activities: %w", err)
	}
	return len(acts), nil
}

// IsEligibleForGiveaway reports whether the user has logged enough activities this week.
func (e *Engine) IsEligibleForGiveaway(ctx context.Context, userID string) (bool, int, error) {
	n, err := e.WeeklyCount(ctx, userID)
	if err != nil {
		return false, 0, err
	}
	return n >= GiveawayThreshold, n, nil
}
