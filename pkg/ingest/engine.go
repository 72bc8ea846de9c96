// Package ingest turns provider activities into ledger entries exactly once
// per (user, external id) and keeps the user's totals in step with the ledger.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	shared "github.com/trailblazerplus/server/pkg"
	"github.com/trailblazerplus/server/pkg/domain/activity"
	"github.com/trailblazerplus/server/pkg/domain/stats"
	"github.com/trailblazerplus/server/pkg/infrastructure/metrics"
	"github.com/trailblazerplus/server/pkg/integrations/strava"
	"github.com/trailblazerplus/server/pkg/types"
)

const (
	DefaultWindowDays = 30
	DefaultPerPage    = 100
	DefaultMaxPages   = 10
)

// ActivityFetcher is the subset of the Strava client the engine reads from.
type ActivityFetcher interface {
	FetchActivities(ctx context.Context, accessToken string, params strava.ListParams) ([]strava.Activity, error)
	FetchActivity(ctx context.Context, accessToken string, id int64) (*strava.Activity, error)
}

// Options tune the sync window and the optional raw payload archive.
type Options struct {
	WindowDays    int
	PerPage       int
	MaxPages      int
	ArchiveBucket string
}

func (o *Options) applyDefaults() {
	if o.WindowDays <= 0 {
		o.WindowDays = DefaultWindowDays
	}
	if o.PerPage <= 0 {
		o.PerPage = DefaultPerPage
	}
	if o.MaxPages <= 0 {
		o.MaxPages = DefaultMaxPages
	}
}

// Engine ingests, updates and deletes provider activities.
type Engine struct {
	store  shared.ActivityStore
	agg    *stats.Aggregator
	client ActivityFetcher
	blobs  shared.BlobStore
	opts   Options
	logger *slog.Logger
}

// NewEngine creates an engine. blobs may be nil to disable archiving.
func NewEngine(store shared.ActivityStore, agg *stats.Aggregator, client ActivityFetcher, blobs shared.BlobStore, opts Options, logger *slog.Logger) *Engine {
	opts.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:  store,
		agg:    agg,
		client: client,
		blobs:  blobs,
		opts:   opts,
		logger: logger.With("component", "ingest"),
	}
}

// IngestIfNew stores a provider activity unless the user already has it.
// The stats delta is applied in the same write as the insert.
func (e *Engine) IngestIfNew(ctx context.Context, userID string, src *strava.Activity) (bool, error) {
	externalID := strconv.FormatInt(src.ID, 10)

	existing, err := e.store.GetActivityByExternalID(ctx, userID, externalID)
	if err != nil {
		return false, fmt.Errorf("lookup activity %s: %w", externalID, err)
	}
	if existing != nil {
		metrics.RecordIngest("duplicate")
		return false, nil
	}

	act := activity.ToInternal(src, e.agg.Now())
	inserted, err := e.store.InsertActivity(ctx, userID, act, stats.DeltaFor(act))
	if err != nil {
		return false, fmt.Errorf("insert activity %s: %w", externalID, err)
	}
	if !inserted {
		// Lost the race to a concurrent delivery; the store refused the duplicate.
		metrics.RecordIngest("duplicate")
		return false, nil
	}

	metrics.RecordIngest("inserted")
	e.logger.Debug("activity ingested", "user_id", userID, "activity_id", act.ID, "type", act.Type, "distance_km", act.Distance)
	e.archive(ctx, userID, act.ID, src)
	return true, nil
}

func (e *Engine) archive(ctx context.Context, userID, activityID string, src *strava.Activity) {
	if e.blobs == nil || e.opts.ArchiveBucket == "" || len(src.Raw) == 0 {
		return
	}
	object := activity.RawArchiveObject(userID, activityID)
	if err := e.blobs.Write(ctx, e.opts.ArchiveBucket, object, src.Raw); err != nil {
		e.logger.Warn("failed to archive raw activity", "user_id", userID, "activity_id", activityID, "error", err)
	}
}

// DeleteByExternalID removes the activity and reverses its stats contribution.
func (e *Engine) DeleteByExternalID(ctx context.Context, userID, externalID string) (bool, error) {
	deleted, err := e.store.DeleteActivityByExternalID(ctx, userID, externalID, func(a *types.Activity) types.StatDelta {
		return stats.DeltaFor(a).Negate()
	})
	if err != nil {
		return false, fmt.Errorf("delete activity %s: %w", externalID, err)
	}
	if deleted == nil {
		return false, nil
	}
	metrics.RecordIngest("deleted")
	e.logger.Info("activity deleted", "user_id", userID, "activity_id", deleted.ID)
	return true, nil
}

// UpdateByExternalID patches descriptive fields of a known activity, or
// ingests it when it is not stored yet. Distance and duration are never
// patched, so totals keep the values from insert time.
func (e *Engine) UpdateByExternalID(ctx context.Context, userID string, src *strava.Activity) (inserted bool, err error) {
	externalID := strconv.FormatInt(src.ID, 10)

	existing, err := e.store.GetActivityByExternalID(ctx, userID, externalID)
	if err != nil {
		return false, fmt.Errorf("lookup activity %s: %w", externalID, err)
	}
	if existing == nil {
		return e.IngestIfNew(ctx, userID, src)
	}

	if km := src.Distance / 1000; km != existing.Distance || src.MovingTime != existing.Duration {
		e.logger.Debug("provider edit changed quantities, totals left as ingested",
			"user_id", userID, "activity_id", existing.ID,
			"stored_km", existing.Distance, "provider_km", km,
			"stored_seconds", existing.Duration, "provider_seconds", src.MovingTime)
	}

	if err := e.store.PatchActivity(ctx, userID, existing.ID, activity.PatchFrom(src)); err != nil {
		return false, fmt.Errorf("patch activity %s: %w", externalID, err)
	}
	metrics.RecordIngest("updated")
	return false, nil
}

// SyncActivityByID fetches one activity and ingests it.
func (e *Engine) SyncActivityByID(ctx context.Context, userID, accessToken string, id int64) (bool, error) {
	src, err := e.client.FetchActivity(ctx, accessToken, id)
	if err != nil {
		return false, err
	}
	return e.IngestIfNew(ctx, userID, src)
}

// UpdateActivityByID fetches one activity and applies it as an update.
func (e *Engine) UpdateActivityByID(ctx context.Context, userID, accessToken string, id int64) (bool, error) {
	src, err := e.client.FetchActivity(ctx, accessToken, id)
	if err != nil {
		return false, err
	}
	return e.UpdateByExternalID(ctx, userID, src)
}

// SyncRecentWindow pages through the configured window and ingests every new
// activity. It stops at a short page or after MaxPages; hitting the cap is a
// partial sync, not an error. The streak is rebuilt when anything was inserted.
func (e *Engine) SyncRecentWindow(ctx context.Context, userID, accessToken string) (int, error) {
	after := e.agg.Now().AddDate(0, 0, -e.opts.WindowDays).Unix()

	synced := 0
	page := 1
	for ; page <= e.opts.MaxPages; page++ {
		acts, err := e.client.FetchActivities(ctx, accessToken, strava.ListParams{
			After:   after,
			Page:    page,
			PerPage: e.opts.PerPage,
		})
		if err != nil {
			return synced, err
		}

		for i := range acts {
			inserted, err := e.IngestIfNew(ctx, userID, &acts[i])
			if err != nil {
				return synced, err
			}
			if inserted {
				synced++
			}
		}

		if len(acts) < e.opts.PerPage {
			break
		}
	}
	if page > e.opts.MaxPages {
		e.logger.Warn("strava sync hit page cap, partial sync", "user_id", userID, "max_pages", e.opts.MaxPages)
	}

	if synced > 0 {
		if _, err := e.agg.Reconcile(ctx, userID); err != nil {
			e.logger.Warn("streak reconcile after sync failed", "user_id", userID, "error", err)
		}
	}

	metrics.RecordSync(e.agg.Now())
	e.logger.Info("strava sync complete", "user_id", userID, "synced", synced)
	return synced, nil
}

// WindowStart is the lower bound of the sync window as of now.
func (e *Engine) WindowStart() time.Time {
	return e.agg.Now().AddDate(0, 0, -e.opts.WindowDays)
}
