package webhook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	shared "github.com/trailblazerplus/server/pkg"
	"github.com/trailblazerplus/server/pkg/infrastructure/metrics"
	"github.com/trailblazerplus/server/pkg/infrastructure/sentry"
	"github.com/trailblazerplus/server/pkg/types"
)

// ErrorUserNotFound is the annotation stored on entries whose athlete no longer maps to a user.
const ErrorUserNotFound = "User not found"

// TokenSource resolves users and hands out valid access tokens.
type TokenSource interface {
	AthleteResolver
	GetValidAccessToken(ctx context.Context, userID string) (string, error)
}

// ActivitySyncer is the ingestion surface the processor dispatches to.
type ActivitySyncer interface {
	SyncActivityByID(ctx context.Context, userID, accessToken string, id int64) (bool, error)
	UpdateActivityByID(ctx context.Context, userID, accessToken string, id int64) (bool, error)
	DeleteByExternalID(ctx context.Context, userID, externalID string) (bool, error)
}

// StreakReconciler rebuilds a user's streak from the stored activities.
type StreakReconciler interface {
	Reconcile(ctx context.Context, userID string) (int, error)
}

// Processor drains queue entries. Every entry ends processed, with or
// without an error annotation; failed entries are not retried here.
type Processor struct {
	queue      shared.QueueStore
	tokens     TokenSource
	syncer     ActivitySyncer
	reconciler StreakReconciler
	now        func() time.Time
	logger     *slog.Logger
}

// NewProcessor creates a processor. reconciler may be nil.
func NewProcessor(queue shared.QueueStore, tokens TokenSource, syncer ActivitySyncer, reconciler StreakReconciler, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		queue:      queue,
		tokens:     tokens,
		syncer:     syncer,
		reconciler: reconciler,
		now:        time.Now,
		logger:     logger.With("component", "webhook_processor"),
	}
}

// ProcessEntry loads and processes one entry. Entries already processed are
// skipped so a redelivered trigger is harmless. The returned error only
// reports failures to read or mark the entry.
func (p *Processor) ProcessEntry(ctx context.Context, entryID string) error {
	entry, err := p.queue.GetWebhookEntry(ctx, entryID)
	if errors.Is(err, shared.ErrEntryNotFound) {
		p.logger.Warn("webhook queue entry missing", "entry_id", entryID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("load entry %s: %w", entryID, err)
	}
	if entry.ProcessedAt != nil {
		p.logger.Info("webhook queue entry already processed", "entry_id", entryID)
		return nil
	}

	logger := p.logger.With("entry_id", entryID, "aspect_type", entry.AspectType, "object_id", entry.ObjectID, "athlete_id", entry.OwnerID)
	logger.Info("processing strava webhook")

	errMsg := ""
	if err := p.process(ctx, entry, logger); err != nil {
		errMsg = err.Error()
		logger.Error("strava webhook processing failed", "error", err)
		metrics.RecordWebhook("process", "error")
		if !errors.Is(err, errUnroutable) {
			sentry.CaptureException(err, map[string]string{"entry_id": entryID, "aspect_type": entry.AspectType}, logger)
		}
	} else {
		metrics.RecordWebhook("process", "ok")
	}

	if err := p.queue.MarkWebhookProcessed(ctx, entryID, p.now().UTC(), errMsg); err != nil {
		return fmt.Errorf("mark entry %s processed: %w", entryID, err)
	}
	return nil
}

var errUnroutable = errors.New(ErrorUserNotFound)

func (p *Processor) process(ctx context.Context, entry *types.WebhookQueueEntry, logger *slog.Logger) error {
	// Routing may have changed since the entry was queued.
	userID, err := p.tokens.FindUserByAthleteID(ctx, entry.OwnerID)
	if err != nil {
		return fmt.Errorf("resolve athlete: %w", err)
	}
	if userID == "" {
		logger.Warn("no user found for athlete")
		return errUnroutable
	}
	logger = logger.With("user_id", userID)

	accessToken, err := p.tokens.GetValidAccessToken(ctx, userID)
	if err != nil {
		return err
	}

	changed := false
	switch entry.AspectType {
	case types.AspectCreate:
		changed, err = p.syncer.SyncActivityByID(ctx, userID, accessToken, entry.ObjectID)
		if err == nil {
			logger.Info("synced new activity", "inserted", changed)
		}
	case types.AspectUpdate:
		changed, err = p.syncer.UpdateActivityByID(ctx, userID, accessToken, entry.ObjectID)
		if err == nil {
			logger.Info("updated activity", "inserted", changed)
		}
	case types.AspectDelete:
		changed, err = p.syncer.DeleteByExternalID(ctx, userID, strconv.FormatInt(entry.ObjectID, 10))
		if err == nil {
			logger.Info("deleted activity", "deleted", changed)
		}
	default:
		logger.Warn("unknown aspect type")
	}
	if err != nil {
		return err
	}

	if changed && p.reconciler != nil {
		if _, err := p.reconciler.Reconcile(ctx, userID); err != nil {
			logger.Warn("streak reconcile failed", "error", err)
		}
	}
	return nil
}

// Requeue clears the processed state of failed entries so they run again.
// It returns the ids that were reset.
func (p *Processor) Requeue(ctx context.Context, ids []string) ([]string, error) {
	reset := make([]string, 0, len(ids))
	for _, id := range ids {
		if err := p.queue.RequeueWebhook(ctx, id); err != nil {
			return reset, fmt.Errorf("requeue %s: %w", id, err)
		}
		reset = append(reset, id)
	}
	return reset, nil
}
