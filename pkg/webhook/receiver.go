// Package webhook receives Strava push events, stores them in a durable inbox
// and drains that inbox through the ingestion engine.
package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	shared "github.com/trailblazerplus/server/pkg"
	httputil "github.com/trailblazerplus/server/pkg/infrastructure/http"
	"github.com/trailblazerplus/server/pkg/infrastructure/metrics"
	infrapubsub "github.com/trailblazerplus/server/pkg/infrastructure/pubsub"
	"github.com/trailblazerplus/server/pkg/integrations/strava"
	"github.com/trailblazerplus/server/pkg/types"
)

const maxEventBody = 64 << 10

// AthleteResolver maps a Strava athlete to a user id ("" when unknown).
type AthleteResolver interface {
	FindUserByAthleteID(ctx context.Context, athleteID int64) (string, error)
}

// Receiver is the provider-facing endpoint.
type Receiver struct {
	verifyToken string
	resolver    AthleteResolver
	queue       shared.QueueStore
	publisher   shared.Publisher
	topic       string
	guard       shared.DeliveryGuard
	now         func() time.Time
	logger      *slog.Logger
}

// ReceiverOption configures optional collaborators.
type ReceiverOption func(*Receiver)

// WithGuard drops redeliveries the guard has already seen.
func WithGuard(g shared.DeliveryGuard) ReceiverOption {
	return func(r *Receiver) { r.guard = g }
}

// WithTopic overrides the notification topic.
func WithTopic(topic string) ReceiverOption {
	return func(r *Receiver) { r.topic = topic }
}

// NewReceiver creates a receiver. publisher may be nil when the inbox is
// drained by other means.
func NewReceiver(verifyToken string, resolver AthleteResolver, queue shared.QueueStore, publisher shared.Publisher, logger *slog.Logger, opts ...ReceiverOption) *Receiver {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Receiver{
		verifyToken: verifyToken,
		resolver:    resolver,
		queue:       queue,
		publisher:   publisher,
		topic:       shared.TopicWebhookQueue,
		now:         time.Now,
		logger:      logger.With("component", "webhook"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// HandleChallenge answers the subscription handshake.
func (r *Receiver) HandleChallenge(mode, verifyToken, challenge string) (string, error) {
	if mode != "subscribe" || r.verifyToken == "" || verifyToken != r.verifyToken {
		return "", shared.ErrVerificationFailed
	}
	r.logger.Info("strava webhook validated")
	return challenge, nil
}

// HandleEvent routes one push event. It returns the queue entry id, or ""
// when the event was acknowledged without enqueueing.
func (r *Receiver) HandleEvent(ctx context.Context, ev *strava.WebhookEvent) (string, error) {
	logger := r.logger.With("object_type", ev.ObjectType, "aspect_type", ev.AspectType, "object_id", ev.ObjectID, "athlete_id", ev.OwnerID)

	if ev.ObjectType != types.ObjectTypeActivity {
		if ev.ObjectType == types.ObjectTypeAthlete && ev.AspectType == types.AspectUpdate && updateValue(ev.Updates, "authorized") == "false" {
			logger.Info("athlete deauthorized app")
		}
		metrics.RecordWebhook("receive", "ignored")
		return "", nil
	}

	userID, err := r.resolver.FindUserByAthleteID(ctx, ev.OwnerID)
	if err != nil {
		return "", fmt.Errorf("resolve athlete: %w", err)
	}
	if userID == "" {
		logger.Info("ignoring webhook for unknown athlete")
		metrics.RecordWebhook("receive", "unroutable")
		return "", nil
	}

	key := deliveryKey(ev)
	guarded := false
	if r.guard != nil {
		first, err := r.guard.FirstDelivery(ctx, key)
		if err != nil {
			logger.Warn("delivery guard unavailable, accepting event", "error", err)
		} else if !first {
			logger.Info("duplicate strava delivery dropped")
			metrics.RecordWebhook("receive", "duplicate")
			return "", nil
		} else {
			guarded = true
		}
	}

	entry := &types.WebhookQueueEntry{
		ObjectType: ev.ObjectType,
		ObjectID:   ev.ObjectID,
		AspectType: ev.AspectType,
		OwnerID:    ev.OwnerID,
		EventTime:  ev.EventTime,
		Updates:    stringUpdates(ev.Updates),
		ReceivedAt: r.now().UTC(),
	}
	id, err := r.queue.EnqueueWebhook(ctx, entry)
	if err != nil {
		if guarded {
			// Let the provider's redelivery through.
			if rerr := r.guard.Release(ctx, key); rerr != nil {
				logger.Warn("failed to release delivery key", "error", rerr)
			}
		}
		return "", fmt.Errorf("enqueue webhook: %w", err)
	}
	metrics.RecordWebhook("receive", "queued")
	logger.Info("strava webhook queued", "entry_id", id, "user_id", userID)

	// The entry is durable at this point; a lost notification leaves it for requeue.
	if r.publisher != nil {
		if err := r.notify(ctx, id); err != nil {
			logger.Error("failed to publish queue notification", "entry_id", id, "error", err)
		}
	}
	return id, nil
}

func (r *Receiver) notify(ctx context.Context, entryID string) error {
	e, err := infrapubsub.NewQueueEvent(entryID)
	if err != nil {
		return err
	}
	_, err = r.publisher.PublishCloudEvent(ctx, r.topic, e)
	return err
}

// ServeHTTP implements the webhook endpoint: GET handshake, POST event, 405 otherwise.
func (r *Receiver) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	switch req.Method {
	case http.MethodGet:
		q := req.URL.Query()
		challenge, err := r.HandleChallenge(q.Get("hub.mode"), q.Get("hub.verify_token"), q.Get("hub.challenge"))
		if err != nil {
			http.Error(w, "Invalid verify token", http.StatusForbidden)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"hub.challenge": challenge})

	case http.MethodPost:
		body, err := io.ReadAll(io.LimitReader(req.Body, maxEventBody))
		if err != nil {
			http.Error(w, "Bad request", http.StatusBadRequest)
			return
		}
		var ev strava.WebhookEvent
		if err := json.Unmarshal(body, &ev); err != nil {
			// Nothing to retry for a malformed payload.
			r.logger.Warn("malformed strava webhook body", "error", err)
			metrics.RecordWebhook("receive", "malformed")
			writeOK(w)
			return
		}

		if _, err := r.HandleEvent(req.Context(), &ev); err != nil {
			// Storage failure: a non-200 makes Strava redeliver.
			r.logger.Error("failed to handle strava webhook", "error", err)
			metrics.RecordWebhook("receive", "error")
			http.Error(w, "Internal error", http.StatusInternalServerError)
			return
		}
		writeOK(w)

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func writeOK(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func deliveryKey(ev *strava.WebhookEvent) string {
	return fmt.Sprintf("strava:webhook:%d:%s:%d:%s:%d", ev.OwnerID, ev.ObjectType, ev.ObjectID, ev.AspectType, ev.EventTime)
}

func updateValue(updates map[string]any, key string) string {
	v, ok := updates[key]
	if !ok {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprint(t)
	}
}

func stringUpdates(updates map[string]any) map[string]string {
	if len(updates) == 0 {
		return nil
	}
	out := make(map[string]string, len(updates))
	for k := range updates {
		out[k] = updateValue(updates, k)
	}
	return out
}
