// Package metrics holds the Prometheus collectors for the sync pipeline.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "trailblazer"

var (
	providerRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "strava",
		Name:      "requests_total",
		Help:      "Strava API requests grouped by operation and status code (0 = no response).",
	}, []string{"operation", "status"})

	activitiesIngested = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ingest",
		Name:      "activities_total",
		Help:      "Activity ingestion outcomes (inserted, duplicate, deleted, updated).",
	}, []string{"outcome"})

	webhookEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "webhook",
		Name:      "events_total",
		Help:      "Webhook deliveries grouped by stage and result.",
	}, []string{"stage", "result"})

	lastSyncGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "ingest",
		Name:      "last_sync_timestamp_seconds",
		Help:      "Unix timestamp of the most recent completed window sync.",
	})
)

func init() {
	prometheus.MustRegister(providerRequests, activitiesIngested, webhookEvents, lastSyncGauge)
}

// RecordProviderRequest counts one Strava API call.
func RecordProviderRequest(operation string, status int) {
	providerRequests.WithLabelValues(operation, strconv.Itoa(status)).Inc()
}

// RecordIngest counts an ingestion outcome.
func RecordIngest(outcome string) {
	activitiesIngested.WithLabelValues(outcome).Inc()
}

// RecordWebhook counts a webhook delivery at the receive or process stage.
func RecordWebhook(stage, result string) {
	webhookEvents.WithLabelValues(stage, result).Inc()
}

// RecordSync sets the last-sync watermark.
func RecordSync(ts time.Time) {
	if ts.IsZero() {
		return
	}
	lastSyncGauge.Set(float64(ts.Unix()))
}
