// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	TokenRefreshes      *prometheus.CounterVec // credential, outcome
	WebhookRequests     *prometheus.CounterVec // message_type, result
	EventsPublished     *prometheus.CounterVec // type
	EventsDelivered     *prometheus.CounterVec // type
	EventsSuppressed    *prometheus.CounterVec // type
	NotifyFailures      *prometheus.CounterVec // action
	SongRequestsHandled *prometheus.CounterVec // outcome

	// Histograms (seconds)
	TokenGrantDuration *prometheus.HistogramVec // credential

	// Gauges
	SubscriptionsGauge prometheus.Gauge
	StreamOnlineGauge  prometheus.Gauge // 1=online,0=offline
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		TokenRefreshes = promauto.NewCounterVec(prometheus.CounterOpts{Name: "tunecast_token_refreshes_total", Help: "Credential grants by credential and outcome (cache, refresh, authorize, error)"}, []string{"credential", "outcome"})
		WebhookRequests = promauto.NewCounterVec(prometheus.CounterOpts{Name: "tunecast_webhook_requests_total", Help: "EventSub webhook deliveries by message type and result"}, []string{"message_type", "result"})
		EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{Name: "tunecast_events_published_total", Help: "Notifications published to the event bus"}, []string{"type"})
		EventsDelivered = promauto.NewCounterVec(prometheus.CounterOpts{Name: "tunecast_events_delivered_total", Help: "Notifications delivered to listeners"}, []string{"type"})
		EventsSuppressed = promauto.NewCounterVec(prometheus.CounterOpts{Name: "tunecast_events_suppressed_total", Help: "Notifications dropped because the stream was offline"}, []string{"type"})
		NotifyFailures = promauto.NewCounterVec(prometheus.CounterOpts{Name: "tunecast_notify_failures_total", Help: "Best-effort outbound calls that failed after retries"}, []string{"action"})
		SongRequestsHandled = promauto.NewCounterVec(prometheus.CounterOpts{Name: "tunecast_song_requests_total", Help: "Song requests by outcome"}, []string{"outcome"})
		TokenGrantDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{Name: "tunecast_token_grant_duration_seconds", Help: "Duration of token endpoint calls", Buckets: prometheus.DefBuckets}, []string{"credential"})
		SubscriptionsGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "tunecast_eventsub_subscriptions", Help: "Remote EventSub subscriptions created by this process and not yet deleted"})
		StreamOnlineGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "tunecast_stream_online", Help: "Stream liveness online=1 offline=0"})
	})
}

func inc(v *prometheus.CounterVec, labels ...string) {
	if v != nil {
		v.WithLabelValues(labels...).Inc()
	}
}

// RecordTokenGrant counts one Token() outcome for credential.
func RecordTokenGrant(credential, outcome string) { inc(TokenRefreshes, credential, outcome) }

// RecordWebhook counts one webhook delivery.
func RecordWebhook(messageType, result string) { inc(WebhookRequests, messageType, result) }

// RecordPublished counts one notification accepted onto the bus.
func RecordPublished(eventType string) { inc(EventsPublished, eventType) }

// RecordDelivered counts one notification handed to a listener.
func RecordDelivered(eventType string) { inc(EventsDelivered, eventType) }

// RecordSuppressed counts one notification withheld by the liveness gate.
func RecordSuppressed(eventType string) { inc(EventsSuppressed, eventType) }

// RecordNotifyFailure counts one best-effort action that gave up.
func RecordNotifyFailure(action string) { inc(NotifyFailures, action) }

// RecordSongRequest counts one song request outcome.
func RecordSongRequest(outcome string) { inc(SongRequestsHandled, outcome) }

// AddSubscriptions adjusts the live subscription gauge by delta.
func AddSubscriptions(delta int) {
	if SubscriptionsGauge != nil {
		SubscriptionsGauge.Add(float64(delta))
	}
}

// SetStreamOnline sets gauge to 1 if online else 0.
func SetStreamOnline(online bool) {
	if StreamOnlineGauge == nil {
		return
	}
	if online {
		StreamOnlineGauge.Set(1)
	} else {
		StreamOnlineGauge.Set(0)
	}
}

// TimeFunc measures the duration of fn and records in observer if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
	return d
}

// GrantObserver returns the duration observer for credential, or nil before Init.
func GrantObserver(credential string) prometheus.Observer {
	if TokenGrantDuration == nil {
		return nil
	}
	return TokenGrantDuration.WithLabelValues(credential)
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding the correlation id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	if s, ok := ctx.Value(corrKey).(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
