// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Counters
	NotificationsReceived = promauto.NewCounter(prometheus.CounterOpts{Name: "shrampybot_notifications_received_total", Help: "Number of webhook deliveries received"})
	SignatureFailures     = promauto.NewCounter(prometheus.CounterOpts{Name: "shrampybot_signature_failures_total", Help: "Number of deliveries rejected for bad or missing signatures"})
	PostsCreated          = promauto.NewCounter(prometheus.CounterOpts{Name: "shrampybot_posts_created_total", Help: "Number of social posts created for stream.online events"})
	DuplicatesSuppressed  = promauto.NewCounter(prometheus.CounterOpts{Name: "shrampybot_duplicates_suppressed_total", Help: "Number of stream.online events skipped because the session was already posted"})
	ValidationSkips       = promauto.NewCounter(prometheus.CounterOpts{Name: "shrampybot_validation_skips_total", Help: "Number of events skipped for wrong type, category, or unmapped login"})
	SubscriptionsCreated  = promauto.NewCounter(prometheus.CounterOpts{Name: "shrampybot_subscriptions_created_total", Help: "Number of EventSub subscriptions created by reconciliation"})
	SubscriptionsDeleted  = promauto.NewCounter(prometheus.CounterOpts{Name: "shrampybot_subscriptions_deleted_total", Help: "Number of EventSub subscriptions deleted by reconciliation"})
	CorrelationEdits      = promauto.NewCounter(prometheus.CounterOpts{Name: "shrampybot_correlation_edits_total", Help: "Number of chat messages located by tag and edited"})
	CorrelationMisses     = promauto.NewCounter(prometheus.CounterOpts{Name: "shrampybot_correlation_misses_total", Help: "Number of correlation scans that found no qualifying message"})
	CrosspostFailures     = promauto.NewCounter(prometheus.CounterOpts{Name: "shrampybot_crosspost_failures_total", Help: "Number of best-effort crosspost attempts that failed"})

	// Histograms (seconds)
	WebhookDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "shrampybot_webhook_duration_seconds", Help: "Webhook handling duration seconds", Buckets: prometheus.DefBuckets})
)

// TimeFunc measures the duration of fn and records in obs if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
	return d
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding the correlation id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns the correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	if s, ok := ctx.Value(corrKey).(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with a corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
