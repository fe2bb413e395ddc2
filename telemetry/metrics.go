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
	ChatMessages      *prometheus.CounterVec // label: origin (user|synthesized)
	SynthRequests     *prometheus.CounterVec // label: result (ok|fallback|failed|invalid)
	PersistFailures   prometheus.Counter
	Reactions         *prometheus.CounterVec // label: source (tap|ambient)
	CaptionsForwarded prometheus.Counter

	// Histograms (seconds)
	SynthDuration prometheus.Observer

	// Gauges
	ActiveRooms prometheus.Gauge
	Viewers     *prometheus.GaugeVec // label: room
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		ChatMessages = promauto.NewCounterVec(prometheus.CounterOpts{Name: "bookclub_chat_messages_total", Help: "Chat messages appended to live rooms"}, []string{"origin"})
		SynthRequests = promauto.NewCounterVec(prometheus.CounterOpts{Name: "bookclub_synth_requests_total", Help: "Comment synthesis attempts by result"}, []string{"result"})
		PersistFailures = promauto.NewCounter(prometheus.CounterOpts{Name: "bookclub_chat_persist_failures_total", Help: "User chat messages that failed to persist"})
		Reactions = promauto.NewCounterVec(prometheus.CounterOpts{Name: "bookclub_reactions_total", Help: "Reactions created by source"}, []string{"source"})
		CaptionsForwarded = promauto.NewCounter(prometheus.CounterOpts{Name: "bookclub_caption_segments_forwarded_total", Help: "Transcript segments forwarded as chat context"})
		SynthDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "bookclub_synth_duration_seconds", Help: "Generative backend call duration seconds", Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 15, 30}})
		ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{Name: "bookclub_active_rooms", Help: "Rooms with a connected session"})
		Viewers = promauto.NewGaugeVec(prometheus.GaugeOpts{Name: "bookclub_room_viewers", Help: "Displayed (synthetic) viewer count per room"}, []string{"room"})
	})
}

// RecordChatMessage counts an appended chat message.
func RecordChatMessage(origin string) {
	if ChatMessages != nil {
		ChatMessages.WithLabelValues(origin).Inc()
	}
}

// RecordSynthesis counts a synthesis attempt and observes its backend duration when non-zero.
func RecordSynthesis(result string, d time.Duration) {
	if SynthRequests != nil {
		SynthRequests.WithLabelValues(result).Inc()
	}
	if SynthDuration != nil && d > 0 {
		SynthDuration.Observe(d.Seconds())
	}
}

// RecordPersistFailure counts a failed chat insert.
func RecordPersistFailure() {
	if PersistFailures != nil {
		PersistFailures.Inc()
	}
}

// RecordReaction counts a created reaction.
func RecordReaction(source string) {
	if Reactions != nil {
		Reactions.WithLabelValues(source).Inc()
	}
}

// RecordCaptionForwarded counts a forwarded transcript segment.
func RecordCaptionForwarded() {
	if CaptionsForwarded != nil {
		CaptionsForwarded.Inc()
	}
}

// SetActiveRooms records the number of rooms with a live session.
func SetActiveRooms(n int) {
	if ActiveRooms != nil {
		ActiveRooms.Set(float64(n))
	}
}

// SetViewers records the displayed viewer count of a room.
func SetViewers(room string, n int) {
	if Viewers != nil {
		Viewers.WithLabelValues(room).Set(float64(n))
	}
}

// DeleteViewers drops the viewer series of a room that went offline.
func DeleteViewers(room string) {
	if Viewers != nil {
		Viewers.DeleteLabelValues(room)
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

type roomKeyType struct{}

var roomKey roomKeyType

// WithRoom returns a new context naming the live room work is done for.
func WithRoom(ctx context.Context, room string) context.Context {
	return context.WithValue(ctx, roomKey, room)
}

// GetRoom returns the room stored by WithRoom or empty string.
func GetRoom(ctx context.Context) string {
	if s, ok := ctx.Value(roomKey).(string); ok {
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
