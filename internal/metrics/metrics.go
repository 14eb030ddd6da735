// Package metrics exposes the Prometheus counters and gauge referenced
// throughout the error-handling and backpressure design.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	DroppedAudioChunks = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "meetingscribe_dropped_audio_chunk_total",
		Help: "Audio chunks dropped from the inbound queue due to backpressure.",
	})

	InvalidFrames = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "meetingscribe_invalid_frames_total",
		Help: "Binary audio frames dropped due to decode or length errors.",
	})

	AsrRetries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "meetingscribe_asr_retries_total",
		Help: "Retry attempts against external recognizers, by recognizer kind.",
	}, []string{"recognizer"})

	AsrFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "meetingscribe_asr_failures_total",
		Help: "Permanent recognizer failures after retries are exhausted, by recognizer kind.",
	}, []string{"recognizer"})

	ActiveSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "meetingscribe_active_sessions",
		Help: "Number of Sessions currently resident in the SessionManager.",
	})

	FinalsEmitted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "meetingscribe_finals_emitted_total",
		Help: "Final transcript segments committed across all sessions.",
	})

	TriggerReasons = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "meetingscribe_trigger_reason_total",
		Help: "Smart-trigger firings by reason (silence, punctuation, window, stability).",
	}, []string{"reason"})

	PromotionOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "meetingscribe_promotion_outcome_total",
		Help: "Diarized version promotion decisions, by outcome (promoted, blocked).",
	}, []string{"outcome"})
)

func MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(
		DroppedAudioChunks,
		InvalidFrames,
		AsrRetries,
		AsrFailures,
		ActiveSessions,
		FinalsEmitted,
		TriggerReasons,
		PromotionOutcomes,
	)
}
