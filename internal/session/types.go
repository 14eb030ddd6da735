// Package session implements the per-connection streaming orchestrator:
// WebSocket frame ingestion, VAD-gated rolling buffering, smart-trigger
// finalization, and heartbeat/reconnect handling, built around a
// ctx/cancel lifecycle, a single-writer Processor task, and a bounded
// SPSC audio queue.
package session

import "time"

// State is a Session's position in its lifecycle state machine.
type State string

const (
	StateIdle       State = "idle"
	StateConnected  State = "connected"
	StateStreaming  State = "streaming"
	StateDraining   State = "draining"
	StateClosed     State = "closed"
)

// TriggerReason names which smart trigger fired a final.
type TriggerReason string

const (
	ReasonSilence     TriggerReason = "silence"
	ReasonPunctuation TriggerReason = "punctuation"
	ReasonWindow      TriggerReason = "window"
	ReasonStability   TriggerReason = "stability"
	ReasonFlush       TriggerReason = "flush" // forced on Session close
)

// Config holds the per-session tunables, translated from
// internal/config.Config at construction time so
// this package stays decoupled from the global config type.
type Config struct {
	SampleRateHz int

	WindowSec        float64
	OverlapSec       float64
	MaxWindowSec     float64
	SilenceCommitSec float64

	ChunkDurationSec float64

	MaxAudioQueue       int
	HeartbeatTimeout    time.Duration
	SessionLinger       time.Duration
	AsrWorkerPool       int
	StreamingAsrTimeout time.Duration

	MaxPendingTriggers int // default 4, bounds queued-but-unprocessed triggers
}

func DefaultConfig() Config {
	return Config{
		SampleRateHz:        16000,
		WindowSec:           12.0,
		OverlapSec:          1.5,
		MaxWindowSec:        15.0,
		SilenceCommitSec:    1.2,
		ChunkDurationSec:    30.0,
		MaxAudioQueue:       10,
		HeartbeatTimeout:    15 * time.Second,
		SessionLinger:       120 * time.Second,
		AsrWorkerPool:       2,
		StreamingAsrTimeout: 8 * time.Second,
		MaxPendingTriggers:  4,
	}
}

// EventSink delivers outbound protocol events to the client socket. It is
// implemented by the WebSocket transport layer so Session stays decoupled
// from gorilla/websocket and from JSON encoding.
type EventSink interface {
	SendConnected(sessionID string) error
	SendPartial(text string, confidence float64, isStable bool) error
	SendFinal(text string, confidence float64, reason TriggerReason, startSec, endSec float64) error
	SendError(code, message string) error
	SendPong() error
}
