package session

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/askidmobile/meetingscribe/internal/asr"
	"github.com/askidmobile/meetingscribe/internal/buffer"
	"github.com/askidmobile/meetingscribe/internal/dedup"
	"github.com/askidmobile/meetingscribe/internal/logging"
	"github.com/askidmobile/meetingscribe/internal/metrics"
	"github.com/askidmobile/meetingscribe/internal/recorder"
	"github.com/askidmobile/meetingscribe/internal/store"
	"github.com/askidmobile/meetingscribe/internal/vad"
)

const (
	vadFrameMs          = 20 // sub-frame size the Processor feeds to VAD
	stabilityWindowSize = 4  // trailing partials compared for text-stability trigger
	punctuationGraceSec = 3.0
)

// frame is one decoded binary audio message queued from Reader to Processor.
type frame struct {
	audioStartSec float64
	pcm           []byte
}

// Session orchestrates one WebSocket connection's full streaming-audio
// lifecycle: VAD ⇄ RollingBuffer ⇄ StreamingASR ⇄ Deduper ⇄ client, plus
// fan-out to ChunkRecorder.
type Session struct {
	ID string
	cfg       Config
	log       logging.Logger

	meetingIDMu sync.RWMutex
	meetingID   string

	vad       vad.VAD
	rollBuf   *buffer.RollingBuffer
	deduper   *dedup.Deduper
	chunkRec  *recorder.ChunkRecorder
	streaming asr.StreamingASR
	liveStore *store.LiveVersionWriter
	liveVerID uint

	sinkMu sync.RWMutex
	sink   EventSink

	ctx    context.Context
	cancel context.CancelFunc

	stateMu sync.Mutex
	state   State
	degraded bool

	queueMu sync.Mutex
	queue   []frame

	newFrame chan struct{}

	lastObservedSec   float64
	lastSpeechAt      time.Time
	lastActivityAt    time.Time // last frame or ping, for heartbeat
	lastFinalEndSec   float64

	triggerMu   sync.Mutex
	pendingTrig []TriggerReason

	commitMu sync.Mutex // enforces at-most-one final-commit in flight

	asrSem *semaphore.Weighted

	partialMu       sync.Mutex
	recentPartials  []string // trailing stability window, most recent last
	lastPunctAt     time.Time
	havePunctuation bool

	closeOnce sync.Once
	onClosed  func() // optional hook so SessionManager can deregister self-closed sessions
	wg        sync.WaitGroup
}

// New constructs a Session bound to a meeting and its per-session
// dependencies. Start must be called to begin the Processor and
// Heartbeat tasks.
func New(
	id, meetingID string,
	cfg Config,
	v vad.VAD,
	streaming asr.StreamingASR,
	chunkRec *recorder.ChunkRecorder,
	liveStore *store.LiveVersionWriter,
	liveVerID uint,
	sink EventSink,
	log logging.Logger,
) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		ID:        id,
		meetingID: meetingID,
		cfg:       cfg,
		log:       log.With("session_id", id, "meeting_id", meetingID),
		vad:       v,
		rollBuf:   buffer.New(cfg.SampleRateHz, cfg.WindowSec, cfg.OverlapSec, buffer.WithMaxWindowSec(cfg.MaxWindowSec), buffer.WithLogger(log)),
		deduper:   dedup.New(),
		chunkRec:  chunkRec,
		streaming: streaming,
		liveStore: liveStore,
		liveVerID: liveVerID,
		sink:      sink,
		ctx:       ctx,
		cancel:    cancel,
		state:     StateConnected,
		newFrame:  make(chan struct{}, 1),
		asrSem:    semaphore.NewWeighted(int64(cfg.AsrWorkerPool)),
	}
}

// Start sends the initial connected event, transitions to STREAMING, and
// launches the Processor and Heartbeat tasks. The Reader task lives in the
// transport layer, which calls Submit for each decoded frame.
func (s *Session) Start() error {
	if err := s.getSink().SendConnected(s.ID); err != nil {
		return fmt.Errorf("session: send connected: %w", err)
	}
	s.setState(StateStreaming)
	s.lastActivityAt = time.Now()

	s.wg.Add(2)
	go s.processorLoop()
	go s.heartbeatLoop()
	return nil
}

// Rebind swaps the EventSink backing this session, used when a client
// reconnects with an existing session_id before the linger eviction timer
// fires. No prior events are replayed to the new sink.
func (s *Session) Rebind(sink EventSink) {
	s.sinkMu.Lock()
	s.sink = sink
	s.sinkMu.Unlock()

	s.stateMu.Lock()
	if s.state == StateDraining || s.state == StateClosed {
		s.stateMu.Unlock()
		return
	}
	s.stateMu.Unlock()

	s.lastActivityAt = time.Now()
}

// MeetingID returns the session's current meeting identifier. It can
// change exactly once, via ReassignMeeting, for streams that started
// before a meeting_id existed.
func (s *Session) MeetingID() string {
	s.meetingIDMu.RLock()
	defer s.meetingIDMu.RUnlock()
	return s.meetingID
}

// SetLiveVersion rebinds the live TranscriptVersion id this session commits
// finals against, used alongside ReassignMeeting.
func (s *Session) SetLiveVersion(liveVerID uint) {
	s.commitMu.Lock()
	s.liveVerID = liveVerID
	s.commitMu.Unlock()
}

// ReassignMeeting rekeys this session onto a real meeting_id, used by
// Manager.AssignMeeting once a stream that began under a placeholder
// session-scoped identifier learns its real meeting_id.
func (s *Session) ReassignMeeting(meetingID string) {
	s.meetingIDMu.Lock()
	s.meetingID = meetingID
	s.meetingIDMu.Unlock()
}

func (s *Session) getSink() EventSink {
	s.sinkMu.RLock()
	defer s.sinkMu.RUnlock()
	return s.sink
}

func (s *Session) State() State {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.state
}

func (s *Session) setState(st State) {
	s.stateMu.Lock()
	s.state = st
	s.stateMu.Unlock()
}

// Submit decodes a binary frame's audio_start_sec for monotonicity and
// enqueues it, dropping the oldest queued frame if max_audio_queue is
// exceeded.
func (s *Session) Submit(audioStartSec float64, pcm []byte) {
	s.queueMu.Lock()
	clamped := s.clampTimestampLocked(audioStartSec)
	if len(s.queue) >= s.cfg.MaxAudioQueue {
		s.queue = s.queue[1:]
		metrics.DroppedAudioChunks.Inc()
		s.log.Warn("inbound audio queue overflow, dropped oldest frame")
	}
	s.queue = append(s.queue, frame{audioStartSec: clamped, pcm: pcm})
	s.queueMu.Unlock()

	select {
	case s.newFrame <- struct{}{}:
	default:
	}
}

// clampTimestampLocked enforces monotonic audio_start_sec:
// a regression is clamped to last+0.1 and logged, never rejected.
func (s *Session) clampTimestampLocked(t float64) float64 {
	if t < s.lastObservedSec {
		clamped := s.lastObservedSec + 0.1
		s.log.Warn("audio_start_sec regressed, clamping", "received", t, "clamped", clamped)
		t = clamped
	}
	s.lastObservedSec = t
	return t
}

// OnPing resets the heartbeat deadline and replies with pong.
func (s *Session) OnPing() error {
	s.queueMu.Lock()
	s.lastActivityAt = time.Now()
	s.queueMu.Unlock()
	return s.getSink().SendPong()
}

// Close stops all tasks, forces a final flush even below window_sec,
// closes the ChunkRecorder, and releases the session-level VAD, per the
// processor-close contract.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.setState(StateDraining)
		s.cancel()
		s.wg.Wait()

		if samples := s.rollBuf.Drain(); len(samples) > 0 {
			s.flushFinal(samples, s.lastFinalEndSec, s.lastObservedSec, ReasonFlush)
		}
		if s.chunkRec != nil {
			if err := s.chunkRec.Close(); err != nil {
				s.log.Warn("chunk recorder close failed", "error", err.Error())
			}
		}
		s.vad.Reset()
		s.setState(StateClosed)
		if s.onClosed != nil {
			s.onClosed()
		}
	})
}

// OnClosed registers a callback invoked exactly once, after Close's full
// teardown completes, regardless of whether Close was triggered by the
// owner or by the session's own heartbeat timeout.
func (s *Session) OnClosed(fn func()) {
	s.onClosed = fn
}

func (s *Session) heartbeatLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.HeartbeatTimeout / 3)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.queueMu.Lock()
			idle := time.Since(s.lastActivityAt)
			s.queueMu.Unlock()
			if idle > s.cfg.HeartbeatTimeout {
				s.log.Info("heartbeat deadline missed, closing session")
				go s.Close()
				return
			}
		}
	}
}

// processorLoop is the single writer to RollingBuffer and ChunkRecorder:
// it drains the audio queue, classifies speech, appends audio, evaluates
// smart triggers, and dispatches ASR work to the bounded worker pool.
func (s *Session) processorLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			s.drainTriggerQueue()
			return
		case <-s.newFrame:
		}

		for {
			f, ok := s.popFrame()
			if !ok {
				break
			}
			s.handleFrame(f)
		}
	}
}

func (s *Session) popFrame() (frame, bool) {
	s.queueMu.Lock()
	defer s.queueMu.Unlock()
	if len(s.queue) == 0 {
		return frame{}, false
	}
	f := s.queue[0]
	s.queue = s.queue[1:]
	s.lastActivityAt = time.Now()
	return f, true
}

func (s *Session) handleFrame(f frame) {
	samples := bytesToInt16(f.pcm)
	if len(samples) == 0 {
		metrics.InvalidFrames.Inc()
		return
	}

	speech := s.classifySpeech(samples)
	if speech {
		s.lastSpeechAt = time.Now()
	}

	s.rollBuf.Append(samples)
	if s.chunkRec != nil {
		if err := s.chunkRec.Write(samples, f.audioStartSec); err != nil {
			s.log.Warn("chunk recorder write failed", "error", err.Error())
		}
	}

	s.evaluateTriggers()
}

// classifySpeech runs the session VAD over vadFrameMs sub-frames and
// reports true if any sub-frame is speech, padding a short tail frame with
// silence rather than dropping it.
func (s *Session) classifySpeech(samples []int16) bool {
	subFrameLen := vadFrameMs * s.cfg.SampleRateHz / 1000
	any := false
	for off := 0; off < len(samples); off += subFrameLen {
		end := off + subFrameLen
		var sub []int16
		if end <= len(samples) {
			sub = samples[off:end]
		} else {
			sub = make([]int16, subFrameLen)
			copy(sub, samples[off:])
		}
		isSpeech, _, err := s.vad.IsSpeech(sub, vadFrameMs)
		if err != nil {
			continue
		}
		if isSpeech {
			any = true
		}
	}
	return any
}

func bytesToInt16(pcm []byte) []int16 {
	n := len(pcm) / 2
	out := make([]int16, n)
	for i := 0; i < n; i++ {
		out[i] = int16(uint16(pcm[2*i]) | uint16(pcm[2*i+1])<<8)
	}
	return out
}

// evaluateTriggers checks the four smart-trigger conditions
// and enqueues a trigger request on the first one that matches.
func (s *Session) evaluateTriggers() {
	dur := s.rollBuf.DurationSec()
	if dur <= 0 {
		return
	}

	if dur >= s.rollBuf.WindowSec() {
		s.enqueueTrigger(ReasonWindow)
		return
	}
	if !s.lastSpeechAt.IsZero() && time.Since(s.lastSpeechAt).Seconds() >= s.cfg.SilenceCommitSec {
		s.enqueueTrigger(ReasonSilence)
		return
	}
	if s.checkStability() {
		s.enqueueTrigger(ReasonStability)
		return
	}
	if s.checkPunctuationGrace() {
		s.enqueueTrigger(ReasonPunctuation)
	}
}

func (s *Session) checkStability() bool {
	s.partialMu.Lock()
	defer s.partialMu.Unlock()
	if len(s.recentPartials) < stabilityWindowSize {
		return false
	}
	tail := s.recentPartials[len(s.recentPartials)-stabilityWindowSize:]
	for i := 1; i < len(tail); i++ {
		if tail[i] != tail[0] {
			return false
		}
	}
	return true
}

func (s *Session) checkPunctuationGrace() bool {
	s.partialMu.Lock()
	defer s.partialMu.Unlock()
	if !s.havePunctuation {
		return false
	}
	return time.Since(s.lastPunctAt).Seconds() >= punctuationGraceSec
}

func endsWithSentencePunctuation(text string) bool {
	text = strings.TrimSpace(text)
	if text == "" {
		return false
	}
	last := text[len(text)-1]
	return last == '.' || last == '?' || last == '!'
}

// recordPartial tracks a StreamingASR preview result for the stability and
// punctuation-grace triggers, and opportunistically emits it to the client.
func (s *Session) recordPartial(text string, confidence float64) {
	s.partialMu.Lock()
	s.recentPartials = append(s.recentPartials, text)
	if len(s.recentPartials) > stabilityWindowSize {
		s.recentPartials = s.recentPartials[len(s.recentPartials)-stabilityWindowSize:]
	}
	if endsWithSentencePunctuation(text) {
		if !s.havePunctuation {
			s.lastPunctAt = time.Now()
		}
		s.havePunctuation = true
	} else {
		s.havePunctuation = false
	}
	isStable := s.checkStability()
	s.partialMu.Unlock()

	if err := s.getSink().SendPartial(text, confidence, isStable); err != nil {
		s.log.Warn("partial send failed", "error", err.Error())
	}
}

// enqueueTrigger appends to the bounded pending-trigger queue (default
// depth 4); once full, the newest pending entry is replaced rather than
// the queue growing further.
func (s *Session) enqueueTrigger(reason TriggerReason) {
	s.triggerMu.Lock()
	if len(s.pendingTrig) >= s.cfg.MaxPendingTriggers {
		s.pendingTrig[len(s.pendingTrig)-1] = reason
	} else {
		s.pendingTrig = append(s.pendingTrig, reason)
	}
	s.triggerMu.Unlock()

	go s.dispatchNextTrigger()
}

func (s *Session) popTrigger() (TriggerReason, bool) {
	s.triggerMu.Lock()
	defer s.triggerMu.Unlock()
	if len(s.pendingTrig) == 0 {
		return "", false
	}
	r := s.pendingTrig[0]
	s.pendingTrig = s.pendingTrig[1:]
	return r, true
}

func (s *Session) drainTriggerQueue() {
	for {
		if _, ok := s.popTrigger(); !ok {
			return
		}
	}
}

// dispatchNextTrigger acquires a worker-pool slot (bounded by
// asr_worker_pool, default 2) and processes one queued trigger, so a slow
// StreamingASR call never stalls frame ingestion on the Processor task.
func (s *Session) dispatchNextTrigger() {
	if s.State() != StateStreaming {
		return
	}
	reason, ok := s.popTrigger()
	if !ok {
		return
	}
	if !s.asrSem.TryAcquire(1) {
		// all workers busy; the trigger stays coalesced, next dispatch picks it up
		s.triggerMu.Lock()
		s.pendingTrig = append([]TriggerReason{reason}, s.pendingTrig...)
		s.triggerMu.Unlock()
		return
	}
	defer s.asrSem.Release(1)

	s.processTrigger(reason)
}

func (s *Session) isDegraded() bool {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.degraded
}

func (s *Session) setDegraded() {
	s.stateMu.Lock()
	s.degraded = true
	s.stateMu.Unlock()
}

// processTrigger runs the StreamingASR → Deduper → commit pipeline for one
// trigger, retrying transient failures with 1s/2s/4s backoff (max 3
// attempts) before giving up without committing.
func (s *Session) processTrigger(reason TriggerReason) {
	if s.isDegraded() {
		return
	}

	samples, startSec, endSec := s.rollBuf.Snapshot()
	if len(samples) == 0 {
		return
	}

	result, err := s.transcribeWithRetry(samples)
	if err != nil {
		s.log.Warn("streaming asr failed", "error", err.Error())
		if asr.IsTransient(err) {
			_ = s.getSink().SendError("asr_unavailable", err.Error())
			return // keep buffer, do not slide
		}
		s.setDegraded()
		_ = s.getSink().SendError("asr_unavailable", err.Error())
		return
	}

	s.recordPartial(result.Text, result.Confidence)

	dedupResult := s.deduper.Dedupe(result.Text)
	if dedupResult.Dropped {
		s.rollBuf.Slide()
		return
	}

	s.commitFinal(dedupResult.Text, result.Confidence, reason, startSec, endSec)
}

func (s *Session) transcribeWithRetry(samples []int16) (asr.StreamingResult, error) {
	pcm := int16ToBytes(samples)
	backoffs := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}

	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		ctx, cancel := context.WithTimeout(s.ctx, s.cfg.StreamingAsrTimeout)
		result, err := s.streaming.Transcribe(ctx, pcm, "")
		cancel()
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !asr.IsTransient(err) {
			return asr.StreamingResult{}, err
		}
		if attempt < len(backoffs) {
			select {
			case <-s.ctx.Done():
				return asr.StreamingResult{}, s.ctx.Err()
			case <-time.After(backoffs[attempt]):
			}
		}
	}
	return asr.StreamingResult{}, lastErr
}

// commitFinal ensures only one final-commit is in flight at a time, emits
// the final event, appends it to the live version, and slides the buffer.
func (s *Session) commitFinal(text string, confidence float64, reason TriggerReason, startSec, endSec float64) {
	s.commitMu.Lock()
	defer s.commitMu.Unlock()

	if startSec < s.lastFinalEndSec {
		startSec = s.lastFinalEndSec
	}
	if endSec < startSec {
		endSec = startSec
	}

	if err := s.getSink().SendFinal(text, confidence, reason, startSec, endSec); err != nil {
		s.log.Warn("final send failed, entering draining", "error", err.Error())
		s.setState(StateDraining)
		s.cancel()
		return
	}

	if s.liveStore != nil {
		seg := store.ContentSegment{
			Text: text, AudioStartSec: startSec, AudioEndSec: endSec,
			FormattedTime: formatMMSS(startSec), SpeakerLabel: "", SpeakerConfidence: 0,
			AlignmentState: "CONFIDENT", AlignmentMethod: "live",
		}
		if err := s.liveStore.AppendLiveSegment(s.MeetingID(), s.liveVerID, seg); err != nil {
			s.log.Warn("live segment append failed", "error", err.Error())
		}
	}

	metrics.FinalsEmitted.Inc()
	metrics.TriggerReasons.WithLabelValues(string(reason)).Inc()
	s.lastFinalEndSec = endSec
	s.rollBuf.Slide()
}

// flushFinal forces a final event for whatever remains in the buffer on
// Session close, even if shorter than window_sec.
func (s *Session) flushFinal(samples []int16, startSec, endSec float64, reason TriggerReason) {
	if len(samples) == 0 {
		return
	}
	pcm := int16ToBytes(samples)
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.StreamingAsrTimeout)
	defer cancel()
	result, err := s.streaming.Transcribe(ctx, pcm, "")
	if err != nil {
		s.log.Warn("final flush transcribe failed", "error", err.Error())
		return
	}
	dedupResult := s.deduper.Dedupe(result.Text)
	if dedupResult.Dropped {
		return
	}
	s.commitFinal(dedupResult.Text, result.Confidence, reason, startSec, endSec)
}

func int16ToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, v := range samples {
		out[2*i] = byte(uint16(v))
		out[2*i+1] = byte(uint16(v) >> 8)
	}
	return out
}

func formatMMSS(sec float64) string {
	total := int(sec)
	return fmt.Sprintf("%02d:%02d", total/60, total%60)
}
