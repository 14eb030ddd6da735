// Package recorder persists raw PCM audio to disk in fixed-duration
// chunks, surviving crashes and feeding PostProcessor's WAV merge, using
// a placeholder-header-then-rewrite crash-safety technique applied
// per-chunk instead of to a single whole-session file.
package recorder

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/askidmobile/meetingscribe/internal/audio"
	"github.com/askidmobile/meetingscribe/internal/errs"
)

const chunkFilePattern = "chunk_%05d.pcm"

// leases tracks which meeting IDs currently have an open recorder, giving
// ErrChunkLeaseHeld process-wide enforcement: only one recorder per
// meeting ID may be open at a time.
var (
	leasesMu sync.Mutex
	leases   = make(map[string]bool)
)

// ChunkRecorder writes one meeting's audio to ./<dataRoot>/recordings/<meeting_id>/.
type ChunkRecorder struct {
	mu sync.Mutex

	dataRoot  string
	meetingID string
	dir       string

	chunkDurationSec float64
	sampleRate       int

	seq             int
	currentFile     *os.File
	currentCount    int64 // samples written to the currently open chunk
	currentStartSec float64
	byteCounts      []int64

	// onChunkClosed, if set, is called synchronously after each chunk's
	// fsync+close with its final seq/start/path/size, so the caller can
	// persist AudioChunk metadata.
	onChunkClosed func(seq int, startedAtSec float64, path string, bytes int64)

	closed bool
}

// OnChunkClosed registers the chunk-closed callback. Must be called before
// the first Write that triggers a rollover to observe every chunk.
func (r *ChunkRecorder) OnChunkClosed(fn func(seq int, startedAtSec float64, path string, bytes int64)) {
	r.mu.Lock()
	r.onChunkClosed = fn
	r.mu.Unlock()
}

// Start opens (creating if absent) the recordings directory for a meeting
// and returns a recorder holding the exclusive write lease. It fails with
// errs.ErrChunkLeaseHeld if a recorder for this meeting is already open in
// this process.
func Start(dataRoot, meetingID string, sampleRate int, chunkDurationSec float64) (*ChunkRecorder, error) {
	leasesMu.Lock()
	if leases[meetingID] {
		leasesMu.Unlock()
		return nil, errs.ErrChunkLeaseHeld
	}
	leases[meetingID] = true
	leasesMu.Unlock()

	dir := filepath.Join(dataRoot, "recordings", meetingID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		releaseLease(meetingID)
		return nil, fmt.Errorf("recorder: mkdir %s: %w", dir, err)
	}

	r := &ChunkRecorder{
		dataRoot:         dataRoot,
		meetingID:        meetingID,
		dir:              dir,
		chunkDurationSec: chunkDurationSec,
		sampleRate:       sampleRate,
	}
	if err := r.openChunk(); err != nil {
		releaseLease(meetingID)
		return nil, err
	}
	return r, nil
}

func releaseLease(meetingID string) {
	leasesMu.Lock()
	delete(leases, meetingID)
	leasesMu.Unlock()
}

func (r *ChunkRecorder) chunkPath(seq int) string {
	return filepath.Join(r.dir, fmt.Sprintf(chunkFilePattern, seq))
}

func (r *ChunkRecorder) openChunk() error {
	f, err := os.Create(r.chunkPath(r.seq))
	if err != nil {
		return fmt.Errorf("recorder: create chunk %d: %w", r.seq, err)
	}
	r.currentFile = f
	r.currentCount = 0
	return nil
}

// Write appends PCM samples to the currently open chunk, rolling over to a
// new chunk file once chunk_duration_sec worth of audio accumulates.
// audio_start_sec sets the start timestamp of any chunk this call begins;
// chunk boundaries themselves are purely duration-based.
func (r *ChunkRecorder) Write(samples []int16, audioStartSec float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return errs.Newf("recorder: write after close for meeting %s", r.meetingID).
			Category(errs.CategoryRecorder).Build()
	}

	if r.currentCount == 0 {
		r.currentStartSec = audioStartSec
	}

	maxSamples := int64(r.chunkDurationSec * float64(r.sampleRate))
	remaining := samples
	var consumed int64

	for len(remaining) > 0 {
		room := maxSamples - r.currentCount
		if room <= 0 {
			if err := r.rollover(); err != nil {
				return err
			}
			room = maxSamples
			r.currentStartSec = audioStartSec + float64(consumed)/float64(r.sampleRate)
		}

		n := int64(len(remaining))
		if n > room {
			n = room
		}

		if err := writeInt16(r.currentFile, remaining[:n]); err != nil {
			return fmt.Errorf("recorder: write chunk %d: %w", r.seq, err)
		}
		r.currentCount += n
		consumed += n
		remaining = remaining[n:]
	}
	return nil
}

func (r *ChunkRecorder) rollover() error {
	if err := r.closeCurrent(); err != nil {
		return err
	}
	r.seq++
	return r.openChunk()
}

func (r *ChunkRecorder) closeCurrent() error {
	if r.currentFile == nil {
		return nil
	}
	if err := r.currentFile.Sync(); err != nil {
		r.currentFile.Close()
		return fmt.Errorf("recorder: fsync chunk %d: %w", r.seq, err)
	}
	info, _ := r.currentFile.Stat()
	var size int64
	if info != nil {
		size = info.Size()
	}
	r.byteCounts = append(r.byteCounts, size)
	closeErr := r.currentFile.Close()

	if r.onChunkClosed != nil {
		r.onChunkClosed(r.seq, r.currentStartSec, r.chunkPath(r.seq), size)
	}
	return closeErr
}

// Close flushes, fsyncs, and closes the current chunk and releases the
// write lease so a new recorder can be started for this meeting.
func (r *ChunkRecorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true
	err := r.closeCurrent()
	releaseLease(r.meetingID)
	return err
}

// ByteCounts returns the on-disk size, in bytes, of every chunk closed so
// far (testable property 2's per-chunk accounting).
func (r *ChunkRecorder) ByteCounts() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]int64, len(r.byteCounts))
	copy(out, r.byteCounts)
	return out
}

func writeInt16(f *os.File, samples []int16) error {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		buf[2*i] = byte(uint16(s))
		buf[2*i+1] = byte(uint16(s) >> 8)
	}
	_, err := f.Write(buf)
	return err
}

func readInt16File(path string) ([]int16, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	n := len(data) / 2
	out := make([]int16, n)
	for i := 0; i < n; i++ {
		out[i] = int16(uint16(data[2*i]) | uint16(data[2*i+1])<<8)
	}
	return out, nil
}

// MergeToWAV reads every chunk_NNNNN.pcm file for the meeting, in seq
// order, and produces a single 16kHz mono 16-bit PCM WAV at
// <dataRoot>/recordings/<meeting_id>/merged.wav, plus a best-effort
// merged.mp3 archival mirror alongside it.
func MergeToWAV(dataRoot, meetingID string, sampleRate int) (string, error) {
	dir := filepath.Join(dataRoot, "recordings", meetingID)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("recorder: read dir %s: %w", dir, err)
	}

	var chunkFiles []string
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".pcm" {
			chunkFiles = append(chunkFiles, e.Name())
		}
	}
	sort.Strings(chunkFiles)

	outPath := filepath.Join(dir, "merged.wav")
	w, err := audio.NewWAVWriter(outPath, sampleRate, 1)
	if err != nil {
		return "", err
	}

	var all []int16
	for _, name := range chunkFiles {
		samples, err := readInt16File(filepath.Join(dir, name))
		if err != nil {
			w.Close()
			return "", fmt.Errorf("recorder: read chunk %s: %w", name, err)
		}
		if err := w.Write(samples); err != nil {
			w.Close()
			return "", fmt.Errorf("recorder: write merged wav: %w", err)
		}
		all = append(all, samples...)
	}

	if err := w.Close(); err != nil {
		return "", err
	}

	// Mirror the merged WAV into a compact archival MP3; this artifact is
	// never read back by the pipeline, so a failure here doesn't fail the
	// merge, it just leaves the mirror missing.
	mp3Path := filepath.Join(dir, "merged.mp3")
	_ = audio.EncodeMP3(mp3Path, all, sampleRate)

	return outPath, nil
}

// AssignMeetingID atomically renames a temporary session-ID-named
// recordings directory to the assigned meeting ID, used when recording
// starts before an external API has allocated a meeting row.
func AssignMeetingID(dataRoot, sessionID, meetingID string) error {
	oldDir := filepath.Join(dataRoot, "recordings", sessionID)
	newDir := filepath.Join(dataRoot, "recordings", meetingID)
	if oldDir == newDir {
		return nil
	}
	if err := os.Rename(oldDir, newDir); err != nil {
		return fmt.Errorf("recorder: rename %s -> %s: %w", oldDir, newDir, err)
	}
	return nil
}
