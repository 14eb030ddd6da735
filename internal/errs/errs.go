// Package errs provides categorized errors so operators can filter logs and
// metrics by failure class without parsing message strings.
package errs

import "fmt"

// Category groups errors by the subsystem that can act on them.
type Category string

const (
	CategoryFrame      Category = "frame"
	CategoryBuffer     Category = "buffer"
	CategoryASR        Category = "asr"
	CategoryAlignment  Category = "alignment"
	CategoryVersion    Category = "version"
	CategoryRecorder   Category = "recorder"
	CategorySession    Category = "session"
	CategoryPostProc   Category = "postprocess"
	CategoryConfig     Category = "config"
)

// Error is a categorized, component-tagged error.
type Error struct {
	component string
	category  Category
	msg       string
	err       error
}

func New(msg string) *Error {
	return &Error{msg: msg}
}

func Newf(format string, args ...any) *Error {
	return &Error{msg: fmt.Sprintf(format, args...)}
}

func (e *Error) Component(c string) *Error {
	e.component = c
	return e
}

func (e *Error) Category(c Category) *Error {
	e.category = c
	return e
}

func (e *Error) Wrap(err error) *Error {
	e.err = err
	return e
}

func (e *Error) Build() error {
	return e
}

func (e *Error) Error() string {
	if e.err != nil {
		if e.component != "" {
			return fmt.Sprintf("%s[%s]: %s: %v", e.component, e.category, e.msg, e.err)
		}
		return fmt.Sprintf("[%s]: %s: %v", e.category, e.msg, e.err)
	}
	if e.component != "" {
		return fmt.Sprintf("%s[%s]: %s", e.component, e.category, e.msg)
	}
	return fmt.Sprintf("[%s]: %s", e.category, e.msg)
}

func (e *Error) Unwrap() error {
	return e.err
}

func (e *Error) CategoryOf() Category {
	return e.category
}

// Sentinel errors shared across packages so callers can match with errors.Is.
var (
	ErrFrameLength          = New("frame length does not match frame_ms * sample_rate / 1000").Category(CategoryFrame).Build()
	ErrInvalidFrame         = New("could not decode audio frame").Category(CategoryFrame).Build()
	ErrBufferOverflow       = New("rolling buffer exceeded max_window_sec").Category(CategoryBuffer).Build()
	ErrAsrTransient         = New("asr call failed transiently").Category(CategoryASR).Build()
	ErrAsrPermanent         = New("asr call failed permanently").Category(CategoryASR).Build()
	ErrChunkLeaseHeld       = New("a chunk recorder is already writing for this meeting").Category(CategoryRecorder).Build()
	ErrSessionEvicted       = New("session evicted after linger timeout").Category(CategorySession).Build()
	ErrAlignmentInputsEmpty = New("no text or speaker segments to align").Category(CategoryAlignment).Build()
	ErrPromotionBlocked     = New("diarized version did not meet auto-promote thresholds").Category(CategoryVersion).Build()
)
