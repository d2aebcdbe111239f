// Package whisper binds the whisper.cpp speech-to-text engine. The native
// binding is compiled in with -tags whispercpp; default builds get a stub
// whose Open fails with ErrNotBuilt, so the rest of the program stays pure Go.
package whisper

import (
	"errors"
	"time"
)

var (
	// ErrNotBuilt is returned by Open when the binary was built without the
	// whispercpp tag.
	ErrNotBuilt = errors.New(
		"whisper: native engine not built (rebuild with -tags whispercpp)",
	)

	// ErrClosed is returned by Transcribe after Close.
	ErrClosed = errors.New("whisper: model closed")
)

// SampleRate is the only input rate whisper.cpp accepts: 16 kHz mono.
const SampleRate = 16000

// TicksPerSecond converts Segment and Token timestamps to wall time. The
// engine reports 10 ms ticks relative to the start of the transcribed buffer.
const TicksPerSecond = 100

// TickDuration converts an engine timestamp to a time.Duration.
func TickDuration(ticks int64) time.Duration {
	return time.Duration(ticks) * time.Second / TicksPerSecond
}

// Config selects the model file and decode options for Open.
type Config struct {
	ModelPath string
	Language  string // ISO 639-1 code, or "auto"
	UseGPU    bool
	Threads   int // 0 keeps the engine default
}

// Token is one decoded token with its probability and tick timestamps.
type Token struct {
	ID    int32
	Text  string
	P     float32
	Start int64
	End   int64
}

// Segment is one timed span of transcribed text.
type Segment struct {
	Text   string
	Start  int64
	End    int64
	Tokens []Token
}
