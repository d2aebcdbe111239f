package whisper

import (
	"strings"
	"sync/atomic"

	"github.com/charmbracelet/log"
)

// sink is where engine diagnostics go. whisper.cpp only offers one
// process-wide log hook, so this package owns that hook: SetLogger installs
// it on first use and later calls merely swap the destination. Nothing ever
// unhooks. Until SetLogger is called, engine output is discarded.
var sink atomic.Pointer[log.Logger]

// SetLogger routes whisper.cpp and ggml diagnostic output to l.
func SetLogger(l *log.Logger) {
	sink.Store(l)
	installLogHook()
}

// ggml log levels, mirrored here so the mapping stays testable without cgo.
const (
	ggmlLogLevelNone  = 0
	ggmlLogLevelDebug = 1
	ggmlLogLevelInfo  = 2
	ggmlLogLevelWarn  = 3
	ggmlLogLevelError = 4
	ggmlLogLevelCont  = 5
)

// levelFor maps a ggml log level onto a logger level. Continuation lines and
// anything unrecognized go to debug so model-load chatter stays quiet.
func levelFor(ggmlLevel int) log.Level {
	switch ggmlLevel {
	case ggmlLogLevelInfo:
		return log.InfoLevel
	case ggmlLogLevelWarn:
		return log.WarnLevel
	case ggmlLogLevelError:
		return log.ErrorLevel
	default:
		return log.DebugLevel
	}
}

func emit(ggmlLevel int, text string) {
	l := sink.Load()
	if l == nil {
		return
	}
	text = strings.TrimRight(text, "\n")
	if text == "" {
		return
	}
	l.Log(levelFor(ggmlLevel), text)
}
