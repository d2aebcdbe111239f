//go:build whispercpp

package whisper

/*
#cgo CFLAGS: -I${SRCDIR}/../third_party/whisper.cpp/include -I${SRCDIR}/../third_party/whisper.cpp/ggml/include
#cgo CXXFLAGS: -std=c++17 -I${SRCDIR}/../third_party/whisper.cpp/include -I${SRCDIR}/../third_party/whisper.cpp/ggml/include
#cgo LDFLAGS: -L${SRCDIR}/../third_party/whisper.cpp/build/src -Wl,-rpath,${SRCDIR}/../third_party/whisper.cpp/build/src -lwhisper -lstdc++ -lm

#include <stdlib.h>
#include <whisper.h>
*/
import "C"

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"unsafe"
)

// Available reports whether the native engine is compiled into this binary.
func Available() bool { return true }

// Model owns one whisper.cpp context. Transcribe serializes on an internal
// mutex, so a Model is safe to share, though the pipeline never does.
type Model struct {
	mu  sync.Mutex
	ctx *C.struct_whisper_context
	cfg Config
}

// Open loads a ggml model file and prepares a decode context. Failure here is
// fatal to the session; there is no retry inside this package.
func Open(cfg Config) (*Model, error) {
	if cfg.ModelPath == "" {
		return nil, errors.New("whisper: model path required")
	}

	cPath := C.CString(cfg.ModelPath)
	defer C.free(unsafe.Pointer(cPath))

	cParams := C.whisper_context_default_params()
	cParams.use_gpu = C.bool(cfg.UseGPU)

	ctx := C.whisper_init_from_file_with_params(cPath, cParams)
	if ctx == nil {
		return nil, fmt.Errorf("whisper: load model %q failed", cfg.ModelPath)
	}

	return &Model{ctx: ctx, cfg: cfg}, nil
}

// Transcribe runs full greedy decoding over samples (16 kHz mono float32)
// and returns the decoded segments with token-level timestamps.
func (m *Model) Transcribe(samples []float32) ([]Segment, error) {
	if len(samples) == 0 {
		return nil, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ctx == nil {
		return nil, ErrClosed
	}

	params := C.whisper_full_default_params(C.WHISPER_SAMPLING_GREEDY)
	params.print_progress = C.bool(false)
	params.print_realtime = C.bool(false)
	params.print_timestamps = C.bool(false)
	params.no_timestamps = C.bool(false)
	params.token_timestamps = C.bool(true)
	params.translate = C.bool(false)
	if m.cfg.Threads > 0 {
		params.n_threads = C.int(m.cfg.Threads)
	}

	lang := m.cfg.Language
	if lang == "" {
		lang = "auto"
	}
	cLang := C.CString(lang)
	defer C.free(unsafe.Pointer(cLang))
	params.language = cLang

	ret := C.whisper_full(
		m.ctx,
		params,
		(*C.float)(unsafe.Pointer(&samples[0])),
		C.int(len(samples)),
	)
	runtime.KeepAlive(samples)
	if ret != 0 {
		return nil, fmt.Errorf("whisper: inference failed with code %d", int(ret))
	}

	count := int(C.whisper_full_n_segments(m.ctx))
	segments := make([]Segment, 0, count)
	for i := 0; i < count; i++ {
		seg := Segment{
			Text:  C.GoString(C.whisper_full_get_segment_text(m.ctx, C.int(i))),
			Start: int64(C.whisper_full_get_segment_t0(m.ctx, C.int(i))),
			End:   int64(C.whisper_full_get_segment_t1(m.ctx, C.int(i))),
		}
		tokens := int(C.whisper_full_n_tokens(m.ctx, C.int(i)))
		seg.Tokens = make([]Token, 0, tokens)
		for j := 0; j < tokens; j++ {
			data := C.whisper_full_get_token_data(m.ctx, C.int(i), C.int(j))
			seg.Tokens = append(seg.Tokens, Token{
				ID:    int32(data.id),
				Text:  C.GoString(C.whisper_full_get_token_text(m.ctx, C.int(i), C.int(j))),
				P:     float32(data.p),
				Start: int64(data.t0),
				End:   int64(data.t1),
			})
		}
		segments = append(segments, seg)
	}

	return segments, nil
}

// Close frees the native context. Safe to call twice.
func (m *Model) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ctx != nil {
		C.whisper_free(m.ctx)
		m.ctx = nil
	}
	return nil
}
