//go:build whispercpp

package whisper

/*
#include <whisper.h>
#include <ggml.h>

void scribeWhisperLog(enum ggml_log_level level, char * text, void * user_data);
*/
import "C"

import (
	"sync"
	"unsafe"
)

var hookOnce sync.Once

func installLogHook() {
	hookOnce.Do(func() {
		C.whisper_log_set((C.ggml_log_callback)(C.scribeWhisperLog), nil)
		C.ggml_log_set((C.ggml_log_callback)(C.scribeWhisperLog), nil)
	})
}

//export scribeWhisperLog
func scribeWhisperLog(level C.enum_ggml_log_level, text *C.char, userData unsafe.Pointer) {
	emit(int(level), C.GoString(text))
}
