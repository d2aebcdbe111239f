//go:build !whispercpp

package whisper

// Available reports whether the native engine is compiled into this binary.
func Available() bool { return false }

// Model is the placeholder used when the native engine is compiled out.
type Model struct{}

func Open(cfg Config) (*Model, error) {
	return nil, ErrNotBuilt
}

func (m *Model) Transcribe(samples []float32) ([]Segment, error) {
	return nil, ErrNotBuilt
}

func (m *Model) Close() error { return nil }

func installLogHook() {}
