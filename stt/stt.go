// Package stt is the streaming transcription pipeline: callers submit audio
// chunks without blocking, a worker goroutine decides when enough audio has
// accumulated to run the engine, and a dispatcher goroutine delivers
// partial/final transcripts to a caller callback in production order.
package stt

import (
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"scribe.town/whisper"
)

const (
	// DefaultInterval bounds dispatcher latency when no wake signal arrives.
	DefaultInterval = 100 * time.Millisecond

	// DefaultMaxWindow forces a final flush once this much audio accumulates
	// in windowed mode.
	DefaultMaxWindow = 10 * time.Second
)

// Engine is the inference boundary. The worker goroutine is the only caller
// of Transcribe for the lifetime of a session; the Transcriber never closes
// the engine, whoever opened it does.
type Engine interface {
	Transcribe(samples []float32) ([]whisper.Segment, error)
}

// Callback receives one delivered transcript. chunkID names the last chunk
// folded into the inference that produced it. Invoked from the dispatcher
// goroutine only, never concurrently with itself.
type Callback func(chunkID uint64, text string, isPartial bool)

// Config selects the accumulation mode and its thresholds.
type Config struct {
	// Immediate transcribes every submitted chunk standalone and marks
	// every result final. Default is windowed accumulation.
	Immediate bool

	// MaxWindow is the windowed-mode flush threshold; 0 means
	// DefaultMaxWindow.
	MaxWindow time.Duration

	// SampleRate of submitted audio; 0 means whisper.SampleRate.
	SampleRate int
}

// Transcriber owns the submission queue, the inference worker, and the
// result dispatcher. Zero value is not usable; construct with New.
type Transcriber struct {
	engine Engine
	logger *log.Logger
	policy policy

	queue   chunkQueue
	results resultQueue

	lifecycle    sync.Mutex
	running      bool
	stopWorker   chan struct{}
	stopDispatch chan struct{}
	workerDone   chan struct{}
	dispatchDone chan struct{}
}

func New(engine Engine, cfg Config, logger *log.Logger) *Transcriber {
	rate := cfg.SampleRate
	if rate <= 0 {
		rate = whisper.SampleRate
	}

	var pol policy
	if cfg.Immediate {
		pol = immediatePolicy{}
	} else {
		window := cfg.MaxWindow
		if window <= 0 {
			window = DefaultMaxWindow
		}
		pol = newWindowedPolicy(window, rate)
	}

	t := &Transcriber{
		engine: engine,
		logger: logger,
		policy: pol,
	}
	t.queue.wake = make(chan struct{}, 1)
	t.results.wake = make(chan struct{}, 1)
	return t
}

// Submit queues samples for transcription and returns the assigned chunk id.
// It never blocks and is safe from any goroutine, including while the
// pipeline is stopped (queued audio is picked up by the next Start). Empty
// input is not queued and returns id 0.
func (t *Transcriber) Submit(samples []float32) uint64 {
	if len(samples) == 0 {
		return 0
	}
	return t.queue.push(samples)
}

// Start spawns the worker and dispatcher goroutines and begins delivering
// results to callback. interval bounds dispatcher latency; 0 means
// DefaultInterval. Start on a running Transcriber is a no-op.
func (t *Transcriber) Start(callback Callback, interval time.Duration) {
	t.lifecycle.Lock()
	defer t.lifecycle.Unlock()

	if t.running {
		return
	}
	if interval <= 0 {
		interval = DefaultInterval
	}

	t.stopWorker = make(chan struct{})
	t.stopDispatch = make(chan struct{})
	t.workerDone = make(chan struct{})
	t.dispatchDone = make(chan struct{})
	t.running = true

	go t.workerLoop(t.stopWorker, t.workerDone)
	go t.dispatchLoop(t.stopDispatch, t.dispatchDone, callback, interval)

	t.logger.Debug("pipeline started", "interval", interval)
}

// Stop shuts the session down: the worker runs its forced-final flush and
// exits, then the dispatcher drains every remaining result and exits, then
// all queued state is cleared. No callback runs after Stop returns. Stop on
// a stopped Transcriber is a no-op.
func (t *Transcriber) Stop() {
	t.lifecycle.Lock()
	defer t.lifecycle.Unlock()

	if !t.running {
		return
	}

	// The worker must finish first: its forced-final flush has to be in the
	// result queue before the dispatcher's last drain runs.
	close(t.stopWorker)
	<-t.workerDone
	close(t.stopDispatch)
	<-t.dispatchDone

	t.running = false
	t.policy.reset()
	t.queue.clear()
	t.results.clear()

	t.logger.Debug("pipeline stopped")
}

// SetMaxDuration changes the windowed-mode flush threshold. It applies to
// subsequent cycles; a buffer already accumulating is judged against the new
// limits on its next cycle. No-op in immediate mode.
func (t *Transcriber) SetMaxDuration(window time.Duration, sampleRate int) {
	if w, ok := t.policy.(*windowedPolicy); ok {
		w.setLimits(window, sampleRate)
	}
}

// QueueDepth reports chunks submitted but not yet consumed by the worker.
func (t *Transcriber) QueueDepth() int {
	return t.queue.depth()
}

// Buffered reports samples held by the accumulation buffer, 0 in immediate
// mode.
func (t *Transcriber) Buffered() int {
	return t.policy.buffered()
}

func (t *Transcriber) workerLoop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	for {
		// Stop wins over pending audio: chunks still queued at shutdown are
		// dropped unfolded, only already-accumulated audio is flushed.
		select {
		case <-stop:
			t.finalFlush()
			return
		default:
		}

		select {
		case <-stop:
			t.finalFlush()
			return
		case <-t.queue.wake:
			chunks := t.queue.drain()
			if len(chunks) == 0 {
				continue
			}
			for _, j := range t.policy.fold(chunks) {
				t.runInference(j)
			}
		}
	}
}

func (t *Transcriber) finalFlush() {
	if j, ok := t.policy.flush(); ok {
		t.runInference(j)
	}
}

// runInference is the single-flight engine call. A failed call is logged and
// treated as zero segments; zero segments produce no result at all.
func (t *Transcriber) runInference(j job) {
	segments, err := t.engine.Transcribe(j.samples)
	if err != nil {
		t.logger.Error("transcription failed",
			"chunk", j.chunkID,
			"samples", len(j.samples),
			"error", err,
		)
		return
	}
	if len(segments) == 0 {
		return
	}
	t.results.push(result{
		chunkID:  j.chunkID,
		segments: segments,
		partial:  j.partial,
	})
}

func (t *Transcriber) dispatchLoop(
	stop <-chan struct{},
	done chan<- struct{},
	callback Callback,
	interval time.Duration,
) {
	defer close(done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			// Final drain. The worker has already exited, so everything it
			// produced, the forced-final flush included, is in the queue.
			t.deliver(callback)
			return
		case <-t.results.wake:
			t.deliver(callback)
		case <-ticker.C:
			t.deliver(callback)
		}
	}
}

func (t *Transcriber) deliver(callback Callback) {
	for _, r := range t.results.drain() {
		text := strings.Trim(joinSegments(r.segments), " \t\n\r")
		if text == "" {
			continue
		}
		t.invoke(callback, r.chunkID, text, r.partial)
	}
}

// invoke shields the dispatcher from a panicking callback.
func (t *Transcriber) invoke(
	callback Callback,
	chunkID uint64,
	text string,
	partial bool,
) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("result callback panicked",
				"chunk", chunkID,
				"panic", r,
			)
		}
	}()
	callback(chunkID, text, partial)
}

func joinSegments(segments []whisper.Segment) string {
	var b strings.Builder
	for _, s := range segments {
		b.WriteString(s.Text)
	}
	return b.String()
}
