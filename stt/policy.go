package stt

import (
	"sync"
	"time"

	"scribe.town/whisper"
)

// job is one inference the policy asks the worker to run: the samples to
// feed the engine, the id of the last chunk folded in, and whether the
// outcome is delivered as partial.
type job struct {
	chunkID uint64
	samples []float32
	partial bool
}

// policy decides what the worker feeds the engine. fold admits freshly
// drained chunks and returns the inferences to run now; flush produces the
// forced-final inference at shutdown, if any; reset drops accumulated state.
type policy interface {
	fold(chunks []chunk) []job
	flush() (job, bool)
	reset()
	buffered() int
}

// immediatePolicy transcribes every chunk standalone. Results are always
// final; callers in this mode have already segmented their audio.
type immediatePolicy struct{}

func (immediatePolicy) fold(chunks []chunk) []job {
	jobs := make([]job, 0, len(chunks))
	for _, c := range chunks {
		jobs = append(jobs, job{chunkID: c.id, samples: c.samples})
	}
	return jobs
}

func (immediatePolicy) flush() (job, bool) { return job{}, false }

func (immediatePolicy) reset() {}

func (immediatePolicy) buffered() int { return 0 }

// windowedPolicy grows one utterance buffer across chunks and re-transcribes
// the whole buffer every cycle, so partials carry full context. The buffer
// survives partial results and is cleared when a final is emitted: once it
// reaches maxSamples, or on the forced shutdown flush.
type windowedPolicy struct {
	mu         sync.Mutex
	buf        []float32
	lastChunk  uint64
	maxSamples int
	minSamples int
}

func newWindowedPolicy(window time.Duration, sampleRate int) *windowedPolicy {
	p := &windowedPolicy{}
	p.setLimits(window, sampleRate)
	return p
}

// setLimits applies to subsequent folds; an in-flight buffer is judged
// against the new thresholds on its next cycle. The minimum-viable-inference
// gate is one second of audio at the configured rate.
func (p *windowedPolicy) setLimits(window time.Duration, sampleRate int) {
	if sampleRate <= 0 {
		sampleRate = whisper.SampleRate
	}

	p.mu.Lock()
	p.maxSamples = int(window.Seconds() * float64(sampleRate))
	p.minSamples = sampleRate
	p.mu.Unlock()
}

func (p *windowedPolicy) fold(chunks []chunk) []job {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, c := range chunks {
		p.buf = append(p.buf, c.samples...)
		p.lastChunk = c.id
	}
	return p.emitLocked(false)
}

func (p *windowedPolicy) flush() (job, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	jobs := p.emitLocked(true)
	if len(jobs) == 0 {
		return job{}, false
	}
	return jobs[0], true
}

// emitLocked snapshots the buffer for inference once it holds at least
// minSamples. The final/partial decision and the conditional clear happen
// here, under the lock, before the engine ever sees the samples.
func (p *windowedPolicy) emitLocked(force bool) []job {
	if len(p.buf) == 0 || len(p.buf) < p.minSamples {
		return nil
	}

	final := force || len(p.buf) >= p.maxSamples
	samples := make([]float32, len(p.buf))
	copy(samples, p.buf)

	j := job{chunkID: p.lastChunk, samples: samples, partial: !final}
	if final {
		p.buf = p.buf[:0]
	}
	return []job{j}
}

func (p *windowedPolicy) reset() {
	p.mu.Lock()
	p.buf = nil
	p.lastChunk = 0
	p.mu.Unlock()
}

func (p *windowedPolicy) buffered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.buf)
}
