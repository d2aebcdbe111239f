package stt

import (
	"sync"

	"scribe.town/whisper"
)

// chunk is one submitted span of audio. Samples are copied at submission, so
// the caller may reuse its buffer.
type chunk struct {
	id      uint64
	samples []float32
}

// result is one engine outcome awaiting dispatch.
type result struct {
	chunkID  uint64
	segments []whisper.Segment
	partial  bool
}

// chunkQueue is the submission FIFO. Ids are assigned under the queue lock,
// so concurrent submitters get strictly increasing ids with no collisions
// and queue order matches id order. The wake channel is 1-buffered: pushes
// coalesce, and the worker drains everything per cycle anyway. Depth is
// unbounded; a stalled worker means growth, not backpressure.
type chunkQueue struct {
	mu     sync.Mutex
	nextID uint64
	chunks []chunk
	wake   chan struct{}
}

func (q *chunkQueue) push(samples []float32) uint64 {
	buf := make([]float32, len(samples))
	copy(buf, samples)

	q.mu.Lock()
	q.nextID++
	id := q.nextID
	q.chunks = append(q.chunks, chunk{id: id, samples: buf})
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return id
}

func (q *chunkQueue) drain() []chunk {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.chunks
	q.chunks = nil
	return out
}

func (q *chunkQueue) depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.chunks)
}

func (q *chunkQueue) clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.chunks = nil
}

// resultQueue hands finished inferences to the dispatcher, same shape as the
// chunk queue but without id assignment.
type resultQueue struct {
	mu      sync.Mutex
	results []result
	wake    chan struct{}
}

func (q *resultQueue) push(r result) {
	q.mu.Lock()
	q.results = append(q.results, r)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *resultQueue) drain() []result {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.results
	q.results = nil
	return out
}

func (q *resultQueue) clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.results = nil
}
