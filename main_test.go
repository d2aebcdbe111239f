package main

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"scribe.town/stt"
	"scribe.town/whisper"
)

func TestSplitChunks(t *testing.T) {
	samples := []float32{1, 2, 3, 4, 5, 6, 7}

	chunks := splitChunks(samples, 3)
	if len(chunks) != 3 {
		t.Fatalf("splitChunks returned %d chunks, want 3", len(chunks))
	}
	wantLens := []int{3, 3, 1}
	for i, chunk := range chunks {
		if len(chunk) != wantLens[i] {
			t.Errorf("chunk %d has %d samples, want %d", i, len(chunk), wantLens[i])
		}
	}
	if chunks[2][0] != 7 {
		t.Errorf("last chunk starts with %v, want 7", chunks[2][0])
	}
}

func TestSplitChunksExact(t *testing.T) {
	chunks := splitChunks([]float32{1, 2, 3, 4}, 2)
	if len(chunks) != 2 {
		t.Fatalf("splitChunks returned %d chunks, want 2", len(chunks))
	}
	for i, chunk := range chunks {
		if len(chunk) != 2 {
			t.Errorf("chunk %d has %d samples, want 2", i, len(chunk))
		}
	}
}

func TestSplitChunksEmpty(t *testing.T) {
	if chunks := splitChunks(nil, 3); chunks != nil {
		t.Errorf("splitChunks(nil, 3) = %v, want nil", chunks)
	}
	if chunks := splitChunks([]float32{1}, 0); chunks != nil {
		t.Errorf("splitChunks with size 0 = %v, want nil", chunks)
	}
}

type flushEngine struct{}

func (flushEngine) Transcribe(samples []float32) ([]whisper.Segment, error) {
	return []whisper.Segment{{Text: "flush"}}, nil
}

// stopListen must deliver the forced final flush before the feeds are
// canceled; the callback's store writes happen during that flush.
func TestStopListenFlushesBeforeFeedTeardown(t *testing.T) {
	feedCtx, stopFeeds := context.WithCancel(context.Background())

	tr := stt.New(flushEngine{}, stt.Config{}, log.New(io.Discard))

	partials := make(chan struct{}, 1)
	finals := make(chan error, 1)
	tr.Start(func(chunkID uint64, text string, isPartial bool) {
		if isPartial {
			select {
			case partials <- struct{}{}:
			default:
			}
			return
		}
		select {
		case finals <- feedCtx.Err():
		default:
		}
	}, time.Millisecond)

	tr.Submit(make([]float32, whisper.SampleRate))
	select {
	case <-partials:
	case <-time.After(2 * time.Second):
		t.Fatal("no partial arrived before shutdown")
	}

	stopListen(tr, stopFeeds)

	select {
	case err := <-finals:
		if err != nil {
			t.Errorf("final flush ran against a canceled feed context: %v", err)
		}
	default:
		t.Fatal("stop did not deliver the final flush")
	}
	if feedCtx.Err() == nil {
		t.Error("feeds were not torn down after stop")
	}
}
