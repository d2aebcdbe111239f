package stt

import (
	"testing"
	"time"
)

func floats(n int) []float32 {
	return make([]float32, n)
}

func TestImmediatePolicyOneJobPerChunk(t *testing.T) {
	p := immediatePolicy{}

	jobs := p.fold([]chunk{
		{id: 1, samples: floats(10)},
		{id: 2, samples: floats(500)},
		{id: 3, samples: floats(3)},
	})

	if len(jobs) != 3 {
		t.Fatalf("fold returned %d jobs, want 3", len(jobs))
	}
	for i, j := range jobs {
		if j.chunkID != uint64(i+1) {
			t.Errorf("job %d has chunk id %d, want %d", i, j.chunkID, i+1)
		}
		if j.partial {
			t.Errorf("job %d is partial, immediate jobs are always final", i)
		}
	}

	if _, ok := p.flush(); ok {
		t.Error("immediate policy has nothing to flush")
	}
}

func TestWindowedPolicyBelowMinimumEmitsNothing(t *testing.T) {
	p := newWindowedPolicy(10*time.Second, 16000)

	jobs := p.fold([]chunk{{id: 1, samples: floats(900)}})
	if len(jobs) != 0 {
		t.Fatalf("fold emitted %d jobs for 900 samples, want 0", len(jobs))
	}
	if got := p.buffered(); got != 900 {
		t.Errorf("buffered = %d, want 900", got)
	}
}

func TestWindowedPolicyPartialKeepsBuffer(t *testing.T) {
	p := newWindowedPolicy(10*time.Second, 16000)

	jobs := p.fold([]chunk{{id: 7, samples: floats(16000)}})
	if len(jobs) != 1 {
		t.Fatalf("fold emitted %d jobs, want 1", len(jobs))
	}
	j := jobs[0]
	if !j.partial {
		t.Error("sub-window buffer should emit a partial")
	}
	if j.chunkID != 7 {
		t.Errorf("job chunk id = %d, want 7", j.chunkID)
	}
	if len(j.samples) != 16000 {
		t.Errorf("job carries %d samples, want 16000", len(j.samples))
	}
	if got := p.buffered(); got != 16000 {
		t.Errorf("buffer was not retained after partial: buffered = %d", got)
	}
}

func TestWindowedPolicyFinalAtWindowBoundary(t *testing.T) {
	p := newWindowedPolicy(2*time.Second, 16000)

	if jobs := p.fold([]chunk{{id: 1, samples: floats(31999)}}); len(jobs) != 1 {
		t.Fatalf("first fold emitted %d jobs, want 1", len(jobs))
	} else if !jobs[0].partial {
		t.Error("one sample short of the window should still be partial")
	}

	jobs := p.fold([]chunk{{id: 2, samples: floats(1)}})
	if len(jobs) != 1 {
		t.Fatalf("second fold emitted %d jobs, want 1", len(jobs))
	}
	j := jobs[0]
	if j.partial {
		t.Error("reaching the window must emit a final")
	}
	if j.chunkID != 2 {
		t.Errorf("final carries chunk id %d, want the last folded id 2", j.chunkID)
	}
	if len(j.samples) != 32000 {
		t.Errorf("final carries %d samples, want the whole window 32000", len(j.samples))
	}
	if got := p.buffered(); got != 0 {
		t.Errorf("buffer not cleared after final: buffered = %d", got)
	}
}

func TestWindowedPolicyLastChunkIDWins(t *testing.T) {
	p := newWindowedPolicy(10*time.Second, 16000)

	jobs := p.fold([]chunk{
		{id: 4, samples: floats(8000)},
		{id: 5, samples: floats(4000)},
		{id: 6, samples: floats(4000)},
	})
	if len(jobs) != 1 {
		t.Fatalf("fold emitted %d jobs, want 1 coalesced job", len(jobs))
	}
	if jobs[0].chunkID != 6 {
		t.Errorf("coalesced job chunk id = %d, want 6", jobs[0].chunkID)
	}
}

func TestWindowedPolicyFlush(t *testing.T) {
	t.Run("below minimum stays silent", func(t *testing.T) {
		p := newWindowedPolicy(10*time.Second, 16000)
		p.fold([]chunk{{id: 1, samples: floats(900)}})

		if _, ok := p.flush(); ok {
			t.Error("flush produced a job for a sub-second buffer")
		}
	})

	t.Run("remainder becomes final", func(t *testing.T) {
		p := newWindowedPolicy(10*time.Second, 16000)
		p.fold([]chunk{{id: 3, samples: floats(24000)}})

		j, ok := p.flush()
		if !ok {
			t.Fatal("flush produced no job for a viable buffer")
		}
		if j.partial {
			t.Error("flush must force a final")
		}
		if len(j.samples) != 24000 {
			t.Errorf("flush carries %d samples, want 24000", len(j.samples))
		}
		if got := p.buffered(); got != 0 {
			t.Errorf("buffer not cleared by flush: buffered = %d", got)
		}
	})

	t.Run("empty buffer stays silent", func(t *testing.T) {
		p := newWindowedPolicy(10*time.Second, 16000)
		if _, ok := p.flush(); ok {
			t.Error("flush produced a job for an empty buffer")
		}
	})
}

func TestWindowedPolicyMinimumScalesWithRate(t *testing.T) {
	p := newWindowedPolicy(10*time.Second, 8000)

	if jobs := p.fold([]chunk{{id: 1, samples: floats(7999)}}); len(jobs) != 0 {
		t.Fatal("under one second at 8 kHz should emit nothing")
	}
	if jobs := p.fold([]chunk{{id: 2, samples: floats(1)}}); len(jobs) != 1 {
		t.Fatal("one second at 8 kHz should emit a job")
	}
}

func TestWindowedPolicySetLimitsAppliesNextCycle(t *testing.T) {
	p := newWindowedPolicy(10*time.Second, 16000)

	jobs := p.fold([]chunk{{id: 1, samples: floats(16000)}})
	if len(jobs) != 1 || jobs[0].partial != true {
		t.Fatalf("expected one partial before the limit change, got %+v", jobs)
	}

	p.setLimits(1*time.Second, 16000)

	jobs = p.fold([]chunk{{id: 2, samples: floats(100)}})
	if len(jobs) != 1 {
		t.Fatalf("fold after limit change emitted %d jobs, want 1", len(jobs))
	}
	if jobs[0].partial {
		t.Error("buffer past the tightened window should emit a final")
	}
	if got := p.buffered(); got != 0 {
		t.Errorf("buffer not cleared after forced window: buffered = %d", got)
	}
}

func TestWindowedPolicyReset(t *testing.T) {
	p := newWindowedPolicy(10*time.Second, 16000)
	p.fold([]chunk{{id: 9, samples: floats(20000)}})

	p.reset()

	if got := p.buffered(); got != 0 {
		t.Errorf("buffered = %d after reset, want 0", got)
	}
	if _, ok := p.flush(); ok {
		t.Error("flush produced a job after reset")
	}
}
