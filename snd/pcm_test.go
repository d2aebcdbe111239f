package snd

import (
	"testing"
	"time"
)

func TestBytesToFloat32(t *testing.T) {
	data := []byte{
		0x00, 0x00, // 0
		0x00, 0x80, // -32768
		0xff, 0x7f, // 32767
		0x00, 0x40, // 16384
	}
	samples := BytesToFloat32(data)
	if len(samples) != 4 {
		t.Fatalf("Expected 4 samples, got %d", len(samples))
	}
	if samples[0] != 0 {
		t.Errorf("Expected sample 0 to be 0, got %f", samples[0])
	}
	if samples[1] != -1.0 {
		t.Errorf("Expected sample 1 to be -1, got %f", samples[1])
	}
	if samples[2] != 32767.0/32768.0 {
		t.Errorf("Expected sample 2 to be %f, got %f", 32767.0/32768.0, samples[2])
	}
	if samples[3] != 0.5 {
		t.Errorf("Expected sample 3 to be 0.5, got %f", samples[3])
	}
}

func TestBytesToFloat32IgnoresTrailingByte(t *testing.T) {
	samples := BytesToFloat32([]byte{0x00, 0x00, 0xff})
	if len(samples) != 1 {
		t.Errorf("Expected 1 sample, got %d", len(samples))
	}
}

func TestFloat32ToBytes(t *testing.T) {
	data := Float32ToBytes([]float32{0, 0.5, -1, 1})
	if len(data) != 8 {
		t.Fatalf("Expected 8 bytes, got %d", len(data))
	}
	want := []int16{0, 16383, -32767, 32767}
	got := make([]int16, 4)
	for i := range got {
		got[i] = int16(uint16(data[i*2]) | uint16(data[i*2+1])<<8)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Sample %d: expected %d, got %d", i, want[i], got[i])
		}
	}
}

func TestFloat32ToBytesClamps(t *testing.T) {
	data := Float32ToBytes([]float32{2.5, -7})
	hi := int16(uint16(data[0]) | uint16(data[1])<<8)
	lo := int16(uint16(data[2]) | uint16(data[3])<<8)
	if hi != 32767 {
		t.Errorf("Expected 2.5 to clamp to 32767, got %d", hi)
	}
	if lo != -32767 {
		t.Errorf("Expected -7 to clamp to -32767, got %d", lo)
	}
}

func TestSamples(t *testing.T) {
	if n := Samples(time.Second, 16000); n != 16000 {
		t.Errorf("Expected 16000 samples, got %d", n)
	}
	if n := Samples(250*time.Millisecond, 16000); n != 4000 {
		t.Errorf("Expected 4000 samples, got %d", n)
	}
}

func TestDuration(t *testing.T) {
	if d := Duration(8000, 16000); d != 500*time.Millisecond {
		t.Errorf("Expected 500ms, got %v", d)
	}
	if d := Duration(100, 0); d != 0 {
		t.Errorf("Expected 0 for zero rate, got %v", d)
	}
}
