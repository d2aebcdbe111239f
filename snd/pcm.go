package snd

import (
	"encoding/binary"
	"time"
)

// Constants
const (
	SampleRate     = 16000
	Channels       = 1
	BytesPerSample = 2
)

// BytesToFloat32 converts 16-bit little-endian PCM to float32 samples
// in [-1, 1). A trailing odd byte is ignored.
func BytesToFloat32(data []byte) []float32 {
	n := len(data) / BytesPerSample
	samples := make([]float32, n)
	for i := 0; i < n; i++ {
		v := int16(binary.LittleEndian.Uint16(data[i*BytesPerSample:]))
		samples[i] = float32(v) / 32768.0
	}
	return samples
}

// Float32ToBytes converts float32 samples to 16-bit little-endian PCM.
// Values outside [-1, 1] are clamped.
func Float32ToBytes(samples []float32) []byte {
	data := make([]byte, len(samples)*BytesPerSample)
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		v := int16(s * 32767.0)
		binary.LittleEndian.PutUint16(data[i*BytesPerSample:], uint16(v))
	}
	return data
}

// Samples returns the number of samples covering d at the given rate.
func Samples(d time.Duration, rate int) int {
	return int(d.Seconds() * float64(rate))
}

// Duration returns the playback time of n samples at the given rate.
func Duration(n int, rate int) time.Duration {
	if rate <= 0 {
		return 0
	}
	return time.Duration(float64(n) / float64(rate) * float64(time.Second))
}
