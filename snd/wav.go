package snd

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
)

// ErrBadFormat reports audio the pipeline cannot ingest directly.
var ErrBadFormat = errors.New("snd: unsupported audio format")

// Format describes the PCM layout declared by a WAV file.
type Format struct {
	SampleRate int
	Channels   int
	Bits       int
}

// ReadWAV parses a RIFF/WAVE stream and returns its samples as float32
// along with the declared format. Only uncompressed 16-bit PCM is
// accepted; anything else fails with ErrBadFormat. Unknown chunks are
// skipped.
func ReadWAV(r io.Reader) ([]float32, Format, error) {
	var hdr [12]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, Format{}, fmt.Errorf("read RIFF header: %w", err)
	}
	if string(hdr[0:4]) != "RIFF" || string(hdr[8:12]) != "WAVE" {
		return nil, Format{}, fmt.Errorf("%w: not a RIFF/WAVE stream", ErrBadFormat)
	}

	var format Format
	fmtSeen := false
	for {
		var chunk [8]byte
		if _, err := io.ReadFull(r, chunk[:]); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return nil, Format{}, fmt.Errorf("%w: no data chunk", ErrBadFormat)
			}
			return nil, Format{}, fmt.Errorf("read chunk header: %w", err)
		}
		id := string(chunk[0:4])
		size := binary.LittleEndian.Uint32(chunk[4:8])

		switch id {
		case "fmt ":
			if size < 16 {
				return nil, Format{}, fmt.Errorf("%w: fmt chunk too short", ErrBadFormat)
			}
			body := make([]byte, size)
			if _, err := io.ReadFull(r, body); err != nil {
				return nil, Format{}, fmt.Errorf("read fmt chunk: %w", err)
			}
			audioFormat := binary.LittleEndian.Uint16(body[0:2])
			format.Channels = int(binary.LittleEndian.Uint16(body[2:4]))
			format.SampleRate = int(binary.LittleEndian.Uint32(body[4:8]))
			format.Bits = int(binary.LittleEndian.Uint16(body[14:16]))
			if audioFormat != 1 {
				return nil, Format{}, fmt.Errorf("%w: audio format %d, want PCM", ErrBadFormat, audioFormat)
			}
			if format.Bits != 16 {
				return nil, Format{}, fmt.Errorf("%w: %d bits per sample, want 16", ErrBadFormat, format.Bits)
			}
			fmtSeen = true
		case "data":
			if !fmtSeen {
				return nil, Format{}, fmt.Errorf("%w: data chunk before fmt", ErrBadFormat)
			}
			body := make([]byte, size)
			if _, err := io.ReadFull(r, body); err != nil {
				return nil, Format{}, fmt.Errorf("read data chunk: %w", err)
			}
			return BytesToFloat32(body), format, nil
		default:
			// Chunks are word aligned; odd sizes carry a pad byte.
			skip := int64(size)
			if size%2 == 1 {
				skip++
			}
			if _, err := io.CopyN(io.Discard, r, skip); err != nil {
				return nil, Format{}, fmt.Errorf("skip %q chunk: %w", id, err)
			}
		}
	}
}

// ReadWAVFile reads a WAV file and requires mono 16-bit PCM at
// wantRate. There is no resampling; a file in any other format is the
// caller's problem and fails loudly here.
func ReadWAVFile(path string, wantRate int) ([]float32, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	samples, format, err := ReadWAV(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if format.Channels != Channels {
		return nil, fmt.Errorf("%w: %s has %d channels, want mono", ErrBadFormat, path, format.Channels)
	}
	if format.SampleRate != wantRate {
		return nil, fmt.Errorf("%w: %s is %d Hz, want %d Hz", ErrBadFormat, path, format.SampleRate, wantRate)
	}
	return samples, nil
}
