package encoder

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const bitDepth = 16

func toInt16(s float32) int16 {
	switch {
	case s >= 1:
		return 32767
	case s <= -1:
		return -32768
	default:
		return int16(s * 32767)
	}
}

// encodeChunk encodes mono samples at rate in format f.
func encodeChunk(f Format, rate int, samples []float32) ([]byte, error) {
	switch f {
	case FormatPCM:
		return encodePCM(samples), nil
	case FormatWAV:
		return encodeWAV(rate, samples)
	default:
		return nil, fmt.Errorf("%w: %s", ErrNoSupportedFormat, f)
	}
}

func encodePCM(samples []float32) []byte {
	out := make([]byte, 2*len(samples))
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[2*i:], uint16(toInt16(s)))
	}
	return out
}

func encodeWAV(rate int, samples []float32) ([]byte, error) {
	buf := &seekBuffer{}
	enc := wav.NewEncoder(buf, rate, bitDepth, 1, 1)

	data := make([]int, len(samples))
	for i, s := range samples {
		data[i] = int(toInt16(s))
	}
	ib := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: rate},
		Data:           data,
		SourceBitDepth: bitDepth,
	}
	if err := enc.Write(ib); err != nil {
		return nil, fmt.Errorf("failed to write wav samples: %w", err)
	}
	// Close patches the RIFF and data sizes into the header
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("failed to finish wav chunk: %w", err)
	}
	return buf.Bytes(), nil
}

// seekBuffer is an in-memory io.WriteSeeker, which the wav encoder needs
// to rewrite its header.
type seekBuffer struct {
	data []byte
	pos  int
}

func (b *seekBuffer) Write(p []byte) (int, error) {
	end := b.pos + len(p)
	if end > len(b.data) {
		if end > cap(b.data) {
			grown := make([]byte, end, 2*end)
			copy(grown, b.data)
			b.data = grown
		} else {
			b.data = b.data[:end]
		}
	}
	copy(b.data[b.pos:], p)
	b.pos = end
	return len(p), nil
}

func (b *seekBuffer) Seek(offset int64, whence int) (int64, error) {
	var base int64
	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		base = int64(b.pos)
	case io.SeekEnd:
		base = int64(len(b.data))
	default:
		return 0, errors.New("seekBuffer: invalid whence")
	}
	pos := base + offset
	if pos < 0 {
		return 0, errors.New("seekBuffer: negative position")
	}
	b.pos = int(pos)
	return pos, nil
}

func (b *seekBuffer) Bytes() []byte { return b.data }
