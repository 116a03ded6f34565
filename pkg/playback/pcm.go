// Package playback implements the streaming audio core of the conversation
// view: PCM decoding with chunk-boundary carry, gapless schedule bookkeeping
// against a monotonic clock, pluggable audio sinks, and the engine that
// plays a synthesized reply while coordinating the text reveal.
package playback

import (
	"encoding/binary"
	"time"
)

// DefaultSampleRate matches the backend's TTS output: 24kHz mono PCM16LE,
// tuned for low-latency interactive playback.
const DefaultSampleRate = 24000

const bytesPerSample = 2

// Decoder converts a 16-bit little-endian mono PCM byte stream into
// normalized float32 samples in [-1, 1). Chunk boundaries may split a
// sample across reads; the decoder carries at most one leftover byte
// between calls, so any re-chunking of the same bytes decodes to the same
// sample sequence.
type Decoder struct {
	leftover    byte
	hasLeftover bool
}

// Decode consumes one chunk and returns the samples it completes.
func (d *Decoder) Decode(chunk []byte) []float32 {
	buf := chunk
	if d.hasLeftover {
		joined := make([]byte, 0, len(chunk)+1)
		joined = append(joined, d.leftover)
		joined = append(joined, chunk...)
		buf = joined
		d.hasLeftover = false
	}

	n := len(buf)
	if n%bytesPerSample != 0 {
		d.leftover = buf[n-1]
		d.hasLeftover = true
		n--
	}
	if n == 0 {
		return nil
	}

	samples := make([]float32, n/bytesPerSample)
	for i := range samples {
		s := int16(binary.LittleEndian.Uint16(buf[bytesPerSample*i:]))
		samples[i] = float32(s) / 32768.0
	}
	return samples
}

// Reset drops any carried byte from a previous stream.
func (d *Decoder) Reset() {
	d.hasLeftover = false
}

// SampleDuration converts a mono sample count at rate into wall time.
func SampleDuration(samples, rate int) time.Duration {
	if samples <= 0 || rate <= 0 {
		return 0
	}
	return time.Duration(samples) * time.Second / time.Duration(rate)
}
