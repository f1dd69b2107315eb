// Package audio defines the inbound audio interface of the core: the
// negotiated capture format and the ring buffer platform drivers push PCM
// samples into. The drivers themselves are external collaborators — this
// package is only the boundary they deliver frames across. The ring is the
// one place in the repo touched from a thread the core does not own, so it
// carries its own mutex; the Governor never reads audio state from inside
// an execute() call.
package audio

import (
	"fmt"
	"sync"
)

// DefaultSampleRate is the capture rate negotiated when the driver offers
// no preference.
const DefaultSampleRate = 16000

// Format is the capture format negotiated with the platform driver.
// Samples are 32-bit float PCM, mono or stereo.
type Format struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
	BufferSize    int

	// EnableNSP requests the platform's noise suppression, when available.
	EnableNSP bool
	// EnableAEC requests acoustic echo cancellation, when available.
	EnableAEC bool
}

// DefaultFormat returns the format the core requests by default.
func DefaultFormat() Format {
	return Format{
		SampleRate:    DefaultSampleRate,
		Channels:      1,
		BitsPerSample: 32,
		BufferSize:    DefaultSampleRate, // one second of mono float samples
	}
}

// Validate rejects formats the core cannot consume.
func (f Format) Validate() error {
	if f.SampleRate <= 0 {
		return fmt.Errorf("audio: sample rate must be positive, got %d", f.SampleRate)
	}
	if f.Channels != 1 && f.Channels != 2 {
		return fmt.Errorf("audio: channels must be 1 or 2, got %d", f.Channels)
	}
	if f.BitsPerSample != 32 {
		return fmt.Errorf("audio: only 32-bit float PCM is supported, got %d bits", f.BitsPerSample)
	}
	if f.BufferSize <= 0 {
		return fmt.Errorf("audio: buffer size must be positive, got %d", f.BufferSize)
	}
	return nil
}

// Ring is a bounded sample buffer written by the platform capture thread
// and drained by the core's foreground thread. When the writer outruns the
// reader the oldest samples are overwritten; capture must never block the
// platform thread.
type Ring struct {
	mu      sync.Mutex
	format  Format
	buf     []float32
	start   int
	length  int
	dropped uint64
}

// NewRing allocates a ring sized by format.BufferSize.
func NewRing(format Format) (*Ring, error) {
	if err := format.Validate(); err != nil {
		return nil, err
	}
	return &Ring{
		format: format,
		buf:    make([]float32, format.BufferSize),
	}, nil
}

// Format returns the negotiated capture format.
func (r *Ring) Format() Format {
	return r.format
}

// Push appends samples from the platform capture thread, overwriting the
// oldest buffered samples on overflow.
func (r *Ring) Push(samples []float32) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(samples) >= len(r.buf) {
		// The write alone fills the whole ring; keep only its tail.
		r.dropped += uint64(r.length + len(samples) - len(r.buf))
		copy(r.buf, samples[len(samples)-len(r.buf):])
		r.start = 0
		r.length = len(r.buf)
		return
	}

	overflow := r.length + len(samples) - len(r.buf)
	if overflow > 0 {
		r.start = (r.start + overflow) % len(r.buf)
		r.length -= overflow
		r.dropped += uint64(overflow)
	}
	writeAt := (r.start + r.length) % len(r.buf)
	n := copy(r.buf[writeAt:], samples)
	copy(r.buf, samples[n:])
	r.length += len(samples)
}

// Read drains up to len(out) buffered samples into out and returns the
// count read. It never blocks.
func (r *Ring) Read(out []float32) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := len(out)
	if n > r.length {
		n = r.length
	}
	first := copy(out[:n], r.buf[r.start:min(r.start+n, len(r.buf))])
	copy(out[first:n], r.buf[:n-first])
	r.start = (r.start + n) % len(r.buf)
	r.length -= n
	return n
}

// Buffered returns the number of samples currently waiting to be read.
func (r *Ring) Buffered() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.length
}

// Dropped returns the total count of samples overwritten before the core
// read them.
func (r *Ring) Dropped() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}
