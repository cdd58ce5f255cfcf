package audio

import "sync"

// RingBuffer is a fixed-capacity sample ring used as a pre-roll store on
// the live path: it keeps the most recent samples so that the onset of an
// utterance detected by VAD can be recovered from just before the trigger.
// Writes past capacity overwrite the oldest samples. Safe for concurrent
// use.
type RingBuffer struct {
	mu       sync.RWMutex
	data     []float32
	size     int
	writePos int
	count    int
}

// NewRingBuffer creates a ring buffer holding at most capacity samples.
func NewRingBuffer(capacity int) *RingBuffer {
	if capacity < 1 {
		capacity = 1
	}
	return &RingBuffer{
		data: make([]float32, capacity),
		size: capacity,
	}
}

// Write appends samples, overwriting the oldest when full.
func (r *RingBuffer) Write(samples []float32) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, s := range samples {
		r.data[r.writePos] = s
		r.writePos = (r.writePos + 1) % r.size
		if r.count < r.size {
			r.count++
		}
	}
}

// Snapshot returns the buffered samples in arrival order without
// consuming them.
func (r *RingBuffer) Snapshot() []float32 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]float32, r.count)
	start := (r.writePos - r.count + r.size) % r.size
	for i := 0; i < r.count; i++ {
		out[i] = r.data[(start+i)%r.size]
	}
	return out
}

// Drain returns the buffered samples in arrival order and empties the
// ring.
func (r *RingBuffer) Drain() []float32 {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]float32, r.count)
	start := (r.writePos - r.count + r.size) % r.size
	for i := 0; i < r.count; i++ {
		out[i] = r.data[(start+i)%r.size]
	}
	r.count = 0
	r.writePos = 0
	return out
}

// Len returns the number of buffered samples.
func (r *RingBuffer) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.count
}

// Cap returns the ring capacity in samples.
func (r *RingBuffer) Cap() int {
	return r.size
}

// Clear discards all buffered samples.
func (r *RingBuffer) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.count = 0
	r.writePos = 0
}

// IsEmpty reports whether the ring holds no samples.
func (r *RingBuffer) IsEmpty() bool {
	return r.Len() == 0
}

// IsFull reports whether the ring is at capacity, meaning further writes
// overwrite old samples.
func (r *RingBuffer) IsFull() bool {
	return r.Len() == r.size
}

// SampleBuffer is a growable sample accumulator for assembling one
// utterance from streamed PCM frames. Safe for concurrent use.
type SampleBuffer struct {
	mu      sync.RWMutex
	samples []float32
}

// NewSampleBuffer creates an empty sample buffer with room for
// roughly ten seconds of model-rate audio before the first growth.
func NewSampleBuffer() *SampleBuffer {
	return &SampleBuffer{
		samples: make([]float32, 0, 16000*10),
	}
}

// Append adds samples to the end of the buffer.
func (b *SampleBuffer) Append(samples []float32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.samples = append(b.samples, samples...)
}

// Samples returns a copy of the accumulated samples.
func (b *SampleBuffer) Samples() []float32 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]float32, len(b.samples))
	copy(out, b.samples)
	return out
}

// Len returns the number of accumulated samples.
func (b *SampleBuffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.samples)
}

// Duration returns the buffered audio length in seconds at the given
// sample rate.
func (b *SampleBuffer) Duration(sampleRate int) float32 {
	if sampleRate <= 0 {
		return 0
	}
	return float32(b.Len()) / float32(sampleRate)
}

// Clear empties the buffer while keeping its capacity.
func (b *SampleBuffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.samples = b.samples[:0]
}

// TrimTail keeps only the newest maxSamples samples, dropping the oldest
// ones. Used to bound memory when a live session runs without a pause
// long enough to flush.
func (b *SampleBuffer) TrimTail(maxSamples int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if maxSamples < 0 {
		maxSamples = 0
	}
	if len(b.samples) <= maxSamples {
		return
	}
	keep := b.samples[len(b.samples)-maxSamples:]
	b.samples = append(b.samples[:0], keep...)
}
