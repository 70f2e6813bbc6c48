package audio

import (
	"sync"
)

// RingBuffer holds the most recent microphone audio while the recognition
// engine is unavailable. On overflow the oldest audio is dropped in whole
// 16-bit samples so the stream stays sample aligned.
type RingBuffer struct {
	mu    sync.Mutex
	data  []byte
	start int
	n     int
}

// NewRingBuffer creates a buffer holding up to size bytes, rounded down to
// a whole number of samples
func NewRingBuffer(size int) *RingBuffer {
	size -= size % 2
	if size < 2 {
		size = 2
	}
	return &RingBuffer{data: make([]byte, size)}
}

// Write appends pcm and returns how many old bytes were dropped to make room
func (rb *RingBuffer) Write(pcm []byte) int {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	capacity := len(rb.data)
	dropped := 0
	if len(pcm) > capacity {
		dropped = len(pcm) - capacity
		pcm = pcm[dropped:]
	}

	if overflow := rb.n + len(pcm) - capacity; overflow > 0 {
		overflow += overflow % 2
		overflow = min(overflow, rb.n)
		rb.start = (rb.start + overflow) % capacity
		rb.n -= overflow
		dropped += overflow
	}

	end := (rb.start + rb.n) % capacity
	copied := copy(rb.data[end:], pcm)
	copy(rb.data, pcm[copied:])
	rb.n += len(pcm)

	return dropped
}

// Drain removes and returns everything buffered, oldest first
func (rb *RingBuffer) Drain() []byte {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if rb.n == 0 {
		return nil
	}
	out := make([]byte, rb.n)
	copied := copy(out, rb.data[rb.start:min(rb.start+rb.n, len(rb.data))])
	copy(out[copied:], rb.data)
	rb.start, rb.n = 0, 0
	return out
}

// Len returns the number of buffered bytes
func (rb *RingBuffer) Len() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.n
}

// Clear discards buffered audio
func (rb *RingBuffer) Clear() {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	rb.start, rb.n = 0, 0
}
