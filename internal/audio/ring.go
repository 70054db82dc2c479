package audio

import "sync"

// RingBuffer is a thread-safe FIFO of samples. When full, Write overwrites
// the oldest samples.
type RingBuffer struct {
	mu      sync.Mutex
	data    []int16
	readPos int
	filled  int
	dropped int
}

// NewRingBuffer creates a new ring buffer with the given capacity.
func NewRingBuffer(size int) *RingBuffer {
	return &RingBuffer{data: make([]int16, size)}
}

// Write appends samples, dropping the oldest ones on overflow.
func (rb *RingBuffer) Write(samples []int16) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	size := len(rb.data)
	if size == 0 {
		return
	}
	for _, s := range samples {
		writePos := (rb.readPos + rb.filled) % size
		rb.data[writePos] = s
		if rb.filled < size {
			rb.filled++
		} else {
			rb.readPos = (rb.readPos + 1) % size
			rb.dropped++
		}
	}
}

// Read moves up to len(dst) of the oldest samples into dst.
func (rb *RingBuffer) Read(dst []int16) int {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	n := len(dst)
	if n > rb.filled {
		n = rb.filled
	}
	size := len(rb.data)
	for i := 0; i < n; i++ {
		dst[i] = rb.data[(rb.readPos+i)%size]
	}
	if size > 0 {
		rb.readPos = (rb.readPos + n) % size
	}
	rb.filled -= n
	return n
}

// Len returns the number of unread samples.
func (rb *RingBuffer) Len() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.filled
}

// Cap returns the buffer capacity in samples.
func (rb *RingBuffer) Cap() int {
	return len(rb.data)
}

// Dropped returns how many samples were overwritten before being read.
func (rb *RingBuffer) Dropped() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.dropped
}

// Clear empties the buffer.
func (rb *RingBuffer) Clear() {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	rb.readPos = 0
	rb.filled = 0
}
