package audio

import (
	"sync"
)

// SampleBuffer is a thread-safe ring buffer for raw float samples.
// The session writes samples as they arrive from the capture client and the
// send loop reads them back out in fixed-size frames.
type SampleBuffer struct {
	buffer []float32
	size   int
	read   int
	write  int
	mu     sync.RWMutex
}

// NewSampleBuffer creates a new sample buffer with the specified capacity
func NewSampleBuffer(size int) *SampleBuffer {
	return &SampleBuffer{
		buffer: make([]float32, size),
		size:   size,
		read:   0,
		write:  0,
	}
}

// Write writes samples to the buffer
// Returns the number of samples written (may be less than len(samples) if the buffer is full)
func (sb *SampleBuffer) Write(samples []float32) int {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	written := 0
	for i := 0; i < len(samples); i++ {
		// Check if buffer is full
		if (sb.write+1)%sb.size == sb.read {
			break // Buffer full
		}

		sb.buffer[sb.write] = samples[i]
		sb.write = (sb.write + 1) % sb.size
		written++
	}

	return written
}

// ReadFrame reads exactly frameSize samples if that many are available.
// Returns nil and false when fewer than frameSize samples are buffered.
func (sb *SampleBuffer) ReadFrame(frameSize int) ([]float32, bool) {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	if sb.available() < frameSize {
		return nil, false
	}

	frame := make([]float32, frameSize)
	for i := 0; i < frameSize; i++ {
		frame[i] = sb.buffer[sb.read]
		sb.read = (sb.read + 1) % sb.size
	}
	return frame, true
}

// Drain reads and returns all buffered samples
func (sb *SampleBuffer) Drain() []float32 {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	n := sb.available()
	if n == 0 {
		return nil
	}
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		out[i] = sb.buffer[sb.read]
		sb.read = (sb.read + 1) % sb.size
	}
	return out
}

// Available returns the number of samples available to read
func (sb *SampleBuffer) Available() int {
	sb.mu.RLock()
	defer sb.mu.RUnlock()
	return sb.available()
}

// available must be called with the lock held
func (sb *SampleBuffer) available() int {
	if sb.write >= sb.read {
		return sb.write - sb.read
	}
	return sb.size - sb.read + sb.write
}

// Space returns the number of samples that can be written without dropping
func (sb *SampleBuffer) Space() int {
	sb.mu.RLock()
	defer sb.mu.RUnlock()
	return sb.size - sb.available() - 1 // -1 to prevent full/empty ambiguity
}

// Clear clears the buffer
func (sb *SampleBuffer) Clear() {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	sb.read = 0
	sb.write = 0
}

// IsEmpty returns true if the buffer is empty
func (sb *SampleBuffer) IsEmpty() bool {
	sb.mu.RLock()
	defer sb.mu.RUnlock()
	return sb.read == sb.write
}
