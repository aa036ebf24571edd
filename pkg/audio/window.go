package audio

import "sync"

// Window keeps the most recent samples of a stream. Writers are real-time
// callbacks, so both sides hold the lock only for a bounded copy.
type Window struct {
	mu    sync.Mutex
	data  []float32
	pos   int
	size  int
	total uint64
}

// NewWindow returns a window holding capacity samples.
func NewWindow(capacity int) *Window {
	if capacity < 1 {
		capacity = 1
	}
	return &Window{data: make([]float32, capacity)}
}

// Write appends samples, overwriting the oldest.
func (w *Window) Write(samples []float32) {
	w.mu.Lock()
	defer w.mu.Unlock()

	capacity := len(w.data)
	if len(samples) >= capacity {
		copy(w.data, samples[len(samples)-capacity:])
		w.pos = 0
		w.size = capacity
		w.total += uint64(len(samples))
		return
	}
	n := copy(w.data[w.pos:], samples)
	if n < len(samples) {
		copy(w.data, samples[n:])
	}
	w.pos = (w.pos + len(samples)) % capacity
	w.size = min(w.size+len(samples), capacity)
	w.total += uint64(len(samples))
}

// Snapshot copies the buffered samples, oldest first, into dst and returns
// the filled slice along with the total number of samples ever written.
func (w *Window) Snapshot(dst []float32) ([]float32, uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if cap(dst) < w.size {
		dst = make([]float32, w.size)
	}
	dst = dst[:w.size]
	start := (w.pos - w.size + len(w.data)) % len(w.data)
	n := copy(dst, w.data[start:])
	if n < w.size {
		copy(dst[n:], w.data[:w.size-n])
	}
	return dst, w.total
}

// Reset discards buffered samples.
func (w *Window) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pos = 0
	w.size = 0
	w.total = 0
}
