package control

import "sync"

// ErrorHistory is an append-only record of tracking-error samples, one per
// tick. It is read by diagnostics from other goroutines.
type ErrorHistory struct {
	mu      sync.RWMutex
	samples []float64
}

func (h *ErrorHistory) append(v float64) {
	h.mu.Lock()
	h.samples = append(h.samples, v)
	h.mu.Unlock()
}

// Len returns the number of recorded samples.
func (h *ErrorHistory) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.samples)
}

// Samples returns a copy of all samples in order.
func (h *ErrorHistory) Samples() []float64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]float64, len(h.samples))
	copy(out, h.samples)
	return out
}

// Since returns a copy of the samples from index start onward.
func (h *ErrorHistory) Since(start int) []float64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if start < 0 {
		start = 0
	}
	if start >= len(h.samples) {
		return nil
	}
	out := make([]float64, len(h.samples)-start)
	copy(out, h.samples[start:])
	return out
}

// Last returns the most recent sample.
func (h *ErrorHistory) Last() (float64, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.samples) == 0 {
		return 0, false
	}
	return h.samples[len(h.samples)-1], true
}
