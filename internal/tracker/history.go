package tracker

import (
	"sync"

	"crypto-manager-go/internal/models"
)

// DefaultHistorySize is the number of samples kept by a tracker.
const DefaultHistorySize = 1000

// History is a fixed-capacity FIFO of price samples. The oldest sample is
// evicted first. It is safe for one writer and many concurrent readers.
type History struct {
	mu    sync.RWMutex
	buf   []models.PriceSample
	start int // index of the oldest sample
	size  int
}

// NewHistory creates an empty history holding at most capacity samples.
func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = DefaultHistorySize
	}
	return &History{buf: make([]models.PriceSample, capacity)}
}

// Append adds a sample. A timestamp earlier than the newest sample is
// clamped to it so the sequence stays non-decreasing.
func (h *History) Append(s models.PriceSample) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.size > 0 {
		if newest := h.buf[(h.start+h.size-1)%len(h.buf)]; s.Timestamp < newest.Timestamp {
			s.Timestamp = newest.Timestamp
		}
	}

	if h.size < len(h.buf) {
		h.buf[(h.start+h.size)%len(h.buf)] = s
		h.size++
		return
	}
	h.buf[h.start] = s
	h.start = (h.start + 1) % len(h.buf)
}

// Last returns a copy of the most recent limit samples in insertion order,
// or all of them when limit <= 0 or exceeds the stored count.
func (h *History) Last(limit int) []models.PriceSample {
	h.mu.RLock()
	defer h.mu.RUnlock()

	n := h.size
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]models.PriceSample, n)
	first := h.start + h.size - n
	for i := 0; i < n; i++ {
		out[i] = h.buf[(first+i)%len(h.buf)]
	}
	return out
}

// Len returns the number of stored samples.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.size
}

// Prices returns the stored prices, oldest first.
func (h *History) Prices() []float64 {
	samples := h.Last(0)
	prices := make([]float64, len(samples))
	for i, s := range samples {
		prices[i] = s.Price
	}
	return prices
}
