package speed

import (
	"sync"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"trip-tracker/internal/geo"
	"trip-tracker/internal/track"
)

const DefaultHistorySize = 100

// SpeedSample is one derived speed reading, stored in m/s.
type SpeedSample struct {
	MetersPerSecond float64
	Timestamp       time.Time
	Source          track.PositionSample
}

// History is a fixed-capacity ring of speed readings; the oldest entry is
// overwritten once full.
type History struct {
	mu    sync.RWMutex
	buf   []SpeedSample
	start int
	n     int
}

func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = DefaultHistorySize
	}
	return &History{buf: make([]SpeedSample, capacity)}
}

func (h *History) Add(s SpeedSample) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.n < len(h.buf) {
		h.buf[(h.start+h.n)%len(h.buf)] = s
		h.n++
		return
	}
	h.buf[h.start] = s
	h.start = (h.start + 1) % len(h.buf)
}

func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.n
}

func (h *History) Cap() int { return len(h.buf) }

// Samples returns the readings oldest first.
func (h *History) Samples() []SpeedSample {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]SpeedSample, h.n)
	for i := range out {
		out[i] = h.buf[(h.start+i)%len(h.buf)]
	}
	return out
}

func (h *History) speeds() []float64 {
	out := make([]float64, h.n)
	for i := range out {
		out[i] = h.buf[(h.start+i)%len(h.buf)].MetersPerSecond
	}
	return out
}

// Current returns the latest reading in unit, or 0 when empty.
func (h *History) Current(unit geo.Unit) float64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.n == 0 {
		return 0
	}
	return geo.Convert(h.buf[(h.start+h.n-1)%len(h.buf)].MetersPerSecond, unit)
}

// Average returns the arithmetic mean of all readings in unit, or 0 when
// empty.
func (h *History) Average(unit geo.Unit) float64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.n == 0 {
		return 0
	}
	return geo.Convert(stat.Mean(h.speeds(), nil), unit)
}

// Max returns the highest reading in unit, or 0 when empty.
func (h *History) Max(unit geo.Unit) float64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.n == 0 {
		return 0
	}
	return geo.Convert(floats.Max(h.speeds()), unit)
}

func (h *History) Reset() {
	h.mu.Lock()
	h.start, h.n = 0, 0
	h.mu.Unlock()
}
