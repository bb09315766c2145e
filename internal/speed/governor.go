// Package speed derives current, average and maximum speed from a raw
// position stream, gating each downstream purpose by its own minimum
// interval.
package speed

import (
	"sync"
	"time"
)

// Purpose names one downstream consumer of the raw stream.
type Purpose int

const (
	Display Purpose = iota
	Recording
	Sync

	numPurposes
)

var Purposes = []Purpose{Display, Recording, Sync}

func (p Purpose) String() string {
	switch p {
	case Display:
		return "display"
	case Recording:
		return "recording"
	case Sync:
		return "sync"
	default:
		return "unknown"
	}
}

const DefaultInterval = 2 * time.Second

// Intervals holds the minimum time between accepted samples per purpose.
// Zero fields take DefaultInterval.
type Intervals struct {
	Display   time.Duration
	Recording time.Duration
	Sync      time.Duration
}

// Governor admits at most one sample per interval for each purpose.
// Rejected samples are dropped, not queued.
type Governor struct {
	mu       sync.Mutex
	interval [numPurposes]time.Duration
	last     [numPurposes]time.Time
	seen     [numPurposes]bool
}

func NewGovernor(iv Intervals) *Governor {
	g := &Governor{}
	for p, d := range [numPurposes]time.Duration{iv.Display, iv.Recording, iv.Sync} {
		if d <= 0 {
			d = DefaultInterval
		}
		g.interval[p] = d
	}
	return g
}

// Admit reports whether a sample arriving at now is accepted for p, and if
// so records now as p's last accepted time.
func (g *Governor) Admit(p Purpose, now time.Time) bool {
	if p < 0 || p >= numPurposes {
		return false
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.seen[p] && now.Sub(g.last[p]) < g.interval[p] {
		return false
	}
	g.last[p] = now
	g.seen[p] = true
	return true
}

func (g *Governor) Interval(p Purpose) time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.interval[p]
}

// Reset forgets every purpose's last accepted time.
func (g *Governor) Reset() {
	g.mu.Lock()
	g.seen = [numPurposes]bool{}
	g.last = [numPurposes]time.Time{}
	g.mu.Unlock()
}
