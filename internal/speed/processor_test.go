package speed

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trip-tracker/internal/clock"
	"trip-tracker/internal/geo"
	"trip-tracker/internal/track"
)

type countingMetrics struct {
	mu       sync.Mutex
	accepted map[Purpose]int
	dropped  map[Purpose]int
	failed   map[Purpose]int
	busy     int
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{accepted: map[Purpose]int{}, dropped: map[Purpose]int{}, failed: map[Purpose]int{}}
}

func (m *countingMetrics) SampleAccepted(p Purpose) { m.mu.Lock(); m.accepted[p]++; m.mu.Unlock() }
func (m *countingMetrics) SampleDropped(p Purpose)  { m.mu.Lock(); m.dropped[p]++; m.mu.Unlock() }
func (m *countingMetrics) SinkFailed(p Purpose)     { m.mu.Lock(); m.failed[p]++; m.mu.Unlock() }
func (m *countingMetrics) ProcessorBusy()           { m.mu.Lock(); m.busy++; m.mu.Unlock() }

// fixes returns samples spaced meters apart along a meridian, gap apart in
// time.
func fixes(n int, meters float64, gap time.Duration) []track.PositionSample {
	out := make([]track.PositionSample, n)
	lat, lon := 40.7128, -74.0060
	for i := range out {
		out[i] = track.PositionSample{Latitude: lat, Longitude: lon, Timestamp: t0.Add(time.Duration(i) * gap), AccuracyMeters: 4}
		lat, lon = geo.Destination(lat, lon, meters, 0)
	}
	return out
}

func TestProcessorDerivesSpeed(t *testing.T) {
	clk := clock.NewManual(t0)
	p := NewProcessor(ProcessorOptions{Clock: clk})

	samples := fixes(3, 1000, 10*time.Second)
	res := p.Process(samples[0])
	assert.True(t, res.Display)
	assert.False(t, res.HasSpeed)

	clk.Set(t0.Add(2 * time.Second))
	res = p.Process(samples[1])
	require.True(t, res.HasSpeed)
	assert.InDelta(t, 100, res.Speed, 1e-3)
	assert.InDelta(t, 100, p.CurrentSpeed(geo.MPS), 1e-3)
	assert.InDelta(t, 223.7, p.MaxSpeed(geo.MPH), 1e-2)
}

func TestProcessorThrottlesPerPurpose(t *testing.T) {
	clk := clock.NewManual(t0)
	m := newCountingMetrics()
	var recorded, synced []track.PositionSample
	p := NewProcessor(ProcessorOptions{
		Intervals: Intervals{Display: time.Second, Recording: 2 * time.Second, Sync: 4 * time.Second},
		Record:    func(s track.PositionSample) error { recorded = append(recorded, s); return nil },
		Sync:      func(s track.PositionSample) error { synced = append(synced, s); return nil },
		Clock:     clk,
		Metrics:   m,
	})

	samples := fixes(17, 5, 250*time.Millisecond)
	for i, s := range samples {
		clk.Set(t0.Add(time.Duration(i) * 250 * time.Millisecond))
		p.Process(s)
	}

	assert.Len(t, recorded, 3)
	assert.Len(t, synced, 2)
	assert.Equal(t, 5, m.accepted[Display])
	assert.Equal(t, 12, m.dropped[Display])
	assert.Equal(t, 4, p.History().Len(), "first display sample has no predecessor")
	assert.Equal(t, samples[16], recorded[2])
}

func TestProcessorDropsReentrantSamples(t *testing.T) {
	clk := clock.NewManual(t0)
	m := newCountingMetrics()
	var p *Processor
	var nested Result
	p = NewProcessor(ProcessorOptions{
		Clock:   clk,
		Metrics: m,
		Record: func(s track.PositionSample) error {
			nested = p.Process(s)
			return nil
		},
	})

	res := p.Process(fixes(1, 0, 0)[0])
	assert.False(t, res.Busy)
	assert.True(t, res.Recording)
	assert.True(t, nested.Busy)
	assert.Equal(t, 1, m.busy)

	// The guard is released afterwards.
	clk.Set(t0.Add(time.Minute))
	assert.False(t, p.Process(fixes(1, 0, 0)[0]).Busy)
}

func TestProcessorSinkErrorsAreCounted(t *testing.T) {
	m := newCountingMetrics()
	p := NewProcessor(ProcessorOptions{
		Clock:   clock.NewManual(t0),
		Metrics: m,
		Sync:    func(track.PositionSample) error { return errors.New("nats down") },
	})

	res := p.Process(fixes(1, 0, 0)[0])
	assert.True(t, res.Sync)
	assert.Equal(t, 1, m.failed[Sync])
	assert.Zero(t, m.failed[Recording])
}

func TestProcessorReset(t *testing.T) {
	clk := clock.NewManual(t0)
	p := NewProcessor(ProcessorOptions{Clock: clk})
	samples := fixes(2, 100, 10*time.Second)
	p.Process(samples[0])
	clk.Set(t0.Add(3 * time.Second))
	p.Process(samples[1])
	require.Equal(t, 1, p.History().Len())

	p.Reset()
	assert.Zero(t, p.History().Len())
	res := p.Process(samples[0])
	assert.True(t, res.Display, "governor forgets the previous trip")
	assert.False(t, res.HasSpeed)
}
