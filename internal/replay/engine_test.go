package replay

import (
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trip-tracker/internal/clock"
	"trip-tracker/internal/geo"
	"trip-tracker/internal/track"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

// recording returns n samples heading north, spacing meters and gap apart.
func recording(n int, spacing float64, gap time.Duration) []track.PositionSample {
	out := make([]track.PositionSample, n)
	lat, lon := 51.5007, -0.1246
	for i := range out {
		out[i] = track.PositionSample{Latitude: lat, Longitude: lon, Timestamp: t0.Add(time.Duration(i) * gap), AccuracyMeters: 5}
		lat, lon = geo.Destination(lat, lon, spacing, 0)
	}
	return out
}

func newEngine(t *testing.T, samples []track.PositionSample, start, end time.Time, mult float64) (*Engine, *clock.Manual) {
	t.Helper()
	clk := clock.NewManual(t0)
	e := New(samples, start, end, Options{SpeedMultiplier: mult, Clock: clk})
	t.Cleanup(e.Stop)
	return e, clk
}

func TestFivePointTripAtDoubleSpeed(t *testing.T) {
	e, _ := newEngine(t, recording(5, 100, 10*time.Second), t0, t0.Add(40*time.Second), 2)
	require.Equal(t, 4*time.Second, e.StepInterval())

	e.Play()
	for i := 1; i <= 4; i++ {
		e.Step(t0.Add(time.Duration(i) * 4 * time.Second))
		assert.Equal(t, i, e.State().CurrentIndex)
	}
	assert.True(t, e.IsAtEnd())
	assert.Equal(t, Ended, e.State().Status)
	assert.Equal(t, 100.0, e.ProgressPercent())

	e.Step(t0.Add(time.Minute))
	assert.Equal(t, 4, e.State().CurrentIndex)
}

func TestStepAdvancesOnePerElapsedInterval(t *testing.T) {
	e, _ := newEngine(t, recording(10, 100, 10*time.Second), t0, t0.Add(90*time.Second), 1)
	require.Equal(t, 9*time.Second, e.StepInterval())

	e.Play()
	e.Step(t0.Add(8 * time.Second))
	assert.Equal(t, 0, e.State().CurrentIndex)
	e.Step(t0.Add(19 * time.Second))
	assert.Equal(t, 2, e.State().CurrentIndex)
	// The remainder carries: the next boundary is at 27s, not 28s.
	e.Step(t0.Add(27 * time.Second))
	assert.Equal(t, 3, e.State().CurrentIndex)
}

func TestSeekStaysInRange(t *testing.T) {
	const n = 7
	e, _ := newEngine(t, recording(n, 50, time.Second), t0, t0.Add(6*time.Second), 1)

	for p := -10.0; p <= 110; p += 0.5 {
		e.SeekTo(p)
		idx := e.State().CurrentIndex
		require.GreaterOrEqual(t, idx, 0)
		require.LessOrEqual(t, idx, n-1)
	}
	e.SeekTo(0)
	assert.Equal(t, 0, e.State().CurrentIndex)
	assert.True(t, e.IsAtStart())
	e.SeekTo(100)
	assert.Equal(t, n-1, e.State().CurrentIndex)
	assert.True(t, e.IsAtEnd())
	e.SeekTo(50)
	assert.Equal(t, 3, e.State().CurrentIndex)
	e.SeekTo(math.NaN())
	assert.Equal(t, 0, e.State().CurrentIndex)

	assert.Equal(t, Stopped, e.State().Status, "seeking does not start playback")
}

func TestPauseExcludesElapsedTime(t *testing.T) {
	e, clk := newEngine(t, recording(100, 10, time.Second), t0, t0.Add(99*time.Second), 1)

	e.Play()
	clk.Set(t0.Add(3 * time.Second))
	e.Pause()
	clk.Set(t0.Add(13 * time.Second))
	assert.Equal(t, 3*time.Second, e.Elapsed())

	e.Resume()
	clk.Set(t0.Add(15 * time.Second))
	assert.Equal(t, 5*time.Second, e.Elapsed())
	e.Pause()

	clk.Set(t0.Add(time.Hour))
	assert.Equal(t, 5*time.Second, e.State().Elapsed)
	assert.Equal(t, 94*time.Second, e.RemainingTime())
}

func TestPauseKeepsPartialStep(t *testing.T) {
	e, clk := newEngine(t, recording(10, 10, time.Second), t0, t0.Add(40*time.Second), 1)
	require.Equal(t, 4*time.Second, e.StepInterval())

	e.Play()
	clk.Set(t0.Add(3 * time.Second))
	e.Pause()
	clk.Set(t0.Add(time.Minute))
	e.Play()
	e.Step(t0.Add(time.Minute + time.Second))
	assert.Equal(t, 1, e.State().CurrentIndex)
}

func TestPlayFromEndRestarts(t *testing.T) {
	e, clk := newEngine(t, recording(3, 100, time.Second), t0, t0.Add(3*time.Second), 1)
	e.Play()
	e.Step(t0.Add(10 * time.Second))
	require.Equal(t, Ended, e.State().Status)
	require.Positive(t, e.Elapsed())

	clk.Set(t0.Add(20 * time.Second))
	e.Play()
	st := e.State()
	assert.Equal(t, Playing, st.Status)
	assert.Equal(t, 0, st.CurrentIndex)
	assert.Zero(t, st.Elapsed)
}

func TestSeekBackFromEndPauses(t *testing.T) {
	e, _ := newEngine(t, recording(5, 100, time.Second), t0, t0.Add(5*time.Second), 1)
	e.Play()
	e.Step(t0.Add(time.Minute))
	require.Equal(t, Ended, e.State().Status)

	e.SeekTo(50)
	assert.Equal(t, Paused, e.State().Status)
	assert.Equal(t, 2, e.State().CurrentIndex)

	e.Play()
	assert.Equal(t, 2, e.State().CurrentIndex, "play resumes from the seek position")
}

func TestSeekToEndWhilePlayingEnds(t *testing.T) {
	e, _ := newEngine(t, recording(5, 100, time.Second), t0, t0.Add(5*time.Second), 1)
	e.Play()
	e.SeekTo(100)
	assert.Equal(t, Ended, e.State().Status)
}

func TestSkipMovesByFixedStep(t *testing.T) {
	e, _ := newEngine(t, recording(25, 10, time.Second), t0, t0.Add(24*time.Second), 1)

	e.SkipToNext()
	assert.Equal(t, 10, e.State().CurrentIndex)
	e.SkipToNext()
	assert.Equal(t, 20, e.State().CurrentIndex)
	e.SkipToNext()
	assert.Equal(t, 24, e.State().CurrentIndex)
	e.SkipToPrevious()
	assert.Equal(t, 14, e.State().CurrentIndex)
	e.SkipToPrevious()
	e.SkipToPrevious()
	assert.Equal(t, 0, e.State().CurrentIndex)
	assert.Equal(t, Stopped, e.State().Status)
}

func TestStopIsIdempotentAndRewinds(t *testing.T) {
	e, clk := newEngine(t, recording(10, 10, time.Second), t0, t0.Add(10*time.Second), 1)
	e.Play()
	e.Step(t0.Add(3 * time.Second))
	clk.Set(t0.Add(3 * time.Second))
	require.Equal(t, 3, e.State().CurrentIndex)

	e.Stop()
	e.Stop()
	st := e.State()
	assert.Equal(t, Stopped, st.Status)
	assert.Zero(t, st.CurrentIndex)
	assert.Zero(t, st.Elapsed)

	e.Step(t0.Add(time.Minute))
	assert.Zero(t, e.State().CurrentIndex, "a tick after Stop must not advance")
}

func TestEmptyRecordingIsInert(t *testing.T) {
	e, _ := newEngine(t, nil, t0, t0.Add(time.Minute), 1)

	e.Play()
	e.SeekTo(50)
	e.SkipToNext()
	e.SkipToPrevious()
	e.Step(t0.Add(time.Hour))
	e.Pause()

	_, ok := e.CurrentLocation()
	assert.False(t, ok)
	assert.Equal(t, Stopped, e.State().Status)
	assert.False(t, e.IsAtStart())
	assert.False(t, e.IsAtEnd())
	assert.Zero(t, e.ProgressPercent())
	assert.Zero(t, e.CurrentSpeed())
}

func TestSingleSampleProgress(t *testing.T) {
	e, _ := newEngine(t, recording(1, 0, 0), t0, t0, 1)
	assert.Equal(t, MinStepInterval, e.StepInterval())
	assert.Zero(t, e.ProgressPercent())

	e.Play()
	assert.Equal(t, Ended, e.State().Status)
	assert.Equal(t, 100.0, e.ProgressPercent())

	loc, ok := e.CurrentLocation()
	require.True(t, ok)
	assert.Equal(t, t0, loc.Timestamp)
}

func TestZeroDurationUsesMinimumInterval(t *testing.T) {
	e := NewFromSamples(recording(4, 10, 0), Options{Clock: clock.NewManual(t0)})
	assert.Zero(t, e.TotalDuration())
	assert.Equal(t, MinStepInterval, e.StepInterval())
}

func TestNewFromSamplesUsesSampleBounds(t *testing.T) {
	e := NewFromSamples(recording(6, 10, 2*time.Second), Options{Clock: clock.NewManual(t0)})
	assert.Equal(t, 10*time.Second, e.TotalDuration())
}

func TestSpeedMultiplierClamps(t *testing.T) {
	e, _ := newEngine(t, recording(5, 10, time.Second), t0, t0.Add(5*time.Second), 1)
	e.SetSpeedMultiplier(0.01)
	assert.Equal(t, MinSpeedMultiplier, e.State().SpeedMultiplier)
	e.SetSpeedMultiplier(9)
	assert.Equal(t, MaxSpeedMultiplier, e.State().SpeedMultiplier)
}

func TestCurrentSpeedFromNeighbours(t *testing.T) {
	e, _ := newEngine(t, recording(3, 1000, 10*time.Second), t0, t0.Add(20*time.Second), 1)
	assert.Zero(t, e.CurrentSpeed())
	e.SkipToNext()
	assert.InDelta(t, 100, e.CurrentSpeed(), 1e-3)
}

func TestSubscribersSeeEachAdvance(t *testing.T) {
	samples := recording(5, 100, 10*time.Second)
	e, _ := newEngine(t, samples, t0, t0.Add(40*time.Second), 2)

	var got []track.PositionSample
	e.Subscribe(func(s track.PositionSample) { got = append(got, s) })

	e.Play()
	for i := 1; i <= 4; i++ {
		e.Step(t0.Add(time.Duration(i) * 4 * time.Second))
	}
	assert.Equal(t, samples[1:], got)
}

func TestRunLoopReachesEnd(t *testing.T) {
	e, clk := newEngine(t, recording(5, 100, 10*time.Second), t0, t0.Add(40*time.Second), 2)

	var mu sync.Mutex
	seen := 0
	e.Subscribe(func(track.PositionSample) {
		mu.Lock()
		seen++
		mu.Unlock()
	})

	e.Play()
	require.Eventually(t, func() bool {
		clk.Advance(4 * time.Second)
		return e.IsAtEnd()
	}, 5*time.Second, time.Millisecond)

	assert.Equal(t, Ended, e.State().Status)
	mu.Lock()
	defer mu.Unlock()
	assert.GreaterOrEqual(t, seen, 1)
}
