// Package replay plays back a recorded trip on a virtual, scalable clock.
package replay

import (
	"context"
	"math"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"trip-tracker/internal/clock"
	"trip-tracker/internal/geo"
	"trip-tracker/internal/track"
)

type Status string

const (
	Stopped Status = "stopped"
	Playing Status = "playing"
	Paused  Status = "paused"
	Ended   Status = "ended"
)

const (
	MinSpeedMultiplier = 0.1
	MaxSpeedMultiplier = 5.0

	// MinStepInterval bounds how fast the index may advance, and is the
	// interval used for zero-duration recordings.
	MinStepInterval = 50 * time.Millisecond
	DefaultSkipStep = 10
)

type Options struct {
	SpeedMultiplier float64
	SkipStep        int
	Clock           clock.Clock
}

// State is a snapshot of an Engine.
type State struct {
	Status          Status
	CurrentIndex    int
	SpeedMultiplier float64
	ProgressPercent float64
	Elapsed         time.Duration
}

// Engine replays a finite sample sequence. An engine over zero samples is
// valid; every operation on it is a no-op.
type Engine struct {
	mu       sync.Mutex
	samples  []track.PositionSample
	duration time.Duration
	skipStep int
	clk      clock.Clock

	status Status
	index  int
	mult   float64

	elapsed   time.Duration // playing time banked before playSince
	playSince time.Time
	lastStep  time.Time
	carry     time.Duration // progress toward the next step kept across a pause

	subs   []func(track.PositionSample)
	cancel context.CancelFunc
	ticker clock.Ticker
}

// New returns a stopped engine. start and end are the recorded trip's real
// world bounds; a negative span is treated as zero.
func New(samples []track.PositionSample, start, end time.Time, opts Options) *Engine {
	e := &Engine{
		samples:  append([]track.PositionSample(nil), samples...),
		duration: max(end.Sub(start), 0),
		skipStep: opts.SkipStep,
		clk:      opts.Clock,
		status:   Stopped,
		mult:     1,
	}
	if e.skipStep <= 0 {
		e.skipStep = DefaultSkipStep
	}
	if e.clk == nil {
		e.clk = clock.Real{}
	}
	if opts.SpeedMultiplier != 0 {
		e.mult = clampMultiplier(opts.SpeedMultiplier)
	}
	return e
}

// NewFromSamples takes the trip bounds from the first and last samples.
func NewFromSamples(samples []track.PositionSample, opts Options) *Engine {
	var start, end time.Time
	if len(samples) > 0 {
		start, end = samples[0].Timestamp, samples[len(samples)-1].Timestamp
	}
	return New(samples, start, end, opts)
}

func (e *Engine) Len() int { return len(e.samples) }

// Subscribe registers fn to receive the current sample whenever the index
// changes through playback, seek or skip.
func (e *Engine) Subscribe(fn func(track.PositionSample)) {
	e.mu.Lock()
	e.subs = append(e.subs, fn)
	e.mu.Unlock()
}

// Play starts or resumes playback. From the end it restarts at index 0.
func (e *Engine) Play() {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := len(e.samples)
	if n == 0 || e.status == Playing {
		return
	}
	now := e.clk.Now()
	if e.index == n-1 {
		e.index = 0
		e.elapsed = 0
		e.carry = 0
	}
	e.playSince = now
	if n == 1 {
		// Nothing to advance through.
		e.status = Ended
		return
	}
	e.status = Playing
	e.lastStep = now.Add(-e.carry)
	e.carry = 0
	e.startLoopLocked()
}

// Resume is Play for a paused engine.
func (e *Engine) Resume() {
	e.mu.Lock()
	paused := e.status == Paused
	e.mu.Unlock()
	if paused {
		e.Play()
	}
}

// Pause freezes playback and banks the playing time so far.
func (e *Engine) Pause() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.status != Playing {
		return
	}
	now := e.clk.Now()
	e.bankLocked(now)
	e.carry = min(max(now.Sub(e.lastStep), 0), e.stepInterval())
	e.status = Paused
	e.stopLoopLocked()
}

// Stop rewinds to the first sample and clears elapsed time. Idempotent.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopLoopLocked()
	e.status = Stopped
	e.index = 0
	e.elapsed = 0
	e.carry = 0
}

// Step advances one index per step interval elapsed since the last
// advance. It does nothing unless the engine is playing.
func (e *Engine) Step(now time.Time) {
	e.mu.Lock()
	if e.status != Playing {
		e.mu.Unlock()
		return
	}
	interval := e.stepInterval()
	steps := int(now.Sub(e.lastStep) / interval)
	if steps <= 0 {
		e.mu.Unlock()
		return
	}
	e.lastStep = e.lastStep.Add(time.Duration(steps) * interval)
	e.index = min(e.index+steps, len(e.samples)-1)
	if e.index == len(e.samples)-1 {
		e.endLocked(now)
	}
	sample, subs := e.samples[e.index], e.subs
	e.mu.Unlock()

	notify(subs, sample)
}

// SeekTo jumps to percent (0..100) of the sequence by index.
func (e *Engine) SeekTo(percent float64) {
	e.mu.Lock()
	n := len(e.samples)
	if n == 0 {
		e.mu.Unlock()
		return
	}
	if math.IsNaN(percent) {
		percent = 0
	}
	percent = math.Max(0, math.Min(100, percent))
	e.moveLocked(int(math.Floor(percent / 100 * float64(n-1))))
	sample, subs := e.samples[e.index], e.subs
	e.mu.Unlock()

	notify(subs, sample)
}

func (e *Engine) SkipToNext()     { e.skip(1) }
func (e *Engine) SkipToPrevious() { e.skip(-1) }

func (e *Engine) skip(dir int) {
	e.mu.Lock()
	if len(e.samples) == 0 {
		e.mu.Unlock()
		return
	}
	e.moveLocked(e.index + dir*e.skipStep)
	sample, subs := e.samples[e.index], e.subs
	e.mu.Unlock()

	notify(subs, sample)
}

// moveLocked repositions the index without changing play state, except
// that a playing engine landing on the last sample ends and an ended engine
// moved back becomes paused.
func (e *Engine) moveLocked(i int) {
	n := len(e.samples)
	e.index = max(0, min(i, n-1))
	now := e.clk.Now()
	switch {
	case e.status == Playing && e.index == n-1:
		e.endLocked(now)
	case e.status == Playing:
		e.lastStep = now
	case e.status == Ended && e.index < n-1:
		e.status = Paused
		e.carry = 0
	}
}

func (e *Engine) endLocked(now time.Time) {
	e.bankLocked(now)
	e.status = Ended
	e.carry = 0
	e.stopLoopLocked()
	log.WithField("samples", len(e.samples)).Debug("replay reached end")
}

func (e *Engine) bankLocked(now time.Time) {
	e.elapsed += max(now.Sub(e.playSince), 0)
}

// SetSpeedMultiplier sets the playback rate, clamped to
// [MinSpeedMultiplier, MaxSpeedMultiplier].
func (e *Engine) SetSpeedMultiplier(x float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.mult = clampMultiplier(x)
	if e.ticker != nil {
		e.ticker.Reset(e.stepInterval())
	}
}

// StepInterval is the wall-clock time between index advances at the current
// multiplier.
func (e *Engine) StepInterval() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stepInterval()
}

func (e *Engine) stepInterval() time.Duration {
	n := len(e.samples)
	if n == 0 {
		return MinStepInterval
	}
	d := time.Duration(float64(e.duration) / float64(n) / e.mult)
	return max(d, MinStepInterval)
}

func (e *Engine) startLoopLocked() {
	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.ticker = e.clk.NewTicker(e.stepInterval())
	go e.run(ctx, e.ticker)
}

func (e *Engine) stopLoopLocked() {
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
	if e.ticker != nil {
		e.ticker.Stop()
		e.ticker = nil
	}
}

func (e *Engine) run(ctx context.Context, ticker clock.Ticker) {
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C():
			e.Step(now)
		}
	}
}

// CurrentLocation returns the sample at the current index, or false for an
// empty recording.
func (e *Engine) CurrentLocation() (track.PositionSample, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.samples) == 0 {
		return track.PositionSample{}, false
	}
	return e.samples[e.index], true
}

func (e *Engine) TotalDuration() time.Duration { return e.duration }

func (e *Engine) Elapsed() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.elapsedLocked()
}

func (e *Engine) elapsedLocked() time.Duration {
	if e.status == Playing {
		return e.elapsed + max(e.clk.Now().Sub(e.playSince), 0)
	}
	return e.elapsed
}

func (e *Engine) RemainingTime() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return max(e.duration-e.elapsedLocked(), 0)
}

func (e *Engine) IsAtStart() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.samples) > 0 && e.index == 0
}

func (e *Engine) IsAtEnd() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.samples) > 0 && e.index == len(e.samples)-1
}

func (e *Engine) ProgressPercent() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.progressLocked()
}

func (e *Engine) progressLocked() float64 {
	switch n := len(e.samples); {
	case n == 0:
		return 0
	case n == 1:
		if e.status == Ended {
			return 100
		}
		return 0
	default:
		return float64(e.index) / float64(n-1) * 100
	}
}

// CurrentSpeed derives the speed in m/s between the previous and current
// samples.
func (e *Engine) CurrentSpeed() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.index == 0 || len(e.samples) < 2 {
		return 0
	}
	return geo.Speed(e.samples[e.index-1], e.samples[e.index])
}

func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return State{
		Status:          e.status,
		CurrentIndex:    e.index,
		SpeedMultiplier: e.mult,
		ProgressPercent: e.progressLocked(),
		Elapsed:         e.elapsedLocked(),
	}
}

func clampMultiplier(x float64) float64 {
	if math.IsNaN(x) {
		return 1
	}
	return math.Max(MinSpeedMultiplier, math.Min(MaxSpeedMultiplier, x))
}

func notify(subs []func(track.PositionSample), s track.PositionSample) {
	for _, fn := range subs {
		fn(s)
	}
}
