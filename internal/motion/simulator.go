// Package motion synthesises a vehicle driving along a route ("demo" mode).
//
// A Simulator integrates speed and distance on every frame but only emits a
// PositionSample to subscribers once per EmitInterval, plus a final sample
// at the route's end.
package motion

import (
	"context"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"trip-tracker/internal/clock"
	"trip-tracker/internal/geo"
	"trip-tracker/internal/track"
)

const (
	MinSpeedMultiplier = 0.1
	MaxSpeedMultiplier = 10.0

	DefaultEmitInterval = 2 * time.Second
	DefaultTickInterval = 100 * time.Millisecond

	// snapThreshold is the speed gap (m/s) under which the current speed
	// jumps straight to the target.
	snapThreshold = 1.0
)

// Metrics receives optional instrumentation from the simulator.
type Metrics interface {
	ObserveStep(d time.Duration)
}

// Options configures a Simulator. Zero values select the defaults.
type Options struct {
	// Start and End are the caller's exact intended endpoints, if known.
	Start *track.Coordinate
	End   *track.Coordinate

	SpeedMultiplier float64
	EmitInterval    time.Duration
	TickInterval    time.Duration
	BaseAltitude    float64
	Profiles        map[track.RoadType]Profile

	// DisableRepair rejects short segments instead of synthesising geometry.
	DisableRepair bool

	Rand    *rand.Rand
	Clock   clock.Clock
	Metrics Metrics
}

// State is a snapshot of the simulation.
type State struct {
	Active            bool
	Paused            bool
	Completed         bool
	SegmentIndex      int
	PositionInSegment float64
	CurrentSpeed      float64 // m/s
	TargetSpeed       float64 // m/s
	SpeedMultiplier   float64
	LastTick          time.Time
}

// Simulator advances a synthetic vehicle along a route.
type Simulator struct {
	mu       sync.Mutex
	segments []track.RouteSegment
	start    *track.Coordinate
	end      *track.Coordinate
	profiles map[track.RoadType]Profile

	emitInterval time.Duration
	tickInterval time.Duration
	baseAltitude float64

	rng     *rand.Rand
	clk     clock.Clock
	metrics Metrics

	state    State
	lastEmit time.Time
	prev     *track.PositionSample
	subs     []func(track.PositionSample)

	cancel context.CancelFunc
	done   chan struct{}
}

// New validates and repairs the route and returns an idle simulator.
// An empty route is accepted here; Start reports it.
func New(segments []track.RouteSegment, opts Options) (*Simulator, error) {
	segs, err := prepareRoute(segments, opts.Start, opts.End, !opts.DisableRepair)
	if err != nil {
		return nil, err
	}

	s := &Simulator{
		segments:     segs,
		start:        copyCoord(opts.Start),
		end:          copyCoord(opts.End),
		profiles:     DefaultProfiles(),
		emitInterval: opts.EmitInterval,
		tickInterval: opts.TickInterval,
		baseAltitude: opts.BaseAltitude,
		rng:          opts.Rand,
		clk:          opts.Clock,
		metrics:      opts.Metrics,
		done:         make(chan struct{}),
	}
	for rt, p := range opts.Profiles {
		s.profiles[rt] = p
	}
	if s.emitInterval <= 0 {
		s.emitInterval = DefaultEmitInterval
	}
	if s.tickInterval <= 0 {
		s.tickInterval = DefaultTickInterval
	}
	if s.rng == nil {
		seed := uint64(time.Now().UnixNano())
		s.rng = rand.New(rand.NewPCG(seed, seed>>1))
	}
	if s.clk == nil {
		s.clk = clock.Real{}
	}
	mult := opts.SpeedMultiplier
	if mult == 0 {
		mult = 1
	}
	s.state.SpeedMultiplier = clampMultiplier(mult)
	return s, nil
}

// Segments returns a copy of the repaired route.
func (s *Simulator) Segments() []track.RouteSegment {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]track.RouteSegment, len(s.segments))
	for i, seg := range s.segments {
		out[i] = seg.Clone()
	}
	return out
}

// Subscribe registers fn to receive every emitted sample. Callbacks run
// synchronously, in emission order, outside the simulator's lock.
func (s *Simulator) Subscribe(fn func(track.PositionSample)) {
	s.mu.Lock()
	s.subs = append(s.subs, fn)
	s.mu.Unlock()
}

// Start begins the simulation, emits the initial sample and launches the
// frame loop. The loop ends when ctx is cancelled, Stop is called or the
// route is finished.
func (s *Simulator) Start(ctx context.Context) error {
	s.mu.Lock()
	if len(s.segments) == 0 {
		s.mu.Unlock()
		return ErrNoSegments
	}
	if s.state.Active {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}

	now := s.clk.Now()
	s.state = State{
		Active:          true,
		SpeedMultiplier: s.state.SpeedMultiplier,
		TargetSpeed:     s.targetSpeed(s.segments[0]),
		LastTick:        now,
	}
	s.prev = nil
	s.done = make(chan struct{})

	first := s.sampleLocked(s.positionLocked(), now)
	s.lastEmit = now

	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	ticker := s.clk.NewTicker(s.tickInterval)
	done := s.done
	subs := s.subs
	s.mu.Unlock()

	notify(subs, first)
	go s.run(loopCtx, ticker, done)
	return nil
}

func (s *Simulator) run(ctx context.Context, ticker clock.Ticker, done <-chan struct{}) {
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.cancelled(done)
			return
		case <-done:
			return
		case now := <-ticker.C():
			s.Step(now)
		}
	}
}

// Step integrates the simulation up to now. It is a no-op unless the
// simulation is active and not paused, so a tick that races with Stop does
// nothing.
func (s *Simulator) Step(now time.Time) {
	began := time.Now()
	s.mu.Lock()
	sample, emit := s.stepLocked(now)
	subs := s.subs
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.ObserveStep(time.Since(began))
	}
	if emit {
		notify(subs, sample)
	}
}

func (s *Simulator) stepLocked(now time.Time) (track.PositionSample, bool) {
	if !s.state.Active || s.state.Paused {
		return track.PositionSample{}, false
	}
	dt := now.Sub(s.state.LastTick).Seconds()
	if dt <= 0 {
		return track.PositionSample{}, false
	}
	s.state.LastTick = now

	prof := s.profile(s.segments[s.state.SegmentIndex].RoadType)
	s.integrateSpeed(prof, dt)

	meters := s.state.CurrentSpeed * s.state.SpeedMultiplier * dt
	if s.advance(meters) {
		final := s.sampleLocked(s.routeEnd(), now)
		s.finishLocked()
		log.WithField("segments", len(s.segments)).Debug("simulation complete")
		return final, true
	}

	if now.Sub(s.lastEmit) < s.emitInterval {
		return track.PositionSample{}, false
	}
	s.lastEmit = now
	return s.sampleLocked(s.positionLocked(), now), true
}

func (s *Simulator) integrateSpeed(p Profile, dt float64) {
	diff := s.state.TargetSpeed - s.state.CurrentSpeed
	if math.Abs(diff) < snapThreshold {
		s.state.CurrentSpeed = s.state.TargetSpeed
	} else {
		step := math.Min(math.Abs(diff), p.MaxAcceleration*dt)
		s.state.CurrentSpeed += math.Copysign(step, diff)
	}
	s.state.CurrentSpeed = math.Max(0, math.Min(s.state.CurrentSpeed, p.MaxSpeed))
}

// advance moves meters along the route, rolling over into later segments.
// It reports whether the route is exhausted.
func (s *Simulator) advance(meters float64) bool {
	remaining := meters
	for {
		dist := s.segments[s.state.SegmentIndex].DistanceMeters
		if dist > 0 {
			need := (1 - s.state.PositionInSegment) * dist
			if remaining < need {
				s.state.PositionInSegment += remaining / dist
				if s.state.PositionInSegment >= 1 {
					s.state.PositionInSegment = math.Nextafter(1, 0)
				}
				return false
			}
			remaining -= need
		}
		// Zero-length segments are crossed instantly.
		s.state.SegmentIndex++
		s.state.PositionInSegment = 0
		if s.state.SegmentIndex >= len(s.segments) {
			return true
		}
		next := s.segments[s.state.SegmentIndex]
		s.state.TargetSpeed = s.targetSpeed(next)
		s.state.CurrentSpeed = math.Min(s.state.CurrentSpeed, s.profile(next.RoadType).MaxSpeed)
	}
}

func (s *Simulator) finishLocked() {
	s.state.Active = false
	s.state.Paused = false
	s.state.Completed = true
	s.state.SegmentIndex = len(s.segments)
	s.state.PositionInSegment = 0
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	closeOnce(s.done)
}

func (s *Simulator) targetSpeed(seg track.RouteSegment) float64 {
	p := s.profile(seg.RoadType)
	base := p.BaseSpeed
	if seg.SpeedLimitMetersPerSecond != nil {
		base = *seg.SpeedLimitMetersPerSecond
	}
	jitter := (s.rng.Float64()*2 - 1) * p.Jitter
	return math.Max(0, base+jitter)
}

func (s *Simulator) profile(rt track.RoadType) Profile {
	if p, ok := s.profiles[rt]; ok {
		return p
	}
	return s.profiles[track.Local]
}

func (s *Simulator) positionLocked() track.Coordinate {
	if s.state.SegmentIndex == 0 && s.state.PositionInSegment == 0 && s.start != nil {
		return *s.start
	}
	if s.state.SegmentIndex >= len(s.segments) {
		return s.routeEnd()
	}
	return geo.Interpolate(s.segments[s.state.SegmentIndex].Coordinates, s.state.PositionInSegment)
}

func (s *Simulator) routeEnd() track.Coordinate {
	if s.end != nil {
		return *s.end
	}
	return s.segments[len(s.segments)-1].Last()
}

func (s *Simulator) sampleLocked(c track.Coordinate, now time.Time) track.PositionSample {
	sample := track.PositionSample{
		Latitude:             c.Lat,
		Longitude:            c.Lon,
		Timestamp:            now,
		AccuracyMeters:       5 + s.rng.Float64()*5,
		AltitudeMeters:       track.Float(s.baseAltitude + (s.rng.Float64()*4 - 2)),
		SpeedMetersPerSecond: track.Float(s.state.CurrentSpeed),
	}
	if s.prev != nil {
		if s.prev.Latitude != c.Lat || s.prev.Longitude != c.Lon {
			sample.HeadingDegrees = track.Float(geo.Bearing(s.prev.Latitude, s.prev.Longitude, c.Lat, c.Lon))
		} else if s.prev.HeadingDegrees != nil {
			sample.HeadingDegrees = track.Float(*s.prev.HeadingDegrees)
		}
	}
	p := sample
	s.prev = &p
	return sample
}

// Pause freezes the simulation in place.
func (s *Simulator) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Active {
		s.state.Paused = true
	}
}

// Resume continues a paused simulation. Time spent paused produces no
// motion. It is a no-op when the simulation is not active.
func (s *Simulator) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.state.Active || !s.state.Paused {
		return
	}
	s.state.Paused = false
	s.state.LastTick = s.clk.Now()
}

// Stop cancels the frame loop and resets the simulation. Safe to call more
// than once, and from a subscriber.
// cancelled resets the run that owns done after its context ended. A loop
// from an earlier run, or one that already completed, leaves state alone.
func (s *Simulator) cancelled(done <-chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done != done || !s.state.Active {
		return
	}
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.state = State{SpeedMultiplier: s.state.SpeedMultiplier}
	s.prev = nil
	closeOnce(s.done)
}

func (s *Simulator) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.state = State{SpeedMultiplier: s.state.SpeedMultiplier}
	s.prev = nil
	closeOnce(s.done)
}

// SetSpeedMultiplier sets the time compression factor, clamped to
// [MinSpeedMultiplier, MaxSpeedMultiplier].
func (s *Simulator) SetSpeedMultiplier(x float64) {
	s.mu.Lock()
	s.state.SpeedMultiplier = clampMultiplier(x)
	s.mu.Unlock()
}

// ProgressPercent returns route progress by segment count, 0..100.
func (s *Simulator) ProgressPercent() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.segments)
	if n == 0 {
		return 0
	}
	if s.state.Completed {
		return 100
	}
	return (float64(s.state.SegmentIndex) + s.state.PositionInSegment) / float64(n) * 100
}

func (s *Simulator) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Done is closed when the current run completes or is stopped.
func (s *Simulator) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

func clampMultiplier(x float64) float64 {
	if math.IsNaN(x) {
		return 1
	}
	return math.Max(MinSpeedMultiplier, math.Min(MaxSpeedMultiplier, x))
}

func copyCoord(c *track.Coordinate) *track.Coordinate {
	if c == nil {
		return nil
	}
	out := *c
	return &out
}

func closeOnce(ch chan struct{}) {
	select {
	case <-ch:
	default:
		close(ch)
	}
}

func notify(subs []func(track.PositionSample), sample track.PositionSample) {
	for _, fn := range subs {
		fn(sample)
	}
}
