package sim

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"trip-tracker/internal/clock"
	"trip-tracker/internal/db"
	"trip-tracker/internal/geo"
	"trip-tracker/internal/logging"
	"trip-tracker/internal/motion"
	"trip-tracker/internal/publisher"
	"trip-tracker/internal/replay"
	"trip-tracker/internal/speed"
	"trip-tracker/internal/track"
)

// Source identifies where a session's samples come from.
type Source string

const (
	SourceDemo   Source = "demo"
	SourceLive   Source = "live"
	SourceReplay Source = "replay"
)

const storeTimeout = 5 * time.Second

var (
	ErrUnknownTrip   = errors.New("unknown trip")
	ErrSessionExists = errors.New("trip session already running")
	ErrNoStore       = errors.New("no trip store configured")
	ErrStopped       = errors.New("manager stopped")
)

// Store is the trip persistence the manager records into and replays from.
type Store interface {
	CreateTrip(ctx context.Context, source, name string, startedAt time.Time) (string, error)
	AppendPoint(ctx context.Context, tripID string, p track.PositionSample) error
	FinishTrip(ctx context.Context, tripID string, endedAt time.Time, stats db.TripStats) error
	LoadTrip(ctx context.Context, tripID string) (db.Trip, []track.PositionSample, error)
}

type Publisher interface {
	PublishPosition(msg publisher.PositionMessage) error
}

type Metrics interface {
	motion.Metrics
	speed.Metrics
	SessionStarted(source string)
	SessionFinished(source string)
	SampleEmitted(source string)
	StoreWriteFailed()
}

type Options struct {
	Store     Store
	Publisher Publisher
	Metrics   Metrics
	Clock     clock.Clock

	Intervals   speed.Intervals
	HistorySize int
	Unit        geo.Unit

	EmitInterval          time.Duration
	TickInterval          time.Duration
	SpeedMultiplier       float64
	ReplaySpeedMultiplier float64
	// Seed makes demo runs reproducible; 0 derives one from the clock.
	Seed uint64
}

// DemoOptions describes one simulated drive.
type DemoOptions struct {
	Name  string
	Start *track.Coordinate
	End   *track.Coordinate
}

// Snapshot is a point-in-time view of a running session. Speeds are in the
// manager's configured unit.
type Snapshot struct {
	TripID    string
	Source    Source
	Name      string
	StartedAt time.Time

	Last    track.PositionSample
	HasLast bool

	Progress       float64
	DistanceMeters float64
	CurrentSpeed   float64
	AverageSpeed   float64
	MaxSpeed       float64

	Motion *motion.State
	Replay *replay.State
}

// Manager owns the running trip sessions: demo simulations, replays and the
// live device trip.
type Manager struct {
	opts Options
	clk  clock.Clock

	mu       sync.Mutex
	sessions map[string]*session
	live     *session
	demos    uint64
	stopped  bool
	wg       sync.WaitGroup

	liveMu sync.Mutex // serialises opening the live trip
}

func NewManager(opts Options) *Manager {
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	if opts.Unit == "" {
		opts.Unit = geo.MPH
	}
	if opts.ReplaySpeedMultiplier == 0 {
		opts.ReplaySpeedMultiplier = 1
	}
	return &Manager{
		opts:     opts,
		clk:      opts.Clock,
		sessions: make(map[string]*session),
	}
}

type session struct {
	id        string
	source    Source
	name      string
	startedAt time.Time
	logger    *log.Entry

	sim  *motion.Simulator
	eng  *replay.Engine
	proc *speed.Processor

	cancel    context.CancelFunc
	completed chan struct{}
	once      sync.Once
	finish    sync.Once

	mu       sync.Mutex
	last     track.PositionSample
	hasLast  bool
	distance float64
	maxSpeed float64
}

func (s *session) markCompleted() { s.once.Do(func() { close(s.completed) }) }

func (s *session) progress() float64 {
	switch {
	case s.sim != nil:
		return s.sim.ProgressPercent()
	case s.eng != nil:
		return s.eng.ProgressPercent()
	}
	return 0
}

// observe folds a sample into the session's running stats.
func (s *session) observe(p track.PositionSample) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hasLast {
		s.distance += geo.Distance(s.last.Latitude, s.last.Longitude, p.Latitude, p.Longitude)
	}
	if p.SpeedMetersPerSecond != nil && *p.SpeedMetersPerSecond > s.maxSpeed {
		s.maxSpeed = *p.SpeedMetersPerSecond
	}
	s.last, s.hasLast = p, true
}

func (s *session) stats() db.TripStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return db.TripStats{
		DistanceMeters: s.distance,
		MaxSpeedMps:    max(s.maxSpeed, s.proc.MaxSpeed(geo.MPS)),
	}
}

// StartDemo simulates a drive along segments, recording it as a new trip.
func (m *Manager) StartDemo(ctx context.Context, segments []track.RouteSegment, opts DemoOptions) (string, error) {
	simulator, err := motion.New(segments, motion.Options{
		Start:           opts.Start,
		End:             opts.End,
		SpeedMultiplier: m.opts.SpeedMultiplier,
		EmitInterval:    m.opts.EmitInterval,
		TickInterval:    m.opts.TickInterval,
		Rand:            m.nextRand(),
		Clock:           m.clk,
		Metrics:         m.opts.Metrics,
	})
	if err != nil {
		return "", err
	}
	if len(simulator.Segments()) == 0 {
		return "", motion.ErrNoSegments
	}

	name := opts.Name
	if name == "" {
		name = "demo " + m.clk.Now().UTC().Format(time.RFC3339)
	}
	sess, err := m.newSession(ctx, SourceDemo, name, "")
	if err != nil {
		return "", err
	}
	sess.sim = simulator
	sess.proc = m.newProcessor(sess, true)

	simulator.Subscribe(func(p track.PositionSample) {
		m.handle(sess, p)
		if simulator.State().Completed {
			sess.markCompleted()
		}
	})

	sctx, err := m.register(ctx, sess)
	if err != nil {
		return "", err
	}
	if err := simulator.Start(sctx); err != nil {
		m.finishSession(sess)
		return "", err
	}
	m.watch(sctx, sess)
	return sess.id, nil
}

// StartReplay plays back a stored trip.
func (m *Manager) StartReplay(ctx context.Context, tripID string) error {
	if m.opts.Store == nil {
		return ErrNoStore
	}
	lctx, cancel := context.WithTimeout(ctx, storeTimeout)
	trip, samples, err := m.opts.Store.LoadTrip(lctx, tripID)
	cancel()
	if err != nil {
		return err
	}
	var eng *replay.Engine
	opts := replay.Options{SpeedMultiplier: m.opts.ReplaySpeedMultiplier, Clock: m.clk}
	if trip.Finished() {
		eng = replay.New(samples, trip.StartedAt, trip.EndedAt, opts)
	} else {
		eng = replay.NewFromSamples(samples, opts)
	}
	return m.startReplay(ctx, tripID, trip.Name, eng)
}

// StartReplayFromSamples plays back an imported recording under a new ID.
func (m *Manager) StartReplayFromSamples(ctx context.Context, name string, samples []track.PositionSample) (string, error) {
	id := uuid.NewString()
	eng := replay.NewFromSamples(samples, replay.Options{SpeedMultiplier: m.opts.ReplaySpeedMultiplier, Clock: m.clk})
	if err := m.startReplay(ctx, id, name, eng); err != nil {
		return "", err
	}
	return id, nil
}

func (m *Manager) startReplay(ctx context.Context, id, name string, eng *replay.Engine) error {
	sess, err := m.newSession(ctx, SourceReplay, name, id)
	if err != nil {
		return err
	}
	sess.eng = eng
	sess.proc = m.newProcessor(sess, false)

	eng.Subscribe(func(p track.PositionSample) {
		m.handle(sess, p)
		if eng.State().Status == replay.Ended {
			sess.markCompleted()
		}
	})

	sctx, err := m.register(ctx, sess)
	if err != nil {
		return err
	}
	if first, ok := eng.CurrentLocation(); ok {
		m.handle(sess, first)
	}
	eng.Play()
	if eng.State().Status != replay.Playing {
		sess.markCompleted()
	}
	m.watch(sctx, sess)
	return nil
}

// IngestLive feeds one device fix into the live trip, opening the trip on
// the first fix. It returns the live trip ID.
func (m *Manager) IngestLive(ctx context.Context, p track.PositionSample) (string, error) {
	if !p.Valid() {
		return "", fmt.Errorf("invalid fix (%f, %f)", p.Latitude, p.Longitude)
	}
	m.liveMu.Lock()
	m.mu.Lock()
	sess := m.live
	m.mu.Unlock()
	if sess == nil {
		var err error
		if sess, err = m.openLive(ctx, p.Timestamp); err != nil {
			m.liveMu.Unlock()
			return "", err
		}
	}
	m.liveMu.Unlock()

	m.handle(sess, p)
	return sess.id, nil
}

func (m *Manager) openLive(ctx context.Context, startedAt time.Time) (*session, error) {
	if startedAt.IsZero() {
		startedAt = m.clk.Now()
	}
	sess, err := m.newSession(ctx, SourceLive, "live "+startedAt.UTC().Format(time.RFC3339), "")
	if err != nil {
		return nil, err
	}
	sess.proc = m.newProcessor(sess, true)

	sctx, err := m.register(context.Background(), sess)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.live = sess
	m.mu.Unlock()
	m.watch(sctx, sess)
	return sess, nil
}

// FinishLive closes the live trip, if any. Fixes ingested afterwards open a
// new trip.
func (m *Manager) FinishLive() {
	m.mu.Lock()
	sess := m.live
	m.live = nil
	m.mu.Unlock()
	if sess != nil {
		sess.cancel()
	}
}

// Replay returns the engine of a running replay session for playback
// control.
func (m *Manager) Replay(tripID string) (*replay.Engine, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[tripID]
	if !ok || sess.eng == nil {
		return nil, false
	}
	return sess.eng, true
}

// Simulation returns the simulator of a running demo session.
func (m *Manager) Simulation(tripID string) (*motion.Simulator, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[tripID]
	if !ok || sess.sim == nil {
		return nil, false
	}
	return sess.sim, true
}

func (m *Manager) Snapshot(tripID string) (Snapshot, bool) {
	m.mu.Lock()
	sess, ok := m.sessions[tripID]
	m.mu.Unlock()
	if !ok {
		return Snapshot{}, false
	}

	unit := m.opts.Unit
	out := Snapshot{
		TripID:       sess.id,
		Source:       sess.source,
		Name:         sess.name,
		StartedAt:    sess.startedAt,
		Progress:     sess.progress(),
		CurrentSpeed: sess.proc.CurrentSpeed(unit),
		AverageSpeed: sess.proc.AverageSpeed(unit),
		MaxSpeed:     sess.proc.MaxSpeed(unit),
	}
	if sess.sim != nil {
		st := sess.sim.State()
		out.Motion = &st
	}
	if sess.eng != nil {
		st := sess.eng.State()
		out.Replay = &st
	}
	sess.mu.Lock()
	out.Last, out.HasLast = sess.last, sess.hasLast
	out.DistanceMeters = sess.distance
	sess.mu.Unlock()
	return out, true
}

// Active lists the IDs of running sessions.
func (m *Manager) Active() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	return ids
}

// StopTrip ends a session. Its trip is finalised in the background.
func (m *Manager) StopTrip(tripID string) error {
	m.mu.Lock()
	sess, ok := m.sessions[tripID]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("stop %s: %w", tripID, ErrUnknownTrip)
	}
	sess.cancel()
	return nil
}

// Stop ends every session and waits for their trips to be finalised.
func (m *Manager) Stop() {
	m.mu.Lock()
	m.stopped = true
	for _, sess := range m.sessions {
		sess.cancel()
	}
	m.mu.Unlock()
	m.wg.Wait()
}

func (m *Manager) newSession(ctx context.Context, source Source, name, id string) (*session, error) {
	m.mu.Lock()
	stopped := m.stopped
	m.mu.Unlock()
	if stopped {
		return nil, ErrStopped
	}
	startedAt := m.clk.Now()
	if id == "" {
		if m.opts.Store != nil {
			cctx, cancel := context.WithTimeout(ctx, storeTimeout)
			var err error
			id, err = m.opts.Store.CreateTrip(cctx, string(source), name, startedAt)
			cancel()
			if err != nil {
				m.storeFailed()
				return nil, err
			}
		} else {
			id = uuid.NewString()
		}
	}
	return &session{
		id:        id,
		source:    source,
		name:      name,
		startedAt: startedAt,
		logger:    logging.ForTrip(id, string(source)),
		completed: make(chan struct{}),
	}, nil
}

// newProcessor wires a session's governor: recording appends to the store
// when record is set, sync publishes.
func (m *Manager) newProcessor(sess *session, record bool) *speed.Processor {
	opts := speed.ProcessorOptions{
		Intervals:   m.opts.Intervals,
		HistorySize: m.opts.HistorySize,
		Clock:       m.clk,
		Logger:      sess.logger,
		Metrics:     m.opts.Metrics,
	}
	if record && m.opts.Store != nil {
		opts.Record = func(p track.PositionSample) error {
			ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
			defer cancel()
			if err := m.opts.Store.AppendPoint(ctx, sess.id, p); err != nil {
				m.storeFailed()
				return err
			}
			return nil
		}
	}
	if m.opts.Publisher != nil {
		opts.Sync = func(p track.PositionSample) error {
			msg := publisher.NewPositionMessage(sess.id, string(sess.source), p, sess.progress())
			return m.opts.Publisher.PublishPosition(msg)
		}
	}
	return speed.NewProcessor(opts)
}

func (m *Manager) handle(sess *session, p track.PositionSample) {
	sess.observe(p)
	if m.opts.Metrics != nil {
		m.opts.Metrics.SampleEmitted(string(sess.source))
	}
	sess.proc.Process(p)
}

func (m *Manager) register(ctx context.Context, sess *session) (context.Context, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return nil, ErrStopped
	}
	if _, exists := m.sessions[sess.id]; exists {
		return nil, fmt.Errorf("%s: %w", sess.id, ErrSessionExists)
	}
	sctx, cancel := context.WithCancel(ctx)
	sess.cancel = cancel
	m.sessions[sess.id] = sess
	m.wg.Add(1)
	if m.opts.Metrics != nil {
		m.opts.Metrics.SessionStarted(string(sess.source))
	}
	sess.logger.WithField("name", sess.name).Info("trip session started")
	return sctx, nil
}

// watch finalises sess once it completes or its context ends.
func (m *Manager) watch(ctx context.Context, sess *session) {
	go func() {
		select {
		case <-ctx.Done():
		case <-sess.completed:
		}
		m.finishSession(sess)
	}()
}

func (m *Manager) finishSession(sess *session) {
	sess.finish.Do(func() {
		defer m.wg.Done()
		sess.cancel()
		if sess.sim != nil {
			sess.sim.Stop()
		}
		if sess.eng != nil {
			sess.eng.Stop()
		}

		m.mu.Lock()
		delete(m.sessions, sess.id)
		if m.live == sess {
			m.live = nil
		}
		m.mu.Unlock()

		stats := sess.stats()
		if sess.source != SourceReplay && m.opts.Store != nil {
			ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
			err := m.opts.Store.FinishTrip(ctx, sess.id, m.clk.Now(), stats)
			cancel()
			if err != nil {
				m.storeFailed()
				sess.logger.WithError(err).Error("finish trip")
			}
		}
		if m.opts.Metrics != nil {
			m.opts.Metrics.SessionFinished(string(sess.source))
		}
		sess.logger.WithFields(log.Fields{
			"distance_m":    stats.DistanceMeters,
			"max_speed_mps": stats.MaxSpeedMps,
		}).Info("trip session finished")
	})
}

func (m *Manager) storeFailed() {
	if m.opts.Metrics != nil {
		m.opts.Metrics.StoreWriteFailed()
	}
}

func (m *Manager) nextRand() *rand.Rand {
	if m.opts.Seed == 0 {
		return nil
	}
	m.mu.Lock()
	m.demos++
	n := m.demos
	m.mu.Unlock()
	return rand.New(rand.NewPCG(m.opts.Seed, n))
}
