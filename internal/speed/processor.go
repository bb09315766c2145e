package speed

import (
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"trip-tracker/internal/clock"
	"trip-tracker/internal/geo"
	"trip-tracker/internal/track"
)

// SinkFunc receives samples accepted for the recording or sync purpose.
type SinkFunc func(track.PositionSample) error

// Metrics receives optional instrumentation from a Processor.
type Metrics interface {
	SampleAccepted(p Purpose)
	SampleDropped(p Purpose)
	ProcessorBusy()
	SinkFailed(p Purpose)
}

type ProcessorOptions struct {
	Intervals   Intervals
	HistorySize int

	Record SinkFunc
	Sync   SinkFunc

	Clock   clock.Clock
	Metrics Metrics
	Logger  log.FieldLogger
}

// Result describes what one Process call did with a sample.
type Result struct {
	// Busy is set when the sample arrived while another was in flight and
	// was dropped.
	Busy bool

	Display   bool
	Recording bool
	Sync      bool

	// Speed is the derived reading in m/s when Display accepted the sample
	// and a previous display sample existed.
	Speed    float64
	HasSpeed bool
}

// Processor gates a raw position stream through a Governor and keeps a
// History of speeds for the display purpose.
type Processor struct {
	gov        *Governor
	history    *History
	recordSink SinkFunc
	syncSink   SinkFunc
	clk        clock.Clock
	metrics    Metrics
	logger     log.FieldLogger

	busy atomic.Bool

	mu   sync.Mutex
	prev *track.PositionSample
}

func NewProcessor(opts ProcessorOptions) *Processor {
	p := &Processor{
		gov:        NewGovernor(opts.Intervals),
		history:    NewHistory(opts.HistorySize),
		recordSink: opts.Record,
		syncSink:   opts.Sync,
		clk:        opts.Clock,
		metrics:    opts.Metrics,
		logger:     opts.Logger,
	}
	if p.clk == nil {
		p.clk = clock.Real{}
	}
	if p.logger == nil {
		p.logger = log.StandardLogger()
	}
	return p
}

// Process runs one raw sample through the governor. A sample that arrives
// while a previous one is still being processed is dropped.
func (p *Processor) Process(s track.PositionSample) Result {
	if !p.busy.CompareAndSwap(false, true) {
		if p.metrics != nil {
			p.metrics.ProcessorBusy()
		}
		p.logger.Debug("sample dropped: processor busy")
		return Result{Busy: true}
	}
	defer p.busy.Store(false)

	now := p.clk.Now()
	var res Result

	if res.Display = p.admit(Display, now); res.Display {
		p.mu.Lock()
		if p.prev != nil {
			res.Speed = geo.Speed(*p.prev, s)
			res.HasSpeed = true
			p.history.Add(SpeedSample{MetersPerSecond: res.Speed, Timestamp: s.Timestamp, Source: s})
		}
		prev := s
		p.prev = &prev
		p.mu.Unlock()
	}
	if res.Recording = p.admit(Recording, now); res.Recording {
		p.deliver(Recording, p.recordSink, s)
	}
	if res.Sync = p.admit(Sync, now); res.Sync {
		p.deliver(Sync, p.syncSink, s)
	}
	return res
}

func (p *Processor) admit(purpose Purpose, now time.Time) bool {
	ok := p.gov.Admit(purpose, now)
	if p.metrics != nil {
		if ok {
			p.metrics.SampleAccepted(purpose)
		} else {
			p.metrics.SampleDropped(purpose)
		}
	}
	if !ok {
		p.logger.WithField("purpose", purpose).Debug("sample dropped by governor")
	}
	return ok
}

func (p *Processor) deliver(purpose Purpose, sink SinkFunc, s track.PositionSample) {
	if sink == nil {
		return
	}
	if err := sink(s); err != nil {
		if p.metrics != nil {
			p.metrics.SinkFailed(purpose)
		}
		p.logger.WithError(err).WithField("purpose", purpose).Warn("sink failed")
	}
}

func (p *Processor) History() *History { return p.history }

func (p *Processor) CurrentSpeed(u geo.Unit) float64 { return p.history.Current(u) }
func (p *Processor) AverageSpeed(u geo.Unit) float64 { return p.history.Average(u) }
func (p *Processor) MaxSpeed(u geo.Unit) float64     { return p.history.Max(u) }

// Reset clears the history and the governor, for a new trip.
func (p *Processor) Reset() {
	p.mu.Lock()
	p.prev = nil
	p.mu.Unlock()
	p.history.Reset()
	p.gov.Reset()
}
