package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"trip-tracker/internal/speed"
)

type Collector struct {
	reg *prometheus.Registry

	ActiveSessions   *prometheus.GaugeVec   // source label: demo|live|replay
	SessionsStarted  *prometheus.CounterVec // source
	SessionsFinished *prometheus.CounterVec // source
	SamplesEmitted   *prometheus.CounterVec // source

	GovernorSamples *prometheus.CounterVec // purpose, result: accepted|dropped
	BusyDrops       prometheus.Counter
	SinkFailures    *prometheus.CounterVec // purpose

	NMEARejected     prometheus.Counter
	StoreWriteErrors prometheus.Counter

	NATSPublished   prometheus.Counter
	NATSPublishErrs prometheus.Counter
	NATSConnected   prometheus.Gauge

	StepDuration    prometheus.Histogram
	PublishDuration prometheus.Histogram

	SpeedMultiplier       prometheus.Gauge
	ReplaySpeedMultiplier prometheus.Gauge
	EmitInterval          prometheus.Gauge // seconds
}

func NewCollector(speedMultiplier, replayMultiplier float64, emitInterval time.Duration) *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		ActiveSessions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tracker_active_sessions",
			Help: "Number of running trip sessions.",
		}, []string{"source"}),
		SessionsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tracker_sessions_started_total",
			Help: "Total trip sessions started.",
		}, []string{"source"}),
		SessionsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tracker_sessions_finished_total",
			Help: "Total trip sessions finished or stopped.",
		}, []string{"source"}),
		SamplesEmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tracker_samples_emitted_total",
			Help: "Position samples produced by simulators, replays and devices.",
		}, []string{"source"}),
		GovernorSamples: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tracker_governor_samples_total",
			Help: "Samples seen by the rate governor, by purpose and outcome.",
		}, []string{"purpose", "result"}),
		BusyDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_processor_busy_drops_total",
			Help: "Samples dropped because the processor was still handling the previous one.",
		}),
		SinkFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tracker_sink_failures_total",
			Help: "Recording or sync sink errors.",
		}, []string{"purpose"}),
		NMEARejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_nmea_rejected_total",
			Help: "NMEA sentences rejected as malformed or without a fix.",
		}),
		StoreWriteErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_store_write_errors_total",
			Help: "Trip store write errors.",
		}),
		NATSPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_nats_published_total",
			Help: "Total NATS messages published.",
		}),
		NATSPublishErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_nats_publish_errors_total",
			Help: "Total NATS publish errors.",
		}),
		NATSConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_nats_connected",
			Help: "1 if NATS connection is established, 0 otherwise.",
		}),
		StepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tracker_step_duration_seconds",
			Help:    "Duration of simulator step computations.",
			Buckets: prometheus.ExponentialBuckets(0.00001, 2, 15),
		}),
		PublishDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tracker_publish_duration_seconds",
			Help:    "Duration to marshal and publish a NATS message.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 15),
		}),
		SpeedMultiplier: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_speed_multiplier",
			Help: "Demo simulator speed multiplier.",
		}),
		ReplaySpeedMultiplier: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_replay_speed_multiplier",
			Help: "Replay speed multiplier.",
		}),
		EmitInterval: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_emit_interval_seconds",
			Help: "Simulator emission interval in seconds.",
		}),
	}

	reg.MustRegister(
		c.ActiveSessions, c.SessionsStarted, c.SessionsFinished, c.SamplesEmitted,
		c.GovernorSamples, c.BusyDrops, c.SinkFailures,
		c.NMEARejected, c.StoreWriteErrors,
		c.NATSPublished, c.NATSPublishErrs, c.NATSConnected,
		c.StepDuration, c.PublishDuration,
		c.SpeedMultiplier, c.ReplaySpeedMultiplier, c.EmitInterval,
	)

	c.SpeedMultiplier.Set(speedMultiplier)
	c.ReplaySpeedMultiplier.Set(replayMultiplier)
	c.EmitInterval.Set(emitInterval.Seconds())

	return c
}

// Simulator metrics.

func (c *Collector) ObserveStep(d time.Duration) { c.StepDuration.Observe(d.Seconds()) }

// Processor metrics.

func (c *Collector) SampleAccepted(p speed.Purpose) {
	c.GovernorSamples.WithLabelValues(p.String(), "accepted").Inc()
}

func (c *Collector) SampleDropped(p speed.Purpose) {
	c.GovernorSamples.WithLabelValues(p.String(), "dropped").Inc()
}

func (c *Collector) ProcessorBusy() { c.BusyDrops.Inc() }

func (c *Collector) SinkFailed(p speed.Purpose) { c.SinkFailures.WithLabelValues(p.String()).Inc() }

// NMEA feed metrics.

func (c *Collector) SentenceRejected() { c.NMEARejected.Inc() }

// Publisher metrics.

func (c *Collector) NATSPublishedInc()              { c.NATSPublished.Inc() }
func (c *Collector) NATSPublishErrInc()             { c.NATSPublishErrs.Inc() }
func (c *Collector) PublishObserve(d time.Duration) { c.PublishDuration.Observe(d.Seconds()) }
func (c *Collector) NATSSetConnected(connected bool) {
	if connected {
		c.NATSConnected.Set(1)
	} else {
		c.NATSConnected.Set(0)
	}
}

// Session manager metrics.

func (c *Collector) SessionStarted(source string) {
	c.SessionsStarted.WithLabelValues(source).Inc()
	c.ActiveSessions.WithLabelValues(source).Inc()
}

func (c *Collector) SessionFinished(source string) {
	c.SessionsFinished.WithLabelValues(source).Inc()
	c.ActiveSessions.WithLabelValues(source).Dec()
}

func (c *Collector) SampleEmitted(source string) { c.SamplesEmitted.WithLabelValues(source).Inc() }

func (c *Collector) StoreWriteFailed() { c.StoreWriteErrors.Inc() }

func (c *Collector) Handler() http.Handler { return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{}) }

// Serve starts an HTTP server exposing /metrics on the given address.
func (c *Collector) Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("metrics server error")
		}
	}()
	log.WithField("addr", addr).Info("metrics listening")
	return srv
}
