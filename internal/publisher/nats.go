package publisher

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	log "github.com/sirupsen/logrus"

	"trip-tracker/internal/track"
)

const DefaultSubjectPrefix = "trips"

type NATSPublisher struct {
	nc          *nats.Conn
	prefix      string
	logSubjects bool
	metrics     PublisherMetrics
}

type PublisherMetrics interface {
	NATSPublishedInc()
	NATSPublishErrInc()
	PublishObserve(d time.Duration)
	NATSSetConnected(connected bool)
}

func NewNATSPublisher(url, prefix string, logSubjects bool, m PublisherMetrics) (*NATSPublisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("trip-tracker"),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			log.WithError(err).Warn("nats disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(true)
			}
			log.WithField("url", nc.ConnectedUrl()).Info("nats reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			log.Info("nats closed")
		}),
	)
	if err != nil {
		return nil, err
	}
	if m != nil {
		m.NATSSetConnected(true)
	}
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &NATSPublisher{nc: nc, prefix: prefix, logSubjects: logSubjects, metrics: m}, nil
}

func (p *NATSPublisher) Close() {
	if p.nc != nil {
		p.nc.Drain()
		p.nc.Close()
	}
}

// PositionMessage is the JSON body published for each synced sample.
type PositionMessage struct {
	TripID    string    `json:"tripId"`
	Source    string    `json:"source"`
	Timestamp time.Time `json:"timestamp"`
	Lat       float64   `json:"lat"`
	Lon       float64   `json:"lon"`
	AccuracyM float64   `json:"accuracyM"`
	AltitudeM *float64  `json:"altitudeM,omitempty"`
	Heading   *float64  `json:"heading,omitempty"`
	SpeedMps  *float64  `json:"speedMps,omitempty"`
	Progress  float64   `json:"progress"` // 0..100, 0 for live trips
}

func NewPositionMessage(tripID, source string, s track.PositionSample, progress float64) PositionMessage {
	return PositionMessage{
		TripID:    tripID,
		Source:    source,
		Timestamp: s.Timestamp,
		Lat:       s.Latitude,
		Lon:       s.Longitude,
		AccuracyM: s.AccuracyMeters,
		AltitudeM: s.AltitudeMeters,
		Heading:   s.HeadingDegrees,
		SpeedMps:  s.SpeedMetersPerSecond,
		Progress:  progress,
	}
}

// Subject returns <prefix>.<source>.<tripID> with each token sanitised.
func Subject(prefix, source, tripID string) string {
	return strings.Join([]string{prefix, subjectToken(source), subjectToken(tripID)}, ".")
}

func (p *NATSPublisher) PublishPosition(msg PositionMessage) error {
	subject := Subject(p.prefix, msg.Source, msg.TripID)
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if p.logSubjects {
		log.WithField("subject", subject).Debug("nats publish")
	}
	start := time.Now()
	err = p.nc.Publish(subject, b)
	if p.metrics != nil {
		p.metrics.PublishObserve(time.Since(start))
		if err != nil {
			p.metrics.NATSPublishErrInc()
		} else {
			p.metrics.NATSPublishedInc()
		}
	}
	return err
}

func subjectToken(s string) string {
	s = strings.TrimSpace(s)
	// NATS token cannot contain spaces, '>', '*', or trailing '.'
	repl := strings.NewReplacer(" ", "_", ".", "_", ">", "_", "*", "_", "/", "_", "\t", "_")
	s = repl.Replace(s)
	if s == "" {
		s = "_"
	}
	return s
}
