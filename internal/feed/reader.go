package feed

import (
	"bufio"
	"context"
	"errors"
	"io"
	"strings"

	log "github.com/sirupsen/logrus"
	"go.bug.st/serial"

	"trip-tracker/internal/track"
)

// Metrics receives optional instrumentation from a Reader.
type Metrics interface {
	SentenceRejected()
}

// Reader turns an NMEA byte stream into position samples. A sample is
// produced for every valid RMC sentence, carrying altitude and accuracy
// from the most recent GGA.
type Reader struct {
	r       io.Reader
	metrics Metrics
	logger  log.FieldLogger

	lastGGA *GGA
}

func NewReader(r io.Reader, metrics Metrics) *Reader {
	return &Reader{r: r, metrics: metrics, logger: log.WithField("component", "nmea")}
}

// Run reads until EOF, a read error or ctx is done, calling fn with each
// fix. If the underlying reader is an io.Closer it is closed when ctx is
// done so a blocked read returns.
func (rd *Reader) Run(ctx context.Context, fn func(track.PositionSample)) error {
	if c, ok := rd.r.(io.Closer); ok {
		stop := context.AfterFunc(ctx, func() { c.Close() })
		defer stop()
	}

	sc := bufio.NewScanner(rd.r)
	for sc.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if s, ok := rd.Feed(sc.Text()); ok {
			fn(s)
		}
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return sc.Err()
}

// Feed processes one line and returns a sample when the line completes a
// fix.
func (rd *Reader) Feed(line string) (track.PositionSample, bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return track.PositionSample{}, false
	}
	s, err := Parse(line)
	if err != nil {
		if !errors.Is(err, ErrUnsupported) {
			if rd.metrics != nil {
				rd.metrics.SentenceRejected()
			}
			rd.logger.WithError(err).Debug("skipping sentence")
		}
		return track.PositionSample{}, false
	}
	if s.GGA != nil {
		rd.lastGGA = s.GGA
		return track.PositionSample{}, false
	}

	rmc := s.RMC
	out := track.PositionSample{
		Latitude:             rmc.Latitude,
		Longitude:            rmc.Longitude,
		Timestamp:            rmc.Time,
		SpeedMetersPerSecond: rmc.SpeedMPS,
		HeadingDegrees:       rmc.Course,
	}
	if g := rd.lastGGA; g != nil {
		if g.Altitude != nil {
			out.AltitudeMeters = track.Float(*g.Altitude)
		}
		if g.HDOP != nil {
			out.AccuracyMeters = *g.HDOP * track.MetersPerHDOP
		}
	}
	return out, true
}

// OpenSerial opens a receiver on a serial port, 8N1.
func OpenSerial(port string, baud int) (serial.Port, error) {
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	p, err := serial.Open(port, mode)
	if err != nil {
		return nil, err
	}
	log.WithFields(log.Fields{"port": port, "baud": baud}).Info("opened NMEA serial port")
	return p, nil
}
