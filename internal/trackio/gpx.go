package trackio

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/tkrajina/gpxgo/gpx"

	"trip-tracker/internal/track"
)

// Recording is a recorded trip read from a GPX file.
type Recording struct {
	Name    string
	Samples []track.PositionSample
	Start   time.Time
	End     time.Time
}

// ReadGPX flattens every track segment of a GPX document into one sample
// sequence, in file order.
func ReadGPX(r io.Reader) (Recording, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return Recording{}, err
	}
	doc, err := gpx.ParseBytes(data)
	if err != nil {
		return Recording{}, fmt.Errorf("parse gpx: %w", err)
	}

	rec := Recording{Name: doc.Name}
	for _, trk := range doc.Tracks {
		if rec.Name == "" {
			rec.Name = trk.Name
		}
		for _, seg := range trk.Segments {
			for _, pt := range seg.Points {
				s := track.PositionSample{
					Latitude:  pt.Latitude,
					Longitude: pt.Longitude,
					Timestamp: pt.Timestamp.UTC(),
				}
				if pt.Elevation.NotNull() {
					s.AltitudeMeters = track.Float(pt.Elevation.Value())
				}
				if pt.HorizontalDilution.NotNull() {
					s.AccuracyMeters = pt.HorizontalDilution.Value() * track.MetersPerHDOP
				}
				rec.Samples = append(rec.Samples, s)
			}
		}
	}
	if len(rec.Samples) == 0 {
		return Recording{}, ErrEmptyTrack
	}
	rec.Start = rec.Samples[0].Timestamp
	rec.End = rec.Samples[len(rec.Samples)-1].Timestamp
	return rec, nil
}

func ReadGPXFile(path string) (Recording, error) {
	f, err := os.Open(path)
	if err != nil {
		return Recording{}, err
	}
	defer f.Close()
	return ReadGPX(f)
}

// WriteGPX encodes samples as a single-track, single-segment GPX 1.1
// document.
func WriteGPX(w io.Writer, name string, samples []track.PositionSample) error {
	if len(samples) == 0 {
		return ErrEmptyTrack
	}
	seg := gpx.GPXTrackSegment{Points: make([]gpx.GPXPoint, len(samples))}
	for i, s := range samples {
		pt := gpx.GPXPoint{Timestamp: s.Timestamp.UTC()}
		pt.Latitude = s.Latitude
		pt.Longitude = s.Longitude
		if s.AltitudeMeters != nil {
			pt.Elevation = *gpx.NewNullableFloat64(*s.AltitudeMeters)
		}
		if s.AccuracyMeters > 0 {
			pt.HorizontalDilution = *gpx.NewNullableFloat64(s.AccuracyMeters / track.MetersPerHDOP)
		}
		seg.Points[i] = pt
	}

	doc := &gpx.GPX{
		Name:    name,
		Creator: "trip-tracker",
		Tracks:  []gpx.GPXTrack{{Name: name, Segments: []gpx.GPXTrackSegment{seg}}},
	}
	data, err := doc.ToXml(gpx.ToXmlParams{Version: "1.1", Indent: true})
	if err != nil {
		return fmt.Errorf("encode gpx: %w", err)
	}
	_, err = w.Write(data)
	return err
}
