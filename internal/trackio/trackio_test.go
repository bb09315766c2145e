package trackio

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trip-tracker/internal/track"
)

const routeJSON = `{
  "type": "FeatureCollection",
  "name": "Embarcadero loop",
  "features": [
    {"type": "Feature", "geometry": {"type": "Point", "coordinates": [-122.3937, 37.7955]}, "properties": {"role": "start"}},
    {"type": "Feature",
     "geometry": {"type": "LineString", "coordinates": [[-122.3937, 37.7955], [-122.3950, 37.7940], [-122.3965, 37.7925]]},
     "properties": {"roadType": "primary", "distanceMeters": 420, "speedLimitMps": 13.4}},
    {"type": "Feature",
     "geometry": {"type": "MultiLineString", "coordinates": [[[-122.3965, 37.7925], [-122.3980, 37.7910]], [[-122.3980, 37.7910]]]},
     "properties": {"roadType": "residential", "distanceMeters": 999}},
    {"type": "Feature", "geometry": {"type": "LineString", "coordinates": []}, "properties": {}},
    {"type": "Feature", "geometry": {"type": "Point", "coordinates": [-122.3990, 37.7900]}, "properties": {"role": "end"}}
  ]
}`

func TestReadRoute(t *testing.T) {
	r, err := ReadRoute(strings.NewReader(routeJSON))
	require.NoError(t, err)

	assert.Equal(t, "Embarcadero loop", r.Name)
	require.NotNil(t, r.Start)
	require.NotNil(t, r.End)
	assert.Equal(t, track.Coordinate{Lon: -122.3937, Lat: 37.7955}, *r.Start)
	assert.Equal(t, track.Coordinate{Lon: -122.3990, Lat: 37.7900}, *r.End)

	require.Len(t, r.Segments, 4)
	first := r.Segments[0]
	assert.Equal(t, track.Arterial, first.RoadType)
	assert.Equal(t, 420.0, first.DistanceMeters)
	require.NotNil(t, first.SpeedLimitMetersPerSecond)
	assert.Equal(t, 13.4, *first.SpeedLimitMetersPerSecond)
	assert.Len(t, first.Coordinates, 3)

	assert.Equal(t, track.Residential, r.Segments[1].RoadType)
	assert.Zero(t, r.Segments[1].DistanceMeters)
	assert.Len(t, r.Segments[2].Coordinates, 1, "short geometry is left for the simulator to repair")
	assert.Equal(t, track.Local, r.Segments[3].RoadType)
	assert.Empty(t, r.Segments[3].Coordinates)
}

func TestReadRouteRejectsNonCollection(t *testing.T) {
	_, err := ReadRoute(strings.NewReader(`{"type": "Feature", "geometry": null, "properties": {}}`))
	assert.Error(t, err)
}

func TestWriteRouteReadsBack(t *testing.T) {
	start := track.Coordinate{Lon: 2.2945, Lat: 48.8584}
	in := Route{
		Name:  "Champ de Mars",
		Start: &start,
		Segments: []track.RouteSegment{
			{Coordinates: []track.Coordinate{start, {Lon: 2.2980, Lat: 48.8560}}, RoadType: track.Parking, DistanceMeters: 350},
			{Coordinates: []track.Coordinate{{Lon: 2.2980, Lat: 48.8560}, {Lon: 2.3010, Lat: 48.8530}}, RoadType: track.Highway,
				SpeedLimitMetersPerSecond: track.Float(25)},
		},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteRoute(&buf, in))
	out, err := ReadRoute(&buf)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

const gpxDoc = `<?xml version="1.0" encoding="UTF-8"?>
<gpx version="1.1" creator="test" xmlns="http://www.topografix.com/GPX/1/1">
  <trk>
    <name>Commute</name>
    <trkseg>
      <trkpt lat="47.6062" lon="-122.3321"><ele>56</ele><time>2026-05-04T08:00:00Z</time><hdop>1.2</hdop></trkpt>
      <trkpt lat="47.6070" lon="-122.3330"><time>2026-05-04T08:00:05Z</time></trkpt>
    </trkseg>
    <trkseg>
      <trkpt lat="47.6081" lon="-122.3342"><ele>60</ele><time>2026-05-04T08:00:12Z</time></trkpt>
    </trkseg>
  </trk>
</gpx>`

func TestReadGPX(t *testing.T) {
	rec, err := ReadGPX(strings.NewReader(gpxDoc))
	require.NoError(t, err)

	assert.Equal(t, "Commute", rec.Name)
	require.Len(t, rec.Samples, 3)
	assert.Equal(t, time.Date(2026, 5, 4, 8, 0, 0, 0, time.UTC), rec.Start)
	assert.Equal(t, time.Date(2026, 5, 4, 8, 0, 12, 0, time.UTC), rec.End)

	first := rec.Samples[0]
	assert.Equal(t, 47.6062, first.Latitude)
	assert.Equal(t, -122.3321, first.Longitude)
	require.NotNil(t, first.AltitudeMeters)
	assert.Equal(t, 56.0, *first.AltitudeMeters)
	assert.InDelta(t, 6.0, first.AccuracyMeters, 1e-9)

	assert.Nil(t, rec.Samples[1].AltitudeMeters)
	assert.Zero(t, rec.Samples[1].AccuracyMeters)
}

func TestReadGPXEmpty(t *testing.T) {
	_, err := ReadGPX(strings.NewReader(`<?xml version="1.0"?><gpx version="1.1" creator="x"></gpx>`))
	assert.ErrorIs(t, err, ErrEmptyTrack)
}

func TestWriteGPXReadsBack(t *testing.T) {
	base := time.Date(2026, 5, 4, 9, 30, 0, 0, time.UTC)
	samples := []track.PositionSample{
		{Latitude: 35.6895, Longitude: 139.6917, Timestamp: base, AccuracyMeters: 5, AltitudeMeters: track.Float(40)},
		{Latitude: 35.6900, Longitude: 139.6925, Timestamp: base.Add(2 * time.Second), AccuracyMeters: 10},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteGPX(&buf, "Shinjuku", samples))
	rec, err := ReadGPX(&buf)
	require.NoError(t, err)

	assert.Equal(t, "Shinjuku", rec.Name)
	require.Len(t, rec.Samples, 2)
	for i := range samples {
		assert.InDelta(t, samples[i].Latitude, rec.Samples[i].Latitude, 1e-7)
		assert.InDelta(t, samples[i].Longitude, rec.Samples[i].Longitude, 1e-7)
		assert.True(t, samples[i].Timestamp.Equal(rec.Samples[i].Timestamp))
		assert.InDelta(t, samples[i].AccuracyMeters, rec.Samples[i].AccuracyMeters, 1e-6)
	}
	require.NotNil(t, rec.Samples[0].AltitudeMeters)
	assert.InDelta(t, 40.0, *rec.Samples[0].AltitudeMeters, 1e-6)

	assert.ErrorIs(t, WriteGPX(&buf, "empty", nil), ErrEmptyTrack)
}
