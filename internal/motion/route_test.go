package motion

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trip-tracker/internal/track"
)

func coord(lon, lat float64) track.Coordinate { return track.Coordinate{Lon: lon, Lat: lat} }

func ptr(c track.Coordinate) *track.Coordinate { return &c }

func TestPrepareRouteRepairsFirstSegmentFromStart(t *testing.T) {
	start := coord(-122.40, 37.78)
	segs := []track.RouteSegment{
		{Coordinates: []track.Coordinate{coord(-122.41, 37.79)}, RoadType: track.Local},
		{Coordinates: []track.Coordinate{coord(-122.42, 37.79), coord(-122.43, 37.80)}, RoadType: track.Local},
	}

	out, err := prepareRoute(segs, ptr(start), nil, true)
	require.NoError(t, err)
	require.Len(t, out[0].Coordinates, 2)
	assert.Equal(t, start, out[0].Coordinates[0])
	assert.Equal(t, nudge(start, 1), out[0].Coordinates[1])
	// The caller's slice is untouched.
	assert.Len(t, segs[0].Coordinates, 1)
}

func TestPrepareRouteRepairsLastSegmentToEnd(t *testing.T) {
	end := coord(-122.50, 37.70)
	segs := []track.RouteSegment{
		{Coordinates: []track.Coordinate{coord(-122.41, 37.79), coord(-122.42, 37.78)}},
		{},
	}

	out, err := prepareRoute(segs, nil, ptr(end), true)
	require.NoError(t, err)
	assert.Equal(t, []track.Coordinate{coord(-122.42, 37.78), end}, out[1].Coordinates)
}

func TestPrepareRouteConnectsFromPrevious(t *testing.T) {
	segs := []track.RouteSegment{
		{Coordinates: []track.Coordinate{coord(0, 0), coord(0, 1)}},
		{Coordinates: []track.Coordinate{coord(0, 2)}},
		{},
		{Coordinates: []track.Coordinate{coord(0, 3), coord(0, 4)}},
	}

	out, err := prepareRoute(segs, nil, nil, true)
	require.NoError(t, err)
	assert.Equal(t, []track.Coordinate{coord(0, 1), coord(0, 2)}, out[1].Coordinates)
	assert.Equal(t, []track.Coordinate{coord(0, 2), nudge(coord(0, 2), 1)}, out[2].Coordinates)
}

func TestPrepareRouteConnectsIntoNext(t *testing.T) {
	segs := []track.RouteSegment{
		{},
		{Coordinates: []track.Coordinate{coord(0, 3), coord(0, 4)}},
	}
	out, err := prepareRoute(segs, nil, nil, true)
	require.NoError(t, err)
	assert.Equal(t, []track.Coordinate{nudge(coord(0, 3), -1), coord(0, 3)}, out[0].Coordinates)
}

func TestPrepareRouteChainsEmptySegmentsFromStart(t *testing.T) {
	start, end := coord(-122, 37), coord(-121.7, 37.3)
	segs := []track.RouteSegment{{}, {}, {}, {}}

	out, err := prepareRoute(segs, ptr(start), ptr(end), true)
	require.NoError(t, err)
	assert.Equal(t, []track.Coordinate{start, nudge(start, 1)}, out[0].Coordinates)
	assert.Equal(t, []track.Coordinate{nudge(start, 1), nudge(nudge(start, 1), 1)}, out[1].Coordinates)
	assert.Equal(t, end, out[3].Last())
	for i := 1; i < len(out); i++ {
		assert.Equal(t, out[i-1].Last(), out[i].First(), "gap between segment %d and %d", i-1, i)
	}
}

func TestPrepareRouteConnectsFromRepairedFirstSegment(t *testing.T) {
	start := coord(-122, 37)
	segs := []track.RouteSegment{
		{Coordinates: []track.Coordinate{coord(-121.95, 37.05)}},
		{},
		{Coordinates: []track.Coordinate{coord(-121.9, 37.1), coord(-121.8, 37.2)}},
	}

	out, err := prepareRoute(segs, ptr(start), nil, true)
	require.NoError(t, err)
	assert.Equal(t, start, out[0].First())
	assert.Equal(t, []track.Coordinate{out[0].Last(), nudge(out[0].Last(), 1)}, out[1].Coordinates)
}

func TestPrepareRouteFallsBackToDefault(t *testing.T) {
	out, err := prepareRoute([]track.RouteSegment{{}}, nil, nil, true)
	require.NoError(t, err)
	assert.Equal(t, []track.Coordinate{DefaultCoordinate, nudge(DefaultCoordinate, 1)}, out[0].Coordinates)

	// Without neighbours or endpoints a lone coordinate is extended in place,
	// and later empty segments chain from it.
	out, err = prepareRoute([]track.RouteSegment{{Coordinates: []track.Coordinate{coord(3, 3)}}, {}, {}}, nil, nil, true)
	require.NoError(t, err)
	assert.Equal(t, []track.Coordinate{coord(3, 3), nudge(coord(3, 3), 1)}, out[0].Coordinates)
	assert.Equal(t, out[0].Last(), out[1].First())
	assert.Equal(t, out[1].Last(), out[2].First())
}

func TestNudgeAtAntimeridian(t *testing.T) {
	got := nudge(coord(180, 10), 1)
	assert.Equal(t, coord(180-repairEpsilon, 10), got)
	assert.True(t, got.Valid())
}

func TestPrepareRouteFillsDistance(t *testing.T) {
	segs := []track.RouteSegment{
		{Coordinates: []track.Coordinate{coord(0, 0), coord(0, 1)}},
		{Coordinates: []track.Coordinate{coord(0, 1), coord(0, 2)}, DistanceMeters: 42},
	}
	out, err := prepareRoute(segs, nil, nil, true)
	require.NoError(t, err)
	assert.InDelta(t, 111_195, out[0].DistanceMeters, 10)
	assert.Equal(t, 42.0, out[1].DistanceMeters)
	assert.Equal(t, track.Local, out[0].RoadType)
}

func TestPrepareRouteValidationError(t *testing.T) {
	segs := []track.RouteSegment{
		{Coordinates: []track.Coordinate{coord(0, 0), coord(0, 1)}},
		{Coordinates: []track.Coordinate{coord(0, 1)}},
		{Coordinates: []track.Coordinate{coord(0, 1), coord(0, 95)}},
	}

	_, err := New(segs, Options{DisableRepair: true})
	require.Error(t, err)

	var rve *RouteValidationError
	require.True(t, errors.As(err, &rve))
	assert.Equal(t, []int{1, 2}, rve.Indices)
	assert.Contains(t, err.Error(), "[1 2]")

	// With repair the short segment is fixed but the out of range one is not.
	_, err = New(segs, Options{})
	require.True(t, errors.As(err, &rve))
	assert.Equal(t, []int{2}, rve.Indices)
}
