package motion

import (
	"errors"
	"fmt"

	"trip-tracker/internal/geo"
	"trip-tracker/internal/track"
)

var (
	ErrNoSegments     = errors.New("route has no segments")
	ErrAlreadyRunning = errors.New("simulation is already running")
)

// DefaultCoordinate is the last-resort anchor for a segment with no usable
// neighbours.
var DefaultCoordinate = track.Coordinate{Lon: -122.4194, Lat: 37.7749}

// repairEpsilon is the offset, in degrees, used to synthesise a second
// coordinate next to a known one.
const repairEpsilon = 1e-4

// RouteValidationError reports segments that still lack usable geometry
// after repair. It is fatal: the simulator is never created.
type RouteValidationError struct {
	Indices []int
}

func (e *RouteValidationError) Error() string {
	return fmt.Sprintf("route validation failed: segments %v need at least 2 valid coordinates", e.Indices)
}

// prepareRoute copies the segments, repairs short geometry and fills in
// missing distances. The input slice is never modified.
func prepareRoute(in []track.RouteSegment, start, end *track.Coordinate, repair bool) ([]track.RouteSegment, error) {
	segs := make([]track.RouteSegment, len(in))
	for i, s := range in {
		segs[i] = s.Clone()
		if segs[i].RoadType == "" {
			segs[i].RoadType = track.Local
		}
	}

	if repair {
		for i := range segs {
			if len(segs[i].Coordinates) < 2 {
				segs[i].Coordinates = repairSegment(i, segs, start, end)
			}
		}
	}

	var bad []int
	for i, s := range segs {
		if len(s.Coordinates) < 2 || !allValid(s.Coordinates) {
			bad = append(bad, i)
			continue
		}
		if s.DistanceMeters <= 0 {
			segs[i].DistanceMeters = geo.PathLength(s.Coordinates)
		}
	}
	if len(bad) > 0 {
		return nil, &RouteValidationError{Indices: bad}
	}
	return segs, nil
}

// repairSegment synthesises a two point geometry for segment i. Earlier
// segments have already been repaired when this runs, so a repaired
// predecessor is connected from like any other.
func repairSegment(i int, segs []track.RouteSegment, start, end *track.Coordinate) []track.Coordinate {
	n := len(segs)
	var own *track.Coordinate
	if len(segs[i].Coordinates) == 1 {
		c := segs[i].Coordinates[0]
		own = &c
	}

	switch {
	case i == 0 && start != nil:
		// Exact start fidelity beats whatever approximate shape we had.
		return []track.Coordinate{*start, nudge(*start, 1)}
	case i == n-1 && end != nil && i > 0:
		return []track.Coordinate{segs[i-1].Last(), *end}
	case i > 0 && len(segs[i-1].Coordinates) >= 2:
		return connectFrom(segs[i-1].Last(), own)
	case i+1 < n && len(segs[i+1].Coordinates) > 0:
		next := segs[i+1].First()
		if own != nil && *own != next {
			return []track.Coordinate{*own, next}
		}
		return []track.Coordinate{nudge(next, -1), next}
	case start != nil && end != nil:
		return []track.Coordinate{
			geo.Lerp(*start, *end, float64(i)/float64(n)),
			geo.Lerp(*start, *end, float64(i+1)/float64(n)),
		}
	case own != nil:
		return []track.Coordinate{*own, nudge(*own, 1)}
	default:
		return []track.Coordinate{DefaultCoordinate, nudge(DefaultCoordinate, 1)}
	}
}

func connectFrom(prev track.Coordinate, own *track.Coordinate) []track.Coordinate {
	if own != nil && *own != prev {
		return []track.Coordinate{prev, *own}
	}
	return []track.Coordinate{prev, nudge(prev, 1)}
}

// nudge shifts a coordinate east (dir 1) or west (dir -1) by repairEpsilon,
// flipping direction at the antimeridian.
func nudge(c track.Coordinate, dir float64) track.Coordinate {
	lon := c.Lon + dir*repairEpsilon
	if lon > 180 || lon < -180 {
		lon = c.Lon - dir*repairEpsilon
	}
	return track.Coordinate{Lon: lon, Lat: c.Lat}
}

func allValid(coords []track.Coordinate) bool {
	for _, c := range coords {
		if !c.Valid() {
			return false
		}
	}
	return true
}
