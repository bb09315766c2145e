// Package trackio reads and writes routes (GeoJSON) and recorded trips
// (GPX).
package trackio

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"trip-tracker/internal/track"
)

var ErrEmptyTrack = errors.New("track has no points")

// Route is a simulator input: segments plus optional exact endpoints.
type Route struct {
	Name     string
	Segments []track.RouteSegment
	Start    *track.Coordinate
	End      *track.Coordinate
}

// Feature properties understood on route files.
const (
	propName          = "name"
	propRoadType      = "roadType"
	propDistance      = "distanceMeters"
	propSpeedLimitMps = "speedLimitMps"
	propRole          = "role"
)

// ReadRoute decodes a GeoJSON FeatureCollection. Each LineString (or each
// line of a MultiLineString) becomes one segment, in file order. Point
// features with role "start" or "end" set the exact endpoints.
func ReadRoute(r io.Reader) (Route, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return Route{}, err
	}
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return Route{}, fmt.Errorf("decode route: %w", err)
	}

	var route Route
	if name, ok := fc.ExtraMembers[propName].(string); ok {
		route.Name = name
	}
	for i, f := range fc.Features {
		switch g := f.Geometry.(type) {
		case orb.LineString:
			route.Segments = append(route.Segments, segmentFrom(g, f.Properties))
		case orb.MultiLineString:
			for _, ls := range g {
				seg := segmentFrom(ls, f.Properties)
				// A shared distance cannot be split across lines.
				seg.DistanceMeters = 0
				route.Segments = append(route.Segments, seg)
			}
		case orb.Point:
			c := track.Coordinate{Lon: g.Lon(), Lat: g.Lat()}
			switch role, _ := f.Properties[propRole].(string); role {
			case "start":
				route.Start = &c
			case "end":
				route.End = &c
			}
		case nil:
			return Route{}, fmt.Errorf("feature %d has no geometry", i)
		}
	}
	return route, nil
}

func ReadRouteFile(path string) (Route, error) {
	f, err := os.Open(path)
	if err != nil {
		return Route{}, err
	}
	defer f.Close()
	return ReadRoute(f)
}

func segmentFrom(ls orb.LineString, props geojson.Properties) track.RouteSegment {
	seg := track.RouteSegment{
		Coordinates: make([]track.Coordinate, len(ls)),
		RoadType:    track.Local,
	}
	for i, p := range ls {
		seg.Coordinates[i] = track.Coordinate{Lon: p.Lon(), Lat: p.Lat()}
	}
	if rt, ok := props[propRoadType].(string); ok {
		seg.RoadType = track.ParseRoadType(rt)
	}
	if d, ok := props[propDistance].(float64); ok && d > 0 {
		seg.DistanceMeters = d
	}
	if v, ok := props[propSpeedLimitMps].(float64); ok && v > 0 {
		seg.SpeedLimitMetersPerSecond = track.Float(v)
	}
	return seg
}

// WriteRoute encodes r in the format ReadRoute accepts.
func WriteRoute(w io.Writer, r Route) error {
	fc := geojson.NewFeatureCollection()
	if r.Name != "" {
		fc.ExtraMembers = geojson.Properties{propName: r.Name}
	}
	if r.Start != nil {
		fc.Append(pointFeature(*r.Start, "start"))
	}
	for _, seg := range r.Segments {
		ls := make(orb.LineString, len(seg.Coordinates))
		for i, c := range seg.Coordinates {
			ls[i] = orb.Point{c.Lon, c.Lat}
		}
		f := geojson.NewFeature(ls)
		f.Properties[propRoadType] = string(seg.RoadType)
		if seg.DistanceMeters > 0 {
			f.Properties[propDistance] = seg.DistanceMeters
		}
		if seg.SpeedLimitMetersPerSecond != nil {
			f.Properties[propSpeedLimitMps] = *seg.SpeedLimitMetersPerSecond
		}
		fc.Append(f)
	}
	if r.End != nil {
		fc.Append(pointFeature(*r.End, "end"))
	}

	data, err := fc.MarshalJSON()
	if err != nil {
		return fmt.Errorf("encode route: %w", err)
	}
	_, err = w.Write(data)
	return err
}

func pointFeature(c track.Coordinate, role string) *geojson.Feature {
	f := geojson.NewFeature(orb.Point{c.Lon, c.Lat})
	f.Properties[propRole] = role
	return f
}
