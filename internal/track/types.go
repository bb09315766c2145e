package track

import (
	"strings"
	"time"
)

// Coordinate is a (longitude, latitude) pair in degrees, GeoJSON order.
type Coordinate struct {
	Lon float64
	Lat float64
}

func (c Coordinate) Valid() bool {
	return c.Lat >= -90 && c.Lat <= 90 && c.Lon >= -180 && c.Lon <= 180
}

// PositionSample is one timestamped fix. It is the common currency between
// the demo simulator, the live device feed and replay.
type PositionSample struct {
	Latitude       float64   `json:"latitude"`
	Longitude      float64   `json:"longitude"`
	Timestamp      time.Time `json:"timestamp"`
	AccuracyMeters float64   `json:"accuracyMeters"`

	AltitudeMeters       *float64 `json:"altitudeMeters,omitempty"`
	HeadingDegrees       *float64 `json:"headingDegrees,omitempty"` // 0..360, 0 = north
	SpeedMetersPerSecond *float64 `json:"speedMetersPerSecond,omitempty"`
}

func (p PositionSample) Valid() bool {
	return p.Coordinate().Valid() && p.AccuracyMeters >= 0
}

func (p PositionSample) Coordinate() Coordinate {
	return Coordinate{Lon: p.Longitude, Lat: p.Latitude}
}

func (p PositionSample) TimestampMs() int64 { return p.Timestamp.UnixMilli() }

// MetersPerHDOP converts horizontal dilution of precision to an accuracy
// estimate, assuming a 5 m user equivalent range error.
const MetersPerHDOP = 5.0

// Float returns a pointer to v, for the optional sample fields.
func Float(v float64) *float64 { return &v }

type RoadType string

const (
	Highway     RoadType = "highway"
	Arterial    RoadType = "arterial"
	Residential RoadType = "residential"
	Local       RoadType = "local"
	Parking     RoadType = "parking"
)

var RoadTypes = []RoadType{Highway, Arterial, Residential, Local, Parking}

// ParseRoadType maps a free-form road class onto a RoadType. Unknown values
// become Local.
func ParseRoadType(s string) RoadType {
	switch RoadType(strings.ToLower(strings.TrimSpace(s))) {
	case Highway, "motorway", "freeway", "trunk":
		return Highway
	case Arterial, "primary", "secondary":
		return Arterial
	case Residential:
		return Residential
	case Parking, "parking_aisle", "service":
		return Parking
	default:
		return Local
	}
}

// RouteSegment is one leg of a route to be traversed by the simulator.
type RouteSegment struct {
	Coordinates               []Coordinate
	DistanceMeters            float64
	RoadType                  RoadType
	SpeedLimitMetersPerSecond *float64 // overrides the road type's base speed
}

// Clone returns a copy that shares no memory with s.
func (s RouteSegment) Clone() RouteSegment {
	out := s
	out.Coordinates = append([]Coordinate(nil), s.Coordinates...)
	if s.SpeedLimitMetersPerSecond != nil {
		out.SpeedLimitMetersPerSecond = Float(*s.SpeedLimitMetersPerSecond)
	}
	return out
}

func (s RouteSegment) First() Coordinate { return s.Coordinates[0] }
func (s RouteSegment) Last() Coordinate  { return s.Coordinates[len(s.Coordinates)-1] }
